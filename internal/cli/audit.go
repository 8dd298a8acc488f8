package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/roach88/mlrng/internal/ir"
	"github.com/roach88/mlrng/internal/recorder"
	"github.com/roach88/mlrng/internal/store"
)

// AuditOptions holds flags for the audit command.
type AuditOptions struct {
	*RootOptions
	Database string
	Root     string
	RunID    string
}

// AuditRow is one audit entry in command output.
type AuditRow struct {
	RunID               string `json:"run_id"`
	Seed                uint64 `json:"seed"`
	ParameterHash       string `json:"parameter_hash"`
	ManifestFingerprint string `json:"manifest_fingerprint"`
	Algorithm           string `json:"algorithm"`
	BuildCommit         string `json:"build_commit,omitempty"`
	Hostname            string `json:"hostname,omitempty"`
	Platform            string `json:"platform,omitempty"`
}

// AuditModule summarizes one module of a run.
type AuditModule struct {
	Module     string `json:"module"`
	Events     int64  `json:"events"`
	Substreams int64  `json:"substreams"`
	Blocks     int64  `json:"blocks"`
	Draws      uint64 `json:"draws"`
}

// AuditResult holds the audit rows and, for a single run read from the
// index, its per-module summary.
type AuditResult struct {
	Entries  []AuditRow    `json:"entries"`
	Modules  []AuditModule `json:"modules,omitempty"`
	Complete *bool         `json:"complete,omitempty"`
	Untraced int64         `json:"untraced,omitempty"`
}

// NewAuditCommand creates the audit command.
func NewAuditCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &AuditOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Show run audit rows",
		Long: `Show the write-once audit rows of every run, or of one run with --run.

With --db and --run the per-module event summary is included and the run is
reported complete when an audit row exists and every substream with events
has a trace row.

Examples:
  mlrng audit --root ./out
  mlrng audit --db ./out/mlrng.db --run run-1
  mlrng audit --db ./out/mlrng.db --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAudit(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite index")
	cmd.Flags().StringVar(&opts.Root, "root", "", "output root holding rng_audit/")
	cmd.Flags().StringVar(&opts.RunID, "run", "", "show only this run")

	return cmd
}

func runAudit(opts *AuditOptions, cmd *cobra.Command) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	var (
		result AuditResult
		err    error
	)
	switch {
	case opts.Database != "":
		result, err = auditFromStore(ctx, opts)
	case opts.Root != "":
		result, err = auditFromRoot(opts)
	default:
		return NewExitError(ExitCommandError, "one of --db or --root is required")
	}
	if err != nil {
		return err
	}

	if f := newFormatter(opts.RootOptions, cmd); f.JSON() {
		return f.Success(result)
	}

	w := cmd.OutOrStdout()
	if len(result.Entries) == 0 {
		fmt.Fprintln(w, "No audit rows found.")
	}
	for _, e := range result.Entries {
		fmt.Fprintf(w, "%s seed=%d algorithm=%s host=%s platform=%s\n", e.RunID, e.Seed, e.Algorithm, e.Hostname, e.Platform)
		fmt.Fprintf(w, "  parameter_hash=%s\n  manifest_fingerprint=%s\n", e.ParameterHash, e.ManifestFingerprint)
	}
	for _, m := range result.Modules {
		fmt.Fprintf(w, "  %-24s events=%d substreams=%d blocks=%d draws=%d\n", m.Module, m.Events, m.Substreams, m.Blocks, m.Draws)
	}
	if result.Complete != nil {
		fmt.Fprintf(w, "complete=%t untraced=%d\n", *result.Complete, result.Untraced)
	}
	return nil
}

func auditFromStore(ctx context.Context, opts *AuditOptions) (AuditResult, error) {
	var result AuditResult
	if _, err := os.Stat(opts.Database); err != nil {
		return result, WrapExitError(ExitCommandError, "database not found", err)
	}
	st, err := store.Open(opts.Database)
	if err != nil {
		return result, WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer st.Close()

	if opts.RunID == "" {
		entries, err := st.ReadAudit(ctx)
		if err != nil {
			return result, WrapExitError(ExitCommandError, "failed to read audit", err)
		}
		result.Entries = auditRows(entries, "")
		return result, nil
	}

	sum, err := st.GetRunSummary(ctx, opts.RunID)
	if err != nil {
		return result, WrapExitError(ExitCommandError, "failed to summarize run", err)
	}
	result.Entries = auditRows(sum.Audit, "")
	for _, m := range sum.Modules {
		result.Modules = append(result.Modules, AuditModule{
			Module:     m.Module,
			Events:     m.Events,
			Substreams: m.Substreams,
			Blocks:     m.Blocks,
			Draws:      m.Draws,
		})
	}
	complete := sum.Complete
	result.Complete = &complete
	result.Untraced = sum.Untraced
	return result, nil
}

func auditFromRoot(opts *AuditOptions) (AuditResult, error) {
	entries, err := recorder.NewAuditLog(opts.Root).Entries()
	if err != nil {
		return AuditResult{}, WrapExitError(ExitCommandError, "failed to read audit log", err)
	}
	return AuditResult{Entries: auditRows(entries, opts.RunID)}, nil
}

// auditRows converts entries, keeping only runID when it is set.
func auditRows(entries []ir.AuditEntry, runID string) []AuditRow {
	rows := make([]AuditRow, 0, len(entries))
	for _, e := range entries {
		if runID != "" && e.Identity.RunID != runID {
			continue
		}
		rows = append(rows, AuditRow{
			RunID:               e.Identity.RunID,
			Seed:                e.Identity.Seed,
			ParameterHash:       e.Identity.ParameterHash,
			ManifestFingerprint: e.Identity.ManifestFingerprint,
			Algorithm:           e.Algorithm,
			BuildCommit:         e.BuildCommit,
			Hostname:            e.Hostname,
			Platform:            e.Platform,
		})
	}
	return rows
}
