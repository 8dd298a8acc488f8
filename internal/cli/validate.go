package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/mlrng/internal/config"
)

// ValidationResult holds validation results.
type ValidationResult struct {
	Valid       bool                       `json:"valid"`
	RunID       string                     `json:"run_id,omitempty"`
	Seed        uint64                     `json:"seed,omitempty"`
	Parallelism int                        `json:"parallelism,omitempty"`
	Policies    map[string]config.Resolved `json:"policies,omitempty"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	var modules []string

	cmd := &cobra.Command{
		Use:   "validate <config.yaml>",
		Short: "Validate a run config",
		Long: `Validate a run config against the embedded CUE schema and print the
resolved sampling policy of each named module.

Examples:
  mlrng validate run.yaml
  mlrng validate run.yaml --module 1A.gumbel_foreign --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true, // Don't print usage on errors
		SilenceErrors: true, // Don't print errors - we handle our own error output
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, args[0], modules, cmd)
		},
	}

	cmd.Flags().StringArrayVar(&modules, "module", nil, "module to resolve sampling knobs for (repeatable)")

	return cmd
}

func runValidate(opts *RootOptions, path string, modules []string, cmd *cobra.Command) error {
	formatter := newFormatter(opts, cmd)

	// A fixed placeholder keeps validation output stable when run_id is omitted.
	cfg, err := config.Load(path, fixedID("generated"))
	if err != nil {
		if formatter.JSON() {
			formatter.Fail(err)
		} else {
			fmt.Fprintf(cmd.OutOrStdout(), "✗ %v\n", err)
		}
		return WrapExitError(ExitFailure, "config invalid", err)
	}

	result := ValidationResult{
		Valid:       true,
		RunID:       cfg.Run.RunID,
		Seed:        cfg.Run.Seed,
		Parallelism: cfg.Parallelism,
	}
	if len(modules) > 0 {
		result.Policies = make(map[string]config.Resolved, len(modules))
		for _, m := range modules {
			result.Policies[m] = cfg.Sampling.For(m)
		}
	}

	if opts.Format == "json" {
		return formatter.Success(result)
	}

	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "✓ %s valid (run_id=%s seed=%d parallelism=%d)\n", path, result.RunID, result.Seed, result.Parallelism)
	for _, m := range modules {
		p := result.Policies[m]
		fmt.Fprintf(w, "  %s: max_candidates=%d log_all_candidates=%t fail_on_degrade=%t\n",
			m, p.MaxCandidates, p.LogAllCandidates, p.FailOnDegrade)
	}
	return nil
}

// fixedID is a config.IDGenerator that always returns itself.
type fixedID string

func (f fixedID) Generate() string { return string(f) }
