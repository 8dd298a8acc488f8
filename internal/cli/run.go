package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/roach88/mlrng/internal/config"
	"github.com/roach88/mlrng/internal/engine"
	"github.com/roach88/mlrng/internal/harness"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	Config   string
	Output   string
	Database string

	// IDs overrides run id generation when neither the config nor the plan
	// names one (for testing). If nil, defaults to config.UUIDGenerator.
	IDs config.IDGenerator
}

// RunSummary is printed after a plan has been executed.
type RunSummary struct {
	RunID      string               `json:"run_id"`
	OutputRoot string               `json:"output_root"`
	Database   string               `json:"database,omitempty"`
	Steps      int                  `json:"steps"`
	Events     uint64               `json:"events"`
	Substreams int                  `json:"substreams"`
	Outputs    []harness.StepOutput `json:"outputs"`
	Errors     []string             `json:"errors,omitempty"`
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run <plan.yaml>",
		Short: "Execute a sampling plan and write its logs",
		Long: `Execute the flow of a plan (a scenario file) against a real run and
write the event, trace and audit logs under the output root.

The run identity comes from --config when given, otherwise from the plan's
run block. Re-running the same plan with the same identity appends nothing
new to the audit log and yields identical events.

Example:
  mlrng run plan.yaml --config run.yaml
  mlrng run plan.yaml --out ./out --db ./out/mlrng.db --verbose`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPlan(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Config, "config", "", "path to run config YAML")
	cmd.Flags().StringVar(&opts.Output, "out", "", "output root (overrides the config)")
	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite index (overrides the config)")

	return cmd
}

func runPlan(opts *RunOptions, planPath string, cmd *cobra.Command) error {
	plan, err := harness.LoadScenario(planPath)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load plan", err)
	}

	cfg, err := planConfig(opts, plan)
	if err != nil {
		return err
	}
	slog.Info("plan loaded", "plan", plan.Name, "steps", len(plan.Flow), "run_id", cfg.Run.RunID)

	var runOpts []engine.Option
	if plan.Weights != nil {
		runOpts = append(runOpts, engine.WithWeightSource(plan.Weights))
	}
	run, err := engine.New(cfg, runOpts...)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to create run", err)
	}
	if err := run.Start(); err != nil {
		_ = run.Close()
		return WrapExitError(ExitFailure, "failed to start run", err)
	}

	// Use command's context if available (for testing), otherwise create one
	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, cancel := context.WithCancel(parentCtx)
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go func() {
		select {
		case sig := <-sigChan:
			slog.Info("received signal, stopping", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	result := harness.Drive(ctx, plan, run)

	summary := RunSummary{
		RunID:      cfg.Run.RunID,
		OutputRoot: cfg.Run.OutputRoot,
		Database:   cfg.Run.Database,
		Steps:      len(result.Outputs),
		Outputs:    result.Outputs,
		Errors:     result.Errors,
	}
	for _, row := range run.Trace().Final() {
		summary.Events += row.EventsTotal
		summary.Substreams++
	}

	if err := run.Close(); err != nil {
		return WrapExitError(ExitFailure, "failed to close run", err)
	}

	if opts.Format == "json" {
		resp := CLIResponse{Status: status(result.Pass), Data: summary, RunID: summary.RunID}
		if err := newFormatter(opts.RootOptions, cmd).Respond(resp); err != nil {
			return err
		}
	} else {
		w := cmd.OutOrStdout()
		fmt.Fprintf(w, "Run %s: %d step(s), %d event(s) across %d substream(s)\n",
			summary.RunID, summary.Steps, summary.Events, summary.Substreams)
		fmt.Fprintf(w, "Logs written under %s\n", summary.OutputRoot)
		for _, e := range result.Errors {
			fmt.Fprintf(w, "  %s\n", e)
		}
	}

	if !result.Pass {
		return NewExitError(ExitFailure, fmt.Sprintf("%d step check(s) failed", len(result.Errors)))
	}
	return nil
}

// planConfig resolves the run config: --config if given, else the plan's
// run block. Flags override output locations.
func planConfig(opts *RunOptions, plan *harness.Scenario) (*config.Config, error) {
	var cfg *config.Config
	if opts.Config != "" {
		loaded, err := config.Load(opts.Config, opts.IDs)
		if err != nil {
			return nil, WrapExitError(ExitCommandError, "failed to load config", err)
		}
		cfg = loaded
	} else {
		cfg = harness.Config(plan)
		if plan.Run.RunID == "" {
			ids := opts.IDs
			if ids == nil {
				ids = config.UUIDGenerator{}
			}
			cfg.Run.RunID = ids.Generate()
		}
		cfg.Run.OutputRoot = ""
	}

	if opts.Output != "" {
		cfg.Run.OutputRoot = opts.Output
	}
	if opts.Database != "" {
		cfg.Run.Database = opts.Database
	}
	if cfg.Run.OutputRoot == "" {
		return nil, NewExitError(ExitCommandError, "output root required: pass --out or --config")
	}
	return cfg, nil
}

func status(pass bool) string {
	if pass {
		return "ok"
	}
	return "error"
}
