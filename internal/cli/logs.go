package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"

	"github.com/spf13/cobra"

	"github.com/roach88/mlrng/internal/ir"
	"github.com/roach88/mlrng/internal/recorder"
	"github.com/roach88/mlrng/internal/store"
)

// LogSource selects where the verify, digest and trace commands read logs:
// an output root, explicit JSONL files or the SQLite index.
type LogSource struct {
	Root     string
	RunID    string
	Events   []string
	Trace    string
	Database string
}

func (s *LogSource) addFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&s.Root, "root", "", "output root holding rng_events/ and rng_trace/")
	cmd.Flags().StringVar(&s.RunID, "run", "", "run id (with --root or --db)")
	cmd.Flags().StringArrayVar(&s.Events, "events", nil, "event JSONL file (repeatable)")
	cmd.Flags().StringVar(&s.Trace, "trace", "", "trace JSONL file")
	cmd.Flags().StringVar(&s.Database, "db", "", "path to SQLite index")
}

// Logs is an event log and its trace log.
type Logs struct {
	Events []ir.RngEvent
	Traces []ir.TraceRow
}

// load reads the logs the flags select.
func (s *LogSource) load(ctx context.Context) (*Logs, error) {
	switch {
	case s.Database != "":
		if s.RunID == "" {
			return nil, NewExitError(ExitCommandError, "--db requires --run")
		}
		return s.loadStore(ctx)
	case s.Root != "":
		if s.RunID == "" {
			return nil, NewExitError(ExitCommandError, "--root requires --run")
		}
		events, err := filepath.Glob(recorder.EventsPath(s.Root, s.RunID, "*"))
		if err != nil {
			return nil, WrapExitError(ExitCommandError, "invalid run id", err)
		}
		if len(events) == 0 {
			return nil, NewExitError(ExitCommandError, fmt.Sprintf("no event logs for run %s under %s", s.RunID, s.Root))
		}
		sort.Strings(events)
		return readFiles(events, recorder.TracePath(s.Root, s.RunID))
	case len(s.Events) > 0:
		return readFiles(s.Events, s.Trace)
	}
	return nil, NewExitError(ExitCommandError, "one of --db, --root or --events is required")
}

func (s *LogSource) loadStore(ctx context.Context) (*Logs, error) {
	if _, err := os.Stat(s.Database); err != nil {
		return nil, WrapExitError(ExitCommandError, "database not found", err)
	}
	st, err := store.Open(s.Database)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer st.Close()

	events, err := st.ReadEvents(ctx, s.RunID)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to read events", err)
	}
	traces, err := st.ReadTrace(ctx, s.RunID)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to read trace", err)
	}
	return &Logs{Events: events, Traces: traces}, nil
}

// readFiles reads event files in the given order, then the trace file if
// one is named.
func readFiles(eventFiles []string, traceFile string) (*Logs, error) {
	logs := &Logs{}
	for _, path := range eventFiles {
		evs, err := readJSONL(path, recorder.ReadEvents)
		if err != nil {
			return nil, err
		}
		logs.Events = append(logs.Events, evs...)
	}
	if traceFile != "" {
		rows, err := readJSONL(traceFile, recorder.ReadTraces)
		if err != nil {
			return nil, err
		}
		logs.Traces = rows
	}
	return logs, nil
}

func readJSONL[T any](path string, read func(io.Reader) ([]T, error)) ([]T, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open log", err)
	}
	defer f.Close()
	out, err := read(f)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, fmt.Sprintf("failed to parse %s", path), err)
	}
	return out, nil
}
