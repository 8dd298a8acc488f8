package recorder

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/roach88/mlrng/internal/ir"
)

// EventsPath returns the event log path of one (run, module) partition.
func EventsPath(root, runID, module string) string {
	return filepath.Join(root, "rng_events", "run_id="+runID, "module="+module, "events.jsonl")
}

// TracePath returns the trace log path of one run.
func TracePath(root, runID string) string {
	return filepath.Join(root, "rng_trace", "run_id="+runID, "trace.jsonl")
}

// AuditPath returns the audit log path under root.
func AuditPath(root string) string {
	return filepath.Join(root, "rng_audit", "audit.jsonl")
}

type appendFile struct {
	f *os.File
	w *bufio.Writer
}

// JSONLWriter appends events and trace rows to partitioned JSONL files.
// Files are opened lazily in append mode and buffered until Flush or Close.
type JSONLWriter struct {
	root  string
	mu    sync.Mutex
	files map[string]*appendFile
}

// NewJSONLWriter creates a writer rooted at root.
func NewJSONLWriter(root string) *JSONLWriter {
	return &JSONLWriter{root: root, files: make(map[string]*appendFile)}
}

// Root returns the output root.
func (w *JSONLWriter) Root() string {
	return w.root
}

// WriteEvent appends ev to its module partition.
func (w *JSONLWriter) WriteEvent(ev ir.RngEvent) error {
	if err := checkPartition("run_id", ev.Identity.RunID); err != nil {
		return err
	}
	if err := checkPartition("module", ev.Module); err != nil {
		return err
	}
	line, err := ev.MarshalLine()
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	return w.appendLine(EventsPath(w.root, ev.Identity.RunID, ev.Module), line)
}

// WriteTrace appends tr to the run's trace log.
func (w *JSONLWriter) WriteTrace(tr ir.TraceRow) error {
	if err := checkPartition("run_id", tr.Identity.RunID); err != nil {
		return err
	}
	line, err := tr.MarshalLine()
	if err != nil {
		return fmt.Errorf("marshal trace row: %w", err)
	}
	return w.appendLine(TracePath(w.root, tr.Identity.RunID), line)
}

func (w *JSONLWriter) appendLine(path string, line []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	af, ok := w.files[path]
	if !ok {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return fmt.Errorf("create partition: %w", err)
		}
		f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return fmt.Errorf("open %s: %w", path, err)
		}
		af = &appendFile{f: f, w: bufio.NewWriter(f)}
		w.files[path] = af
	}
	if _, err := af.w.Write(line); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := af.w.WriteByte('\n'); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

// Flush writes buffered lines to disk.
func (w *JSONLWriter) Flush() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	var errs []error
	for path, af := range w.files {
		if err := af.w.Flush(); err != nil {
			errs = append(errs, fmt.Errorf("flush %s: %w", path, err))
		}
	}
	return errors.Join(errs...)
}

// Close flushes and closes every open file.
func (w *JSONLWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	var errs []error
	for path, af := range w.files {
		if err := af.w.Flush(); err != nil {
			errs = append(errs, fmt.Errorf("flush %s: %w", path, err))
		}
		if err := af.f.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", path, err))
		}
		delete(w.files, path)
	}
	return errors.Join(errs...)
}

// checkPartition rejects values that would escape their partition directory.
func checkPartition(name, value string) error {
	if value == "" || value == "." || value == ".." || strings.ContainsAny(value, `/\`) {
		return fmt.Errorf("invalid %s partition value %q", name, value)
	}
	return nil
}
