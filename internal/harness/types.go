package harness

import (
	"github.com/roach88/mlrng/internal/ir"
)

// StepOutput is what one flow step produced, for expect matching and
// debugging output.
type StepOutput struct {
	Index  int            `json:"index"`
	Op     string         `json:"op"`
	Values map[string]any `json:"values,omitempty"`
	Error  string         `json:"error,omitempty"`
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass is true when every expect clause and assertion held.
	Pass bool `json:"pass"`

	// Events is the event log in emission order.
	Events []ir.RngEvent `json:"-"`

	// Traces is every trace snapshot in emission order.
	Traces []ir.TraceRow `json:"-"`

	// Final holds the latest trace row per substream, sorted by key.
	Final []ir.TraceRow `json:"-"`

	// Outputs has one entry per flow step.
	Outputs []StepOutput `json:"outputs"`

	// Errors contains validation error messages. Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:    true,
		Outputs: []StepOutput{},
		Errors:  []string{},
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}
