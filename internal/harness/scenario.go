package harness

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/roach88/mlrng/internal/alias"
	"github.com/roach88/mlrng/internal/config"
)

// Scenario defines a replayable sampling scenario: a run identity, the
// segment operations to perform and the assertions over the resulting logs.
type Scenario struct {
	// Name uniquely identifies this scenario; it names the golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Run is the identity every event is stamped with.
	Run RunSpec `yaml:"run"`

	// Sampling holds the per-module knobs, as in a run config.
	Sampling config.Sampling `yaml:"sampling,omitempty"`

	// Parallelism bounds batch selections. Zero uses the config default.
	Parallelism int `yaml:"parallelism,omitempty"`

	// Weights feeds route steps.
	Weights *Weights `yaml:"weights,omitempty"`

	// Flow lists the operations in execution order.
	Flow []Step `yaml:"flow"`

	// Assertions validate the final event and trace logs.
	Assertions []Assertion `yaml:"assertions"`
}

// RunSpec is the run identity of a scenario. RunID defaults to
// testutil's fixed run id.
type RunSpec struct {
	RunID               string `yaml:"run_id,omitempty"`
	Seed                uint64 `yaml:"seed"`
	ParameterHash       string `yaml:"parameter_hash"`
	ManifestFingerprint string `yaml:"manifest_fingerprint"`
}

// Step operations.
const (
	OpHurdle          = "hurdle"
	OpSelectCountries = "select_countries"
	OpSelectBatch     = "select_countries_batch"
	OpJitter          = "jitter"
	OpRoute           = "route"
)

// Step is one segment operation.
type Step struct {
	Op         string `yaml:"op"`
	MerchantID uint64 `yaml:"merchant_id,omitempty"`

	// hurdle
	P *float64 `yaml:"p,omitempty"`

	// select_countries
	K          int         `yaml:"k,omitempty"`
	Candidates []Candidate `yaml:"candidates,omitempty"`

	// select_countries_batch
	Requests []Request `yaml:"requests,omitempty"`

	// jitter
	CountryISO string `yaml:"country_iso,omitempty"`
	SiteOrder  uint64 `yaml:"site_order,omitempty"`
	Attempt    uint64 `yaml:"attempt,omitempty"`

	// route
	UTCDay     string `yaml:"utc_day,omitempty"`
	ArrivalSeq uint64 `yaml:"arrival_seq,omitempty"`

	// Expect is a subset match against the step's outputs.
	Expect map[string]any `yaml:"expect,omitempty"`

	// Error, when set, expects the step to fail with this error code.
	Error string `yaml:"error,omitempty"`
}

// Candidate is a country candidate of a selection step.
type Candidate struct {
	ID           string  `yaml:"id"`
	Weight       float64 `yaml:"weight"`
	Rank         int     `yaml:"rank,omitempty"`
	SecondaryKey string  `yaml:"secondary_key,omitempty"`
}

// Request is one merchant of a batch selection step.
type Request struct {
	MerchantID uint64      `yaml:"merchant_id"`
	K          int         `yaml:"k"`
	Candidates []Candidate `yaml:"candidates"`
}

// Weights is a static alias.WeightSource. Group weights are keyed by UTC
// day and site weights by group; both apply to every merchant.
type Weights struct {
	Groups map[string][]GroupWeight `yaml:"groups"`
	Sites  map[string][]SiteWeight  `yaml:"sites"`
}

// GroupWeight is one time-zone group weight.
type GroupWeight struct {
	ID     string  `yaml:"id"`
	Weight float64 `yaml:"weight"`
}

// SiteWeight is one site weight.
type SiteWeight struct {
	ID     uint64  `yaml:"id"`
	Weight float64 `yaml:"weight"`
}

// GroupWeights implements alias.WeightSource.
func (w *Weights) GroupWeights(_ uint64, utcDay string) ([]alias.Group, error) {
	gs, ok := w.Groups[utcDay]
	if !ok {
		return nil, fmt.Errorf("no group weights for day %s", utcDay)
	}
	out := make([]alias.Group, len(gs))
	for i, g := range gs {
		out[i] = alias.Group{ID: g.ID, Weight: g.Weight}
	}
	return out, nil
}

// SiteWeights implements alias.WeightSource.
func (w *Weights) SiteWeights(_ uint64, groupID string) ([]alias.Site, error) {
	ss, ok := w.Sites[groupID]
	if !ok {
		return nil, fmt.Errorf("no site weights for group %s", groupID)
	}
	out := make([]alias.Site, len(ss))
	for i, s := range ss {
		out[i] = alias.Site{ID: s.ID, Weight: s.Weight}
	}
	return out, nil
}

// Assertion validates the final logs.
type Assertion struct {
	// Type specifies the assertion type:
	// - "event_count": events of Module (all modules if empty) equal Count
	// - "trace_totals": final totals of (Module, Substream)
	// - "verify": the logs pass recorder.Verify
	// - "run_complete": the SQLite index has the audit row and every trace
	// - "replay_digest": replaying the flow yields identical digests
	Type string `yaml:"type"`

	Module    string `yaml:"module,omitempty"`
	Substream string `yaml:"substream,omitempty"`
	Count     int    `yaml:"count,omitempty"`

	Draws  uint64 `yaml:"draws,omitempty"`
	Blocks uint64 `yaml:"blocks,omitempty"`
	Events uint64 `yaml:"events,omitempty"`
}

// Assertion type constants.
const (
	AssertEventCount   = "event_count"
	AssertTraceTotals  = "trace_totals"
	AssertVerify       = "verify"
	AssertRunComplete  = "run_complete"
	AssertReplayDigest = "replay_digest"
)

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses scenario YAML with strict field checking.
func ParseScenario(data []byte) (*Scenario, error) {
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// validateScenario checks that required fields are present and valid.
// Identity formats are left to config validation at run time.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if s.Run.ManifestFingerprint == "" {
		return fmt.Errorf("run.manifest_fingerprint is required")
	}
	if s.Run.ParameterHash == "" {
		return fmt.Errorf("run.parameter_hash is required")
	}
	if len(s.Flow) == 0 {
		return fmt.Errorf("flow list is required and must be non-empty")
	}
	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}

	for i, step := range s.Flow {
		if err := validateStep(i, &step, s.Weights != nil); err != nil {
			return err
		}
	}
	for i, a := range s.Assertions {
		if err := validateAssertion(i, &a); err != nil {
			return err
		}
	}
	return nil
}

func validateStep(index int, step *Step, hasWeights bool) error {
	switch step.Op {
	case OpHurdle:
		if step.P == nil {
			return fmt.Errorf("flow[%d]: p is required for hurdle", index)
		}
	case OpSelectCountries:
		if len(step.Candidates) == 0 {
			return fmt.Errorf("flow[%d]: candidates are required for select_countries", index)
		}
	case OpSelectBatch:
		if len(step.Requests) == 0 {
			return fmt.Errorf("flow[%d]: requests are required for select_countries_batch", index)
		}
	case OpJitter:
		if step.CountryISO == "" {
			return fmt.Errorf("flow[%d]: country_iso is required for jitter", index)
		}
	case OpRoute:
		if step.UTCDay == "" {
			return fmt.Errorf("flow[%d]: utc_day is required for route", index)
		}
		if !hasWeights {
			return fmt.Errorf("flow[%d]: route requires scenario weights", index)
		}
	case "":
		return fmt.Errorf("flow[%d]: op is required", index)
	default:
		return fmt.Errorf("flow[%d]: unknown op %q", index, step.Op)
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	switch a.Type {
	case AssertEventCount:
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for event_count", index)
		}
	case AssertTraceTotals:
		if a.Module == "" || a.Substream == "" {
			return fmt.Errorf("assertions[%d]: module and substream are required for trace_totals", index)
		}
	case AssertVerify, AssertRunComplete, AssertReplayDigest:
	case "":
		return fmt.Errorf("assertions[%d]: type is required", index)
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}
