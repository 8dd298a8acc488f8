package gumbel

import (
	"cmp"
	"fmt"
	"math"
	"slices"
	"strconv"

	"github.com/roach88/mlrng/internal/rng"
)

// Outcome classifies a selection.
type Outcome string

const (
	// OutcomeOK means K candidates were selected.
	OutcomeOK Outcome = "OK"

	// OutcomeZeroWeightDomain means no considered candidate had positive weight.
	OutcomeZeroWeightDomain Outcome = "ZERO_WEIGHT_DOMAIN"

	// OutcomeShortfall means fewer than K candidates were eligible; all of
	// them were selected.
	OutcomeShortfall Outcome = "SHORTFALL"

	// OutcomeKZero means nothing was requested and nothing was drawn.
	OutcomeKZero Outcome = "K_ZERO"
)

// ReasonCapped flags a candidate set truncated to Policy.MaxCandidates.
const ReasonCapped = "CAPPED_BY_MAX_CANDIDATES"

// Degraded reports whether the outcome is a degenerate policy case.
func (o Outcome) Degraded() bool {
	return o != OutcomeOK
}

// Candidate is one item competing for selection.
type Candidate struct {
	ID           string
	Weight       float64
	Rank         int
	SecondaryKey string
}

// Policy controls one selection.
type Policy struct {
	// K is the number of candidates to select.
	K int

	// MaxCandidates caps the considered set; zero means unlimited.
	MaxCandidates int

	// LogAllCandidates persists every considered draw instead of only the
	// selected ones.
	LogAllCandidates bool

	// FailOnDegrade turns degenerate outcomes into E_SAMPLING_DEGRADED errors.
	FailOnDegrade bool
}

// StreamFunc opens the substream a candidate draws from. Distinct candidates
// must get distinct substreams.
type StreamFunc func(c Candidate) (*rng.Stream, error)

// Draw is the result of one candidate's uniform.
type Draw struct {
	Candidate

	// NormWeight is the weight normalized over the considered set.
	NormWeight float64

	Label string
	U     float64

	// Key is the Gumbel key; meaningful only when Eligible.
	Key      float64
	Eligible bool

	Selected bool
	// SelectionOrder is 1-based for selected draws, zero otherwise.
	SelectionOrder int

	Envelope rng.Envelope
}

// Selection is the outcome of one Sample call.
type Selection struct {
	Outcome Outcome
	Capped  bool
	K       int

	// Draws holds every considered candidate in ranked order: eligible by
	// key, then ineligible by rank, secondary key and ID.
	Draws []Draw

	// Dropped lists candidates removed by the cap.
	Dropped []Candidate
}

// Selected returns the selected draws in selection order.
func (s *Selection) Selected() []Draw {
	out := make([]Draw, 0, s.K)
	for _, d := range s.Draws {
		if d.Selected {
			out = append(out, d)
		}
	}
	return out
}

// Eligible returns the number of considered candidates with positive weight.
func (s *Selection) Eligible() int {
	n := 0
	for _, d := range s.Draws {
		if d.Eligible {
			n++
		}
	}
	return n
}

// Reasons returns the outcome plus the cap flag, for logging.
func (s *Selection) Reasons() []string {
	r := []string{string(s.Outcome)}
	if s.Capped {
		r = append(r, ReasonCapped)
	}
	return r
}

// Loggable returns the draws that should be persisted as events: every
// considered draw when the policy asks for it or when nothing could be
// selected, otherwise the selected draws only.
func (s *Selection) Loggable(p Policy) []Draw {
	if p.LogAllCandidates || s.Outcome == OutcomeZeroWeightDomain {
		return s.Draws
	}
	return s.Selected()
}

// Key computes the Gumbel key ln(w) - ln(-ln(u)) for w > 0 and u in (0,1).
func Key(w, u float64) float64 {
	return LogKey(math.Log(w), u)
}

// LogKey is Key with the weight already in log space. It stays finite for
// every positive float64 weight, including subnormals.
func LogKey(logW, u float64) float64 {
	return logW - math.Log(-math.Log(u))
}

// logSumWeights returns ln(sum of weights) without overflow: weights are
// scaled by the largest before summing. Returns -Inf when no weight is
// positive.
func logSumWeights(candidates []Candidate) float64 {
	maxW := 0.0
	for _, c := range candidates {
		maxW = max(maxW, c.Weight)
	}
	if maxW == 0 {
		return math.Inf(-1)
	}
	scaled := 0.0
	for _, c := range candidates {
		scaled += c.Weight / maxW
	}
	return math.Log(maxW) + math.Log(scaled)
}

// Sample selects up to p.K candidates without replacement.
func Sample(candidates []Candidate, p Policy, streams StreamFunc) (*Selection, error) {
	if p.K < 0 {
		return nil, fmt.Errorf("gumbel: K must be non-negative, got %d", p.K)
	}
	if err := validate(candidates); err != nil {
		return nil, err
	}

	sel := &Selection{K: p.K}
	if p.K == 0 {
		sel.Outcome = OutcomeKZero
		if err := degrade(sel, p); err != nil {
			return nil, err
		}
		return sel, nil
	}

	considered := candidates
	if p.MaxCandidates > 0 && len(candidates) > p.MaxCandidates {
		ordered := slices.Clone(candidates)
		slices.SortStableFunc(ordered, compareForCap)
		considered = ordered[:p.MaxCandidates]
		sel.Dropped = ordered[p.MaxCandidates:]
		sel.Capped = true
	}

	logSum := logSumWeights(considered)

	sel.Draws = make([]Draw, 0, len(considered))
	for _, c := range considered {
		s, err := streams(c)
		if err != nil {
			return nil, fmt.Errorf("gumbel: stream for candidate %s: %w", c.ID, err)
		}
		u, env, err := s.Uniform()
		if err != nil {
			return nil, fmt.Errorf("gumbel: draw for candidate %s: %w", c.ID, err)
		}

		d := Draw{Candidate: c, Label: s.Label(), U: u, Envelope: env}
		if c.Weight > 0 {
			logW := math.Log(c.Weight) - logSum
			d.NormWeight = math.Exp(logW)
			d.Key = LogKey(logW, u)
			d.Eligible = true
		}
		sel.Draws = append(sel.Draws, d)
	}

	slices.SortStableFunc(sel.Draws, compareDraws)

	eligible := sel.Eligible()
	n := min(p.K, eligible)
	for i := 0; i < n; i++ {
		sel.Draws[i].Selected = true
		sel.Draws[i].SelectionOrder = i + 1
	}

	switch {
	case eligible == 0:
		sel.Outcome = OutcomeZeroWeightDomain
	case eligible < p.K:
		sel.Outcome = OutcomeShortfall
	default:
		sel.Outcome = OutcomeOK
	}
	if err := degrade(sel, p); err != nil {
		return nil, err
	}
	return sel, nil
}

func validate(candidates []Candidate) error {
	seen := make(map[string]struct{}, len(candidates))
	for i, c := range candidates {
		if math.IsNaN(c.Weight) || math.IsInf(c.Weight, 0) || c.Weight < 0 {
			return &rng.Error{
				Code:    rng.ErrCodeGumbelWeightInvalid,
				Message: "candidate weight must be finite and non-negative",
				Entity:  c.ID,
				Details: map[string]string{
					"index":  strconv.Itoa(i),
					"weight": strconv.FormatFloat(c.Weight, 'g', -1, 64),
				},
			}
		}
		if _, dup := seen[c.ID]; dup {
			return fmt.Errorf("gumbel: duplicate candidate id %q", c.ID)
		}
		seen[c.ID] = struct{}{}
	}
	return nil
}

func degrade(sel *Selection, p Policy) error {
	if !p.FailOnDegrade || !sel.Outcome.Degraded() {
		return nil
	}
	return &rng.Error{
		Code:    rng.ErrCodeDegraded,
		Message: fmt.Sprintf("selection outcome %s under fail_on_degrade", sel.Outcome),
		Details: map[string]string{
			"outcome":  string(sel.Outcome),
			"k":        strconv.Itoa(p.K),
			"eligible": strconv.Itoa(sel.Eligible()),
		},
	}
}

// compareForCap orders candidates for truncation: heaviest first.
func compareForCap(a, b Candidate) int {
	if c := cmp.Compare(b.Weight, a.Weight); c != 0 {
		return c
	}
	return compareTies(a, b)
}

// compareDraws ranks draws: eligible before ineligible, then key descending.
func compareDraws(a, b Draw) int {
	if a.Eligible != b.Eligible {
		if a.Eligible {
			return -1
		}
		return 1
	}
	if a.Eligible {
		if c := cmp.Compare(b.Key, a.Key); c != 0 {
			return c
		}
	}
	return compareTies(a.Candidate, b.Candidate)
}

func compareTies(a, b Candidate) int {
	if c := cmp.Compare(a.Rank, b.Rank); c != 0 {
		return c
	}
	if c := cmp.Compare(a.SecondaryKey, b.SecondaryKey); c != 0 {
		return c
	}
	return cmp.Compare(a.ID, b.ID)
}
