package engine

import (
	"fmt"
	"math"

	"github.com/roach88/mlrng/internal/ir"
	"github.com/roach88/mlrng/internal/substream"
)

// Module names stamped on events.
const (
	ModuleHurdle    = "1A.hurdle"
	ModuleCountries = "1A.gumbel_foreign"
	ModuleJitter    = "1B.in_cell_jitter"
	ModuleRouting   = "2B.alias_routing"
)

// HurdleResult is the outcome of one merchant's single/multi-site hurdle.
type HurdleResult struct {
	MerchantID uint64
	P          float64
	// U is the uniform drawn; zero when Deterministic.
	U             float64
	IsMulti       bool
	Deterministic bool
	Event         ir.RngEvent
}

// HurdleContext returns the substream context of a merchant's hurdle draw.
func HurdleContext(merchantID uint64) substream.Context {
	return substream.New(substream.Str("mlr:1A"), substream.Str("hurdle"), substream.U64(merchantID))
}

// Hurdle decides whether merchant is multi-site with probability p.
//
// For 0 < p < 1 one uniform is drawn and the merchant is multi-site when
// u < p. For p of exactly 0 or 1 the outcome is fixed, no block is consumed
// and the event records an empty envelope.
func (r *Run) Hurdle(merchantID uint64, p float64) (HurdleResult, error) {
	if err := r.ready(); err != nil {
		return HurdleResult{}, err
	}
	if math.IsNaN(p) || p < 0 || p > 1 {
		return HurdleResult{}, fmt.Errorf("hurdle merchant %d: probability %v outside [0,1]", merchantID, p)
	}

	s := r.deriver.Stream(HurdleContext(merchantID))
	res := HurdleResult{MerchantID: merchantID, P: p}

	payload := ir.NewObject(
		ir.O("merchant_id", ir.Uint(merchantID)),
		ir.O("pi", ir.Float(p)),
	)

	if p == 0 || p == 1 {
		res.Deterministic = true
		res.IsMulti = p == 1
		payload["deterministic"] = ir.Bool(true)
		payload["is_multi"] = ir.Bool(res.IsMulti)

		ev, err := r.record(ModuleHurdle, s.Label(), emptyEnvelope(s.Counter()), payload)
		if err != nil {
			return HurdleResult{}, fmt.Errorf("hurdle merchant %d: %w", merchantID, err)
		}
		res.Event = ev
		return res, nil
	}

	u, env, err := s.Uniform()
	if err != nil {
		return HurdleResult{}, fmt.Errorf("hurdle merchant %d: %w", merchantID, err)
	}
	res.U = u
	res.IsMulti = u < p
	payload["deterministic"] = ir.Bool(false)
	payload["is_multi"] = ir.Bool(res.IsMulti)
	payload["u"] = ir.Float(u)

	ev, err := r.record(ModuleHurdle, s.Label(), env, payload)
	if err != nil {
		return HurdleResult{}, fmt.Errorf("hurdle merchant %d: %w", merchantID, err)
	}
	res.Event = ev
	return res, nil
}
