package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"golang.org/x/sync/errgroup"

	"github.com/roach88/mlrng/internal/gumbel"
	"github.com/roach88/mlrng/internal/ir"
	"github.com/roach88/mlrng/internal/rng"
	"github.com/roach88/mlrng/internal/substream"
)

// CountryRequest asks for K foreign countries for one merchant.
// Candidate IDs are ISO country codes.
type CountryRequest struct {
	MerchantID uint64
	K          int
	Candidates []gumbel.Candidate
}

// CountrySelection is a recorded selection.
type CountrySelection struct {
	MerchantID uint64
	*gumbel.Selection
	Events []ir.RngEvent
}

// Countries returns the selected ISO codes in selection order.
func (s *CountrySelection) Countries() []string {
	sel := s.Selected()
	out := make([]string, len(sel))
	for i, d := range sel {
		out[i] = d.ID
	}
	return out
}

// CountryContext returns the substream context of one candidate's draw.
func CountryContext(merchantID uint64, countryISO string) substream.Context {
	return substream.New(
		substream.Str("mlr:1A"), substream.Str("gumbel_foreign"),
		substream.U64(merchantID), substream.Str(countryISO),
	)
}

// policy resolves the sampling knobs of the country selection module.
func (r *Run) policy(k int) gumbel.Policy {
	knobs := r.cfg.Sampling.For(ModuleCountries)
	return gumbel.Policy{
		K:                k,
		MaxCandidates:    knobs.MaxCandidates,
		LogAllCandidates: knobs.LogAllCandidates,
		FailOnDegrade:    knobs.FailOnDegrade,
	}
}

// SelectCountries selects req.K countries by Gumbel top-K and records one
// event per persisted draw, in ranked order.
func (r *Run) SelectCountries(req CountryRequest) (*CountrySelection, error) {
	if err := r.ready(); err != nil {
		return nil, err
	}
	p := r.policy(req.K)
	sel, err := r.sampleCountries(req, p)
	if err != nil {
		return nil, err
	}
	return r.recordCountries(req, p, sel)
}

// SelectCountriesBatch runs many selections. Sampling runs on up to
// Parallelism goroutines; events are recorded afterwards in request order,
// so the log does not depend on scheduling. ctx is checked between
// merchants only. On error nothing is recorded.
func (r *Run) SelectCountriesBatch(ctx context.Context, reqs []CountryRequest) ([]*CountrySelection, error) {
	if err := r.ready(); err != nil {
		return nil, err
	}

	sels := make([]*gumbel.Selection, len(reqs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.cfg.Parallelism)
	for i, req := range reqs {
		i, req := i, req
		if err := gctx.Err(); err != nil {
			break
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			sel, err := r.sampleCountries(req, r.policy(req.K))
			if err != nil {
				return err
			}
			sels[i] = sel
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	out := make([]*CountrySelection, len(reqs))
	for i, req := range reqs {
		cs, err := r.recordCountries(req, r.policy(req.K), sels[i])
		if err != nil {
			return out[:i], err
		}
		out[i] = cs
	}
	slog.Debug("country batch recorded", "merchants", len(reqs), "parallelism", r.cfg.Parallelism)
	return out, nil
}

func (r *Run) sampleCountries(req CountryRequest, p gumbel.Policy) (*gumbel.Selection, error) {
	streams := func(c gumbel.Candidate) (*rng.Stream, error) {
		return r.deriver.Stream(CountryContext(req.MerchantID, c.ID)), nil
	}
	sel, err := gumbel.Sample(req.Candidates, p, streams)
	if err != nil {
		var re *rng.Error
		if errors.As(err, &re) && re.Entity == "" {
			re.Entity = strconv.FormatUint(req.MerchantID, 10)
		}
		return nil, fmt.Errorf("select countries merchant %d: %w", req.MerchantID, err)
	}
	return sel, nil
}

func (r *Run) recordCountries(req CountryRequest, p gumbel.Policy, sel *gumbel.Selection) (*CountrySelection, error) {
	if sel.Outcome.Degraded() || sel.Capped {
		slog.Warn("country selection degraded",
			"merchant_id", req.MerchantID,
			"k", req.K,
			"eligible", sel.Eligible(),
			"reasons", sel.Reasons(),
		)
	}

	draws := sel.Loggable(p)
	out := &CountrySelection{
		MerchantID: req.MerchantID,
		Selection:  sel,
		Events:     make([]ir.RngEvent, 0, len(draws)),
	}
	for _, d := range draws {
		payload := ir.NewObject(
			ir.O("merchant_id", ir.Uint(req.MerchantID)),
			ir.O("country_iso", ir.String(d.ID)),
			ir.O("weight", ir.Float(d.NormWeight)),
			ir.O("u", ir.Float(d.U)),
			ir.O("selected", ir.Bool(d.Selected)),
		)
		if d.Eligible {
			payload["key"] = ir.Float(d.Key)
		}
		if d.Selected {
			payload["selection_order"] = ir.Int(d.SelectionOrder)
		}

		ev, err := r.record(ModuleCountries, d.Label, d.Envelope, payload)
		if err != nil {
			return nil, fmt.Errorf("select countries merchant %d: %w", req.MerchantID, err)
		}
		out.Events = append(out.Events, ev)
	}
	return out, nil
}
