package engine

import (
	"fmt"

	"github.com/roach88/mlrng/internal/ir"
	"github.com/roach88/mlrng/internal/rng"
	"github.com/roach88/mlrng/internal/substream"
)

// JitterResult is one in-cell jitter attempt: a uniform pair used as
// fractional offsets inside a site's raster cell.
type JitterResult struct {
	MerchantID uint64
	CountryISO string
	SiteOrder  uint64
	Attempt    uint64
	ULon       float64
	ULat       float64
	Event      ir.RngEvent
}

// JitterContext returns the substream context of one jitter attempt.
// Each attempt has its own substream so a rejected attempt never shifts
// the draws of the next.
func JitterContext(merchantID uint64, countryISO string, siteOrder, attempt uint64) substream.Context {
	return substream.New(
		substream.Str("mlr:1B"), substream.Str("in_cell_jitter"),
		substream.U64(merchantID), substream.Str(countryISO),
		substream.U64(siteOrder), substream.U64(attempt),
	)
}

// Jitter draws the uniform pair for one attempt at placing a site.
// One block is consumed: lane 0 is longitude, lane 1 latitude.
func (r *Run) Jitter(merchantID uint64, countryISO string, siteOrder, attempt uint64) (JitterResult, error) {
	if err := r.ready(); err != nil {
		return JitterResult{}, err
	}
	if attempt == 0 {
		return JitterResult{}, fmt.Errorf("jitter merchant %d site %d: attempts are 1-based", merchantID, siteOrder)
	}

	s := r.deriver.Stream(JitterContext(merchantID, countryISO, siteOrder, attempt))
	uLon, uLat, env, err := s.UniformPair()
	if err != nil {
		return JitterResult{}, fmt.Errorf("jitter merchant %d site %d: %w", merchantID, siteOrder, err)
	}

	payload := ir.NewObject(
		ir.O("merchant_id", ir.Uint(merchantID)),
		ir.O("legal_country_iso", ir.String(countryISO)),
		ir.O("site_order", ir.Uint(siteOrder)),
		ir.O("sample_attempt", ir.Uint(attempt)),
		ir.O("u_lon", ir.Float(uLon)),
		ir.O("u_lat", ir.Float(uLat)),
	)
	ev, err := r.record(ModuleJitter, s.Label(), env, payload)
	if err != nil {
		return JitterResult{}, fmt.Errorf("jitter merchant %d site %d: %w", merchantID, siteOrder, err)
	}

	return JitterResult{
		MerchantID: merchantID,
		CountryISO: countryISO,
		SiteOrder:  siteOrder,
		Attempt:    attempt,
		ULon:       uLon,
		ULat:       uLat,
		Event:      ev,
	}, nil
}

// emptyEnvelope is the envelope of an event that consumed nothing at c.
func emptyEnvelope(c rng.Counter) rng.Envelope {
	return rng.Envelope{Before: c, After: c}
}
