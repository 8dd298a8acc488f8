package engine

import (
	"fmt"

	"github.com/roach88/mlrng/internal/alias"
	"github.com/roach88/mlrng/internal/ir"
)

// Routed is one routed arrival with its two recorded events.
type Routed struct {
	alias.RouteResult
	GroupEvent ir.RngEvent
	SiteEvent  ir.RngEvent
}

// Route assigns an arrival to a time-zone group and then a site, recording
// one event per pick.
func (r *Run) Route(merchantID uint64, utcDay string, arrivalSeq uint64) (Routed, error) {
	if err := r.ready(); err != nil {
		return Routed{}, err
	}
	if r.router == nil {
		return Routed{}, ErrNoWeightSource
	}

	res, err := r.router.Route(merchantID, utcDay, arrivalSeq)
	if err != nil {
		return Routed{}, err
	}

	group := ir.NewObject(
		ir.O("merchant_id", ir.Uint(merchantID)),
		ir.O("utc_day", ir.String(utcDay)),
		ir.O("arrival_seq", ir.Uint(arrivalSeq)),
		ir.O("tz_group_id", ir.String(res.GroupID)),
		ir.O("u", ir.Float(res.GroupDraw.U)),
	)
	gev, err := r.record(ModuleRouting, res.GroupDraw.Label, res.GroupDraw.Envelope, group)
	if err != nil {
		return Routed{}, fmt.Errorf("route merchant %d: %w", merchantID, err)
	}

	site := group.Clone()
	site["site_id"] = ir.Uint(res.SiteID)
	site["u"] = ir.Float(res.SiteDraw.U)
	sev, err := r.record(ModuleRouting, res.SiteDraw.Label, res.SiteDraw.Envelope, site)
	if err != nil {
		return Routed{}, fmt.Errorf("route merchant %d: %w", merchantID, err)
	}

	return Routed{RouteResult: res, GroupEvent: gev, SiteEvent: sev}, nil
}

// CacheStats reports the router's table cache counters. Both are zero when
// routing is disabled.
func (r *Run) CacheStats() (groups, sites alias.CacheStats) {
	if r.router == nil {
		return alias.CacheStats{}, alias.CacheStats{}
	}
	return r.router.CacheStats()
}
