package alias

import (
	"fmt"

	"github.com/roach88/mlrng/internal/substream"
)

// Substream domain labels for routing picks.
const (
	RouterDomain = "mlr:2B"
	GroupLabel   = "alias_group"
	SiteLabel    = "alias_site"
)

// Group is a coarse routing bucket (e.g. a time-zone group) with its weight.
type Group struct {
	ID     string
	Weight float64
}

// Site is a concrete routing target inside a group.
type Site struct {
	ID     uint64
	Weight float64
}

// WeightSource supplies the weight vectors the router builds tables from.
// Implementations must return the same weights for the same arguments for
// the lifetime of a run.
type WeightSource interface {
	GroupWeights(merchantID uint64, utcDay string) ([]Group, error)
	SiteWeights(merchantID uint64, groupID string) ([]Site, error)
}

type groupKey struct {
	MerchantID uint64
	UTCDay     string
}

type siteKey struct {
	MerchantID uint64
	GroupID    string
}

// RouteResult is the outcome of one routed arrival.
type RouteResult struct {
	MerchantID uint64
	UTCDay     string
	ArrivalSeq uint64
	GroupID    string
	SiteID     uint64
	GroupDraw  Draw
	SiteDraw   Draw
}

// Router performs two chained alias picks per arrival: a group from the
// per-(merchant, day) table, then a site from the per-(merchant, group)
// table. Each pick has its own substream and consumes one block.
//
// Router is safe for concurrent use: caches are synchronized and every
// arrival opens fresh streams.
type Router struct {
	deriver substream.Deriver
	source  WeightSource
	groups  *Cache[groupKey, Group]
	sites   *Cache[siteKey, Site]
}

// NewRouter creates a router with bounded group and site table caches.
func NewRouter(d substream.Deriver, source WeightSource, groupTables, siteTables int) (*Router, error) {
	groups, err := NewCache[groupKey, Group](groupTables)
	if err != nil {
		return nil, fmt.Errorf("group cache: %w", err)
	}
	sites, err := NewCache[siteKey, Site](siteTables)
	if err != nil {
		return nil, fmt.Errorf("site cache: %w", err)
	}
	return &Router{deriver: d, source: source, groups: groups, sites: sites}, nil
}

// GroupContext returns the substream context of the group pick.
func GroupContext(merchantID uint64, utcDay string, arrivalSeq uint64) substream.Context {
	return substream.New(
		substream.Str(RouterDomain), substream.Str(GroupLabel),
		substream.U64(merchantID), substream.Str(utcDay), substream.U64(arrivalSeq),
	)
}

// SiteContext returns the substream context of the site pick.
func SiteContext(merchantID uint64, utcDay string, arrivalSeq uint64) substream.Context {
	return substream.New(
		substream.Str(RouterDomain), substream.Str(SiteLabel),
		substream.U64(merchantID), substream.Str(utcDay), substream.U64(arrivalSeq),
	)
}

// Route picks a group and then a site for one arrival.
func (r *Router) Route(merchantID uint64, utcDay string, arrivalSeq uint64) (RouteResult, error) {
	gt, err := r.groupTable(merchantID, utcDay)
	if err != nil {
		return RouteResult{}, err
	}
	group, gd, err := gt.Sample(r.deriver.Stream(GroupContext(merchantID, utcDay, arrivalSeq)))
	if err != nil {
		return RouteResult{}, fmt.Errorf("route merchant %d: group pick: %w", merchantID, err)
	}

	st, err := r.siteTable(merchantID, group.ID)
	if err != nil {
		return RouteResult{}, err
	}
	site, sd, err := st.Sample(r.deriver.Stream(SiteContext(merchantID, utcDay, arrivalSeq)))
	if err != nil {
		return RouteResult{}, fmt.Errorf("route merchant %d: site pick: %w", merchantID, err)
	}

	return RouteResult{
		MerchantID: merchantID,
		UTCDay:     utcDay,
		ArrivalSeq: arrivalSeq,
		GroupID:    group.ID,
		SiteID:     site.ID,
		GroupDraw:  gd,
		SiteDraw:   sd,
	}, nil
}

func (r *Router) groupTable(merchantID uint64, utcDay string) (*TableOf[Group], error) {
	key := groupKey{MerchantID: merchantID, UTCDay: utcDay}
	if t, ok := r.groups.Get(key); ok {
		return t, nil
	}
	items, err := r.source.GroupWeights(merchantID, utcDay)
	if err != nil {
		return nil, fmt.Errorf("group weights for merchant %d day %s: %w", merchantID, utcDay, err)
	}
	t, err := r.groups.Fill(key, items, func(g Group) float64 { return g.Weight })
	if err != nil {
		return nil, fmt.Errorf("group table for merchant %d day %s: %w", merchantID, utcDay, err)
	}
	return t, nil
}

func (r *Router) siteTable(merchantID uint64, groupID string) (*TableOf[Site], error) {
	key := siteKey{MerchantID: merchantID, GroupID: groupID}
	if t, ok := r.sites.Get(key); ok {
		return t, nil
	}
	items, err := r.source.SiteWeights(merchantID, groupID)
	if err != nil {
		return nil, fmt.Errorf("site weights for merchant %d group %s: %w", merchantID, groupID, err)
	}
	t, err := r.sites.Fill(key, items, func(s Site) float64 { return s.Weight })
	if err != nil {
		return nil, fmt.Errorf("site table for merchant %d group %s: %w", merchantID, groupID, err)
	}
	return t, nil
}

// CacheStats reports group and site cache traffic.
func (r *Router) CacheStats() (groups, sites CacheStats) {
	g, s := r.groups.Stats(), r.sites.Stats()
	return CacheStats{Tables: r.groups.Len(), Hits: g.Hits, Misses: g.Misses, Evictions: g.Evictions},
		CacheStats{Tables: r.sites.Len(), Hits: s.Hits, Misses: s.Misses, Evictions: s.Evictions}
}

// CacheStats summarizes one table cache.
type CacheStats struct {
	Tables    int
	Hits      uint64
	Misses    uint64
	Evictions uint64
}
