package service

import (
	"sort"

	"github.com/faithlink/presence-service/internal/model"
)

// Aggregator derives cheap read models from registry snapshots. It never
// holds the registry lock across a computation: the live set is tens to low
// hundreds of sessions, so recomputing from a copy beats incremental state.
type Aggregator struct {
	registry *PresenceRegistry
	topN     int
}

// NewAggregator creates the aggregator. topN bounds the overview's top list.
func NewAggregator(registry *PresenceRegistry, topN int) *Aggregator {
	if topN <= 0 {
		topN = 10
	}
	return &Aggregator{registry: registry, topN: topN}
}

// LiveSessions returns the live set plus the distinct-church count.
func (a *Aggregator) LiveSessions() model.LiveSessionsResponse {
	snap := a.registry.Snapshot()
	return model.LiveSessionsResponse{
		Sessions:             snap,
		TotalChurchesPraying: distinctChurches(snap),
	}
}

// Overview returns the dashboard read model: totals and top sessions by
// viewer count.
func (a *Aggregator) Overview() model.PresenceOverview {
	snap := a.registry.Snapshot()
	totalViewers := 0
	for i := range snap {
		totalViewers += snap[i].ViewerCount
	}
	sort.Slice(snap, func(i, j int) bool {
		if snap[i].ViewerCount != snap[j].ViewerCount {
			return snap[i].ViewerCount > snap[j].ViewerCount
		}
		return snap[i].StartedAt.Before(snap[j].StartedAt)
	})
	top := snap
	if len(top) > a.topN {
		top = top[:a.topN]
	}
	return model.PresenceOverview{
		TotalChurchesPraying: distinctChurches(snap),
		TotalLiveSessions:    len(snap),
		TotalViewers:         totalViewers,
		TopSessions:          top,
	}
}

func distinctChurches(sessions []model.PrayerSession) int {
	seen := make(map[string]struct{}, len(sessions))
	for i := range sessions {
		seen[sessions[i].ChurchID] = struct{}{}
	}
	return len(seen)
}
