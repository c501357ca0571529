// Package rank derives 1-based rankings from player pools. Ranks computed
// here are local views over cached data and live alongside, never inside,
// the service-reported rank fields.
package rank

import (
	"sort"
	"strings"
)

// Entry is one candidate for ranking. Value is the metric being ranked on;
// OK marks whether the player has that metric at all (a player without it is
// unranked, not ranked last).
type Entry struct {
	ID      string
	Country string
	Value   float64
	OK      bool
}

// Compute filters entries to those at or above minThreshold (and, when
// country is non-empty, to that country), sorts descending by value and
// assigns ranks 1..N. Ties break by input order: of two equal values the
// earlier entry gets the lower rank. Filtered-out players get no map entry.
func Compute(entries []Entry, country string, minThreshold float64) map[string]int {
	pool := make([]Entry, 0, len(entries))
	seen := make(map[string]struct{}, len(entries))
	for _, e := range entries {
		if !e.OK || e.ID == "" || e.Value < minThreshold {
			continue
		}
		if country != "" && !strings.EqualFold(e.Country, country) {
			continue
		}
		if _, dup := seen[e.ID]; dup {
			continue
		}
		seen[e.ID] = struct{}{}
		pool = append(pool, e)
	}

	sort.SliceStable(pool, func(i, j int) bool {
		return pool[i].Value > pool[j].Value
	})

	ranks := make(map[string]int, len(pool))
	for i, e := range pool {
		ranks[e.ID] = i + 1
	}
	return ranks
}
