// Package stats cross-references a service's ranked-chart catalog against a
// player's play history and buckets the results by star tier.
package stats

import (
	"math"
	"sort"

	"saberstats/internal/domain"
)

type chartState struct {
	tier    int
	clear   bool
	noFail  bool
	slow    bool
	bestAcc *float64
}

// StarTiers computes per-tier clear statistics. Every ranked, non-deleted
// chart in the catalog contributes to its tier's map count; each played
// chart contributes to exactly one of clear, no-fail or slow-song. Plays on
// charts missing from the catalog cannot be attributed to a tier and are
// dropped. Tiers come back in ascending order.
func StarTiers(catalog []domain.RankedMap, plays []domain.Play) []domain.StarClearStat {
	tierOf := make(map[string]int, len(catalog))
	mapCount := map[int]int{}
	for _, m := range catalog {
		if !m.Ranked || m.Deleted {
			continue
		}
		if _, dup := tierOf[m.LeaderboardID]; dup {
			continue
		}
		tier := tierForStars(m.Stars)
		tierOf[m.LeaderboardID] = tier
		mapCount[tier]++
	}

	states := map[string]*chartState{}
	for _, p := range plays {
		tier, known := tierOf[p.LeaderboardID]
		if !known {
			continue
		}
		st, ok := states[p.LeaderboardID]
		if !ok {
			st = &chartState{tier: tier}
			states[p.LeaderboardID] = st
		}
		mergePlay(st, p)
	}

	type tierAgg struct {
		clears int
		nf     int
		ss     int
		accSum float64
		accN   int
	}
	aggs := map[int]*tierAgg{}
	agg := func(tier int) *tierAgg {
		a, ok := aggs[tier]
		if !ok {
			a = &tierAgg{}
			aggs[tier] = a
		}
		return a
	}
	for _, st := range states {
		a := agg(st.tier)
		switch {
		case st.clear:
			a.clears++
			if st.bestAcc != nil {
				a.accSum += *st.bestAcc
				a.accN++
			}
		case st.noFail:
			a.nf++
		case st.slow:
			a.ss++
		}
	}

	tiers := make([]int, 0, len(mapCount))
	for tier := range mapCount {
		tiers = append(tiers, tier)
	}
	sort.Ints(tiers)

	out := make([]domain.StarClearStat, 0, len(tiers))
	for _, tier := range tiers {
		stat := domain.StarClearStat{
			Star:     tier,
			MapCount: mapCount[tier],
		}
		if a, ok := aggs[tier]; ok {
			stat.ClearCount = a.clears
			stat.NFCount = a.nf
			stat.SSCount = a.ss
			if a.accN > 0 {
				avg := a.accSum / float64(a.accN)
				stat.AverageAcc = &avg
			}
		}
		if stat.MapCount > 0 {
			stat.ClearRate = float64(stat.ClearCount) / float64(stat.MapCount)
		}
		out = append(out, stat)
	}
	return out
}

// mergePlay folds one play into a chart's state. A genuine clear wins over
// modifier-only plays; best accuracy is kept across all of a chart's plays.
func mergePlay(st *chartState, p domain.Play) {
	switch {
	case !p.NoFail && !p.SlowSong:
		st.clear = true
	case p.NoFail:
		st.noFail = true
	default:
		st.slow = true
	}
	if p.Accuracy != nil && (st.bestAcc == nil || *p.Accuracy > *st.bestAcc) {
		st.bestAcc = p.Accuracy
	}
}

// tierForStars buckets a star rating to its integer tier, clamped at zero.
func tierForStars(stars float64) int {
	tier := int(math.Floor(stars))
	if tier < 0 {
		tier = 0
	}
	return tier
}
