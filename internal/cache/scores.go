package cache

import (
	"time"

	"saberstats/internal/domain"
)

// ScoreCache is one player's score history for one service, keyed by
// leaderboard ID so incremental refreshes can merge new plays over old ones.
type ScoreCache struct {
	FetchedAt      time.Time              `json:"fetched_at"`
	TotalPlayCount *int                   `json:"total_play_count,omitempty"`
	Scores         map[string]domain.Play `json:"scores"`
}

// ScoreMeta is the cheap metadata view of a score cache, read without
// decoding the score map's entries into anything the caller keeps.
type ScoreMeta struct {
	FetchedAt      time.Time
	TotalPlayCount *int
}

// LoadScores returns a player's cached score history, or false on a miss.
func (s *Store) LoadScores(key string) (*ScoreCache, bool) {
	var cached ScoreCache
	if !s.readJSON(key, &cached) {
		return nil, false
	}
	if cached.Scores == nil {
		return nil, false
	}
	return &cached, true
}

// SaveScores replaces a player's score cache.
func (s *Store) SaveScores(key string, cached *ScoreCache) error {
	if cached.Scores == nil {
		cached.Scores = map[string]domain.Play{}
	}
	return s.writeJSON(key, cached)
}

// ScoreMetaOf reports when a score cache was fetched and the play count it
// recorded, without the caller holding the full score map.
func (s *Store) ScoreMetaOf(key string) (*ScoreMeta, bool) {
	var meta struct {
		FetchedAt      time.Time `json:"fetched_at"`
		TotalPlayCount *int      `json:"total_play_count"`
	}
	if !s.readJSON(key, &meta) {
		return nil, false
	}
	if meta.FetchedAt.IsZero() {
		return nil, false
	}
	return &ScoreMeta{FetchedAt: meta.FetchedAt, TotalPlayCount: meta.TotalPlayCount}, true
}
