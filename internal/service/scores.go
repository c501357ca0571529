package service

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"saberstats/internal/api"
	"saberstats/internal/cache"
	"saberstats/internal/constants"
	"saberstats/internal/domain"
	"saberstats/internal/progress"
)

// ScoresService maintains per-player score-history caches. Histories are
// prepend-stable (new plays arrive at the front of the recent-sorted
// listing), so a warm cache only refetches pages until it sees a page whose
// newest play predates the cached fetch time.
type ScoresService struct {
	store      *cache.Store
	scoresaber *api.ScoreSaberClient
	beatleader *api.BeatLeaderClient
	logger     zerolog.Logger
}

func NewScoresService(store *cache.Store, ss *api.ScoreSaberClient, bl *api.BeatLeaderClient, logger zerolog.Logger) *ScoresService {
	return &ScoresService{store: store, scoresaber: ss, beatleader: bl, logger: logger}
}

type scoresFetcher func(ctx context.Context, playerID string, page int) (*api.RawPage, []domain.Play, error)

// RefreshScoreSaber returns a player's ScoreSaber plays keyed by leaderboard
// ID, updating the on-disk cache incrementally.
func (s *ScoresService) RefreshScoreSaber(ctx context.Context, playerID string, totalPlayCount *int, onPage progress.PageFunc) (map[string]domain.Play, error) {
	key := fmt.Sprintf("scoresaber_player_scores_%s", playerID)
	return s.refresh(ctx, key, playerID, constants.ScoreSaberScoresPageSize, s.scoresaber.FetchScoresPage, totalPlayCount, onPage)
}

// RefreshBeatLeader is RefreshScoreSaber's BeatLeader counterpart.
func (s *ScoresService) RefreshBeatLeader(ctx context.Context, playerID string, totalPlayCount *int, onPage progress.PageFunc) (map[string]domain.Play, error) {
	key := fmt.Sprintf("beatleader_player_scores_%s", playerID)
	return s.refresh(ctx, key, playerID, constants.BeatLeaderScoresPageSize, s.beatleader.FetchScoresPage, totalPlayCount, onPage)
}

// Meta surfaces a score cache's fetch time and recorded play count for one
// player and service without loading the play map.
func (s *ScoresService) Meta(serviceName, playerID string) (*cache.ScoreMeta, bool) {
	return s.store.ScoreMetaOf(fmt.Sprintf("%s_player_scores_%s", serviceName, playerID))
}

func (s *ScoresService) refresh(ctx context.Context, key, playerID string, pageSize int, fetch scoresFetcher, totalPlayCount *int, onPage progress.PageFunc) (map[string]domain.Play, error) {
	// An unchanged service-reported play count means no new plays at all.
	if meta, ok := s.store.ScoreMetaOf(key); ok &&
		totalPlayCount != nil && meta.TotalPlayCount != nil && *totalPlayCount == *meta.TotalPlayCount {
		if cached, ok := s.store.LoadScores(key); ok {
			s.logger.Debug().Str("key", key).Int("plays", *totalPlayCount).Msg("play count unchanged, using cached scores")
			if err := progress.Page(onPage, 1, 1); err != nil {
				return nil, err
			}
			return cached.Scores, nil
		}
	}

	scores := map[string]domain.Play{}
	var since time.Time

	if cached, ok := s.store.LoadScores(key); ok {
		scores = cached.Scores
		since = cached.FetchedAt
	}

	totalPages := 0
	fetched := false

	for page := 1; page <= constants.MaxCrawlPages; page++ {
		raw, plays, err := fetch(ctx, playerID, page)
		if err != nil {
			if progress.Canceled(err) || ctx.Err() != nil {
				return nil, err
			}
			s.logger.Warn().Err(err).Str("key", key).Int("page", page).Msg("score page fetch failed, stopping")
			break
		}
		if raw == nil || raw.Count == 0 {
			break
		}
		fetched = true

		for _, p := range plays {
			merged := p
			if prev, ok := scores[p.LeaderboardID]; ok {
				merged = mergePlays(prev, p)
			}
			scores[p.LeaderboardID] = merged
		}

		if totalPages == 0 && raw.Total > 0 {
			totalPages = (raw.Total + pageSize - 1) / pageSize
		}
		if err := progress.Page(onPage, page, totalPages); err != nil {
			return nil, err
		}

		// Pages are newest first; once a page's newest play is older than
		// the cached fetch time, everything further back is already cached.
		if !since.IsZero() && len(plays) > 0 && !plays[0].Set.After(since) {
			break
		}
		if raw.Count < pageSize {
			break
		}
	}

	if fetched {
		cached := &cache.ScoreCache{
			FetchedAt:      time.Now().UTC(),
			TotalPlayCount: totalPlayCount,
			Scores:         scores,
		}
		if err := s.store.SaveScores(key, cached); err != nil {
			s.logger.Warn().Err(err).Str("key", key).Msg("score cache write failed")
		}
	}
	return scores, nil
}

// mergePlays folds a newly fetched play over a cached one for the same
// chart: the newer play's modifiers win, the better accuracy is kept.
func mergePlays(prev, next domain.Play) domain.Play {
	out := next
	if prev.Set.After(next.Set) {
		out = prev
	}
	if prev.Accuracy != nil && (out.Accuracy == nil || *prev.Accuracy > *out.Accuracy) {
		out.Accuracy = prev.Accuracy
	}
	if next.Accuracy != nil && (out.Accuracy == nil || *next.Accuracy > *out.Accuracy) {
		out.Accuracy = next.Accuracy
	}
	return out
}
