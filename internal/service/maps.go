// Package service holds the orchestration layer: ranking-cache sync, ranked
// map catalog refresh, player score refresh and snapshot assembly. Services
// degrade to cached or partial data on fetch failures; only cancellation and
// total player-resolution failure propagate.
package service

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"saberstats/internal/api"
	"saberstats/internal/cache"
	"saberstats/internal/constants"
	"saberstats/internal/domain"
	"saberstats/internal/progress"
)

const (
	scoreSaberMapsKey = "scoresaber_ranked_maps"
	beatLeaderMapsKey = "beatleader_ranked_maps"
)

// MapsService maintains the per-service ranked-chart catalogs. Catalogs are
// ordered by difficulty descending, which may reshuffle when charts change
// rank status, so a grown total triggers a full refetch rather than a tail
// fetch.
type MapsService struct {
	store      *cache.Store
	scoresaber *api.ScoreSaberClient
	beatleader *api.BeatLeaderClient
	logger     zerolog.Logger
}

func NewMapsService(store *cache.Store, ss *api.ScoreSaberClient, bl *api.BeatLeaderClient, logger zerolog.Logger) *MapsService {
	return &MapsService{store: store, scoresaber: ss, beatleader: bl, logger: logger}
}

type catalogParser func(body []byte) ([]domain.RankedMap, api.PageMetadata, int, error)

type catalogFetcher func(ctx context.Context, page int) (*api.RawPage, []domain.RankedMap, error)

// RefreshScoreSaber returns the ScoreSaber ranked catalog, refetching only
// when the service reports more charts than the cache holds.
func (s *MapsService) RefreshScoreSaber(ctx context.Context, onPage progress.PageFunc) ([]domain.RankedMap, error) {
	return s.refresh(ctx, scoreSaberMapsKey, constants.ScoreSaberLeaderboardPageSize,
		s.scoresaber.FetchLeaderboardsPage, api.ParseScoreSaberLeaderboards, onPage)
}

// RefreshBeatLeader is RefreshScoreSaber's BeatLeader counterpart.
func (s *MapsService) RefreshBeatLeader(ctx context.Context, onPage progress.PageFunc) ([]domain.RankedMap, error) {
	return s.refresh(ctx, beatLeaderMapsKey, constants.BeatLeaderPageSize,
		s.beatleader.FetchLeaderboardsPage, api.ParseBeatLeaderLeaderboards, onPage)
}

func (s *MapsService) refresh(ctx context.Context, key string, pageSize int, fetch catalogFetcher, parse catalogParser, onPage progress.PageFunc) ([]domain.RankedMap, error) {
	cached, ok := s.store.LoadPages(key)
	if !ok {
		return s.crawl(ctx, key, pageSize, fetch, nil, nil, onPage)
	}

	maps, cachedTotal := parseCachedCatalog(cached, parse)

	// One metadata round-trip decides whether the cache still covers the
	// full catalog.
	first, firstMaps, err := fetch(ctx, 1)
	if err != nil || first == nil {
		if progress.Canceled(err) || ctx.Err() != nil {
			return nil, err
		}
		s.logger.Warn().Err(err).Str("key", key).Msg("catalog metadata check failed, using cache")
		if err := progress.Page(onPage, 1, 1); err != nil {
			return nil, err
		}
		return maps, nil
	}
	if first.Total <= cachedTotal {
		s.logger.Debug().Str("key", key).Int("total", cachedTotal).Msg("catalog cache up to date")
		if err := progress.Page(onPage, 1, 1); err != nil {
			return nil, err
		}
		return maps, nil
	}

	s.logger.Info().Str("key", key).Int("cached", cachedTotal).Int("reported", first.Total).
		Msg("catalog grew, refetching")
	return s.crawl(ctx, key, pageSize, fetch, first, firstMaps, onPage)
}

// crawl fetches the whole catalog page by page. first, when non-nil, is an
// already fetched page 1 reused from the metadata check.
func (s *MapsService) crawl(ctx context.Context, key string, pageSize int, fetch catalogFetcher, first *api.RawPage, firstMaps []domain.RankedMap, onPage progress.PageFunc) ([]domain.RankedMap, error) {
	var pages []cache.Page
	var maps []domain.RankedMap
	totalPages := 0

	for page := 1; page <= constants.MaxCrawlPages; page++ {
		raw, pageMaps := first, firstMaps
		if page > 1 || first == nil {
			var err error
			raw, pageMaps, err = fetch(ctx, page)
			if err != nil {
				if progress.Canceled(err) || ctx.Err() != nil {
					return nil, err
				}
				s.logger.Warn().Err(err).Str("key", key).Int("page", page).Msg("catalog page fetch failed, stopping")
				break
			}
		}
		if raw == nil || raw.Count == 0 {
			break
		}

		pages = append(pages, cache.Page{Page: raw.Page, Params: raw.Params, Data: raw.Data})
		maps = append(maps, pageMaps...)

		if totalPages == 0 && raw.Total > 0 {
			totalPages = (raw.Total + pageSize - 1) / pageSize
		}
		if err := progress.Page(onPage, page, totalPages); err != nil {
			return nil, err
		}
		if raw.Count < pageSize {
			break
		}
	}

	if len(pages) > 0 {
		if err := s.store.SavePages(key, &cache.PagedCache{FetchedAt: time.Now().UTC(), Pages: pages}); err != nil {
			s.logger.Warn().Err(err).Str("key", key).Msg("catalog cache write failed")
		}
	}
	return maps, nil
}

func parseCachedCatalog(cached *cache.PagedCache, parse catalogParser) ([]domain.RankedMap, int) {
	var maps []domain.RankedMap
	total := 0
	for i, p := range cached.Pages {
		pageMaps, meta, _, err := parse(p.Data)
		if err != nil {
			continue
		}
		maps = append(maps, pageMaps...)
		if i == 0 && meta.Total > 0 {
			total = meta.Total
		}
	}
	if total == 0 {
		total = len(maps)
	}
	return maps, total
}
