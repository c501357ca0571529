package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"saberstats/internal/api"
	"saberstats/internal/cache"
	"saberstats/internal/constants"
	"saberstats/internal/domain"
	"saberstats/internal/index"
	"saberstats/internal/progress"
)

const (
	accSaberRankingKey   = "accsaber_ranking"
	scoreSaberRankingKey = "scoresaber_ranking"
	beatLeaderRankingKey = "beatleader_ranking"

	// Filenames earlier releases wrote the same rankings under.
	legacyScoreSaberKey = "scoresaber_ALL"
	legacyAccSaberKey   = "accsaber_ALL"
)

// SyncService builds the global ranking caches and rebuilds the player
// identity index from them. With a target player the ScoreSaber and
// BeatLeader crawls are scoped to that player's country; without one the
// full global boards are crawled down to the pp/AP floors.
type SyncService struct {
	store      *cache.Store
	index      *index.Index
	scoresaber *api.ScoreSaberClient
	beatleader *api.BeatLeaderClient
	accsaber   *api.AccSaberClient
	logger     zerolog.Logger
}

func NewSyncService(store *cache.Store, idx *index.Index, ss *api.ScoreSaberClient, bl *api.BeatLeaderClient, acc *api.AccSaberClient, logger zerolog.Logger) *SyncService {
	return &SyncService{
		store:      store,
		index:      idx,
		scoresaber: ss,
		beatleader: bl,
		accsaber:   acc,
		logger:     logger,
	}
}

// EnsureGlobalRankCaches refreshes the three ranking caches and rebuilds the
// index. Without a target player it is a no-op when all three caches already
// exist. country, when non-empty, scopes the ScoreSaber and BeatLeader
// crawls directly instead of resolving the scope from the target player.
// Per-service failures degrade to whatever was cached; only cancellation
// aborts the run.
func (s *SyncService) EnsureGlobalRankCaches(ctx context.Context, steamID, country string, onStep progress.Func) error {
	if steamID == "" && country == "" &&
		s.store.Has(scoreSaberRankingKey) && s.store.Has(beatLeaderRankingKey) && s.store.Has(accSaberRankingKey) {
		s.logger.Debug().Msg("ranking caches present, skipping sync")
		return nil
	}

	skipAccSaber := false
	if steamID != "" && index.IsCanonicalID(steamID) {
		if exists, err := s.accsaber.PlayerExists(ctx, steamID); err == nil && !exists {
			s.logger.Info().Str("steam_id", steamID).Msg("player has no accsaber profile, skipping accsaber phase")
			skipAccSaber = true
		}
	}

	if !skipAccSaber {
		if err := s.syncAccSaber(ctx, onStep); err != nil {
			if progress.Canceled(err) || ctx.Err() != nil {
				return err
			}
			s.logger.Warn().Err(err).Msg("accsaber ranking sync failed, continuing")
			if err := progress.Step(onStep, 0.30, "Failed to fetch AccSaber ranking (continuing)..."); err != nil {
				return err
			}
		}
	}

	if country == "" {
		var err error
		country, err = s.resolveCountry(ctx, steamID)
		if err != nil {
			return err
		}
	} else {
		country = strings.ToUpper(country)
	}

	if err := s.syncScoreSaber(ctx, country, onStep); err != nil {
		if progress.Canceled(err) || ctx.Err() != nil {
			return err
		}
		s.logger.Warn().Err(err).Msg("scoresaber ranking sync failed, continuing")
		if err := progress.Step(onStep, 0.65, "Failed to fetch ScoreSaber rankings (continuing)..."); err != nil {
			return err
		}
	}

	if err := s.syncBeatLeader(ctx, country, onStep); err != nil {
		if progress.Canceled(err) || ctx.Err() != nil {
			return err
		}
		s.logger.Warn().Err(err).Msg("beatleader ranking sync failed, continuing")
		if err := progress.Step(onStep, 0.90, "Failed to fetch BeatLeader rankings (continuing)..."); err != nil {
			return err
		}
	}

	if err := progress.Step(onStep, 0.95, "Rebuilding player index..."); err != nil {
		return err
	}
	if err := s.RebuildIndex(); err != nil {
		s.logger.Warn().Err(err).Msg("player index rebuild failed")
		return progress.Step(onStep, 1.0, "Failed to rebuild player index.")
	}
	return progress.Step(onStep, 1.0, "Ranking caches ready.")
}

// RebuildIndex rebuilds the identity index from the ranking list caches.
func (s *SyncService) RebuildIndex() error {
	ssPlayers, _ := cache.LoadList[domain.ScoreSaberPlayer](s.store, scoreSaberRankingKey, legacyScoreSaberKey)
	blPlayers, _ := cache.LoadList[domain.BeatLeaderPlayer](s.store, beatLeaderRankingKey)
	return s.index.Rebuild(ssPlayers, blPlayers)
}

// syncAccSaber crawls the overall board down to the global AP floor, then
// walks each skill board to fill the per-category AP of the collected
// players, tracking the set still missing a value so each board stops as
// early as possible.
func (s *SyncService) syncAccSaber(ctx context.Context, onStep progress.Func) error {
	var players []domain.AccSaberPlayer

	for page := 1; page <= constants.MaxCrawlPages; page++ {
		frac := 0.30 * float64(page) / float64(constants.MaxCrawlPages)
		if err := progress.Step(onStep, frac, fmt.Sprintf("Fetching AccSaber overall ranking... (page %d)", page)); err != nil {
			return err
		}

		standings, err := s.accsaber.FetchStandingsPage(ctx, api.AccSaberOverall, page)
		if err != nil {
			return err
		}
		if len(standings) == 0 {
			break
		}

		for _, st := range standings {
			if st.AP < constants.AccSaberMinAPGlobal {
				continue
			}
			p := domain.AccSaberPlayer{
				Rank:         st.Rank,
				Name:         st.Name,
				TotalAP:      st.AP,
				Plays:        st.Plays,
				ScoreSaberID: st.ScoreSaberID,
			}
			if st.AverageAcc != nil {
				p.AverageAcc = *st.AverageAcc
			}
			players = append(players, p)
		}
		if standings[len(standings)-1].AP < constants.AccSaberMinAPGlobal {
			break
		}
	}

	byID := make(map[string]*domain.AccSaberPlayer, len(players))
	for i := range players {
		if players[i].ScoreSaberID != "" {
			byID[players[i].ScoreSaberID] = &players[i]
		}
	}

	categories := []struct {
		name  string
		label string
		set   func(*domain.AccSaberPlayer, float64)
	}{
		{api.AccSaberTrue, "True", func(p *domain.AccSaberPlayer, ap float64) { p.TrueAP = ap }},
		{api.AccSaberStandard, "Standard", func(p *domain.AccSaberPlayer, ap float64) { p.StandardAP = ap }},
		{api.AccSaberTech, "Tech", func(p *domain.AccSaberPlayer, ap float64) { p.TechAP = ap }},
	}
	for _, cat := range categories {
		if err := s.enrichSkill(ctx, cat.name, cat.label, byID, cat.set, onStep); err != nil {
			if progress.Canceled(err) || ctx.Err() != nil {
				return err
			}
			// Overall data stays usable without this category.
			s.logger.Warn().Err(err).Str("category", cat.name).Msg("skill AP enrichment failed")
		}
	}

	return cache.SaveList(s.store, accSaberRankingKey, players)
}

func (s *SyncService) enrichSkill(ctx context.Context, category, label string, byID map[string]*domain.AccSaberPlayer, set func(*domain.AccSaberPlayer, float64), onStep progress.Func) error {
	if len(byID) == 0 {
		return nil
	}

	remaining := make(map[string]struct{}, len(byID))
	for id := range byID {
		remaining[id] = struct{}{}
	}

	for page := 1; page <= constants.MaxCrawlPages && len(remaining) > 0; page++ {
		if err := progress.Step(onStep, 0.15, fmt.Sprintf("Fetching AccSaber %s AP... (page %d)", label, page)); err != nil {
			return err
		}

		standings, err := s.accsaber.FetchStandingsPage(ctx, category, page)
		if err != nil {
			return err
		}
		if len(standings) == 0 {
			break
		}

		for _, st := range standings {
			if st.ScoreSaberID == "" || st.AP < constants.AccSaberMinAPSkill {
				continue
			}
			if _, waiting := remaining[st.ScoreSaberID]; !waiting {
				continue
			}
			set(byID[st.ScoreSaberID], st.AP)
			delete(remaining, st.ScoreSaberID)
		}
		if standings[len(standings)-1].AP < constants.AccSaberMinAPSkill {
			break
		}
	}
	return nil
}

// resolveCountry finds the target player's country: index first, then a
// direct ScoreSaber lookup, then BeatLeader. Empty when there is no target
// or no service knows a country.
func (s *SyncService) resolveCountry(ctx context.Context, steamID string) (string, error) {
	if steamID == "" {
		return "", nil
	}

	if e, ok := s.index.Lookup(steamID); ok {
		if e.ScoreSaber != nil && e.ScoreSaber.Country != "" {
			return strings.ToUpper(e.ScoreSaber.Country), nil
		}
		if e.BeatLeader != nil && e.BeatLeader.Country != "" {
			return strings.ToUpper(e.BeatLeader.Country), nil
		}
	}

	if !index.IsCanonicalID(steamID) {
		return "", nil
	}

	if player, _, err := s.scoresaber.FetchPlayerFull(ctx, steamID); err == nil && player.Country != "" {
		return strings.ToUpper(player.Country), nil
	} else if progress.Canceled(err) || ctx.Err() != nil {
		return "", err
	}

	lookupCtx, cancel := context.WithTimeout(ctx, constants.PlayerLookupTimeout)
	defer cancel()
	if player, _, err := s.beatleader.FetchPlayer(lookupCtx, steamID); err == nil && player.Country != "" {
		return strings.ToUpper(player.Country), nil
	}
	if ctx.Err() != nil {
		return "", ctx.Err()
	}
	return "", nil
}

// syncScoreSaber crawls the pp ranking, scoped server-side to country when
// set, keeping players at or above the global floor.
func (s *SyncService) syncScoreSaber(ctx context.Context, country string, onStep progress.Func) error {
	label := country
	if label == "" {
		label = "ALL"
	}

	var players []domain.ScoreSaberPlayer
	for page := 1; page <= constants.MaxCrawlPages; page++ {
		frac := 0.30 + 0.35*float64(page)/float64(constants.MaxCrawlPages)
		if err := progress.Step(onStep, frac, fmt.Sprintf("Fetching ScoreSaber rankings (%s)... (page %d)", label, page)); err != nil {
			return err
		}

		pagePlayers, err := s.scoresaber.FetchPlayers(ctx, country, page)
		if err != nil {
			return err
		}
		if len(pagePlayers) == 0 {
			break
		}

		for _, p := range pagePlayers {
			if country != "" && !strings.EqualFold(p.Country, country) {
				continue
			}
			if p.PP >= constants.ScoreSaberMinPPGlobal {
				players = append(players, p)
			}
		}
		if pagePlayers[len(pagePlayers)-1].PP < constants.ScoreSaberMinPPGlobal {
			break
		}
	}

	return cache.SaveList(s.store, scoreSaberRankingKey, players)
}

// syncBeatLeader crawls the global pp ranking with bounded concurrent page
// prefetch. Batches are reassembled in page order before the descending-pp
// early-termination check, and the country scope is applied client-side.
func (s *SyncService) syncBeatLeader(ctx context.Context, country string, onStep progress.Func) error {
	var players []domain.BeatLeaderPlayer
	page := 1

	for page <= constants.MaxCrawlPages {
		batch := constants.PageFetchConcurrency
		if page+batch-1 > constants.MaxCrawlPages {
			batch = constants.MaxCrawlPages - page + 1
		}

		results := make([][]domain.BeatLeaderPlayer, batch)
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(constants.PageFetchConcurrency)
		for i := 0; i < batch; i++ {
			i := i
			p := page + i
			g.Go(func() error {
				pagePlayers, err := s.beatleader.FetchPlayers(gctx, "", p)
				if err != nil {
					return err
				}
				results[i] = pagePlayers
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}

		done := false
		for i, pagePlayers := range results {
			if len(pagePlayers) == 0 {
				done = true
				break
			}

			frac := 0.65 + 0.25*float64(page+i)/float64(constants.MaxCrawlPages)
			if err := progress.Step(onStep, frac, fmt.Sprintf("Fetching BeatLeader rankings... (page %d)", page+i)); err != nil {
				return err
			}

			for _, p := range pagePlayers {
				if country != "" && !strings.EqualFold(p.Country, country) {
					continue
				}
				if p.PP >= constants.BeatLeaderMinPPGlobal {
					players = append(players, p)
				}
			}
			if pagePlayers[len(pagePlayers)-1].PP < constants.BeatLeaderMinPPGlobal {
				done = true
				break
			}
			if len(pagePlayers) < constants.BeatLeaderPageSize {
				done = true
				break
			}
		}
		if done {
			break
		}
		page += batch
	}

	return cache.SaveList(s.store, beatLeaderRankingKey, players)
}
