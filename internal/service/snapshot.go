package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"saberstats/internal/api"
	"saberstats/internal/cache"
	"saberstats/internal/constants"
	"saberstats/internal/domain"
	"saberstats/internal/index"
	"saberstats/internal/progress"
	"saberstats/internal/rank"
	"saberstats/internal/repository"
	"saberstats/internal/snapshot"
	"saberstats/internal/stats"
)

// SnapshotService runs the snapshot pipeline for one player: warm the
// ranking caches, refresh the ranked-map catalogs, resolve the player's
// identities, refresh score histories and stats, derive AccSaber ranks and
// star-tier statistics, then persist the snapshot and record it in the
// catalog. Every stage is best effort except player resolution; a failed
// stage leaves its fields null.
type SnapshotService struct {
	store      *cache.Store
	index      *index.Index
	sync       *SyncService
	maps       *MapsService
	scores     *ScoresService
	scoresaber *api.ScoreSaberClient
	beatleader *api.BeatLeaderClient
	accsaber   *api.AccSaberClient
	snapshots  *snapshot.Store
	catalog    *repository.CatalogRepository
	logger     zerolog.Logger
}

func NewSnapshotService(
	store *cache.Store,
	idx *index.Index,
	syncSvc *SyncService,
	maps *MapsService,
	scores *ScoresService,
	ss *api.ScoreSaberClient,
	bl *api.BeatLeaderClient,
	acc *api.AccSaberClient,
	snapshots *snapshot.Store,
	catalog *repository.CatalogRepository,
	logger zerolog.Logger,
) *SnapshotService {
	return &SnapshotService{
		store:      store,
		index:      idx,
		sync:       syncSvc,
		maps:       maps,
		scores:     scores,
		scoresaber: ss,
		beatleader: bl,
		accsaber:   acc,
		snapshots:  snapshots,
		catalog:    catalog,
		logger:     logger,
	}
}

// Create assembles and persists a snapshot for steamID, reporting progress
// through onStep. It returns the snapshot and the path it was written to.
func (s *SnapshotService) Create(ctx context.Context, steamID string, onStep progress.Func) (*snapshot.Snapshot, string, error) {
	logger := s.logger.With().Str("steam_id", steamID).Logger()

	// Stage 1: ranking caches. Only run the full sync when one is missing.
	if !s.store.Has(scoreSaberRankingKey) || !s.store.Has(beatLeaderRankingKey) || !s.store.Has(accSaberRankingKey) {
		err := s.sync.EnsureGlobalRankCaches(ctx, steamID, "", func(message string, fraction float64) error {
			return progress.Step(onStep, 0.02*fraction, message)
		})
		if err != nil {
			if progress.Canceled(err) || ctx.Err() != nil {
				return nil, "", err
			}
			logger.Warn().Err(err).Msg("ranking cache preparation failed, continuing")
		}
	}

	// Stage 2: ranked-map catalogs.
	ssCatalog, err := s.maps.RefreshScoreSaber(ctx, catalogProgress(onStep, 0.02, 0.03, "ScoreSaber"))
	if err != nil {
		if progress.Canceled(err) || ctx.Err() != nil {
			return nil, "", err
		}
		logger.Warn().Err(err).Msg("scoresaber catalog refresh failed")
	}
	blCatalog, err := s.maps.RefreshBeatLeader(ctx, catalogProgress(onStep, 0.05, 0.03, "BeatLeader"))
	if err != nil {
		if progress.Canceled(err) || ctx.Err() != nil {
			return nil, "", err
		}
		logger.Warn().Err(err).Msg("beatleader catalog refresh failed")
	}

	// Stage 3: identity resolution, the one hard-failure point.
	if err := progress.Step(onStep, 0.08, "Loading player index..."); err != nil {
		return nil, "", err
	}
	entry, ok := s.index.Lookup(steamID)
	if !ok {
		if err := progress.Step(onStep, 0.10, "Fetching player from ScoreSaber / BeatLeader..."); err != nil {
			return nil, "", err
		}
		entry, err = s.index.ResolveOrFetch(ctx, steamID)
		if err != nil {
			return nil, "", err
		}
	}

	snap := &snapshot.Snapshot{
		TakenAt: time.Now().UTC().Truncate(time.Second).Format(time.RFC3339),
		SteamID: steamID,
	}

	// Stage 4: ScoreSaber state.
	var ssPlays map[string]domain.Play
	if entry.ScoreSaber != nil {
		p := entry.ScoreSaber
		snap.ScoreSaberID = &p.ID
		snap.ScoreSaberName = &p.Name
		snap.ScoreSaberCountry = &p.Country
		snap.ScoreSaberPP = &p.PP
		snap.ScoreSaberRankGlobal = &p.GlobalRank
		snap.ScoreSaberRankCountry = &p.CountryRank

		if err := progress.Step(onStep, 0.15, "Fetching ScoreSaber player scores (page 1/?)..."); err != nil {
			return nil, "", err
		}
		var ssStats *domain.PlayerStats
		if _, st, err := s.scoresaber.FetchPlayerFull(ctx, p.ID); err == nil {
			ssStats = st
		} else if progress.Canceled(err) || ctx.Err() != nil {
			return nil, "", err
		} else {
			logger.Warn().Err(err).Msg("scoresaber player stats fetch failed")
		}
		if ssStats != nil {
			snap.ScoreSaberAverageRankedAcc = ssStats.AverageRankedAcc
			snap.ScoreSaberTotalPlayCount = ssStats.TotalPlayCount
			snap.ScoreSaberRankedPlayCount = ssStats.RankedPlayCount
		}

		var total *int
		if ssStats != nil {
			total = ssStats.TotalPlayCount
		}
		ssPlays, err = s.scores.RefreshScoreSaber(ctx, p.ID, total, scoresProgress(onStep, 0.15, 0.05, "ScoreSaber"))
		if err != nil {
			if progress.Canceled(err) || ctx.Err() != nil {
				return nil, "", err
			}
			logger.Warn().Err(err).Msg("scoresaber score refresh failed")
		}
		if err := progress.Step(onStep, 0.20, "Fetching ScoreSaber player stats..."); err != nil {
			return nil, "", err
		}
	}

	// Stage 5: BeatLeader state. Fall back to a direct lookup with the
	// ScoreSaber ID when the index has no BeatLeader record.
	bl := entry.BeatLeader
	var blStats *domain.PlayerStats
	if bl == nil && entry.ScoreSaber != nil {
		lookupCtx, cancel := context.WithTimeout(ctx, constants.PlayerLookupTimeout)
		player, st, err := s.beatleader.FetchPlayer(lookupCtx, entry.ScoreSaber.ID)
		cancel()
		if err == nil {
			bl, blStats = player, st
		} else if progress.Canceled(err) || ctx.Err() != nil {
			return nil, "", err
		}
	}

	var blPlays map[string]domain.Play
	if bl != nil {
		snap.BeatLeaderID = &bl.ID
		snap.BeatLeaderName = &bl.Name
		snap.BeatLeaderCountry = &bl.Country
		snap.BeatLeaderPP = &bl.PP
		snap.BeatLeaderRankGlobal = &bl.GlobalRank
		snap.BeatLeaderRankCountry = &bl.CountryRank

		if err := progress.Step(onStep, 0.30, "Fetching BeatLeader player scores (page 1/?)..."); err != nil {
			return nil, "", err
		}
		if blStats == nil {
			if _, st, err := s.beatleader.FetchPlayer(ctx, bl.ID); err == nil {
				blStats = st
			} else if progress.Canceled(err) || ctx.Err() != nil {
				return nil, "", err
			} else {
				logger.Warn().Err(err).Msg("beatleader player stats fetch failed")
			}
		}
		if blStats != nil {
			snap.BeatLeaderAverageRankedAcc = blStats.AverageRankedAcc
			snap.BeatLeaderTotalPlayCount = blStats.TotalPlayCount
			snap.BeatLeaderRankedPlayCount = blStats.RankedPlayCount
		}

		var total *int
		if blStats != nil {
			total = blStats.TotalPlayCount
		}
		blPlays, err = s.scores.RefreshBeatLeader(ctx, bl.ID, total, scoresProgress(onStep, 0.30, 0.05, "BeatLeader"))
		if err != nil {
			if progress.Canceled(err) || ctx.Err() != nil {
				return nil, "", err
			}
			logger.Warn().Err(err).Msg("beatleader score refresh failed")
		}
		if err := progress.Step(onStep, 0.35, "Fetching BeatLeader player stats..."); err != nil {
			return nil, "", err
		}
	}

	// Stage 6: AccSaber ranks, APs and play counts.
	if err := s.fillAccSaber(ctx, snap, entry, onStep); err != nil {
		return nil, "", err
	}

	// Stage 7: star-tier statistics per service.
	if err := progress.Step(onStep, 0.70, "Collecting ScoreSaber star stats..."); err != nil {
		return nil, "", err
	}
	snap.StarStats = stats.StarTiers(ssCatalog, playsOf(ssPlays))
	if err := progress.Step(onStep, 0.80, "Collecting BeatLeader star stats..."); err != nil {
		return nil, "", err
	}
	snap.BeatLeaderStarStats = stats.StarTiers(blCatalog, playsOf(blPlays))

	// Stage 8: persist.
	if err := progress.Step(onStep, 0.90, "Saving snapshot..."); err != nil {
		return nil, "", err
	}
	path, err := s.snapshots.Save(snap)
	if err != nil {
		return nil, "", err
	}
	if s.catalog != nil {
		if err := s.catalog.Upsert(ctx, snap, path); err != nil {
			logger.Warn().Err(err).Msg("snapshot catalog update failed")
		}
	}

	if err := progress.Step(onStep, 1.0, fmt.Sprintf("Done: %s", snapshot.FileName(steamID, snap.Time()))); err != nil {
		return nil, "", err
	}
	return snap, path, nil
}

// fillAccSaber fills the snapshot's AccSaber fields: global ranks from the
// overall cache and the live category boards, country ranks recomputed from
// the cached pool, and the overall AP as the sum of category APs when any
// category has one.
func (s *SnapshotService) fillAccSaber(ctx context.Context, snap *snapshot.Snapshot, entry *index.Entry, onStep progress.Func) error {
	if err := progress.Step(onStep, 0.40, "Loading AccSaber overall cache..."); err != nil {
		return err
	}
	if entry.ScoreSaber == nil {
		return nil
	}
	scoresaberID := entry.ScoreSaber.ID

	accPlayers, _ := cache.LoadList[domain.AccSaberPlayer](s.store, accSaberRankingKey, legacyAccSaberKey)
	for _, p := range accPlayers {
		if p.ScoreSaberID != scoresaberID {
			continue
		}
		r, plays, ap := p.Rank, p.Plays, p.TotalAP
		snap.AccSaberOverallRank = &r
		snap.AccSaberOverallPlayCount = &plays
		snap.AccSaberOverallAP = &ap
		break
	}

	categories := []struct {
		name     string
		label    string
		fraction float64
		rank     **int
		plays    **int
		ap       **float64
	}{
		{api.AccSaberTrue, "True", 0.45, &snap.AccSaberTrueRank, &snap.AccSaberTruePlayCount, &snap.AccSaberTrueAP},
		{api.AccSaberStandard, "Standard", 0.50, &snap.AccSaberStandardRank, &snap.AccSaberStandardPlayCount, &snap.AccSaberStandardAP},
		{api.AccSaberTech, "Tech", 0.55, &snap.AccSaberTechRank, &snap.AccSaberTechPlayCount, &snap.AccSaberTechAP},
	}
	for _, cat := range categories {
		if err := progress.Step(onStep, cat.fraction, fmt.Sprintf("Fetching AccSaber %s leaderboard...", cat.label)); err != nil {
			return err
		}
		standing, err := s.findStanding(ctx, cat.name, scoresaberID)
		if err != nil {
			if progress.Canceled(err) || ctx.Err() != nil {
				return err
			}
			s.logger.Warn().Err(err).Str("category", cat.name).Msg("accsaber category lookup failed")
			continue
		}
		if standing != nil {
			r, plays, ap := standing.Rank, standing.Plays, standing.AP
			*cat.rank = &r
			*cat.plays = &plays
			*cat.ap = &ap
		}
	}

	// Country-scoped ranks over the cached pool. The pool's countries come
	// from the identity index, since AccSaber rows carry none.
	if err := progress.Step(onStep, 0.60, "Computing AccSaber country ranks..."); err != nil {
		return err
	}
	country := strings.ToUpper(entry.ScoreSaber.Country)
	if country != "" && len(accPlayers) > 0 {
		countryByID := map[string]string{}
		for _, e := range s.index.Entries() {
			if e.ScoreSaber != nil && e.ScoreSaber.ID != "" && e.ScoreSaber.Country != "" {
				countryByID[e.ScoreSaber.ID] = strings.ToUpper(e.ScoreSaber.Country)
			}
		}

		compute := func(metric func(domain.AccSaberPlayer) float64) *int {
			entries := make([]rank.Entry, 0, len(accPlayers))
			for _, p := range accPlayers {
				if p.ScoreSaberID == "" {
					continue
				}
				entries = append(entries, rank.Entry{
					ID:      p.ScoreSaberID,
					Country: countryByID[p.ScoreSaberID],
					Value:   metric(p),
					OK:      true,
				})
			}
			ranks := rank.Compute(entries, country, constants.AccSaberMinAPSkill)
			if r, ok := ranks[scoresaberID]; ok {
				return &r
			}
			return nil
		}

		snap.AccSaberOverallRankCountry = compute(func(p domain.AccSaberPlayer) float64 { return p.TotalAP })
		snap.AccSaberTrueRankCountry = compute(func(p domain.AccSaberPlayer) float64 { return p.TrueAP })
		snap.AccSaberStandardRankCountry = compute(func(p domain.AccSaberPlayer) float64 { return p.StandardAP })
		snap.AccSaberTechRankCountry = compute(func(p domain.AccSaberPlayer) float64 { return p.TechAP })
	}

	// Overall AP prefers the sum of category APs over the reported value.
	if snap.AccSaberTrueAP != nil || snap.AccSaberStandardAP != nil || snap.AccSaberTechAP != nil {
		sum := deref(snap.AccSaberTrueAP) + deref(snap.AccSaberStandardAP) + deref(snap.AccSaberTechAP)
		snap.AccSaberOverallAP = &sum
	}
	return nil
}

// findStanding walks one category board looking for a player, stopping once
// the board drops below the per-category AP floor.
func (s *SnapshotService) findStanding(ctx context.Context, category, scoresaberID string) (*api.AccSaberStanding, error) {
	for page := 1; page <= constants.MaxCrawlPages; page++ {
		standings, err := s.accsaber.FetchStandingsPage(ctx, category, page)
		if err != nil {
			return nil, err
		}
		if len(standings) == 0 {
			return nil, nil
		}
		for _, st := range standings {
			if st.ScoreSaberID == scoresaberID {
				found := st
				return &found, nil
			}
		}
		if standings[len(standings)-1].AP < constants.AccSaberMinAPSkill {
			return nil, nil
		}
	}
	return nil, nil
}

func catalogProgress(onStep progress.Func, base, span float64, serviceName string) progress.PageFunc {
	return func(page, total int) error {
		frac, pageText := phaseProgress(page, total)
		msg := fmt.Sprintf("Updating %s Ranked Maps (%d%%, page %s)...", serviceName, int(frac*100), pageText)
		return progress.Step(onStep, base+span*frac, msg)
	}
}

func scoresProgress(onStep progress.Func, base, span float64, serviceName string) progress.PageFunc {
	return func(page, total int) error {
		frac, pageText := phaseProgress(page, total)
		msg := fmt.Sprintf("Fetching %s player scores (page %s)...", serviceName, pageText)
		return progress.Step(onStep, base+span*frac, msg)
	}
}

// phaseProgress maps a page position to a fraction within one phase. While
// the page count is unknown the fraction stays pinned until the second page.
func phaseProgress(page, total int) (float64, string) {
	if total > 0 {
		frac := float64(page) / float64(total)
		if frac > 1 {
			frac = 1
		}
		return frac, fmt.Sprintf("%d/%d", page, total)
	}
	if page <= 1 {
		return 0, fmt.Sprintf("%d/?", page)
	}
	return 1, fmt.Sprintf("%d/?", page)
}

func playsOf(m map[string]domain.Play) []domain.Play {
	out := make([]domain.Play, 0, len(m))
	for _, p := range m {
		out = append(out, p)
	}
	return out
}

func deref(v *float64) float64 {
	if v == nil {
		return 0
	}
	return *v
}
