package service

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"saberstats/internal/api"
	"saberstats/internal/cache"
	"saberstats/internal/domain"
	"saberstats/internal/index"
	"saberstats/internal/progress"
	"saberstats/internal/snapshot"
)

const testSteamID = "76561198000000042"

// seedWarmCaches fills the store with ranking caches, catalog caches and an
// index entry so a snapshot run only needs the per-player endpoints.
func seedWarmCaches(t *testing.T, store *cache.Store, idx *index.Index) {
	t.Helper()

	require.NoError(t, cache.SaveList(store, "scoresaber_ranking", []domain.ScoreSaberPlayer{
		{ID: testSteamID, Name: "alice", Country: "DE", PP: 5200, GlobalRank: 40, CountryRank: 3},
	}))
	require.NoError(t, cache.SaveList(store, "beatleader_ranking", []domain.BeatLeaderPlayer{
		{ID: testSteamID, Name: "alice", Country: "DE", PP: 6100, GlobalRank: 35, CountryRank: 2},
	}))
	require.NoError(t, cache.SaveList(store, "accsaber_ranking", []domain.AccSaberPlayer{
		{Rank: 7, Name: "alice", TotalAP: 12000, Plays: 420, ScoreSaberID: testSteamID,
			TrueAP: 5000, StandardAP: 4100, TechAP: 3200},
	}))

	now := time.Now().UTC()
	require.NoError(t, store.SavePages("scoresaber_ranked_maps", &cache.PagedCache{
		FetchedAt: now,
		Pages:     []cache.Page{{Page: 1, Data: []byte(ssCatalogBody(2, 1, 0, 2))}},
	}))
	require.NoError(t, store.SavePages("beatleader_ranked_maps", &cache.PagedCache{
		FetchedAt: now,
		Pages:     []cache.Page{{Page: 1, Data: []byte(blCatalogBody(2, 1, 0, 2))}},
	}))

	require.NoError(t, idx.Rebuild(
		[]domain.ScoreSaberPlayer{{ID: testSteamID, Name: "alice", Country: "DE", PP: 5200, GlobalRank: 40, CountryRank: 3}},
		[]domain.BeatLeaderPlayer{{ID: testSteamID, Name: "alice", Country: "DE", PP: 6100, GlobalRank: 35, CountryRank: 2}},
	))
}

// snapshotHandler mocks all three services behind path prefixes.
func snapshotHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/ss/leaderboards":
			w.Write([]byte(ssCatalogBody(2, 1, 0, 2)))
		case r.URL.Path == "/bl/leaderboards":
			w.Write([]byte(blCatalogBody(2, 1, 0, 2)))
		case r.URL.Path == "/ss/player/"+testSteamID+"/full":
			w.Write([]byte(`{"id":"` + testSteamID + `","name":"alice","country":"DE","pp":5200,"rank":40,"countryRank":3,
				"scoreStats":{"averageRankedAccuracy":94.2,"totalPlayCount":900,"rankedPlayCount":500}}`))
		case r.URL.Path == "/ss/player/"+testSteamID+"/scores":
			w.Write([]byte(`{"playerScores":[
				{"score":{"accuracy":95.0,"modifiers":"","timeSet":"2026-01-05T00:00:00Z"},"leaderboard":{"id":1}},
				{"score":{"modifiers":"NF","timeSet":"2026-01-06T00:00:00Z"},"leaderboard":{"id":2}}
			],"metadata":{"total":2,"page":1,"itemsPerPage":100}}`))
		case r.URL.Path == "/bl/player/"+testSteamID+"/scores":
			w.Write([]byte(`{"data":[
				{"accuracy":0.915,"modifiers":"","timepost":1767312000,"leaderboard":{"id":"bl1"}}
			],"metadata":{"total":1,"page":1,"itemsPerPage":50}}`))
		case r.URL.Path == "/bl/player/"+testSteamID:
			w.Write([]byte(`{"id":"` + testSteamID + `","name":"alice","country":"DE","pp":6100,"rank":35,"countryRank":2,
				"scoreStats":{"averageRankedAccuracy":0.928,"totalPlayCount":700,"rankedPlayCount":400}}`))
		case strings.HasPrefix(r.URL.Path, "/acc/categories/true/"):
			w.Write([]byte(`[{"rank":4,"playerName":"alice","ap":5000,"rankedPlays":150,"playerId":"` + testSteamID + `"},
				{"rank":5,"playerName":"zed","ap":2500,"rankedPlays":90,"playerId":"76561198000000077"}]`))
		case strings.HasPrefix(r.URL.Path, "/acc/categories/standard/"):
			w.Write([]byte(`[{"rank":6,"playerName":"alice","ap":4100,"rankedPlays":140,"playerId":"` + testSteamID + `"},
				{"rank":7,"playerName":"zed","ap":2400,"rankedPlays":80,"playerId":"76561198000000077"}]`))
		case strings.HasPrefix(r.URL.Path, "/acc/categories/tech/"):
			w.Write([]byte(`[{"rank":8,"playerName":"alice","ap":3200,"rankedPlays":130,"playerId":"` + testSteamID + `"},
				{"rank":9,"playerName":"zed","ap":2300,"rankedPlays":70,"playerId":"76561198000000077"}]`))
		default:
			http.NotFound(w, r)
		}
	})
}

func newSnapshotService(t *testing.T, baseURL string) (*SnapshotService, *cache.Store, *snapshot.Store) {
	t.Helper()

	store := testStore(t)
	client := api.NewClient(zerolog.Nop())
	ss := api.NewScoreSaberClient(client, zerolog.Nop())
	ss.BaseURL = baseURL + "/ss"
	bl := api.NewBeatLeaderClient(client, zerolog.Nop())
	bl.BaseURL = baseURL + "/bl"
	acc := api.NewAccSaberClient(client, zerolog.Nop())
	acc.BaseURL = baseURL + "/acc"

	idx := index.New(store, ss, bl, zerolog.Nop())
	seedWarmCaches(t, store, idx)

	snapStore, err := snapshot.NewStore(t.TempDir(), zerolog.Nop())
	require.NoError(t, err)

	syncSvc := NewSyncService(store, idx, ss, bl, acc, zerolog.Nop())
	mapsSvc := NewMapsService(store, ss, bl, zerolog.Nop())
	scoresSvc := NewScoresService(store, ss, bl, zerolog.Nop())
	svc := NewSnapshotService(store, idx, syncSvc, mapsSvc, scoresSvc, ss, bl, acc, snapStore, nil, zerolog.Nop())
	return svc, store, snapStore
}

func TestSnapshotCreate(t *testing.T) {
	srv := httptest.NewServer(snapshotHandler())
	defer srv.Close()

	svc, _, snapStore := newSnapshotService(t, srv.URL)

	var fractions []float64
	snap, path, err := svc.Create(context.Background(), testSteamID, func(message string, fraction float64) error {
		fractions = append(fractions, fraction)
		return nil
	})
	require.NoError(t, err)
	require.NotNil(t, snap)

	require.NotNil(t, snap.ScoreSaberPP)
	assert.InDelta(t, 5200, *snap.ScoreSaberPP, 1e-9)
	require.NotNil(t, snap.ScoreSaberAverageRankedAcc)
	assert.InDelta(t, 94.2, *snap.ScoreSaberAverageRankedAcc, 1e-9)
	require.NotNil(t, snap.ScoreSaberTotalPlayCount)
	assert.Equal(t, 900, *snap.ScoreSaberTotalPlayCount)

	require.NotNil(t, snap.BeatLeaderPP)
	assert.InDelta(t, 6100, *snap.BeatLeaderPP, 1e-9)
	require.NotNil(t, snap.BeatLeaderAverageRankedAcc)
	assert.InDelta(t, 92.8, *snap.BeatLeaderAverageRankedAcc, 1e-9)

	require.NotNil(t, snap.AccSaberOverallRank)
	assert.Equal(t, 7, *snap.AccSaberOverallRank)
	require.NotNil(t, snap.AccSaberTrueRank)
	assert.Equal(t, 4, *snap.AccSaberTrueRank)
	require.NotNil(t, snap.AccSaberTechAP)
	assert.InDelta(t, 3200, *snap.AccSaberTechAP, 1e-9)
	require.NotNil(t, snap.AccSaberOverallAP)
	assert.InDelta(t, 5000+4100+3200, *snap.AccSaberOverallAP, 1e-9, "overall AP is the category sum")
	require.NotNil(t, snap.AccSaberOverallRankCountry)
	assert.Equal(t, 1, *snap.AccSaberOverallRankCountry)

	require.Len(t, snap.StarStats, 1)
	assert.Equal(t, 5, snap.StarStats[0].Star)
	assert.Equal(t, 2, snap.StarStats[0].MapCount)
	assert.Equal(t, 1, snap.StarStats[0].ClearCount)
	assert.Equal(t, 1, snap.StarStats[0].NFCount)

	require.Len(t, snap.BeatLeaderStarStats, 1)
	assert.Equal(t, 6, snap.BeatLeaderStarStats[0].Star)
	assert.Equal(t, 1, snap.BeatLeaderStarStats[0].ClearCount)

	// The written file round-trips.
	loaded, err := snapStore.Load(path)
	require.NoError(t, err)
	assert.Equal(t, testSteamID, loaded.SteamID)

	// Progress is monotonic and ends at 1.
	require.NotEmpty(t, fractions)
	for i := 1; i < len(fractions); i++ {
		assert.GreaterOrEqual(t, fractions[i], fractions[i-1])
	}
	assert.InDelta(t, 1.0, fractions[len(fractions)-1], 1e-9)
}

func TestSnapshotCreateCancellation(t *testing.T) {
	srv := httptest.NewServer(snapshotHandler())
	defer srv.Close()

	svc, _, snapStore := newSnapshotService(t, srv.URL)

	calls := 0
	_, _, err := svc.Create(context.Background(), testSteamID, func(message string, fraction float64) error {
		calls++
		if calls >= 3 {
			return progress.ErrCanceled
		}
		return nil
	})
	require.ErrorIs(t, err, progress.ErrCanceled)

	files, err := snapStore.List("")
	require.NoError(t, err)
	assert.Empty(t, files, "a canceled run writes no snapshot")
}

func TestSnapshotCreateUnresolvedPlayer(t *testing.T) {
	srv := httptest.NewServer(snapshotHandler())
	defer srv.Close()

	svc, _, _ := newSnapshotService(t, srv.URL)

	_, _, err := svc.Create(context.Background(), "76561198000000099", nil)
	assert.ErrorIs(t, err, index.ErrUnresolved)
}
