package service

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"saberstats/internal/cache"
	"saberstats/internal/domain"
)

func TestScoresRefreshCold(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(ssScoresBody(2, 2, "2026-01-10T00:00:00Z")))
	}))
	defer srv.Close()

	ss, _, _ := testClients(srv.URL)
	store := testStore(t)
	svc := NewScoresService(store, ss, nil, zerolog.Nop())

	total := 2
	scores, err := svc.RefreshScoreSaber(context.Background(), "p1", &total, nil)
	require.NoError(t, err)
	assert.Len(t, scores, 2)
	assert.Contains(t, scores, "lb0")

	meta, ok := svc.Meta("scoresaber", "p1")
	require.True(t, ok)
	assert.False(t, meta.FetchedAt.IsZero())
	require.NotNil(t, meta.TotalPlayCount)
	assert.Equal(t, 2, *meta.TotalPlayCount)
}

func TestScoresRefreshIncrementalStopsAtCachedPlays(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		page, _ := strconv.Atoi(r.URL.Query().Get("page"))
		if page > 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		// A full page whose newest play predates the cached fetch time.
		w.Write([]byte(ssScoresBody(500, 100, "2026-01-10T00:00:00Z")))
	}))
	defer srv.Close()

	ss, _, _ := testClients(srv.URL)
	store := testStore(t)

	cachedAcc := 99.0
	require.NoError(t, store.SaveScores("scoresaber_player_scores_p1", &cache.ScoreCache{
		FetchedAt: time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC),
		Scores: map[string]domain.Play{
			"lb5":  {LeaderboardID: "lb5", Accuracy: &cachedAcc, Set: time.Date(2025, 12, 1, 0, 0, 0, 0, time.UTC)},
			"old1": {LeaderboardID: "old1", Set: time.Date(2025, 11, 1, 0, 0, 0, 0, time.UTC)},
		},
	}))

	svc := NewScoresService(store, ss, nil, zerolog.Nop())
	scores, err := svc.RefreshScoreSaber(context.Background(), "p1", nil, nil)
	require.NoError(t, err)

	assert.Equal(t, int32(1), hits.Load(), "a stale first page ends the crawl")
	assert.Len(t, scores, 101, "100 fetched charts plus the cached-only one")
	assert.Contains(t, scores, "old1")

	// The cached better accuracy survives the merge with the refetched play.
	merged := scores["lb5"]
	require.NotNil(t, merged.Accuracy)
	assert.InDelta(t, 99.0, *merged.Accuracy, 1e-9)
}

func TestScoresRefreshSkipsWhenPlayCountUnchanged(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Write([]byte(ssScoresBody(2, 2, "2026-01-10T00:00:00Z")))
	}))
	defer srv.Close()

	ss, _, _ := testClients(srv.URL)
	store := testStore(t)

	total := 321
	require.NoError(t, store.SaveScores("scoresaber_player_scores_p1", &cache.ScoreCache{
		FetchedAt:      time.Now().UTC(),
		TotalPlayCount: &total,
		Scores: map[string]domain.Play{
			"lb1": {LeaderboardID: "lb1"},
		},
	}))

	svc := NewScoresService(store, ss, nil, zerolog.Nop())
	scores, err := svc.RefreshScoreSaber(context.Background(), "p1", &total, nil)
	require.NoError(t, err)
	assert.Len(t, scores, 1)
	assert.Zero(t, hits.Load(), "an unchanged play count skips the crawl")

	// A changed count falls through to the incremental refresh.
	grown := 322
	_, err = svc.RefreshScoreSaber(context.Background(), "p1", &grown, nil)
	require.NoError(t, err)
	assert.Positive(t, hits.Load())
}

func TestScoresRefreshFailureKeepsCache(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	ss, _, _ := testClients(srv.URL)
	store := testStore(t)
	require.NoError(t, store.SaveScores("scoresaber_player_scores_p1", &cache.ScoreCache{
		FetchedAt: time.Now().UTC(),
		Scores: map[string]domain.Play{
			"lb1": {LeaderboardID: "lb1"},
		},
	}))

	svc := NewScoresService(store, ss, nil, zerolog.Nop())
	scores, err := svc.RefreshScoreSaber(context.Background(), "p1", nil, nil)
	require.NoError(t, err)
	assert.Len(t, scores, 1)
}

func TestMergePlays(t *testing.T) {
	older := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	newer := older.AddDate(0, 6, 0)
	hi, lo := 97.0, 88.0

	t.Run("newer play wins modifiers, best accuracy kept", func(t *testing.T) {
		prev := domain.Play{LeaderboardID: "x", NoFail: true, Accuracy: &hi, Set: older}
		next := domain.Play{LeaderboardID: "x", Accuracy: &lo, Set: newer}

		out := mergePlays(prev, next)
		assert.False(t, out.NoFail)
		require.NotNil(t, out.Accuracy)
		assert.InDelta(t, 97.0, *out.Accuracy, 1e-9)
		assert.True(t, out.Set.Equal(newer))
	})

	t.Run("cached newer play is kept over a refetched older one", func(t *testing.T) {
		prev := domain.Play{LeaderboardID: "x", SlowSong: true, Set: newer}
		next := domain.Play{LeaderboardID: "x", Accuracy: &lo, Set: older}

		out := mergePlays(prev, next)
		assert.True(t, out.SlowSong)
		require.NotNil(t, out.Accuracy)
		assert.InDelta(t, 88.0, *out.Accuracy, 1e-9)
	})
}
