package index

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"saberstats/internal/api"
	"saberstats/internal/cache"
	"saberstats/internal/domain"
)

func newTestIndex(t *testing.T, ss *api.ScoreSaberClient, bl *api.BeatLeaderClient) *Index {
	t.Helper()
	store, err := cache.NewStore(t.TempDir(), zerolog.Nop())
	require.NoError(t, err)
	return New(store, ss, bl, zerolog.Nop())
}

func TestRebuildDirectIDMatch(t *testing.T) {
	idx := newTestIndex(t, nil, nil)

	ss := []domain.ScoreSaberPlayer{{ID: "76561198000000001", Name: "alice", Country: "DE", PP: 5000}}
	bl := []domain.BeatLeaderPlayer{{ID: "76561198000000001", Name: "alice", Country: "DE", PP: 6000}}
	require.NoError(t, idx.Rebuild(ss, bl))

	e, ok := idx.Lookup("76561198000000001")
	require.True(t, ok)
	require.NotNil(t, e.ScoreSaber)
	require.NotNil(t, e.BeatLeader)
	assert.InDelta(t, 6000, e.BeatLeader.PP, 1e-9)
}

func TestRebuildFuzzyNameCountryLink(t *testing.T) {
	idx := newTestIndex(t, nil, nil)

	ss := []domain.ScoreSaberPlayer{{ID: "76561198000000002", Name: "Bob!", Country: "se", PP: 4100}}
	bl := []domain.BeatLeaderPlayer{{ID: "bl-native-id", Name: "b_o_b", Country: "SE", PP: 5100}}
	require.NoError(t, idx.Rebuild(ss, bl))

	e, ok := idx.Lookup("76561198000000002")
	require.True(t, ok)
	require.NotNil(t, e.BeatLeader)
	assert.Equal(t, "bl-native-id", e.BeatLeader.ID)

	_, ok = idx.Lookup("bl-native-id")
	assert.False(t, ok, "linked record must not also become its own row")
}

func TestRebuildAmbiguousNameNotLinked(t *testing.T) {
	idx := newTestIndex(t, nil, nil)

	ss := []domain.ScoreSaberPlayer{
		{ID: "76561198000000003", Name: "twin", Country: "FI", PP: 4100},
		{ID: "76561198000000004", Name: "twin", Country: "FI", PP: 4200},
	}
	bl := []domain.BeatLeaderPlayer{{ID: "another-native-id", Name: "twin", Country: "FI", PP: 5100}}
	require.NoError(t, idx.Rebuild(ss, bl))

	for _, id := range []string{"76561198000000003", "76561198000000004"} {
		e, ok := idx.Lookup(id)
		require.True(t, ok)
		assert.Nil(t, e.BeatLeader)
	}
}

func TestRebuildCanonicalBeatLeaderOnlyRow(t *testing.T) {
	idx := newTestIndex(t, nil, nil)

	bl := []domain.BeatLeaderPlayer{
		{ID: "76561198000000005", Name: "solo", Country: "NO", PP: 5200},
		{ID: "short-id", Name: "ghost", PP: 5300},
	}
	require.NoError(t, idx.Rebuild(nil, bl))

	e, ok := idx.Lookup("76561198000000005")
	require.True(t, ok)
	assert.Nil(t, e.ScoreSaber)
	require.NotNil(t, e.BeatLeader)

	_, ok = idx.Lookup("short-id")
	assert.False(t, ok)
}

func TestRebuildPersistsAcrossReload(t *testing.T) {
	store, err := cache.NewStore(t.TempDir(), zerolog.Nop())
	require.NoError(t, err)

	idx := New(store, nil, nil, zerolog.Nop())
	ss := []domain.ScoreSaberPlayer{{ID: "76561198000000006", Name: "carol", Country: "DK", PP: 4300}}
	require.NoError(t, idx.Rebuild(ss, nil))

	reloaded := New(store, nil, nil, zerolog.Nop())
	e, ok := reloaded.Lookup("76561198000000006")
	require.True(t, ok)
	require.NotNil(t, e.ScoreSaber)
	assert.Equal(t, "carol", e.ScoreSaber.Name)
}

func TestResolveOrFetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasSuffix(r.URL.Path, "/full"):
			// ScoreSaber profile lookup.
			http.NotFound(w, r)
		case strings.HasPrefix(r.URL.Path, "/player/76561198000000007"):
			w.Write([]byte(`{"id":"76561198000000007","name":"dave","country":"NL","pp":5400,"rank":9}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	client := api.NewClient(zerolog.Nop())
	ss := api.NewScoreSaberClient(client, zerolog.Nop())
	ss.BaseURL = srv.URL
	bl := api.NewBeatLeaderClient(client, zerolog.Nop())
	bl.BaseURL = srv.URL

	idx := newTestIndex(t, ss, bl)

	e, err := idx.ResolveOrFetch(context.Background(), "76561198000000007")
	require.NoError(t, err)
	assert.Nil(t, e.ScoreSaber)
	require.NotNil(t, e.BeatLeader)
	assert.Equal(t, "dave", e.BeatLeader.Name)

	// Second call is served from the index.
	again, err := idx.ResolveOrFetch(context.Background(), "76561198000000007")
	require.NoError(t, err)
	assert.Same(t, e, again)

	_, err = idx.ResolveOrFetch(context.Background(), "76561198000000099")
	assert.ErrorIs(t, err, ErrUnresolved)
}

func TestIsCanonicalID(t *testing.T) {
	tests := []struct {
		id   string
		want bool
	}{
		{"76561198000000001", true},
		{"7656119800000000", false},
		{"765611980000000011", false},
		{"7656119800000000x", false},
		{"", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, IsCanonicalID(tt.id), tt.id)
	}
}
