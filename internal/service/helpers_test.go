package service

import (
	"fmt"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"saberstats/internal/api"
	"saberstats/internal/cache"
)

func testStore(t *testing.T) *cache.Store {
	t.Helper()
	store, err := cache.NewStore(t.TempDir(), zerolog.Nop())
	require.NoError(t, err)
	return store
}

func testClients(baseURL string) (*api.ScoreSaberClient, *api.BeatLeaderClient, *api.AccSaberClient) {
	client := api.NewClient(zerolog.Nop())
	ss := api.NewScoreSaberClient(client, zerolog.Nop())
	ss.BaseURL = baseURL
	bl := api.NewBeatLeaderClient(client, zerolog.Nop())
	bl.BaseURL = baseURL
	acc := api.NewAccSaberClient(client, zerolog.Nop())
	acc.BaseURL = baseURL
	return ss, bl, acc
}

// ssCatalogBody builds one ScoreSaber leaderboards page with n charts whose
// IDs start at start+1.
func ssCatalogBody(total, page, start, n int) string {
	items := make([]string, n)
	for i := range items {
		items[i] = fmt.Sprintf(`{"id": %d, "stars": 5.5, "ranked": true}`, start+i+1)
	}
	return fmt.Sprintf(`{"leaderboards":[%s],"metadata":{"total":%d,"page":%d,"itemsPerPage":50}}`,
		strings.Join(items, ","), total, page)
}

// blCatalogBody is ssCatalogBody's BeatLeader counterpart.
func blCatalogBody(total, page, start, n int) string {
	items := make([]string, n)
	for i := range items {
		items[i] = fmt.Sprintf(`{"id": "bl%d", "difficulty": {"stars": 6.5, "status": 3}}`, start+i+1)
	}
	return fmt.Sprintf(`{"data":[%s],"metadata":{"total":%d,"page":%d,"itemsPerPage":100}}`,
		strings.Join(items, ","), total, page)
}

// ssScoresBody builds one ScoreSaber scores page with n plays set at timeSet.
func ssScoresBody(total, n int, timeSet string) string {
	items := make([]string, n)
	for i := range items {
		items[i] = fmt.Sprintf(
			`{"score":{"accuracy":91.0,"modifiers":"","timeSet":"%s"},"leaderboard":{"id":"lb%d"}}`,
			timeSet, i)
	}
	return fmt.Sprintf(`{"playerScores":[%s],"metadata":{"total":%d,"page":1,"itemsPerPage":100}}`,
		strings.Join(items, ","), total)
}
