package api

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseScoreSaberLeaderboards(t *testing.T) {
	body := `{
		"leaderboards": [
			{"id": 101, "stars": 6.4, "ranked": true},
			{"difficulty": {"leaderboardId": "102", "stars": 3.1}},
			{"id": 103},
			"garbage"
		],
		"metadata": {"total": 412, "page": 1, "itemsPerPage": 50}
	}`

	maps, meta, count, err := ParseScoreSaberLeaderboards([]byte(body))
	require.NoError(t, err)
	assert.Equal(t, 4, count)
	assert.Equal(t, 412, meta.Total)
	require.Len(t, maps, 2)
	assert.Equal(t, "101", maps[0].LeaderboardID)
	assert.True(t, maps[0].Ranked)
	assert.Equal(t, "102", maps[1].LeaderboardID)
	assert.InDelta(t, 3.1, maps[1].Stars, 1e-9)
}

func TestParseBeatLeaderLeaderboards(t *testing.T) {
	body := `{
		"data": [
			{"id": "bl1", "difficulty": {"stars": 7.8, "status": 3}},
			{"id": "bl2", "difficulty": {"stars": 5.0, "status": 0}},
			{"id": "bl3"}
		],
		"metadata": {"total": 900, "page": 2, "itemsPerPage": 100}
	}`

	maps, meta, count, err := ParseBeatLeaderLeaderboards([]byte(body))
	require.NoError(t, err)
	assert.Equal(t, 3, count)
	assert.Equal(t, 900, meta.Total)
	require.Len(t, maps, 2)
	assert.True(t, maps[0].Ranked)
	assert.False(t, maps[1].Ranked, "only status 3 counts as ranked")
}

func TestScoreSaberScoreEntryModifiers(t *testing.T) {
	t.Run("flags take precedence", func(t *testing.T) {
		raw := `{
			"score": {"modifierFlags": 272, "modifiers": "", "accuracy": 93.5, "timeSet": "2026-01-02T03:04:05Z"},
			"leaderboard": {"id": 55}
		}`
		var e ssScoreEntry
		require.NoError(t, json.Unmarshal([]byte(raw), &e))

		play, ok := e.toDomain()
		require.True(t, ok)
		assert.Equal(t, "55", play.LeaderboardID)
		assert.True(t, play.NoFail)
		assert.True(t, play.SlowSong)
		require.NotNil(t, play.Accuracy)
		assert.InDelta(t, 93.5, *play.Accuracy, 1e-9)
		assert.Equal(t, 2026, play.Set.Year())
	})

	t.Run("modifier string fallback", func(t *testing.T) {
		raw := `{"score": {"modifiers": "NF"}, "leaderboard": {"id": "56"}}`
		var e ssScoreEntry
		require.NoError(t, json.Unmarshal([]byte(raw), &e))

		play, ok := e.toDomain()
		require.True(t, ok)
		assert.True(t, play.NoFail)
		assert.False(t, play.SlowSong)
	})

	t.Run("score ratio fallback for ambiguous accuracy", func(t *testing.T) {
		raw := `{
			"score": {"accuracy": 150.0, "baseScore": 450000, "modifiers": ""},
			"leaderboard": {"id": "57", "maxScore": 500000}
		}`
		var e ssScoreEntry
		require.NoError(t, json.Unmarshal([]byte(raw), &e))

		play, ok := e.toDomain()
		require.True(t, ok)
		require.NotNil(t, play.Accuracy)
		assert.InDelta(t, 90.0, *play.Accuracy, 1e-9)
	})
}

func TestBeatLeaderScoreEntry(t *testing.T) {
	raw := `{
		"accuracy": 0.9312,
		"modifiers": "SS",
		"timepost": 1767312000,
		"leaderboard": {"id": "bl9"}
	}`
	var e blScoreEntry
	require.NoError(t, json.Unmarshal([]byte(raw), &e))

	play, ok := e.toDomain()
	require.True(t, ok)
	assert.Equal(t, "bl9", play.LeaderboardID)
	assert.True(t, play.SlowSong)
	require.NotNil(t, play.Accuracy)
	assert.InDelta(t, 93.12, *play.Accuracy, 1e-9)
	assert.Equal(t, int64(1767312000), play.Set.Unix())
}
