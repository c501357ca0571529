package domain

import "time"

// ScoreSaberPlayer is one row of the ScoreSaber ranking. GlobalRank and
// CountryRank hold the service-reported values at fetch time; ranks computed
// locally (internal/rank) are separate derived values and are never written
// back into these fields.
type ScoreSaberPlayer struct {
	ID              string  `json:"id"`
	Name            string  `json:"name"`
	Country         string  `json:"country"`
	PP              float64 `json:"pp"`
	GlobalRank      int     `json:"global_rank"`
	CountryRank     int     `json:"country_rank"`
	RankedPlayCount *int    `json:"ranked_play_count,omitempty"`
}

type BeatLeaderPlayer struct {
	ID              string  `json:"id"`
	Name            string  `json:"name"`
	Country         string  `json:"country,omitempty"`
	PP              float64 `json:"pp"`
	GlobalRank      int     `json:"global_rank"`
	CountryRank     int     `json:"country_rank"`
	RankedPlayCount *int    `json:"ranked_play_count,omitempty"`
}

// AccSaberPlayer is one row of an AccSaber leaderboard. AccSaber's native
// identifier differs from the Steam-style ID used by the other services;
// ScoreSaberID is the cross-reference that links a row into the player index.
// Category AP fields are sparse: a player present on the overall board may be
// absent from any single category board, in which case the field stays zero.
type AccSaberPlayer struct {
	Rank         int     `json:"rank"`
	Name         string  `json:"name"`
	TotalAP      float64 `json:"total_ap"`
	AverageAcc   float64 `json:"average_acc"`
	Plays        int     `json:"plays"`
	TrueAP       float64 `json:"true_ap,omitempty"`
	StandardAP   float64 `json:"standard_ap,omitempty"`
	TechAP       float64 `json:"tech_ap,omitempty"`
	ScoreSaberID string  `json:"scoresaber_id,omitempty"`
}

// PlayerStats carries service-reported aggregate stats for one player.
// AverageRankedAcc is normalized to percent at the API boundary.
type PlayerStats struct {
	AverageRankedAcc *float64
	TotalPlayCount   *int
	RankedPlayCount  *int
}

// RankedMap is one chart of a service's ranked catalog, reduced to what tier
// bucketing needs.
type RankedMap struct {
	LeaderboardID string
	Stars         float64
	Ranked        bool
	Deleted       bool
}

// Play is one entry of a player's score history. Accuracy is nil when the
// service exposed neither a usable accuracy value nor base/max scores.
type Play struct {
	LeaderboardID string    `json:"leaderboard_id"`
	Accuracy      *float64  `json:"accuracy,omitempty"`
	NoFail        bool      `json:"no_fail,omitempty"`
	SlowSong      bool      `json:"slow_song,omitempty"`
	Set           time.Time `json:"set"`
}

// StarClearStat aggregates one star tier of one service for one player.
// AverageAcc is nil when the tier has no genuine clears, never zero.
type StarClearStat struct {
	Star       int      `json:"star"`
	MapCount   int      `json:"map_count"`
	ClearCount int      `json:"clear_count"`
	NFCount    int      `json:"nf_count"`
	SSCount    int      `json:"ss_count"`
	ClearRate  float64  `json:"clear_rate"`
	AverageAcc *float64 `json:"average_acc"`
}
