// Package snapshot defines the persisted point-in-time record of a player's
// cross-service standing and its append-only file store. Snapshots are
// immutable once written; the loader migrates older field shapes instead of
// rejecting them.
package snapshot

import (
	"encoding/json"
	"time"

	"saberstats/internal/domain"
)

// Snapshot is one capture of a player's state across all three services.
// Pointer fields are null in the JSON when the service had no data, which
// downstream consumers render as blank rather than zero.
type Snapshot struct {
	TakenAt string `json:"taken_at"`
	SteamID string `json:"steam_id"`

	ScoreSaberID               *string  `json:"scoresaber_id"`
	ScoreSaberName             *string  `json:"scoresaber_name"`
	ScoreSaberCountry          *string  `json:"scoresaber_country"`
	ScoreSaberPP               *float64 `json:"scoresaber_pp"`
	ScoreSaberRankGlobal       *int     `json:"scoresaber_rank_global"`
	ScoreSaberRankCountry      *int     `json:"scoresaber_rank_country"`
	ScoreSaberAverageRankedAcc *float64 `json:"scoresaber_average_ranked_acc"`
	ScoreSaberTotalPlayCount   *int     `json:"scoresaber_total_play_count"`
	ScoreSaberRankedPlayCount  *int     `json:"scoresaber_ranked_play_count"`

	BeatLeaderID          *string  `json:"beatleader_id"`
	BeatLeaderName        *string  `json:"beatleader_name"`
	BeatLeaderCountry     *string  `json:"beatleader_country"`
	BeatLeaderPP          *float64 `json:"beatleader_pp"`
	BeatLeaderRankGlobal  *int     `json:"beatleader_rank_global"`
	BeatLeaderRankCountry *int     `json:"beatleader_rank_country"`

	AccSaberOverallRank  *int `json:"accsaber_overall_rank"`
	AccSaberTrueRank     *int `json:"accsaber_true_rank"`
	AccSaberStandardRank *int `json:"accsaber_standard_rank"`
	AccSaberTechRank     *int `json:"accsaber_tech_rank"`

	AccSaberOverallRankCountry  *int `json:"accsaber_overall_rank_country"`
	AccSaberTrueRankCountry     *int `json:"accsaber_true_rank_country"`
	AccSaberStandardRankCountry *int `json:"accsaber_standard_rank_country"`
	AccSaberTechRankCountry     *int `json:"accsaber_tech_rank_country"`

	AccSaberOverallPlayCount  *int `json:"accsaber_overall_play_count"`
	AccSaberTruePlayCount     *int `json:"accsaber_true_play_count"`
	AccSaberStandardPlayCount *int `json:"accsaber_standard_play_count"`
	AccSaberTechPlayCount     *int `json:"accsaber_tech_play_count"`

	AccSaberOverallAP  *float64 `json:"accsaber_overall_ap"`
	AccSaberTrueAP     *float64 `json:"accsaber_true_ap"`
	AccSaberStandardAP *float64 `json:"accsaber_standard_ap"`
	AccSaberTechAP     *float64 `json:"accsaber_tech_ap"`

	BeatLeaderAverageRankedAcc *float64 `json:"beatleader_average_ranked_acc"`
	BeatLeaderTotalPlayCount   *int     `json:"beatleader_total_play_count"`
	BeatLeaderRankedPlayCount  *int     `json:"beatleader_ranked_play_count"`

	StarStats           StatList `json:"star_stats"`
	BeatLeaderStarStats StatList `json:"beatleader_star_stats"`
}

// Time returns the capture time, or the zero time when unparseable.
func (s *Snapshot) Time() time.Time {
	t, err := time.Parse(time.RFC3339, s.TakenAt)
	if err != nil {
		return time.Time{}
	}
	return t
}

// StatList is a star-stat array that tolerates older record shapes on load:
// entries missing ss_count default it to zero, and the oldest shape
// {star, cleared, ranked_cleared, clear_rate} is converted field by field.
type StatList []domain.StarClearStat

func (l *StatList) UnmarshalJSON(b []byte) error {
	*l = StatList{}

	var raw []json.RawMessage
	if err := json.Unmarshal(b, &raw); err != nil {
		// Not an array at all; treat as absent.
		return nil
	}

	for _, entry := range raw {
		var probe struct {
			Star          *int     `json:"star"`
			MapCount      *int     `json:"map_count"`
			ClearCount    *int     `json:"clear_count"`
			NFCount       *int     `json:"nf_count"`
			Cleared       *int     `json:"cleared"`
			RankedCleared *int     `json:"ranked_cleared"`
			ClearRate     *float64 `json:"clear_rate"`
		}
		if json.Unmarshal(entry, &probe) != nil {
			continue
		}

		if probe.MapCount != nil || probe.ClearCount != nil || probe.NFCount != nil {
			var st domain.StarClearStat
			if json.Unmarshal(entry, &st) == nil {
				*l = append(*l, st)
			}
			continue
		}
		if probe.Cleared == nil && probe.RankedCleared == nil {
			continue
		}

		st := domain.StarClearStat{}
		if probe.Star != nil {
			st.Star = *probe.Star
		}
		cleared := 0
		if probe.Cleared != nil {
			cleared = *probe.Cleared
		}
		rankedCleared := cleared
		if probe.RankedCleared != nil {
			rankedCleared = *probe.RankedCleared
		}
		st.MapCount = cleared
		st.ClearCount = rankedCleared
		if cleared > rankedCleared {
			st.NFCount = cleared - rankedCleared
		}
		if probe.ClearRate != nil {
			st.ClearRate = *probe.ClearRate
		}
		*l = append(*l, st)
	}
	return nil
}
