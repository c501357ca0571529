package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"saberstats/internal/constants"
	"saberstats/internal/domain"
)

// flexID accepts the string and numeric identifier encodings the services
// mix freely.
type flexID string

func (f *flexID) UnmarshalJSON(b []byte) error {
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*f = flexID(n.String())
	return nil
}

// PageMetadata is the paging envelope ScoreSaber and BeatLeader both emit.
type PageMetadata struct {
	Total        int `json:"total"`
	Page         int `json:"page"`
	ItemsPerPage int `json:"itemsPerPage"`
}

// RawPage couples one page's parsed records with the raw response body and
// the request params, so callers can persist the page exactly as received.
type RawPage struct {
	Page   int
	Params map[string]string
	Data   json.RawMessage
	Total  int
	Count  int
}

type ScoreSaberClient struct {
	BaseURL string
	client  *Client
	logger  zerolog.Logger
}

func NewScoreSaberClient(client *Client, logger zerolog.Logger) *ScoreSaberClient {
	return &ScoreSaberClient{
		BaseURL: "https://scoresaber.com/api",
		client:  client,
		logger:  logger,
	}
}

type ssPlayersResponse struct {
	Players  []json.RawMessage `json:"players"`
	Metadata PageMetadata      `json:"metadata"`
}

type ssPlayer struct {
	ID          flexID  `json:"id"`
	Name        string  `json:"name"`
	Country     string  `json:"country"`
	PP          float64 `json:"pp"`
	Rank        int     `json:"rank"`
	CountryRank int     `json:"countryRank"`
	ScoreStats  *struct {
		AverageRankedAccuracy float64 `json:"averageRankedAccuracy"`
		TotalPlayCount        int     `json:"totalPlayCount"`
		RankedPlayCount       int     `json:"rankedPlayCount"`
	} `json:"scoreStats"`
	RankedPlayCount *int `json:"rankedPlayCount"`
}

func (p *ssPlayer) toDomain() (domain.ScoreSaberPlayer, bool) {
	if p.ID == "" {
		return domain.ScoreSaberPlayer{}, false
	}
	out := domain.ScoreSaberPlayer{
		ID:              string(p.ID),
		Name:            p.Name,
		Country:         p.Country,
		PP:              p.PP,
		GlobalRank:      p.Rank,
		CountryRank:     p.CountryRank,
		RankedPlayCount: p.RankedPlayCount,
	}
	if out.RankedPlayCount == nil && p.ScoreStats != nil {
		rpc := p.ScoreStats.RankedPlayCount
		out.RankedPlayCount = &rpc
	}
	return out, true
}

// FetchPlayers returns one page of the player ranking, sorted by pp
// descending. country scopes the query server-side when non-empty. An empty
// slice with a nil error signals the end of pagination.
func (c *ScoreSaberClient) FetchPlayers(ctx context.Context, country string, page int) ([]domain.ScoreSaberPlayer, error) {
	q := url.Values{}
	q.Set("page", strconv.Itoa(page))
	if country != "" {
		q.Set("countries", country)
	}

	resp, err := getJSON[ssPlayersResponse](ctx, c.client, fmt.Sprintf("%s/players?%s", c.BaseURL, q.Encode()))
	if err != nil {
		if err == ErrNotFound {
			return nil, nil
		}
		return nil, err
	}

	players := make([]domain.ScoreSaberPlayer, 0, len(resp.Players))
	for _, raw := range resp.Players {
		var p ssPlayer
		if err := json.Unmarshal(raw, &p); err != nil {
			c.logger.Debug().Err(err).Msg("skipping malformed scoresaber player entry")
			continue
		}
		if converted, ok := p.toDomain(); ok {
			players = append(players, converted)
		}
	}
	return players, nil
}

// FetchPlayerFull fetches one player's profile with score stats.
func (c *ScoreSaberClient) FetchPlayerFull(ctx context.Context, playerID string) (*domain.ScoreSaberPlayer, *domain.PlayerStats, error) {
	resp, err := getJSON[ssPlayer](ctx, c.client, fmt.Sprintf("%s/player/%s/full", c.BaseURL, playerID))
	if err != nil {
		return nil, nil, err
	}

	converted, ok := resp.toDomain()
	if !ok {
		return nil, nil, fmt.Errorf("%w: player %s has no id", ErrMalformed, playerID)
	}

	var stats *domain.PlayerStats
	if resp.ScoreStats != nil {
		avg := resp.ScoreStats.AverageRankedAccuracy
		total := resp.ScoreStats.TotalPlayCount
		ranked := resp.ScoreStats.RankedPlayCount
		stats = &domain.PlayerStats{
			AverageRankedAcc: &avg,
			TotalPlayCount:   &total,
			RankedPlayCount:  &ranked,
		}
	}
	return &converted, stats, nil
}

type ssLeaderboardsResponse struct {
	Leaderboards []json.RawMessage `json:"leaderboards"`
	Data         []json.RawMessage `json:"data"`
	Metadata     PageMetadata      `json:"metadata"`
}

type ssLeaderboard struct {
	ID         flexID   `json:"id"`
	Stars      *float64 `json:"stars"`
	Ranked     *bool    `json:"ranked"`
	Deleted    bool     `json:"deleted"`
	Difficulty *struct {
		LeaderboardID flexID   `json:"leaderboardId"`
		Stars         *float64 `json:"stars"`
	} `json:"difficulty"`
}

func (lb *ssLeaderboard) toDomain() (domain.RankedMap, bool) {
	id := string(lb.ID)
	stars := lb.Stars
	if lb.Difficulty != nil {
		if id == "" {
			id = string(lb.Difficulty.LeaderboardID)
		}
		if stars == nil {
			stars = lb.Difficulty.Stars
		}
	}
	if id == "" || stars == nil {
		return domain.RankedMap{}, false
	}
	ranked := true
	if lb.Ranked != nil {
		ranked = *lb.Ranked
	}
	return domain.RankedMap{
		LeaderboardID: id,
		Stars:         *stars,
		Ranked:        ranked,
		Deleted:       lb.Deleted,
	}, true
}

// ParseScoreSaberLeaderboards decodes one raw leaderboards page, skipping
// malformed entries. count is the raw item count before skipping.
func ParseScoreSaberLeaderboards(body []byte) (maps []domain.RankedMap, meta PageMetadata, count int, err error) {
	var resp ssLeaderboardsResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, PageMetadata{}, 0, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	items := resp.Leaderboards
	if items == nil {
		items = resp.Data
	}

	maps = make([]domain.RankedMap, 0, len(items))
	for _, raw := range items {
		var lb ssLeaderboard
		if err := json.Unmarshal(raw, &lb); err != nil {
			continue
		}
		if m, ok := lb.toDomain(); ok {
			maps = append(maps, m)
		}
	}
	return maps, resp.Metadata, len(items), nil
}

// FetchLeaderboardsPage returns one page of the ranked-chart catalog plus the
// raw page for caching. A 404 or an empty item list signals the end.
func (c *ScoreSaberClient) FetchLeaderboardsPage(ctx context.Context, page int) (*RawPage, []domain.RankedMap, error) {
	params := map[string]string{
		"page":   strconv.Itoa(page),
		"count":  strconv.Itoa(constants.ScoreSaberLeaderboardPageSize),
		"ranked": "true",
	}
	q := url.Values{}
	for k, v := range params {
		q.Set(k, v)
	}

	body, err := c.client.Get(ctx, fmt.Sprintf("%s/leaderboards?%s", c.BaseURL, q.Encode()))
	if err != nil {
		if err == ErrNotFound {
			return nil, nil, nil
		}
		return nil, nil, err
	}

	maps, meta, count, err := ParseScoreSaberLeaderboards(body)
	if err != nil {
		return nil, nil, fmt.Errorf("leaderboards page %d: %w", page, err)
	}

	return &RawPage{
		Page:   page,
		Params: params,
		Data:   json.RawMessage(body),
		Total:  meta.Total,
		Count:  count,
	}, maps, nil
}

type ssScoresResponse struct {
	PlayerScores []json.RawMessage `json:"playerScores"`
	Scores       []json.RawMessage `json:"scores"`
	Data         []json.RawMessage `json:"data"`
	Metadata     PageMetadata      `json:"metadata"`
}

type ssScoreEntry struct {
	Score struct {
		ModifierFlags *int     `json:"modifierFlags"`
		Modifiers     string   `json:"modifiers"`
		Accuracy      *float64 `json:"accuracy"`
		Acc           *float64 `json:"acc"`
		BaseScore     *float64 `json:"baseScore"`
		ModifiedScore *float64 `json:"modifiedScore"`
		TimeSet       string   `json:"timeSet"`
	} `json:"score"`
	Leaderboard struct {
		ID         flexID   `json:"id"`
		MaxScore   *float64 `json:"maxScore"`
		Difficulty *struct {
			LeaderboardID flexID `json:"leaderboardId"`
		} `json:"difficulty"`
	} `json:"leaderboard"`
}

// ScoreSaber modifier bits.
const (
	ssModifierNoFail   = 0x10
	ssModifierSlowSong = 0x100
)

func (e *ssScoreEntry) toDomain() (domain.Play, bool) {
	id := string(e.Leaderboard.ID)
	if id == "" && e.Leaderboard.Difficulty != nil {
		id = string(e.Leaderboard.Difficulty.LeaderboardID)
	}
	if id == "" {
		return domain.Play{}, false
	}

	play := domain.Play{LeaderboardID: id}
	if e.Score.ModifierFlags != nil {
		play.NoFail = *e.Score.ModifierFlags&ssModifierNoFail != 0
		play.SlowSong = *e.Score.ModifierFlags&ssModifierSlowSong != 0
	} else {
		play.NoFail, play.SlowSong = modifiersFromString(e.Score.Modifiers)
	}

	raw := e.Score.Accuracy
	if raw == nil {
		raw = e.Score.Acc
	}
	if raw != nil {
		if acc, ok := domain.NormalizeAccuracy(*raw); ok {
			play.Accuracy = &acc
		}
	}
	if play.Accuracy == nil {
		base := e.Score.BaseScore
		if base == nil {
			base = e.Score.ModifiedScore
		}
		if base != nil && e.Leaderboard.MaxScore != nil {
			if acc, ok := domain.AccuracyFromScores(*base, *e.Leaderboard.MaxScore); ok {
				play.Accuracy = &acc
			}
		}
	}

	if e.Score.TimeSet != "" {
		if t, err := time.Parse(time.RFC3339, e.Score.TimeSet); err == nil {
			play.Set = t.UTC()
		}
	}
	return play, true
}

// FetchScoresPage returns one page of a player's score history, newest
// first, plus the raw page for caching.
func (c *ScoreSaberClient) FetchScoresPage(ctx context.Context, playerID string, page int) (*RawPage, []domain.Play, error) {
	params := map[string]string{
		"page":  strconv.Itoa(page),
		"count": strconv.Itoa(constants.ScoreSaberScoresPageSize),
		"sort":  "recent",
	}
	q := url.Values{}
	for k, v := range params {
		q.Set(k, v)
	}

	body, err := c.client.Get(ctx, fmt.Sprintf("%s/player/%s/scores?%s", c.BaseURL, playerID, q.Encode()))
	if err != nil {
		if err == ErrNotFound {
			return nil, nil, nil
		}
		return nil, nil, err
	}

	var resp ssScoresResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, nil, fmt.Errorf("%w: player scores page %d: %v", ErrMalformed, page, err)
	}

	items := resp.PlayerScores
	if items == nil {
		items = resp.Scores
	}
	if items == nil {
		items = resp.Data
	}

	plays := make([]domain.Play, 0, len(items))
	for _, raw := range items {
		var e ssScoreEntry
		if err := json.Unmarshal(raw, &e); err != nil {
			c.logger.Debug().Err(err).Msg("skipping malformed scoresaber score entry")
			continue
		}
		if p, ok := e.toDomain(); ok {
			plays = append(plays, p)
		}
	}

	return &RawPage{
		Page:   page,
		Params: params,
		Data:   json.RawMessage(body),
		Total:  resp.Metadata.Total,
		Count:  len(items),
	}, plays, nil
}
