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

type BeatLeaderClient struct {
	BaseURL string
	client  *Client
	logger  zerolog.Logger
}

func NewBeatLeaderClient(client *Client, logger zerolog.Logger) *BeatLeaderClient {
	return &BeatLeaderClient{
		BaseURL: "https://api.beatleader.xyz",
		client:  client,
		logger:  logger,
	}
}

type blListResponse struct {
	Data     []json.RawMessage `json:"data"`
	Metadata PageMetadata      `json:"metadata"`
}

type blPlayer struct {
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
}

func (p *blPlayer) toDomain() (domain.BeatLeaderPlayer, bool) {
	if p.ID == "" {
		return domain.BeatLeaderPlayer{}, false
	}
	out := domain.BeatLeaderPlayer{
		ID:          string(p.ID),
		Name:        p.Name,
		Country:     p.Country,
		PP:          p.PP,
		GlobalRank:  p.Rank,
		CountryRank: p.CountryRank,
	}
	if p.ScoreStats != nil {
		rpc := p.ScoreStats.RankedPlayCount
		out.RankedPlayCount = &rpc
	}
	return out, true
}

// FetchPlayers returns one page of the pp ranking, descending. country
// scopes the query server-side when non-empty.
func (c *BeatLeaderClient) FetchPlayers(ctx context.Context, country string, page int) ([]domain.BeatLeaderPlayer, error) {
	q := url.Values{}
	q.Set("page", strconv.Itoa(page))
	q.Set("count", strconv.Itoa(constants.BeatLeaderPageSize))
	q.Set("sortBy", "pp")
	q.Set("order", "desc")
	if country != "" {
		q.Set("countries", country)
	}

	resp, err := getJSON[blListResponse](ctx, c.client, fmt.Sprintf("%s/players?%s", c.BaseURL, q.Encode()))
	if err != nil {
		if err == ErrNotFound {
			return nil, nil
		}
		return nil, err
	}

	players := make([]domain.BeatLeaderPlayer, 0, len(resp.Data))
	for _, raw := range resp.Data {
		var p blPlayer
		if err := json.Unmarshal(raw, &p); err != nil {
			c.logger.Debug().Err(err).Msg("skipping malformed beatleader player entry")
			continue
		}
		if converted, ok := p.toDomain(); ok {
			players = append(players, converted)
		}
	}
	return players, nil
}

// FetchPlayer fetches one player's profile with score stats. The average
// ranked accuracy on the wire is a 0..1 ratio and is converted to percent.
func (c *BeatLeaderClient) FetchPlayer(ctx context.Context, playerID string) (*domain.BeatLeaderPlayer, *domain.PlayerStats, error) {
	resp, err := getJSON[blPlayer](ctx, c.client, fmt.Sprintf("%s/player/%s", c.BaseURL, playerID))
	if err != nil {
		return nil, nil, err
	}

	converted, ok := resp.toDomain()
	if !ok {
		return nil, nil, fmt.Errorf("%w: player %s has no id", ErrMalformed, playerID)
	}

	var stats *domain.PlayerStats
	if resp.ScoreStats != nil {
		avg := resp.ScoreStats.AverageRankedAccuracy * 100
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

// BeatLeader difficulty status for ranked charts.
const blStatusRanked = 3

type blLeaderboard struct {
	ID         flexID `json:"id"`
	Difficulty *struct {
		Stars  *float64 `json:"stars"`
		Status *int     `json:"status"`
	} `json:"difficulty"`
}

func (lb *blLeaderboard) toDomain() (domain.RankedMap, bool) {
	if lb.ID == "" || lb.Difficulty == nil || lb.Difficulty.Stars == nil {
		return domain.RankedMap{}, false
	}
	ranked := lb.Difficulty.Status != nil && *lb.Difficulty.Status == blStatusRanked
	return domain.RankedMap{
		LeaderboardID: string(lb.ID),
		Stars:         *lb.Difficulty.Stars,
		Ranked:        ranked,
	}, true
}

// ParseBeatLeaderLeaderboards decodes one raw leaderboards page, skipping
// malformed entries. count is the raw item count before skipping.
func ParseBeatLeaderLeaderboards(body []byte) (maps []domain.RankedMap, meta PageMetadata, count int, err error) {
	var resp blListResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, PageMetadata{}, 0, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	maps = make([]domain.RankedMap, 0, len(resp.Data))
	for _, raw := range resp.Data {
		var lb blLeaderboard
		if err := json.Unmarshal(raw, &lb); err != nil {
			continue
		}
		if m, ok := lb.toDomain(); ok {
			maps = append(maps, m)
		}
	}
	return maps, resp.Metadata, len(resp.Data), nil
}

// FetchLeaderboardsPage returns one page of the ranked-chart catalog plus the
// raw page for caching.
func (c *BeatLeaderClient) FetchLeaderboardsPage(ctx context.Context, page int) (*RawPage, []domain.RankedMap, error) {
	params := map[string]string{
		"page":   strconv.Itoa(page),
		"count":  strconv.Itoa(constants.BeatLeaderPageSize),
		"type":   "Ranked",
		"sortBy": "stars",
		"order":  "desc",
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

	maps, meta, count, err := ParseBeatLeaderLeaderboards(body)
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

type blScoreEntry struct {
	Accuracy    *float64 `json:"accuracy"`
	Acc         *float64 `json:"acc"`
	BaseScore   *float64 `json:"baseScore"`
	Modifiers   string   `json:"modifiers"`
	Timepost    *int64   `json:"timepost"`
	TimeSet     string   `json:"timeSet"`
	Leaderboard struct {
		ID         flexID `json:"id"`
		Difficulty *struct {
			MaxScore *float64 `json:"maxScore"`
		} `json:"difficulty"`
	} `json:"leaderboard"`
}

func (e *blScoreEntry) toDomain() (domain.Play, bool) {
	id := string(e.Leaderboard.ID)
	if id == "" {
		return domain.Play{}, false
	}

	play := domain.Play{LeaderboardID: id}
	play.NoFail, play.SlowSong = modifiersFromString(e.Modifiers)

	raw := e.Accuracy
	if raw == nil {
		raw = e.Acc
	}
	if raw != nil {
		if acc, ok := domain.NormalizeAccuracy(*raw); ok {
			play.Accuracy = &acc
		}
	}
	if play.Accuracy == nil && e.BaseScore != nil &&
		e.Leaderboard.Difficulty != nil && e.Leaderboard.Difficulty.MaxScore != nil {
		if acc, ok := domain.AccuracyFromScores(*e.BaseScore, *e.Leaderboard.Difficulty.MaxScore); ok {
			play.Accuracy = &acc
		}
	}

	if e.Timepost != nil && *e.Timepost > 0 {
		play.Set = time.Unix(*e.Timepost, 0).UTC()
	} else if e.TimeSet != "" {
		if t, err := time.Parse(time.RFC3339, e.TimeSet); err == nil {
			play.Set = t.UTC()
		}
	}
	return play, true
}

// FetchScoresPage returns one page of a player's score history, newest
// first, plus the raw page for caching.
func (c *BeatLeaderClient) FetchScoresPage(ctx context.Context, playerID string, page int) (*RawPage, []domain.Play, error) {
	params := map[string]string{
		"page":   strconv.Itoa(page),
		"count":  strconv.Itoa(constants.BeatLeaderScoresPageSize),
		"sortBy": "date",
		"order":  "desc",
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

	var resp blListResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, nil, fmt.Errorf("%w: player scores page %d: %v", ErrMalformed, page, err)
	}

	plays := make([]domain.Play, 0, len(resp.Data))
	for _, raw := range resp.Data {
		var e blScoreEntry
		if err := json.Unmarshal(raw, &e); err != nil {
			c.logger.Debug().Err(err).Msg("skipping malformed beatleader score entry")
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
		Count:  len(resp.Data),
	}, plays, nil
}
