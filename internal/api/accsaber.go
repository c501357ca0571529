package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"saberstats/internal/constants"
	"saberstats/internal/domain"
)

// AccSaber standings categories. Overall aggregates the three skill
// categories.
const (
	AccSaberOverall  = "overall"
	AccSaberTrue     = "true"
	AccSaberStandard = "standard"
	AccSaberTech     = "tech"
)

// AccSaberSkillCategories lists the per-skill boards, excluding overall.
var AccSaberSkillCategories = []string{AccSaberTrue, AccSaberStandard, AccSaberTech}

// AccSaberStanding is one row of a category standings board. AP is the
// category's AP; for the overall board it is the player's total AP.
type AccSaberStanding struct {
	Rank         int
	Name         string
	AP           float64
	AverageAcc   *float64
	Plays        int
	ScoreSaberID string
}

type AccSaberClient struct {
	BaseURL string
	client  *Client
	logger  zerolog.Logger
}

func NewAccSaberClient(client *Client, logger zerolog.Logger) *AccSaberClient {
	return &AccSaberClient{
		BaseURL: "https://api.accsaber.com",
		client:  client,
		logger:  logger,
	}
}

type accStandingRow struct {
	Rank        int         `json:"rank"`
	PlayerName  string      `json:"playerName"`
	Name        string      `json:"name"`
	AP          json.Number `json:"ap"`
	AverageAcc  *float64    `json:"averageAcc"`
	RankedPlays int         `json:"rankedPlays"`
	PlayerID    flexID      `json:"playerId"`
}

func (r *accStandingRow) toStanding() (AccSaberStanding, bool) {
	if r.PlayerID == "" {
		return AccSaberStanding{}, false
	}
	ap, err := r.AP.Float64()
	if err != nil {
		return AccSaberStanding{}, false
	}
	name := r.PlayerName
	if name == "" {
		name = r.Name
	}
	out := AccSaberStanding{
		Rank:         r.Rank,
		Name:         name,
		AP:           ap,
		Plays:        r.RankedPlays,
		ScoreSaberID: string(r.PlayerID),
	}
	if r.AverageAcc != nil {
		if acc, ok := domain.NormalizeAccuracy(*r.AverageAcc); ok {
			out.AverageAcc = &acc
		}
	}
	return out, true
}

// FetchStandingsPage returns one page of a category standings board, sorted
// by AP descending. An empty slice with a nil error signals the end.
func (c *AccSaberClient) FetchStandingsPage(ctx context.Context, category string, page int) ([]AccSaberStanding, error) {
	url := fmt.Sprintf("%s/categories/%s/standings?page=%d&pageSize=%d",
		c.BaseURL, category, page, constants.AccSaberPageSize)

	body, err := c.client.Get(ctx, url)
	if err != nil {
		if err == ErrNotFound {
			return nil, nil
		}
		return nil, err
	}

	rows, err := decodeStandingRows(body)
	if err != nil {
		return nil, fmt.Errorf("%w: %s standings page %d: %v", ErrMalformed, category, page, err)
	}

	standings := make([]AccSaberStanding, 0, len(rows))
	for _, raw := range rows {
		var r accStandingRow
		if err := json.Unmarshal(raw, &r); err != nil {
			c.logger.Debug().Err(err).Str("category", category).Msg("skipping malformed accsaber standing row")
			continue
		}
		if s, ok := r.toStanding(); ok {
			standings = append(standings, s)
		}
	}
	return standings, nil
}

// decodeStandingRows accepts both the bare-array and the enveloped response
// shapes.
func decodeStandingRows(body []byte) ([]json.RawMessage, error) {
	var rows []json.RawMessage
	if err := json.Unmarshal(body, &rows); err == nil {
		return rows, nil
	}
	var wrapped struct {
		Data []json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(body, &wrapped); err != nil {
		return nil, err
	}
	if wrapped.Data == nil {
		return nil, errors.New("no standings array")
	}
	return wrapped.Data, nil
}

// PlayerExists reports whether the player participates in AccSaber. A 404
// means no profile; an unreadable profile counts as participating so a
// flaky response does not drop the player from a snapshot.
func (c *AccSaberClient) PlayerExists(ctx context.Context, scoreSaberID string) (bool, error) {
	body, err := c.client.Get(ctx, fmt.Sprintf("%s/players/%s", c.BaseURL, scoreSaberID))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return false, nil
		}
		return false, err
	}

	var profile struct {
		RankedPlays *int `json:"rankedPlays"`
	}
	if err := json.Unmarshal(body, &profile); err != nil {
		c.logger.Debug().Err(err).Str("player", scoreSaberID).Msg("unreadable accsaber profile, assuming present")
		return true, nil
	}
	if profile.RankedPlays != nil {
		return *profile.RankedPlays > 0, nil
	}
	return true, nil
}
