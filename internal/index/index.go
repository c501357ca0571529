// Package index maintains the cross-service player identity index: one row
// per canonical Steam-style ID, holding at most one record per service. The
// index is rebuilt wholesale from the global ranking caches during a full
// sync and appended to lazily when a single player is resolved on demand.
package index

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/rs/zerolog"

	"saberstats/internal/api"
	"saberstats/internal/cache"
	"saberstats/internal/domain"
)

const indexKey = "players_index"

// ErrUnresolved means a player could not be found in any service, the one
// hard failure of player resolution.
var ErrUnresolved = errors.New("player not found in any service")

// Entry is one row of the identity index.
type Entry struct {
	SteamID    string                   `json:"steam_id"`
	ScoreSaber *domain.ScoreSaberPlayer `json:"scoresaber,omitempty"`
	BeatLeader *domain.BeatLeaderPlayer `json:"beatleader,omitempty"`
}

type Index struct {
	store      *cache.Store
	scoresaber *api.ScoreSaberClient
	beatleader *api.BeatLeaderClient
	logger     zerolog.Logger
	entries    map[string]*Entry
}

func New(store *cache.Store, ss *api.ScoreSaberClient, bl *api.BeatLeaderClient, logger zerolog.Logger) *Index {
	idx := &Index{
		store:      store,
		scoresaber: ss,
		beatleader: bl,
		logger:     logger,
		entries:    map[string]*Entry{},
	}
	if rows, ok := cache.LoadList[Entry](store, indexKey); ok {
		for i := range rows {
			if rows[i].SteamID != "" {
				idx.entries[rows[i].SteamID] = &rows[i]
			}
		}
	}
	return idx
}

// Lookup returns the index entry for a canonical ID, or false.
func (idx *Index) Lookup(steamID string) (*Entry, bool) {
	e, ok := idx.entries[steamID]
	return e, ok
}

// Entries returns all rows, sorted by canonical ID.
func (idx *Index) Entries() []Entry {
	out := make([]Entry, 0, len(idx.entries))
	for _, e := range idx.entries {
		out = append(out, *e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SteamID < out[j].SteamID })
	return out
}

// Save persists the index as a flat row list.
func (idx *Index) Save() error {
	return cache.SaveList(idx.store, indexKey, idx.Entries())
}

// Rebuild replaces the index from the global ranking caches. BeatLeader
// records link by direct ID match first; records whose ID matches no
// ScoreSaber row fall back to normalized name plus country matching. The
// fallback refuses to link when more than one candidate matches, so two
// distinct same-named players are never merged.
func (idx *Index) Rebuild(ssPlayers []domain.ScoreSaberPlayer, blPlayers []domain.BeatLeaderPlayer) error {
	entries := make(map[string]*Entry, len(ssPlayers))
	for i := range ssPlayers {
		p := ssPlayers[i]
		if p.ID == "" {
			continue
		}
		entries[p.ID] = &Entry{SteamID: p.ID, ScoreSaber: &p}
	}

	// Secondary index for the fuzzy fallback; unlinked ScoreSaber rows only.
	byNameCountry := map[string][]string{}
	for id, e := range entries {
		k := nameCountryKey(e.ScoreSaber.Name, e.ScoreSaber.Country)
		if k != "" {
			byNameCountry[k] = append(byNameCountry[k], id)
		}
	}

	for i := range blPlayers {
		p := blPlayers[i]
		if p.ID == "" {
			continue
		}
		if e, ok := entries[p.ID]; ok {
			e.BeatLeader = &p
			continue
		}
		if steamID, ok := idx.fuzzyMatch(byNameCountry, entries, p); ok {
			entries[steamID].BeatLeader = &p
			continue
		}
		if IsCanonicalID(p.ID) {
			entries[p.ID] = &Entry{SteamID: p.ID, BeatLeader: &p}
		}
	}

	idx.entries = entries
	if err := idx.Save(); err != nil {
		return fmt.Errorf("persisting rebuilt index: %w", err)
	}
	idx.logger.Info().Int("players", len(entries)).Msg("player index rebuilt")
	return nil
}

func (idx *Index) fuzzyMatch(byNameCountry map[string][]string, entries map[string]*Entry, p domain.BeatLeaderPlayer) (string, bool) {
	k := nameCountryKey(p.Name, p.Country)
	if k == "" {
		return "", false
	}
	var candidates []string
	for _, id := range byNameCountry[k] {
		if entries[id].BeatLeader == nil {
			candidates = append(candidates, id)
		}
	}
	if len(candidates) != 1 {
		if len(candidates) > 1 {
			idx.logger.Debug().Str("name", p.Name).Str("country", p.Country).
				Int("candidates", len(candidates)).Msg("ambiguous name match, not linking")
		}
		return "", false
	}
	return candidates[0], true
}

// ResolveOrFetch returns the entry for a canonical ID, fetching each service
// directly on an index miss and persisting the result. It fails only when no
// service knows the player.
func (idx *Index) ResolveOrFetch(ctx context.Context, steamID string) (*Entry, error) {
	if e, ok := idx.entries[steamID]; ok {
		return e, nil
	}

	e := &Entry{SteamID: steamID}
	if player, _, err := idx.scoresaber.FetchPlayerFull(ctx, steamID); err == nil {
		e.ScoreSaber = player
	} else if !errors.Is(err, api.ErrNotFound) {
		idx.logger.Warn().Err(err).Str("player", steamID).Msg("scoresaber lookup failed")
	}
	if player, _, err := idx.beatleader.FetchPlayer(ctx, steamID); err == nil {
		e.BeatLeader = player
	} else if !errors.Is(err, api.ErrNotFound) {
		idx.logger.Warn().Err(err).Str("player", steamID).Msg("beatleader lookup failed")
	}

	if e.ScoreSaber == nil && e.BeatLeader == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnresolved, steamID)
	}

	idx.entries[steamID] = e
	if err := idx.Save(); err != nil {
		return nil, err
	}
	return e, nil
}

// IsCanonicalID reports whether id looks like a Steam-style 17-digit
// numeric identifier.
func IsCanonicalID(id string) bool {
	if len(id) != 17 {
		return false
	}
	for _, r := range id {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// nameCountryKey normalizes a display name to lowercase alphanumerics and
// couples it with the country code. Empty names or countries produce no key.
func nameCountryKey(name, country string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(name) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	if b.Len() == 0 || country == "" {
		return ""
	}
	return b.String() + "|" + strings.ToUpper(country)
}
