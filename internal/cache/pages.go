// Package cache persists fetched leaderboard data as JSON files under a
// single cache directory. Reads that fail to parse are reported as misses,
// never as errors; writes go through a temp file and an atomic rename so an
// interrupted write cannot corrupt a previously valid file.
package cache

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
)

// Page is one cached page of a paginated API response, kept exactly as
// received.
type Page struct {
	Page   int               `json:"page"`
	Params map[string]string `json:"params"`
	Data   json.RawMessage   `json:"data"`
}

// PagedCache is the on-disk form of a paged-response cache key.
type PagedCache struct {
	FetchedAt time.Time `json:"fetched_at"`
	Pages     []Page    `json:"pages"`
}

// Store reads and writes cache files under one directory. A single Store is
// shared by all services during a run; access is sequential.
type Store struct {
	dir    string
	logger zerolog.Logger
}

func NewStore(dir string, logger zerolog.Logger) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating cache dir: %w", err)
	}
	return &Store{dir: dir, logger: logger}, nil
}

func (s *Store) Dir() string {
	return s.dir
}

func (s *Store) path(key string) string {
	return filepath.Join(s.dir, key+".json")
}

// Has reports whether a file exists for key without parsing it.
func (s *Store) Has(key string) bool {
	_, err := os.Stat(s.path(key))
	return err == nil
}

// LoadPages returns the cached pages for key, or false on a miss. A corrupt
// or unreadable file is a miss.
func (s *Store) LoadPages(key string) (*PagedCache, bool) {
	var cached PagedCache
	if !s.readJSON(key, &cached) {
		return nil, false
	}
	if cached.Pages == nil {
		return nil, false
	}
	return &cached, true
}

// SavePages replaces the cache for key.
func (s *Store) SavePages(key string, cached *PagedCache) error {
	return s.writeJSON(key, cached)
}

func (s *Store) readJSON(key string, out any) bool {
	data, err := os.ReadFile(s.path(key))
	if err != nil {
		return false
	}
	if err := json.Unmarshal(data, out); err != nil {
		s.logger.Warn().Err(err).Str("key", key).Msg("discarding corrupt cache file")
		return false
	}
	return true
}

// writeJSON writes to a temp file in the same directory and renames it over
// the target.
func (s *Store) writeJSON(key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encoding cache %s: %w", key, err)
	}

	tmp, err := os.CreateTemp(s.dir, key+".*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp file for %s: %w", key, err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("writing cache %s: %w", key, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("closing cache %s: %w", key, err)
	}
	if err := os.Rename(tmpName, s.path(key)); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replacing cache %s: %w", key, err)
	}
	return nil
}
