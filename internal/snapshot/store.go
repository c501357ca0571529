package snapshot

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Store is the append-only snapshot directory. Files are never rewritten or
// deleted; one file per (player, capture time).
type Store struct {
	dir    string
	logger zerolog.Logger
}

func NewStore(dir string, logger zerolog.Logger) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating snapshot dir: %w", err)
	}
	return &Store{dir: dir, logger: logger}, nil
}

func (s *Store) Dir() string {
	return s.dir
}

// FileName builds the canonical snapshot filename for a player and capture
// time.
func FileName(steamID string, takenAt time.Time) string {
	return fmt.Sprintf("%s_%s.json", steamID, takenAt.Format("20060102-150405"))
}

// Save writes a snapshot to its canonical path and returns that path.
func (s *Store) Save(snap *Snapshot) (string, error) {
	takenAt := snap.Time()
	if takenAt.IsZero() {
		takenAt = time.Now().UTC()
		snap.TakenAt = takenAt.Format(time.RFC3339)
	}

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encoding snapshot: %w", err)
	}

	path := filepath.Join(s.dir, FileName(snap.SteamID, takenAt))
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("writing snapshot: %w", err)
	}
	s.logger.Info().Str("path", path).Msg("snapshot saved")
	return path, nil
}

// Load reads one snapshot file, migrating older star-stat shapes.
func (s *Store) Load(path string) (*Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading snapshot: %w", err)
	}
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("decoding snapshot %s: %w", filepath.Base(path), err)
	}
	return &snap, nil
}

// List returns all snapshot file paths, oldest first. steamID narrows the
// listing to one player when non-empty.
func (s *Store) List(steamID string) ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("listing snapshots: %w", err)
	}

	var paths []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		owner, _, ok := ParseFileName(e.Name())
		if !ok {
			continue
		}
		if steamID != "" && owner != steamID {
			continue
		}
		paths = append(paths, filepath.Join(s.dir, e.Name()))
	}
	sort.Strings(paths)
	return paths, nil
}

// ParseFileName splits a snapshot filename into its player ID and capture
// time.
func ParseFileName(name string) (steamID string, takenAt time.Time, ok bool) {
	base := strings.TrimSuffix(name, ".json")
	i := strings.LastIndexByte(base, '_')
	if i <= 0 {
		return "", time.Time{}, false
	}
	t, err := time.Parse("20060102-150405", base[i+1:])
	if err != nil {
		return "", time.Time{}, false
	}
	return base[:i], t, true
}
