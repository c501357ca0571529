// Package repository keeps the snapshot catalog: a sqlite index over the
// snapshot files with the headline metrics, so listings and trend queries
// never reparse every JSON file. The files stay the source of truth; the
// catalog can be rebuilt from them at any time.
package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rs/zerolog"

	"saberstats/internal/constants"
	"saberstats/internal/snapshot"
)

// CatalogRow is one indexed snapshot.
type CatalogRow struct {
	ID                string
	SteamID           string
	TakenAt           time.Time
	Path              string
	ScoreSaberPP      *float64
	BeatLeaderPP      *float64
	AccSaberOverallAP *float64
}

type CatalogRepository struct {
	db     *sql.DB
	logger zerolog.Logger
}

func NewCatalogRepository(db *sql.DB, logger zerolog.Logger) *CatalogRepository {
	return &CatalogRepository{db: db, logger: logger}
}

// Upsert records a snapshot file in the catalog. The path is the natural
// key: re-indexing an already known file updates its metrics in place.
func (r *CatalogRepository) Upsert(ctx context.Context, snap *snapshot.Snapshot, path string) error {
	ctx, cancel := context.WithTimeout(ctx, constants.DatabaseTimeout)
	defer cancel()

	id, err := gonanoid.New()
	if err != nil {
		return fmt.Errorf("generating catalog id: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO snapshots (id, steam_id, taken_at, path, scoresaber_pp, beatleader_pp, accsaber_overall_ap)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (path) DO UPDATE SET
			steam_id = excluded.steam_id,
			taken_at = excluded.taken_at,
			scoresaber_pp = excluded.scoresaber_pp,
			beatleader_pp = excluded.beatleader_pp,
			accsaber_overall_ap = excluded.accsaber_overall_ap`,
		id, snap.SteamID, snap.Time().UTC(), path,
		snap.ScoreSaberPP, snap.BeatLeaderPP, snap.AccSaberOverallAP,
	)
	if err != nil {
		return fmt.Errorf("upserting snapshot catalog row: %w", err)
	}
	return nil
}

// ListByPlayer returns a player's catalog rows, oldest first.
func (r *CatalogRepository) ListByPlayer(ctx context.Context, steamID string) ([]CatalogRow, error) {
	ctx, cancel := context.WithTimeout(ctx, constants.DatabaseTimeout)
	defer cancel()

	rows, err := r.db.QueryContext(ctx, `
		SELECT id, steam_id, taken_at, path, scoresaber_pp, beatleader_pp, accsaber_overall_ap
		FROM snapshots
		WHERE steam_id = ?
		ORDER BY taken_at ASC`, steamID)
	if err != nil {
		return nil, fmt.Errorf("listing snapshot catalog: %w", err)
	}
	defer rows.Close()

	return scanRows(rows)
}

// Players returns the distinct player IDs present in the catalog.
func (r *CatalogRepository) Players(ctx context.Context) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, constants.DatabaseTimeout)
	defer cancel()

	rows, err := r.db.QueryContext(ctx, `SELECT DISTINCT steam_id FROM snapshots ORDER BY steam_id`)
	if err != nil {
		return nil, fmt.Errorf("listing catalog players: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Rescan walks the snapshot store and indexes every readable file. Files
// already cataloged are refreshed; unreadable files are skipped and logged.
// Rescan is idempotent.
func (r *CatalogRepository) Rescan(ctx context.Context, store *snapshot.Store) (int, error) {
	paths, err := store.List("")
	if err != nil {
		return 0, err
	}

	indexed := 0
	for _, path := range paths {
		snap, err := store.Load(path)
		if err != nil {
			r.logger.Warn().Err(err).Str("path", path).Msg("skipping unreadable snapshot")
			continue
		}
		if err := r.Upsert(ctx, snap, path); err != nil {
			return indexed, err
		}
		indexed++
	}
	r.logger.Info().Int("indexed", indexed).Msg("snapshot catalog rescanned")
	return indexed, nil
}

func scanRows(rows *sql.Rows) ([]CatalogRow, error) {
	var out []CatalogRow
	for rows.Next() {
		var row CatalogRow
		if err := rows.Scan(&row.ID, &row.SteamID, &row.TakenAt, &row.Path,
			&row.ScoreSaberPP, &row.BeatLeaderPP, &row.AccSaberOverallAP); err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	return out, rows.Err()
}
