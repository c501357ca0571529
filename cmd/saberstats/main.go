package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.uber.org/fx"

	fxmodules "saberstats/internal/fx"
	"saberstats/internal/progress"
	"saberstats/internal/repository"
	"saberstats/internal/service"
	"saberstats/internal/snapshot"
)

const usage = `usage:
  saberstats snapshot <steam_id>            create a snapshot for a player
  saberstats sync [-country CC] [-steam-id ID]   refresh ranking caches and the player index
  saberstats rescan                         rebuild the snapshot catalog from the snapshot files
`

type command struct {
	name    string
	steamID string
	country string
}

func main() {
	cmd, err := parseArgs(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	fx.New(
		fx.NopLogger,
		fxmodules.Module,
		fx.Invoke(func(
			lc fx.Lifecycle,
			sd fx.Shutdowner,
			snapshots *service.SnapshotService,
			syncSvc *service.SyncService,
			catalog *repository.CatalogRepository,
			snapStore *snapshot.Store,
			db *sql.DB,
			log zerolog.Logger,
		) {
			run(lc, sd, cmd, snapshots, syncSvc, catalog, snapStore, db, log)
		}),
	).Run()
}

func parseArgs(args []string) (*command, error) {
	if len(args) == 0 {
		return nil, fmt.Errorf("missing command")
	}

	switch args[0] {
	case "snapshot":
		if len(args) != 2 || args[1] == "" {
			return nil, fmt.Errorf("snapshot: exactly one steam_id argument required")
		}
		return &command{name: "snapshot", steamID: args[1]}, nil
	case "sync":
		fs := flag.NewFlagSet("sync", flag.ContinueOnError)
		country := fs.String("country", "", "scope the ScoreSaber/BeatLeader crawls to a 2-letter country code")
		steamID := fs.String("steam-id", "", "target player; the crawl scope is resolved from this player's country")
		if err := fs.Parse(args[1:]); err != nil {
			return nil, err
		}
		return &command{name: "sync", steamID: *steamID, country: strings.ToUpper(*country)}, nil
	case "rescan":
		if len(args) != 1 {
			return nil, fmt.Errorf("rescan takes no arguments")
		}
		return &command{name: "rescan"}, nil
	default:
		return nil, fmt.Errorf("unknown command %q", args[0])
	}
}

func run(
	lc fx.Lifecycle,
	sd fx.Shutdowner,
	cmd *command,
	snapshots *service.SnapshotService,
	syncSvc *service.SyncService,
	catalog *repository.CatalogRepository,
	snapStore *snapshot.Store,
	db *sql.DB,
	log zerolog.Logger,
) {
	runID := uuid.NewString()
	logger := log.With().Str("run_id", runID).Str("command", cmd.name).Logger()

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go func() {
				err := execute(context.Background(), cmd, snapshots, syncSvc, catalog, snapStore, logger)
				code := 0
				if err != nil {
					if progress.Canceled(err) {
						logger.Info().Msg("operation canceled")
					} else {
						logger.Error().Err(err).Msg("operation failed")
					}
					code = 1
				}
				_ = sd.Shutdown(fx.ExitCode(code))
			}()
			return nil
		},
		OnStop: func(context.Context) error {
			if err := db.Close(); err != nil {
				logger.Warn().Err(err).Msg("error closing database")
			}
			return nil
		},
	})
}

func execute(
	ctx context.Context,
	cmd *command,
	snapshots *service.SnapshotService,
	syncSvc *service.SyncService,
	catalog *repository.CatalogRepository,
	snapStore *snapshot.Store,
	logger zerolog.Logger,
) error {
	switch cmd.name {
	case "snapshot":
		logger.Info().Str("steam_id", cmd.steamID).Msg("creating snapshot")
		snap, path, err := snapshots.Create(ctx, cmd.steamID, terminalProgress())
		fmt.Println()
		if err != nil {
			return err
		}
		logger.Info().Str("path", path).Str("taken_at", snap.TakenAt).Msg("snapshot created")
		fmt.Printf("Snapshot created: %s\n", path)
		return nil
	case "sync":
		logger.Info().Str("steam_id", cmd.steamID).Str("country", cmd.country).Msg("running ranking sync")
		err := syncSvc.EnsureGlobalRankCaches(ctx, cmd.steamID, cmd.country, terminalProgress())
		fmt.Println()
		return err
	case "rescan":
		indexed, err := catalog.Rescan(ctx, snapStore)
		if err != nil {
			return err
		}
		logger.Info().Int("indexed", indexed).Msg("catalog rescan finished")
		fmt.Printf("Indexed %d snapshot(s)\n", indexed)
		return nil
	default:
		return fmt.Errorf("unknown command %q", cmd.name)
	}
}

// terminalProgress renders a single-line progress bar, rewritten in place.
func terminalProgress() progress.Func {
	const barWidth = 40
	return func(message string, fraction float64) error {
		filled := int(barWidth * fraction)
		bar := strings.Repeat("#", filled) + strings.Repeat("-", barWidth-filled)
		fmt.Printf("\r[%s] %3d%% %-50s", bar, int(fraction*100), message)
		return nil
	}
}
