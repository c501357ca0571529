package fx

import (
	"github.com/rs/zerolog"
	"go.uber.org/fx"

	"saberstats/internal/api"
	"saberstats/internal/cache"
	"saberstats/internal/config"
	"saberstats/internal/database"
	"saberstats/internal/index"
	"saberstats/internal/logger"
	"saberstats/internal/repository"
	"saberstats/internal/service"
	"saberstats/internal/snapshot"
)

func ProvideCacheStore(cfg *config.Config, log zerolog.Logger) (*cache.Store, error) {
	return cache.NewStore(cfg.CacheDir, log)
}

func ProvideSnapshotStore(cfg *config.Config, log zerolog.Logger) (*snapshot.Store, error) {
	return snapshot.NewStore(cfg.SnapshotDir, log)
}

func ProvideAPIClient(cfg *config.Config, log zerolog.Logger) *api.Client {
	return api.NewClientWithTimeout(cfg.HTTPTimeout, log)
}

var Module = fx.Options(
	fx.Provide(logger.New),
	fx.Provide(config.Load),
	fx.Provide(database.New),
	fx.Provide(ProvideCacheStore),
	fx.Provide(ProvideSnapshotStore),
	// repos
	fx.Provide(repository.NewCatalogRepository),
	// api clients
	fx.Provide(ProvideAPIClient),
	fx.Provide(api.NewScoreSaberClient),
	fx.Provide(api.NewBeatLeaderClient),
	fx.Provide(api.NewAccSaberClient),
	// index
	fx.Provide(index.New),
	// svc
	fx.Provide(service.NewSyncService),
	fx.Provide(service.NewMapsService),
	fx.Provide(service.NewScoresService),
	fx.Provide(service.NewSnapshotService),
)
