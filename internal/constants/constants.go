package constants

import "time"

// Ranking cache floors. Players below these never enter the list caches.
const (
	ScoreSaberMinPPGlobal = 4000.0
	BeatLeaderMinPPGlobal = 5000.0
	AccSaberMinAPGlobal   = 10000.0
	AccSaberMinAPSkill    = 3000.0
)

// Page sizes per endpoint, matching each service's defaults.
const (
	ScoreSaberLeaderboardPageSize = 50
	ScoreSaberScoresPageSize      = 100
	BeatLeaderPageSize            = 100
	BeatLeaderScoresPageSize      = 50
	AccSaberPageSize              = 50
)

// Every paginated crawl is capped so a misbehaving endpoint cannot spin
// forever.
const MaxCrawlPages = 200

const (
	RateLimitMaxRetries   = 5
	RateLimitFallbackWait = 10 * time.Second
	TimeoutMaxRetries     = 3
	TimeoutRetryWait      = 5 * time.Second
)

const (
	ExternalAPITimeout  = 10 * time.Second
	PlayerLookupTimeout = 3 * time.Second
	DatabaseTimeout     = 5 * time.Second
)

// Bounded concurrency for prefetching pages of a single paginated resource
// once page 1's metadata reveals the total.
const PageFetchConcurrency = 5

const (
	DBMaxOpenConns    = 1
	DBMaxIdleConns    = 1
	DBConnMaxLifetime = 1 * time.Hour
)

const ShutdownTimeout = 5 * time.Second
