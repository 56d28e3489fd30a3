// Package services wires the graph services onto Postgres, Redis and S3 for
// the server, the worker and graphctl.
package services

import (
	"context"
	"fmt"

	"github.com/OFFIS-RIT/kinship/internal/storage"
	"github.com/OFFIS-RIT/kinship/internal/util"
	"github.com/OFFIS-RIT/kinship/pkg/cache"
	"github.com/OFFIS-RIT/kinship/pkg/db"
	"github.com/OFFIS-RIT/kinship/pkg/graph"
	"github.com/OFFIS-RIT/kinship/pkg/leaselock"
	"github.com/OFFIS-RIT/kinship/pkg/logger"
	"github.com/OFFIS-RIT/kinship/pkg/reasoning"
	"github.com/OFFIS-RIT/kinship/pkg/scoring"
	pgxstore "github.com/OFFIS-RIT/kinship/pkg/store/pgx"
	"github.com/OFFIS-RIT/kinship/pkg/traversal"

	"github.com/jackc/pgx/v5/pgxpool"
)

type Config struct {
	DatabaseURL   string
	MaxConns      int
	MigrationsDir string
	// Migrate applies pending migrations on Open.
	Migrate bool

	// RedisURL enables the result cache when set.
	RedisURL string
	// SnapshotMaxEdges refuses in-memory snapshots of larger generations.
	SnapshotMaxEdges  int64
	RetainGenerations int

	S3 storage.S3Config

	Builder   graph.Options
	Traversal traversal.Options
	Scoring   scoring.Options
	Reasoning reasoning.Options
}

// ConfigFromEnv reads the service configuration. Unset variables keep the
// package defaults.
func ConfigFromEnv() Config {
	b := graph.DefaultOptions()
	b.Shards = util.GetEnvInt("BUILDER_SHARDS", b.Shards)
	b.PageSize = util.GetEnvInt("BUILDER_PAGE_SIZE", b.PageSize)
	b.WeightFloor = util.GetEnvFloat("BUILDER_WEIGHT_FLOOR", b.WeightFloor)
	b.LookbackDays = util.GetEnvInt("BUILDER_LOOKBACK_DAYS", b.LookbackDays)
	b.HalfLifeDays = util.GetEnvFloat("BUILDER_HALF_LIFE_DAYS", b.HalfLifeDays)
	b.MaxContributorsPerRepo = util.GetEnvInt("BUILDER_MAX_CONTRIBUTORS", b.MaxContributorsPerRepo)
	b.UnitsPerSecond = util.GetEnvFloat("BUILDER_UNITS_PER_SECOND", b.UnitsPerSecond)
	b.Lease.TTL = util.GetEnvDuration("BUILDER_LEASE_TTL", b.Lease.TTL)
	b.AsOf = util.GetEnvDate("BUILDER_AS_OF", b.AsOf)

	t := traversal.DefaultOptions()
	t.Timeout = util.GetEnvDuration("TRAVERSAL_TIMEOUT", t.Timeout)
	t.CacheTTL = util.GetEnvDuration("CACHE_TTL", t.CacheTTL)

	s := scoring.DefaultOptions()
	s.ExactNodeLimit = util.GetEnvInt("SCORING_EXACT_NODE_LIMIT", s.ExactNodeLimit)
	s.ExactEdgeLimit = util.GetEnvInt("SCORING_EXACT_EDGE_LIMIT", s.ExactEdgeLimit)
	s.MaxEdges = util.GetEnvInt("SCORING_MAX_EDGES", s.MaxEdges)
	s.SampleSize = util.GetEnvInt("SCORING_SAMPLE_SIZE", s.SampleSize)
	s.Seed = uint64(util.GetEnvInt("SCORING_SEED", int(s.Seed)))
	s.Timeout = util.GetEnvDuration("SCORING_TIMEOUT", s.Timeout)
	s.CacheTTL = t.CacheTTL

	r := reasoning.DefaultOptions()
	r.Resolution = util.GetEnvFloat("REASONING_RESOLUTION", r.Resolution)
	r.MaxIterations = util.GetEnvInt("REASONING_MAX_ITERATIONS", r.MaxIterations)
	r.Seed = uint64(util.GetEnvInt("REASONING_SEED", int(r.Seed)))
	r.CommunityTimeout = util.GetEnvDuration("REASONING_COMMUNITY_TIMEOUT", r.CommunityTimeout)
	r.PathTimeout = util.GetEnvDuration("REASONING_PATH_TIMEOUT", r.PathTimeout)
	r.CacheTTL = t.CacheTTL

	return Config{
		DatabaseURL:       util.GetEnv("DATABASE_URL"),
		MaxConns:          util.GetEnvInt("DATABASE_MAX_CONNS", 0),
		MigrationsDir:     util.GetEnvString("MIGRATIONS_DIR", "migrations"),
		Migrate:           util.GetEnvBool("MIGRATE_ON_START", false),
		RedisURL:          util.GetEnv("REDIS_URL"),
		SnapshotMaxEdges:  int64(util.GetEnvInt("SNAPSHOT_MAX_EDGES", s.MaxEdges)),
		RetainGenerations: util.GetEnvInt("RETAIN_GENERATIONS", 2),
		S3:                storage.S3ConfigFromEnv(),
		Builder:           b,
		Traversal:         t,
		Scoring:           s,
		Reasoning:         r,
	}
}

// Services holds the connected services of one process.
type Services struct {
	Pool      *pgxpool.Pool
	Store     *pgxstore.GraphDBStorage
	Cache     cache.Cache
	Snapshots *graph.SnapshotCache
	Archive   *storage.RunArchive

	Builder   *graph.Builder
	Traversal *traversal.Service
	Scoring   *scoring.Engine
	Reasoning *reasoning.Service

	redis *cache.Redis
}

// Open connects to every backend named in cfg. Redis and S3 are optional;
// without them results are not cached and runs are not archived.
func Open(ctx context.Context, cfg Config) (*Services, error) {
	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is not set")
	}
	if cfg.Migrate {
		if err := db.Migrate(cfg.DatabaseURL, cfg.MigrationsDir); err != nil {
			return nil, err
		}
	}

	pool, err := db.NewPool(ctx, cfg.DatabaseURL, int32(cfg.MaxConns))
	if err != nil {
		return nil, err
	}
	s := &Services{
		Pool:  pool,
		Store: pgxstore.NewGraphDBStorageWithConnection(pool, pgxstore.WithRetainedGenerations(cfg.RetainGenerations)),
		Cache: cache.Noop{},
	}

	if cfg.RedisURL != "" {
		opts := cache.DefaultRedisOptions()
		opts.URL = cfg.RedisURL
		r, err := cache.NewRedis(opts)
		if err != nil {
			pool.Close()
			return nil, err
		}
		if err := r.Ping(ctx); err != nil {
			logger.Warn("[Services] Redis not reachable, serving uncached until it is", "err", err)
		}
		s.redis = r
		s.Cache = r
	}

	var archive reasoning.Archiver
	if cfg.S3.Bucket != "" {
		client, err := storage.NewS3Client(ctx, cfg.S3)
		if err != nil {
			s.Close()
			return nil, err
		}
		s.Archive = storage.NewRunArchive(client, cfg.S3.Bucket)
		archive = s.Archive
	}

	s.Snapshots = graph.NewSnapshotCache(s.Store, cfg.SnapshotMaxEdges)
	s.Builder = graph.NewBuilder(s.Store, leaselock.New(pool), s.Cache, cfg.Builder)
	s.Traversal = traversal.NewService(s.Store, s.Cache, cfg.Traversal)
	s.Scoring = scoring.NewEngine(s.Store, s.Snapshots, s.Cache, cfg.Scoring)
	s.Reasoning = reasoning.NewService(s.Store, s.Snapshots, s.Cache, archive, cfg.Reasoning)

	logger.Info("[Services] Connected",
		"cache", cfg.RedisURL != "",
		"archive", cfg.S3.Bucket != "",
		"shards", cfg.Builder.Shards,
	)
	return s, nil
}

// Close releases the connections opened by Open.
func (s *Services) Close() {
	if s.redis != nil {
		if err := s.redis.Close(); err != nil {
			logger.Warn("[Services] Failed to close redis", "err", err)
		}
	}
	if s.Pool != nil {
		s.Pool.Close()
	}
}
