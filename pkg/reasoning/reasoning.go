// Package reasoning implements the analytics built on top of the published
// graph: feature similarity, community detection and concept path sampling.
package reasoning

import (
	"context"
	"time"

	"github.com/OFFIS-RIT/kinship/pkg/cache"
	"github.com/OFFIS-RIT/kinship/pkg/common"
	"github.com/OFFIS-RIT/kinship/pkg/graph"
	"github.com/OFFIS-RIT/kinship/pkg/store"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("reasoning")

// Store is the persistence the reasoning service needs.
type Store interface {
	RepositorySignals(ctx context.Context, scope []string) ([]common.RepositorySignals, error)
	DeveloperSignals(ctx context.Context, scope []string) ([]common.DeveloperSignals, error)
	TaggedNodes(ctx context.Context, tag string) ([]common.NodeID, error)
	store.CommunityStore
	store.FeatureStore
}

// Archiver keeps a durable copy of finished runs, e.g. in object storage.
type Archiver interface {
	ArchiveRun(ctx context.Context, kind, runID string, run any) error
}

type Options struct {
	FreshnessHalfLifeDays float64

	Resolution       float64
	MaxIterations    int
	Seed             uint64
	CommunityTimeout time.Duration

	PathTimeout time.Duration
	CacheTTL    time.Duration
}

func DefaultOptions() Options {
	return Options{
		FreshnessHalfLifeDays: 180,
		Resolution:            1,
		MaxIterations:         100,
		Seed:                  1,
		CommunityTimeout:      10 * time.Minute,
		PathTimeout:           5 * time.Second,
		CacheTTL:              5 * time.Minute,
	}
}

func (o *Options) applyDefaults() {
	d := DefaultOptions()
	if o.FreshnessHalfLifeDays <= 0 {
		o.FreshnessHalfLifeDays = d.FreshnessHalfLifeDays
	}
	if o.Resolution <= 0 {
		o.Resolution = d.Resolution
	}
	if o.MaxIterations <= 0 {
		o.MaxIterations = d.MaxIterations
	}
	if o.CommunityTimeout <= 0 {
		o.CommunityTimeout = d.CommunityTimeout
	}
	if o.PathTimeout <= 0 {
		o.PathTimeout = d.PathTimeout
	}
	if o.CacheTTL <= 0 {
		o.CacheTTL = d.CacheTTL
	}
}

type Service struct {
	store     Store
	snapshots *graph.SnapshotCache
	memo      *cache.Memoizer
	archive   Archiver
	opts      Options
	now       func() time.Time
}

// NewService returns a reasoning service. c and archive may be nil.
func NewService(s Store, snapshots *graph.SnapshotCache, c cache.Cache, archive Archiver, opts Options) *Service {
	opts.applyDefaults()
	return &Service{
		store:     s,
		snapshots: snapshots,
		memo:      cache.NewMemoizer(c),
		archive:   archive,
		opts:      opts,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

func (s *Service) Options() Options { return s.opts }

func spanErr(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}
