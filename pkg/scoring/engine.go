// Package scoring computes importance scores from observable signals and
// structural centrality over the published graph.
package scoring

import (
	"context"
	"time"

	"github.com/OFFIS-RIT/kinship/pkg/cache"
	"github.com/OFFIS-RIT/kinship/pkg/common"
	"github.com/OFFIS-RIT/kinship/pkg/graph"
	"github.com/OFFIS-RIT/kinship/pkg/store"

	"go.opentelemetry.io/otel"
)

var tracer = otel.Tracer("scoring")

// Store is the persistence the engine reads signals from and writes runs to.
type Store interface {
	RepositorySignals(ctx context.Context, scope []string) ([]common.RepositorySignals, error)
	DeveloperSignals(ctx context.Context, scope []string) ([]common.DeveloperSignals, error)
	store.ScoreStore
}

type Options struct {
	// Floor and Ceiling bound importance scores.
	Floor   float64
	Ceiling float64
	// FreshnessHalfLifeDays controls the repository recency signal.
	FreshnessHalfLifeDays float64

	// Graphs above either exact limit use sampled Brandes.
	ExactNodeLimit int
	ExactEdgeLimit int
	// MaxEdges rejects centrality runs outright.
	MaxEdges   int
	SampleSize int
	Seed       uint64
	Timeout    time.Duration

	CacheTTL time.Duration
}

func DefaultOptions() Options {
	return Options{
		Floor:                 0,
		Ceiling:               100,
		FreshnessHalfLifeDays: 180,
		ExactNodeLimit:        20000,
		ExactEdgeLimit:        200000,
		MaxEdges:              5000000,
		SampleSize:            512,
		Seed:                  1,
		Timeout:               30 * time.Minute,
		CacheTTL:              5 * time.Minute,
	}
}

func (o *Options) applyDefaults() {
	d := DefaultOptions()
	if o.Ceiling <= o.Floor {
		o.Floor, o.Ceiling = d.Floor, d.Ceiling
	}
	if o.FreshnessHalfLifeDays <= 0 {
		o.FreshnessHalfLifeDays = d.FreshnessHalfLifeDays
	}
	if o.ExactNodeLimit <= 0 {
		o.ExactNodeLimit = d.ExactNodeLimit
	}
	if o.ExactEdgeLimit <= 0 {
		o.ExactEdgeLimit = d.ExactEdgeLimit
	}
	if o.MaxEdges <= 0 {
		o.MaxEdges = d.MaxEdges
	}
	if o.SampleSize <= 0 {
		o.SampleSize = d.SampleSize
	}
	if o.Timeout <= 0 {
		o.Timeout = d.Timeout
	}
	if o.CacheTTL <= 0 {
		o.CacheTTL = d.CacheTTL
	}
}

type Engine struct {
	store     Store
	snapshots *graph.SnapshotCache
	memo      *cache.Memoizer
	opts      Options
	now       func() time.Time
}

// NewEngine returns a scoring engine. snapshots may be nil when only
// importance runs and connector lookups are needed; c may be nil.
func NewEngine(s Store, snapshots *graph.SnapshotCache, c cache.Cache, opts Options) *Engine {
	opts.applyDefaults()
	return &Engine{
		store:     s,
		snapshots: snapshots,
		memo:      cache.NewMemoizer(c),
		opts:      opts,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

func (e *Engine) Options() Options { return e.opts }
