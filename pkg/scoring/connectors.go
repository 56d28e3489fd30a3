package scoring

import (
	"context"
	"fmt"
	"time"

	"github.com/OFFIS-RIT/kinship/pkg/cache"
	"github.com/OFFIS-RIT/kinship/pkg/common"
	"github.com/OFFIS-RIT/kinship/pkg/metrics"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const (
	DefaultConnectorLimit = 10
	MaxConnectorLimit     = 100
)

// KeyConnectors ranks nodes of the latest stored centrality run by
// betweenness, highest first. It never computes centrality; without a run
// the result is empty.
func (e *Engine) KeyConnectors(ctx context.Context, minCentrality float64, limit int) ([]common.RankedNode, error) {
	if limit == 0 {
		limit = DefaultConnectorLimit
	}
	if limit < 0 || limit > MaxConnectorLimit {
		return nil, common.InvalidParameter("find key connectors", "limit must be between 1 and %d, got %d", MaxConnectorLimit, limit)
	}
	if minCentrality < 0 {
		return nil, common.InvalidParameter("find key connectors", "min_centrality must not be negative")
	}

	ctx, span := tracer.Start(ctx, "scoring.Engine.KeyConnectors",
		trace.WithAttributes(
			attribute.Float64("min_centrality", minCentrality),
			attribute.Int("limit", limit),
		),
	)
	defer span.End()
	started := time.Now()
	defer func() {
		metrics.RequestDuration.WithLabelValues("key_connectors").Observe(time.Since(started).Seconds())
	}()

	run, err := e.store.LatestScoreRun(ctx, common.ScoreCentrality, common.EntityDeveloper)
	if err != nil {
		return nil, e.spanErr(span, common.Unavailable("find key connectors", err))
	}
	if run == nil {
		return []common.RankedNode{}, nil
	}
	span.SetAttributes(attribute.String("run_id", run.RunID))

	key := fmt.Sprintf("connectors:%s:%g:%d", run.RunID, minCentrality, limit)
	nodes, err := cache.Memoize(ctx, e.memo, key, e.opts.CacheTTL, func(ctx context.Context) ([]common.RankedNode, error) {
		scores, err := e.store.TopScores(ctx, run.RunID, common.ScoreCentrality, minCentrality, limit)
		if err != nil {
			return nil, err
		}
		out := make([]common.RankedNode, len(scores))
		for i, s := range scores {
			out[i] = common.RankedNode{NodeID: s.NodeID, Value: s.Value}
		}
		return out, nil
	})
	if err != nil {
		return nil, e.spanErr(span, common.Unavailable("find key connectors", err))
	}
	return nodes, nil
}
