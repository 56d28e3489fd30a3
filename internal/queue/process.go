package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/OFFIS-RIT/kinship/internal/timing"
	pgdb "github.com/OFFIS-RIT/kinship/pkg/db/pgx"
	"github.com/OFFIS-RIT/kinship/pkg/graph"
	"github.com/OFFIS-RIT/kinship/pkg/logger"
	"github.com/OFFIS-RIT/kinship/pkg/reasoning"
	"github.com/OFFIS-RIT/kinship/pkg/scoring"
)

// Processor runs the background computations behind each queue.
type Processor struct {
	Builder   *graph.Builder
	Scoring   *scoring.Engine
	Reasoning *reasoning.Service
	// Timings records run durations when set.
	Timings pgdb.DBTX
	// Queue receives the continuation of page-bounded builds.
	Queue Publisher
}

// Process handles one message body from queueName.
func (p *Processor) Process(ctx context.Context, queueName string, body []byte) error {
	switch queueName {
	case BuildQueue:
		return p.ProcessBuild(ctx, body)
	case ScoreQueue:
		return p.ProcessScore(ctx, body)
	case CentralityQueue:
		return p.ProcessCentrality(ctx, body)
	case CommunityQueue:
		return p.ProcessCommunities(ctx, body)
	case FeatureQueue:
		return p.ProcessFeatures(ctx, body)
	default:
		return permanent(fmt.Errorf("unknown queue %q", queueName))
	}
}

func decode(body []byte, v any) error {
	if err := json.Unmarshal(body, v); err != nil {
		return permanent(fmt.Errorf("failed to decode message: %w", err))
	}
	return nil
}

func (p *Processor) record(ctx context.Context, kind string, units int64, started time.Time) {
	if p.Timings == nil {
		return
	}
	if err := timing.AddRunDuration(ctx, p.Timings, kind, units, time.Since(started)); err != nil {
		logger.Warn("[Queue] Failed to record run duration", "kind", kind, "err", err)
	}
}

func (p *Processor) ProcessBuild(ctx context.Context, body []byte) error {
	var msg BuildMsg
	if err := decode(body, &msg); err != nil {
		return err
	}
	started := time.Now()

	var results []graph.BuildResult
	if msg.AllShards {
		var err error
		results, err = p.Builder.RunShards(ctx, msg.BuildRequest)
		if err != nil {
			return fmt.Errorf("failed to build graph: %w", err)
		}
	} else {
		res, err := p.Builder.Run(ctx, msg.BuildRequest)
		if err != nil {
			return fmt.Errorf("failed to build shard %d: %w", msg.Shard, err)
		}
		results = []graph.BuildResult{res}
	}

	var units, edges int64
	for _, r := range results {
		units += r.UnitsProcessed
		edges += r.EdgesWritten
		if r.Published {
			logger.Info("[Queue] Generation published", "correlation_id", msg.CorrelationID, "generation", r.Generation, "edges", r.PublishedEdges)
		}
	}
	p.record(ctx, "build", units, started)
	logger.Info("[Queue] Build processed", "correlation_id", msg.CorrelationID, "shards", len(results), "units", units, "edges", edges)

	if msg.MaxPages > 0 {
		return p.continueBuild(ctx, msg, results)
	}
	return nil
}

// continueBuild enqueues one message per shard a page-bounded build left
// unfinished. The continuation resumes from the persisted cursor.
func (p *Processor) continueBuild(ctx context.Context, msg BuildMsg, results []graph.BuildResult) error {
	for _, r := range results {
		if r.Done {
			continue
		}
		if p.Queue == nil {
			logger.Warn("[Queue] No queue to continue build on", "correlation_id", msg.CorrelationID, "shard", r.Shard, "cursor", r.NextCursor)
			continue
		}
		next := BuildMsg{
			Message: msg.Message,
			BuildRequest: graph.BuildRequest{
				Shard:    r.Shard,
				PageSize: msg.PageSize,
				MaxPages: msg.MaxPages,
			},
		}
		if err := PublishJSON(ctx, p.Queue, BuildQueue, next); err != nil {
			return fmt.Errorf("failed to continue shard %d: %w", r.Shard, err)
		}
		logger.Debug("[Queue] Build continued", "correlation_id", msg.CorrelationID, "shard", r.Shard, "cursor", r.NextCursor)
	}
	return nil
}

func (p *Processor) ProcessScore(ctx context.Context, body []byte) error {
	var msg ScoreMsg
	if err := decode(body, &msg); err != nil {
		return err
	}
	started := time.Now()

	res, err := p.Scoring.ScoreEntities(ctx, msg.Kind, msg.Scope)
	if err != nil {
		return fmt.Errorf("failed to score %s: %w", msg.Kind, err)
	}
	p.record(ctx, "importance_"+string(msg.Kind), int64(res.ScoredCount), started)
	logger.Info("[Queue] Scores processed", "correlation_id", msg.CorrelationID, "run_id", res.RunID, "scored", res.ScoredCount)
	return nil
}

func (p *Processor) ProcessCentrality(ctx context.Context, body []byte) error {
	var msg CentralityMsg
	if err := decode(body, &msg); err != nil {
		return err
	}
	started := time.Now()

	res, err := p.Scoring.ComputeCentrality(ctx)
	if err != nil {
		return fmt.Errorf("failed to compute centrality: %w", err)
	}
	p.record(ctx, "centrality_"+string(res.Strategy), int64(res.Edges), started)
	logger.Info("[Queue] Centrality processed", "correlation_id", msg.CorrelationID, "run_id", res.RunID, "strategy", res.Strategy)
	return nil
}

func (p *Processor) ProcessCommunities(ctx context.Context, body []byte) error {
	var msg CommunityMsg
	if err := decode(body, &msg); err != nil {
		return err
	}
	started := time.Now()

	res, err := p.Reasoning.DetectCommunities(ctx, msg.Algorithm, msg.Params)
	if err != nil {
		return fmt.Errorf("failed to detect communities: %w", err)
	}
	p.record(ctx, "communities_"+msg.Algorithm, int64(len(res.Assignments)), started)
	logger.Info("[Queue] Communities processed", "correlation_id", msg.CorrelationID, "run_id", res.RunID, "communities", res.CommunityCount)
	return nil
}

func (p *Processor) ProcessFeatures(ctx context.Context, body []byte) error {
	var msg FeatureMsg
	if err := decode(body, &msg); err != nil {
		return err
	}
	started := time.Now()

	res, err := p.Reasoning.RefreshFeatures(ctx)
	if err != nil {
		return fmt.Errorf("failed to refresh features: %w", err)
	}
	p.record(ctx, "features", int64(res.Persons+res.Repositories), started)
	logger.Info("[Queue] Features processed", "correlation_id", msg.CorrelationID, "persons", res.Persons, "repositories", res.Repositories)
	return nil
}
