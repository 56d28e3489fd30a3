package reasoning

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/OFFIS-RIT/kinship/pkg/common"
	"github.com/OFFIS-RIT/kinship/pkg/graph"
	"github.com/OFFIS-RIT/kinship/pkg/logger"
	"github.com/OFFIS-RIT/kinship/pkg/metrics"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const MaxIterationsLimit = 1000

type CommunityResult struct {
	RunID          string                `json:"run_id"`
	Algorithm      string                `json:"algorithm"`
	Generation     int64                 `json:"generation"`
	CommunityCount int                   `json:"community_count"`
	Modularity     float64               `json:"modularity"`
	Assignments    map[common.NodeID]int `json:"assignments"`
}

func resultOf(run common.CommunityRun) CommunityResult {
	return CommunityResult{
		RunID:          run.RunID,
		Algorithm:      run.Algorithm,
		Generation:     run.Generation,
		CommunityCount: len(run.Communities),
		Modularity:     run.Modularity,
		Assignments:    run.Assignments(),
	}
}

func (s *Service) detectParams(p DetectParams) (DetectParams, error) {
	if p.Resolution < 0 {
		return p, common.InvalidParameter("detect communities", "resolution must be positive")
	}
	if p.Resolution == 0 {
		p.Resolution = s.opts.Resolution
	}
	if p.MaxIterations < 0 || p.MaxIterations > MaxIterationsLimit {
		return p, common.InvalidParameter("detect communities", "max_iterations must be between 1 and %d", MaxIterationsLimit)
	}
	if p.MaxIterations == 0 {
		p.MaxIterations = s.opts.MaxIterations
	}
	if p.Seed == 0 {
		p.Seed = s.opts.Seed
	}
	return p, nil
}

// Partition runs detector over snap and turns its labels into communities
// with dense cluster ids in order of the smallest member. Graphs with fewer
// than two nodes yield one trivial community.
func Partition(ctx context.Context, d Detector, snap *graph.Snapshot, p DetectParams) ([]common.Community, float64, error) {
	if snap.Len() < 2 {
		return []common.Community{{ClusterID: 0, Members: append([]common.NodeID{}, snap.Nodes()...)}}, 0, nil
	}
	labels, err := d.Detect(ctx, snap, p)
	if err != nil {
		return nil, 0, err
	}
	if len(labels) != snap.Len() {
		return nil, 0, fmt.Errorf("detector returned %d labels for %d nodes", len(labels), snap.Len())
	}
	dense, k := densify(labels)
	communities := make([]common.Community, k)
	for c := range communities {
		communities[c].ClusterID = c
	}
	for i, c := range dense {
		communities[c].Members = append(communities[c].Members, snap.Node(i))
	}
	for _, c := range communities {
		sort.Slice(c.Members, func(i, j int) bool { return c.Members[i] < c.Members[j] })
	}
	return communities, Modularity(snap, dense, p.Resolution), nil
}

// DetectCommunities partitions the active generation with the named
// algorithm and stores the run. When an archiver is configured the run is
// also archived; archive failures are logged only.
func (s *Service) DetectCommunities(ctx context.Context, algorithm string, params DetectParams) (CommunityResult, error) {
	detector, ok := DetectorByName(algorithm)
	if !ok {
		return CommunityResult{}, common.InvalidParameter("detect communities", "unknown algorithm %q, expected one of %v", algorithm, Algorithms())
	}
	params, err := s.detectParams(params)
	if err != nil {
		return CommunityResult{}, err
	}
	if s.snapshots == nil {
		return CommunityResult{}, errors.New("community detection needs a snapshot cache")
	}

	ctx, span := tracer.Start(ctx, "reasoning.Service.DetectCommunities",
		trace.WithAttributes(
			attribute.String("algorithm", algorithm),
			attribute.Float64("resolution", params.Resolution),
			attribute.Int64("seed", int64(params.Seed)),
		),
	)
	defer span.End()
	started := time.Now()

	snap, err := s.snapshots.Get(ctx)
	if err != nil {
		return CommunityResult{}, spanErr(span, err)
	}

	runCtx, cancel := context.WithTimeout(ctx, s.opts.CommunityTimeout)
	defer cancel()
	communities, modularity, err := Partition(runCtx, detector, snap, params)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			err = common.Overloaded("detect communities", "%s exceeded %s", algorithm, s.opts.CommunityTimeout)
		}
		return CommunityResult{}, spanErr(span, err)
	}

	run := common.CommunityRun{
		RunID:     uuid.NewString(),
		Algorithm: algorithm,
		Params: map[string]any{
			"resolution":     params.Resolution,
			"max_iterations": params.MaxIterations,
			"seed":           params.Seed,
		},
		Modularity:  modularity,
		Communities: communities,
		Generation:  snap.Generation(),
		ComputedAt:  s.now(),
	}
	if err := s.store.SaveCommunityRun(ctx, run); err != nil {
		return CommunityResult{}, spanErr(span, fmt.Errorf("failed to save community run: %w", err))
	}
	if s.archive != nil {
		if err := s.archive.ArchiveRun(ctx, "communities", run.RunID, run); err != nil {
			logger.Warn("[Reasoning] Failed to archive community run", "run_id", run.RunID, "err", err)
		}
	}

	metrics.RunDuration.WithLabelValues("communities").Observe(time.Since(started).Seconds())
	span.SetAttributes(attribute.Int("community_count", len(communities)), attribute.Float64("modularity", modularity))
	logger.Info("[Reasoning] Community run stored",
		"run_id", run.RunID, "algorithm", algorithm, "communities", len(communities), "modularity", modularity, "nodes", snap.Len())
	return resultOf(run), nil
}

// LatestCommunities returns the most recent stored community run.
func (s *Service) LatestCommunities(ctx context.Context) (CommunityResult, error) {
	run, err := s.store.LatestCommunityRun(ctx)
	if err != nil {
		return CommunityResult{}, common.Unavailable("latest communities", err)
	}
	if run == nil {
		return CommunityResult{}, common.NotFound("latest communities", "no community run stored")
	}
	return resultOf(*run), nil
}
