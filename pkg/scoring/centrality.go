package scoring

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sort"
	"time"

	"github.com/OFFIS-RIT/kinship/pkg/common"
	"github.com/OFFIS-RIT/kinship/pkg/graph"
	"github.com/OFFIS-RIT/kinship/pkg/logger"
	"github.com/OFFIS-RIT/kinship/pkg/metrics"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
)

// CentralityParams selects the betweenness strategy. Sampled runs draw
// SampleSize source pivots from a generator seeded with Seed.
type CentralityParams struct {
	Strategy   common.Strategy `json:"strategy"`
	SampleSize int             `json:"sample_size,omitempty"`
	Seed       uint64          `json:"seed,omitempty"`
}

// CentralityValues holds per-node results in snapshot index order.
type CentralityValues struct {
	Betweenness  []float64
	Reachability []float64
	Sources      int
}

// Centrality runs Brandes over the unweighted snapshot. Betweenness is
// normalised by (n-1)(n-2)/2 and, for sampled runs, scaled by n/k.
// Reachability is harmonic closeness averaged over the sources reaching the
// node. The context is checked between sources.
func Centrality(ctx context.Context, snap *graph.Snapshot, p CentralityParams) (CentralityValues, error) {
	n := snap.Len()
	res := CentralityValues{
		Betweenness:  make([]float64, n),
		Reachability: make([]float64, n),
	}
	if n == 0 {
		return res, nil
	}

	sources := make([]int, n)
	for i := range sources {
		sources[i] = i
	}
	if p.Strategy == common.StrategySampled && p.SampleSize < n {
		r := rand.New(rand.NewPCG(p.Seed, p.Seed^0x9e3779b97f4a7c15))
		sources = r.Perm(n)[:p.SampleSize]
		sort.Ints(sources)
	}
	res.Sources = len(sources)

	var (
		dist  = make([]int, n)
		sigma = make([]float64, n)
		delta = make([]float64, n)
		preds = make([][]int, n)
		stack = make([]int, 0, n)
		queue = make([]int, 0, n)
		harm  = make([]float64, n)
		seen  = make([]int, n)
	)

	for _, s := range sources {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		for i := 0; i < n; i++ {
			dist[i] = -1
			sigma[i] = 0
			delta[i] = 0
			preds[i] = preds[i][:0]
		}
		stack = stack[:0]
		queue = append(queue[:0], s)
		dist[s] = 0
		sigma[s] = 1

		for head := 0; head < len(queue); head++ {
			v := queue[head]
			stack = append(stack, v)
			for _, nb := range snap.Neighbors(v) {
				w := nb.To
				if dist[w] < 0 {
					dist[w] = dist[v] + 1
					queue = append(queue, w)
				}
				if dist[w] == dist[v]+1 {
					sigma[w] += sigma[v]
					preds[w] = append(preds[w], v)
				}
			}
		}

		for i := len(stack) - 1; i >= 0; i-- {
			w := stack[i]
			for _, v := range preds[w] {
				delta[v] += sigma[v] / sigma[w] * (1 + delta[w])
			}
			if w != s {
				res.Betweenness[w] += delta[w]
				harm[w] += 1 / float64(dist[w])
			}
		}
		for t := 0; t < n; t++ {
			if t != s {
				seen[t]++
			}
		}
	}

	var scale float64
	if n > 2 {
		// each unordered pair is counted from both endpoints
		scale = 1 / float64((n-1)*(n-2))
		if len(sources) < n {
			scale *= float64(n) / float64(len(sources))
		}
	}
	for i := range res.Betweenness {
		res.Betweenness[i] *= scale
		if seen[i] > 0 {
			res.Reachability[i] = harm[i] / float64(seen[i])
		}
	}
	return res, nil
}

type CentralityResult struct {
	RunID      string          `json:"run_id"`
	Generation int64           `json:"generation"`
	Strategy   common.Strategy `json:"strategy"`
	SampleSize int             `json:"sample_size,omitempty"`
	Seed       uint64          `json:"seed,omitempty"`
	Nodes      int             `json:"nodes"`
	Edges      int             `json:"edges"`
}

// ChooseStrategy picks exact Brandes for graphs within the exact limits and
// sampled Brandes above them. Graphs above MaxEdges are rejected.
func (e *Engine) ChooseStrategy(nodes, edges int) (CentralityParams, error) {
	if edges > e.opts.MaxEdges {
		return CentralityParams{}, common.Overloaded("centrality",
			"graph has %d edges, limit is %d: too large, use sampling", edges, e.opts.MaxEdges)
	}
	if nodes <= e.opts.ExactNodeLimit && edges <= e.opts.ExactEdgeLimit {
		return CentralityParams{Strategy: common.StrategyExact}, nil
	}
	return CentralityParams{Strategy: common.StrategySampled, SampleSize: e.opts.SampleSize, Seed: e.opts.Seed}, nil
}

// ComputeCentrality recomputes centrality and reachability for the active
// generation and stores them as one run. It is meant for background
// workers; interactive callers read the stored run through KeyConnectors.
func (e *Engine) ComputeCentrality(ctx context.Context) (CentralityResult, error) {
	if e.snapshots == nil {
		return CentralityResult{}, errors.New("centrality needs a snapshot cache")
	}
	ctx, span := tracer.Start(ctx, "scoring.Engine.ComputeCentrality")
	defer span.End()
	started := time.Now()

	snap, err := e.snapshots.Get(ctx)
	if err != nil {
		return CentralityResult{}, e.spanErr(span, err)
	}
	params, err := e.ChooseStrategy(snap.Len(), snap.EdgeCount())
	if err != nil {
		return CentralityResult{}, e.spanErr(span, err)
	}
	span.SetAttributes(
		attribute.Int64("generation", snap.Generation()),
		attribute.Int("node_count", snap.Len()),
		attribute.Int("edge_count", snap.EdgeCount()),
		attribute.String("strategy", string(params.Strategy)),
	)

	runCtx, cancel := context.WithTimeout(ctx, e.opts.Timeout)
	defer cancel()
	values, err := Centrality(runCtx, snap, params)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			err = common.Overloaded("centrality", "computation exceeded %s, use sampling", e.opts.Timeout)
		}
		return CentralityResult{}, e.spanErr(span, err)
	}

	now := e.now()
	run := common.ScoreRun{
		RunID:      uuid.NewString(),
		Kind:       common.ScoreCentrality,
		EntityKind: common.EntityDeveloper,
		Strategy:   params.Strategy,
		Generation: snap.Generation(),
		NodeCount:  snap.Len(),
		ComputedAt: now,
		Params: map[string]any{
			"normalization": "(n-1)(n-2)/2",
			"sources":       values.Sources,
			"weighted":      false,
		},
	}
	if params.Strategy == common.StrategySampled {
		run.Params["sample_size"] = params.SampleSize
		run.Params["seed"] = params.Seed
	}

	scores := make([]common.Score, 0, 2*snap.Len())
	for i, id := range snap.Nodes() {
		degree := float64(len(snap.Neighbors(i)))
		scores = append(scores,
			common.Score{
				RunID:      run.RunID,
				NodeID:     id,
				Kind:       common.ScoreCentrality,
				Value:      values.Betweenness[i],
				ComputedAt: now,
				Inputs:     map[string]float64{"degree": degree},
			},
			common.Score{
				RunID:      run.RunID,
				NodeID:     id,
				Kind:       common.ScoreReachability,
				Value:      values.Reachability[i],
				ComputedAt: now,
				Inputs:     map[string]float64{"degree": degree},
			},
		)
	}
	if err := e.store.SaveScoreRun(ctx, run, scores); err != nil {
		return CentralityResult{}, e.spanErr(span, fmt.Errorf("failed to save centrality run: %w", err))
	}

	metrics.RunDuration.WithLabelValues("centrality").Observe(time.Since(started).Seconds())
	logger.Info("[Scoring] Centrality run stored",
		"run_id", run.RunID, "generation", snap.Generation(), "strategy", params.Strategy, "nodes", snap.Len(), "took", time.Since(started))

	span.SetAttributes(attribute.String("run_id", run.RunID))
	return CentralityResult{
		RunID:      run.RunID,
		Generation: snap.Generation(),
		Strategy:   params.Strategy,
		SampleSize: params.SampleSize,
		Seed:       params.Seed,
		Nodes:      snap.Len(),
		Edges:      snap.EdgeCount(),
	}, nil
}
