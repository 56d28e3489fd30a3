package scoring

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/OFFIS-RIT/kinship/pkg/common"
	"github.com/OFFIS-RIT/kinship/pkg/logger"
	"github.com/OFFIS-RIT/kinship/pkg/metrics"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Signal is one weighted input of an importance score. Count signals are
// mapped to [0,1] by log1p(x)/log1p(Reference); a zero Reference marks a
// signal that is already normalised.
type Signal struct {
	Name      string  `json:"name"`
	Weight    float64 `json:"weight"`
	Reference float64 `json:"reference"`
}

var RepositorySignals = []Signal{
	{Name: "stars", Weight: 0.4, Reference: 10000},
	{Name: "forks", Weight: 0.2, Reference: 2000},
	{Name: "contributors", Weight: 0.25, Reference: 100},
	{Name: "freshness", Weight: 0.15},
}

var DeveloperSignals = []Signal{
	{Name: "followers", Weight: 0.4, Reference: 5000},
	{Name: "merged_contributions", Weight: 0.4, Reference: 2000},
	{Name: "repository_breadth", Weight: 0.2, Reference: 50},
}

func (s Signal) normalize(x float64) float64 {
	if x <= 0 || math.IsNaN(x) {
		return 0
	}
	if s.Reference <= 0 {
		return math.Min(1, x)
	}
	return math.Min(1, math.Log1p(x)/math.Log1p(s.Reference))
}

// Importance combines raw signal values into a score in [floor, ceiling].
// Missing signals count as zero. The result is non-decreasing in every
// signal. The returned inputs record raw values, weights and references.
func Importance(signals []Signal, raw map[string]float64, floor, ceiling float64) (float64, map[string]float64) {
	inputs := make(map[string]float64, len(signals)*3)
	var sum, total float64
	for _, s := range signals {
		x := raw[s.Name]
		n := s.normalize(x)
		sum += s.Weight * n
		total += s.Weight
		inputs[s.Name] = x
		inputs[s.Name+".weight"] = s.Weight
		inputs[s.Name+".reference"] = s.Reference
	}
	if total <= 0 {
		return floor, inputs
	}
	return floor + (ceiling-floor)*sum/total, inputs
}

// Freshness decays from 1 for activity at now with the given half-life.
func Freshness(last *time.Time, now time.Time, halfLifeDays float64) float64 {
	if last == nil || last.IsZero() {
		return 0
	}
	age := now.Sub(*last).Hours() / 24
	if age < 0 {
		age = 0
	}
	return math.Exp(-math.Ln2 * age / halfLifeDays)
}

type ScoreResult struct {
	RunID       string            `json:"run_id"`
	Kind        common.EntityKind `json:"kind"`
	ScoredCount int               `json:"scored_count"`
}

// ScoreEntities recomputes importance for every entity of kind, or for the
// ids in scope only. The run replaces the previous importance run of kind;
// a scoped run keeps the previous scores of every id outside its scope.
func (e *Engine) ScoreEntities(ctx context.Context, kind common.EntityKind, scope []string) (ScoreResult, error) {
	if !kind.Valid() {
		return ScoreResult{}, common.InvalidParameter("score entities", "unknown entity kind %q", kind)
	}
	ctx, span := tracer.Start(ctx, "scoring.Engine.ScoreEntities",
		trace.WithAttributes(
			attribute.String("kind", string(kind)),
			attribute.Int("scope", len(scope)),
		),
	)
	defer span.End()
	started := time.Now()

	now := e.now()
	run := common.ScoreRun{
		RunID:      uuid.NewString(),
		Kind:       common.ScoreImportance,
		EntityKind: kind,
		Strategy:   common.StrategyWeightedLog,
		ComputedAt: now,
	}

	var scores []common.Score
	var signals []Signal
	switch kind {
	case common.EntityRepository:
		signals = RepositorySignals
		rows, err := e.store.RepositorySignals(ctx, scope)
		if err != nil {
			return ScoreResult{}, e.spanErr(span, common.Unavailable("score entities", err))
		}
		for _, r := range rows {
			raw := map[string]float64{
				"stars":        float64(r.Stars),
				"forks":        float64(r.Forks),
				"contributors": float64(r.Contributors),
				"freshness":    Freshness(r.LastActivity, now, e.opts.FreshnessHalfLifeDays),
			}
			scores = append(scores, e.score(run, common.RepositoryID(r.RepositoryID), signals, raw))
		}
	case common.EntityDeveloper:
		signals = DeveloperSignals
		rows, err := e.store.DeveloperSignals(ctx, scope)
		if err != nil {
			return ScoreResult{}, e.spanErr(span, common.Unavailable("score entities", err))
		}
		for _, r := range rows {
			raw := map[string]float64{
				"followers":            float64(r.Followers),
				"merged_contributions": float64(r.MergedContributions),
				"repository_breadth":   float64(r.RepositoryBreadth),
			}
			scores = append(scores, e.score(run, common.PersonID(r.PersonID), signals, raw))
		}
	}

	scored := len(scores)
	if len(scope) > 0 {
		carried, err := e.carryOver(ctx, run, scope)
		if err != nil {
			return ScoreResult{}, e.spanErr(span, err)
		}
		scores = append(scores, carried...)
	}

	run.NodeCount = len(scores)
	run.Params = map[string]any{
		"floor":   e.opts.Floor,
		"ceiling": e.opts.Ceiling,
		"signals": signals,
	}
	if len(scope) > 0 {
		run.Params["scope"] = scope
	}
	if kind == common.EntityRepository {
		run.Params["freshness_half_life_days"] = e.opts.FreshnessHalfLifeDays
	}

	if err := e.store.SaveScoreRun(ctx, run, scores); err != nil {
		return ScoreResult{}, e.spanErr(span, fmt.Errorf("failed to save importance run: %w", err))
	}

	metrics.RunDuration.WithLabelValues("importance_" + string(kind)).Observe(time.Since(started).Seconds())
	span.SetAttributes(attribute.Int("scored_count", scored), attribute.String("run_id", run.RunID))
	logger.Info("[Scoring] Importance run stored", "kind", kind, "run_id", run.RunID, "scored", scored, "carried", len(scores)-scored)
	return ScoreResult{RunID: run.RunID, Kind: kind, ScoredCount: scored}, nil
}

// carryOver returns the scores of the previous importance run of run's
// entity kind for ids outside scope, moved into run. A scoped run
// supersedes only the ids it scored.
func (e *Engine) carryOver(ctx context.Context, run common.ScoreRun, scope []string) ([]common.Score, error) {
	prev, err := e.store.LatestScoreRun(ctx, common.ScoreImportance, run.EntityKind)
	if err != nil {
		return nil, common.Unavailable("score entities", err)
	}
	if prev == nil {
		return nil, nil
	}
	old, err := e.store.TopScores(ctx, prev.RunID, common.ScoreImportance, math.Inf(-1), 0)
	if err != nil {
		return nil, common.Unavailable("score entities", err)
	}

	inScope := make(map[common.NodeID]struct{}, len(scope))
	for _, id := range scope {
		if run.EntityKind == common.EntityRepository {
			inScope[common.RepositoryID(id)] = struct{}{}
		} else {
			inScope[common.PersonID(id)] = struct{}{}
		}
	}
	var out []common.Score
	for _, sc := range old {
		if _, ok := inScope[sc.NodeID]; ok {
			continue
		}
		sc.RunID = run.RunID
		out = append(out, sc)
	}
	return out, nil
}

func (e *Engine) score(run common.ScoreRun, id common.NodeID, signals []Signal, raw map[string]float64) common.Score {
	value, inputs := Importance(signals, raw, e.opts.Floor, e.opts.Ceiling)
	return common.Score{
		RunID:      run.RunID,
		NodeID:     id,
		Kind:       common.ScoreImportance,
		Value:      value,
		ComputedAt: run.ComputedAt,
		Inputs:     inputs,
	}
}

func (e *Engine) spanErr(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}
