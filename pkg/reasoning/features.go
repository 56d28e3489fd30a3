package reasoning

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/OFFIS-RIT/kinship/pkg/cache"
	"github.com/OFFIS-RIT/kinship/pkg/common"
	"github.com/OFFIS-RIT/kinship/pkg/logger"
	"github.com/OFFIS-RIT/kinship/pkg/metrics"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const (
	DefaultSimilarLimit = 10
	MaxSimilarLimit     = 100
)

// PersonFeatures builds the person/v1 vector: log followers, log merged
// contributions, tenure in years and one proficiency per vocabulary skill.
func PersonFeatures(sig common.DeveloperSignals, now time.Time) common.FeatureVector {
	values := make([]float32, 0, common.PersonFeatureDims)
	values = append(values,
		float32(math.Log1p(float64(max(sig.Followers, 0)))),
		float32(math.Log1p(float64(max(sig.MergedContributions, 0)))),
		float32(math.Max(0, sig.TenureYears)),
	)
	skills := make(map[string]float64, len(sig.Skills))
	for name, level := range sig.Skills {
		skills[strings.ToLower(name)] = level
	}
	for _, name := range common.SkillVocabulary {
		values = append(values, float32(math.Max(0, math.Min(1, skills[name]))))
	}
	return common.FeatureVector{
		NodeID:     common.PersonID(sig.PersonID),
		Kind:       common.NodeKindPerson,
		Version:    common.PersonFeatureVersion,
		Values:     values,
		ComputedAt: now,
	}
}

// RepositoryFeatures builds the repo/v1 vector: log stars, log forks, log
// contributors and freshness.
func RepositoryFeatures(sig common.RepositorySignals, now time.Time, halfLifeDays float64) common.FeatureVector {
	fresh := 0.0
	if sig.LastActivity != nil && !sig.LastActivity.IsZero() {
		age := math.Max(0, now.Sub(*sig.LastActivity).Hours()/24)
		fresh = math.Exp(-math.Ln2 * age / halfLifeDays)
	}
	return common.FeatureVector{
		NodeID:  common.RepositoryID(sig.RepositoryID),
		Kind:    common.NodeKindRepository,
		Version: common.RepositoryFeatureVersion,
		Values: []float32{
			float32(math.Log1p(float64(max(sig.Stars, 0)))),
			float32(math.Log1p(float64(max(sig.Forks, 0)))),
			float32(math.Log1p(float64(max(sig.Contributors, 0)))),
			float32(fresh),
		},
		ComputedAt: now,
	}
}

type FeatureResult struct {
	Persons      int `json:"persons"`
	Repositories int `json:"repositories"`
}

// RefreshFeatures recomputes every feature vector and drops cached
// similarity results.
func (s *Service) RefreshFeatures(ctx context.Context) (FeatureResult, error) {
	ctx, span := tracer.Start(ctx, "reasoning.Service.RefreshFeatures")
	defer span.End()
	started := time.Now()
	now := s.now()

	devs, err := s.store.DeveloperSignals(ctx, nil)
	if err != nil {
		return FeatureResult{}, spanErr(span, common.Unavailable("refresh features", err))
	}
	persons := make([]common.FeatureVector, len(devs))
	for i, d := range devs {
		persons[i] = PersonFeatures(d, now)
	}
	if err := s.store.ReplaceFeatures(ctx, common.NodeKindPerson, persons); err != nil {
		return FeatureResult{}, spanErr(span, fmt.Errorf("failed to store person features: %w", err))
	}

	repos, err := s.store.RepositorySignals(ctx, nil)
	if err != nil {
		return FeatureResult{}, spanErr(span, common.Unavailable("refresh features", err))
	}
	repositories := make([]common.FeatureVector, len(repos))
	for i, r := range repos {
		repositories[i] = RepositoryFeatures(r, now, s.opts.FreshnessHalfLifeDays)
	}
	if err := s.store.ReplaceFeatures(ctx, common.NodeKindRepository, repositories); err != nil {
		return FeatureResult{}, spanErr(span, fmt.Errorf("failed to store repository features: %w", err))
	}

	if err := s.memo.Cache().DeletePrefix(ctx, "similar:"); err != nil {
		logger.Warn("[Reasoning] Failed to drop cached similarity results", "err", err)
	}

	metrics.RunDuration.WithLabelValues("features").Observe(time.Since(started).Seconds())
	span.SetAttributes(attribute.Int("persons", len(persons)), attribute.Int("repositories", len(repositories)))
	logger.Info("[Reasoning] Features refreshed", "persons", len(persons), "repositories", len(repositories))
	return FeatureResult{Persons: len(persons), Repositories: len(repositories)}, nil
}

// SimilarNodes ranks nodes of the same kind and feature version as id by
// cosine similarity, excluding id itself.
func (s *Service) SimilarNodes(ctx context.Context, id common.NodeID, topK int) ([]common.RankedNode, error) {
	if _, _, err := common.ParseNodeID(string(id)); err != nil {
		return nil, common.InvalidParameter("similar nodes", "%v", err)
	}
	if topK == 0 {
		topK = DefaultSimilarLimit
	}
	if topK < 0 || topK > MaxSimilarLimit {
		return nil, common.InvalidParameter("similar nodes", "top_k must be between 1 and %d, got %d", MaxSimilarLimit, topK)
	}

	ctx, span := tracer.Start(ctx, "reasoning.Service.SimilarNodes",
		trace.WithAttributes(attribute.String("node_id", string(id)), attribute.Int("top_k", topK)),
	)
	defer span.End()
	started := time.Now()
	defer func() {
		metrics.RequestDuration.WithLabelValues("similar_nodes").Observe(time.Since(started).Seconds())
	}()

	query, err := s.store.GetFeatures(ctx, id)
	if err != nil {
		return nil, spanErr(span, common.Unavailable("similar nodes", err))
	}
	if query == nil {
		return nil, common.NotFound("similar nodes", "no features for node %s", id)
	}

	key := fmt.Sprintf("similar:%s:%s:%d", query.Version, id, topK)
	out, err := cache.Memoize(ctx, s.memo, key, s.opts.CacheTTL, func(ctx context.Context) ([]common.RankedNode, error) {
		ranked, err := s.store.NearestFeatures(ctx, *query, topK)
		if err != nil {
			return nil, err
		}
		if ranked == nil {
			ranked = []common.RankedNode{}
		}
		return ranked, nil
	})
	if err != nil {
		return nil, spanErr(span, common.Unavailable("similar nodes", err))
	}
	return out, nil
}
