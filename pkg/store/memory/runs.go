package memory

import (
	"context"
	"sort"

	"github.com/OFFIS-RIT/kinship/pkg/common"
	"github.com/OFFIS-RIT/kinship/pkg/store"
)

func (s *Store) SaveScoreRun(ctx context.Context, run common.ScoreRun, scores []common.Score) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check("save score run"); err != nil {
		return err
	}
	kept := s.scoreRuns[:0]
	for _, r := range s.scoreRuns {
		if r.run.Kind == run.Kind && r.run.EntityKind == run.EntityKind {
			continue
		}
		kept = append(kept, r)
	}
	s.scoreRuns = append(kept, storedScoreRun{run: run, scores: append([]common.Score(nil), scores...)})
	return nil
}

func (s *Store) LatestScoreRun(ctx context.Context, kind common.ScoreKind, entity common.EntityKind) (*common.ScoreRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check("latest score run"); err != nil {
		return nil, err
	}
	var latest *common.ScoreRun
	for i := range s.scoreRuns {
		r := s.scoreRuns[i].run
		if r.Kind != kind || r.EntityKind != entity {
			continue
		}
		if latest == nil || r.ComputedAt.After(latest.ComputedAt) {
			latest = &r
		}
	}
	return latest, nil
}

func (s *Store) TopScores(ctx context.Context, runID string, kind common.ScoreKind, minValue float64, limit int) ([]common.Score, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check("top scores"); err != nil {
		return nil, err
	}
	var out []common.Score
	for _, r := range s.scoreRuns {
		if r.run.RunID != runID {
			continue
		}
		for _, sc := range r.scores {
			if sc.Kind == kind && sc.Value >= minValue {
				out = append(out, sc)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Value != out[j].Value {
			return out[i].Value > out[j].Value
		}
		return out[i].NodeID < out[j].NodeID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) SaveCommunityRun(ctx context.Context, run common.CommunityRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check("save community run"); err != nil {
		return err
	}
	s.communityRuns = []common.CommunityRun{run}
	return nil
}

func (s *Store) LatestCommunityRun(ctx context.Context) (*common.CommunityRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check("latest community run"); err != nil {
		return nil, err
	}
	if len(s.communityRuns) == 0 {
		return nil, nil
	}
	run := s.communityRuns[len(s.communityRuns)-1]
	return &run, nil
}

func (s *Store) ReplaceFeatures(ctx context.Context, kind common.NodeKind, vectors []common.FeatureVector) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check("replace features"); err != nil {
		return err
	}
	for id, v := range s.features {
		if v.Kind == kind {
			delete(s.features, id)
		}
	}
	for _, v := range vectors {
		s.features[v.NodeID] = v
	}
	return nil
}

func (s *Store) GetFeatures(ctx context.Context, id common.NodeID) (*common.FeatureVector, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check("get features"); err != nil {
		return nil, err
	}
	v, ok := s.features[id]
	if !ok {
		return nil, nil
	}
	return &v, nil
}

func (s *Store) NearestFeatures(ctx context.Context, query common.FeatureVector, k int) ([]common.RankedNode, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check("nearest features"); err != nil {
		return nil, err
	}
	candidates := make([]common.FeatureVector, 0, len(s.features))
	for _, v := range s.features {
		candidates = append(candidates, v)
	}
	return store.RankBySimilarity(query, candidates, k), nil
}
