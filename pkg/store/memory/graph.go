package memory

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/OFFIS-RIT/kinship/pkg/common"
	"github.com/OFFIS-RIT/kinship/pkg/store"
)

var errInjected = errors.New("injected commit failure")

func (s *Store) nextGenerationID() int64 {
	var last int64
	for _, g := range s.generations {
		if g.ID > last {
			last = g.ID
		}
	}
	return last + 1
}

func (s *Store) retireActive() {
	for i := range s.generations {
		if s.generations[i].Status == common.GenerationActive {
			s.generations[i].Status = common.GenerationRetired
		}
	}
}

func (s *Store) findGeneration(status common.GenerationStatus) (common.Generation, bool) {
	for i := len(s.generations) - 1; i >= 0; i-- {
		if s.generations[i].Status == status {
			return s.generations[i], true
		}
	}
	return common.Generation{}, false
}

func (s *Store) OpenGeneration(ctx context.Context, shards int) (common.Generation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check("open generation"); err != nil {
		return common.Generation{}, err
	}
	if g, ok := s.findGeneration(common.GenerationBuilding); ok {
		return g, nil
	}
	g := common.Generation{
		ID:        s.nextGenerationID(),
		Status:    common.GenerationBuilding,
		Shards:    shards,
		CreatedAt: time.Now().UTC(),
	}
	s.generations = append(s.generations, g)
	return g, nil
}

func (s *Store) ActiveGeneration(ctx context.Context) (common.Generation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check("active generation"); err != nil {
		return common.Generation{}, err
	}
	g, _ := s.findGeneration(common.GenerationActive)
	return g, nil
}

func (s *Store) GetJob(ctx context.Context, generation int64, shard int) (*common.BuildJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check("get job"); err != nil {
		return nil, err
	}
	job, ok := s.jobs[jobKey{generation, shard}]
	if !ok {
		return nil, nil
	}
	return &job, nil
}

func (s *Store) ListJobs(ctx context.Context, generation int64) ([]common.BuildJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check("list jobs"); err != nil {
		return nil, err
	}
	var out []common.BuildJob
	for k, job := range s.jobs {
		if k.generation == generation {
			out = append(out, job)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Shard < out[j].Shard })
	return out, nil
}

func (s *Store) SaveJob(ctx context.Context, job common.BuildJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check("save job"); err != nil {
		return err
	}
	s.jobs[jobKey{job.Generation, job.Shard}] = job
	return nil
}

func (s *Store) CommitUnit(
	ctx context.Context,
	job common.BuildJob,
	provenance string,
	contributions []common.EdgeContribution,
) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check("commit unit"); err != nil {
		return err
	}
	if s.FailCommit > 0 {
		s.FailCommit--
		return common.Unavailable("commit unit", errInjected)
	}

	for k := range s.contribs {
		if k.generation == job.Generation && k.provenance == provenance {
			delete(s.contribs, k)
		}
	}
	for _, c := range contributions {
		s.contribs[contributionKey{job.Generation, c.Key, provenance}] = c
	}
	s.jobs[jobKey{job.Generation, job.Shard}] = job
	return nil
}

func (s *Store) PublishGeneration(ctx context.Context, generation int64) (int64, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check("publish generation"); err != nil {
		return 0, false, err
	}

	idx := -1
	for i, g := range s.generations {
		if g.ID == generation {
			idx = i
		}
	}
	if idx < 0 {
		return 0, false, common.NotFound("publish generation", "generation %d", generation)
	}
	g := s.generations[idx]
	if g.Status != common.GenerationBuilding {
		return g.EdgeCount, false, nil
	}

	completed := 0
	for k, job := range s.jobs {
		if k.generation == generation && job.State == common.JobCompleted {
			completed++
		}
	}
	if completed < g.Shards {
		return 0, false, store.ErrNotReady
	}

	var contributions []common.EdgeContribution
	for k, c := range s.contribs {
		if k.generation == generation {
			contributions = append(contributions, c)
		}
	}
	edges := store.MergeContributions(contributions)

	now := time.Now().UTC()
	s.retireActive()
	s.edges[generation] = edges
	g.Status = common.GenerationActive
	g.EdgeCount = int64(len(edges))
	g.PublishedAt = &now
	s.generations[idx] = g
	return g.EdgeCount, true, nil
}

func (s *Store) Edges(ctx context.Context, generation int64) ([]common.Edge, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check("edges"); err != nil {
		return nil, err
	}
	return append([]common.Edge(nil), s.edges[generation]...), nil
}

func (s *Store) OpenSnapshot(ctx context.Context) (store.SnapshotReader, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check("open snapshot"); err != nil {
		return nil, err
	}
	g, _ := s.findGeneration(common.GenerationActive)

	// Published edge slices are never mutated, so the reader can share them.
	edges := s.edges[g.ID]
	known := make(map[common.NodeID]struct{}, len(s.persons)+len(s.repositories))
	for id := range s.persons {
		known[common.PersonID(id)] = struct{}{}
	}
	for id := range s.repositories {
		known[common.RepositoryID(id)] = struct{}{}
	}
	for _, e := range s.employments {
		known[common.PersonID(e.PersonID)] = struct{}{}
	}
	for _, c := range s.contributions {
		known[common.PersonID(c.PersonID)] = struct{}{}
	}
	return &snapshot{owner: s, generation: g.ID, edges: edges, known: known}, nil
}

type snapshot struct {
	owner      *Store
	generation int64
	edges      []common.Edge
	known      map[common.NodeID]struct{}
}

func (r *snapshot) Generation() int64 { return r.generation }

func (r *snapshot) down(op string) error {
	r.owner.mu.RLock()
	defer r.owner.mu.RUnlock()
	return r.owner.check(op)
}

func (r *snapshot) NodeExists(ctx context.Context, id common.NodeID) (bool, error) {
	if err := r.down("node exists"); err != nil {
		return false, err
	}
	if _, ok := r.known[id]; ok {
		return true, nil
	}
	for _, e := range r.edges {
		if e.Src == id || e.Dst == id {
			return true, nil
		}
	}
	return false, nil
}

func toSet(ids []common.NodeID) map[common.NodeID]struct{} {
	set := make(map[common.NodeID]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set
}

func (r *snapshot) Neighbors(ctx context.Context, ids []common.NodeID) ([]common.Edge, error) {
	if err := r.down("neighbors"); err != nil {
		return nil, err
	}
	set := toSet(ids)
	var out []common.Edge
	for _, e := range r.edges {
		_, src := set[e.Src]
		_, dst := set[e.Dst]
		if src || dst {
			out = append(out, e)
		}
	}
	return out, nil
}

func (r *snapshot) EdgesAmong(ctx context.Context, ids []common.NodeID) ([]common.Edge, error) {
	if err := r.down("edges among"); err != nil {
		return nil, err
	}
	set := toSet(ids)
	var out []common.Edge
	for _, e := range r.edges {
		_, src := set[e.Src]
		_, dst := set[e.Dst]
		if src && dst {
			out = append(out, e)
		}
	}
	return out, nil
}

func (r *snapshot) Close(ctx context.Context) error { return nil }
