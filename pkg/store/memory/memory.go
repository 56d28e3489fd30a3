// Package memory is an in-process Store used by tests and local runs. It
// keeps the same generation and transaction semantics as the Postgres store:
// every mutating call is applied under one lock or not at all.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/OFFIS-RIT/kinship/pkg/common"
	"github.com/OFFIS-RIT/kinship/pkg/store"
)

type contributionKey struct {
	generation int64
	key        common.EdgeKey
	provenance string
}

type jobKey struct {
	generation int64
	shard      int
}

// Store implements store.Store in memory.
type Store struct {
	mu sync.RWMutex

	employments   []common.EmploymentRecord
	contributions []common.ContributionRecord
	repositories  map[string]RepositoryMeta
	persons       map[string]PersonMeta

	generations   []common.Generation
	jobs          map[jobKey]common.BuildJob
	contribs      map[contributionKey]common.EdgeContribution
	edges         map[int64][]common.Edge
	scoreRuns     []storedScoreRun
	communityRuns []common.CommunityRun
	features      map[common.NodeID]common.FeatureVector

	// FailCommit makes the next n CommitUnit calls fail, for resume tests.
	FailCommit int
	// Down makes every call fail with common.ErrUnavailable.
	Down bool
}

// RepositoryMeta is the repository directory entry.
type RepositoryMeta struct {
	ID              string
	Stars           int64
	Forks           int64
	PrimaryLanguage string
	Topics          []string
}

// PersonMeta is the person directory entry.
type PersonMeta struct {
	ID                  string
	Followers           int64
	MergedContributions int64
	Skills              map[string]float64
}

type storedScoreRun struct {
	run    common.ScoreRun
	scores []common.Score
}

var _ store.Store = (*Store)(nil)

func New() *Store {
	return &Store{
		repositories: make(map[string]RepositoryMeta),
		persons:      make(map[string]PersonMeta),
		jobs:         make(map[jobKey]common.BuildJob),
		contribs:     make(map[contributionKey]common.EdgeContribution),
		edges:        make(map[int64][]common.Edge),
		features:     make(map[common.NodeID]common.FeatureVector),
	}
}

func (s *Store) AddEmployment(records ...common.EmploymentRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.employments = append(s.employments, records...)
}

func (s *Store) AddContribution(records ...common.ContributionRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.contributions = append(s.contributions, records...)
}

func (s *Store) AddRepository(meta ...RepositoryMeta) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range meta {
		s.repositories[m.ID] = m
	}
}

func (s *Store) AddPerson(meta ...PersonMeta) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range meta {
		s.persons[m.ID] = m
	}
}

// PutEdges publishes edges directly as a new active generation. It is meant
// for tests of the read paths.
func (s *Store) PutEdges(edges ...common.Edge) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextGenerationID()
	now := time.Now().UTC()
	s.retireActive()
	cp := append([]common.Edge(nil), edges...)
	store.SortEdges(cp)
	s.edges[id] = cp
	s.generations = append(s.generations, common.Generation{
		ID:          id,
		Status:      common.GenerationActive,
		Shards:      1,
		EdgeCount:   int64(len(cp)),
		CreatedAt:   now,
		PublishedAt: &now,
	})
	return id
}

func (s *Store) check(op string) error {
	if s.Down {
		return &common.Error{Kind: common.KindUnavailable, Op: op, Msg: "memory store is down"}
	}
	return nil
}

func (s *Store) ListCompanies(ctx context.Context, after string, limit int) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check("list companies"); err != nil {
		return nil, err
	}
	ids := make([]string, 0)
	for _, e := range s.employments {
		ids = append(ids, e.CompanyID)
	}
	return page(ids, after, limit), nil
}

func (s *Store) ListRepositories(ctx context.Context, after string, limit int) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check("list repositories"); err != nil {
		return nil, err
	}
	ids := make([]string, 0)
	for _, c := range s.contributions {
		ids = append(ids, c.RepositoryID)
	}
	return page(ids, after, limit), nil
}

func page(ids []string, after string, limit int) []string {
	ids = store.DedupeStrings(ids)
	sort.Strings(ids)
	out := make([]string, 0, limit)
	for _, id := range ids {
		if id <= after {
			continue
		}
		out = append(out, id)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out
}

func (s *Store) EmploymentsForCompany(ctx context.Context, companyID string) ([]common.EmploymentRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check("employments"); err != nil {
		return nil, err
	}
	var out []common.EmploymentRecord
	for _, e := range s.employments {
		if e.CompanyID == companyID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *Store) ContributionsForRepository(ctx context.Context, repositoryID string) ([]common.ContributionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check("contributions"); err != nil {
		return nil, err
	}
	var out []common.ContributionRecord
	for _, c := range s.contributions {
		if c.RepositoryID == repositoryID {
			out = append(out, c)
		}
	}
	return out, nil
}

func inScope(scope []string, id string) bool {
	if len(scope) == 0 {
		return true
	}
	for _, s := range scope {
		if s == id {
			return true
		}
	}
	return false
}

func (s *Store) RepositorySignals(ctx context.Context, scope []string) ([]common.RepositorySignals, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check("repository signals"); err != nil {
		return nil, err
	}
	out := make([]common.RepositorySignals, 0, len(s.repositories))
	for id, meta := range s.repositories {
		if !inScope(scope, id) {
			continue
		}
		sig := common.RepositorySignals{
			RepositoryID:    id,
			Stars:           meta.Stars,
			Forks:           meta.Forks,
			PrimaryLanguage: meta.PrimaryLanguage,
		}
		for _, c := range s.contributions {
			if c.RepositoryID != id {
				continue
			}
			if c.ContributionCount > 0 {
				sig.Contributors++
			}
			if !c.LastActivity.IsZero() && (sig.LastActivity == nil || c.LastActivity.After(*sig.LastActivity)) {
				last := c.LastActivity
				sig.LastActivity = &last
			}
		}
		out = append(out, sig)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RepositoryID < out[j].RepositoryID })
	return out, nil
}

func (s *Store) DeveloperSignals(ctx context.Context, scope []string) ([]common.DeveloperSignals, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check("developer signals"); err != nil {
		return nil, err
	}
	out := make([]common.DeveloperSignals, 0, len(s.persons))
	for id, meta := range s.persons {
		if !inScope(scope, id) {
			continue
		}
		sig := common.DeveloperSignals{
			PersonID:            id,
			Followers:           meta.Followers,
			MergedContributions: meta.MergedContributions,
			Skills:              meta.Skills,
		}
		repos := make(map[string]struct{})
		for _, c := range s.contributions {
			if c.PersonID == id && c.ContributionCount > 0 {
				repos[c.RepositoryID] = struct{}{}
			}
		}
		sig.RepositoryBreadth = int64(len(repos))
		var first time.Time
		for _, e := range s.employments {
			if e.PersonID == id && (first.IsZero() || e.Start.Before(first)) {
				first = e.Start
			}
		}
		if !first.IsZero() {
			sig.TenureYears = time.Since(first).Hours() / 24 / 365.25
		}
		out = append(out, sig)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PersonID < out[j].PersonID })
	return out, nil
}

func (s *Store) TaggedNodes(ctx context.Context, tag string) ([]common.NodeID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check("tagged nodes"); err != nil {
		return nil, err
	}
	set := make(map[common.NodeID]struct{})
	for id, meta := range s.persons {
		for skill := range meta.Skills {
			if strings.EqualFold(skill, tag) {
				set[common.PersonID(id)] = struct{}{}
			}
		}
	}
	for _, c := range s.contributions {
		if c.ContributionCount <= 0 {
			continue
		}
		for _, topic := range s.repositories[c.RepositoryID].Topics {
			if strings.EqualFold(topic, tag) {
				set[common.PersonID(c.PersonID)] = struct{}{}
			}
		}
	}
	out := make([]common.NodeID, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}
