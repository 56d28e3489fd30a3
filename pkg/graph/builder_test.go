package graph

import (
	"context"
	"errors"
	"reflect"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/OFFIS-RIT/kinship/internal/util"
	"github.com/OFFIS-RIT/kinship/pkg/common"
	"github.com/OFFIS-RIT/kinship/pkg/leaselock"
	"github.com/OFFIS-RIT/kinship/pkg/store/memory"
)

func seed(s *memory.Store) {
	s.AddEmployment(
		common.EmploymentRecord{PersonID: "a", CompanyID: "x", Start: date(2020, 6, 1), End: ptr(date(2022, 7, 1))},
		common.EmploymentRecord{PersonID: "b", CompanyID: "x", Start: date(2021, 1, 1), End: ptr(date(2022, 7, 1))},
		common.EmploymentRecord{PersonID: "c", CompanyID: "y", Start: date(2019, 1, 1)},
		common.EmploymentRecord{PersonID: "d", CompanyID: "y", Start: date(2023, 1, 1), End: ptr(date(2023, 1, 1))},
		common.EmploymentRecord{PersonID: "e", CompanyID: "y", Start: date(2023, 1, 1), End: ptr(date(2022, 1, 1))},
	)
	s.AddContribution(
		common.ContributionRecord{PersonID: "a", RepositoryID: "r1", ContributionCount: 10, LastActivity: date(2023, 12, 1)},
		common.ContributionRecord{PersonID: "c", RepositoryID: "r1", ContributionCount: 5, LastActivity: asOf.AddDate(0, 0, -180)},
		common.ContributionRecord{PersonID: "f", RepositoryID: "r1", ContributionCount: 0, LastActivity: date(2023, 12, 1)},
		common.ContributionRecord{PersonID: "b", RepositoryID: "r2", ContributionCount: 3, LastActivity: date(2023, 11, 1)},
		common.ContributionRecord{PersonID: "c", RepositoryID: "r2", ContributionCount: 2, LastActivity: date(2023, 11, 15)},
		common.ContributionRecord{PersonID: "g", RepositoryID: "r2", ContributionCount: 9, LastActivity: date(2020, 1, 1)},
		common.ContributionRecord{PersonID: "h", RepositoryID: "r3", ContributionCount: 1, LastActivity: date(2023, 6, 1)},
	)
}

func testOptions(shards int) Options {
	opts := DefaultOptions()
	opts.Shards = shards
	opts.AsOf = asOf
	opts.PageSize = 2
	opts.CommitBackoff = util.Backoff{Tries: 3, Initial: time.Millisecond, Max: 5 * time.Millisecond, Multiplier: 2}
	return opts
}

type recordingInvalidator struct {
	mu       sync.Mutex
	prefixes []string
}

func (r *recordingInvalidator) DeletePrefix(ctx context.Context, prefix string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.prefixes = append(r.prefixes, prefix)
	return nil
}

func buildAll(t *testing.T, s *memory.Store, opts Options) ([]BuildResult, []common.Edge) {
	t.Helper()
	ctx := context.Background()
	b := NewBuilder(s, leaselock.NewLocal(), nil, opts)
	results, err := b.RunShards(ctx, BuildRequest{})
	if err != nil {
		t.Fatalf("unexpected build error: %v", err)
	}
	gen, err := s.ActiveGeneration(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	edges, err := s.Edges(ctx, gen.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return results, edges
}

func TestBuilderProducesExpectedEdges(t *testing.T) {
	s := memory.New()
	seed(s)

	results, edges := buildAll(t, s, testOptions(1))
	if !results[0].Done || !results[0].Published {
		t.Fatalf("expected a completed and published build, got %+v", results[0])
	}
	if results[0].Skipped != 1 {
		t.Fatalf("expected 1 skipped record, got %d", results[0].Skipped)
	}

	var coEmployment []common.Edge
	for _, e := range edges {
		if err := e.Validate(); err != nil {
			t.Fatalf("invalid edge %v: %v", e.Key(), err)
		}
		if e.Type == common.EdgeCoEmployment {
			coEmployment = append(coEmployment, e)
		}
	}
	if len(coEmployment) != 1 {
		t.Fatalf("expected exactly 1 co-employment edge, got %d", len(coEmployment))
	}
	if coEmployment[0].Provenance != "company:x" {
		t.Fatalf("expected provenance company:x, got %s", coEmployment[0].Provenance)
	}
	if coEmployment[0].Src != common.PersonID("a") || coEmployment[0].Dst != common.PersonID("b") {
		t.Fatalf("expected edge a-b, got %s-%s", coEmployment[0].Src, coEmployment[0].Dst)
	}

	if len(edges) != 3 {
		t.Fatalf("expected 3 edges, got %d", len(edges))
	}
}

func TestBuilderIsIdempotent(t *testing.T) {
	s := memory.New()
	seed(s)

	_, first := buildAll(t, s, testOptions(1))
	_, second := buildAll(t, s, testOptions(1))

	gen, _ := s.ActiveGeneration(context.Background())
	if gen.ID != 2 {
		t.Fatalf("expected the rerun to publish generation 2, got %d", gen.ID)
	}
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("expected identical edge sets, got %v and %v", first, second)
	}
}

func TestDeriveParamsAsOf(t *testing.T) {
	monday := common.Generation{CreatedAt: time.Date(2024, 3, 4, 15, 30, 0, 0, time.UTC)}
	friday := common.Generation{CreatedAt: time.Date(2024, 3, 8, 9, 0, 0, 0, time.UTC)}

	opts := testOptions(1)
	opts.AsOf = time.Time{}
	open := NewBuilder(memory.New(), leaselock.NewLocal(), nil, opts)
	if got := open.deriveParams(monday).AsOf; !got.Equal(date(2024, 3, 4)) {
		t.Fatalf("expected the generation day, got %s", got)
	}
	if open.deriveParams(monday).AsOf.Equal(open.deriveParams(friday).AsOf) {
		t.Fatal("expected generations opened on different days to differ")
	}

	pinned := NewBuilder(memory.New(), leaselock.NewLocal(), nil, testOptions(1))
	if a, b := pinned.deriveParams(monday), pinned.deriveParams(friday); a != b || !a.AsOf.Equal(asOf) {
		t.Fatalf("expected both generations to derive with %s, got %+v and %+v", asOf, a, b)
	}
}

func TestBuilderShardsMatchSingleWriter(t *testing.T) {
	single := memory.New()
	seed(single)
	_, want := buildAll(t, single, testOptions(1))

	sharded := memory.New()
	seed(sharded)
	results, got := buildAll(t, sharded, testOptions(3))

	published := 0
	for _, r := range results {
		if !r.Done {
			t.Fatalf("expected shard %d to be done", r.Shard)
		}
		if r.Published {
			published++
		}
	}
	if published != 1 {
		t.Fatalf("expected exactly one shard to publish, got %d", published)
	}
	if !reflect.DeepEqual(want, got) {
		t.Fatalf("expected sharded build to match single build, got %v and %v", want, got)
	}
}

func TestBuilderResumesFromLastCommittedCursor(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	seed(s)
	opts := testOptions(1)
	opts.PageSize = 1
	b := NewBuilder(s, leaselock.NewLocal(), nil, opts)

	res, err := b.Run(ctx, BuildRequest{MaxPages: 1})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Done || res.NextCursor != "employment:x" {
		t.Fatalf("expected checkpoint after company x, got %+v", res)
	}

	s.FailCommit = 3
	_, err = b.Run(ctx, BuildRequest{})
	if !errors.Is(err, common.ErrUnavailable) {
		t.Fatalf("expected unavailable error, got %v", err)
	}
	job, err := s.GetJob(ctx, res.Generation, 0)
	if err != nil || job == nil {
		t.Fatalf("expected persisted job, got %v (%v)", job, err)
	}
	if job.State != common.JobFailed {
		t.Fatalf("expected failed job, got %s", job.State)
	}
	if job.Cursor.String() != "employment:x" {
		t.Fatalf("expected cursor to stay at employment:x, got %s", job.Cursor.String())
	}

	s.FailCommit = 2
	res, err = b.Run(ctx, BuildRequest{})
	if err != nil {
		t.Fatalf("expected retries to absorb transient failures, got %v", err)
	}
	if !res.Done || !res.Published {
		t.Fatalf("expected resumed build to publish, got %+v", res)
	}

	clean := memory.New()
	seed(clean)
	_, want := buildAll(t, clean, testOptions(1))
	got, _ := s.Edges(ctx, res.Generation)
	if !reflect.DeepEqual(want, got) {
		t.Fatalf("expected resumed build to match clean build, got %v and %v", got, want)
	}
}

func TestBuilderCursorOverride(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	seed(s)
	b := NewBuilder(s, leaselock.NewLocal(), nil, testOptions(1))

	res, err := b.Run(ctx, BuildRequest{Cursor: "collaboration:"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	edges, _ := s.Edges(ctx, res.Generation)
	for _, e := range edges {
		if e.Type != common.EdgeCollaboration {
			t.Fatalf("expected only collaboration edges, got %s", e.Type)
		}
	}
	if len(edges) != 2 {
		t.Fatalf("expected 2 collaboration edges, got %d", len(edges))
	}
}

func TestBuilderInvalidatesCacheOnPublish(t *testing.T) {
	s := memory.New()
	seed(s)
	inv := &recordingInvalidator{}
	b := NewBuilder(s, leaselock.NewLocal(), inv, testOptions(1))

	if _, err := b.Run(context.Background(), BuildRequest{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got := append([]string(nil), inv.prefixes...)
	sort.Strings(got)
	want := append([]string(nil), CachePrefixes...)
	sort.Strings(want)
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("expected prefixes %v, got %v", want, got)
	}
}

func TestBuilderRejectsInvalidRequests(t *testing.T) {
	b := NewBuilder(memory.New(), leaselock.NewLocal(), nil, testOptions(2))
	ctx := context.Background()

	tests := []BuildRequest{
		{Shard: 2},
		{Shard: -1},
		{Cursor: "sideways:1"},
	}
	for _, req := range tests {
		if _, err := b.Run(ctx, req); !errors.Is(err, common.ErrInvalidParameter) {
			t.Fatalf("expected invalid parameter for %+v, got %v", req, err)
		}
	}
}

func TestShardOfIsStable(t *testing.T) {
	for _, p := range []string{"company:x", "repo:r1", "repo:r2"} {
		s := ShardOf(p, 4)
		if s < 0 || s >= 4 {
			t.Fatalf("expected shard in [0,4), got %d", s)
		}
		if ShardOf(p, 4) != s {
			t.Fatalf("expected stable shard for %s", p)
		}
		if ShardOf(p, 1) != 0 {
			t.Fatalf("expected shard 0 for a single shard")
		}
	}
}
