package reasoning

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/OFFIS-RIT/kinship/pkg/common"
	"github.com/OFFIS-RIT/kinship/pkg/graph"
	"github.com/OFFIS-RIT/kinship/pkg/store/memory"
)

func p(id string) common.NodeID { return common.PersonID(id) }

func edge(a, b string, w float64) common.Edge {
	k := common.NewEdgeKey(p(a), p(b), common.EdgeCollaboration)
	return common.Edge{Src: k.Src, Dst: k.Dst, Type: k.Type, Weight: w, Provenance: "repo:r", Provenances: []string{"repo:r"}}
}

func clique(names ...string) []common.Edge {
	var out []common.Edge
	for i := range names {
		for j := i + 1; j < len(names); j++ {
			out = append(out, edge(names[i], names[j], 1))
		}
	}
	return out
}

// twoCliques is two four-cliques joined by the single edge a1-b1.
func twoCliques() []common.Edge {
	edges := clique("a1", "a2", "a3", "a4")
	edges = append(edges, clique("b1", "b2", "b3", "b4")...)
	return append(edges, edge("a1", "b1", 1))
}

type recordingArchiver struct {
	kinds []string
	ids   []string
}

func (a *recordingArchiver) ArchiveRun(ctx context.Context, kind, runID string, run any) error {
	a.kinds = append(a.kinds, kind)
	a.ids = append(a.ids, runID)
	return nil
}

func newService(s *memory.Store, archive Archiver) *Service {
	return NewService(s, graph.NewSnapshotCache(s, 0), nil, archive, Options{})
}

func TestModularity(t *testing.T) {
	snap := graph.NewSnapshot(1, twoCliques())
	split := make([]int, snap.Len())
	for i, id := range snap.Nodes() {
		if id.Raw()[0] == 'b' {
			split[i] = 1
		}
	}
	whole := make([]int, snap.Len())

	tests := []struct {
		name   string
		labels []int
		want   float64
	}{
		{name: "split", labels: split, want: 12.0/13 - 0.5},
		{name: "whole", labels: whole, want: 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Modularity(snap, tt.labels, 1); math.Abs(got-tt.want) > 1e-9 {
				t.Fatalf("expected modularity %v, got %v", tt.want, got)
			}
		})
	}
}

func TestDetectorsSeparateCliques(t *testing.T) {
	snap := graph.NewSnapshot(1, twoCliques())

	for _, name := range []string{AlgorithmGreedyModularity, AlgorithmLouvain} {
		t.Run(name, func(t *testing.T) {
			d, _ := DetectorByName(name)
			communities, q, err := Partition(context.Background(), d, snap, DetectParams{Resolution: 1, MaxIterations: 50, Seed: 3})
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if len(communities) != 2 {
				t.Fatalf("expected 2 communities, got %+v", communities)
			}
			for _, c := range communities {
				if len(c.Members) != 4 {
					t.Fatalf("expected cliques of 4, got %+v", communities)
				}
				prefix := c.Members[0].Raw()[0]
				for _, m := range c.Members {
					if m.Raw()[0] != prefix {
						t.Fatalf("expected members of one clique, got %v", c.Members)
					}
				}
			}
			if math.Abs(q-(12.0/13-0.5)) > 1e-9 {
				t.Fatalf("expected modularity of the clique split, got %v", q)
			}
		})
	}
}

func TestDetectorsCoverEveryNode(t *testing.T) {
	edges := twoCliques()
	edges = append(edges, clique("c1", "c2", "c3")...)
	edges = append(edges, edge("c1", "a4", 0.5))
	snap := graph.NewSnapshot(1, edges)

	for _, name := range Algorithms() {
		t.Run(name, func(t *testing.T) {
			d, _ := DetectorByName(name)
			params := DetectParams{Resolution: 1, MaxIterations: 20, Seed: 11}
			first, q, err := Partition(context.Background(), d, snap, params)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			members := 0
			for _, c := range first {
				members += len(c.Members)
			}
			if members != snap.Len() {
				t.Fatalf("expected %d assigned nodes, got %d", snap.Len(), members)
			}
			if q < -0.5 || q > 1 {
				t.Fatalf("expected modularity in range, got %v", q)
			}

			second, _, err := Partition(context.Background(), d, snap, params)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if len(first) != len(second) {
				t.Fatalf("expected deterministic result for one seed, got %d and %d communities", len(first), len(second))
			}
		})
	}
}

func TestDetectCommunitiesTrivialGraph(t *testing.T) {
	svc := newService(memory.New(), nil)

	res, err := svc.DetectCommunities(context.Background(), AlgorithmLouvain, DetectParams{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.CommunityCount != 1 || res.Modularity != 0 {
		t.Fatalf("expected one trivial community, got %+v", res)
	}

	communities, _, err := Partition(context.Background(), Louvain{}, graph.NewSnapshot(1, nil), DetectParams{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(communities) != 1 || len(communities[0].Members) != 0 {
		t.Fatalf("expected one empty community, got %+v", communities)
	}
}

func TestDetectCommunitiesStoresAndArchives(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	s.PutEdges(twoCliques()...)
	archive := &recordingArchiver{}
	svc := newService(s, archive)

	res, err := svc.DetectCommunities(ctx, AlgorithmGreedyModularity, DetectParams{Resolution: 1})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.CommunityCount != 2 || len(res.Assignments) != 8 {
		t.Fatalf("expected 2 communities over 8 nodes, got %+v", res)
	}
	if res.Assignments[p("a1")] == res.Assignments[p("b1")] {
		t.Fatal("expected a1 and b1 in different communities")
	}
	if len(archive.ids) != 1 || archive.ids[0] != res.RunID || archive.kinds[0] != "communities" {
		t.Fatalf("expected run to be archived, got %+v", archive)
	}

	latest, err := svc.LatestCommunities(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if latest.RunID != res.RunID || latest.Algorithm != AlgorithmGreedyModularity {
		t.Fatalf("expected latest run %s, got %+v", res.RunID, latest)
	}
}

func TestDetectCommunitiesValidation(t *testing.T) {
	svc := newService(memory.New(), nil)
	tests := []struct {
		algorithm string
		params    DetectParams
	}{
		{algorithm: "spectral"},
		{algorithm: AlgorithmLouvain, params: DetectParams{Resolution: -1}},
		{algorithm: AlgorithmLouvain, params: DetectParams{MaxIterations: MaxIterationsLimit + 1}},
	}
	for _, tt := range tests {
		if _, err := svc.DetectCommunities(context.Background(), tt.algorithm, tt.params); !errors.Is(err, common.ErrInvalidParameter) {
			t.Fatalf("expected invalid parameter for %s %+v, got %v", tt.algorithm, tt.params, err)
		}
	}

	if _, err := svc.LatestCommunities(context.Background()); !errors.Is(err, common.ErrNotFound) {
		t.Fatalf("expected not found without a run, got %v", err)
	}
}
