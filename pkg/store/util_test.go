package store

import (
	"errors"
	"testing"
	"time"

	"github.com/OFFIS-RIT/kinship/pkg/common"
)

func TestChunkRange(t *testing.T) {
	var spans [][2]int
	err := ChunkRange(5, 2, func(start, end int) error {
		spans = append(spans, [2]int{start, end})
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := [][2]int{{0, 2}, {2, 4}, {4, 5}}
	if len(spans) != len(want) {
		t.Fatalf("expected %v, got %v", want, spans)
	}
	for i := range want {
		if spans[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, spans)
		}
	}

	stop := errors.New("stop")
	calls := 0
	err = ChunkRange(10, 3, func(start, end int) error {
		calls++
		return stop
	})
	if !errors.Is(err, stop) || calls != 1 {
		t.Fatalf("expected to stop after first chunk, got %d calls (%v)", calls, err)
	}
}

func TestMergeContributions(t *testing.T) {
	a, b, c := common.PersonID("a"), common.PersonID("b"), common.PersonID("c")
	key := common.NewEdgeKey(a, b, common.EdgeCoEmployment)
	t1 := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	t2 := time.Date(2021, 1, 1, 0, 0, 0, 0, time.UTC)
	t3 := time.Date(2022, 1, 1, 0, 0, 0, 0, time.UTC)

	edges := MergeContributions([]common.EdgeContribution{
		{Key: key, Provenance: "company:y", Weight: 4, FirstObserved: t2, LastObserved: t3},
		{Key: key, Provenance: "company:x", Weight: 4, FirstObserved: t1, LastObserved: t2},
		{Key: key, Provenance: "company:z", Weight: 1, FirstObserved: t2, LastObserved: t2},
		{Key: common.NewEdgeKey(b, c, common.EdgeCollaboration), Provenance: "repo:r", Weight: 0.5, FirstObserved: t1, LastObserved: t1},
	})

	if len(edges) != 2 {
		t.Fatalf("expected 2 edges, got %d", len(edges))
	}
	e := edges[0]
	if e.Key() != key {
		t.Fatalf("expected first edge %v, got %v", key, e.Key())
	}
	if e.Weight != 9 {
		t.Fatalf("expected weight 9, got %f", e.Weight)
	}
	if e.Provenance != "company:x" {
		t.Fatalf("expected tie to go to company:x, got %s", e.Provenance)
	}
	if len(e.Provenances) != 3 || e.Provenances[0] != "company:x" || e.Provenances[2] != "company:z" {
		t.Fatalf("expected sorted provenances, got %v", e.Provenances)
	}
	if !e.FirstObserved.Equal(t1) || !e.LastObserved.Equal(t3) {
		t.Fatalf("expected window %s..%s, got %s..%s", t1, t3, e.FirstObserved, e.LastObserved)
	}
}

func TestRankBySimilarity(t *testing.T) {
	q := common.FeatureVector{NodeID: common.PersonID("q"), Kind: common.NodeKindPerson, Version: "v", Values: []float32{1, 0}}
	candidates := []common.FeatureVector{
		q,
		{NodeID: common.PersonID("far"), Kind: common.NodeKindPerson, Version: "v", Values: []float32{0, 1}},
		{NodeID: common.PersonID("near"), Kind: common.NodeKindPerson, Version: "v", Values: []float32{1, 0.1}},
		{NodeID: common.PersonID("old"), Kind: common.NodeKindPerson, Version: "v0", Values: []float32{1, 0}},
	}

	ranked := RankBySimilarity(q, candidates, 5)
	if len(ranked) != 2 {
		t.Fatalf("expected 2 results, got %v", ranked)
	}
	if ranked[0].NodeID != common.PersonID("near") {
		t.Fatalf("expected near first, got %s", ranked[0].NodeID)
	}
	if got := RankBySimilarity(q, nil, 5); len(got) != 0 {
		t.Fatalf("expected empty ranking, got %v", got)
	}
}
