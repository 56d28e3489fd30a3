package traversal

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/OFFIS-RIT/kinship/pkg/cache"
	"github.com/OFFIS-RIT/kinship/pkg/common"
	"github.com/OFFIS-RIT/kinship/pkg/store/memory"

	"github.com/alicebob/miniredis/v2"
)

func p(id string) common.NodeID { return common.PersonID(id) }

func edge(a, b string, t common.EdgeType, w float64, provenance string) common.Edge {
	k := common.NewEdgeKey(p(a), p(b), t)
	return common.Edge{Src: k.Src, Dst: k.Dst, Type: t, Weight: w, Provenance: provenance, Provenances: []string{provenance}}
}

func star() *memory.Store {
	s := memory.New()
	s.PutEdges(
		edge("a", "f", common.EdgeCoEmployment, 1, "company:x"),
		edge("a", "c", common.EdgeCoEmployment, 1, "company:x"),
		edge("a", "b", common.EdgeCoEmployment, 1, "company:x"),
		edge("a", "e", common.EdgeCollaboration, 0.2, "repo:r"),
		edge("a", "d", common.EdgeCollaboration, 0.8, "repo:r"),
		edge("b", "c", common.EdgeCollaboration, 0.5, "repo:s"),
		edge("d", "g", common.EdgeCollaboration, 0.5, "repo:s"),
		edge("g", "h", common.EdgeCoEmployment, 3, "company:y"),
	)
	return s
}

func ids(n *Network) []common.NodeID {
	out := make([]common.NodeID, len(n.Nodes))
	for i, node := range n.Nodes {
		out[i] = node.ID
	}
	return out
}

func checkSubgraph(t *testing.T, n *Network, f Filter) {
	t.Helper()
	if len(n.Nodes) == 0 || n.Nodes[0].ID != n.Start {
		t.Fatalf("expected start node first, got %v", ids(n))
	}
	in := make(map[common.NodeID]bool)
	for _, node := range n.Nodes {
		in[node.ID] = true
	}
	for _, e := range n.Edges {
		if !in[e.Src] || !in[e.Dst] {
			t.Fatalf("edge %s connects a node outside the result", e.Key())
		}
		if !f.Match(e) {
			t.Fatalf("edge %s violates the filter", e.Key())
		}
	}
	// every node but the start must be connected through returned edges
	reached := map[common.NodeID]bool{n.Start: true}
	for changed := true; changed; {
		changed = false
		for _, e := range n.Edges {
			if reached[e.Src] != reached[e.Dst] {
				reached[e.Src], reached[e.Dst] = true, true
				changed = true
			}
		}
	}
	for id := range in {
		if !reached[id] {
			t.Fatalf("node %s is not connected to the start", id)
		}
	}
}

func TestGetNetworkCapsInDiscoveryOrder(t *testing.T) {
	svc := NewService(star(), nil, Options{})

	n, err := svc.GetNetwork(context.Background(), Request{Start: p("a"), MaxHops: 1, Cap: 2})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got := ids(n)
	want := []common.NodeID{p("a"), p("b"), p("c")}
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, got)
		}
	}
	if !n.Truncated {
		t.Fatal("expected truncated result")
	}
	if len(n.Edges) != 3 {
		t.Fatalf("expected edges a-b, a-c and b-c, got %d", len(n.Edges))
	}
	checkSubgraph(t, n, Filter{})
}

func TestGetNetworkZeroHops(t *testing.T) {
	svc := NewService(star(), nil, Options{})

	n, err := svc.GetNetwork(context.Background(), Request{Start: p("a"), MaxHops: 0})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(n.Nodes) != 1 || n.Nodes[0].ID != p("a") || len(n.Edges) != 0 {
		t.Fatalf("expected only the start node, got %v with %d edges", ids(n), len(n.Edges))
	}
}

func TestGetNetworkFilters(t *testing.T) {
	svc := NewService(star(), nil, Options{})
	tests := []struct {
		name   string
		filter Filter
		want   int
	}{
		{name: "all", filter: Filter{}, want: 8},
		{name: "collaboration only", filter: Filter{Types: []common.EdgeType{common.EdgeCollaboration}}, want: 4},
		{name: "min weight", filter: Filter{MinWeight: 0.5}, want: 7},
		{name: "provenance", filter: Filter{Provenance: "company:x"}, want: 4},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n, err := svc.GetNetwork(context.Background(), Request{Start: p("a"), MaxHops: 3, Filter: tt.filter})
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if len(n.Nodes) != tt.want {
				t.Fatalf("expected %d nodes, got %v", tt.want, ids(n))
			}
			if n.Truncated {
				t.Fatal("did not expect truncation")
			}
			checkSubgraph(t, n, tt.filter)
		})
	}
}

func TestGetNetworkHopLimit(t *testing.T) {
	svc := NewService(star(), nil, Options{})

	n, err := svc.GetNetwork(context.Background(), Request{Start: p("a"), MaxHops: 2})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, node := range n.Nodes {
		if node.ID == p("h") {
			t.Fatal("h is three hops away and must not be returned")
		}
		if node.ID == p("g") && node.Hop != 2 {
			t.Fatalf("expected g at hop 2, got %d", node.Hop)
		}
	}
	checkSubgraph(t, n, Filter{})
}

func TestGetNetworkUnknownStart(t *testing.T) {
	svc := NewService(star(), nil, Options{})

	n, err := svc.GetNetwork(context.Background(), Request{Start: p("zz"), MaxHops: 2})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n.Status != StatusNotFound || len(n.Nodes) != 0 {
		t.Fatalf("expected empty not_found result, got %+v", n)
	}
}

func TestGetNetworkValidation(t *testing.T) {
	svc := NewService(star(), nil, Options{})
	tests := []Request{
		{Start: p("a"), MaxHops: 4},
		{Start: p("a"), MaxHops: -1},
		{Start: p("a"), MaxHops: 1, Cap: 501},
		{Start: p("a"), MaxHops: 1, Cap: -2},
		{Start: "a", MaxHops: 1},
		{Start: p("a"), MaxHops: 1, Filter: Filter{Types: []common.EdgeType{"friendship"}}},
	}
	for _, req := range tests {
		if _, err := svc.GetNetwork(context.Background(), req); !errors.Is(err, common.ErrInvalidParameter) {
			t.Fatalf("expected invalid parameter for %+v, got %v", req, err)
		}
	}
}

func TestGetNetworkStoreDown(t *testing.T) {
	s := star()
	s.Down = true
	svc := NewService(s, nil, Options{})

	_, err := svc.GetNetwork(context.Background(), Request{Start: p("a"), MaxHops: 1})
	if !errors.Is(err, common.ErrUnavailable) {
		t.Fatalf("expected unavailable, got %v", err)
	}
}

func TestCachedNetworkEqualsDirect(t *testing.T) {
	ctx := context.Background()
	s := star()
	mr := miniredis.RunT(t)
	rc, err := cache.NewRedis(cache.RedisOptions{URL: "redis://" + mr.Addr()})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer rc.Close()

	cached := NewService(s, rc, Options{})
	direct := NewService(s, nil, Options{})
	req := Request{Start: p("a"), MaxHops: 2, Cap: 4}

	first, err := cached.GetNetwork(ctx, req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(mr.Keys()) != 1 {
		t.Fatalf("expected one cached entry, got %v", mr.Keys())
	}
	second, err := cached.GetNetwork(ctx, req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want, err := direct.GetNetwork(ctx, req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	for _, got := range []*Network{first, second} {
		a, _ := json.Marshal(got)
		b, _ := json.Marshal(want)
		if string(a) != string(b) {
			t.Fatalf("expected cached result to equal direct result\n got: %s\nwant: %s", a, b)
		}
	}
}

func TestFilterSignature(t *testing.T) {
	a := Filter{Types: []common.EdgeType{common.EdgeCollaboration, common.EdgeCoEmployment}, MinWeight: 0.5}
	b := Filter{Types: []common.EdgeType{common.EdgeCoEmployment, common.EdgeCollaboration}, MinWeight: 0.5}
	if a.Signature() != b.Signature() {
		t.Fatal("expected type order not to matter")
	}
	if a.Signature() == (Filter{}).Signature() {
		t.Fatal("expected different filters to differ")
	}
	if CacheKey(1, Request{Start: p("a"), MaxHops: 1, Cap: 2}) == CacheKey(2, Request{Start: p("a"), MaxHops: 1, Cap: 2}) {
		t.Fatal("expected generation to be part of the key")
	}
}
