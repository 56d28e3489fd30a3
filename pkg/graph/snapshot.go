package graph

import (
	"context"
	"fmt"
	"sort"
	"sync/atomic"

	"github.com/OFFIS-RIT/kinship/pkg/cache"
	"github.com/OFFIS-RIT/kinship/pkg/common"
	"github.com/OFFIS-RIT/kinship/pkg/logger"

	"golang.org/x/sync/singleflight"
)

// Neighbor is an adjacency entry of a Snapshot. Parallel edges of different
// types between the same pair are folded into one entry with summed weight.
type Neighbor struct {
	To     int
	Weight float64
}

// Snapshot is an immutable adjacency view of one graph generation. Node
// indices follow sorted node id order so every algorithm over a snapshot is
// deterministic.
type Snapshot struct {
	generation  int64
	nodes       []common.NodeID
	index       map[common.NodeID]int
	adj         [][]Neighbor
	edges       []common.Edge
	totalWeight float64
}

// NewSnapshot indexes edges. Edges failing validation are ignored.
func NewSnapshot(generation int64, edges []common.Edge) *Snapshot {
	seen := make(map[common.NodeID]struct{})
	valid := make([]common.Edge, 0, len(edges))
	for _, e := range edges {
		if e.Validate() != nil {
			continue
		}
		valid = append(valid, e)
		seen[e.Src] = struct{}{}
		seen[e.Dst] = struct{}{}
	}

	nodes := make([]common.NodeID, 0, len(seen))
	for id := range seen {
		nodes = append(nodes, id)
	}
	sort.Slice(nodes, func(i, j int) bool { return nodes[i] < nodes[j] })
	index := make(map[common.NodeID]int, len(nodes))
	for i, id := range nodes {
		index[id] = i
	}

	pairs := make([]map[int]float64, len(nodes))
	for i := range pairs {
		pairs[i] = make(map[int]float64)
	}
	var total float64
	for _, e := range valid {
		a, b := index[e.Src], index[e.Dst]
		pairs[a][b] += e.Weight
		pairs[b][a] += e.Weight
		total += e.Weight
	}

	adj := make([][]Neighbor, len(nodes))
	for i, m := range pairs {
		list := make([]Neighbor, 0, len(m))
		for to, w := range m {
			list = append(list, Neighbor{To: to, Weight: w})
		}
		sort.Slice(list, func(x, y int) bool { return list[x].To < list[y].To })
		adj[i] = list
	}

	return &Snapshot{
		generation:  generation,
		nodes:       nodes,
		index:       index,
		adj:         adj,
		edges:       valid,
		totalWeight: total,
	}
}

func (s *Snapshot) Generation() int64 { return s.generation }
func (s *Snapshot) Len() int          { return len(s.nodes) }
func (s *Snapshot) EdgeCount() int    { return len(s.edges) }

// TotalWeight is the sum of all edge weights.
func (s *Snapshot) TotalWeight() float64 { return s.totalWeight }

// Nodes returns node ids in index order. The slice must not be modified.
func (s *Snapshot) Nodes() []common.NodeID { return s.nodes }

func (s *Snapshot) Node(i int) common.NodeID { return s.nodes[i] }

func (s *Snapshot) Index(id common.NodeID) (int, bool) {
	i, ok := s.index[id]
	return i, ok
}

// Neighbors returns the sorted adjacency of node i. The slice must not be
// modified.
func (s *Snapshot) Neighbors(i int) []Neighbor { return s.adj[i] }

// Strength is the weighted degree of node i.
func (s *Snapshot) Strength(i int) float64 {
	var sum float64
	for _, n := range s.adj[i] {
		sum += n.Weight
	}
	return sum
}

// Edges returns the edges the snapshot was built from.
func (s *Snapshot) Edges() []common.Edge { return s.edges }

// GenerationSource is the part of the edge store a SnapshotCache reads.
type GenerationSource interface {
	ActiveGeneration(ctx context.Context) (common.Generation, error)
	Edges(ctx context.Context, generation int64) ([]common.Edge, error)
}

// SnapshotCache keeps the snapshot of the active generation and reloads it
// after a publish. Concurrent loads of the same generation are collapsed.
type SnapshotCache struct {
	source   GenerationSource
	maxEdges int64
	current  atomic.Pointer[Snapshot]
	group    singleflight.Group
}

// NewSnapshotCache returns a cache refusing generations with more than
// maxEdges edges. maxEdges <= 0 disables the ceiling.
func NewSnapshotCache(source GenerationSource, maxEdges int64) *SnapshotCache {
	return &SnapshotCache{source: source, maxEdges: maxEdges}
}

// Get returns the snapshot of the active generation. With nothing published
// it returns an empty snapshot for generation 0.
func (c *SnapshotCache) Get(ctx context.Context) (*Snapshot, error) {
	gen, err := c.source.ActiveGeneration(ctx)
	if err != nil {
		return nil, common.Unavailable("snapshot", err)
	}
	if cur := c.current.Load(); cur != nil && cur.generation == gen.ID {
		return cur, nil
	}
	if gen.ID == 0 {
		empty := NewSnapshot(0, nil)
		c.current.Store(empty)
		return empty, nil
	}
	if c.maxEdges > 0 && gen.EdgeCount > c.maxEdges {
		return nil, common.Overloaded("snapshot", "generation %d has %d edges, limit is %d", gen.ID, gen.EdgeCount, c.maxEdges)
	}

	// The load is shared, so it runs without the caller's cancellation and
	// each caller only stops waiting on its own ctx.
	ch := c.group.DoChan(fmt.Sprintf("g%d", gen.ID), func() (any, error) {
		lctx, cancel := cache.Detach(ctx)
		defer cancel()

		edges, err := c.source.Edges(lctx, gen.ID)
		if err != nil {
			return nil, common.Unavailable("snapshot", err)
		}
		snap := NewSnapshot(gen.ID, edges)
		logger.Debug("[Snapshot] Loaded generation", "generation", gen.ID, "nodes", snap.Len(), "edges", snap.EdgeCount())
		return snap, nil
	})

	var res singleflight.Result
	select {
	case <-ctx.Done():
		return nil, common.Unavailable("snapshot", ctx.Err())
	case res = <-ch:
	}
	if res.Err != nil {
		return nil, res.Err
	}
	snap := res.Val.(*Snapshot)
	if cur := c.current.Load(); cur == nil || cur.generation < snap.generation {
		c.current.Store(snap)
	}
	return snap, nil
}
