package reasoning

import (
	"context"
	"math/rand/v2"
	"sort"

	"github.com/OFFIS-RIT/kinship/pkg/graph"
)

const epsilon = 1e-12

// DetectParams are shared by every detector. Detectors ignore parameters
// they have no use for.
type DetectParams struct {
	Resolution    float64 `json:"resolution"`
	MaxIterations int     `json:"max_iterations"`
	Seed          uint64  `json:"seed"`
}

// Detector partitions the nodes of a snapshot. The returned slice holds one
// label per node index; labels need not be dense.
type Detector interface {
	Detect(ctx context.Context, snap *graph.Snapshot, p DetectParams) ([]int, error)
}

const (
	AlgorithmGreedyModularity = "greedy_modularity"
	AlgorithmLabelPropagation = "label_propagation"
	AlgorithmLouvain          = "louvain"
)

var detectors = map[string]Detector{
	AlgorithmGreedyModularity: GreedyModularity{},
	AlgorithmLabelPropagation: LabelPropagation{},
	AlgorithmLouvain:          Louvain{},
}

// Algorithms lists the registered detector names.
func Algorithms() []string {
	out := make([]string, 0, len(detectors))
	for name := range detectors {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func DetectorByName(name string) (Detector, bool) {
	d, ok := detectors[name]
	return d, ok
}

func newRand(seed uint64) *rand.Rand {
	return rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
}

func identity(n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = i
	}
	return out
}

func sortedKeys(m map[int]float64) []int {
	keys := make([]int, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Ints(keys)
	return keys
}

// GreedyModularity merges the pair of communities with the largest
// modularity gain until no merge improves modularity (Clauset, Newman and
// Moore).
type GreedyModularity struct{}

func (GreedyModularity) Detect(ctx context.Context, snap *graph.Snapshot, p DetectParams) ([]int, error) {
	g := fromSnapshot(snap)
	n := g.len()
	labels := identity(n)
	if g.m <= 0 {
		return labels, nil
	}

	links := make([]map[int]float64, n)
	for i := range links {
		links[i] = make(map[int]float64, len(g.adj[i]))
		for j, w := range g.adj[i] {
			links[i][j] = w
		}
	}
	degree := append([]float64(nil), g.strength...)
	members := make([][]int, n)
	for i := range members {
		members[i] = []int{i}
	}

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		bestC, bestD, best := -1, -1, 0.0
		for c := 0; c < n; c++ {
			if links[c] == nil {
				continue
			}
			for _, d := range sortedKeys(links[c]) {
				if d <= c {
					continue
				}
				dq := links[c][d]/g.m - p.Resolution*degree[c]*degree[d]/(2*g.m*g.m)
				if dq > best+epsilon {
					bestC, bestD, best = c, d, dq
				}
			}
		}
		if bestC < 0 {
			break
		}

		c, d := bestC, bestD
		for e, w := range links[d] {
			delete(links[e], d)
			if e == c {
				continue
			}
			links[c][e] += w
			links[e][c] += w
		}
		degree[c] += degree[d]
		members[c] = append(members[c], members[d]...)
		links[d], members[d] = nil, nil
	}

	for c, list := range members {
		for _, i := range list {
			labels[i] = c
		}
	}
	return labels, nil
}

// LabelPropagation lets every node adopt the label carrying the most
// neighbour weight, visiting nodes in a seeded random order each round.
// A node keeps its label when it is among the best; other ties go to the
// smallest label.
type LabelPropagation struct{}

func (LabelPropagation) Detect(ctx context.Context, snap *graph.Snapshot, p DetectParams) ([]int, error) {
	n := snap.Len()
	labels := identity(n)
	rng := newRand(p.Seed)

	for iter := 0; iter < p.MaxIterations; iter++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		changed := false
		for _, i := range rng.Perm(n) {
			nbs := snap.Neighbors(i)
			if len(nbs) == 0 {
				continue
			}
			weights := make(map[int]float64, len(nbs))
			var top float64
			for _, nb := range nbs {
				l := labels[nb.To]
				weights[l] += nb.Weight
				if weights[l] > top {
					top = weights[l]
				}
			}
			if weights[labels[i]] >= top-epsilon {
				continue
			}
			for _, l := range sortedKeys(weights) {
				if weights[l] >= top-epsilon {
					labels[i] = l
					changed = true
					break
				}
			}
		}
		if !changed {
			break
		}
	}
	return labels, nil
}

// Louvain alternates local moving of nodes between communities with
// aggregation of communities into single nodes until no move improves
// modularity.
type Louvain struct{}

func (Louvain) Detect(ctx context.Context, snap *graph.Snapshot, p DetectParams) ([]int, error) {
	g := fromSnapshot(snap)
	labels := identity(g.len())
	if g.m <= 0 {
		return labels, nil
	}
	rng := newRand(p.Seed)

	for level := 0; level < p.MaxIterations; level++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		comm, improved := localMove(g, p.Resolution, rng, p.MaxIterations)
		if !improved {
			break
		}
		dense, k := densify(comm)
		for i := range labels {
			labels[i] = dense[labels[i]]
		}
		g = g.aggregate(dense, k)
	}
	return labels, nil
}

// localMove runs the first Louvain phase and reports whether any node
// changed community.
func localMove(g *wgraph, resolution float64, rng *rand.Rand, maxRounds int) ([]int, bool) {
	n := g.len()
	comm := identity(n)
	total := append([]float64(nil), g.strength...)
	order := rng.Perm(n)
	improved := false

	for round := 0; round < maxRounds; round++ {
		moved := false
		for _, i := range order {
			ci, ki := comm[i], g.strength[i]
			links := make(map[int]float64)
			for j, w := range g.adj[i] {
				links[comm[j]] += w
			}

			total[ci] -= ki
			best := ci
			bestGain := links[ci] - resolution*total[ci]*ki/(2*g.m)
			for _, c := range sortedKeys(links) {
				gain := links[c] - resolution*total[c]*ki/(2*g.m)
				if gain > bestGain+epsilon {
					best, bestGain = c, gain
				}
			}
			total[best] += ki

			if best != ci {
				comm[i] = best
				moved = true
				improved = true
			}
		}
		if !moved {
			break
		}
	}
	return comm, improved
}
