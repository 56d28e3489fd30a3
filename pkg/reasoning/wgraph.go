package reasoning

import "github.com/OFFIS-RIT/kinship/pkg/graph"

// wgraph is a weighted undirected graph with self loops, used for the
// aggregation steps of the community detectors. loop[i] is the weight of
// edges inside node i and counts twice towards its strength.
type wgraph struct {
	adj      []map[int]float64
	loop     []float64
	strength []float64
	m        float64
}

func fromSnapshot(snap *graph.Snapshot) *wgraph {
	n := snap.Len()
	g := &wgraph{
		adj:      make([]map[int]float64, n),
		loop:     make([]float64, n),
		strength: make([]float64, n),
		m:        snap.TotalWeight(),
	}
	for i := 0; i < n; i++ {
		nbs := snap.Neighbors(i)
		g.adj[i] = make(map[int]float64, len(nbs))
		for _, nb := range nbs {
			g.adj[i][nb.To] = nb.Weight
		}
		g.strength[i] = snap.Strength(i)
	}
	return g
}

func (g *wgraph) len() int { return len(g.adj) }

// aggregate collapses every community of labels into one node. labels must
// be dense in [0, k).
func (g *wgraph) aggregate(labels []int, k int) *wgraph {
	out := &wgraph{
		adj:      make([]map[int]float64, k),
		loop:     make([]float64, k),
		strength: make([]float64, k),
		m:        g.m,
	}
	for c := range out.adj {
		out.adj[c] = make(map[int]float64)
	}
	for i := range g.adj {
		ci := labels[i]
		out.loop[ci] += g.loop[i]
		out.strength[ci] += g.strength[i]
		for j, w := range g.adj[i] {
			cj := labels[j]
			switch {
			case ci == cj && i < j:
				out.loop[ci] += w
			case ci != cj:
				out.adj[ci][cj] += w
			}
		}
	}
	return out
}

// densify renumbers labels to 0..k-1 in order of first appearance.
func densify(labels []int) ([]int, int) {
	seen := make(map[int]int)
	out := make([]int, len(labels))
	for i, l := range labels {
		id, ok := seen[l]
		if !ok {
			id = len(seen)
			seen[l] = id
		}
		out[i] = id
	}
	return out, len(seen)
}

// Modularity is the weighted modularity of labels over snap at the given
// resolution. A graph without edge weight has modularity 0.
func Modularity(snap *graph.Snapshot, labels []int, resolution float64) float64 {
	m := snap.TotalWeight()
	if m <= 0 || len(labels) != snap.Len() {
		return 0
	}
	inside := make(map[int]float64)
	degree := make(map[int]float64)
	for i := 0; i < snap.Len(); i++ {
		degree[labels[i]] += snap.Strength(i)
		for _, nb := range snap.Neighbors(i) {
			if nb.To > i && labels[nb.To] == labels[i] {
				inside[labels[i]] += nb.Weight
			}
		}
	}
	var q float64
	for c, d := range degree {
		share := d / (2 * m)
		q += inside[c]/m - resolution*share*share
	}
	return q
}
