package store

import (
	"sort"

	"github.com/OFFIS-RIT/kinship/pkg/common"
)

func ChunkRange(total, chunkSize int, fn func(start, end int) error) error {
	if total <= 0 {
		return nil
	}
	if chunkSize <= 0 {
		chunkSize = total
	}
	for start := 0; start < total; start += chunkSize {
		end := min(start+chunkSize, total)
		if err := fn(start, end); err != nil {
			return err
		}
	}
	return nil
}

func DedupeStrings(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, v := range in {
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}

// MergeContributions folds per-provenance contributions into one edge per
// key. Weight is the sum, Provenance the heaviest contributor with ties going
// to the smallest id, and the observation window spans all contributions.
// The result is sorted by key.
func MergeContributions(contributions []common.EdgeContribution) []common.Edge {
	byKey := make(map[common.EdgeKey][]common.EdgeContribution)
	for _, c := range contributions {
		byKey[c.Key] = append(byKey[c.Key], c)
	}

	edges := make([]common.Edge, 0, len(byKey))
	for key, group := range byKey {
		sort.Slice(group, func(i, j int) bool {
			return group[i].Provenance < group[j].Provenance
		})

		e := common.Edge{
			Src:           key.Src,
			Dst:           key.Dst,
			Type:          key.Type,
			FirstObserved: group[0].FirstObserved,
			LastObserved:  group[0].LastObserved,
		}
		best := -1.0
		for _, c := range group {
			e.Weight += c.Weight
			e.Provenances = append(e.Provenances, c.Provenance)
			if c.Weight > best {
				best = c.Weight
				e.Provenance = c.Provenance
			}
			if c.FirstObserved.Before(e.FirstObserved) {
				e.FirstObserved = c.FirstObserved
			}
			if c.LastObserved.After(e.LastObserved) {
				e.LastObserved = c.LastObserved
			}
		}
		edges = append(edges, e)
	}

	SortEdges(edges)
	return edges
}

// SortEdges orders edges by (src, dst, type).
func SortEdges(edges []common.Edge) {
	sort.Slice(edges, func(i, j int) bool {
		return edgeLess(edges[i].Key(), edges[j].Key())
	})
}

func edgeLess(a, b common.EdgeKey) bool {
	if a.Src != b.Src {
		return a.Src < b.Src
	}
	if a.Dst != b.Dst {
		return a.Dst < b.Dst
	}
	return a.Type < b.Type
}

// RankBySimilarity scores candidates against query with common.Cosine and
// returns the top k, skipping the query node and vectors of another version.
// Ties are broken by node id.
func RankBySimilarity(query common.FeatureVector, candidates []common.FeatureVector, k int) []common.RankedNode {
	out := make([]common.RankedNode, 0, len(candidates))
	for _, c := range candidates {
		if c.NodeID == query.NodeID || c.Version != query.Version || c.Kind != query.Kind {
			continue
		}
		out = append(out, common.RankedNode{NodeID: c.NodeID, Value: common.Cosine(query.Values, c.Values)})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Value != out[j].Value {
			return out[i].Value > out[j].Value
		}
		return out[i].NodeID < out[j].NodeID
	})
	if k > 0 && len(out) > k {
		out = out[:k]
	}
	return out
}
