package reasoning

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/OFFIS-RIT/kinship/pkg/cache"
	"github.com/OFFIS-RIT/kinship/pkg/common"
	"github.com/OFFIS-RIT/kinship/pkg/graph"
	"github.com/OFFIS-RIT/kinship/pkg/metrics"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const (
	MaxPathLength = 6
	MaxPathCount  = 50

	// attemptsPerPath bounds the walks started per requested path.
	attemptsPerPath = 10
	// stepsPerWalk bounds the expansions of one backtracking walk.
	stepsPerWalk = 2000
)

type PathRequest struct {
	ConceptA  string `json:"concept_a"`
	ConceptB  string `json:"concept_b"`
	MaxLength int    `json:"max_length"`
	Count     int    `json:"count"`
	Seed      uint64 `json:"seed,omitempty"`
}

// Path is a simple path from a node tagged ConceptA to one tagged ConceptB.
type Path struct {
	Nodes []common.NodeID `json:"nodes"`
}

func (p Path) Len() int { return len(p.Nodes) - 1 }

func (p Path) key() string {
	ids := make([]string, len(p.Nodes))
	for i, id := range p.Nodes {
		ids[i] = string(id)
	}
	return strings.Join(ids, ">")
}

func normalizeConcept(c string) string {
	return strings.ToLower(strings.TrimSpace(c))
}

func (s *Service) validatePaths(req *PathRequest) error {
	req.ConceptA = normalizeConcept(req.ConceptA)
	req.ConceptB = normalizeConcept(req.ConceptB)
	if req.ConceptA == "" || req.ConceptB == "" {
		return common.InvalidParameter("sample paths", "both concepts are required")
	}
	if req.MaxLength < 1 || req.MaxLength > MaxPathLength {
		return common.InvalidParameter("sample paths", "max_length must be between 1 and %d, got %d", MaxPathLength, req.MaxLength)
	}
	if req.Count < 1 || req.Count > MaxPathCount {
		return common.InvalidParameter("sample paths", "count must be between 1 and %d, got %d", MaxPathCount, req.Count)
	}
	if req.Seed == 0 {
		req.Seed = s.opts.Seed
	}
	return nil
}

// SamplePaths returns up to req.Count distinct paths of at most
// req.MaxLength edges connecting the two concepts. Results are cached per
// generation.
func (s *Service) SamplePaths(ctx context.Context, req PathRequest) ([]Path, error) {
	if err := s.validatePaths(&req); err != nil {
		return nil, err
	}
	if s.snapshots == nil {
		return nil, errors.New("path sampling needs a snapshot cache")
	}
	ctx, span := tracer.Start(ctx, "reasoning.Service.SamplePaths",
		trace.WithAttributes(
			attribute.String("concept_a", req.ConceptA),
			attribute.String("concept_b", req.ConceptB),
			attribute.Int("max_length", req.MaxLength),
			attribute.Int("count", req.Count),
		),
	)
	defer span.End()
	started := time.Now()
	defer func() {
		metrics.RequestDuration.WithLabelValues("sample_paths").Observe(time.Since(started).Seconds())
	}()

	ctx, cancel := context.WithTimeout(ctx, s.opts.PathTimeout)
	defer cancel()

	snap, err := s.snapshots.Get(ctx)
	if err != nil {
		return nil, spanErr(span, err)
	}

	key := fmt.Sprintf("paths:g%d:%s:%s:%d:%d:%d", snap.Generation(), req.ConceptA, req.ConceptB, req.MaxLength, req.Count, req.Seed)
	paths, err := cache.Memoize(ctx, s.memo, key, s.opts.CacheTTL, func(ctx context.Context) ([]Path, error) {
		sources, err := s.store.TaggedNodes(ctx, req.ConceptA)
		if err != nil {
			return nil, common.Unavailable("sample paths", err)
		}
		targets, err := s.store.TaggedNodes(ctx, req.ConceptB)
		if err != nil {
			return nil, common.Unavailable("sample paths", err)
		}
		return Sample(ctx, snap, sources, targets, req)
	})
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			err = common.Unavailable("sample paths", fmt.Errorf("sampling exceeded %s: %w", s.opts.PathTimeout, err))
		}
		return nil, spanErr(span, err)
	}
	span.SetAttributes(attribute.Int("paths", len(paths)))
	return paths, nil
}

// Sample draws paths from sources to targets over snap. A breadth-first
// search from all targets gives every node its hop distance to the nearest
// target; walks only step to unvisited neighbours that can still reach a
// target within the remaining length. Neighbours are drawn with weight
// 1/(1+uses), where uses counts how often a node already appears in a
// returned path.
func Sample(ctx context.Context, snap *graph.Snapshot, sources, targets []common.NodeID, req PathRequest) ([]Path, error) {
	src := indexes(snap, sources)
	dst := indexes(snap, targets)
	out := []Path{}
	if len(src) == 0 || len(dst) == 0 {
		return out, nil
	}

	isTarget := make([]bool, snap.Len())
	for _, t := range dst {
		isTarget[t] = true
	}
	dist := distances(snap, dst, req.MaxLength)

	rng := newRand(req.Seed)
	uses := make([]int, snap.Len())
	seen := make(map[string]struct{})
	w := &walker{snap: snap, dist: dist, isTarget: isTarget, uses: uses, rng: rng, onPath: make([]bool, snap.Len())}

	order := rng.Perm(len(src))
	for attempt := 0; attempt < req.Count*attemptsPerPath && len(out) < req.Count; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		start := src[order[attempt%len(order)]]
		if dist[start] < 0 || (dist[start] == 0 && !w.canLeave(start, req.MaxLength)) {
			continue
		}
		nodes := w.walk(start, req.MaxLength)
		if nodes == nil {
			continue
		}
		p := Path{Nodes: make([]common.NodeID, len(nodes))}
		for i, n := range nodes {
			p.Nodes[i] = snap.Node(n)
		}
		k := p.key()
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		for _, n := range nodes {
			uses[n]++
		}
		out = append(out, p)
	}
	return out, nil
}

func indexes(snap *graph.Snapshot, ids []common.NodeID) []int {
	out := make([]int, 0, len(ids))
	seen := make(map[int]struct{}, len(ids))
	for _, id := range ids {
		i, ok := snap.Index(id)
		if !ok {
			continue
		}
		if _, dup := seen[i]; dup {
			continue
		}
		seen[i] = struct{}{}
		out = append(out, i)
	}
	return out
}

// distances runs a multi-source BFS from targets up to limit hops. Nodes
// further away keep -1.
func distances(snap *graph.Snapshot, targets []int, limit int) []int {
	dist := make([]int, snap.Len())
	for i := range dist {
		dist[i] = -1
	}
	queue := make([]int, 0, len(targets))
	for _, t := range targets {
		dist[t] = 0
		queue = append(queue, t)
	}
	for head := 0; head < len(queue); head++ {
		v := queue[head]
		if dist[v] == limit {
			continue
		}
		for _, nb := range snap.Neighbors(v) {
			if dist[nb.To] < 0 {
				dist[nb.To] = dist[v] + 1
				queue = append(queue, nb.To)
			}
		}
	}
	return dist
}

type walker struct {
	snap     *graph.Snapshot
	dist     []int
	isTarget []bool
	uses     []int
	rng      *rand.Rand
	onPath   []bool
	steps    int
}

// canLeave reports whether a source that is itself a target has any
// neighbour from which another target is reachable.
func (w *walker) canLeave(start, maxLength int) bool {
	for _, nb := range w.snap.Neighbors(start) {
		if d := w.dist[nb.To]; d >= 0 && d < maxLength {
			return true
		}
	}
	return false
}

// walk returns the node indexes of one path from start, or nil.
func (w *walker) walk(start, maxLength int) []int {
	w.steps = 0
	path := []int{start}
	w.onPath[start] = true
	found := w.extend(&path, maxLength)
	for _, n := range path {
		w.onPath[n] = false
	}
	if !found {
		return nil
	}
	return path
}

func (w *walker) extend(path *[]int, remaining int) bool {
	cur := (*path)[len(*path)-1]
	if len(*path) > 1 && w.isTarget[cur] {
		return true
	}
	if remaining == 0 || w.steps >= stepsPerWalk {
		return false
	}
	w.steps++

	var cands []int
	var weights []float64
	for _, nb := range w.snap.Neighbors(cur) {
		d := w.dist[nb.To]
		if w.onPath[nb.To] || d < 0 {
			continue
		}
		// a target neighbour ends the path, others need a target within reach
		if !w.isTarget[nb.To] && d > remaining-1 {
			continue
		}
		cands = append(cands, nb.To)
		weights = append(weights, 1/float64(1+w.uses[nb.To]))
	}

	for len(cands) > 0 {
		i := pick(w.rng, weights)
		next := cands[i]
		cands = append(cands[:i], cands[i+1:]...)
		weights = append(weights[:i], weights[i+1:]...)

		*path = append(*path, next)
		w.onPath[next] = true
		if w.extend(path, remaining-1) {
			return true
		}
		w.onPath[next] = false
		*path = (*path)[:len(*path)-1]
	}
	return false
}

func pick(rng *rand.Rand, weights []float64) int {
	var total float64
	for _, w := range weights {
		total += w
	}
	r := rng.Float64() * total
	for i, w := range weights {
		if r < w {
			return i
		}
		r -= w
	}
	return len(weights) - 1
}
