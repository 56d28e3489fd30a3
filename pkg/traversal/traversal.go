// Package traversal answers bounded "who knows whom" neighbourhood queries
// over the active graph generation.
package traversal

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/OFFIS-RIT/kinship/pkg/cache"
	"github.com/OFFIS-RIT/kinship/pkg/common"
	"github.com/OFFIS-RIT/kinship/pkg/logger"
	"github.com/OFFIS-RIT/kinship/pkg/metrics"
	"github.com/OFFIS-RIT/kinship/pkg/store"

	"github.com/cespare/xxhash/v2"
)

const (
	MaxHops    = 3
	MaxCap     = 500
	DefaultCap = MaxCap
)

// Filter restricts the edges a traversal may follow. The zero Filter
// accepts every edge.
type Filter struct {
	Provenance string            `json:"provenance,omitempty"`
	Types      []common.EdgeType `json:"types,omitempty"`
	MinWeight  float64           `json:"min_weight,omitempty"`
}

func (f Filter) Match(e common.Edge) bool {
	if e.Weight < f.MinWeight {
		return false
	}
	if f.Provenance != "" && !e.HasProvenance(f.Provenance) {
		return false
	}
	if len(f.Types) == 0 {
		return true
	}
	for _, t := range f.Types {
		if e.Type == t {
			return true
		}
	}
	return false
}

func (f Filter) normalizedTypes() []string {
	types := make([]string, 0, len(f.Types))
	for _, t := range f.Types {
		types = append(types, string(t))
	}
	sort.Strings(types)
	return store.DedupeStrings(types)
}

// Signature identifies equivalent filters regardless of type order.
func (f Filter) Signature() string {
	var b strings.Builder
	b.WriteString("p=")
	b.WriteString(f.Provenance)
	b.WriteString(";t=")
	b.WriteString(strings.Join(f.normalizedTypes(), ","))
	b.WriteString(";w=")
	b.WriteString(strconv.FormatFloat(f.MinWeight, 'g', -1, 64))
	return strconv.FormatUint(xxhash.Sum64String(b.String()), 16)
}

type Request struct {
	Start   common.NodeID `json:"start"`
	MaxHops int           `json:"max_hops"`
	Cap     int           `json:"cap"`
	Filter  Filter        `json:"filter"`
}

type Status string

const (
	StatusOK       Status = "ok"
	StatusNotFound Status = "not_found"
)

type NetworkNode struct {
	ID   common.NodeID   `json:"id"`
	Kind common.NodeKind `json:"kind"`
	Hop  int             `json:"hop"`
}

// Network is a connected subgraph around Start. Truncated reports that the
// cap stopped admission of further reachable nodes.
type Network struct {
	Start      common.NodeID `json:"start"`
	Status     Status        `json:"status"`
	Generation int64         `json:"generation"`
	Nodes      []NetworkNode `json:"nodes"`
	Edges      []common.Edge `json:"edges"`
	Truncated  bool          `json:"truncated"`
}

type Options struct {
	Timeout  time.Duration
	CacheTTL time.Duration
}

func DefaultOptions() Options {
	return Options{
		Timeout:  2 * time.Second,
		CacheTTL: 5 * time.Minute,
	}
}

// SnapshotOpener is the part of the edge store traversal reads from.
type SnapshotOpener interface {
	OpenSnapshot(ctx context.Context) (store.SnapshotReader, error)
}

type Service struct {
	store SnapshotOpener
	memo  *cache.Memoizer
	opts  Options
}

// NewService returns a traversal service. c may be nil to disable caching.
func NewService(s SnapshotOpener, c cache.Cache, opts Options) *Service {
	d := DefaultOptions()
	if opts.Timeout <= 0 {
		opts.Timeout = d.Timeout
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = d.CacheTTL
	}
	return &Service{store: s, memo: cache.NewMemoizer(c), opts: opts}
}

func validate(req *Request) error {
	if _, _, err := common.ParseNodeID(string(req.Start)); err != nil {
		return common.InvalidParameter("get network", "%v", err)
	}
	if req.MaxHops < 0 || req.MaxHops > MaxHops {
		return common.InvalidParameter("get network", "max_hops must be between 0 and %d, got %d", MaxHops, req.MaxHops)
	}
	if req.Cap == 0 {
		req.Cap = DefaultCap
	}
	if req.Cap < 0 || req.Cap > MaxCap {
		return common.InvalidParameter("get network", "cap must be between 1 and %d, got %d", MaxCap, req.Cap)
	}
	if req.Filter.MinWeight < 0 {
		return common.InvalidParameter("get network", "min_weight must not be negative")
	}
	for _, t := range req.Filter.Types {
		if !t.Valid() {
			return common.InvalidParameter("get network", "unknown edge type %q", t)
		}
	}
	return nil
}

// CacheKey is the cache key of a validated request against generation.
func CacheKey(generation int64, req Request) string {
	return fmt.Sprintf("network:g%d:%s:%d:%d:%s", generation, req.Start, req.MaxHops, req.Cap, req.Filter.Signature())
}

// GetNetwork returns the nodes reachable from req.Start within req.MaxHops
// hops, admitting at most req.Cap nodes besides the start in discovery
// order. An unknown start node yields an empty network with StatusNotFound.
func (s *Service) GetNetwork(ctx context.Context, req Request) (*Network, error) {
	if err := validate(&req); err != nil {
		return nil, err
	}
	started := time.Now()
	defer func() {
		metrics.RequestDuration.WithLabelValues("get_network").Observe(time.Since(started).Seconds())
	}()

	ctx, cancel := context.WithTimeout(ctx, s.opts.Timeout)
	defer cancel()

	generation, exists, err := s.lookupStart(ctx, req.Start)
	if err != nil {
		return nil, s.wrap(ctx, err)
	}
	if !exists {
		return &Network{Start: req.Start, Status: StatusNotFound, Generation: generation}, nil
	}

	// The traversal may be shared with other callers, so it reads from its
	// own snapshot instead of one closed when this call returns.
	key := CacheKey(generation, req)
	net, err := cache.Memoize(ctx, s.memo, key, s.opts.CacheTTL, func(ctx context.Context) (*Network, error) {
		reader, err := s.store.OpenSnapshot(ctx)
		if err != nil {
			return nil, err
		}
		defer func() {
			_ = reader.Close(context.WithoutCancel(ctx))
		}()
		return Traverse(ctx, reader, req)
	})
	if err != nil {
		return nil, s.wrap(ctx, err)
	}
	return net, nil
}

// lookupStart reports the active generation and whether start exists in it.
func (s *Service) lookupStart(ctx context.Context, start common.NodeID) (int64, bool, error) {
	reader, err := s.store.OpenSnapshot(ctx)
	if err != nil {
		return 0, false, err
	}
	defer func() {
		_ = reader.Close(context.WithoutCancel(ctx))
	}()

	exists, err := reader.NodeExists(ctx, start)
	if err != nil {
		return 0, false, err
	}
	return reader.Generation(), exists, nil
}

func (s *Service) wrap(ctx context.Context, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		logger.Warn("[Traversal] Deadline exceeded", "timeout", s.opts.Timeout)
		return common.Unavailable("get network", fmt.Errorf("traversal exceeded %s: %w", s.opts.Timeout, ctx.Err()))
	}
	return common.Unavailable("get network", err)
}

// Traverse runs the bounded breadth-first search against one snapshot. Each
// wave fetches the neighbours of the whole frontier in one read; candidates
// are visited in frontier order and then by neighbour id.
func Traverse(ctx context.Context, r store.SnapshotReader, req Request) (*Network, error) {
	net := &Network{
		Start:      req.Start,
		Status:     StatusOK,
		Generation: r.Generation(),
		Nodes:      []NetworkNode{{ID: req.Start, Kind: req.Start.Kind(), Hop: 0}},
	}
	visited := map[common.NodeID]struct{}{req.Start: {}}
	order := []common.NodeID{req.Start}
	frontier := []common.NodeID{req.Start}

	for hop := 1; hop <= req.MaxHops && len(frontier) > 0 && !net.Truncated; hop++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		edges, err := r.Neighbors(ctx, frontier)
		if err != nil {
			return nil, fmt.Errorf("failed to load neighbours at hop %d: %w", hop, err)
		}

		inFrontier := make(map[common.NodeID]struct{}, len(frontier))
		for _, id := range frontier {
			inFrontier[id] = struct{}{}
		}
		incident := make(map[common.NodeID][]common.Edge, len(frontier))
		for _, e := range edges {
			if !req.Filter.Match(e) {
				continue
			}
			if _, ok := inFrontier[e.Src]; ok {
				incident[e.Src] = append(incident[e.Src], e)
			}
			if _, ok := inFrontier[e.Dst]; ok {
				incident[e.Dst] = append(incident[e.Dst], e)
			}
		}

		var next []common.NodeID
	wave:
		for _, f := range frontier {
			list := incident[f]
			sort.SliceStable(list, func(i, j int) bool { return list[i].Other(f) < list[j].Other(f) })
			for _, e := range list {
				o := e.Other(f)
				if _, seen := visited[o]; seen {
					continue
				}
				if len(order)-1 >= req.Cap {
					net.Truncated = true
					break wave
				}
				visited[o] = struct{}{}
				order = append(order, o)
				next = append(next, o)
				net.Nodes = append(net.Nodes, NetworkNode{ID: o, Kind: o.Kind(), Hop: hop})
			}
		}
		frontier = next
	}

	if len(order) < 2 {
		return net, nil
	}
	edges, err := r.EdgesAmong(ctx, order)
	if err != nil {
		return nil, fmt.Errorf("failed to load induced edges: %w", err)
	}
	for _, e := range edges {
		if req.Filter.Match(e) {
			net.Edges = append(net.Edges, e)
		}
	}
	return net, nil
}
