package scoring

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/OFFIS-RIT/kinship/pkg/common"
	"github.com/OFFIS-RIT/kinship/pkg/graph"
	"github.com/OFFIS-RIT/kinship/pkg/store/memory"
)

func p(id string) common.NodeID { return common.PersonID(id) }

func edge(a, b string) common.Edge {
	k := common.NewEdgeKey(p(a), p(b), common.EdgeCoEmployment)
	return common.Edge{Src: k.Src, Dst: k.Dst, Type: k.Type, Weight: 1, Provenance: "company:x", Provenances: []string{"company:x"}}
}

// bridged is two four-cliques joined only through x.
func bridged() *memory.Store {
	var edges []common.Edge
	for _, c := range [][]string{{"a1", "a2", "a3", "a4"}, {"b1", "b2", "b3", "b4"}} {
		for i := range c {
			for j := i + 1; j < len(c); j++ {
				edges = append(edges, edge(c[i], c[j]))
			}
		}
	}
	for _, o := range []string{"a1", "a2", "b1", "b2"} {
		edges = append(edges, edge("x", o))
	}
	s := memory.New()
	s.PutEdges(edges...)
	return s
}

func newEngine(s *memory.Store, opts Options) *Engine {
	return NewEngine(s, graph.NewSnapshotCache(s, 0), nil, opts)
}

func TestImportanceFloorAndMonotone(t *testing.T) {
	floor, _ := Importance(RepositorySignals, map[string]float64{}, 0, 100)
	if floor != 0 {
		t.Fatalf("expected floor for all-zero signals, got %v", floor)
	}

	base := map[string]float64{"stars": 100, "forks": 10, "contributors": 5, "freshness": 0.5}
	want, _ := Importance(RepositorySignals, base, 0, 100)
	for _, s := range RepositorySignals {
		for _, bump := range []float64{0.1, 1, 1000, 1e9} {
			raw := make(map[string]float64, len(base))
			for k, v := range base {
				raw[k] = v
			}
			raw[s.Name] += bump
			got, _ := Importance(RepositorySignals, raw, 0, 100)
			if got < want {
				t.Fatalf("expected raising %s by %v not to lower the score, got %v < %v", s.Name, bump, got, want)
			}
			if got > 100 {
				t.Fatalf("expected score within ceiling, got %v", got)
			}
		}
	}
}

func TestImportanceInputsSnapshot(t *testing.T) {
	_, inputs := Importance(DeveloperSignals, map[string]float64{"followers": 12}, 0, 100)
	if inputs["followers"] != 12 || inputs["followers.weight"] != 0.4 || inputs["followers.reference"] != 5000 {
		t.Fatalf("expected raw value, weight and reference in inputs, got %v", inputs)
	}
	if _, ok := inputs["merged_contributions"]; !ok {
		t.Fatal("expected missing signals to be recorded as zero")
	}
}

func TestScoreEntitiesPopularRepositoryRanksHigher(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	s.AddRepository(
		memory.RepositoryMeta{ID: "big", Stars: 10000},
		memory.RepositoryMeta{ID: "small", Stars: 10},
	)
	last := time.Now().UTC().AddDate(0, 0, -10)
	for i := 0; i < 50; i++ {
		s.AddContribution(common.ContributionRecord{PersonID: string(rune('A' + i)), RepositoryID: "big", ContributionCount: 1, LastActivity: last})
	}
	for i := 0; i < 2; i++ {
		s.AddContribution(common.ContributionRecord{PersonID: string(rune('A' + i)), RepositoryID: "small", ContributionCount: 1, LastActivity: last})
	}
	e := NewEngine(s, nil, nil, Options{})

	res, err := e.ScoreEntities(ctx, common.EntityRepository, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.ScoredCount != 2 {
		t.Fatalf("expected 2 scored repositories, got %d", res.ScoredCount)
	}
	top, err := s.TopScores(ctx, res.RunID, common.ScoreImportance, 0, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(top) != 2 || top[0].NodeID != common.RepositoryID("big") {
		t.Fatalf("expected big repository first, got %+v", top)
	}
	if top[0].Value <= top[1].Value {
		t.Fatalf("expected strictly higher score, got %v and %v", top[0].Value, top[1].Value)
	}
	if top[0].Inputs["stars"] != 10000 || top[0].Inputs["contributors"] != 50 {
		t.Fatalf("expected stored inputs, got %v", top[0].Inputs)
	}
}

func TestScoreEntitiesScopeAndKind(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	s.AddPerson(
		memory.PersonMeta{ID: "ada", Followers: 10},
		memory.PersonMeta{ID: "bob"},
	)
	e := NewEngine(s, nil, nil, Options{})

	res, err := e.ScoreEntities(ctx, common.EntityDeveloper, []string{"bob"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.ScoredCount != 1 {
		t.Fatalf("expected only the scoped developer, got %d", res.ScoredCount)
	}
	run, err := s.LatestScoreRun(ctx, common.ScoreImportance, common.EntityDeveloper)
	if err != nil || run == nil {
		t.Fatalf("expected stored run, got %v %v", run, err)
	}
	if run.Strategy != common.StrategyWeightedLog || run.Params["scope"] == nil {
		t.Fatalf("expected strategy and scope in params, got %+v", run)
	}

	if _, err := e.ScoreEntities(ctx, "company", nil); !errors.Is(err, common.ErrInvalidParameter) {
		t.Fatalf("expected invalid parameter, got %v", err)
	}
}

func TestScopedRunKeepsScoresOutsideScope(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	s.AddPerson(
		memory.PersonMeta{ID: "ada", Followers: 10},
		memory.PersonMeta{ID: "bob"},
	)
	e := NewEngine(s, nil, nil, Options{})

	if _, err := e.ScoreEntities(ctx, common.EntityDeveloper, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	before := importanceByNode(t, s)

	s.AddPerson(memory.PersonMeta{ID: "bob", Followers: 500})
	res, err := e.ScoreEntities(ctx, common.EntityDeveloper, []string{"bob"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.ScoredCount != 1 {
		t.Fatalf("expected 1 rescored developer, got %d", res.ScoredCount)
	}

	after := importanceByNode(t, s)
	if len(after) != 2 {
		t.Fatalf("expected scores for ada and bob, got %v", after)
	}
	if after[p("ada")] != before[p("ada")] {
		t.Fatalf("expected ada's score %v to survive, got %v", before[p("ada")], after[p("ada")])
	}
	if after[p("bob")] <= before[p("bob")] {
		t.Fatalf("expected bob's score to rise above %v, got %v", before[p("bob")], after[p("bob")])
	}
}

func importanceByNode(t *testing.T, s *memory.Store) map[common.NodeID]float64 {
	t.Helper()
	ctx := context.Background()
	run, err := s.LatestScoreRun(ctx, common.ScoreImportance, common.EntityDeveloper)
	if err != nil || run == nil {
		t.Fatalf("expected stored run, got %v %v", run, err)
	}
	scores, err := s.TopScores(ctx, run.RunID, common.ScoreImportance, 0, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	out := make(map[common.NodeID]float64, len(scores))
	for _, sc := range scores {
		out[sc.NodeID] = sc.Value
	}
	return out
}

func TestCentralityBridge(t *testing.T) {
	ctx := context.Background()
	s := bridged()
	snap, err := graph.NewSnapshotCache(s, 0).Get(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	values, err := Centrality(ctx, snap, CentralityParams{Strategy: common.StrategyExact})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	pairs := 8.0 * 7 / 2
	tests := []struct {
		node string
		want float64
	}{
		{node: "x", want: 16 / pairs},
		{node: "a1", want: 5 / pairs},
		{node: "a3", want: 0},
	}
	for _, tt := range tests {
		i, ok := snap.Index(p(tt.node))
		if !ok {
			t.Fatalf("expected node %s in snapshot", tt.node)
		}
		if math.Abs(values.Betweenness[i]-tt.want) > 1e-9 {
			t.Fatalf("expected betweenness %v for %s, got %v", tt.want, tt.node, values.Betweenness[i])
		}
	}

	x, _ := snap.Index(p("x"))
	a3, _ := snap.Index(p("a3"))
	if values.Reachability[x] <= values.Reachability[a3] {
		t.Fatalf("expected bridge to be more reachable, got %v <= %v", values.Reachability[x], values.Reachability[a3])
	}
}

func TestKeyConnectorsReturnsBridgeFirst(t *testing.T) {
	ctx := context.Background()
	s := bridged()
	e := newEngine(s, Options{})

	empty, err := e.KeyConnectors(ctx, 0, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(empty) != 0 {
		t.Fatalf("expected no connectors before a run, got %v", empty)
	}

	res, err := e.ComputeCentrality(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Strategy != common.StrategyExact || res.Nodes != 9 {
		t.Fatalf("expected exact run over 9 nodes, got %+v", res)
	}

	top, err := e.KeyConnectors(ctx, 0, 3)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(top) != 3 || top[0].NodeID != p("x") {
		t.Fatalf("expected x first, got %v", top)
	}

	high, err := e.KeyConnectors(ctx, 0.5, 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(high) != 1 || high[0].NodeID != p("x") {
		t.Fatalf("expected only x above 0.5, got %v", high)
	}

	if _, err := e.KeyConnectors(ctx, 0, MaxConnectorLimit+1); !errors.Is(err, common.ErrInvalidParameter) {
		t.Fatalf("expected invalid parameter, got %v", err)
	}
}

func TestSampledCentralityIsDeterministic(t *testing.T) {
	ctx := context.Background()
	s := bridged()
	e := newEngine(s, Options{ExactNodeLimit: 5, SampleSize: 4, Seed: 7})

	params, err := e.ChooseStrategy(9, 16)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if params.Strategy != common.StrategySampled || params.SampleSize != 4 || params.Seed != 7 {
		t.Fatalf("expected sampled strategy, got %+v", params)
	}

	snap, err := graph.NewSnapshotCache(s, 0).Get(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	first, err := Centrality(ctx, snap, params)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, err := Centrality(ctx, snap, params)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if first.Sources != 4 {
		t.Fatalf("expected 4 sources, got %d", first.Sources)
	}
	for i := range first.Betweenness {
		if first.Betweenness[i] != second.Betweenness[i] {
			t.Fatalf("expected equal values for the same seed at %d, got %v and %v", i, first.Betweenness[i], second.Betweenness[i])
		}
	}

	res, err := e.ComputeCentrality(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	run, err := s.LatestScoreRun(ctx, common.ScoreCentrality, common.EntityDeveloper)
	if err != nil || run == nil || run.RunID != res.RunID {
		t.Fatalf("expected stored run %s, got %v %v", res.RunID, run, err)
	}
	if run.Strategy != common.StrategySampled || run.Params["sample_size"] != 4 || run.Params["seed"] != uint64(7) {
		t.Fatalf("expected sampling params recorded, got %+v", run.Params)
	}
}

func TestCentralityRejectsOversizedGraph(t *testing.T) {
	e := newEngine(bridged(), Options{MaxEdges: 10})

	_, err := e.ComputeCentrality(context.Background())
	if !errors.Is(err, common.ErrOverloaded) {
		t.Fatalf("expected overloaded, got %v", err)
	}
}

func TestCentralityStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	snap, err := graph.NewSnapshotCache(bridged(), 0).Get(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	cancel()
	if _, err := Centrality(ctx, snap, CentralityParams{Strategy: common.StrategyExact}); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context canceled, got %v", err)
	}
}

func TestCentralityEmptyGraph(t *testing.T) {
	e := newEngine(memory.New(), Options{})

	res, err := e.ComputeCentrality(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Nodes != 0 || res.Generation != 0 {
		t.Fatalf("expected empty run, got %+v", res)
	}
}
