package common

import "time"

type ScoreKind string

const (
	ScoreImportance   ScoreKind = "importance"
	ScoreCentrality   ScoreKind = "centrality"
	ScoreReachability ScoreKind = "reachability"
)

// EntityKind selects which entities an importance run scores.
type EntityKind string

const (
	EntityRepository EntityKind = "repo"
	EntityDeveloper  EntityKind = "developer"
)

func (k EntityKind) Valid() bool {
	return k == EntityRepository || k == EntityDeveloper
}

// Strategy names how a score run was computed.
type Strategy string

const (
	StrategyWeightedLog Strategy = "weighted_log"
	StrategyExact       Strategy = "exact"
	StrategySampled     Strategy = "sampled"
)

// Score is one derived value for one node. Inputs keeps the raw signals and
// parameters used so a value can be explained and reproduced.
type Score struct {
	RunID      string             `json:"run_id"`
	NodeID     NodeID             `json:"node_id"`
	Kind       ScoreKind          `json:"kind"`
	Value      float64            `json:"value"`
	ComputedAt time.Time          `json:"computed_at"`
	Inputs     map[string]float64 `json:"inputs,omitempty"`
}

// ScoreRun describes a full recomputation. Scores of a run are never
// mutated after it is written.
type ScoreRun struct {
	RunID      string         `json:"run_id"`
	Kind       ScoreKind      `json:"kind"`
	EntityKind EntityKind     `json:"entity_kind,omitempty"`
	Strategy   Strategy       `json:"strategy"`
	Params     map[string]any `json:"params,omitempty"`
	Generation int64          `json:"generation"`
	NodeCount  int            `json:"node_count"`
	ComputedAt time.Time      `json:"computed_at"`
}

// RankedNode is a node with a ranking value, used for connectors and
// similarity results.
type RankedNode struct {
	NodeID NodeID  `json:"node_id"`
	Value  float64 `json:"value"`
}
