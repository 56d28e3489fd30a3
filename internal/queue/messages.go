package queue

import (
	"github.com/OFFIS-RIT/kinship/pkg/common"
	"github.com/OFFIS-RIT/kinship/pkg/graph"
	"github.com/OFFIS-RIT/kinship/pkg/reasoning"
)

// Message is the envelope every queue message shares.
type Message struct {
	CorrelationID string `json:"correlation_id"`
}

// BuildMsg advances one shard, or every shard when AllShards is set.
type BuildMsg struct {
	Message
	graph.BuildRequest
	AllShards bool `json:"all_shards"`
}

type ScoreMsg struct {
	Message
	Kind  common.EntityKind `json:"kind"`
	Scope []string          `json:"scope,omitempty"`
}

type CentralityMsg struct {
	Message
}

type CommunityMsg struct {
	Message
	Algorithm string                 `json:"algorithm"`
	Params    reasoning.DetectParams `json:"params"`
}

type FeatureMsg struct {
	Message
}
