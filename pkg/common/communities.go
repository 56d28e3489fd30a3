package common

import "time"

type Community struct {
	ClusterID int      `json:"cluster_id"`
	Members   []NodeID `json:"members"`
}

// CommunityRun is the result of one community detection run.
type CommunityRun struct {
	RunID       string         `json:"run_id"`
	Algorithm   string         `json:"algorithm"`
	Params      map[string]any `json:"params,omitempty"`
	Modularity  float64        `json:"modularity"`
	Communities []Community    `json:"communities"`
	Generation  int64          `json:"generation"`
	ComputedAt  time.Time      `json:"computed_at"`
}

// Assignments maps every member to its cluster id.
func (r CommunityRun) Assignments() map[NodeID]int {
	out := make(map[NodeID]int)
	for _, c := range r.Communities {
		for _, m := range c.Members {
			out[m] = c.ClusterID
		}
	}
	return out
}
