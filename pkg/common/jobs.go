package common

import (
	"fmt"
	"strings"
	"time"
)

// JobState is the state of a checkpointed builder job.
type JobState string

const (
	JobIdle         JobState = "idle"
	JobRunning      JobState = "running"
	JobCheckpointed JobState = "checkpointed"
	JobCompleted    JobState = "completed"
	JobFailed       JobState = "failed"
)

var jobTransitions = map[JobState][]JobState{
	JobIdle:         {JobRunning},
	JobRunning:      {JobRunning, JobCheckpointed, JobCompleted, JobFailed},
	JobCheckpointed: {JobRunning, JobCompleted, JobFailed},
	JobFailed:       {JobRunning},
}

// CanTransition reports whether a job in state s may move to state to.
// Completed is terminal.
func (s JobState) CanTransition(to JobState) bool {
	for _, next := range jobTransitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

// Phase is the relation a builder cursor walks through.
type Phase string

const (
	PhaseEmployment    Phase = "employment"
	PhaseCollaboration Phase = "collaboration"
	PhaseDone          Phase = "done"
)

// Cursor is the resumable position of a builder job: the phase and the last
// company or repository id committed in it. The zero cursor starts at the
// beginning of the employment phase.
type Cursor struct {
	Phase Phase  `json:"phase"`
	After string `json:"after,omitempty"`
}

func (c Cursor) IsZero() bool {
	return c.Phase == "" && c.After == ""
}

func (c Cursor) String() string {
	if c.IsZero() {
		return ""
	}
	return string(c.Phase) + ":" + c.After
}

// Normalize maps the zero cursor onto the first phase.
func (c Cursor) Normalize() Cursor {
	if c.Phase == "" {
		c.Phase = PhaseEmployment
	}
	return c
}

// ParseCursor reads a cursor produced by Cursor.String. The empty string is
// the zero cursor.
func ParseCursor(s string) (Cursor, error) {
	if s == "" {
		return Cursor{}, nil
	}
	phase, after, ok := strings.Cut(s, ":")
	if !ok {
		return Cursor{}, fmt.Errorf("malformed cursor %q", s)
	}
	switch Phase(phase) {
	case PhaseEmployment, PhaseCollaboration, PhaseDone:
		return Cursor{Phase: Phase(phase), After: after}, nil
	default:
		return Cursor{}, fmt.Errorf("unknown cursor phase %q", phase)
	}
}

// BuildJob is the persisted state of one builder shard within a generation.
type BuildJob struct {
	ID             string    `json:"id"`
	Shard          int       `json:"shard"`
	Shards         int       `json:"shards"`
	Generation     int64     `json:"generation"`
	State          JobState  `json:"state"`
	Cursor         Cursor    `json:"cursor"`
	EdgesWritten   int64     `json:"edges_written"`
	UnitsProcessed int64     `json:"units_processed"`
	Skipped        int64     `json:"skipped"`
	Error          string    `json:"error,omitempty"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Transition moves the job to state to or reports why it cannot.
func (j *BuildJob) Transition(to JobState) error {
	if !j.State.CanTransition(to) {
		return fmt.Errorf("invalid job transition %s -> %s", j.State, to)
	}
	j.State = to
	return nil
}

// GenerationStatus tracks a build generation through copy-and-swap.
type GenerationStatus string

const (
	GenerationBuilding GenerationStatus = "building"
	GenerationActive   GenerationStatus = "active"
	GenerationRetired  GenerationStatus = "retired"
)

type Generation struct {
	ID          int64            `json:"id"`
	Status      GenerationStatus `json:"status"`
	Shards      int              `json:"shards"`
	EdgeCount   int64            `json:"edge_count"`
	CreatedAt   time.Time        `json:"created_at"`
	PublishedAt *time.Time       `json:"published_at,omitempty"`
}
