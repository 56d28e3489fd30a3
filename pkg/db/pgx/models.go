package pgdb

import (
	"time"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/pgvector/pgvector-go"
)

type Employment struct {
	PersonID  string
	CompanyID string
	StartDate pgtype.Date
	EndDate   pgtype.Date
}

type Contribution struct {
	PersonID          string
	RepositoryID      string
	ContributionCount int64
	LastActivityDate  pgtype.Date
}

type RepositorySignal struct {
	RepositoryID    string
	Stars           int64
	Forks           int64
	PrimaryLanguage pgtype.Text
	Contributors    int64
	LastActivity    pgtype.Date
}

type DeveloperSignal struct {
	PersonID            string
	Followers           int64
	MergedContributions int64
	RepositoryBreadth   int64
	FirstStart          pgtype.Date
}

type PersonSkill struct {
	PersonID    string
	Skill       string
	Proficiency float64
}

type GraphGeneration struct {
	ID          int64
	Status      string
	Shards      int32
	EdgeCount   int64
	CreatedAt   time.Time
	PublishedAt pgtype.Timestamptz
}

type BuilderJob struct {
	ID             string
	Generation     int64
	Shard          int32
	Shards         int32
	State          string
	Cursor         string
	EdgesWritten   int64
	UnitsProcessed int64
	Skipped        int64
	Error          pgtype.Text
	UpdatedAt      time.Time
}

type EdgeContribution struct {
	Generation    int64
	Src           string
	Dst           string
	Type          string
	Provenance    string
	Weight        float64
	FirstObserved time.Time
	LastObserved  time.Time
}

type GraphEdge struct {
	Generation    int64
	Src           string
	Dst           string
	Type          string
	Weight        float64
	Provenance    string
	Provenances   []string
	FirstObserved time.Time
	LastObserved  time.Time
}

type ScoreRun struct {
	RunID      pgtype.UUID
	Kind       string
	EntityKind string
	Strategy   string
	Params     []byte
	Generation int64
	NodeCount  int32
	ComputedAt time.Time
}

type NodeScore struct {
	RunID      pgtype.UUID
	NodeID     string
	Kind       string
	Value      float64
	Inputs     []byte
	ComputedAt time.Time
}

type CommunityRun struct {
	RunID      pgtype.UUID
	Algorithm  string
	Params     []byte
	Modularity float64
	Generation int64
	ComputedAt time.Time
}

type CommunityMember struct {
	ClusterID int32
	NodeID    string
}

type NodeFeature struct {
	NodeID     string
	Kind       string
	Version    string
	Embedding  pgvector.Vector
	ComputedAt time.Time
}

type NearestFeature struct {
	NodeID    string
	Embedding pgvector.Vector
	Distance  float64
}
