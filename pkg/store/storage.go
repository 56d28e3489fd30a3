package store

import (
	"context"
	"errors"

	"github.com/OFFIS-RIT/kinship/pkg/common"
)

// ErrNotReady is returned by PublishGeneration while a shard of the
// generation has not completed.
var ErrNotReady = errors.New("generation not ready for publish")

// SourceReader reads the relation tables owned by the ingestion subsystems.
// Unit ids are listed in ascending order after the given id.
type SourceReader interface {
	ListCompanies(ctx context.Context, after string, limit int) ([]string, error)
	ListRepositories(ctx context.Context, after string, limit int) ([]string, error)
	EmploymentsForCompany(ctx context.Context, companyID string) ([]common.EmploymentRecord, error)
	ContributionsForRepository(ctx context.Context, repositoryID string) ([]common.ContributionRecord, error)

	// RepositorySignals and DeveloperSignals return every entity when scope
	// is empty.
	RepositorySignals(ctx context.Context, scope []string) ([]common.RepositorySignals, error)
	DeveloperSignals(ctx context.Context, scope []string) ([]common.DeveloperSignals, error)

	// TaggedNodes returns the person nodes carrying tag as a skill or through
	// a topic of a repository they contribute to.
	TaggedNodes(ctx context.Context, tag string) ([]common.NodeID, error)
}

// EdgeStore persists builder output and the published graph generations.
type EdgeStore interface {
	// OpenGeneration returns the generation currently being built, creating
	// one with the given shard count when none exists.
	OpenGeneration(ctx context.Context, shards int) (common.Generation, error)
	// ActiveGeneration returns the zero Generation when nothing is published.
	ActiveGeneration(ctx context.Context) (common.Generation, error)

	// GetJob returns nil when the shard has no job in the generation yet.
	GetJob(ctx context.Context, generation int64, shard int) (*common.BuildJob, error)
	ListJobs(ctx context.Context, generation int64) ([]common.BuildJob, error)
	SaveJob(ctx context.Context, job common.BuildJob) error

	// CommitUnit replaces every contribution of provenance within the job's
	// generation and stores the job row in one transaction.
	CommitUnit(ctx context.Context, job common.BuildJob, provenance string, contributions []common.EdgeContribution) error

	// PublishGeneration merges the contributions of a building generation
	// into edges and makes it the active generation. Publishing an already
	// active generation is a no-op returning published=false.
	PublishGeneration(ctx context.Context, generation int64) (edges int64, published bool, err error)

	// Edges returns every edge of a published generation sorted by key.
	Edges(ctx context.Context, generation int64) ([]common.Edge, error)

	// OpenSnapshot pins the active generation for consistent reads.
	OpenSnapshot(ctx context.Context) (SnapshotReader, error)
}

// SnapshotReader reads one generation of the graph. Reads through a single
// reader never observe a concurrent publish.
type SnapshotReader interface {
	Generation() int64
	NodeExists(ctx context.Context, id common.NodeID) (bool, error)

	// Neighbors returns every edge incident to one of ids, sorted by key.
	Neighbors(ctx context.Context, ids []common.NodeID) ([]common.Edge, error)

	// EdgesAmong returns every edge with both endpoints in ids, sorted by key.
	EdgesAmong(ctx context.Context, ids []common.NodeID) ([]common.Edge, error)

	Close(ctx context.Context) error
}

type ScoreStore interface {
	// SaveScoreRun replaces all earlier runs of the same kind and entity kind.
	SaveScoreRun(ctx context.Context, run common.ScoreRun, scores []common.Score) error
	LatestScoreRun(ctx context.Context, kind common.ScoreKind, entity common.EntityKind) (*common.ScoreRun, error)
	TopScores(ctx context.Context, runID string, kind common.ScoreKind, minValue float64, limit int) ([]common.Score, error)
}

type CommunityStore interface {
	SaveCommunityRun(ctx context.Context, run common.CommunityRun) error
	LatestCommunityRun(ctx context.Context) (*common.CommunityRun, error)
}

type FeatureStore interface {
	// ReplaceFeatures swaps every vector of kind for the given set.
	ReplaceFeatures(ctx context.Context, kind common.NodeKind, vectors []common.FeatureVector) error
	GetFeatures(ctx context.Context, id common.NodeID) (*common.FeatureVector, error)

	// NearestFeatures ranks vectors of the same kind and version as query by
	// cosine similarity, excluding the query node.
	NearestFeatures(ctx context.Context, query common.FeatureVector, k int) ([]common.RankedNode, error)
}

// Store is the full persistence surface of the graph services.
type Store interface {
	SourceReader
	EdgeStore
	ScoreStore
	CommunityStore
	FeatureStore
}
