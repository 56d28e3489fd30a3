package pgx

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/OFFIS-RIT/kinship/pkg/common"
	pgdb "github.com/OFFIS-RIT/kinship/pkg/db/pgx"
	"github.com/OFFIS-RIT/kinship/pkg/logger"
	"github.com/OFFIS-RIT/kinship/pkg/store"

	pgxv5 "github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
)

const contributionInsertChunkSize = 1000

func toGeneration(g pgdb.GraphGeneration) common.Generation {
	out := common.Generation{
		ID:        g.ID,
		Status:    common.GenerationStatus(g.Status),
		Shards:    int(g.Shards),
		EdgeCount: g.EdgeCount,
		CreatedAt: g.CreatedAt,
	}
	if g.PublishedAt.Valid {
		t := g.PublishedAt.Time
		out.PublishedAt = &t
	}
	return out
}

func toJob(j pgdb.BuilderJob) (common.BuildJob, error) {
	cursor, err := common.ParseCursor(j.Cursor)
	if err != nil {
		return common.BuildJob{}, err
	}
	return common.BuildJob{
		ID:             j.ID,
		Shard:          int(j.Shard),
		Shards:         int(j.Shards),
		Generation:     j.Generation,
		State:          common.JobState(j.State),
		Cursor:         cursor,
		EdgesWritten:   j.EdgesWritten,
		UnitsProcessed: j.UnitsProcessed,
		Skipped:        j.Skipped,
		Error:          j.Error.String,
		UpdatedAt:      j.UpdatedAt,
	}, nil
}

func (s *GraphDBStorage) jobParams(job common.BuildJob) pgdb.UpsertBuilderJobParams {
	updated := job.UpdatedAt
	if updated.IsZero() {
		updated = s.now()
	}
	return pgdb.UpsertBuilderJobParams{
		ID:             job.ID,
		Generation:     job.Generation,
		Shard:          int32(job.Shard),
		Shards:         int32(job.Shards),
		State:          string(job.State),
		Cursor:         job.Cursor.String(),
		EdgesWritten:   job.EdgesWritten,
		UnitsProcessed: job.UnitsProcessed,
		Skipped:        job.Skipped,
		Error:          pgtype.Text{String: job.Error, Valid: job.Error != ""},
		UpdatedAt:      updated,
	}
}

func (s *GraphDBStorage) OpenGeneration(ctx context.Context, shards int) (common.Generation, error) {
	q := s.queries()
	if err := q.CreateBuildingGeneration(ctx, int32(shards)); err != nil {
		return common.Generation{}, unavailable("open generation", err)
	}
	g, err := q.GetGenerationByStatus(ctx, string(common.GenerationBuilding))
	if err != nil {
		return common.Generation{}, unavailable("open generation", err)
	}
	return toGeneration(g), nil
}

func (s *GraphDBStorage) ActiveGeneration(ctx context.Context) (common.Generation, error) {
	g, err := s.queries().GetGenerationByStatus(ctx, string(common.GenerationActive))
	if err != nil {
		if errors.Is(err, pgxv5.ErrNoRows) {
			return common.Generation{}, nil
		}
		return common.Generation{}, unavailable("active generation", err)
	}
	return toGeneration(g), nil
}

func (s *GraphDBStorage) GetJob(ctx context.Context, generation int64, shard int) (*common.BuildJob, error) {
	row, err := s.queries().GetBuilderJob(ctx, pgdb.GetBuilderJobParams{Generation: generation, Shard: int32(shard)})
	if err != nil {
		if errors.Is(err, pgxv5.ErrNoRows) {
			return nil, nil
		}
		return nil, unavailable("get job", err)
	}
	job, err := toJob(row)
	if err != nil {
		return nil, fmt.Errorf("failed to decode job %s: %w", row.ID, err)
	}
	return &job, nil
}

func (s *GraphDBStorage) ListJobs(ctx context.Context, generation int64) ([]common.BuildJob, error) {
	rows, err := s.queries().ListBuilderJobs(ctx, generation)
	if err != nil {
		return nil, unavailable("list jobs", err)
	}
	out := make([]common.BuildJob, 0, len(rows))
	for _, r := range rows {
		job, err := toJob(r)
		if err != nil {
			return nil, fmt.Errorf("failed to decode job %s: %w", r.ID, err)
		}
		out = append(out, job)
	}
	return out, nil
}

func (s *GraphDBStorage) SaveJob(ctx context.Context, job common.BuildJob) error {
	if err := s.queries().UpsertBuilderJob(ctx, s.jobParams(job)); err != nil {
		return unavailable("save job", err)
	}
	return nil
}

// CommitUnit stages the unit's contributions and advances the job cursor in
// one transaction. A failure anywhere rolls back both.
func (s *GraphDBStorage) CommitUnit(
	ctx context.Context,
	job common.BuildJob,
	provenance string,
	contributions []common.EdgeContribution,
) error {
	tx, err := s.conn.Begin(ctx)
	if err != nil {
		return unavailable("commit unit", err)
	}
	defer tx.Rollback(ctx)
	qtx := pgdb.New(s.conn).WithTx(tx)

	if _, err := qtx.DeleteUnitContributions(ctx, pgdb.DeleteUnitContributionsParams{
		Generation: job.Generation,
		Provenance: provenance,
	}); err != nil {
		return unavailable("commit unit", fmt.Errorf("failed to clear %s: %w", provenance, err))
	}

	err = store.ChunkRange(len(contributions), contributionInsertChunkSize, func(start, end int) error {
		chunk := contributions[start:end]
		params := pgdb.InsertEdgeContributionsParams{
			Generation:    job.Generation,
			Provenance:    provenance,
			Srcs:          make([]string, 0, len(chunk)),
			Dsts:          make([]string, 0, len(chunk)),
			Types:         make([]string, 0, len(chunk)),
			Weights:       make([]float64, 0, len(chunk)),
			FirstObserved: make([]time.Time, 0, len(chunk)),
			LastObserved:  make([]time.Time, 0, len(chunk)),
		}
		for _, c := range chunk {
			params.Srcs = append(params.Srcs, string(c.Key.Src))
			params.Dsts = append(params.Dsts, string(c.Key.Dst))
			params.Types = append(params.Types, string(c.Key.Type))
			params.Weights = append(params.Weights, c.Weight)
			params.FirstObserved = append(params.FirstObserved, c.FirstObserved)
			params.LastObserved = append(params.LastObserved, c.LastObserved)
		}
		if err := qtx.InsertEdgeContributions(ctx, params); err != nil {
			return fmt.Errorf("failed to insert contributions for %s: %w", provenance, err)
		}
		return nil
	})
	if err != nil {
		return unavailable("commit unit", err)
	}

	if err := qtx.UpsertBuilderJob(ctx, s.jobParams(job)); err != nil {
		return unavailable("commit unit", fmt.Errorf("failed to advance job cursor: %w", err))
	}

	if err := tx.Commit(ctx); err != nil {
		return unavailable("commit unit", err)
	}
	return nil
}

// PublishGeneration materialises merged edges and flips the active pointer
// in one transaction. The generation row is locked so concurrent shard
// finishers publish at most once.
func (s *GraphDBStorage) PublishGeneration(ctx context.Context, generation int64) (int64, bool, error) {
	tx, err := s.conn.Begin(ctx)
	if err != nil {
		return 0, false, unavailable("publish generation", err)
	}
	defer tx.Rollback(ctx)
	qtx := pgdb.New(s.conn).WithTx(tx)

	g, err := qtx.LockGeneration(ctx, generation)
	if err != nil {
		if errors.Is(err, pgxv5.ErrNoRows) {
			return 0, false, common.NotFound("publish generation", "generation %d", generation)
		}
		return 0, false, unavailable("publish generation", err)
	}
	if g.Status != string(common.GenerationBuilding) {
		return g.EdgeCount, false, nil
	}

	jobs, err := qtx.ListBuilderJobs(ctx, generation)
	if err != nil {
		return 0, false, unavailable("publish generation", err)
	}
	completed := 0
	for _, j := range jobs {
		if j.State == string(common.JobCompleted) {
			completed++
		}
	}
	if completed < int(g.Shards) {
		return 0, false, store.ErrNotReady
	}

	edges, err := qtx.MaterializeGraphEdges(ctx, generation)
	if err != nil {
		return 0, false, unavailable("publish generation", fmt.Errorf("failed to materialise edges: %w", err))
	}
	if err := qtx.RetireActiveGeneration(ctx); err != nil {
		return 0, false, unavailable("publish generation", err)
	}
	if err := qtx.ActivateGeneration(ctx, pgdb.ActivateGenerationParams{
		ID:          generation,
		EdgeCount:   edges,
		PublishedAt: s.now(),
	}); err != nil {
		return 0, false, unavailable("publish generation", err)
	}
	removed, err := qtx.DeleteRetiredGenerations(ctx, s.keepRetired)
	if err != nil {
		return 0, false, unavailable("publish generation", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, false, unavailable("publish generation", err)
	}

	logger.Info("[Store] Generation published", "generation", generation, "edges", edges, "pruned", removed)
	return edges, true, nil
}

func toEdges(rows []pgdb.GraphEdge) []common.Edge {
	out := make([]common.Edge, 0, len(rows))
	for _, r := range rows {
		out = append(out, common.Edge{
			Src:           common.NodeID(r.Src),
			Dst:           common.NodeID(r.Dst),
			Type:          common.EdgeType(r.Type),
			Weight:        r.Weight,
			Provenance:    r.Provenance,
			Provenances:   r.Provenances,
			FirstObserved: r.FirstObserved,
			LastObserved:  r.LastObserved,
		})
	}
	return out
}

func (s *GraphDBStorage) Edges(ctx context.Context, generation int64) ([]common.Edge, error) {
	rows, err := s.queries().ListGraphEdges(ctx, generation)
	if err != nil {
		return nil, unavailable("edges", err)
	}
	return toEdges(rows), nil
}
