package pgdb

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgtype"
)

const createBuildingGeneration = `-- name: CreateBuildingGeneration :exec
INSERT INTO graph_generations (status, shards)
VALUES ('building', $1)
ON CONFLICT DO NOTHING
`

func (q *Queries) CreateBuildingGeneration(ctx context.Context, shards int32) error {
	_, err := q.db.Exec(ctx, createBuildingGeneration, shards)
	return err
}

const getGenerationByStatus = `-- name: GetGenerationByStatus :one
SELECT id, status, shards, edge_count, created_at, published_at
FROM graph_generations
WHERE status = $1
ORDER BY id DESC
LIMIT 1
`

func (q *Queries) GetGenerationByStatus(ctx context.Context, status string) (GraphGeneration, error) {
	row := q.db.QueryRow(ctx, getGenerationByStatus, status)
	var i GraphGeneration
	err := row.Scan(
		&i.ID,
		&i.Status,
		&i.Shards,
		&i.EdgeCount,
		&i.CreatedAt,
		&i.PublishedAt,
	)
	return i, err
}

const lockGeneration = `-- name: LockGeneration :one
SELECT id, status, shards, edge_count, created_at, published_at
FROM graph_generations
WHERE id = $1
FOR UPDATE
`

func (q *Queries) LockGeneration(ctx context.Context, id int64) (GraphGeneration, error) {
	row := q.db.QueryRow(ctx, lockGeneration, id)
	var i GraphGeneration
	err := row.Scan(
		&i.ID,
		&i.Status,
		&i.Shards,
		&i.EdgeCount,
		&i.CreatedAt,
		&i.PublishedAt,
	)
	return i, err
}

const retireActiveGeneration = `-- name: RetireActiveGeneration :exec
UPDATE graph_generations
SET status = 'retired'
WHERE status = 'active'
`

func (q *Queries) RetireActiveGeneration(ctx context.Context) error {
	_, err := q.db.Exec(ctx, retireActiveGeneration)
	return err
}

const activateGeneration = `-- name: ActivateGeneration :exec
UPDATE graph_generations
SET status = 'active', edge_count = $2, published_at = $3
WHERE id = $1
`

type ActivateGenerationParams struct {
	ID          int64
	EdgeCount   int64
	PublishedAt time.Time
}

func (q *Queries) ActivateGeneration(ctx context.Context, arg ActivateGenerationParams) error {
	_, err := q.db.Exec(ctx, activateGeneration, arg.ID, arg.EdgeCount, arg.PublishedAt)
	return err
}

const deleteRetiredGenerations = `-- name: DeleteRetiredGenerations :execrows
DELETE FROM graph_generations
WHERE status = 'retired'
  AND id NOT IN (
    SELECT id FROM graph_generations WHERE status = 'retired' ORDER BY id DESC LIMIT $1
  )
`

func (q *Queries) DeleteRetiredGenerations(ctx context.Context, keep int32) (int64, error) {
	result, err := q.db.Exec(ctx, deleteRetiredGenerations, keep)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected(), nil
}

const getBuilderJob = `-- name: GetBuilderJob :one
SELECT id, generation, shard, shards, state, cursor, edges_written, units_processed, skipped, error, updated_at
FROM builder_jobs
WHERE generation = $1 AND shard = $2
`

type GetBuilderJobParams struct {
	Generation int64
	Shard      int32
}

func (q *Queries) GetBuilderJob(ctx context.Context, arg GetBuilderJobParams) (BuilderJob, error) {
	row := q.db.QueryRow(ctx, getBuilderJob, arg.Generation, arg.Shard)
	var i BuilderJob
	err := row.Scan(
		&i.ID,
		&i.Generation,
		&i.Shard,
		&i.Shards,
		&i.State,
		&i.Cursor,
		&i.EdgesWritten,
		&i.UnitsProcessed,
		&i.Skipped,
		&i.Error,
		&i.UpdatedAt,
	)
	return i, err
}

const listBuilderJobs = `-- name: ListBuilderJobs :many
SELECT id, generation, shard, shards, state, cursor, edges_written, units_processed, skipped, error, updated_at
FROM builder_jobs
WHERE generation = $1
ORDER BY shard
`

func (q *Queries) ListBuilderJobs(ctx context.Context, generation int64) ([]BuilderJob, error) {
	rows, err := q.db.Query(ctx, listBuilderJobs, generation)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []BuilderJob
	for rows.Next() {
		var i BuilderJob
		if err := rows.Scan(
			&i.ID,
			&i.Generation,
			&i.Shard,
			&i.Shards,
			&i.State,
			&i.Cursor,
			&i.EdgesWritten,
			&i.UnitsProcessed,
			&i.Skipped,
			&i.Error,
			&i.UpdatedAt,
		); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const upsertBuilderJob = `-- name: UpsertBuilderJob :exec
INSERT INTO builder_jobs (id, generation, shard, shards, state, cursor, edges_written, units_processed, skipped, error, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
ON CONFLICT (generation, shard) DO UPDATE
SET state = EXCLUDED.state,
    cursor = EXCLUDED.cursor,
    edges_written = EXCLUDED.edges_written,
    units_processed = EXCLUDED.units_processed,
    skipped = EXCLUDED.skipped,
    error = EXCLUDED.error,
    updated_at = EXCLUDED.updated_at
`

type UpsertBuilderJobParams struct {
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

func (q *Queries) UpsertBuilderJob(ctx context.Context, arg UpsertBuilderJobParams) error {
	_, err := q.db.Exec(ctx, upsertBuilderJob,
		arg.ID,
		arg.Generation,
		arg.Shard,
		arg.Shards,
		arg.State,
		arg.Cursor,
		arg.EdgesWritten,
		arg.UnitsProcessed,
		arg.Skipped,
		arg.Error,
		arg.UpdatedAt,
	)
	return err
}

const deleteUnitContributions = `-- name: DeleteUnitContributions :execrows
DELETE FROM edge_contributions
WHERE generation = $1 AND provenance = $2
`

type DeleteUnitContributionsParams struct {
	Generation int64
	Provenance string
}

func (q *Queries) DeleteUnitContributions(ctx context.Context, arg DeleteUnitContributionsParams) (int64, error) {
	result, err := q.db.Exec(ctx, deleteUnitContributions, arg.Generation, arg.Provenance)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected(), nil
}

const insertEdgeContributions = `-- name: InsertEdgeContributions :exec
INSERT INTO edge_contributions (generation, src, dst, type, provenance, weight, first_observed, last_observed)
SELECT $1::bigint, unnest($2::text[]), unnest($3::text[]), unnest($4::text[]), $5::text,
       unnest($6::double precision[]), unnest($7::timestamptz[]), unnest($8::timestamptz[])
ON CONFLICT (generation, src, dst, type, provenance) DO UPDATE
SET weight = EXCLUDED.weight,
    first_observed = EXCLUDED.first_observed,
    last_observed = EXCLUDED.last_observed
`

type InsertEdgeContributionsParams struct {
	Generation    int64
	Srcs          []string
	Dsts          []string
	Types         []string
	Provenance    string
	Weights       []float64
	FirstObserved []time.Time
	LastObserved  []time.Time
}

func (q *Queries) InsertEdgeContributions(ctx context.Context, arg InsertEdgeContributionsParams) error {
	_, err := q.db.Exec(ctx, insertEdgeContributions,
		arg.Generation,
		arg.Srcs,
		arg.Dsts,
		arg.Types,
		arg.Provenance,
		arg.Weights,
		arg.FirstObserved,
		arg.LastObserved,
	)
	return err
}

const materializeGraphEdges = `-- name: MaterializeGraphEdges :execrows
INSERT INTO graph_edges (generation, src, dst, type, weight, provenance, provenances, first_observed, last_observed)
SELECT generation, src, dst, type,
       SUM(weight),
       (array_agg(provenance ORDER BY weight DESC, provenance ASC))[1],
       array_agg(provenance ORDER BY provenance),
       MIN(first_observed),
       MAX(last_observed)
FROM edge_contributions
WHERE generation = $1
GROUP BY generation, src, dst, type
ON CONFLICT (generation, src, dst, type) DO NOTHING
`

func (q *Queries) MaterializeGraphEdges(ctx context.Context, generation int64) (int64, error) {
	result, err := q.db.Exec(ctx, materializeGraphEdges, generation)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected(), nil
}

const listGraphEdges = `-- name: ListGraphEdges :many
SELECT generation, src, dst, type, weight, provenance, provenances, first_observed, last_observed
FROM graph_edges
WHERE generation = $1
ORDER BY src, dst, type
`

func (q *Queries) ListGraphEdges(ctx context.Context, generation int64) ([]GraphEdge, error) {
	rows, err := q.db.Query(ctx, listGraphEdges, generation)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanGraphEdges(rows)
}

const listNeighborEdges = `-- name: ListNeighborEdges :many
SELECT generation, src, dst, type, weight, provenance, provenances, first_observed, last_observed
FROM graph_edges
WHERE generation = $1 AND (src = ANY($2::text[]) OR dst = ANY($2::text[]))
ORDER BY src, dst, type
`

type ListNeighborEdgesParams struct {
	Generation int64
	NodeIds    []string
}

func (q *Queries) ListNeighborEdges(ctx context.Context, arg ListNeighborEdgesParams) ([]GraphEdge, error) {
	rows, err := q.db.Query(ctx, listNeighborEdges, arg.Generation, arg.NodeIds)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanGraphEdges(rows)
}

const listEdgesAmong = `-- name: ListEdgesAmong :many
SELECT generation, src, dst, type, weight, provenance, provenances, first_observed, last_observed
FROM graph_edges
WHERE generation = $1 AND src = ANY($2::text[]) AND dst = ANY($2::text[])
ORDER BY src, dst, type
`

type ListEdgesAmongParams struct {
	Generation int64
	NodeIds    []string
}

func (q *Queries) ListEdgesAmong(ctx context.Context, arg ListEdgesAmongParams) ([]GraphEdge, error) {
	rows, err := q.db.Query(ctx, listEdgesAmong, arg.Generation, arg.NodeIds)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanGraphEdges(rows)
}

const nodeHasEdges = `-- name: NodeHasEdges :one
SELECT EXISTS (
    SELECT 1 FROM graph_edges WHERE generation = $1 AND (src = $2 OR dst = $2)
)
`

type NodeHasEdgesParams struct {
	Generation int64
	NodeID     string
}

func (q *Queries) NodeHasEdges(ctx context.Context, arg NodeHasEdgesParams) (bool, error) {
	row := q.db.QueryRow(ctx, nodeHasEdges, arg.Generation, arg.NodeID)
	var exists bool
	err := row.Scan(&exists)
	return exists, err
}

type graphEdgeRows interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
}

func scanGraphEdges(rows graphEdgeRows) ([]GraphEdge, error) {
	var items []GraphEdge
	for rows.Next() {
		var i GraphEdge
		if err := rows.Scan(
			&i.Generation,
			&i.Src,
			&i.Dst,
			&i.Type,
			&i.Weight,
			&i.Provenance,
			&i.Provenances,
			&i.FirstObserved,
			&i.LastObserved,
		); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}
