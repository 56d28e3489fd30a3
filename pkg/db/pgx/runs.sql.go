package pgdb

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/pgvector/pgvector-go"
)

const deleteScoreRunsByKind = `-- name: DeleteScoreRunsByKind :execrows
DELETE FROM score_runs
WHERE kind = $1 AND entity_kind = $2
`

type DeleteScoreRunsByKindParams struct {
	Kind       string
	EntityKind string
}

func (q *Queries) DeleteScoreRunsByKind(ctx context.Context, arg DeleteScoreRunsByKindParams) (int64, error) {
	result, err := q.db.Exec(ctx, deleteScoreRunsByKind, arg.Kind, arg.EntityKind)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected(), nil
}

const insertScoreRun = `-- name: InsertScoreRun :exec
INSERT INTO score_runs (run_id, kind, entity_kind, strategy, params, generation, node_count, computed_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
`

func (q *Queries) InsertScoreRun(ctx context.Context, arg ScoreRun) error {
	_, err := q.db.Exec(ctx, insertScoreRun,
		arg.RunID,
		arg.Kind,
		arg.EntityKind,
		arg.Strategy,
		arg.Params,
		arg.Generation,
		arg.NodeCount,
		arg.ComputedAt,
	)
	return err
}

const insertNodeScores = `-- name: InsertNodeScores :exec
INSERT INTO node_scores (run_id, node_id, kind, value, inputs, computed_at)
SELECT $1::uuid, unnest($2::text[]), unnest($3::text[]), unnest($4::double precision[]), unnest($5::jsonb[]), $6::timestamptz
`

type InsertNodeScoresParams struct {
	RunID      pgtype.UUID
	NodeIds    []string
	Kinds      []string
	Values     []float64
	Inputs     [][]byte
	ComputedAt time.Time
}

func (q *Queries) InsertNodeScores(ctx context.Context, arg InsertNodeScoresParams) error {
	_, err := q.db.Exec(ctx, insertNodeScores,
		arg.RunID,
		arg.NodeIds,
		arg.Kinds,
		arg.Values,
		arg.Inputs,
		arg.ComputedAt,
	)
	return err
}

const getLatestScoreRun = `-- name: GetLatestScoreRun :one
SELECT run_id, kind, entity_kind, strategy, params, generation, node_count, computed_at
FROM score_runs
WHERE kind = $1 AND entity_kind = $2
ORDER BY computed_at DESC
LIMIT 1
`

type GetLatestScoreRunParams struct {
	Kind       string
	EntityKind string
}

func (q *Queries) GetLatestScoreRun(ctx context.Context, arg GetLatestScoreRunParams) (ScoreRun, error) {
	row := q.db.QueryRow(ctx, getLatestScoreRun, arg.Kind, arg.EntityKind)
	var i ScoreRun
	err := row.Scan(
		&i.RunID,
		&i.Kind,
		&i.EntityKind,
		&i.Strategy,
		&i.Params,
		&i.Generation,
		&i.NodeCount,
		&i.ComputedAt,
	)
	return i, err
}

const listTopScores = `-- name: ListTopScores :many
SELECT run_id, node_id, kind, value, inputs, computed_at
FROM node_scores
WHERE run_id = $1 AND kind = $2 AND value >= $3
ORDER BY value DESC, node_id ASC
LIMIT NULLIF($4::int, 0)
`

type ListTopScoresParams struct {
	RunID    pgtype.UUID
	Kind     string
	MinValue float64
	Limit    int32
}

func (q *Queries) ListTopScores(ctx context.Context, arg ListTopScoresParams) ([]NodeScore, error) {
	rows, err := q.db.Query(ctx, listTopScores, arg.RunID, arg.Kind, arg.MinValue, arg.Limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []NodeScore
	for rows.Next() {
		var i NodeScore
		if err := rows.Scan(
			&i.RunID,
			&i.NodeID,
			&i.Kind,
			&i.Value,
			&i.Inputs,
			&i.ComputedAt,
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

const deleteCommunityRuns = `-- name: DeleteCommunityRuns :execrows
DELETE FROM community_runs
`

func (q *Queries) DeleteCommunityRuns(ctx context.Context) (int64, error) {
	result, err := q.db.Exec(ctx, deleteCommunityRuns)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected(), nil
}

const insertCommunityRun = `-- name: InsertCommunityRun :exec
INSERT INTO community_runs (run_id, algorithm, params, modularity, generation, computed_at)
VALUES ($1, $2, $3, $4, $5, $6)
`

func (q *Queries) InsertCommunityRun(ctx context.Context, arg CommunityRun) error {
	_, err := q.db.Exec(ctx, insertCommunityRun,
		arg.RunID,
		arg.Algorithm,
		arg.Params,
		arg.Modularity,
		arg.Generation,
		arg.ComputedAt,
	)
	return err
}

const insertCommunityMembers = `-- name: InsertCommunityMembers :exec
INSERT INTO communities (run_id, cluster_id, node_id)
SELECT $1::uuid, unnest($2::integer[]), unnest($3::text[])
`

type InsertCommunityMembersParams struct {
	RunID      pgtype.UUID
	ClusterIds []int32
	NodeIds    []string
}

func (q *Queries) InsertCommunityMembers(ctx context.Context, arg InsertCommunityMembersParams) error {
	_, err := q.db.Exec(ctx, insertCommunityMembers, arg.RunID, arg.ClusterIds, arg.NodeIds)
	return err
}

const getLatestCommunityRun = `-- name: GetLatestCommunityRun :one
SELECT run_id, algorithm, params, modularity, generation, computed_at
FROM community_runs
ORDER BY computed_at DESC
LIMIT 1
`

func (q *Queries) GetLatestCommunityRun(ctx context.Context) (CommunityRun, error) {
	row := q.db.QueryRow(ctx, getLatestCommunityRun)
	var i CommunityRun
	err := row.Scan(
		&i.RunID,
		&i.Algorithm,
		&i.Params,
		&i.Modularity,
		&i.Generation,
		&i.ComputedAt,
	)
	return i, err
}

const listCommunityMembers = `-- name: ListCommunityMembers :many
SELECT cluster_id, node_id
FROM communities
WHERE run_id = $1
ORDER BY cluster_id, node_id
`

func (q *Queries) ListCommunityMembers(ctx context.Context, runID pgtype.UUID) ([]CommunityMember, error) {
	rows, err := q.db.Query(ctx, listCommunityMembers, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []CommunityMember
	for rows.Next() {
		var i CommunityMember
		if err := rows.Scan(&i.ClusterID, &i.NodeID); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const deleteNodeFeaturesByKind = `-- name: DeleteNodeFeaturesByKind :execrows
DELETE FROM node_features
WHERE kind = $1
`

func (q *Queries) DeleteNodeFeaturesByKind(ctx context.Context, kind string) (int64, error) {
	result, err := q.db.Exec(ctx, deleteNodeFeaturesByKind, kind)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected(), nil
}

const upsertNodeFeature = `-- name: UpsertNodeFeature :exec
INSERT INTO node_features (node_id, kind, version, embedding, computed_at)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (node_id) DO UPDATE
SET kind = EXCLUDED.kind,
    version = EXCLUDED.version,
    embedding = EXCLUDED.embedding,
    computed_at = EXCLUDED.computed_at
`

func (q *Queries) UpsertNodeFeature(ctx context.Context, arg NodeFeature) error {
	_, err := q.db.Exec(ctx, upsertNodeFeature,
		arg.NodeID,
		arg.Kind,
		arg.Version,
		arg.Embedding,
		arg.ComputedAt,
	)
	return err
}

const getNodeFeature = `-- name: GetNodeFeature :one
SELECT node_id, kind, version, embedding, computed_at
FROM node_features
WHERE node_id = $1
`

func (q *Queries) GetNodeFeature(ctx context.Context, nodeID string) (NodeFeature, error) {
	row := q.db.QueryRow(ctx, getNodeFeature, nodeID)
	var i NodeFeature
	err := row.Scan(
		&i.NodeID,
		&i.Kind,
		&i.Version,
		&i.Embedding,
		&i.ComputedAt,
	)
	return i, err
}

const listNodeFeaturesByKind = `-- name: ListNodeFeaturesByKind :many
SELECT node_id, kind, version, embedding, computed_at
FROM node_features
WHERE kind = $1 AND version = $2
ORDER BY node_id
`

type ListNodeFeaturesByKindParams struct {
	Kind    string
	Version string
}

func (q *Queries) ListNodeFeaturesByKind(ctx context.Context, arg ListNodeFeaturesByKindParams) ([]NodeFeature, error) {
	rows, err := q.db.Query(ctx, listNodeFeaturesByKind, arg.Kind, arg.Version)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []NodeFeature
	for rows.Next() {
		var i NodeFeature
		if err := rows.Scan(
			&i.NodeID,
			&i.Kind,
			&i.Version,
			&i.Embedding,
			&i.ComputedAt,
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

const listNearestFeatures = `-- name: ListNearestFeatures :many
SELECT node_id, embedding, (embedding <=> $1)::double precision AS distance
FROM node_features
WHERE kind = $2 AND version = $3 AND node_id <> $4
ORDER BY embedding <=> $1, node_id
LIMIT $5
`

type ListNearestFeaturesParams struct {
	Embedding pgvector.Vector
	Kind      string
	Version   string
	Exclude   string
	Limit     int32
}

func (q *Queries) ListNearestFeatures(ctx context.Context, arg ListNearestFeaturesParams) ([]NearestFeature, error) {
	rows, err := q.db.Query(ctx, listNearestFeatures,
		arg.Embedding,
		arg.Kind,
		arg.Version,
		arg.Exclude,
		arg.Limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []NearestFeature
	for rows.Next() {
		var i NearestFeature
		if err := rows.Scan(&i.NodeID, &i.Embedding, &i.Distance); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const addRunDuration = `-- name: AddRunDuration :exec
INSERT INTO run_durations (kind, units, duration_ms)
VALUES ($1, $2, $3)
`

type AddRunDurationParams struct {
	Kind       string
	Units      int64
	DurationMs int64
}

func (q *Queries) AddRunDuration(ctx context.Context, arg AddRunDurationParams) error {
	_, err := q.db.Exec(ctx, addRunDuration, arg.Kind, arg.Units, arg.DurationMs)
	return err
}

const predictRunDuration = `-- name: PredictRunDuration :one
SELECT COALESCE(
    (SUM(duration_ms)::double precision / NULLIF(SUM(units), 0)) * $2::double precision,
    0
)::bigint AS predicted_ms
FROM (
    SELECT duration_ms, units FROM run_durations
    WHERE kind = $1
    ORDER BY created_at DESC
    LIMIT 20
) recent
`

type PredictRunDurationParams struct {
	Kind  string
	Units int64
}

func (q *Queries) PredictRunDuration(ctx context.Context, arg PredictRunDurationParams) (int64, error) {
	row := q.db.QueryRow(ctx, predictRunDuration, arg.Kind, arg.Units)
	var predicted_ms int64
	err := row.Scan(&predicted_ms)
	return predicted_ms, err
}
