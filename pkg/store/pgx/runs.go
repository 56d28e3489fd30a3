package pgx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/OFFIS-RIT/kinship/pkg/common"
	pgdb "github.com/OFFIS-RIT/kinship/pkg/db/pgx"
	"github.com/OFFIS-RIT/kinship/pkg/store"

	"github.com/google/uuid"
	pgxv5 "github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
)

const scoreInsertChunkSize = 2000

func parseRunID(id string) (pgtype.UUID, error) {
	u, err := uuid.Parse(id)
	if err != nil {
		return pgtype.UUID{}, common.InvalidParameter("run id", "malformed run id %q", id)
	}
	return pgtype.UUID{Bytes: u, Valid: true}, nil
}

func formatRunID(id pgtype.UUID) string {
	if !id.Valid {
		return ""
	}
	return uuid.UUID(id.Bytes).String()
}

func (s *GraphDBStorage) SaveScoreRun(ctx context.Context, run common.ScoreRun, scores []common.Score) error {
	runID, err := parseRunID(run.RunID)
	if err != nil {
		return err
	}
	params, err := json.Marshal(run.Params)
	if err != nil {
		return fmt.Errorf("failed to marshal run params: %w", err)
	}

	tx, err := s.conn.Begin(ctx)
	if err != nil {
		return unavailable("save score run", err)
	}
	defer tx.Rollback(ctx)
	qtx := pgdb.New(s.conn).WithTx(tx)

	if _, err := qtx.DeleteScoreRunsByKind(ctx, pgdb.DeleteScoreRunsByKindParams{
		Kind:       string(run.Kind),
		EntityKind: string(run.EntityKind),
	}); err != nil {
		return unavailable("save score run", err)
	}
	if err := qtx.InsertScoreRun(ctx, pgdb.ScoreRun{
		RunID:      runID,
		Kind:       string(run.Kind),
		EntityKind: string(run.EntityKind),
		Strategy:   string(run.Strategy),
		Params:     params,
		Generation: run.Generation,
		NodeCount:  int32(run.NodeCount),
		ComputedAt: run.ComputedAt,
	}); err != nil {
		return unavailable("save score run", err)
	}

	err = store.ChunkRange(len(scores), scoreInsertChunkSize, func(start, end int) error {
		chunk := scores[start:end]
		p := pgdb.InsertNodeScoresParams{
			RunID:      runID,
			ComputedAt: run.ComputedAt,
			NodeIds:    make([]string, 0, len(chunk)),
			Kinds:      make([]string, 0, len(chunk)),
			Values:     make([]float64, 0, len(chunk)),
			Inputs:     make([][]byte, 0, len(chunk)),
		}
		for _, sc := range chunk {
			inputs, err := json.Marshal(sc.Inputs)
			if err != nil {
				return fmt.Errorf("failed to marshal score inputs: %w", err)
			}
			p.NodeIds = append(p.NodeIds, string(sc.NodeID))
			p.Kinds = append(p.Kinds, string(sc.Kind))
			p.Values = append(p.Values, sc.Value)
			p.Inputs = append(p.Inputs, inputs)
		}
		return qtx.InsertNodeScores(ctx, p)
	})
	if err != nil {
		return unavailable("save score run", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return unavailable("save score run", err)
	}
	return nil
}

func (s *GraphDBStorage) LatestScoreRun(ctx context.Context, kind common.ScoreKind, entity common.EntityKind) (*common.ScoreRun, error) {
	row, err := s.queries().GetLatestScoreRun(ctx, pgdb.GetLatestScoreRunParams{
		Kind:       string(kind),
		EntityKind: string(entity),
	})
	if err != nil {
		if errors.Is(err, pgxv5.ErrNoRows) {
			return nil, nil
		}
		return nil, unavailable("latest score run", err)
	}
	run := &common.ScoreRun{
		RunID:      formatRunID(row.RunID),
		Kind:       common.ScoreKind(row.Kind),
		EntityKind: common.EntityKind(row.EntityKind),
		Strategy:   common.Strategy(row.Strategy),
		Generation: row.Generation,
		NodeCount:  int(row.NodeCount),
		ComputedAt: row.ComputedAt,
	}
	if len(row.Params) > 0 {
		if err := json.Unmarshal(row.Params, &run.Params); err != nil {
			return nil, fmt.Errorf("failed to decode run params: %w", err)
		}
	}
	return run, nil
}

func (s *GraphDBStorage) TopScores(ctx context.Context, runID string, kind common.ScoreKind, minValue float64, limit int) ([]common.Score, error) {
	id, err := parseRunID(runID)
	if err != nil {
		return nil, err
	}
	rows, err := s.queries().ListTopScores(ctx, pgdb.ListTopScoresParams{
		RunID:    id,
		Kind:     string(kind),
		MinValue: minValue,
		Limit:    int32(limit),
	})
	if err != nil {
		return nil, unavailable("top scores", err)
	}
	out := make([]common.Score, 0, len(rows))
	for _, r := range rows {
		sc := common.Score{
			RunID:      runID,
			NodeID:     common.NodeID(r.NodeID),
			Kind:       common.ScoreKind(r.Kind),
			Value:      r.Value,
			ComputedAt: r.ComputedAt,
		}
		if len(r.Inputs) > 0 {
			if err := json.Unmarshal(r.Inputs, &sc.Inputs); err != nil {
				return nil, fmt.Errorf("failed to decode score inputs: %w", err)
			}
		}
		out = append(out, sc)
	}
	return out, nil
}

func (s *GraphDBStorage) SaveCommunityRun(ctx context.Context, run common.CommunityRun) error {
	runID, err := parseRunID(run.RunID)
	if err != nil {
		return err
	}
	params, err := json.Marshal(run.Params)
	if err != nil {
		return fmt.Errorf("failed to marshal run params: %w", err)
	}

	tx, err := s.conn.Begin(ctx)
	if err != nil {
		return unavailable("save community run", err)
	}
	defer tx.Rollback(ctx)
	qtx := pgdb.New(s.conn).WithTx(tx)

	if _, err := qtx.DeleteCommunityRuns(ctx); err != nil {
		return unavailable("save community run", err)
	}
	if err := qtx.InsertCommunityRun(ctx, pgdb.CommunityRun{
		RunID:      runID,
		Algorithm:  run.Algorithm,
		Params:     params,
		Modularity: run.Modularity,
		Generation: run.Generation,
		ComputedAt: run.ComputedAt,
	}); err != nil {
		return unavailable("save community run", err)
	}

	var clusters []int32
	var nodes []string
	for _, c := range run.Communities {
		for _, m := range c.Members {
			clusters = append(clusters, int32(c.ClusterID))
			nodes = append(nodes, string(m))
		}
	}
	err = store.ChunkRange(len(nodes), scoreInsertChunkSize, func(start, end int) error {
		return qtx.InsertCommunityMembers(ctx, pgdb.InsertCommunityMembersParams{
			RunID:      runID,
			ClusterIds: clusters[start:end],
			NodeIds:    nodes[start:end],
		})
	})
	if err != nil {
		return unavailable("save community run", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return unavailable("save community run", err)
	}
	return nil
}

func (s *GraphDBStorage) LatestCommunityRun(ctx context.Context) (*common.CommunityRun, error) {
	q := s.queries()
	row, err := q.GetLatestCommunityRun(ctx)
	if err != nil {
		if errors.Is(err, pgxv5.ErrNoRows) {
			return nil, nil
		}
		return nil, unavailable("latest community run", err)
	}
	members, err := q.ListCommunityMembers(ctx, row.RunID)
	if err != nil {
		return nil, unavailable("latest community run", err)
	}

	run := &common.CommunityRun{
		RunID:      formatRunID(row.RunID),
		Algorithm:  row.Algorithm,
		Modularity: row.Modularity,
		Generation: row.Generation,
		ComputedAt: row.ComputedAt,
	}
	if len(row.Params) > 0 {
		if err := json.Unmarshal(row.Params, &run.Params); err != nil {
			return nil, fmt.Errorf("failed to decode run params: %w", err)
		}
	}
	index := make(map[int32]int)
	for _, m := range members {
		i, ok := index[m.ClusterID]
		if !ok {
			i = len(run.Communities)
			index[m.ClusterID] = i
			run.Communities = append(run.Communities, common.Community{ClusterID: int(m.ClusterID)})
		}
		run.Communities[i].Members = append(run.Communities[i].Members, common.NodeID(m.NodeID))
	}
	return run, nil
}
