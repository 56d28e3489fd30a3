package pgx

import (
	"context"
	"errors"

	"github.com/OFFIS-RIT/kinship/pkg/common"
	pgdb "github.com/OFFIS-RIT/kinship/pkg/db/pgx"
	"github.com/OFFIS-RIT/kinship/pkg/store"

	pgxv5 "github.com/jackc/pgx/v5"
)

// snapshotReader holds a read-only REPEATABLE READ transaction pinned to the
// generation that was active when it began.
type snapshotReader struct {
	tx         pgxv5.Tx
	q          *pgdb.Queries
	generation int64
}

func (s *GraphDBStorage) OpenSnapshot(ctx context.Context) (store.SnapshotReader, error) {
	tx, err := s.conn.BeginTx(ctx, pgxv5.TxOptions{
		IsoLevel:   pgxv5.RepeatableRead,
		AccessMode: pgxv5.ReadOnly,
	})
	if err != nil {
		return nil, unavailable("open snapshot", err)
	}
	q := pgdb.New(s.conn).WithTx(tx)

	var generation int64
	g, err := q.GetGenerationByStatus(ctx, string(common.GenerationActive))
	switch {
	case err == nil:
		generation = g.ID
	case errors.Is(err, pgxv5.ErrNoRows):
	default:
		_ = tx.Rollback(ctx)
		return nil, unavailable("open snapshot", err)
	}

	return &snapshotReader{tx: tx, q: q, generation: generation}, nil
}

func (r *snapshotReader) Generation() int64 { return r.generation }

func (r *snapshotReader) NodeExists(ctx context.Context, id common.NodeID) (bool, error) {
	kind, raw, err := common.ParseNodeID(string(id))
	if err != nil {
		return false, nil
	}

	var exists bool
	switch kind {
	case common.NodeKindPerson:
		exists, err = r.q.PersonExists(ctx, raw)
	case common.NodeKindRepository:
		exists, err = r.q.RepositoryExists(ctx, raw)
	}
	if err != nil {
		return false, unavailable("node exists", err)
	}
	if exists || r.generation == 0 {
		return exists, nil
	}

	exists, err = r.q.NodeHasEdges(ctx, pgdb.NodeHasEdgesParams{Generation: r.generation, NodeID: string(id)})
	if err != nil {
		return false, unavailable("node exists", err)
	}
	return exists, nil
}

func nodeStrings(ids []common.NodeID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = string(id)
	}
	return out
}

func (r *snapshotReader) Neighbors(ctx context.Context, ids []common.NodeID) ([]common.Edge, error) {
	if r.generation == 0 || len(ids) == 0 {
		return nil, nil
	}
	rows, err := r.q.ListNeighborEdges(ctx, pgdb.ListNeighborEdgesParams{
		Generation: r.generation,
		NodeIds:    nodeStrings(ids),
	})
	if err != nil {
		return nil, unavailable("neighbors", err)
	}
	edges := toEdges(rows)
	// Database collation may differ from byte order.
	store.SortEdges(edges)
	return edges, nil
}

func (r *snapshotReader) EdgesAmong(ctx context.Context, ids []common.NodeID) ([]common.Edge, error) {
	if r.generation == 0 || len(ids) == 0 {
		return nil, nil
	}
	rows, err := r.q.ListEdgesAmong(ctx, pgdb.ListEdgesAmongParams{
		Generation: r.generation,
		NodeIds:    nodeStrings(ids),
	})
	if err != nil {
		return nil, unavailable("edges among", err)
	}
	edges := toEdges(rows)
	store.SortEdges(edges)
	return edges, nil
}

func (r *snapshotReader) Close(ctx context.Context) error {
	return r.tx.Rollback(ctx)
}
