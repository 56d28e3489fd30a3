package pgx

import (
	"context"
	"errors"

	"github.com/OFFIS-RIT/kinship/pkg/common"
	pgdb "github.com/OFFIS-RIT/kinship/pkg/db/pgx"
	"github.com/OFFIS-RIT/kinship/pkg/store"

	pgxv5 "github.com/jackc/pgx/v5"
	"github.com/pgvector/pgvector-go"
)

func (s *GraphDBStorage) ReplaceFeatures(ctx context.Context, kind common.NodeKind, vectors []common.FeatureVector) error {
	tx, err := s.conn.Begin(ctx)
	if err != nil {
		return unavailable("replace features", err)
	}
	defer tx.Rollback(ctx)
	qtx := pgdb.New(s.conn).WithTx(tx)

	if _, err := qtx.DeleteNodeFeaturesByKind(ctx, string(kind)); err != nil {
		return unavailable("replace features", err)
	}
	for _, v := range vectors {
		if err := qtx.UpsertNodeFeature(ctx, pgdb.NodeFeature{
			NodeID:     string(v.NodeID),
			Kind:       string(v.Kind),
			Version:    v.Version,
			Embedding:  pgvector.NewVector(v.Values),
			ComputedAt: v.ComputedAt,
		}); err != nil {
			return unavailable("replace features", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return unavailable("replace features", err)
	}
	return nil
}

func toFeatureVector(row pgdb.NodeFeature) common.FeatureVector {
	return common.FeatureVector{
		NodeID:     common.NodeID(row.NodeID),
		Kind:       common.NodeKind(row.Kind),
		Version:    row.Version,
		Values:     row.Embedding.Slice(),
		ComputedAt: row.ComputedAt,
	}
}

func (s *GraphDBStorage) GetFeatures(ctx context.Context, id common.NodeID) (*common.FeatureVector, error) {
	row, err := s.queries().GetNodeFeature(ctx, string(id))
	if err != nil {
		if errors.Is(err, pgxv5.ErrNoRows) {
			return nil, nil
		}
		return nil, unavailable("get features", err)
	}
	v := toFeatureVector(row)
	return &v, nil
}

func isZero(values []float32) bool {
	for _, v := range values {
		if v != 0 {
			return false
		}
	}
	return true
}

// NearestFeatures lets pgvector order candidates by cosine distance and
// recomputes the similarity with common.Cosine so both stores agree on
// values. Zero query vectors have no defined distance in pgvector and are
// ranked in process instead.
func (s *GraphDBStorage) NearestFeatures(ctx context.Context, query common.FeatureVector, k int) ([]common.RankedNode, error) {
	q := s.queries()
	if isZero(query.Values) {
		rows, err := q.ListNodeFeaturesByKind(ctx, pgdb.ListNodeFeaturesByKindParams{
			Kind:    string(query.Kind),
			Version: query.Version,
		})
		if err != nil {
			return nil, unavailable("nearest features", err)
		}
		candidates := make([]common.FeatureVector, 0, len(rows))
		for _, r := range rows {
			candidates = append(candidates, toFeatureVector(r))
		}
		return store.RankBySimilarity(query, candidates, k), nil
	}

	rows, err := q.ListNearestFeatures(ctx, pgdb.ListNearestFeaturesParams{
		Embedding: pgvector.NewVector(query.Values),
		Kind:      string(query.Kind),
		Version:   query.Version,
		Exclude:   string(query.NodeID),
		Limit:     int32(k),
	})
	if err != nil {
		return nil, unavailable("nearest features", err)
	}
	candidates := make([]common.FeatureVector, 0, len(rows))
	for _, r := range rows {
		candidates = append(candidates, common.FeatureVector{
			NodeID:  common.NodeID(r.NodeID),
			Kind:    query.Kind,
			Version: query.Version,
			Values:  r.Embedding.Slice(),
		})
	}
	return store.RankBySimilarity(query, candidates, k), nil
}
