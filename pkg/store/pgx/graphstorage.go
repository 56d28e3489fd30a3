package pgx

import (
	"context"
	"time"

	"github.com/OFFIS-RIT/kinship/pkg/common"
	pgdb "github.com/OFFIS-RIT/kinship/pkg/db/pgx"
	"github.com/OFFIS-RIT/kinship/pkg/store"

	pgxv5 "github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

type pgxIConn interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, optionsAndArgs ...any) (pgxv5.Rows, error)
	QueryRow(ctx context.Context, sql string, optionsAndArgs ...any) pgxv5.Row
	Begin(ctx context.Context) (pgxv5.Tx, error)
	BeginTx(ctx context.Context, txOptions pgxv5.TxOptions) (pgxv5.Tx, error)
}

// GraphDBStorage implements store.Store on PostgreSQL. Feature vectors use
// pgvector; every multi-row write runs in a single transaction so readers
// on the active generation never see partial state.
type GraphDBStorage struct {
	conn pgxIConn

	now         func() time.Time
	keepRetired int32
}

type GraphDBStorageOption func(*GraphDBStorage)

// WithClock overrides the clock used for job and generation timestamps.
func WithClock(now func() time.Time) GraphDBStorageOption {
	return func(s *GraphDBStorage) {
		s.now = now
	}
}

// WithRetainedGenerations sets how many retired generations are kept after
// a publish. Older ones are deleted together with their edges.
func WithRetainedGenerations(n int) GraphDBStorageOption {
	return func(s *GraphDBStorage) {
		s.keepRetired = int32(n)
	}
}

var _ store.Store = (*GraphDBStorage)(nil)

// NewGraphDBStorageWithConnection creates a GraphDBStorage on an existing
// pool or connection.
func NewGraphDBStorageWithConnection(conn pgxIConn, opts ...GraphDBStorageOption) *GraphDBStorage {
	s := &GraphDBStorage{
		conn:        conn,
		now:         func() time.Time { return time.Now().UTC() },
		keepRetired: 2,
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(s)
	}
	return s
}

func (s *GraphDBStorage) queries() *pgdb.Queries {
	return pgdb.New(s.conn)
}

// unavailable maps driver failures onto the typed taxonomy.
func unavailable(op string, err error) error {
	return common.Unavailable(op, err)
}
