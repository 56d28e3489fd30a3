package timing

import (
	"context"
	"time"

	pgdb "github.com/OFFIS-RIT/kinship/pkg/db/pgx"
)

// AddRunDuration records how long a background run of kind took for the
// given number of units (nodes, edges or entities).
func AddRunDuration(ctx context.Context, conn pgdb.DBTX, kind string, units int64, d time.Duration) error {
	q := pgdb.New(conn)

	return q.AddRunDuration(ctx, pgdb.AddRunDurationParams{
		Kind:       kind,
		Units:      units,
		DurationMs: d.Milliseconds(),
	})
}

// PredictRunDuration extrapolates the duration of a run of kind over units
// from the most recent recorded runs. It returns 0 without history.
func PredictRunDuration(ctx context.Context, conn pgdb.DBTX, kind string, units int64) (time.Duration, error) {
	q := pgdb.New(conn)

	ms, err := q.PredictRunDuration(ctx, pgdb.PredictRunDurationParams{
		Kind:  kind,
		Units: units,
	})
	if err != nil {
		return 0, err
	}
	return time.Duration(ms) * time.Millisecond, nil
}
