package records

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"

	"github.com/lib/pq"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS videos (
    id TEXT PRIMARY KEY,
    status TEXT NOT NULL,
    moderation_score DOUBLE PRECISION,
    hls_url TEXT,
    qualities TEXT[],
    error_message TEXT,
    created_at TEXT NOT NULL,
    updated_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_videos_status ON videos(status);
CREATE INDEX IF NOT EXISTS idx_videos_updated_at ON videos(updated_at);
`

const pgUniqueViolation = "23505"

// OpenPostgres connects to PostgreSQL using dsn and ensures the videos table exists.
func OpenPostgres(ctx context.Context, dsn string) (Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if _, err := db.ExecContext(ctx, postgresSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &sqlStore{db: db, d: postgresDialect()}, nil
}

func postgresDialect() dialect {
	return dialect{
		name:        "postgres",
		placeholder: func(n int) string { return "$" + strconv.Itoa(n) },
		encodeQualities: func(q []string) (any, error) {
			return pq.Array(q), nil
		},
		qualitiesDest: func() (any, func() ([]string, error)) {
			var arr pq.StringArray
			return &arr, func() ([]string, error) {
				if len(arr) == 0 {
					return nil, nil
				}
				return []string(arr), nil
			}
		},
		isDuplicate: func(err error) bool {
			var pqErr *pq.Error
			return errors.As(err, &pqErr) && string(pqErr.Code) == pgUniqueViolation
		},
		retry: noRetry,
	}
}
