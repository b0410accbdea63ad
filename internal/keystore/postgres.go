package keystore

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"

	"github.com/lib/pq"
)

// OpenPostgres connects using a lib/pq connection string or URL.
func OpenPostgres(ctx context.Context, dsn string) (*SQLStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(4)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	return newSQLStore(db, postgresDialect{}), nil
}

type postgresDialect struct{}

func (postgresDialect) name() string { return "postgres" }

func (postgresDialect) bind(n int) string { return "$" + strconv.Itoa(n) }

func (postgresDialect) inIDs(col string, n int, ids []string) (string, []any) {
	return fmt.Sprintf("%s = ANY($%d)", col, n), []any{pq.Array(ids)}
}

func (postgresDialect) schema(t Tables) []string {
	return []string{
		`CREATE TABLE IF NOT EXISTS ` + t.Entries + ` (
    id TEXT PRIMARY KEY,
    title TEXT NOT NULL,
    summary TEXT NOT NULL DEFAULT '',
    link TEXT NOT NULL DEFAULT '',
    published_at BIGINT NOT NULL,
    source TEXT NOT NULL,
    category TEXT NOT NULL DEFAULT '',
    message TEXT NOT NULL,
    expire_at BIGINT NOT NULL,
    created_at BIGINT NOT NULL
)`,
		`CREATE INDEX IF NOT EXISTS idx_` + t.Entries + `_expire_at ON ` + t.Entries + ` (expire_at)`,
		`CREATE INDEX IF NOT EXISTS idx_` + t.Entries + `_created_at ON ` + t.Entries + ` (created_at)`,
		`CREATE TABLE IF NOT EXISTS ` + t.Feeds + ` (
    url TEXT PRIMARY KEY,
    source TEXT NOT NULL,
    category TEXT NOT NULL DEFAULT ''
)`,
		`CREATE TABLE IF NOT EXISTS ` + StreamTable + ` (
    seq BIGSERIAL PRIMARY KEY,
    event_id TEXT NOT NULL UNIQUE,
    stream TEXT NOT NULL,
    payload TEXT NOT NULL,
    created_at BIGINT NOT NULL
)`,
		`CREATE INDEX IF NOT EXISTS idx_stream_events_stream ON ` + StreamTable + ` (stream, seq)`,
	}
}
