package keystore

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"
)

// OpenSQLite opens (creating if needed) the SQLite database at path.
func OpenSQLite(ctx context.Context, path string) (*SQLStore, error) {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create store directory: %w", err)
		}
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	return newSQLStore(db, sqliteDialect{}), nil
}

type sqliteDialect struct{}

func (sqliteDialect) name() string { return "sqlite" }

func (sqliteDialect) bind(int) string { return "?" }

func (sqliteDialect) inIDs(col string, _ int, ids []string) (string, []any) {
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	return fmt.Sprintf("%s IN (%s)", col, strings.TrimSuffix(strings.Repeat("?, ", len(ids)), ", ")), args
}

func (sqliteDialect) schema(t Tables) []string {
	return []string{
		`CREATE TABLE IF NOT EXISTS ` + t.Entries + ` (
            id TEXT PRIMARY KEY,
            title TEXT NOT NULL,
            summary TEXT NOT NULL DEFAULT '',
            link TEXT NOT NULL DEFAULT '',
            published_at INTEGER NOT NULL,
            source TEXT NOT NULL,
            category TEXT NOT NULL DEFAULT '',
            message TEXT NOT NULL,
            expire_at INTEGER NOT NULL,
            created_at INTEGER NOT NULL
        )`,
		`CREATE INDEX IF NOT EXISTS idx_` + t.Entries + `_expire_at ON ` + t.Entries + `(expire_at)`,
		`CREATE INDEX IF NOT EXISTS idx_` + t.Entries + `_created_at ON ` + t.Entries + `(created_at)`,
		`CREATE TABLE IF NOT EXISTS ` + t.Feeds + ` (
            url TEXT PRIMARY KEY,
            source TEXT NOT NULL,
            category TEXT NOT NULL DEFAULT ''
        )`,
		`CREATE TABLE IF NOT EXISTS ` + StreamTable + ` (
            seq INTEGER PRIMARY KEY AUTOINCREMENT,
            event_id TEXT NOT NULL UNIQUE,
            stream TEXT NOT NULL,
            payload TEXT NOT NULL,
            created_at INTEGER NOT NULL
        )`,
		`CREATE INDEX IF NOT EXISTS idx_stream_events_stream ON ` + StreamTable + `(stream, seq)`,
	}
}
