// Package keystore is the durable key-value store behind the relay: seen
// entries with a TTL, the feed configuration table and the append-only
// stream table. SQLite and Postgres share one implementation and differ only
// in dialect.
package keystore

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"feedrelay/internal/models"
)

// DefaultBatchSize caps ids per probe and entries per persist call.
const DefaultBatchSize = 100

// StreamTable holds events appended by the table stream sink.
const StreamTable = "stream_events"

var ErrInvalidTable = errors.New("invalid table name")

var identRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]{0,62}$`)

// Tables names the tables a store manages.
type Tables struct {
	Entries string
	Feeds   string
}

// ValidTable reports whether name can be used as an unquoted SQL identifier.
func ValidTable(name string) error {
	if !identRe.MatchString(name) {
		return fmt.Errorf("%w: %q", ErrInvalidTable, name)
	}
	return nil
}

// Store is the full key store surface used by the CLI commands.
type Store interface {
	Ensure(ctx context.Context, t Tables) error
	BatchGet(ctx context.Context, table string, ids []string) ([]string, error)
	BatchPut(ctx context.Context, table string, entries []models.Entry) error
	MaxBatchSize() int
	Recent(ctx context.Context, table string, since time.Time, limit int) ([]models.Entry, error)
	Sweep(ctx context.Context, table string, now time.Time) (int64, error)
	ListFeeds(ctx context.Context, table string) ([]models.FeedConfig, error)
	AddFeed(ctx context.Context, table string, f models.FeedConfig) error
	RemoveFeed(ctx context.Context, table, url string) (int64, error)
	AppendEvent(ctx context.Context, stream, eventID string, payload []byte) error
	Close() error
}

// Open connects to the backend named by driver ("sqlite" or "postgres").
func Open(ctx context.Context, driver, dsn string) (*SQLStore, error) {
	switch driver {
	case "sqlite":
		return OpenSQLite(ctx, dsn)
	case "postgres":
		return OpenPostgres(ctx, dsn)
	default:
		return nil, fmt.Errorf("unsupported store driver %q", driver)
	}
}
