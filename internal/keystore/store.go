package keystore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"feedrelay/internal/models"
)

// dialect covers the SQL that differs between backends.
type dialect interface {
	name() string
	// bind returns the placeholder for the n-th argument, 1-based.
	bind(n int) string
	// inIDs renders a membership test on col for ids, starting at argument n.
	inIDs(col string, n int, ids []string) (string, []any)
	schema(t Tables) []string
}

// SQLStore implements Store over database/sql.
type SQLStore struct {
	db        *sql.DB
	d         dialect
	batchSize int
	now       func() time.Time
}

var _ Store = (*SQLStore)(nil)

func newSQLStore(db *sql.DB, d dialect) *SQLStore {
	return &SQLStore{db: db, d: d, batchSize: DefaultBatchSize, now: time.Now}
}

func (s *SQLStore) Driver() string { return s.d.name() }

func (s *SQLStore) MaxBatchSize() int { return s.batchSize }

func (s *SQLStore) Close() error { return s.db.Close() }

// SetBatchSize lowers the per-call limit; values outside (0, DefaultBatchSize] are ignored.
func (s *SQLStore) SetBatchSize(n int) {
	if n > 0 && n <= DefaultBatchSize {
		s.batchSize = n
	}
}

// SetClock overrides the time source used to hide expired records.
func (s *SQLStore) SetClock(now func() time.Time) { s.now = now }

// Ensure creates the tables if they are missing.
func (s *SQLStore) Ensure(ctx context.Context, t Tables) error {
	for _, name := range []string{t.Entries, t.Feeds} {
		if err := ValidTable(name); err != nil {
			return err
		}
	}
	for _, stmt := range s.d.schema(t) {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema (%s): %w", s.d.name(), err)
		}
	}
	return nil
}

// BatchGet returns the subset of ids present and not yet expired.
func (s *SQLStore) BatchGet(ctx context.Context, table string, ids []string) ([]string, error) {
	if err := ValidTable(table); err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}
	if len(ids) > s.batchSize {
		return nil, fmt.Errorf("batch get: %d keys exceeds limit %d", len(ids), s.batchSize)
	}
	cond, args := s.d.inIDs("id", 1, ids)
	q := fmt.Sprintf(`SELECT id FROM %s WHERE %s AND expire_at > %s`, table, cond, s.d.bind(len(args)+1))
	args = append(args, s.now().Unix())
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var found []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		found = append(found, id)
	}
	return found, rows.Err()
}

var entryColumns = []string{"id", "title", "summary", "link", "published_at", "source", "category", "message", "expire_at", "created_at"}

// BatchPut upserts entries in one statement. Ids must be unique within the call.
func (s *SQLStore) BatchPut(ctx context.Context, table string, entries []models.Entry) error {
	if err := ValidTable(table); err != nil {
		return err
	}
	if len(entries) == 0 {
		return nil
	}
	if len(entries) > s.batchSize {
		return fmt.Errorf("batch put: %d items exceeds limit %d", len(entries), s.batchSize)
	}
	created := s.now().Unix()
	var b strings.Builder
	fmt.Fprintf(&b, "INSERT INTO %s (%s) VALUES ", table, strings.Join(entryColumns, ", "))
	args := make([]any, 0, len(entries)*len(entryColumns))
	for i, e := range entries {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString("(")
		for j := range entryColumns {
			if j > 0 {
				b.WriteString(", ")
			}
			b.WriteString(s.d.bind(len(args) + j + 1))
		}
		b.WriteString(")")
		args = append(args, e.ID, e.Title, e.Summary, e.Link, e.PublishedAt.Unix(), e.Source, e.Category, e.Message, e.ExpireAt, created)
	}
	b.WriteString(` ON CONFLICT (id) DO UPDATE SET
    title = excluded.title,
    summary = excluded.summary,
    link = excluded.link,
    published_at = excluded.published_at,
    source = excluded.source,
    category = excluded.category,
    message = excluded.message,
    expire_at = excluded.expire_at,
    created_at = excluded.created_at`)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, b.String(), args...); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

// Recent lists live entries persisted since the given time, newest first.
func (s *SQLStore) Recent(ctx context.Context, table string, since time.Time, limit int) ([]models.Entry, error) {
	if err := ValidTable(table); err != nil {
		return nil, err
	}
	q := fmt.Sprintf(`SELECT id, title, summary, link, published_at, source, category, message, expire_at
FROM %s WHERE created_at >= %s AND expire_at > %s ORDER BY published_at DESC, id`, table, s.d.bind(1), s.d.bind(2))
	args := []any{since.Unix(), s.now().Unix()}
	if limit > 0 {
		q += " LIMIT " + s.d.bind(3)
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.Entry
	for rows.Next() {
		var e models.Entry
		var published int64
		if err := rows.Scan(&e.ID, &e.Title, &e.Summary, &e.Link, &published, &e.Source, &e.Category, &e.Message, &e.ExpireAt); err != nil {
			return nil, err
		}
		e.PublishedAt = time.Unix(published, 0).UTC()
		out = append(out, e)
	}
	return out, rows.Err()
}

// Sweep deletes records whose TTL has passed and returns how many were removed.
func (s *SQLStore) Sweep(ctx context.Context, table string, now time.Time) (int64, error) {
	if err := ValidTable(table); err != nil {
		return 0, err
	}
	res, err := s.db.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE expire_at <= %s`, table, s.d.bind(1)), now.Unix())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *SQLStore) ListFeeds(ctx context.Context, table string) ([]models.FeedConfig, error) {
	if err := ValidTable(table); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`SELECT url, source, category FROM %s ORDER BY source, url`, table))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.FeedConfig
	for rows.Next() {
		var f models.FeedConfig
		if err := rows.Scan(&f.URL, &f.Source, &f.Category); err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

func (s *SQLStore) AddFeed(ctx context.Context, table string, f models.FeedConfig) error {
	if err := ValidTable(table); err != nil {
		return err
	}
	if strings.TrimSpace(f.URL) == "" || strings.TrimSpace(f.Source) == "" {
		return fmt.Errorf("feed url and source are required")
	}
	q := fmt.Sprintf(`INSERT INTO %s (url, source, category) VALUES (%s, %s, %s)
ON CONFLICT (url) DO UPDATE SET source = excluded.source, category = excluded.category`,
		table, s.d.bind(1), s.d.bind(2), s.d.bind(3))
	_, err := s.db.ExecContext(ctx, q, strings.TrimSpace(f.URL), strings.TrimSpace(f.Source), strings.TrimSpace(f.Category))
	return err
}

func (s *SQLStore) RemoveFeed(ctx context.Context, table, url string) (int64, error) {
	if err := ValidTable(table); err != nil {
		return 0, err
	}
	res, err := s.db.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE url = %s`, table, s.d.bind(1)), url)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// AppendEvent adds one payload to the named stream.
func (s *SQLStore) AppendEvent(ctx context.Context, stream, eventID string, payload []byte) error {
	q := fmt.Sprintf(`INSERT INTO %s (event_id, stream, payload, created_at) VALUES (%s, %s, %s, %s)`,
		StreamTable, s.d.bind(1), s.d.bind(2), s.d.bind(3), s.d.bind(4))
	_, err := s.db.ExecContext(ctx, q, eventID, stream, string(payload), s.now().Unix())
	return err
}

// Events returns the payloads of a stream in append order.
func (s *SQLStore) Events(ctx context.Context, stream string) ([][]byte, error) {
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`SELECT payload FROM %s WHERE stream = %s ORDER BY seq`, StreamTable, s.d.bind(1)), stream)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out [][]byte
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, err
		}
		out = append(out, []byte(p))
	}
	return out, rows.Err()
}
