package list

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"
	"unicode/utf8"

	"feedrelay/internal/models"
)

// Recenter reads recently persisted entries from the key store.
type Recenter interface {
	Recent(ctx context.Context, table string, since time.Time, limit int) ([]models.Entry, error)
}

type Query struct {
	Hours  int
	Source string // optional, exact match
	Limit  int    // 0 means no limit
}

// Recent returns the entries recorded within the query window.
func Recent(ctx context.Context, store Recenter, table string, q Query) ([]models.Entry, error) {
	if q.Hours <= 0 {
		q.Hours = 24
	}
	since := time.Now().Add(-time.Duration(q.Hours) * time.Hour)
	src := strings.TrimSpace(q.Source)
	limit := q.Limit
	if src != "" {
		// filter after the query so the limit applies to matching rows
		limit = 0
	}
	rows, err := store.Recent(ctx, table, since, limit)
	if err != nil {
		return nil, fmt.Errorf("query failed while reading %s: %w", table, err)
	}
	if src == "" {
		return rows, nil
	}
	var out []models.Entry
	for _, r := range rows {
		if r.Source != src {
			continue
		}
		out = append(out, r)
		if q.Limit > 0 && len(out) == q.Limit {
			break
		}
	}
	return out, nil
}

// Run prints the entries relayed in the last hours.
func Run(ctx context.Context, w io.Writer, store Recenter, table string, hours int) error {
	if hours <= 0 {
		hours = 24
	}
	rows, err := Recent(ctx, store, table, Query{Hours: hours})
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		fmt.Fprintf(w, "No entries relayed in the last %d hours.\n", hours)
		return nil
	}

	fmt.Fprintf(w, "Found %d entries from the last %d hours:\n\n", len(rows), hours)
	for _, r := range rows {
		fmt.Fprintf(w, "ID: %s\n", r.ID)
		fmt.Fprintf(w, "Title: %s\n", r.Title)
		fmt.Fprintf(w, "Source: %s\n", sourceLabel(r))
		fmt.Fprintf(w, "Date: %s\n", r.PublishedAt.Format("2006-01-02 15:04:05"))
		fmt.Fprintf(w, "Link: %s\n", r.Link)
		fmt.Fprintf(w, "Preview: %s\n", Preview(r.Summary))
		fmt.Fprintln(w, strings.Repeat("-", 80))
	}
	return nil
}

// Preview truncates s to 400 bytes without splitting a rune.
func Preview(s string) string {
	if len(s) <= 400 {
		return s
	}
	cut := 400
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}

func sourceLabel(e models.Entry) string {
	if e.Category == "" {
		return e.Source
	}
	return e.Source + " (" + e.Category + ")"
}
