package list

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"feedrelay/internal/keystore"
	"feedrelay/internal/models"
)

func seededStore(t *testing.T) *keystore.SQLStore {
	t.Helper()
	ctx := context.Background()
	s, err := keystore.OpenSQLite(ctx, filepath.Join(t.TempDir(), "relay.db"))
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	if err := s.Ensure(ctx, keystore.Tables{Entries: "entries", Feeds: "feeds"}); err != nil {
		t.Fatalf("Ensure: %v", err)
	}
	expire := time.Now().Add(time.Hour).Unix()
	entries := []models.Entry{
		{ID: "aws:one", Title: "One", Summary: "first", Link: "https://a/1", Source: "aws", Category: "whats-new", PublishedAt: time.Now(), ExpireAt: expire},
		{ID: "blog:two", Title: "Two", Summary: strings.Repeat("x", 500), Link: "https://b/2", Source: "blog", PublishedAt: time.Now().Add(-time.Minute), ExpireAt: expire},
	}
	if err := s.BatchPut(ctx, "entries", entries); err != nil {
		t.Fatalf("BatchPut: %v", err)
	}
	return s
}

func TestRun(t *testing.T) {
	s := seededStore(t)
	var buf bytes.Buffer
	if err := Run(context.Background(), &buf, s, "entries", 24); err != nil {
		t.Fatalf("Run: %v", err)
	}
	out := buf.String()
	for _, want := range []string{"Found 2 entries", "Title: One", "Source: aws (whats-new)", "Link: https://b/2", strings.Repeat("x", 400) + "..."} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestRunEmpty(t *testing.T) {
	ctx := context.Background()
	s, err := keystore.OpenSQLite(ctx, filepath.Join(t.TempDir(), "relay.db"))
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	defer s.Close()
	if err := s.Ensure(ctx, keystore.Tables{Entries: "entries", Feeds: "feeds"}); err != nil {
		t.Fatalf("Ensure: %v", err)
	}
	var buf bytes.Buffer
	if err := Run(ctx, &buf, s, "entries", 0); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !strings.Contains(buf.String(), "No entries relayed in the last 24 hours") {
		t.Errorf("unexpected output %q", buf.String())
	}
}

func TestRecentSourceFilter(t *testing.T) {
	s := seededStore(t)
	rows, err := Recent(context.Background(), s, "entries", Query{Hours: 1, Source: "blog", Limit: 1})
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(rows) != 1 || rows[0].ID != "blog:two" {
		t.Errorf("unexpected rows %+v", rows)
	}
}

func TestRecentInvalidTable(t *testing.T) {
	s := seededStore(t)
	if _, err := Recent(context.Background(), s, "entries; drop", Query{}); err == nil {
		t.Error("expected error for invalid table")
	}
}

func TestPreview(t *testing.T) {
	if got := Preview("short"); got != "short" {
		t.Errorf("Preview(short) = %q", got)
	}
	s := strings.Repeat("a", 399) + "é" + "tail"
	got := Preview(s)
	if !strings.HasSuffix(got, "...") || len(got) != 399+3 {
		t.Errorf("Preview should cut before a split rune, got len %d", len(got))
	}
	if !utf8.ValidString(got) {
		t.Errorf("Preview produced invalid UTF-8: %q", got)
	}
}
