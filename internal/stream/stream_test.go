package stream

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"feedrelay/internal/keystore"
	"feedrelay/internal/models"
)

type memSink struct {
	payloads [][]byte
	err      error
}

func (m *memSink) Append(_ context.Context, _, _ string, payload []byte) error {
	if m.err != nil {
		return m.err
	}
	m.payloads = append(m.payloads, payload)
	return nil
}

func (m *memSink) Close() error { return nil }

func sampleEntry() models.Entry {
	return models.Entry{
		ID:          "aws:new instance type",
		Title:       "New Instance Type",
		Summary:     "Now available",
		Link:        "https://aws.amazon.com/new/1",
		PublishedAt: time.Date(2025, 8, 25, 7, 0, 0, 0, time.UTC),
		Source:      "aws",
		Category:    "whats-new",
		Message:     "New Instance Type: https://aws.amazon.com/new/1",
		ExpireAt:    1759000000,
	}
}

func TestPublishDisabled(t *testing.T) {
	sink := &memSink{}
	p := NewPublisher("", sink)
	if p.Enabled() {
		t.Fatal("publisher with empty name should be disabled")
	}
	if err := p.Publish(context.Background(), sampleEntry()); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if len(sink.payloads) != 0 {
		t.Errorf("expected nothing appended, got %d", len(sink.payloads))
	}

	var nilPub *Publisher
	if err := nilPub.Publish(context.Background(), sampleEntry()); err != nil {
		t.Errorf("nil publisher: %v", err)
	}
}

func TestPublishPayload(t *testing.T) {
	sink := &memSink{}
	p := NewPublisher("aws-updates", sink)
	p.newID = func() string { return "evt-1" }

	if err := p.Publish(context.Background(), sampleEntry()); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if len(sink.payloads) != 1 {
		t.Fatalf("expected 1 payload, got %d", len(sink.payloads))
	}
	var ev Event
	if err := json.Unmarshal(sink.payloads[0], &ev); err != nil {
		t.Fatalf("payload is not JSON: %v", err)
	}
	if ev.EventID != "evt-1" || ev.Stream != "aws-updates" || ev.ID != "aws:new instance type" {
		t.Errorf("unexpected event %+v", ev)
	}
	if ev.Message != "New Instance Type: https://aws.amazon.com/new/1" || ev.ExpireAt != 1759000000 {
		t.Errorf("unexpected event body %+v", ev)
	}
}

func TestPublishSinkError(t *testing.T) {
	boom := errors.New("boom")
	p := NewPublisher("aws-updates", &memSink{err: boom})
	if err := p.Publish(context.Background(), sampleEntry()); !errors.Is(err, boom) {
		t.Errorf("expected wrapped sink error, got %v", err)
	}
}

func TestFileSink(t *testing.T) {
	dir := t.TempDir()
	sink, err := NewFileSink(filepath.Join(dir, "streams"))
	if err != nil {
		t.Fatalf("NewFileSink: %v", err)
	}
	p := NewPublisher("aws-updates", sink)
	for i := 0; i < 2; i++ {
		if err := p.Publish(context.Background(), sampleEntry()); err != nil {
			t.Fatalf("Publish: %v", err)
		}
	}
	if err := p.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	f, err := os.Open(sink.Path("aws-updates"))
	if err != nil {
		t.Fatalf("open stream file: %v", err)
	}
	defer f.Close()
	var ids []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var ev Event
		if err := json.Unmarshal(sc.Bytes(), &ev); err != nil {
			t.Fatalf("line is not JSON: %v", err)
		}
		ids = append(ids, ev.EventID)
	}
	if len(ids) != 2 || ids[0] == ids[1] || ids[0] == "" {
		t.Errorf("expected two distinct event ids, got %v", ids)
	}
}

func TestTableSink(t *testing.T) {
	ctx := context.Background()
	store, err := keystore.OpenSQLite(ctx, filepath.Join(t.TempDir(), "relay.db"))
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	defer store.Close()
	if err := store.Ensure(ctx, keystore.Tables{Entries: "entries", Feeds: "feeds"}); err != nil {
		t.Fatalf("Ensure: %v", err)
	}

	p := NewPublisher("aws-updates", NewTableSink(store))
	if err := p.Publish(ctx, sampleEntry()); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	events, err := store.Events(ctx, "aws-updates")
	if err != nil {
		t.Fatalf("Events: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	var ev Event
	if err := json.Unmarshal(events[0], &ev); err != nil || ev.Title != "New Instance Type" {
		t.Errorf("unexpected stored event %s (%v)", events[0], err)
	}
}
