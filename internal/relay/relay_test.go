package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"feedrelay/internal/dedup"
	"feedrelay/internal/keystore"
	"feedrelay/internal/models"
	"feedrelay/internal/notify"
	"feedrelay/internal/source"
	"feedrelay/internal/stream"
)

func rssFeed(titles ...string) string {
	var b strings.Builder
	b.WriteString(`<?xml version="1.0" encoding="UTF-8"?><rss version="2.0"><channel><title>AWS</title>`)
	for i, t := range titles {
		fmt.Fprintf(&b, `<item><title>%s</title><link>https://aws.amazon.com/%d</link><pubDate>Mon, 25 Aug 2025 07:42:16 +0100</pubDate></item>`, t, i)
	}
	b.WriteString(`</channel></rss>`)
	return b.String()
}

type chat struct {
	mu       sync.Mutex
	messages []string
	failOn   string
}

func (c *chat) server(t *testing.T) *httptest.Server {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body struct{ Content string }
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		c.mu.Lock()
		c.messages = append(c.messages, body.Content)
		c.mu.Unlock()
		if c.failOn != "" && strings.HasPrefix(body.Content, c.failOn) {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func (c *chat) sent() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.messages...)
}

type harness struct {
	store *keystore.SQLStore
	chat  *chat
	sink  *memSink
	relay *Relay
}

type memSink struct {
	mu     sync.Mutex
	events int
	err    error
}

func (m *memSink) Append(context.Context, string, string, []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.events++
	return nil
}

func (m *memSink) Close() error { return nil }

type setup struct {
	feeds   []models.FeedConfig
	ceiling int
	timeout time.Duration
	chat    *chat
	sink    *memSink
}

func newHarness(t *testing.T, s setup) *harness {
	t.Helper()
	ctx := context.Background()
	store, err := keystore.OpenSQLite(ctx, filepath.Join(t.TempDir(), "relay.db"))
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	tables := keystore.Tables{Entries: "entries", Feeds: "feeds"}
	if err := store.Ensure(ctx, tables); err != nil {
		t.Fatalf("Ensure: %v", err)
	}
	if s.chat == nil {
		s.chat = &chat{}
	}
	if s.sink == nil {
		s.sink = &memSink{}
	}
	if s.timeout == 0 {
		s.timeout = 2 * time.Second
	}
	hook := s.chat.server(t)
	dispatcher := notify.NewDispatcher(notify.NewWebhook(hook.URL, time.Second, "test"), notify.Options{
		Ceiling:    s.ceiling,
		MaxRetries: 5,
		SiteURL:    "https://aws.amazon.com/new",
	}, nil)
	r, err := New(Deps{
		Feeds:     ConfigFeeds{Store: store, Table: tables.Feeds, Static: s.feeds},
		Fetcher:   source.NewFetcher(s.timeout, 24*time.Hour, "test"),
		Dedup:     dedup.New(store, tables.Entries, 0, nil),
		Publisher: stream.NewPublisher("updates", s.sink),
		Notifier:  dispatcher,
		Sweeper:   store,
		Table:     tables.Entries,
	}, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return &harness{store: store, chat: s.chat, sink: s.sink, relay: r}
}

func feedAt(t *testing.T, body string) models.FeedConfig {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/rss+xml")
		fmt.Fprint(w, body)
	}))
	t.Cleanup(srv.Close)
	return models.FeedConfig{URL: srv.URL, Source: "aws", Category: "whats-new"}
}

func TestRunDuplicateTitles(t *testing.T) {
	h := newHarness(t, setup{feeds: []models.FeedConfig{feedAt(t, rssFeed("AWS Title A", "AWS Title A", "AWS Title B"))}})

	rep, err := h.relay.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if rep.New != 2 || rep.Delivered != 2 || rep.Published != 2 {
		t.Errorf("unexpected report %+v", rep)
	}
	sent := h.chat.sent()
	if len(sent) != 2 || sent[0] != "AWS Title A: https://aws.amazon.com/0" || sent[1] != "AWS Title B: https://aws.amazon.com/2" {
		t.Errorf("unexpected messages %q", sent)
	}
	present, err := h.store.BatchGet(context.Background(), "entries", []string{"aws:aws title a", "aws:aws title b"})
	if err != nil || len(present) != 2 {
		t.Errorf("expected 2 persisted ids, got %v (%v)", present, err)
	}
}

func TestRunIsIdempotent(t *testing.T) {
	h := newHarness(t, setup{feeds: []models.FeedConfig{feedAt(t, rssFeed("One", "Two"))}})

	if _, err := h.relay.Run(context.Background()); err != nil {
		t.Fatalf("first Run: %v", err)
	}
	rep, err := h.relay.Run(context.Background())
	if err != nil {
		t.Fatalf("second Run: %v", err)
	}
	if rep.Candidates != 2 || rep.New != 0 || rep.Delivered != 0 {
		t.Errorf("second run should find nothing new, got %+v", rep)
	}
	if n := len(h.chat.sent()); n != 2 {
		t.Errorf("expected 2 messages over both runs, got %d", n)
	}
	if h.sink.events != 2 {
		t.Errorf("expected 2 stream events over both runs, got %d", h.sink.events)
	}
}

func TestRunSkipsKnownEntries(t *testing.T) {
	h := newHarness(t, setup{feeds: []models.FeedConfig{feedAt(t, rssFeed("Title A", "Title B"))}})
	known := models.Entry{ID: models.EntryID("aws", "Title A"), Title: "Title A", Source: "aws", ExpireAt: time.Now().Add(time.Hour).Unix()}
	if err := h.store.BatchPut(context.Background(), "entries", []models.Entry{known}); err != nil {
		t.Fatalf("BatchPut: %v", err)
	}

	rep, err := h.relay.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	sent := h.chat.sent()
	if rep.New != 1 || len(sent) != 1 || !strings.HasPrefix(sent[0], "Title B:") {
		t.Errorf("expected only Title B, got %+v %q", rep, sent)
	}
}

func TestRunSkipsSlowFeed(t *testing.T) {
	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer slow.Close()
	feeds := []models.FeedConfig{
		{URL: slow.URL, Source: "slow"},
		{URL: "http://127.0.0.1:1/unreachable", Source: "down"},
		feedAt(t, rssFeed("Still Here")),
	}
	h := newHarness(t, setup{feeds: feeds, timeout: 100 * time.Millisecond})

	rep, err := h.relay.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if rep.Feeds != 3 || rep.FeedsFailed != 2 || rep.New != 1 {
		t.Errorf("unexpected report %+v", rep)
	}
}

func TestRunVolumeCeiling(t *testing.T) {
	h := newHarness(t, setup{feeds: []models.FeedConfig{feedAt(t, rssFeed("A", "B", "C"))}, ceiling: 3})

	rep, err := h.relay.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	sent := h.chat.sent()
	if !rep.Fallback || len(sent) != 1 || sent[0] != "Too many new messages... Check the site: https://aws.amazon.com/new" {
		t.Errorf("expected fallback only, got %+v %q", rep, sent)
	}
	if h.sink.events != 0 {
		t.Errorf("fallback run should not publish, got %d events", h.sink.events)
	}
	// entries are still recorded so the next run stays quiet
	rep, err = h.relay.Run(context.Background())
	if err != nil || rep.New != 0 {
		t.Errorf("second run: %+v %v", rep, err)
	}
}

func TestRunStreamFailureIsNotFatal(t *testing.T) {
	h := newHarness(t, setup{
		feeds: []models.FeedConfig{feedAt(t, rssFeed("A", "B"))},
		sink:  &memSink{err: errors.New("stream down")},
	})

	rep, err := h.relay.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if rep.PublishFailed != 2 || rep.Delivered != 2 {
		t.Errorf("unexpected report %+v", rep)
	}
}

func TestRunUndelivered(t *testing.T) {
	c := &chat{failOn: "A:"}
	h := newHarness(t, setup{feeds: []models.FeedConfig{feedAt(t, rssFeed("A", "B"))}, chat: c})

	rep, err := h.relay.Run(context.Background())
	if !errors.Is(err, notify.ErrUndelivered) {
		t.Fatalf("expected ErrUndelivered, got %v", err)
	}
	if rep.Delivered != 1 || rep.Failed != 1 {
		t.Errorf("unexpected report %+v", rep)
	}
	attempts := 0
	for _, m := range c.sent() {
		if strings.HasPrefix(m, "A:") {
			attempts++
		}
	}
	if attempts != 6 {
		t.Errorf("expected 6 attempts for the failing entry, got %d", attempts)
	}
}

type failingDedup struct{}

func (failingDedup) Filter(context.Context, []models.Entry) ([]models.Entry, error) {
	return nil, errors.New("store unavailable")
}

type countingNotifier struct{ calls int }

func (n *countingNotifier) OverCeiling(int) bool { return false }
func (n *countingNotifier) SendFallback(context.Context) (int, error) {
	n.calls++
	return 1, nil
}
func (n *countingNotifier) Dispatch(context.Context, []models.Entry) (notify.Result, error) {
	n.calls++
	return notify.Result{}, nil
}

func TestRunStoreFailureIsFatal(t *testing.T) {
	n := &countingNotifier{}
	r, err := New(Deps{
		Feeds:    ConfigFeeds{Static: []models.FeedConfig{feedAt(t, rssFeed("A"))}},
		Fetcher:  source.NewFetcher(time.Second, time.Hour, "test"),
		Dedup:    failingDedup{},
		Notifier: n,
	}, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := r.Run(context.Background()); err == nil {
		t.Fatal("expected store error")
	}
	if n.calls != 0 {
		t.Errorf("notifier must not run after a store failure")
	}
}

func TestNewRequiresDeps(t *testing.T) {
	if _, err := New(Deps{}, nil); err == nil {
		t.Error("expected error for missing dependencies")
	}
}

func TestConfigFeedsOrder(t *testing.T) {
	ctx := context.Background()
	store, err := keystore.OpenSQLite(ctx, filepath.Join(t.TempDir(), "relay.db"))
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	defer store.Close()
	if err := store.Ensure(ctx, keystore.Tables{Entries: "entries", Feeds: "feeds"}); err != nil {
		t.Fatalf("Ensure: %v", err)
	}
	static := []models.FeedConfig{{URL: "https://example.com/yaml", Source: "yaml"}}

	feeds, err := ConfigFeeds{Store: store, Table: "feeds"}.Load(ctx)
	if err != nil || len(feeds) != len(models.DefaultFeeds()) {
		t.Errorf("expected defaults, got %v %v", feeds, err)
	}
	feeds, _ = ConfigFeeds{Store: store, Table: "feeds", Static: static}.Load(ctx)
	if len(feeds) != 1 || feeds[0].Source != "yaml" {
		t.Errorf("expected yaml feeds, got %v", feeds)
	}
	if err := store.AddFeed(ctx, "feeds", models.FeedConfig{URL: "https://example.com/table", Source: "table"}); err != nil {
		t.Fatalf("AddFeed: %v", err)
	}
	feeds, _ = ConfigFeeds{Store: store, Table: "feeds", Static: static}.Load(ctx)
	if len(feeds) != 1 || feeds[0].Source != "table" {
		t.Errorf("expected table feeds, got %v", feeds)
	}
}
