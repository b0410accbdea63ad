// Package source fetches RSS/Atom feeds and normalizes their items into
// relay entries.
package source

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"

	"feedrelay/internal/httpclient"
	"feedrelay/internal/models"
)

const DefaultTimeout = 10 * time.Second

// ErrTimeout marks a fetch that ran past the per-feed timeout.
var ErrTimeout = errors.New("feed fetch timed out")

// Fetcher downloads and parses feeds.
type Fetcher struct {
	client *httpclient.Client
	parser *gofeed.Parser
	window time.Duration
	now    func() time.Time
}

// NewFetcher builds a fetcher. window is the nominal scheduling interval used
// to compute entry expiry.
func NewFetcher(timeout, window time.Duration, userAgent string) *Fetcher {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Fetcher{
		client: httpclient.New(timeout, userAgent),
		parser: gofeed.NewParser(),
		window: window,
		now:    time.Now,
	}
}

// Fetch downloads one feed and returns its normalized entries. A timeout is
// reported as ErrTimeout.
func (f *Fetcher) Fetch(ctx context.Context, fc models.FeedConfig) ([]models.Entry, error) {
	ctx, cancel := context.WithTimeout(ctx, f.client.GetTimeout())
	defer cancel()

	feed, err := f.parse(ctx, fc.URL)
	if err != nil {
		if isTimeout(err) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: %s: %v", ErrTimeout, fc.URL, err)
		}
		return nil, fmt.Errorf("fetch %s: %w", fc.URL, err)
	}
	return Normalize(feed, fc, f.now(), f.window), nil
}

func (f *Fetcher) parse(ctx context.Context, url string) (*gofeed.Feed, error) {
	resp, err := f.client.Get(ctx, url, map[string]string{
		"Accept": "application/rss+xml, application/atom+xml, application/xml;q=0.9, */*;q=0.8",
	})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP %d", resp.StatusCode)
	}
	return f.parser.Parse(resp.Body)
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// Normalize converts parsed feed items into entries, dropping items without a
// title and repeated ids within the feed.
func Normalize(feed *gofeed.Feed, fc models.FeedConfig, now time.Time, window time.Duration) []models.Entry {
	if feed == nil {
		return nil
	}
	expire := models.ExpireAt(now, window)
	seen := make(map[string]struct{}, len(feed.Items))
	out := make([]models.Entry, 0, len(feed.Items))
	for _, it := range feed.Items {
		if it == nil {
			continue
		}
		title := Title(it.Title)
		if title == "" {
			continue
		}
		id := models.EntryID(fc.Source, title)
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}

		link := strings.TrimSpace(it.Link)
		summary := CleanText(firstNonEmpty(it.Description, it.Content))
		if summary == "" {
			summary = title
		}
		out = append(out, models.Entry{
			ID:          id,
			Title:       title,
			Summary:     summary,
			Link:        link,
			PublishedAt: PublishedAt(it, now),
			Source:      fc.Source,
			Category:    fc.Category,
			Message:     models.Message(title, link),
			ExpireAt:    expire,
		})
	}
	return out
}

func firstNonEmpty(ss ...string) string {
	for _, s := range ss {
		if strings.TrimSpace(s) != "" {
			return s
		}
	}
	return ""
}
