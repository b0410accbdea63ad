package relay

import (
	"context"
	"fmt"

	"feedrelay/internal/models"
)

// FeedLoader returns the feeds to poll for one run.
type FeedLoader interface {
	Load(ctx context.Context) ([]models.FeedConfig, error)
}

// FeedLister reads the feed configuration table.
type FeedLister interface {
	ListFeeds(ctx context.Context, table string) ([]models.FeedConfig, error)
}

// ConfigFeeds resolves feeds from the feed table, then the configuration
// file, then the built-in defaults. The first non-empty source wins.
type ConfigFeeds struct {
	Store  FeedLister // optional
	Table  string
	Static []models.FeedConfig
}

func (c ConfigFeeds) Load(ctx context.Context) ([]models.FeedConfig, error) {
	if c.Store != nil && c.Table != "" {
		feeds, err := c.Store.ListFeeds(ctx, c.Table)
		if err != nil {
			return nil, fmt.Errorf("load feeds from %s: %w", c.Table, err)
		}
		if len(feeds) > 0 {
			return feeds, nil
		}
	}
	var out []models.FeedConfig
	for _, f := range c.Static {
		if f.URL == "" || f.Source == "" {
			continue
		}
		out = append(out, f)
	}
	if len(out) > 0 {
		return out, nil
	}
	return models.DefaultFeeds(), nil
}
