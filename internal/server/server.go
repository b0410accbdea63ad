package server

import (
	"context"
	"time"

	mcp "github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"feedrelay/internal/list"
	"feedrelay/internal/models"
	"feedrelay/internal/version"
)

// Store is the read side of the key store exposed over MCP.
type Store interface {
	list.Recenter
	ListFeeds(ctx context.Context, table string) ([]models.FeedConfig, error)
}

type ListRecentParams struct {
	Hours          int     `json:"hours"`
	Source         *string `json:"source,omitempty"`
	Limit          *int    `json:"limit,omitempty"`
	IncludeSummary bool    `json:"include_summary"`
}

type ListFeedsParams struct{}

// Handlers serves the MCP tools from one store.
type Handlers struct {
	store      Store
	table      string
	feedsTable string
	static     []models.FeedConfig
	logger     *zap.Logger
}

func NewHandlers(store Store, table, feedsTable string, static []models.FeedConfig, logger *zap.Logger) *Handlers {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handlers{store: store, table: table, feedsTable: feedsTable, static: static, logger: logger.Named("server")}
}

// Run serves the tools on stdio until ctx is done or the client disconnects.
func Run(ctx context.Context, h *Handlers) error {
	server := mcp.NewServer(&mcp.Implementation{Name: "feedrelay", Version: version.Version}, nil)

	mcp.AddTool(server, &mcp.Tool{Name: "list_recent", Description: "List entries relayed recently"}, h.handleListRecent)
	mcp.AddTool(server, &mcp.Tool{Name: "list_feeds", Description: "List the feeds polled by the relay"}, h.handleListFeeds)

	h.logger.Info("mcp server listening on stdio")
	return server.Run(ctx, &mcp.StdioTransport{})
}

type item struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Link        string    `json:"link"`
	Source      string    `json:"source"`
	Category    string    `json:"category,omitempty"`
	PublishedAt time.Time `json:"published_at"`
	ExpireAt    time.Time `json:"expire_at"`
	Summary     string    `json:"summary,omitempty"`
	Preview     string    `json:"summary_preview,omitempty"`
}

func (h *Handlers) handleListRecent(ctx context.Context, req *mcp.CallToolRequest, p ListRecentParams) (*mcp.CallToolResult, any, error) {
	q := list.Query{Hours: p.Hours, Limit: 50}
	if p.Limit != nil && *p.Limit > 0 {
		q.Limit = *p.Limit
	}
	if p.Source != nil {
		q.Source = *p.Source
	}
	rows, err := list.Recent(ctx, h.store, h.table, q)
	if err != nil {
		h.logger.Warn("list_recent failed", zap.Error(err))
		return nil, map[string]any{
			"ok":      false,
			"message": "Query failed while reading the relay store",
			"error":   err.Error(),
			"table":   h.table,
		}, nil
	}
	items := make([]item, 0, len(rows))
	for _, r := range rows {
		it := item{
			ID:          r.ID,
			Title:       r.Title,
			Link:        r.Link,
			Source:      r.Source,
			Category:    r.Category,
			PublishedAt: r.PublishedAt,
			ExpireAt:    time.Unix(r.ExpireAt, 0).UTC(),
		}
		if p.IncludeSummary {
			it.Summary = r.Summary
		} else {
			it.Preview = list.Preview(r.Summary)
		}
		items = append(items, it)
	}
	return nil, map[string]any{"count": len(items), "items": items}, nil
}

func (h *Handlers) handleListFeeds(ctx context.Context, req *mcp.CallToolRequest, _ ListFeedsParams) (*mcp.CallToolResult, any, error) {
	feeds, err := h.store.ListFeeds(ctx, h.feedsTable)
	if err != nil {
		return nil, nil, err
	}
	origin := "table"
	if len(feeds) == 0 {
		origin = "config"
		feeds = h.static
	}
	if len(feeds) == 0 {
		origin = "defaults"
		feeds = models.DefaultFeeds()
	}
	return nil, map[string]any{"count": len(feeds), "origin": origin, "feeds": feeds}, nil
}
