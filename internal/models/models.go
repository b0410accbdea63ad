package models

import (
	"strings"
	"time"
)

// TTLWindows is how many fetch windows a persisted entry stays known.
const TTLWindows = 36

// FeedConfig identifies one feed to poll.
type FeedConfig struct {
	URL      string `json:"url" yaml:"url"`
	Source   string `json:"source" yaml:"source"`
	Category string `json:"category" yaml:"category"`
}

// Entry is a normalized feed item, keyed by ID in the dedup store.
type Entry struct {
	ID          string
	Title       string
	Summary     string
	Link        string
	PublishedAt time.Time
	Source      string
	Category    string
	Message     string
	ExpireAt    int64 // unix seconds
}

// EntryID derives the dedup key from the feed source and the entry title.
func EntryID(source, title string) string {
	return source + ":" + strings.ToLower(strings.TrimSpace(title))
}

// Message renders the default notification line for an entry.
func Message(title, link string) string {
	return title + ": " + link
}

// ExpireAt returns the TTL timestamp for an entry created at now.
func ExpireAt(now time.Time, window time.Duration) int64 {
	if window <= 0 {
		window = time.Second
	}
	return now.Add(TTLWindows * window).Unix()
}

// DefaultFeeds is used when no feed configuration is stored or configured.
func DefaultFeeds() []FeedConfig {
	return []FeedConfig{
		{URL: "https://aws.amazon.com/new/feed/", Source: "aws", Category: "whats-new"},
		{URL: "https://aws.amazon.com/blogs/aws/feed/", Source: "aws-blog", Category: "blog"},
		{URL: "https://aws.amazon.com/security/security-bulletins/feed/", Source: "aws-security", Category: "security"},
	}
}
