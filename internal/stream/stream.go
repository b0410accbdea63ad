// Package stream fans newly discovered entries out to a durable append-only
// sink for downstream consumers.
package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"feedrelay/internal/models"
)

// Event is the JSON payload appended for each new entry.
type Event struct {
	EventID     string    `json:"event_id"`
	Stream      string    `json:"stream"`
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Summary     string    `json:"summary"`
	Link        string    `json:"link"`
	Source      string    `json:"source"`
	Category    string    `json:"category"`
	PublishedAt time.Time `json:"published_at"`
	ExpireAt    int64     `json:"expire_at"`
	Message     string    `json:"message"`
}

// Sink appends one encoded event to the named stream.
type Sink interface {
	Append(ctx context.Context, stream, eventID string, payload []byte) error
	Close() error
}

// Publisher writes entries to a sink under a fixed stream name.
type Publisher struct {
	name  string
	sink  Sink
	newID func() string
}

// NewPublisher returns a publisher for stream name. An empty name or a nil
// sink yields a publisher whose Publish does nothing.
func NewPublisher(name string, sink Sink) *Publisher {
	return &Publisher{name: name, sink: sink, newID: uuid.NewString}
}

// Enabled reports whether Publish writes anything.
func (p *Publisher) Enabled() bool {
	return p != nil && p.name != "" && p.sink != nil
}

func (p *Publisher) Name() string {
	if p == nil {
		return ""
	}
	return p.name
}

// NewEvent builds the event for e without assigning it to a stream.
func NewEvent(eventID, stream string, e models.Entry) Event {
	return Event{
		EventID:     eventID,
		Stream:      stream,
		ID:          e.ID,
		Title:       e.Title,
		Summary:     e.Summary,
		Link:        e.Link,
		Source:      e.Source,
		Category:    e.Category,
		PublishedAt: e.PublishedAt.UTC(),
		ExpireAt:    e.ExpireAt,
		Message:     e.Message,
	}
}

func (p *Publisher) Publish(ctx context.Context, e models.Entry) error {
	if !p.Enabled() {
		return nil
	}
	ev := NewEvent(p.newID(), p.name, e)
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("stream %s: encode %s: %w", p.name, e.ID, err)
	}
	if err := p.sink.Append(ctx, p.name, ev.EventID, payload); err != nil {
		return fmt.Errorf("stream %s: append %s: %w", p.name, e.ID, err)
	}
	return nil
}

func (p *Publisher) Close() error {
	if p == nil || p.sink == nil {
		return nil
	}
	return p.sink.Close()
}
