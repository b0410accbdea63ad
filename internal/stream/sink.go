package stream

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/natefinch/lumberjack.v2"
)

// FileSink appends JSON lines to <dir>/<stream>.jsonl, rotated by lumberjack.
type FileSink struct {
	dir        string
	maxSize    int
	maxBackups int

	mu      sync.Mutex
	writers map[string]*lumberjack.Logger
}

func NewFileSink(dir string) (*FileSink, error) {
	if dir == "" {
		return nil, fmt.Errorf("stream file sink: empty directory")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("stream file sink: %w", err)
	}
	return &FileSink{dir: dir, maxSize: 100, maxBackups: 10, writers: map[string]*lumberjack.Logger{}}, nil
}

// Path returns the file backing stream.
func (s *FileSink) Path(stream string) string {
	return filepath.Join(s.dir, stream+".jsonl")
}

func (s *FileSink) Append(_ context.Context, stream, _ string, payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.writers[stream]
	if !ok {
		w = &lumberjack.Logger{
			Filename:   s.Path(stream),
			MaxSize:    s.maxSize,
			MaxBackups: s.maxBackups,
			Compress:   true,
		}
		s.writers[stream] = w
	}
	line := make([]byte, 0, len(payload)+1)
	line = append(line, payload...)
	line = append(line, '\n')
	_, err := w.Write(line)
	return err
}

func (s *FileSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var first error
	for name, w := range s.writers {
		if err := w.Close(); err != nil && first == nil {
			first = err
		}
		delete(s.writers, name)
	}
	return first
}

// EventAppender is the key store call backing TableSink.
type EventAppender interface {
	AppendEvent(ctx context.Context, stream, eventID string, payload []byte) error
}

// TableSink appends events to the key store's stream table. The store is
// owned by the caller and is not closed here.
type TableSink struct {
	store EventAppender
}

func NewTableSink(store EventAppender) *TableSink {
	return &TableSink{store: store}
}

func (s *TableSink) Append(ctx context.Context, stream, eventID string, payload []byte) error {
	return s.store.AppendEvent(ctx, stream, eventID, payload)
}

func (s *TableSink) Close() error { return nil }
