// Package dedup decides which entries are new and records them as seen.
package dedup

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"feedrelay/internal/models"
)

// Store is the part of the key store the engine needs.
type Store interface {
	BatchGet(ctx context.Context, table string, ids []string) ([]string, error)
	BatchPut(ctx context.Context, table string, entries []models.Entry) error
	MaxBatchSize() int
}

// Engine filters candidate entries against the store.
type Engine struct {
	store     Store
	table     string
	batchSize int
	logger    *zap.Logger
}

// New returns an engine over table. batchSize <= 0, or above the store's
// limit, uses the store's limit.
func New(store Store, table string, batchSize int, logger *zap.Logger) *Engine {
	limit := store.MaxBatchSize()
	if batchSize <= 0 || (limit > 0 && batchSize > limit) {
		batchSize = limit
	}
	if batchSize <= 0 {
		batchSize = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{store: store, table: table, batchSize: batchSize, logger: logger.Named("dedup")}
}

// Filter returns the entries never seen before, in first-occurrence order,
// after persisting them. Any store error aborts the whole call.
func (e *Engine) Filter(ctx context.Context, candidates []models.Entry) ([]models.Entry, error) {
	unique := Unique(candidates)
	if len(unique) == 0 {
		return nil, nil
	}

	ids := make([]string, len(unique))
	for i, c := range unique {
		ids[i] = c.ID
	}

	present := make(map[string]struct{})
	idChunks := chunk(ids, e.batchSize)
	for i, part := range idChunks {
		found, err := e.store.BatchGet(ctx, e.table, part)
		if err != nil {
			return nil, fmt.Errorf("dedup: probe batch %d/%d: %w", i+1, len(idChunks), err)
		}
		for _, id := range found {
			present[id] = struct{}{}
		}
		e.logger.Debug("probe batch", zap.Int("batch", i+1), zap.Int("keys", len(part)), zap.Int("found", len(found)))
	}

	missing := Missing(unique, present)
	putChunks := chunk(missing, e.batchSize)
	for i, part := range putChunks {
		if err := e.store.BatchPut(ctx, e.table, part); err != nil {
			return nil, fmt.Errorf("dedup: persist batch %d/%d: %w", i+1, len(putChunks), err)
		}
		e.logger.Debug("persist batch", zap.Int("batch", i+1), zap.Int("items", len(part)))
	}

	e.logger.Info("dedup complete",
		zap.Int("candidates", len(candidates)),
		zap.Int("unique", len(unique)),
		zap.Int("known", len(present)),
		zap.Int("new", len(missing)),
		zap.Int("probe_calls", len(idChunks)),
		zap.Int("persist_calls", len(putChunks)),
	)
	return missing, nil
}

// Unique drops entries whose id already appeared earlier in the slice.
func Unique(entries []models.Entry) []models.Entry {
	seen := make(map[string]struct{}, len(entries))
	out := make([]models.Entry, 0, len(entries))
	for _, en := range entries {
		if _, ok := seen[en.ID]; ok {
			continue
		}
		seen[en.ID] = struct{}{}
		out = append(out, en)
	}
	return out
}

// Missing returns the candidates whose id is not in present.
func Missing(candidates []models.Entry, present map[string]struct{}) []models.Entry {
	out := make([]models.Entry, 0, len(candidates))
	for _, c := range candidates {
		if _, ok := present[c.ID]; !ok {
			out = append(out, c)
		}
	}
	return out
}

func chunk[T any](items []T, size int) [][]T {
	if len(items) == 0 {
		return nil
	}
	out := make([][]T, 0, (len(items)+size-1)/size)
	for start := 0; start < len(items); start += size {
		end := min(start+size, len(items))
		out = append(out, items[start:end])
	}
	return out
}
