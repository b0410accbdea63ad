// Package relay runs one ingestion pass: fetch every feed, keep the entries
// not seen before, publish them to the stream and notify the webhook.
package relay

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"feedrelay/internal/models"
	"feedrelay/internal/notify"
)

type Fetcher interface {
	Fetch(ctx context.Context, fc models.FeedConfig) ([]models.Entry, error)
}

type Deduper interface {
	Filter(ctx context.Context, candidates []models.Entry) ([]models.Entry, error)
}

type Publisher interface {
	Publish(ctx context.Context, e models.Entry) error
}

type Notifier interface {
	OverCeiling(n int) bool
	SendFallback(ctx context.Context) (int, error)
	Dispatch(ctx context.Context, entries []models.Entry) (notify.Result, error)
}

// Sweeper removes expired records from the entries table.
type Sweeper interface {
	Sweep(ctx context.Context, table string, now time.Time) (int64, error)
}

// Deps are the collaborators of a Relay. Sweeper and Publisher are optional.
type Deps struct {
	Feeds     FeedLoader
	Fetcher   Fetcher
	Dedup     Deduper
	Publisher Publisher
	Notifier  Notifier
	Sweeper   Sweeper
	Table     string // swept when Sweeper is set
}

// Report describes what one Run did.
type Report struct {
	Feeds         int
	FeedsFailed   int
	Candidates    int
	New           int
	Fallback      bool
	Swept         int64
	Published     int
	PublishFailed int
	Delivered     int
	Failed        int
}

type Relay struct {
	deps   Deps
	now    func() time.Time
	logger *zap.Logger
}

func New(deps Deps, logger *zap.Logger) (*Relay, error) {
	switch {
	case deps.Feeds == nil:
		return nil, errors.New("relay: feed loader is required")
	case deps.Fetcher == nil:
		return nil, errors.New("relay: fetcher is required")
	case deps.Dedup == nil:
		return nil, errors.New("relay: dedup engine is required")
	case deps.Notifier == nil:
		return nil, errors.New("relay: notifier is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Relay{deps: deps, now: time.Now, logger: logger.Named("relay")}, nil
}

// Run performs one pass. Feed failures are skipped, store failures abort the
// run, and undelivered notifications yield an error wrapping
// notify.ErrUndelivered after every entry has been attempted.
func (r *Relay) Run(ctx context.Context) (Report, error) {
	var rep Report
	start := r.now()

	if r.deps.Sweeper != nil && r.deps.Table != "" {
		n, err := r.deps.Sweeper.Sweep(ctx, r.deps.Table, start)
		if err != nil {
			r.logger.Warn("sweep failed", zap.Error(err))
		} else {
			rep.Swept = n
		}
	}

	feeds, err := r.deps.Feeds.Load(ctx)
	if err != nil {
		return rep, err
	}
	rep.Feeds = len(feeds)

	var candidates []models.Entry
	for _, fc := range feeds {
		entries, err := r.deps.Fetcher.Fetch(ctx, fc)
		if err != nil {
			rep.FeedsFailed++
			r.logger.Warn("skipping feed", zap.String("url", fc.URL), zap.String("source", fc.Source), zap.Error(err))
			continue
		}
		r.logger.Debug("fetched feed", zap.String("url", fc.URL), zap.Int("entries", len(entries)))
		candidates = append(candidates, entries...)
	}
	rep.Candidates = len(candidates)

	fresh, err := r.deps.Dedup.Filter(ctx, candidates)
	if err != nil {
		return rep, err
	}
	rep.New = len(fresh)
	if len(fresh) == 0 {
		r.logger.Info("no new entries", zap.Int("candidates", rep.Candidates), zap.Int("feeds_failed", rep.FeedsFailed))
		return rep, nil
	}

	if r.deps.Notifier.OverCeiling(len(fresh)) {
		rep.Fallback = true
		r.logger.Warn("volume ceiling reached", zap.Int("new", len(fresh)))
		if _, err := r.deps.Notifier.SendFallback(ctx); err != nil {
			rep.Failed = 1
			return rep, err
		}
		rep.Delivered = 1
		return rep, nil
	}

	if r.deps.Publisher != nil {
		for _, e := range fresh {
			if err := r.deps.Publisher.Publish(ctx, e); err != nil {
				rep.PublishFailed++
				r.logger.Warn("stream publish failed", zap.String("id", e.ID), zap.Error(err))
				continue
			}
			rep.Published++
		}
	}

	res, err := r.deps.Notifier.Dispatch(ctx, fresh)
	rep.Delivered = res.Delivered
	rep.Failed = res.Failed
	r.logger.Info("run complete",
		zap.Int("feeds", rep.Feeds),
		zap.Int("feeds_failed", rep.FeedsFailed),
		zap.Int("new", rep.New),
		zap.Int("published", rep.Published),
		zap.Int("delivered", rep.Delivered),
		zap.Int("failed", rep.Failed),
		zap.Duration("took", r.now().Sub(start)))
	if err != nil {
		return rep, fmt.Errorf("relay: %w", err)
	}
	return rep, nil
}
