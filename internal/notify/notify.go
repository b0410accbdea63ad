// Package notify delivers new entries to the chat webhook.
package notify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"feedrelay/internal/models"
)

// ErrUndelivered reports that at least one notification was not delivered.
var ErrUndelivered = errors.New("notifications undelivered")

const (
	DefaultCeiling    = 500
	DefaultMaxRetries = 5
	DefaultRetryDelay = 3 * time.Second
	DefaultPace       = time.Second
)

type Options struct {
	Ceiling    int // at or above this many entries only the fallback is sent
	MaxRetries int // retries after the first attempt
	RetryDelay time.Duration
	Pace       time.Duration // wait after each successful delivery
	SiteURL    string        // linked from the fallback message
}

// Result summarizes one Dispatch call.
type Result struct {
	Fallback  bool
	Delivered int
	Failed    int
	Attempts  int
}

type Dispatcher struct {
	poster Poster
	opts   Options
	sleep  func(context.Context, time.Duration) error
	logger *zap.Logger
}

func NewDispatcher(poster Poster, opts Options, logger *zap.Logger) *Dispatcher {
	if opts.Ceiling <= 0 {
		opts.Ceiling = DefaultCeiling
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{poster: poster, opts: opts, sleep: sleepCtx, logger: logger.Named("notify")}
}

// OverCeiling reports whether n new entries should collapse into the fallback.
func (d *Dispatcher) OverCeiling(n int) bool {
	return n >= d.opts.Ceiling
}

// FallbackMessage is sent instead of per-entry messages above the ceiling.
func (d *Dispatcher) FallbackMessage() string {
	if d.opts.SiteURL == "" {
		return "Too many new messages... Check the site."
	}
	return "Too many new messages... Check the site: " + d.opts.SiteURL
}

// SendFallback delivers the single "too many updates" message with retry.
func (d *Dispatcher) SendFallback(ctx context.Context) (int, error) {
	attempts, err := d.deliver(ctx, d.FallbackMessage())
	if err != nil {
		return attempts, fmt.Errorf("%w: fallback: %w", ErrUndelivered, err)
	}
	return attempts, nil
}

// Dispatch sends one message per entry, or the fallback when the count
// reaches the ceiling. Every entry is attempted; failures are combined into
// an error wrapping ErrUndelivered.
func (d *Dispatcher) Dispatch(ctx context.Context, entries []models.Entry) (Result, error) {
	var res Result
	if len(entries) == 0 {
		return res, nil
	}
	if d.OverCeiling(len(entries)) {
		d.logger.Warn("volume ceiling reached, sending fallback", zap.Int("new", len(entries)), zap.Int("ceiling", d.opts.Ceiling))
		res.Fallback = true
		attempts, err := d.SendFallback(ctx)
		res.Attempts = attempts
		if err != nil {
			res.Failed = 1
			return res, err
		}
		res.Delivered = 1
		return res, nil
	}

	var errs error
	for i, e := range entries {
		if ctx.Err() != nil {
			res.Failed += len(entries) - i
			errs = multierr.Append(errs, fmt.Errorf("%d entries not attempted: %w", len(entries)-i, ctx.Err()))
			break
		}
		attempts, err := d.deliver(ctx, e.Message)
		res.Attempts += attempts
		if err != nil {
			res.Failed++
			errs = multierr.Append(errs, fmt.Errorf("%s: %w", e.ID, err))
			d.logger.Error("notification failed", zap.String("id", e.ID), zap.Int("attempts", attempts), zap.Error(err))
			continue
		}
		res.Delivered++
		if i < len(entries)-1 {
			_ = d.sleep(ctx, d.opts.Pace)
		}
	}
	if errs != nil {
		return res, fmt.Errorf("%w (%d of %d): %w", ErrUndelivered, res.Failed, len(entries), errs)
	}
	return res, nil
}

// deliver posts content, retrying up to MaxRetries times.
func (d *Dispatcher) deliver(ctx context.Context, content string) (int, error) {
	var err error
	attempts := 0
	for attempt := 0; attempt <= d.opts.MaxRetries; attempt++ {
		if attempt > 0 {
			if serr := d.sleep(ctx, d.opts.RetryDelay); serr != nil {
				return attempts, multierr.Append(err, serr)
			}
		}
		attempts++
		if err = d.poster.Post(ctx, content); err == nil {
			return attempts, nil
		}
		d.logger.Warn("webhook attempt failed", zap.Int("attempt", attempts), zap.Error(err))
	}
	return attempts, err
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
