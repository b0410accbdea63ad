package main

import (
	"context"
	"fmt"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"feedrelay/internal/config"
	"feedrelay/internal/dedup"
	"feedrelay/internal/keystore"
	"feedrelay/internal/logging"
	"feedrelay/internal/notify"
	"feedrelay/internal/relay"
	"feedrelay/internal/source"
	"feedrelay/internal/stream"
)

// env is what every command works against: config, logger and an open store.
type env struct {
	cfg    config.Config
	logger *zap.Logger
	store  *keystore.SQLStore

	closers []func() error
}

func setup(ctx context.Context, cfg config.Config) (*env, error) {
	logger, closeLog, err := logging.New(logging.Options{
		Level:      cfg.Log.Level,
		File:       cfg.Log.File,
		MaxSize:    cfg.Log.MaxSize,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAge:     cfg.Log.MaxAge,
	})
	if err != nil {
		return nil, err
	}
	e := &env{cfg: cfg, logger: logger, closers: []func() error{closeLog}}

	store, err := keystore.Open(ctx, cfg.Store.Driver, cfg.Store.DSN)
	if err != nil {
		_ = e.Close()
		return nil, fmt.Errorf("open %s store: %w", cfg.Store.Driver, err)
	}
	e.closers = append(e.closers, store.Close)
	store.SetBatchSize(cfg.Store.BatchSize)
	if err := store.Ensure(ctx, keystore.Tables{Entries: cfg.Store.Table, Feeds: cfg.Store.FeedsTable}); err != nil {
		_ = e.Close()
		return nil, fmt.Errorf("prepare store: %w", err)
	}
	e.store = store
	return e, nil
}

// Close releases resources in reverse order of acquisition.
func (e *env) Close() error {
	var err error
	for i := len(e.closers) - 1; i >= 0; i-- {
		err = multierr.Append(err, e.closers[i]())
	}
	e.closers = nil
	return err
}

func (e *env) publisher() (*stream.Publisher, error) {
	if e.cfg.Stream.Name == "" {
		return stream.NewPublisher("", nil), nil
	}
	var sink stream.Sink
	switch e.cfg.Stream.Sink {
	case "table":
		sink = stream.NewTableSink(e.store)
	default:
		fs, err := stream.NewFileSink(e.cfg.Stream.Dir)
		if err != nil {
			return nil, err
		}
		sink = fs
	}
	p := stream.NewPublisher(e.cfg.Stream.Name, sink)
	e.closers = append(e.closers, p.Close)
	return p, nil
}

func (e *env) relay() (*relay.Relay, error) {
	cfg := e.cfg
	pub, err := e.publisher()
	if err != nil {
		return nil, err
	}
	hook := notify.NewWebhook(cfg.Webhook.URL, cfg.Webhook.Timeout.Std(), cfg.Fetch.UserAgent)
	dispatcher := notify.NewDispatcher(hook, notify.Options{
		Ceiling:    cfg.Webhook.Ceiling,
		MaxRetries: cfg.Webhook.MaxRetries,
		RetryDelay: cfg.Webhook.RetryDelay.Std(),
		Pace:       cfg.Webhook.Pace.Std(),
		SiteURL:    cfg.Webhook.SiteURL,
	}, e.logger)

	deps := relay.Deps{
		Feeds:     relay.ConfigFeeds{Store: e.store, Table: cfg.Store.FeedsTable, Static: cfg.Feeds},
		Fetcher:   source.NewFetcher(cfg.Fetch.Timeout.Std(), cfg.Fetch.Window.Std(), cfg.Fetch.UserAgent),
		Dedup:     dedup.New(e.store, cfg.Store.Table, cfg.Store.BatchSize, e.logger),
		Publisher: pub,
		Notifier:  dispatcher,
	}
	if cfg.Store.SweepOnRun {
		deps.Sweeper = e.store
		deps.Table = cfg.Store.Table
	}
	return relay.New(deps, e.logger.With(zap.String("store", e.store.Driver()), zap.String("table", cfg.Store.Table)))
}
