package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/urfave/cli/v3"
	"go.uber.org/zap"

	"feedrelay/internal/config"
	"feedrelay/internal/launchd"
	"feedrelay/internal/list"
	"feedrelay/internal/models"
	"feedrelay/internal/server"
	"feedrelay/internal/version"
)

func main() {
	app := &cli.Command{
		Name:    "feedrelay",
		Usage:   "Relay new feed entries to a chat webhook",
		Version: version.Version,
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Aliases: []string{"c"}, Usage: "config file (default ~/.config/feedrelay/config.yaml)"},
		},
		Commands: []*cli.Command{
			{
				Name:   "run",
				Usage:  "Run one ingestion pass and exit",
				Action: runAction,
			},
			{
				Name:  "init",
				Usage: "Write a default configuration file",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "force", Usage: "overwrite an existing file (a backup is kept)"},
				},
				Action: initAction,
			},
			{
				Name:  "feeds",
				Usage: "Manage the feed table",
				Commands: []*cli.Command{
					{
						Name:   "list",
						Usage:  "List the feeds a run would poll",
						Action: feedsListAction,
					},
					{
						Name:  "add",
						Usage: "Add or update a feed",
						Flags: []cli.Flag{
							&cli.StringFlag{Name: "url", Required: true, Usage: "feed URL"},
							&cli.StringFlag{Name: "source", Required: true, Usage: "source name, part of the dedup key"},
							&cli.StringFlag{Name: "category", Usage: "category label"},
						},
						Action: feedsAddAction,
					},
					{
						Name:      "remove",
						Usage:     "Remove a feed by URL",
						Arguments: []cli.Argument{&cli.StringArg{Name: "url", UsageText: "url"}},
						Action:    feedsRemoveAction,
					},
				},
			},
			{
				Name:  "list",
				Usage: "List relayed entries",
				Flags: []cli.Flag{
					&cli.IntFlag{Name: "hours", Usage: "Time window in hours (default: 24)", Value: 24},
				},
				Action: func(ctx context.Context, c *cli.Command) error {
					return withEnv(ctx, c, func(e *env) error {
						return list.Run(ctx, os.Stdout, e.store, e.cfg.Store.Table, c.Int("hours"))
					})
				},
			},
			{
				Name:  "sweep",
				Usage: "Delete expired entries",
				Action: func(ctx context.Context, c *cli.Command) error {
					return withEnv(ctx, c, func(e *env) error {
						n, err := e.store.Sweep(ctx, e.cfg.Store.Table, time.Now())
						if err != nil {
							return err
						}
						fmt.Printf("Removed %d expired entries from %s\n", n, e.cfg.Store.Table)
						return nil
					})
				},
			},
			{
				Name:  "server",
				Usage: "Run MCP server on stdio",
				Action: func(ctx context.Context, c *cli.Command) error {
					return withEnv(ctx, c, func(e *env) error {
						h := server.NewHandlers(e.store, e.cfg.Store.Table, e.cfg.Store.FeedsTable, e.cfg.Feeds, e.logger)
						return server.Run(ctx, h)
					})
				},
			},
			{
				Name:  "schedule",
				Usage: "Manage the launchd agent that invokes run (macOS)",
				Commands: []*cli.Command{
					{
						Name:  "install",
						Usage: "Install and load the launchd agent",
						Flags: []cli.Flag{
							&cli.StringFlag{Name: "label", Value: launchd.DefaultLabel, Usage: "launchd label"},
							&cli.DurationFlag{Name: "interval", Usage: "run interval (default: the configured fetch window)"},
							&cli.StringFlag{Name: "log-file", Usage: "stdout/stderr of scheduled runs"},
							&cli.StringFlag{Name: "plist", Usage: "custom plist path (default ~/Library/LaunchAgents/<label>.plist)"},
						},
						Action: scheduleInstallAction,
					},
					{
						Name:  "uninstall",
						Usage: "Unload and remove the launchd agent",
						Flags: []cli.Flag{
							&cli.StringFlag{Name: "label", Value: launchd.DefaultLabel, Usage: "launchd label"},
							&cli.StringFlag{Name: "plist", Usage: "path to plist (default ~/Library/LaunchAgents/<label>.plist)"},
						},
						Action: func(ctx context.Context, c *cli.Command) error {
							if err := launchd.Uninstall(c.String("label"), c.String("plist")); err != nil {
								return err
							}
							fmt.Println("launchd agent unloaded and removed")
							return nil
						},
					},
					{
						Name:  "status",
						Usage: "Show whether the launchd agent is loaded",
						Flags: []cli.Flag{
							&cli.StringFlag{Name: "label", Value: launchd.DefaultLabel, Usage: "launchd label"},
						},
						Action: scheduleStatusAction,
					},
				},
			},
			{
				Name:  "version",
				Usage: "Print the version",
				Action: func(ctx context.Context, c *cli.Command) error {
					fmt.Println(version.GetVersion())
					return nil
				},
			},
		},
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := app.Run(ctx, os.Args); err != nil {
		stop()
		log.Fatal(err)
	}
}

func loadConfig(c *cli.Command) (config.Config, error) {
	cfg, err := config.Loader(c.String("config"))()
	if err != nil {
		return config.Config{}, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

func withEnv(ctx context.Context, c *cli.Command, fn func(*env) error) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	e, err := setup(ctx, cfg)
	if err != nil {
		return err
	}
	defer e.Close()
	return fn(e)
}

func runAction(ctx context.Context, c *cli.Command) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		if errors.Is(err, config.ErrMissingWebhook) {
			return fmt.Errorf("%w: set webhook.url or FEEDRELAY_WEBHOOK_URL", err)
		}
		return err
	}
	e, err := setup(ctx, cfg)
	if err != nil {
		return err
	}
	defer e.Close()

	r, err := e.relay()
	if err != nil {
		return err
	}
	rep, err := r.Run(ctx)
	if err != nil {
		e.logger.Error("run failed", zap.Error(err), zap.Int("new", rep.New), zap.Int("failed", rep.Failed))
		return err
	}
	return nil
}

func initAction(ctx context.Context, c *cli.Command) error {
	path := c.String("config")
	if path == "" {
		p, err := config.DefaultPath()
		if err != nil {
			return err
		}
		path = p
	}
	if _, err := os.Stat(config.ExpandPath(path)); err == nil && !c.Bool("force") {
		return fmt.Errorf("%s already exists (use --force to overwrite)", path)
	}
	cfg := config.Default()
	cfg.Feeds = models.DefaultFeeds()
	if err := config.Save(cfg, path); err != nil {
		return err
	}
	fmt.Printf("Configuration written to %s\n", path)
	fmt.Println("Set webhook.url (or FEEDRELAY_WEBHOOK_URL) before running 'feedrelay run'.")
	return nil
}

func feedsListAction(ctx context.Context, c *cli.Command) error {
	return withEnv(ctx, c, func(e *env) error {
		stored, err := e.store.ListFeeds(ctx, e.cfg.Store.FeedsTable)
		if err != nil {
			return err
		}
		feeds, origin := stored, "table "+e.cfg.Store.FeedsTable
		if len(feeds) == 0 {
			feeds, origin = e.cfg.Feeds, "config file"
		}
		if len(feeds) == 0 {
			feeds, origin = models.DefaultFeeds(), "built-in defaults"
		}
		fmt.Printf("Feeds from %s:\n\n", origin)
		tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "SOURCE\tCATEGORY\tURL")
		for _, f := range feeds {
			fmt.Fprintf(tw, "%s\t%s\t%s\n", f.Source, f.Category, f.URL)
		}
		return tw.Flush()
	})
}

func feedsAddAction(ctx context.Context, c *cli.Command) error {
	f := models.FeedConfig{
		URL:      strings.TrimSpace(c.String("url")),
		Source:   strings.TrimSpace(c.String("source")),
		Category: strings.TrimSpace(c.String("category")),
	}
	return withEnv(ctx, c, func(e *env) error {
		if err := e.store.AddFeed(ctx, e.cfg.Store.FeedsTable, f); err != nil {
			return err
		}
		fmt.Printf("Feed %s saved as source %q\n", f.URL, f.Source)
		return nil
	})
}

func feedsRemoveAction(ctx context.Context, c *cli.Command) error {
	url := strings.TrimSpace(c.StringArg("url"))
	if url == "" {
		return errors.New("feed url required")
	}
	return withEnv(ctx, c, func(e *env) error {
		n, err := e.store.RemoveFeed(ctx, e.cfg.Store.FeedsTable, url)
		if err != nil {
			return err
		}
		if n == 0 {
			fmt.Printf("No feed with URL %s\n", url)
			return nil
		}
		fmt.Printf("Feed %s removed\n", url)
		return nil
	})
}

func scheduleInstallAction(ctx context.Context, c *cli.Command) error {
	exe, _ := os.Executable()
	if strings.TrimSpace(exe) == "" {
		return fmt.Errorf("cannot discover program path")
	}
	interval := c.Duration("interval")
	if interval <= 0 {
		cfg, err := loadConfig(c)
		if err != nil {
			return err
		}
		interval = cfg.Fetch.Window.Std()
	}
	args := []string{"run"}
	if v := strings.TrimSpace(c.String("config")); v != "" {
		args = append([]string{"--config", config.ExpandPath(v)}, args...)
	}
	path, err := launchd.Install(launchd.InstallOptions{
		Label:       c.String("label"),
		Interval:    interval,
		ProgramPath: exe,
		ProgramArgs: args,
		LogPath:     config.ExpandPath(c.String("log-file")),
		PlistPath:   c.String("plist"),
	})
	if err != nil {
		return err
	}
	fmt.Printf("launchd agent installed and loaded: %s (every %s)\n", path, interval)
	return nil
}

func scheduleStatusAction(ctx context.Context, c *cli.Command) error {
	label := c.String("label")
	loaded, state := launchd.Status(label)
	fmt.Printf("%s: %s\n", label, state)
	if !loaded {
		return nil
	}
	if path, err := launchd.DefaultAgentPath(label); err == nil {
		if d, err := launchd.Interval(path); err == nil {
			fmt.Printf("interval: %s\n", d)
		}
	}
	return nil
}
