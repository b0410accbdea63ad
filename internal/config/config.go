package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"feedrelay/internal/models"
)

// ErrMissingWebhook is returned by Validate when no webhook URL is configured.
var ErrMissingWebhook = errors.New("webhook url is not configured")

type ConfigLoad func() (Config, error)

// Loader returns a ConfigLoad reading path, or the default location when path is empty.
func Loader(path string) ConfigLoad {
	return func() (Config, error) {
		return Load(path)
	}
}

type Config struct {
	Webhook Webhook             `yaml:"webhook"`
	Store   Store               `yaml:"store"`
	Stream  Stream              `yaml:"stream"`
	Fetch   Fetch               `yaml:"fetch"`
	Feeds   []models.FeedConfig `yaml:"feeds,omitempty"`
	Log     Log                 `yaml:"log"`
}

type Webhook struct {
	URL        string   `yaml:"url"`
	SiteURL    string   `yaml:"site_url"`
	Ceiling    int      `yaml:"ceiling"`
	MaxRetries int      `yaml:"max_retries"`
	RetryDelay Duration `yaml:"retry_delay"`
	Pace       Duration `yaml:"pace"`
	Timeout    Duration `yaml:"timeout"` // per POST attempt
}

type Store struct {
	Driver     string `yaml:"driver"` // sqlite|postgres
	DSN        string `yaml:"dsn"`
	Table      string `yaml:"table"`
	FeedsTable string `yaml:"feeds_table"`
	BatchSize  int    `yaml:"batch_size"`
	SweepOnRun bool   `yaml:"sweep_on_run"`
}

type Stream struct {
	Name string `yaml:"name"` // empty disables publishing
	Sink string `yaml:"sink"` // file|table
	Dir  string `yaml:"dir"`
}

type Fetch struct {
	Timeout   Duration `yaml:"timeout"`
	Window    Duration `yaml:"window"`
	UserAgent string   `yaml:"user_agent"`
}

type Log struct {
	Level      string `yaml:"level"`
	File       string `yaml:"file"`
	MaxSize    int    `yaml:"max_size"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAge     int    `yaml:"max_age"`
}

// Duration reads Go duration strings ("3s", "24h") from YAML.
type Duration time.Duration

func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}
	v, err := time.ParseDuration(strings.TrimSpace(s))
	if err != nil {
		return fmt.Errorf("line %d: %w", node.Line, err)
	}
	*d = Duration(v)
	return nil
}

func Default() Config {
	return Config{
		Webhook: Webhook{
			SiteURL:    "https://aws.amazon.com/new",
			Ceiling:    500,
			MaxRetries: 5,
			RetryDelay: Duration(3 * time.Second),
			Pace:       Duration(time.Second),
			Timeout:    Duration(10 * time.Second),
		},
		Store: Store{
			Driver:     "sqlite",
			DSN:        FallbackDBPath(),
			Table:      "entries",
			FeedsTable: "feeds",
			SweepOnRun: true,
		},
		Stream: Stream{
			Sink: "file",
			Dir:  FallbackDataDir(),
		},
		Fetch: Fetch{
			Timeout:   Duration(10 * time.Second),
			Window:    Duration(24 * time.Hour),
			UserAgent: "feedrelay/0.1",
		},
		Log: Log{Level: "info"},
	}
}

// DefaultPath is ~/.config/feedrelay/config.yaml.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "feedrelay", "config.yaml"), nil
}

func FallbackDataDir() string {
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".local", "share", "feedrelay")
	}
	return "."
}

func FallbackDBPath() string {
	return filepath.Join(FallbackDataDir(), "feedrelay.db")
}

// Load reads the YAML file at path over the defaults and applies environment
// overrides. A missing file is not an error.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		p, err := DefaultPath()
		if err == nil {
			path = p
		}
	}
	if path != "" {
		b, err := os.ReadFile(ExpandPath(path))
		switch {
		case err == nil:
			if err := yaml.Unmarshal(b, &cfg); err != nil {
				return Config{}, fmt.Errorf("parse %s: %w", path, err)
			}
		case errors.Is(err, os.ErrNotExist):
		default:
			return Config{}, err
		}
	}
	applyEnv(&cfg)
	cfg.normalize()
	return cfg, nil
}

func applyEnv(cfg *Config) {
	cfg.Webhook.URL = getenv(cfg.Webhook.URL, "FEEDRELAY_WEBHOOK_URL", "BOT_URL")
	cfg.Store.Table = getenv(cfg.Store.Table, "FEEDRELAY_TABLE_NAME", "TABLE_NAME")
	cfg.Store.FeedsTable = getenv(cfg.Store.FeedsTable, "FEEDRELAY_FEEDS_TABLE", "FEEDS_TABLE_NAME")
	cfg.Store.Driver = getenv(cfg.Store.Driver, "FEEDRELAY_STORE_DRIVER")
	cfg.Store.DSN = getenv(cfg.Store.DSN, "FEEDRELAY_STORE_DSN")
	cfg.Log.Level = getenv(cfg.Log.Level, "FEEDRELAY_LOG_LEVEL")
	// An explicitly empty stream name disables publishing.
	if v, ok := lookupenv("FEEDRELAY_STREAM_NAME", "STREAM_NAME"); ok {
		cfg.Stream.Name = strings.TrimSpace(v)
	}
	if v, ok := lookupenv("FEEDRELAY_CEILING"); ok {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Webhook.Ceiling = n
		}
	}
}

func (c *Config) normalize() {
	d := Default()
	c.Store.Driver = strings.ToLower(strings.TrimSpace(c.Store.Driver))
	if c.Store.Driver == "" {
		c.Store.Driver = d.Store.Driver
	}
	if c.Store.Driver == "sqlite" {
		c.Store.DSN = ExpandPath(c.Store.DSN)
	}
	c.Stream.Sink = strings.ToLower(strings.TrimSpace(c.Stream.Sink))
	if c.Stream.Sink == "" {
		c.Stream.Sink = d.Stream.Sink
	}
	c.Stream.Dir = ExpandPath(c.Stream.Dir)
	c.Log.File = ExpandPath(c.Log.File)
	if c.Webhook.Ceiling <= 0 {
		c.Webhook.Ceiling = d.Webhook.Ceiling
	}
	if c.Webhook.MaxRetries < 0 {
		c.Webhook.MaxRetries = 0
	}
	if c.Webhook.Timeout <= 0 {
		c.Webhook.Timeout = d.Webhook.Timeout
	}
	if c.Fetch.Timeout <= 0 {
		c.Fetch.Timeout = d.Fetch.Timeout
	}
	if c.Fetch.Window <= 0 {
		c.Fetch.Window = d.Fetch.Window
	}
}

// Validate checks what a relay run needs beyond the defaults.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Webhook.URL) == "" {
		return ErrMissingWebhook
	}
	switch c.Store.Driver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("unsupported store driver %q", c.Store.Driver)
	}
	switch c.Stream.Sink {
	case "file", "table":
	default:
		return fmt.Errorf("unsupported stream sink %q", c.Stream.Sink)
	}
	return nil
}

func getenv(def string, keys ...string) string {
	if v, ok := lookupenv(keys...); ok && strings.TrimSpace(v) != "" {
		return strings.TrimSpace(v)
	}
	return def
}

func lookupenv(keys ...string) (string, bool) {
	for _, k := range keys {
		if v, ok := os.LookupEnv(k); ok {
			return v, true
		}
	}
	return "", false
}

// ExpandPath expands leading ~ and environment variables in a filesystem path.
func ExpandPath(p string) string {
	if p == "" {
		return p
	}
	p = os.ExpandEnv(p)
	if strings.HasPrefix(p, "~") {
		if home, err := os.UserHomeDir(); err == nil {
			if p == "~" {
				p = home
			} else if strings.HasPrefix(p, "~/") {
				p = filepath.Join(home, p[2:])
			}
		}
	}
	return p
}
