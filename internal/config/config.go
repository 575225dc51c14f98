// Package config loads the maker configuration: a YAML file, then .env and
// process environment overrides for secrets.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const DefaultPath = "config/maker.yaml"

var ErrInvalid = errors.New("config: invalid")

type Config struct {
	Logging struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"logging"`

	// Scale is the fixed-point price scale (power of ten).
	Scale    int64    `yaml:"scale"`
	Markets  []string `yaml:"markets"`
	Strategy string   `yaml:"strategy"`

	Feed struct {
		// Source is "ws", "fix" or "none".
		Source       string        `yaml:"source"`
		WSURL        string        `yaml:"ws_url"`
		PingInterval time.Duration `yaml:"ping_interval"`
		ReadTimeout  time.Duration `yaml:"read_timeout"`
		FIXSettings  string        `yaml:"fix_settings"`
		FIXDepth     int           `yaml:"fix_depth"`
	} `yaml:"feed"`

	Exchange struct {
		RestURL      string        `yaml:"rest_url"`
		HTTPTimeout  time.Duration `yaml:"http_timeout"`
		BookCacheTTL time.Duration `yaml:"book_cache_ttl"`
		RatePerSec   float64       `yaml:"rate_per_sec"`
		Burst        int           `yaml:"burst"`
		OrderType    string        `yaml:"order_type"`
		// Venue selects the order client: "clob", "fix" or "paper".
		Venue     string `yaml:"venue"`
		DryRun    bool   `yaml:"dry_run"`
		SignerURL string `yaml:"signer_url"`

		APIKey     string `yaml:"api_key"`
		APISecret  string `yaml:"api_secret"`
		Passphrase string `yaml:"passphrase"`
		Address    string `yaml:"address"`
	} `yaml:"exchange"`

	Reconcile struct {
		Interval         time.Duration `yaml:"interval"`
		FetchTimeout     time.Duration `yaml:"fetch_timeout"`
		Parallelism      int           `yaml:"parallelism"`
		DriftAlertLevels int           `yaml:"drift_alert_levels"`
	} `yaml:"reconcile"`

	Sender struct {
		FlushWindow          time.Duration `yaml:"flush_window"`
		MaxInFlightPerMarket int           `yaml:"max_in_flight_per_market"`
		IdleWait             time.Duration `yaml:"idle_wait"`
		SubmitTimeout        time.Duration `yaml:"submit_timeout"`
	} `yaml:"sender"`

	Latency struct {
		Enabled  bool `yaml:"enabled"`
		Capacity int  `yaml:"capacity"`
	} `yaml:"latency"`

	Decision struct {
		MaxBookAge time.Duration `yaml:"max_book_age"`
		QueueSize  int           `yaml:"queue_size"`
	} `yaml:"decision"`

	Storage struct {
		JournalPath string `yaml:"journal_path"`
	} `yaml:"storage"`

	Kafka struct {
		Brokers    []string `yaml:"brokers"`
		OrderTopic string   `yaml:"order_topic"`
		DriftTopic string   `yaml:"drift_topic"`
	} `yaml:"kafka"`

	Notify struct {
		TelegramToken  string        `yaml:"telegram_token"`
		TelegramChatID string        `yaml:"telegram_chat_id"`
		WebhookURL     string        `yaml:"webhook_url"`
		Cooldown       time.Duration `yaml:"cooldown"`
	} `yaml:"notify"`

	Admin struct {
		Addr string `yaml:"addr"`
	} `yaml:"admin"`
}

// Default returns a configuration with every numeric parameter set.
func Default() Config {
	var c Config
	c.Logging.Level = "info"
	c.Logging.Format = "text"
	c.Scale = 1000
	c.Strategy = "watch"

	c.Feed.Source = "ws"
	c.Feed.WSURL = "wss://ws-subscriptions-clob.polymarket.com/ws/market"
	c.Feed.PingInterval = 10 * time.Second
	c.Feed.ReadTimeout = 30 * time.Second
	c.Feed.FIXSettings = "config/quickfix.cfg"

	c.Exchange.RestURL = "https://clob.polymarket.com"
	c.Exchange.HTTPTimeout = 10 * time.Second
	c.Exchange.BookCacheTTL = 500 * time.Millisecond
	c.Exchange.RatePerSec = 10
	c.Exchange.Burst = 5
	c.Exchange.OrderType = "GTC"
	c.Exchange.Venue = "clob"

	c.Reconcile.Interval = 15 * time.Second
	c.Reconcile.FetchTimeout = 5 * time.Second
	c.Reconcile.Parallelism = 4

	c.Sender.FlushWindow = 20 * time.Millisecond
	c.Sender.MaxInFlightPerMarket = 2
	c.Sender.IdleWait = time.Second
	c.Sender.SubmitTimeout = 10 * time.Second

	c.Latency.Enabled = true
	c.Latency.Capacity = 1000

	c.Decision.MaxBookAge = 30 * time.Second
	c.Decision.QueueSize = 1024

	c.Kafka.OrderTopic = "maker.orders"
	c.Kafka.DriftTopic = "maker.drift"

	c.Notify.Cooldown = 5 * time.Minute
	c.Admin.Addr = "127.0.0.1:7071"
	return c
}

// Load reads path over the defaults, applies environment overrides and
// validates. A missing file at DefaultPath is tolerated.
func Load(path string) (*Config, error) {
	if path == "" {
		path = DefaultPath
	}
	cfg := Default()

	raw, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	case errors.Is(err, fs.ErrNotExist) && path == DefaultPath:
	default:
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	overrideWithEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	var errs []error
	bad := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("%w: "+format, append([]any{ErrInvalid}, args...)...))
	}

	if c.Scale <= 0 {
		bad("scale must be positive, got %d", c.Scale)
	}
	switch c.Feed.Source {
	case "ws":
		if !strings.HasPrefix(c.Feed.WSURL, "ws://") && !strings.HasPrefix(c.Feed.WSURL, "wss://") {
			bad("feed.ws_url %q", c.Feed.WSURL)
		}
	case "fix":
		if c.Feed.FIXSettings == "" {
			bad("feed.fix_settings is required for the fix feed")
		}
	case "none":
	default:
		bad("feed.source %q", c.Feed.Source)
	}
	switch c.Exchange.Venue {
	case "clob", "paper":
	case "fix":
		if c.Feed.FIXSettings == "" {
			bad("feed.fix_settings is required for the fix venue")
		}
	default:
		bad("exchange.venue %q", c.Exchange.Venue)
	}
	if c.Exchange.RatePerSec <= 0 || c.Exchange.Burst <= 0 {
		bad("exchange rate limit %v/%d", c.Exchange.RatePerSec, c.Exchange.Burst)
	}
	if c.Exchange.BookCacheTTL < 0 {
		bad("exchange.book_cache_ttl negative")
	}
	if c.Reconcile.Interval <= 0 || c.Reconcile.FetchTimeout <= 0 {
		bad("reconcile interval/fetch_timeout must be positive")
	}
	if c.Reconcile.Parallelism <= 0 {
		bad("reconcile.parallelism must be positive")
	}
	if c.Reconcile.DriftAlertLevels < 0 {
		bad("reconcile.drift_alert_levels negative")
	}
	if c.Sender.FlushWindow <= 0 || c.Sender.IdleWait <= 0 || c.Sender.SubmitTimeout <= 0 {
		bad("sender durations must be positive")
	}
	if c.Sender.MaxInFlightPerMarket <= 0 {
		bad("sender.max_in_flight_per_market must be positive")
	}
	if c.Latency.Capacity <= 0 {
		bad("latency.capacity must be positive")
	}
	if c.Decision.QueueSize <= 0 {
		bad("decision.queue_size must be positive")
	}
	return errors.Join(errs...)
}

// Live reports whether orders reach a real venue.
func (c *Config) Live() bool {
	return !c.Exchange.DryRun && c.Exchange.Venue != "paper"
}
