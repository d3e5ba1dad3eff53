// Package config loads and validates scraper configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/JakeFAU/robots-history/internal/archive"
)

// EnvPrefix prefixes every environment override, e.g. ROBOTS_SCRAPE_OUTPUT.
const EnvPrefix = "ROBOTS"

// Config captures all configuration knobs loaded via Viper.
type Config struct {
	Archive   ArchiveConfig   `mapstructure:"archive"`
	Scrape    ScrapeConfig    `mapstructure:"scrape"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	Storage   StorageConfig   `mapstructure:"storage"`
	DB        DBConfig        `mapstructure:"db"`
	PubSub    PubSubConfig    `mapstructure:"pubsub"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// ArchiveConfig points the clients at the Wayback Machine.
type ArchiveConfig struct {
	CDXURL         string        `mapstructure:"cdx_url"`
	ContentURL     string        `mapstructure:"content_url"`
	UserAgent      string        `mapstructure:"user_agent"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// ScrapeConfig describes one scrape invocation.
type ScrapeConfig struct {
	Domains        []string      `mapstructure:"domains"`
	DomainsFile    string        `mapstructure:"domains_file"`
	StartMonth     int           `mapstructure:"start_month"`
	StartYear      int           `mapstructure:"start_year"`
	EndMonth       int           `mapstructure:"end_month"`
	EndYear        int           `mapstructure:"end_year"`
	Output         string        `mapstructure:"output"`
	PaceInterval   time.Duration `mapstructure:"pace_interval"`
	MaxConcurrency int           `mapstructure:"max_concurrency"`
}

// Window converts the month/year bounds into an archive window.
func (s ScrapeConfig) Window() (archive.Window, error) {
	w, err := archive.NewWindow(s.StartYear, s.StartMonth, s.EndYear, s.EndMonth)
	if err != nil {
		return archive.Window{}, fmt.Errorf("scrape window: %w", err)
	}
	return w, nil
}

// RateLimitConfig throttles archive requests per host, on top of pacing.
type RateLimitConfig struct {
	Enabled bool    `mapstructure:"enabled"`
	RPS     float64 `mapstructure:"rps"`
	Burst   int     `mapstructure:"burst"`
}

// StorageConfig sets the content type for written objects.
type StorageConfig struct {
	ContentType string `mapstructure:"content_type"`
}

// DBConfig controls the optional Postgres record store.
type DBConfig struct {
	DSN      string `mapstructure:"dsn"`
	Table    string `mapstructure:"table"`
	MaxConns int32  `mapstructure:"max_conns"`
	// CreateSchema creates the record and run tables on startup when missing.
	CreateSchema bool `mapstructure:"create_schema"`
}

// PubSubConfig holds metadata for run notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// Enabled reports whether Pub/Sub publishing is configured.
func (p PubSubConfig) Enabled() bool {
	return p.ProjectID != "" && p.TopicName != ""
}

// MetricsConfig enables the /metrics and /healthz listener when Addr is set.
type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// Binding maps a config key onto a command-line flag. A flag only overrides
// the file and environment when it was set explicitly.
type Binding struct {
	Key  string
	Flag *pflag.Flag
}

// Load builds a Config from defaults, an optional file, the environment and
// bound flags, in increasing order of precedence.
func Load(path string, bindings ...Binding) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	for _, b := range bindings {
		if b.Flag == nil {
			continue
		}
		if err := v.BindPFlag(b.Key, b.Flag); err != nil {
			return Config{}, fmt.Errorf("bind flag %s: %w", b.Flag.Name, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("archive.cdx_url", archive.DefaultCDXURL)
	v.SetDefault("archive.content_url", archive.DefaultContentURL)
	v.SetDefault("archive.user_agent", "robots-history/1.0 (+https://github.com/JakeFAU/robots-history)")
	v.SetDefault("archive.request_timeout", 30*time.Second)
	v.SetDefault("scrape.domains", []string{})
	v.SetDefault("scrape.domains_file", "")
	v.SetDefault("scrape.start_month", 3)
	v.SetDefault("scrape.start_year", 2025)
	v.SetDefault("scrape.end_month", 4)
	v.SetDefault("scrape.end_year", 2025)
	v.SetDefault("scrape.output", "robots_history.csv")
	v.SetDefault("scrape.pace_interval", 50*time.Millisecond)
	v.SetDefault("scrape.max_concurrency", 0)
	v.SetDefault("rate_limit.enabled", false)
	v.SetDefault("rate_limit.rps", 5.0)
	v.SetDefault("rate_limit.burst", 5)
	v.SetDefault("storage.content_type", "text/csv; charset=utf-8")
	v.SetDefault("db.dsn", "")
	v.SetDefault("db.table", "robots_snapshots")
	v.SetDefault("db.max_conns", 4)
	v.SetDefault("db.create_schema", true)
	v.SetDefault("pubsub.project_id", "")
	v.SetDefault("pubsub.topic_name", "")
	v.SetDefault("metrics.addr", "")
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "")
}

// Validate enforces required values and reasonable limits. Domains are not
// checked here because they may come from a file resolved later.
func (c Config) Validate() error {
	if c.Archive.CDXURL == "" {
		return fmt.Errorf("archive.cdx_url is required")
	}
	if c.Archive.ContentURL == "" {
		return fmt.Errorf("archive.content_url is required")
	}
	if c.Archive.RequestTimeout <= 0 {
		return fmt.Errorf("archive.request_timeout must be > 0")
	}
	if c.Scrape.StartMonth < 1 || c.Scrape.StartMonth > 12 {
		return fmt.Errorf("scrape.start_month must be between 1 and 12")
	}
	if c.Scrape.EndMonth < 1 || c.Scrape.EndMonth > 12 {
		return fmt.Errorf("scrape.end_month must be between 1 and 12")
	}
	if c.Scrape.StartYear <= 0 || c.Scrape.EndYear <= 0 {
		return fmt.Errorf("scrape.start_year and scrape.end_year must be > 0")
	}
	if _, err := c.Scrape.Window(); err != nil {
		return fmt.Errorf("scrape.end_year/end_month must not precede the start: %w", err)
	}
	if c.Scrape.Output == "" {
		return fmt.Errorf("scrape.output is required")
	}
	if c.Scrape.PaceInterval < 0 {
		return fmt.Errorf("scrape.pace_interval must be >= 0")
	}
	if c.Scrape.MaxConcurrency < 0 {
		return fmt.Errorf("scrape.max_concurrency must be >= 0")
	}
	if c.RateLimit.Enabled && c.RateLimit.RPS <= 0 {
		return fmt.Errorf("rate_limit.rps must be > 0 when rate limiting is enabled")
	}
	if c.RateLimit.Enabled && c.RateLimit.Burst <= 0 {
		return fmt.Errorf("rate_limit.burst must be > 0 when rate limiting is enabled")
	}
	if c.DB.DSN != "" && c.DB.MaxConns < 0 {
		return fmt.Errorf("db.max_conns must be >= 0")
	}
	if (c.PubSub.ProjectID == "") != (c.PubSub.TopicName == "") {
		return fmt.Errorf("pubsub.project_id and pubsub.topic_name must be set together")
	}
	return nil
}
