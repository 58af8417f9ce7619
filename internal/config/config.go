// Package config loads and validates crawler configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Storage drivers.
const (
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Crawler  CrawlerConfig  `mapstructure:"crawler" json:"crawler"`
	Network  NetworkConfig  `mapstructure:"network" json:"network"`
	Storage  StorageConfig  `mapstructure:"storage" json:"storage"`
	PageRank PageRankConfig `mapstructure:"pagerank" json:"pagerank"`
	Server   ServerConfig   `mapstructure:"server" json:"server"`
	Logging  LoggingConfig  `mapstructure:"logging" json:"logging"`
}

// CrawlerConfig governs frontier, scheduler and worker behavior.
type CrawlerConfig struct {
	SeedURLs             []string      `mapstructure:"seed_urls" json:"seed_urls"`
	MaxPages             int           `mapstructure:"max_pages" json:"max_pages"`
	MaxDepth             int           `mapstructure:"max_depth" json:"max_depth"`
	ConcurrentRequests   int           `mapstructure:"concurrent_requests" json:"concurrent_requests"`
	UserAgent            string        `mapstructure:"user_agent" json:"user_agent"`
	PriorityBoostDomains []string      `mapstructure:"priority_boost_domains" json:"priority_boost_domains"`
	BlockedDomains       []string      `mapstructure:"blocked_domains" json:"blocked_domains"`
	MaxQueueSize         int           `mapstructure:"max_queue_size" json:"max_queue_size"`
	MaxLinksPerPage      int           `mapstructure:"max_links_per_page" json:"max_links_per_page"`
	MaxRequestsPerSecond float64       `mapstructure:"max_requests_per_second" json:"max_requests_per_second"`
	MaxForbidden         int           `mapstructure:"max_forbidden_responses" json:"max_forbidden_responses"`
	PollInterval         time.Duration `mapstructure:"poll_interval" json:"poll_interval"`
	StatsInterval        time.Duration `mapstructure:"stats_interval" json:"stats_interval"`
	ShutdownGrace        time.Duration `mapstructure:"shutdown_grace" json:"shutdown_grace"`
}

// NetworkConfig configures fetching, retries and robots handling.
type NetworkConfig struct {
	RequestTimeout   time.Duration `mapstructure:"request_timeout" json:"request_timeout"`
	RequestDelayMs   int           `mapstructure:"request_delay_ms" json:"request_delay_ms"`
	MaxRetries       int           `mapstructure:"max_retries" json:"max_retries"`
	RetryBackoffBase time.Duration `mapstructure:"retry_backoff_base" json:"retry_backoff_base"`
	RetryBackoffMax  time.Duration `mapstructure:"retry_backoff_max" json:"retry_backoff_max"`
	RespectRobotsTxt bool          `mapstructure:"respect_robots_txt" json:"respect_robots_txt"`
	MaxContentSizeMB int           `mapstructure:"max_content_size_mb" json:"max_content_size_mb"`
	RobotsCacheTTL   time.Duration `mapstructure:"robots_cache_ttl" json:"robots_cache_ttl"`
}

// StorageConfig selects and tunes the persistence backend.
type StorageConfig struct {
	Driver         string `mapstructure:"driver" json:"driver"`
	DatabaseURL    string `mapstructure:"database_url" json:"database_url"`
	MaxConnections int32  `mapstructure:"max_connections" json:"max_connections"`
	AutoMigrate    bool   `mapstructure:"auto_migrate" json:"auto_migrate"`
}

// PageRankConfig tunes the power iteration.
type PageRankConfig struct {
	Damping       float64 `mapstructure:"damping" json:"damping"`
	MaxIterations int     `mapstructure:"max_iterations" json:"max_iterations"`
	Tolerance     float64 `mapstructure:"tolerance" json:"tolerance"`
}

// ServerConfig controls the status HTTP server. An empty addr disables it.
type ServerConfig struct {
	Addr string `mapstructure:"addr" json:"addr"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development" json:"development"`
	Level       string `mapstructure:"level" json:"level"`
}

// Load builds a Config from disk/environment. overrides run after
// unmarshalling and before validation, so command-line flags win.
func Load(path string, overrides ...func(*Config)) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("ANVESHA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	for _, override := range overrides {
		override(&cfg)
	}
	cfg.normalize()

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("crawler.seed_urls", []string{})
	v.SetDefault("crawler.max_pages", 10000)
	v.SetDefault("crawler.max_depth", 3)
	v.SetDefault("crawler.concurrent_requests", 10)
	v.SetDefault("crawler.user_agent", "AnveshaBot/1.0")
	v.SetDefault("crawler.priority_boost_domains", []string{"wikipedia.org", ".edu", ".gov"})
	v.SetDefault("crawler.blocked_domains", []string{})
	v.SetDefault("crawler.max_queue_size", 0)
	v.SetDefault("crawler.max_links_per_page", 1000)
	v.SetDefault("crawler.max_requests_per_second", 0)
	v.SetDefault("crawler.max_forbidden_responses", 3)
	v.SetDefault("crawler.poll_interval", "50ms")
	v.SetDefault("crawler.stats_interval", "10s")
	v.SetDefault("crawler.shutdown_grace", "10s")
	v.SetDefault("network.request_timeout", "30s")
	v.SetDefault("network.request_delay_ms", 1000)
	v.SetDefault("network.max_retries", 3)
	v.SetDefault("network.retry_backoff_base", "500ms")
	v.SetDefault("network.retry_backoff_max", "30s")
	v.SetDefault("network.respect_robots_txt", true)
	v.SetDefault("network.max_content_size_mb", 10)
	v.SetDefault("network.robots_cache_ttl", "1h")
	v.SetDefault("storage.driver", DriverPostgres)
	v.SetDefault("storage.database_url", "")
	v.SetDefault("storage.max_connections", 10)
	v.SetDefault("storage.auto_migrate", true)
	v.SetDefault("pagerank.damping", 0.85)
	v.SetDefault("pagerank.max_iterations", 30)
	v.SetDefault("pagerank.tolerance", 1e-4)
	v.SetDefault("server.addr", "")
	v.SetDefault("logging.development", false)
	v.SetDefault("logging.level", "info")
}

func (c *Config) normalize() {
	c.Storage.Driver = strings.ToLower(strings.TrimSpace(c.Storage.Driver))
	c.Crawler.SeedURLs = compact(c.Crawler.SeedURLs)
	c.Crawler.BlockedDomains = compact(c.Crawler.BlockedDomains)
	c.Crawler.PriorityBoostDomains = compact(c.Crawler.PriorityBoostDomains)
}

// compact splits comma separated entries (env overrides arrive as one string)
// and drops blanks.
func compact(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	var errs []error
	if c.Crawler.MaxPages <= 0 {
		errs = append(errs, errors.New("crawler.max_pages must be > 0"))
	}
	if c.Crawler.MaxDepth < 0 {
		errs = append(errs, errors.New("crawler.max_depth must be >= 0"))
	}
	if c.Crawler.ConcurrentRequests <= 0 {
		errs = append(errs, errors.New("crawler.concurrent_requests must be > 0"))
	}
	if strings.TrimSpace(c.Crawler.UserAgent) == "" {
		errs = append(errs, errors.New("crawler.user_agent must be set"))
	}
	if c.Crawler.MaxQueueSize < 0 {
		errs = append(errs, errors.New("crawler.max_queue_size must be >= 0"))
	}
	if c.Crawler.MaxLinksPerPage <= 0 {
		errs = append(errs, errors.New("crawler.max_links_per_page must be > 0"))
	}
	if c.Crawler.MaxRequestsPerSecond < 0 {
		errs = append(errs, errors.New("crawler.max_requests_per_second must be >= 0"))
	}
	if c.Network.RequestTimeout <= 0 {
		errs = append(errs, errors.New("network.request_timeout must be > 0"))
	}
	if c.Network.RequestDelayMs < 0 {
		errs = append(errs, errors.New("network.request_delay_ms must be >= 0"))
	}
	if c.Network.MaxRetries <= 0 {
		errs = append(errs, errors.New("network.max_retries must be > 0"))
	}
	if c.Network.MaxContentSizeMB <= 0 {
		errs = append(errs, errors.New("network.max_content_size_mb must be > 0"))
	}
	switch c.Storage.Driver {
	case DriverPostgres:
		if strings.TrimSpace(c.Storage.DatabaseURL) == "" {
			errs = append(errs, errors.New("storage.database_url must be set for the postgres driver"))
		}
	case DriverMemory:
	default:
		errs = append(errs, fmt.Errorf("storage.driver %q is not supported", c.Storage.Driver))
	}
	if c.PageRank.Damping <= 0 || c.PageRank.Damping >= 1 {
		errs = append(errs, errors.New("pagerank.damping must be in (0, 1)"))
	}
	if c.PageRank.MaxIterations <= 0 {
		errs = append(errs, errors.New("pagerank.max_iterations must be > 0"))
	}
	if c.PageRank.Tolerance <= 0 {
		errs = append(errs, errors.New("pagerank.tolerance must be > 0"))
	}
	return errors.Join(errs...)
}

// QueueLimit returns the frontier admission cap.
func (c Config) QueueLimit() int {
	if c.Crawler.MaxQueueSize > 0 {
		return c.Crawler.MaxQueueSize
	}
	return 10 * c.Crawler.MaxPages
}

// RequestDelay returns the default per-domain crawl delay. Zero disables
// the gap for domains without a robots crawl-delay.
func (c Config) RequestDelay() time.Duration {
	return time.Duration(c.Network.RequestDelayMs) * time.Millisecond
}

// MaxBodyBytes converts the content size limit to bytes.
func (c Config) MaxBodyBytes() int {
	return c.Network.MaxContentSizeMB * 1024 * 1024
}
