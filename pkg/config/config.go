// Package config loads scraper settings from a .env file and the process
// environment.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/Sternrassler/lemana-scraper/pkg/client"
	"github.com/Sternrassler/lemana-scraper/pkg/logging"
	"github.com/Sternrassler/lemana-scraper/pkg/pagination"
	"github.com/Sternrassler/lemana-scraper/pkg/ratelimit"
	"github.com/ilyakaznacheev/cleanenv"
)

// DefaultFile is read when no path is given and it exists in the working
// directory.
const DefaultFile = "headers.config.env"

// Config is the root scraper configuration.
// Source priority:
//  1. explicit path passed to Load;
//  2. the CONFIG_PATH environment variable;
//  3. ./headers.config.env;
//  4. environment variables only.
//
// Keys from a file are exported to the process environment before it is
// read, so a file value wins over an already set variable.
type Config struct {
	Identity  IdentityConfig
	Search    SearchConfig
	Scrape    ScrapeConfig
	RateLimit RateLimitConfig
	Redis     RedisConfig
	Log       LogConfig
	Metrics   MetricsConfig
}

// IdentityConfig holds the credentials and mobile client identity headers.
type IdentityConfig struct {
	APIKey          string `env:"APIKEY"            env-required:"true"`
	MobilePlatform  string `env:"MOBILE_PLATFORM"   env-required:"true"`
	UserID          string `env:"USER_ID"           env-required:"true"`
	AppVersion      string `env:"APP_VERSION"       env-required:"true"`
	MobileVersion   string `env:"MOBILE_VERSION"    env-required:"true"`
	MobileVersionOS string `env:"MOBILE_VERSION_OS" env-required:"true"`
	MobileBuild     string `env:"MOBILE_BUILD"      env-required:"true"`
}

// SearchConfig controls the search request.
type SearchConfig struct {
	URL           string        `env:"SEARCH_URL"     env-default:"https://mobile.api-lmn.ru/mobile/v2/search"`
	Timeout       time.Duration `env:"HTTP_TIMEOUT"   env-default:"30s"`
	OnlyAvailable bool          `env:"ONLY_AVAILABLE" env-default:"true"`
	ShowServices  bool          `env:"SHOW_SERVICES"  env-default:"false"`
	ShowFacets    bool          `env:"SHOW_FACETS"    env-default:"false"`
}

// ScrapeConfig controls pacing and output of the pagination loop.
type ScrapeConfig struct {
	OutputFile      string        `env:"OUTPUT_FILE"      env-default:"lemana_positions.csv"`
	CheckpointFile  string        `env:"CHECKPOINT_FILE"  env-default:"checkpoint.json"`
	TimeoutRetries  int           `env:"TIMEOUT_RETRIES"  env-default:"3"`
	TimeoutCooldown time.Duration `env:"TIMEOUT_COOLDOWN" env-default:"20s"`
	MaxJitter       time.Duration `env:"MAX_JITTER"       env-default:"10s"`
	// Number of recent article ids remembered to drop repeats; 0 disables.
	DedupeWindow int `env:"DEDUPE_WINDOW" env-default:"0"`
}

// RateLimitConfig sets when the scraper cools down.
type RateLimitConfig struct {
	Threshold int           `env:"RATE_LIMIT_THRESHOLD" env-default:"5000"`
	Pad       time.Duration `env:"RATE_LIMIT_PAD"       env-default:"10s"`
}

// RedisConfig enables the shared rate limit store when URL is set.
type RedisConfig struct {
	URL string `env:"REDIS_URL"`
}

// LogConfig controls logger output.
type LogConfig struct {
	Level  string `env:"LOG_LEVEL"  env-default:"info"`
	Pretty bool   `env:"LOG_PRETTY" env-default:"false"`
}

// MetricsConfig enables the Prometheus endpoint when Addr is set.
type MetricsConfig struct {
	Addr string `env:"METRICS_ADDR"`
}

// MustLoad wraps Load and panics on error.
func MustLoad(path string) *Config {
	cfg, err := Load(path)
	if err != nil {
		panic(err)
	}
	return cfg
}

// Load reads the configuration by priority: explicit path, CONFIG_PATH,
// ./headers.config.env, then the environment alone.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv("CONFIG_PATH")
	}
	if path == "" {
		if _, err := os.Stat(DefaultFile); err == nil {
			path = DefaultFile
		}
	}

	var cfg Config
	if path != "" {
		if _, err := os.Stat(path); err != nil {
			return nil, fmt.Errorf("config file does not exist: %s", path)
		}
		if err := cleanenv.ReadConfig(path, &cfg); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	} else if err := cleanenv.ReadEnv(&cfg); err != nil {
		return nil, fmt.Errorf("config not found: provide -config, CONFIG_PATH, %s or env vars: %w", DefaultFile, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks value ranges. Required keys are enforced while reading.
func (c *Config) Validate() error {
	if err := c.ClientIdentity().Validate(); err != nil {
		return err
	}
	if c.Search.URL == "" {
		return fmt.Errorf("SEARCH_URL cannot be empty")
	}
	if c.Search.Timeout <= 0 {
		return fmt.Errorf("HTTP_TIMEOUT must be positive (got %s)", c.Search.Timeout)
	}
	if c.Scrape.OutputFile == "" {
		return fmt.Errorf("OUTPUT_FILE cannot be empty")
	}
	if c.Scrape.TimeoutRetries < 0 {
		return fmt.Errorf("TIMEOUT_RETRIES cannot be negative (got %d)", c.Scrape.TimeoutRetries)
	}
	if c.Scrape.TimeoutCooldown < 0 {
		return fmt.Errorf("TIMEOUT_COOLDOWN cannot be negative (got %s)", c.Scrape.TimeoutCooldown)
	}
	if c.Scrape.MaxJitter < 0 {
		return fmt.Errorf("MAX_JITTER cannot be negative (got %s)", c.Scrape.MaxJitter)
	}
	if c.Scrape.DedupeWindow < 0 {
		return fmt.Errorf("DEDUPE_WINDOW cannot be negative (got %d)", c.Scrape.DedupeWindow)
	}
	if c.RateLimit.Threshold < 0 {
		return fmt.Errorf("RATE_LIMIT_THRESHOLD cannot be negative (got %d)", c.RateLimit.Threshold)
	}
	if c.RateLimit.Pad < 0 {
		return fmt.Errorf("RATE_LIMIT_PAD cannot be negative (got %s)", c.RateLimit.Pad)
	}
	switch logging.LogLevel(strings.ToLower(c.Log.Level)) {
	case logging.LevelDebug, logging.LevelInfo, logging.LevelWarn, logging.LevelError:
	default:
		return fmt.Errorf("LOG_LEVEL must be one of debug, info, warn, error (got %q)", c.Log.Level)
	}
	return nil
}

// ClientIdentity returns the identity headers for the search client.
func (c *Config) ClientIdentity() client.Identity {
	return client.Identity{
		APIKey:          c.Identity.APIKey,
		MobilePlatform:  c.Identity.MobilePlatform,
		UserID:          c.Identity.UserID,
		AppVersion:      c.Identity.AppVersion,
		MobileVersion:   c.Identity.MobileVersion,
		MobileVersionOS: c.Identity.MobileVersionOS,
		MobileBuild:     c.Identity.MobileBuild,
	}
}

// ClientConfig returns the search client configuration.
func (c *Config) ClientConfig() client.Config {
	cfg := client.DefaultConfig(c.ClientIdentity())
	cfg.Endpoint = c.Search.URL
	cfg.Timeout = c.Search.Timeout
	return cfg
}

// SearchOptions returns the request body toggles.
func (c *Config) SearchOptions() client.SearchOptions {
	return client.SearchOptions{
		OnlyAvailable: c.Search.OnlyAvailable,
		ShowServices:  c.Search.ShowServices,
		ShowFacets:    c.Search.ShowFacets,
	}
}

// DriverConfig returns the pagination driver settings.
func (c *Config) DriverConfig() pagination.Config {
	return pagination.Config{
		OutputPath:      c.Scrape.OutputFile,
		TimeoutCooldown: c.Scrape.TimeoutCooldown,
		MaxJitter:       c.Scrape.MaxJitter,
		DedupeWindow:    c.Scrape.DedupeWindow,
	}
}

// TrackerConfig returns the rate limit tracker thresholds.
func (c *Config) TrackerConfig() ratelimit.Config {
	return ratelimit.Config{
		Threshold: c.RateLimit.Threshold,
		Pad:       c.RateLimit.Pad,
	}
}

// LoggingConfig returns the logger settings writing to stderr.
func (c *Config) LoggingConfig() logging.Config {
	cfg := logging.DefaultConfig()
	cfg.Level = logging.LogLevel(strings.ToLower(c.Log.Level))
	cfg.Pretty = c.Log.Pretty
	return cfg
}
