// Package config handles medifind configuration from YAML files and the
// environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level medifind configuration.
type Config struct {
	Addr      string          `yaml:"addr"`
	LogDB     string          `yaml:"log_db"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Cache     CacheConfig     `yaml:"cache"`
	Results   ResultsConfig   `yaml:"results"`
	HTTP      HTTPConfig      `yaml:"http"`
	Browser   BrowserConfig   `yaml:"browser"`
	Warm      WarmConfig      `yaml:"warm"`
	Sources   []SourceConfig  `yaml:"sources"`
}

// SchedulerConfig bounds the fan-out to sources.
type SchedulerConfig struct {
	LightConcurrency int           `yaml:"light_concurrency"`
	HeavyPool        int           `yaml:"heavy_pool"`
	Deadline         time.Duration `yaml:"deadline"` // 0 = largest source timeout
	BreakerThreshold int           `yaml:"breaker_threshold"`
	BreakerReset     time.Duration `yaml:"breaker_reset"`
}

// CacheConfig controls the in-memory result cache.
type CacheConfig struct {
	TTL        time.Duration `yaml:"ttl"`
	MaxEntries int           `yaml:"max_entries"`
}

// ResultsConfig caps what a search returns.
type ResultsConfig struct {
	Max int `yaml:"max"`
}

// HTTPConfig controls the lightweight (plain HTTP) acquisition path.
type HTTPConfig struct {
	Timeout       time.Duration `yaml:"timeout"`
	UserAgents    []string      `yaml:"user_agents"`
	RatePerSecond float64       `yaml:"rate_per_second"`
	Burst         int           `yaml:"burst"`
	Retries       int           `yaml:"retries"`
	RetryBackoff  time.Duration `yaml:"retry_backoff"`
	MaxBytes      int64         `yaml:"max_bytes"`
}

// BrowserConfig controls Chrome for heavyweight sources.
type BrowserConfig struct {
	Remote           string        `yaml:"remote"`
	Headless         *bool         `yaml:"headless"`
	ResourceBlocking []string      `yaml:"resource_blocking"`
	RecycleInterval  time.Duration `yaml:"recycle_interval"`
	NavigateTimeout  time.Duration `yaml:"navigate_timeout"`
}

// WarmConfig schedules periodic refreshes of popular queries.
type WarmConfig struct {
	Schedule string   `yaml:"schedule"` // cron spec, empty disables
	Queries  []string `yaml:"queries"`
}

// SourceConfig declares one provider.
type SourceConfig struct {
	ID          string        `yaml:"id"`
	Class       string        `yaml:"class"` // light | heavy
	Timeout     time.Duration `yaml:"timeout"`
	DeliveryFee float64       `yaml:"delivery_fee"`
	MaxItems    int           `yaml:"max_items"`
	BaseURL     string        `yaml:"base_url"`
	Disabled    bool          `yaml:"disabled"`
}

// Default returns the configuration used when no file is given: the four
// known pharmacies with their fixed delivery fees.
func Default() *Config {
	cfg := &Config{
		Sources: []SourceConfig{
			{ID: "apollo", Class: "light", DeliveryFee: 40},
			{ID: "pharmeasy", Class: "light", DeliveryFee: 50},
			{ID: "1mg", Class: "heavy", DeliveryFee: 25},
			{ID: "truemeds", Class: "heavy", DeliveryFee: 35},
		},
	}
	cfg.ApplyDefaults()
	return cfg
}

// LoadFile reads a YAML configuration file and applies defaults.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	cfg.ApplyDefaults()
	return &cfg, nil
}

// ApplyDefaults fills every zero value.
func (c *Config) ApplyDefaults() {
	if c.Addr == "" {
		c.Addr = ":8080"
	}
	if c.Scheduler.LightConcurrency <= 0 {
		c.Scheduler.LightConcurrency = 4
	}
	if c.Scheduler.HeavyPool <= 0 {
		c.Scheduler.HeavyPool = 3
	}
	if c.Scheduler.BreakerThreshold <= 0 {
		c.Scheduler.BreakerThreshold = 5
	}
	if c.Scheduler.BreakerReset <= 0 {
		c.Scheduler.BreakerReset = 2 * time.Minute
	}
	if c.Cache.TTL <= 0 {
		c.Cache.TTL = time.Hour
	}
	if c.Cache.MaxEntries <= 0 {
		c.Cache.MaxEntries = 1000
	}
	if c.Results.Max <= 0 {
		c.Results.Max = 50
	}
	if c.HTTP.Timeout <= 0 {
		c.HTTP.Timeout = 10 * time.Second
	}
	if len(c.HTTP.UserAgents) == 0 {
		c.HTTP.UserAgents = []string{
			"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36",
			"Mozilla/5.0 (Windows NT 10.0; Win64; x64) Firefox/89.0",
			"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) Safari/605.1.15",
		}
	}
	if c.HTTP.RatePerSecond <= 0 {
		c.HTTP.RatePerSecond = 2
	}
	if c.HTTP.Burst <= 0 {
		c.HTTP.Burst = 1
	}
	if c.HTTP.Retries < 0 {
		c.HTTP.Retries = 0
	} else if c.HTTP.Retries == 0 {
		c.HTTP.Retries = 2
	}
	if c.HTTP.RetryBackoff <= 0 {
		c.HTTP.RetryBackoff = 250 * time.Millisecond
	}
	if c.HTTP.MaxBytes <= 0 {
		c.HTTP.MaxBytes = 10 << 20
	}
	if c.Browser.Headless == nil {
		headless := true
		c.Browser.Headless = &headless
	}
	if c.Browser.RecycleInterval <= 0 {
		c.Browser.RecycleInterval = 4 * time.Hour
	}
	if c.Browser.NavigateTimeout <= 0 {
		c.Browser.NavigateTimeout = 20 * time.Second
	}
	if c.Browser.ResourceBlocking == nil {
		c.Browser.ResourceBlocking = []string{"images", "fonts", "media"}
	}
	for i := range c.Sources {
		s := &c.Sources[i]
		s.ID = strings.ToLower(strings.TrimSpace(s.ID))
		if s.Class == "" {
			s.Class = "light"
		}
		if s.Timeout <= 0 {
			if s.Class == "heavy" || s.Class == "heavyweight" || s.Class == "browser" {
				s.Timeout = 30 * time.Second
			} else {
				s.Timeout = 10 * time.Second
			}
		}
		if s.MaxItems <= 0 {
			s.MaxItems = 5
		}
	}
}

// Validate reports configuration errors that defaults cannot repair.
func (c *Config) Validate() error {
	var errs []error
	seen := make(map[string]bool, len(c.Sources))
	for _, s := range c.Sources {
		if s.ID == "" {
			errs = append(errs, errors.New("config: source with empty id"))
			continue
		}
		if seen[s.ID] {
			errs = append(errs, fmt.Errorf("config: duplicate source %q", s.ID))
		}
		seen[s.ID] = true
		switch s.Class {
		case "light", "lightweight", "http", "heavy", "heavyweight", "browser":
		default:
			errs = append(errs, fmt.Errorf("config: source %q: unknown class %q", s.ID, s.Class))
		}
		if s.DeliveryFee < 0 {
			errs = append(errs, fmt.Errorf("config: source %q: negative delivery fee", s.ID))
		}
	}
	if c.Scheduler.Deadline < 0 {
		errs = append(errs, errors.New("config: scheduler.deadline must not be negative"))
	}
	if c.Warm.Schedule != "" && len(c.Warm.Queries) == 0 {
		errs = append(errs, errors.New("config: warm.schedule set without warm.queries"))
	}
	return errors.Join(errs...)
}

// ApplyEnv overrides selected fields from MEDIFIND_* environment variables.
func (c *Config) ApplyEnv(getenv func(string) string) error {
	if getenv == nil {
		getenv = os.Getenv
	}
	if v := getenv("MEDIFIND_ADDR"); v != "" {
		c.Addr = v
	}
	if v := getenv("MEDIFIND_LOG_DB"); v != "" {
		c.LogDB = v
	}
	if v := getenv("MEDIFIND_BROWSER_REMOTE"); v != "" {
		c.Browser.Remote = v
	}
	if v := getenv("MEDIFIND_CACHE_TTL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			return fmt.Errorf("config: MEDIFIND_CACHE_TTL must be a positive duration, got %q", v)
		}
		c.Cache.TTL = d
	}
	if v := getenv("MEDIFIND_DEADLINE"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d < 0 {
			return fmt.Errorf("config: MEDIFIND_DEADLINE must be a duration, got %q", v)
		}
		c.Scheduler.Deadline = d
	}
	if v := getenv("MEDIFIND_HEAVY_POOL"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return fmt.Errorf("config: MEDIFIND_HEAVY_POOL must be a positive integer, got %q", v)
		}
		c.Scheduler.HeavyPool = n
	}
	return nil
}

// EnabledSources returns sources not marked disabled, in file order.
func (c *Config) EnabledSources() []SourceConfig {
	out := make([]SourceConfig, 0, len(c.Sources))
	for _, s := range c.Sources {
		if !s.Disabled {
			out = append(out, s)
		}
	}
	return out
}
