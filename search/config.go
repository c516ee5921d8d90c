package search

import (
	"github.com/hazyhaar/medifind/search/internal/config"
)

// Config is the top-level medifind configuration. Re-exported from internal.
type Config = config.Config

// SchedulerConfig bounds the fan-out to sources.
type SchedulerConfig = config.SchedulerConfig

// CacheConfig controls the result cache.
type CacheConfig = config.CacheConfig

// HTTPConfig controls lightweight acquisition.
type HTTPConfig = config.HTTPConfig

// BrowserConfig controls Chrome for heavyweight sources.
type BrowserConfig = config.BrowserConfig

// WarmConfig schedules cache warming.
type WarmConfig = config.WarmConfig

// SourceConfig declares one provider.
type SourceConfig = config.SourceConfig

// LoadConfigFile reads a YAML configuration file.
func LoadConfigFile(path string) (*Config, error) {
	return config.LoadFile(path)
}

// DefaultConfig returns the built-in configuration.
func DefaultConfig() *Config {
	return config.Default()
}
