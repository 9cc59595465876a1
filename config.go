package feedcache

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

const (
	defaultCacheTTL              = 5 * time.Minute
	defaultCleanupInterval       = 10 * time.Minute
	defaultPageSize              = 20
	defaultProjectionConcurrency = 8
	defaultQueueSize             = 64
)

// Config controls cache and controller behavior.
type Config struct {
	// TTL is the fixed freshness window of a cached feed page.
	TTL time.Duration `env:"FEED_CACHE_TTL"`

	// CleanupInterval controls how often expired entries are swept in the background.
	// Lookups sweep expired entries regardless.
	CleanupInterval time.Duration `env:"FEED_CACHE_CLEANUP_INTERVAL"`

	// PageSize is the number of rows fetched per load.
	PageSize int `env:"FEED_PAGE_SIZE"`

	// ProjectionConcurrency bounds in-flight aggregate and viewer-state lookups per load.
	ProjectionConcurrency int `env:"FEED_PROJECTION_CONCURRENCY"`

	// QueueSize is the buffer of the controller's change queue.
	QueueSize int `env:"FEED_QUEUE_SIZE"`

	// ViewerID is the user whose liked/saved flags are projected.
	ViewerID string `env:"FEED_VIEWER_ID"`
}

// LoadConfig reads Config from the environment and applies defaults.
func LoadConfig() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	return cfg.withDefaults(), nil
}

func (c Config) withDefaults() Config {
	if c.TTL <= 0 {
		c.TTL = defaultCacheTTL
	}
	if c.CleanupInterval <= 0 {
		c.CleanupInterval = defaultCleanupInterval
	}
	if c.PageSize <= 0 {
		c.PageSize = defaultPageSize
	}
	if c.ProjectionConcurrency <= 0 {
		c.ProjectionConcurrency = defaultProjectionConcurrency
	}
	if c.QueueSize <= 0 {
		c.QueueSize = defaultQueueSize
	}
	return c
}
