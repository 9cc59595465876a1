package feedcache

import (
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
)

// Options carries Config plus the runtime collaborators that cannot come from
// the environment.
type Options struct {
	Config   Config
	Logger   *zap.Logger
	Clock    clockwork.Clock
	Observer Observer
}

// Option mutates Options when constructing a cache, manager or controller.
type Option func(Options) Options

func buildOptions(opts []Option) Options {
	var o Options
	for _, opt := range opts {
		o = opt(o)
	}
	o.Config = o.Config.withDefaults()
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	if o.Clock == nil {
		o.Clock = clockwork.NewRealClock()
	}
	return o
}

// WithConfig replaces the whole Config; later options still override fields.
func WithConfig(cfg Config) Option {
	return func(o Options) Options {
		o.Config = cfg
		return o
	}
}

// WithTTL overrides the cache freshness window.
func WithTTL(ttl time.Duration) Option {
	return func(o Options) Options {
		o.Config.TTL = ttl
		return o
	}
}

// WithCleanupInterval overrides the background sweep interval.
func WithCleanupInterval(interval time.Duration) Option {
	return func(o Options) Options {
		o.Config.CleanupInterval = interval
		return o
	}
}

// WithPageSize overrides the number of rows fetched per load.
func WithPageSize(size int) Option {
	return func(o Options) Options {
		o.Config.PageSize = size
		return o
	}
}

// WithProjectionConcurrency bounds parallel per-post lookups.
func WithProjectionConcurrency(n int) Option {
	return func(o Options) Options {
		o.Config.ProjectionConcurrency = n
		return o
	}
}

// WithQueueSize sets the change queue buffer.
func WithQueueSize(n int) Option {
	return func(o Options) Options {
		o.Config.QueueSize = n
		return o
	}
}

// WithViewer sets the user whose interaction state is projected into posts.
func WithViewer(userID string) Option {
	return func(o Options) Options {
		o.Config.ViewerID = userID
		return o
	}
}

// WithLogger sets the structured logger.
func WithLogger(logger *zap.Logger) Option {
	return func(o Options) Options {
		o.Logger = logger
		return o
	}
}

// WithClock injects the clock used for expiry and stats timestamps.
func WithClock(clock clockwork.Clock) Option {
	return func(o Options) Options {
		o.Clock = clock
		return o
	}
}

// WithObserver attaches an observer for cache operations.
func WithObserver(observer Observer) Option {
	return func(o Options) Options {
		o.Observer = observer
		return o
	}
}
