package feedcache

import (
	"context"
	"time"
)

// Observer receives events for cache operations.
// It is called by FeedCache after each operation completes.
type Observer interface {
	OnCacheOp(ctx context.Context, op string, key string, hit bool, dur time.Duration)
}

// ObserverFunc adapts a function to the Observer interface.
type ObserverFunc func(ctx context.Context, op string, key string, hit bool, dur time.Duration)

// OnCacheOp implements Observer.
func (f ObserverFunc) OnCacheOp(ctx context.Context, op string, key string, hit bool, dur time.Duration) {
	if f == nil {
		return
	}
	f(ctx, op, key, hit, dur)
}
