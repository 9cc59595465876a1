package feedcache

import (
	"errors"
	"fmt"
)

var (
	// ErrSuperseded is returned by a load whose result was discarded because a
	// newer load for the same context was issued while it was in flight.
	ErrSuperseded = errors.New("load superseded by a newer load")
	// ErrContextClosed is returned when the target context was deactivated
	// before the load completed.
	ErrContextClosed = errors.New("feed context closed")
	// ErrUnknownContext is returned for operations on a context that was never activated.
	ErrUnknownContext = errors.New("unknown feed context")
	// ErrNilBackend is returned when a controller is built without a backend.
	ErrNilBackend = errors.New("feed backend is required")
	// ErrControllerClosed is returned after Close.
	ErrControllerClosed = errors.New("feed controller closed")
)

// FetchError reports a backend failure during load or refresh. The context
// keeps serving its last good list; the caller may retry.
type FetchError struct {
	Context string
	Query   Query
	Err     error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch feed %s (%s): %v", e.Context, e.Query.Key(), e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// Retryable reports whether the same call may succeed later. Fetch failures always are.
func (e *FetchError) Retryable() bool { return true }

// SubscriptionError reports a push channel that could not be opened.
type SubscriptionError struct {
	Topic string
	Err   error
}

func (e *SubscriptionError) Error() string {
	return fmt.Sprintf("subscribe %s: %v", e.Topic, e.Err)
}

func (e *SubscriptionError) Unwrap() error { return e.Err }
