package feedcache

import "context"

// Backend is the read side of the hosted backend the controller fetches from.
type Backend interface {
	// FetchPosts returns at most limit rows for q, newest first.
	FetchPosts(ctx context.Context, q Query, limit int) ([]Row, error)
	// FetchAggregate returns the current value of one derived count.
	FetchAggregate(ctx context.Context, postID string, kind AggregateKind) (int, error)
	// FetchViewerState returns whether userID liked and saved postID.
	FetchViewerState(ctx context.Context, postID, userID string) (ViewerState, error)
}

// Mutator is the write side of the backend. The controller never calls it; it
// observes the effect of mutations through the push stream.
type Mutator interface {
	Like(ctx context.Context, postID, userID string) error
	Unlike(ctx context.Context, postID, userID string) error
	Save(ctx context.Context, postID, userID string) error
	Unsave(ctx context.Context, postID, userID string) error
}
