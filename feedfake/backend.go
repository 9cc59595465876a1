package feedfake

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/goforj/feedcache"
)

// Op identifies a backend call for assertions.
type Op string

const (
	OpFetchPosts       Op = "fetch_posts"
	OpFetchAggregate   Op = "fetch_aggregate"
	OpFetchViewerState Op = "fetch_viewer_state"
	OpLike             Op = "like"
	OpUnlike           Op = "unlike"
	OpSave             Op = "save"
	OpUnsave           Op = "unsave"
)

// ErrNotFound is returned for lookups on posts the fake does not hold.
var ErrNotFound = errors.New("feedfake: post not found")

// Backend is a deterministic in-memory feedcache.Backend and feedcache.Mutator.
// Mutations are echoed to an attached Opener the way a hosted backend would
// push them, so tests can exercise the full write → push → patch loop.
type Backend struct {
	mu       sync.Mutex
	rows     map[string]feedcache.Row
	likes    map[string]map[string]bool
	saves    map[string]map[string]bool
	comments map[string]int
	failures map[Op]error
	postFail map[string]error
	counts   map[Op]map[string]int
	opener   *Opener

	// FetchHook runs at the start of every FetchPosts call, outside the lock.
	// Tests use it to hold a fetch open or fail it.
	FetchHook func(ctx context.Context, q feedcache.Query) error
}

var (
	_ feedcache.Backend = (*Backend)(nil)
	_ feedcache.Mutator = (*Backend)(nil)
)

// NewBackend creates an empty Backend.
func NewBackend() *Backend {
	return &Backend{
		rows:     make(map[string]feedcache.Row),
		likes:    make(map[string]map[string]bool),
		saves:    make(map[string]map[string]bool),
		comments: make(map[string]int),
		failures: make(map[Op]error),
		postFail: make(map[string]error),
		counts:   make(map[Op]map[string]int),
	}
}

// Attach routes mutation echoes to opener.
func (b *Backend) Attach(opener *Opener) {
	b.mu.Lock()
	b.opener = opener
	b.mu.Unlock()
}

// AddPost stores row and echoes a posts INSERT.
func (b *Backend) AddPost(row feedcache.Row) {
	b.mu.Lock()
	b.rows[row.ID] = row
	opener := b.opener
	b.mu.Unlock()
	opener.emit(feedcache.RawChange{EventType: "INSERT", Table: string(feedcache.TablePosts), New: postRecord(row)})
}

// RemovePost deletes a post and echoes a posts DELETE.
func (b *Backend) RemovePost(postID string) {
	b.mu.Lock()
	row, ok := b.rows[postID]
	delete(b.rows, postID)
	opener := b.opener
	b.mu.Unlock()
	if ok {
		opener.emit(feedcache.RawChange{EventType: "DELETE", Table: string(feedcache.TablePosts), Old: postRecord(row)})
	}
}

// Seed stores n posts for loc without echoing them. IDs are "<prefix>-1".."<prefix>-n";
// later posts are newer.
func (b *Backend) Seed(prefix string, loc feedcache.LocationKey, postType feedcache.PostType, n int) []feedcache.Row {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	rows := make([]feedcache.Row, 0, n)
	b.mu.Lock()
	defer b.mu.Unlock()
	for i := 1; i <= n; i++ {
		row := feedcache.Row{
			ID:        fmt.Sprintf("%s-%d", prefix, i),
			Author:    feedcache.Author{ID: "author-" + prefix, Name: "Neighbor " + prefix},
			Content:   fmt.Sprintf("post %d from %s", i, loc),
			Type:      postType,
			Location:  loc,
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
			UpdatedAt: base.Add(time.Duration(i) * time.Minute),
		}
		b.rows[row.ID] = row
		rows = append(rows, row)
	}
	return rows
}

// SetComments sets the comment count of postID and echoes a comments INSERT.
func (b *Backend) SetComments(postID string, count int) {
	b.mu.Lock()
	b.comments[postID] = count
	opener := b.opener
	b.mu.Unlock()
	opener.emit(feedcache.RawChange{
		EventType: "INSERT",
		Table:     string(feedcache.TableComments),
		New:       map[string]any{"id": fmt.Sprintf("comment-%s-%d", postID, count), "post_id": postID},
	})
}

// SetLikes replaces the set of users who liked postID without echoing.
func (b *Backend) SetLikes(postID string, userIDs ...string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	set := make(map[string]bool, len(userIDs))
	for _, id := range userIDs {
		set[id] = true
	}
	b.likes[postID] = set
}

// Fail makes every call to op return err until cleared with a nil err.
func (b *Backend) Fail(op Op, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err == nil {
		delete(b.failures, op)
		return
	}
	b.failures[op] = err
}

// FailPost makes aggregate and viewer-state lookups for postID return err.
func (b *Backend) FailPost(postID string, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err == nil {
		delete(b.postFail, postID)
		return
	}
	b.postFail[postID] = err
}

func (b *Backend) FetchPosts(ctx context.Context, q feedcache.Query, limit int) ([]feedcache.Row, error) {
	b.record(OpFetchPosts, q.Key())
	if b.FetchHook != nil {
		if err := b.FetchHook(ctx, q); err != nil {
			return nil, err
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.failures[OpFetchPosts]; err != nil {
		return nil, err
	}
	rows := make([]feedcache.Row, 0)
	for _, row := range b.rows {
		if !q.Location.Contains(q.Scope, row.Location) || !q.Type.Matches(row.Type) {
			continue
		}
		rows = append(rows, row)
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].CreatedAt.Equal(rows[j].CreatedAt) {
			return rows[i].ID > rows[j].ID
		}
		return rows[i].CreatedAt.After(rows[j].CreatedAt)
	})
	if limit > 0 && len(rows) > limit {
		rows = rows[:limit]
	}
	return rows, nil
}

func (b *Backend) FetchAggregate(ctx context.Context, postID string, kind feedcache.AggregateKind) (int, error) {
	b.record(OpFetchAggregate, postID+":"+string(kind))
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.lookupErr(OpFetchAggregate, postID); err != nil {
		return 0, err
	}
	switch kind {
	case feedcache.AggregateLikes:
		return len(b.likes[postID]), nil
	case feedcache.AggregateComments:
		return b.comments[postID], nil
	default:
		return 0, fmt.Errorf("feedfake: unknown aggregate %q", kind)
	}
}

func (b *Backend) FetchViewerState(ctx context.Context, postID, userID string) (feedcache.ViewerState, error) {
	b.record(OpFetchViewerState, postID+":"+userID)
	if err := ctx.Err(); err != nil {
		return feedcache.ViewerState{}, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.lookupErr(OpFetchViewerState, postID); err != nil {
		return feedcache.ViewerState{}, err
	}
	return feedcache.ViewerState{
		Liked: b.likes[postID][userID],
		Saved: b.saves[postID][userID],
	}, nil
}

func (b *Backend) Like(ctx context.Context, postID, userID string) error {
	return b.toggle(ctx, OpLike, b.likes, feedcache.TableLikes, postID, userID, true)
}

func (b *Backend) Unlike(ctx context.Context, postID, userID string) error {
	return b.toggle(ctx, OpUnlike, b.likes, feedcache.TableLikes, postID, userID, false)
}

func (b *Backend) Save(ctx context.Context, postID, userID string) error {
	return b.toggle(ctx, OpSave, b.saves, feedcache.TableSaves, postID, userID, true)
}

func (b *Backend) Unsave(ctx context.Context, postID, userID string) error {
	return b.toggle(ctx, OpUnsave, b.saves, feedcache.TableSaves, postID, userID, false)
}

func (b *Backend) toggle(ctx context.Context, op Op, set map[string]map[string]bool, table feedcache.Table, postID, userID string, on bool) error {
	b.record(op, postID+":"+userID)
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mu.Lock()
	if err := b.failures[op]; err != nil {
		b.mu.Unlock()
		return err
	}
	if _, ok := b.rows[postID]; !ok {
		b.mu.Unlock()
		return ErrNotFound
	}
	if set[postID] == nil {
		set[postID] = make(map[string]bool)
	}
	if set[postID][userID] == on {
		b.mu.Unlock()
		return nil
	}
	if on {
		set[postID][userID] = true
	} else {
		delete(set[postID], userID)
	}
	opener := b.opener
	b.mu.Unlock()

	record := map[string]any{"id": postID + ":" + userID, "post_id": postID, "user_id": userID}
	raw := feedcache.RawChange{EventType: "INSERT", Table: string(table), New: record}
	if !on {
		raw = feedcache.RawChange{EventType: "DELETE", Table: string(table), Old: record}
	}
	opener.emit(raw)
	return nil
}

// lookupErr requires b.mu.
func (b *Backend) lookupErr(op Op, postID string) error {
	if err := b.failures[op]; err != nil {
		return err
	}
	if err := b.postFail[postID]; err != nil {
		return err
	}
	if _, ok := b.rows[postID]; !ok {
		return ErrNotFound
	}
	return nil
}

// Reset clears recorded counts.
func (b *Backend) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.counts = make(map[Op]map[string]int)
}

// AssertCalled verifies key was touched by op the expected number of times.
func (b *Backend) AssertCalled(t *testing.T, op Op, key string, times int) {
	t.Helper()
	if got := b.Count(op, key); got != times {
		t.Fatalf("expected %s %q called %d times, got %d", op, key, times, got)
	}
}

// AssertNotCalled ensures key was never touched by op.
func (b *Backend) AssertNotCalled(t *testing.T, op Op, key string) {
	t.Helper()
	if got := b.Count(op, key); got != 0 {
		t.Fatalf("expected %s %q not called, got %d", op, key, got)
	}
}

// AssertTotal ensures the total call count for an op matches times.
func (b *Backend) AssertTotal(t *testing.T, op Op, times int) {
	t.Helper()
	if got := b.Total(op); got != times {
		t.Fatalf("expected %s total=%d, got %d", op, times, got)
	}
}

// Count returns calls for op+key.
func (b *Backend) Count(op Op, key string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.counts[op] == nil {
		return 0
	}
	return b.counts[op][key]
}

// Total returns total calls for an op across keys.
func (b *Backend) Total(op Op) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	var sum int
	for _, v := range b.counts[op] {
		sum += v
	}
	return sum
}

func (b *Backend) record(op Op, key string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.counts[op] == nil {
		b.counts[op] = make(map[string]int)
	}
	b.counts[op][key]++
}

func postRecord(row feedcache.Row) map[string]any {
	return map[string]any{
		"id":           row.ID,
		"author_id":    row.Author.ID,
		"content":      row.Content,
		"post_type":    string(row.Type),
		"neighborhood": row.Location.Neighborhood,
		"city":         row.Location.City,
		"state":        row.Location.State,
	}
}
