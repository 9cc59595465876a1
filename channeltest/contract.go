package channeltest

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/goforj/feedcache"
)

// Options configures shared channel contract checks.
type Options struct {
	// CaseName is used to namespace topic names. Defaults to t.Name().
	CaseName string
	// Timeout bounds how long the harness waits for one delivery.
	Timeout time.Duration
	// Quiet is how long the harness waits to conclude nothing was delivered.
	Quiet time.Duration
	// Settle is slept after Open for transports that subscribe asynchronously.
	Settle time.Duration
}

// Publish pushes raw through the transport under test.
type Publish func(ctx context.Context, raw feedcache.RawChange) error

// RunChannelContract runs a transport-agnostic push channel suite.
func RunChannelContract(t *testing.T, opener feedcache.ChannelOpener, publish Publish, opts Options) {
	t.Helper()

	caseName := opts.CaseName
	if caseName == "" {
		caseName = t.Name()
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = time.Second
	}
	quiet := opts.Quiet
	if quiet <= 0 {
		quiet = 100 * time.Millisecond
	}
	ctx := context.Background()
	topic := func(s string) string {
		return sanitize(caseName) + ":" + s
	}

	insert := feedcache.RawChange{
		EventType: "INSERT",
		Table:     string(feedcache.TablePosts),
		New:       map[string]any{"id": "p1", "neighborhood": "Ikoyi", "post_type": "general"},
	}
	like := feedcache.RawChange{
		EventType: "INSERT",
		Table:     string(feedcache.TableLikes),
		New:       map[string]any{"id": "l1", "post_id": "p1", "user_id": "u1"},
	}

	// Delivery round-trip.
	all := newRecorder()
	allCh, err := opener.Open(ctx, feedcache.Topic{Name: topic("all")}, all.deliver)
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	settle(opts.Settle)
	if err := publish(ctx, insert); err != nil {
		t.Fatalf("publish failed: %v", err)
	}
	got, ok := all.next(timeout)
	if !ok {
		t.Fatalf("expected delivery within %s", timeout)
	}
	if got.Table != insert.Table || !strings.EqualFold(got.EventType, insert.EventType) {
		t.Fatalf("unexpected delivery: %+v", got)
	}
	change, err := feedcache.Normalize(got)
	if err != nil {
		t.Fatalf("normalize delivered change failed: %v", err)
	}
	if change.RecordID != "p1" || change.Location.Neighborhood != "Ikoyi" {
		t.Fatalf("delivered row lost fields: %+v", change)
	}

	// Table restriction.
	likes := newRecorder()
	likesCh, err := opener.Open(ctx, feedcache.Topic{Name: topic("likes"), Table: feedcache.TableLikes}, likes.deliver)
	if err != nil {
		t.Fatalf("open likes failed: %v", err)
	}
	settle(opts.Settle)
	if err := publish(ctx, insert); err != nil {
		t.Fatalf("publish failed: %v", err)
	}
	if err := publish(ctx, like); err != nil {
		t.Fatalf("publish failed: %v", err)
	}
	got, ok = likes.next(timeout)
	if !ok || got.Table != like.Table {
		t.Fatalf("expected likes-only delivery, got ok=%v change=%+v", ok, got)
	}
	if extra, ok := likes.next(quiet); ok {
		t.Fatalf("unexpected delivery on likes topic: %+v", extra)
	}

	// Row filter.
	filtered := newRecorder()
	filteredCh, err := opener.Open(ctx, feedcache.Topic{
		Name:   topic("filtered"),
		Filter: feedcache.Filter{Column: "neighborhood", Value: "Lekki"},
	}, filtered.deliver)
	if err != nil {
		t.Fatalf("open filtered failed: %v", err)
	}
	settle(opts.Settle)
	if err := publish(ctx, insert); err != nil {
		t.Fatalf("publish failed: %v", err)
	}
	if extra, ok := filtered.next(quiet); ok {
		t.Fatalf("expected filter to reject change, got %+v", extra)
	}

	// Close is idempotent and stops delivery.
	for _, ch := range []feedcache.Channel{allCh, likesCh, filteredCh} {
		if err := ch.Close(ctx); err != nil {
			t.Fatalf("close failed: %v", err)
		}
		if err := ch.Close(ctx); err != nil {
			t.Fatalf("second close failed: %v", err)
		}
	}
	all.drain()
	if err := publish(ctx, insert); err != nil {
		t.Fatalf("publish after close failed: %v", err)
	}
	if extra, ok := all.next(quiet); ok {
		t.Fatalf("unexpected delivery after close: %+v", extra)
	}
}

type recorder struct {
	ch chan feedcache.RawChange
}

func newRecorder() *recorder {
	return &recorder{ch: make(chan feedcache.RawChange, 32)}
}

func (r *recorder) deliver(raw feedcache.RawChange) {
	select {
	case r.ch <- raw:
	default:
	}
}

func (r *recorder) next(wait time.Duration) (feedcache.RawChange, bool) {
	select {
	case raw := <-r.ch:
		return raw, true
	case <-time.After(wait):
		return feedcache.RawChange{}, false
	}
}

func (r *recorder) drain() {
	for {
		select {
		case <-r.ch:
		default:
			return
		}
	}
}

func settle(d time.Duration) {
	if d > 0 {
		time.Sleep(d)
	}
}

func sanitize(s string) string {
	s = strings.ReplaceAll(s, "/", "_")
	s = strings.ReplaceAll(s, " ", "_")
	return s
}
