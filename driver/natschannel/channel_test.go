package natschannel

import (
	"context"
	"errors"
	"testing"

	"github.com/goforj/feedcache"
	"github.com/goforj/feedcache/channeltest"
	"github.com/nats-io/nats.go"
)

func TestChannelContractWithStubConn(t *testing.T) {
	conn := newStubConn()
	opener := New(Config{Subscriber: conn, SubjectPrefix: "test"})

	channeltest.RunChannelContract(t, opener, func(ctx context.Context, raw feedcache.RawChange) error {
		return Publish(conn, "test", raw)
	}, channeltest.Options{})

	if got := conn.active(); got != 0 {
		t.Fatalf("expected all subscriptions released, got %d", got)
	}
}

func TestSubject(t *testing.T) {
	cases := []struct {
		prefix string
		table  feedcache.Table
		want   string
	}{
		{"feed", feedcache.TablePosts, "feed.posts"},
		{"feed", "", "feed.>"},
		{"", feedcache.TableLikes, "feed.likes"},
		{"feed", "POSTS", "feed.posts"},
	}
	for _, tc := range cases {
		if got := Subject(tc.prefix, tc.table); got != tc.want {
			t.Fatalf("Subject(%q, %q) = %q, want %q", tc.prefix, tc.table, got, tc.want)
		}
	}
}

func TestOpenWithoutConnectionErrors(t *testing.T) {
	opener := New(Config{})
	if _, err := opener.Open(context.Background(), feedcache.Topic{Name: "t"}, func(feedcache.RawChange) {}); err == nil {
		t.Fatalf("expected open error when connection is nil")
	}
}

func TestOpenNilDeliverErrors(t *testing.T) {
	opener := New(Config{Subscriber: newStubConn()})
	if _, err := opener.Open(context.Background(), feedcache.Topic{Name: "t"}, nil); err == nil {
		t.Fatalf("expected open error for nil deliver")
	}
}

func TestOpenCanceledContext(t *testing.T) {
	conn := newStubConn()
	opener := New(Config{Subscriber: conn})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := opener.Open(ctx, feedcache.Topic{Name: "t"}, func(feedcache.RawChange) {}); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if conn.active() != 0 {
		t.Fatalf("expected no subscription on canceled open")
	}
}

func TestOpenSubscribeErrorWrapped(t *testing.T) {
	conn := newStubConn()
	conn.subscribeErr = nats.ErrConnectionClosed
	opener := New(Config{Subscriber: conn})
	_, err := opener.Open(context.Background(), feedcache.Topic{Name: "t"}, func(feedcache.RawChange) {})
	if !errors.Is(err, nats.ErrConnectionClosed) {
		t.Fatalf("expected wrapped subscribe error, got %v", err)
	}
}

func TestUndecodableMessageDropped(t *testing.T) {
	conn := newStubConn()
	opener := New(Config{Subscriber: conn})
	var got int
	ch, err := opener.Open(context.Background(), feedcache.Topic{Name: "t"}, func(feedcache.RawChange) { got++ })
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	defer ch.Close(context.Background())

	if err := conn.Publish("feed.posts", []byte("{not json")); err != nil {
		t.Fatalf("publish failed: %v", err)
	}
	if got != 0 {
		t.Fatalf("expected undecodable message dropped, got %d deliveries", got)
	}
}

func TestCloseToleratesDroppedConnection(t *testing.T) {
	conn := newStubConn()
	opener := New(Config{Subscriber: conn})
	ch, err := opener.Open(context.Background(), feedcache.Topic{Name: "t"}, func(feedcache.RawChange) {})
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	conn.unsubErr = nats.ErrConnectionClosed
	if err := ch.Close(context.Background()); err != nil {
		t.Fatalf("expected closed connection to be tolerated, got %v", err)
	}
}

func TestCloseSurfacesUnsubscribeError(t *testing.T) {
	conn := newStubConn()
	opener := New(Config{Subscriber: conn})
	ch, err := opener.Open(context.Background(), feedcache.Topic{Name: "t"}, func(feedcache.RawChange) {})
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	boom := errors.New("boom")
	conn.unsubErr = boom
	if err := ch.Close(context.Background()); !errors.Is(err, boom) {
		t.Fatalf("expected unsubscribe error, got %v", err)
	}
	if err := ch.Close(context.Background()); !errors.Is(err, boom) {
		t.Fatalf("expected repeated close to report the same error, got %v", err)
	}
}

func TestPublishNilPublisher(t *testing.T) {
	if err := Publish(nil, "feed", feedcache.RawChange{Table: "posts"}); err == nil {
		t.Fatalf("expected error for nil publisher")
	}
}
