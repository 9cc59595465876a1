package redischannel

import (
	"context"
	"path"
	"sync"

	"github.com/redis/go-redis/v9"
)

// stubBroker is an in-process pub/sub broker implementing Subscriber.
type stubBroker struct {
	mu           sync.Mutex
	streams      map[int]*stubStream
	nextID       int
	subscribeErr error
	closeErr     error
}

type stubStream struct {
	id      int
	pattern string
	ch      chan *redis.Message
	broker  *stubBroker
	closed  bool
}

func newStubBroker() *stubBroker {
	return &stubBroker{streams: make(map[int]*stubStream)}
}

func (b *stubBroker) Subscribe(ctx context.Context, channel string) (Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.subscribeErr != nil {
		return nil, b.subscribeErr
	}
	b.nextID++
	s := &stubStream{id: b.nextID, pattern: channel, ch: make(chan *redis.Message, 32), broker: b}
	b.streams[s.id] = s
	return s, nil
}

func (b *stubBroker) Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd {
	cmd := redis.NewIntCmd(ctx)
	var payload string
	switch v := message.(type) {
	case []byte:
		payload = string(v)
	case string:
		payload = v
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	var n int64
	for _, s := range b.streams {
		if ok, _ := path.Match(s.pattern, channel); !ok {
			continue
		}
		select {
		case s.ch <- &redis.Message{Channel: channel, Pattern: s.pattern, Payload: payload}:
			n++
		default:
		}
	}
	cmd.SetVal(n)
	return cmd
}

func (b *stubBroker) active() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.streams)
}

func (s *stubStream) Messages() <-chan *redis.Message { return s.ch }

func (s *stubStream) Close() error {
	s.broker.mu.Lock()
	defer s.broker.mu.Unlock()
	if s.broker.closeErr != nil {
		return s.broker.closeErr
	}
	if s.closed {
		return redis.ErrClosed
	}
	s.closed = true
	delete(s.broker.streams, s.id)
	close(s.ch)
	return nil
}
