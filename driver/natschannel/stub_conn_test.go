package natschannel

import (
	"errors"
	"strings"
	"sync"

	"github.com/nats-io/nats.go"
)

// stubConn routes published messages to subscribed handlers synchronously.
type stubConn struct {
	mu           sync.Mutex
	subs         map[int]*stubSub
	nextID       int
	subscribeErr error
	unsubErr     error
}

type stubSub struct {
	id      int
	subject string
	handler nats.MsgHandler
	conn    *stubConn
}

func newStubConn() *stubConn {
	return &stubConn{subs: make(map[int]*stubSub)}
}

func (c *stubConn) Subscribe(subject string, handler nats.MsgHandler) (Unsubscriber, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.subscribeErr != nil {
		return nil, c.subscribeErr
	}
	c.nextID++
	sub := &stubSub{id: c.nextID, subject: subject, handler: handler, conn: c}
	c.subs[sub.id] = sub
	return sub, nil
}

func (c *stubConn) Publish(subject string, data []byte) error {
	if subject == "" {
		return errors.New("empty subject")
	}
	c.mu.Lock()
	var targets []nats.MsgHandler
	for _, sub := range c.subs {
		if subjectMatches(sub.subject, subject) {
			targets = append(targets, sub.handler)
		}
	}
	c.mu.Unlock()
	for _, h := range targets {
		h(&nats.Msg{Subject: subject, Data: data})
	}
	return nil
}

func (c *stubConn) active() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.subs)
}

func (s *stubSub) Unsubscribe() error {
	s.conn.mu.Lock()
	defer s.conn.mu.Unlock()
	if s.conn.unsubErr != nil {
		return s.conn.unsubErr
	}
	if _, ok := s.conn.subs[s.id]; !ok {
		return nats.ErrBadSubscription
	}
	delete(s.conn.subs, s.id)
	return nil
}

func subjectMatches(pattern, subject string) bool {
	if strings.HasSuffix(pattern, ".>") {
		return strings.HasPrefix(subject, strings.TrimSuffix(pattern, ">"))
	}
	return pattern == subject
}
