package natschannel

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/goforj/feedcache"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

const defaultPrefix = "feed"

// Subscriber captures the subset of nats.Conn used by the opener.
type Subscriber interface {
	Subscribe(subject string, handler nats.MsgHandler) (Unsubscriber, error)
}

// Unsubscriber is satisfied by *nats.Subscription.
type Unsubscriber interface {
	Unsubscribe() error
}

// Publisher is satisfied by *nats.Conn.
type Publisher interface {
	Publish(subject string, data []byte) error
}

// Config configures a NATS push channel opener.
type Config struct {
	// Conn is used when Subscriber is nil.
	Conn          *nats.Conn
	Subscriber    Subscriber
	SubjectPrefix string
	Logger        *zap.Logger
}

// Opener opens one NATS subscription per feedcache topic.
type Opener struct {
	subscriber Subscriber
	prefix     string
	logger     *zap.Logger
}

var _ feedcache.ChannelOpener = (*Opener)(nil)

// New builds an Opener.
//
// Defaults:
// - SubjectPrefix: "feed" when empty
// - Logger: no-op when nil
// - Subscriber: wraps Conn; nil allowed (Open returns errors)
func New(cfg Config) *Opener {
	prefix := cfg.SubjectPrefix
	if prefix == "" {
		prefix = defaultPrefix
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	sub := cfg.Subscriber
	if sub == nil && cfg.Conn != nil {
		sub = FromConn(cfg.Conn)
	}
	return &Opener{subscriber: sub, prefix: prefix, logger: logger}
}

// FromConn adapts a NATS connection to Subscriber.
func FromConn(conn *nats.Conn) Subscriber {
	return connSubscriber{conn: conn}
}

type connSubscriber struct {
	conn *nats.Conn
}

func (c connSubscriber) Subscribe(subject string, handler nats.MsgHandler) (Unsubscriber, error) {
	return c.conn.Subscribe(subject, handler)
}

// Subject returns the subject carrying changes for table.
func Subject(prefix string, table feedcache.Table) string {
	if prefix == "" {
		prefix = defaultPrefix
	}
	table = feedcache.Table(strings.ToLower(strings.TrimSpace(string(table))))
	if table == "" {
		return prefix + ".>"
	}
	return prefix + "." + string(table)
}

// Publish encodes raw and sends it on the subject for its table.
func Publish(pub Publisher, prefix string, raw feedcache.RawChange) error {
	if pub == nil {
		return errors.New("natschannel: publisher not configured")
	}
	body, err := feedcache.EncodeRawChange(raw)
	if err != nil {
		return err
	}
	return pub.Publish(Subject(prefix, feedcache.Table(raw.Table)), body)
}

func (o *Opener) Open(ctx context.Context, topic feedcache.Topic, deliver func(feedcache.RawChange)) (feedcache.Channel, error) {
	if o.subscriber == nil {
		return nil, errors.New("natschannel: connection not configured")
	}
	if deliver == nil {
		return nil, errors.New("natschannel: nil deliver")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	subject := Subject(o.prefix, topic.Table)
	ch := &channel{topic: topic, deliver: deliver, logger: o.logger.With(zap.String("subject", subject))}
	sub, err := o.subscriber.Subscribe(subject, ch.handle)
	if err != nil {
		return nil, fmt.Errorf("natschannel: subscribe %s: %w", subject, err)
	}
	ch.sub = sub
	return ch, nil
}

type channel struct {
	topic   feedcache.Topic
	deliver func(feedcache.RawChange)
	logger  *zap.Logger
	sub     Unsubscriber
	closed  atomic.Bool
	once    sync.Once
	err     error
}

func (c *channel) handle(msg *nats.Msg) {
	if c.closed.Load() || msg == nil {
		return
	}
	raw, err := feedcache.DecodeRawChange(msg.Data)
	if err != nil {
		c.logger.Debug("drop undecodable change", zap.Error(err))
		return
	}
	if !c.topic.Accepts(raw) {
		return
	}
	c.deliver(raw)
}

// Close unsubscribes once. A subscription the connection already dropped is
// treated as closed.
func (c *channel) Close(context.Context) error {
	c.once.Do(func() {
		c.closed.Store(true)
		if c.sub == nil {
			return
		}
		err := c.sub.Unsubscribe()
		if errors.Is(err, nats.ErrConnectionClosed) || errors.Is(err, nats.ErrBadSubscription) {
			err = nil
		}
		c.err = err
	})
	return c.err
}
