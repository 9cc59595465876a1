package redischannel

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/goforj/feedcache"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const defaultPrefix = "feed"

// Client captures the subset of redis.UniversalClient used to subscribe.
type Client interface {
	Subscribe(ctx context.Context, channels ...string) *redis.PubSub
	PSubscribe(ctx context.Context, channels ...string) *redis.PubSub
}

// Publisher captures the subset of redis.UniversalClient used to publish.
type Publisher interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
}

// Subscriber opens a confirmed message stream for one channel name or pattern.
type Subscriber interface {
	Subscribe(ctx context.Context, channel string) (Stream, error)
}

// Stream is an open pub/sub subscription.
type Stream interface {
	Messages() <-chan *redis.Message
	Close() error
}

// Config configures a Redis push channel opener.
type Config struct {
	// Client is used when Subscriber is nil.
	Client        Client
	Subscriber    Subscriber
	ChannelPrefix string
	Logger        *zap.Logger
}

// Opener opens one pub/sub stream per feedcache topic.
type Opener struct {
	subscriber Subscriber
	prefix     string
	logger     *zap.Logger
}

var _ feedcache.ChannelOpener = (*Opener)(nil)

// New builds an Opener.
//
// Defaults:
// - ChannelPrefix: "feed" when empty
// - Logger: no-op when nil
// - Subscriber: wraps Client; nil allowed (Open returns errors)
func New(cfg Config) *Opener {
	prefix := cfg.ChannelPrefix
	if prefix == "" {
		prefix = defaultPrefix
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	sub := cfg.Subscriber
	if sub == nil && cfg.Client != nil {
		sub = FromClient(cfg.Client)
	}
	return &Opener{subscriber: sub, prefix: prefix, logger: logger}
}

// FromClient adapts a go-redis client to Subscriber. Names ending in "*" are
// pattern subscriptions.
func FromClient(client Client) Subscriber {
	return clientSubscriber{client: client}
}

type clientSubscriber struct {
	client Client
}

func (c clientSubscriber) Subscribe(ctx context.Context, channel string) (Stream, error) {
	var ps *redis.PubSub
	if strings.HasSuffix(channel, "*") {
		ps = c.client.PSubscribe(ctx, channel)
	} else {
		ps = c.client.Subscribe(ctx, channel)
	}
	// Wait for the server to confirm so publishes after Open are not missed.
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, err
	}
	return pubSubStream{ps: ps}, nil
}

type pubSubStream struct {
	ps *redis.PubSub
}

func (s pubSubStream) Messages() <-chan *redis.Message { return s.ps.Channel() }
func (s pubSubStream) Close() error                    { return s.ps.Close() }

// ChannelName returns the pub/sub channel carrying changes for table.
func ChannelName(prefix string, table feedcache.Table) string {
	if prefix == "" {
		prefix = defaultPrefix
	}
	table = feedcache.Table(strings.ToLower(strings.TrimSpace(string(table))))
	if table == "" {
		return prefix + ":*"
	}
	return prefix + ":" + string(table)
}

// Publish encodes raw and sends it on the channel for its table.
func Publish(ctx context.Context, pub Publisher, prefix string, raw feedcache.RawChange) error {
	if pub == nil {
		return errors.New("redischannel: publisher not configured")
	}
	body, err := feedcache.EncodeRawChange(raw)
	if err != nil {
		return err
	}
	return pub.Publish(ctx, ChannelName(prefix, feedcache.Table(raw.Table)), body).Err()
}

func (o *Opener) Open(ctx context.Context, topic feedcache.Topic, deliver func(feedcache.RawChange)) (feedcache.Channel, error) {
	if o.subscriber == nil {
		return nil, errors.New("redischannel: client not configured")
	}
	if deliver == nil {
		return nil, errors.New("redischannel: nil deliver")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	name := ChannelName(o.prefix, topic.Table)
	stream, err := o.subscriber.Subscribe(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("redischannel: subscribe %s: %w", name, err)
	}
	ch := &channel{
		topic:   topic,
		deliver: deliver,
		logger:  o.logger.With(zap.String("channel", name)),
		stream:  stream,
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
	go ch.pump(stream.Messages())
	return ch, nil
}

type channel struct {
	topic   feedcache.Topic
	deliver func(feedcache.RawChange)
	logger  *zap.Logger
	stream  Stream
	done    chan struct{}
	stopped chan struct{}
	once    sync.Once
	err     error
}

func (c *channel) pump(msgs <-chan *redis.Message) {
	defer close(c.stopped)
	for {
		select {
		case <-c.done:
			return
		case msg, ok := <-msgs:
			if !ok {
				return
			}
			c.handle(msg)
		}
	}
}

func (c *channel) handle(msg *redis.Message) {
	select {
	case <-c.done:
		return
	default:
	}
	if msg == nil {
		return
	}
	raw, err := feedcache.DecodeRawChange([]byte(msg.Payload))
	if err != nil {
		c.logger.Debug("drop undecodable change", zap.Error(err))
		return
	}
	if !c.topic.Accepts(raw) {
		return
	}
	c.deliver(raw)
}

// Close stops delivery and closes the stream once. It waits for the pump to
// exit or ctx to end.
func (c *channel) Close(ctx context.Context) error {
	c.once.Do(func() {
		close(c.done)
		err := c.stream.Close()
		if errors.Is(err, redis.ErrClosed) {
			err = nil
		}
		c.err = err
	})
	select {
	case <-c.stopped:
	case <-ctx.Done():
		return ctx.Err()
	}
	return c.err
}
