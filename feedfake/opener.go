package feedfake

import (
	"context"
	"errors"
	"sync"

	"github.com/goforj/feedcache"
)

// Opener is an in-process feedcache.ChannelOpener. Emit delivers synchronously
// on the caller's goroutine to every open channel whose topic accepts the change.
type Opener struct {
	mu       sync.Mutex
	channels map[int]*Channel
	nextID   int
	opened   int
	openErr  error
}

var _ feedcache.ChannelOpener = (*Opener)(nil)

// NewOpener creates an Opener with no channels.
func NewOpener() *Opener {
	return &Opener{channels: make(map[int]*Channel)}
}

// FailOpen makes subsequent Open calls return err; nil clears it.
func (o *Opener) FailOpen(err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.openErr = err
}

func (o *Opener) Open(ctx context.Context, topic feedcache.Topic, deliver func(feedcache.RawChange)) (feedcache.Channel, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if deliver == nil {
		return nil, errors.New("feedfake: nil deliver")
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.openErr != nil {
		return nil, o.openErr
	}
	o.nextID++
	o.opened++
	ch := &Channel{id: o.nextID, opener: o, topic: topic, deliver: deliver}
	o.channels[ch.id] = ch
	return ch, nil
}

// Emit pushes raw to every accepting channel and returns the number of deliveries.
func (o *Opener) Emit(raw feedcache.RawChange) int {
	return o.emit(raw)
}

func (o *Opener) emit(raw feedcache.RawChange) int {
	if o == nil {
		return 0
	}
	o.mu.Lock()
	targets := make([]*Channel, 0, len(o.channels))
	for _, ch := range o.channels {
		if ch.topic.Accepts(raw) {
			targets = append(targets, ch)
		}
	}
	o.mu.Unlock()

	for _, ch := range targets {
		ch.deliver(raw)
	}
	return len(targets)
}

// Drop closes every channel for topicName from the backend side, as if the
// connection went away.
func (o *Opener) Drop(topicName string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	for id, ch := range o.channels {
		if ch.topic.Name == topicName {
			delete(o.channels, id)
		}
	}
}

// Active returns the number of open channels.
func (o *Opener) Active() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.channels)
}

// ActiveFor returns the number of open channels for topicName.
func (o *Opener) ActiveFor(topicName string) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	count := 0
	for _, ch := range o.channels {
		if ch.topic.Name == topicName {
			count++
		}
	}
	return count
}

// Opened returns the number of successful Open calls.
func (o *Opener) Opened() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.opened
}

// Channel is one fake push channel.
type Channel struct {
	id      int
	opener  *Opener
	topic   feedcache.Topic
	deliver func(feedcache.RawChange)
}

// Close removes the channel. It is idempotent.
func (c *Channel) Close(context.Context) error {
	c.opener.mu.Lock()
	defer c.opener.mu.Unlock()
	delete(c.opener.channels, c.id)
	return nil
}
