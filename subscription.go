package feedcache

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Filter is an equality predicate on a changed row. The zero Filter matches every row.
type Filter struct {
	Column string
	Value  string
}

// IsZero reports whether f matches everything.
func (f Filter) IsZero() bool {
	return f.Column == ""
}

// Matches reports whether raw passes the filter. The new row is checked first,
// the old row for deletes.
func (f Filter) Matches(raw RawChange) bool {
	if f.IsZero() {
		return true
	}
	row := raw.New
	if len(row) == 0 {
		row = raw.Old
	}
	return field(row, f.Column) == f.Value
}

// Topic is a named stream of change notifications. At most one live channel
// exists per topic name.
type Topic struct {
	Name string
	// Table restricts the stream to one table, compared without regard to case;
	// empty means every table.
	Table  Table
	Filter Filter
}

// Accepts reports whether raw belongs on this topic.
func (t Topic) Accepts(raw RawChange) bool {
	if want := parseTable(string(t.Table)); want != "" && parseTable(raw.Table) != want {
		return false
	}
	return t.Filter.Matches(raw)
}

// Channel is a live push channel returned by a ChannelOpener.
// Close must be idempotent.
type Channel interface {
	Close(ctx context.Context) error
}

// ChannelOpener opens push channels on the backend. deliver is invoked once
// per inbound change, in backend delivery order, until the channel is closed.
type ChannelOpener interface {
	Open(ctx context.Context, topic Topic, deliver func(RawChange)) (Channel, error)
}

// SubscriptionManager owns at most one live channel per topic and normalizes
// inbound payloads before handing them to subscribers.
type SubscriptionManager struct {
	opener ChannelOpener
	logger *zap.Logger

	mu    sync.Mutex
	slots map[string]*topicSlot
}

// topicSlot serializes replace and teardown for one topic name.
type topicSlot struct {
	mu      sync.Mutex
	current *Subscription
}

// NewSubscriptionManager creates a manager that opens channels through opener.
func NewSubscriptionManager(opener ChannelOpener, opts ...Option) *SubscriptionManager {
	o := buildOptions(opts)
	return &SubscriptionManager{
		opener: opener,
		logger: o.Logger.Named("subscriptions"),
		slots:  make(map[string]*topicSlot),
	}
}

// Subscribe opens a channel for topic and routes normalized changes to onChange.
// An existing subscription for the same topic name is closed first, so repeated
// calls never produce duplicate deliveries. Closing a subscription waits for
// an onChange call in progress, so onChange must not close its own
// subscription and must stop blocking once its consumer goes away.
func (m *SubscriptionManager) Subscribe(ctx context.Context, topic Topic, onChange func(Change)) (*Subscription, error) {
	if topic.Name == "" {
		return nil, &SubscriptionError{Topic: topic.Name, Err: errors.New("topic name is required")}
	}
	if onChange == nil {
		return nil, &SubscriptionError{Topic: topic.Name, Err: errors.New("nil change handler")}
	}
	if m.opener == nil {
		return nil, &SubscriptionError{Topic: topic.Name, Err: errors.New("channel opener unavailable")}
	}

	slot := m.slot(topic.Name)
	slot.mu.Lock()
	defer slot.mu.Unlock()

	if prev := slot.current; prev != nil {
		if err := prev.closeLocked(ctx); err != nil {
			m.logger.Warn("close replaced channel",
				zap.String("topic", topic.Name),
				zap.String("subscription", prev.id),
				zap.Error(err),
			)
		}
	}

	sub := &Subscription{
		id:       uuid.NewString(),
		topic:    topic,
		slot:     slot,
		onChange: onChange,
		logger:   m.logger,
	}
	channel, err := m.opener.Open(ctx, topic, sub.deliver)
	if err != nil {
		sub.closed = true
		return nil, &SubscriptionError{Topic: topic.Name, Err: err}
	}
	sub.channel = channel
	slot.current = sub

	m.logger.Debug("channel opened", zap.String("topic", topic.Name), zap.String("subscription", sub.id))
	return sub, nil
}

// Active returns the number of topics with a live channel.
func (m *SubscriptionManager) Active() int {
	m.mu.Lock()
	slots := make([]*topicSlot, 0, len(m.slots))
	for _, slot := range m.slots {
		slots = append(slots, slot)
	}
	m.mu.Unlock()

	count := 0
	for _, slot := range slots {
		slot.mu.Lock()
		if slot.current != nil {
			count++
		}
		slot.mu.Unlock()
	}
	return count
}

// Close tears down every live channel.
func (m *SubscriptionManager) Close(ctx context.Context) error {
	m.mu.Lock()
	slots := make([]*topicSlot, 0, len(m.slots))
	for _, slot := range m.slots {
		slots = append(slots, slot)
	}
	m.mu.Unlock()

	var closeErrs []error
	for _, slot := range slots {
		slot.mu.Lock()
		if sub := slot.current; sub != nil {
			if err := sub.closeLocked(ctx); err != nil {
				closeErrs = append(closeErrs, err)
			}
		}
		slot.mu.Unlock()
	}
	if len(closeErrs) > 0 {
		return fmt.Errorf("close subscriptions: %w", errors.Join(closeErrs...))
	}
	return nil
}

func (m *SubscriptionManager) slot(name string) *topicSlot {
	m.mu.Lock()
	defer m.mu.Unlock()
	slot, ok := m.slots[name]
	if !ok {
		slot = &topicSlot{}
		m.slots[name] = slot
	}
	return slot
}

// Subscription is the disposer for one live channel.
type Subscription struct {
	id       string
	topic    Topic
	slot     *topicSlot
	channel  Channel
	onChange func(Change)
	logger   *zap.Logger

	// deliverMu excludes delivery while closing so no change reaches onChange
	// after Close returns.
	deliverMu sync.RWMutex
	closed    bool
	once      sync.Once
}

// ID returns the unique handle id.
func (s *Subscription) ID() string { return s.id }

// Topic returns the subscribed topic.
func (s *Subscription) Topic() Topic { return s.topic }

// Close disposes the channel. It is idempotent and safe after the channel has
// closed on its own or been replaced by a newer subscription.
func (s *Subscription) Close(ctx context.Context) error {
	if s == nil {
		return nil
	}
	s.slot.mu.Lock()
	defer s.slot.mu.Unlock()
	return s.closeLocked(ctx)
}

// closeLocked requires s.slot.mu.
func (s *Subscription) closeLocked(ctx context.Context) error {
	var err error
	s.once.Do(func() {
		s.deliverMu.Lock()
		s.closed = true
		s.deliverMu.Unlock()

		if s.slot.current == s {
			s.slot.current = nil
		}
		if s.channel != nil {
			if closeErr := s.channel.Close(ctx); closeErr != nil {
				err = fmt.Errorf("close channel %s: %w", s.topic.Name, closeErr)
			}
		}
	})
	return err
}

func (s *Subscription) deliver(raw RawChange) {
	s.deliverMu.RLock()
	defer s.deliverMu.RUnlock()
	if s.closed {
		return
	}
	if !s.topic.Accepts(raw) {
		return
	}
	change, err := Normalize(raw)
	if err != nil {
		s.logger.Debug("drop undecodable change",
			zap.String("topic", s.topic.Name),
			zap.String("table", raw.Table),
			zap.Error(err),
		)
		return
	}
	if err := runSafely("subscription "+s.topic.Name, func() error {
		s.onChange(change)
		return nil
	}); err != nil {
		s.logger.Error("change handler failed", zap.String("topic", s.topic.Name), zap.Error(err))
	}
}
