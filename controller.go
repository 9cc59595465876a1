package feedcache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// State is the lifecycle position of one feed context.
type State string

const (
	StateIdle        State = "idle"
	StateLoading     State = "loading"
	StateReady       State = "ready"
	StateStaleMarked State = "stale"
)

// Snapshot is what a view renders for one feed context.
type Snapshot struct {
	Name  string
	Query Query
	State State
	Posts []Post
	// Unread counts inserts seen since the list was last fetched.
	Unread int
	// Retryable is set when the last load failed; Posts still hold the last good list.
	Retryable bool
	Err       error
	// Live reports whether the context receives push changes.
	Live      bool
	FromCache bool
	LoadedAt  time.Time
}

// feedContext is the per-view state guarded by Controller.mu.
type feedContext struct {
	name      string
	query     Query
	state     State
	posts     []Post
	unread    int
	retryable bool
	lastErr   error
	fromCache bool
	loadedAt  time.Time

	alive    bool
	done     chan struct{}
	seq      uint64
	inflight bool
	sub      *Subscription
}

// retire marks fc dead and releases deliveries blocked on the queue for it.
// It requires Controller.mu.
func (fc *feedContext) retire() {
	if !fc.alive {
		return
	}
	fc.alive = false
	close(fc.done)
}

func (fc *feedContext) snapshot() Snapshot {
	state := fc.state
	if fc.inflight {
		state = StateLoading
	}
	return Snapshot{
		Name:      fc.name,
		Query:     fc.query,
		State:     state,
		Posts:     clonePosts(fc.posts),
		Unread:    fc.unread,
		Retryable: fc.retryable,
		Err:       fc.lastErr,
		Live:      fc.sub != nil,
		FromCache: fc.fromCache,
		LoadedAt:  fc.loadedAt,
	}
}

func (fc *feedContext) indexOf(postID string) int {
	for i := range fc.posts {
		if fc.posts[i].ID == postID {
			return i
		}
	}
	return -1
}

// queuedChange is one unit of work for the controller loop. An empty context
// name targets every active context.
type queuedChange struct {
	context string
	change  Change
}

// Controller orchestrates read-through loads against the shared FeedCache and
// applies live changes to the feeds currently on screen.
type Controller struct {
	cache     *FeedCache
	backend   Backend
	subs      *SubscriptionManager
	projector projector
	cfg       Config
	logger    *zap.Logger

	queue     chan queuedChange
	done      chan struct{}
	closeOnce sync.Once

	mu       sync.Mutex
	contexts map[string]*feedContext
	names    map[string]*sync.Mutex
	closed   bool
}

// NewController wires a controller. subs may be nil, in which case contexts run
// without live updates. A nil cache gets a private one built from opts.
func NewController(cache *FeedCache, backend Backend, subs *SubscriptionManager, opts ...Option) (*Controller, error) {
	if backend == nil {
		return nil, ErrNilBackend
	}
	o := buildOptions(opts)
	if cache == nil {
		cache = NewFeedCache(opts...)
	}
	logger := o.Logger.Named("controller")
	return &Controller{
		cache:   cache,
		backend: backend,
		subs:    subs,
		projector: projector{
			backend:     backend,
			viewerID:    o.Config.ViewerID,
			concurrency: o.Config.ProjectionConcurrency,
			logger:      logger,
		},
		cfg:      o.Config,
		logger:   logger,
		queue:    make(chan queuedChange, o.Config.QueueSize),
		done:     make(chan struct{}),
		contexts: make(map[string]*feedContext),
		names:    make(map[string]*sync.Mutex),
	}, nil
}

// Cache returns the shared cache.
func (c *Controller) Cache() *FeedCache { return c.cache }

// Stats returns the shared cache counters.
func (c *Controller) Stats() CacheStats { return c.cache.Stats() }

// Activate creates the named context in Idle and subscribes it to live changes.
// Activating an existing name tears the previous context down first. A failed
// subscription is logged and the context runs without live updates. Activate
// and Deactivate calls for the same name run one at a time.
func (c *Controller) Activate(ctx context.Context, name string, q Query) error {
	if err := q.Validate(); err != nil {
		return fmt.Errorf("activate %s: %w", name, err)
	}

	lock := c.nameLock(name)
	lock.Lock()
	defer lock.Unlock()

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrControllerClosed
	}
	var prevSub *Subscription
	if prev, ok := c.contexts[name]; ok {
		prev.retire()
		prevSub = prev.sub
	}
	fc := &feedContext{name: name, query: q, state: StateIdle, alive: true, done: make(chan struct{})}
	c.contexts[name] = fc
	c.mu.Unlock()

	if prevSub != nil {
		if err := prevSub.Close(ctx); err != nil {
			c.logger.Warn("close previous subscription", zap.String("context", name), zap.Error(err))
		}
	}
	if c.subs == nil {
		return nil
	}

	sub, err := c.subs.Subscribe(ctx, Topic{Name: topicName(name)}, func(change Change) {
		c.enqueue(fc, queuedChange{context: name, change: change})
	})
	if err != nil {
		c.logger.Warn("live updates unavailable", zap.String("context", name), zap.Error(err))
		return nil
	}

	c.mu.Lock()
	attached := fc.alive
	if attached {
		fc.sub = sub
	}
	c.mu.Unlock()
	if !attached {
		return sub.Close(ctx)
	}
	c.logger.Debug("context activated", zap.String("context", name), zap.String("query", q.Key()))
	return nil
}

// Deactivate tears the named context down. Loads still in flight for it are
// discarded when they complete.
func (c *Controller) Deactivate(ctx context.Context, name string) error {
	lock := c.nameLock(name)
	lock.Lock()
	defer lock.Unlock()

	c.mu.Lock()
	fc, ok := c.contexts[name]
	var sub *Subscription
	if ok {
		delete(c.contexts, name)
		fc.retire()
		sub = fc.sub
	}
	c.mu.Unlock()
	if !ok {
		return fmt.Errorf("deactivate %s: %w", name, ErrUnknownContext)
	}
	return sub.Close(ctx)
}

// Snapshot returns the current view state of the named context.
func (c *Controller) Snapshot(name string) (Snapshot, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fc, ok := c.contexts[name]
	if !ok {
		return Snapshot{}, false
	}
	return fc.snapshot(), true
}

// Load serves q for the named context from the cache, or fetches and caches it
// on a miss.
func (c *Controller) Load(ctx context.Context, name string, q Query) (Snapshot, error) {
	return c.load(ctx, name, q, false)
}

// Refresh drops every cached page for q's location and fetches q again. It is
// the only transition out of StaleMarked and resets the unread counter.
func (c *Controller) Refresh(ctx context.Context, name string, q Query) (Snapshot, error) {
	if err := q.Validate(); err != nil {
		return Snapshot{}, fmt.Errorf("refresh %s: %w", name, err)
	}
	removed := c.cache.Invalidate(q.Location)
	c.logger.Debug("invalidated location",
		zap.String("context", name),
		zap.Stringer("location", q.Location),
		zap.Int("entries", removed),
	)
	return c.load(ctx, name, q, true)
}

func (c *Controller) load(ctx context.Context, name string, q Query, force bool) (Snapshot, error) {
	if err := q.Validate(); err != nil {
		return Snapshot{}, fmt.Errorf("load %s: %w", name, err)
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return Snapshot{}, ErrControllerClosed
	}
	fc, ok := c.contexts[name]
	if !ok {
		c.mu.Unlock()
		return Snapshot{}, fmt.Errorf("load %s: %w", name, ErrUnknownContext)
	}
	fc.seq++
	token := fc.seq
	fc.inflight = true
	c.mu.Unlock()

	var (
		posts     []Post
		fromCache bool
		err       error
	)
	if !force {
		posts, fromCache = c.cache.Get(q)
	}
	if !fromCache {
		posts, err = c.fetch(ctx, q)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if !fc.alive {
		return Snapshot{}, fmt.Errorf("load %s: %w", name, ErrContextClosed)
	}
	if token != fc.seq {
		c.logger.Debug("discard superseded load", zap.String("context", name), zap.Uint64("token", token))
		return fc.snapshot(), fmt.Errorf("load %s: %w", name, ErrSuperseded)
	}
	fc.inflight = false

	if err != nil {
		fetchErr := &FetchError{Context: name, Query: q, Err: err}
		fc.retryable = true
		fc.lastErr = fetchErr
		c.logger.Warn("feed fetch failed", zap.String("context", name), zap.String("query", q.Key()), zap.Error(err))
		return fc.snapshot(), fetchErr
	}

	if !fromCache {
		c.cache.Set(q, posts)
	}
	keepStale := fromCache && fc.state == StateStaleMarked && fc.query == q
	fc.query = q
	fc.posts = posts
	fc.fromCache = fromCache
	fc.loadedAt = c.cache.clock.Now()
	fc.retryable = false
	fc.lastErr = nil
	if !keepStale {
		fc.state = StateReady
		fc.unread = 0
	}
	return fc.snapshot(), nil
}

func (c *Controller) fetch(ctx context.Context, q Query) ([]Post, error) {
	rows, err := c.backend.FetchPosts(ctx, q, c.cfg.PageSize)
	if err != nil {
		return nil, err
	}
	return c.projector.project(ctx, rows)
}

// OnRemoteChange queues change for every active context. It blocks while the
// queue is full and returns early when ctx is done or the controller closes.
func (c *Controller) OnRemoteChange(ctx context.Context, change Change) error {
	select {
	case c.queue <- queuedChange{change: change}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-c.done:
		return ErrControllerClosed
	}
}

// enqueue blocks while the queue is full. It gives up once fc is retired so
// that closing fc's subscription never waits on a queue nobody drains.
func (c *Controller) enqueue(fc *feedContext, item queuedChange) {
	select {
	case c.queue <- item:
	case <-fc.done:
		c.logger.Debug("drop change for retired context", zap.String("context", fc.name))
	case <-c.done:
	}
}

// nameLock serializes Activate and Deactivate for one context name.
func (c *Controller) nameLock(name string) *sync.Mutex {
	c.mu.Lock()
	defer c.mu.Unlock()
	lock, ok := c.names[name]
	if !ok {
		lock = &sync.Mutex{}
		c.names[name] = lock
	}
	return lock
}

// Run consumes the change queue until ctx is done or the controller closes.
// Changes are applied one at a time in delivery order.
func (c *Controller) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.done:
			return nil
		case item := <-c.queue:
			c.apply(ctx, item)
		}
	}
}

// Close tears down every context and stops Run.
func (c *Controller) Close(ctx context.Context) error {
	var subs []*Subscription
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		for name, fc := range c.contexts {
			fc.retire()
			if fc.sub != nil {
				subs = append(subs, fc.sub)
			}
			delete(c.contexts, name)
		}
		c.mu.Unlock()
		close(c.done)
	})

	var closeErrs []error
	for _, sub := range subs {
		if err := sub.Close(ctx); err != nil {
			closeErrs = append(closeErrs, err)
		}
	}
	if len(closeErrs) > 0 {
		return fmt.Errorf("close controller: %w", errors.Join(closeErrs...))
	}
	return nil
}

func (c *Controller) apply(ctx context.Context, item queuedChange) {
	c.mu.Lock()
	targets := make([]*feedContext, 0, len(c.contexts))
	for name, fc := range c.contexts {
		if item.context == "" || item.context == name {
			targets = append(targets, fc)
		}
	}
	c.mu.Unlock()

	for _, fc := range targets {
		c.applyTo(ctx, fc, item.change)
	}
}

// applyTo is the invalidation policy. Inserts on posts only flag the view as
// stale; count changes are patched into the displayed list without touching
// the cache.
func (c *Controller) applyTo(ctx context.Context, fc *feedContext, change Change) {
	switch change.Table {
	case TablePosts:
		switch change.Type {
		case EventInsert:
			c.markStale(fc, change)
		case EventUpdate:
			c.patchAggregates(ctx, fc, change.PostID, AggregateLikes, AggregateComments)
		case EventDelete:
			c.removePost(fc, change.PostID)
		default:
			c.ignore(fc, change)
		}
	case TableLikes:
		c.patchAggregates(ctx, fc, change.PostID, AggregateLikes)
		if c.isViewer(change.UserID) {
			c.patchViewerState(ctx, fc, change.PostID)
		}
	case TableComments:
		c.patchAggregates(ctx, fc, change.PostID, AggregateComments)
	case TableSaves:
		if c.isViewer(change.UserID) {
			c.patchViewerState(ctx, fc, change.PostID)
		}
	default:
		c.ignore(fc, change)
	}
}

func (c *Controller) markStale(fc *feedContext, change Change) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !fc.alive || fc.posts == nil {
		return
	}
	if !fc.query.Location.Contains(fc.query.Scope, change.Location) {
		return
	}
	if change.PostType != "" && !fc.query.Type.Matches(change.PostType) {
		return
	}
	if fc.indexOf(change.PostID) >= 0 {
		return
	}
	fc.state = StateStaleMarked
	fc.unread++
	c.logger.Debug("feed marked stale",
		zap.String("context", fc.name),
		zap.String("post", change.PostID),
		zap.Int("unread", fc.unread),
	)
}

func (c *Controller) patchAggregates(ctx context.Context, fc *feedContext, postID string, kinds ...AggregateKind) {
	if !c.displays(fc, postID) {
		return
	}
	counts := make(map[AggregateKind]int, len(kinds))
	for _, kind := range kinds {
		count, err := c.backend.FetchAggregate(ctx, postID, kind)
		if err != nil {
			c.logger.Warn("aggregate patch failed",
				zap.String("context", fc.name),
				zap.String("post", postID),
				zap.String("kind", string(kind)),
				zap.Error(err),
			)
			continue
		}
		counts[kind] = count
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if !fc.alive {
		return
	}
	if i := fc.indexOf(postID); i >= 0 {
		for kind, count := range counts {
			fc.posts[i].setAggregate(kind, count)
		}
	}
}

func (c *Controller) patchViewerState(ctx context.Context, fc *feedContext, postID string) {
	if !c.displays(fc, postID) {
		return
	}
	state, err := c.backend.FetchViewerState(ctx, postID, c.cfg.ViewerID)
	if err != nil {
		c.logger.Warn("viewer state patch failed",
			zap.String("context", fc.name),
			zap.String("post", postID),
			zap.Error(err),
		)
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if !fc.alive {
		return
	}
	if i := fc.indexOf(postID); i >= 0 {
		fc.posts[i].setViewerState(state)
	}
}

func (c *Controller) removePost(fc *feedContext, postID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !fc.alive {
		return
	}
	i := fc.indexOf(postID)
	if i < 0 {
		return
	}
	posts := make([]Post, 0, len(fc.posts)-1)
	posts = append(posts, fc.posts[:i]...)
	fc.posts = append(posts, fc.posts[i+1:]...)
}

func (c *Controller) displays(fc *feedContext, postID string) bool {
	if postID == "" {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return fc.alive && fc.indexOf(postID) >= 0
}

func (c *Controller) isViewer(userID string) bool {
	return userID != "" && userID == c.cfg.ViewerID
}

func (c *Controller) ignore(fc *feedContext, change Change) {
	c.logger.Debug("ignore change",
		zap.String("context", fc.name),
		zap.String("table", string(change.Table)),
		zap.String("type", string(change.Type)),
		zap.String("record", change.RecordID),
	)
}

func topicName(context string) string {
	return "feed:" + context
}
