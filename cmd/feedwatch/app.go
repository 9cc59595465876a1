package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/goforj/feedcache"
	"github.com/goforj/feedcache/driver/natschannel"
	"github.com/goforj/feedcache/driver/redischannel"
	"github.com/goforj/feedcache/driver/sqlbackend"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

type app struct {
	cfg     config
	logger  *zap.Logger
	store   *sqlbackend.Store
	subs    *feedcache.SubscriptionManager
	ctrl    *feedcache.Controller
	closers []func() error
}

type watchOptions struct {
	name        string
	query       feedcache.Query
	interval    time.Duration
	once        bool
	autoRefresh bool
}

func newApp(ctx context.Context, cfg config, logger *zap.Logger) (*app, error) {
	a := &app{cfg: cfg, logger: logger}

	store, err := sqlbackend.New(ctx, sqlbackend.Config{
		DriverName: cfg.SQLDriver,
		DSN:        cfg.SQLDSN,
		Logger:     logger.Named("sql"),
	})
	if err != nil {
		return nil, err
	}
	a.store = store
	a.closers = append(a.closers, store.Close)

	opener, err := a.openPush()
	if err != nil {
		_ = a.close(ctx)
		return nil, err
	}
	opts := []feedcache.Option{feedcache.WithConfig(cfg.Feed), feedcache.WithLogger(logger)}
	if opener != nil {
		a.subs = feedcache.NewSubscriptionManager(opener, opts...)
	}
	ctrl, err := feedcache.NewController(nil, store, a.subs, opts...)
	if err != nil {
		_ = a.close(ctx)
		return nil, err
	}
	a.ctrl = ctrl
	return a, nil
}

func (a *app) openPush() (feedcache.ChannelOpener, error) {
	switch a.cfg.PushDriver {
	case "nats":
		conn, err := nats.Connect(a.cfg.NATSURL, nats.Name("feedwatch"))
		if err != nil {
			return nil, fmt.Errorf("connect nats: %w", err)
		}
		a.closers = append(a.closers, func() error {
			conn.Close()
			return nil
		})
		return natschannel.New(natschannel.Config{
			Conn:          conn,
			SubjectPrefix: a.cfg.NATSSubjectPrefix,
			Logger:        a.logger.Named("nats"),
		}), nil
	case "redis":
		client := redis.NewClient(&redis.Options{Addr: a.cfg.RedisAddr})
		a.closers = append(a.closers, client.Close)
		return redischannel.New(redischannel.Config{
			Client:        client,
			ChannelPrefix: a.cfg.RedisChannelPrefix,
			Logger:        a.logger.Named("redis"),
		}), nil
	default:
		return nil, nil
	}
}

// watch activates one feed, prints it, and keeps printing whenever it changes
// until ctx ends.
func (a *app) watch(ctx context.Context, out io.Writer, opts watchOptions) error {
	if err := a.ctrl.Activate(ctx, opts.name, opts.query); err != nil {
		return err
	}
	snap, err := a.ctrl.Load(ctx, opts.name, opts.query)
	if err != nil {
		return err
	}
	printSnapshot(out, snap, a.ctrl.Cache())
	if opts.once {
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return a.ctrl.Run(gctx)
	})
	g.Go(func() error {
		ticker := time.NewTicker(opts.interval)
		defer ticker.Stop()
		last := fingerprint(snap)
		for {
			select {
			case <-gctx.Done():
				return gctx.Err()
			case <-ticker.C:
			}
			current, ok := a.ctrl.Snapshot(opts.name)
			if !ok {
				return nil
			}
			if opts.autoRefresh && current.State == feedcache.StateStaleMarked {
				refreshed, err := a.ctrl.Refresh(gctx, opts.name, opts.query)
				if err != nil && !errors.Is(err, feedcache.ErrSuperseded) {
					a.logger.Warn("refresh failed", zap.Error(err))
				} else if err == nil {
					current = refreshed
				}
			}
			if fp := fingerprint(current); fp != last {
				last = fp
				printSnapshot(out, current, a.ctrl.Cache())
			}
		}
	})
	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (a *app) close(ctx context.Context) error {
	var errs []error
	if a.ctrl != nil {
		errs = append(errs, a.ctrl.Close(ctx))
	}
	if a.subs != nil {
		errs = append(errs, a.subs.Close(ctx))
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	return errors.Join(errs...)
}

func fingerprint(s feedcache.Snapshot) string {
	fp := fmt.Sprintf("%s|%d|%t|%d", s.State, s.Unread, s.Retryable, len(s.Posts))
	for _, p := range s.Posts {
		fp += fmt.Sprintf("|%s:%d:%d:%t:%t", p.ID, p.LikeCount, p.CommentCount, p.IsLiked, p.IsSaved)
	}
	return fp
}

func printSnapshot(out io.Writer, s feedcache.Snapshot, cache *feedcache.FeedCache) {
	fmt.Fprintf(out, "== %s [%s] %s scope=%s type=%s live=%t\n", s.Name, s.State, s.Query.Location, s.Query.Scope, s.Query.Type, s.Live)
	if s.Unread > 0 {
		fmt.Fprintf(out, "   %d new post(s), refresh to see them\n", s.Unread)
	}
	if s.Retryable {
		fmt.Fprintf(out, "   last load failed: %v\n", s.Err)
	}
	for _, p := range s.Posts {
		marks := ""
		if p.IsLiked {
			marks += " liked"
		}
		if p.IsSaved {
			marks += " saved"
		}
		fmt.Fprintf(out, "   %s  %-11s likes=%d comments=%d%s  %s\n", p.ID, p.Type, p.LikeCount, p.CommentCount, marks, p.Content)
	}
	stats := cache.Stats()
	fmt.Fprintf(out, "   cache: hits=%d misses=%d size=%d ttl=%s\n", stats.Hits, stats.Misses, stats.Size, cache.TTL())
}
