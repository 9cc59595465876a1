// Command feedwatch prints a location-scoped feed and keeps it current as
// changes arrive over NATS or Redis.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/goforj/feedcache"
	"go.uber.org/zap"
)

func main() {
	var (
		name         string
		neighborhood string
		city         string
		state        string
		scope        string
		postType     string
		interval     time.Duration
		once         bool
		autoRefresh  bool
	)
	flag.StringVar(&name, "name", "home", "feed context name")
	flag.StringVar(&neighborhood, "neighborhood", "", "neighborhood of the feed location")
	flag.StringVar(&city, "city", "", "city of the feed location")
	flag.StringVar(&state, "state", "", "state of the feed location")
	flag.StringVar(&scope, "scope", string(feedcache.ScopeNeighborhood), "feed scope (neighborhood, city, state)")
	flag.StringVar(&postType, "type", string(feedcache.PostTypeAll), "post type filter")
	flag.DurationVar(&interval, "interval", time.Second, "how often to check the feed for changes")
	flag.BoolVar(&once, "once", false, "print the feed once and exit")
	flag.BoolVar(&autoRefresh, "auto-refresh", false, "refresh automatically when new posts arrive")
	flag.Parse()

	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	logger, err := newLogger(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	parsedScope, err := feedcache.ParseScope(scope)
	if err != nil {
		logger.Fatal("invalid scope", zap.Error(err))
	}
	parsedType, err := feedcache.ParsePostType(postType)
	if err != nil {
		logger.Fatal("invalid post type", zap.Error(err))
	}
	if interval <= 0 {
		interval = time.Second
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("start feedwatch", zap.Error(err))
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := a.close(shutdownCtx); err != nil {
			logger.Warn("shutdown", zap.Error(err))
		}
	}()

	err = a.watch(ctx, os.Stdout, watchOptions{
		name: name,
		query: feedcache.Query{
			Location: feedcache.LocationKey{Neighborhood: neighborhood, City: city, State: state},
			Scope:    parsedScope,
			Type:     parsedType,
		},
		interval:    interval,
		once:        once,
		autoRefresh: autoRefresh,
	})
	if err != nil {
		logger.Error("watch", zap.Error(err))
	}
}
