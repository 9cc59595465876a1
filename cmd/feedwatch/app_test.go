package main

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/goforj/feedcache"
	"go.uber.org/zap"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("FEED_PUSH_DRIVER", "")
	t.Setenv("FEED_PAGE_SIZE", "5")
	cfg, err := loadConfig()
	if err != nil {
		t.Fatalf("load config failed: %v", err)
	}
	if cfg.PushDriver != "none" || cfg.SQLDriver != "sqlite" || cfg.NATSSubjectPrefix != "feed" {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if cfg.Feed.PageSize != 5 {
		t.Fatalf("expected nested feed config to be parsed, got %+v", cfg.Feed)
	}
}

func TestLoadConfigRejectsUnknownDriver(t *testing.T) {
	t.Setenv("FEED_PUSH_DRIVER", "kafka")
	if _, err := loadConfig(); err == nil {
		t.Fatalf("expected error for unknown push driver")
	}
}

func TestNewLoggerLevels(t *testing.T) {
	logger, err := newLogger(config{LogLevel: "debug", LogDevelopment: true})
	if err != nil {
		t.Fatalf("new logger failed: %v", err)
	}
	if !logger.Core().Enabled(zap.DebugLevel) {
		t.Fatalf("expected debug level enabled")
	}
	if _, err := newLogger(config{LogLevel: "loud"}); err == nil {
		t.Fatalf("expected error for unknown level")
	}
}

func TestWatchOncePrintsFeed(t *testing.T) {
	ctx := context.Background()
	cfg := config{
		PushDriver: "none",
		SQLDriver:  "sqlite",
		SQLDSN:     "file:" + filepath.Join(t.TempDir(), "watch.db"),
		Feed:       feedcache.Config{ViewerID: "viewer"},
	}
	a, err := newApp(ctx, cfg, zap.NewNop())
	if err != nil {
		t.Fatalf("new app failed: %v", err)
	}
	defer a.close(ctx)

	loc := feedcache.LocationKey{Neighborhood: "Ikoyi", City: "Lagos"}
	if err := a.store.InsertPost(ctx, feedcache.Row{
		ID:        "p1",
		Author:    feedcache.Author{ID: "u1", Name: "Ada"},
		Content:   "lost cat on Bourdillon",
		Type:      feedcache.PostTypeHelp,
		Location:  loc,
		CreatedAt: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}); err != nil {
		t.Fatalf("insert failed: %v", err)
	}
	if err := a.store.Like(ctx, "p1", "viewer"); err != nil {
		t.Fatalf("like failed: %v", err)
	}

	var out bytes.Buffer
	err = a.watch(ctx, &out, watchOptions{
		name:  "home",
		query: feedcache.Query{Location: loc, Scope: feedcache.ScopeNeighborhood, Type: feedcache.PostTypeAll},
		once:  true,
	})
	if err != nil {
		t.Fatalf("watch failed: %v", err)
	}
	text := out.String()
	for _, want := range []string{"== home [ready]", "p1", "likes=1", "liked", "lost cat", "misses=1", "size=1", "ttl=5m0s"} {
		if !strings.Contains(text, want) {
			t.Fatalf("expected output to contain %q, got:\n%s", want, text)
		}
	}
}

func TestWatchStopsOnCancel(t *testing.T) {
	cfg := config{
		PushDriver: "none",
		SQLDriver:  "sqlite",
		SQLDSN:     "file:" + filepath.Join(t.TempDir(), "watch.db"),
	}
	a, err := newApp(context.Background(), cfg, zap.NewNop())
	if err != nil {
		t.Fatalf("new app failed: %v", err)
	}
	defer a.close(context.Background())

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	var out bytes.Buffer
	err = a.watch(ctx, &out, watchOptions{
		name:     "home",
		query:    feedcache.Query{Location: feedcache.LocationKey{City: "Lagos"}, Scope: feedcache.ScopeCity, Type: feedcache.PostTypeAll},
		interval: 10 * time.Millisecond,
	})
	if err != nil && err != context.DeadlineExceeded {
		t.Fatalf("unexpected watch error: %v", err)
	}
}

func TestFingerprintChangesWithCounts(t *testing.T) {
	a := feedcache.Snapshot{State: feedcache.StateReady, Posts: []feedcache.Post{{ID: "p1"}}}
	b := a
	b.Posts = []feedcache.Post{{ID: "p1", LikeCount: 1}}
	if fingerprint(a) == fingerprint(b) {
		t.Fatalf("expected fingerprint to reflect like count")
	}
}
