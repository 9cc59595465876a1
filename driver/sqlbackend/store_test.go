package sqlbackend

import (
	"context"
	"database/sql"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/goforj/feedcache"
	"github.com/jonboulle/clockwork"
)

var (
	ikoyi   = feedcache.LocationKey{Neighborhood: "Ikoyi", City: "Lagos", State: "Lagos"}
	lekki   = feedcache.LocationKey{Neighborhood: "Lekki", City: "Lagos", State: "Lagos"}
	wuse    = feedcache.LocationKey{Neighborhood: "Wuse", City: "Abuja", State: "FCT"}
	baseNow = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
)

func newSQLiteStore(t *testing.T) (*Store, clockwork.FakeClock) {
	t.Helper()
	clock := clockwork.NewFakeClockAt(baseNow)
	store, err := New(context.Background(), Config{
		DriverName: "sqlite",
		DSN:        "file:" + filepath.Join(t.TempDir(), "feed.db"),
		Clock:      clock,
	})
	if err != nil {
		t.Fatalf("new store failed: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store, clock
}

func insertPost(t *testing.T, s *Store, id string, loc feedcache.LocationKey, postType feedcache.PostType, at time.Time) {
	t.Helper()
	err := s.InsertPost(context.Background(), feedcache.Row{
		ID:        id,
		Author:    feedcache.Author{ID: "u-" + id, Name: "Neighbor"},
		Content:   "hello from " + id,
		Type:      postType,
		Location:  loc,
		CreatedAt: at,
	})
	if err != nil {
		t.Fatalf("insert post failed: %v", err)
	}
}

func ids(rows []feedcache.Row) string {
	out := make([]string, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.ID)
	}
	return strings.Join(out, ",")
}

func TestNewValidatesConfig(t *testing.T) {
	ctx := context.Background()
	if _, err := New(ctx, Config{DSN: "x"}); err == nil {
		t.Fatalf("expected error for missing driver name")
	}
	if _, err := New(ctx, Config{DriverName: "sqlite"}); err == nil {
		t.Fatalf("expected error for missing dsn")
	}
	if _, err := New(ctx, Config{DriverName: "sqlite", DSN: "file::memory:", TablePrefix: "bad-prefix;"}); err == nil {
		t.Fatalf("expected error for invalid table prefix")
	}
}

func TestNewAdoptsDBWithoutOwningIt(t *testing.T) {
	db, err := sql.Open("sqlite", "file:"+filepath.Join(t.TempDir(), "shared.db"))
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	defer db.Close()

	store, err := New(context.Background(), Config{DriverName: "sqlite", DB: db, TablePrefix: "nb_"})
	if err != nil {
		t.Fatalf("new store failed: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}
	if err := db.Ping(); err != nil {
		t.Fatalf("expected adopted db to stay open: %v", err)
	}
	var name string
	if err := db.QueryRow("SELECT name FROM sqlite_master WHERE type = 'table' AND name = 'nb_posts'").Scan(&name); err != nil {
		t.Fatalf("expected prefixed posts table: %v", err)
	}
}

func TestFetchPostsScopesAndOrder(t *testing.T) {
	s, _ := newSQLiteStore(t)
	ctx := context.Background()
	insertPost(t, s, "p1", ikoyi, feedcache.PostTypeGeneral, baseNow.Add(1*time.Minute))
	insertPost(t, s, "p2", lekki, feedcache.PostTypeSafety, baseNow.Add(2*time.Minute))
	insertPost(t, s, "p3", ikoyi, feedcache.PostTypeSafety, baseNow.Add(3*time.Minute))
	insertPost(t, s, "p4", wuse, feedcache.PostTypeGeneral, baseNow.Add(4*time.Minute))

	cases := []struct {
		name  string
		query feedcache.Query
		want  string
	}{
		{"neighborhood", feedcache.Query{Location: ikoyi, Scope: feedcache.ScopeNeighborhood, Type: feedcache.PostTypeAll}, "p3,p1"},
		{"city", feedcache.Query{Location: ikoyi, Scope: feedcache.ScopeCity, Type: feedcache.PostTypeAll}, "p3,p2,p1"},
		{"state", feedcache.Query{Location: wuse, Scope: feedcache.ScopeState, Type: feedcache.PostTypeAll}, "p4"},
		{"type filter", feedcache.Query{Location: ikoyi, Scope: feedcache.ScopeCity, Type: feedcache.PostTypeSafety}, "p3,p2"},
		{"case insensitive", feedcache.Query{Location: feedcache.LocationKey{City: "LAGOS"}, Scope: feedcache.ScopeCity, Type: feedcache.PostTypeAll}, "p3,p2,p1"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rows, err := s.FetchPosts(ctx, tc.query, 20)
			if err != nil {
				t.Fatalf("fetch failed: %v", err)
			}
			if got := ids(rows); got != tc.want {
				t.Fatalf("expected %s, got %s", tc.want, got)
			}
		})
	}

	rows, err := s.FetchPosts(ctx, feedcache.Query{Location: ikoyi, Scope: feedcache.ScopeCity, Type: feedcache.PostTypeAll}, 2)
	if err != nil {
		t.Fatalf("fetch failed: %v", err)
	}
	if got := ids(rows); got != "p3,p2" {
		t.Fatalf("expected limit to keep newest, got %s", got)
	}
	if !rows[0].CreatedAt.Equal(baseNow.Add(3*time.Minute)) || rows[0].Location != ikoyi || rows[0].Author.ID != "u-p3" {
		t.Fatalf("row fields not round-tripped: %+v", rows[0])
	}
}

func TestAggregatesAndViewerState(t *testing.T) {
	s, _ := newSQLiteStore(t)
	ctx := context.Background()
	insertPost(t, s, "p1", ikoyi, feedcache.PostTypeGeneral, time.Time{})

	for _, user := range []string{"u1", "u2", "u2"} {
		if err := s.Like(ctx, "p1", user); err != nil {
			t.Fatalf("like failed: %v", err)
		}
	}
	if _, err := s.AddComment(ctx, "p1", "u3", "nice"); err != nil {
		t.Fatalf("comment failed: %v", err)
	}
	if err := s.Save(ctx, "p1", "u1"); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	likes, err := s.FetchAggregate(ctx, "p1", feedcache.AggregateLikes)
	if err != nil || likes != 2 {
		t.Fatalf("expected 2 likes, got %d err=%v", likes, err)
	}
	comments, err := s.FetchAggregate(ctx, "p1", feedcache.AggregateComments)
	if err != nil || comments != 1 {
		t.Fatalf("expected 1 comment, got %d err=%v", comments, err)
	}
	if _, err := s.FetchAggregate(ctx, "p1", feedcache.AggregateKind("shares")); err == nil {
		t.Fatalf("expected error for unknown aggregate")
	}

	state, err := s.FetchViewerState(ctx, "p1", "u1")
	if err != nil {
		t.Fatalf("viewer state failed: %v", err)
	}
	if !state.Liked || !state.Saved {
		t.Fatalf("expected liked and saved, got %+v", state)
	}

	if err := s.Unlike(ctx, "p1", "u1"); err != nil {
		t.Fatalf("unlike failed: %v", err)
	}
	if err := s.Unsave(ctx, "p1", "u1"); err != nil {
		t.Fatalf("unsave failed: %v", err)
	}
	state, err = s.FetchViewerState(ctx, "p1", "u1")
	if err != nil {
		t.Fatalf("viewer state failed: %v", err)
	}
	if state.Liked || state.Saved {
		t.Fatalf("expected cleared viewer state, got %+v", state)
	}
}

func TestInsertPostFillsTimestampsFromClock(t *testing.T) {
	s, clock := newSQLiteStore(t)
	ctx := context.Background()
	clock.Advance(time.Hour)
	insertPost(t, s, "p1", ikoyi, feedcache.PostTypeGeneral, time.Time{})

	rows, err := s.FetchPosts(ctx, feedcache.Query{Location: ikoyi, Scope: feedcache.ScopeNeighborhood, Type: feedcache.PostTypeAll}, 1)
	if err != nil || len(rows) != 1 {
		t.Fatalf("fetch failed: rows=%d err=%v", len(rows), err)
	}
	want := baseNow.Add(time.Hour)
	if !rows[0].CreatedAt.Equal(want) || !rows[0].UpdatedAt.Equal(want) {
		t.Fatalf("expected timestamps %v, got %+v", want, rows[0])
	}
	if err := s.InsertPost(ctx, feedcache.Row{}); err == nil {
		t.Fatalf("expected error for missing id")
	}
}

func TestDeletePostRemovesDependents(t *testing.T) {
	s, _ := newSQLiteStore(t)
	ctx := context.Background()
	insertPost(t, s, "p1", ikoyi, feedcache.PostTypeGeneral, time.Time{})
	_ = s.Like(ctx, "p1", "u1")
	_, _ = s.AddComment(ctx, "p1", "u1", "hi")

	if err := s.DeletePost(ctx, "p1"); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	rows, err := s.FetchPosts(ctx, feedcache.Query{Location: ikoyi, Scope: feedcache.ScopeNeighborhood, Type: feedcache.PostTypeAll}, 10)
	if err != nil || len(rows) != 0 {
		t.Fatalf("expected no rows, got %d err=%v", len(rows), err)
	}
	likes, _ := s.FetchAggregate(ctx, "p1", feedcache.AggregateLikes)
	comments, _ := s.FetchAggregate(ctx, "p1", feedcache.AggregateComments)
	if likes != 0 || comments != 0 {
		t.Fatalf("expected dependents removed, likes=%d comments=%d", likes, comments)
	}
}

func TestControllerLoadsFromSQL(t *testing.T) {
	s, _ := newSQLiteStore(t)
	ctx := context.Background()
	insertPost(t, s, "p1", ikoyi, feedcache.PostTypeGeneral, baseNow)
	_ = s.Like(ctx, "p1", "viewer")

	ctrl, err := feedcache.NewController(nil, s, nil, feedcache.WithViewer("viewer"))
	if err != nil {
		t.Fatalf("new controller failed: %v", err)
	}
	defer ctrl.Close(ctx)

	q := feedcache.Query{Location: ikoyi, Scope: feedcache.ScopeNeighborhood, Type: feedcache.PostTypeAll}
	if err := ctrl.Activate(ctx, "home", q); err != nil {
		t.Fatalf("activate failed: %v", err)
	}
	snap, err := ctrl.Load(ctx, "home", q)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if len(snap.Posts) != 1 || snap.Posts[0].LikeCount != 1 || !snap.Posts[0].IsLiked {
		t.Fatalf("unexpected projected posts: %+v", snap.Posts)
	}
}

func TestPlaceholderDialects(t *testing.T) {
	pg := &Store{driverName: "pgx", tables: tables{posts: "posts"}}
	query, args := pg.fetchPostsSQL(feedcache.Query{Location: ikoyi, Scope: feedcache.ScopeCity, Type: feedcache.PostTypeHelp}, 5)
	if !strings.Contains(query, "LOWER(city) = LOWER($1)") || !strings.Contains(query, "post_type = $3") || !strings.HasSuffix(query, "LIMIT 5") {
		t.Fatalf("unexpected postgres query: %s", query)
	}
	if len(args) != 3 {
		t.Fatalf("expected 3 args, got %d", len(args))
	}
	my := &Store{driverName: "mysql"}
	if got := my.insertIgnoreSQL("likes"); !strings.HasPrefix(got, "INSERT IGNORE INTO likes") || strings.Contains(got, "$") {
		t.Fatalf("unexpected mysql insert: %s", got)
	}
	if got := pg.insertIgnoreSQL("likes"); !strings.Contains(got, "ON CONFLICT DO NOTHING") {
		t.Fatalf("unexpected postgres insert: %s", got)
	}
}
