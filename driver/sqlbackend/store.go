package sqlbackend

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/goforj/feedcache"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
)

var identPartRE = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Config configures a SQL-backed feed backend.
type Config struct {
	// DriverName selects the SQL dialect: "pgx", "postgres", "mysql" or "sqlite".
	DriverName string
	DSN        string
	// DB is used instead of opening DSN when set. The caller keeps ownership.
	DB *sql.DB
	// TablePrefix is prepended to the posts, likes, comments and saves tables.
	TablePrefix string
	Logger      *zap.Logger
	Clock       clockwork.Clock
}

type tables struct {
	posts    string
	likes    string
	comments string
	saves    string
}

// Store serves feed reads and viewer mutations from SQL tables.
type Store struct {
	db         *sql.DB
	ownsDB     bool
	driverName string
	tables     tables
	logger     *zap.Logger
	clock      clockwork.Clock
}

var (
	_ feedcache.Backend = (*Store)(nil)
	_ feedcache.Mutator = (*Store)(nil)
)

// New opens (or adopts) a database, verifies connectivity and creates the
// schema when missing.
//
// Defaults:
// - Logger: no-op when nil
// - Clock: real clock when nil
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.DriverName == "" {
		return nil, errors.New("sqlbackend: driver name is required")
	}
	if cfg.DB == nil && cfg.DSN == "" {
		return nil, errors.New("sqlbackend: dsn is required")
	}
	names := tables{
		posts:    cfg.TablePrefix + "posts",
		likes:    cfg.TablePrefix + "likes",
		comments: cfg.TablePrefix + "comments",
		saves:    cfg.TablePrefix + "saves",
	}
	for _, name := range []string{names.posts, names.likes, names.comments, names.saves} {
		if err := validateTableName(name); err != nil {
			return nil, err
		}
	}

	db, owns := cfg.DB, false
	if db == nil {
		var err error
		db, err = sql.Open(cfg.DriverName, cfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("sqlbackend: open %s: %w", cfg.DriverName, err)
		}
		owns = true
	}
	s := &Store{
		db:         db,
		ownsDB:     owns,
		driverName: cfg.DriverName,
		tables:     names,
		logger:     cfg.Logger,
		clock:      cfg.Clock,
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	if s.clock == nil {
		s.clock = clockwork.NewRealClock()
	}
	if err := db.PingContext(ctx); err != nil {
		s.closeOwned()
		return nil, fmt.Errorf("sqlbackend: ping: %w", err)
	}
	if err := s.ensureSchema(ctx); err != nil {
		s.closeOwned()
		return nil, fmt.Errorf("sqlbackend: ensure schema: %w", err)
	}
	return s, nil
}

// Close releases the database when the store opened it.
func (s *Store) Close() error {
	if !s.ownsDB {
		return nil
	}
	return s.db.Close()
}

func (s *Store) closeOwned() {
	if s.ownsDB {
		_ = s.db.Close()
	}
}

// FetchPosts returns the newest rows inside q, newest first.
func (s *Store) FetchPosts(ctx context.Context, q feedcache.Query, limit int) ([]feedcache.Row, error) {
	query, args := s.fetchPostsSQL(q, limit)
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("fetch posts: %w", err)
	}
	defer rows.Close()

	out := make([]feedcache.Row, 0)
	for rows.Next() {
		var (
			row                  feedcache.Row
			postType             string
			createdAt, updatedAt int64
		)
		if err := rows.Scan(
			&row.ID,
			&row.Author.ID,
			&row.Author.Name,
			&row.Author.AvatarURL,
			&row.Content,
			&postType,
			&row.Location.Neighborhood,
			&row.Location.City,
			&row.Location.State,
			&createdAt,
			&updatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan post: %w", err)
		}
		row.Type = feedcache.PostType(postType)
		row.CreatedAt = time.UnixMilli(createdAt).UTC()
		row.UpdatedAt = time.UnixMilli(updatedAt).UTC()
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("fetch posts: %w", err)
	}
	return out, nil
}

func (s *Store) fetchPostsSQL(q feedcache.Query, limit int) (string, []any) {
	var (
		conds []string
		args  []any
	)
	match := func(column, value string) {
		value = strings.TrimSpace(value)
		if value == "" {
			return
		}
		args = append(args, value)
		conds = append(conds, fmt.Sprintf("LOWER(%s) = LOWER(%s)", column, s.ph(len(args))))
	}
	switch q.Scope {
	case feedcache.ScopeNeighborhood:
		match("neighborhood", q.Location.Neighborhood)
		match("city", q.Location.City)
		match("state", q.Location.State)
	case feedcache.ScopeCity:
		match("city", q.Location.City)
		match("state", q.Location.State)
	case feedcache.ScopeState:
		match("state", q.Location.State)
	}
	if q.Type != "" && q.Type != feedcache.PostTypeAll {
		args = append(args, string(q.Type))
		conds = append(conds, "post_type = "+s.ph(len(args)))
	}

	var b strings.Builder
	fmt.Fprintf(&b, "SELECT id, author_id, author_name, author_avatar, content, post_type, neighborhood, city, state, created_at, updated_at FROM %s", s.tables.posts)
	if len(conds) > 0 {
		b.WriteString(" WHERE ")
		b.WriteString(strings.Join(conds, " AND "))
	}
	b.WriteString(" ORDER BY created_at DESC, id DESC")
	if limit > 0 {
		fmt.Fprintf(&b, " LIMIT %d", limit)
	}
	return b.String(), args
}

// FetchAggregate counts likes or comments for postID.
func (s *Store) FetchAggregate(ctx context.Context, postID string, kind feedcache.AggregateKind) (int, error) {
	var table string
	switch kind {
	case feedcache.AggregateLikes:
		table = s.tables.likes
	case feedcache.AggregateComments:
		table = s.tables.comments
	default:
		return 0, fmt.Errorf("unknown aggregate %q", kind)
	}
	var count int
	query := fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE post_id = %s", table, s.ph(1))
	if err := s.db.QueryRowContext(ctx, query, postID).Scan(&count); err != nil {
		return 0, fmt.Errorf("fetch %s for %s: %w", kind, postID, err)
	}
	return count, nil
}

// FetchViewerState reports whether userID liked and saved postID.
func (s *Store) FetchViewerState(ctx context.Context, postID, userID string) (feedcache.ViewerState, error) {
	query := fmt.Sprintf(
		"SELECT (SELECT COUNT(*) FROM %s WHERE post_id = %s AND user_id = %s), (SELECT COUNT(*) FROM %s WHERE post_id = %s AND user_id = %s)",
		s.tables.likes, s.ph(1), s.ph(2), s.tables.saves, s.ph(3), s.ph(4),
	)
	var liked, saved int
	if err := s.db.QueryRowContext(ctx, query, postID, userID, postID, userID).Scan(&liked, &saved); err != nil {
		return feedcache.ViewerState{}, fmt.Errorf("fetch viewer state for %s: %w", postID, err)
	}
	return feedcache.ViewerState{Liked: liked > 0, Saved: saved > 0}, nil
}

func (s *Store) Like(ctx context.Context, postID, userID string) error {
	return s.mark(ctx, s.tables.likes, postID, userID)
}

func (s *Store) Unlike(ctx context.Context, postID, userID string) error {
	return s.unmark(ctx, s.tables.likes, postID, userID)
}

func (s *Store) Save(ctx context.Context, postID, userID string) error {
	return s.mark(ctx, s.tables.saves, postID, userID)
}

func (s *Store) Unsave(ctx context.Context, postID, userID string) error {
	return s.unmark(ctx, s.tables.saves, postID, userID)
}

func (s *Store) mark(ctx context.Context, table, postID, userID string) error {
	_, err := s.db.ExecContext(ctx, s.insertIgnoreSQL(table), postID, userID, s.clock.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("insert %s: %w", table, err)
	}
	return nil
}

func (s *Store) unmark(ctx context.Context, table, postID, userID string) error {
	query := fmt.Sprintf("DELETE FROM %s WHERE post_id = %s AND user_id = %s", table, s.ph(1), s.ph(2))
	if _, err := s.db.ExecContext(ctx, query, postID, userID); err != nil {
		return fmt.Errorf("delete %s: %w", table, err)
	}
	return nil
}

func (s *Store) insertIgnoreSQL(table string) string {
	p1, p2, p3 := s.ph(1), s.ph(2), s.ph(3)
	switch s.driverName {
	case "postgres", "pgx":
		return fmt.Sprintf("INSERT INTO %s (post_id, user_id, created_at) VALUES (%s, %s, %s) ON CONFLICT DO NOTHING", table, p1, p2, p3)
	case "mysql":
		return fmt.Sprintf("INSERT IGNORE INTO %s (post_id, user_id, created_at) VALUES (%s, %s, %s)", table, p1, p2, p3)
	default: // sqlite
		return fmt.Sprintf("INSERT OR IGNORE INTO %s (post_id, user_id, created_at) VALUES (%s, %s, %s)", table, p1, p2, p3)
	}
}

// InsertPost stores row. Zero timestamps are filled from the clock.
func (s *Store) InsertPost(ctx context.Context, row feedcache.Row) error {
	if row.ID == "" {
		return errors.New("post id is required")
	}
	now := s.clock.Now()
	if row.CreatedAt.IsZero() {
		row.CreatedAt = now
	}
	if row.UpdatedAt.IsZero() {
		row.UpdatedAt = row.CreatedAt
	}
	query := fmt.Sprintf(
		"INSERT INTO %s (id, author_id, author_name, author_avatar, content, post_type, neighborhood, city, state, created_at, updated_at) VALUES (%s)",
		s.tables.posts, s.placeholders(11),
	)
	_, err := s.db.ExecContext(ctx, query,
		row.ID,
		row.Author.ID,
		row.Author.Name,
		row.Author.AvatarURL,
		row.Content,
		string(row.Type),
		row.Location.Neighborhood,
		row.Location.City,
		row.Location.State,
		row.CreatedAt.UnixMilli(),
		row.UpdatedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("insert post %s: %w", row.ID, err)
	}
	return nil
}

// DeletePost removes a post with its likes, saves and comments.
func (s *Store) DeletePost(ctx context.Context, postID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, table := range []string{s.tables.likes, s.tables.saves, s.tables.comments} {
		query := fmt.Sprintf("DELETE FROM %s WHERE post_id = %s", table, s.ph(1))
		if _, err := tx.ExecContext(ctx, query, postID); err != nil {
			return fmt.Errorf("delete %s for %s: %w", table, postID, err)
		}
	}
	query := fmt.Sprintf("DELETE FROM %s WHERE id = %s", s.tables.posts, s.ph(1))
	if _, err := tx.ExecContext(ctx, query, postID); err != nil {
		return fmt.Errorf("delete post %s: %w", postID, err)
	}
	return tx.Commit()
}

// AddComment stores a comment and returns its id.
func (s *Store) AddComment(ctx context.Context, postID, userID, body string) (string, error) {
	id := uuid.NewString()
	query := fmt.Sprintf("INSERT INTO %s (id, post_id, user_id, body, created_at) VALUES (%s)", s.tables.comments, s.placeholders(5))
	if _, err := s.db.ExecContext(ctx, query, id, postID, userID, body, s.clock.Now().UnixMilli()); err != nil {
		return "", fmt.Errorf("insert comment: %w", err)
	}
	return id, nil
}

func (s *Store) placeholders(n int) string {
	parts := make([]string, n)
	for i := range parts {
		parts[i] = s.ph(i + 1)
	}
	return strings.Join(parts, ", ")
}

func (s *Store) ph(i int) string {
	if s.driverName == "postgres" || s.driverName == "pgx" {
		return fmt.Sprintf("$%d", i)
	}
	return "?"
}

func validateTableName(name string) error {
	if strings.TrimSpace(name) == "" {
		return errors.New("sql table name is required")
	}
	for _, part := range strings.Split(name, ".") {
		if !identPartRE.MatchString(part) {
			return fmt.Errorf("invalid sql table name %q", name)
		}
	}
	return nil
}
