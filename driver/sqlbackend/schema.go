package sqlbackend

import (
	"context"
	"fmt"
	"strings"
)

func (s *Store) ensureSchema(ctx context.Context) error {
	for _, stmt := range s.schemaSQL() {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) schemaSQL() []string {
	t := s.tables
	switch s.driverName {
	case "postgres", "pgx":
		return []string{
			fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
				id TEXT PRIMARY KEY,
				author_id TEXT NOT NULL,
				author_name TEXT NOT NULL,
				author_avatar TEXT NOT NULL DEFAULT '',
				content TEXT NOT NULL,
				post_type TEXT NOT NULL,
				neighborhood TEXT NOT NULL DEFAULT '',
				city TEXT NOT NULL DEFAULT '',
				state TEXT NOT NULL DEFAULT '',
				created_at BIGINT NOT NULL,
				updated_at BIGINT NOT NULL
			);`, t.posts),
			fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s ON %s (created_at);`, indexName(t.posts, "created"), t.posts),
			fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
				post_id TEXT NOT NULL,
				user_id TEXT NOT NULL,
				created_at BIGINT NOT NULL,
				PRIMARY KEY (post_id, user_id)
			);`, t.likes),
			fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
				post_id TEXT NOT NULL,
				user_id TEXT NOT NULL,
				created_at BIGINT NOT NULL,
				PRIMARY KEY (post_id, user_id)
			);`, t.saves),
			fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
				id TEXT PRIMARY KEY,
				post_id TEXT NOT NULL,
				user_id TEXT NOT NULL,
				body TEXT NOT NULL,
				created_at BIGINT NOT NULL
			);`, t.comments),
			fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s ON %s (post_id);`, indexName(t.comments, "post"), t.comments),
		}
	case "mysql":
		return []string{
			fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
				id VARCHAR(191) PRIMARY KEY,
				author_id VARCHAR(191) NOT NULL,
				author_name VARCHAR(255) NOT NULL,
				author_avatar VARCHAR(1024) NOT NULL DEFAULT '',
				content TEXT NOT NULL,
				post_type VARCHAR(32) NOT NULL,
				neighborhood VARCHAR(191) NOT NULL DEFAULT '',
				city VARCHAR(191) NOT NULL DEFAULT '',
				state VARCHAR(191) NOT NULL DEFAULT '',
				created_at BIGINT NOT NULL,
				updated_at BIGINT NOT NULL,
				INDEX %s (created_at)
			) ENGINE=InnoDB;`, t.posts, indexName(t.posts, "created")),
			fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
				post_id VARCHAR(191) NOT NULL,
				user_id VARCHAR(191) NOT NULL,
				created_at BIGINT NOT NULL,
				PRIMARY KEY (post_id, user_id)
			) ENGINE=InnoDB;`, t.likes),
			fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
				post_id VARCHAR(191) NOT NULL,
				user_id VARCHAR(191) NOT NULL,
				created_at BIGINT NOT NULL,
				PRIMARY KEY (post_id, user_id)
			) ENGINE=InnoDB;`, t.saves),
			fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
				id VARCHAR(64) PRIMARY KEY,
				post_id VARCHAR(191) NOT NULL,
				user_id VARCHAR(191) NOT NULL,
				body TEXT NOT NULL,
				created_at BIGINT NOT NULL,
				INDEX %s (post_id)
			) ENGINE=InnoDB;`, t.comments, indexName(t.comments, "post")),
		}
	default: // sqlite
		return []string{
			fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
				id TEXT PRIMARY KEY,
				author_id TEXT NOT NULL,
				author_name TEXT NOT NULL,
				author_avatar TEXT NOT NULL DEFAULT '',
				content TEXT NOT NULL,
				post_type TEXT NOT NULL,
				neighborhood TEXT NOT NULL DEFAULT '',
				city TEXT NOT NULL DEFAULT '',
				state TEXT NOT NULL DEFAULT '',
				created_at INTEGER NOT NULL,
				updated_at INTEGER NOT NULL
			);`, t.posts),
			fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s ON %s (created_at);`, indexName(t.posts, "created"), t.posts),
			fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
				post_id TEXT NOT NULL,
				user_id TEXT NOT NULL,
				created_at INTEGER NOT NULL,
				PRIMARY KEY (post_id, user_id)
			);`, t.likes),
			fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
				post_id TEXT NOT NULL,
				user_id TEXT NOT NULL,
				created_at INTEGER NOT NULL,
				PRIMARY KEY (post_id, user_id)
			);`, t.saves),
			fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
				id TEXT PRIMARY KEY,
				post_id TEXT NOT NULL,
				user_id TEXT NOT NULL,
				body TEXT NOT NULL,
				created_at INTEGER NOT NULL
			);`, t.comments),
			fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s ON %s (post_id);`, indexName(t.comments, "post"), t.comments),
		}
	}
}

// indexName derives an unqualified index name from a possibly schema-qualified table.
func indexName(table, suffix string) string {
	return "idx_" + strings.ReplaceAll(table, ".", "_") + "_" + suffix
}
