// Package sqlbackend implements feedcache.Backend and feedcache.Mutator over
// database/sql for postgres (pgx), mysql and sqlite.
//
// Example:
//
//	store, err := sqlbackend.New(ctx, sqlbackend.Config{DriverName: "sqlite", DSN: "file:feed.db"})
//	if err != nil {
//		return err
//	}
//	defer store.Close()
//	ctrl, err := feedcache.NewController(nil, store, subs)
package sqlbackend
