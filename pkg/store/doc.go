// Package store persists library items and the canvas layout.
//
// Three backends implement Store:
//
//   - MemoryStore: process memory, for tests and ephemeral runs
//   - SQLStore: any database/sql driver (SQLite, PostgreSQL via lib/pq
//     or pgx, MySQL)
//   - MongoStore: a MongoDB database
//
// Open picks a backend by driver name:
//
//	st, err := store.Open(ctx, "sqlite", "data/library.db")
//	if err != nil {
//	    return err
//	}
//	defer st.Close()
//
// Live presentation state is never persisted here; only the library and
// the layout survive a restart.
package store
