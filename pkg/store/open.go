package store

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

// Driver names accepted by Open.
const (
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres" // lib/pq
	DriverPGX      = "pgx"      // jackc/pgx stdlib
	DriverMySQL    = "mysql"
	DriverMongo    = "mongo"
)

// Drivers lists every driver name Open understands.
func Drivers() []string {
	return []string{DriverMemory, DriverSQLite, DriverPostgres, DriverPGX, DriverMySQL, DriverMongo}
}

// Open returns a store for driver and dsn.
//
//   - memory: dsn ignored, nothing persisted
//   - sqlite: dsn is a file path; parent directories are created
//   - postgres, pgx, mysql: dsn is passed to the driver unchanged
//   - mongo: dsn is a mongodb:// URI; the database name comes from its
//     path, defaulting to "displaysync"
func Open(ctx context.Context, driver, dsn string, opts ...SQLStoreOption) (Store, error) {
	switch driver {
	case DriverMemory:
		return NewMemoryStore(), nil

	case DriverMongo:
		s, err := OpenMongoStore(ctx, dsn, mongoDatabase(dsn))
		if err != nil {
			return nil, err
		}
		return s, nil

	case DriverSQLite:
		if dsn == "" {
			return nil, fmt.Errorf("store: sqlite requires a file path")
		}
		if dir := filepath.Dir(sqlitePath(dsn)); dir != "" {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("store: create db directory: %w", err)
			}
		}
		db, err := sql.Open(DriverSQLite, sqliteDSN(dsn))
		if err != nil {
			return nil, fmt.Errorf("store: open sqlite: %w", err)
		}
		// SQLite only supports one writer.
		db.SetMaxOpenConns(1)
		return newOwnedSQLStore(ctx, db, DialectSQLite, opts)
	}

	dialect, err := DialectForDriver(driver)
	if err != nil {
		return nil, err
	}
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", driver, err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: ping %s: %w", driver, err)
	}
	return newOwnedSQLStore(ctx, db, dialect, opts)
}

func newOwnedSQLStore(ctx context.Context, db *sql.DB, dialect SQLDialect, opts []SQLStoreOption) (Store, error) {
	opts = append([]SQLStoreOption{WithSQLDialect(dialect), WithOwnedDB()}, opts...)
	s, err := NewSQLStore(ctx, db, opts...)
	if err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func sqlitePath(dsn string) string {
	dsn = strings.TrimPrefix(dsn, "file:")
	if i := strings.IndexByte(dsn, '?'); i >= 0 {
		dsn = dsn[:i]
	}
	return dsn
}

// sqliteDSN adds WAL and a busy timeout unless the caller set pragmas.
func sqliteDSN(dsn string) string {
	if strings.Contains(dsn, "_pragma=") {
		return dsn
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + "_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
}

func mongoDatabase(uri string) string {
	u, err := url.Parse(uri)
	if err != nil {
		return "displaysync"
	}
	if name := strings.Trim(u.Path, "/"); name != "" {
		return name
	}
	return "displaysync"
}
