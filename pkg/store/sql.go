package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/Giorgiomufen/display-sync/pkg/state"
)

// SQLDialect represents the SQL dialect for query generation.
type SQLDialect int

const (
	// DialectSQLite uses SQLite syntax (? placeholders).
	DialectSQLite SQLDialect = iota
	// DialectPostgreSQL uses PostgreSQL syntax ($1, $2 placeholders).
	DialectPostgreSQL
	// DialectMySQL uses MySQL syntax (? placeholders).
	DialectMySQL
)

// DialectForDriver maps a database/sql driver name to its dialect.
func DialectForDriver(driver string) (SQLDialect, error) {
	switch driver {
	case "sqlite":
		return DialectSQLite, nil
	case "postgres", "pgx":
		return DialectPostgreSQL, nil
	case "mysql":
		return DialectMySQL, nil
	}
	return 0, fmt.Errorf("store: unsupported sql driver %q", driver)
}

// SQLStore keeps items and layout in a relational database.
// It works with any database/sql driver whose dialect is listed above.
// Tables are created on first use:
//
//	CREATE TABLE displaysync_library (
//	    id           VARCHAR(64) PRIMARY KEY,
//	    name         TEXT NOT NULL,
//	    html_content TEXT NOT NULL,
//	    created_at   BIGINT NOT NULL   -- unix nanoseconds
//	);
//	CREATE TABLE displaysync_layout (
//	    display_key VARCHAR(32) PRIMARY KEY,
//	    x INTEGER NOT NULL,
//	    y INTEGER NOT NULL
//	);
type SQLStore struct {
	db         *sql.DB
	dialect    SQLDialect
	libraryTbl string
	layoutTbl  string
	closeDB    bool
	closed     atomic.Bool
	now        func() time.Time
}

// SQLStoreOption configures SQLStore behavior.
type SQLStoreOption func(*sqlStoreConfig)

type sqlStoreConfig struct {
	tablePrefix string
	dialect     SQLDialect
	closeDB     bool
}

// WithSQLTablePrefix sets the prefix for both table names.
// Default: "displaysync_".
func WithSQLTablePrefix(prefix string) SQLStoreOption {
	return func(c *sqlStoreConfig) {
		c.tablePrefix = prefix
	}
}

// WithSQLDialect sets the SQL dialect for query generation.
// Default: DialectSQLite.
func WithSQLDialect(dialect SQLDialect) SQLStoreOption {
	return func(c *sqlStoreConfig) {
		c.dialect = dialect
	}
}

// WithOwnedDB makes Close also close the underlying *sql.DB.
func WithOwnedDB() SQLStoreOption {
	return func(c *sqlStoreConfig) {
		c.closeDB = true
	}
}

// NewSQLStore creates the tables if needed and returns a store over db.
func NewSQLStore(ctx context.Context, db *sql.DB, opts ...SQLStoreOption) (*SQLStore, error) {
	cfg := &sqlStoreConfig{
		tablePrefix: "displaysync_",
		dialect:     DialectSQLite,
	}
	for _, opt := range opts {
		opt(cfg)
	}

	s := &SQLStore{
		db:         db,
		dialect:    cfg.dialect,
		libraryTbl: cfg.tablePrefix + "library",
		layoutTbl:  cfg.tablePrefix + "layout",
		closeDB:    cfg.closeDB,
		now:        time.Now,
	}
	if err := s.migrate(ctx); err != nil {
		return nil, fmt.Errorf("store: migrate: %w", err)
	}
	return s, nil
}

func (s *SQLStore) migrate(ctx context.Context) error {
	textType := "TEXT"
	if s.dialect == DialectMySQL {
		textType = "MEDIUMTEXT"
	}
	stmts := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id VARCHAR(64) PRIMARY KEY,
			name %s NOT NULL,
			html_content %s NOT NULL,
			created_at BIGINT NOT NULL
		)`, s.libraryTbl, textType, textType),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			display_key VARCHAR(32) PRIMARY KEY,
			x INTEGER NOT NULL,
			y INTEGER NOT NULL
		)`, s.layoutTbl),
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// placeholders returns n comma-separated placeholders for the dialect.
func (s *SQLStore) placeholders(n int) string {
	parts := make([]string, n)
	for i := range parts {
		if s.dialect == DialectPostgreSQL {
			parts[i] = fmt.Sprintf("$%d", i+1)
		} else {
			parts[i] = "?"
		}
	}
	return strings.Join(parts, ", ")
}

// Save inserts a new item.
func (s *SQLStore) Save(ctx context.Context, name, htmlContent string) (*Item, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}

	item := &Item{
		ID:          NewID(),
		Name:        name,
		HTMLContent: htmlContent,
		CreatedAt:   s.now().UTC(),
		Size:        len(htmlContent),
	}
	query := fmt.Sprintf(`INSERT INTO %s (id, name, html_content, created_at) VALUES (%s)`,
		s.libraryTbl, s.placeholders(4))
	if _, err := s.db.ExecContext(ctx, query, item.ID, item.Name, item.HTMLContent, item.CreatedAt.UnixNano()); err != nil {
		return nil, fmt.Errorf("store: save item: %w", err)
	}
	return item, nil
}

// Get loads one item.
func (s *SQLStore) Get(ctx context.Context, id string) (*Item, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}

	query := fmt.Sprintf(`SELECT id, name, html_content, created_at FROM %s WHERE id = %s`,
		s.libraryTbl, s.placeholders(1))

	var (
		item    Item
		created int64
	)
	err := s.db.QueryRowContext(ctx, query, id).Scan(&item.ID, &item.Name, &item.HTMLContent, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: get item: %w", err)
	}
	item.CreatedAt = time.Unix(0, created).UTC()
	item.Size = len(item.HTMLContent)
	return &item, nil
}

// Delete removes one item. Missing rows are not an error.
func (s *SQLStore) Delete(ctx context.Context, id string) error {
	if s.closed.Load() {
		return ErrClosed
	}

	query := fmt.Sprintf(`DELETE FROM %s WHERE id = %s`, s.libraryTbl, s.placeholders(1))
	if _, err := s.db.ExecContext(ctx, query, id); err != nil {
		return fmt.Errorf("store: delete item: %w", err)
	}
	return nil
}

// byteLength returns an expression for the content size in bytes.
func (s *SQLStore) byteLength(col string) string {
	switch s.dialect {
	case DialectPostgreSQL, DialectMySQL:
		return "OCTET_LENGTH(" + col + ")"
	}
	// SQLite LENGTH counts characters for TEXT.
	return "LENGTH(CAST(" + col + " AS BLOB))"
}

// List returns every item ordered by creation time. Content is not
// read; Size comes from the database.
func (s *SQLStore) List(ctx context.Context) ([]Item, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}

	query := fmt.Sprintf(`SELECT id, name, %s, created_at FROM %s ORDER BY created_at, id`,
		s.byteLength("html_content"), s.libraryTbl)
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("store: list items: %w", err)
	}
	defer rows.Close()

	items := []Item{}
	for rows.Next() {
		var (
			item    Item
			created int64
		)
		if err := rows.Scan(&item.ID, &item.Name, &item.Size, &created); err != nil {
			return nil, fmt.Errorf("store: scan item: %w", err)
		}
		item.CreatedAt = time.Unix(0, created).UTC()
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: list items: %w", err)
	}
	return items, nil
}

// LoadLayout reads every saved offset.
func (s *SQLStore) LoadLayout(ctx context.Context) (state.Layout, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}

	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`SELECT display_key, x, y FROM %s`, s.layoutTbl))
	if err != nil {
		return nil, fmt.Errorf("store: load layout: %w", err)
	}
	defer rows.Close()

	l := state.Layout{}
	for rows.Next() {
		var (
			key string
			off state.Offset
		)
		if err := rows.Scan(&key, &off.X, &off.Y); err != nil {
			return nil, fmt.Errorf("store: scan layout: %w", err)
		}
		l[key] = off
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: load layout: %w", err)
	}
	return l, nil
}

// SaveLayout replaces all saved offsets in one transaction.
func (s *SQLStore) SaveLayout(ctx context.Context, l state.Layout) error {
	if s.closed.Load() {
		return ErrClosed
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: save layout: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s`, s.layoutTbl)); err != nil {
		return fmt.Errorf("store: save layout: %w", err)
	}
	insert := fmt.Sprintf(`INSERT INTO %s (display_key, x, y) VALUES (%s)`, s.layoutTbl, s.placeholders(3))
	for key, off := range l {
		if _, err := tx.ExecContext(ctx, insert, key, off.X, off.Y); err != nil {
			return fmt.Errorf("store: save layout %s: %w", key, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: save layout: %w", err)
	}
	return nil
}

// Close stops the store. The *sql.DB is closed only with WithOwnedDB.
func (s *SQLStore) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	if s.closeDB {
		return s.db.Close()
	}
	return nil
}
