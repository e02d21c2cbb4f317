package kvstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/onnwee/matchcache/internal/cache"
)

const defaultSQLTimeout = 2 * time.Second

// dialect captures the few statements that differ between SQL engines.
type dialect struct {
	name   string
	create string
	get    string
	upsert string
	remove string
	count  string
	purge  string
}

var sqliteDialect = dialect{
	name: "sqlite",
	create: `CREATE TABLE IF NOT EXISTS kv_items (
		item_key   TEXT PRIMARY KEY,
		item_value TEXT NOT NULL,
		updated_at INTEGER NOT NULL
	)`,
	get:    `SELECT item_value FROM kv_items WHERE item_key = ? AND updated_at >= ?`,
	upsert: `INSERT INTO kv_items (item_key, item_value, updated_at) VALUES (?, ?, ?) ON CONFLICT(item_key) DO UPDATE SET item_value = excluded.item_value, updated_at = excluded.updated_at`,
	remove: `DELETE FROM kv_items WHERE item_key = ?`,
	count:  `SELECT COUNT(*) FROM kv_items`,
	purge:  `DELETE FROM kv_items WHERE updated_at < ?`,
}

var postgresDialect = dialect{
	name: "postgres",
	create: `CREATE TABLE IF NOT EXISTS kv_items (
		item_key   TEXT PRIMARY KEY,
		item_value TEXT NOT NULL,
		updated_at BIGINT NOT NULL
	)`,
	get:    `SELECT item_value FROM kv_items WHERE item_key = $1 AND updated_at >= $2`,
	upsert: `INSERT INTO kv_items (item_key, item_value, updated_at) VALUES ($1, $2, $3) ON CONFLICT (item_key) DO UPDATE SET item_value = EXCLUDED.item_value, updated_at = EXCLUDED.updated_at`,
	remove: `DELETE FROM kv_items WHERE item_key = $1`,
	count:  `SELECT COUNT(*) FROM kv_items`,
	purge:  `DELETE FROM kv_items WHERE updated_at < $1`,
}

// SQL is a store backed by a single kv_items table. Rows older than the
// session TTL are invisible to reads and removed by Purge.
type SQL struct {
	db         *sql.DB
	d          dialect
	timeout    time.Duration
	sessionTTL time.Duration
	now        func() time.Time
}

// SQLOpts configures a SQL store.
type SQLOpts struct {
	// Timeout bounds every statement. Default is 2s.
	Timeout time.Duration
	// SessionTTL hides rows written longer ago than this. Zero disables it.
	SessionTTL time.Duration
}

// OpenSQLite opens (creating if needed) a SQLite file store.
func OpenSQLite(path string, opts SQLOpts) (*SQL, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}
	dsn := filepath.Clean(path) + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// SQLite serialises writers; one connection avoids SQLITE_BUSY churn.
	db.SetMaxOpenConns(1)
	return newSQL(db, sqliteDialect, opts)
}

// OpenPostgres opens a Postgres backed store using the lib/pq driver.
func OpenPostgres(connStr string, opts SQLOpts) (*SQL, error) {
	if strings.TrimSpace(connStr) == "" {
		return nil, fmt.Errorf("postgres connection string is required")
	}
	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("open postgres db: %w", err)
	}
	return newSQL(db, postgresDialect, opts)
}

func newSQL(db *sql.DB, d dialect, opts SQLOpts) (*SQL, error) {
	if opts.Timeout <= 0 {
		opts.Timeout = defaultSQLTimeout
	}
	s := &SQL{db: db, d: d, timeout: opts.Timeout, sessionTTL: opts.SessionTTL, now: time.Now}

	ctx, cancel := s.ctx()
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping %s db: %w", d.name, err)
	}
	if _, err := db.ExecContext(ctx, d.create); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create kv table: %w", err)
	}
	return s, nil
}

func (s *SQL) ctx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), s.timeout)
}

// cutoff is the oldest updated_at (unix ms) still visible.
func (s *SQL) cutoff() int64 {
	if s.sessionTTL <= 0 {
		return 0
	}
	return s.now().Add(-s.sessionTTL).UnixMilli()
}

func (s *SQL) GetItem(key string) (string, bool, error) {
	ctx, cancel := s.ctx()
	defer cancel()

	var v string
	err := s.db.QueryRowContext(ctx, s.d.get, key, s.cutoff()).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("%s get %q: %w: %v", s.d.name, key, cache.ErrStoreUnavailable, err)
	}
	return v, true, nil
}

func (s *SQL) SetItem(key, value string) error {
	ctx, cancel := s.ctx()
	defer cancel()

	if _, err := s.db.ExecContext(ctx, s.d.upsert, key, value, s.now().UnixMilli()); err != nil {
		if isDiskFull(err) {
			return fmt.Errorf("%s set %q: %w: %v", s.d.name, key, cache.ErrQuotaExceeded, err)
		}
		return fmt.Errorf("%s set %q: %w: %v", s.d.name, key, cache.ErrStoreUnavailable, err)
	}
	return nil
}

func (s *SQL) RemoveItem(key string) error {
	ctx, cancel := s.ctx()
	defer cancel()

	if _, err := s.db.ExecContext(ctx, s.d.remove, key); err != nil {
		return fmt.Errorf("%s remove %q: %w: %v", s.d.name, key, cache.ErrStoreUnavailable, err)
	}
	return nil
}

// Len counts stored rows, including rows past the session TTL not yet purged.
func (s *SQL) Len() (int, error) {
	ctx, cancel := s.ctx()
	defer cancel()

	var n int
	if err := s.db.QueryRowContext(ctx, s.d.count).Scan(&n); err != nil {
		return 0, fmt.Errorf("%s count: %w", s.d.name, err)
	}
	return n, nil
}

// Purge deletes rows past the session TTL and returns how many were removed.
func (s *SQL) Purge() (int64, error) {
	if s.sessionTTL <= 0 {
		return 0, nil
	}
	ctx, cancel := s.ctx()
	defer cancel()

	res, err := s.db.ExecContext(ctx, s.d.purge, s.cutoff())
	if err != nil {
		return 0, fmt.Errorf("%s purge: %w", s.d.name, err)
	}
	return res.RowsAffected()
}

// Close releases the underlying connection pool.
func (s *SQL) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// isDiskFull matches Postgres disk_full and SQLITE_FULL failures.
func isDiskFull(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "53100"
	}
	return strings.Contains(strings.ToLower(err.Error()), "database or disk is full")
}
