package chatmemory

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

// SQLDialect selects placeholder style and column types for the SQL cache.
type SQLDialect string

const (
	SQLiteDialect   SQLDialect = "sqlite3"
	PostgresDialect SQLDialect = "postgres"
)

// sqlConnection emulates an expiring key/value cache on a SQL table. Expired
// rows are invisible to Get and removed lazily on reads and writes.
type sqlConnection struct {
	db      *sql.DB
	dialect SQLDialect
	now     func() time.Time
}

// DialSQLite opens the SQLite file named by a sqlite://<path> URL.
func DialSQLite(ctx context.Context, target CacheTarget) (Connection, error) {
	path := target.URL
	if _, rest, ok := strings.Cut(path, "://"); ok {
		path = rest
	}
	if path == "" {
		return nil, fmt.Errorf("sqlite cache url has no path")
	}

	db, err := sql.Open(string(SQLiteDialect), path+"?_busy_timeout=5000&_journal_mode=WAL&_synchronous=NORMAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	return NewSQLConnection(ctx, db, SQLiteDialect)
}

// DialPostgres opens a Postgres database. A separate password overrides one
// embedded in the URL.
func DialPostgres(ctx context.Context, target CacheTarget) (Connection, error) {
	dsn := target.URL
	if target.Password != "" {
		u, err := url.Parse(target.URL)
		if err != nil {
			return nil, fmt.Errorf("failed to parse postgres url: %w", err)
		}
		username := ""
		if u.User != nil {
			username = u.User.Username()
		}
		u.User = url.UserPassword(username, target.Password)
		dsn = u.String()
	}

	db, err := sql.Open(string(PostgresDialect), dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres database: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	return NewSQLConnection(ctx, db, PostgresDialect)
}

// NewSQLConnection wraps db and creates the cache table if needed. db is
// closed when the schema cannot be created.
func NewSQLConnection(ctx context.Context, db *sql.DB, dialect SQLDialect) (Connection, error) {
	return newSQLConnection(ctx, db, dialect, time.Now)
}

func newSQLConnection(ctx context.Context, db *sql.DB, dialect SQLDialect, now func() time.Time) (*sqlConnection, error) {
	c := &sqlConnection{db: db, dialect: dialect, now: now}
	if err := c.initSchema(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize cache schema: %w", err)
	}
	return c, nil
}

// initSchema creates the cache table and its expiry index if they don't exist
func (c *sqlConnection) initSchema(ctx context.Context) error {
	createTableSQL := `
	CREATE TABLE IF NOT EXISTS chat_memory (
		cache_key TEXT PRIMARY KEY,
		cache_value TEXT NOT NULL,
		expires_at BIGINT NOT NULL
	);`

	createExpiryIndexSQL := `
	CREATE INDEX IF NOT EXISTS idx_chat_memory_expires_at ON chat_memory (expires_at);
	`

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction for schema init: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, createTableSQL); err != nil {
		return fmt.Errorf("failed to create chat_memory table: %w", err)
	}

	if _, err := tx.ExecContext(ctx, createExpiryIndexSQL); err != nil {
		return fmt.Errorf("failed to create chat_memory expiry index: %w", err)
	}

	return tx.Commit()
}

// rebind rewrites ? placeholders to $n for Postgres.
func (c *sqlConnection) rebind(query string) string {
	if c.dialect != PostgresDialect {
		return query
	}

	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (c *sqlConnection) Get(ctx context.Context, key string) (string, bool, error) {
	var (
		value     string
		expiresAt int64
	)

	selectSQL := c.rebind(`SELECT cache_value, expires_at FROM chat_memory WHERE cache_key = ?`)
	err := c.db.QueryRowContext(ctx, selectSQL, key).Scan(&value, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to read key %s: %w", key, err)
	}

	now := c.now().UnixMilli()
	if expiresAt <= now {
		deleteSQL := c.rebind(`DELETE FROM chat_memory WHERE cache_key = ? AND expires_at <= ?`)
		if _, err := c.db.ExecContext(ctx, deleteSQL, key, now); err != nil {
			return "", false, fmt.Errorf("failed to expire key %s: %w", key, err)
		}
		return "", false, nil
	}

	return value, true, nil
}

func (c *sqlConnection) SetWithTTL(ctx context.Context, key, value string, ttl time.Duration) error {
	now := c.now()
	expiresAt := now.Add(ttl).UnixMilli()

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction for set: %w", err)
	}
	defer tx.Rollback()

	upsertSQL := c.rebind(`INSERT INTO chat_memory (cache_key, cache_value, expires_at) VALUES (?, ?, ?)
	ON CONFLICT (cache_key) DO UPDATE SET cache_value = excluded.cache_value, expires_at = excluded.expires_at`)
	if _, err := tx.ExecContext(ctx, upsertSQL, key, value, expiresAt); err != nil {
		return fmt.Errorf("failed to write key %s: %w", key, err)
	}

	purgeSQL := c.rebind(`DELETE FROM chat_memory WHERE expires_at <= ?`)
	if _, err := tx.ExecContext(ctx, purgeSQL, now.UnixMilli()); err != nil {
		return fmt.Errorf("failed to purge expired keys: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction for set: %w", err)
	}
	return nil
}

func (c *sqlConnection) Delete(ctx context.Context, key string) error {
	deleteSQL := c.rebind(`DELETE FROM chat_memory WHERE cache_key = ?`)
	if _, err := c.db.ExecContext(ctx, deleteSQL, key); err != nil {
		return fmt.Errorf("failed to delete key %s: %w", key, err)
	}
	return nil
}

func (c *sqlConnection) Ping(ctx context.Context) error {
	return c.db.PingContext(ctx)
}

func (c *sqlConnection) Close() error {
	return c.db.Close()
}

// IsTransportError reports a dead database connection or a closed pool.
func (c *sqlConnection) IsTransportError(err error) bool {
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, sql.ErrConnDone) {
		return true
	}
	if err != nil && strings.Contains(err.Error(), "sql: database is closed") {
		return true
	}
	return isNetworkError(err)
}
