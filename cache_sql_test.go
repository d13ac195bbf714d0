package chatmemory

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"path/filepath"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func setupSQLiteConnection(t *testing.T) (*sqlConnection, *testClock) {
	t.Helper()

	db, err := sql.Open(string(SQLiteDialect), filepath.Join(t.TempDir(), "chat_memory.db"))
	require.NoError(t, err)

	clock := newTestClock()
	conn, err := newSQLConnection(context.Background(), db, SQLiteDialect, clock.Now)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	return conn, clock
}

func TestSQLiteConnection_InitSchema(t *testing.T) {
	conn, _ := setupSQLiteConnection(t)

	var count int
	err := conn.db.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name = 'chat_memory'").Scan(&count)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	// Running it again is harmless.
	require.NoError(t, conn.initSchema(context.Background()))
}

func TestSQLiteConnection_Operations(t *testing.T) {
	conn, _ := setupSQLiteConnection(t)
	ctx := context.Background()

	require.NoError(t, conn.Ping(ctx))

	_, found, err := conn.Get(ctx, "chat:missing")
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, conn.SetWithTTL(ctx, "chat:c1", `[{"role":"user"}]`, time.Hour))
	value, found, err := conn.Get(ctx, "chat:c1")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, `[{"role":"user"}]`, value)

	require.NoError(t, conn.SetWithTTL(ctx, "chat:c1", "[]", time.Hour))
	value, _, err = conn.Get(ctx, "chat:c1")
	require.NoError(t, err)
	assert.Equal(t, "[]", value, "set replaces the previous value")

	require.NoError(t, conn.Delete(ctx, "chat:c1"))
	_, found, err = conn.Get(ctx, "chat:c1")
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, conn.Delete(ctx, "chat:c1"))
}

func TestSQLiteConnection_Expiry(t *testing.T) {
	conn, clock := setupSQLiteConnection(t)
	ctx := context.Background()

	require.NoError(t, conn.SetWithTTL(ctx, "chat:short", "[]", time.Minute))
	require.NoError(t, conn.SetWithTTL(ctx, "chat:long", "[]", time.Hour))

	clock.Advance(30 * time.Second)
	_, found, err := conn.Get(ctx, "chat:short")
	require.NoError(t, err)
	assert.True(t, found)

	clock.Advance(time.Minute)
	_, found, err = conn.Get(ctx, "chat:short")
	require.NoError(t, err)
	assert.False(t, found)

	var rows int
	require.NoError(t, conn.db.QueryRow("SELECT COUNT(*) FROM chat_memory WHERE cache_key = 'chat:short'").Scan(&rows))
	assert.Equal(t, 0, rows, "expired row is removed on read")

	_, found, err = conn.Get(ctx, "chat:long")
	require.NoError(t, err)
	assert.True(t, found)
}

func TestSQLiteConnection_SlidingExpiry(t *testing.T) {
	conn, clock := setupSQLiteConnection(t)
	ctx := context.Background()

	require.NoError(t, conn.SetWithTTL(ctx, "chat:c1", "[]", time.Hour))
	clock.Advance(50 * time.Minute)
	require.NoError(t, conn.SetWithTTL(ctx, "chat:c1", "[]", time.Hour))
	clock.Advance(50 * time.Minute)

	_, found, err := conn.Get(ctx, "chat:c1")
	require.NoError(t, err)
	assert.True(t, found)
}

func TestSQLiteConnection_WritePurgesExpired(t *testing.T) {
	conn, clock := setupSQLiteConnection(t)
	ctx := context.Background()

	require.NoError(t, conn.SetWithTTL(ctx, "chat:old", "[]", time.Minute))
	clock.Advance(2 * time.Minute)
	require.NoError(t, conn.SetWithTTL(ctx, "chat:new", "[]", time.Minute))

	var rows int
	require.NoError(t, conn.db.QueryRow("SELECT COUNT(*) FROM chat_memory").Scan(&rows))
	assert.Equal(t, 1, rows)
}

func TestSQLiteConnection_ClosedIsTransportError(t *testing.T) {
	conn, _ := setupSQLiteConnection(t)
	require.NoError(t, conn.Close())

	err := conn.Ping(context.Background())
	require.Error(t, err)
	assert.True(t, conn.IsTransportError(err))
	assert.False(t, conn.IsTransportError(errors.New("UNIQUE constraint failed")))
}

func TestDialSQLite(t *testing.T) {
	ctx := context.Background()

	conn, err := DialCache(ctx, CacheTarget{URL: "sqlite://" + filepath.Join(t.TempDir(), "cache.db")})
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.Ping(ctx))

	_, err = DialSQLite(ctx, CacheTarget{URL: "sqlite://"})
	assert.Error(t, err)
}

func expectSchema(mock sqlmock.Sqlmock) {
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE IF NOT EXISTS chat_memory")).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta("CREATE INDEX IF NOT EXISTS idx_chat_memory_expires_at")).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()
}

func setupPostgresMock(t *testing.T) (*sqlConnection, sqlmock.Sqlmock, *testClock) {
	t.Helper()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	expectSchema(mock)
	clock := newTestClock()
	conn, err := newSQLConnection(context.Background(), db, PostgresDialect, clock.Now)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	return conn, mock, clock
}

func TestPostgresConnection_Get(t *testing.T) {
	conn, mock, clock := setupPostgresMock(t)
	ctx := context.Background()
	now := clock.Now().UnixMilli()

	mock.ExpectQuery(regexp.QuoteMeta("SELECT cache_value, expires_at FROM chat_memory WHERE cache_key = $1")).
		WithArgs("chat:c1").
		WillReturnRows(sqlmock.NewRows([]string{"cache_value", "expires_at"}).AddRow("[]", now+1000))

	value, found, err := conn.Get(ctx, "chat:c1")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "[]", value)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT cache_value, expires_at FROM chat_memory WHERE cache_key = $1")).
		WithArgs("chat:c2").
		WillReturnError(sql.ErrNoRows)

	_, found, err = conn.Get(ctx, "chat:c2")
	require.NoError(t, err)
	assert.False(t, found)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresConnection_GetExpired(t *testing.T) {
	conn, mock, clock := setupPostgresMock(t)
	now := clock.Now().UnixMilli()

	mock.ExpectQuery(regexp.QuoteMeta("SELECT cache_value, expires_at FROM chat_memory WHERE cache_key = $1")).
		WithArgs("chat:c1").
		WillReturnRows(sqlmock.NewRows([]string{"cache_value", "expires_at"}).AddRow("[]", now-1))
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM chat_memory WHERE cache_key = $1 AND expires_at <= $2")).
		WithArgs("chat:c1", now).
		WillReturnResult(sqlmock.NewResult(0, 1))

	_, found, err := conn.Get(context.Background(), "chat:c1")
	require.NoError(t, err)
	assert.False(t, found)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresConnection_SetWithTTL(t *testing.T) {
	conn, mock, clock := setupPostgresMock(t)
	now := clock.Now()

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO chat_memory (cache_key, cache_value, expires_at) VALUES ($1, $2, $3)")).
		WithArgs("chat:c1", "[]", now.Add(DefaultHistoryTTL).UnixMilli()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM chat_memory WHERE expires_at <= $1")).
		WithArgs(now.UnixMilli()).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	require.NoError(t, conn.SetWithTTL(context.Background(), "chat:c1", "[]", DefaultHistoryTTL))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresConnection_SetWithTTLRollsBack(t *testing.T) {
	conn, mock, _ := setupPostgresMock(t)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO chat_memory")).
		WillReturnError(errors.New("deadlock detected"))
	mock.ExpectRollback()

	err := conn.SetWithTTL(context.Background(), "chat:c1", "[]", time.Hour)
	require.Error(t, err)
	assert.False(t, conn.IsTransportError(err))
	assert.True(t, conn.IsTransportError(fmt.Errorf("failed to write key: %w", driver.ErrBadConn)))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresConnection_Delete(t *testing.T) {
	conn, mock, _ := setupPostgresMock(t)

	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM chat_memory WHERE cache_key = $1")).
		WithArgs("chat:c1").
		WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, conn.Delete(context.Background(), "chat:c1"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestNewSQLConnection_SchemaFailureClosesDB(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE IF NOT EXISTS chat_memory")).WillReturnError(errors.New("permission denied"))
	mock.ExpectRollback()
	mock.ExpectClose()

	_, err = NewSQLConnection(context.Background(), db, PostgresDialect)
	require.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLConnection_Rebind(t *testing.T) {
	pg := &sqlConnection{dialect: PostgresDialect}
	lite := &sqlConnection{dialect: SQLiteDialect}

	query := "SELECT a FROM t WHERE b = ? AND c = ?"
	assert.Equal(t, "SELECT a FROM t WHERE b = $1 AND c = $2", pg.rebind(query))
	assert.Equal(t, query, lite.rebind(query))
}
