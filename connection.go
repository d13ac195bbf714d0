package chatmemory

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/url"
	"strings"
	"syscall"
	"time"
)

// Connection is a live handle to the key/value cache holding transcripts.
type Connection interface {
	// Get returns the value stored at key. found is false when the key is absent or expired.
	Get(ctx context.Context, key string) (value string, found bool, err error)

	// SetWithTTL stores value at key, replacing any previous value and resetting its expiry.
	SetWithTTL(ctx context.Context, key, value string, ttl time.Duration) error

	// Delete removes key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error

	// Ping checks that the cache answers.
	Ping(ctx context.Context) error

	// Close releases the handle.
	Close() error
}

// TransportErrorClassifier is implemented by connections that can tell a broken
// transport apart from an ordinary command failure.
type TransportErrorClassifier interface {
	IsTransportError(err error) bool
}

// CacheTarget is the address and credential of the cache.
type CacheTarget struct {
	URL      string
	Password string
}

// Redacted returns the target URL with any embedded password masked.
func (t CacheTarget) Redacted() string {
	u, err := url.Parse(t.URL)
	if err != nil {
		return "<invalid url>"
	}
	return u.Redacted()
}

// Dialer opens a connection to target. It must not ping; the manager does.
type Dialer func(ctx context.Context, target CacheTarget) (Connection, error)

// DialCache picks a backend from the URL scheme: redis:// and rediss:// use
// Redis, sqlite:// a local SQLite file, postgres:// and postgresql:// Postgres.
func DialCache(ctx context.Context, target CacheTarget) (Connection, error) {
	scheme, _, ok := strings.Cut(target.URL, "://")
	if !ok {
		return nil, fmt.Errorf("cache url %q has no scheme", target.Redacted())
	}

	switch strings.ToLower(scheme) {
	case "redis", "rediss":
		return DialRedis(ctx, target)
	case "sqlite", "sqlite3":
		return DialSQLite(ctx, target)
	case "postgres", "postgresql":
		return DialPostgres(ctx, target)
	default:
		return nil, fmt.Errorf("unsupported cache scheme %q", scheme)
	}
}

// isNetworkError reports errors that mean the underlying socket is unusable.
func isNetworkError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var netErr net.Error
	switch {
	case errors.Is(err, io.EOF),
		errors.Is(err, io.ErrUnexpectedEOF),
		errors.Is(err, net.ErrClosed),
		errors.Is(err, syscall.ECONNRESET),
		errors.Is(err, syscall.ECONNREFUSED),
		errors.Is(err, syscall.EPIPE):
		return true
	case errors.As(err, &netErr):
		return true
	}
	return false
}
