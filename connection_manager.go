package chatmemory

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/toheedhamid/chat-application/observability"
	"golang.org/x/sync/singleflight"
)

// ErrManagerClosed is returned by Acquire after Close.
var ErrManagerClosed = errors.New("connection manager is closed")

// ConnectionSource hands out validated cache connections.
type ConnectionSource interface {
	Acquire(ctx context.Context) (Connection, error)
}

// ConnectionManager owns the single process-wide cache handle. The handle is
// built lazily on first Acquire, validated with a ping, and dropped when a
// transport error is observed on it so that the next Acquire rebuilds it.
type ConnectionManager struct {
	target      CacheTarget
	dial        Dialer
	logger      observability.Logger
	pingTimeout time.Duration

	mu      sync.RWMutex
	current *observedConnection
	closed  bool

	group singleflight.Group
}

// ManagerOption configures a ConnectionManager.
type ManagerOption func(*ConnectionManager)

// WithDialer replaces DialCache.
func WithDialer(dial Dialer) ManagerOption {
	return func(m *ConnectionManager) {
		m.dial = dial
	}
}

// WithManagerLogger sets the logger.
func WithManagerLogger(logger observability.Logger) ManagerOption {
	return func(m *ConnectionManager) {
		m.logger = logger
	}
}

// WithPingTimeout bounds the liveness check made on every new handle.
func WithPingTimeout(d time.Duration) ManagerOption {
	return func(m *ConnectionManager) {
		m.pingTimeout = d
	}
}

// NewConnectionManager creates a manager for target. No connection is made
// until the first Acquire.
func NewConnectionManager(target CacheTarget, opts ...ManagerOption) *ConnectionManager {
	m := &ConnectionManager{
		target:      target,
		dial:        DialCache,
		logger:      observability.NewNullLogger(),
		pingTimeout: 10 * time.Second,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Acquire returns the shared connection, building and pinging it first if
// there is none. Concurrent callers during construction share one attempt.
func (m *ConnectionManager) Acquire(ctx context.Context) (Connection, error) {
	m.mu.RLock()
	current, closed := m.current, m.closed
	m.mu.RUnlock()

	if closed {
		return nil, ErrManagerClosed
	}
	if current != nil {
		return current, nil
	}

	v, err, _ := m.group.Do("connect", func() (interface{}, error) {
		m.mu.RLock()
		existing := m.current
		m.mu.RUnlock()
		if existing != nil {
			return existing, nil
		}
		return m.connect(ctx)
	})
	if err != nil {
		return nil, err
	}
	return v.(*observedConnection), nil
}

func (m *ConnectionManager) connect(ctx context.Context) (*observedConnection, error) {
	ctx, span := observability.StartSpan(ctx, "ConnectionManager.connect")
	defer span.End()

	if strings.TrimSpace(m.target.URL) == "" {
		err := &ConfigurationError{Setting: "REDIS_URL"}
		observability.RecordError(span, err)
		m.logger.WithErr(err).Error("Cache target is not configured")
		return nil, err
	}

	logger := m.logger.WithFields(map[string]interface{}{"target": m.target.Redacted()})

	conn, err := m.dial(ctx, m.target)
	if err != nil {
		connErr := &ConnectionError{Target: m.target.Redacted(), Err: err}
		observability.RecordError(span, connErr)
		logger.WithErr(err).Error("Failed to initialize cache connection")
		return nil, connErr
	}

	pingCtx, cancel := context.WithTimeout(ctx, m.pingTimeout)
	defer cancel()
	if err := conn.Ping(pingCtx); err != nil {
		_ = conn.Close()
		connErr := &ConnectionError{Target: m.target.Redacted(), Err: err}
		observability.RecordError(span, connErr)
		logger.WithErr(err).Error("Cache liveness check failed")
		return nil, connErr
	}

	observed := &observedConnection{conn: conn, manager: m}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		_ = conn.Close()
		return nil, ErrManagerClosed
	}
	m.current = observed
	m.mu.Unlock()

	logger.Info("Cache connected")
	return observed, nil
}

// Invalidate drops conn if it is still the shared handle and closes it. A
// handle that was already replaced is left alone.
func (m *ConnectionManager) Invalidate(conn Connection) {
	m.mu.Lock()
	observed, ok := conn.(*observedConnection)
	if !ok || observed != m.current {
		m.mu.Unlock()
		return
	}
	m.current = nil
	m.mu.Unlock()

	if err := observed.conn.Close(); err != nil {
		m.logger.WithErr(err).Debug("Error closing invalidated cache connection")
	}
	m.logger.Warn("Cache connection reset; next operation will reconnect")
}

// Close releases the shared handle. Acquire fails afterwards.
func (m *ConnectionManager) Close() error {
	m.mu.Lock()
	current := m.current
	m.current = nil
	m.closed = true
	m.mu.Unlock()

	if current == nil {
		return nil
	}
	return current.conn.Close()
}

// observedConnection forwards to the real connection and invalidates it in the
// manager when an operation fails at the transport level. The failing
// operation still returns its error.
type observedConnection struct {
	conn    Connection
	manager *ConnectionManager
}

func (o *observedConnection) observe(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}
	// A caller whose own deadline ran out says nothing about the socket the
	// other callers share.
	if ctx.Err() != nil {
		return err
	}

	var transport bool
	if classifier, ok := o.conn.(TransportErrorClassifier); ok {
		transport = classifier.IsTransportError(err)
	} else {
		transport = isNetworkError(err)
	}

	if transport {
		o.manager.logger.WithErr(err).Error("Cache connection error")
		o.manager.Invalidate(o)
	}
	return err
}

func (o *observedConnection) Get(ctx context.Context, key string) (string, bool, error) {
	value, found, err := o.conn.Get(ctx, key)
	return value, found, o.observe(ctx, err)
}

func (o *observedConnection) SetWithTTL(ctx context.Context, key, value string, ttl time.Duration) error {
	return o.observe(ctx, o.conn.SetWithTTL(ctx, key, value, ttl))
}

func (o *observedConnection) Delete(ctx context.Context, key string) error {
	return o.observe(ctx, o.conn.Delete(ctx, key))
}

func (o *observedConnection) Ping(ctx context.Context) error {
	return o.observe(ctx, o.conn.Ping(ctx))
}

// Close is a no-op: the manager owns the handle's lifetime.
func (o *observedConnection) Close() error {
	return nil
}
