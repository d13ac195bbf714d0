package chatmemory

import (
	"context"
	"errors"
	"sync"
	"time"
)

var errFakeTransport = errors.New("fake transport failure")

// fakeConnection is an in-memory Connection with per-operation failure
// injection.
type fakeConnection struct {
	mu     sync.Mutex
	values map[string]string
	ttls   map[string]time.Duration

	getErr    error
	setErr    error
	deleteErr error
	pingErr   error

	transportErrors bool

	sets   int
	closed bool
}

func newFakeConnection() *fakeConnection {
	return &fakeConnection{
		values: make(map[string]string),
		ttls:   make(map[string]time.Duration),
	}
}

func (f *fakeConnection) Get(_ context.Context, key string) (string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return "", false, f.getErr
	}
	v, ok := f.values[key]
	return v, ok, nil
}

func (f *fakeConnection) SetWithTTL(_ context.Context, key, value string, ttl time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.setErr != nil {
		return f.setErr
	}
	f.values[key] = value
	f.ttls[key] = ttl
	f.sets++
	return nil
}

func (f *fakeConnection) Delete(_ context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.deleteErr != nil {
		return f.deleteErr
	}
	delete(f.values, key)
	delete(f.ttls, key)
	return nil
}

func (f *fakeConnection) Ping(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pingErr
}

func (f *fakeConnection) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeConnection) IsTransportError(err error) bool {
	return f.transportErrors && errors.Is(err, errFakeTransport)
}

func (f *fakeConnection) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func (f *fakeConnection) value(key string) (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.values[key]
	return v, ok
}

// staticSource always hands out the same connection, or err.
type staticSource struct {
	conn Connection
	err  error
}

func (s staticSource) Acquire(context.Context) (Connection, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.conn, nil
}
