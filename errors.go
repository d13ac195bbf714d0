package chatmemory

import (
	"errors"
	"fmt"
	"net/http"
)

// ConfigurationError reports a required setting that is missing or invalid.
type ConfigurationError struct {
	Setting string
	Reason  string
}

func (e *ConfigurationError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("invalid configuration %s: %s", e.Setting, e.Reason)
	}
	return fmt.Sprintf("%s environment variable is not set", e.Setting)
}

// ConnectionError reports a cache that could not be reached or failed its
// liveness check.
type ConnectionError struct {
	Target string
	Err    error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("cache connection to %s failed: %v", e.Target, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// ValidationError reports missing or empty required input.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

// CorruptRecordError reports a stored value that is not a valid transcript.
// It never reaches callers of the store; reads degrade to an empty history.
type CorruptRecordError struct {
	Err error
}

func (e *CorruptRecordError) Error() string {
	return fmt.Sprintf("corrupt transcript record: %v", e.Err)
}

func (e *CorruptRecordError) Unwrap() error { return e.Err }

// PersistenceError reports a failed write or delete against the cache.
type PersistenceError struct {
	Op  string
	Key string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("failed to %s %s: %v", e.Op, e.Key, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// InvalidActionError reports an action name outside chat, get and clear.
type InvalidActionError struct {
	Action string
}

func (e *InvalidActionError) Error() string {
	return `Invalid action. Must be "chat", "get", or "clear"`
}

// ReplyError reports a failure of the reply generator.
type ReplyError struct {
	Err error
}

func (e *ReplyError) Error() string {
	return fmt.Sprintf("failed to generate reply: %v", e.Err)
}

func (e *ReplyError) Unwrap() error { return e.Err }

// HTTPStatus maps an error from the store or dispatcher to a response status.
func HTTPStatus(err error) int {
	var (
		configErr     *ConfigurationError
		connErr       *ConnectionError
		validationErr *ValidationError
		actionErr     *InvalidActionError
		persistErr    *PersistenceError
		replyErr      *ReplyError
	)

	switch {
	case err == nil:
		return http.StatusOK
	case errors.As(err, &configErr), errors.As(err, &connErr):
		return http.StatusServiceUnavailable
	case errors.As(err, &validationErr), errors.As(err, &actionErr):
		return http.StatusBadRequest
	case errors.As(err, &replyErr):
		return http.StatusBadGateway
	case errors.As(err, &persistErr):
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}
