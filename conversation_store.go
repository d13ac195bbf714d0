package chatmemory

import (
	"context"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/toheedhamid/chat-application/observability"
	"go.opentelemetry.io/otel/attribute"
)

// DefaultHistoryTTL is how long a transcript survives after its last write.
const DefaultHistoryTTL = 24 * time.Hour

// PersistenceWarning is reported when a reply was produced but the updated
// transcript could not be written.
const PersistenceWarning = "Chat response generated but history may not have been saved"

// Diagnostics carries the non-fatal conditions an operation recovered from.
type Diagnostics struct {
	// RetrievalError is set when the stored record could not be read or decoded
	// and an empty history was used instead.
	RetrievalError bool `json:"retrievalError,omitempty"`

	// PersistenceFailed is set when the updated transcript was not written.
	PersistenceFailed bool `json:"persistenceFailed,omitempty"`

	// Warning is a human-readable note for the caller.
	Warning string `json:"warning,omitempty"`
}

// GetResult is the outcome of ConversationStore.Get.
type GetResult struct {
	ConversationID string
	Transcript     Transcript
	HistoryCount   int
	Found          bool
	Diagnostics    Diagnostics
}

// TurnResult is the outcome of ConversationStore.AppendTurn.
type TurnResult struct {
	ConversationID string
	Transcript     Transcript
	Reply          string
	HistoryCount   int
	Diagnostics    Diagnostics
}

// ClearResult is the outcome of ConversationStore.Clear.
type ClearResult struct {
	ConversationID string
	Diagnostics    Diagnostics
}

// ConversationStore implements get, append-turn and clear over the cache.
//
// AppendTurn is a read-modify-write without isolation: two concurrent turns on
// the same conversation both read the same history and the later write wins.
// WithKeyedLocking serializes turns per conversation inside one process; it
// does nothing for writers in other processes.
type ConversationStore struct {
	connections ConnectionSource
	generator   ReplyGenerator
	logger      observability.Logger
	maxHistory  int
	ttl         time.Duration
	now         func() time.Time
	locks       *keyedMutex
}

// StoreOption configures a ConversationStore.
type StoreOption func(*ConversationStore)

// WithMaxHistory sets the transcript bound. Use an even value so that trimming
// never separates a user message from its reply.
func WithMaxHistory(n int) StoreOption {
	return func(s *ConversationStore) {
		s.maxHistory = n
	}
}

// WithTTL sets the sliding expiry applied on every write.
func WithTTL(ttl time.Duration) StoreOption {
	return func(s *ConversationStore) {
		s.ttl = ttl
	}
}

// WithReplyGenerator sets the reply generator.
func WithReplyGenerator(g ReplyGenerator) StoreOption {
	return func(s *ConversationStore) {
		s.generator = g
	}
}

// WithStoreLogger sets the logger.
func WithStoreLogger(logger observability.Logger) StoreOption {
	return func(s *ConversationStore) {
		s.logger = logger
	}
}

// WithClock replaces time.Now for message timestamps.
func WithClock(now func() time.Time) StoreOption {
	return func(s *ConversationStore) {
		s.now = now
	}
}

// WithKeyedLocking serializes AppendTurn and Clear per conversation within
// this process.
func WithKeyedLocking() StoreOption {
	return func(s *ConversationStore) {
		s.locks = newKeyedMutex()
	}
}

// NewConversationStore creates a store reading connections from connections.
func NewConversationStore(connections ConnectionSource, opts ...StoreOption) *ConversationStore {
	s := &ConversationStore{
		connections: connections,
		generator:   NewTemplateReplyGenerator(),
		logger:      observability.NewNullLogger(),
		maxHistory:  DefaultMaxHistory,
		ttl:         DefaultHistoryTTL,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Get returns the stored transcript. A missing record is an empty transcript;
// an unreadable one is an empty transcript with RetrievalError set. Only a
// failure to obtain a connection is returned as an error.
func (s *ConversationStore) Get(ctx context.Context, conversationID string) (GetResult, error) {
	ctx, span := observability.StartSpan(ctx, "ConversationStore.Get")
	defer span.End()

	key := ConversationKey(conversationID)
	span.SetAttributes(attribute.String("conversation.key", key))

	conn, err := s.connections.Acquire(ctx)
	if err != nil {
		observability.RecordError(span, err)
		return GetResult{}, err
	}

	transcript, found, diag := s.load(ctx, conn, key)
	span.SetAttributes(attribute.Int("transcript.length", len(transcript)))

	return GetResult{
		ConversationID: conversationID,
		Transcript:     transcript,
		HistoryCount:   transcript.UserCount(),
		Found:          found,
		Diagnostics:    diag,
	}, nil
}

// AppendTurn records a user message and the generated reply, trims the
// transcript and writes it back with a fresh TTL. A failed write does not fail
// the turn: the result is returned with PersistenceFailed set.
func (s *ConversationStore) AppendTurn(ctx context.Context, conversationID, userContent string) (TurnResult, error) {
	ctx, span := observability.StartSpan(ctx, "ConversationStore.AppendTurn")
	defer span.End()

	if strings.TrimSpace(userContent) == "" {
		err := &ValidationError{Field: "message", Message: "Message is required for chat action"}
		observability.RecordError(span, err)
		return TurnResult{}, err
	}
	if !utf8.ValidString(userContent) {
		err := &ValidationError{Field: "message", Message: "Message must be valid UTF-8 text"}
		observability.RecordError(span, err)
		return TurnResult{}, err
	}

	key := ConversationKey(conversationID)
	span.SetAttributes(attribute.String("conversation.key", key))

	if s.locks != nil {
		unlock := s.locks.lock(key)
		defer unlock()
	}

	conn, err := s.connections.Acquire(ctx)
	if err != nil {
		observability.RecordError(span, err)
		return TurnResult{}, err
	}

	history, _, diag := s.load(ctx, conn, key)

	userMessage := NewMessage(UserRole, userContent, s.now())

	reply, err := s.generator.Generate(ctx, userContent, history.Clone())
	if err != nil {
		replyErr := &ReplyError{Err: err}
		observability.RecordError(span, replyErr)
		s.logger.WithContext(ctx).WithErr(err).Error("Reply generation failed")
		return TurnResult{}, replyErr
	}

	updated := append(history.Clone(), userMessage, NewMessage(AssistantRole, reply, s.now()))
	if len(updated) > s.maxHistory {
		s.logger.WithContext(ctx).WithFields(map[string]interface{}{
			"conversation_key": key,
			"from":             len(updated),
			"to":               s.maxHistory,
		}).Debug("Trimming history")
	}
	final := TrimTranscript(updated, s.maxHistory)

	if err := s.save(ctx, conn, key, final); err != nil {
		observability.RecordError(span, err)
		s.logger.WithContext(ctx).WithErr(err).WithFields(map[string]interface{}{
			"conversation_key": key,
		}).Error("Error saving history")
		diag.PersistenceFailed = true
		diag.Warning = PersistenceWarning
	}

	span.SetAttributes(
		attribute.Int("transcript.length", len(final)),
		attribute.Bool("persistence.failed", diag.PersistenceFailed),
	)

	return TurnResult{
		ConversationID: conversationID,
		Transcript:     final,
		Reply:          reply,
		HistoryCount:   final.UserCount(),
		Diagnostics:    diag,
	}, nil
}

// Clear deletes the stored transcript. Clearing an absent conversation
// succeeds. A failed delete is returned as a *PersistenceError.
func (s *ConversationStore) Clear(ctx context.Context, conversationID string) (ClearResult, error) {
	ctx, span := observability.StartSpan(ctx, "ConversationStore.Clear")
	defer span.End()

	key := ConversationKey(conversationID)
	span.SetAttributes(attribute.String("conversation.key", key))

	if s.locks != nil {
		unlock := s.locks.lock(key)
		defer unlock()
	}

	conn, err := s.connections.Acquire(ctx)
	if err != nil {
		observability.RecordError(span, err)
		return ClearResult{}, err
	}

	if err := conn.Delete(ctx, key); err != nil {
		persistErr := &PersistenceError{Op: "delete", Key: key, Err: err}
		observability.RecordError(span, persistErr)
		s.logger.WithContext(ctx).WithErr(err).Error("Error clearing chat history")
		return ClearResult{}, persistErr
	}

	return ClearResult{ConversationID: conversationID}, nil
}

// load reads and decodes the record at key, degrading to an empty transcript
// on any failure.
func (s *ConversationStore) load(ctx context.Context, conn Connection, key string) (Transcript, bool, Diagnostics) {
	logger := s.logger.WithContext(ctx).WithFields(map[string]interface{}{"conversation_key": key})

	raw, found, err := conn.Get(ctx, key)
	if err != nil {
		logger.WithErr(err).Warn("Error retrieving history, continuing with empty history")
		return Transcript{}, false, Diagnostics{RetrievalError: true}
	}
	if !found {
		logger.Debug("No existing history found, starting fresh")
		return Transcript{}, false, Diagnostics{}
	}

	transcript, err := DecodeTranscript(raw)
	if err != nil {
		logger.WithErr(err).Warn("Stored history is corrupt, continuing with empty history")
		return Transcript{}, true, Diagnostics{RetrievalError: true}
	}

	logger.WithFields(map[string]interface{}{"messages": len(transcript)}).Debug("Retrieved history")
	return transcript, true, Diagnostics{}
}

func (s *ConversationStore) save(ctx context.Context, conn Connection, key string, t Transcript) error {
	encoded, err := EncodeTranscript(t)
	if err != nil {
		return &PersistenceError{Op: "encode", Key: key, Err: err}
	}
	if err := conn.SetWithTTL(ctx, key, encoded, s.ttl); err != nil {
		return &PersistenceError{Op: "write", Key: key, Err: err}
	}
	return nil
}

// keyedMutex hands out one mutex per key and forgets it once unused.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyedLock
}

type keyedLock struct {
	mu   sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[string]*keyedLock)}
}

func (k *keyedMutex) lock(key string) (unlock func()) {
	k.mu.Lock()
	l, ok := k.locks[key]
	if !ok {
		l = &keyedLock{}
		k.locks[key] = l
	}
	l.refs++
	k.mu.Unlock()

	l.mu.Lock()

	return func() {
		l.mu.Unlock()

		k.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
