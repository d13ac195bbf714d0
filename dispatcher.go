package chatmemory

import (
	"context"
	"fmt"
	"time"

	"github.com/toheedhamid/chat-application/observability"
)

// Action names one store operation.
type Action string

const (
	ActionChat  Action = "chat"
	ActionGet   Action = "get"
	ActionClear Action = "clear"
)

// Request is the inbound envelope. An empty ConversationID gets a generated
// one; an empty Action means chat.
type Request struct {
	ConversationID string `json:"conversationId,omitempty"`
	Message        string `json:"message,omitempty"`
	Action         Action `json:"action,omitempty"`
}

// Response is the success envelope shared by all actions.
type Response struct {
	ConversationID string      `json:"conversationId"`
	Action         Action      `json:"action,omitempty"`
	Message        string      `json:"message"`
	History        *Transcript `json:"history,omitempty"`
	HistoryCount   int         `json:"historyCount"`
	Status         string      `json:"status,omitempty"`
	Timestamp      string      `json:"timestamp"`
	Warning        string      `json:"warning,omitempty"`
}

// ErrorResponse is the failure envelope.
type ErrorResponse struct {
	Error          string `json:"error"`
	Message        string `json:"message,omitempty"`
	ConversationID string `json:"conversationId,omitempty"`
}

// ConversationService is the store surface the dispatcher drives.
type ConversationService interface {
	Get(ctx context.Context, conversationID string) (GetResult, error)
	AppendTurn(ctx context.Context, conversationID, userContent string) (TurnResult, error)
	Clear(ctx context.Context, conversationID string) (ClearResult, error)
}

// Dispatcher routes a Request to one store operation and shapes the Response.
// It keeps no state between calls.
type Dispatcher struct {
	store  ConversationService
	logger observability.Logger
	now    func() time.Time
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithDispatcherLogger sets the logger.
func WithDispatcherLogger(logger observability.Logger) DispatcherOption {
	return func(d *Dispatcher) {
		d.logger = logger
	}
}

// WithDispatcherClock replaces time.Now for envelope timestamps and generated IDs.
func WithDispatcherClock(now func() time.Time) DispatcherOption {
	return func(d *Dispatcher) {
		d.now = now
	}
}

// NewDispatcher creates a dispatcher over store.
func NewDispatcher(store ConversationService, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		store:  store,
		logger: observability.NewNullLogger(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Normalize fills in the default action and a generated conversation ID.
func (d *Dispatcher) Normalize(req Request) Request {
	if req.ConversationID == "" {
		req.ConversationID = NewConversationID(d.now())
	}
	if req.Action == "" {
		req.Action = ActionChat
	}
	return req
}

// Dispatch runs the operation named by req.Action. The returned error is one of
// the package's typed errors; map it with HTTPStatus.
func (d *Dispatcher) Dispatch(ctx context.Context, req Request) (Response, error) {
	req = d.Normalize(req)

	d.logger.WithContext(ctx).WithFields(map[string]interface{}{
		"conversation_id": req.ConversationID,
		"action":          req.Action,
		"has_message":     req.Message != "",
	}).Debug("Chat memory request")

	switch req.Action {
	case ActionChat:
		return d.chat(ctx, req)
	case ActionGet:
		return d.get(ctx, req)
	case ActionClear:
		return d.clear(ctx, req)
	default:
		return Response{}, &InvalidActionError{Action: string(req.Action)}
	}
}

func (d *Dispatcher) chat(ctx context.Context, req Request) (Response, error) {
	result, err := d.store.AppendTurn(ctx, req.ConversationID, req.Message)
	if err != nil {
		return Response{}, err
	}

	return Response{
		ConversationID: req.ConversationID,
		Message:        result.Reply,
		HistoryCount:   result.HistoryCount,
		Timestamp:      d.timestamp(),
		Warning:        result.Diagnostics.Warning,
	}, nil
}

func (d *Dispatcher) get(ctx context.Context, req Request) (Response, error) {
	result, err := d.store.Get(ctx, req.ConversationID)
	if err != nil {
		return Response{}, err
	}

	message := "No history found"
	switch {
	case result.Diagnostics.RetrievalError:
		message = "Error retrieving history"
	case result.Found:
		message = fmt.Sprintf("Retrieved %d conversation turns", result.HistoryCount)
	}

	history := result.Transcript
	if history == nil {
		history = Transcript{}
	}

	return Response{
		ConversationID: req.ConversationID,
		Action:         ActionGet,
		Message:        message,
		History:        &history,
		HistoryCount:   result.HistoryCount,
		Timestamp:      d.timestamp(),
	}, nil
}

func (d *Dispatcher) clear(ctx context.Context, req Request) (Response, error) {
	if _, err := d.store.Clear(ctx, req.ConversationID); err != nil {
		return Response{}, err
	}

	return Response{
		ConversationID: req.ConversationID,
		Action:         ActionClear,
		Message:        "Chat history cleared successfully",
		Status:         "success",
		Timestamp:      d.timestamp(),
	}, nil
}

func (d *Dispatcher) timestamp() string {
	return d.now().UTC().Format(TimestampLayout)
}
