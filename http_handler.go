package chatmemory

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/toheedhamid/chat-application/observability"
	"github.com/xeipuuv/gojsonschema"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/time/rate"
)

// RequestIDHeader carries the per-request identifier echoed in responses.
const RequestIDHeader = "X-Request-ID"

const maxRequestBodyBytes = 1 << 20

// requestSchema checks field types only. Which actions exist is decided by the
// dispatcher so the error names the valid actions. null counts as absent.
const requestSchema = `{
	"type": "object",
	"properties": {
		"conversationId": {"type": ["string", "null"]},
		"message": {"type": ["string", "null"]},
		"action": {"type": ["string", "null"]}
	}
}`

// Handler serves the chat memory endpoint: POST a Request, receive a Response
// or an ErrorResponse.
type Handler struct {
	dispatcher *Dispatcher
	logger     observability.Logger
	schema     *gojsonschema.Schema
	limiter    *rate.Limiter
}

// HandlerOption configures a Handler.
type HandlerOption func(*Handler)

// WithHandlerLogger sets the logger.
func WithHandlerLogger(logger observability.Logger) HandlerOption {
	return func(h *Handler) {
		h.logger = logger
	}
}

// WithRateLimit caps accepted requests per second across all clients. A
// non-positive rps disables limiting.
func WithRateLimit(rps float64, burst int) HandlerOption {
	return func(h *Handler) {
		if rps <= 0 {
			h.limiter = nil
			return
		}
		if burst < 1 {
			burst = 1
		}
		h.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// NewHandler creates the HTTP handler for dispatcher.
func NewHandler(dispatcher *Dispatcher, opts ...HandlerOption) (*Handler, error) {
	schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(requestSchema))
	if err != nil {
		return nil, fmt.Errorf("failed to compile request schema: %w", err)
	}

	h := &Handler{
		dispatcher: dispatcher,
		logger:     observability.NewNullLogger(),
		schema:     schema,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h, nil
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx, span := observability.StartSpan(r.Context(), "Handler.ServeHTTP")
	defer span.End()

	requestID := r.Header.Get(RequestIDHeader)
	if requestID == "" {
		requestID = uuid.NewString()
	}
	w.Header().Set(RequestIDHeader, requestID)
	setCORSHeaders(w)

	span.SetAttributes(
		attribute.String("http.method", r.Method),
		attribute.String("request.id", requestID),
	)

	logger := h.logger.WithContext(ctx).WithFields(map[string]interface{}{
		"request_id": requestID,
		"method":     r.Method,
		"path":       r.URL.Path,
	})

	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusOK)
		return
	}

	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, ErrorResponse{Error: "Method not allowed"})
		return
	}

	if h.limiter != nil && !h.limiter.Allow() {
		logger.Warn("Request rate limit exceeded")
		writeJSON(w, http.StatusTooManyRequests, ErrorResponse{Error: "Too many requests"})
		return
	}

	body := r.Body
	if body == nil {
		body = http.NoBody
	}
	req, err := h.decodeRequest(http.MaxBytesReader(w, body, maxRequestBodyBytes))
	if err != nil {
		observability.RecordError(span, err)
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			logger.WithErr(err).Warn("Rejected oversized request body")
			writeJSON(w, http.StatusRequestEntityTooLarge, ErrorResponse{
				Error:   "Request body too large",
				Message: fmt.Sprintf("body exceeds %d bytes", tooLarge.Limit),
			})
			return
		}
		logger.WithErr(err).Warn("Rejected malformed request body")
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "Invalid request body", Message: err.Error()})
		return
	}

	req = h.dispatcher.Normalize(req)
	span.SetAttributes(
		attribute.String("conversation.id", req.ConversationID),
		attribute.String("chat.action", string(req.Action)),
	)

	resp, err := h.dispatcher.Dispatch(ctx, req)
	if err != nil {
		observability.RecordError(span, err)
		status, body := ErrorResponseFor(err, req)
		if status >= http.StatusInternalServerError {
			logger.WithErr(err).Error("Chat memory error")
		} else {
			logger.WithErr(err).Info("Chat memory request rejected")
		}
		writeJSON(w, status, body)
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

// decodeRequest reads, schema-checks and unmarshals the body. An empty body is
// an empty request.
func (h *Handler) decodeRequest(body io.Reader) (Request, error) {
	var req Request
	data, err := io.ReadAll(body)
	if err != nil {
		return req, fmt.Errorf("failed to read body: %w", err)
	}
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return req, nil
	}

	if !json.Valid(data) {
		return req, errors.New("body is not valid JSON")
	}

	result, err := h.schema.Validate(gojsonschema.NewBytesLoader(data))
	if err != nil {
		return req, fmt.Errorf("failed to validate body: %w", err)
	}
	if !result.Valid() {
		problems := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			problems = append(problems, e.String())
		}
		return req, errors.New(strings.Join(problems, "; "))
	}

	if err := json.Unmarshal(data, &req); err != nil {
		return req, fmt.Errorf("failed to decode body: %w", err)
	}
	return req, nil
}

// ErrorResponseFor maps err to a status code and failure envelope.
func ErrorResponseFor(err error, req Request) (int, ErrorResponse) {
	var (
		configErr     *ConfigurationError
		connErr       *ConnectionError
		validationErr *ValidationError
		actionErr     *InvalidActionError
		persistErr    *PersistenceError
		replyErr      *ReplyError
	)

	status := HTTPStatus(err)

	switch {
	case errors.As(err, &configErr), errors.As(err, &connErr):
		return status, ErrorResponse{
			Error:   "Redis service unavailable",
			Message: "Please check your Redis configuration",
		}
	case errors.As(err, &validationErr):
		return status, ErrorResponse{Error: validationErr.Message, ConversationID: req.ConversationID}
	case errors.As(err, &actionErr):
		return status, ErrorResponse{Error: actionErr.Error()}
	case errors.As(err, &persistErr) && req.Action == ActionClear:
		return status, ErrorResponse{
			Error:          "Error clearing chat history",
			Message:        persistErr.Error(),
			ConversationID: req.ConversationID,
		}
	case errors.As(err, &replyErr):
		return status, ErrorResponse{
			Error:          "Reply generation failed",
			Message:        replyErr.Error(),
			ConversationID: req.ConversationID,
		}
	default:
		return status, ErrorResponse{Error: "Internal server error", Message: err.Error()}
	}
}

func setCORSHeaders(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, "+RequestIDHeader)
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
