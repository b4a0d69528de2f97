package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/tripdesk/tripdesk/internal/agent"
	"github.com/tripdesk/tripdesk/internal/chat"
	"github.com/tripdesk/tripdesk/internal/session"
	"github.com/tripdesk/tripdesk/internal/stream"
)

// ChatHandler handles the chat endpoints.
//
// Endpoints:
//   - POST /api/v1/chat        - synchronous chat (JSON request/response)
//   - POST /api/v1/chat/stream - streaming chat (Server-Sent Events)
type ChatHandler struct {
	orchestrator *chat.Orchestrator
	logger       *slog.Logger
}

// NewChatHandler creates a chat handler.
func NewChatHandler(o *chat.Orchestrator, logger *slog.Logger) *ChatHandler {
	return &ChatHandler{orchestrator: o, logger: logger}
}

// RegisterRoutes registers chat routes on the given mux.
func (h *ChatHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/v1/chat", h.handleChat)
	mux.HandleFunc("POST /api/v1/chat/stream", h.handleStream)
}

// ChatRequest is the JSON body of both chat endpoints.
type ChatRequest struct {
	Query     string `json:"query"`
	SessionID string `json:"session_id"`

	// ConversationHistory overrides the server-side session history when
	// present. Absent means use whatever the session store holds.
	ConversationHistory []session.Message `json:"conversation_history,omitempty"`

	// Agent optionally pins the request to one agent, skipping routing.
	Agent string `json:"agent,omitempty"`
}

func (r ChatRequest) toRequest() chat.Request {
	return chat.Request{
		Query:     r.Query,
		SessionID: r.SessionID,
		History:   r.ConversationHistory,
		Agent:     agent.Type(r.Agent),
	}
}

// handleChat processes one query synchronously and returns the full response.
func (h *ChatHandler) handleChat(w http.ResponseWriter, r *http.Request) {
	var req ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid request body")
		return
	}
	if req.Query == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "query is required")
		return
	}

	resp, err := h.orchestrator.Respond(r.Context(), req.toRequest())
	if err != nil {
		status, kind, message := httpError(err)
		writeError(w, status, string(kind), message)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// httpError maps a terminal pipeline error onto an HTTP status and the
// wire-visible error kind.
func httpError(err error) (int, stream.ErrorKind, string) {
	var sErr *stream.Error
	if !errors.As(err, &sErr) {
		return http.StatusInternalServerError, stream.KindInternal, "internal error"
	}
	switch sErr.Kind {
	case stream.KindClassification:
		return http.StatusBadRequest, sErr.Kind, sErr.Message
	case stream.KindCacheUnavailable:
		return http.StatusServiceUnavailable, sErr.Kind, sErr.Message
	case stream.KindRetrieval, stream.KindGeneration:
		return http.StatusBadGateway, sErr.Kind, sErr.Message
	case stream.KindCancelled:
		// 499 Client Closed Request (nginx convention).
		return 499, sErr.Kind, sErr.Message
	default:
		return http.StatusInternalServerError, sErr.Kind, sErr.Message
	}
}

// SSEEvent names used on the wire.
const (
	sseEventChunk = "chunk"
	sseEventDone  = "done"
	sseEventError = "error"
)

// SSEChunkData is the payload of "chunk" events.
type SSEChunkData struct {
	Text string `json:"text"`
}

// SSEDoneData is the payload of "done" events.
type SSEDoneData struct {
	Response  string `json:"response"`
	SessionID string `json:"session_id"`
	Agent     string `json:"agent"`
}

// SSEErrorData is the payload of "error" events.
type SSEErrorData struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// handleStream processes one query and streams the response as SSE.
//
// Event order: zero or more "chunk" events, then exactly one "done" or
// "error" event. A client disconnect mid-stream ends the response without a
// terminal frame.
func (h *ChatHandler) handleStream(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // disable nginx buffering

	flusher, ok := w.(http.Flusher)
	if !ok {
		h.logger.Error("streaming not supported")
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	var req ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeSSE(w, flusher, sseEventError, SSEErrorData{Code: "invalid_request", Message: "invalid request body"})
		return
	}
	if req.Query == "" {
		writeSSE(w, flusher, sseEventError, SSEErrorData{Code: "invalid_request", Message: "query is required"})
		return
	}

	ctx := r.Context()
	h.logger.Info("SSE stream started", "session_id", req.SessionID)

	for ev := range h.orchestrator.Stream(ctx, req.toRequest()) {
		if ctx.Err() != nil {
			h.logger.Info("client disconnected", "session_id", req.SessionID)
			return
		}
		switch ev.Type {
		case stream.EventChunk:
			writeSSE(w, flusher, sseEventChunk, SSEChunkData{Text: ev.Chunk})
		case stream.EventComplete:
			writeSSE(w, flusher, sseEventDone, SSEDoneData{
				Response:  ev.Completion.Text,
				SessionID: ev.Completion.SessionID,
				Agent:     string(ev.Completion.Agent),
			})
			h.logger.Info("SSE stream completed",
				"session_id", ev.Completion.SessionID,
				"response_chars", len(ev.Completion.Text))
		case stream.EventError:
			writeSSE(w, flusher, sseEventError, SSEErrorData{
				Code:    string(ev.Err.Kind),
				Message: ev.Err.Message,
			})
		}
	}
}

// writeSSE writes one named SSE frame and flushes it.
func writeSSE(w http.ResponseWriter, flusher http.Flusher, event string, data any) {
	payload, _ := json.Marshal(data)
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, payload)
	flusher.Flush()
}
