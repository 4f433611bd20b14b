package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"gwi.com/answer-engine/internal/auth"
	"gwi.com/answer-engine/internal/core"
	"gwi.com/answer-engine/internal/metrics"
)

// TextRewriter covers the single-shot model calls.
type TextRewriter interface {
	Rephrase(ctx context.Context, query string) (string, error)
	Transform(ctx context.Context, text, prompt string) (string, error)
}

type Pinger interface {
	Ping(ctx context.Context) error
}

type Deps struct {
	Conversations *core.ConversationService
	Relay         *core.AnswerRelay
	Rewriter      TextRewriter
	Owners        auth.OwnerResolver
	DB            Pinger
	Logger        *zap.Logger
}

type APIHandler struct {
	conversations *core.ConversationService
	relay         *core.AnswerRelay
	rewriter      TextRewriter
	owners        auth.OwnerResolver
	db            Pinger
	logger        *zap.Logger
}

func NewAPIHandler(d Deps) *APIHandler {
	owners := d.Owners
	if owners == nil {
		owners = auth.QueryParamResolver{Default: auth.DefaultUserID}
	}
	logger := d.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &APIHandler{
		conversations: d.Conversations,
		relay:         d.Relay,
		rewriter:      d.Rewriter,
		owners:        owners,
		db:            d.DB,
		logger:        logger,
	}
}

// Health handles GET /health
func (h *APIHandler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

// Ready handles GET /ready
func (h *APIHandler) Ready(w http.ResponseWriter, r *http.Request) {
	if h.db != nil {
		if err := h.db.Ping(r.Context()); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status": "not ready",
				"reason": "database unavailable",
			})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// Answer handles POST /api/answer. Validation and rate limit failures are
// plain JSON responses; everything after admission is an event stream.
func (h *APIHandler) Answer(w http.ResponseWriter, r *http.Request) {
	var req core.AnswerRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", core.CodeInvalidBody)
		return
	}
	req.Query = strings.TrimSpace(req.Query)

	if err := h.relay.Admit(&req, clientIP(r)); err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "Streaming not supported", codeStreamUnsupported)
		return
	}

	metrics.SSEConnectionsActive.Inc()
	defer metrics.SSEConnectionsActive.Dec()

	sse := startSSE(w, flusher)
	if err := h.relay.Stream(r.Context(), &req, sse.Send); err != nil {
		h.logger.Debug("answer stream ended early",
			zap.String("correlation_id", GetCorrelationID(r.Context())),
			zap.Error(err),
		)
	}
}

type rephraseRequest struct {
	Query string `json:"query"`
}

type rephraseResponse struct {
	Rephrased string `json:"rephrased"`
	Error     string `json:"error,omitempty"`
}

// Rephrase handles POST /api/rephrase. On failure the original query is still
// returned so the client can carry on with it.
func (h *APIHandler) Rephrase(w http.ResponseWriter, r *http.Request) {
	var req rephraseRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", core.CodeInvalidBody)
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		writeError(w, http.StatusBadRequest, "Query is required", core.CodeMissingQuery)
		return
	}

	rephrased, err := h.rewriter.Rephrase(r.Context(), req.Query)
	if err != nil {
		h.logger.Error("rephrase failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, rephraseResponse{
			Error:     "Failed to rephrase query",
			Rephrased: req.Query,
		})
		return
	}
	writeJSON(w, http.StatusOK, rephraseResponse{Rephrased: rephrased})
}

type transformRequest struct {
	Text   string `json:"text"`
	Action string `json:"action"`
	Prompt string `json:"prompt"`
}

// Transform handles POST /api/transform
func (h *APIHandler) Transform(w http.ResponseWriter, r *http.Request) {
	var req transformRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", core.CodeInvalidBody)
		return
	}
	if req.Text == "" || req.Action == "" || req.Prompt == "" {
		writeError(w, http.StatusBadRequest, "Text, action, and prompt are required", core.CodeInvalidBody)
		return
	}

	result, err := h.rewriter.Transform(r.Context(), req.Text, req.Prompt)
	if err != nil {
		h.logger.Error("transform failed", zap.String("action", req.Action), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Failed to transform text", core.CodeInternal)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"result": result})
}

// ListConversations handles GET /api/conversations
func (h *APIHandler) ListConversations(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := h.resolveOwner(w, r)
	if !ok {
		return
	}
	list, err := h.conversations.ListConversations(r.Context(), ownerID)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

// createConversationRequest keeps loosely typed fields so a non-string
// message is reported as MISSING_MESSAGE rather than a decode failure.
type createConversationRequest struct {
	Title   interface{} `json:"title"`
	Message interface{} `json:"message"`
	UserID  *int64      `json:"userId"`
}

// CreateConversation handles POST /api/conversations
func (h *APIHandler) CreateConversation(w http.ResponseWriter, r *http.Request) {
	var req createConversationRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", core.CodeInvalidBody)
		return
	}

	ownerID, ok := h.resolveOwner(w, r)
	if !ok {
		return
	}
	// The body may name the owner unless a bearer token already did.
	if req.UserID != nil && r.Header.Get("Authorization") == "" {
		if *req.UserID <= 0 {
			writeError(w, http.StatusBadRequest, "Valid user ID is required", core.CodeInvalidUserID)
			return
		}
		ownerID = *req.UserID
	}

	message, _ := req.Message.(string)
	title, _ := req.Title.(string)

	conv, err := h.conversations.CreateConversation(r.Context(), ownerID, title, message)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, conv)
}

// GetConversation handles GET /api/conversations/{id}
func (h *APIHandler) GetConversation(w http.ResponseWriter, r *http.Request) {
	id, ok := conversationID(w, r)
	if !ok {
		return
	}
	ownerID, ok := h.resolveOwner(w, r)
	if !ok {
		return
	}
	conv, err := h.conversations.GetConversation(r.Context(), id, ownerID)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, conv)
}

// DeleteConversation handles DELETE /api/conversations/{id}
func (h *APIHandler) DeleteConversation(w http.ResponseWriter, r *http.Request) {
	id, ok := conversationID(w, r)
	if !ok {
		return
	}
	ownerID, ok := h.resolveOwner(w, r)
	if !ok {
		return
	}
	if err := h.conversations.DeleteConversation(r.Context(), id, ownerID); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ClearConversations handles DELETE /api/conversations/clear
func (h *APIHandler) ClearConversations(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := h.resolveOwner(w, r)
	if !ok {
		return
	}
	if _, err := h.conversations.ClearAllConversations(r.Context(), ownerID); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type appendMessageRequest struct {
	Role      interface{} `json:"role"`
	Content   interface{} `json:"content"`
	ModelUsed *string     `json:"modelUsed"`
}

// AppendMessage handles POST /api/conversations/{id}/messages
func (h *APIHandler) AppendMessage(w http.ResponseWriter, r *http.Request) {
	id, ok := conversationID(w, r)
	if !ok {
		return
	}
	ownerID, ok := h.resolveOwner(w, r)
	if !ok {
		return
	}

	var req appendMessageRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", core.CodeInvalidBody)
		return
	}

	role := ""
	if req.Role != nil {
		role = fmt.Sprint(req.Role)
	}
	content, _ := req.Content.(string)
	modelUsed := ""
	if req.ModelUsed != nil {
		modelUsed = *req.ModelUsed
	}

	msg, err := h.conversations.AppendMessage(r.Context(), id, ownerID, role, content, modelUsed)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, msg)
}

var errInvalidID = errors.New("valid conversation ID is required")

func parseID(raw string) (int64, error) {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, errInvalidID
	}
	return id, nil
}

func conversationID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := parseID(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Valid conversation ID is required", core.CodeInvalidID)
		return 0, false
	}
	return id, true
}
