// Package httpapi exposes the conversation service over HTTP: an NDJSON
// streaming endpoint plus conversation CRUD.
package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/rs/zerolog"

	"sat/internal/orchestrator"
	"sat/internal/runtime"
	"sat/internal/storage"
	"sat/internal/stream"
)

type Handler struct {
	orch  *orchestrator.Orchestrator
	store storage.Store
	log   zerolog.Logger
}

// streamRequest 与客户端约定的请求体
// streamRequest is the request contract of the stream endpoint. A missing
// conversationId means "start a new conversation".
type streamRequest struct {
	UserInput      string `json:"userInput"`
	ConversationID string `json:"conversationId,omitempty"`
}

func New(orch *orchestrator.Orchestrator, store storage.Store, log zerolog.Logger) http.Handler {
	h := &Handler{orch: orch, store: store, log: log}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/stream", h.handleStream)
	mux.HandleFunc("GET /api/conversations", h.handleList)
	mux.HandleFunc("POST /api/conversations", h.handleCreate)
	mux.HandleFunc("GET /api/conversations/{id}", h.handleGet)
	mux.HandleFunc("DELETE /api/conversations/{id}", h.handleDelete)
	return mux
}

func (h *Handler) handleStream(w http.ResponseWriter, r *http.Request) {
	var req streamRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.UserInput) == "" {
		http.Error(w, "userInput is required", http.StatusBadRequest)
		return
	}

	conv, err := h.orch.Resolve(req.ConversationID)
	if err != nil {
		if errors.Is(err, storage.ErrConversationNotFound) {
			http.Error(w, "conversation not found", http.StatusNotFound)
			return
		}
		h.log.Error().Err(err).Msg("resolve conversation")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	// 流式响应头；新会话的 id 通过响应头带回。
	// The conversation id rides on a header so a freshly created conversation
	// is known to the client before the first event.
	w.Header().Set("Content-Type", "application/x-ndjson")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("X-Conversation-Id", conv.ID)

	enc := stream.NewEncoder(w)
	err = h.orch.Chat(r.Context(), conv.ID, req.UserInput, enc.Encode)
	if err != nil {
		if errors.Is(err, runtime.ErrThreadBusy) {
			http.Error(w, "a response is already being generated for this conversation", http.StatusConflict)
			return
		}
		h.log.Error().Err(err).Str("conversation", conv.ID).Msg("chat failed before stream start")
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	convs, err := h.store.ListConversations()
	if err != nil {
		h.log.Error().Err(err).Msg("list conversations")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, convs)
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	conv, err := h.store.CreateConversation()
	if err != nil {
		h.log.Error().Err(err).Msg("create conversation")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusCreated, conv)
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	conv, turns, err := h.store.GetConversation(r.PathValue("id"))
	if err != nil {
		if errors.Is(err, storage.ErrConversationNotFound) {
			http.Error(w, "conversation not found", http.StatusNotFound)
			return
		}
		h.log.Error().Err(err).Msg("get conversation")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		storage.Conversation
		Turns []storage.Turn `json:"turns"`
	}{conv, turns})
}

func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	if err := h.store.DeleteConversation(r.PathValue("id")); err != nil {
		if errors.Is(err, storage.ErrConversationNotFound) {
			http.Error(w, "conversation not found", http.StatusNotFound)
			return
		}
		h.log.Error().Err(err).Msg("delete conversation")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
