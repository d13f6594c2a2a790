package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/opsdesk/internal/fanout"
	"github.com/opsdesk/internal/logger"
	"github.com/opsdesk/internal/middleware"
	"github.com/opsdesk/internal/model"
	"github.com/opsdesk/internal/repository"
)

type MessageHandler struct {
	msgRepo  *repository.MessageRepository
	chatRepo *repository.ChatSupportRepository
	router   *fanout.Router
}

func NewMessageHandler(msgRepo *repository.MessageRepository, chatRepo *repository.ChatSupportRepository, router *fanout.Router) *MessageHandler {
	return &MessageHandler{msgRepo: msgRepo, chatRepo: chatRepo, router: router}
}

// ListForChat returns the transcript page a client fetches when it opens a
// conversation or resyncs after reconnect.
func (h *MessageHandler) ListForChat(w http.ResponseWriter, r *http.Request) {
	chatID := chi.URLParam(r, "chatId")
	msgs, err := h.msgRepo.GetChatMessages(r.Context(), chatID, queryInt(r, "limit", 100))
	if err != nil {
		logger.Errorf("list messages for chat %s: %v", chatID, err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, msgs)
}

type sendMessageRequest struct {
	Body   string `json:"body"`
	TempID string `json:"temp_id,omitempty"`
}

// Send is the REST fallback for clients whose socket is down. It persists and
// fans out exactly like the socket path, so any duplicate across the two
// channels is caught by the client's id-based dedup, not by the server.
func (h *MessageHandler) Send(w http.ResponseWriter, r *http.Request) {
	chatID := chi.URLParam(r, "chatId")
	var req sendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if strings.TrimSpace(req.Body) == "" {
		writeError(w, http.StatusBadRequest, "empty message")
		return
	}

	ok, err := h.chatRepo.Exists(r.Context(), chatID)
	if err != nil {
		logger.Errorf("check chat %s: %v", chatID, err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "conversation not found")
		return
	}

	m := &model.Message{
		ID:            uuid.New().String(),
		ChatSupportID: chatID,
		SenderType:    model.SenderAdmin,
		SenderName:    middleware.GetAdminName(r.Context()),
		SenderID:      middleware.GetAdminID(r.Context()),
		Body:          req.Body,
		CreatedAt:     time.Now().UTC(),
	}
	if err := h.msgRepo.Create(r.Context(), m); err != nil {
		logger.Errorf("create message in chat %s: %v", chatID, err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if err := h.chatRepo.Touch(r.Context(), chatID, m.CreatedAt); err != nil {
		logger.Errorf("touch chat %s: %v", chatID, err)
	}

	h.router.ChatMessage(m, req.TempID)
	writeJSON(w, http.StatusCreated, m)
}

// MarkRead flips unread user messages in a conversation to read.
func (h *MessageHandler) MarkRead(w http.ResponseWriter, r *http.Request) {
	chatID := chi.URLParam(r, "chatId")
	ok, err := h.chatRepo.Exists(r.Context(), chatID)
	if err != nil {
		logger.Errorf("check chat %s: %v", chatID, err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "conversation not found")
		return
	}
	if err := h.msgRepo.MarkAsRead(r.Context(), chatID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		logger.Errorf("mark read chat %s: %v", chatID, err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
