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
	"github.com/opsdesk/internal/model"
	"github.com/opsdesk/internal/repository"
)

type ChatHandler struct {
	chatRepo *repository.ChatSupportRepository
	router   *fanout.Router
}

func NewChatHandler(chatRepo *repository.ChatSupportRepository, router *fanout.Router) *ChatHandler {
	return &ChatHandler{chatRepo: chatRepo, router: router}
}

// List is the authoritative ticket list clients re-request after reconnect.
func (h *ChatHandler) List(w http.ResponseWriter, r *http.Request) {
	items, err := h.chatRepo.List(r.Context(), queryInt(r, "limit", 100))
	if err != nil {
		logger.Errorf("list chats: %v", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, items)
}

type createChatRequest struct {
	UserID   string `json:"user_id"`
	UserName string `json:"user_name"`
	Subject  string `json:"subject"`
}

// Create opens a new support conversation and tells every admin about it.
func (h *ChatHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if req.UserID == "" || strings.TrimSpace(req.UserName) == "" {
		writeError(w, http.StatusBadRequest, "user_id and user_name required")
		return
	}

	now := time.Now().UTC()
	c := &model.ChatSupport{
		ID:        uuid.New().String(),
		UserID:    req.UserID,
		UserName:  strings.TrimSpace(req.UserName),
		Subject:   strings.TrimSpace(req.Subject),
		Status:    model.ChatStatusOpen,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := h.chatRepo.Create(r.Context(), c); err != nil {
		logger.Errorf("create chat: %v", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	h.router.ChatCreated()
	writeJSON(w, http.StatusCreated, c)
}

// Update patches status/assignment and fans the change out to the room and
// the admin namespace.
func (h *ChatHandler) Update(w http.ResponseWriter, r *http.Request) {
	chatID := chi.URLParam(r, "id")
	var updates model.ChatUpdates
	if err := json.NewDecoder(r.Body).Decode(&updates); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if updates.Status == nil && updates.AssignedTo == nil {
		writeError(w, http.StatusBadRequest, "nothing to update")
		return
	}
	if updates.Status != nil {
		switch *updates.Status {
		case model.ChatStatusOpen, model.ChatStatusPending, model.ChatStatusClosed:
		default:
			writeError(w, http.StatusBadRequest, "invalid status")
			return
		}
	}

	now := time.Now().UTC()
	if err := h.chatRepo.ApplyUpdates(r.Context(), chatID, updates, now); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeError(w, http.StatusNotFound, "conversation not found")
			return
		}
		logger.Errorf("update chat %s: %v", chatID, err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	h.router.ChatUpdated(chatID, updates, now)
	w.WriteHeader(http.StatusNoContent)
}

// Get returns one conversation.
func (h *ChatHandler) Get(w http.ResponseWriter, r *http.Request) {
	chatID := chi.URLParam(r, "id")
	c, err := h.chatRepo.GetByID(r.Context(), chatID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeError(w, http.StatusNotFound, "conversation not found")
			return
		}
		logger.Errorf("get chat %s: %v", chatID, err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, c)
}
