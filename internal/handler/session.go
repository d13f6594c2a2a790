package handler

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/opsdesk/internal/logger"
	"github.com/opsdesk/internal/middleware"
	"github.com/opsdesk/internal/model"
	"github.com/opsdesk/internal/repository"
	"github.com/opsdesk/internal/storage"
)

// SessionHandler выдаёт и отзывает сессии операторов. Секрет сессии
// возвращается клиенту один раз; сервер хранит только его hash в БД и
// сам секрет в store для проверки подписи запросов.
type SessionHandler struct {
	sessionRepo *repository.SessionRepository
	store       storage.SessionSecretStore
	adminAPIKey string
}

func NewSessionHandler(sessionRepo *repository.SessionRepository, store storage.SessionSecretStore, adminAPIKey string) *SessionHandler {
	return &SessionHandler{sessionRepo: sessionRepo, store: store, adminAPIKey: adminAPIKey}
}

type loginRequest struct {
	AdminID   string `json:"admin_id"`
	AdminName string `json:"admin_name"`
}

type loginResponse struct {
	SessionID string `json:"session_id"`
	Secret    string `json:"secret"`
}

// Login выдаёт новую сессию. Доступ по ключу из конфигурации (ADMIN_API_KEY);
// без ключа выдача отключена.
func (h *SessionHandler) Login(w http.ResponseWriter, r *http.Request) {
	if h.adminAPIKey == "" {
		writeError(w, http.StatusNotImplemented, "login disabled")
		return
	}
	key := r.Header.Get("X-Admin-Key")
	if subtle.ConstantTimeCompare([]byte(key), []byte(h.adminAPIKey)) != 1 {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if req.AdminID == "" || strings.TrimSpace(req.AdminName) == "" {
		writeError(w, http.StatusBadRequest, "admin_id and admin_name required")
		return
	}

	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		logger.Errorf("login: generate secret: %v", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	secretB64 := base64.StdEncoding.EncodeToString(secret)
	hash := sha256.Sum256(secret)

	now := time.Now().UTC()
	s := &model.Session{
		ID:         uuid.New().String(),
		AdminID:    req.AdminID,
		AdminName:  strings.TrimSpace(req.AdminName),
		SecretHash: hex.EncodeToString(hash[:]),
		LastSeenAt: now,
		CreatedAt:  now,
	}
	if err := h.sessionRepo.Create(r.Context(), s); err != nil {
		logger.Errorf("login: create session: %v", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if err := h.store.SetSessionSecret(r.Context(), s.ID, secretB64); err != nil {
		logger.Errorf("login: store secret session_id=%s: %v", middleware.MaskSessionID(s.ID), err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	writeJSON(w, http.StatusCreated, loginResponse{SessionID: s.ID, Secret: secretB64})
}

// Logout отзывает текущую сессию и удаляет её секрет из store.
func (h *SessionHandler) Logout(w http.ResponseWriter, r *http.Request) {
	sessionID := middleware.GetSessionID(r.Context())
	if sessionID == "" {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	ok, err := h.sessionRepo.RevokeByID(r.Context(), sessionID)
	if err != nil {
		logger.Errorf("logout session_id=%s: %v", middleware.MaskSessionID(sessionID), err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if err := h.store.DeleteSessionSecret(r.Context(), sessionID); err != nil {
		logger.Errorf("logout: delete secret session_id=%s: %v", middleware.MaskSessionID(sessionID), err)
	}
	if !ok {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
