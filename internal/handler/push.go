package handler

import (
	"encoding/json"
	"net/http"

	"github.com/opsdesk/internal/logger"
	"github.com/opsdesk/internal/middleware"
	"github.com/opsdesk/internal/push"
)

// PushHandler проксирует подписки браузеров на push-микросервис, подставляя
// admin_id из сессии вместо того, что прислал клиент.
type PushHandler struct {
	push *push.Client
}

func NewPushHandler(pushClient *push.Client) *PushHandler {
	return &PushHandler{push: pushClient}
}

func (h *PushHandler) Subscribe(w http.ResponseWriter, r *http.Request) {
	var sub push.PushSubscription
	if err := json.NewDecoder(r.Body).Decode(&sub); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if sub.Endpoint == "" {
		writeError(w, http.StatusBadRequest, "endpoint required")
		return
	}
	if err := h.push.Subscribe(r.Context(), middleware.GetAdminID(r.Context()), sub); err != nil {
		logger.Errorf("push subscribe: %v", err)
		writeError(w, http.StatusBadGateway, "push service unavailable")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type unsubscribeRequest struct {
	Endpoint string `json:"endpoint"`
}

func (h *PushHandler) Unsubscribe(w http.ResponseWriter, r *http.Request) {
	var req unsubscribeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if req.Endpoint == "" {
		writeError(w, http.StatusBadRequest, "endpoint required")
		return
	}
	if err := h.push.Unsubscribe(r.Context(), middleware.GetAdminID(r.Context()), req.Endpoint); err != nil {
		logger.Errorf("push unsubscribe: %v", err)
		writeError(w, http.StatusBadGateway, "push service unavailable")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
