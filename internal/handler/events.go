package handler

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/opsdesk/internal/fanout"
	"github.com/opsdesk/internal/logger"
	"github.com/opsdesk/internal/model"
	"github.com/opsdesk/internal/repository"
)

// EventsHandler is the ingress for non-real-time collaborators (job service,
// alert service, activity logger). They POST here after committing their own
// write; the handler persists what needs history and fans the event out.
// Routes are mounted behind the internal-only middleware.
type EventsHandler struct {
	activityRepo *repository.ActivityRepository
	router       *fanout.Router
}

func NewEventsHandler(activityRepo *repository.ActivityRepository, router *fanout.Router) *EventsHandler {
	return &EventsHandler{activityRepo: activityRepo, router: router}
}

type activityRequest struct {
	ActorName string `json:"actor_name"`
	Action    string `json:"action"`
	Target    string `json:"target,omitempty"`
}

func (h *EventsHandler) Activity(w http.ResponseWriter, r *http.Request) {
	var req activityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if strings.TrimSpace(req.Action) == "" {
		writeError(w, http.StatusBadRequest, "action required")
		return
	}

	e := model.ActivityEntry{
		ID:        uuid.New().String(),
		ActorName: req.ActorName,
		Action:    req.Action,
		Target:    req.Target,
		CreatedAt: time.Now().UTC(),
	}
	if err := h.activityRepo.Create(r.Context(), &e); err != nil {
		logger.Errorf("persist activity: %v", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	h.router.Activity(e)
	writeJSON(w, http.StatusCreated, e)
}

type alertRequest struct {
	Level model.AlertLevel `json:"level"`
	Title string           `json:"title"`
	Body  string           `json:"body,omitempty"`
}

func (h *EventsHandler) Alert(w http.ResponseWriter, r *http.Request) {
	var req alertRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if strings.TrimSpace(req.Title) == "" {
		writeError(w, http.StatusBadRequest, "title required")
		return
	}
	switch req.Level {
	case model.AlertLevelWarning, model.AlertLevelCritical:
	default:
		writeError(w, http.StatusBadRequest, "invalid level")
		return
	}

	a := model.AlertEntry{
		ID:        uuid.New().String(),
		Level:     req.Level,
		Title:     req.Title,
		Body:      req.Body,
		CreatedAt: time.Now().UTC(),
	}

	h.router.CriticalAlert(a)
	writeJSON(w, http.StatusAccepted, a)
}

func (h *EventsHandler) Job(w http.ResponseWriter, r *http.Request) {
	var req model.JobUpdate
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if req.JobID == "" || req.UpdateType == "" {
		writeError(w, http.StatusBadRequest, "job_id and update_type required")
		return
	}

	h.router.JobUpdated(req.JobID, req.UpdateType)
	w.WriteHeader(http.StatusAccepted)
}

// ActivityFeed serves the recent activity page admins refetch after reconnect.
func (h *EventsHandler) ActivityFeed(w http.ResponseWriter, r *http.Request) {
	entries, err := h.activityRepo.ListRecent(r.Context(), queryInt(r, "limit", 50))
	if err != nil {
		logger.Errorf("list activity: %v", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, entries)
}
