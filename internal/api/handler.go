// Package api exposes lifecycle commands and the notification inbox over HTTP.
// Authorization is the caller's concern.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"github.com/Auros/VRAtlas.API-sub000/internal/lifecycle"
	"github.com/Auros/VRAtlas.API-sub000/internal/store"
)

// Pagination defaults and limits.
const (
	DefaultLimit = 50
	MaxLimit     = 500
)

// Commands is the lifecycle surface driven by the API.
type Commands interface {
	Schedule(ctx context.Context, id uuid.UUID, start, end time.Time) error
	Announce(ctx context.Context, id uuid.UUID) error
	MarkPreliminary(ctx context.Context, id uuid.UUID) error
	Start(ctx context.Context, id uuid.UUID) error
	Conclude(ctx context.Context, id uuid.UUID) error
	Cancel(ctx context.Context, id uuid.UUID) error
	InviteStar(ctx context.Context, eventID, userID uuid.UUID) error
	ConfirmStar(ctx context.Context, eventID, userID uuid.UUID) error
}

// HealthChecker provides database health status for the /health endpoint.
type HealthChecker interface {
	PingContext(ctx context.Context) error
}

type Handler struct {
	commands Commands
	store    store.Store
	db       HealthChecker
	logger   zerolog.Logger
}

func NewHandler(commands Commands, st store.Store) *Handler {
	return &Handler{commands: commands, store: st, logger: zerolog.Nop()}
}

// WithHealthChecker sets the database health checker for verbose /health responses.
func (h *Handler) WithHealthChecker(db HealthChecker) *Handler {
	h.db = db
	return h
}

func (h *Handler) WithLogger(l zerolog.Logger) *Handler {
	h.logger = l.With().Str("component", "api").Logger()
	return h
}

// Router builds the route table.
func (h *Handler) Router() *mux.Router {
	r := mux.NewRouter()
	r.Use(Recovery(h.logger))
	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "not found")
	})

	r.HandleFunc("/health", h.health).Methods(http.MethodGet)

	r.HandleFunc("/events/{eventId:[0-9a-fA-F-]{36}}", h.getEvent).Methods(http.MethodGet)

	ev := r.PathPrefix("/events/{eventId:[0-9a-fA-F-]{36}}").Subrouter()
	ev.HandleFunc("/schedule", h.schedule).Methods(http.MethodPost)
	ev.HandleFunc("/announce", h.transition(h.commands.Announce)).Methods(http.MethodPost)
	ev.HandleFunc("/preliminary", h.transition(h.commands.MarkPreliminary)).Methods(http.MethodPost)
	ev.HandleFunc("/start", h.transition(h.commands.Start)).Methods(http.MethodPost)
	ev.HandleFunc("/conclude", h.transition(h.commands.Conclude)).Methods(http.MethodPost)
	ev.HandleFunc("/cancel", h.transition(h.commands.Cancel)).Methods(http.MethodPost)
	ev.HandleFunc("/stars/{userId:[0-9a-fA-F-]{36}}/invite", h.star(h.commands.InviteStar)).Methods(http.MethodPost)
	ev.HandleFunc("/stars/{userId:[0-9a-fA-F-]{36}}/confirm", h.star(h.commands.ConfirmStar)).Methods(http.MethodPost)

	u := r.PathPrefix("/users/{userId:[0-9a-fA-F-]{36}}").Subrouter()
	u.HandleFunc("/notifications", h.listNotifications).Methods(http.MethodGet)
	u.HandleFunc("/notifications/{notificationId:[0-9a-fA-F-]{36}}/read", h.markRead).Methods(http.MethodPost)

	return r
}

// HealthResponse represents the /health endpoint response.
type HealthResponse struct {
	Status     string            `json:"status"`
	Components map[string]string `json:"components,omitempty"`
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	verbose := r.URL.Query().Get("verbose") == "true"
	if !verbose || h.db == nil {
		writeJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
		return
	}

	resp := HealthResponse{
		Status:     "ok",
		Components: make(map[string]string),
	}

	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	if err := h.db.PingContext(ctx); err != nil {
		resp.Status = "degraded"
		resp.Components["database"] = "unhealthy: " + err.Error()
	} else {
		resp.Components["database"] = "healthy"
	}

	statusCode := http.StatusOK
	if resp.Status == "degraded" {
		statusCode = http.StatusServiceUnavailable
	}
	writeJSON(w, statusCode, resp)
}

func (h *Handler) getEvent(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "eventId")
	if !ok {
		return
	}
	h.respondEvent(w, r, id)
}

// maxRequestBodySize is the maximum allowed request body size (64KB).
const maxRequestBodySize = 64 << 10

func (h *Handler) schedule(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "eventId")
	if !ok {
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	var req ScheduleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}

	start, end, err := validateSchedule(req)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.commands.Schedule(r.Context(), id, start, end); err != nil {
		h.commandError(w, "schedule", err)
		return
	}
	h.respondEvent(w, r, id)
}

func (h *Handler) transition(op func(ctx context.Context, id uuid.UUID) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathUUID(w, r, "eventId")
		if !ok {
			return
		}
		if err := op(r.Context(), id); err != nil {
			h.commandError(w, "transition", err)
			return
		}
		h.respondEvent(w, r, id)
	}
}

func (h *Handler) star(op func(ctx context.Context, eventID, userID uuid.UUID) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		eventID, ok := pathUUID(w, r, "eventId")
		if !ok {
			return
		}
		userID, ok := pathUUID(w, r, "userId")
		if !ok {
			return
		}

		if err := op(r.Context(), eventID, userID); err != nil {
			h.commandError(w, "star", err)
			return
		}

		p, err := h.store.GetParticipant(r.Context(), eventID, userID)
		if err != nil {
			h.logger.Error().Err(err).Msg("read participant after update")
			writeError(w, http.StatusInternalServerError, "failed to read participant")
			return
		}
		writeJSON(w, http.StatusOK, ParticipantResponse{
			EventID:   p.EventID.String(),
			UserID:    p.UserID.String(),
			Status:    string(p.Status),
			UpdatedAt: formatTime(p.UpdatedAt),
		})
	}
}

func (h *Handler) listNotifications(w http.ResponseWriter, r *http.Request) {
	userID, ok := pathUUID(w, r, "userId")
	if !ok {
		return
	}

	limit, offset, err := parsePagination(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	notifications, err := h.store.ListNotifications(r.Context(), userID, limit, offset)
	if err != nil {
		h.logger.Error().Err(err).Str("user_id", userID.String()).Msg("list notifications")
		writeError(w, http.StatusInternalServerError, "failed to list notifications")
		return
	}

	resp := ListNotificationsResponse{Notifications: make([]NotificationResponse, len(notifications))}
	for i, n := range notifications {
		resp.Notifications[i] = notificationResponse(n)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) markRead(w http.ResponseWriter, r *http.Request) {
	userID, ok := pathUUID(w, r, "userId")
	if !ok {
		return
	}
	id, ok := pathUUID(w, r, "notificationId")
	if !ok {
		return
	}

	err := h.store.InTx(r.Context(), func(tx store.Tx) error {
		return tx.MarkNotificationRead(r.Context(), id, userID)
	})
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "notification not found")
		return
	}
	if err != nil {
		h.logger.Error().Err(err).Str("notification_id", id.String()).Msg("mark read")
		writeError(w, http.StatusInternalServerError, "failed to mark notification read")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) respondEvent(w http.ResponseWriter, r *http.Request, id uuid.UUID) {
	e, err := h.store.GetEvent(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "event not found")
		return
	}
	if err != nil {
		h.logger.Error().Err(err).Str("event_id", id.String()).Msg("get event")
		writeError(w, http.StatusInternalServerError, "failed to read event")
		return
	}
	writeJSON(w, http.StatusOK, eventResponse(e))
}

// commandError maps lifecycle failures to status codes.
func (h *Handler) commandError(w http.ResponseWriter, op string, err error) {
	var te *lifecycle.TransitionError
	switch {
	case errors.As(err, &te):
		writeError(w, http.StatusConflict, te.Error())
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	default:
		h.logger.Error().Err(err).Str("op", op).Msg("command failed")
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func pathUUID(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(mux.Vars(r)[name])
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid "+name)
		return uuid.Nil, false
	}
	return id, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg})
}
