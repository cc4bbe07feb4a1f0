// internal/app/features/activity/handler.go
package activity

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/dalemusser/liveplay/internal/app/services/livesessions"
	"github.com/dalemusser/liveplay/internal/app/system/apperr"
	"github.com/dalemusser/liveplay/internal/app/system/gates"
	"github.com/dalemusser/liveplay/internal/domain/models"
	"go.uber.org/zap"
)

// DefaultLimit is used when the request gives no limit.
const DefaultLimit = 200

// Handler serves a session's activity log to its host.
type Handler struct {
	Sessions *livesessions.Service
	Log      *zap.Logger
}

// NewHandler creates an activity Handler.
func NewHandler(sessions *livesessions.Service, logger *zap.Logger) *Handler {
	return &Handler{Sessions: sessions, Log: logger}
}

type query struct {
	eventType string
	limit     int
}

func parseQuery(r *http.Request) (query, error) {
	q := query{
		eventType: strings.TrimSpace(r.URL.Query().Get("event_type")),
		limit:     DefaultLimit,
	}
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > livesessions.MaxActivityLimit {
			return q, apperr.New(apperr.ErrInvalidInput,
				"limit must be between 1 and "+strconv.Itoa(livesessions.MaxActivityLimit))
		}
		q.limit = n
	}
	return q, nil
}

// load runs the shared gates and returns the requested entries. It writes
// the error response itself and returns ok=false on failure.
func (h *Handler) load(w http.ResponseWriter, r *http.Request) ([]models.ActivityLogEntry, string, bool) {
	actor, ok := gates.RequireHost(w, r)
	if !ok {
		return nil, "", false
	}
	sessionID, ok := gates.ObjectID(w, r, "id", "session")
	if !ok {
		return nil, "", false
	}
	q, err := parseQuery(r)
	if err != nil {
		apperr.Write(w, err)
		return nil, "", false
	}
	entries, err := h.Sessions.Activity(r.Context(), actor, sessionID, q.eventType, q.limit)
	if err != nil {
		if apperr.Status(err) >= http.StatusInternalServerError {
			h.Log.Error("list activity failed", zap.String("session_id", sessionID.Hex()), zap.Error(err))
		}
		apperr.Write(w, err)
		return nil, "", false
	}
	return entries, sessionID.Hex(), true
}

// ServeList handles GET /api/sessions/{id}/activity.
func (h *Handler) ServeList(w http.ResponseWriter, r *http.Request) {
	entries, _, ok := h.load(w, r)
	if !ok {
		return
	}
	if entries == nil {
		entries = []models.ActivityLogEntry{}
	}
	gates.JSON(w, http.StatusOK, map[string]any{"entries": entries})
}
