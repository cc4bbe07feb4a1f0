// internal/app/features/participant/handler.go
package participant

import (
	"net/http"
	"time"

	"github.com/dalemusser/liveplay/internal/app/services/registry"
	"github.com/dalemusser/liveplay/internal/app/services/roles"
	"github.com/dalemusser/liveplay/internal/app/system/apperr"
	"github.com/dalemusser/liveplay/internal/app/system/gates"
	"github.com/dalemusser/liveplay/internal/app/system/limits"
	"github.com/dalemusser/liveplay/internal/domain/models"
	"go.uber.org/zap"
)

// Handler serves the calls a participant makes about itself. Every route
// authenticates with the x-participant-token header.
type Handler struct {
	Registry *registry.Service
	Roles    *roles.Service
	Log      *zap.Logger
}

// NewHandler creates a participant Handler.
func NewHandler(reg *registry.Service, roleSvc *roles.Service, logger *zap.Logger) *Handler {
	return &Handler{Registry: reg, Roles: roleSvc, Log: logger}
}

// ServeMe handles GET /api/participant/me.
func (h *Handler) ServeMe(w http.ResponseWriter, r *http.Request) {
	token, ok := gates.RequireParticipant(w, r)
	if !ok {
		return
	}
	p, err := h.Registry.Me(r.Context(), token)
	if err != nil {
		h.fail(w, "me", err)
		return
	}
	gates.JSON(w, http.StatusOK, p)
}

// heartbeatRequest is the JSON body for the heartbeat endpoint.
type heartbeatRequest struct {
	// LastActivityAt is the client's last user interaction. Optional.
	LastActivityAt *time.Time `json:"last_activity_at"`
}

type heartbeatResponse struct {
	Status     models.ParticipantStatus `json:"status"`
	LastSeenAt time.Time                `json:"last_seen_at"`
}

// ServeHeartbeat handles POST /api/participant/heartbeat.
// Records presence and reports whether the participant now counts as idle.
// A disconnected participant with a live token is brought back.
func (h *Handler) ServeHeartbeat(w http.ResponseWriter, r *http.Request) {
	token, ok := gates.RequireParticipant(w, r)
	if !ok {
		return
	}
	var req heartbeatRequest
	if !gates.DecodeJSON(w, r, limits.MaxJoinBody, &req) {
		return
	}
	p, err := h.Registry.Heartbeat(r.Context(), token, req.LastActivityAt)
	if err != nil {
		h.fail(w, "heartbeat", err)
		return
	}
	gates.JSON(w, http.StatusOK, heartbeatResponse{Status: p.Status, LastSeenAt: p.LastSeenAt})
}

// ServeRole handles GET /api/participant/role. Only the allow-listed view
// of the role leaves the server; secret instructions appear after the
// secret reveal.
func (h *Handler) ServeRole(w http.ResponseWriter, r *http.Request) {
	token, ok := gates.RequireParticipant(w, r)
	if !ok {
		return
	}
	view, err := h.Roles.SafeProjection(r.Context(), token)
	if err != nil {
		h.fail(w, "role projection", err)
		return
	}
	gates.JSON(w, http.StatusOK, view)
}

// ServeReveal handles POST /api/participant/role/reveal.
func (h *Handler) ServeReveal(w http.ResponseWriter, r *http.Request) {
	token, ok := gates.RequireParticipant(w, r)
	if !ok {
		return
	}
	view, err := h.Roles.MarkRevealed(r.Context(), token)
	if err != nil {
		h.fail(w, "reveal role", err)
		return
	}
	gates.JSON(w, http.StatusOK, view)
}

// ServeRevealSecret handles POST /api/participant/role/reveal-secret.
func (h *Handler) ServeRevealSecret(w http.ResponseWriter, r *http.Request) {
	token, ok := gates.RequireParticipant(w, r)
	if !ok {
		return
	}
	view, err := h.Roles.MarkSecretRevealed(r.Context(), token)
	if err != nil {
		h.fail(w, "reveal secret instructions", err)
		return
	}
	gates.JSON(w, http.StatusOK, view)
}

func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	if apperr.Status(err) >= http.StatusInternalServerError {
		h.Log.Error(op+" failed", zap.Error(err))
	}
	apperr.Write(w, err)
}
