// internal/app/features/roster/handler.go
package roster

import (
	"net/http"

	"github.com/dalemusser/liveplay/internal/app/services/registry"
	"github.com/dalemusser/liveplay/internal/app/system/apperr"
	"github.com/dalemusser/liveplay/internal/app/system/gates"
	"github.com/dalemusser/liveplay/internal/app/system/limits"
	"github.com/dalemusser/liveplay/internal/domain/models"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"
)

// Handler serves the host's view of a session's participants.
type Handler struct {
	Registry *registry.Service
	Log      *zap.Logger
}

// NewHandler creates a roster Handler.
func NewHandler(reg *registry.Service, logger *zap.Logger) *Handler {
	return &Handler{Registry: reg, Log: logger}
}

// ServeList handles GET /api/sessions/{id}/participants.
func (h *Handler) ServeList(w http.ResponseWriter, r *http.Request) {
	actor, ok := gates.RequireHost(w, r)
	if !ok {
		return
	}
	sessionID, ok := gates.ObjectID(w, r, "id", "session")
	if !ok {
		return
	}
	list, err := h.Registry.List(r.Context(), actor, sessionID)
	if err != nil {
		h.fail(w, "list participants", err)
		return
	}
	if list == nil {
		list = []models.Participant{}
	}
	gates.JSON(w, http.StatusOK, map[string]any{"participants": list})
}

type roleRequest struct {
	Role models.ParticipantRole `json:"role"`
}

// ServeSetRole handles POST /api/sessions/{id}/participants/{pid}/role.
func (h *Handler) ServeSetRole(w http.ResponseWriter, r *http.Request) {
	var req roleRequest
	h.mutate(w, r, &req, "set participant role", func(sessionID, pid primitive.ObjectID) (models.Participant, error) {
		actor, _ := gates.Caller(r)
		return h.Registry.SetRole(r.Context(), actor, sessionID, pid, req.Role)
	})
}

type statusRequest struct {
	Status models.ParticipantStatus `json:"status"`
	Reason string                   `json:"reason"`
}

// ServeSetStatus handles POST /api/sessions/{id}/participants/{pid}/status.
// Only kicked and blocked are accepted.
func (h *Handler) ServeSetStatus(w http.ResponseWriter, r *http.Request) {
	var req statusRequest
	h.mutate(w, r, &req, "set participant status", func(sessionID, pid primitive.ObjectID) (models.Participant, error) {
		actor, _ := gates.Caller(r)
		return h.Registry.SetStatus(r.Context(), actor, sessionID, pid, req.Status, req.Reason)
	})
}

// ServeApprove handles POST /api/sessions/{id}/participants/{pid}/approve.
func (h *Handler) ServeApprove(w http.ResponseWriter, r *http.Request) {
	h.mutate(w, r, nil, "approve participant", func(sessionID, pid primitive.ObjectID) (models.Participant, error) {
		actor, _ := gates.Caller(r)
		return h.Registry.Approve(r.Context(), actor, sessionID, pid)
	})
}

// mutate parses the ids and the optional body, runs op and writes the
// updated participant.
func (h *Handler) mutate(w http.ResponseWriter, r *http.Request, body any, opName string,
	op func(sessionID, pid primitive.ObjectID) (models.Participant, error)) {
	if _, ok := gates.RequireHost(w, r); !ok {
		return
	}
	sessionID, ok := gates.ObjectID(w, r, "id", "session")
	if !ok {
		return
	}
	pid, ok := gates.ObjectID(w, r, "pid", "participant")
	if !ok {
		return
	}
	if body != nil && !gates.DecodeJSON(w, r, limits.MaxJSONBody, body) {
		return
	}
	p, err := op(sessionID, pid)
	if err != nil {
		h.fail(w, opName, err)
		return
	}
	gates.JSON(w, http.StatusOK, p)
}

func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	if apperr.Status(err) >= http.StatusInternalServerError {
		h.Log.Error(op+" failed", zap.Error(err))
	}
	apperr.Write(w, err)
}
