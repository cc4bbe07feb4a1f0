// internal/app/features/roles/handler.go
package roles

import (
	"net/http"

	rolesvc "github.com/dalemusser/liveplay/internal/app/services/roles"
	"github.com/dalemusser/liveplay/internal/app/system/apperr"
	"github.com/dalemusser/liveplay/internal/app/system/gates"
	"github.com/dalemusser/liveplay/internal/app/system/inputval"
	"github.com/dalemusser/liveplay/internal/app/system/limits"
	"github.com/dalemusser/liveplay/internal/domain/models"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"
)

// Handler serves the host side of role definition and assignment.
type Handler struct {
	Roles *rolesvc.Service
	Log   *zap.Logger
}

// NewHandler creates a roles Handler.
func NewHandler(svc *rolesvc.Service, logger *zap.Logger) *Handler {
	return &Handler{Roles: svc, Log: logger}
}

// ServeDefinitions handles GET /api/sessions/{id}/roles.
func (h *Handler) ServeDefinitions(w http.ResponseWriter, r *http.Request) {
	actor, ok := gates.RequireHost(w, r)
	if !ok {
		return
	}
	sessionID, ok := gates.ObjectID(w, r, "id", "session")
	if !ok {
		return
	}
	defs, err := h.Roles.Definitions(r.Context(), actor, sessionID)
	if err != nil {
		h.fail(w, "list role definitions", err)
		return
	}
	if defs == nil {
		defs = []models.RoleDefinition{}
	}
	gates.JSON(w, http.StatusOK, map[string]any{"roles": defs})
}

// ServeDefine handles POST /api/sessions/{id}/roles.
func (h *Handler) ServeDefine(w http.ResponseWriter, r *http.Request) {
	actor, ok := gates.RequireHost(w, r)
	if !ok {
		return
	}
	sessionID, ok := gates.ObjectID(w, r, "id", "session")
	if !ok {
		return
	}
	var in rolesvc.DefinitionInput
	if !gates.DecodeJSON(w, r, limits.MaxJSONBody, &in) {
		return
	}
	def, err := h.Roles.Define(r.Context(), actor, sessionID, in)
	if err != nil {
		h.fail(w, "define role", err)
		return
	}
	gates.JSON(w, http.StatusCreated, def)
}

// ServeAssignments handles GET /api/sessions/{id}/roles/assignments.
func (h *Handler) ServeAssignments(w http.ResponseWriter, r *http.Request) {
	actor, ok := gates.RequireHost(w, r)
	if !ok {
		return
	}
	sessionID, ok := gates.ObjectID(w, r, "id", "session")
	if !ok {
		return
	}
	list, err := h.Roles.Assignments(r.Context(), actor, sessionID)
	if err != nil {
		h.fail(w, "list role assignments", err)
		return
	}
	if list == nil {
		list = []models.RoleAssignment{}
	}
	gates.JSON(w, http.StatusOK, map[string]any{"assignments": list})
}

type assignRequest struct {
	ParticipantID    string `json:"participant_id" validate:"required,objectid" label:"Participant"`
	RoleDefinitionID string `json:"role_definition_id" validate:"required,objectid" label:"Role"`
}

// ServeAssign handles POST /api/sessions/{id}/roles/assign. Assigning a
// participant who already holds a role returns the existing assignment.
func (h *Handler) ServeAssign(w http.ResponseWriter, r *http.Request) {
	actor, ok := gates.RequireHost(w, r)
	if !ok {
		return
	}
	sessionID, ok := gates.ObjectID(w, r, "id", "session")
	if !ok {
		return
	}
	var req assignRequest
	if !gates.DecodeJSON(w, r, limits.MaxJSONBody, &req) {
		return
	}
	if res := inputval.Validate(req); res.HasErrors() {
		apperr.Write(w, apperr.New(apperr.ErrInvalidInput, res.All()))
		return
	}
	pid, _ := primitive.ObjectIDFromHex(req.ParticipantID)
	defID, _ := primitive.ObjectIDFromHex(req.RoleDefinitionID)

	res, err := h.Roles.Assign(r.Context(), actor, sessionID, pid, defID)
	if err != nil {
		h.fail(w, "assign role", err)
		return
	}
	status := http.StatusCreated
	if res.AlreadyAssigned {
		status = http.StatusOK
	}
	gates.JSON(w, status, res)
}

// ServeAutoAssign handles POST /api/sessions/{id}/roles/auto-assign.
func (h *Handler) ServeAutoAssign(w http.ResponseWriter, r *http.Request) {
	actor, ok := gates.RequireHost(w, r)
	if !ok {
		return
	}
	sessionID, ok := gates.ObjectID(w, r, "id", "session")
	if !ok {
		return
	}
	created, err := h.Roles.AutoAssign(r.Context(), actor, sessionID)
	if err != nil {
		h.fail(w, "auto-assign roles", err)
		return
	}
	if created == nil {
		created = []models.RoleAssignment{}
	}
	gates.JSON(w, http.StatusOK, map[string]any{"assigned": created})
}

func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	if apperr.Status(err) >= http.StatusInternalServerError {
		h.Log.Error(op+" failed", zap.Error(err))
	}
	apperr.Write(w, err)
}
