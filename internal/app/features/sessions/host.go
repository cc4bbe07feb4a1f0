// internal/app/features/sessions/host.go
package sessions

import (
	"net/http"

	"github.com/dalemusser/liveplay/internal/app/services/livesessions"
	"github.com/dalemusser/liveplay/internal/app/system/apperr"
	"github.com/dalemusser/liveplay/internal/app/system/gates"
	"github.com/dalemusser/liveplay/internal/app/system/inputval"
	"github.com/dalemusser/liveplay/internal/app/system/limits"
	"github.com/dalemusser/liveplay/internal/domain/models"
	"go.uber.org/zap"
)

// ServeCreate handles POST /api/sessions.
func (h *Handler) ServeCreate(w http.ResponseWriter, r *http.Request) {
	actor, ok := gates.RequireHost(w, r)
	if !ok {
		return
	}
	var in livesessions.CreateInput
	if !gates.DecodeJSON(w, r, limits.MaxJSONBody, &in) {
		return
	}
	sess, err := h.Sessions.Create(r.Context(), actor, in)
	if err != nil {
		h.fail(w, "create session", err)
		return
	}
	gates.JSON(w, http.StatusCreated, sess)
}

// ServeMine handles GET /api/sessions/mine.
func (h *Handler) ServeMine(w http.ResponseWriter, r *http.Request) {
	actor, ok := gates.RequireHost(w, r)
	if !ok {
		return
	}
	list, err := h.Sessions.ListForHost(r.Context(), actor)
	if err != nil {
		h.fail(w, "list sessions", err)
		return
	}
	if list == nil {
		list = []models.Session{}
	}
	gates.JSON(w, http.StatusOK, map[string]any{"sessions": list})
}

type advanceRequest struct {
	Step  *int `json:"step" validate:"required,min=0" label:"Step"`
	Phase int  `json:"phase" validate:"min=0" label:"Phase"`
}

// ServeAdvance handles POST /api/sessions/{id}/advance.
func (h *Handler) ServeAdvance(w http.ResponseWriter, r *http.Request) {
	actor, ok := gates.RequireHost(w, r)
	if !ok {
		return
	}
	id, ok := gates.ObjectID(w, r, "id", "session")
	if !ok {
		return
	}
	var req advanceRequest
	if !gates.DecodeJSON(w, r, limits.MaxJSONBody, &req) {
		return
	}
	if res := inputval.Validate(req); res.HasErrors() {
		apperr.Write(w, apperr.New(apperr.ErrInvalidInput, res.All()))
		return
	}
	sess, err := h.Sessions.Advance(r.Context(), actor, id, *req.Step, req.Phase)
	if err != nil {
		h.fail(w, "advance session", err)
		return
	}
	gates.JSON(w, http.StatusOK, sess)
}

type statusRequest struct {
	Status models.SessionStatus `json:"status"`
}

// ServeStatus handles POST /api/sessions/{id}/status.
func (h *Handler) ServeStatus(w http.ResponseWriter, r *http.Request) {
	actor, ok := gates.RequireHost(w, r)
	if !ok {
		return
	}
	id, ok := gates.ObjectID(w, r, "id", "session")
	if !ok {
		return
	}
	var req statusRequest
	if !gates.DecodeJSON(w, r, limits.MaxJSONBody, &req) {
		return
	}
	sess, err := h.Sessions.SetStatus(r.Context(), actor, id, req.Status)
	if err != nil {
		h.fail(w, "set session status", err)
		return
	}
	gates.JSON(w, http.StatusOK, sess)
}

// ServeDelete handles DELETE /api/sessions/{id}. Only archived sessions past
// the cooling-off period are deleted.
func (h *Handler) ServeDelete(w http.ResponseWriter, r *http.Request) {
	actor, ok := gates.RequireHost(w, r)
	if !ok {
		return
	}
	id, ok := gates.ObjectID(w, r, "id", "session")
	if !ok {
		return
	}
	report, err := h.Sweeper.Purge(r.Context(), actor, id)
	if err != nil {
		h.fail(w, "purge session", err)
		return
	}
	gates.JSON(w, http.StatusOK, report)
}

// fail writes err, logging it first when it is not a client error.
func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	if apperr.Status(err) >= http.StatusInternalServerError {
		h.Log.Error(op+" failed", zap.Error(err))
	}
	apperr.Write(w, err)
}
