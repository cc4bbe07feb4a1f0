// internal/app/features/sessions/public.go
package sessions

import (
	"net/http"

	"github.com/dalemusser/liveplay/internal/app/system/gates"
	"github.com/dalemusser/liveplay/internal/app/system/limits"
	"github.com/dalemusser/liveplay/internal/app/system/ratelimit"
	"github.com/go-chi/chi/v5"
)

// On the public routes the {id} segment carries a join code.

// ServeLobby handles GET /api/sessions/{code}.
func (h *Handler) ServeLobby(w http.ResponseWriter, r *http.Request) {
	view, err := h.Registry.Lobby(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, "lobby", err)
		return
	}
	gates.JSON(w, http.StatusOK, view)
}

type joinRequest struct {
	DisplayName string `json:"display_name"`
}

// ServeJoin handles POST /api/sessions/{code}/join.
func (h *Handler) ServeJoin(w http.ResponseWriter, r *http.Request) {
	var req joinRequest
	if !gates.DecodeJSON(w, r, limits.MaxJoinBody, &req) {
		return
	}
	res, err := h.Registry.Join(r.Context(), chi.URLParam(r, "id"), req.DisplayName, ratelimit.ClientIP(r))
	if err != nil {
		h.fail(w, "join", err)
		return
	}
	gates.JSON(w, http.StatusCreated, res)
}

// ServeRejoin handles POST /api/sessions/{code}/rejoin.
func (h *Handler) ServeRejoin(w http.ResponseWriter, r *http.Request) {
	token, ok := gates.RequireParticipant(w, r)
	if !ok {
		return
	}
	res, err := h.Registry.Rejoin(r.Context(), chi.URLParam(r, "id"), token)
	if err != nil {
		h.fail(w, "rejoin", err)
		return
	}
	gates.JSON(w, http.StatusOK, res)
}
