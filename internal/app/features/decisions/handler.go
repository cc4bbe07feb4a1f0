// internal/app/features/decisions/handler.go
package decisions

import (
	"net/http"

	"github.com/dalemusser/liveplay/internal/app/services/voting"
	"github.com/dalemusser/liveplay/internal/app/system/apperr"
	"github.com/dalemusser/liveplay/internal/app/system/gates"
	"github.com/dalemusser/liveplay/internal/app/system/limits"
	"github.com/dalemusser/liveplay/internal/domain/models"
	"go.uber.org/zap"
)

// Handler serves decisions, votes and results.
type Handler struct {
	Voting *voting.Service
	Log    *zap.Logger
}

// NewHandler creates a decisions Handler.
func NewHandler(v *voting.Service, logger *zap.Logger) *Handler {
	return &Handler{Voting: v, Log: logger}
}

// caller builds the voting caller from the request. A host identity wins
// over a participant token. With neither it writes 401.
func caller(w http.ResponseWriter, r *http.Request) (voting.Caller, bool) {
	actor, token := gates.Caller(r)
	if actor.HostID != "" {
		return voting.Caller{Actor: &actor}, true
	}
	if token == "" {
		apperr.Write(w, apperr.New(apperr.ErrUnauthorized, "host sign-in or participant token required"))
		return voting.Caller{}, false
	}
	return voting.Caller{Token: token}, true
}

// ServeList handles GET /api/sessions/{id}/decisions.
func (h *Handler) ServeList(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := gates.ObjectID(w, r, "id", "session")
	if !ok {
		return
	}
	c, ok := caller(w, r)
	if !ok {
		return
	}
	list, err := h.Voting.ListForCaller(r.Context(), c, sessionID)
	if err != nil {
		h.fail(w, "list decisions", err)
		return
	}
	if list == nil {
		list = []models.Decision{}
	}
	gates.JSON(w, http.StatusOK, map[string]any{"decisions": list})
}

// ServeOpen handles POST /api/sessions/{id}/decisions.
func (h *Handler) ServeOpen(w http.ResponseWriter, r *http.Request) {
	actor, ok := gates.RequireHost(w, r)
	if !ok {
		return
	}
	sessionID, ok := gates.ObjectID(w, r, "id", "session")
	if !ok {
		return
	}
	var in voting.DecisionInput
	if !gates.DecodeJSON(w, r, limits.MaxJSONBody, &in) {
		return
	}
	d, err := h.Voting.Open(r.Context(), actor, sessionID, in)
	if err != nil {
		h.fail(w, "open decision", err)
		return
	}
	gates.JSON(w, http.StatusCreated, d)
}

// ServeClose handles POST /api/sessions/{id}/decisions/{did}/close.
func (h *Handler) ServeClose(w http.ResponseWriter, r *http.Request) {
	actor, ok := gates.RequireHost(w, r)
	if !ok {
		return
	}
	did, ok := gates.ObjectID(w, r, "did", "decision")
	if !ok {
		return
	}
	d, err := h.Voting.Close(r.Context(), actor, did)
	if err != nil {
		h.fail(w, "close decision", err)
		return
	}
	gates.JSON(w, http.StatusOK, d)
}

// ServeReveal handles POST /api/sessions/{id}/decisions/{did}/reveal and
// returns the final tally.
func (h *Handler) ServeReveal(w http.ResponseWriter, r *http.Request) {
	actor, ok := gates.RequireHost(w, r)
	if !ok {
		return
	}
	did, ok := gates.ObjectID(w, r, "did", "decision")
	if !ok {
		return
	}
	tally, err := h.Voting.Reveal(r.Context(), actor, did)
	if err != nil {
		h.fail(w, "reveal decision", err)
		return
	}
	gates.JSON(w, http.StatusOK, tally)
}

type voteRequest struct {
	OptionKey string `json:"option_key"`
}

// ServeVote handles POST /api/sessions/{id}/decisions/{did}/vote. A repeat
// vote replaces the earlier choice.
func (h *Handler) ServeVote(w http.ResponseWriter, r *http.Request) {
	token, ok := gates.RequireParticipant(w, r)
	if !ok {
		return
	}
	did, ok := gates.ObjectID(w, r, "did", "decision")
	if !ok {
		return
	}
	var req voteRequest
	if !gates.DecodeJSON(w, r, limits.MaxJSONBody, &req) {
		return
	}
	v, err := h.Voting.Vote(r.Context(), token, did, req.OptionKey)
	if err != nil {
		h.fail(w, "vote", err)
		return
	}
	gates.JSON(w, http.StatusOK, v)
}

// ServeResults handles GET /api/sessions/{id}/decisions/{did}/results.
func (h *Handler) ServeResults(w http.ResponseWriter, r *http.Request) {
	did, ok := gates.ObjectID(w, r, "did", "decision")
	if !ok {
		return
	}
	c, ok := caller(w, r)
	if !ok {
		return
	}
	tally, err := h.Voting.Results(r.Context(), c, did)
	if err != nil {
		h.fail(w, "decision results", err)
		return
	}
	gates.JSON(w, http.StatusOK, tally)
}

func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	if apperr.Status(err) >= http.StatusInternalServerError {
		h.Log.Error(op+" failed", zap.Error(err))
	}
	apperr.Write(w, err)
}
