// internal/app/features/sessions/ws.go
package sessions

import (
	"net/http"
	"strings"

	"github.com/dalemusser/liveplay/internal/app/system/apperr"
	"github.com/dalemusser/liveplay/internal/app/system/gates"
	"github.com/dalemusser/liveplay/internal/app/system/identity"
)

// ServeWS handles GET /ws/sessions/{id}. The subscriber is either a host who
// can manage the session or an admitted participant of it. Browsers cannot
// set headers on a websocket handshake, so the participant token may also
// arrive as the token query parameter.
func (h *Handler) ServeWS(w http.ResponseWriter, r *http.Request) {
	id, ok := gates.ObjectID(w, r, "id", "session")
	if !ok {
		return
	}

	actor, token := gates.Caller(r)
	if token == "" {
		token = strings.TrimSpace(r.URL.Query().Get("token"))
	}

	switch {
	case actor.HostID != "":
		if _, err := h.Sessions.Get(r.Context(), actor, id); err != nil {
			h.fail(w, "authorise subscriber", err)
			return
		}
	case token != "":
		p, err := h.Tokens.VerifyAdmitted(r.Context(), token)
		if err != nil {
			h.fail(w, "authorise subscriber", err)
			return
		}
		if p.SessionID != id {
			apperr.Write(w, apperr.New(apperr.ErrNotFound, "session not found"))
			return
		}
	default:
		apperr.Write(w, apperr.New(apperr.ErrUnauthorized, "host sign-in or "+identity.ParticipantTokenHeader+" required"))
		return
	}

	h.Hub.ServeWS(&h.Upgrader, w, r, id)
}
