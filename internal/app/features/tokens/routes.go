// internal/app/features/tokens/routes.go
package tokens

import (
	"github.com/dalemusser/liveplay/internal/app/system/gates"
	"github.com/go-chi/chi/v5"
)

// Routes returns a subrouter mounted at /api/tokens.
func Routes(h *Handler) chi.Router {
	r := chi.NewRouter()
	// Operators authenticate with the cleanup secret instead of a host
	// identity.
	r.Post("/cleanup", h.ServeCleanup)

	r.Group(func(r chi.Router) {
		r.Use(gates.HostOnly)
		r.Post("/", h.ServeIssue)
		r.Post("/extend", h.ServeExtend)
		r.Post("/revoke", h.ServeRevoke)
	})
	return r
}
