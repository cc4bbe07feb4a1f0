// internal/app/features/roster/routes.go
package roster

import (
	"github.com/dalemusser/liveplay/internal/app/system/gates"
	"github.com/go-chi/chi/v5"
)

// Routes returns a subrouter mounted at /api/sessions/{id}/participants.
func Routes(h *Handler) chi.Router {
	r := chi.NewRouter()
	r.Use(gates.HostOnly)
	r.Get("/", h.ServeList)
	r.Post("/{pid}/role", h.ServeSetRole)
	r.Post("/{pid}/status", h.ServeSetStatus)
	r.Post("/{pid}/approve", h.ServeApprove)
	return r
}
