// internal/app/features/roles/routes.go
package roles

import (
	"github.com/dalemusser/liveplay/internal/app/system/gates"
	"github.com/go-chi/chi/v5"
)

// Routes returns a subrouter mounted at /api/sessions/{id}/roles.
func Routes(h *Handler) chi.Router {
	r := chi.NewRouter()
	r.Use(gates.HostOnly)
	r.Get("/", h.ServeDefinitions)
	r.Post("/", h.ServeDefine)
	r.Get("/assignments", h.ServeAssignments)
	r.Post("/assign", h.ServeAssign)
	r.Post("/auto-assign", h.ServeAutoAssign)
	return r
}
