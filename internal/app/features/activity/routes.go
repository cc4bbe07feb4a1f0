// internal/app/features/activity/routes.go
package activity

import (
	"github.com/dalemusser/liveplay/internal/app/system/gates"
	"github.com/go-chi/chi/v5"
)

// Routes returns a subrouter mounted at /api/sessions/{id}/activity.
func Routes(h *Handler) chi.Router {
	r := chi.NewRouter()
	r.Use(gates.HostOnly)
	r.Get("/", h.ServeList)
	r.Get("/export.csv", h.ServeExport)
	return r
}
