// internal/app/features/sessions/handler.go
package sessions

import (
	"github.com/dalemusser/liveplay/internal/app/services"
	"github.com/dalemusser/liveplay/internal/app/services/livesessions"
	"github.com/dalemusser/liveplay/internal/app/services/registry"
	"github.com/dalemusser/liveplay/internal/app/services/tokens"
	"github.com/dalemusser/liveplay/internal/app/system/broadcast"
	"github.com/dalemusser/liveplay/internal/app/system/workers"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Handler serves the session lifecycle, the public join flow and the
// realtime subscription.
type Handler struct {
	Sessions *livesessions.Service
	Registry *registry.Service
	Tokens   *tokens.Service
	Sweeper  *workers.Sweeper
	Hub      *broadcast.Hub
	Upgrader websocket.Upgrader
	Log      *zap.Logger
}

// NewHandler creates a sessions Handler. allowedOrigins lists websocket
// origins accepted besides the serving host.
func NewHandler(svc *services.Services, allowedOrigins []string, logger *zap.Logger) *Handler {
	return &Handler{
		Sessions: svc.Sessions,
		Registry: svc.Registry,
		Tokens:   svc.Tokens,
		Sweeper:  svc.Sweeper,
		Hub:      svc.Hub,
		Upgrader: broadcast.NewUpgrader(allowedOrigins),
		Log:      logger,
	}
}
