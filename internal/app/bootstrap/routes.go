// internal/app/bootstrap/routes.go
package bootstrap

import (
	"net/http"

	activityfeature "github.com/dalemusser/liveplay/internal/app/features/activity"
	decisionsfeature "github.com/dalemusser/liveplay/internal/app/features/decisions"
	healthfeature "github.com/dalemusser/liveplay/internal/app/features/health"
	participantfeature "github.com/dalemusser/liveplay/internal/app/features/participant"
	rolesfeature "github.com/dalemusser/liveplay/internal/app/features/roles"
	rosterfeature "github.com/dalemusser/liveplay/internal/app/features/roster"
	sessionsfeature "github.com/dalemusser/liveplay/internal/app/features/sessions"
	tokensfeature "github.com/dalemusser/liveplay/internal/app/features/tokens"
	"github.com/dalemusser/liveplay/internal/app/system/identity"
	"github.com/dalemusser/liveplay/internal/app/system/metrics"
	"github.com/dalemusser/waffle/config"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// BuildHandler constructs the root HTTP handler (router) for this WAFFLE app.
//
// WAFFLE calls this after configuration, backend connections, schema setup
// and the Startup hook have completed.
//
// Host identity is resolved once per request by identity.LoadActor;
// participant tokens are read by the handlers that need them. All routes
// are JSON except the websocket subscription.
func BuildHandler(coreCfg *config.CoreConfig, appCfg AppConfig, deps DBDeps, logger *zap.Logger) (http.Handler, error) {
	resolver, err := identity.NewResolver(identity.Config{
		JWTSecret:  appCfg.IDPJWTSecret,
		CookieName: appCfg.IDPCookieName,
		CookieKey:  appCfg.IDPCookieKey,
		Secure:     coreCfg.Env == "prod",
	}, logger)
	if err != nil {
		logger.Error("identity resolver init failed", zap.Error(err))
		return nil, err
	}
	return buildRouter(resolver, appCfg, deps, logger), nil
}

func buildRouter(resolver *identity.Resolver, appCfg AppConfig, deps DBDeps, logger *zap.Logger) chi.Router {
	svc := deps.Runtime
	r := chi.NewRouter()

	// Global identity middleware: loads the host Actor into context when the
	// request carries valid IdP credentials.
	r.Use(resolver.LoadActor)

	// Health check endpoint for load balancers and orchestrators
	healthHandler := healthfeature.NewHandler(deps.MongoClient, appCfg.StoreBackend, logger)
	r.Mount("/health", healthfeature.Routes(healthHandler))

	r.Handle("/metrics", metrics.Handler())

	// Sessions and everything scoped to one session
	sessionsHandler := sessionsfeature.NewHandler(svc, appCfg.WSAllowedOrigins, logger)
	rosterHandler := rosterfeature.NewHandler(svc.Registry, logger)
	decisionsHandler := decisionsfeature.NewHandler(svc.Voting, logger)
	rolesHandler := rolesfeature.NewHandler(svc.Roles, logger)
	activityHandler := activityfeature.NewHandler(svc.Sessions, logger)
	r.Route("/api/sessions", func(r chi.Router) {
		sessionsfeature.MountRoutes(r, sessionsHandler)
		r.Mount("/{id}/participants", rosterfeature.Routes(rosterHandler))
		r.Mount("/{id}/decisions", decisionsfeature.Routes(decisionsHandler))
		r.Mount("/{id}/roles", rolesfeature.Routes(rolesHandler))
		r.Mount("/{id}/activity", activityfeature.Routes(activityHandler))
	})
	r.Mount("/ws/sessions", sessionsfeature.WSRoutes(sessionsHandler))

	// Participant self-service
	participantHandler := participantfeature.NewHandler(svc.Registry, svc.Roles, logger)
	r.Mount("/api/participant", participantfeature.Routes(participantHandler))

	// Token management and operator cleanup
	tokensHandler := tokensfeature.NewHandler(svc.Tokens, svc.Sweeper, appCfg.CleanupSecretHash, logger)
	r.Mount("/api/tokens", tokensfeature.Routes(tokensHandler))

	return r
}
