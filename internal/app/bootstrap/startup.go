// internal/app/bootstrap/startup.go
package bootstrap

import (
	"context"
	"fmt"

	"github.com/dalemusser/waffle/config"
	"go.uber.org/zap"
)

// Startup runs after the backends and schema are ready and before the HTTP
// handler is built. It starts the Redis relay, when configured, and the
// maintenance sweeper.
func Startup(ctx context.Context, coreCfg *config.CoreConfig, appCfg AppConfig, deps DBDeps, logger *zap.Logger) error {
	if deps.Relay != nil {
		// The relay outlives this hook; Shutdown stops it.
		if err := deps.Relay.Start(context.WithoutCancel(ctx)); err != nil {
			logger.Error("redis relay start failed", zap.String("addr", appCfg.RedisAddr), zap.Error(err))
			return fmt.Errorf("start redis relay: %w", err)
		}
	}
	deps.Runtime.Sweeper.Start()
	return nil
}
