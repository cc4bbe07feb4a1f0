// internal/app/bootstrap/config.go
package bootstrap

import (
	"fmt"
	"strings"
	"time"

	"github.com/dalemusser/liveplay/internal/app/services"
	"github.com/dalemusser/liveplay/internal/app/system/auditlog"
	"github.com/dalemusser/liveplay/internal/app/system/workers"
	"github.com/dalemusser/waffle/config"
	wafflemongo "github.com/dalemusser/waffle/pantry/mongo"
	"go.uber.org/zap"
)

// Storage backends.
const (
	BackendMongo  = "mongo"
	BackendMemory = "memory"
)

// appConfigKeys defines the configuration keys for liveplay.
// These are loaded via WAFFLE's config system with support for:
//   - Config files: mongo_uri, redis_addr, etc.
//   - Environment variables: LIVEPLAY_MONGO_URI, LIVEPLAY_REDIS_ADDR, etc.
//   - Command-line flags: --mongo_uri, --redis_addr, etc.
var appConfigKeys = []config.AppKey{
	{Name: "store_backend", Default: BackendMongo, Desc: "Storage backend: 'mongo' or 'memory'"},
	{Name: "mongo_uri", Default: "mongodb://localhost:27017", Desc: "MongoDB connection URI"},
	{Name: "mongo_database", Default: "liveplay", Desc: "MongoDB database name"},

	// Host identity
	{Name: "idp_jwt_secret", Default: "", Desc: "HMAC secret of host bearer tokens issued by the identity provider"},
	{Name: "idp_cookie_name", Default: "idp-session", Desc: "Identity provider session cookie name"},
	{Name: "idp_cookie_key", Default: "", Desc: "Identity provider session cookie hash key"},

	// Operator
	{Name: "cleanup_secret_hash", Default: "", Desc: "bcrypt hash of the operator cleanup secret"},

	// Broadcast
	{Name: "redis_addr", Default: "", Desc: "Redis address for the cross-instance event relay (blank disables it)"},
	{Name: "ws_allowed_origins", Default: "", Desc: "Comma-separated origins allowed to open websockets"},

	// Sweeper
	{Name: "sweep_interval", Default: "1m", Desc: "Maintenance sweep interval"},
	{Name: "sweep_batch_size", Default: workers.DefaultBatchSize, Desc: "Rows per sweep batch"},
	{Name: "idle_threshold", Default: "2m", Desc: "Heartbeat inactivity after which a participant is idle"},
	{Name: "idle_disconnect_after", Default: "10m", Desc: "Silence after which a participant is disconnected"},
	{Name: "archive_retention", Default: "2160h", Desc: "Time an ended session stays before archiving"},
	{Name: "purge_cooling_off", Default: "168h", Desc: "Time an archived session stays before it may be purged"},

	// Tokens, codes and joins
	{Name: "no_expiry_quota", Default: 50, Desc: "Outstanding no-expiry tokens allowed per tenant"},
	{Name: "code_max_attempts", Default: 10, Desc: "Join code generation attempts before giving up"},
	{Name: "join_rate_limit", Default: 20, Desc: "Join attempts per source per window (0 disables throttling)"},
	{Name: "join_rate_window", Default: "1m", Desc: "Join throttling window"},

	// Activity logging
	{Name: "activity_log_mode", Default: auditlog.ModeAll, Desc: "Activity logging: 'all' (db+log), 'db', 'log', or 'off'"},
}

// LoadConfig loads WAFFLE core config and app-specific config.
//
// WAFFLE's config.LoadWithAppConfig merges .env files, config files,
// LIVEPLAY_* environment variables and flags with precedence
// flags > env > files > defaults.
func LoadConfig(logger *zap.Logger) (*config.CoreConfig, AppConfig, error) {
	coreCfg, appValues, err := config.LoadWithAppConfig(logger, "LIVEPLAY", appConfigKeys)
	if err != nil {
		return nil, AppConfig{}, err
	}

	appCfg := AppConfig{
		StoreBackend:  strings.ToLower(strings.TrimSpace(appValues.String("store_backend"))),
		MongoURI:      appValues.String("mongo_uri"),
		MongoDatabase: appValues.String("mongo_database"),

		IDPJWTSecret:  appValues.String("idp_jwt_secret"),
		IDPCookieName: appValues.String("idp_cookie_name"),
		IDPCookieKey:  appValues.String("idp_cookie_key"),

		CleanupSecretHash: appValues.String("cleanup_secret_hash"),

		RedisAddr:        appValues.String("redis_addr"),
		WSAllowedOrigins: splitList(appValues.String("ws_allowed_origins")),

		SweepInterval:       appValues.Duration("sweep_interval", workers.DefaultSweepInterval),
		SweepBatchSize:      appValues.Int("sweep_batch_size"),
		IdleThreshold:       appValues.Duration("idle_threshold", 2*time.Minute),
		IdleDisconnectAfter: appValues.Duration("idle_disconnect_after", workers.DefaultIdleDisconnectAfter),
		ArchiveRetention:    appValues.Duration("archive_retention", workers.DefaultArchiveRetention),
		PurgeCoolingOff:     appValues.Duration("purge_cooling_off", workers.DefaultPurgeCoolingOff),

		NoExpiryQuota:   appValues.Int("no_expiry_quota"),
		CodeMaxAttempts: appValues.Int("code_max_attempts"),
		JoinRateLimit:   appValues.Int("join_rate_limit"),
		JoinRateWindow:  appValues.Duration("join_rate_window", time.Minute),

		ActivityLogMode: appValues.String("activity_log_mode"),
	}
	return coreCfg, appCfg, nil
}

// ValidateConfig performs app-specific config validation.
//
// The MongoDB URI is checked only for the mongo backend, before any
// connection is attempted.
func ValidateConfig(coreCfg *config.CoreConfig, appCfg AppConfig, logger *zap.Logger) error {
	switch appCfg.StoreBackend {
	case BackendMongo:
		if err := wafflemongo.ValidateURI(appCfg.MongoURI); err != nil {
			logger.Error("invalid MongoDB URI", zap.Error(err))
			return fmt.Errorf("invalid MongoDB URI: %w", err)
		}
	case BackendMemory:
		logger.Warn("using the in-process store; data is lost on restart and not shared between instances")
	default:
		return fmt.Errorf("store_backend must be %q or %q, got %q", BackendMongo, BackendMemory, appCfg.StoreBackend)
	}

	if appCfg.IDPJWTSecret == "" && appCfg.IDPCookieKey == "" {
		return fmt.Errorf("one of idp_jwt_secret or idp_cookie_key is required")
	}

	for name, d := range map[string]time.Duration{
		"sweep_interval":        appCfg.SweepInterval,
		"idle_threshold":        appCfg.IdleThreshold,
		"idle_disconnect_after": appCfg.IdleDisconnectAfter,
		"archive_retention":     appCfg.ArchiveRetention,
		"purge_cooling_off":     appCfg.PurgeCoolingOff,
		"join_rate_window":      appCfg.JoinRateWindow,
	} {
		if d <= 0 {
			return fmt.Errorf("%s must be a positive duration", name)
		}
	}
	if appCfg.IdleDisconnectAfter < appCfg.IdleThreshold {
		return fmt.Errorf("idle_disconnect_after (%s) must not be shorter than idle_threshold (%s)",
			appCfg.IdleDisconnectAfter, appCfg.IdleThreshold)
	}
	if appCfg.SweepBatchSize < 1 {
		return fmt.Errorf("sweep_batch_size must be at least 1")
	}
	if appCfg.NoExpiryQuota < 0 || appCfg.JoinRateLimit < 0 {
		return fmt.Errorf("no_expiry_quota and join_rate_limit must not be negative")
	}

	switch appCfg.ActivityLogMode {
	case auditlog.ModeAll, auditlog.ModeDB, auditlog.ModeLog, auditlog.ModeOff:
	default:
		return fmt.Errorf("activity_log_mode must be all, db, log or off, got %q", appCfg.ActivityLogMode)
	}
	return nil
}

// servicesConfig maps AppConfig onto the service tunables.
func servicesConfig(appCfg AppConfig) services.Config {
	return services.Config{
		NoExpiryQuota:   appCfg.NoExpiryQuota,
		CodeMaxAttempts: appCfg.CodeMaxAttempts,
		IdleThreshold:   appCfg.IdleThreshold,
		JoinRateLimit:   appCfg.JoinRateLimit,
		JoinRateWindow:  appCfg.JoinRateWindow,
		ActivityLogMode: appCfg.ActivityLogMode,
		Sweeper: workers.SweeperConfig{
			Interval:            appCfg.SweepInterval,
			BatchSize:           appCfg.SweepBatchSize,
			IdleDisconnectAfter: appCfg.IdleDisconnectAfter,
			ArchiveRetention:    appCfg.ArchiveRetention,
			PurgeCoolingOff:     appCfg.PurgeCoolingOff,
		},
	}
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
