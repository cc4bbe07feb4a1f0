// internal/app/bootstrap/appconfig.go
package bootstrap

import "time"

// AppConfig holds service-specific configuration for this WAFFLE app.
//
// These values come from environment variables, configuration files, or
// command-line flags (loaded in LoadConfig). WAFFLE's CoreConfig covers the
// framework-level settings: ports, TLS, logging, CORS and body limits.
// AppConfig is passed to every lifecycle hook.
type AppConfig struct {
	// Storage backend
	StoreBackend  string // "mongo" or "memory"
	MongoURI      string // MongoDB connection string (e.g., mongodb://localhost:27017)
	MongoDatabase string // Database name within MongoDB

	// Host identity, issued by the external identity provider
	IDPJWTSecret  string // HMAC secret for host bearer tokens
	IDPCookieName string // Name of the IdP session cookie
	IDPCookieKey  string // Hash key of the IdP session cookie

	// CleanupSecretHash is the bcrypt hash of the operator cleanup secret.
	CleanupSecretHash string

	// RedisAddr enables the cross-instance broadcast relay when set.
	RedisAddr string

	// Origins allowed to open websockets; empty means same-origin only.
	WSAllowedOrigins []string

	// Maintenance sweeper
	SweepInterval       time.Duration
	SweepBatchSize      int
	IdleThreshold       time.Duration
	IdleDisconnectAfter time.Duration
	ArchiveRetention    time.Duration
	PurgeCoolingOff     time.Duration

	// Tokens, codes and joins
	NoExpiryQuota   int
	CodeMaxAttempts int
	JoinRateLimit   int
	JoinRateWindow  time.Duration

	// Activity logging: 'all' (db+log), 'db', 'log', or 'off'
	ActivityLogMode string
}
