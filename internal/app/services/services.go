// Package services assembles the session runtime's services over one
// store set, so the HTTP layer, the CLI and tests wire them the same way.
package services

import (
	"time"

	"github.com/dalemusser/liveplay/internal/app/services/livesessions"
	"github.com/dalemusser/liveplay/internal/app/services/registry"
	"github.com/dalemusser/liveplay/internal/app/services/roles"
	"github.com/dalemusser/liveplay/internal/app/services/tokens"
	"github.com/dalemusser/liveplay/internal/app/services/voting"
	"github.com/dalemusser/liveplay/internal/app/store"
	"github.com/dalemusser/liveplay/internal/app/system/auditlog"
	"github.com/dalemusser/liveplay/internal/app/system/broadcast"
	"github.com/dalemusser/liveplay/internal/app/system/clock"
	"github.com/dalemusser/liveplay/internal/app/system/ratelimit"
	"github.com/dalemusser/liveplay/internal/app/system/workers"
	"go.uber.org/zap"
)

// Config gathers the tunables of every service.
type Config struct {
	NoExpiryQuota   int
	CodeMaxAttempts int
	IdleThreshold   time.Duration

	// Join throttling. A zero JoinRateLimit disables it.
	JoinRateLimit  int
	JoinRateWindow time.Duration

	ActivityLogMode string
	HubQueueSize    int
	Sweeper         workers.SweeperConfig
}

// Services is the wired runtime.
type Services struct {
	Store    store.Set
	Clock    clock.Clock
	Activity *auditlog.Logger
	Hub      *broadcast.Hub

	Tokens   *tokens.Service
	Sessions *livesessions.Service
	Registry *registry.Service
	Voting   *voting.Service
	Roles    *roles.Service
	Sweeper  *workers.Sweeper
}

// New wires every service over set. Events go to a fresh Hub.
func New(set store.Set, clk clock.Clock, logger *zap.Logger, cfg Config) *Services {
	if clk == nil {
		clk = clock.Real()
	}
	activity := auditlog.New(set.Activity, logger, auditlog.Config{Mode: cfg.ActivityLogMode})
	hub := broadcast.NewHub(logger, cfg.HubQueueSize)

	var limiter *ratelimit.JoinLimiter
	if cfg.JoinRateLimit > 0 {
		window := cfg.JoinRateWindow
		if window <= 0 {
			window = time.Minute
		}
		// Per-code allowance is ten times the per-source one.
		limiter = ratelimit.NewJoinLimiter(cfg.JoinRateLimit, cfg.JoinRateLimit*10, window)
	}

	retention := cfg.Sweeper.ArchiveRetention
	if retention <= 0 {
		retention = workers.DefaultArchiveRetention
	}

	tok := tokens.New(set, activity, clk, logger, tokens.Config{NoExpiryQuota: cfg.NoExpiryQuota})
	sessions := livesessions.New(set, activity, hub, clk, logger, livesessions.Config{
		CodeMaxAttempts:  cfg.CodeMaxAttempts,
		ArchiveRetention: retention,
	})

	return &Services{
		Store:    set,
		Clock:    clk,
		Activity: activity,
		Hub:      hub,
		Tokens:   tok,
		Sessions: sessions,
		Registry: registry.New(set, sessions, tok, limiter, activity, hub, clk, logger, registry.Config{IdleThreshold: cfg.IdleThreshold}),
		Voting:   voting.New(set, tok, activity, hub, clk, logger),
		Roles:    roles.New(set, tok, activity, hub, clk, logger),
		Sweeper:  workers.NewSweeper(set, activity, hub, clk, logger, cfg.Sweeper),
	}
}
