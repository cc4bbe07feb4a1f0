// Package timeouts holds the deadlines applied to store calls.
//
// Every service method wraps its store access in one of these so a slow
// database cannot pin a request goroutine:
//   - Ping: health checks
//   - Short: single-row reads and conditional updates
//   - Medium: roster and decision listings, multi-step writes
//   - Long: purge and other multi-collection work
//   - Batch: one sweeper chunk
//
// Values are set once at startup with Configure; zero fields keep the default.
package timeouts

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Defaults used until Configure is called.
const (
	DefaultPing   = 2 * time.Second
	DefaultShort  = 5 * time.Second
	DefaultMedium = 10 * time.Second
	DefaultLong   = 30 * time.Second
	DefaultBatch  = 60 * time.Second
)

var (
	mu     sync.RWMutex
	values = Config{
		Ping:   DefaultPing,
		Short:  DefaultShort,
		Medium: DefaultMedium,
		Long:   DefaultLong,
		Batch:  DefaultBatch,
	}
)

// Config is the full set of timeouts.
type Config struct {
	Ping   time.Duration
	Short  time.Duration
	Medium time.Duration
	Long   time.Duration
	Batch  time.Duration
}

// Ping is the health check deadline.
func Ping() time.Duration { return get(func(c Config) time.Duration { return c.Ping }) }

// Short is the deadline for single-row reads and updates.
func Short() time.Duration { return get(func(c Config) time.Duration { return c.Short }) }

// Medium is the deadline for listings and multi-step writes.
func Medium() time.Duration { return get(func(c Config) time.Duration { return c.Medium }) }

// Long is the deadline for multi-collection operations.
func Long() time.Duration { return get(func(c Config) time.Duration { return c.Long }) }

// Batch is the deadline for one sweeper chunk.
func Batch() time.Duration { return get(func(c Config) time.Duration { return c.Batch }) }

func get(f func(Config) time.Duration) time.Duration {
	mu.RLock()
	defer mu.RUnlock()
	return f(values)
}

// Configure overrides the non-zero fields of cfg.
func Configure(cfg Config) {
	mu.Lock()
	defer mu.Unlock()
	if cfg.Ping > 0 {
		values.Ping = cfg.Ping
	}
	if cfg.Short > 0 {
		values.Short = cfg.Short
	}
	if cfg.Medium > 0 {
		values.Medium = cfg.Medium
	}
	if cfg.Long > 0 {
		values.Long = cfg.Long
	}
	if cfg.Batch > 0 {
		values.Batch = cfg.Batch
	}
}

// Reset restores the defaults.
func Reset() {
	mu.Lock()
	defer mu.Unlock()
	values = Config{
		Ping:   DefaultPing,
		Short:  DefaultShort,
		Medium: DefaultMedium,
		Long:   DefaultLong,
		Batch:  DefaultBatch,
	}
}

// Current returns the active configuration.
func Current() Config {
	mu.RLock()
	defer mu.RUnlock()
	return values
}

// WithTimeout derives a context bounded by timeout. The returned cancel logs
// a warning naming operation when the deadline was what ended the context.
//
//	ctx, cancel := timeouts.WithTimeout(ctx, timeouts.Short(), s.log, "advance cursor")
//	defer cancel()
func WithTimeout(parent context.Context, timeout time.Duration, log *zap.Logger, operation string) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithTimeout(parent, timeout)
	return ctx, func() {
		if ctx.Err() == context.DeadlineExceeded && log != nil {
			log.Warn("operation timed out",
				zap.String("operation", operation),
				zap.Duration("timeout", timeout),
			)
		}
		cancel()
	}
}
