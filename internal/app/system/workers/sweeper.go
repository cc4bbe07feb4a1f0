// internal/app/system/workers/sweeper.go
package workers

import (
	"context"
	"fmt"
	"time"

	"github.com/dalemusser/liveplay/internal/app/store"
	"github.com/dalemusser/liveplay/internal/app/system/auditlog"
	"github.com/dalemusser/liveplay/internal/app/system/broadcast"
	"github.com/dalemusser/liveplay/internal/app/system/clock"
	"github.com/dalemusser/liveplay/internal/app/system/identity"
	"github.com/dalemusser/liveplay/internal/app/system/metrics"
	"github.com/dalemusser/liveplay/internal/app/system/tasks"
	"github.com/dalemusser/liveplay/internal/app/system/timeouts"
	"github.com/dalemusser/liveplay/internal/domain/models"
	"go.uber.org/zap"
)

// Sweep steps, in the order a pass runs them.
const (
	StepExpireTokens   = "expire_tokens"
	StepDisconnectIdle = "disconnect_idle"
	StepEndSessions    = "end_sessions"
	StepCloseDecisions = "close_decisions"
	StepArchive        = "archive_sessions"
)

// Defaults for SweeperConfig.
const (
	DefaultSweepInterval       = time.Minute
	DefaultBatchSize           = 200
	DefaultMaxChunks           = 50
	DefaultIdleDisconnectAfter = 10 * time.Minute
	DefaultArchiveRetention    = 90 * 24 * time.Hour
	DefaultPurgeCoolingOff     = 7 * 24 * time.Hour
)

// SweeperConfig configures the maintenance sweeper.
type SweeperConfig struct {
	Interval  time.Duration
	BatchSize int
	// MaxChunks caps the batches one step processes per pass; the rest
	// waits for the next pass.
	MaxChunks           int
	IdleDisconnectAfter time.Duration
	ArchiveRetention    time.Duration
	PurgeCoolingOff     time.Duration
}

func (c SweeperConfig) withDefaults() SweeperConfig {
	if c.Interval <= 0 {
		c.Interval = DefaultSweepInterval
	}
	if c.BatchSize <= 0 {
		c.BatchSize = DefaultBatchSize
	}
	if c.MaxChunks <= 0 {
		c.MaxChunks = DefaultMaxChunks
	}
	if c.IdleDisconnectAfter <= 0 {
		c.IdleDisconnectAfter = DefaultIdleDisconnectAfter
	}
	if c.ArchiveRetention <= 0 {
		c.ArchiveRetention = DefaultArchiveRetention
	}
	if c.PurgeCoolingOff <= 0 {
		c.PurgeCoolingOff = DefaultPurgeCoolingOff
	}
	return c
}

// SweepReport counts what one pass changed. Errors maps a failed step to
// its error message; the other steps still ran.
type SweepReport struct {
	TokensExpired    int               `json:"tokens_expired" yaml:"tokens_expired"`
	IdleDisconnected int               `json:"idle_disconnected" yaml:"idle_disconnected"`
	SessionsEnded    int               `json:"sessions_ended" yaml:"sessions_ended"`
	DecisionsClosed  int               `json:"decisions_closed" yaml:"decisions_closed"`
	SessionsArchived int               `json:"sessions_archived" yaml:"sessions_archived"`
	Errors           map[string]string `json:"errors,omitempty" yaml:"errors,omitempty"`
}

// Sweeper is the background worker that expires tokens, disconnects idle
// participants, ends expired sessions, closes elapsed decisions and
// archives old sessions.
type Sweeper struct {
	set      store.Set
	activity *auditlog.Logger
	pub      broadcast.Publisher
	clock    clock.Clock
	log      *zap.Logger
	cfg      SweeperConfig
	runner   *tasks.Runner
}

// NewSweeper creates a sweeper. Call Start to run it periodically or
// RunOnce for a single pass.
func NewSweeper(set store.Set, activity *auditlog.Logger, pub broadcast.Publisher, clk clock.Clock, logger *zap.Logger, cfg SweeperConfig) *Sweeper {
	if pub == nil {
		pub = broadcast.Nop{}
	}
	return &Sweeper{
		set:      set,
		activity: activity,
		pub:      pub,
		clock:    clk,
		log:      logger,
		cfg:      cfg.withDefaults(),
	}
}

// Config returns the effective configuration.
func (w *Sweeper) Config() SweeperConfig { return w.cfg }

// Job returns the sweeper as a periodic job.
func (w *Sweeper) Job() tasks.Job {
	return tasks.Job{
		Name:     "maintenance-sweep",
		Interval: w.cfg.Interval,
		Timeout:  10 * w.cfg.Interval,
		Run: func(ctx context.Context) error {
			report := w.RunOnce(ctx)
			if len(report.Errors) > 0 {
				return fmt.Errorf("sweep steps failed: %v", report.Errors)
			}
			return nil
		},
	}
}

// Start begins the background sweep loop.
func (w *Sweeper) Start() {
	w.runner = tasks.NewRunner(w.log, w.Job())
	w.runner.Start()
	w.log.Info("maintenance sweeper started",
		zap.Duration("interval", w.cfg.Interval),
		zap.Int("batch_size", w.cfg.BatchSize),
		zap.Duration("idle_disconnect_after", w.cfg.IdleDisconnectAfter),
		zap.Duration("archive_retention", w.cfg.ArchiveRetention))
}

// Stop signals the sweeper to stop and waits for a running pass to finish.
func (w *Sweeper) Stop() {
	if w.runner == nil {
		return
	}
	w.runner.Stop()
	w.log.Info("maintenance sweeper stopped")
}

type step struct {
	name string
	run  func(context.Context, time.Time) (int, error)
	into *int
}

// RunOnce runs every step once. A failing step is logged and reported and
// does not prevent the later steps.
func (w *Sweeper) RunOnce(ctx context.Context) SweepReport {
	var report SweepReport
	w.run(ctx, &report, []step{
		{StepExpireTokens, w.expireTokens, &report.TokensExpired},
		{StepDisconnectIdle, w.disconnectIdle, &report.IdleDisconnected},
		{StepEndSessions, w.endSessions, &report.SessionsEnded},
		{StepCloseDecisions, w.closeDecisions, &report.DecisionsClosed},
		{StepArchive, w.archiveSessions, &report.SessionsArchived},
	})
	return report
}

// RunCleanup is the on-demand pass: token expiry and archival, plus idle
// disconnect. Expired sessions and elapsed decisions wait for the
// periodic pass.
func (w *Sweeper) RunCleanup(ctx context.Context) SweepReport {
	var report SweepReport
	w.run(ctx, &report, []step{
		{StepExpireTokens, w.expireTokens, &report.TokensExpired},
		{StepArchive, w.archiveSessions, &report.SessionsArchived},
		{StepDisconnectIdle, w.disconnectIdle, &report.IdleDisconnected},
	})
	return report
}

func (w *Sweeper) run(ctx context.Context, report *SweepReport, steps []step) {
	start := time.Now()
	defer func() { metrics.SweepDuration.Observe(time.Since(start).Seconds()) }()

	for _, st := range steps {
		n, err := w.chunked(ctx, st.name, st.run)
		*st.into = n
		if n > 0 {
			metrics.SweepAffected.WithLabelValues(st.name).Add(float64(n))
			w.log.Info("sweep step changed rows", zap.String("step", st.name), zap.Int("count", n))
		}
		if err != nil {
			metrics.SweepErrors.WithLabelValues(st.name).Inc()
			w.log.Error("sweep step failed", zap.String("step", st.name), zap.Error(err))
			if report.Errors == nil {
				report.Errors = make(map[string]string)
			}
			report.Errors[st.name] = err.Error()
		}
	}
}

// chunked calls run until it returns fewer than a full batch, an error, or
// MaxChunks batches have run. Each batch has its own deadline.
func (w *Sweeper) chunked(ctx context.Context, name string, run func(context.Context, time.Time) (int, error)) (int, error) {
	total := 0
	for i := 0; i < w.cfg.MaxChunks; i++ {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		bctx, cancel := timeouts.WithTimeout(ctx, timeouts.Batch(), w.log, "sweep "+name)
		n, err := run(bctx, w.clock.Now())
		cancel()
		total += n
		if err != nil {
			return total, err
		}
		if n < w.cfg.BatchSize {
			return total, nil
		}
	}
	w.log.Warn("sweep step hit its chunk cap, continuing next pass",
		zap.String("step", name), zap.Int("max_chunks", w.cfg.MaxChunks))
	return total, nil
}

func (w *Sweeper) expireTokens(ctx context.Context, now time.Time) (int, error) {
	ps, err := w.set.Participants.ExpireTokens(ctx, now, w.cfg.BatchSize)
	if err != nil {
		return 0, fmt.Errorf("expire tokens: %w", err)
	}
	w.recordParticipants(ctx, ps, models.EventTokenExpired, now)
	return len(ps), nil
}

func (w *Sweeper) disconnectIdle(ctx context.Context, now time.Time) (int, error) {
	ps, err := w.set.Participants.DisconnectIdle(ctx, now.Add(-w.cfg.IdleDisconnectAfter), now, w.cfg.BatchSize)
	if err != nil {
		return 0, fmt.Errorf("disconnect idle participants: %w", err)
	}
	w.recordParticipants(ctx, ps, models.EventParticipantIdleDisconnect, now)
	return len(ps), nil
}

func (w *Sweeper) recordParticipants(ctx context.Context, ps []models.Participant, event string, now time.Time) {
	if len(ps) == 0 {
		return
	}
	actorID := identity.SystemActor().HostID
	entries := make([]models.ActivityLogEntry, 0, len(ps))
	for _, p := range ps {
		e := auditlog.ParticipantEntry(p, actorID, event, nil)
		e.CreatedAt = now
		entries = append(entries, e)
		w.pub.Publish(ctx, p.SessionID, broadcast.Event{
			Type:      broadcast.EventParticipantStatusChanged,
			Payload:   map[string]any{"participant_id": p.ID.Hex(), "status": p.Status},
			Timestamp: now,
		})
	}
	w.activity.LogMany(ctx, entries)
}

func (w *Sweeper) endSessions(ctx context.Context, now time.Time) (int, error) {
	ended, err := w.set.Sessions.EndExpired(ctx, now, w.cfg.BatchSize)
	if err != nil {
		return 0, fmt.Errorf("end expired sessions: %w", err)
	}
	w.recordSessions(ctx, ended, models.EventSessionExpired, now)
	return len(ended), nil
}

func (w *Sweeper) archiveSessions(ctx context.Context, now time.Time) (int, error) {
	archived, err := w.set.Sessions.ArchiveEnded(ctx, now.Add(-w.cfg.ArchiveRetention), now, w.cfg.BatchSize)
	if err != nil {
		return 0, fmt.Errorf("archive sessions: %w", err)
	}
	w.recordSessions(ctx, archived, models.EventSessionArchived, now)
	return len(archived), nil
}

func (w *Sweeper) recordSessions(ctx context.Context, sessions []models.Session, event string, now time.Time) {
	if len(sessions) == 0 {
		return
	}
	actorID := identity.SystemActor().HostID
	entries := make([]models.ActivityLogEntry, 0, len(sessions))
	for _, sess := range sessions {
		e := auditlog.Entry(sess, actorID, event, map[string]string{"status": string(sess.Status)})
		e.CreatedAt = now
		entries = append(entries, e)
		w.pub.Publish(ctx, sess.ID, broadcast.Event{
			Type:      broadcast.EventSessionStatusChanged,
			Payload:   map[string]string{"status": string(sess.Status)},
			Timestamp: now,
		})
	}
	w.activity.LogMany(ctx, entries)
}

func (w *Sweeper) closeDecisions(ctx context.Context, now time.Time) (int, error) {
	closed, err := w.set.Decisions.CloseElapsed(ctx, now, w.cfg.BatchSize)
	if err != nil {
		return 0, fmt.Errorf("close elapsed decisions: %w", err)
	}
	if len(closed) == 0 {
		return 0, nil
	}
	actorID := identity.SystemActor().HostID
	entries := make([]models.ActivityLogEntry, 0, len(closed))
	for _, d := range closed {
		entries = append(entries, models.ActivityLogEntry{
			SessionID: d.SessionID,
			ActorID:   actorID,
			EventType: models.EventDecisionClosed,
			EventData: map[string]string{"decision_id": d.ID.Hex(), "reason": "elapsed"},
			CreatedAt: now,
		})
		w.pub.Publish(ctx, d.SessionID, broadcast.Event{
			Type:      broadcast.EventDecisionClosed,
			Payload:   map[string]string{"decision_id": d.ID.Hex(), "status": string(d.Status)},
			Timestamp: now,
		})
	}
	w.activity.LogMany(ctx, entries)
	return len(closed), nil
}
