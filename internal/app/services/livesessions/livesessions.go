// Package livesessions creates live sessions and drives their lifecycle and
// position cursor.
package livesessions

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/dalemusser/liveplay/internal/app/store"
	"github.com/dalemusser/liveplay/internal/app/system/apperr"
	"github.com/dalemusser/liveplay/internal/app/system/auditlog"
	"github.com/dalemusser/liveplay/internal/app/system/broadcast"
	"github.com/dalemusser/liveplay/internal/app/system/clock"
	"github.com/dalemusser/liveplay/internal/app/system/htmlsanitize"
	"github.com/dalemusser/liveplay/internal/app/system/identity"
	"github.com/dalemusser/liveplay/internal/app/system/inputval"
	"github.com/dalemusser/liveplay/internal/app/system/keylock"
	"github.com/dalemusser/liveplay/internal/app/system/metrics"
	"github.com/dalemusser/liveplay/internal/app/system/sessioncode"
	"github.com/dalemusser/liveplay/internal/app/system/timeouts"
	"github.com/dalemusser/liveplay/internal/domain/models"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"
)

// DefaultListLimit caps ListForHost when the config leaves it unset.
const DefaultListLimit = 100

// Config configures the session service.
type Config struct {
	CodeMaxAttempts int
	ListLimit       int

	// ArchiveRetention is the minimum age of an ended session before an
	// operator may archive it. Zero only requires the session to have ended.
	ArchiveRetention time.Duration
}

// Service owns the session lifecycle.
type Service struct {
	sessions store.Sessions
	activity *auditlog.Logger
	pub      broadcast.Publisher
	clock    clock.Clock
	log      *zap.Logger
	cfg      Config
	cursor   *keylock.Map
}

// New creates a session Service.
func New(set store.Set, activity *auditlog.Logger, pub broadcast.Publisher, clk clock.Clock, logger *zap.Logger, cfg Config) *Service {
	if pub == nil {
		pub = broadcast.Nop{}
	}
	if cfg.CodeMaxAttempts <= 0 {
		cfg.CodeMaxAttempts = sessioncode.DefaultMaxAttempts
	}
	if cfg.ListLimit <= 0 {
		cfg.ListLimit = DefaultListLimit
	}
	return &Service{
		sessions: set.Sessions,
		activity: activity,
		pub:      pub,
		clock:    clk,
		log:      logger,
		cfg:      cfg,
		cursor:   keylock.New(),
	}
}

// CreateInput is the host's request to start a session.
type CreateInput struct {
	Title          string                  `json:"title" validate:"max=200" label:"Title"`
	Settings       *models.SessionSettings `json:"settings"`
	ExpiresInHours *int                    `json:"expires_in_hours" validate:"omitempty,min=1,max=8760" label:"Expires in hours"`
}

// Create starts an active session at position (0,0) with a fresh code.
func (s *Service) Create(ctx context.Context, actor identity.Actor, in CreateInput) (models.Session, error) {
	if actor.HostID == "" || actor.System {
		return models.Session{}, apperr.New(apperr.ErrUnauthorized, "host identity required")
	}
	if res := inputval.Validate(in); res.HasErrors() {
		return models.Session{}, apperr.New(apperr.ErrInvalidInput, res.All())
	}

	settings := models.DefaultSessionSettings()
	if in.Settings != nil {
		settings = *in.Settings
	}

	now := s.clock.Now()
	sess := models.Session{
		TenantID:  actor.TenantID,
		HostID:    actor.HostID,
		Title:     htmlsanitize.PlainText(in.Title),
		Status:    models.SessionActive,
		Settings:  settings,
		CreatedAt: now,
		StartedAt: now,
		UpdatedAt: now,
	}
	if in.ExpiresInHours != nil {
		exp := now.Add(time.Duration(*in.ExpiresInHours) * time.Hour)
		sess.ExpiresAt = &exp
	}

	ctx, cancel := timeouts.WithTimeout(ctx, timeouts.Medium(), s.log, "create session")
	defer cancel()

	_, err := sessioncode.Allocate(s.cfg.CodeMaxAttempts, func(code string) error {
		sess.ID = primitive.NilObjectID
		sess.Code = code
		return s.sessions.Insert(ctx, &sess)
	}, func(err error) bool {
		return errors.Is(err, store.ErrDuplicate)
	})
	if errors.Is(err, sessioncode.ErrExhausted) {
		s.log.Warn("session code space exhausted", zap.Int("attempts", s.cfg.CodeMaxAttempts))
		return models.Session{}, apperr.New(apperr.ErrCodeSpaceExhausted, "could not allocate a session code, try again")
	}
	if err != nil {
		return models.Session{}, fmt.Errorf("create session: %w", err)
	}

	metrics.SessionsCreated.Inc()
	s.record(ctx, auditlog.Entry(sess, actor.HostID, models.EventSessionCreated, map[string]string{"code": sess.Code}))
	s.log.Info("session created",
		zap.String("session_id", sess.ID.Hex()),
		zap.String("tenant_id", sess.TenantID),
		zap.String("code", sess.Code))
	return sess, nil
}

// Get loads a session the actor may manage.
func (s *Service) Get(ctx context.Context, actor identity.Actor, id primitive.ObjectID) (models.Session, error) {
	ctx, cancel := timeouts.WithTimeout(ctx, timeouts.Short(), s.log, "get session")
	defer cancel()

	sess, err := s.sessions.Get(ctx, id)
	if err != nil {
		return models.Session{}, apperr.NotFoundOr(err, "session not found")
	}
	if !actor.CanManage(sess) {
		return models.Session{}, apperr.New(apperr.ErrForbidden, "not the host of this session")
	}
	return sess, nil
}

// GetByCode resolves a participant-typed code. Malformed and unknown codes
// both return apperr.ErrSessionNotFound.
func (s *Service) GetByCode(ctx context.Context, code string) (models.Session, error) {
	code = sessioncode.Normalize(code)
	if !sessioncode.IsValidFormat(code) {
		return models.Session{}, apperr.ErrSessionNotFound
	}

	ctx, cancel := timeouts.WithTimeout(ctx, timeouts.Short(), s.log, "get session by code")
	defer cancel()

	sess, err := s.sessions.GetByCode(ctx, code)
	if errors.Is(err, store.ErrNotFound) {
		return models.Session{}, apperr.ErrSessionNotFound
	}
	if err != nil {
		return models.Session{}, fmt.Errorf("get session by code: %w", err)
	}
	return sess, nil
}

// MaxActivityLimit caps one Activity call.
const MaxActivityLimit = 1000

// Activity returns the session's activity log, newest first. A non-empty
// eventType keeps only that event; limit is clamped to MaxActivityLimit.
func (s *Service) Activity(ctx context.Context, actor identity.Actor, id primitive.ObjectID, eventType string, limit int) ([]models.ActivityLogEntry, error) {
	if _, err := s.Get(ctx, actor, id); err != nil {
		return nil, err
	}
	if limit <= 0 || limit > MaxActivityLimit {
		limit = MaxActivityLimit
	}

	ctx, cancel := timeouts.WithTimeout(ctx, timeouts.Long(), s.log, "list activity")
	defer cancel()

	// The filter runs after the read, so fetch everything when filtering.
	fetch := limit
	if eventType != "" {
		fetch = 0
	}
	entries, err := s.activity.List(ctx, id, fetch)
	if err != nil {
		return nil, fmt.Errorf("list activity: %w", err)
	}
	if eventType == "" {
		return entries, nil
	}
	out := make([]models.ActivityLogEntry, 0, len(entries))
	for _, e := range entries {
		if e.EventType != eventType {
			continue
		}
		out = append(out, e)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

// ListForHost returns the actor's newest sessions.
func (s *Service) ListForHost(ctx context.Context, actor identity.Actor) ([]models.Session, error) {
	if actor.HostID == "" {
		return nil, apperr.New(apperr.ErrUnauthorized, "host identity required")
	}
	ctx, cancel := timeouts.WithTimeout(ctx, timeouts.Medium(), s.log, "list sessions")
	defer cancel()

	out, err := s.sessions.ListByHost(ctx, actor.TenantID, actor.HostID, s.cfg.ListLimit)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	return out, nil
}

// Advance moves the cursor to (step, phase). Moving to the current position
// succeeds without changes; moving backward is an invalid transition.
func (s *Service) Advance(ctx context.Context, actor identity.Actor, id primitive.ObjectID, step, phase int) (models.Session, error) {
	if step < 0 || phase < 0 {
		return models.Session{}, apperr.New(apperr.ErrInvalidInput, "step and phase must not be negative")
	}
	target := models.Position{Step: step, Phase: phase}

	unlock := s.cursor.Lock(id.Hex())
	defer unlock()

	ctx, cancel := timeouts.WithTimeout(ctx, timeouts.Short(), s.log, "advance cursor")
	defer cancel()

	sess, err := s.Get(ctx, actor, id)
	if err != nil {
		return models.Session{}, err
	}
	if sess.Status != models.SessionActive {
		return models.Session{}, apperr.New(apperr.ErrInvalidTransition, "session is "+string(sess.Status)+", not active")
	}
	cur := sess.Position()
	if target.Before(cur) {
		return models.Session{}, apperr.New(apperr.ErrInvalidTransition,
			fmt.Sprintf("cannot move back from %d/%d to %d/%d", cur.Step, cur.Phase, step, phase))
	}
	if target == cur {
		return sess, nil
	}

	updated, err := s.sessions.AdvanceCursor(ctx, id, target, s.clock.Now())
	if errors.Is(err, store.ErrConflict) {
		// Another instance moved the cursor or the status changed.
		return models.Session{}, apperr.New(apperr.ErrInvalidTransition, "session changed concurrently, reload and retry")
	}
	if err != nil {
		return models.Session{}, apperr.NotFoundOr(err, "session not found")
	}

	s.record(ctx, auditlog.Entry(updated, actor.HostID, models.EventSessionAdvanced, map[string]string{
		"from": strconv.Itoa(cur.Step) + "/" + strconv.Itoa(cur.Phase),
		"to":   strconv.Itoa(step) + "/" + strconv.Itoa(phase),
	}))
	s.pub.Publish(ctx, id, broadcast.Event{
		Type:      broadcast.EventPositionChanged,
		Payload:   map[string]int{"step": step, "phase": phase},
		Timestamp: s.clock.Now(),
	})
	return updated, nil
}

// SetStatus moves the session through the lifecycle table. Only operators
// may archive by hand, and only once the session has been over for the
// archive retention; the sweeper archives on the same rule.
func (s *Service) SetStatus(ctx context.Context, actor identity.Actor, id primitive.ObjectID, to models.SessionStatus) (models.Session, error) {
	if !to.Valid() {
		return models.Session{}, apperr.New(apperr.ErrInvalidInput, "unknown status "+strconv.Quote(string(to)))
	}
	if to == models.SessionArchived && !actor.Privileged() {
		return models.Session{}, apperr.New(apperr.ErrForbidden, "only operators may archive a session")
	}

	unlock := s.cursor.Lock(id.Hex())
	defer unlock()

	ctx, cancel := timeouts.WithTimeout(ctx, timeouts.Short(), s.log, "set session status")
	defer cancel()

	sess, err := s.Get(ctx, actor, id)
	if err != nil {
		return models.Session{}, err
	}
	if err := models.ValidateSessionTransition(sess.Status, to); err != nil {
		return models.Session{}, apperr.New(apperr.ErrInvalidTransition, err.Error())
	}
	if to == models.SessionArchived {
		if err := s.archivable(sess); err != nil {
			return models.Session{}, err
		}
	}

	updated, err := s.sessions.UpdateStatus(ctx, id, sess.Status, to, s.clock.Now())
	if errors.Is(err, store.ErrConflict) {
		return models.Session{}, apperr.New(apperr.ErrInvalidTransition, "session changed concurrently, reload and retry")
	}
	if err != nil {
		return models.Session{}, apperr.NotFoundOr(err, "session not found")
	}

	event := models.EventSessionStatusChanged
	if to == models.SessionArchived {
		event = models.EventSessionArchived
	}
	s.record(ctx, auditlog.Entry(updated, actor.HostID, event, map[string]string{
		"from": string(sess.Status),
		"to":   string(to),
	}))
	s.pub.Publish(ctx, id, broadcast.Event{
		Type:      broadcast.EventSessionStatusChanged,
		Payload:   map[string]string{"status": string(to)},
		Timestamp: s.clock.Now(),
	})
	return updated, nil
}

func (s *Service) archivable(sess models.Session) error {
	if sess.EndedAt == nil {
		return apperr.New(apperr.ErrInvalidTransition, "session has no end time")
	}
	if s.cfg.ArchiveRetention <= 0 {
		return nil
	}
	due := sess.EndedAt.Add(s.cfg.ArchiveRetention)
	if !s.clock.Now().After(due) {
		return apperr.New(apperr.ErrInvalidTransition, "session can be archived after "+due.UTC().Format(time.RFC3339))
	}
	return nil
}

func (s *Service) record(ctx context.Context, e models.ActivityLogEntry) {
	e.CreatedAt = s.clock.Now()
	s.activity.Log(ctx, e)
}
