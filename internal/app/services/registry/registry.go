// Package registry manages who is in a session: joining, presence,
// moderation and the public lobby.
package registry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dalemusser/liveplay/internal/app/services/livesessions"
	"github.com/dalemusser/liveplay/internal/app/services/tokens"
	"github.com/dalemusser/liveplay/internal/app/store"
	"github.com/dalemusser/liveplay/internal/app/system/apperr"
	"github.com/dalemusser/liveplay/internal/app/system/auditlog"
	"github.com/dalemusser/liveplay/internal/app/system/broadcast"
	"github.com/dalemusser/liveplay/internal/app/system/clock"
	"github.com/dalemusser/liveplay/internal/app/system/identity"
	"github.com/dalemusser/liveplay/internal/app/system/inputval"
	"github.com/dalemusser/liveplay/internal/app/system/metrics"
	"github.com/dalemusser/liveplay/internal/app/system/ratelimit"
	"github.com/dalemusser/liveplay/internal/app/system/timeouts"
	"github.com/dalemusser/liveplay/internal/domain/models"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"
)

// DefaultIdleThreshold is how long without activity before a heartbeating
// participant is reported idle.
const DefaultIdleThreshold = 2 * time.Minute

// Join outcomes recorded on metrics.Joins.
const (
	outcomeJoined      = "joined"
	outcomeRateLimited = "rate_limited"
	outcomeNotFound    = "not_found"
	outcomeClosed      = "closed"
	outcomeFull        = "full"
	outcomeInvalid     = "invalid"
	outcomeError       = "error"
)

// Config configures the registry.
type Config struct {
	IdleThreshold time.Duration
}

// Service tracks participants.
type Service struct {
	sessions     store.Sessions
	participants store.Participants
	lookup       *livesessions.Service
	tokens       *tokens.Service
	limiter      *ratelimit.JoinLimiter
	activity     *auditlog.Logger
	pub          broadcast.Publisher
	clock        clock.Clock
	log          *zap.Logger
	cfg          Config
}

// New creates a registry Service. limiter may be nil to disable join
// throttling.
func New(set store.Set, lookup *livesessions.Service, tok *tokens.Service, limiter *ratelimit.JoinLimiter,
	activity *auditlog.Logger, pub broadcast.Publisher, clk clock.Clock, logger *zap.Logger, cfg Config) *Service {
	if pub == nil {
		pub = broadcast.Nop{}
	}
	if cfg.IdleThreshold <= 0 {
		cfg.IdleThreshold = DefaultIdleThreshold
	}
	return &Service{
		sessions:     set.Sessions,
		participants: set.Participants,
		lookup:       lookup,
		tokens:       tok,
		limiter:      limiter,
		activity:     activity,
		pub:          pub,
		clock:        clk,
		log:          logger,
		cfg:          cfg,
	}
}

// JoinResult is returned to a participant who joined or rejoined.
// Token is the only place the token ever leaves the service.
type JoinResult struct {
	Participant models.Participant `json:"participant"`
	Token       string             `json:"token"`
	Session     models.Session     `json:"-"`
}

// Join adds a new participant to the session with the given code.
// source identifies the caller for throttling, usually its IP address.
func (s *Service) Join(ctx context.Context, code, displayName, source string) (JoinResult, error) {
	if !s.limiter.Allow(source, code) {
		metrics.Joins.WithLabelValues(outcomeRateLimited).Inc()
		return JoinResult{}, apperr.New(apperr.ErrRateLimited, "too many join attempts, slow down")
	}

	name, err := inputval.CleanDisplayName(displayName)
	if err != nil {
		metrics.Joins.WithLabelValues(outcomeInvalid).Inc()
		return JoinResult{}, apperr.New(apperr.ErrInvalidInput, err.Error())
	}

	sess, err := s.lookup.GetByCode(ctx, code)
	if err != nil {
		metrics.Joins.WithLabelValues(outcomeNotFound).Inc()
		return JoinResult{}, err
	}
	if !sess.Status.Joinable() {
		metrics.Joins.WithLabelValues(outcomeClosed).Inc()
		return JoinResult{}, apperr.New(apperr.ErrInvalidTransition, "session is "+string(sess.Status)+" and not accepting participants")
	}

	ctx, cancel := timeouts.WithTimeout(ctx, timeouts.Medium(), s.log, "join session")
	defer cancel()

	if err := s.sessions.ReserveSeat(ctx, sess.ID, sess.Settings.MaxParticipants); err != nil {
		if errors.Is(err, store.ErrLimitReached) {
			metrics.Joins.WithLabelValues(outcomeFull).Inc()
			return JoinResult{}, apperr.New(apperr.ErrConflict, "session is full")
		}
		metrics.Joins.WithLabelValues(outcomeError).Inc()
		return JoinResult{}, apperr.NotFoundOr(err, "session not found")
	}

	p, err := s.tokens.IssueForJoin(ctx, sess, name, tokens.IssueOptions{
		Role:            models.RolePlayer,
		PendingApproval: sess.Settings.RequireApproval,
	})
	if err != nil {
		s.releaseSeat(ctx, sess.ID)
		metrics.Joins.WithLabelValues(outcomeError).Inc()
		return JoinResult{}, err
	}

	metrics.Joins.WithLabelValues(outcomeJoined).Inc()
	s.record(ctx, auditlog.ParticipantEntry(p, p.ID.Hex(), models.EventParticipantJoined, map[string]string{
		"display_name": p.DisplayName,
	}))
	s.pub.Publish(ctx, sess.ID, broadcast.Event{
		Type: broadcast.EventParticipantJoined,
		Payload: map[string]any{
			"participant_id":   p.ID.Hex(),
			"display_name":     p.DisplayName,
			"pending_approval": p.PendingApproval,
		},
		Timestamp: s.clock.Now(),
	})
	return JoinResult{Participant: p, Token: p.Token, Session: sess}, nil
}

// Rejoin reconnects a disconnected participant holding a live token. It
// fails when the session disallows rejoining.
func (s *Service) Rejoin(ctx context.Context, code, token string) (JoinResult, error) {
	sess, err := s.lookup.GetByCode(ctx, code)
	if err != nil {
		return JoinResult{}, err
	}
	p, err := s.tokens.Verify(ctx, token)
	if err != nil {
		return JoinResult{}, err
	}
	if p.SessionID != sess.ID {
		return JoinResult{}, apperr.ErrSessionNotFound
	}
	if sess.Status.Finished() {
		return JoinResult{}, sessionFinished(sess)
	}
	if p.Status.Present() {
		return JoinResult{Participant: p, Token: p.Token, Session: sess}, nil
	}
	if err := canReactivate(sess); err != nil {
		return JoinResult{}, err
	}

	ctx, cancel := timeouts.WithTimeout(ctx, timeouts.Short(), s.log, "rejoin session")
	defer cancel()

	p, err = s.reactivate(ctx, p)
	if err != nil {
		return JoinResult{}, err
	}
	s.record(ctx, auditlog.ParticipantEntry(p, p.ID.Hex(), models.EventParticipantRejoined, nil))
	return JoinResult{Participant: p, Token: p.Token, Session: sess}, nil
}

// Heartbeat records that the participant is connected. lastActivityAt is
// the client's last user interaction; nil means now. A participant idle
// longer than the threshold is reported idle. A disconnected participant
// whose token is still live comes back under the same rules as Rejoin.
func (s *Service) Heartbeat(ctx context.Context, token string, lastActivityAt *time.Time) (models.Participant, error) {
	p, err := s.tokens.Verify(ctx, token)
	if err != nil {
		return models.Participant{}, err
	}

	ctx, cancel := timeouts.WithTimeout(ctx, timeouts.Short(), s.log, "heartbeat")
	defer cancel()

	if p.Status == models.ParticipantDisconnected {
		sess, err := s.sessions.Get(ctx, p.SessionID)
		if err != nil {
			return models.Participant{}, apperr.NotFoundOr(err, "session not found")
		}
		if err := canReactivate(sess); err != nil {
			return models.Participant{}, err
		}
		if p, err = s.reactivate(ctx, p); err != nil {
			return models.Participant{}, err
		}
		s.record(ctx, auditlog.ParticipantEntry(p, p.ID.Hex(), models.EventParticipantRejoined, map[string]string{"via": "heartbeat"}))
	}

	now := s.clock.Now()
	activity := now
	if lastActivityAt != nil && lastActivityAt.Before(now) {
		activity = *lastActivityAt
	}
	if activity.Before(p.LastActivityAt) {
		activity = p.LastActivityAt
	}
	status := models.ParticipantActive
	if now.Sub(activity) >= s.cfg.IdleThreshold {
		status = models.ParticipantIdle
	}

	updated, err := s.participants.Touch(ctx, p.ID, status, now, activity)
	if errors.Is(err, store.ErrConflict) {
		// Kicked or disconnected between the read and the write.
		return s.tokens.Verify(ctx, token)
	}
	if err != nil {
		return models.Participant{}, apperr.NotFoundOr(err, "participant not found")
	}
	if updated.Status != p.Status {
		s.publishStatus(ctx, updated)
	}
	return updated, nil
}

// canReactivate reports whether a disconnected participant may come back
// into sess.
func canReactivate(sess models.Session) error {
	if sess.Status.Finished() {
		return sessionFinished(sess)
	}
	if !sess.Settings.AllowRejoin {
		return apperr.New(apperr.ErrForbidden, "this session does not allow rejoining")
	}
	return nil
}

func sessionFinished(sess models.Session) error {
	return apperr.New(apperr.ErrInvalidTransition, "session already "+string(sess.Status))
}

func (s *Service) reactivate(ctx context.Context, p models.Participant) (models.Participant, error) {
	updated, err := s.participants.UpdateStatus(ctx, p.ID,
		[]models.ParticipantStatus{models.ParticipantDisconnected},
		models.ParticipantActive, "", s.clock.Now())
	switch {
	case err == nil:
		s.publishStatus(ctx, updated)
		return updated, nil
	case errors.Is(err, store.ErrConflict):
		cur, gerr := s.participants.Get(ctx, p.ID)
		if gerr != nil {
			return models.Participant{}, apperr.NotFoundOr(gerr, "participant not found")
		}
		if cur.Status.Rejected() {
			return models.Participant{}, apperr.New(apperr.ErrRejected, "participant was removed from the session")
		}
		return cur, nil
	default:
		return models.Participant{}, apperr.NotFoundOr(err, "participant not found")
	}
}

// Me returns the caller's own participant row.
func (s *Service) Me(ctx context.Context, token string) (models.Participant, error) {
	return s.tokens.Verify(ctx, token)
}

// SetRole changes a participant's permission tier.
func (s *Service) SetRole(ctx context.Context, actor identity.Actor, sessionID, participantID primitive.ObjectID, role models.ParticipantRole) (models.Participant, error) {
	if !role.Valid() {
		return models.Participant{}, apperr.New(apperr.ErrInvalidInput, "unknown role "+string(role))
	}
	ctx, cancel := timeouts.WithTimeout(ctx, timeouts.Short(), s.log, "set participant role")
	defer cancel()

	p, err := s.managedParticipant(ctx, actor, sessionID, participantID)
	if err != nil {
		return models.Participant{}, err
	}
	if p.Role == role {
		return p, nil
	}
	updated, err := s.participants.SetRole(ctx, p.ID, role)
	if errors.Is(err, store.ErrConflict) {
		return models.Participant{}, apperr.New(apperr.ErrRejected, "participant was removed from the session")
	}
	if err != nil {
		return models.Participant{}, apperr.NotFoundOr(err, "participant not found")
	}

	s.record(ctx, auditlog.ParticipantEntry(updated, actor.HostID, models.EventParticipantRoleChanged, map[string]string{
		"from": string(p.Role),
		"to":   string(role),
	}))
	s.pub.Publish(ctx, sessionID, broadcast.Event{
		Type:      broadcast.EventParticipantRoleChanged,
		Payload:   map[string]string{"participant_id": updated.ID.Hex(), "role": string(role)},
		Timestamp: s.clock.Now(),
	})
	return updated, nil
}

// SetStatus kicks or blocks a participant. Both are permanent: the token is
// refused from then on, the seat is freed and any no-expiry slot returned.
func (s *Service) SetStatus(ctx context.Context, actor identity.Actor, sessionID, participantID primitive.ObjectID, to models.ParticipantStatus, reason string) (models.Participant, error) {
	if !to.Rejected() {
		return models.Participant{}, apperr.New(apperr.ErrInvalidInput, "status must be kicked or blocked")
	}
	ctx, cancel := timeouts.WithTimeout(ctx, timeouts.Medium(), s.log, "set participant status")
	defer cancel()

	p, err := s.managedParticipant(ctx, actor, sessionID, participantID)
	if err != nil {
		return models.Participant{}, err
	}
	if err := models.ValidateParticipantTransition(p.Status, to); err != nil {
		return models.Participant{}, apperr.New(apperr.ErrInvalidTransition, err.Error())
	}

	updated, err := s.participants.UpdateStatus(ctx, p.ID,
		[]models.ParticipantStatus{models.ParticipantActive, models.ParticipantIdle, models.ParticipantDisconnected},
		to, reason, s.clock.Now())
	if errors.Is(err, store.ErrConflict) {
		return models.Participant{}, apperr.New(apperr.ErrInvalidTransition, "participant was already removed")
	}
	if err != nil {
		return models.Participant{}, apperr.NotFoundOr(err, "participant not found")
	}

	s.releaseSeat(ctx, sessionID)
	s.tokens.ReleaseReservation(ctx, updated)

	event := models.EventParticipantKicked
	if to == models.ParticipantBlocked {
		event = models.EventParticipantBlocked
	}
	s.record(ctx, auditlog.ParticipantEntry(updated, actor.HostID, event, map[string]string{"reason": reason}))
	s.publishStatus(ctx, updated)
	return updated, nil
}

// Approve admits a participant waiting for host approval.
func (s *Service) Approve(ctx context.Context, actor identity.Actor, sessionID, participantID primitive.ObjectID) (models.Participant, error) {
	ctx, cancel := timeouts.WithTimeout(ctx, timeouts.Short(), s.log, "approve participant")
	defer cancel()

	p, err := s.managedParticipant(ctx, actor, sessionID, participantID)
	if err != nil {
		return models.Participant{}, err
	}
	if !p.PendingApproval {
		return p, nil
	}
	updated, err := s.participants.Approve(ctx, p.ID)
	if errors.Is(err, store.ErrConflict) {
		cur, gerr := s.participants.Get(ctx, p.ID)
		if gerr != nil {
			return models.Participant{}, apperr.NotFoundOr(gerr, "participant not found")
		}
		if cur.Status.Rejected() {
			return models.Participant{}, apperr.New(apperr.ErrRejected, "participant was removed from the session")
		}
		return cur, nil
	}
	if err != nil {
		return models.Participant{}, apperr.NotFoundOr(err, "participant not found")
	}
	s.record(ctx, auditlog.ParticipantEntry(updated, actor.HostID, models.EventParticipantApproved, nil))
	s.publishStatus(ctx, updated)
	return updated, nil
}

// List returns every participant of a session for its host.
func (s *Service) List(ctx context.Context, actor identity.Actor, sessionID primitive.ObjectID) ([]models.Participant, error) {
	ctx, cancel := timeouts.WithTimeout(ctx, timeouts.Medium(), s.log, "list participants")
	defer cancel()

	if _, err := s.lookup.Get(ctx, actor, sessionID); err != nil {
		return nil, err
	}
	out, err := s.participants.ListBySession(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list participants: %w", err)
	}
	return out, nil
}

// LobbyEntry is one participant as the public lobby shows it.
type LobbyEntry struct {
	DisplayName string `json:"display_name"`
	Ready       bool   `json:"ready"`
}

// LobbyView is the public, unauthenticated view of a session.
type LobbyView struct {
	Code             string               `json:"code"`
	Title            string               `json:"title,omitempty"`
	Status           models.SessionStatus `json:"status"`
	ParticipantCount int                  `json:"participant_count"`
	MaxParticipants  int                  `json:"max_participants"`
	RequireApproval  bool                 `json:"require_approval"`
	Participants     []LobbyEntry         `json:"participants"`
}

// Lobby returns the public view of the session with the given code. Kicked
// and blocked participants are left out; a participant is ready when active
// and admitted.
func (s *Service) Lobby(ctx context.Context, code string) (LobbyView, error) {
	sess, err := s.lookup.GetByCode(ctx, code)
	if err != nil {
		return LobbyView{}, err
	}

	ctx, cancel := timeouts.WithTimeout(ctx, timeouts.Medium(), s.log, "lobby")
	defer cancel()

	ps, err := s.participants.ListBySession(ctx, sess.ID)
	if err != nil {
		return LobbyView{}, fmt.Errorf("list participants: %w", err)
	}

	view := LobbyView{
		Code:             sess.Code,
		Title:            sess.Title,
		Status:           sess.Status,
		ParticipantCount: sess.ParticipantCount,
		MaxParticipants:  sess.Settings.MaxParticipants,
		RequireApproval:  sess.Settings.RequireApproval,
		Participants:     make([]LobbyEntry, 0, len(ps)),
	}
	for _, p := range ps {
		if p.Status.Rejected() {
			continue
		}
		view.Participants = append(view.Participants, LobbyEntry{
			DisplayName: p.DisplayName,
			Ready:       p.Status == models.ParticipantActive && !p.PendingApproval,
		})
	}
	return view, nil
}

func (s *Service) managedParticipant(ctx context.Context, actor identity.Actor, sessionID, participantID primitive.ObjectID) (models.Participant, error) {
	if _, err := s.lookup.Get(ctx, actor, sessionID); err != nil {
		return models.Participant{}, err
	}
	p, err := s.participants.Get(ctx, participantID)
	if err != nil {
		return models.Participant{}, apperr.NotFoundOr(err, "participant not found")
	}
	if p.SessionID != sessionID {
		return models.Participant{}, apperr.New(apperr.ErrNotFound, "participant not found")
	}
	return p, nil
}

func (s *Service) releaseSeat(ctx context.Context, sessionID primitive.ObjectID) {
	if err := s.sessions.ReleaseSeat(ctx, sessionID); err != nil {
		s.log.Error("failed to release session seat",
			zap.String("session_id", sessionID.Hex()), zap.Error(err))
	}
}

func (s *Service) publishStatus(ctx context.Context, p models.Participant) {
	s.pub.Publish(ctx, p.SessionID, broadcast.Event{
		Type: broadcast.EventParticipantStatusChanged,
		Payload: map[string]any{
			"participant_id":   p.ID.Hex(),
			"status":           p.Status,
			"pending_approval": p.PendingApproval,
		},
		Timestamp: s.clock.Now(),
	})
}

func (s *Service) record(ctx context.Context, e models.ActivityLogEntry) {
	e.CreatedAt = s.clock.Now()
	s.activity.Log(ctx, e)
}
