// Package tokens issues and manages participant tokens.
//
// A token is an opaque random reference to one participant row. It carries
// no claims; everything it allows is looked up on every use, so kicking a
// participant or revoking the token takes effect immediately.
package tokens

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/dalemusser/liveplay/internal/app/store"
	"github.com/dalemusser/liveplay/internal/app/system/apperr"
	"github.com/dalemusser/liveplay/internal/app/system/auditlog"
	"github.com/dalemusser/liveplay/internal/app/system/clock"
	"github.com/dalemusser/liveplay/internal/app/system/identity"
	"github.com/dalemusser/liveplay/internal/app/system/inputval"
	"github.com/dalemusser/liveplay/internal/app/system/timeouts"
	"github.com/dalemusser/liveplay/internal/domain/models"
	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"
)

// DefaultNoExpiryQuota is the per-tenant limit on outstanding no-expiry tokens.
const DefaultNoExpiryQuota = 50

// maxConditionalRetries bounds re-read loops after a lost conditional update.
const maxConditionalRetries = 3

// Config configures the token service.
type Config struct {
	NoExpiryQuota int
}

// Service issues, verifies, extends and revokes participant tokens.
type Service struct {
	sessions     store.Sessions
	participants store.Participants
	quotas       store.Quotas
	activity     *auditlog.Logger
	clock        clock.Clock
	log          *zap.Logger
	cfg          Config
}

// New creates a token Service.
func New(set store.Set, activity *auditlog.Logger, clk clock.Clock, logger *zap.Logger, cfg Config) *Service {
	if cfg.NoExpiryQuota <= 0 {
		cfg.NoExpiryQuota = DefaultNoExpiryQuota
	}
	return &Service{
		sessions:     set.Sessions,
		participants: set.Participants,
		quotas:       set.Quotas,
		activity:     activity,
		clock:        clk,
		log:          logger,
		cfg:          cfg,
	}
}

// IssueOptions tunes a new participant row.
type IssueOptions struct {
	Role            models.ParticipantRole
	PendingApproval bool
}

// Issue creates a participant in sessionID on behalf of a host and returns it
// with its token.
func (s *Service) Issue(ctx context.Context, actor identity.Actor, sessionID primitive.ObjectID, displayName string, policy models.ExpiryPolicy) (models.Participant, error) {
	ctx, cancel := timeouts.WithTimeout(ctx, timeouts.Medium(), s.log, "issue token")
	defer cancel()

	sess, err := s.sessions.Get(ctx, sessionID)
	if err != nil {
		return models.Participant{}, apperr.NotFoundOr(err, "session not found")
	}
	if !actor.CanManage(sess) {
		return models.Participant{}, apperr.New(apperr.ErrForbidden, "only the session host may issue tokens")
	}
	if sess.Status.Finished() {
		return models.Participant{}, apperr.New(apperr.ErrInvalidTransition, "session already "+string(sess.Status))
	}
	if !policy.Never && (policy.Hours < models.MinExtendHours || policy.Hours > models.MaxExtendHours) {
		return models.Participant{}, apperr.New(apperr.ErrInvalidInput, "token expiry must be between 1 and 168 hours")
	}
	name, err := inputval.CleanDisplayName(displayName)
	if err != nil {
		return models.Participant{}, apperr.New(apperr.ErrInvalidInput, err.Error())
	}
	return s.issue(ctx, sess, name, policy, IssueOptions{Role: models.RolePlayer}, actor.HostID)
}

// IssueForJoin creates a participant for the public join path. The caller
// has already resolved the session, checked capacity and cleaned the name.
func (s *Service) IssueForJoin(ctx context.Context, sess models.Session, name string, opts IssueOptions) (models.Participant, error) {
	return s.issue(ctx, sess, name, sess.Settings.ExpiryPolicy(), opts, identity.SystemActor().HostID)
}

func (s *Service) issue(ctx context.Context, sess models.Session, name string, policy models.ExpiryPolicy, opts IssueOptions, actorID string) (models.Participant, error) {
	reserved := false
	if policy.Never {
		if err := s.quotas.Reserve(ctx, sess.TenantID, s.cfg.NoExpiryQuota, s.clock.Now()); err != nil {
			if errors.Is(err, store.ErrLimitReached) {
				return models.Participant{}, apperr.New(apperr.ErrQuotaExceeded, "no-expiry token quota reached for this organization")
			}
			return models.Participant{}, fmt.Errorf("reserve no-expiry slot: %w", err)
		}
		reserved = true
	}

	if opts.Role == "" {
		opts.Role = models.RolePlayer
	}
	now := s.clock.Now()
	p := models.Participant{
		SessionID:        sess.ID,
		TenantID:         sess.TenantID,
		DisplayName:      name,
		Token:            uuid.NewString(),
		TokenExpiresAt:   policy.ExpiresAt(now),
		Status:           models.ParticipantActive,
		Role:             opts.Role,
		PendingApproval:  opts.PendingApproval,
		NoExpiryReserved: reserved,
		JoinedAt:         now,
		LastSeenAt:       now,
		LastActivityAt:   now,
	}
	if err := s.participants.Insert(ctx, &p); err != nil {
		if reserved {
			if rerr := s.quotas.Release(ctx, sess.TenantID, s.clock.Now()); rerr != nil {
				s.log.Error("failed to release no-expiry slot after insert failure",
					zap.String("tenant_id", sess.TenantID), zap.Error(rerr))
			}
		}
		return models.Participant{}, fmt.Errorf("insert participant: %w", err)
	}

	data := map[string]string{"no_expiry": strconv.FormatBool(policy.Never)}
	if p.TokenExpiresAt != nil {
		data["expires_at"] = p.TokenExpiresAt.Format(time.RFC3339)
	}
	s.record(ctx, auditlog.ParticipantEntry(p, actorID, models.EventTokenIssued, data))
	return p, nil
}

// Verify resolves a token to its participant without changing anything.
func (s *Service) Verify(ctx context.Context, token string) (models.Participant, error) {
	if token == "" {
		return models.Participant{}, apperr.New(apperr.ErrUnauthorized, "participant token required")
	}
	ctx, cancel := timeouts.WithTimeout(ctx, timeouts.Short(), s.log, "verify token")
	defer cancel()

	p, err := s.participants.GetByToken(ctx, token)
	if err != nil {
		return models.Participant{}, apperr.NotFoundOr(err, "participant not found")
	}
	return p, s.check(p)
}

func (s *Service) check(p models.Participant) error {
	if p.Status.Rejected() {
		return apperr.New(apperr.ErrRejected, "participant was removed from the session")
	}
	if p.TokenExpired(s.clock.Now()) {
		return apperr.New(apperr.ErrExpired, "participant token expired")
	}
	return nil
}

// VerifyAdmitted is Verify plus a check that the host has approved the
// participant when the session requires approval.
func (s *Service) VerifyAdmitted(ctx context.Context, token string) (models.Participant, error) {
	p, err := s.Verify(ctx, token)
	if err != nil {
		return p, err
	}
	if p.PendingApproval {
		return p, apperr.New(apperr.ErrForbidden, "waiting for host approval")
	}
	return p, nil
}

// Extend pushes a token's expiry hours past the later of its current expiry
// and now, returning the new expiry.
func (s *Service) Extend(ctx context.Context, actor identity.Actor, token string, hours int) (time.Time, error) {
	if hours < models.MinExtendHours || hours > models.MaxExtendHours {
		return time.Time{}, apperr.New(apperr.ErrInvalidInput, "hours must be between 1 and 168")
	}
	ctx, cancel := timeouts.WithTimeout(ctx, timeouts.Medium(), s.log, "extend token")
	defer cancel()

	p, err := s.ownedParticipant(ctx, actor, token)
	if err != nil {
		return time.Time{}, err
	}

	for attempt := 0; attempt < maxConditionalRetries; attempt++ {
		if p.Status.Rejected() {
			return time.Time{}, apperr.New(apperr.ErrRejected, "participant was removed from the session")
		}
		if p.TokenExpiresAt == nil {
			return time.Time{}, apperr.New(apperr.ErrInvalidTransition, "token does not expire")
		}
		prev := *p.TokenExpiresAt
		base := s.clock.Now()
		if prev.After(base) {
			base = prev
		}
		next := base.Add(time.Duration(hours) * time.Hour)

		updated, err := s.participants.ExtendToken(ctx, p.ID, prev, next)
		if err == nil {
			s.record(ctx, auditlog.ParticipantEntry(updated, actor.HostID, models.EventTokenExtended, map[string]string{
				"hours":      strconv.Itoa(hours),
				"expires_at": next.Format(time.RFC3339),
			}))
			return next, nil
		}
		if !errors.Is(err, store.ErrConflict) {
			return time.Time{}, apperr.NotFoundOr(err, "participant not found")
		}
		if p, err = s.participants.Get(ctx, p.ID); err != nil {
			return time.Time{}, apperr.NotFoundOr(err, "participant not found")
		}
	}
	return time.Time{}, apperr.New(apperr.ErrConflict, "token changed concurrently, retry")
}

// Revoke expires a token now and disconnects its participant. Revoking an
// already expired or rejected token succeeds without changes.
func (s *Service) Revoke(ctx context.Context, actor identity.Actor, token, reason string) (models.Participant, error) {
	ctx, cancel := timeouts.WithTimeout(ctx, timeouts.Medium(), s.log, "revoke token")
	defer cancel()

	p, err := s.ownedParticipant(ctx, actor, token)
	if err != nil {
		return models.Participant{}, err
	}
	if reason == "" {
		reason = "revoked"
	}

	updated, err := s.participants.RevokeToken(ctx, p.ID, reason, s.clock.Now())
	switch {
	case err == nil:
		s.record(ctx, auditlog.ParticipantEntry(updated, actor.HostID, models.EventTokenRevoked, map[string]string{"reason": reason}))
	case errors.Is(err, store.ErrConflict):
		// Already expired or rejected.
		if updated, err = s.participants.Get(ctx, p.ID); err != nil {
			return models.Participant{}, apperr.NotFoundOr(err, "participant not found")
		}
	default:
		return models.Participant{}, apperr.NotFoundOr(err, "participant not found")
	}

	s.ReleaseReservation(ctx, updated)
	return updated, nil
}

// ReleaseReservation returns p's no-expiry slot to its tenant if p still
// holds one. Concurrent callers release at most once.
func (s *Service) ReleaseReservation(ctx context.Context, p models.Participant) {
	if !p.NoExpiryReserved {
		return
	}
	flipped, err := s.participants.ClearReservation(ctx, p.ID)
	if err != nil {
		s.log.Error("failed to clear no-expiry reservation",
			zap.String("participant_id", p.ID.Hex()), zap.Error(err))
		return
	}
	if !flipped {
		return
	}
	if err := s.quotas.Release(ctx, p.TenantID, s.clock.Now()); err != nil {
		s.log.Error("failed to release no-expiry slot",
			zap.String("tenant_id", p.TenantID),
			zap.String("participant_id", p.ID.Hex()),
			zap.Error(err))
	}
}

// Outstanding returns the tenant's outstanding no-expiry tokens.
func (s *Service) Outstanding(ctx context.Context, tenantID string) (int, error) {
	return s.quotas.Outstanding(ctx, tenantID)
}

func (s *Service) ownedParticipant(ctx context.Context, actor identity.Actor, token string) (models.Participant, error) {
	if token == "" {
		return models.Participant{}, apperr.New(apperr.ErrInvalidInput, "token is required")
	}
	p, err := s.participants.GetByToken(ctx, token)
	if err != nil {
		return models.Participant{}, apperr.NotFoundOr(err, "participant not found")
	}
	sess, err := s.sessions.Get(ctx, p.SessionID)
	if err != nil {
		return models.Participant{}, apperr.NotFoundOr(err, "session not found")
	}
	if !actor.CanManage(sess) {
		return models.Participant{}, apperr.New(apperr.ErrForbidden, "only the session host may manage this token")
	}
	return p, nil
}

func (s *Service) record(ctx context.Context, e models.ActivityLogEntry) {
	e.CreatedAt = s.clock.Now()
	s.activity.Log(ctx, e)
}
