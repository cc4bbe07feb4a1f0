// Package store declares the persistence contracts the session runtime
// depends on. The MongoDB implementations live in the sub-packages named
// after their collections; package memory provides an in-process
// implementation of every interface.
//
// Every mutating method is a conditional update: it names the state the row
// must be in and returns ErrConflict when nothing matched, leaving the caller
// to re-read and decide.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/dalemusser/liveplay/internal/domain/models"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

var (
	// ErrNotFound means no row matched the lookup.
	ErrNotFound = errors.New("store: not found")
	// ErrDuplicate means a unique constraint rejected the write.
	ErrDuplicate = errors.New("store: duplicate key")
	// ErrConflict means a conditional update matched no row.
	ErrConflict = errors.New("store: conditional update did not match")
	// ErrLimitReached means a bounded counter is already at its limit.
	ErrLimitReached = errors.New("store: limit reached")
)

// Sessions persists live sessions.
type Sessions interface {
	Insert(ctx context.Context, s *models.Session) error
	Get(ctx context.Context, id primitive.ObjectID) (models.Session, error)
	GetByCode(ctx context.Context, code string) (models.Session, error)
	ListByHost(ctx context.Context, tenantID, hostID string, limit int) ([]models.Session, error)

	// AdvanceCursor moves the cursor to pos only while the session is active
	// and its cursor is at or before pos.
	AdvanceCursor(ctx context.Context, id primitive.ObjectID, pos models.Position, now time.Time) (models.Session, error)
	// UpdateStatus moves the session from -> to and stamps the matching
	// lifecycle timestamp.
	UpdateStatus(ctx context.Context, id primitive.ObjectID, from, to models.SessionStatus, now time.Time) (models.Session, error)

	// ReserveSeat increments participant_count while it is below max.
	ReserveSeat(ctx context.Context, id primitive.ObjectID, max int) error
	// ReleaseSeat decrements participant_count, never below zero.
	ReleaseSeat(ctx context.Context, id primitive.ObjectID) error

	// EndExpired ends up to limit running sessions whose expires_at is at or
	// before now and returns the sessions it changed.
	EndExpired(ctx context.Context, now time.Time, limit int) ([]models.Session, error)
	// ArchiveEnded archives up to limit ended or cancelled sessions whose
	// ended_at is before cutoff and returns the sessions it changed.
	ArchiveEnded(ctx context.Context, cutoff, now time.Time, limit int) ([]models.Session, error)

	Delete(ctx context.Context, id primitive.ObjectID) error
}

// Participants persists participants and their tokens.
type Participants interface {
	Insert(ctx context.Context, p *models.Participant) error
	Get(ctx context.Context, id primitive.ObjectID) (models.Participant, error)
	GetByToken(ctx context.Context, token string) (models.Participant, error)
	ListBySession(ctx context.Context, sessionID primitive.ObjectID) ([]models.Participant, error)

	// UpdateStatus moves the participant to `to` if its status is one of from.
	// Moving to disconnected, kicked or blocked stamps disconnected_at;
	// moving to active clears it.
	UpdateStatus(ctx context.Context, id primitive.ObjectID, from []models.ParticipantStatus, to models.ParticipantStatus, reason string, now time.Time) (models.Participant, error)
	// Touch records a heartbeat for an active or idle participant.
	Touch(ctx context.Context, id primitive.ObjectID, status models.ParticipantStatus, seenAt, activityAt time.Time) (models.Participant, error)
	// SetRole changes the permission tier of a participant that is not kicked or blocked.
	SetRole(ctx context.Context, id primitive.ObjectID, role models.ParticipantRole) (models.Participant, error)
	// Approve clears pending_approval.
	Approve(ctx context.Context, id primitive.ObjectID) (models.Participant, error)

	// ExtendToken sets the expiry to next if it still equals prev and the
	// participant is not kicked or blocked.
	ExtendToken(ctx context.Context, id primitive.ObjectID, prev time.Time, next time.Time) (models.Participant, error)
	// RevokeToken sets the status to disconnected and the expiry to the
	// earlier of its current value and now. It returns ErrConflict for a
	// kicked or blocked participant and for one already disconnected with an
	// expired token.
	RevokeToken(ctx context.Context, id primitive.ObjectID, reason string, now time.Time) (models.Participant, error)
	// ClearReservation flips no_expiry_reserved from true to false and
	// reports whether this call did the flip.
	ClearReservation(ctx context.Context, id primitive.ObjectID) (bool, error)

	// ExpireTokens disconnects up to limit active or idle participants whose
	// token expired at or before now and returns those it changed.
	ExpireTokens(ctx context.Context, now time.Time, limit int) ([]models.Participant, error)
	// DisconnectIdle disconnects up to limit active or idle participants last
	// seen before cutoff and returns those it changed.
	DisconnectIdle(ctx context.Context, cutoff, now time.Time, limit int) ([]models.Participant, error)

	DeleteBySession(ctx context.Context, sessionID primitive.ObjectID) (int64, error)
}

// Decisions persists decisions and votes.
type Decisions interface {
	Insert(ctx context.Context, d *models.Decision) error
	Get(ctx context.Context, id primitive.ObjectID) (models.Decision, error)
	ListBySession(ctx context.Context, sessionID primitive.ObjectID) ([]models.Decision, error)
	// UpdateStatus moves the decision to `to` if its status is one of from,
	// stamping closed_at or revealed_at.
	UpdateStatus(ctx context.Context, id primitive.ObjectID, from []models.DecisionStatus, to models.DecisionStatus, now time.Time) (models.Decision, error)
	// CloseElapsed closes up to limit open decisions whose closes_at is at or
	// before now and returns those it changed.
	CloseElapsed(ctx context.Context, now time.Time, limit int) ([]models.Decision, error)

	// UpsertVote writes the vote keyed by (decision, participant), replacing
	// any earlier choice.
	UpsertVote(ctx context.Context, v *models.Vote) error
	GetVote(ctx context.Context, decisionID, participantID primitive.ObjectID) (models.Vote, error)
	// Tally counts votes per option. When until is set only votes cast at or
	// before it count.
	Tally(ctx context.Context, decisionID primitive.ObjectID, until *time.Time) (map[string]int, error)

	// DeleteBySession removes the session's decisions and votes.
	DeleteBySession(ctx context.Context, sessionID primitive.ObjectID) (int64, error)
}

// Roles persists role definitions and assignments.
type Roles interface {
	InsertDefinition(ctx context.Context, d *models.RoleDefinition) error
	GetDefinition(ctx context.Context, id primitive.ObjectID) (models.RoleDefinition, error)
	ListDefinitions(ctx context.Context, sessionID primitive.ObjectID) ([]models.RoleDefinition, error)

	// InsertAssignment returns ErrDuplicate when the participant already
	// holds an assignment in the session.
	InsertAssignment(ctx context.Context, a *models.RoleAssignment) error
	GetAssignment(ctx context.Context, sessionID, participantID primitive.ObjectID) (models.RoleAssignment, error)
	ListAssignments(ctx context.Context, sessionID primitive.ObjectID) ([]models.RoleAssignment, error)

	// ReserveSlot increments the definition's assigned_count while it is
	// below max, returning ErrLimitReached otherwise. A max of zero or less
	// only counts.
	ReserveSlot(ctx context.Context, roleDefinitionID primitive.ObjectID, max int) error
	// ReleaseSlot decrements assigned_count, never below zero.
	ReleaseSlot(ctx context.Context, roleDefinitionID primitive.ObjectID) error

	// MarkRevealed and MarkSecretRevealed set their timestamp only when it is
	// unset, returning ErrConflict otherwise.
	MarkRevealed(ctx context.Context, id primitive.ObjectID, now time.Time) (models.RoleAssignment, error)
	MarkSecretRevealed(ctx context.Context, id primitive.ObjectID, now time.Time) (models.RoleAssignment, error)

	// DeleteBySession removes the session's definitions and assignments.
	DeleteBySession(ctx context.Context, sessionID primitive.ObjectID) (int64, error)
}

// Activity is the append-only audit trail. It has no delete method.
type Activity interface {
	Insert(ctx context.Context, e models.ActivityLogEntry) error
	InsertMany(ctx context.Context, entries []models.ActivityLogEntry) error
	ListBySession(ctx context.Context, sessionID primitive.ObjectID, limit int) ([]models.ActivityLogEntry, error)
}

// Quotas tracks per-tenant outstanding no-expiry tokens.
type Quotas interface {
	// Reserve takes one slot, returning ErrLimitReached when the tenant
	// already holds limit slots.
	Reserve(ctx context.Context, tenantID string, limit int, now time.Time) error
	// Release gives one slot back, never going below zero.
	Release(ctx context.Context, tenantID string, now time.Time) error
	Outstanding(ctx context.Context, tenantID string) (int, error)
}

// Set bundles the repositories a process works against.
type Set struct {
	Sessions     Sessions
	Participants Participants
	Decisions    Decisions
	Roles        Roles
	Activity     Activity
	Quotas       Quotas
}
