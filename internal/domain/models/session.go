// internal/domain/models/session.go
package models

import (
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// SessionStatus is the lifecycle state of a live session.
type SessionStatus string

const (
	SessionActive    SessionStatus = "active"
	SessionPaused    SessionStatus = "paused"
	SessionLocked    SessionStatus = "locked"
	SessionEnded     SessionStatus = "ended"
	SessionCancelled SessionStatus = "cancelled"
	SessionArchived  SessionStatus = "archived"
)

// sessionTransitions is the single legal-transition table for sessions.
// archived has no outgoing edges; its only exit is permanent delete.
var sessionTransitions = map[SessionStatus][]SessionStatus{
	SessionActive:    {SessionPaused, SessionLocked, SessionEnded, SessionCancelled},
	SessionPaused:    {SessionActive, SessionLocked, SessionEnded, SessionCancelled},
	SessionLocked:    {SessionActive, SessionPaused, SessionEnded, SessionCancelled},
	SessionEnded:     {SessionArchived},
	SessionCancelled: {SessionArchived},
}

// Valid reports whether s is a known session status.
func (s SessionStatus) Valid() bool {
	switch s {
	case SessionActive, SessionPaused, SessionLocked, SessionEnded, SessionCancelled, SessionArchived:
		return true
	}
	return false
}

// Finished reports whether the session no longer runs (ended, cancelled or archived).
// The position cursor is frozen in all of these states.
func (s SessionStatus) Finished() bool {
	return s == SessionEnded || s == SessionCancelled || s == SessionArchived
}

// Joinable reports whether new participants may join in this state.
func (s SessionStatus) Joinable() bool {
	return s == SessionActive || s == SessionPaused
}

// CanTransitionSession reports whether from -> to is a legal session transition.
func CanTransitionSession(from, to SessionStatus) bool {
	for _, next := range sessionTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// ValidateSessionTransition returns a descriptive error when from -> to is illegal.
func ValidateSessionTransition(from, to SessionStatus) error {
	if !to.Valid() {
		return fmt.Errorf("unknown session status %q", to)
	}
	if from == to {
		return fmt.Errorf("session already %s", to)
	}
	if from.Finished() && to != SessionArchived {
		return fmt.Errorf("session already %s", from)
	}
	if !CanTransitionSession(from, to) {
		return fmt.Errorf("cannot move session from %s to %s", from, to)
	}
	return nil
}

// SessionSettings is the recognised set of per-session settings.
// TokenExpiryHours nil means participant tokens never expire (quota-limited per tenant).
type SessionSettings struct {
	MaxParticipants  int  `bson:"max_participants" json:"max_participants" validate:"min=1,max=1000" label:"Max participants"`
	AllowRejoin      bool `bson:"allow_rejoin" json:"allow_rejoin"`
	RequireApproval  bool `bson:"require_approval" json:"require_approval"`
	TokenExpiryHours *int `bson:"token_expiry_hours" json:"token_expiry_hours" validate:"omitempty,min=1,max=168" label:"Token expiry hours"`
}

// Defaults for session settings.
const (
	DefaultMaxParticipants  = 100
	DefaultTokenExpiryHours = 24
)

// DefaultSessionSettings returns the settings used when the host supplies none.
func DefaultSessionSettings() SessionSettings {
	hours := DefaultTokenExpiryHours
	return SessionSettings{
		MaxParticipants:  DefaultMaxParticipants,
		AllowRejoin:      true,
		TokenExpiryHours: &hours,
	}
}

// ExpiryPolicy returns the token expiry policy these settings imply.
func (s SessionSettings) ExpiryPolicy() ExpiryPolicy {
	if s.TokenExpiryHours == nil {
		return NoExpiry()
	}
	return ExpireAfterHours(*s.TokenExpiryHours)
}

// Session is a host-created, code-joinable live activity instance.
type Session struct {
	ID       primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	Code     string             `bson:"code" json:"code"`
	TenantID string             `bson:"tenant_id" json:"tenant_id"`
	HostID   string             `bson:"host_id" json:"host_id"`
	Title    string             `bson:"title,omitempty" json:"title,omitempty"`

	Status            SessionStatus `bson:"status" json:"status"`
	CurrentStepIndex  int           `bson:"current_step_index" json:"current_step_index"`
	CurrentPhaseIndex int           `bson:"current_phase_index" json:"current_phase_index"`

	Settings         SessionSettings `bson:"settings" json:"settings"`
	ParticipantCount int             `bson:"participant_count" json:"participant_count"`

	// ExpiresAt nil means the session never expires on its own.
	ExpiresAt *time.Time `bson:"expires_at,omitempty" json:"expires_at,omitempty"`

	CreatedAt  time.Time  `bson:"created_at" json:"created_at"`
	StartedAt  time.Time  `bson:"started_at" json:"started_at"`
	PausedAt   *time.Time `bson:"paused_at,omitempty" json:"paused_at,omitempty"`
	EndedAt    *time.Time `bson:"ended_at,omitempty" json:"ended_at,omitempty"`
	ArchivedAt *time.Time `bson:"archived_at,omitempty" json:"archived_at,omitempty"`
	UpdatedAt  time.Time  `bson:"updated_at" json:"updated_at"`
}

// Position returns the session's current cursor.
func (s Session) Position() Position {
	return Position{Step: s.CurrentStepIndex, Phase: s.CurrentPhaseIndex}
}

// OwnedBy reports whether hostID/tenantID own this session.
func (s Session) OwnedBy(hostID, tenantID string) bool {
	return s.HostID == hostID && s.TenantID == tenantID
}
