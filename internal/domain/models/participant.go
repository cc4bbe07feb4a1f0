// internal/domain/models/participant.go
package models

import (
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// ParticipantStatus is the presence/moderation state of a participant.
type ParticipantStatus string

const (
	ParticipantActive       ParticipantStatus = "active"
	ParticipantIdle         ParticipantStatus = "idle"
	ParticipantDisconnected ParticipantStatus = "disconnected"
	ParticipantKicked       ParticipantStatus = "kicked"
	ParticipantBlocked      ParticipantStatus = "blocked"
)

// kicked and blocked are absorbing: nothing leaves them.
var participantTransitions = map[ParticipantStatus][]ParticipantStatus{
	ParticipantActive:       {ParticipantIdle, ParticipantDisconnected, ParticipantKicked, ParticipantBlocked},
	ParticipantIdle:         {ParticipantActive, ParticipantDisconnected, ParticipantKicked, ParticipantBlocked},
	ParticipantDisconnected: {ParticipantActive, ParticipantKicked, ParticipantBlocked},
}

// Valid reports whether s is a known participant status.
func (s ParticipantStatus) Valid() bool {
	switch s {
	case ParticipantActive, ParticipantIdle, ParticipantDisconnected, ParticipantKicked, ParticipantBlocked:
		return true
	}
	return false
}

// Rejected reports whether the participant's token is permanently refused.
func (s ParticipantStatus) Rejected() bool {
	return s == ParticipantKicked || s == ParticipantBlocked
}

// Present reports whether the participant currently counts as connected.
func (s ParticipantStatus) Present() bool {
	return s == ParticipantActive || s == ParticipantIdle
}

// CanTransitionParticipant reports whether from -> to is legal.
// Staying in the same non-terminal state is always allowed.
func CanTransitionParticipant(from, to ParticipantStatus) bool {
	if from == to && !from.Rejected() {
		return true
	}
	for _, next := range participantTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// ValidateParticipantTransition returns a descriptive error for illegal moves.
func ValidateParticipantTransition(from, to ParticipantStatus) error {
	if !to.Valid() {
		return fmt.Errorf("unknown participant status %q", to)
	}
	if !CanTransitionParticipant(from, to) {
		return fmt.Errorf("cannot move participant from %s to %s", from, to)
	}
	return nil
}

// ParticipantRole is the session-scoped permission tier. It is unrelated to
// secret role assignments.
type ParticipantRole string

const (
	RoleObserver    ParticipantRole = "observer"
	RolePlayer      ParticipantRole = "player"
	RoleTeamLead    ParticipantRole = "team_lead"
	RoleFacilitator ParticipantRole = "facilitator"
)

// Valid reports whether r is a known participant role.
func (r ParticipantRole) Valid() bool {
	switch r {
	case RoleObserver, RolePlayer, RoleTeamLead, RoleFacilitator:
		return true
	}
	return false
}

// Participant is an anonymous member of exactly one session.
type Participant struct {
	ID          primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	SessionID   primitive.ObjectID `bson:"session_id" json:"session_id"`
	TenantID    string             `bson:"tenant_id" json:"-"`
	DisplayName string             `bson:"display_name" json:"display_name"`

	// Token is an opaque capability reference. It never leaves the API
	// except in the join/rejoin response to its owner.
	Token          string     `bson:"token" json:"-"`
	TokenExpiresAt *time.Time `bson:"token_expires_at" json:"token_expires_at"`

	Status          ParticipantStatus `bson:"status" json:"status"`
	StatusReason    string            `bson:"status_reason,omitempty" json:"status_reason,omitempty"`
	Role            ParticipantRole   `bson:"role" json:"role"`
	PendingApproval bool              `bson:"pending_approval" json:"pending_approval"`

	// NoExpiryReserved is true while this participant holds one of the
	// tenant's no-expiry token slots.
	NoExpiryReserved bool `bson:"no_expiry_reserved" json:"-"`

	JoinedAt       time.Time  `bson:"joined_at" json:"joined_at"`
	LastSeenAt     time.Time  `bson:"last_seen_at" json:"last_seen_at"`
	LastActivityAt time.Time  `bson:"last_activity_at" json:"-"`
	DisconnectedAt *time.Time `bson:"disconnected_at,omitempty" json:"disconnected_at,omitempty"`
}

// TokenExpired reports whether the token's expiry is at or before now.
func (p Participant) TokenExpired(now time.Time) bool {
	return p.TokenExpiresAt != nil && !p.TokenExpiresAt.After(now)
}

// ExpiryPolicy decides a token's expiry at issue time.
type ExpiryPolicy struct {
	// Hours is ignored when Never is true.
	Hours int
	Never bool
}

// NoExpiry returns the quota-limited "never expires" policy.
func NoExpiry() ExpiryPolicy { return ExpiryPolicy{Never: true} }

// ExpireAfterHours returns a policy expiring h hours after issue.
func ExpireAfterHours(h int) ExpiryPolicy { return ExpiryPolicy{Hours: h} }

// ExpiresAt returns the expiry instant for a token issued at now, or nil.
func (p ExpiryPolicy) ExpiresAt(now time.Time) *time.Time {
	if p.Never {
		return nil
	}
	t := now.Add(time.Duration(p.Hours) * time.Hour)
	return &t
}

// Token extension bounds, in hours.
const (
	MinExtendHours = 1
	MaxExtendHours = 168
)
