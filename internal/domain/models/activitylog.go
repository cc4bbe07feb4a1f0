// internal/domain/models/activitylog.go
package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Activity event types.
const (
	EventSessionCreated            = "session_created"
	EventSessionStatusChanged      = "session_status_changed"
	EventSessionAdvanced           = "session_advanced"
	EventSessionArchived           = "session_archived"
	EventSessionExpired            = "session_expired"
	EventSessionPurged             = "session_purged"
	EventParticipantJoined         = "participant_joined"
	EventParticipantRejoined       = "participant_rejoined"
	EventParticipantApproved       = "participant_approved"
	EventParticipantRoleChanged    = "participant_role_changed"
	EventParticipantKicked         = "participant_kicked"
	EventParticipantBlocked        = "participant_blocked"
	EventParticipantIdleDisconnect = "participant_idle_disconnected"
	EventTokenIssued               = "token_issued"
	EventTokenExtended             = "token_extended"
	EventTokenRevoked              = "token_revoked"
	EventTokenExpired              = "token_expired"
	EventDecisionOpened            = "decision_opened"
	EventDecisionClosed            = "decision_closed"
	EventDecisionRevealed          = "decision_revealed"
	EventRoleDefined               = "role_defined"
	EventRoleAssigned              = "role_assigned"
	EventRoleRevealed              = "role_revealed"
	EventRoleSecretRevealed        = "role_secret_revealed"
)

// ActivityLogEntry is an append-only audit record. Entries outlive the
// sessions and participants they mention.
type ActivityLogEntry struct {
	ID            primitive.ObjectID  `bson:"_id,omitempty" json:"id"`
	SessionID     primitive.ObjectID  `bson:"session_id" json:"session_id"`
	TenantID      string              `bson:"tenant_id,omitempty" json:"tenant_id,omitempty"`
	ParticipantID *primitive.ObjectID `bson:"participant_id,omitempty" json:"participant_id,omitempty"`
	ActorID       string              `bson:"actor_id,omitempty" json:"actor_id,omitempty"`
	EventType     string              `bson:"event_type" json:"event_type"`
	EventData     map[string]string   `bson:"event_data,omitempty" json:"event_data,omitempty"`
	CreatedAt     time.Time           `bson:"created_at" json:"created_at"`
}

// TenantQuota tracks outstanding no-expiry tokens for one tenant.
type TenantQuota struct {
	TenantID            string    `bson:"_id" json:"tenant_id"`
	NoExpiryOutstanding int       `bson:"no_expiry_outstanding" json:"no_expiry_outstanding"`
	UpdatedAt           time.Time `bson:"updated_at" json:"updated_at"`
}
