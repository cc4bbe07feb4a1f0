// internal/domain/models/role.go
package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// RoleDefinition is a session-specific secret role. It mixes fields meant for
// the participant holding the role with design metadata that must stay with
// the host; see PublicRoleView for the participant-safe subset.
type RoleDefinition struct {
	ID        primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	SessionID primitive.ObjectID `bson:"session_id" json:"session_id"`

	Name                  string `bson:"name" json:"name"`
	Icon                  string `bson:"icon,omitempty" json:"icon,omitempty"`
	Color                 string `bson:"color,omitempty" json:"color,omitempty"`
	PublicDescription     string `bson:"public_description,omitempty" json:"public_description,omitempty"`
	PrivateInstructions   string `bson:"private_instructions,omitempty" json:"private_instructions,omitempty"`
	PrivateHints          string `bson:"private_hints,omitempty" json:"private_hints,omitempty"`
	HasSecretInstructions bool   `bson:"has_secret_instructions" json:"has_secret_instructions"`
	SecretInstructions    string `bson:"secret_instructions,omitempty" json:"secret_instructions,omitempty"`

	// Design metadata (host only).
	AssignmentStrategy string         `bson:"assignment_strategy,omitempty" json:"assignment_strategy,omitempty"`
	ScalingRules       map[string]int `bson:"scaling_rules,omitempty" json:"scaling_rules,omitempty"`
	ConflictRules      []string       `bson:"conflict_rules,omitempty" json:"conflict_rules,omitempty"`
	MinCount           int            `bson:"min_count" json:"min_count"`
	MaxCount           int            `bson:"max_count" json:"max_count"`
	AssignedCount      int            `bson:"assigned_count" json:"assigned_count"`
	Metadata           map[string]any `bson:"metadata,omitempty" json:"metadata,omitempty"`

	CreatedAt time.Time `bson:"created_at" json:"created_at"`
	UpdatedAt time.Time `bson:"updated_at" json:"updated_at"`
}

// RoleAssignment binds one participant to one role definition.
// RevealedAt and SecretInstructionsRevealedAt are set at most once.
type RoleAssignment struct {
	ID               primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	SessionID        primitive.ObjectID `bson:"session_id" json:"session_id"`
	ParticipantID    primitive.ObjectID `bson:"participant_id" json:"participant_id"`
	RoleDefinitionID primitive.ObjectID `bson:"role_definition_id" json:"role_definition_id"`

	AssignedAt                   time.Time  `bson:"assigned_at" json:"assigned_at"`
	RevealedAt                   *time.Time `bson:"revealed_at,omitempty" json:"revealed_at,omitempty"`
	SecretInstructionsRevealedAt *time.Time `bson:"secret_instructions_revealed_at,omitempty" json:"secret_instructions_revealed_at,omitempty"`
}

// PublicRoleView is the only role shape ever sent to a participant.
type PublicRoleView struct {
	Name                  string `json:"name"`
	Icon                  string `json:"icon,omitempty"`
	Color                 string `json:"color,omitempty"`
	PublicDescription     string `json:"public_description,omitempty"`
	PrivateInstructions   string `json:"private_instructions,omitempty"`
	PrivateHints          string `json:"private_hints,omitempty"`
	HasSecretInstructions bool   `json:"has_secret_instructions"`
	SecretInstructions    string `json:"secret_instructions,omitempty"`
	Revealed              bool   `json:"revealed"`
	SecretRevealed        bool   `json:"secret_revealed"`
}

// ProjectRole copies the allow-listed display fields of def into a
// PublicRoleView. Fields are named one by one so columns added to
// RoleDefinition later stay private unless added here. Secret instructions
// are only included after the secret reveal.
func ProjectRole(def RoleDefinition, a RoleAssignment) PublicRoleView {
	v := PublicRoleView{
		Name:                  def.Name,
		Icon:                  def.Icon,
		Color:                 def.Color,
		PublicDescription:     def.PublicDescription,
		PrivateInstructions:   def.PrivateInstructions,
		PrivateHints:          def.PrivateHints,
		HasSecretInstructions: def.HasSecretInstructions,
		Revealed:              a.RevealedAt != nil,
		SecretRevealed:        a.SecretInstructionsRevealedAt != nil,
	}
	if v.SecretRevealed && def.HasSecretInstructions {
		v.SecretInstructions = def.SecretInstructions
	}
	return v
}
