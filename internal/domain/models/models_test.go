package models

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

func intp(v int) *int { return &v }

func TestIsUnlockedForPosition(t *testing.T) {
	tests := []struct {
		name    string
		step    *int
		phase   *int
		current Position
		want    bool
	}{
		{"ungated", nil, nil, Position{0, 0}, true},
		{"ungated ignores phase", nil, intp(4), Position{0, 0}, true},
		{"same step phase ahead", intp(3), intp(1), Position{3, 0}, false},
		{"same step phase reached", intp(3), intp(1), Position{3, 1}, true},
		{"same step phase passed", intp(3), intp(1), Position{3, 2}, true},
		{"earlier step any phase", intp(2), intp(9), Position{3, 0}, true},
		{"later step", intp(4), nil, Position{3, 5}, false},
		{"same step no phase", intp(3), nil, Position{3, 0}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsUnlockedForPosition(tt.step, tt.phase, tt.current); got != tt.want {
				t.Errorf("IsUnlockedForPosition = %v, want %v", got, tt.want)
			}
			g := Gate{Step: tt.step, Phase: tt.phase}
			if got := g.Unlocked(tt.current); got != tt.want {
				t.Errorf("Gate.Unlocked = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestPositionBefore(t *testing.T) {
	if !(Position{1, 5}).Before(Position{2, 0}) {
		t.Error("1/5 should be before 2/0")
	}
	if (Position{2, 0}).Before(Position{1, 9}) {
		t.Error("2/0 should not be before 1/9")
	}
	if (Position{2, 1}).Before(Position{2, 1}) {
		t.Error("equal positions are not before each other")
	}
}

func TestValidateSessionTransition(t *testing.T) {
	tests := []struct {
		from, to SessionStatus
		ok       bool
	}{
		{SessionActive, SessionPaused, true},
		{SessionPaused, SessionActive, true},
		{SessionPaused, SessionLocked, true},
		{SessionLocked, SessionPaused, true},
		{SessionActive, SessionEnded, true},
		{SessionLocked, SessionCancelled, true},
		{SessionEnded, SessionArchived, true},
		{SessionCancelled, SessionArchived, true},
		{SessionEnded, SessionActive, false},
		{SessionArchived, SessionArchived, false},
		{SessionArchived, SessionActive, false},
		{SessionActive, SessionArchived, false},
		{SessionActive, SessionActive, false},
		{SessionActive, "bogus", false},
	}
	for _, tt := range tests {
		err := ValidateSessionTransition(tt.from, tt.to)
		if (err == nil) != tt.ok {
			t.Errorf("%s -> %s: err = %v, want ok=%v", tt.from, tt.to, err, tt.ok)
		}
	}
}

func TestParticipantTransitions_RejectedIsAbsorbing(t *testing.T) {
	for _, from := range []ParticipantStatus{ParticipantKicked, ParticipantBlocked} {
		for _, to := range []ParticipantStatus{ParticipantActive, ParticipantIdle, ParticipantDisconnected, ParticipantKicked, ParticipantBlocked} {
			if CanTransitionParticipant(from, to) {
				t.Errorf("%s -> %s should be illegal", from, to)
			}
		}
	}
	if !CanTransitionParticipant(ParticipantIdle, ParticipantActive) {
		t.Error("idle -> active should be legal")
	}
	if !CanTransitionParticipant(ParticipantDisconnected, ParticipantActive) {
		t.Error("disconnected -> active should be legal")
	}
}

func TestValidateDecisionTransition(t *testing.T) {
	if err := ValidateDecisionTransition(DecisionOpen, DecisionRevealed); err != nil {
		t.Errorf("open -> revealed: %v", err)
	}
	if err := ValidateDecisionTransition(DecisionClosed, DecisionRevealed); err != nil {
		t.Errorf("closed -> revealed: %v", err)
	}
	if err := ValidateDecisionTransition(DecisionRevealed, DecisionOpen); err == nil {
		t.Error("revealed -> open should fail")
	}
	if err := ValidateDecisionTransition(DecisionRevealed, DecisionClosed); err == nil {
		t.Error("revealed -> closed should fail")
	}
}

func TestDecisionAcceptsVotes(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	later := now.Add(time.Minute)
	d := Decision{Status: DecisionOpen}
	if !d.AcceptsVotes(now) {
		t.Error("open decision without deadline should accept votes")
	}
	d.ClosesAt = &later
	if !d.AcceptsVotes(now) {
		t.Error("open decision before deadline should accept votes")
	}
	if d.AcceptsVotes(later) {
		t.Error("decision at deadline should not accept votes")
	}
	d.Status = DecisionRevealed
	d.ClosesAt = nil
	if d.AcceptsVotes(now) {
		t.Error("revealed decision should not accept votes")
	}
}

func TestExpiryPolicy(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	if NoExpiry().ExpiresAt(now) != nil {
		t.Error("NoExpiry should yield nil expiry")
	}
	got := ExpireAfterHours(24).ExpiresAt(now)
	if got == nil || !got.Equal(now.Add(24*time.Hour)) {
		t.Errorf("ExpireAfterHours(24) = %v", got)
	}
}

func TestProjectRole_AllowList(t *testing.T) {
	now := time.Now()
	def := RoleDefinition{
		ID:                    primitive.NewObjectID(),
		Name:                  "Saboteur",
		Icon:                  "knife",
		Color:                 "#aa0000",
		PublicDescription:     "Looks like everyone else",
		PrivateInstructions:   "Stall the team",
		PrivateHints:          "Vote last",
		HasSecretInstructions: true,
		SecretInstructions:    "Your partner is the Scribe",
		AssignmentStrategy:    "random-weighted",
		ScalingRules:          map[string]int{"per_ten_players": 2},
		ConflictRules:         []string{"not-with-scribe"},
		MinCount:              1,
		MaxCount:              3,
		Metadata:              map[string]any{"internal_balance_note": "nerfed in v3"},
		CreatedAt:             now,
		UpdatedAt:             now,
	}

	hidden := ProjectRole(def, RoleAssignment{})
	raw, _ := json.Marshal(hidden)
	body := string(raw)
	for _, leak := range []string{
		"random-weighted", "per_ten_players", "not-with-scribe",
		"internal_balance_note", "nerfed in v3", "min_count", "max_count",
		"created_at", "updated_at", "metadata", "Your partner is the Scribe",
	} {
		if strings.Contains(body, leak) {
			t.Errorf("projection leaked %q: %s", leak, body)
		}
	}
	if hidden.PrivateInstructions != "Stall the team" {
		t.Errorf("PrivateInstructions = %q", hidden.PrivateInstructions)
	}

	revealedAt := now
	shown := ProjectRole(def, RoleAssignment{RevealedAt: &revealedAt, SecretInstructionsRevealedAt: &revealedAt})
	if shown.SecretInstructions != def.SecretInstructions {
		t.Errorf("SecretInstructions = %q after secret reveal", shown.SecretInstructions)
	}
	if !shown.Revealed || !shown.SecretRevealed {
		t.Error("reveal flags not set")
	}
}

func TestPublicRoleView_FieldSet(t *testing.T) {
	allowed := map[string]bool{
		"name": true, "icon": true, "color": true, "public_description": true,
		"private_instructions": true, "private_hints": true,
		"has_secret_instructions": true, "secret_instructions": true,
		"revealed": true, "secret_revealed": true,
	}
	v := PublicRoleView{Name: "n", Icon: "i", Color: "c", PublicDescription: "d",
		PrivateInstructions: "p", PrivateHints: "h", SecretInstructions: "s"}
	raw, _ := json.Marshal(v)
	var fields map[string]any
	if err := json.Unmarshal(raw, &fields); err != nil {
		t.Fatal(err)
	}
	for k := range fields {
		if !allowed[k] {
			t.Errorf("PublicRoleView exposes unexpected field %q", k)
		}
	}
}
