// Package roles assigns secret roles to participants and controls when each
// participant may see theirs.
//
// A participant only ever receives models.PublicRoleView. Design metadata on
// the definition (strategy, scaling and conflict rules, counts, free-form
// metadata) stays with the host.
package roles

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"strconv"

	"github.com/dalemusser/liveplay/internal/app/services/tokens"
	"github.com/dalemusser/liveplay/internal/app/store"
	"github.com/dalemusser/liveplay/internal/app/system/apperr"
	"github.com/dalemusser/liveplay/internal/app/system/auditlog"
	"github.com/dalemusser/liveplay/internal/app/system/broadcast"
	"github.com/dalemusser/liveplay/internal/app/system/clock"
	"github.com/dalemusser/liveplay/internal/app/system/htmlsanitize"
	"github.com/dalemusser/liveplay/internal/app/system/identity"
	"github.com/dalemusser/liveplay/internal/app/system/inputval"
	"github.com/dalemusser/liveplay/internal/app/system/timeouts"
	"github.com/dalemusser/liveplay/internal/domain/models"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"
)

// Service manages role definitions and assignments.
type Service struct {
	sessions     store.Sessions
	participants store.Participants
	roles        store.Roles
	tokens       *tokens.Service
	activity     *auditlog.Logger
	pub          broadcast.Publisher
	clock        clock.Clock
	log          *zap.Logger
}

// New creates a roles Service.
func New(set store.Set, tok *tokens.Service, activity *auditlog.Logger, pub broadcast.Publisher, clk clock.Clock, logger *zap.Logger) *Service {
	if pub == nil {
		pub = broadcast.Nop{}
	}
	return &Service{
		sessions:     set.Sessions,
		participants: set.Participants,
		roles:        set.Roles,
		tokens:       tok,
		activity:     activity,
		pub:          pub,
		clock:        clk,
		log:          logger,
	}
}

// DefinitionInput describes a role the host defines for a session.
type DefinitionInput struct {
	Name                string         `json:"name" validate:"required,max=80" label:"Name"`
	Icon                string         `json:"icon" validate:"max=64" label:"Icon"`
	Color               string         `json:"color" validate:"omitempty,hexcolor" label:"Color"`
	PublicDescription   string         `json:"public_description" validate:"max=2000" label:"Public description"`
	PrivateInstructions string         `json:"private_instructions" validate:"max=5000" label:"Private instructions"`
	PrivateHints        string         `json:"private_hints" validate:"max=5000" label:"Private hints"`
	SecretInstructions  string         `json:"secret_instructions" validate:"max=5000" label:"Secret instructions"`
	AssignmentStrategy  string         `json:"assignment_strategy" validate:"max=64" label:"Assignment strategy"`
	ScalingRules        map[string]int `json:"scaling_rules"`
	ConflictRules       []string       `json:"conflict_rules" validate:"max=50" label:"Conflict rules"`
	MinCount            int            `json:"min_count" validate:"min=0" label:"Min count"`
	MaxCount            int            `json:"max_count" validate:"min=0" label:"Max count"`
	Metadata            map[string]any `json:"metadata"`
}

// AssignResult reports an assignment and whether it already existed.
type AssignResult struct {
	Assignment      models.RoleAssignment `json:"assignment"`
	AlreadyAssigned bool                  `json:"already_assigned"`
}

// Define adds a role definition to the session. Text meant for
// participants is sanitised as user-generated HTML.
func (s *Service) Define(ctx context.Context, actor identity.Actor, sessionID primitive.ObjectID, in DefinitionInput) (models.RoleDefinition, error) {
	if res := inputval.Validate(in); res.HasErrors() {
		return models.RoleDefinition{}, apperr.New(apperr.ErrInvalidInput, res.All())
	}
	if in.MaxCount > 0 && in.MinCount > in.MaxCount {
		return models.RoleDefinition{}, apperr.New(apperr.ErrInvalidInput, "Min count must not exceed max count.")
	}

	ctx, cancel := timeouts.WithTimeout(ctx, timeouts.Short(), s.log, "define role")
	defer cancel()

	sess, err := s.managedSession(ctx, actor, sessionID)
	if err != nil {
		return models.RoleDefinition{}, err
	}

	now := s.clock.Now()
	def := models.RoleDefinition{
		SessionID:             sess.ID,
		Name:                  htmlsanitize.PlainText(in.Name),
		Icon:                  htmlsanitize.PlainText(in.Icon),
		Color:                 in.Color,
		PublicDescription:     htmlsanitize.Sanitize(in.PublicDescription),
		PrivateInstructions:   htmlsanitize.Sanitize(in.PrivateInstructions),
		PrivateHints:          htmlsanitize.Sanitize(in.PrivateHints),
		SecretInstructions:    htmlsanitize.Sanitize(in.SecretInstructions),
		HasSecretInstructions: in.SecretInstructions != "",
		AssignmentStrategy:    in.AssignmentStrategy,
		ScalingRules:          in.ScalingRules,
		ConflictRules:         in.ConflictRules,
		MinCount:              in.MinCount,
		MaxCount:              in.MaxCount,
		Metadata:              in.Metadata,
		CreatedAt:             now,
		UpdatedAt:             now,
	}
	if err := s.roles.InsertDefinition(ctx, &def); err != nil {
		return models.RoleDefinition{}, fmt.Errorf("insert role definition: %w", err)
	}
	s.record(ctx, auditlog.Entry(sess, actor.HostID, models.EventRoleDefined, map[string]string{
		"role_definition_id": def.ID.Hex(),
		"name":               def.Name,
	}))
	return def, nil
}

// Definitions lists a session's role definitions for its host.
func (s *Service) Definitions(ctx context.Context, actor identity.Actor, sessionID primitive.ObjectID) ([]models.RoleDefinition, error) {
	ctx, cancel := timeouts.WithTimeout(ctx, timeouts.Medium(), s.log, "list role definitions")
	defer cancel()

	if _, err := s.managedSession(ctx, actor, sessionID); err != nil {
		return nil, err
	}
	return s.roles.ListDefinitions(ctx, sessionID)
}

// Assign gives a participant a role. A participant holds at most one role
// per session; assigning again returns the existing assignment.
func (s *Service) Assign(ctx context.Context, actor identity.Actor, sessionID, participantID, roleDefinitionID primitive.ObjectID) (AssignResult, error) {
	ctx, cancel := timeouts.WithTimeout(ctx, timeouts.Short(), s.log, "assign role")
	defer cancel()

	sess, err := s.managedSession(ctx, actor, sessionID)
	if err != nil {
		return AssignResult{}, err
	}
	def, err := s.roles.GetDefinition(ctx, roleDefinitionID)
	if err != nil || def.SessionID != sess.ID {
		return AssignResult{}, apperr.New(apperr.ErrNotFound, "role not found")
	}
	p, err := s.participants.Get(ctx, participantID)
	if err != nil || p.SessionID != sess.ID {
		return AssignResult{}, apperr.New(apperr.ErrNotFound, "participant not found")
	}
	if p.Status.Rejected() {
		return AssignResult{}, apperr.New(apperr.ErrRejected, "participant was removed from the session")
	}

	if existing, err := s.roles.GetAssignment(ctx, sess.ID, p.ID); err == nil {
		return AssignResult{Assignment: existing, AlreadyAssigned: true}, nil
	} else if !errors.Is(err, store.ErrNotFound) {
		return AssignResult{}, fmt.Errorf("get assignment: %w", err)
	}

	a, err := s.insertAssignment(ctx, sess, p.ID, def, actor.HostID)
	if errors.Is(err, store.ErrDuplicate) {
		existing, gerr := s.roles.GetAssignment(ctx, sess.ID, p.ID)
		if gerr != nil {
			return AssignResult{}, fmt.Errorf("get assignment: %w", gerr)
		}
		return AssignResult{Assignment: existing, AlreadyAssigned: true}, nil
	}
	if err != nil {
		return AssignResult{}, err
	}
	s.publishAssigned(ctx, sess.ID, 1)
	return AssignResult{Assignment: a}, nil
}

// AutoAssign gives every unassigned participant who is still in the session
// a random role. Each role is first filled to its MinCount, then remaining
// participants are dealt round-robin into roles with room left. Participants
// left over once every role is full stay unassigned.
func (s *Service) AutoAssign(ctx context.Context, actor identity.Actor, sessionID primitive.ObjectID) ([]models.RoleAssignment, error) {
	ctx, cancel := timeouts.WithTimeout(ctx, timeouts.Long(), s.log, "auto-assign roles")
	defer cancel()

	sess, err := s.managedSession(ctx, actor, sessionID)
	if err != nil {
		return nil, err
	}
	defs, err := s.roles.ListDefinitions(ctx, sess.ID)
	if err != nil {
		return nil, fmt.Errorf("list role definitions: %w", err)
	}
	if len(defs) == 0 {
		return nil, apperr.New(apperr.ErrInvalidTransition, "no roles defined for this session")
	}
	participants, err := s.participants.ListBySession(ctx, sess.ID)
	if err != nil {
		return nil, fmt.Errorf("list participants: %w", err)
	}
	existing, err := s.roles.ListAssignments(ctx, sess.ID)
	if err != nil {
		return nil, fmt.Errorf("list assignments: %w", err)
	}

	held := make(map[primitive.ObjectID]int, len(defs))
	assigned := make(map[primitive.ObjectID]bool, len(existing))
	for _, a := range existing {
		held[a.RoleDefinitionID]++
		assigned[a.ParticipantID] = true
	}

	var pool []primitive.ObjectID
	for _, p := range participants {
		if p.Status.Rejected() || p.PendingApproval || assigned[p.ID] {
			continue
		}
		pool = append(pool, p.ID)
	}
	rand.Shuffle(len(pool), func(i, j int) { pool[i], pool[j] = pool[j], pool[i] })

	byID := make(map[primitive.ObjectID]models.RoleDefinition, len(defs))
	for _, d := range defs {
		byID[d.ID] = d
	}
	room := func(d models.RoleDefinition) bool {
		return d.MaxCount <= 0 || held[d.ID] < d.MaxCount
	}
	plan := make([]primitive.ObjectID, 0, len(pool))
	for _, d := range defs {
		for held[d.ID] < d.MinCount && room(d) && len(plan) < len(pool) {
			plan = append(plan, d.ID)
			held[d.ID]++
		}
	}
	for len(plan) < len(pool) {
		progressed := false
		for _, d := range defs {
			if len(plan) == len(pool) {
				break
			}
			if room(d) {
				plan = append(plan, d.ID)
				held[d.ID]++
				progressed = true
			}
		}
		if !progressed {
			break
		}
	}

	out := make([]models.RoleAssignment, 0, len(plan))
	for i, defID := range plan {
		a, err := s.insertAssignment(ctx, sess, pool[i], byID[defID], actor.HostID)
		if errors.Is(err, store.ErrDuplicate) || errors.Is(err, apperr.ErrConflict) {
			continue
		}
		if err != nil {
			return out, err
		}
		out = append(out, a)
	}
	if unassigned := len(pool) - len(out); unassigned > 0 {
		s.log.Info("auto-assign left participants without a role",
			zap.String("session_id", sess.ID.Hex()),
			zap.Int("unassigned", unassigned))
	}
	if len(out) > 0 {
		s.publishAssigned(ctx, sess.ID, len(out))
	}
	return out, nil
}

// Assignments lists a session's assignments for its host.
func (s *Service) Assignments(ctx context.Context, actor identity.Actor, sessionID primitive.ObjectID) ([]models.RoleAssignment, error) {
	ctx, cancel := timeouts.WithTimeout(ctx, timeouts.Medium(), s.log, "list role assignments")
	defer cancel()

	if _, err := s.managedSession(ctx, actor, sessionID); err != nil {
		return nil, err
	}
	return s.roles.ListAssignments(ctx, sessionID)
}

// MarkRevealed records that the participant has seen their role. Calling it
// again returns the first reveal unchanged.
func (s *Service) MarkRevealed(ctx context.Context, token string) (models.PublicRoleView, error) {
	return s.reveal(ctx, token, false)
}

// MarkSecretRevealed records that the participant has opened their secret
// instructions. The role must have been revealed first and must carry
// secret instructions.
func (s *Service) MarkSecretRevealed(ctx context.Context, token string) (models.PublicRoleView, error) {
	return s.reveal(ctx, token, true)
}

func (s *Service) reveal(ctx context.Context, token string, secret bool) (models.PublicRoleView, error) {
	p, err := s.tokens.VerifyAdmitted(ctx, token)
	if err != nil {
		return models.PublicRoleView{}, err
	}

	ctx, cancel := timeouts.WithTimeout(ctx, timeouts.Short(), s.log, "reveal role")
	defer cancel()

	a, def, err := s.assignmentFor(ctx, p)
	if err != nil {
		return models.PublicRoleView{}, err
	}

	mark := s.roles.MarkRevealed
	already := a.RevealedAt != nil
	event := models.EventRoleRevealed
	if secret {
		if a.RevealedAt == nil {
			return models.PublicRoleView{}, apperr.New(apperr.ErrInvalidTransition, "reveal the role first")
		}
		if !def.HasSecretInstructions {
			return models.PublicRoleView{}, apperr.New(apperr.ErrInvalidTransition, "this role has no secret instructions")
		}
		mark = s.roles.MarkSecretRevealed
		already = a.SecretInstructionsRevealedAt != nil
		event = models.EventRoleSecretRevealed
	}
	if already {
		return models.ProjectRole(def, a), nil
	}

	updated, err := mark(ctx, a.ID, s.clock.Now())
	switch {
	case err == nil:
		s.record(ctx, auditlog.ParticipantEntry(p, p.ID.Hex(), event, map[string]string{
			"role_definition_id": def.ID.Hex(),
		}))
		return models.ProjectRole(def, updated), nil
	case errors.Is(err, store.ErrConflict):
		// A concurrent reveal won; return its timestamp.
		cur, gerr := s.roles.GetAssignment(ctx, p.SessionID, p.ID)
		if gerr != nil {
			return models.PublicRoleView{}, apperr.NotFoundOr(gerr, "no role assigned")
		}
		return models.ProjectRole(def, cur), nil
	default:
		return models.PublicRoleView{}, apperr.NotFoundOr(err, "no role assigned")
	}
}

// SafeProjection returns the participant's own role as they may see it.
func (s *Service) SafeProjection(ctx context.Context, token string) (models.PublicRoleView, error) {
	p, err := s.tokens.VerifyAdmitted(ctx, token)
	if err != nil {
		return models.PublicRoleView{}, err
	}

	ctx, cancel := timeouts.WithTimeout(ctx, timeouts.Short(), s.log, "role projection")
	defer cancel()

	a, def, err := s.assignmentFor(ctx, p)
	if err != nil {
		return models.PublicRoleView{}, err
	}
	return models.ProjectRole(def, a), nil
}

func (s *Service) assignmentFor(ctx context.Context, p models.Participant) (models.RoleAssignment, models.RoleDefinition, error) {
	a, err := s.roles.GetAssignment(ctx, p.SessionID, p.ID)
	if err != nil {
		return models.RoleAssignment{}, models.RoleDefinition{}, apperr.NotFoundOr(err, "no role assigned")
	}
	def, err := s.roles.GetDefinition(ctx, a.RoleDefinitionID)
	if err != nil {
		return models.RoleAssignment{}, models.RoleDefinition{}, apperr.NotFoundOr(err, "no role assigned")
	}
	return a, def, nil
}

// insertAssignment takes a slot on the definition before inserting, so
// concurrent assigners cannot push a role past its MaxCount.
func (s *Service) insertAssignment(ctx context.Context, sess models.Session, participantID primitive.ObjectID, def models.RoleDefinition, actorID string) (models.RoleAssignment, error) {
	defID := def.ID
	if err := s.roles.ReserveSlot(ctx, defID, def.MaxCount); err != nil {
		if errors.Is(err, store.ErrLimitReached) {
			return models.RoleAssignment{}, apperr.New(apperr.ErrConflict, "role is full")
		}
		return models.RoleAssignment{}, apperr.NotFoundOr(err, "role not found")
	}
	a := models.RoleAssignment{
		SessionID:        sess.ID,
		ParticipantID:    participantID,
		RoleDefinitionID: defID,
		AssignedAt:       s.clock.Now(),
	}
	if err := s.roles.InsertAssignment(ctx, &a); err != nil {
		if rerr := s.roles.ReleaseSlot(ctx, defID); rerr != nil {
			s.log.Warn("release role slot failed",
				zap.String("role_definition_id", defID.Hex()),
				zap.Error(rerr))
		}
		if errors.Is(err, store.ErrDuplicate) {
			return models.RoleAssignment{}, err
		}
		return models.RoleAssignment{}, fmt.Errorf("insert role assignment: %w", err)
	}
	pid := participantID
	e := auditlog.Entry(sess, actorID, models.EventRoleAssigned, map[string]string{
		"role_definition_id": defID.Hex(),
	})
	e.ParticipantID = &pid
	s.record(ctx, e)
	return a, nil
}

// publishAssigned tells the session that roles changed without saying who
// got which.
func (s *Service) publishAssigned(ctx context.Context, sessionID primitive.ObjectID, n int) {
	s.pub.Publish(ctx, sessionID, broadcast.Event{
		Type:      broadcast.EventRolesAssigned,
		Payload:   map[string]string{"count": strconv.Itoa(n)},
		Timestamp: s.clock.Now(),
	})
}

func (s *Service) managedSession(ctx context.Context, actor identity.Actor, sessionID primitive.ObjectID) (models.Session, error) {
	sess, err := s.sessions.Get(ctx, sessionID)
	if err != nil {
		return models.Session{}, apperr.NotFoundOr(err, "session not found")
	}
	if !actor.CanManage(sess) {
		return models.Session{}, apperr.New(apperr.ErrForbidden, "not the host of this session")
	}
	return sess, nil
}

func (s *Service) record(ctx context.Context, e models.ActivityLogEntry) {
	e.CreatedAt = s.clock.Now()
	s.activity.Log(ctx, e)
}
