// Package voting runs timed single-choice decisions inside a session.
//
// Votes are hidden until the host reveals the decision. A decision gated to
// a position stays invisible to participants until the session cursor
// reaches it; the gate check lives in models.Gate and is applied to votes,
// results and listings alike.
package voting

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/dalemusser/liveplay/internal/app/services/tokens"
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
	"github.com/dalemusser/liveplay/internal/app/system/timeouts"
	"github.com/dalemusser/liveplay/internal/domain/models"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"
)

// Service opens decisions and collects votes.
type Service struct {
	sessions  store.Sessions
	decisions store.Decisions
	tokens    *tokens.Service
	activity  *auditlog.Logger
	pub       broadcast.Publisher
	clock     clock.Clock
	log       *zap.Logger

	// locks serializes votes against status changes of the same decision.
	locks *keylock.Map
}

// New creates a voting Service.
func New(set store.Set, tok *tokens.Service, activity *auditlog.Logger, pub broadcast.Publisher, clk clock.Clock, logger *zap.Logger) *Service {
	if pub == nil {
		pub = broadcast.Nop{}
	}
	return &Service{
		sessions:  set.Sessions,
		decisions: set.Decisions,
		tokens:    tok,
		activity:  activity,
		pub:       pub,
		clock:     clk,
		log:       logger,
		locks:     keylock.New(),
	}
}

// DecisionInput describes a decision to open.
type DecisionInput struct {
	Title           string                  `json:"title" validate:"required,max=200" label:"Title"`
	Options         []models.DecisionOption `json:"options" validate:"min=2,max=20,unique=Key,dive" label:"Options"`
	MaxChoices      int                     `json:"max_choices" validate:"omitempty,eq=1" label:"Max choices"`
	Gate            models.Gate             `json:"gate"`
	DurationSeconds int                     `json:"duration_seconds" validate:"omitempty,min=5,max=86400" label:"Duration"`
}

// Caller is whoever asks for decisions or results: a host actor or a
// participant token. Exactly one is set.
type Caller struct {
	Actor *identity.Actor
	Token string
}

// Open creates an open decision in the session.
func (s *Service) Open(ctx context.Context, actor identity.Actor, sessionID primitive.ObjectID, in DecisionInput) (models.Decision, error) {
	if res := inputval.Validate(in); res.HasErrors() {
		return models.Decision{}, apperr.New(apperr.ErrInvalidInput, res.All())
	}
	if in.Gate.Phase != nil && in.Gate.Step == nil {
		return models.Decision{}, apperr.New(apperr.ErrInvalidInput, "a gate phase needs a gate step")
	}

	ctx, cancel := timeouts.WithTimeout(ctx, timeouts.Short(), s.log, "open decision")
	defer cancel()

	sess, err := s.managedSession(ctx, actor, sessionID)
	if err != nil {
		return models.Decision{}, err
	}
	if sess.Status.Finished() {
		return models.Decision{}, apperr.New(apperr.ErrInvalidTransition, "session already "+string(sess.Status))
	}

	now := s.clock.Now()
	d := models.Decision{
		SessionID:  sess.ID,
		Title:      htmlsanitize.PlainText(in.Title),
		Options:    make([]models.DecisionOption, len(in.Options)),
		MaxChoices: 1,
		Status:     models.DecisionOpen,
		Gate:       in.Gate,
		OpenedBy:   actor.HostID,
		CreatedAt:  now,
	}
	for i, o := range in.Options {
		d.Options[i] = models.DecisionOption{Key: o.Key, Label: htmlsanitize.PlainText(o.Label)}
	}
	if in.DurationSeconds > 0 {
		closes := now.Add(time.Duration(in.DurationSeconds) * time.Second)
		d.ClosesAt = &closes
	}
	if err := s.decisions.Insert(ctx, &d); err != nil {
		return models.Decision{}, fmt.Errorf("insert decision: %w", err)
	}

	s.record(ctx, auditlog.Entry(sess, actor.HostID, models.EventDecisionOpened, map[string]string{
		"decision_id": d.ID.Hex(),
		"options":     strconv.Itoa(len(d.Options)),
	}))
	s.publish(ctx, d, broadcast.EventDecisionOpened)
	return d, nil
}

// Vote records the participant's choice, replacing any earlier one.
func (s *Service) Vote(ctx context.Context, token string, decisionID primitive.ObjectID, optionKey string) (models.Vote, error) {
	p, err := s.tokens.VerifyAdmitted(ctx, token)
	if err != nil {
		return models.Vote{}, err
	}

	ctx, cancel := timeouts.WithTimeout(ctx, timeouts.Short(), s.log, "cast vote")
	defer cancel()

	unlock := s.locks.Lock(decisionID.Hex())
	defer unlock()

	d, err := s.decisions.Get(ctx, decisionID)
	if err != nil || d.SessionID != p.SessionID {
		return models.Vote{}, apperr.New(apperr.ErrNotFound, "decision not found")
	}
	sess, err := s.sessions.Get(ctx, p.SessionID)
	if err != nil {
		return models.Vote{}, apperr.NotFoundOr(err, "session not found")
	}
	if sess.Status != models.SessionActive && sess.Status != models.SessionLocked {
		return models.Vote{}, apperr.New(apperr.ErrInvalidTransition, "session is "+string(sess.Status))
	}
	now := s.clock.Now()
	if !d.AcceptsVotes(now) {
		return models.Vote{}, apperr.New(apperr.ErrInvalidTransition, "decision is no longer accepting votes")
	}
	if !d.Gate.Unlocked(sess.Position()) {
		return models.Vote{}, apperr.New(apperr.ErrForbidden, "decision is not available yet")
	}
	if !d.HasOption(optionKey) {
		return models.Vote{}, apperr.New(apperr.ErrInvalidInput, "unknown option "+strconv.Quote(optionKey))
	}

	prev, prevErr := s.decisions.GetVote(ctx, d.ID, p.ID)
	if prevErr != nil && !errors.Is(prevErr, store.ErrNotFound) {
		return models.Vote{}, fmt.Errorf("load previous vote: %w", prevErr)
	}

	v := models.Vote{
		DecisionID:    d.ID,
		SessionID:     d.SessionID,
		ParticipantID: p.ID,
		OptionKey:     optionKey,
		CastAt:        now,
	}
	if err := s.decisions.UpsertVote(ctx, &v); err != nil {
		return models.Vote{}, fmt.Errorf("upsert vote: %w", err)
	}

	// Another instance may have closed or revealed the decision between the
	// check and the write. A vote that landed after that instant must not
	// replace the one that counted.
	if cur, err := s.decisions.Get(ctx, d.ID); err == nil && closedBefore(cur, v.CastAt) {
		if prevErr == nil {
			if err := s.decisions.UpsertVote(ctx, &prev); err != nil {
				s.log.Error("failed to restore vote after late write",
					zap.String("decision_id", d.ID.Hex()),
					zap.String("participant_id", p.ID.Hex()),
					zap.Error(err))
			}
		}
		return models.Vote{}, apperr.New(apperr.ErrInvalidTransition, "decision is no longer accepting votes")
	}

	metrics.Votes.Inc()
	s.pub.Publish(ctx, d.SessionID, broadcast.Event{
		Type:      broadcast.EventVoteCast,
		Payload:   map[string]string{"decision_id": d.ID.Hex()},
		Timestamp: now,
	})
	return v, nil
}

// Close stops an open decision from taking votes without revealing it.
func (s *Service) Close(ctx context.Context, actor identity.Actor, decisionID primitive.ObjectID) (models.Decision, error) {
	return s.transition(ctx, actor, decisionID, models.DecisionClosed,
		[]models.DecisionStatus{models.DecisionOpen}, models.EventDecisionClosed, broadcast.EventDecisionClosed)
}

// Reveal publishes the results of an open or closed decision and returns
// its final tally. Votes cast after the reveal instant never count.
func (s *Service) Reveal(ctx context.Context, actor identity.Actor, decisionID primitive.ObjectID) (models.Tally, error) {
	d, err := s.transition(ctx, actor, decisionID, models.DecisionRevealed,
		[]models.DecisionStatus{models.DecisionOpen, models.DecisionClosed}, models.EventDecisionRevealed, broadcast.EventDecisionRevealed)
	if err != nil {
		return models.Tally{}, err
	}
	return s.tally(ctx, d)
}

func (s *Service) transition(ctx context.Context, actor identity.Actor, decisionID primitive.ObjectID, to models.DecisionStatus,
	from []models.DecisionStatus, activityEvent, broadcastEvent string) (models.Decision, error) {
	ctx, cancel := timeouts.WithTimeout(ctx, timeouts.Short(), s.log, "decision "+string(to))
	defer cancel()

	unlock := s.locks.Lock(decisionID.Hex())
	defer unlock()

	d, sess, err := s.managedDecision(ctx, actor, decisionID)
	if err != nil {
		return models.Decision{}, err
	}
	if err := models.ValidateDecisionTransition(d.Status, to); err != nil {
		return models.Decision{}, apperr.New(apperr.ErrInvalidTransition, err.Error())
	}

	updated, err := s.decisions.UpdateStatus(ctx, d.ID, from, to, s.clock.Now())
	if errors.Is(err, store.ErrConflict) {
		return models.Decision{}, apperr.New(apperr.ErrInvalidTransition, "decision changed concurrently, reload and retry")
	}
	if err != nil {
		return models.Decision{}, apperr.NotFoundOr(err, "decision not found")
	}

	s.record(ctx, auditlog.Entry(sess, actor.HostID, activityEvent, map[string]string{"decision_id": d.ID.Hex()}))
	s.publish(ctx, updated, broadcastEvent)
	return updated, nil
}

// Results returns a decision's tally. Hosts may look at any time.
// Participants see results only after the reveal and once the decision's
// gate is unlocked.
func (s *Service) Results(ctx context.Context, caller Caller, decisionID primitive.ObjectID) (models.Tally, error) {
	ctx, cancel := timeouts.WithTimeout(ctx, timeouts.Short(), s.log, "decision results")
	defer cancel()

	if caller.Actor != nil {
		d, _, err := s.managedDecision(ctx, *caller.Actor, decisionID)
		if err != nil {
			return models.Tally{}, err
		}
		return s.tally(ctx, d)
	}

	p, err := s.tokens.VerifyAdmitted(ctx, caller.Token)
	if err != nil {
		return models.Tally{}, err
	}
	d, err := s.decisions.Get(ctx, decisionID)
	if err != nil || d.SessionID != p.SessionID {
		return models.Tally{}, apperr.New(apperr.ErrNotFound, "decision not found")
	}
	if d.Status != models.DecisionRevealed {
		return models.Tally{}, apperr.New(apperr.ErrForbidden, "results are not revealed yet")
	}
	sess, err := s.sessions.Get(ctx, p.SessionID)
	if err != nil {
		return models.Tally{}, apperr.NotFoundOr(err, "session not found")
	}
	if !d.Gate.Unlocked(sess.Position()) {
		return models.Tally{}, apperr.New(apperr.ErrForbidden, "decision is not available yet")
	}
	return s.tally(ctx, d)
}

// ListForCaller lists a session's decisions. Hosts see all of them;
// participants only those whose gate the cursor has reached.
func (s *Service) ListForCaller(ctx context.Context, caller Caller, sessionID primitive.ObjectID) ([]models.Decision, error) {
	ctx, cancel := timeouts.WithTimeout(ctx, timeouts.Medium(), s.log, "list decisions")
	defer cancel()

	var sess models.Session
	if caller.Actor != nil {
		var err error
		if sess, err = s.managedSession(ctx, *caller.Actor, sessionID); err != nil {
			return nil, err
		}
	} else {
		p, err := s.tokens.VerifyAdmitted(ctx, caller.Token)
		if err != nil {
			return nil, err
		}
		if p.SessionID != sessionID {
			return nil, apperr.New(apperr.ErrForbidden, "not a participant of this session")
		}
		if sess, err = s.sessions.Get(ctx, sessionID); err != nil {
			return nil, apperr.NotFoundOr(err, "session not found")
		}
	}

	all, err := s.decisions.ListBySession(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list decisions: %w", err)
	}
	if caller.Actor != nil {
		return all, nil
	}
	pos := sess.Position()
	out := make([]models.Decision, 0, len(all))
	for _, d := range all {
		if d.Gate.Unlocked(pos) {
			out = append(out, d)
		}
	}
	return out, nil
}

// tally counts votes. A revealed decision counts up to its reveal instant,
// a closed one up to its close instant.
// closedBefore reports whether d stopped taking votes strictly before t.
func closedBefore(d models.Decision, t time.Time) bool {
	stamp := d.RevealedAt
	if stamp == nil {
		stamp = d.ClosedAt
	}
	return stamp != nil && stamp.Before(t)
}

func (s *Service) tally(ctx context.Context, d models.Decision) (models.Tally, error) {
	until := d.RevealedAt
	if until == nil {
		until = d.ClosedAt
	}
	counts, err := s.decisions.Tally(ctx, d.ID, until)
	if err != nil {
		return models.Tally{}, fmt.Errorf("tally votes: %w", err)
	}
	t := models.NewTally(d)
	for key, n := range counts {
		if _, ok := t.Counts[key]; ok {
			t.Counts[key] = n
			t.Total += n
		}
	}
	return t, nil
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

func (s *Service) managedDecision(ctx context.Context, actor identity.Actor, decisionID primitive.ObjectID) (models.Decision, models.Session, error) {
	d, err := s.decisions.Get(ctx, decisionID)
	if err != nil {
		return models.Decision{}, models.Session{}, apperr.NotFoundOr(err, "decision not found")
	}
	sess, err := s.managedSession(ctx, actor, d.SessionID)
	if err != nil {
		return models.Decision{}, models.Session{}, err
	}
	return d, sess, nil
}

func (s *Service) publish(ctx context.Context, d models.Decision, eventType string) {
	s.pub.Publish(ctx, d.SessionID, broadcast.Event{
		Type: eventType,
		Payload: map[string]string{
			"decision_id": d.ID.Hex(),
			"status":      string(d.Status),
		},
		Timestamp: s.clock.Now(),
	})
}

func (s *Service) record(ctx context.Context, e models.ActivityLogEntry) {
	e.CreatedAt = s.clock.Now()
	s.activity.Log(ctx, e)
}
