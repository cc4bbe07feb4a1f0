package voting_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dalemusser/liveplay/internal/app/services/livesessions"
	"github.com/dalemusser/liveplay/internal/app/services/registry"
	"github.com/dalemusser/liveplay/internal/app/services/tokens"
	"github.com/dalemusser/liveplay/internal/app/services/voting"
	"github.com/dalemusser/liveplay/internal/app/store"
	"github.com/dalemusser/liveplay/internal/app/store/memory"
	"github.com/dalemusser/liveplay/internal/app/system/apperr"
	"github.com/dalemusser/liveplay/internal/app/system/auditlog"
	"github.com/dalemusser/liveplay/internal/app/system/clock"
	"github.com/dalemusser/liveplay/internal/app/system/identity"
	"github.com/dalemusser/liveplay/internal/domain/models"
	"github.com/dalemusser/liveplay/internal/testutil"
	"go.uber.org/zap"
)

var start = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

type env struct {
	mem      *memory.Store
	sessions *livesessions.Service
	reg      *registry.Service
	vote     *voting.Service
	clk      *clock.Fake
}

func newEnv(t *testing.T) env {
	t.Helper()
	mem := memory.New()
	set := mem.Set()
	clk := clock.NewFake(start)
	log := zap.NewNop()
	activity := auditlog.New(set.Activity, log, auditlog.Config{Mode: auditlog.ModeDB})
	sessions := livesessions.New(set, activity, nil, clk, log, livesessions.Config{})
	tok := tokens.New(set, activity, clk, log, tokens.Config{})
	return env{
		mem:      mem,
		sessions: sessions,
		reg:      registry.New(set, sessions, tok, nil, activity, nil, clk, log, registry.Config{}),
		vote:     voting.New(set, tok, activity, nil, clk, log),
		clk:      clk,
	}
}

func yesNo(title string) voting.DecisionInput {
	return voting.DecisionInput{
		Title: title,
		Options: []models.DecisionOption{
			{Key: "yes", Label: "Yes"},
			{Key: "no", Label: "No"},
		},
	}
}

func intPtr(v int) *int { return &v }

func host() *identity.Actor {
	a := testutil.Host()
	return &a
}

// End to end: create, join, advance, vote, reveal, read results.
func TestScenarioA(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)

	sess, err := e.sessions.Create(ctx, testutil.Host(), livesessions.CreateInput{})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	joined, err := e.reg.Join(ctx, sess.Code, "Ada", "")
	if err != nil {
		t.Fatalf("Join failed: %v", err)
	}
	if joined.Participant.Status != models.ParticipantActive {
		t.Fatalf("joined status = %s", joined.Participant.Status)
	}
	if _, err := e.sessions.Advance(ctx, testutil.Host(), sess.ID, 1, 0); err != nil {
		t.Fatalf("Advance failed: %v", err)
	}

	d, err := e.vote.Open(ctx, testutil.Host(), sess.ID, yesNo("Continue?"))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if _, err := e.vote.Vote(ctx, joined.Token, d.ID, "yes"); err != nil {
		t.Fatalf("Vote failed: %v", err)
	}
	if n := e.mem.VoteCount(d.ID); n != 1 {
		t.Fatalf("vote rows = %d, want 1", n)
	}

	if _, err := e.vote.Results(ctx, voting.Caller{Token: joined.Token}, d.ID); !errors.Is(err, apperr.ErrForbidden) {
		t.Errorf("Results before reveal err = %v, want forbidden", err)
	}

	if _, err := e.vote.Reveal(ctx, testutil.Host(), d.ID); err != nil {
		t.Fatalf("Reveal failed: %v", err)
	}
	tally, err := e.vote.Results(ctx, voting.Caller{Token: joined.Token}, d.ID)
	if err != nil {
		t.Fatalf("Results failed: %v", err)
	}
	if tally.Counts["yes"] != 1 || tally.Counts["no"] != 0 || tally.Total != 1 {
		t.Errorf("tally = %+v, want yes:1 no:0", tally.Counts)
	}
}

func TestVote_SingleChoiceAndIdempotent(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	sess, _ := e.sessions.Create(ctx, testutil.Host(), livesessions.CreateInput{})
	joined, _ := e.reg.Join(ctx, sess.Code, "Ada", "")
	d, err := e.vote.Open(ctx, testutil.Host(), sess.ID, yesNo("Q"))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}

	for _, key := range []string{"yes", "yes", "no"} {
		if _, err := e.vote.Vote(ctx, joined.Token, d.ID, key); err != nil {
			t.Fatalf("Vote(%s) failed: %v", key, err)
		}
		e.clk.Advance(time.Second)
	}
	if n := e.mem.VoteCount(d.ID); n != 1 {
		t.Errorf("vote rows = %d, want 1", n)
	}

	tally, err := e.vote.Results(ctx, voting.Caller{Actor: host()}, d.ID)
	if err != nil {
		t.Fatalf("host Results failed: %v", err)
	}
	if tally.Counts["no"] != 1 || tally.Counts["yes"] != 0 {
		t.Errorf("tally = %+v, want the last choice only", tally.Counts)
	}
}

func TestVote_Rejections(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	sess, _ := e.sessions.Create(ctx, testutil.Host(), livesessions.CreateInput{})
	other, _ := e.sessions.Create(ctx, testutil.Host(), livesessions.CreateInput{})
	joined, _ := e.reg.Join(ctx, sess.Code, "Ada", "")

	open, _ := e.vote.Open(ctx, testutil.Host(), sess.ID, yesNo("open"))
	closed, _ := e.vote.Open(ctx, testutil.Host(), sess.ID, yesNo("closed"))
	if _, err := e.vote.Close(ctx, testutil.Host(), closed.ID); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	gated := yesNo("gated")
	gated.Gate = models.Gate{Step: intPtr(3)}
	locked, _ := e.vote.Open(ctx, testutil.Host(), sess.ID, gated)
	foreign, _ := e.vote.Open(ctx, testutil.Host(), other.ID, yesNo("foreign"))

	tests := []struct {
		name     string
		token    string
		decision models.Decision
		option   string
		want     error
	}{
		{"no token", "", open, "yes", apperr.ErrUnauthorized},
		{"unknown option", joined.Token, open, "maybe", apperr.ErrInvalidInput},
		{"closed decision", joined.Token, closed, "yes", apperr.ErrInvalidTransition},
		{"gated decision", joined.Token, locked, "yes", apperr.ErrForbidden},
		{"other session", joined.Token, foreign, "yes", apperr.ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := e.vote.Vote(ctx, tt.token, tt.decision.ID, tt.option); !errors.Is(err, tt.want) {
				t.Errorf("err = %v, want %v", err, tt.want)
			}
		})
	}

	if _, err := e.sessions.SetStatus(ctx, testutil.Host(), sess.ID, models.SessionPaused); err != nil {
		t.Fatalf("pause failed: %v", err)
	}
	if _, err := e.vote.Vote(ctx, joined.Token, open.ID, "yes"); !errors.Is(err, apperr.ErrInvalidTransition) {
		t.Errorf("vote in paused session err = %v, want invalid transition", err)
	}
}

func TestVote_PendingApproval(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	settings := models.DefaultSessionSettings()
	settings.RequireApproval = true
	sess, _ := e.sessions.Create(ctx, testutil.Host(), livesessions.CreateInput{Settings: &settings})
	joined, _ := e.reg.Join(ctx, sess.Code, "Ada", "")
	d, _ := e.vote.Open(ctx, testutil.Host(), sess.ID, yesNo("Q"))

	if _, err := e.vote.Vote(ctx, joined.Token, d.ID, "yes"); !errors.Is(err, apperr.ErrForbidden) {
		t.Errorf("pending vote err = %v, want forbidden", err)
	}
	if _, err := e.reg.Approve(ctx, testutil.Host(), sess.ID, joined.Participant.ID); err != nil {
		t.Fatalf("Approve failed: %v", err)
	}
	if _, err := e.vote.Vote(ctx, joined.Token, d.ID, "yes"); err != nil {
		t.Errorf("vote after approval failed: %v", err)
	}
}

func TestTimedDecision(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	sess, _ := e.sessions.Create(ctx, testutil.Host(), livesessions.CreateInput{})
	joined, _ := e.reg.Join(ctx, sess.Code, "Ada", "")

	in := yesNo("quick")
	in.DurationSeconds = 30
	d, err := e.vote.Open(ctx, testutil.Host(), sess.ID, in)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if d.ClosesAt == nil || !d.ClosesAt.Equal(start.Add(30*time.Second)) {
		t.Fatalf("ClosesAt = %v, want 30s after open", d.ClosesAt)
	}

	e.clk.Advance(29 * time.Second)
	if _, err := e.vote.Vote(ctx, joined.Token, d.ID, "yes"); err != nil {
		t.Fatalf("vote before deadline failed: %v", err)
	}
	e.clk.Advance(time.Second)
	if _, err := e.vote.Vote(ctx, joined.Token, d.ID, "no"); !errors.Is(err, apperr.ErrInvalidTransition) {
		t.Errorf("vote at deadline err = %v, want invalid transition", err)
	}
}

func TestGateSymmetry(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	sess, _ := e.sessions.Create(ctx, testutil.Host(), livesessions.CreateInput{})
	joined, _ := e.reg.Join(ctx, sess.Code, "Ada", "")
	caller := voting.Caller{Token: joined.Token}

	in := yesNo("later")
	in.Gate = models.Gate{Step: intPtr(2), Phase: intPtr(1)}
	gated, err := e.vote.Open(ctx, testutil.Host(), sess.ID, in)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if _, err := e.vote.Open(ctx, testutil.Host(), sess.ID, yesNo("now")); err != nil {
		t.Fatalf("Open failed: %v", err)
	}

	check := func(wantUnlocked bool) {
		t.Helper()
		list, err := e.vote.ListForCaller(ctx, caller, sess.ID)
		if err != nil {
			t.Fatalf("ListForCaller failed: %v", err)
		}
		wantLen := 1
		if wantUnlocked {
			wantLen = 2
		}
		if len(list) != wantLen {
			t.Errorf("participant sees %d decisions, want %d", len(list), wantLen)
		}
		_, err = e.vote.Vote(ctx, joined.Token, gated.ID, "yes")
		if wantUnlocked != (err == nil) {
			t.Errorf("vote unlocked=%v, err = %v", wantUnlocked, err)
		}
	}

	check(false)
	if _, err := e.sessions.Advance(ctx, testutil.Host(), sess.ID, 2, 0); err != nil {
		t.Fatalf("Advance failed: %v", err)
	}
	check(false)
	if _, err := e.sessions.Advance(ctx, testutil.Host(), sess.ID, 2, 1); err != nil {
		t.Fatalf("Advance failed: %v", err)
	}
	check(true)

	hostList, err := e.vote.ListForCaller(ctx, voting.Caller{Actor: host()}, sess.ID)
	if err != nil {
		t.Fatalf("host ListForCaller failed: %v", err)
	}
	if len(hostList) != 2 {
		t.Errorf("host sees %d decisions, want 2", len(hostList))
	}
}

func TestGatedResultsHiddenAfterReveal(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	sess, _ := e.sessions.Create(ctx, testutil.Host(), livesessions.CreateInput{})
	joined, _ := e.reg.Join(ctx, sess.Code, "Ada", "")

	in := yesNo("later")
	in.Gate = models.Gate{Step: intPtr(5)}
	d, _ := e.vote.Open(ctx, testutil.Host(), sess.ID, in)
	if _, err := e.vote.Reveal(ctx, testutil.Host(), d.ID); err != nil {
		t.Fatalf("Reveal failed: %v", err)
	}
	if _, err := e.vote.Results(ctx, voting.Caller{Token: joined.Token}, d.ID); !errors.Is(err, apperr.ErrForbidden) {
		t.Errorf("gated Results err = %v, want forbidden", err)
	}
	if _, err := e.vote.Results(ctx, voting.Caller{Actor: host()}, d.ID); err != nil {
		t.Errorf("host Results failed: %v", err)
	}
}

func TestRevealTransitions(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	sess, _ := e.sessions.Create(ctx, testutil.Host(), livesessions.CreateInput{})
	d, _ := e.vote.Open(ctx, testutil.Host(), sess.ID, yesNo("Q"))

	if _, err := e.vote.Reveal(ctx, testutil.OtherHost(), d.ID); !errors.Is(err, apperr.ErrForbidden) {
		t.Errorf("other host Reveal err = %v, want forbidden", err)
	}
	if _, err := e.vote.Close(ctx, testutil.Host(), d.ID); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if _, err := e.vote.Close(ctx, testutil.Host(), d.ID); !errors.Is(err, apperr.ErrInvalidTransition) {
		t.Errorf("second Close err = %v, want invalid transition", err)
	}
	tally, err := e.vote.Reveal(ctx, testutil.Host(), d.ID)
	if err != nil {
		t.Fatalf("Reveal failed: %v", err)
	}
	if tally.RevealedAt == nil {
		t.Error("tally should carry the reveal time")
	}
	if _, err := e.vote.Reveal(ctx, testutil.Host(), d.ID); !errors.Is(err, apperr.ErrInvalidTransition) {
		t.Errorf("second Reveal err = %v, want invalid transition", err)
	}
}

func TestOpen_Validation(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	sess, _ := e.sessions.Create(ctx, testutil.Host(), livesessions.CreateInput{})

	tests := []struct {
		name   string
		mutate func(*voting.DecisionInput)
	}{
		{"missing title", func(in *voting.DecisionInput) { in.Title = "" }},
		{"one option", func(in *voting.DecisionInput) { in.Options = in.Options[:1] }},
		{"duplicate keys", func(in *voting.DecisionInput) { in.Options[1].Key = "yes" }},
		{"bad key", func(in *voting.DecisionInput) { in.Options[0].Key = "a b" }},
		{"two choices", func(in *voting.DecisionInput) { in.MaxChoices = 2 }},
		{"short duration", func(in *voting.DecisionInput) { in.DurationSeconds = 1 }},
		{"phase without step", func(in *voting.DecisionInput) { in.Gate.Phase = intPtr(1) }},
		{"negative step", func(in *voting.DecisionInput) { in.Gate.Step = intPtr(-1) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := yesNo("Q")
			tt.mutate(&in)
			if _, err := e.vote.Open(ctx, testutil.Host(), sess.ID, in); !errors.Is(err, apperr.ErrInvalidInput) {
				t.Errorf("err = %v, want invalid input", err)
			}
		})
	}
}

// revealingDecisions reveals the decision from "another instance" right
// before the next vote write lands.
type revealingDecisions struct {
	store.Decisions
	clk    *clock.Fake
	armed  bool
	failed error
}

func (r *revealingDecisions) UpsertVote(ctx context.Context, v *models.Vote) error {
	if r.armed {
		r.armed = false
		revealAt := r.clk.Now().Add(-time.Second)
		if _, err := r.Decisions.UpdateStatus(ctx, v.DecisionID,
			[]models.DecisionStatus{models.DecisionOpen}, models.DecisionRevealed, revealAt); err != nil {
			r.failed = err
		}
	}
	return r.Decisions.UpsertVote(ctx, v)
}

func TestVote_LateWriteKeepsCountedVote(t *testing.T) {
	ctx := context.Background()
	mem := memory.New()
	set := mem.Set()
	clk := clock.NewFake(start)
	log := zap.NewNop()
	decisions := &revealingDecisions{Decisions: set.Decisions, clk: clk}
	set.Decisions = decisions

	activity := auditlog.New(set.Activity, log, auditlog.Config{Mode: auditlog.ModeDB})
	sessions := livesessions.New(set, activity, nil, clk, log, livesessions.Config{})
	tok := tokens.New(set, activity, clk, log, tokens.Config{})
	reg := registry.New(set, sessions, tok, nil, activity, nil, clk, log, registry.Config{})
	vote := voting.New(set, tok, activity, nil, clk, log)

	sess, err := sessions.Create(ctx, testutil.Host(), livesessions.CreateInput{})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	joined, err := reg.Join(ctx, sess.Code, "Ada", "")
	if err != nil {
		t.Fatalf("Join failed: %v", err)
	}
	d, err := vote.Open(ctx, testutil.Host(), sess.ID, yesNo("Go left?"))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if _, err := vote.Vote(ctx, joined.Token, d.ID, "yes"); err != nil {
		t.Fatalf("first Vote failed: %v", err)
	}

	clk.Advance(10 * time.Second)
	decisions.armed = true
	_, err = vote.Vote(ctx, joined.Token, d.ID, "no")
	if decisions.failed != nil {
		t.Fatalf("reveal in between failed: %v", decisions.failed)
	}
	if !errors.Is(err, apperr.ErrInvalidTransition) {
		t.Errorf("late Vote err = %v, want invalid transition", err)
	}

	v, err := set.Decisions.GetVote(ctx, d.ID, joined.Participant.ID)
	if err != nil {
		t.Fatalf("GetVote failed: %v", err)
	}
	if v.OptionKey != "yes" {
		t.Errorf("stored option = %q, want the counted %q", v.OptionKey, "yes")
	}

	tally, err := vote.Results(ctx, voting.Caller{Actor: host()}, d.ID)
	if err != nil {
		t.Fatalf("Results failed: %v", err)
	}
	if tally.Counts["yes"] != 1 || tally.Total != 1 {
		t.Errorf("tally = %+v, want yes=1 total=1", tally)
	}
}
