package roles_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dalemusser/liveplay/internal/app/services/livesessions"
	"github.com/dalemusser/liveplay/internal/app/services/registry"
	"github.com/dalemusser/liveplay/internal/app/services/roles"
	"github.com/dalemusser/liveplay/internal/app/services/tokens"
	"github.com/dalemusser/liveplay/internal/app/store/memory"
	"github.com/dalemusser/liveplay/internal/app/system/apperr"
	"github.com/dalemusser/liveplay/internal/app/system/auditlog"
	"github.com/dalemusser/liveplay/internal/app/system/clock"
	"github.com/dalemusser/liveplay/internal/domain/models"
	"github.com/dalemusser/liveplay/internal/testutil"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"
)

var start = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

type env struct {
	sessions *livesessions.Service
	reg      *registry.Service
	roles    *roles.Service
	clk      *clock.Fake
	sess     models.Session
}

func newEnv(t *testing.T) env {
	t.Helper()
	set := memory.New().Set()
	clk := clock.NewFake(start)
	log := zap.NewNop()
	activity := auditlog.New(set.Activity, log, auditlog.Config{Mode: auditlog.ModeDB})
	sessions := livesessions.New(set, activity, nil, clk, log, livesessions.Config{})
	tok := tokens.New(set, activity, clk, log, tokens.Config{})
	e := env{
		sessions: sessions,
		reg:      registry.New(set, sessions, tok, nil, activity, nil, clk, log, registry.Config{}),
		roles:    roles.New(set, tok, activity, nil, clk, log),
		clk:      clk,
	}
	sess, err := sessions.Create(context.Background(), testutil.Host(), livesessions.CreateInput{})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	e.sess = sess
	return e
}

func (e env) join(t *testing.T, name string) registry.JoinResult {
	t.Helper()
	res, err := e.reg.Join(context.Background(), e.sess.Code, name, "")
	if err != nil {
		t.Fatalf("Join failed: %v", err)
	}
	return res
}

func (e env) define(t *testing.T, in roles.DefinitionInput) models.RoleDefinition {
	t.Helper()
	def, err := e.roles.Define(context.Background(), testutil.Host(), e.sess.ID, in)
	if err != nil {
		t.Fatalf("Define failed: %v", err)
	}
	return def
}

func spy() roles.DefinitionInput {
	return roles.DefinitionInput{
		Name:                "Spy",
		Color:               "#aa3311",
		PublicDescription:   "Blends in.<script>alert(1)</script>",
		PrivateInstructions: "Find the <b>codebook</b>.",
		SecretInstructions:  "The codebook is under the desk.",
		AssignmentStrategy:  "balanced",
		ScalingRules:        map[string]int{"per_10": 1},
		ConflictRules:       []string{"not_with:detective"},
		MaxCount:            1,
		Metadata:            map[string]any{"designer_note": "hidden"},
	}
}

func TestDefine_Sanitises(t *testing.T) {
	e := newEnv(t)
	def := e.define(t, spy())

	if strings.Contains(def.PublicDescription, "<script") {
		t.Errorf("script survived sanitising: %q", def.PublicDescription)
	}
	if !strings.Contains(def.PrivateInstructions, "<b>codebook</b>") {
		t.Errorf("safe markup was stripped: %q", def.PrivateInstructions)
	}
	if !def.HasSecretInstructions {
		t.Error("expected HasSecretInstructions")
	}
}

func TestDefine_Validation(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	tests := []struct {
		name   string
		mutate func(*roles.DefinitionInput)
		want   error
	}{
		{"missing name", func(in *roles.DefinitionInput) { in.Name = "" }, apperr.ErrInvalidInput},
		{"bad color", func(in *roles.DefinitionInput) { in.Color = "red" }, apperr.ErrInvalidInput},
		{"min above max", func(in *roles.DefinitionInput) { in.MinCount = 3 }, apperr.ErrInvalidInput},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := spy()
			tt.mutate(&in)
			if _, err := e.roles.Define(ctx, testutil.Host(), e.sess.ID, in); !errors.Is(err, tt.want) {
				t.Errorf("err = %v, want %v", err, tt.want)
			}
		})
	}
	if _, err := e.roles.Define(ctx, testutil.OtherHost(), e.sess.ID, spy()); !errors.Is(err, apperr.ErrForbidden) {
		t.Errorf("other host err = %v, want forbidden", err)
	}
}

func TestAssign(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	def := e.define(t, spy())
	ada := e.join(t, "Ada")
	grace := e.join(t, "Grace")

	res, err := e.roles.Assign(ctx, testutil.Host(), e.sess.ID, ada.Participant.ID, def.ID)
	if err != nil {
		t.Fatalf("Assign failed: %v", err)
	}
	if res.AlreadyAssigned {
		t.Error("first assignment reported as existing")
	}

	again, err := e.roles.Assign(ctx, testutil.Host(), e.sess.ID, ada.Participant.ID, def.ID)
	if err != nil {
		t.Fatalf("repeat Assign failed: %v", err)
	}
	if !again.AlreadyAssigned || again.Assignment.ID != res.Assignment.ID {
		t.Errorf("repeat Assign = %+v, want the existing assignment", again)
	}

	if _, err := e.roles.Assign(ctx, testutil.Host(), e.sess.ID, grace.Participant.ID, def.ID); !errors.Is(err, apperr.ErrConflict) {
		t.Errorf("assign beyond max err = %v, want conflict", err)
	}
	if _, err := e.roles.Assign(ctx, testutil.Host(), e.sess.ID, primitive.NewObjectID(), def.ID); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("unknown participant err = %v, want not found", err)
	}
	if _, err := e.roles.Assign(ctx, testutil.Host(), e.sess.ID, grace.Participant.ID, primitive.NewObjectID()); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("unknown role err = %v, want not found", err)
	}
}

func TestAssign_ConcurrentRespectsMaxCount(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	def := e.define(t, roles.DefinitionInput{Name: "Crew", MaxCount: 2})
	var joined []registry.JoinResult
	for i := 0; i < 8; i++ {
		joined = append(joined, e.join(t, fmt.Sprintf("P%d", i)))
	}

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		ok   int
		full int
	)
	for _, j := range joined {
		wg.Add(1)
		go func(pid primitive.ObjectID) {
			defer wg.Done()
			_, err := e.roles.Assign(ctx, testutil.Host(), e.sess.ID, pid, def.ID)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				ok++
			case errors.Is(err, apperr.ErrConflict):
				full++
			default:
				t.Errorf("Assign failed: %v", err)
			}
		}(j.Participant.ID)
	}
	wg.Wait()

	if ok != 2 || full != 6 {
		t.Fatalf("assigned %d, refused %d; want 2 and 6", ok, full)
	}
	got, err := e.roles.Assignments(ctx, testutil.Host(), e.sess.ID)
	if err != nil {
		t.Fatalf("Assignments failed: %v", err)
	}
	if len(got) != 2 {
		t.Errorf("stored %d assignments, want 2", len(got))
	}

	// A repeat for a holder neither takes a slot nor frees one.
	if _, err := e.roles.Assign(ctx, testutil.Host(), e.sess.ID, got[0].ParticipantID, def.ID); err != nil {
		t.Fatalf("repeat Assign failed: %v", err)
	}
	late := e.join(t, "Late")
	if _, err := e.roles.Assign(ctx, testutil.Host(), e.sess.ID, late.Participant.ID, def.ID); !errors.Is(err, apperr.ErrConflict) {
		t.Errorf("assign into full role err = %v, want conflict", err)
	}
}

func TestRevealGate(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	def := e.define(t, spy())
	ada := e.join(t, "Ada")

	if _, err := e.roles.SafeProjection(ctx, ada.Token); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("projection without role err = %v, want not found", err)
	}
	if _, err := e.roles.Assign(ctx, testutil.Host(), e.sess.ID, ada.Participant.ID, def.ID); err != nil {
		t.Fatalf("Assign failed: %v", err)
	}

	view, err := e.roles.SafeProjection(ctx, ada.Token)
	if err != nil {
		t.Fatalf("SafeProjection failed: %v", err)
	}
	if view.Revealed || view.SecretInstructions != "" {
		t.Errorf("unrevealed view leaked: %+v", view)
	}

	if _, err := e.roles.MarkSecretRevealed(ctx, ada.Token); !errors.Is(err, apperr.ErrInvalidTransition) {
		t.Errorf("secret before reveal err = %v, want invalid transition", err)
	}

	first, err := e.roles.MarkRevealed(ctx, ada.Token)
	if err != nil {
		t.Fatalf("MarkRevealed failed: %v", err)
	}
	if !first.Revealed || first.SecretInstructions != "" {
		t.Errorf("revealed view = %+v", first)
	}

	e.clk.Advance(time.Minute)
	if _, err := e.roles.MarkRevealed(ctx, ada.Token); err != nil {
		t.Errorf("repeat MarkRevealed failed: %v", err)
	}

	secret, err := e.roles.MarkSecretRevealed(ctx, ada.Token)
	if err != nil {
		t.Fatalf("MarkSecretRevealed failed: %v", err)
	}
	if secret.SecretInstructions != "The codebook is under the desk." {
		t.Errorf("SecretInstructions = %q", secret.SecretInstructions)
	}
	if _, err := e.roles.MarkSecretRevealed(ctx, ada.Token); err != nil {
		t.Errorf("repeat MarkSecretRevealed failed: %v", err)
	}
}

func TestSecretRevealWithoutSecret(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	plain := spy()
	plain.SecretInstructions = ""
	def := e.define(t, plain)
	ada := e.join(t, "Ada")
	if _, err := e.roles.Assign(ctx, testutil.Host(), e.sess.ID, ada.Participant.ID, def.ID); err != nil {
		t.Fatalf("Assign failed: %v", err)
	}
	if _, err := e.roles.MarkRevealed(ctx, ada.Token); err != nil {
		t.Fatalf("MarkRevealed failed: %v", err)
	}
	if _, err := e.roles.MarkSecretRevealed(ctx, ada.Token); !errors.Is(err, apperr.ErrInvalidTransition) {
		t.Errorf("err = %v, want invalid transition", err)
	}
}

func TestProjectionNeverCarriesDesignMetadata(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	def := e.define(t, spy())
	ada := e.join(t, "Ada")
	if _, err := e.roles.Assign(ctx, testutil.Host(), e.sess.ID, ada.Participant.ID, def.ID); err != nil {
		t.Fatalf("Assign failed: %v", err)
	}
	_, _ = e.roles.MarkRevealed(ctx, ada.Token)
	view, err := e.roles.MarkSecretRevealed(ctx, ada.Token)
	if err != nil {
		t.Fatalf("MarkSecretRevealed failed: %v", err)
	}

	raw, err := json.Marshal(view)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	for _, leak := range []string{"assignment_strategy", "balanced", "scaling_rules", "conflict_rules",
		"not_with", "max_count", "min_count", "metadata", "designer_note", "session_id"} {
		if strings.Contains(string(raw), leak) {
			t.Errorf("projection contains %q: %s", leak, raw)
		}
	}
}

func TestAutoAssign(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	spyIn := spy()
	spyIn.MinCount = 1
	spyDef := e.define(t, spyIn)
	crew := e.define(t, roles.DefinitionInput{Name: "Crew", MaxCount: 3})
	for i := 0; i < 6; i++ {
		e.join(t, fmt.Sprintf("P%d", i))
	}

	got, err := e.roles.AutoAssign(ctx, testutil.Host(), e.sess.ID)
	if err != nil {
		t.Fatalf("AutoAssign failed: %v", err)
	}
	// Spy (max 1) + Crew (max 3) leaves two participants without a role.
	if len(got) != 4 {
		t.Fatalf("assigned %d, want 4", len(got))
	}
	counts := map[primitive.ObjectID]int{}
	seen := map[primitive.ObjectID]bool{}
	for _, a := range got {
		counts[a.RoleDefinitionID]++
		if seen[a.ParticipantID] {
			t.Errorf("participant %s assigned twice", a.ParticipantID.Hex())
		}
		seen[a.ParticipantID] = true
	}
	if counts[spyDef.ID] != 1 || counts[crew.ID] != 3 {
		t.Errorf("counts = spy:%d crew:%d, want 1 and 3", counts[spyDef.ID], counts[crew.ID])
	}

	// A second pass has nowhere left to put anyone.
	again, err := e.roles.AutoAssign(ctx, testutil.Host(), e.sess.ID)
	if err != nil {
		t.Fatalf("second AutoAssign failed: %v", err)
	}
	if len(again) != 0 {
		t.Errorf("second pass assigned %d, want 0", len(again))
	}
}

func TestAutoAssign_NoRoles(t *testing.T) {
	e := newEnv(t)
	e.join(t, "Ada")
	if _, err := e.roles.AutoAssign(context.Background(), testutil.Host(), e.sess.ID); !errors.Is(err, apperr.ErrInvalidTransition) {
		t.Errorf("err = %v, want invalid transition", err)
	}
}
