package participant_test

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/dalemusser/liveplay/internal/app/features/participant"
	"github.com/dalemusser/liveplay/internal/app/services"
	rolesvc "github.com/dalemusser/liveplay/internal/app/services/roles"
	"github.com/dalemusser/liveplay/internal/domain/models"
	"github.com/dalemusser/liveplay/internal/testutil"
	"github.com/dalemusser/liveplay/internal/testutil/apptest"
	"go.uber.org/zap"
)

func newRouter(app *apptest.App) http.Handler {
	return participant.Routes(participant.NewHandler(app.Registry, app.Roles, zap.NewNop()))
}

func TestMe(t *testing.T) {
	app := apptest.New(t, services.Config{})
	router := newRouter(app)
	sess := app.Fixtures.CreateSession(context.Background(), "AB3X9K")
	p := app.Fixtures.CreateParticipant(context.Background(), sess, "Ada")

	apptest.Serve(router, testutil.NewRequest("GET", "/me")).AssertStatus(t, http.StatusUnauthorized)

	rec := apptest.Serve(router, testutil.WithParticipantToken(testutil.NewRequest("GET", "/me"), p.Token))
	rec.AssertStatus(t, http.StatusOK)
	rec.AssertContains(t, `"display_name":"Ada"`)
	rec.AssertNotContains(t, p.Token)

	app.Clock.Advance(25 * time.Hour)
	rec = apptest.Serve(router, testutil.WithParticipantToken(testutil.NewRequest("GET", "/me"), p.Token))
	rec.AssertStatus(t, http.StatusUnauthorized)
	rec.AssertContains(t, "token_expired")
}

func TestHeartbeat(t *testing.T) {
	app := apptest.New(t, services.Config{IdleThreshold: 2 * time.Minute})
	router := newRouter(app)
	sess := app.Fixtures.CreateSession(context.Background(), "AB3X9K")
	p := app.Fixtures.CreateParticipant(context.Background(), sess, "Ada")

	app.Clock.Advance(time.Minute)
	rec := apptest.Serve(router, testutil.WithParticipantToken(testutil.NewJSONRequest("POST", "/heartbeat", map[string]any{}), p.Token))
	rec.AssertStatus(t, http.StatusOK)
	rec.AssertContains(t, `"status":"active"`)

	app.Clock.Advance(5 * time.Minute)
	stale := app.Clock.Now().Add(-3 * time.Minute)
	rec = apptest.Serve(router, testutil.WithParticipantToken(
		testutil.NewJSONRequest("POST", "/heartbeat", map[string]any{"last_activity_at": stale}), p.Token))
	rec.AssertStatus(t, http.StatusOK)
	rec.AssertContains(t, `"status":"idle"`)
}

func TestRoleReveal(t *testing.T) {
	app := apptest.New(t, services.Config{})
	router := newRouter(app)
	ctx := context.Background()
	sess := app.Fixtures.CreateSession(ctx, "AB3X9K")
	p := app.Fixtures.CreateParticipant(ctx, sess, "Ada")

	req := testutil.WithParticipantToken(testutil.NewRequest("GET", "/role"), p.Token)
	apptest.Serve(router, req).AssertStatus(t, http.StatusNotFound)

	def, err := app.Roles.Define(ctx, testutil.Host(), sess.ID, rolesvc.DefinitionInput{
		Name:               "Spy",
		SecretInstructions: "Find the key",
		Metadata:           map[string]any{"designer_note": "internal-only"},
	})
	if err != nil {
		t.Fatalf("Define failed: %v", err)
	}
	if _, err := app.Roles.Assign(ctx, testutil.Host(), sess.ID, p.ID, def.ID); err != nil {
		t.Fatalf("Assign failed: %v", err)
	}

	post := func(path string) *testutil.ResponseRecorder {
		return apptest.Serve(router, testutil.WithParticipantToken(testutil.NewRequest("POST", path), p.Token))
	}

	post("/role/reveal-secret").AssertStatus(t, http.StatusConflict)

	rec := post("/role/reveal")
	rec.AssertStatus(t, http.StatusOK)
	rec.AssertContains(t, `"revealed":true`)
	rec.AssertNotContains(t, "Find the key")

	rec = post("/role/reveal-secret")
	rec.AssertStatus(t, http.StatusOK)
	var view models.PublicRoleView
	rec.DecodeJSON(t, &view)
	if view.SecretInstructions != "Find the key" || !view.SecretRevealed {
		t.Errorf("view = %+v", view)
	}

	rec = apptest.Serve(router, testutil.WithParticipantToken(testutil.NewRequest("GET", "/role"), p.Token))
	rec.AssertStatus(t, http.StatusOK)
	rec.AssertNotContains(t, "designer_note")
	rec.AssertNotContains(t, "internal-only")
}

func TestKickedParticipantIsRejected(t *testing.T) {
	app := apptest.New(t, services.Config{})
	router := newRouter(app)
	ctx := context.Background()
	sess := app.Fixtures.CreateSession(ctx, "AB3X9K")
	p := app.Fixtures.CreateParticipant(ctx, sess, "Ada")

	if _, err := app.Registry.SetStatus(ctx, testutil.Host(), sess.ID, p.ID, models.ParticipantBlocked, "abuse"); err != nil {
		t.Fatalf("SetStatus failed: %v", err)
	}
	rec := apptest.Serve(router, testutil.WithParticipantToken(testutil.NewJSONRequest("POST", "/heartbeat", map[string]any{}), p.Token))
	rec.AssertStatus(t, http.StatusForbidden)
	rec.AssertContains(t, "token_rejected")
}
