package sessions_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/dalemusser/liveplay/internal/app/features/sessions"
	"github.com/dalemusser/liveplay/internal/app/services"
	"github.com/dalemusser/liveplay/internal/app/system/broadcast"
	"github.com/dalemusser/liveplay/internal/app/system/workers"
	"github.com/dalemusser/liveplay/internal/domain/models"
	"github.com/dalemusser/liveplay/internal/testutil"
	"github.com/dalemusser/liveplay/internal/testutil/apptest"
	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

func newRouter(app *apptest.App) http.Handler {
	h := sessions.NewHandler(app.Services, nil, zap.NewNop())
	r := chi.NewRouter()
	r.Route("/api/sessions", func(r chi.Router) {
		sessions.MountRoutes(r, h)
	})
	r.Mount("/ws/sessions", sessions.WSRoutes(h))
	return r
}

func TestCreateAndList(t *testing.T) {
	app := apptest.New(t, services.Config{})
	router := newRouter(app)

	rec := apptest.Serve(router, testutil.NewJSONRequest("POST", "/api/sessions", map[string]any{"title": "Friday quiz"}))
	rec.AssertStatus(t, http.StatusUnauthorized)

	req := testutil.WithActor(testutil.NewJSONRequest("POST", "/api/sessions", map[string]any{"title": "Friday quiz"}), testutil.Host())
	rec = apptest.Serve(router, req)
	rec.AssertStatus(t, http.StatusCreated)
	var created models.Session
	rec.DecodeJSON(t, &created)
	if len(created.Code) != 6 || created.Status != models.SessionActive {
		t.Fatalf("created = %+v", created)
	}

	rec = apptest.Serve(router, testutil.WithActor(testutil.NewRequest("GET", "/api/sessions/mine"), testutil.Host()))
	rec.AssertStatus(t, http.StatusOK)
	var mine struct {
		Sessions []models.Session `json:"sessions"`
	}
	rec.DecodeJSON(t, &mine)
	if len(mine.Sessions) != 1 || mine.Sessions[0].Code != created.Code {
		t.Errorf("mine = %+v", mine)
	}

	rec = apptest.Serve(router, testutil.WithActor(testutil.NewRequest("GET", "/api/sessions/mine"), testutil.OtherHost()))
	rec.AssertStatus(t, http.StatusOK)
	rec.AssertNotContains(t, created.Code)
}

func TestCreate_InvalidBody(t *testing.T) {
	app := apptest.New(t, services.Config{})
	router := newRouter(app)

	req := testutil.WithActor(testutil.NewJSONRequest("POST", "/api/sessions", `{"title":"x","bogus":true}`), testutil.Host())
	apptest.Serve(router, req).AssertStatus(t, http.StatusBadRequest)

	req = testutil.WithActor(testutil.NewJSONRequest("POST", "/api/sessions", map[string]any{
		"settings": map[string]any{"max_participants": 0},
	}), testutil.Host())
	apptest.Serve(router, req).AssertStatus(t, http.StatusBadRequest)
}

func TestLobby_NotFoundIsUniform(t *testing.T) {
	app := apptest.New(t, services.Config{})
	router := newRouter(app)
	sess := app.Fixtures.CreateSession(context.Background(), "AB3X9K")
	app.Fixtures.CreateParticipant(context.Background(), sess, "Ada")

	rec := apptest.Serve(router, testutil.NewRequest("GET", "/api/sessions/ab3-x9k"))
	rec.AssertStatus(t, http.StatusOK)
	rec.AssertContains(t, `"display_name":"Ada"`)
	rec.AssertNotContains(t, "token")

	malformed := apptest.Serve(router, testutil.NewRequest("GET", "/api/sessions/zz"))
	unknown := apptest.Serve(router, testutil.NewRequest("GET", "/api/sessions/ZZZZZZ"))
	malformed.AssertStatus(t, http.StatusNotFound)
	unknown.AssertStatus(t, http.StatusNotFound)
	if malformed.Body.String() != unknown.Body.String() {
		t.Errorf("bodies differ: %q vs %q", malformed.Body.String(), unknown.Body.String())
	}
}

func TestJoinAndRejoin(t *testing.T) {
	app := apptest.New(t, services.Config{})
	router := newRouter(app)
	app.Fixtures.CreateSession(context.Background(), "AB3X9K")

	rec := apptest.Serve(router, testutil.NewJSONRequest("POST", "/api/sessions/AB3X9K/join", map[string]any{"display_name": "<b>Ada</b>"}))
	rec.AssertStatus(t, http.StatusCreated)
	var joined struct {
		Participant models.Participant `json:"participant"`
		Token       string             `json:"token"`
	}
	rec.DecodeJSON(t, &joined)
	if joined.Token == "" || joined.Participant.DisplayName != "Ada" {
		t.Fatalf("joined = %+v", joined)
	}

	apptest.Serve(router, testutil.NewRequest("POST", "/api/sessions/AB3X9K/rejoin")).AssertStatus(t, http.StatusUnauthorized)

	req := testutil.WithParticipantToken(testutil.NewRequest("POST", "/api/sessions/AB3X9K/rejoin"), joined.Token)
	apptest.Serve(router, req).AssertStatus(t, http.StatusOK)

	req = testutil.WithParticipantToken(testutil.NewRequest("POST", "/api/sessions/AB3X9K/rejoin"), "not-a-token")
	apptest.Serve(router, req).AssertStatus(t, http.StatusNotFound)
}

func TestJoin_RateLimited(t *testing.T) {
	app := apptest.New(t, services.Config{JoinRateLimit: 1, JoinRateWindow: time.Minute})
	router := newRouter(app)
	app.Fixtures.CreateSession(context.Background(), "AB3X9K")

	body := map[string]any{"display_name": "Ada"}
	apptest.Serve(router, testutil.NewJSONRequest("POST", "/api/sessions/AB3X9K/join", body)).AssertStatus(t, http.StatusCreated)

	rec := apptest.Serve(router, testutil.NewJSONRequest("POST", "/api/sessions/AB3X9K/join", body))
	rec.AssertStatus(t, http.StatusTooManyRequests)
	if rec.Header().Get("Retry-After") == "" {
		t.Error("expected Retry-After header")
	}
}

func TestAdvance(t *testing.T) {
	app := apptest.New(t, services.Config{})
	router := newRouter(app)
	sess := app.Fixtures.CreateSession(context.Background(), "AB3X9K")
	path := "/api/sessions/" + sess.ID.Hex() + "/advance"

	tests := []struct {
		name string
		body any
		want int
	}{
		{"forward", map[string]any{"step": 2, "phase": 1}, http.StatusOK},
		{"same position", map[string]any{"step": 2, "phase": 1}, http.StatusOK},
		{"regress", map[string]any{"step": 1, "phase": 0}, http.StatusConflict},
		{"missing step", map[string]any{"phase": 1}, http.StatusBadRequest},
		{"negative phase", map[string]any{"step": 3, "phase": -1}, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := testutil.WithActor(testutil.NewJSONRequest("POST", path, tt.body), testutil.Host())
			apptest.Serve(router, req).AssertStatus(t, tt.want)
		})
	}

	req := testutil.WithActor(testutil.NewJSONRequest("POST", path, map[string]any{"step": 5}), testutil.OtherHost())
	apptest.Serve(router, req).AssertStatus(t, http.StatusForbidden)

	req = testutil.WithActor(testutil.NewJSONRequest("POST", "/api/sessions/not-an-id/advance", map[string]any{"step": 5}), testutil.Host())
	apptest.Serve(router, req).AssertStatus(t, http.StatusNotFound)
}

func TestStatusAndDelete(t *testing.T) {
	app := apptest.New(t, services.Config{Sweeper: workers.SweeperConfig{ArchiveRetention: 24 * time.Hour}})
	router := newRouter(app)
	sess := app.Fixtures.CreateSession(context.Background(), "AB3X9K")
	base := "/api/sessions/" + sess.ID.Hex()

	apptest.Serve(router, testutil.WithActor(testutil.NewRequest("DELETE", base), testutil.Host())).
		AssertStatus(t, http.StatusConflict)

	req := testutil.WithActor(testutil.NewJSONRequest("POST", base+"/status", map[string]any{"status": "ended"}), testutil.Host())
	apptest.Serve(router, req).AssertStatus(t, http.StatusOK)

	req = testutil.WithActor(testutil.NewJSONRequest("POST", base+"/status", map[string]any{"status": "active"}), testutil.Host())
	apptest.Serve(router, req).AssertStatus(t, http.StatusConflict)

	req = testutil.WithActor(testutil.NewJSONRequest("POST", base+"/status", map[string]any{"status": "archived"}), testutil.Admin())
	apptest.Serve(router, req).AssertStatus(t, http.StatusConflict)

	app.Clock.Advance(25 * time.Hour)
	req = testutil.WithActor(testutil.NewJSONRequest("POST", base+"/status", map[string]any{"status": "archived"}), testutil.Admin())
	apptest.Serve(router, req).AssertStatus(t, http.StatusOK)

	app.Clock.Advance(8 * 24 * time.Hour)
	rec := apptest.Serve(router, testutil.WithActor(testutil.NewRequest("DELETE", base), testutil.Host()))
	rec.AssertStatus(t, http.StatusOK)
	rec.AssertContains(t, `"session_id":"`+sess.ID.Hex()+`"`)

	apptest.Serve(router, testutil.NewRequest("GET", "/api/sessions/AB3X9K")).AssertStatus(t, http.StatusNotFound)
}

func TestWS_Authorisation(t *testing.T) {
	app := apptest.New(t, services.Config{})
	router := newRouter(app)
	ctx := context.Background()
	sess := app.Fixtures.CreateSession(ctx, "AB3X9K")
	other := app.Fixtures.CreateSession(ctx, "CD4Y7M")
	outsider := app.Fixtures.CreateParticipant(ctx, other, "Eve")
	path := "/ws/sessions/" + sess.ID.Hex()

	apptest.Serve(router, testutil.NewRequest("GET", path)).AssertStatus(t, http.StatusUnauthorized)
	apptest.Serve(router, testutil.WithParticipantToken(testutil.NewRequest("GET", path), outsider.Token)).
		AssertStatus(t, http.StatusNotFound)
	apptest.Serve(router, testutil.WithActor(testutil.NewRequest("GET", path), testutil.OtherHost())).
		AssertStatus(t, http.StatusForbidden)
}

func TestWS_ParticipantReceivesEvents(t *testing.T) {
	app := apptest.New(t, services.Config{})
	srv := httptest.NewServer(newRouter(app))
	defer srv.Close()
	ctx := context.Background()
	sess := app.Fixtures.CreateSession(ctx, "AB3X9K")
	p := app.Fixtures.CreateParticipant(ctx, sess, "Ada")

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/sessions/" + sess.ID.Hex() + "?token=" + p.Token
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(time.Second)
	for app.Hub.SubscriberCount(sess.ID) == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if _, err := app.Sessions.Advance(ctx, testutil.Host(), sess.ID, 1, 0); err != nil {
		t.Fatalf("Advance failed: %v", err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(time.Second))
	var got broadcast.Event
	if err := conn.ReadJSON(&got); err != nil {
		t.Fatalf("read: %v", err)
	}
	if got.Type != broadcast.EventPositionChanged {
		t.Errorf("type = %q, want %q", got.Type, broadcast.EventPositionChanged)
	}
}
