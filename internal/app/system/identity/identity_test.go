package identity_test

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/dalemusser/liveplay/internal/app/system/identity"
	"github.com/dalemusser/liveplay/internal/domain/models"
	"github.com/gorilla/securecookie"
	"go.uber.org/zap"
)

const secret = "test-secret-with-enough-length-123"

func newResolver(t *testing.T) *identity.Resolver {
	t.Helper()
	r, err := identity.NewResolver(identity.Config{
		JWTSecret: secret,
		CookieKey: "0123456789abcdef0123456789abcdef",
	}, zap.NewNop())
	if err != nil {
		t.Fatalf("NewResolver failed: %v", err)
	}
	return r
}

func TestNewResolver_RequiresACarrier(t *testing.T) {
	if _, err := identity.NewResolver(identity.Config{}, zap.NewNop()); err == nil {
		t.Error("expected error with no secret and no cookie key")
	}
}

func TestFromRequest_Bearer(t *testing.T) {
	r := newResolver(t)
	want := identity.Actor{HostID: "h1", TenantID: "t1", IsAdmin: true}
	tok, err := r.IssueBearer(want, time.Hour, time.Now())
	if err != nil {
		t.Fatalf("IssueBearer failed: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+tok)
	got, err := r.FromRequest(req)
	if err != nil {
		t.Fatalf("FromRequest failed: %v", err)
	}
	if got != want {
		t.Errorf("actor = %+v, want %+v", got, want)
	}
}

func TestFromRequest_BadBearer(t *testing.T) {
	r := newResolver(t)
	now := time.Now()

	expired, _ := identity.SignBearer([]byte(secret), identity.Actor{HostID: "h1"}, time.Minute, now.Add(-time.Hour))
	wrongKey, _ := identity.SignBearer([]byte("another-secret-entirely-000000000"), identity.Actor{HostID: "h1"}, time.Hour, now)
	noSubject, _ := identity.SignBearer([]byte(secret), identity.Actor{TenantID: "t1"}, time.Hour, now)

	tests := []struct {
		name   string
		header string
	}{
		{"expired", "Bearer " + expired},
		{"wrong key", "Bearer " + wrongKey},
		{"no subject", "Bearer " + noSubject},
		{"garbage", "Bearer not-a-jwt"},
		{"basic scheme", "Basic aDE6cHc="},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.Header.Set("Authorization", tt.header)
			_, err := r.FromRequest(req)
			if err == nil {
				t.Fatal("expected error")
			}
			if errors.Is(err, identity.ErrNoIdentity) {
				t.Error("invalid credentials must not read as absent")
			}
		})
	}
}

func TestFromRequest_Cookie(t *testing.T) {
	r := newResolver(t)
	want := identity.Actor{HostID: "h2", TenantID: "t2"}

	rec := httptest.NewRecorder()
	if err := r.SaveCookie(rec, httptest.NewRequest(http.MethodGet, "/", nil), want); err != nil {
		t.Fatalf("SaveCookie failed: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	for _, c := range rec.Result().Cookies() {
		req.AddCookie(c)
	}
	got, err := r.FromRequest(req)
	if err != nil {
		t.Fatalf("FromRequest failed: %v", err)
	}
	if got != want {
		t.Errorf("actor = %+v, want %+v", got, want)
	}
}

func TestFromRequest_ForgedCookie(t *testing.T) {
	r := newResolver(t)

	forger := securecookie.New([]byte("another-key-another-key-another!!"), nil)
	value, err := forger.Encode("liveplay-host", map[interface{}]interface{}{"host_id": "mallory"})
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: "liveplay-host", Value: value})

	_, err = r.FromRequest(req)
	if !errors.Is(err, identity.ErrBadCookie) {
		t.Errorf("err = %v, want ErrBadCookie", err)
	}
}

func TestFromRequest_None(t *testing.T) {
	r := newResolver(t)
	_, err := r.FromRequest(httptest.NewRequest(http.MethodGet, "/", nil))
	if !errors.Is(err, identity.ErrNoIdentity) {
		t.Errorf("err = %v, want ErrNoIdentity", err)
	}
}

func TestLoadActor(t *testing.T) {
	r := newResolver(t)
	tok, _ := r.IssueBearer(identity.Actor{HostID: "h1", TenantID: "t1"}, time.Hour, time.Now())

	var seen identity.Actor
	var ok bool
	h := r.LoadActor(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		seen, ok = identity.FromContext(req.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+tok)
	h.ServeHTTP(httptest.NewRecorder(), req)
	if !ok || seen.HostID != "h1" {
		t.Errorf("actor = %+v (ok=%v), want h1", seen, ok)
	}

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer junk")
	h.ServeHTTP(httptest.NewRecorder(), req)
	if ok {
		t.Error("invalid bearer should leave the context without an actor")
	}
}

func TestCanManage(t *testing.T) {
	sess := models.Session{HostID: "h1", TenantID: "t1"}
	tests := []struct {
		name  string
		actor identity.Actor
		want  bool
	}{
		{"owner", identity.Actor{HostID: "h1", TenantID: "t1"}, true},
		{"same host other tenant", identity.Actor{HostID: "h1", TenantID: "t2"}, false},
		{"other host", identity.Actor{HostID: "h2", TenantID: "t1"}, false},
		{"admin", identity.Actor{HostID: "ops", IsAdmin: true}, true},
		{"system", identity.SystemActor(), true},
		{"anonymous", identity.Actor{}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.actor.CanManage(sess); got != tt.want {
				t.Errorf("CanManage = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestParticipantToken(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(identity.ParticipantTokenHeader, "  abc  ")
	if got := identity.ParticipantToken(req); got != "abc" {
		t.Errorf("ParticipantToken = %q, want abc", got)
	}
}
