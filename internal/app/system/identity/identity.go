// Package identity resolves the host calling the API.
//
// Hosts authenticate with the external identity provider; this package only
// reads what the provider hands over. Two carriers are accepted: an
// HS256-signed bearer token (Authorization: Bearer ...) and the provider's
// session cookie. The result is an Actor, which handlers pass explicitly to
// every service call.
package identity

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/dalemusser/liveplay/internal/domain/models"
	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/securecookie"
	"github.com/gorilla/sessions"
	"go.uber.org/zap"
)

// ParticipantTokenHeader carries a participant's bearer token.
const ParticipantTokenHeader = "x-participant-token"

// Session cookie value keys.
const (
	hostIDKey   = "host_id"
	tenantIDKey = "tenant_id"
	isAdminKey  = "is_admin"
)

// ErrNoIdentity means the request carried no host credentials.
var ErrNoIdentity = errors.New("identity: no host credentials")

// ErrBadCookie means the session cookie failed verification, usually after
// the provider rotated its key.
var ErrBadCookie = errors.New("identity: session cookie rejected")

// Actor is an authenticated host, an operator, or the runtime itself.
type Actor struct {
	HostID   string
	TenantID string
	IsAdmin  bool
	// System marks calls the runtime makes on its own behalf (join path,
	// sweeper). It is never produced from a request.
	System bool
}

// SystemActor is used for runtime-initiated calls.
func SystemActor() Actor { return Actor{HostID: "system", System: true} }

// Privileged reports whether a may act on any tenant.
func (a Actor) Privileged() bool { return a.IsAdmin || a.System }

// CanManage reports whether a may act as host of sess.
func (a Actor) CanManage(sess models.Session) bool {
	if a.Privileged() {
		return true
	}
	return a.HostID != "" && sess.OwnedBy(a.HostID, a.TenantID)
}

// Claims is the bearer token payload. Subject is the host ID.
type Claims struct {
	TenantID string `json:"tenant_id"`
	Admin    bool   `json:"admin,omitempty"`
	jwt.RegisteredClaims
}

// Config configures a Resolver. Either carrier may be left unset.
type Config struct {
	JWTSecret  string
	CookieName string
	CookieKey  string
	Secure     bool
}

// Resolver extracts Actors from requests.
type Resolver struct {
	secret     []byte
	cookieName string
	cookies    *sessions.CookieStore
	log        *zap.Logger
}

// NewResolver builds a Resolver. A cookie key shorter than 32 bytes is
// accepted with a warning.
func NewResolver(cfg Config, logger *zap.Logger) (*Resolver, error) {
	if cfg.JWTSecret == "" && cfg.CookieKey == "" {
		return nil, fmt.Errorf("identity: neither a JWT secret nor a cookie key is configured")
	}
	r := &Resolver{secret: []byte(cfg.JWTSecret), cookieName: cfg.CookieName, log: logger}
	if cfg.CookieKey != "" {
		if len(cfg.CookieKey) < 32 {
			logger.Warn("identity cookie key is short; 32+ chars recommended",
				zap.Int("length", len(cfg.CookieKey)))
		}
		store := sessions.NewCookieStore([]byte(cfg.CookieKey))
		store.Options = &sessions.Options{
			Path:     "/",
			HttpOnly: true,
			Secure:   cfg.Secure,
			SameSite: http.SameSiteLaxMode,
		}
		r.cookies = store
		if r.cookieName == "" {
			r.cookieName = "liveplay-host"
		}
	}
	return r, nil
}

// FromRequest returns the Actor behind req. A bearer token wins over the
// cookie. ErrNoIdentity means neither was present; other errors mean a
// credential was present but invalid.
func (r *Resolver) FromRequest(req *http.Request) (Actor, error) {
	if h := req.Header.Get("Authorization"); h != "" {
		raw, ok := strings.CutPrefix(h, "Bearer ")
		if !ok || len(r.secret) == 0 {
			return Actor{}, fmt.Errorf("identity: unsupported authorization header")
		}
		return r.parseBearer(strings.TrimSpace(raw))
	}
	if r.cookies != nil {
		sess, err := r.cookies.Get(req, r.cookieName)
		if err != nil {
			var cerr securecookie.Error
			if errors.As(err, &cerr) && cerr.IsDecode() {
				return Actor{}, fmt.Errorf("%w: %v", ErrBadCookie, err)
			}
			return Actor{}, fmt.Errorf("identity: read cookie: %w", err)
		}
		hostID, _ := sess.Values[hostIDKey].(string)
		if hostID == "" {
			return Actor{}, ErrNoIdentity
		}
		tenantID, _ := sess.Values[tenantIDKey].(string)
		isAdmin, _ := sess.Values[isAdminKey].(bool)
		return Actor{HostID: hostID, TenantID: tenantID, IsAdmin: isAdmin}, nil
	}
	return Actor{}, ErrNoIdentity
}

func (r *Resolver) parseBearer(raw string) (Actor, error) {
	var claims Claims
	_, err := jwt.ParseWithClaims(raw, &claims, func(t *jwt.Token) (any, error) {
		return r.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil {
		return Actor{}, fmt.Errorf("identity: invalid bearer token: %w", err)
	}
	if claims.Subject == "" {
		return Actor{}, fmt.Errorf("identity: bearer token has no subject")
	}
	return Actor{HostID: claims.Subject, TenantID: claims.TenantID, IsAdmin: claims.Admin}, nil
}

// IssueBearer signs a bearer token for a. The identity provider normally
// does this; the CLI and tests use it to mint credentials.
func (r *Resolver) IssueBearer(a Actor, ttl time.Duration, now time.Time) (string, error) {
	if len(r.secret) == 0 {
		return "", fmt.Errorf("identity: no JWT secret configured")
	}
	return SignBearer(r.secret, a, ttl, now)
}

// SignBearer signs a bearer token for a with secret.
func SignBearer(secret []byte, a Actor, ttl time.Duration, now time.Time) (string, error) {
	claims := Claims{
		TenantID: a.TenantID,
		Admin:    a.IsAdmin,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   a.HostID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}

// SaveCookie writes a host session cookie for a.
func (r *Resolver) SaveCookie(w http.ResponseWriter, req *http.Request, a Actor) error {
	if r.cookies == nil {
		return fmt.Errorf("identity: no cookie key configured")
	}
	sess, err := r.cookies.New(req, r.cookieName)
	if err != nil && sess == nil {
		return err
	}
	sess.Values[hostIDKey] = a.HostID
	sess.Values[tenantIDKey] = a.TenantID
	sess.Values[isAdminKey] = a.IsAdmin
	return sess.Save(req, w)
}

type ctxKey struct{}

// WithActor returns ctx carrying a.
func WithActor(ctx context.Context, a Actor) context.Context {
	return context.WithValue(ctx, ctxKey{}, a)
}

// FromContext returns the Actor stored by LoadActor.
func FromContext(ctx context.Context) (Actor, bool) {
	a, ok := ctx.Value(ctxKey{}).(Actor)
	return a, ok
}

// LoadActor puts the request's Actor into the context when one is present.
// Invalid credentials are logged and treated as absent.
func (r *Resolver) LoadActor(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		a, err := r.FromRequest(req)
		switch {
		case err == nil:
			req = req.WithContext(WithActor(req.Context(), a))
		case !errors.Is(err, ErrNoIdentity):
			r.log.Debug("ignoring invalid host credentials", zap.Error(err))
		}
		next.ServeHTTP(w, req)
	})
}

// ParticipantToken returns the participant token header, trimmed.
func ParticipantToken(req *http.Request) string {
	return strings.TrimSpace(req.Header.Get(ParticipantTokenHeader))
}
