// Package gates provides the request gates shared by the JSON API handlers.
//
// # Two-Tier Authorization Pattern
//
//  1. Route-Level Middleware (HostOnly)
//     Applied in routes.go files for routes that only hosts may call.
//
//  2. Service Checks
//     Ownership, tenant scope and participant admission are decided by the
//     services, which receive the identity.Actor or the participant token
//     explicitly. Handlers never make those decisions.
//
// Gates write a JSON error and return ok=false when a check fails, so a
// handler can simply return.
package gates

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/dalemusser/liveplay/internal/app/system/apperr"
	"github.com/dalemusser/liveplay/internal/app/system/identity"
	"github.com/dalemusser/liveplay/internal/app/system/inputval"
	"github.com/go-chi/chi/v5"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// RequireHost returns the host identity loaded by identity.LoadActor.
// Without one it writes 401.
func RequireHost(w http.ResponseWriter, r *http.Request) (identity.Actor, bool) {
	a, ok := identity.FromContext(r.Context())
	if !ok || a.HostID == "" {
		apperr.Write(w, apperr.New(apperr.ErrUnauthorized, "host sign-in required"))
		return identity.Actor{}, false
	}
	return a, true
}

// RequireAdmin is RequireHost plus the operator flag. A host without it
// gets 403.
func RequireAdmin(w http.ResponseWriter, r *http.Request) (identity.Actor, bool) {
	a, ok := RequireHost(w, r)
	if !ok {
		return a, false
	}
	if !a.IsAdmin {
		apperr.Write(w, apperr.New(apperr.ErrForbidden, "operator access required"))
		return identity.Actor{}, false
	}
	return a, true
}

// HostOnly is middleware that rejects requests without a host identity.
func HostOnly(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := RequireHost(w, r); !ok {
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RequireParticipant returns the participant token header. Without one it
// writes 401. The token itself is checked by the service.
func RequireParticipant(w http.ResponseWriter, r *http.Request) (string, bool) {
	tok := identity.ParticipantToken(r)
	if tok == "" {
		apperr.Write(w, apperr.New(apperr.ErrUnauthorized, "participant token required"))
		return "", false
	}
	return tok, true
}

// Caller returns whichever credentials the request carries: the host actor
// (zero when absent) and the participant token (empty when absent).
func Caller(r *http.Request) (identity.Actor, string) {
	a, _ := identity.FromContext(r.Context())
	return a, identity.ParticipantToken(r)
}

// ObjectID parses the chi URL parameter name. A malformed value is reported
// as "<noun> not found" so format and existence errors look the same.
func ObjectID(w http.ResponseWriter, r *http.Request, name, noun string) (primitive.ObjectID, bool) {
	id, err := primitive.ObjectIDFromHex(strings.TrimSpace(chi.URLParam(r, name)))
	if err != nil {
		apperr.Write(w, apperr.New(apperr.ErrNotFound, noun+" not found"))
		return primitive.NilObjectID, false
	}
	return id, true
}

// DecodeJSON reads at most max bytes of JSON from the body into dst and
// writes 400 on failure.
func DecodeJSON(w http.ResponseWriter, r *http.Request, max int64, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, max)
	if err := inputval.DecodeJSON(r.Body, dst); err != nil {
		apperr.Write(w, apperr.New(apperr.ErrInvalidInput, "invalid request body: "+err.Error()))
		return false
	}
	return true
}

// JSON writes v with the given status.
func JSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
