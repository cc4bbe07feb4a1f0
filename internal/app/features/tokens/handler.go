// internal/app/features/tokens/handler.go
package tokens

import (
	"net/http"
	"strings"
	"time"

	tokensvc "github.com/dalemusser/liveplay/internal/app/services/tokens"
	"github.com/dalemusser/liveplay/internal/app/system/apperr"
	"github.com/dalemusser/liveplay/internal/app/system/gates"
	"github.com/dalemusser/liveplay/internal/app/system/identity"
	"github.com/dalemusser/liveplay/internal/app/system/inputval"
	"github.com/dalemusser/liveplay/internal/app/system/limits"
	"github.com/dalemusser/liveplay/internal/app/system/workers"
	"github.com/dalemusser/liveplay/internal/domain/models"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

// Handler serves host token management and the operator cleanup trigger.
type Handler struct {
	Tokens  *tokensvc.Service
	Sweeper *workers.Sweeper

	// CleanupSecretHash is the bcrypt hash of the operator cleanup secret.
	// When empty only admins may trigger cleanup.
	CleanupSecretHash []byte

	Log *zap.Logger
}

// NewHandler creates a tokens Handler.
func NewHandler(svc *tokensvc.Service, sweeper *workers.Sweeper, cleanupSecretHash string, logger *zap.Logger) *Handler {
	return &Handler{
		Tokens:            svc,
		Sweeper:           sweeper,
		CleanupSecretHash: []byte(strings.TrimSpace(cleanupSecretHash)),
		Log:               logger,
	}
}

type issueRequest struct {
	SessionID   string `json:"session_id" validate:"required,objectid"`
	DisplayName string `json:"display_name" validate:"required"`
	Hours       int    `json:"hours" validate:"min=0,max=168"`
	NoExpiry    bool   `json:"no_expiry"`
}

type issueResponse struct {
	Participant models.Participant `json:"participant"`
	Token       string             `json:"token"`
}

// ServeIssue handles POST /api/tokens.
func (h *Handler) ServeIssue(w http.ResponseWriter, r *http.Request) {
	actor, ok := gates.RequireHost(w, r)
	if !ok {
		return
	}
	var req issueRequest
	if !gates.DecodeJSON(w, r, limits.MaxJoinBody, &req) {
		return
	}
	if res := inputval.Validate(req); res.HasErrors() {
		apperr.Write(w, apperr.New(apperr.ErrInvalidInput, res.First()))
		return
	}
	sessionID, _ := primitive.ObjectIDFromHex(req.SessionID)

	policy := models.ExpireAfterHours(req.Hours)
	if req.NoExpiry {
		policy = models.NoExpiry()
	}
	p, err := h.Tokens.Issue(r.Context(), actor, sessionID, req.DisplayName, policy)
	if err != nil {
		h.fail(w, "issue token", err)
		return
	}
	gates.JSON(w, http.StatusCreated, issueResponse{Participant: p, Token: p.Token})
}

type extendRequest struct {
	Token string `json:"token"`
	Hours int    `json:"hours"`
}

// ServeExtend handles POST /api/tokens/extend.
func (h *Handler) ServeExtend(w http.ResponseWriter, r *http.Request) {
	actor, ok := gates.RequireHost(w, r)
	if !ok {
		return
	}
	var req extendRequest
	if !gates.DecodeJSON(w, r, limits.MaxJoinBody, &req) {
		return
	}
	expires, err := h.Tokens.Extend(r.Context(), actor, strings.TrimSpace(req.Token), req.Hours)
	if err != nil {
		h.fail(w, "extend token", err)
		return
	}
	gates.JSON(w, http.StatusOK, map[string]time.Time{"token_expires_at": expires})
}

type revokeRequest struct {
	Token  string `json:"token"`
	Reason string `json:"reason" validate:"max=200"`
}

// ServeRevoke handles POST /api/tokens/revoke.
func (h *Handler) ServeRevoke(w http.ResponseWriter, r *http.Request) {
	actor, ok := gates.RequireHost(w, r)
	if !ok {
		return
	}
	var req revokeRequest
	if !gates.DecodeJSON(w, r, limits.MaxJoinBody, &req) {
		return
	}
	if res := inputval.Validate(req); res.HasErrors() {
		apperr.Write(w, apperr.New(apperr.ErrInvalidInput, res.First()))
		return
	}
	p, err := h.Tokens.Revoke(r.Context(), actor, strings.TrimSpace(req.Token), strings.TrimSpace(req.Reason))
	if err != nil {
		h.fail(w, "revoke token", err)
		return
	}
	gates.JSON(w, http.StatusOK, p)
}

// ServeCleanup handles POST /api/tokens/cleanup. It runs the token expiry
// and archive sweep steps, plus idle disconnect, immediately.
func (h *Handler) ServeCleanup(w http.ResponseWriter, r *http.Request) {
	if err := h.authorizeCleanup(r); err != nil {
		apperr.Write(w, err)
		return
	}
	report := h.Sweeper.RunCleanup(r.Context())
	h.Log.Info("token cleanup triggered",
		zap.Int("tokens_expired", report.TokensExpired),
		zap.Int("sessions_archived", report.SessionsArchived),
		zap.Int("idle_disconnected", report.IdleDisconnected))
	gates.JSON(w, http.StatusOK, report)
}

// authorizeCleanup accepts an admin identity or the operator secret as a
// bearer credential.
func (h *Handler) authorizeCleanup(r *http.Request) error {
	if a, ok := identity.FromContext(r.Context()); ok && a.IsAdmin {
		return nil
	}
	secret, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	secret = strings.TrimSpace(secret)
	if !ok || secret == "" {
		if _, isHost := identity.FromContext(r.Context()); isHost {
			return apperr.New(apperr.ErrForbidden, "operator access required")
		}
		return apperr.New(apperr.ErrUnauthorized, "operator credentials required")
	}
	if len(h.CleanupSecretHash) == 0 ||
		bcrypt.CompareHashAndPassword(h.CleanupSecretHash, []byte(secret)) != nil {
		h.Log.Warn("rejected cleanup request", zap.String("ip", r.RemoteAddr))
		return apperr.New(apperr.ErrForbidden, "invalid operator credentials")
	}
	return nil
}

func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	if apperr.Status(err) >= http.StatusInternalServerError {
		h.Log.Error(op+" failed", zap.Error(err))
	}
	apperr.Write(w, err)
}
