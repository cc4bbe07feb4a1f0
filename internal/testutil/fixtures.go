package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/dalemusser/liveplay/internal/app/store"
	"github.com/dalemusser/liveplay/internal/domain/models"
	"github.com/google/uuid"
)

// Fixtures inserts rows straight into a store set, bypassing the services.
type Fixtures struct {
	set store.Set
	t   *testing.T
	now time.Time
}

// NewFixtures creates a new Fixtures instance stamping rows with now.
func NewFixtures(t *testing.T, set store.Set, now time.Time) *Fixtures {
	t.Helper()
	return &Fixtures{set: set, t: t, now: now}
}

// CreateSession inserts an active session owned by Host() with default
// settings and the given code.
func (f *Fixtures) CreateSession(ctx context.Context, code string) models.Session {
	f.t.Helper()
	return f.CreateSessionWith(ctx, code, models.DefaultSessionSettings())
}

// CreateSessionWith inserts an active session owned by Host().
func (f *Fixtures) CreateSessionWith(ctx context.Context, code string, settings models.SessionSettings) models.Session {
	f.t.Helper()

	sess := models.Session{
		Code:      code,
		TenantID:  TenantID,
		HostID:    HostID,
		Title:     "Fixture " + code,
		Status:    models.SessionActive,
		Settings:  settings,
		CreatedAt: f.now,
		StartedAt: f.now,
		UpdatedAt: f.now,
	}
	if err := f.set.Sessions.Insert(ctx, &sess); err != nil {
		f.t.Fatalf("failed to create test session: %v", err)
	}
	return sess
}

// CreateParticipant inserts an active player whose token expires in 24h.
func (f *Fixtures) CreateParticipant(ctx context.Context, sess models.Session, name string) models.Participant {
	f.t.Helper()

	exp := f.now.Add(24 * time.Hour)
	p := models.Participant{
		SessionID:      sess.ID,
		TenantID:       sess.TenantID,
		DisplayName:    name,
		Token:          uuid.NewString(),
		TokenExpiresAt: &exp,
		Status:         models.ParticipantActive,
		Role:           models.RolePlayer,
		JoinedAt:       f.now,
		LastSeenAt:     f.now,
		LastActivityAt: f.now,
	}
	if err := f.set.Participants.Insert(ctx, &p); err != nil {
		f.t.Fatalf("failed to create test participant: %v", err)
	}
	return p
}
