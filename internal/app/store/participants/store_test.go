package participants_test

import (
	"errors"
	"testing"
	"time"

	"github.com/dalemusser/liveplay/internal/app/store"
	"github.com/dalemusser/liveplay/internal/app/store/participants"
	"github.com/dalemusser/liveplay/internal/domain/models"
	"github.com/dalemusser/liveplay/internal/testutil"
	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

func newStore(t *testing.T) *participants.Store {
	t.Helper()
	s := participants.New(testutil.SetupTestDB(t))
	ctx, cancel := testutil.TestContext()
	defer cancel()
	if err := s.EnsureIndexes(ctx); err != nil {
		t.Fatalf("EnsureIndexes failed: %v", err)
	}
	return s
}

func newParticipant(sessionID primitive.ObjectID, name string, now time.Time, expires *time.Time) *models.Participant {
	return &models.Participant{
		SessionID:      sessionID,
		TenantID:       testutil.TenantID,
		DisplayName:    name,
		Token:          uuid.NewString(),
		TokenExpiresAt: expires,
		Status:         models.ParticipantActive,
		Role:           models.RolePlayer,
		JoinedAt:       now,
		LastSeenAt:     now,
		LastActivityAt: now,
	}
}

func TestStore_InsertAndGetByToken(t *testing.T) {
	s := newStore(t)
	ctx, cancel := testutil.TestContext()
	defer cancel()
	now := time.Now().UTC().Truncate(time.Millisecond)

	p := newParticipant(primitive.NewObjectID(), "Ada", now, nil)
	if err := s.Insert(ctx, p); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}

	got, err := s.GetByToken(ctx, p.Token)
	if err != nil {
		t.Fatalf("GetByToken failed: %v", err)
	}
	if got.ID != p.ID || got.DisplayName != "Ada" {
		t.Errorf("got %+v, want participant %s", got, p.ID.Hex())
	}

	dup := newParticipant(p.SessionID, "Bob", now, nil)
	dup.Token = p.Token
	if err := s.Insert(ctx, dup); !errors.Is(err, store.ErrDuplicate) {
		t.Errorf("duplicate token err = %v, want ErrDuplicate", err)
	}

	if _, err := s.GetByToken(ctx, uuid.NewString()); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("unknown token err = %v, want ErrNotFound", err)
	}
}

func TestStore_ExtendToken(t *testing.T) {
	s := newStore(t)
	ctx, cancel := testutil.TestContext()
	defer cancel()
	now := time.Now().UTC().Truncate(time.Millisecond)

	exp := now.Add(time.Hour)
	p := newParticipant(primitive.NewObjectID(), "Ada", now, &exp)
	if err := s.Insert(ctx, p); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}

	next := now.Add(3 * time.Hour)
	got, err := s.ExtendToken(ctx, p.ID, exp, next)
	if err != nil {
		t.Fatalf("ExtendToken failed: %v", err)
	}
	if got.TokenExpiresAt == nil || !got.TokenExpiresAt.Equal(next) {
		t.Errorf("token_expires_at = %v, want %v", got.TokenExpiresAt, next)
	}

	// prev no longer matches.
	if _, err := s.ExtendToken(ctx, p.ID, exp, now.Add(5*time.Hour)); !errors.Is(err, store.ErrConflict) {
		t.Errorf("stale ExtendToken err = %v, want ErrConflict", err)
	}
}

func TestStore_RevokeAndRejected(t *testing.T) {
	s := newStore(t)
	ctx, cancel := testutil.TestContext()
	defer cancel()
	now := time.Now().UTC().Truncate(time.Millisecond)

	p := newParticipant(primitive.NewObjectID(), "Ada", now, nil)
	p.NoExpiryReserved = true
	if err := s.Insert(ctx, p); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}

	got, err := s.RevokeToken(ctx, p.ID, "left", now)
	if err != nil {
		t.Fatalf("RevokeToken failed: %v", err)
	}
	if got.Status != models.ParticipantDisconnected || got.TokenExpiresAt == nil {
		t.Errorf("after revoke: status=%s expires=%v", got.Status, got.TokenExpiresAt)
	}
	if _, err := s.RevokeToken(ctx, p.ID, "again", now); !errors.Is(err, store.ErrConflict) {
		t.Errorf("second RevokeToken err = %v, want ErrConflict", err)
	}

	cleared, err := s.ClearReservation(ctx, p.ID)
	if err != nil || !cleared {
		t.Fatalf("first ClearReservation = %v, %v; want true, nil", cleared, err)
	}
	cleared, err = s.ClearReservation(ctx, p.ID)
	if err != nil || cleared {
		t.Errorf("second ClearReservation = %v, %v; want false, nil", cleared, err)
	}

	kicked, err := s.UpdateStatus(ctx, p.ID,
		[]models.ParticipantStatus{models.ParticipantActive, models.ParticipantIdle, models.ParticipantDisconnected},
		models.ParticipantKicked, "spam", now)
	if err != nil {
		t.Fatalf("kick failed: %v", err)
	}
	if kicked.Status != models.ParticipantKicked {
		t.Errorf("status = %s, want kicked", kicked.Status)
	}
	if _, err := s.SetRole(ctx, p.ID, models.RoleObserver); !errors.Is(err, store.ErrConflict) {
		t.Errorf("SetRole on kicked err = %v, want ErrConflict", err)
	}
}

func TestStore_RevokeExpiredBeforeSweep(t *testing.T) {
	s := newStore(t)
	ctx, cancel := testutil.TestContext()
	defer cancel()
	now := time.Now().UTC().Truncate(time.Millisecond)

	past := now.Add(-time.Hour)
	p := newParticipant(primitive.NewObjectID(), "Ada", now.Add(-2*time.Hour), &past)
	if err := s.Insert(ctx, p); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}

	got, err := s.RevokeToken(ctx, p.ID, "$status", now)
	if err != nil {
		t.Fatalf("RevokeToken failed: %v", err)
	}
	if got.Status != models.ParticipantDisconnected {
		t.Errorf("status = %s, want disconnected", got.Status)
	}
	if got.TokenExpiresAt == nil || !got.TokenExpiresAt.Equal(past) {
		t.Errorf("token_expires_at = %v, want %v", got.TokenExpiresAt, past)
	}
	if got.StatusReason != "$status" {
		t.Errorf("status_reason = %q, want the literal reason", got.StatusReason)
	}

	if _, err := s.RevokeToken(ctx, p.ID, "again", now); !errors.Is(err, store.ErrConflict) {
		t.Errorf("second RevokeToken err = %v, want ErrConflict", err)
	}
}

func TestStore_SweepBatches(t *testing.T) {
	s := newStore(t)
	ctx, cancel := testutil.TestContext()
	defer cancel()
	now := time.Now().UTC().Truncate(time.Millisecond)
	sessionID := primitive.NewObjectID()

	past := now.Add(-time.Minute)
	expired := newParticipant(sessionID, "Expired", now, &past)
	idle := newParticipant(sessionID, "Idle", now.Add(-time.Hour), nil)
	fresh := newParticipant(sessionID, "Fresh", now, nil)
	for _, p := range []*models.Participant{expired, idle, fresh} {
		if err := s.Insert(ctx, p); err != nil {
			t.Fatalf("Insert %s failed: %v", p.DisplayName, err)
		}
	}

	got, err := s.ExpireTokens(ctx, now, 10)
	if err != nil {
		t.Fatalf("ExpireTokens failed: %v", err)
	}
	if len(got) != 1 || got[0].ID != expired.ID {
		t.Fatalf("ExpireTokens returned %d rows, want only the expired participant", len(got))
	}
	if got[0].StatusReason != "token_expired" {
		t.Errorf("status_reason = %q, want token_expired", got[0].StatusReason)
	}

	got, err = s.DisconnectIdle(ctx, now.Add(-10*time.Minute), now, 10)
	if err != nil {
		t.Fatalf("DisconnectIdle failed: %v", err)
	}
	if len(got) != 1 || got[0].ID != idle.ID {
		t.Fatalf("DisconnectIdle returned %d rows, want only the idle participant", len(got))
	}

	list, err := s.ListBySession(ctx, sessionID)
	if err != nil {
		t.Fatalf("ListBySession failed: %v", err)
	}
	if len(list) != 3 || list[0].ID != idle.ID {
		t.Errorf("ListBySession = %d rows, want 3 in join order", len(list))
	}

	n, err := s.DeleteBySession(ctx, sessionID)
	if err != nil || n != 3 {
		t.Errorf("DeleteBySession = %d, %v; want 3, nil", n, err)
	}
}
