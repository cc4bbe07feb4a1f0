package auditlog_test

import (
	"testing"

	"github.com/dalemusser/liveplay/internal/app/store/memory"
	"github.com/dalemusser/liveplay/internal/app/system/auditlog"
	"github.com/dalemusser/liveplay/internal/domain/models"
	"github.com/dalemusser/liveplay/internal/testutil"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestLogger_NilLogger(t *testing.T) {
	var logger *auditlog.Logger
	ctx, cancel := testutil.TestContext()
	defer cancel()

	logger.Log(ctx, models.ActivityLogEntry{EventType: "test"})
	logger.LogMany(ctx, []models.ActivityLogEntry{{EventType: "test"}})
	if entries, err := logger.List(ctx, primitive.NewObjectID(), 10); err != nil || entries != nil {
		t.Errorf("List on nil logger = %v, %v", entries, err)
	}
}

func TestLogger_Modes(t *testing.T) {
	tests := []struct {
		mode    string
		wantDB  int
		wantZap int
	}{
		{mode: auditlog.ModeAll, wantDB: 2, wantZap: 2},
		{mode: "", wantDB: 2, wantZap: 2},
		{mode: auditlog.ModeDB, wantDB: 2, wantZap: 0},
		{mode: auditlog.ModeLog, wantDB: 0, wantZap: 2},
		{mode: auditlog.ModeOff, wantDB: 0, wantZap: 0},
	}

	for _, tt := range tests {
		t.Run("mode="+tt.mode, func(t *testing.T) {
			ctx, cancel := testutil.TestContext()
			defer cancel()

			mem := memory.New().Set()
			core, logs := observer.New(zapcore.InfoLevel)
			logger := auditlog.New(mem.Activity, zap.New(core), auditlog.Config{Mode: tt.mode})

			sess := models.Session{ID: primitive.NewObjectID(), TenantID: "t1"}
			logger.Log(ctx, auditlog.Entry(sess, "h1", models.EventSessionCreated, nil))
			logger.LogMany(ctx, []models.ActivityLogEntry{
				auditlog.ParticipantEntry(models.Participant{ID: primitive.NewObjectID(), SessionID: sess.ID}, "", models.EventTokenExpired, nil),
			})

			entries, err := mem.Activity.ListBySession(ctx, sess.ID, 10)
			if err != nil {
				t.Fatalf("ListBySession failed: %v", err)
			}
			if len(entries) != tt.wantDB {
				t.Errorf("stored %d entries, want %d", len(entries), tt.wantDB)
			}
			if got := logs.FilterMessage("session activity").Len(); got != tt.wantZap {
				t.Errorf("zap logged %d entries, want %d", got, tt.wantZap)
			}
		})
	}
}

func TestParticipantEntry_CarriesParticipant(t *testing.T) {
	p := models.Participant{ID: primitive.NewObjectID(), SessionID: primitive.NewObjectID(), TenantID: "t1"}
	e := auditlog.ParticipantEntry(p, "h1", models.EventParticipantKicked, map[string]string{"reason": "spam"})

	if e.ParticipantID == nil || *e.ParticipantID != p.ID {
		t.Errorf("ParticipantID = %v, want %v", e.ParticipantID, p.ID)
	}
	if e.SessionID != p.SessionID || e.TenantID != "t1" || e.ActorID != "h1" {
		t.Errorf("unexpected entry: %+v", e)
	}
}
