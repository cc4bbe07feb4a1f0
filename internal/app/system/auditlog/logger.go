// internal/app/system/auditlog/logger.go
package auditlog

import (
	"context"
	"time"

	"github.com/dalemusser/liveplay/internal/app/store"
	"github.com/dalemusser/liveplay/internal/domain/models"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"
)

// Destination modes.
const (
	ModeAll = "all" // store + zap
	ModeDB  = "db"  // store only
	ModeLog = "log" // zap only
	ModeOff = "off"
)

// Config holds activity logging configuration.
type Config struct {
	// Mode is one of all, db, log or off. Empty means all.
	Mode string
}

// Logger writes session activity to the append-only activity log and mirrors
// it to zap. A nil *Logger is a no-op so tests can omit it.
type Logger struct {
	store  store.Activity
	zapLog *zap.Logger
	config Config
}

// New creates a new activity Logger.
func New(s store.Activity, zapLog *zap.Logger, config Config) *Logger {
	if config.Mode == "" {
		config.Mode = ModeAll
	}
	if zapLog == nil {
		zapLog = zap.NewNop()
	}
	return &Logger{store: s, zapLog: zapLog, config: config}
}

// Entry builds a session-level entry.
func Entry(sess models.Session, actorID, eventType string, data map[string]string) models.ActivityLogEntry {
	return models.ActivityLogEntry{
		SessionID: sess.ID,
		TenantID:  sess.TenantID,
		ActorID:   actorID,
		EventType: eventType,
		EventData: data,
	}
}

// ParticipantEntry builds an entry about one participant.
func ParticipantEntry(p models.Participant, actorID, eventType string, data map[string]string) models.ActivityLogEntry {
	pid := p.ID
	return models.ActivityLogEntry{
		SessionID:     p.SessionID,
		TenantID:      p.TenantID,
		ParticipantID: &pid,
		ActorID:       actorID,
		EventType:     eventType,
		EventData:     data,
	}
}

func (l *Logger) logToZap(e models.ActivityLogEntry) {
	fields := []zap.Field{
		zap.Bool("activity", true),
		zap.String("event_type", e.EventType),
		zap.String("session_id", e.SessionID.Hex()),
	}
	if e.TenantID != "" {
		fields = append(fields, zap.String("tenant_id", e.TenantID))
	}
	if e.ParticipantID != nil {
		fields = append(fields, zap.String("participant_id", e.ParticipantID.Hex()))
	}
	if e.ActorID != "" {
		fields = append(fields, zap.String("actor_id", e.ActorID))
	}
	for k, v := range e.EventData {
		fields = append(fields, zap.String("data_"+k, v))
	}
	l.zapLog.Info("session activity", fields...)
}

func (l *Logger) toZap() bool { return l.config.Mode == ModeAll || l.config.Mode == ModeLog }
func (l *Logger) toDB() bool  { return l.config.Mode == ModeAll || l.config.Mode == ModeDB }

// Log records one entry, stamping CreatedAt when unset. Store failures are logged and swallowed; the
// activity trail never fails the operation it describes.
func (l *Logger) Log(ctx context.Context, e models.ActivityLogEntry) {
	if l == nil || l.config.Mode == ModeOff {
		return
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	if l.toZap() {
		l.logToZap(e)
	}
	if l.toDB() && l.store != nil {
		if err := l.store.Insert(ctx, e); err != nil {
			l.zapLog.Error("failed to store activity entry",
				zap.Error(err),
				zap.String("event_type", e.EventType),
				zap.String("session_id", e.SessionID.Hex()))
		}
	}
}

// LogMany records entries with a single bulk insert.
func (l *Logger) LogMany(ctx context.Context, entries []models.ActivityLogEntry) {
	if l == nil || l.config.Mode == ModeOff || len(entries) == 0 {
		return
	}
	for i := range entries {
		if entries[i].CreatedAt.IsZero() {
			entries[i].CreatedAt = time.Now().UTC()
		}
	}
	if l.toZap() {
		for _, e := range entries {
			l.logToZap(e)
		}
	}
	if l.toDB() && l.store != nil {
		if err := l.store.InsertMany(ctx, entries); err != nil {
			l.zapLog.Error("failed to store activity entries",
				zap.Error(err),
				zap.Int("count", len(entries)),
				zap.String("event_type", entries[0].EventType))
		}
	}
}

// List returns the newest entries of a session.
func (l *Logger) List(ctx context.Context, sessionID primitive.ObjectID, limit int) ([]models.ActivityLogEntry, error) {
	if l == nil || l.store == nil {
		return nil, nil
	}
	return l.store.ListBySession(ctx, sessionID, limit)
}
