// internal/app/store/activity/store.go
package activity

import (
	"context"
	"time"

	"github.com/dalemusser/liveplay/internal/app/store"
	"github.com/dalemusser/liveplay/internal/domain/models"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Collection is the append-only activity log. Nothing in the runtime
// deletes from it, including permanent session delete.
const Collection = "activity_log"

var _ store.Activity = (*Store)(nil)

// Store manages activity log entries.
type Store struct {
	c *mongo.Collection
}

// New creates a new activity Store.
func New(db *mongo.Database) *Store {
	return &Store{c: db.Collection(Collection)}
}

// IndexModels returns the indexes the runtime relies on.
func IndexModels() []mongo.IndexModel {
	return []mongo.IndexModel{
		// Session timeline
		{
			Keys:    bson.D{{Key: "session_id", Value: 1}, {Key: "created_at", Value: -1}},
			Options: options.Index().SetName("idx_activity_log_session_created"),
		},
		// Participant history
		{
			Keys:    bson.D{{Key: "participant_id", Value: 1}, {Key: "created_at", Value: -1}},
			Options: options.Index().SetName("idx_activity_log_participant_created"),
		},
		// Tenant exports by event type
		{
			Keys:    bson.D{{Key: "tenant_id", Value: 1}, {Key: "event_type", Value: 1}, {Key: "created_at", Value: -1}},
			Options: options.Index().SetName("idx_activity_log_tenant_type_created"),
		},
	}
}

// EnsureIndexes creates IndexModels on the collection.
func (s *Store) EnsureIndexes(ctx context.Context) error {
	_, err := s.c.Indexes().CreateMany(ctx, IndexModels())
	return err
}

func prepare(e *models.ActivityLogEntry) {
	if e.ID.IsZero() {
		e.ID = primitive.NewObjectID()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
}

// Insert records one entry.
func (s *Store) Insert(ctx context.Context, e models.ActivityLogEntry) error {
	prepare(&e)
	_, err := s.c.InsertOne(ctx, e)
	return err
}

// InsertMany records entries in one unordered bulk insert.
func (s *Store) InsertMany(ctx context.Context, entries []models.ActivityLogEntry) error {
	if len(entries) == 0 {
		return nil
	}
	docs := make([]interface{}, 0, len(entries))
	for i := range entries {
		e := entries[i]
		prepare(&e)
		docs = append(docs, e)
	}
	_, err := s.c.InsertMany(ctx, docs, options.InsertMany().SetOrdered(false))
	return err
}

// ListBySession returns a session's entries, newest first.
func (s *Store) ListBySession(ctx context.Context, sessionID primitive.ObjectID, limit int) ([]models.ActivityLogEntry, error) {
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}, {Key: "_id", Value: -1}})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}
	cur, err := s.c.Find(ctx, bson.M{"session_id": sessionID}, opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var out []models.ActivityLogEntry
	if err := cur.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}
