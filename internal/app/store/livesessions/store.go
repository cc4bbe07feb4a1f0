// internal/app/store/livesessions/store.go
package livesessions

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

// Collection is the MongoDB collection holding live sessions.
const Collection = "live_sessions"

var runningStatuses = bson.A{models.SessionActive, models.SessionPaused, models.SessionLocked}

var _ store.Sessions = (*Store)(nil)

// Store manages live sessions.
type Store struct {
	c *mongo.Collection
}

// New creates a new live sessions Store.
func New(db *mongo.Database) *Store {
	return &Store{c: db.Collection(Collection)}
}

// IndexModels returns the indexes the runtime relies on.
func IndexModels() []mongo.IndexModel {
	return []mongo.IndexModel{
		// Join codes resolve to exactly one session.
		{
			Keys:    bson.D{{Key: "code", Value: 1}},
			Options: options.Index().SetUnique(true).SetName("uniq_live_sessions_code"),
		},
		// Host dashboard
		{
			Keys:    bson.D{{Key: "tenant_id", Value: 1}, {Key: "host_id", Value: 1}, {Key: "created_at", Value: -1}},
			Options: options.Index().SetName("idx_live_sessions_tenant_host_created"),
		},
		// Sweeper: expiry and archival scans
		{
			Keys:    bson.D{{Key: "status", Value: 1}, {Key: "expires_at", Value: 1}},
			Options: options.Index().SetName("idx_live_sessions_status_expires"),
		},
		{
			Keys:    bson.D{{Key: "status", Value: 1}, {Key: "ended_at", Value: 1}},
			Options: options.Index().SetName("idx_live_sessions_status_ended"),
		},
	}
}

// EnsureIndexes creates IndexModels on the collection.
func (s *Store) EnsureIndexes(ctx context.Context) error {
	_, err := s.c.Indexes().CreateMany(ctx, IndexModels())
	return err
}

// Insert stores a new session. A code collision returns store.ErrDuplicate.
func (s *Store) Insert(ctx context.Context, sess *models.Session) error {
	if sess.ID.IsZero() {
		sess.ID = primitive.NewObjectID()
	}
	_, err := s.c.InsertOne(ctx, sess)
	return store.FromMongo(err, store.ErrNotFound)
}

// Get loads a session by ID.
func (s *Store) Get(ctx context.Context, id primitive.ObjectID) (models.Session, error) {
	var sess models.Session
	err := s.c.FindOne(ctx, bson.M{"_id": id}).Decode(&sess)
	return sess, store.FromMongo(err, store.ErrNotFound)
}

// GetByCode loads a session by its normalized join code.
func (s *Store) GetByCode(ctx context.Context, code string) (models.Session, error) {
	var sess models.Session
	err := s.c.FindOne(ctx, bson.M{"code": code}).Decode(&sess)
	return sess, store.FromMongo(err, store.ErrNotFound)
}

// ListByHost returns the host's sessions, newest first.
func (s *Store) ListByHost(ctx context.Context, tenantID, hostID string, limit int) ([]models.Session, error) {
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}
	cur, err := s.c.Find(ctx, bson.M{"tenant_id": tenantID, "host_id": hostID}, opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var out []models.Session
	if err := cur.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// AdvanceCursor moves the cursor forward. The filter only matches an active
// session whose cursor is at or before pos, so concurrent advances can never
// move it backwards.
func (s *Store) AdvanceCursor(ctx context.Context, id primitive.ObjectID, pos models.Position, now time.Time) (models.Session, error) {
	filter := bson.M{
		"_id":    id,
		"status": models.SessionActive,
		"$or": bson.A{
			bson.M{"current_step_index": bson.M{"$lt": pos.Step}},
			bson.M{"current_step_index": pos.Step, "current_phase_index": bson.M{"$lte": pos.Phase}},
		},
	}
	update := bson.M{"$set": bson.M{
		"current_step_index":  pos.Step,
		"current_phase_index": pos.Phase,
		"updated_at":          now,
	}}
	return s.findAndUpdate(ctx, id, filter, update)
}

// UpdateStatus moves the session from -> to.
func (s *Store) UpdateStatus(ctx context.Context, id primitive.ObjectID, from, to models.SessionStatus, now time.Time) (models.Session, error) {
	return s.findAndUpdate(ctx, id, bson.M{"_id": id, "status": from}, statusUpdate(to, now))
}

// statusUpdate stamps the lifecycle timestamp that belongs to `to`.
func statusUpdate(to models.SessionStatus, now time.Time) bson.M {
	set := bson.M{"status": to, "updated_at": now}
	update := bson.M{}
	switch to {
	case models.SessionPaused:
		set["paused_at"] = now
	case models.SessionActive:
		update["$unset"] = bson.M{"paused_at": ""}
	case models.SessionEnded, models.SessionCancelled:
		set["ended_at"] = now
	case models.SessionArchived:
		set["archived_at"] = now
	}
	update["$set"] = set
	return update
}

func (s *Store) findAndUpdate(ctx context.Context, id primitive.ObjectID, filter, update bson.M) (models.Session, error) {
	var sess models.Session
	err := s.c.FindOneAndUpdate(ctx, filter, update,
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&sess)
	if err == mongo.ErrNoDocuments {
		return models.Session{}, store.ConflictOrMissing(ctx, s.c, id)
	}
	if err != nil {
		return models.Session{}, err
	}
	return sess, nil
}

// ReserveSeat increments participant_count only while it is below max.
func (s *Store) ReserveSeat(ctx context.Context, id primitive.ObjectID, max int) error {
	res, err := s.c.UpdateOne(ctx,
		bson.M{"_id": id, "participant_count": bson.M{"$lt": max}},
		bson.M{"$inc": bson.M{"participant_count": 1}},
	)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		if err := store.ConflictOrMissing(ctx, s.c, id); err == store.ErrNotFound {
			return err
		}
		return store.ErrLimitReached
	}
	return nil
}

// ReleaseSeat gives a seat back.
func (s *Store) ReleaseSeat(ctx context.Context, id primitive.ObjectID) error {
	_, err := s.c.UpdateOne(ctx,
		bson.M{"_id": id, "participant_count": bson.M{"$gt": 0}},
		bson.M{"$inc": bson.M{"participant_count": -1}},
	)
	return err
}

// EndExpired ends running sessions whose expires_at has passed.
func (s *Store) EndExpired(ctx context.Context, now time.Time, limit int) ([]models.Session, error) {
	return s.transitionBatch(ctx, bson.M{
		"status":     bson.M{"$in": runningStatuses},
		"expires_at": bson.M{"$ne": nil, "$lte": now},
	}, models.SessionEnded, now, limit)
}

// ArchiveEnded archives ended or cancelled sessions older than cutoff.
func (s *Store) ArchiveEnded(ctx context.Context, cutoff, now time.Time, limit int) ([]models.Session, error) {
	return s.transitionBatch(ctx, bson.M{
		"status":   bson.M{"$in": bson.A{models.SessionEnded, models.SessionCancelled}},
		"ended_at": bson.M{"$lt": cutoff},
	}, models.SessionArchived, now, limit)
}

// transitionBatch finds up to limit candidates and moves each with its own
// conditional update, re-applying filter so rows that changed in between
// are skipped. It returns only the rows this call moved.
func (s *Store) transitionBatch(ctx context.Context, filter bson.M, to models.SessionStatus, now time.Time, limit int) ([]models.Session, error) {
	opts := options.Find().
		SetSort(bson.D{{Key: "_id", Value: 1}}).
		SetProjection(bson.M{"_id": 1})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}
	cur, err := s.c.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	var ids []struct {
		ID primitive.ObjectID `bson:"_id"`
	}
	if err := cur.All(ctx, &ids); err != nil {
		return nil, err
	}

	out := make([]models.Session, 0, len(ids))
	for _, row := range ids {
		f := bson.M{"_id": row.ID}
		for k, v := range filter {
			f[k] = v
		}
		var sess models.Session
		err := s.c.FindOneAndUpdate(ctx, f, statusUpdate(to, now),
			options.FindOneAndUpdate().SetReturnDocument(options.After),
		).Decode(&sess)
		if err == mongo.ErrNoDocuments {
			continue
		}
		if err != nil {
			return out, err
		}
		out = append(out, sess)
	}
	return out, nil
}

// Delete removes a session document.
func (s *Store) Delete(ctx context.Context, id primitive.ObjectID) error {
	res, err := s.c.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return err
	}
	if res.DeletedCount == 0 {
		return store.ErrNotFound
	}
	return nil
}
