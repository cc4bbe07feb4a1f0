// internal/app/store/participants/store.go
package participants

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

// Collection is the MongoDB collection holding participants.
const Collection = "participants"

var (
	presentStatuses  = bson.A{models.ParticipantActive, models.ParticipantIdle}
	rejectedStatuses = bson.A{models.ParticipantKicked, models.ParticipantBlocked}
)

var _ store.Participants = (*Store)(nil)

// Store manages session participants and their tokens.
type Store struct {
	c *mongo.Collection
}

// New creates a new participants Store.
func New(db *mongo.Database) *Store {
	return &Store{c: db.Collection(Collection)}
}

// IndexModels returns the indexes the runtime relies on.
func IndexModels() []mongo.IndexModel {
	return []mongo.IndexModel{
		// Tokens are capability references; each maps to one participant.
		{
			Keys:    bson.D{{Key: "token", Value: 1}},
			Options: options.Index().SetUnique(true).SetName("uniq_participants_token"),
		},
		// Roster listing
		{
			Keys:    bson.D{{Key: "session_id", Value: 1}, {Key: "joined_at", Value: 1}},
			Options: options.Index().SetName("idx_participants_session_joined"),
		},
		// Sweeper: token expiry and idle scans
		{
			Keys:    bson.D{{Key: "status", Value: 1}, {Key: "token_expires_at", Value: 1}},
			Options: options.Index().SetName("idx_participants_status_token_expires"),
		},
		{
			Keys:    bson.D{{Key: "status", Value: 1}, {Key: "last_seen_at", Value: 1}},
			Options: options.Index().SetName("idx_participants_status_last_seen"),
		},
	}
}

// EnsureIndexes creates IndexModels on the collection.
func (s *Store) EnsureIndexes(ctx context.Context) error {
	_, err := s.c.Indexes().CreateMany(ctx, IndexModels())
	return err
}

// Insert stores a new participant. A token collision returns store.ErrDuplicate.
func (s *Store) Insert(ctx context.Context, p *models.Participant) error {
	if p.ID.IsZero() {
		p.ID = primitive.NewObjectID()
	}
	_, err := s.c.InsertOne(ctx, p)
	return store.FromMongo(err, store.ErrNotFound)
}

// Get loads a participant by ID.
func (s *Store) Get(ctx context.Context, id primitive.ObjectID) (models.Participant, error) {
	var p models.Participant
	err := s.c.FindOne(ctx, bson.M{"_id": id}).Decode(&p)
	return p, store.FromMongo(err, store.ErrNotFound)
}

// GetByToken loads the participant owning token.
func (s *Store) GetByToken(ctx context.Context, token string) (models.Participant, error) {
	var p models.Participant
	err := s.c.FindOne(ctx, bson.M{"token": token}).Decode(&p)
	return p, store.FromMongo(err, store.ErrNotFound)
}

// ListBySession returns a session's participants in join order.
func (s *Store) ListBySession(ctx context.Context, sessionID primitive.ObjectID) ([]models.Participant, error) {
	opts := options.Find().SetSort(bson.D{{Key: "joined_at", Value: 1}})
	cur, err := s.c.Find(ctx, bson.M{"session_id": sessionID}, opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var out []models.Participant
	if err := cur.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func statusUpdate(to models.ParticipantStatus, reason string, now time.Time) bson.M {
	set := bson.M{"status": to}
	if reason != "" {
		set["status_reason"] = reason
	}
	update := bson.M{}
	switch to {
	case models.ParticipantActive:
		update["$unset"] = bson.M{"disconnected_at": ""}
	case models.ParticipantDisconnected, models.ParticipantKicked, models.ParticipantBlocked:
		set["disconnected_at"] = now
	}
	update["$set"] = set
	return update
}

// UpdateStatus moves the participant to `to` if its status is one of from.
func (s *Store) UpdateStatus(ctx context.Context, id primitive.ObjectID, from []models.ParticipantStatus, to models.ParticipantStatus, reason string, now time.Time) (models.Participant, error) {
	filter := bson.M{"_id": id, "status": bson.M{"$in": from}}
	return s.findAndUpdate(ctx, id, filter, statusUpdate(to, reason, now))
}

// Touch records a heartbeat. Only active or idle participants match.
func (s *Store) Touch(ctx context.Context, id primitive.ObjectID, status models.ParticipantStatus, seenAt, activityAt time.Time) (models.Participant, error) {
	filter := bson.M{"_id": id, "status": bson.M{"$in": presentStatuses}}
	update := bson.M{"$set": bson.M{
		"status":           status,
		"last_seen_at":     seenAt,
		"last_activity_at": activityAt,
	}}
	return s.findAndUpdate(ctx, id, filter, update)
}

// SetRole changes the permission tier.
func (s *Store) SetRole(ctx context.Context, id primitive.ObjectID, role models.ParticipantRole) (models.Participant, error) {
	filter := bson.M{"_id": id, "status": bson.M{"$nin": rejectedStatuses}}
	return s.findAndUpdate(ctx, id, filter, bson.M{"$set": bson.M{"role": role}})
}

// Approve admits a participant that joined a session requiring approval.
func (s *Store) Approve(ctx context.Context, id primitive.ObjectID) (models.Participant, error) {
	filter := bson.M{"_id": id, "pending_approval": true, "status": bson.M{"$nin": rejectedStatuses}}
	return s.findAndUpdate(ctx, id, filter, bson.M{"$set": bson.M{"pending_approval": false}})
}

// ExtendToken replaces the expiry if it still equals prev.
func (s *Store) ExtendToken(ctx context.Context, id primitive.ObjectID, prev, next time.Time) (models.Participant, error) {
	filter := bson.M{
		"_id":              id,
		"token_expires_at": prev,
		"status":           bson.M{"$nin": rejectedStatuses},
	}
	return s.findAndUpdate(ctx, id, filter, bson.M{"$set": bson.M{"token_expires_at": next}})
}

// RevokeToken disconnects the participant and caps its token expiry at now.
// An expiry already in the past is kept. Kicked or blocked participants and
// participants already disconnected with an expired token do not match.
func (s *Store) RevokeToken(ctx context.Context, id primitive.ObjectID, reason string, now time.Time) (models.Participant, error) {
	filter := bson.M{
		"_id":    id,
		"status": bson.M{"$nin": rejectedStatuses},
		"$or": bson.A{
			bson.M{"status": bson.M{"$ne": models.ParticipantDisconnected}},
			bson.M{"token_expires_at": nil},
			bson.M{"token_expires_at": bson.M{"$gt": now}},
		},
	}
	// Keep an expiry that already passed; otherwise cap it at now.
	capped := bson.M{"$cond": bson.A{
		bson.M{"$and": bson.A{
			bson.M{"$ne": bson.A{"$token_expires_at", nil}},
			bson.M{"$lt": bson.A{"$token_expires_at", now}},
		}},
		"$token_expires_at",
		now,
	}}
	set := bson.M{
		"status":           models.ParticipantDisconnected,
		"disconnected_at":  now,
		"token_expires_at": capped,
	}
	if reason != "" {
		// Pipeline stages read "$..." strings as field paths.
		set["status_reason"] = bson.M{"$literal": reason}
	}
	update := bson.A{bson.M{"$set": set}}
	return s.findAndUpdate(ctx, id, filter, update)
}

// ClearReservation flips no_expiry_reserved off and reports whether this
// call did it, so a quota slot is released at most once.
func (s *Store) ClearReservation(ctx context.Context, id primitive.ObjectID) (bool, error) {
	res, err := s.c.UpdateOne(ctx,
		bson.M{"_id": id, "no_expiry_reserved": true},
		bson.M{"$set": bson.M{"no_expiry_reserved": false}},
	)
	if err != nil {
		return false, err
	}
	return res.ModifiedCount == 1, nil
}

// findAndUpdate takes a bson.M update document or a bson.A pipeline.
func (s *Store) findAndUpdate(ctx context.Context, id primitive.ObjectID, filter bson.M, update interface{}) (models.Participant, error) {
	var p models.Participant
	err := s.c.FindOneAndUpdate(ctx, filter, update,
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&p)
	if err == mongo.ErrNoDocuments {
		return models.Participant{}, store.ConflictOrMissing(ctx, s.c, id)
	}
	if err != nil {
		return models.Participant{}, err
	}
	return p, nil
}

// ExpireTokens disconnects present participants whose token has expired.
func (s *Store) ExpireTokens(ctx context.Context, now time.Time, limit int) ([]models.Participant, error) {
	return s.disconnectBatch(ctx, bson.M{
		"status":           bson.M{"$in": presentStatuses},
		"token_expires_at": bson.M{"$ne": nil, "$lte": now},
	}, "token_expired", now, limit)
}

// DisconnectIdle disconnects present participants not seen since cutoff.
func (s *Store) DisconnectIdle(ctx context.Context, cutoff, now time.Time, limit int) ([]models.Participant, error) {
	return s.disconnectBatch(ctx, bson.M{
		"status":       bson.M{"$in": presentStatuses},
		"last_seen_at": bson.M{"$lt": cutoff},
	}, "idle", now, limit)
}

// disconnectBatch selects up to limit matching IDs, flips them with one
// UpdateMany that re-applies filter, and then reads back the rows this call
// stamped. Rows changed by someone else in between are not returned.
func (s *Store) disconnectBatch(ctx context.Context, filter bson.M, reason string, now time.Time, limit int) ([]models.Participant, error) {
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
	var rows []struct {
		ID primitive.ObjectID `bson:"_id"`
	}
	if err := cur.All(ctx, &rows); err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	ids := make(bson.A, 0, len(rows))
	for _, r := range rows {
		ids = append(ids, r.ID)
	}

	// Mongo stores milliseconds; stamp with the value it will read back.
	stamp := now.Truncate(time.Millisecond)
	f := bson.M{"_id": bson.M{"$in": ids}}
	for k, v := range filter {
		f[k] = v
	}
	if _, err := s.c.UpdateMany(ctx, f, statusUpdate(models.ParticipantDisconnected, reason, stamp)); err != nil {
		return nil, err
	}

	cur, err = s.c.Find(ctx, bson.M{
		"_id":             bson.M{"$in": ids},
		"status":          models.ParticipantDisconnected,
		"status_reason":   reason,
		"disconnected_at": stamp,
	})
	if err != nil {
		return nil, err
	}
	var out []models.Participant
	if err := cur.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// DeleteBySession removes every participant of a session.
func (s *Store) DeleteBySession(ctx context.Context, sessionID primitive.ObjectID) (int64, error) {
	res, err := s.c.DeleteMany(ctx, bson.M{"session_id": sessionID})
	if err != nil {
		return 0, err
	}
	return res.DeletedCount, nil
}
