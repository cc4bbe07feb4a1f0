// internal/app/store/decisions/store.go
package decisions

import (
	"context"
	"errors"
	"time"

	"github.com/dalemusser/liveplay/internal/app/store"
	"github.com/dalemusser/liveplay/internal/domain/models"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Collection names.
const (
	DecisionsCollection = "decisions"
	VotesCollection     = "votes"
)

var _ store.Decisions = (*Store)(nil)

// Store manages decisions and their votes.
type Store struct {
	decisions *mongo.Collection
	votes     *mongo.Collection
}

// New creates a new decisions Store.
func New(db *mongo.Database) *Store {
	return &Store{
		decisions: db.Collection(DecisionsCollection),
		votes:     db.Collection(VotesCollection),
	}
}

// DecisionIndexModels returns the indexes on the decisions collection.
func DecisionIndexModels() []mongo.IndexModel {
	return []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "session_id", Value: 1}, {Key: "created_at", Value: 1}},
			Options: options.Index().SetName("idx_decisions_session_created"),
		},
		// Sweeper: close timed decisions
		{
			Keys:    bson.D{{Key: "status", Value: 1}, {Key: "closes_at", Value: 1}},
			Options: options.Index().SetName("idx_decisions_status_closes"),
		},
	}
}

// VoteIndexModels returns the indexes on the votes collection.
func VoteIndexModels() []mongo.IndexModel {
	return []mongo.IndexModel{
		// Single-choice: one vote row per participant per decision.
		{
			Keys:    bson.D{{Key: "decision_id", Value: 1}, {Key: "participant_id", Value: 1}},
			Options: options.Index().SetUnique(true).SetName("uniq_votes_decision_participant"),
		},
		{
			Keys:    bson.D{{Key: "session_id", Value: 1}},
			Options: options.Index().SetName("idx_votes_session"),
		},
	}
}

// EnsureIndexes creates the decision and vote indexes.
func (s *Store) EnsureIndexes(ctx context.Context) error {
	if _, err := s.decisions.Indexes().CreateMany(ctx, DecisionIndexModels()); err != nil {
		return err
	}
	_, err := s.votes.Indexes().CreateMany(ctx, VoteIndexModels())
	return err
}

// Insert stores a new decision.
func (s *Store) Insert(ctx context.Context, d *models.Decision) error {
	if d.ID.IsZero() {
		d.ID = primitive.NewObjectID()
	}
	_, err := s.decisions.InsertOne(ctx, d)
	return store.FromMongo(err, store.ErrNotFound)
}

// Get loads a decision by ID.
func (s *Store) Get(ctx context.Context, id primitive.ObjectID) (models.Decision, error) {
	var d models.Decision
	err := s.decisions.FindOne(ctx, bson.M{"_id": id}).Decode(&d)
	return d, store.FromMongo(err, store.ErrNotFound)
}

// ListBySession returns a session's decisions, oldest first.
func (s *Store) ListBySession(ctx context.Context, sessionID primitive.ObjectID) ([]models.Decision, error) {
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}})
	cur, err := s.decisions.Find(ctx, bson.M{"session_id": sessionID}, opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var out []models.Decision
	if err := cur.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func statusUpdate(to models.DecisionStatus, now time.Time) bson.M {
	set := bson.M{"status": to}
	if to == models.DecisionClosed {
		set["closed_at"] = now
	}
	return bson.M{"$set": set}
}

// UpdateStatus moves the decision to `to` if its status is one of from.
// Revealing an open decision also stamps closed_at.
func (s *Store) UpdateStatus(ctx context.Context, id primitive.ObjectID, from []models.DecisionStatus, to models.DecisionStatus, now time.Time) (models.Decision, error) {
	if to == models.DecisionRevealed {
		// closed_at keeps its first value when the decision was closed earlier.
		var d models.Decision
		err := s.decisions.FindOneAndUpdate(ctx,
			bson.M{"_id": id, "status": bson.M{"$in": from}},
			mongo.Pipeline{
				{{Key: "$set", Value: bson.D{
					{Key: "status", Value: to},
					{Key: "revealed_at", Value: now},
					{Key: "closed_at", Value: bson.D{{Key: "$ifNull", Value: bson.A{"$closed_at", now}}}},
				}}},
			},
			options.FindOneAndUpdate().SetReturnDocument(options.After),
		).Decode(&d)
		if err == mongo.ErrNoDocuments {
			return models.Decision{}, store.ConflictOrMissing(ctx, s.decisions, id)
		}
		return d, err
	}

	var d models.Decision
	err := s.decisions.FindOneAndUpdate(ctx,
		bson.M{"_id": id, "status": bson.M{"$in": from}},
		statusUpdate(to, now),
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&d)
	if err == mongo.ErrNoDocuments {
		return models.Decision{}, store.ConflictOrMissing(ctx, s.decisions, id)
	}
	return d, err
}

// CloseElapsed closes open decisions whose closes_at has passed.
func (s *Store) CloseElapsed(ctx context.Context, now time.Time, limit int) ([]models.Decision, error) {
	filter := bson.M{
		"status":    models.DecisionOpen,
		"closes_at": bson.M{"$ne": nil, "$lte": now},
	}
	opts := options.Find().SetSort(bson.D{{Key: "closes_at", Value: 1}})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}
	cur, err := s.decisions.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	var due []models.Decision
	if err := cur.All(ctx, &due); err != nil {
		return nil, err
	}

	out := make([]models.Decision, 0, len(due))
	for _, d := range due {
		closed, err := s.UpdateStatus(ctx, d.ID, []models.DecisionStatus{models.DecisionOpen}, models.DecisionClosed, now)
		if errors.Is(err, store.ErrConflict) || errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			return out, err
		}
		out = append(out, closed)
	}
	return out, nil
}

// UpsertVote writes v keyed by (decision_id, participant_id). The unique
// index makes the upsert atomic; a concurrent insert of the same pair
// surfaces as a duplicate key and is retried once as an update.
func (s *Store) UpsertVote(ctx context.Context, v *models.Vote) error {
	filter := bson.M{"decision_id": v.DecisionID, "participant_id": v.ParticipantID}
	update := bson.M{
		"$set": bson.M{
			"option_key": v.OptionKey,
			"cast_at":    v.CastAt,
		},
		"$setOnInsert": bson.M{"session_id": v.SessionID},
	}
	opts := options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After)

	var out models.Vote
	err := s.votes.FindOneAndUpdate(ctx, filter, update, opts).Decode(&out)
	if errors.Is(store.FromMongo(err, nil), store.ErrDuplicate) {
		err = s.votes.FindOneAndUpdate(ctx, filter, update, opts).Decode(&out)
	}
	if err != nil {
		return err
	}
	v.ID = out.ID
	return nil
}

// GetVote loads one participant's vote on a decision.
func (s *Store) GetVote(ctx context.Context, decisionID, participantID primitive.ObjectID) (models.Vote, error) {
	var v models.Vote
	err := s.votes.FindOne(ctx, bson.M{"decision_id": decisionID, "participant_id": participantID}).Decode(&v)
	return v, store.FromMongo(err, store.ErrNotFound)
}

// Tally counts votes per option key.
func (s *Store) Tally(ctx context.Context, decisionID primitive.ObjectID, until *time.Time) (map[string]int, error) {
	match := bson.M{"decision_id": decisionID}
	if until != nil {
		match["cast_at"] = bson.M{"$lte": *until}
	}
	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: match}},
		{{Key: "$group", Value: bson.D{
			{Key: "_id", Value: "$option_key"},
			{Key: "n", Value: bson.D{{Key: "$sum", Value: 1}}},
		}}},
	}
	cur, err := s.votes.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	counts := make(map[string]int)
	for cur.Next(ctx) {
		var row struct {
			Key string `bson:"_id"`
			N   int    `bson:"n"`
		}
		if err := cur.Decode(&row); err != nil {
			return nil, err
		}
		counts[row.Key] = row.N
	}
	return counts, cur.Err()
}

// DeleteBySession removes a session's votes and decisions.
func (s *Store) DeleteBySession(ctx context.Context, sessionID primitive.ObjectID) (int64, error) {
	if _, err := s.votes.DeleteMany(ctx, bson.M{"session_id": sessionID}); err != nil {
		return 0, err
	}
	res, err := s.decisions.DeleteMany(ctx, bson.M{"session_id": sessionID})
	if err != nil {
		return 0, err
	}
	return res.DeletedCount, nil
}
