// internal/app/store/roles/store.go
package roles

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

// Collection names.
const (
	DefinitionsCollection = "role_definitions"
	AssignmentsCollection = "role_assignments"
)

var _ store.Roles = (*Store)(nil)

// Store manages role definitions and assignments.
type Store struct {
	defs    *mongo.Collection
	assigns *mongo.Collection
}

// New creates a new roles Store.
func New(db *mongo.Database) *Store {
	return &Store{
		defs:    db.Collection(DefinitionsCollection),
		assigns: db.Collection(AssignmentsCollection),
	}
}

// DefinitionIndexModels returns the indexes on the role definitions collection.
func DefinitionIndexModels() []mongo.IndexModel {
	return []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "session_id", Value: 1}},
			Options: options.Index().SetName("idx_role_definitions_session"),
		},
	}
}

// AssignmentIndexModels returns the indexes on the role assignments collection.
func AssignmentIndexModels() []mongo.IndexModel {
	return []mongo.IndexModel{
		// One assignment per participant per session.
		{
			Keys:    bson.D{{Key: "session_id", Value: 1}, {Key: "participant_id", Value: 1}},
			Options: options.Index().SetUnique(true).SetName("uniq_role_assignments_session_participant"),
		},
		{
			Keys:    bson.D{{Key: "role_definition_id", Value: 1}},
			Options: options.Index().SetName("idx_role_assignments_definition"),
		},
	}
}

// EnsureIndexes creates the definition and assignment indexes.
func (s *Store) EnsureIndexes(ctx context.Context) error {
	if _, err := s.defs.Indexes().CreateMany(ctx, DefinitionIndexModels()); err != nil {
		return err
	}
	_, err := s.assigns.Indexes().CreateMany(ctx, AssignmentIndexModels())
	return err
}

// InsertDefinition stores a role definition.
func (s *Store) InsertDefinition(ctx context.Context, d *models.RoleDefinition) error {
	if d.ID.IsZero() {
		d.ID = primitive.NewObjectID()
	}
	_, err := s.defs.InsertOne(ctx, d)
	return store.FromMongo(err, store.ErrNotFound)
}

// GetDefinition loads a role definition.
func (s *Store) GetDefinition(ctx context.Context, id primitive.ObjectID) (models.RoleDefinition, error) {
	var d models.RoleDefinition
	err := s.defs.FindOne(ctx, bson.M{"_id": id}).Decode(&d)
	return d, store.FromMongo(err, store.ErrNotFound)
}

// ListDefinitions returns a session's role definitions.
func (s *Store) ListDefinitions(ctx context.Context, sessionID primitive.ObjectID) ([]models.RoleDefinition, error) {
	cur, err := s.defs.Find(ctx, bson.M{"session_id": sessionID}, options.Find().SetSort(bson.D{{Key: "_id", Value: 1}}))
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var out []models.RoleDefinition
	if err := cur.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// InsertAssignment stores an assignment; a second one for the same
// participant returns store.ErrDuplicate.
func (s *Store) InsertAssignment(ctx context.Context, a *models.RoleAssignment) error {
	if a.ID.IsZero() {
		a.ID = primitive.NewObjectID()
	}
	_, err := s.assigns.InsertOne(ctx, a)
	return store.FromMongo(err, store.ErrNotFound)
}

// GetAssignment loads a participant's assignment.
func (s *Store) GetAssignment(ctx context.Context, sessionID, participantID primitive.ObjectID) (models.RoleAssignment, error) {
	var a models.RoleAssignment
	err := s.assigns.FindOne(ctx, bson.M{"session_id": sessionID, "participant_id": participantID}).Decode(&a)
	return a, store.FromMongo(err, store.ErrNotFound)
}

// ListAssignments returns a session's assignments.
func (s *Store) ListAssignments(ctx context.Context, sessionID primitive.ObjectID) ([]models.RoleAssignment, error) {
	cur, err := s.assigns.Find(ctx, bson.M{"session_id": sessionID}, options.Find().SetSort(bson.D{{Key: "assigned_at", Value: 1}}))
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var out []models.RoleAssignment
	if err := cur.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// ReserveSlot increments assigned_count only while it is below max.
func (s *Store) ReserveSlot(ctx context.Context, roleDefinitionID primitive.ObjectID, max int) error {
	filter := bson.M{"_id": roleDefinitionID}
	if max > 0 {
		filter["assigned_count"] = bson.M{"$lt": max}
	}
	res, err := s.defs.UpdateOne(ctx, filter, bson.M{"$inc": bson.M{"assigned_count": 1}})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		if err := store.ConflictOrMissing(ctx, s.defs, roleDefinitionID); err == store.ErrNotFound {
			return err
		}
		return store.ErrLimitReached
	}
	return nil
}

// ReleaseSlot gives a slot back.
func (s *Store) ReleaseSlot(ctx context.Context, roleDefinitionID primitive.ObjectID) error {
	_, err := s.defs.UpdateOne(ctx,
		bson.M{"_id": roleDefinitionID, "assigned_count": bson.M{"$gt": 0}},
		bson.M{"$inc": bson.M{"assigned_count": -1}},
	)
	return err
}

// MarkRevealed stamps revealed_at once.
func (s *Store) MarkRevealed(ctx context.Context, id primitive.ObjectID, now time.Time) (models.RoleAssignment, error) {
	return s.stampOnce(ctx, id, "revealed_at", now)
}

// MarkSecretRevealed stamps secret_instructions_revealed_at once.
func (s *Store) MarkSecretRevealed(ctx context.Context, id primitive.ObjectID, now time.Time) (models.RoleAssignment, error) {
	return s.stampOnce(ctx, id, "secret_instructions_revealed_at", now)
}

func (s *Store) stampOnce(ctx context.Context, id primitive.ObjectID, field string, now time.Time) (models.RoleAssignment, error) {
	var a models.RoleAssignment
	err := s.assigns.FindOneAndUpdate(ctx,
		bson.M{"_id": id, field: nil},
		bson.M{"$set": bson.M{field: now}},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&a)
	if err == mongo.ErrNoDocuments {
		return models.RoleAssignment{}, store.ConflictOrMissing(ctx, s.assigns, id)
	}
	return a, err
}

// DeleteBySession removes a session's assignments and definitions.
func (s *Store) DeleteBySession(ctx context.Context, sessionID primitive.ObjectID) (int64, error) {
	res, err := s.assigns.DeleteMany(ctx, bson.M{"session_id": sessionID})
	if err != nil {
		return 0, err
	}
	if _, err := s.defs.DeleteMany(ctx, bson.M{"session_id": sessionID}); err != nil {
		return res.DeletedCount, err
	}
	return res.DeletedCount, nil
}
