// internal/app/system/validators/validators.go
package validators

import (
	"context"
	"errors"
	"strings"

	"github.com/dalemusser/liveplay/internal/app/store/activity"
	"github.com/dalemusser/liveplay/internal/app/store/decisions"
	"github.com/dalemusser/liveplay/internal/app/store/livesessions"
	"github.com/dalemusser/liveplay/internal/app/store/participants"
	"github.com/dalemusser/liveplay/internal/app/store/quotas"
	"github.com/dalemusser/liveplay/internal/app/store/roles"
	"github.com/dalemusser/liveplay/internal/domain/models"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"
)

// EnsureAll creates the runtime collections (if missing) and attaches
// JSON-Schema validators. Servers without collMod support log and skip.
func EnsureAll(ctx context.Context, db *mongo.Database) error {
	var problems []string

	ensure := func(coll string, schema bson.M) {
		if _, err := ensureCollection(ctx, db, coll); err != nil {
			problems = append(problems, coll+": "+err.Error())
			return
		}
		if schema == nil {
			return
		}
		if err := setValidator(ctx, db, coll, schema); err != nil {
			if isNoSuchCommand(err) || isNotImplemented(err) {
				zap.L().Info("validator skipped (unsupported)", zap.String("collection", coll))
				return
			}
			problems = append(problems, coll+": "+err.Error())
		}
	}

	ensure(livesessions.Collection, sessionsSchema())
	ensure(participants.Collection, participantsSchema())
	ensure(decisions.DecisionsCollection, decisionsSchema())
	ensure(decisions.VotesCollection, votesSchema())
	ensure(roles.DefinitionsCollection, roleDefinitionsSchema())
	ensure(roles.AssignmentsCollection, roleAssignmentsSchema())
	ensure(activity.Collection, activitySchema())

	// Counters only; the conditional upserts keep them consistent.
	ensure(quotas.Collection, nil)

	if len(problems) > 0 {
		return errors.New(strings.Join(problems, "; "))
	}
	return nil
}

/* ---------------------- collection helpers & logging ---------------------- */

// collectionExists returns true when <name> already exists.
// Uses ListCollectionNames to avoid "created collection" log when it didn't.
func collectionExists(ctx context.Context, db *mongo.Database, name string) (bool, error) {
	names, err := db.ListCollectionNames(ctx, bson.M{})
	if err != nil {
		return false, err
	}
	for _, n := range names {
		if n == name {
			return true, nil
		}
	}
	return false, nil
}

// ensureCollection idempotently makes sure <name> exists.
// Returns created==true only if we actually created it.
func ensureCollection(ctx context.Context, db *mongo.Database, name string) (created bool, err error) {
	exists, listErr := collectionExists(ctx, db, name)
	if listErr == nil && exists {
		zap.L().Info("collection exists", zap.String("collection", name))
		return false, nil
	}
	// If listing failed, fall back to create-and-handle-race.
	if err := db.CreateCollection(ctx, name); err != nil {
		// NamespaceExists / already exists is fine (race or prior run).
		if isNamespaceExistsErr(err) {
			zap.L().Info("collection exists", zap.String("collection", name))
			return false, nil
		}
		zap.L().Warn("createCollection failed", zap.String("collection", name), zap.Error(err))
		return false, err
	}
	zap.L().Info("created collection", zap.String("collection", name))
	return true, nil
}

/* ------------------------------ validators ------------------------------- */

func setValidator(ctx context.Context, db *mongo.Database, name string, validator bson.M) error {
	cmd := bson.D{
		{Key: "collMod", Value: name},
		{Key: "validator", Value: validator},
		{Key: "validationLevel", Value: "moderate"},
		{Key: "validationAction", Value: "error"},
	}
	var out bson.M
	if err := db.RunCommand(ctx, cmd).Decode(&out); err != nil {
		return err
	}
	zap.L().Info("validator ensured", zap.String("collection", name))
	return nil
}

/* ------------------------- error helpers ------------------------- */

func isNamespaceExistsErr(err error) bool {
	if err == nil {
		return false
	}
	var ce mongo.CommandError
	if errors.As(err, &ce) && (ce.Code == 48 || strings.Contains(strings.ToLower(ce.Message), "already exists")) {
		return true
	}
	s := strings.ToLower(err.Error())
	return strings.Contains(s, "already exists") || strings.Contains(s, "namespace exists")
}

func isNoSuchCommand(err error) bool {
	if err == nil {
		return false
	}
	var ce mongo.CommandError
	if errors.As(err, &ce) && (ce.Code == 59 || strings.Contains(strings.ToLower(ce.Message), "no such command")) {
		return true
	}
	return strings.Contains(strings.ToLower(err.Error()), "no such command")
}

func isNotImplemented(err error) bool {
	if err == nil {
		return false
	}
	var ce mongo.CommandError
	if errors.As(err, &ce) && (ce.Code == 115 ||
		strings.Contains(strings.ToLower(ce.Message), "not implemented") ||
		strings.Contains(strings.ToLower(ce.Message), "not supported")) {
		return true
	}
	s := strings.ToLower(err.Error())
	return strings.Contains(s, "not implemented") || strings.Contains(s, "not supported")
}

/* ------------------------- JSON-Schema docs ---------------------- */

func enum[T ~string](values ...T) bson.A {
	out := make(bson.A, 0, len(values))
	for _, v := range values {
		out = append(out, string(v))
	}
	return out
}

func sessionsSchema() bson.M {
	return bson.M{
		"$jsonSchema": bson.M{
			"bsonType": "object",
			"required": bson.A{"code", "tenant_id", "host_id", "status", "current_step_index", "current_phase_index", "participant_count", "created_at"},
			"properties": bson.M{
				"code":      bson.M{"bsonType": "string", "minLength": 6, "maxLength": 6},
				"tenant_id": bson.M{"bsonType": "string", "minLength": 1},
				"host_id":   bson.M{"bsonType": "string", "minLength": 1},
				"status": bson.M{"enum": enum(
					models.SessionActive, models.SessionPaused, models.SessionLocked,
					models.SessionEnded, models.SessionCancelled, models.SessionArchived,
				)},
				"current_step_index":  bson.M{"bsonType": bson.A{"int", "long"}, "minimum": 0},
				"current_phase_index": bson.M{"bsonType": bson.A{"int", "long"}, "minimum": 0},
				"participant_count":   bson.M{"bsonType": bson.A{"int", "long"}, "minimum": 0},
				"expires_at":          bson.M{"bsonType": bson.A{"date", "null"}},
				"created_at":          bson.M{"bsonType": "date"},
			},
		},
	}
}

func participantsSchema() bson.M {
	return bson.M{
		"$jsonSchema": bson.M{
			"bsonType": "object",
			"required": bson.A{"session_id", "display_name", "token", "status", "role", "joined_at"},
			"properties": bson.M{
				"session_id":       bson.M{"bsonType": "objectId"},
				"display_name":     bson.M{"bsonType": "string", "minLength": 1, "pattern": ".*\\S.*"},
				"token":            bson.M{"bsonType": "string", "minLength": 32},
				"token_expires_at": bson.M{"bsonType": bson.A{"date", "null"}},
				"status": bson.M{"enum": enum(
					models.ParticipantActive, models.ParticipantIdle, models.ParticipantDisconnected,
					models.ParticipantKicked, models.ParticipantBlocked,
				)},
				"role":      bson.M{"enum": enum(models.RoleObserver, models.RolePlayer, models.RoleTeamLead, models.RoleFacilitator)},
				"joined_at": bson.M{"bsonType": "date"},
			},
		},
	}
}

func decisionsSchema() bson.M {
	return bson.M{
		"$jsonSchema": bson.M{
			"bsonType": "object",
			"required": bson.A{"session_id", "options", "max_choices", "status", "created_at"},
			"properties": bson.M{
				"session_id":  bson.M{"bsonType": "objectId"},
				"options":     bson.M{"bsonType": "array", "minItems": 2},
				"max_choices": bson.M{"bsonType": bson.A{"int", "long"}, "minimum": 1, "maximum": 1},
				"status":      bson.M{"enum": enum(models.DecisionOpen, models.DecisionClosed, models.DecisionRevealed)},
				"created_at":  bson.M{"bsonType": "date"},
			},
		},
	}
}

func votesSchema() bson.M {
	return bson.M{
		"$jsonSchema": bson.M{
			"bsonType": "object",
			"required": bson.A{"decision_id", "participant_id", "option_key", "cast_at"},
			"properties": bson.M{
				"decision_id":    bson.M{"bsonType": "objectId"},
				"participant_id": bson.M{"bsonType": "objectId"},
				"session_id":     bson.M{"bsonType": "objectId"},
				"option_key":     bson.M{"bsonType": "string", "minLength": 1},
				"cast_at":        bson.M{"bsonType": "date"},
			},
		},
	}
}

func roleDefinitionsSchema() bson.M {
	return bson.M{
		"$jsonSchema": bson.M{
			"bsonType": "object",
			"required": bson.A{"session_id", "name"},
			"properties": bson.M{
				"session_id":     bson.M{"bsonType": "objectId"},
				"name":           bson.M{"bsonType": "string", "minLength": 1, "pattern": ".*\\S.*"},
				"min_count":      bson.M{"bsonType": bson.A{"int", "long"}, "minimum": 0},
				"max_count":      bson.M{"bsonType": bson.A{"int", "long"}, "minimum": 0},
				"assigned_count": bson.M{"bsonType": bson.A{"int", "long"}, "minimum": 0},
			},
		},
	}
}

func roleAssignmentsSchema() bson.M {
	return bson.M{
		"$jsonSchema": bson.M{
			"bsonType": "object",
			"required": bson.A{"session_id", "participant_id", "role_definition_id", "assigned_at"},
			"properties": bson.M{
				"session_id":                      bson.M{"bsonType": "objectId"},
				"participant_id":                  bson.M{"bsonType": "objectId"},
				"role_definition_id":              bson.M{"bsonType": "objectId"},
				"assigned_at":                     bson.M{"bsonType": "date"},
				"revealed_at":                     bson.M{"bsonType": "date"},
				"secret_instructions_revealed_at": bson.M{"bsonType": "date"},
			},
		},
	}
}

func activitySchema() bson.M {
	return bson.M{
		"$jsonSchema": bson.M{
			"bsonType": "object",
			"required": bson.A{"session_id", "event_type", "created_at"},
			"properties": bson.M{
				"session_id": bson.M{"bsonType": "objectId"},
				"event_type": bson.M{"bsonType": "string", "minLength": 1},
				"event_data": bson.M{"bsonType": "object"},
				"created_at": bson.M{"bsonType": "date"},
			},
		},
	}
}
