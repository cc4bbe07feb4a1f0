package store

import (
	"context"
	"errors"

	wafflemongo "github.com/dalemusser/waffle/pantry/mongo"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// FromMongo maps driver errors onto the store error kinds. notFound is
// returned for mongo.ErrNoDocuments so conditional updates can report
// ErrConflict instead of ErrNotFound.
func FromMongo(err error, notFound error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, mongo.ErrNoDocuments):
		return notFound
	case wafflemongo.IsDup(err):
		return ErrDuplicate
	default:
		return err
	}
}

// ConflictOrMissing is called after a conditional update matched nothing.
// It reports ErrNotFound when no document has id and ErrConflict otherwise.
func ConflictOrMissing(ctx context.Context, c *mongo.Collection, id primitive.ObjectID) error {
	n, err := c.CountDocuments(ctx, bson.M{"_id": id}, options.Count().SetLimit(1))
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return ErrConflict
}
