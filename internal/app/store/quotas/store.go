// internal/app/store/quotas/store.go
package quotas

import (
	"context"
	"errors"
	"time"

	"github.com/dalemusser/liveplay/internal/app/store"
	"github.com/dalemusser/liveplay/internal/domain/models"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Collection holds one counter document per tenant, keyed by tenant ID.
const Collection = "tenant_quotas"

var _ store.Quotas = (*Store)(nil)

// Store manages per-tenant no-expiry token counters.
type Store struct {
	c *mongo.Collection
}

// New creates a new quotas Store.
func New(db *mongo.Database) *Store {
	return &Store{c: db.Collection(Collection)}
}

// Reserve takes one slot with a single conditional upsert. When the tenant
// is already at limit the filter misses, the upsert tries to insert a second
// document with the same _id and the duplicate key error means "full".
func (s *Store) Reserve(ctx context.Context, tenantID string, limit int, now time.Time) error {
	if limit <= 0 {
		return store.ErrLimitReached
	}
	_, err := s.c.UpdateOne(ctx,
		bson.M{"_id": tenantID, "no_expiry_outstanding": bson.M{"$lt": limit}},
		bson.M{
			"$inc": bson.M{"no_expiry_outstanding": 1},
			"$set": bson.M{"updated_at": now},
		},
		options.Update().SetUpsert(true),
	)
	if errors.Is(store.FromMongo(err, nil), store.ErrDuplicate) {
		return store.ErrLimitReached
	}
	return err
}

// Release gives one slot back.
func (s *Store) Release(ctx context.Context, tenantID string, now time.Time) error {
	_, err := s.c.UpdateOne(ctx,
		bson.M{"_id": tenantID, "no_expiry_outstanding": bson.M{"$gt": 0}},
		bson.M{
			"$inc": bson.M{"no_expiry_outstanding": -1},
			"$set": bson.M{"updated_at": now},
		},
	)
	return err
}

// Outstanding returns the tenant's current slot count.
func (s *Store) Outstanding(ctx context.Context, tenantID string) (int, error) {
	var q models.TenantQuota
	err := s.c.FindOne(ctx, bson.M{"_id": tenantID}).Decode(&q)
	if err == mongo.ErrNoDocuments {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return q.NoExpiryOutstanding, nil
}
