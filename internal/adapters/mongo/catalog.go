package mongo

import (
	"context"

	"github.com/google/uuid"
	"github.com/robertarktes/booking-checkout/internal/observability"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type CatalogRepository struct {
	coll   *mongo.Collection
	logger observability.Logger
}

func NewCatalogRepository(db *mongo.Database, logger observability.Logger) *CatalogRepository {
	return &CatalogRepository{
		coll:   db.Collection("products"),
		logger: logger,
	}
}

type ProductDoc struct {
	ID       string `bson:"_id"`
	Title    string `bson:"title"`
	Category string `bson:"category"`
}

// Titles returns display titles keyed by product id. Unknown products are
// absent from the result.
func (c *CatalogRepository) Titles(ctx context.Context, productIDs []uuid.UUID) (map[uuid.UUID]string, error) {
	ids := make([]string, len(productIDs))
	for i, id := range productIDs {
		ids[i] = id.String()
	}
	cur, err := c.coll.Find(ctx, bson.M{"_id": bson.M{"$in": ids}}, options.Find().SetProjection(bson.M{"title": 1}))
	if err != nil {
		c.logger.WithError(err).Error("failed to query products")
		return nil, err
	}
	var docs []ProductDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, err
	}

	titles := make(map[uuid.UUID]string, len(docs))
	for _, d := range docs {
		id, err := uuid.Parse(d.ID)
		if err != nil {
			continue
		}
		titles[id] = d.Title
	}
	return titles, nil
}

func (c *CatalogRepository) UpsertProduct(ctx context.Context, p ProductDoc) error {
	_, err := c.coll.ReplaceOne(ctx, bson.M{"_id": p.ID}, p, options.Replace().SetUpsert(true))
	if err != nil {
		c.logger.WithError(err).Error("failed to upsert product")
	}
	return err
}
