package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fjod/go_cart/settlement-service/internal/domain"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// addItemAttempts bounds the retries when the push upsert collides on the
// unique user_id index, either because two first-time adds race or because the
// line was pushed by someone else after the increment missed it. Each
// collision means another request made progress.
const addItemAttempts = 8

type MongoRepository struct {
	collection *mongo.Collection
}

func NewMongoRepository(db *mongo.Database) *MongoRepository {
	return &MongoRepository{
		collection: db.Collection("carts"),
	}
}

func (m *MongoRepository) GetCart(ctx context.Context, userID string) (*domain.Cart, error) {
	var cart domain.Cart

	err := m.collection.FindOne(ctx, bson.M{"user_id": userID}).Decode(&cart)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrCartNotFound
		}
		return nil, fmt.Errorf("failed to get cart: %w", err)
	}

	return &cart, nil
}

// AddItem increments the line in place when it exists, otherwise pushes a new
// line, creating the cart document on first use. Both steps are single-document
// updates so concurrent adds never lose quantity.
func (m *MongoRepository) AddItem(ctx context.Context, userID, productID string, quantity int) error {
	for attempt := 1; ; attempt++ {
		now := time.Now().UTC()

		incremented, err := m.incrementItem(ctx, userID, productID, quantity, now)
		if err != nil {
			return err
		}
		if incremented {
			return nil
		}

		// Match only a cart that does not hold the line yet. If a concurrent
		// request pushed it in between, the filter misses, the upsert collides
		// with the unique user_id index and we go round again to increment.
		filter := bson.M{
			"user_id":          userID,
			"items.product_id": bson.M{"$ne": productID},
		}
		update := bson.M{
			"$push": bson.M{"items": domain.CartItem{
				ProductID: productID,
				Quantity:  quantity,
				AddedAt:   now,
			}},
			"$set":         bson.M{"updated_at": now},
			"$setOnInsert": bson.M{"created_at": now},
		}

		_, err = m.collection.UpdateOne(ctx, filter, update, options.Update().SetUpsert(true))
		if err == nil {
			return nil
		}
		if !mongo.IsDuplicateKeyError(err) || attempt >= addItemAttempts {
			return fmt.Errorf("failed to add new item: %w", err)
		}
	}
}

func (m *MongoRepository) incrementItem(ctx context.Context, userID, productID string, quantity int, now time.Time) (bool, error) {
	filter := bson.M{
		"user_id":          userID,
		"items.product_id": productID,
	}
	update := bson.M{
		"$inc": bson.M{"items.$.quantity": quantity},
		"$set": bson.M{"updated_at": now},
	}

	result, err := m.collection.UpdateOne(ctx, filter, update)
	if err != nil {
		return false, fmt.Errorf("failed to increment item: %w", err)
	}
	return result.MatchedCount > 0, nil
}

func (m *MongoRepository) SetItemQuantity(ctx context.Context, userID, productID string, quantity int) error {
	if quantity == 0 {
		return m.RemoveItem(ctx, userID, productID)
	}

	filter := bson.M{
		"user_id":          userID,
		"items.product_id": productID,
	}
	update := bson.M{
		"$set": bson.M{
			"items.$[elem].quantity": quantity,
			"updated_at":             time.Now().UTC(),
		},
	}
	arrayFilters := options.Update().SetArrayFilters(options.ArrayFilters{
		Filters: []interface{}{
			bson.M{"elem.product_id": productID},
		},
	})

	result, err := m.collection.UpdateOne(ctx, filter, update, arrayFilters)
	if err != nil {
		return fmt.Errorf("failed to update item quantity: %w", err)
	}

	if result.MatchedCount == 0 {
		return domain.ErrItemNotFound
	}
	return nil
}

// RemoveItem is idempotent: a missing cart or line is not an error.
func (m *MongoRepository) RemoveItem(ctx context.Context, userID, productID string) error {
	filter := bson.M{"user_id": userID}
	update := bson.M{
		"$pull": bson.M{
			"items": bson.M{"product_id": productID},
		},
		"$set": bson.M{"updated_at": time.Now().UTC()},
	}

	if _, err := m.collection.UpdateOne(ctx, filter, update); err != nil {
		return fmt.Errorf("failed to remove item: %w", err)
	}
	return nil
}

// ClearCart empties the line list but keeps the document.
func (m *MongoRepository) ClearCart(ctx context.Context, userID string) error {
	filter := bson.M{"user_id": userID}
	update := bson.M{
		"$set": bson.M{
			"items":      bson.A{},
			"updated_at": time.Now().UTC(),
		},
	}

	if _, err := m.collection.UpdateOne(ctx, filter, update); err != nil {
		return fmt.Errorf("failed to clear cart: %w", err)
	}
	return nil
}

// CreateIndexes creates the unique user_id index. Carts live as long as the
// buyer, so nothing expires them.
func (m *MongoRepository) CreateIndexes(ctx context.Context) error {
	index := mongo.IndexModel{
		Keys:    bson.D{{Key: "user_id", Value: 1}},
		Options: options.Index().SetUnique(true),
	}

	if _, err := m.collection.Indexes().CreateOne(ctx, index); err != nil {
		return fmt.Errorf("failed to create indexes: %w", err)
	}

	return nil
}
