// internal/app/store/conversations/store.go
package conversations

import (
	"context"

	"github.com/dalemusser/askaway/internal/app/system/retry"
	"github.com/dalemusser/askaway/internal/app/system/storeerr"
	"github.com/dalemusser/askaway/internal/domain/models"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
)

// Store manages the conversations collection.
type Store struct {
	c *mongo.Collection
}

// New creates a new conversations Store.
func New(db *mongo.Database) *Store {
	return &Store{c: db.Collection("conversations")}
}

// Create records a conversation the bot was installed into.
// Returns storeerr.ErrDuplicateKey if the id already exists.
func (s *Store) Create(ctx context.Context, id, serviceURL, tenantID string) (models.Conversation, error) {
	conv := models.Conversation{
		ID:         id,
		ServiceURL: serviceURL,
		TenantID:   tenantID,
	}
	err := retry.Do(ctx, retry.Default(), func(ctx context.Context) error {
		_, err := s.c.InsertOne(ctx, conv)
		return err
	})
	if err != nil {
		return models.Conversation{}, storeerr.FromMongo(err)
	}
	return conv, nil
}

// Get loads a conversation by id. Returns storeerr.ErrNotFound if absent.
func (s *Store) Get(ctx context.Context, id string) (models.Conversation, error) {
	return retry.DoValue(ctx, retry.Default(), func(ctx context.Context) (models.Conversation, error) {
		var conv models.Conversation
		if err := s.c.FindOne(ctx, bson.M{"_id": id}).Decode(&conv); err != nil {
			return models.Conversation{}, storeerr.FromMongo(err)
		}
		return conv, nil
	})
}

// Delete removes a conversation. Deleting an absent conversation is not an error.
func (s *Store) Delete(ctx context.Context, id string) error {
	return retry.Do(ctx, retry.Default(), func(ctx context.Context) error {
		_, err := s.c.DeleteOne(ctx, bson.M{"_id": id})
		return err
	})
}
