// internal/app/store/users/userstore.go
package userstore

// Terminology: User Identifiers
//   - UserID / userID / _id: the AAD object id of the user
//   - HostUserID: the Teams (29:...) id used for @mentions, stored on sessions

import (
	"context"

	"github.com/dalemusser/askaway/internal/app/system/retry"
	"github.com/dalemusser/askaway/internal/app/system/storeerr"
	"github.com/dalemusser/askaway/internal/domain/models"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type Store struct {
	c *mongo.Collection
}

func New(db *mongo.Database) *Store {
	return &Store{c: db.Collection("users")}
}

// GetOrCreateOrRename upserts a user, overwriting the cached display name.
func (s *Store) GetOrCreateOrRename(ctx context.Context, id, userName string) (models.User, error) {
	opts := options.FindOneAndUpdate().
		SetUpsert(true).
		SetReturnDocument(options.After)

	upsert := func(ctx context.Context) (models.User, error) {
		var u models.User
		err := s.c.FindOneAndUpdate(ctx,
			bson.M{"_id": id},
			bson.M{"$set": bson.M{"user_name": userName}},
			opts,
		).Decode(&u)
		if err != nil {
			// Two concurrent upserts of a new id can race on _id; the loser
			// simply retries as an update.
			if storeerr.IsDuplicateKey(err) {
				return models.User{}, storeerr.ErrStaleWrite
			}
			return models.User{}, err
		}
		return u, nil
	}
	return retry.DoValue(ctx, retry.Concurrency(), func(ctx context.Context) (models.User, error) {
		return retry.DoValue(ctx, retry.Default(), upsert)
	})
}

// GetByID loads a user. Returns storeerr.ErrNotFound if absent.
func (s *Store) GetByID(ctx context.Context, id string) (models.User, error) {
	return retry.DoValue(ctx, retry.Default(), func(ctx context.Context) (models.User, error) {
		var u models.User
		if err := s.c.FindOne(ctx, bson.M{"_id": id}).Decode(&u); err != nil {
			return models.User{}, storeerr.FromMongo(err)
		}
		return u, nil
	})
}

// GetByIDs loads the users with the given ids, keyed by id. Missing ids are
// simply absent from the map.
func (s *Store) GetByIDs(ctx context.Context, ids []string) (map[string]models.User, error) {
	out := make(map[string]models.User, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	err := retry.Do(ctx, retry.Default(), func(ctx context.Context) error {
		cur, err := s.c.Find(ctx, bson.M{"_id": bson.M{"$in": ids}})
		if err != nil {
			return err
		}
		defer cur.Close(ctx)

		var users []models.User
		if err := cur.All(ctx, &users); err != nil {
			return err
		}
		for _, u := range users {
			out[u.ID] = u
		}
		return nil
	})
	return out, err
}
