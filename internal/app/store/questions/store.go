// internal/app/store/questions/store.go
package questions

import (
	"context"
	"errors"
	"time"

	"github.com/dalemusser/askaway/internal/app/system/retry"
	"github.com/dalemusser/askaway/internal/app/system/storeerr"
	"github.com/dalemusser/askaway/internal/domain/models"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Store manages the questions collection.
type Store struct {
	c *mongo.Collection
}

// New creates a new questions Store.
func New(db *mongo.Database) *Store {
	return &Store{c: db.Collection("questions")}
}

// EnsureIndexes creates the indexes this store relies on.
func (s *Store) EnsureIndexes(ctx context.Context) error {
	_, err := s.c.Indexes().CreateMany(ctx, IndexModels())
	return err
}

// IndexModels returns the desired index set, shared with system/indexes.
func IndexModels() []mongo.IndexModel {
	return []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "qna_session_id", Value: 1}, {Key: "date_time_created", Value: -1}},
			Options: options.Index().SetName("idx_questions_session_created"),
		},
		{
			Keys:    bson.D{{Key: "user_id", Value: 1}},
			Options: options.Index().SetName("idx_questions_user"),
		},
	}
}

// Create inserts a new unanswered question with no voters.
func (s *Store) Create(ctx context.Context, q models.Question) (models.Question, error) {
	if q.ID.IsZero() {
		q.ID = primitive.NewObjectID()
	}
	if q.DateTimeCreated.IsZero() {
		q.DateTimeCreated = time.Now().UTC()
	}
	// Voters must be an array, never null, for $addToSet/$pull to apply.
	q.Voters = []string{}
	q.IsAnswered = false

	err := retry.Do(ctx, retry.Default(), func(ctx context.Context) error {
		_, err := s.c.InsertOne(ctx, q)
		return err
	})
	if err != nil {
		return models.Question{}, storeerr.FromMongo(err)
	}
	return q, nil
}

// Get loads a question by id. Returns storeerr.ErrNotFound if absent.
func (s *Store) Get(ctx context.Context, id primitive.ObjectID) (models.Question, error) {
	return retry.DoValue(ctx, retry.Default(), func(ctx context.Context) (models.Question, error) {
		var q models.Question
		if err := s.c.FindOne(ctx, bson.M{"_id": id}).Decode(&q); err != nil {
			return models.Question{}, storeerr.FromMongo(err)
		}
		return q, nil
	})
}

// ListBySession returns every question of a session, newest first. The
// scan is the most expensive read in the service, so throttling backs off
// exponentially.
func (s *Store) ListBySession(ctx context.Context, sessionID primitive.ObjectID) ([]models.Question, error) {
	opts := options.Find().SetSort(bson.D{{Key: "date_time_created", Value: -1}})
	return retry.DoValue(ctx, retry.Exponential(), func(ctx context.Context) ([]models.Question, error) {
		cur, err := s.c.Find(ctx, bson.M{"qna_session_id": sessionID}, opts)
		if err != nil {
			return nil, err
		}
		defer cur.Close(ctx)

		out := []models.Question{}
		if err := cur.All(ctx, &out); err != nil {
			return nil, err
		}
		return out, nil
	})
}

// ToggleVote adds (VoteUp) or removes (VoteDown) userID from the voter set.
// The membership test and the write are one filtered update, so concurrent
// toggles by different users never lose each other's votes.
// changed is false when the vote was already in the requested state.
func (s *Store) ToggleVote(ctx context.Context, id primitive.ObjectID, userID string, dir models.VoteDirection) (models.Question, bool, error) {
	var filter, update bson.M
	switch dir {
	case models.VoteUp:
		filter = bson.M{"_id": id, "voters": bson.M{"$ne": userID}}
		update = bson.M{"$addToSet": bson.M{"voters": userID}}
	case models.VoteDown:
		filter = bson.M{"_id": id, "voters": userID}
		update = bson.M{"$pull": bson.M{"voters": userID}}
	default:
		return models.Question{}, false, errors.New("questions: unknown vote direction " + string(dir))
	}
	return s.conditionalUpdate(ctx, id, filter, update)
}

// MarkAnswered flips IsAnswered to true. changed is false if it already was.
func (s *Store) MarkAnswered(ctx context.Context, id primitive.ObjectID) (models.Question, bool, error) {
	return s.conditionalUpdate(ctx, id,
		bson.M{"_id": id, "is_answered": false},
		bson.M{"$set": bson.M{"is_answered": true}},
	)
}

// UnmarkAnswered reverses MarkAnswered. Used only to roll back a mark that
// raced with the session ending.
func (s *Store) UnmarkAnswered(ctx context.Context, id primitive.ObjectID) error {
	_, _, err := s.conditionalUpdate(ctx, id,
		bson.M{"_id": id, "is_answered": true},
		bson.M{"$set": bson.M{"is_answered": false}},
	)
	return err
}

// Delete removes a question. Used to roll back a submission.
func (s *Store) Delete(ctx context.Context, id primitive.ObjectID) error {
	return retry.Do(ctx, retry.Default(), func(ctx context.Context) error {
		_, err := s.c.DeleteOne(ctx, bson.M{"_id": id})
		return err
	})
}

// conditionalUpdate applies update when filter matches and returns the
// resulting document. When the filter does not match, the current document is
// returned with changed=false, or storeerr.ErrNotFound if id does not exist.
func (s *Store) conditionalUpdate(ctx context.Context, id primitive.ObjectID, filter, update bson.M) (models.Question, bool, error) {
	type result struct {
		q       models.Question
		changed bool
	}
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	r, err := retry.DoValue(ctx, retry.Default(), func(ctx context.Context) (result, error) {
		var q models.Question
		err := s.c.FindOneAndUpdate(ctx, filter, update, opts).Decode(&q)
		if err == nil {
			return result{q: q, changed: true}, nil
		}
		if !errors.Is(err, mongo.ErrNoDocuments) {
			return result{}, err
		}
		if err := s.c.FindOne(ctx, bson.M{"_id": id}).Decode(&q); err != nil {
			return result{}, storeerr.FromMongo(err)
		}
		return result{q: q, changed: false}, nil
	})
	if err != nil {
		return models.Question{}, false, err
	}
	return r.q, r.changed, nil
}
