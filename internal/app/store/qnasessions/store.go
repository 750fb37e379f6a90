// internal/app/store/qnasessions/store.go
package qnasessions

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

// ErrInactive is returned by IncrementActiveDataEventVersion when the session
// has already ended.
var ErrInactive = errors.New("qna session is not active")

// Store manages the qnasessions collection.
//
// Every write that touches data_event_version is a compare-and-swap on the
// version read just before it; a lost race surfaces as storeerr.ErrStaleWrite
// and is retried under retry.Concurrency.
type Store struct {
	c *mongo.Collection
}

// New creates a new qnasessions Store.
func New(db *mongo.Database) *Store {
	return &Store{c: db.Collection("qnasessions")}
}

// Collection exposes the underlying collection for transactional callers.
func (s *Store) Collection() *mongo.Collection {
	return s.c
}

// EnsureIndexes creates the indexes this store relies on.
func (s *Store) EnsureIndexes(ctx context.Context) error {
	_, err := s.c.Indexes().CreateMany(ctx, IndexModels())
	return err
}

// IndexModels returns the desired index set, shared with system/indexes.
func IndexModels() []mongo.IndexModel {
	return []mongo.IndexModel{
		// At most one active session per conversation. Stores without
		// partial-index support still get the application-level double check.
		{
			Keys: bson.D{{Key: "conversation_id", Value: 1}},
			Options: options.Index().
				SetUnique(true).
				SetPartialFilterExpression(bson.M{"is_active": true}).
				SetName("uniq_qnasessions_active_conversation"),
		},
		{
			Keys:    bson.D{{Key: "conversation_id", Value: 1}, {Key: "date_time_created", Value: -1}},
			Options: options.Index().SetName("idx_qnasessions_conversation_created"),
		},
		{
			Keys:    bson.D{{Key: "date_time_next_card_update_scheduled", Value: 1}},
			Options: options.Index().SetSparse(true).SetName("idx_qnasessions_next_card_update"),
		},
	}
}

// Create inserts a new active session at version 0.
// Returns storeerr.ErrDuplicateKey if the unique active-session index rejects it.
func (s *Store) Create(ctx context.Context, sess models.QnASession) (models.QnASession, error) {
	if sess.ID.IsZero() {
		sess.ID = primitive.NewObjectID()
	}
	if sess.DateTimeCreated.IsZero() {
		sess.DateTimeCreated = time.Now().UTC()
	}
	sess.IsActive = true
	sess.DateTimeEnded = nil
	sess.DataEventVersion = 0

	err := retry.Do(ctx, retry.Default(), func(ctx context.Context) error {
		_, err := s.c.InsertOne(ctx, sess)
		return err
	})
	if err != nil {
		return models.QnASession{}, storeerr.FromMongo(err)
	}
	return sess, nil
}

// Get loads a session by id. Returns storeerr.ErrNotFound if absent.
func (s *Store) Get(ctx context.Context, id primitive.ObjectID) (models.QnASession, error) {
	return retry.DoValue(ctx, retry.Default(), func(ctx context.Context) (models.QnASession, error) {
		return s.get(ctx, id)
	})
}

func (s *Store) get(ctx context.Context, id primitive.ObjectID) (models.QnASession, error) {
	var sess models.QnASession
	if err := s.c.FindOne(ctx, bson.M{"_id": id}).Decode(&sess); err != nil {
		return models.QnASession{}, storeerr.FromMongo(err)
	}
	return sess, nil
}

// FindActiveByConversation returns the active session of a conversation.
// Returns storeerr.ErrNotFound if there is none.
func (s *Store) FindActiveByConversation(ctx context.Context, conversationID string) (models.QnASession, error) {
	opts := options.FindOne().SetSort(bson.D{{Key: "_id", Value: 1}})
	return retry.DoValue(ctx, retry.Default(), func(ctx context.Context) (models.QnASession, error) {
		var sess models.QnASession
		err := s.c.FindOne(ctx, bson.M{"conversation_id": conversationID, "is_active": true}, opts).Decode(&sess)
		if err != nil {
			return models.QnASession{}, storeerr.FromMongo(err)
		}
		return sess, nil
	})
}

// ListActiveByConversation returns all active sessions of a conversation,
// oldest first. More than one entry means a creation race is in progress.
func (s *Store) ListActiveByConversation(ctx context.Context, conversationID string) ([]models.QnASession, error) {
	return s.list(ctx, bson.M{"conversation_id": conversationID, "is_active": true},
		options.Find().SetSort(bson.D{{Key: "date_time_created", Value: 1}, {Key: "_id", Value: 1}}))
}

// ListByConversation returns every session of a conversation, newest first.
func (s *Store) ListByConversation(ctx context.Context, conversationID string) ([]models.QnASession, error) {
	return s.list(ctx, bson.M{"conversation_id": conversationID},
		options.Find().SetSort(bson.D{{Key: "date_time_created", Value: -1}}))
}

func (s *Store) list(ctx context.Context, filter bson.M, opts *options.FindOptions) ([]models.QnASession, error) {
	return retry.DoValue(ctx, retry.Default(), func(ctx context.Context) ([]models.QnASession, error) {
		cur, err := s.c.Find(ctx, filter, opts)
		if err != nil {
			return nil, err
		}
		defer cur.Close(ctx)

		var out []models.QnASession
		if err := cur.All(ctx, &out); err != nil {
			return nil, err
		}
		return out, nil
	})
}

// CountActive counts active sessions of a conversation.
func (s *Store) CountActive(ctx context.Context, conversationID string) (int64, error) {
	return retry.DoValue(ctx, retry.Default(), func(ctx context.Context) (int64, error) {
		return s.c.CountDocuments(ctx, bson.M{"conversation_id": conversationID, "is_active": true})
	})
}

// UpdateActivityID stores the message id of the host's session card.
func (s *Store) UpdateActivityID(ctx context.Context, id primitive.ObjectID, activityID string) error {
	return s.setFields(ctx, id, bson.M{"$set": bson.M{"activity_id": activityID}})
}

// EndResult reports the outcome of End.
type EndResult struct {
	Session models.QnASession
	// Ended is false when the session was already ended; nothing was written.
	Ended bool
}

// End flips an active session to ended and bumps its version in one
// compare-and-swap write. Ending an already-ended session is a no-op that
// returns Ended=false and leaves DateTimeEnded untouched.
// Returns storeerr.ErrNotFound only if the id does not exist.
func (s *Store) End(ctx context.Context, id primitive.ObjectID, now time.Time) (EndResult, error) {
	return withCAS(ctx, func(ctx context.Context) (EndResult, error) {
		cur, err := s.get(ctx, id)
		if err != nil {
			return EndResult{}, err
		}
		if !cur.IsActive {
			return EndResult{Session: cur, Ended: false}, nil
		}

		next := cur.DataEventVersion + 1
		res, err := s.c.UpdateOne(ctx,
			bson.M{"_id": id, "is_active": true, "data_event_version": cur.DataEventVersion},
			bson.M{"$set": bson.M{
				"is_active":          false,
				"date_time_ended":    now,
				"data_event_version": next,
			}},
		)
		if err != nil {
			return EndResult{}, err
		}
		if res.MatchedCount == 0 {
			return EndResult{}, storeerr.ErrStaleWrite
		}

		cur.IsActive = false
		cur.DateTimeEnded = &now
		cur.DataEventVersion = next
		return EndResult{Session: cur, Ended: true}, nil
	})
}

// RevertEnd undoes End: the session becomes active again, DateTimeEnded is
// cleared and the version returns to endedVersion-1. It only applies if the
// session is still exactly as End left it.
func (s *Store) RevertEnd(ctx context.Context, id primitive.ObjectID, endedVersion int64) error {
	return retry.Do(ctx, retry.Default(), func(ctx context.Context) error {
		res, err := s.c.UpdateOne(ctx,
			bson.M{"_id": id, "is_active": false, "data_event_version": endedVersion},
			bson.M{
				"$set":   bson.M{"is_active": true, "data_event_version": endedVersion - 1},
				"$unset": bson.M{"date_time_ended": ""},
			},
		)
		if err != nil {
			return storeerr.FromMongo(err)
		}
		if res.MatchedCount == 0 {
			return storeerr.ErrStaleWrite
		}
		return nil
	})
}

// IncrementAndGetDataEventVersion bumps the session version by one and
// returns the new value.
func (s *Store) IncrementAndGetDataEventVersion(ctx context.Context, id primitive.ObjectID) (int64, error) {
	return s.increment(ctx, id, false)
}

// IncrementActiveDataEventVersion is IncrementAndGetDataEventVersion that
// refuses ended sessions with ErrInactive.
func (s *Store) IncrementActiveDataEventVersion(ctx context.Context, id primitive.ObjectID) (int64, error) {
	return s.increment(ctx, id, true)
}

func (s *Store) increment(ctx context.Context, id primitive.ObjectID, requireActive bool) (int64, error) {
	return withCAS(ctx, func(ctx context.Context) (int64, error) {
		cur, err := s.get(ctx, id)
		if err != nil {
			return 0, err
		}
		if requireActive && !cur.IsActive {
			return 0, ErrInactive
		}

		filter := bson.M{"_id": id, "data_event_version": cur.DataEventVersion}
		if requireActive {
			filter["is_active"] = true
		}
		next := cur.DataEventVersion + 1
		res, err := s.c.UpdateOne(ctx, filter, bson.M{"$set": bson.M{"data_event_version": next}})
		if err != nil {
			return 0, err
		}
		if res.MatchedCount == 0 {
			return 0, storeerr.ErrStaleWrite
		}
		return next, nil
	})
}

// Delete removes a session. Used to roll back a creation.
func (s *Store) Delete(ctx context.Context, id primitive.ObjectID) error {
	return retry.Do(ctx, retry.Default(), func(ctx context.Context) error {
		_, err := s.c.DeleteOne(ctx, bson.M{"_id": id})
		return err
	})
}

// UpdateDateTimeCardLastUpdated records when the host card was last refreshed.
func (s *Store) UpdateDateTimeCardLastUpdated(ctx context.Context, id primitive.ObjectID, t time.Time) error {
	return s.setFields(ctx, id, bson.M{"$set": bson.M{"date_time_card_last_updated": t}})
}

// ClaimCardRedraw claims an immediate host card redraw by moving
// date_time_card_last_updated from prev (nil when never drawn) to now. It
// fails when another request moved it first or a refresh is already pending.
func (s *Store) ClaimCardRedraw(ctx context.Context, id primitive.ObjectID, prev *time.Time, now time.Time) (bool, error) {
	filter := bson.M{"_id": id, "date_time_next_card_update_scheduled": nil}
	if prev == nil {
		filter["date_time_card_last_updated"] = nil
	} else {
		filter["date_time_card_last_updated"] = *prev
	}
	return retry.DoValue(ctx, retry.Default(), func(ctx context.Context) (bool, error) {
		res, err := s.c.UpdateOne(ctx, filter, bson.M{"$set": bson.M{"date_time_card_last_updated": now}})
		if err != nil {
			return false, err
		}
		return res.ModifiedCount > 0, nil
	})
}

// ScheduleNextCardUpdate claims the pending card-refresh slot.
// It only succeeds when no refresh is pending; claimed=false means another
// request already scheduled one.
func (s *Store) ScheduleNextCardUpdate(ctx context.Context, id primitive.ObjectID, at time.Time) (bool, error) {
	return retry.DoValue(ctx, retry.Default(), func(ctx context.Context) (bool, error) {
		res, err := s.c.UpdateOne(ctx,
			bson.M{"_id": id, "date_time_next_card_update_scheduled": nil},
			bson.M{"$set": bson.M{"date_time_next_card_update_scheduled": at}},
		)
		if err != nil {
			return false, err
		}
		return res.ModifiedCount > 0, nil
	})
}

// ClearNextCardUpdate releases the pending card-refresh slot.
func (s *Store) ClearNextCardUpdate(ctx context.Context, id primitive.ObjectID) error {
	return s.setFields(ctx, id, bson.M{"$unset": bson.M{"date_time_next_card_update_scheduled": ""}})
}

// ListDueCardUpdates returns sessions whose scheduled card refresh is due.
// Used to recover refreshes scheduled by a process that has since stopped.
func (s *Store) ListDueCardUpdates(ctx context.Context, now time.Time) ([]models.QnASession, error) {
	return s.list(ctx, bson.M{"date_time_next_card_update_scheduled": bson.M{"$lte": now}}, options.Find().SetLimit(100))
}

func (s *Store) setFields(ctx context.Context, id primitive.ObjectID, update bson.M) error {
	return retry.Do(ctx, retry.Default(), func(ctx context.Context) error {
		res, err := s.c.UpdateOne(ctx, bson.M{"_id": id}, update)
		if err != nil {
			return err
		}
		if res.MatchedCount == 0 {
			return storeerr.ErrNotFound
		}
		return nil
	})
}

// withCAS runs a read-modify-write under the concurrency policy, each attempt
// itself protected by the default throttling policy.
func withCAS[T any](ctx context.Context, op func(ctx context.Context) (T, error)) (T, error) {
	return retry.DoValue(ctx, retry.Concurrency(), func(ctx context.Context) (T, error) {
		return retry.DoValue(ctx, retry.Default(), op)
	})
}
