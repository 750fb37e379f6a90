// internal/app/store/incidents/store.go
package incidents

import (
	"context"
	"time"

	"github.com/dalemusser/askaway/internal/app/system/retry"
	"github.com/dalemusser/askaway/internal/app/system/storeerr"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Operations that can leave an incident behind.
const (
	OperationStartSession = "start_session"
	OperationEndSession   = "end_session"
)

// Incident records a rollback that failed. The store is left with a change
// that no client was ever notified about, so an operator has to look at it.
type Incident struct {
	ID        primitive.ObjectID `bson:"_id,omitempty"`
	Timestamp time.Time          `bson:"timestamp"`

	Operation        string             `bson:"operation"`
	SessionID        primitive.ObjectID `bson:"session_id"`
	ConversationID   string             `bson:"conversation_id"`
	DataEventVersion int64              `bson:"data_event_version"`

	// DispatchError is why the notification failed; RevertError is why the
	// rollback that followed it failed.
	DispatchError string `bson:"dispatch_error"`
	RevertError   string `bson:"revert_error"`

	Resolved   bool       `bson:"resolved"`
	ResolvedAt *time.Time `bson:"resolved_at,omitempty"`
	ResolvedBy string     `bson:"resolved_by,omitempty"`
	Note       string     `bson:"note,omitempty"`
}

// QueryFilter defines filters for listing incidents.
type QueryFilter struct {
	UnresolvedOnly bool
	ConversationID string
	SessionID      *primitive.ObjectID
	Limit          int64
	Offset         int64
}

// Store manages incident records.
type Store struct {
	c *mongo.Collection
}

// New creates a new incidents Store.
func New(db *mongo.Database) *Store {
	return &Store{c: db.Collection("incidents")}
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
			Keys:    bson.D{{Key: "resolved", Value: 1}, {Key: "timestamp", Value: -1}},
			Options: options.Index().SetName("idx_incidents_resolved_ts"),
		},
		{
			Keys:    bson.D{{Key: "conversation_id", Value: 1}, {Key: "timestamp", Value: -1}},
			Options: options.Index().SetName("idx_incidents_conversation_ts"),
		},
	}
}

// Log records an incident and returns it with ID and Timestamp filled in.
// The insert backs off exponentially under throttling; an incident is the
// only trace of a failed rollback.
func (s *Store) Log(ctx context.Context, inc Incident) (Incident, error) {
	if inc.ID.IsZero() {
		inc.ID = primitive.NewObjectID()
	}
	if inc.Timestamp.IsZero() {
		inc.Timestamp = time.Now().UTC()
	}
	err := retry.Do(ctx, retry.Exponential(), func(ctx context.Context) error {
		_, err := s.c.InsertOne(ctx, inc)
		return err
	})
	if err != nil {
		return Incident{}, err
	}
	return inc, nil
}

// Get loads an incident by id.
func (s *Store) Get(ctx context.Context, id primitive.ObjectID) (Incident, error) {
	var inc Incident
	if err := s.c.FindOne(ctx, bson.M{"_id": id}).Decode(&inc); err != nil {
		return Incident{}, storeerr.FromMongo(err)
	}
	return inc, nil
}

// Query retrieves incidents matching the filter, newest first.
func (s *Store) Query(ctx context.Context, filter QueryFilter) ([]Incident, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	opts := options.Find().
		SetSort(bson.D{{Key: "timestamp", Value: -1}}).
		SetLimit(limit).
		SetSkip(filter.Offset)

	cur, err := s.c.Find(ctx, buildQuery(filter), opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var out []Incident
	if err := cur.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Count returns the number of incidents matching the filter.
func (s *Store) Count(ctx context.Context, filter QueryFilter) (int64, error) {
	return s.c.CountDocuments(ctx, buildQuery(filter))
}

// Resolve marks an incident as handled. Resolving twice keeps the first
// resolution. Returns storeerr.ErrNotFound if id does not exist.
func (s *Store) Resolve(ctx context.Context, id primitive.ObjectID, by, note string) error {
	now := time.Now().UTC()
	res, err := s.c.UpdateOne(ctx,
		bson.M{"_id": id, "resolved": false},
		bson.M{"$set": bson.M{
			"resolved":    true,
			"resolved_at": now,
			"resolved_by": by,
			"note":        note,
		}},
	)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		if _, err := s.Get(ctx, id); err != nil {
			return err
		}
	}
	return nil
}

func buildQuery(filter QueryFilter) bson.M {
	query := bson.M{}
	if filter.UnresolvedOnly {
		query["resolved"] = false
	}
	if filter.ConversationID != "" {
		query["conversation_id"] = filter.ConversationID
	}
	if filter.SessionID != nil {
		query["session_id"] = *filter.SessionID
	}
	return query
}
