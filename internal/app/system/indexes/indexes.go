// internal/app/system/indexes/indexes.go
package indexes

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dalemusser/askaway/internal/app/store/incidents"
	"github.com/dalemusser/askaway/internal/app/store/qnasessions"
	"github.com/dalemusser/askaway/internal/app/store/questions"
	"github.com/dalemusser/askaway/internal/app/system/storeerr"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"
)

/*
EnsureAll is called at startup and by askawayctl. Each ensure step is
idempotent. Errors are aggregated so every problem is visible at once and
startup can fail fast.
*/
func EnsureAll(ctx context.Context, db *mongo.Database) error {
	var problems []string

	sets := []struct {
		coll   string
		models []mongo.IndexModel
	}{
		{"conversations", conversationModels()},
		{"users", userModels()},
		{"qnasessions", qnasessions.IndexModels()},
		{"questions", questions.IndexModels()},
		{"incidents", incidents.IndexModels()},
	}
	for _, s := range sets {
		if err := ensureIndexSet(ctx, db.Collection(s.coll), s.models); err != nil {
			problems = append(problems, s.coll+": "+err.Error())
		}
	}

	if len(problems) > 0 {
		return errors.New(strings.Join(problems, "; "))
	}
	return nil
}

func conversationModels() []mongo.IndexModel {
	return []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "tenant_id", Value: 1}},
			Options: options.Index().SetName("idx_conversations_tenant"),
		},
	}
}

func userModels() []mongo.IndexModel {
	return []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "user_name", Value: 1}},
			Options: options.Index().SetName("idx_users_user_name"),
		},
	}
}

/* -------------------------------------------------------------------------- */
/* Core helper: reconcile a set of desired indexes for one collection         */
/* -------------------------------------------------------------------------- */

type existingIndex struct {
	Name    string `bson:"name"`
	Key     bson.D `bson:"key"`
	Unique  *bool  `bson:"unique,omitempty"`
	Partial bson.M `bson:"partialFilterExpression,omitempty"`
}

type desiredIndex struct {
	model   mongo.IndexModel
	name    string
	unique  bool
	partial string
	sig     string
}

func describe(m mongo.IndexModel) desiredIndex {
	d := desiredIndex{model: m, sig: keySig(m.Keys.(bson.D))}
	if m.Options != nil {
		if m.Options.Name != nil {
			d.name = *m.Options.Name
		}
		if m.Options.Unique != nil {
			d.unique = *m.Options.Unique
		}
		if m.Options.PartialFilterExpression != nil {
			d.partial = fmt.Sprint(m.Options.PartialFilterExpression)
		}
	}
	return d
}

func keySig(keys bson.D) string {
	parts := make([]string, 0, len(keys))
	for _, kv := range keys {
		parts = append(parts, fmt.Sprintf("%s:%v", kv.Key, kv.Value))
	}
	return strings.Join(parts, ", ")
}

func (e existingIndex) unique() bool {
	return e.Unique != nil && *e.Unique
}

func (e existingIndex) partial() string {
	if len(e.Partial) == 0 {
		return ""
	}
	return fmt.Sprint(e.Partial)
}

// Mongo and Cosmos return IndexOptionsConflict when an index with the same
// keys already exists under a different name or with different options.
func isOptionsConflictErr(err error) bool {
	return err != nil && strings.Contains(err.Error(), "IndexOptionsConflict")
}

func listExisting(ctx context.Context, coll *mongo.Collection) map[string]existingIndex {
	existing := map[string]existingIndex{}
	cur, err := coll.Indexes().List(ctx)
	if err != nil {
		return existing
	}
	defer cur.Close(ctx)
	for cur.Next(ctx) {
		var idx existingIndex
		if err := cur.Decode(&idx); err != nil {
			zap.L().Warn("failed to decode existing index",
				zap.String("collection", coll.Name()),
				zap.Error(err))
			continue
		}
		existing[keySig(idx.Key)] = idx
	}
	return existing
}

func ensureIndexSet(ctx context.Context, coll *mongo.Collection, models []mongo.IndexModel) error {
	var errs []string

	for _, m := range models {
		d := describe(m)
		start := time.Now()
		log := zap.L().With(
			zap.String("collection", coll.Name()),
			zap.String("name", d.name),
			zap.String("keys", d.sig),
			zap.Bool("unique", d.unique))
		log.Info("ensuring index")

		ex, ok := listExisting(ctx, coll)[d.sig]
		if !ok {
			_, err := coll.Indexes().CreateOne(ctx, m)
			if err == nil {
				log.Info("index ensured", zap.String("took", time.Since(start).String()))
				continue
			}
			if !isOptionsConflictErr(err) {
				log.Warn("index ensure failed", zap.Error(err))
				errs = append(errs, fmt.Sprintf("%s(%s): %v", coll.Name(), d.name, err))
				continue
			}
			// Conflict right after listing: someone else created it. Reload.
			if ex, ok = listExisting(ctx, coll)[d.sig]; !ok {
				errs = append(errs, fmt.Sprintf("%s(%s): %v", coll.Name(), d.name, err))
				continue
			}
		}

		sameOpts := d.unique == ex.unique() && d.partial == ex.partial()
		sameName := d.name == "" || d.name == ex.Name
		if sameOpts && sameName {
			log.Info("reusing existing index", zap.String("existing", ex.Name))
			continue
		}

		// Name or options differ. Drop and recreate with the desired definition.
		if _, err := coll.Indexes().DropOne(ctx, ex.Name); err != nil {
			log.Warn("drop existing index failed", zap.String("existing", ex.Name), zap.Error(err))
			errs = append(errs, fmt.Sprintf("%s(%s): drop failed: %v", coll.Name(), d.name, err))
			continue
		}
		if _, err := coll.Indexes().CreateOne(ctx, m); err != nil {
			if storeerr.IsDuplicateKey(err) && d.unique {
				helper := ""
				if coll.Name() == "qnasessions" {
					helper = "; more than one active session per conversation. Example finder:\n" +
						`db.qnasessions.aggregate([{ $match: { is_active: true } }, { $group: { _id: "$conversation_id", n: { $sum: 1 } } }, { $match: { n: { $gt: 1 } } }])`
				}
				errs = append(errs, fmt.Sprintf("%s(%s): cannot create unique index (duplicates present)%s", coll.Name(), d.name, helper))
			} else {
				errs = append(errs, fmt.Sprintf("%s(%s): %v", coll.Name(), d.name, err))
			}
			continue
		}
		log.Info("index dropped and recreated",
			zap.String("previous", ex.Name),
			zap.String("took", time.Since(start).String()))
	}

	if len(errs) > 0 {
		return errors.New(strings.Join(errs, "; "))
	}
	return nil
}
