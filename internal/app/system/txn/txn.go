// internal/app/system/txn/txn.go

// Package txn runs a function inside a multi-document transaction when the
// deployment supports one, and runs it directly otherwise.
//
// Standalone mongod and some Cosmos DB tiers reject transactions. Callers
// must therefore keep their own consistency checks (unique indexes, version
// guards, double checks after write); a transaction only narrows the window.
package txn

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"

	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"
)

// Server codes meaning "transactions are unavailable here".
var notSupportedCodes = map[int32]bool{
	20:  true, // IllegalOperation: not a replica set member
	51:  true, // IllegalOperation (legacy)
	263: true, // OperationNotSupportedInTransaction
}

var warned atomic.Bool

// IsNotSupported reports whether err says the deployment cannot run
// transactions.
func IsNotSupported(err error) bool {
	if err == nil {
		return false
	}
	var ce mongo.CommandError
	if errors.As(err, &ce) && notSupportedCodes[ce.Code] {
		return true
	}

	s := strings.ToLower(err.Error())
	has := func(a, b string) bool { return strings.Contains(s, a) && strings.Contains(s, b) }
	return has("transaction", "replica set") ||
		has("session", "not supported") ||
		has("transaction", "session") ||
		has("illegal", "operation")
}

// Run executes fn in a transaction on db's client. If the deployment rejects
// transactions, fn is executed once more without one and a warning is logged
// the first time this happens.
func Run(ctx context.Context, db *mongo.Database, log *zap.Logger, fn func(ctx context.Context) error) error {
	sess, err := db.Client().StartSession()
	if err != nil {
		if IsNotSupported(err) {
			return runDirect(ctx, log, err, fn)
		}
		return err
	}
	defer sess.EndSession(ctx)

	_, err = sess.WithTransaction(ctx, func(sc mongo.SessionContext) (interface{}, error) {
		return nil, fn(sc)
	})
	if err != nil && IsNotSupported(err) {
		return runDirect(ctx, log, err, fn)
	}
	return err
}

func runDirect(ctx context.Context, log *zap.Logger, cause error, fn func(ctx context.Context) error) error {
	if log != nil && warned.CompareAndSwap(false, true) {
		log.Warn("transactions not supported; running without one", zap.Error(cause))
	}
	return fn(ctx)
}
