// internal/app/system/storeerr/storeerr.go

// Package storeerr names the store conditions the adapters surface to the
// service layer and classifies raw driver errors into them.
//
// The adapters own all concurrency-control mechanics; callers only ever see
// ErrNotFound, ErrDuplicateKey, ErrStaleWrite or an unclassified driver error.
package storeerr

import (
	"errors"
	"strings"

	wafflemongo "github.com/dalemusser/waffle/pantry/mongo"
	"go.mongodb.org/mongo-driver/mongo"
)

var (
	// ErrNotFound is returned when the addressed document does not exist.
	ErrNotFound = errors.New("document not found")
	// ErrDuplicateKey is returned when an insert collides with a unique key.
	ErrDuplicateKey = errors.New("duplicate key")
	// ErrStaleWrite is returned when a compare-and-swap write found a different
	// revision than the one it read. It is retried by retry.Concurrency.
	ErrStaleWrite = errors.New("stale write: document revision changed")
)

// Cosmos DB (Mongo API) and MongoDB throttling signatures.
const (
	codeCosmosThrottled = 16500 // Cosmos "TooManyRequests" / request rate is large
	codeTooManyRequests = 429
	codeExceededTime    = 50 // MaxTimeMSExpired, surfaced by Cosmos under RU pressure
)

// FromMongo maps driver errors onto the store conditions above. Errors that
// do not match any condition are returned unchanged.
func FromMongo(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, mongo.ErrNoDocuments):
		return ErrNotFound
	case IsDuplicateKey(err):
		return ErrDuplicateKey
	}
	return err
}

// IsDuplicateKey reports whether err is a unique-index violation.
func IsDuplicateKey(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrDuplicateKey) {
		return true
	}
	return wafflemongo.IsDup(err)
}

// IsThrottled reports whether err is a transient rate-limit rejection from the
// store. These are the only errors the default retry policy retries.
func IsThrottled(err error) bool {
	if err == nil {
		return false
	}
	for _, code := range errorCodes(err) {
		switch code {
		case codeCosmosThrottled, codeTooManyRequests, codeExceededTime:
			return true
		}
	}
	s := strings.ToLower(err.Error())
	return strings.Contains(s, "toomanyrequests") ||
		strings.Contains(s, "request rate is large")
}

// IsStaleWrite reports whether err is an optimistic-concurrency conflict.
func IsStaleWrite(err error) bool {
	return errors.Is(err, ErrStaleWrite)
}

func errorCodes(err error) []int {
	var codes []int

	var ce mongo.CommandError
	if errors.As(err, &ce) {
		codes = append(codes, int(ce.Code))
	}
	var we mongo.WriteException
	if errors.As(err, &we) {
		for _, e := range we.WriteErrors {
			codes = append(codes, e.Code)
		}
		if we.WriteConcernError != nil {
			codes = append(codes, we.WriteConcernError.Code)
		}
	}
	var be mongo.BulkWriteException
	if errors.As(err, &be) {
		for _, e := range be.WriteErrors {
			codes = append(codes, e.Code)
		}
	}
	return codes
}
