package testutil

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/dalemusser/askaway/internal/domain/models"
	"github.com/go-chi/chi/v5"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
)

// WithChiURLParams adds chi URL parameters to the request context.
// Use this in handler tests that call a handler without the router.
func WithChiURLParams(r *http.Request, kv ...string) *http.Request {
	rctx := chi.NewRouteContext()
	for i := 0; i+1 < len(kv); i += 2 {
		rctx.URLParams.Add(kv[i], kv[i+1])
	}
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

// Fixtures provides helper methods for creating test data.
type Fixtures struct {
	db *mongo.Database
	t  *testing.T
}

// NewFixtures creates a new Fixtures instance for the given test database.
func NewFixtures(t *testing.T, db *mongo.Database) *Fixtures {
	t.Helper()
	return &Fixtures{db: db, t: t}
}

// DB returns the underlying database for direct access in tests.
func (f *Fixtures) DB() *mongo.Database {
	return f.db
}

// CreateConversation inserts a conversation the bot has been added to.
func (f *Fixtures) CreateConversation(ctx context.Context, id string) models.Conversation {
	f.t.Helper()

	conv := models.Conversation{
		ID:         id,
		ServiceURL: "https://smba.example.test/amer/",
		TenantID:   "tenant-1",
	}
	if _, err := f.db.Collection("conversations").InsertOne(ctx, conv); err != nil {
		f.t.Fatalf("failed to create test conversation: %v", err)
	}
	return conv
}

// CreateUser inserts a user with the given AAD object id and name.
func (f *Fixtures) CreateUser(ctx context.Context, id, name string) models.User {
	f.t.Helper()

	u := models.User{ID: id, UserName: name}
	if _, err := f.db.Collection("users").InsertOne(ctx, u); err != nil {
		f.t.Fatalf("failed to create test user: %v", err)
	}
	return u
}

// CreateSession inserts an active session at version 0 hosted by hostID.
func (f *Fixtures) CreateSession(ctx context.Context, conversationID, hostID string) models.QnASession {
	f.t.Helper()

	sess := models.QnASession{
		ID:              primitive.NewObjectID(),
		Title:           "Test session",
		Description:     "Fixture",
		IsActive:        true,
		HostID:          hostID,
		HostUserID:      "29:" + hostID,
		ConversationID:  conversationID,
		TenantID:        "tenant-1",
		Scope:           models.Scope{ScopeID: conversationID},
		DateTimeCreated: time.Now().UTC(),
	}
	if _, err := f.db.Collection("qnasessions").InsertOne(ctx, sess); err != nil {
		f.t.Fatalf("failed to create test session: %v", err)
	}
	return sess
}

// CreateEndedSession inserts a session that has already ended.
func (f *Fixtures) CreateEndedSession(ctx context.Context, conversationID, hostID string) models.QnASession {
	f.t.Helper()

	now := time.Now().UTC()
	sess := models.QnASession{
		ID:               primitive.NewObjectID(),
		Title:            "Ended session",
		IsActive:         false,
		HostID:           hostID,
		ConversationID:   conversationID,
		TenantID:         "tenant-1",
		Scope:            models.Scope{ScopeID: conversationID},
		DateTimeCreated:  now.Add(-time.Hour),
		DateTimeEnded:    &now,
		DataEventVersion: 1,
	}
	if _, err := f.db.Collection("qnasessions").InsertOne(ctx, sess); err != nil {
		f.t.Fatalf("failed to create ended test session: %v", err)
	}
	return sess
}

// CreateQuestion inserts a question with the given voters.
func (f *Fixtures) CreateQuestion(ctx context.Context, sessionID primitive.ObjectID, authorID, content string, voters ...string) models.Question {
	f.t.Helper()

	if voters == nil {
		voters = []string{}
	}
	q := models.Question{
		ID:              primitive.NewObjectID(),
		QnASessionID:    sessionID,
		UserID:          authorID,
		Content:         content,
		Voters:          voters,
		DateTimeCreated: time.Now().UTC(),
	}
	if _, err := f.db.Collection("questions").InsertOne(ctx, q); err != nil {
		f.t.Fatalf("failed to create test question: %v", err)
	}
	return q
}
