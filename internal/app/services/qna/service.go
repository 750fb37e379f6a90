// internal/app/services/qna/service.go

// Package qna owns the Q&A session lifecycle: starting and ending sessions,
// submitting, voting on and answering questions, and the leaderboard view.
//
// Every committed mutation bumps the session's data event version exactly once
// and is followed by a data event carrying that version. Start and end wait
// for delivery and roll the change back if it fails; question mutations are
// delivered in the background.
package qna

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dalemusser/askaway/internal/app/store/incidents"
	"github.com/dalemusser/askaway/internal/app/store/qnasessions"
	"github.com/dalemusser/askaway/internal/app/system/apperr"
	"github.com/dalemusser/askaway/internal/app/system/events"
	"github.com/dalemusser/askaway/internal/app/system/roster"
	"github.com/dalemusser/askaway/internal/app/system/storeerr"
	"github.com/dalemusser/askaway/internal/domain/models"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"
)

// ConversationStore is the subset of conversations.Store the service uses.
type ConversationStore interface {
	Create(ctx context.Context, id, serviceURL, tenantID string) (models.Conversation, error)
	Get(ctx context.Context, id string) (models.Conversation, error)
	Delete(ctx context.Context, id string) error
}

// UserStore is the subset of userstore.Store the service uses.
type UserStore interface {
	GetOrCreateOrRename(ctx context.Context, id, userName string) (models.User, error)
	GetByIDs(ctx context.Context, ids []string) (map[string]models.User, error)
}

// SessionStore is the subset of qnasessions.Store the service uses.
type SessionStore interface {
	Create(ctx context.Context, sess models.QnASession) (models.QnASession, error)
	Get(ctx context.Context, id primitive.ObjectID) (models.QnASession, error)
	FindActiveByConversation(ctx context.Context, conversationID string) (models.QnASession, error)
	ListActiveByConversation(ctx context.Context, conversationID string) ([]models.QnASession, error)
	ListByConversation(ctx context.Context, conversationID string) ([]models.QnASession, error)
	CountActive(ctx context.Context, conversationID string) (int64, error)
	UpdateActivityID(ctx context.Context, id primitive.ObjectID, activityID string) error
	End(ctx context.Context, id primitive.ObjectID, now time.Time) (qnasessions.EndResult, error)
	RevertEnd(ctx context.Context, id primitive.ObjectID, endedVersion int64) error
	IncrementActiveDataEventVersion(ctx context.Context, id primitive.ObjectID) (int64, error)
	Delete(ctx context.Context, id primitive.ObjectID) error
}

// QuestionStore is the subset of questions.Store the service uses.
type QuestionStore interface {
	Create(ctx context.Context, q models.Question) (models.Question, error)
	Get(ctx context.Context, id primitive.ObjectID) (models.Question, error)
	ListBySession(ctx context.Context, sessionID primitive.ObjectID) ([]models.Question, error)
	ToggleVote(ctx context.Context, id primitive.ObjectID, userID string, dir models.VoteDirection) (models.Question, bool, error)
	MarkAnswered(ctx context.Context, id primitive.ObjectID) (models.Question, bool, error)
	UnmarkAnswered(ctx context.Context, id primitive.ObjectID) error
	Delete(ctx context.Context, id primitive.ObjectID) error
}

// IncidentLog records rollbacks that failed.
type IncidentLog interface {
	Log(ctx context.Context, inc incidents.Incident) (incidents.Incident, error)
}

// Roster answers meeting-role and membership questions. *roster.Client
// implements it.
type Roster interface {
	GetParticipantRole(ctx context.Context, meetingID, userID, tenantID, serviceURL string) (string, error)
	VerifyUserIsMember(ctx context.Context, conversationID, serviceURL, tenantID, userID string) (bool, error)
}

// Enqueuer hands an event to background delivery. *events.Queue implements it.
type Enqueuer interface {
	Enqueue(req events.Request) bool
}

// CardRefresher is told about every committed change to a session so the
// host card can be redrawn. *workers.CardRefresh implements it.
type CardRefresher interface {
	Request(sess models.QnASession)
}

// TxRunner runs fn in a store transaction when the store supports one.
type TxRunner func(ctx context.Context, fn func(ctx context.Context) error) error

// Deps are the collaborators of a Service. Cards, RunTx and Now are optional.
type Deps struct {
	Conversations ConversationStore
	Users         UserStore
	Sessions      SessionStore
	Questions     QuestionStore
	Incidents     IncidentLog
	Roster        Roster

	// Dispatcher delivers the events that are awaited (start, end).
	Dispatcher events.Sender
	// Queue delivers question events in the background.
	Queue Enqueuer

	Cards CardRefresher
	RunTx TxRunner
	Now   func() time.Time
}

// Service implements the Q&A operations. Construct it once with New and share
// it between the REST and bot handlers.
type Service struct {
	conversations ConversationStore
	users         UserStore
	sessions      SessionStore
	questions     QuestionStore
	incidents     IncidentLog
	roster        Roster
	dispatcher    events.Sender
	queue         Enqueuer
	cards         CardRefresher
	runTx         TxRunner
	now           func() time.Time
	log           *zap.Logger
}

// New creates a Service.
func New(deps Deps, logger *zap.Logger) *Service {
	s := &Service{
		conversations: deps.Conversations,
		users:         deps.Users,
		sessions:      deps.Sessions,
		questions:     deps.Questions,
		incidents:     deps.Incidents,
		roster:        deps.Roster,
		dispatcher:    deps.Dispatcher,
		queue:         deps.Queue,
		cards:         deps.Cards,
		runTx:         deps.RunTx,
		now:           deps.Now,
		log:           logger,
	}
	if s.runTx == nil {
		s.runTx = func(ctx context.Context, fn func(ctx context.Context) error) error { return fn(ctx) }
	}
	if s.now == nil {
		s.now = func() time.Time { return time.Now().UTC() }
	}
	return s
}

// RegisterConversation records a conversation the bot was added to. Adding
// the bot twice is not an error.
func (s *Service) RegisterConversation(ctx context.Context, id, serviceURL, tenantID string) (models.Conversation, error) {
	if id == "" || serviceURL == "" || tenantID == "" {
		return models.Conversation{}, apperr.Validation(apperr.CodeInvalidParameter, "conversation id, service url and tenant id are required")
	}
	conv, err := s.conversations.Create(ctx, id, serviceURL, tenantID)
	if errors.Is(err, storeerr.ErrDuplicateKey) {
		s.log.Debug("conversation already registered", zap.String("conversation_id", id))
		return models.Conversation{ID: id, ServiceURL: serviceURL, TenantID: tenantID}, nil
	}
	if err != nil {
		return models.Conversation{}, storeFailure("register conversation", err)
	}
	s.log.Info("conversation registered", zap.String("conversation_id", id), zap.String("tenant_id", tenantID))
	return conv, nil
}

// RemoveConversation forgets a conversation the bot was removed from.
func (s *Service) RemoveConversation(ctx context.Context, id string) error {
	if id == "" {
		return apperr.Validation(apperr.CodeInvalidParameter, "conversation id is required")
	}
	if err := s.conversations.Delete(ctx, id); err != nil {
		return storeFailure("remove conversation", err)
	}
	s.log.Info("conversation removed", zap.String("conversation_id", id))
	return nil
}

// TouchUser caches the display name of the user behind an action.
func (s *Service) TouchUser(ctx context.Context, id, userName string) (models.User, error) {
	if id == "" {
		return models.User{}, apperr.Validation(apperr.CodeInvalidParameter, "user id is required")
	}
	u, err := s.users.GetOrCreateOrRename(ctx, id, userName)
	if err != nil {
		return models.User{}, storeFailure("upsert user", err)
	}
	return u, nil
}

// AuthorizeMember verifies that userID belongs to the conversation and returns
// the conversation.
func (s *Service) AuthorizeMember(ctx context.Context, conversationID, userID string) (models.Conversation, error) {
	conv, err := s.conversation(ctx, conversationID)
	if err != nil {
		return models.Conversation{}, err
	}
	ok, err := s.roster.VerifyUserIsMember(ctx, conv.ID, conv.ServiceURL, conv.TenantID, userID)
	if err != nil {
		return models.Conversation{}, apperr.New(apperr.KindTransient, apperr.CodeRosterUnavailable,
			"could not verify conversation membership, please try again", err)
	}
	if !ok {
		return models.Conversation{}, apperr.Forbidden(apperr.CodeNotMember, "you are not a member of this conversation")
	}
	return conv, nil
}

func (s *Service) conversation(ctx context.Context, id string) (models.Conversation, error) {
	if id == "" {
		return models.Conversation{}, apperr.Validation(apperr.CodeInvalidParameter, "conversation id is required")
	}
	conv, err := s.conversations.Get(ctx, id)
	if errors.Is(err, storeerr.ErrNotFound) {
		return models.Conversation{}, apperr.NotFound(apperr.CodeConversationNotFound, "conversation not found")
	}
	if err != nil {
		return models.Conversation{}, storeFailure("load conversation", err)
	}
	return conv, nil
}

// session loads a session and, when conversationID is set, checks that the
// session belongs to it. A session in another conversation is reported as
// not found.
func (s *Service) session(ctx context.Context, sessionID, conversationID string) (models.QnASession, error) {
	id, err := primitive.ObjectIDFromHex(sessionID)
	if err != nil {
		return models.QnASession{}, apperr.Validation(apperr.CodeInvalidParameter, "invalid session id")
	}
	sess, err := s.sessions.Get(ctx, id)
	if errors.Is(err, storeerr.ErrNotFound) {
		return models.QnASession{}, apperr.NotFound(apperr.CodeSessionNotFound, "session not found")
	}
	if err != nil {
		return models.QnASession{}, storeFailure("load session", err)
	}
	if conversationID != "" && sess.ConversationID != conversationID {
		return models.QnASession{}, apperr.NotFound(apperr.CodeSessionNotFound, "session not found")
	}
	return sess, nil
}

// serviceURL returns the Bot Framework service url of a conversation, or ""
// if it cannot be loaded. Events are still delivered without it.
func (s *Service) serviceURL(ctx context.Context, conversationID string) string {
	conv, err := s.conversations.Get(ctx, conversationID)
	if err != nil {
		s.log.Warn("service url unavailable for event",
			zap.String("conversation_id", conversationID), zap.Error(err))
		return ""
	}
	return conv.ServiceURL
}

// canManage reports whether userID may end sess: the host always may, and in
// meetings so may presenters and organizers.
func (s *Service) canManage(ctx context.Context, sess models.QnASession, userID, serviceURL string) (bool, error) {
	if userID == sess.HostID {
		return true, nil
	}
	meetingID := sess.MeetingID()
	if meetingID == "" {
		return false, nil
	}
	return s.hasMeetingRole(ctx, meetingID, userID, sess.TenantID, serviceURL)
}

func (s *Service) hasMeetingRole(ctx context.Context, meetingID, userID, tenantID, serviceURL string) (bool, error) {
	role, err := s.roster.GetParticipantRole(ctx, meetingID, userID, tenantID, serviceURL)
	if err != nil {
		return false, apperr.New(apperr.KindTransient, apperr.CodeRosterUnavailable,
			"could not look up your meeting role, please try again", err)
	}
	return roster.CanManageSession(role), nil
}

// publish hands ev to background delivery.
func (s *Service) publish(ctx context.Context, sess models.QnASession, ev events.DataEvent) {
	req := events.NewRequest(sess, s.serviceURL(ctx, sess.ConversationID), ev)
	if !s.queue.Enqueue(req) {
		s.log.Warn("data event not queued",
			zap.String("qna_session_id", ev.QnASessionID),
			zap.String("event_type", string(ev.Type)),
			zap.Int64("version", ev.Version))
	}
}

func (s *Service) refreshCard(sess models.QnASession) {
	if s.cards != nil {
		s.cards.Request(sess)
	}
}

// storeFailure maps an unexpected store error: exhausted version conflicts
// become Conflict, throttling and deadlines Transient, anything else Internal.
func storeFailure(op string, err error) error {
	if storeerr.IsStaleWrite(err) {
		return apperr.New(apperr.KindConflict, apperr.CodeDocumentLocked,
			"the session is being updated by someone else, please try again", fmt.Errorf("%s: %w", op, err))
	}
	if storeerr.IsThrottled(err) || errors.Is(err, context.DeadlineExceeded) {
		return apperr.New(apperr.KindTransient, apperr.CodeStoreUnavailable,
			"the service is busy, please try again", fmt.Errorf("%s: %w", op, err))
	}
	return apperr.Internal(fmt.Errorf("%s: %w", op, err))
}
