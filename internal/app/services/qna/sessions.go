// internal/app/services/qna/sessions.go
package qna

import (
	"context"
	"errors"
	"strings"
	"unicode/utf8"

	"github.com/dalemusser/askaway/internal/app/store/qnasessions"
	"github.com/dalemusser/askaway/internal/app/system/apperr"
	"github.com/dalemusser/askaway/internal/app/system/events"
	"github.com/dalemusser/askaway/internal/app/system/htmlsanitize"
	"github.com/dalemusser/askaway/internal/app/system/storeerr"
	"github.com/dalemusser/askaway/internal/domain/models"
	"go.uber.org/zap"
)

// Session field limits.
const (
	TitleMaxLength       = 250
	DescriptionMaxLength = 1000
)

// StartSessionInput describes a session to start.
type StartSessionInput struct {
	ConversationID string
	Title          string
	Description    string
	// UserID is the AAD object id of the host; HostUserID is their Teams id.
	UserID     string
	UserName   string
	HostUserID string
	ActivityID string
	Scope      models.Scope
}

// EndSessionInput identifies a session to end and who is ending it.
type EndSessionInput struct {
	ConversationID string
	SessionID      string
	UserID         string
	UserName       string
}

// errSessionLimit is returned when a conversation already has an active
// session.
var errSessionLimit = apperr.Conflict(apperr.CodeSessionLimitExhausted,
	"a Q&A session is already active in this conversation, end it before starting a new one")

// StartSession creates the active session of a conversation and delivers its
// Created event. If delivery fails the session is deleted again.
func (s *Service) StartSession(ctx context.Context, in StartSessionInput) (models.QnASession, error) {
	in.Title = htmlsanitize.PlainText(in.Title)
	in.Description = htmlsanitize.PlainText(in.Description)
	if err := validateStart(in); err != nil {
		return models.QnASession{}, err
	}

	conv, err := s.conversation(ctx, in.ConversationID)
	if err != nil {
		return models.QnASession{}, err
	}
	if _, err := s.TouchUser(ctx, in.UserID, in.UserName); err != nil {
		return models.QnASession{}, err
	}

	// In meetings only presenters and organizers may start a session.
	if !in.Scope.IsChannel && in.Scope.ScopeID != "" {
		ok, err := s.hasMeetingRole(ctx, in.Scope.ScopeID, in.UserID, conv.TenantID, conv.ServiceURL)
		if err != nil {
			return models.QnASession{}, err
		}
		if !ok {
			return models.QnASession{}, apperr.Forbidden(apperr.CodeInsufficientRole,
				"only meeting presenters and organizers can start a Q&A session")
		}
	}

	sess, err := s.createActive(ctx, models.QnASession{
		Title:           in.Title,
		Description:     in.Description,
		HostID:          in.UserID,
		HostUserID:      in.HostUserID,
		ActivityID:      in.ActivityID,
		ConversationID:  conv.ID,
		TenantID:        conv.TenantID,
		Scope:           in.Scope,
		DateTimeCreated: s.now(),
	})
	if err != nil {
		return models.QnASession{}, err
	}

	req := events.NewRequest(sess, conv.ServiceURL, events.Created(sess))
	if err := s.dispatcher.Dispatch(ctx, req); err != nil {
		return models.QnASession{}, s.revertStart(ctx, sess, err)
	}

	s.log.Info("qna session started",
		zap.String("qna_session_id", sess.ID.Hex()),
		zap.String("conversation_id", sess.ConversationID),
		zap.String("host_id", sess.HostID))
	return sess, nil
}

func validateStart(in StartSessionInput) error {
	switch {
	case in.ConversationID == "":
		return apperr.Validation(apperr.CodeInvalidParameter, "conversation id is required")
	case in.UserID == "":
		return apperr.Validation(apperr.CodeInvalidParameter, "user id is required")
	case in.Title == "":
		return apperr.Validation(apperr.CodeInvalidParameter, "a title is required")
	case utf8.RuneCountInString(in.Title) > TitleMaxLength:
		return apperr.Validation(apperr.CodeInvalidParameter, "the title is too long")
	case utf8.RuneCountInString(in.Description) > DescriptionMaxLength:
		return apperr.Validation(apperr.CodeInvalidParameter, "the description is too long")
	}
	return nil
}

// createActive inserts sess if its conversation has no active session.
// The check and insert share a transaction when the store supports one, and
// the unique partial index rejects a second active session. A check after the
// write settles any race that got past both: a creator that finds any other
// active session deletes its own. Creation timestamps are read before the
// insert, so they cannot pick a winner. Two creators that see each other both
// yield, which leaves no active session rather than two.
func (s *Service) createActive(ctx context.Context, sess models.QnASession) (models.QnASession, error) {
	var created models.QnASession
	err := s.runTx(ctx, func(ctx context.Context) error {
		n, err := s.sessions.CountActive(ctx, sess.ConversationID)
		if err != nil {
			return err
		}
		if n > 0 {
			return errSessionLimit
		}
		created, err = s.sessions.Create(ctx, sess)
		return err
	})
	switch {
	case errors.Is(err, errSessionLimit), errors.Is(err, storeerr.ErrDuplicateKey):
		return models.QnASession{}, errSessionLimit
	case err != nil:
		return models.QnASession{}, storeFailure("create session", err)
	}

	active, err := s.sessions.ListActiveByConversation(ctx, created.ConversationID)
	if err != nil {
		s.rollbackCreate(ctx, created, "active session check failed")
		return models.QnASession{}, storeFailure("check active sessions", err)
	}
	for _, other := range active {
		if other.ID != created.ID {
			s.rollbackCreate(ctx, created, "lost active session race")
			return models.QnASession{}, errSessionLimit
		}
	}
	return created, nil
}

func (s *Service) rollbackCreate(ctx context.Context, sess models.QnASession, reason string) {
	if err := s.sessions.Delete(ctx, sess.ID); err != nil {
		s.log.Error("failed to delete session after create check",
			zap.String("qna_session_id", sess.ID.Hex()),
			zap.String("conversation_id", sess.ConversationID),
			zap.String("reason", reason),
			zap.Error(err))
		return
	}
	s.log.Info("session creation rolled back",
		zap.String("qna_session_id", sess.ID.Hex()),
		zap.String("conversation_id", sess.ConversationID),
		zap.String("reason", reason))
}

// EndSession ends an active session and delivers its Ended event. Ending a
// session that already ended changes nothing and reports Ended=false. If
// delivery fails the session is reactivated at its previous version.
func (s *Service) EndSession(ctx context.Context, in EndSessionInput) (qnasessions.EndResult, error) {
	if in.UserID == "" {
		return qnasessions.EndResult{}, apperr.Validation(apperr.CodeInvalidParameter, "user id is required")
	}
	sess, err := s.session(ctx, in.SessionID, in.ConversationID)
	if err != nil {
		return qnasessions.EndResult{}, err
	}
	if _, err := s.TouchUser(ctx, in.UserID, in.UserName); err != nil {
		return qnasessions.EndResult{}, err
	}

	serviceURL := s.serviceURL(ctx, sess.ConversationID)
	ok, err := s.canManage(ctx, sess, in.UserID, serviceURL)
	if err != nil {
		return qnasessions.EndResult{}, err
	}
	if !ok {
		code, msg := apperr.CodeNotHost, "only the host can end this Q&A session"
		if sess.MeetingID() != "" {
			code, msg = apperr.CodeInsufficientRole, "only the host, presenters and organizers can end this Q&A session"
		}
		return qnasessions.EndResult{}, apperr.Forbidden(code, msg)
	}

	res, err := s.sessions.End(ctx, sess.ID, s.now())
	if errors.Is(err, storeerr.ErrNotFound) {
		return qnasessions.EndResult{}, apperr.NotFound(apperr.CodeSessionNotFound, "session not found")
	}
	if err != nil {
		return qnasessions.EndResult{}, storeFailure("end session", err)
	}
	if !res.Ended {
		s.log.Debug("session already ended", zap.String("qna_session_id", sess.ID.Hex()))
		return res, nil
	}

	ended := res.Session
	req := events.NewRequest(ended, serviceURL, events.Ended(ended, ended.DataEventVersion))
	if err := s.dispatcher.Dispatch(ctx, req); err != nil {
		return qnasessions.EndResult{}, s.revertEnd(ctx, ended, err)
	}

	s.log.Info("qna session ended",
		zap.String("qna_session_id", ended.ID.Hex()),
		zap.String("conversation_id", ended.ConversationID),
		zap.String("ended_by", in.UserID),
		zap.Int64("version", ended.DataEventVersion))
	s.refreshCard(ended)
	return res, nil
}

// ActiveSession returns the active session of a conversation.
func (s *Service) ActiveSession(ctx context.Context, conversationID string) (models.QnASession, error) {
	if strings.TrimSpace(conversationID) == "" {
		return models.QnASession{}, apperr.Validation(apperr.CodeInvalidParameter, "conversation id is required")
	}
	sess, err := s.sessions.FindActiveByConversation(ctx, conversationID)
	if errors.Is(err, storeerr.ErrNotFound) {
		return models.QnASession{}, apperr.NotFound(apperr.CodeSessionNotFound, "no active session")
	}
	if err != nil {
		return models.QnASession{}, storeFailure("find active session", err)
	}
	return sess, nil
}

// ListSessions returns every session of a conversation, newest first.
func (s *Service) ListSessions(ctx context.Context, conversationID string) ([]models.QnASession, error) {
	if strings.TrimSpace(conversationID) == "" {
		return nil, apperr.Validation(apperr.CodeInvalidParameter, "conversation id is required")
	}
	list, err := s.sessions.ListByConversation(ctx, conversationID)
	if err != nil {
		return nil, storeFailure("list sessions", err)
	}
	if list == nil {
		list = []models.QnASession{}
	}
	return list, nil
}

// SetActivityInput identifies the host card message of a session.
type SetActivityInput struct {
	ConversationID string
	SessionID      string
	UserID         string
	ActivityID     string
}

// SetActivityID records the id of the host card message. Only the host may
// point the session at a card.
func (s *Service) SetActivityID(ctx context.Context, in SetActivityInput) error {
	if strings.TrimSpace(in.ActivityID) == "" {
		return apperr.Validation(apperr.CodeInvalidParameter, "activity id is required")
	}
	sess, err := s.session(ctx, in.SessionID, in.ConversationID)
	if err != nil {
		return err
	}
	if sess.HostID != in.UserID {
		return apperr.Forbidden(apperr.CodeNotHost, "only the host can set the session card")
	}
	if err := s.sessions.UpdateActivityID(ctx, sess.ID, in.ActivityID); err != nil {
		if errors.Is(err, storeerr.ErrNotFound) {
			return apperr.NotFound(apperr.CodeSessionNotFound, "session not found")
		}
		return storeFailure("update activity id", err)
	}
	return nil
}
