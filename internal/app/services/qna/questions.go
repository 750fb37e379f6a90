// internal/app/services/qna/questions.go
package qna

import (
	"context"
	"errors"
	"unicode/utf8"

	"github.com/dalemusser/askaway/internal/app/store/qnasessions"
	"github.com/dalemusser/askaway/internal/app/system/apperr"
	"github.com/dalemusser/askaway/internal/app/system/events"
	"github.com/dalemusser/askaway/internal/app/system/htmlsanitize"
	"github.com/dalemusser/askaway/internal/app/system/storeerr"
	"github.com/dalemusser/askaway/internal/domain/models"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"
)

// SubmitQuestionInput is a new question.
type SubmitQuestionInput struct {
	ConversationID string
	SessionID      string
	UserID         string
	UserName       string
	Content        string
}

// VoteInput identifies a vote toggle.
type VoteInput struct {
	ConversationID string
	SessionID      string
	QuestionID     string
	UserID         string
	UserName       string
	Direction      models.VoteDirection
}

// VoteResult is the outcome of ToggleVote. Changed is false when the vote was
// already in the requested state; nothing was written in that case.
type VoteResult struct {
	Question  models.Question
	VoteCount int
	Changed   bool
}

// MarkAnsweredInput identifies a question the host marks answered.
type MarkAnsweredInput struct {
	ConversationID string
	SessionID      string
	QuestionID     string
	UserID         string
}

var errSessionEnded = apperr.Conflict(apperr.CodeSessionEnded, "this Q&A session has ended")

// SubmitQuestion adds a question to an active session.
func (s *Service) SubmitQuestion(ctx context.Context, in SubmitQuestionInput) (models.Question, error) {
	content := htmlsanitize.PlainText(in.Content)
	if n := utf8.RuneCountInString(content); n < models.QuestionMinLength || n > models.QuestionMaxLength {
		return models.Question{}, apperr.Validation(apperr.CodeQuestionLength,
			"questions must be between 1 and 250 characters")
	}
	if in.UserID == "" {
		return models.Question{}, apperr.Validation(apperr.CodeInvalidParameter, "user id is required")
	}

	sess, err := s.session(ctx, in.SessionID, in.ConversationID)
	if err != nil {
		return models.Question{}, err
	}
	if !sess.IsActive {
		return models.Question{}, errSessionEnded
	}
	if _, err := s.TouchUser(ctx, in.UserID, in.UserName); err != nil {
		return models.Question{}, err
	}

	q, err := s.questions.Create(ctx, models.Question{
		QnASessionID:    sess.ID,
		UserID:          in.UserID,
		Content:         content,
		DateTimeCreated: s.now(),
	})
	if err != nil {
		return models.Question{}, storeFailure("create question", err)
	}

	version, err := s.sessions.IncrementActiveDataEventVersion(ctx, sess.ID)
	if err != nil {
		// The session ended between the check and the insert, or the version
		// could not be committed: take the question back out.
		if derr := s.questions.Delete(ctx, q.ID); derr != nil {
			s.log.Error("failed to delete question after version bump failure",
				zap.String("qna_session_id", sess.ID.Hex()),
				zap.String("question_id", q.ID.Hex()),
				zap.Error(derr))
		}
		return models.Question{}, versionFailure("submit question", err)
	}

	sess.DataEventVersion = version
	s.publish(ctx, sess, events.QuestionAdded(q, version))
	s.refreshCard(sess)
	s.log.Info("question submitted",
		zap.String("qna_session_id", sess.ID.Hex()),
		zap.String("question_id", q.ID.Hex()),
		zap.String("user_id", in.UserID),
		zap.Int64("version", version))
	return q, nil
}

// ToggleVote adds (up) or removes (down) the user's vote. Repeating a vote
// has no effect and produces no event.
func (s *Service) ToggleVote(ctx context.Context, in VoteInput) (VoteResult, error) {
	if in.Direction != models.VoteUp && in.Direction != models.VoteDown {
		return VoteResult{}, apperr.Validation(apperr.CodeInvalidParameter, "vote direction must be up or down")
	}
	if in.UserID == "" {
		return VoteResult{}, apperr.Validation(apperr.CodeInvalidParameter, "user id is required")
	}
	q, sess, err := s.activeQuestion(ctx, in.ConversationID, in.SessionID, in.QuestionID)
	if err != nil {
		return VoteResult{}, err
	}
	if _, err := s.TouchUser(ctx, in.UserID, in.UserName); err != nil {
		return VoteResult{}, err
	}

	updated, changed, err := s.questions.ToggleVote(ctx, q.ID, in.UserID, in.Direction)
	if errors.Is(err, storeerr.ErrNotFound) {
		return VoteResult{}, apperr.NotFound(apperr.CodeQuestionNotFound, "question not found")
	}
	if err != nil {
		return VoteResult{}, storeFailure("toggle vote", err)
	}
	if !changed {
		return VoteResult{Question: updated, VoteCount: updated.VoteCount()}, nil
	}

	version, err := s.sessions.IncrementActiveDataEventVersion(ctx, sess.ID)
	if err != nil {
		if _, _, uerr := s.questions.ToggleVote(ctx, q.ID, in.UserID, opposite(in.Direction)); uerr != nil {
			s.log.Error("failed to undo vote after version bump failure",
				zap.String("qna_session_id", sess.ID.Hex()),
				zap.String("question_id", q.ID.Hex()),
				zap.String("user_id", in.UserID),
				zap.Error(uerr))
		}
		return VoteResult{}, versionFailure("toggle vote", err)
	}

	sess.DataEventVersion = version
	updated = s.reload(ctx, updated)
	s.publish(ctx, sess, events.QuestionVoted(updated, in.Direction, version))
	s.refreshCard(sess)
	return VoteResult{Question: updated, VoteCount: updated.VoteCount(), Changed: true}, nil
}

// MarkAnswered marks a question answered. Only the session host may do it,
// and a question stays answered once marked.
func (s *Service) MarkAnswered(ctx context.Context, in MarkAnsweredInput) (models.Question, error) {
	if in.UserID == "" {
		return models.Question{}, apperr.Validation(apperr.CodeInvalidParameter, "user id is required")
	}
	q, sess, err := s.activeQuestion(ctx, in.ConversationID, in.SessionID, in.QuestionID)
	if err != nil {
		return models.Question{}, err
	}
	if in.UserID != sess.HostID {
		return models.Question{}, apperr.Forbidden(apperr.CodeNotHost, "only the host can mark questions answered")
	}

	updated, changed, err := s.questions.MarkAnswered(ctx, q.ID)
	if errors.Is(err, storeerr.ErrNotFound) {
		return models.Question{}, apperr.NotFound(apperr.CodeQuestionNotFound, "question not found")
	}
	if err != nil {
		return models.Question{}, storeFailure("mark answered", err)
	}
	if !changed {
		return updated, nil
	}

	version, err := s.sessions.IncrementActiveDataEventVersion(ctx, sess.ID)
	if err != nil {
		if uerr := s.questions.UnmarkAnswered(ctx, q.ID); uerr != nil {
			s.log.Error("failed to unmark question after version bump failure",
				zap.String("qna_session_id", sess.ID.Hex()),
				zap.String("question_id", q.ID.Hex()),
				zap.Error(uerr))
		}
		return models.Question{}, versionFailure("mark answered", err)
	}

	sess.DataEventVersion = version
	updated = s.reload(ctx, updated)
	s.publish(ctx, sess, events.QuestionMarkedAnswered(updated, version))
	s.refreshCard(sess)
	return updated, nil
}

// activeQuestion loads a question and its session and refuses ended sessions.
func (s *Service) activeQuestion(ctx context.Context, conversationID, sessionID, questionID string) (models.Question, models.QnASession, error) {
	qid, err := primitive.ObjectIDFromHex(questionID)
	if err != nil {
		return models.Question{}, models.QnASession{}, apperr.Validation(apperr.CodeInvalidParameter, "invalid question id")
	}
	q, err := s.questions.Get(ctx, qid)
	if errors.Is(err, storeerr.ErrNotFound) {
		return models.Question{}, models.QnASession{}, apperr.NotFound(apperr.CodeQuestionNotFound, "question not found")
	}
	if err != nil {
		return models.Question{}, models.QnASession{}, storeFailure("load question", err)
	}
	if sessionID != "" && q.QnASessionID.Hex() != sessionID {
		return models.Question{}, models.QnASession{}, apperr.NotFound(apperr.CodeQuestionNotFound, "question not found")
	}

	sess, err := s.session(ctx, q.QnASessionID.Hex(), conversationID)
	if err != nil {
		return models.Question{}, models.QnASession{}, err
	}
	if !sess.IsActive {
		return models.Question{}, models.QnASession{}, errSessionEnded
	}
	return q, sess, nil
}

// reload re-reads q once its version bump has committed. Writes by other
// users may land between a question write and its version bump, so the event
// for the highest version must carry the state read after that bump. If the
// read fails q is returned as written.
func (s *Service) reload(ctx context.Context, q models.Question) models.Question {
	cur, err := s.questions.Get(ctx, q.ID)
	if err != nil {
		s.log.Warn("question re-read after version bump failed",
			zap.String("qna_session_id", q.QnASessionID.Hex()),
			zap.String("question_id", q.ID.Hex()),
			zap.Error(err))
		return q
	}
	return cur
}

// versionFailure maps a failed version bump after a question write.
func versionFailure(op string, err error) error {
	switch {
	case errors.Is(err, qnasessions.ErrInactive):
		return errSessionEnded
	case errors.Is(err, storeerr.ErrNotFound):
		return apperr.NotFound(apperr.CodeSessionNotFound, "session not found")
	default:
		return storeFailure(op, err)
	}
}

func opposite(dir models.VoteDirection) models.VoteDirection {
	if dir == models.VoteUp {
		return models.VoteDown
	}
	return models.VoteUp
}
