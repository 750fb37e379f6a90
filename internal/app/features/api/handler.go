// internal/app/features/api/handler.go
package api

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/dalemusser/askaway/internal/app/services/qna"
	"github.com/dalemusser/askaway/internal/app/store/qnasessions"
	"github.com/dalemusser/askaway/internal/app/system/apperr"
	"github.com/dalemusser/askaway/internal/app/system/auth"
	"github.com/dalemusser/askaway/internal/app/system/timeouts"
	"github.com/dalemusser/askaway/internal/domain/models"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// QnA is the part of *qna.Service the REST API calls.
type QnA interface {
	AuthorizeMember(ctx context.Context, conversationID, userID string) (models.Conversation, error)
	ListSessions(ctx context.Context, conversationID string) ([]models.QnASession, error)
	ActiveSession(ctx context.Context, conversationID string) (models.QnASession, error)
	StartSession(ctx context.Context, in qna.StartSessionInput) (models.QnASession, error)
	EndSession(ctx context.Context, in qna.EndSessionInput) (qnasessions.EndResult, error)
	GetLeaderboard(ctx context.Context, conversationID, sessionID, viewerID string) (qna.Leaderboard, error)
	SubmitQuestion(ctx context.Context, in qna.SubmitQuestionInput) (models.Question, error)
	ToggleVote(ctx context.Context, in qna.VoteInput) (qna.VoteResult, error)
	MarkAnswered(ctx context.Context, in qna.MarkAnsweredInput) (models.Question, error)
	SetActivityID(ctx context.Context, in qna.SetActivityInput) error
}

// Handler serves the tab's REST API.
type Handler struct {
	QnA QnA
	Log *zap.Logger
}

// NewHandler creates a new API handler.
func NewHandler(svc QnA, logger *zap.Logger) *Handler {
	return &Handler{QnA: svc, Log: logger}
}

type startSessionRequest struct {
	Title       string       `json:"title"`
	Description string       `json:"description"`
	HostUserID  string       `json:"hostUserId"`
	Scope       models.Scope `json:"scope"`
}

type actionRequest struct {
	Action     string `json:"action"`
	ActivityID string `json:"activityId,omitempty"`
}

type submitQuestionRequest struct {
	Content string `json:"content"`
}

type voteResponse struct {
	Question  models.Question `json:"question"`
	VoteCount int             `json:"voteCount"`
	Changed   bool            `json:"changed"`
}

type endSessionResponse struct {
	Session models.QnASession `json:"session"`
	Ended   bool              `json:"ended"`
}

// requireMember rejects callers that do not belong to the conversation in
// the path.
func (h *Handler) requireMember(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, ok := auth.IdentityFrom(r.Context())
		if !ok {
			writeJSON(w, http.StatusUnauthorized, errorBody{Code: "UNAUTHORIZED", Message: "sign in required"})
			return
		}
		ctx, cancel := timeouts.WithTimeout(r.Context(), timeouts.Short(), h.Log, "verify membership")
		defer cancel()
		if _, err := h.QnA.AuthorizeMember(ctx, chi.URLParam(r, "conversationId"), id.UserID); err != nil {
			writeError(w, h.Log, err)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// ServeListSessions handles GET /conversations/{conversationId}/sessions.
func (h *Handler) ServeListSessions(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := timeouts.WithTimeout(r.Context(), timeouts.Medium(), h.Log, "list sessions")
	defer cancel()

	list, err := h.QnA.ListSessions(ctx, chi.URLParam(r, "conversationId"))
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

// ServeActiveSession handles GET /conversations/{conversationId}/sessions/active.
func (h *Handler) ServeActiveSession(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := timeouts.WithTimeout(r.Context(), timeouts.Short(), h.Log, "active session")
	defer cancel()

	sess, err := h.QnA.ActiveSession(ctx, chi.URLParam(r, "conversationId"))
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

// ServeStartSession handles POST /conversations/{conversationId}/sessions.
func (h *Handler) ServeStartSession(w http.ResponseWriter, r *http.Request) {
	id, _ := auth.IdentityFrom(r.Context())
	var body startSessionRequest
	if !decode(w, r, h.Log, &body) {
		return
	}

	ctx, cancel := timeouts.WithTimeout(r.Context(), timeouts.Long(), h.Log, "start session")
	defer cancel()

	sess, err := h.QnA.StartSession(ctx, qna.StartSessionInput{
		ConversationID: chi.URLParam(r, "conversationId"),
		Title:          body.Title,
		Description:    body.Description,
		UserID:         id.UserID,
		UserName:       id.Name,
		HostUserID:     body.HostUserID,
		Scope:          body.Scope,
	})
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusCreated, sess)
}

// ServeLeaderboard handles GET /conversations/{conversationId}/sessions/{sessionId}.
func (h *Handler) ServeLeaderboard(w http.ResponseWriter, r *http.Request) {
	id, _ := auth.IdentityFrom(r.Context())
	ctx, cancel := timeouts.WithTimeout(r.Context(), timeouts.Medium(), h.Log, "leaderboard")
	defer cancel()

	lb, err := h.QnA.GetLeaderboard(ctx, chi.URLParam(r, "conversationId"), chi.URLParam(r, "sessionId"), id.UserID)
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, lb)
}

// ServeUpdateSession handles PATCH /conversations/{conversationId}/sessions/{sessionId}.
// Actions are "end" and "setActivity", which records the host card message.
func (h *Handler) ServeUpdateSession(w http.ResponseWriter, r *http.Request) {
	id, _ := auth.IdentityFrom(r.Context())
	var body actionRequest
	if !decode(w, r, h.Log, &body) {
		return
	}
	switch body.Action {
	case "end":
	case "setActivity":
		h.setActivity(w, r, id, body.ActivityID)
		return
	default:
		writeError(w, h.Log, apperr.Validation(apperr.CodeInvalidParameter, "unknown action "+body.Action))
		return
	}

	ctx, cancel := timeouts.WithTimeout(r.Context(), timeouts.Long(), h.Log, "end session")
	defer cancel()

	res, err := h.QnA.EndSession(ctx, qna.EndSessionInput{
		ConversationID: chi.URLParam(r, "conversationId"),
		SessionID:      chi.URLParam(r, "sessionId"),
		UserID:         id.UserID,
		UserName:       id.Name,
	})
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, endSessionResponse{Session: res.Session, Ended: res.Ended})
}

func (h *Handler) setActivity(w http.ResponseWriter, r *http.Request, id auth.Identity, activityID string) {
	ctx, cancel := timeouts.WithTimeout(r.Context(), timeouts.Short(), h.Log, "set activity id")
	defer cancel()

	err := h.QnA.SetActivityID(ctx, qna.SetActivityInput{
		ConversationID: chi.URLParam(r, "conversationId"),
		SessionID:      chi.URLParam(r, "sessionId"),
		UserID:         id.UserID,
		ActivityID:     activityID,
	})
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ServeSubmitQuestion handles POST /conversations/{conversationId}/sessions/{sessionId}/questions.
func (h *Handler) ServeSubmitQuestion(w http.ResponseWriter, r *http.Request) {
	id, _ := auth.IdentityFrom(r.Context())
	var body submitQuestionRequest
	if !decode(w, r, h.Log, &body) {
		return
	}

	ctx, cancel := timeouts.WithTimeout(r.Context(), timeouts.Medium(), h.Log, "submit question")
	defer cancel()

	q, err := h.QnA.SubmitQuestion(ctx, qna.SubmitQuestionInput{
		ConversationID: chi.URLParam(r, "conversationId"),
		SessionID:      chi.URLParam(r, "sessionId"),
		UserID:         id.UserID,
		UserName:       id.Name,
		Content:        body.Content,
	})
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusCreated, q)
}

// ServeUpdateQuestion handles PATCH .../questions/{questionId} with action
// "upvote", "downvote" or "markAnswered".
func (h *Handler) ServeUpdateQuestion(w http.ResponseWriter, r *http.Request) {
	id, _ := auth.IdentityFrom(r.Context())
	var body actionRequest
	if !decode(w, r, h.Log, &body) {
		return
	}

	ctx, cancel := timeouts.WithTimeout(r.Context(), timeouts.Medium(), h.Log, "update question")
	defer cancel()

	conversationID := chi.URLParam(r, "conversationId")
	sessionID := chi.URLParam(r, "sessionId")
	questionID := chi.URLParam(r, "questionId")

	switch body.Action {
	case "upvote", "downvote":
		dir := models.VoteUp
		if body.Action == "downvote" {
			dir = models.VoteDown
		}
		res, err := h.QnA.ToggleVote(ctx, qna.VoteInput{
			ConversationID: conversationID,
			SessionID:      sessionID,
			QuestionID:     questionID,
			UserID:         id.UserID,
			UserName:       id.Name,
			Direction:      dir,
		})
		if err != nil {
			writeError(w, h.Log, err)
			return
		}
		writeJSON(w, http.StatusOK, voteResponse{Question: res.Question, VoteCount: res.VoteCount, Changed: res.Changed})

	case "markAnswered":
		q, err := h.QnA.MarkAnswered(ctx, qna.MarkAnsweredInput{
			ConversationID: conversationID,
			SessionID:      sessionID,
			QuestionID:     questionID,
			UserID:         id.UserID,
		})
		if err != nil {
			writeError(w, h.Log, err)
			return
		}
		writeJSON(w, http.StatusOK, q)

	default:
		writeError(w, h.Log, apperr.Validation(apperr.CodeInvalidParameter, "unknown action "+body.Action))
	}
}

// decode reads a JSON body into v, writing a 400 and returning false on failure.
func decode(w http.ResponseWriter, r *http.Request, log *zap.Logger, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 64<<10))
	if err := dec.Decode(v); err != nil {
		writeError(w, log, apperr.Validation(apperr.CodeInvalidParameter, "request body must be valid JSON"))
		return false
	}
	return true
}
