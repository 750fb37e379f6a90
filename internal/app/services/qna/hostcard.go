// internal/app/services/qna/hostcard.go
package qna

import (
	"context"
	"fmt"

	"github.com/dalemusser/askaway/internal/domain/models"
)

// topQuestions is how many unanswered questions the host card lists.
const topQuestions = 3

// ActivityUpdater replaces a message the bot posted. *roster.Client
// implements it.
type ActivityUpdater interface {
	UpdateActivity(ctx context.Context, serviceURL, conversationID, activityID string, activity any) error
}

// HostCard redraws the host card of a session from its leaderboard.
// It is the card updater of workers.CardRefresh.
type HostCard struct {
	svc     *Service
	updater ActivityUpdater
}

// NewHostCard creates a HostCard.
func NewHostCard(svc *Service, updater ActivityUpdater) *HostCard {
	return &HostCard{svc: svc, updater: updater}
}

// UpdateCard rewrites the host card of sess. Sessions whose card was never
// posted are skipped.
func (c *HostCard) UpdateCard(ctx context.Context, sess models.QnASession) error {
	if sess.ActivityID == "" {
		return nil
	}
	conv, err := c.svc.conversation(ctx, sess.ConversationID)
	if err != nil {
		return err
	}
	lb, err := c.svc.GetLeaderboard(ctx, sess.ConversationID, sess.ID.Hex(), "")
	if err != nil {
		return err
	}
	return c.updater.UpdateActivity(ctx, conv.ServiceURL, sess.ConversationID, sess.ActivityID, hostCardActivity(lb))
}

// hostCardActivity renders a minimal adaptive card: title, description,
// status and the top unanswered questions.
func hostCardActivity(lb Leaderboard) map[string]any {
	sess := lb.Session
	body := []map[string]any{
		{"type": "TextBlock", "text": sess.Title, "weight": "Bolder", "size": "Medium", "wrap": true},
	}
	if sess.Description != "" {
		body = append(body, map[string]any{"type": "TextBlock", "text": sess.Description, "wrap": true})
	}

	status := fmt.Sprintf("%d open, %d answered", len(lb.Unanswered), len(lb.Answered))
	if !sess.IsActive {
		status = "This Q&A session has ended. " + status
	}
	body = append(body, map[string]any{"type": "TextBlock", "text": status, "isSubtle": true, "wrap": true})

	for i, e := range lb.Unanswered {
		if i == topQuestions {
			break
		}
		body = append(body, map[string]any{
			"type": "TextBlock",
			"text": fmt.Sprintf("%s (%d)", e.Question.Content, e.VoteCount),
			"wrap": true,
		})
	}

	return map[string]any{
		"type": "message",
		"id":   sess.ActivityID,
		"attachments": []map[string]any{{
			"contentType": "application/vnd.microsoft.card.adaptive",
			"content": map[string]any{
				"type":    "AdaptiveCard",
				"version": "1.2",
				"body":    body,
			},
		}},
	}
}
