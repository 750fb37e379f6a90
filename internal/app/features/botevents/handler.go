// internal/app/features/botevents/handler.go
package botevents

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/dalemusser/askaway/internal/app/system/timeouts"
	"github.com/dalemusser/askaway/internal/domain/models"
	"go.uber.org/zap"
)

// Lifecycle is the part of *qna.Service the bot endpoint calls.
type Lifecycle interface {
	RegisterConversation(ctx context.Context, id, serviceURL, tenantID string) (models.Conversation, error)
	RemoveConversation(ctx context.Context, id string) error
	TouchUser(ctx context.Context, id, userName string) (models.User, error)
}

// Handler receives Bot Framework activities.
type Handler struct {
	Lifecycle Lifecycle
	Log       *zap.Logger
}

// NewHandler creates a new bot events handler.
func NewHandler(lc Lifecycle, logger *zap.Logger) *Handler {
	return &Handler{Lifecycle: lc, Log: logger}
}

type account struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	AADObjectID string `json:"aadObjectId"`
}

// activity holds the fields of a conversationUpdate activity this endpoint
// reads; everything else is ignored.
type activity struct {
	Type         string  `json:"type"`
	ServiceURL   string  `json:"serviceUrl"`
	From         account `json:"from"`
	Recipient    account `json:"recipient"`
	Conversation struct {
		ID       string `json:"id"`
		TenantID string `json:"tenantId"`
	} `json:"conversation"`
	ChannelData struct {
		Tenant struct {
			ID string `json:"id"`
		} `json:"tenant"`
	} `json:"channelData"`
	MembersAdded   []account `json:"membersAdded"`
	MembersRemoved []account `json:"membersRemoved"`
}

func (a activity) tenantID() string {
	if a.Conversation.TenantID != "" {
		return a.Conversation.TenantID
	}
	return a.ChannelData.Tenant.ID
}

func (a activity) botIn(members []account) bool {
	for _, m := range members {
		if m.ID == a.Recipient.ID {
			return true
		}
	}
	return false
}

// ServeActivity handles POST /api/messages.
//
// The bot being added to a conversation registers it, the bot being removed
// forgets it. Other activities are acknowledged and ignored.
func (h *Handler) ServeActivity(w http.ResponseWriter, r *http.Request) {
	var act activity
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 256<<10)).Decode(&act); err != nil {
		http.Error(w, "invalid activity", http.StatusBadRequest)
		return
	}
	if act.Type != "conversationUpdate" || act.Conversation.ID == "" {
		w.WriteHeader(http.StatusOK)
		return
	}

	ctx, cancel := timeouts.WithTimeout(r.Context(), timeouts.Medium(), h.Log, "conversation update")
	defer cancel()

	if act.From.AADObjectID != "" {
		if _, err := h.Lifecycle.TouchUser(ctx, act.From.AADObjectID, act.From.Name); err != nil {
			h.Log.Warn("bot: user upsert failed", zap.String("user_id", act.From.AADObjectID), zap.Error(err))
		}
	}

	switch {
	case act.botIn(act.MembersAdded):
		if _, err := h.Lifecycle.RegisterConversation(ctx, act.Conversation.ID, act.ServiceURL, act.tenantID()); err != nil {
			h.Log.Error("bot: register conversation failed",
				zap.String("conversation_id", act.Conversation.ID), zap.Error(err))
			http.Error(w, "register failed", http.StatusInternalServerError)
			return
		}
	case act.botIn(act.MembersRemoved):
		if err := h.Lifecycle.RemoveConversation(ctx, act.Conversation.ID); err != nil {
			h.Log.Error("bot: remove conversation failed",
				zap.String("conversation_id", act.Conversation.ID), zap.Error(err))
			http.Error(w, "remove failed", http.StatusInternalServerError)
			return
		}
	}
	w.WriteHeader(http.StatusOK)
}
