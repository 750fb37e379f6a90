// internal/domain/models/qnasession.go
package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Scope identifies where a session was started.
type Scope struct {
	ScopeID   string `bson:"scope_id" json:"scopeId"`
	IsChannel bool   `bson:"is_channel" json:"isChannel"`
}

// QnASession is one Q&A gathering inside a conversation.
//
// NOTE:
//   - At most one session per ConversationID has IsActive=true.
//   - IsActive goes true -> false once; DateTimeEnded is set in the same write.
//   - DataEventVersion starts at 0 and grows by exactly one per committed
//     mutation of the session or its questions. It doubles as the
//     optimistic-concurrency token for session writes.
type QnASession struct {
	ID             primitive.ObjectID `bson:"_id" json:"id"`
	Title          string             `bson:"title" json:"title"`
	Description    string             `bson:"description" json:"description"`
	IsActive       bool               `bson:"is_active" json:"isActive"`
	HostID         string             `bson:"host_id" json:"hostId"`
	HostUserID     string             `bson:"host_user_id" json:"hostUserId"`
	ActivityID     string             `bson:"activity_id,omitempty" json:"activityId,omitempty"`
	ConversationID string             `bson:"conversation_id" json:"conversationId"`
	TenantID       string             `bson:"tenant_id" json:"tenantId"`
	Scope          Scope              `bson:"scope" json:"scope"`

	DateTimeCreated time.Time  `bson:"date_time_created" json:"dateTimeCreated"`
	DateTimeEnded   *time.Time `bson:"date_time_ended,omitempty" json:"dateTimeEnded,omitempty"`

	DataEventVersion int64 `bson:"data_event_version" json:"dataEventVersion"`

	DateTimeCardLastUpdated         *time.Time `bson:"date_time_card_last_updated,omitempty" json:"dateTimeCardLastUpdated,omitempty"`
	DateTimeNextCardUpdateScheduled *time.Time `bson:"date_time_next_card_update_scheduled,omitempty" json:"dateTimeNextCardUpdateScheduled,omitempty"`
}

// MeetingID returns the meeting id when the session was started in a
// meeting chat, or "" for channels and group chats.
func (s QnASession) MeetingID() string {
	if s.Scope.IsChannel {
		return ""
	}
	return s.Scope.ScopeID
}
