// internal/domain/models/question.go
package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Question limits.
const (
	QuestionMinLength = 1
	QuestionMaxLength = 250
)

// Question is a participant's question inside a session.
// Voters is a set of user ids: no duplicates, order is not meaningful.
type Question struct {
	ID              primitive.ObjectID `bson:"_id" json:"id"`
	QnASessionID    primitive.ObjectID `bson:"qna_session_id" json:"qnaSessionId"`
	UserID          string             `bson:"user_id" json:"userId"`
	Content         string             `bson:"content" json:"content"`
	Voters          []string           `bson:"voters" json:"voters"`
	IsAnswered      bool               `bson:"is_answered" json:"isAnswered"`
	DateTimeCreated time.Time          `bson:"date_time_created" json:"dateTimeCreated"`
}

// VoteCount returns the number of distinct voters.
func (q Question) VoteCount() int {
	return len(q.Voters)
}

// HasVoter reports whether userID has upvoted the question.
func (q Question) HasVoter(userID string) bool {
	for _, v := range q.Voters {
		if v == userID {
			return true
		}
	}
	return false
}

// VoteDirection is the direction of a ToggleVote call.
type VoteDirection string

const (
	VoteUp   VoteDirection = "up"
	VoteDown VoteDirection = "down"
)
