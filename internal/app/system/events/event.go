// internal/app/system/events/event.go

// Package events builds the versioned data events emitted after each session
// or question mutation and delivers them to the background job endpoint.
//
// A DataEvent is only built from a version that is already committed. Clients
// key ordering and deduplication off (QnASessionID, Version).
package events

import (
	"time"

	"github.com/dalemusser/askaway/internal/domain/models"
)

// Type names a data event.
type Type string

const (
	TypeCreated                Type = "Created"
	TypeEnded                  Type = "Ended"
	TypeQuestionAdded          Type = "QuestionAdded"
	TypeQuestionUpvoted        Type = "QuestionUpvoted"
	TypeQuestionDownvoted      Type = "QuestionDownvoted"
	TypeQuestionMarkedAnswered Type = "QuestionMarkedAnswered"
)

// DataEvent is the payload clients receive.
type DataEvent struct {
	QnASessionID string `json:"qnaSessionId"`
	Type         Type   `json:"type"`
	Data         any    `json:"data"`
	Version      int64  `json:"version"`
}

// SessionData is the Data of Created and Ended events.
type SessionData struct {
	ID              string     `json:"id"`
	Title           string     `json:"title"`
	Description     string     `json:"description"`
	IsActive        bool       `json:"isActive"`
	HostID          string     `json:"hostId"`
	DateTimeCreated time.Time  `json:"dateTimeCreated"`
	DateTimeEnded   *time.Time `json:"dateTimeEnded,omitempty"`
}

// QuestionData is the Data of question events.
type QuestionData struct {
	ID              string    `json:"id"`
	UserID          string    `json:"userId"`
	Content         string    `json:"content"`
	VoteCount       int       `json:"voteCount"`
	Voters          []string  `json:"voters"`
	IsAnswered      bool      `json:"isAnswered"`
	DateTimeCreated time.Time `json:"dateTimeCreated"`
}

func sessionData(s models.QnASession) SessionData {
	return SessionData{
		ID:              s.ID.Hex(),
		Title:           s.Title,
		Description:     s.Description,
		IsActive:        s.IsActive,
		HostID:          s.HostID,
		DateTimeCreated: s.DateTimeCreated,
		DateTimeEnded:   s.DateTimeEnded,
	}
}

func questionData(q models.Question) QuestionData {
	voters := q.Voters
	if voters == nil {
		voters = []string{}
	}
	return QuestionData{
		ID:              q.ID.Hex(),
		UserID:          q.UserID,
		Content:         q.Content,
		VoteCount:       q.VoteCount(),
		Voters:          voters,
		IsAnswered:      q.IsAnswered,
		DateTimeCreated: q.DateTimeCreated,
	}
}

// Created builds the creation event. Its version is always 0, the version
// every session document starts at.
func Created(s models.QnASession) DataEvent {
	return DataEvent{QnASessionID: s.ID.Hex(), Type: TypeCreated, Data: sessionData(s), Version: 0}
}

// Ended builds the end event for a session whose end committed at version.
func Ended(s models.QnASession, version int64) DataEvent {
	return DataEvent{QnASessionID: s.ID.Hex(), Type: TypeEnded, Data: sessionData(s), Version: version}
}

// QuestionAdded builds the event for a new question.
func QuestionAdded(q models.Question, version int64) DataEvent {
	return questionEvent(TypeQuestionAdded, q, version)
}

// QuestionVoted builds the upvote or downvote event for dir.
func QuestionVoted(q models.Question, dir models.VoteDirection, version int64) DataEvent {
	t := TypeQuestionUpvoted
	if dir == models.VoteDown {
		t = TypeQuestionDownvoted
	}
	return questionEvent(t, q, version)
}

// QuestionMarkedAnswered builds the event for a question marked answered.
func QuestionMarkedAnswered(q models.Question, version int64) DataEvent {
	return questionEvent(TypeQuestionMarkedAnswered, q, version)
}

func questionEvent(t Type, q models.Question, version int64) DataEvent {
	return DataEvent{QnASessionID: q.QnASessionID.Hex(), Type: t, Data: questionData(q), Version: version}
}

// Request is the body POSTed to the background job endpoint.
type Request struct {
	ConversationID string    `json:"conversationId"`
	QnASessionID   string    `json:"qnaSessionId"`
	EventData      DataEvent `json:"eventData"`
	OperationID    string    `json:"operationId"`
	ServiceURL     string    `json:"serviceUrl"`
	MeetingID      string    `json:"meetingId,omitempty"`
}

// NewRequest wraps ev for delivery to every client of sess's conversation.
// OperationID is left empty; the dispatcher assigns one per delivery.
func NewRequest(sess models.QnASession, serviceURL string, ev DataEvent) Request {
	return Request{
		ConversationID: sess.ConversationID,
		QnASessionID:   sess.ID.Hex(),
		EventData:      ev,
		ServiceURL:     serviceURL,
		MeetingID:      sess.MeetingID(),
	}
}
