// internal/app/services/qna/leaderboard.go
package qna

import (
	"context"
	"sort"

	"github.com/dalemusser/askaway/internal/domain/models"
	"golang.org/x/sync/errgroup"
)

// Entry is one question on the leaderboard.
type Entry struct {
	Question   models.Question `json:"question"`
	AuthorName string          `json:"authorName"`
	VoteCount  int             `json:"voteCount"`
	// UpvotedByViewer is true when the user asking for the board voted.
	UpvotedByViewer bool `json:"upvotedByViewer"`
}

// Leaderboard is the client-facing view of a session.
type Leaderboard struct {
	Session    models.QnASession `json:"session"`
	HostName   string            `json:"hostName"`
	Unanswered []Entry           `json:"unanswered"`
	Answered   []Entry           `json:"answered"`
}

// GetLeaderboard builds the leaderboard of a session as seen by viewerID.
func (s *Service) GetLeaderboard(ctx context.Context, conversationID, sessionID, viewerID string) (Leaderboard, error) {
	sess, err := s.session(ctx, sessionID, conversationID)
	if err != nil {
		return Leaderboard{}, err
	}

	// Questions and the host's display name load in parallel.
	var (
		qs   []models.Question
		host map[string]models.User
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		qs, err = s.questions.ListBySession(gctx, sess.ID)
		return err
	})
	g.Go(func() error {
		var err error
		host, err = s.users.GetByIDs(gctx, []string{sess.HostID})
		return err
	})
	if err := g.Wait(); err != nil {
		return Leaderboard{}, storeFailure("load leaderboard", err)
	}

	authorIDs := make([]string, 0, len(qs))
	seen := make(map[string]bool, len(qs))
	for _, q := range qs {
		if !seen[q.UserID] {
			seen[q.UserID] = true
			authorIDs = append(authorIDs, q.UserID)
		}
	}
	authors, err := s.users.GetByIDs(ctx, authorIDs)
	if err != nil {
		return Leaderboard{}, storeFailure("load authors", err)
	}

	answered, unanswered := SortQuestions(qs)
	return Leaderboard{
		Session:    sess,
		HostName:   host[sess.HostID].UserName,
		Unanswered: entries(unanswered, authors, viewerID),
		Answered:   entries(answered, authors, viewerID),
	}, nil
}

// SortQuestions partitions questions into answered and unanswered and orders
// each by vote count, highest first, with ties going to the newer question.
// The input is not modified.
func SortQuestions(qs []models.Question) (answered, unanswered []models.Question) {
	answered = []models.Question{}
	unanswered = []models.Question{}
	for _, q := range qs {
		if q.IsAnswered {
			answered = append(answered, q)
		} else {
			unanswered = append(unanswered, q)
		}
	}
	byVotes(answered)
	byVotes(unanswered)
	return answered, unanswered
}

func byVotes(qs []models.Question) {
	sort.SliceStable(qs, func(i, j int) bool {
		vi, vj := qs[i].VoteCount(), qs[j].VoteCount()
		if vi != vj {
			return vi > vj
		}
		return qs[i].DateTimeCreated.After(qs[j].DateTimeCreated)
	})
}

func entries(qs []models.Question, authors map[string]models.User, viewerID string) []Entry {
	out := make([]Entry, 0, len(qs))
	for _, q := range qs {
		out = append(out, Entry{
			Question:        q,
			AuthorName:      authors[q.UserID].UserName,
			VoteCount:       q.VoteCount(),
			UpvotedByViewer: viewerID != "" && q.HasVoter(viewerID),
		})
	}
	return out
}
