package qna_test

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dalemusser/askaway/internal/app/services/qna"
	"github.com/dalemusser/askaway/internal/app/store/qnasessions"
	"github.com/dalemusser/askaway/internal/app/system/apperr"
	"github.com/dalemusser/askaway/internal/app/system/events"
	"github.com/dalemusser/askaway/internal/domain/models"
)

func (h *harness) submit(t *testing.T, sess models.QnASession, userID, content string) models.Question {
	t.Helper()
	q, err := h.svc.SubmitQuestion(context.Background(), qna.SubmitQuestionInput{
		ConversationID: convID, SessionID: sess.ID.Hex(), UserID: userID, UserName: strings.ToUpper(userID), Content: content,
	})
	if err != nil {
		t.Fatalf("SubmitQuestion failed: %v", err)
	}
	return q
}

func (h *harness) vote(sess models.QnASession, q models.Question, userID string, dir models.VoteDirection) (qna.VoteResult, error) {
	return h.svc.ToggleVote(context.Background(), qna.VoteInput{
		ConversationID: convID, SessionID: sess.ID.Hex(), QuestionID: q.ID.Hex(), UserID: userID, Direction: dir,
	})
}

func TestQuestionScenario_SubmitAndUpvote(t *testing.T) {
	h := newHarness(t)
	sess := h.start(t)

	q := h.submit(t, sess, "u1", "What time is the meeting?")
	if v := h.version(t, sess); v != 1 {
		t.Fatalf("version after submit: got %d, want 1", v)
	}
	queued := h.queue.queued()
	if len(queued) != 1 || queued[0].EventData.Type != events.TypeQuestionAdded || queued[0].EventData.Version != 1 {
		t.Fatalf("queued after submit: %+v", queued)
	}

	res, err := h.vote(sess, q, "u2", models.VoteUp)
	if err != nil {
		t.Fatalf("upvote failed: %v", err)
	}
	if !res.Changed || res.VoteCount != 1 || len(res.Question.Voters) != 1 || res.Question.Voters[0] != "u2" {
		t.Errorf("upvote result: %+v", res)
	}
	if v := h.version(t, sess); v != 2 {
		t.Errorf("version after upvote: got %d, want 2", v)
	}
	queued = h.queue.queued()
	if len(queued) != 2 || queued[1].EventData.Type != events.TypeQuestionUpvoted || queued[1].EventData.Version != 2 {
		t.Fatalf("queued after upvote: %+v", queued)
	}

	// Upvoting again changes nothing.
	res, err = h.vote(sess, q, "u2", models.VoteUp)
	if err != nil {
		t.Fatalf("repeat upvote failed: %v", err)
	}
	if res.Changed || res.VoteCount != 1 {
		t.Errorf("repeat upvote result: %+v", res)
	}
	if v := h.version(t, sess); v != 2 {
		t.Errorf("version after repeat upvote: got %d, want 2", v)
	}
	if got := len(h.queue.queued()); got != 2 {
		t.Errorf("queued after repeat upvote: got %d, want 2", got)
	}
}

func TestToggleVote_VotersStayASet(t *testing.T) {
	h := newHarness(t)
	sess := h.start(t)
	q := h.submit(t, sess, "u1", "Set semantics?")

	seq := []models.VoteDirection{
		models.VoteUp, models.VoteUp, models.VoteDown, models.VoteDown,
		models.VoteUp, models.VoteDown, models.VoteUp, models.VoteUp,
	}
	changes := 0
	member := false
	for i, dir := range seq {
		res, err := h.vote(sess, q, "u2", dir)
		if err != nil {
			t.Fatalf("vote %d: %v", i, err)
		}
		want := dir == models.VoteUp
		if want != member {
			changes++
		}
		member = want
		if res.Question.HasVoter("u2") != member {
			t.Fatalf("vote %d: membership %v, want %v", i, res.Question.HasVoter("u2"), member)
		}
		if res.VoteCount > 1 {
			t.Fatalf("vote %d: duplicate voter, count %d", i, res.VoteCount)
		}
	}

	// One version per effective change, plus the submit.
	if v := h.version(t, sess); v != int64(changes+1) {
		t.Errorf("version: got %d, want %d", v, changes+1)
	}

	// Downvoting a question the user never voted for has no effect.
	res, err := h.vote(sess, q, "u3", models.VoteDown)
	if err != nil || res.Changed {
		t.Errorf("downvote by non-voter: %+v %v", res, err)
	}
}

func TestToggleVote_ConcurrentVotersAllCount(t *testing.T) {
	h := newHarness(t)
	sess := h.start(t)
	q := h.submit(t, sess, "u1", "Concurrent?")

	const n = 20
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if _, err := h.vote(sess, q, fmt.Sprintf("voter-%d", i), models.VoteUp); err != nil {
				t.Errorf("vote %d: %v", i, err)
			}
		}(i)
	}
	wg.Wait()

	got, _ := h.questions.Get(context.Background(), q.ID)
	if got.VoteCount() != n {
		t.Errorf("votes: got %d, want %d", got.VoteCount(), n)
	}
	if v := h.version(t, sess); v != n+1 {
		t.Errorf("version: got %d, want %d", v, n+1)
	}

	versions := map[int64]bool{}
	for _, r := range h.queue.queued() {
		if versions[r.EventData.Version] {
			t.Errorf("version %d emitted twice", r.EventData.Version)
		}
		versions[r.EventData.Version] = true
	}
}

func TestToggleVote_InterleavedVotesPublishLatestVoters(t *testing.T) {
	h := newHarness(t)
	sess := h.start(t)
	q := h.submit(t, sess, "author", "Who wins the race?")

	// u1's version bump waits until u2's vote has fully committed.
	var bumps atomic.Int32
	held := make(chan struct{})
	release := make(chan struct{})
	h.sessions.beforeIncrement = func() {
		if bumps.Add(1) == 1 {
			close(held)
			<-release
		}
	}

	done := make(chan error, 1)
	go func() {
		_, err := h.vote(sess, q, "u1", models.VoteUp)
		done <- err
	}()
	<-held
	if _, err := h.vote(sess, q, "u2", models.VoteUp); err != nil {
		t.Fatalf("u2 vote failed: %v", err)
	}
	close(release)
	if err := <-done; err != nil {
		t.Fatalf("u1 vote failed: %v", err)
	}

	var last events.Request
	for _, r := range h.queue.queued() {
		if r.EventData.Type == events.TypeQuestionUpvoted && r.EventData.Version > last.EventData.Version {
			last = r
		}
	}
	if last.EventData.Version != 3 {
		t.Fatalf("highest vote version: got %d, want 3", last.EventData.Version)
	}
	data, ok := last.EventData.Data.(events.QuestionData)
	if !ok {
		t.Fatalf("event data: %T", last.EventData.Data)
	}
	voters := append([]string{}, data.Voters...)
	sort.Strings(voters)
	if data.VoteCount != 2 || len(voters) != 2 || voters[0] != "u1" || voters[1] != "u2" {
		t.Errorf("highest version carries stale voters: %+v", data)
	}
}

func TestToggleVote_InvalidDirection(t *testing.T) {
	h := newHarness(t)
	sess := h.start(t)
	q := h.submit(t, sess, "u1", "Direction?")
	_, err := h.vote(sess, q, "u2", models.VoteDirection("sideways"))
	if apperr.KindOf(err) != apperr.KindValidation {
		t.Errorf("got %v", err)
	}
}

func TestSubmitQuestion_Validation(t *testing.T) {
	h := newHarness(t)
	sess := h.start(t)

	tests := []struct {
		name    string
		content string
		ok      bool
	}{
		{"empty", "", false},
		{"whitespace", "   \t ", false},
		{"markup only", "<p></p>", false},
		{"one rune", "?", true},
		{"max runes", strings.Repeat("é", models.QuestionMaxLength), true},
		{"too long", strings.Repeat("a", models.QuestionMaxLength+1), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.svc.SubmitQuestion(context.Background(), qna.SubmitQuestionInput{
				SessionID: sess.ID.Hex(), UserID: "u1", Content: tt.content,
			})
			if tt.ok && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
			if !tt.ok {
				wantCode(t, err, apperr.CodeQuestionLength)
			}
		})
	}
}

func TestSubmitQuestion_StripsMarkup(t *testing.T) {
	h := newHarness(t)
	sess := h.start(t)
	q := h.submit(t, sess, "u1", "  <b>Is</b> lunch <script>x()</script>provided?  ")
	if q.Content != "Is lunch provided?" {
		t.Errorf("content: got %q", q.Content)
	}
}

func TestQuestionOps_RefuseEndedSession(t *testing.T) {
	h := newHarness(t)
	sess := h.start(t)
	q := h.submit(t, sess, "u1", "Before the end")
	ctx := context.Background()

	if _, err := h.svc.EndSession(ctx, qna.EndSessionInput{SessionID: sess.ID.Hex(), UserID: hostID}); err != nil {
		t.Fatalf("EndSession: %v", err)
	}
	version := h.version(t, sess)
	queued := len(h.queue.queued())
	questions := h.questions.count()

	_, err := h.svc.SubmitQuestion(ctx, qna.SubmitQuestionInput{SessionID: sess.ID.Hex(), UserID: "u2", Content: "Too late"})
	wantCode(t, err, apperr.CodeSessionEnded)

	_, err = h.vote(sess, q, "u2", models.VoteUp)
	wantCode(t, err, apperr.CodeSessionEnded)

	_, err = h.svc.MarkAnswered(ctx, qna.MarkAnsweredInput{QuestionID: q.ID.Hex(), UserID: hostID})
	wantCode(t, err, apperr.CodeSessionEnded)

	if h.version(t, sess) != version || len(h.queue.queued()) != queued || h.questions.count() != questions {
		t.Error("operations on an ended session must not mutate anything")
	}
	if got, _ := h.questions.Get(ctx, q.ID); got.VoteCount() != 0 || got.IsAnswered {
		t.Errorf("question mutated: %+v", got)
	}
}

func TestSubmitQuestion_SessionEndsMidway(t *testing.T) {
	h := newHarness(t)
	sess := h.start(t)
	h.sessions.incrementErr = qnasessions.ErrInactive

	_, err := h.svc.SubmitQuestion(context.Background(), qna.SubmitQuestionInput{
		SessionID: sess.ID.Hex(), UserID: "u1", Content: "Racing the end",
	})
	wantCode(t, err, apperr.CodeSessionEnded)
	if h.questions.count() != 0 {
		t.Error("question should have been removed")
	}
	if len(h.queue.queued()) != 0 {
		t.Error("no event may be emitted")
	}
}

func TestToggleVote_SessionEndsMidway(t *testing.T) {
	h := newHarness(t)
	sess := h.start(t)
	q := h.submit(t, sess, "u1", "Vote race")
	h.sessions.incrementErr = qnasessions.ErrInactive

	_, err := h.vote(sess, q, "u2", models.VoteUp)
	wantCode(t, err, apperr.CodeSessionEnded)
	if got, _ := h.questions.Get(context.Background(), q.ID); got.HasVoter("u2") {
		t.Error("vote should have been undone")
	}
}

func TestMarkAnswered(t *testing.T) {
	h := newHarness(t)
	sess := h.start(t)
	q := h.submit(t, sess, "u1", "Answered?")
	ctx := context.Background()

	_, err := h.svc.MarkAnswered(ctx, qna.MarkAnsweredInput{ConversationID: convID, QuestionID: q.ID.Hex(), UserID: "u1"})
	wantCode(t, err, apperr.CodeNotHost)

	got, err := h.svc.MarkAnswered(ctx, qna.MarkAnsweredInput{ConversationID: convID, QuestionID: q.ID.Hex(), UserID: hostID})
	if err != nil || !got.IsAnswered {
		t.Fatalf("mark answered: %+v %v", got, err)
	}
	if v := h.version(t, sess); v != 2 {
		t.Errorf("version: got %d, want 2", v)
	}
	queued := h.queue.queued()
	if last := queued[len(queued)-1]; last.EventData.Type != events.TypeQuestionMarkedAnswered || last.EventData.Version != 2 {
		t.Errorf("event: %+v", last.EventData)
	}

	// Marking again is a no-op.
	if _, err := h.svc.MarkAnswered(ctx, qna.MarkAnsweredInput{QuestionID: q.ID.Hex(), UserID: hostID}); err != nil {
		t.Fatalf("second mark: %v", err)
	}
	if v := h.version(t, sess); v != 2 || len(h.queue.queued()) != len(queued) {
		t.Error("second mark must not bump the version or emit")
	}
}

func TestMarkAnswered_SessionEndsMidway(t *testing.T) {
	h := newHarness(t)
	sess := h.start(t)
	q := h.submit(t, sess, "u1", "Mark race")
	h.sessions.incrementErr = qnasessions.ErrInactive

	_, err := h.svc.MarkAnswered(context.Background(), qna.MarkAnsweredInput{QuestionID: q.ID.Hex(), UserID: hostID})
	wantCode(t, err, apperr.CodeSessionEnded)
	if got, _ := h.questions.Get(context.Background(), q.ID); got.IsAnswered {
		t.Error("mark should have been undone")
	}
}

func TestQuestionOps_NotFound(t *testing.T) {
	h := newHarness(t)
	sess := h.start(t)
	other := h.submit(t, sess, "u1", "Elsewhere")

	_, err := h.svc.ToggleVote(context.Background(), qna.VoteInput{
		QuestionID: "000000000000000000000000", UserID: "u2", Direction: models.VoteUp,
	})
	wantCode(t, err, apperr.CodeQuestionNotFound)

	_, err = h.svc.ToggleVote(context.Background(), qna.VoteInput{
		SessionID: "000000000000000000000001", QuestionID: other.ID.Hex(), UserID: "u2", Direction: models.VoteUp,
	})
	wantCode(t, err, apperr.CodeQuestionNotFound)
}

func TestVersions_StrictlyIncreaseAcrossOperations(t *testing.T) {
	h := newHarness(t)
	sess := h.start(t)
	ctx := context.Background()

	q1 := h.submit(t, sess, "u1", "First")
	q2 := h.submit(t, sess, "u2", "Second")
	_, _ = h.vote(sess, q1, "u3", models.VoteUp)
	_, _ = h.vote(sess, q1, "u3", models.VoteUp) // no-op
	_, _ = h.vote(sess, q2, "u3", models.VoteUp)
	_, _ = h.vote(sess, q1, "u3", models.VoteDown)
	_, _ = h.svc.MarkAnswered(ctx, qna.MarkAnsweredInput{QuestionID: q2.ID.Hex(), UserID: hostID})
	if _, err := h.svc.EndSession(ctx, qna.EndSessionInput{SessionID: sess.ID.Hex(), UserID: hostID}); err != nil {
		t.Fatalf("EndSession: %v", err)
	}

	var versions []int64
	for _, r := range append(h.dispatcher.sent(), h.queue.queued()...) {
		versions = append(versions, r.EventData.Version)
	}
	sort.Slice(versions, func(i, j int) bool { return versions[i] < versions[j] })
	for i, v := range versions {
		if v != int64(i) {
			t.Fatalf("versions not gapless from 0: %v", versions)
		}
	}
	last := versions[len(versions)-1]
	if committed := h.version(t, sess); committed != last {
		t.Errorf("last emitted %d, committed %d", last, committed)
	}
}

func TestSortQuestions_Ordering(t *testing.T) {
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	mk := func(name string, votes int, at int, answered bool) models.Question {
		voters := []string{}
		for i := 0; i < votes; i++ {
			voters = append(voters, fmt.Sprintf("v%d", i))
		}
		return models.Question{
			Content:         name,
			Voters:          voters,
			IsAnswered:      answered,
			DateTimeCreated: base.Add(time.Duration(at) * time.Minute),
		}
	}

	in := []models.Question{
		mk("t1", 3, 1, false),
		mk("t2", 1, 2, false),
		mk("t3", 3, 3, false),
		mk("t4", 0, 4, false),
		mk("a1", 0, 5, true),
		mk("a2", 2, 6, true),
	}
	answered, unanswered := qna.SortQuestions(in)

	names := func(qs []models.Question) string {
		var out []string
		for _, q := range qs {
			out = append(out, q.Content)
		}
		return strings.Join(out, ",")
	}
	if got := names(unanswered); got != "t3,t1,t2,t4" {
		t.Errorf("unanswered: got %s, want t3,t1,t2,t4", got)
	}
	if got := names(answered); got != "a2,a1" {
		t.Errorf("answered: got %s, want a2,a1", got)
	}
	if in[0].Content != "t1" {
		t.Error("input was reordered")
	}

	a, u := qna.SortQuestions(nil)
	if a == nil || u == nil {
		t.Error("empty partitions should be non-nil")
	}
}

func TestGetLeaderboard(t *testing.T) {
	h := newHarness(t)
	sess := h.start(t)
	ctx := context.Background()

	q1 := h.submit(t, sess, "u1", "Older")
	q2 := h.submit(t, sess, "u2", "Newer")
	_, _ = h.vote(sess, q1, "viewer", models.VoteUp)
	_, _ = h.svc.MarkAnswered(ctx, qna.MarkAnsweredInput{QuestionID: q2.ID.Hex(), UserID: hostID})

	lb, err := h.svc.GetLeaderboard(ctx, convID, sess.ID.Hex(), "viewer")
	if err != nil {
		t.Fatalf("GetLeaderboard: %v", err)
	}
	if lb.HostName != "Host" {
		t.Errorf("host name: got %q", lb.HostName)
	}
	if len(lb.Unanswered) != 1 || lb.Unanswered[0].Question.ID != q1.ID {
		t.Fatalf("unanswered: %+v", lb.Unanswered)
	}
	e := lb.Unanswered[0]
	if e.AuthorName != "U1" || e.VoteCount != 1 || !e.UpvotedByViewer {
		t.Errorf("entry: %+v", e)
	}
	if len(lb.Answered) != 1 || lb.Answered[0].Question.ID != q2.ID || lb.Answered[0].UpvotedByViewer {
		t.Errorf("answered: %+v", lb.Answered)
	}

	if _, err := h.svc.GetLeaderboard(ctx, "19:other", sess.ID.Hex(), "viewer"); apperr.KindOf(err) != apperr.KindNotFound {
		t.Errorf("foreign conversation: got %v", err)
	}
}
