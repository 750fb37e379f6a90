package qna_test

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/dalemusser/askaway/internal/app/store/incidents"
	"github.com/dalemusser/askaway/internal/app/store/qnasessions"
	"github.com/dalemusser/askaway/internal/app/system/events"
	"github.com/dalemusser/askaway/internal/app/system/storeerr"
	"github.com/dalemusser/askaway/internal/domain/models"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// In-memory stores. Each honors the same conditional-write rules as its
// Mongo counterpart; a single mutex makes every primitive atomic.

type memConversations struct {
	mu   sync.Mutex
	docs map[string]models.Conversation
}

func newMemConversations() *memConversations {
	return &memConversations{docs: map[string]models.Conversation{}}
}

func (m *memConversations) Create(_ context.Context, id, serviceURL, tenantID string) (models.Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.docs[id]; ok {
		return models.Conversation{}, storeerr.ErrDuplicateKey
	}
	c := models.Conversation{ID: id, ServiceURL: serviceURL, TenantID: tenantID}
	m.docs[id] = c
	return c, nil
}

func (m *memConversations) Get(_ context.Context, id string) (models.Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.docs[id]
	if !ok {
		return models.Conversation{}, storeerr.ErrNotFound
	}
	return c, nil
}

func (m *memConversations) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.docs, id)
	return nil
}

type memUsers struct {
	mu   sync.Mutex
	docs map[string]models.User
}

func newMemUsers() *memUsers { return &memUsers{docs: map[string]models.User{}} }

func (m *memUsers) GetOrCreateOrRename(_ context.Context, id, userName string) (models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u := models.User{ID: id, UserName: userName}
	m.docs[id] = u
	return u, nil
}

func (m *memUsers) GetByIDs(_ context.Context, ids []string) (map[string]models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := map[string]models.User{}
	for _, id := range ids {
		if u, ok := m.docs[id]; ok {
			out[id] = u
		}
	}
	return out, nil
}

type memSessions struct {
	mu   sync.Mutex
	docs map[primitive.ObjectID]models.QnASession

	// uniqueActive mimics the unique partial index on active sessions.
	uniqueActive bool
	// hideActive makes CountActive report zero, as a racing creator would see.
	hideActive bool

	deleteErr    error
	revertErr    error
	incrementErr error

	// beforeIncrement runs ahead of every version bump, outside the lock.
	beforeIncrement func()
}

func newMemSessions() *memSessions {
	return &memSessions{docs: map[primitive.ObjectID]models.QnASession{}, uniqueActive: true}
}

func (m *memSessions) Create(_ context.Context, sess models.QnASession) (models.QnASession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.uniqueActive {
		for _, d := range m.docs {
			if d.IsActive && d.ConversationID == sess.ConversationID {
				return models.QnASession{}, storeerr.ErrDuplicateKey
			}
		}
	}
	if sess.ID.IsZero() {
		sess.ID = primitive.NewObjectID()
	}
	sess.IsActive = true
	sess.DateTimeEnded = nil
	sess.DataEventVersion = 0
	m.docs[sess.ID] = sess
	return sess, nil
}

func (m *memSessions) Get(_ context.Context, id primitive.ObjectID) (models.QnASession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.docs[id]
	if !ok {
		return models.QnASession{}, storeerr.ErrNotFound
	}
	return s, nil
}

func (m *memSessions) FindActiveByConversation(ctx context.Context, conversationID string) (models.QnASession, error) {
	list, _ := m.ListActiveByConversation(ctx, conversationID)
	if len(list) == 0 {
		return models.QnASession{}, storeerr.ErrNotFound
	}
	return list[0], nil
}

func (m *memSessions) ListActiveByConversation(_ context.Context, conversationID string) ([]models.QnASession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.QnASession
	for _, d := range m.docs {
		if d.IsActive && d.ConversationID == conversationID {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].DateTimeCreated.Equal(out[j].DateTimeCreated) {
			return out[i].DateTimeCreated.Before(out[j].DateTimeCreated)
		}
		return out[i].ID.Hex() < out[j].ID.Hex()
	})
	return out, nil
}

func (m *memSessions) ListByConversation(_ context.Context, conversationID string) ([]models.QnASession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.QnASession
	for _, d := range m.docs {
		if d.ConversationID == conversationID {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DateTimeCreated.After(out[j].DateTimeCreated) })
	return out, nil
}

func (m *memSessions) CountActive(_ context.Context, conversationID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.hideActive {
		return 0, nil
	}
	var n int64
	for _, d := range m.docs {
		if d.IsActive && d.ConversationID == conversationID {
			n++
		}
	}
	return n, nil
}

func (m *memSessions) UpdateActivityID(_ context.Context, id primitive.ObjectID, activityID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.docs[id]
	if !ok {
		return storeerr.ErrNotFound
	}
	s.ActivityID = activityID
	m.docs[id] = s
	return nil
}

func (m *memSessions) End(_ context.Context, id primitive.ObjectID, now time.Time) (qnasessions.EndResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.docs[id]
	if !ok {
		return qnasessions.EndResult{}, storeerr.ErrNotFound
	}
	if !s.IsActive {
		return qnasessions.EndResult{Session: s}, nil
	}
	s.IsActive = false
	s.DateTimeEnded = &now
	s.DataEventVersion++
	m.docs[id] = s
	return qnasessions.EndResult{Session: s, Ended: true}, nil
}

func (m *memSessions) RevertEnd(_ context.Context, id primitive.ObjectID, endedVersion int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.revertErr != nil {
		return m.revertErr
	}
	s, ok := m.docs[id]
	if !ok || s.IsActive || s.DataEventVersion != endedVersion {
		return storeerr.ErrStaleWrite
	}
	s.IsActive = true
	s.DateTimeEnded = nil
	s.DataEventVersion = endedVersion - 1
	m.docs[id] = s
	return nil
}

func (m *memSessions) IncrementActiveDataEventVersion(_ context.Context, id primitive.ObjectID) (int64, error) {
	if m.beforeIncrement != nil {
		m.beforeIncrement()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.incrementErr != nil {
		return 0, m.incrementErr
	}
	s, ok := m.docs[id]
	if !ok {
		return 0, storeerr.ErrNotFound
	}
	if !s.IsActive {
		return 0, qnasessions.ErrInactive
	}
	s.DataEventVersion++
	m.docs[id] = s
	return s.DataEventVersion, nil
}

func (m *memSessions) Delete(_ context.Context, id primitive.ObjectID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.deleteErr != nil {
		return m.deleteErr
	}
	delete(m.docs, id)
	return nil
}

func (m *memSessions) activeCount(conversationID string) int {
	list, _ := m.ListActiveByConversation(context.Background(), conversationID)
	return len(list)
}

func (m *memSessions) all() []models.QnASession {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.QnASession
	for _, d := range m.docs {
		out = append(out, d)
	}
	return out
}

type memQuestions struct {
	mu   sync.Mutex
	docs map[primitive.ObjectID]models.Question
}

func newMemQuestions() *memQuestions {
	return &memQuestions{docs: map[primitive.ObjectID]models.Question{}}
}

func cloneQuestion(q models.Question) models.Question {
	q.Voters = append([]string{}, q.Voters...)
	return q
}

func (m *memQuestions) Create(_ context.Context, q models.Question) (models.Question, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if q.ID.IsZero() {
		q.ID = primitive.NewObjectID()
	}
	q.Voters = []string{}
	q.IsAnswered = false
	m.docs[q.ID] = q
	return cloneQuestion(q), nil
}

func (m *memQuestions) Get(_ context.Context, id primitive.ObjectID) (models.Question, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	q, ok := m.docs[id]
	if !ok {
		return models.Question{}, storeerr.ErrNotFound
	}
	return cloneQuestion(q), nil
}

func (m *memQuestions) ListBySession(_ context.Context, sessionID primitive.ObjectID) ([]models.Question, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []models.Question{}
	for _, q := range m.docs {
		if q.QnASessionID == sessionID {
			out = append(out, cloneQuestion(q))
		}
	}
	return out, nil
}

func (m *memQuestions) ToggleVote(_ context.Context, id primitive.ObjectID, userID string, dir models.VoteDirection) (models.Question, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	q, ok := m.docs[id]
	if !ok {
		return models.Question{}, false, storeerr.ErrNotFound
	}
	has := q.HasVoter(userID)
	switch {
	case dir == models.VoteUp && !has:
		q.Voters = append(append([]string{}, q.Voters...), userID)
	case dir == models.VoteDown && has:
		kept := []string{}
		for _, v := range q.Voters {
			if v != userID {
				kept = append(kept, v)
			}
		}
		q.Voters = kept
	default:
		return cloneQuestion(q), false, nil
	}
	m.docs[id] = q
	return cloneQuestion(q), true, nil
}

func (m *memQuestions) MarkAnswered(_ context.Context, id primitive.ObjectID) (models.Question, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	q, ok := m.docs[id]
	if !ok {
		return models.Question{}, false, storeerr.ErrNotFound
	}
	if q.IsAnswered {
		return cloneQuestion(q), false, nil
	}
	q.IsAnswered = true
	m.docs[id] = q
	return cloneQuestion(q), true, nil
}

func (m *memQuestions) UnmarkAnswered(_ context.Context, id primitive.ObjectID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	q, ok := m.docs[id]
	if !ok {
		return storeerr.ErrNotFound
	}
	q.IsAnswered = false
	m.docs[id] = q
	return nil
}

func (m *memQuestions) Delete(_ context.Context, id primitive.ObjectID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.docs, id)
	return nil
}

func (m *memQuestions) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.docs)
}

type memIncidents struct {
	mu   sync.Mutex
	list []incidents.Incident
}

func (m *memIncidents) Log(_ context.Context, inc incidents.Incident) (incidents.Incident, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	inc.ID = primitive.NewObjectID()
	m.list = append(m.list, inc)
	return inc, nil
}

func (m *memIncidents) all() []incidents.Incident {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]incidents.Incident{}, m.list...)
}

// fakeRoster answers from fixed tables. Users absent from members are still
// members unless denyMembership is set.
type fakeRoster struct {
	mu             sync.Mutex
	roles          map[string]string
	denyMembership bool
	err            error
}

func (r *fakeRoster) GetParticipantRole(_ context.Context, _, userID, _, _ string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return "", r.err
	}
	return r.roles[userID], nil
}

func (r *fakeRoster) VerifyUserIsMember(_ context.Context, _, _, _, _ string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return false, r.err
	}
	return !r.denyMembership, nil
}

// fakeDispatcher records awaited deliveries.
type fakeDispatcher struct {
	mu   sync.Mutex
	reqs []events.Request
	err  error
}

func (d *fakeDispatcher) Dispatch(_ context.Context, req events.Request) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return d.err
	}
	d.reqs = append(d.reqs, req)
	return nil
}

func (d *fakeDispatcher) sent() []events.Request {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]events.Request{}, d.reqs...)
}

// fakeQueue records background deliveries.
type fakeQueue struct {
	mu   sync.Mutex
	reqs []events.Request
}

func (q *fakeQueue) Enqueue(req events.Request) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.reqs = append(q.reqs, req)
	return true
}

func (q *fakeQueue) queued() []events.Request {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]events.Request{}, q.reqs...)
}

type fakeCards struct {
	mu       sync.Mutex
	requests []models.QnASession
}

func (c *fakeCards) Request(sess models.QnASession) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.requests = append(c.requests, sess)
}

func (c *fakeCards) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.requests)
}

// stepClock advances by step (one second when zero) on every reading.
type stepClock struct {
	mu   sync.Mutex
	t    time.Time
	step time.Duration
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	step := c.step
	if step == 0 {
		step = time.Second
	}
	c.t = c.t.Add(step)
	return c.t
}

func (c *stepClock) setStep(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.step = d
}
