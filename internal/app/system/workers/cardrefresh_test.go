package workers_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dalemusser/askaway/internal/app/system/storeerr"
	"github.com/dalemusser/askaway/internal/app/system/workers"
	"github.com/dalemusser/askaway/internal/domain/models"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"
)

type cardStore struct {
	mu   sync.Mutex
	docs map[primitive.ObjectID]models.QnASession

	// onClaim runs before every ClaimCardRedraw, outside the lock.
	onClaim func()
}

func newCardStore(sessions ...models.QnASession) *cardStore {
	s := &cardStore{docs: map[primitive.ObjectID]models.QnASession{}}
	for _, sess := range sessions {
		s.docs[sess.ID] = sess
	}
	return s
}

func (s *cardStore) Get(_ context.Context, id primitive.ObjectID) (models.QnASession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.docs[id]
	if !ok {
		return models.QnASession{}, storeerr.ErrNotFound
	}
	return sess, nil
}

func (s *cardStore) UpdateDateTimeCardLastUpdated(_ context.Context, id primitive.ObjectID, t time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess := s.docs[id]
	sess.DateTimeCardLastUpdated = &t
	s.docs[id] = sess
	return nil
}

func (s *cardStore) ClaimCardRedraw(_ context.Context, id primitive.ObjectID, prev *time.Time, now time.Time) (bool, error) {
	if s.onClaim != nil {
		s.onClaim()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	sess := s.docs[id]
	if sess.DateTimeNextCardUpdateScheduled != nil {
		return false, nil
	}
	cur := sess.DateTimeCardLastUpdated
	if (cur == nil) != (prev == nil) || (cur != nil && !cur.Equal(*prev)) {
		return false, nil
	}
	sess.DateTimeCardLastUpdated = &now
	s.docs[id] = sess
	return true, nil
}

func (s *cardStore) ScheduleNextCardUpdate(_ context.Context, id primitive.ObjectID, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess := s.docs[id]
	if sess.DateTimeNextCardUpdateScheduled != nil {
		return false, nil
	}
	sess.DateTimeNextCardUpdateScheduled = &at
	s.docs[id] = sess
	return true, nil
}

func (s *cardStore) ClearNextCardUpdate(_ context.Context, id primitive.ObjectID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess := s.docs[id]
	sess.DateTimeNextCardUpdateScheduled = nil
	s.docs[id] = sess
	return nil
}

func (s *cardStore) ListDueCardUpdates(_ context.Context, now time.Time) ([]models.QnASession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.QnASession
	for _, sess := range s.docs {
		if sess.DateTimeNextCardUpdateScheduled != nil && !sess.DateTimeNextCardUpdateScheduled.After(now) {
			out = append(out, sess)
		}
	}
	return out, nil
}

func (s *cardStore) pending(id primitive.ObjectID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.docs[id].DateTimeNextCardUpdateScheduled != nil
}

type countingUpdater struct{ calls atomic.Int32 }

func (u *countingUpdater) UpdateCard(context.Context, models.QnASession) error {
	u.calls.Add(1)
	return nil
}

func eventually(t *testing.T, within time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(within)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func newSession() models.QnASession {
	return models.QnASession{ID: primitive.NewObjectID(), ConversationID: "19:conv", IsActive: true}
}

func TestCardRefresh_FirstRequestRedrawsImmediately(t *testing.T) {
	sess := newSession()
	store := newCardStore(sess)
	up := &countingUpdater{}
	w := workers.NewCardRefresh(store, up, zap.NewNop(), time.Hour, time.Hour)
	w.Start()
	defer w.Stop()

	w.Request(sess)
	eventually(t, time.Second, func() bool { return up.calls.Load() == 1 })

	got, _ := store.Get(context.Background(), sess.ID)
	if got.DateTimeCardLastUpdated == nil {
		t.Error("last-updated time not recorded")
	}
	if store.pending(sess.ID) {
		t.Error("an immediate redraw must not claim the slot")
	}
}

func TestCardRefresh_BurstCoalescesIntoOneRedraw(t *testing.T) {
	sess := newSession()
	store := newCardStore(sess)
	up := &countingUpdater{}
	w := workers.NewCardRefresh(store, up, zap.NewNop(), 100*time.Millisecond, time.Hour)
	w.Start()
	defer w.Stop()

	w.Request(sess)
	eventually(t, time.Second, func() bool { return up.calls.Load() == 1 })

	for i := 0; i < 5; i++ {
		w.Request(sess)
	}
	eventually(t, time.Second, func() bool { return up.calls.Load() == 2 && !store.pending(sess.ID) })

	time.Sleep(150 * time.Millisecond)
	if got := up.calls.Load(); got != 2 {
		t.Errorf("redraws: got %d, want 2", got)
	}
}

func TestCardRefresh_ConcurrentFirstRequestsRedrawOnce(t *testing.T) {
	sess := newSession()
	store := newCardStore(sess)
	up := &countingUpdater{}

	// Both requests load a card that was never drawn before either claims.
	var claims atomic.Int32
	both := make(chan struct{})
	store.onClaim = func() {
		switch claims.Add(1) {
		case 1:
			<-both
		case 2:
			close(both)
		}
	}

	w := workers.NewCardRefresh(store, up, zap.NewNop(), time.Hour, time.Hour)
	w.Start()
	defer w.Stop()

	w.Request(sess)
	w.Request(sess)

	// The loser queues a redraw behind the winner instead of drawing again.
	eventually(t, time.Second, func() bool { return up.calls.Load() == 1 && store.pending(sess.ID) })
	time.Sleep(20 * time.Millisecond)
	if got := up.calls.Load(); got != 1 {
		t.Errorf("immediate redraws: got %d, want 1", got)
	}
}

func TestCardRefresh_StopLeavesSlotForSweep(t *testing.T) {
	sess := newSession()
	store := newCardStore(sess)
	up := &countingUpdater{}
	w := workers.NewCardRefresh(store, up, zap.NewNop(), time.Hour, time.Hour)
	w.Start()

	w.Request(sess)
	eventually(t, time.Second, func() bool { return up.calls.Load() == 1 })
	w.Request(sess)
	eventually(t, time.Second, func() bool { return store.pending(sess.ID) })

	done := make(chan struct{})
	go func() {
		w.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop blocked on a pending redraw")
	}
	if !store.pending(sess.ID) {
		t.Error("slot should remain claimed after Stop")
	}

	// Requests after Stop are ignored.
	w.Request(sess)
	time.Sleep(20 * time.Millisecond)
	if got := up.calls.Load(); got != 1 {
		t.Errorf("redraws after stop: got %d", got)
	}
}

func TestCardRefresh_SweepRecoversOrphanedSlot(t *testing.T) {
	sess := newSession()
	past := time.Now().UTC().Add(-time.Minute)
	sess.DateTimeNextCardUpdateScheduled = &past
	store := newCardStore(sess)
	up := &countingUpdater{}

	w := workers.NewCardRefresh(store, up, zap.NewNop(), 10*time.Millisecond, 20*time.Millisecond)
	w.Start()
	defer w.Stop()

	eventually(t, time.Second, func() bool { return up.calls.Load() >= 1 && !store.pending(sess.ID) })
}
