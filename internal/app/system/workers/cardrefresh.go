// internal/app/system/workers/cardrefresh.go
package workers

import (
	"context"
	"sync"
	"time"

	"github.com/dalemusser/askaway/internal/domain/models"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"
)

// CardStore is the subset of qnasessions.Store the worker uses.
type CardStore interface {
	Get(ctx context.Context, id primitive.ObjectID) (models.QnASession, error)
	UpdateDateTimeCardLastUpdated(ctx context.Context, id primitive.ObjectID, t time.Time) error
	ClaimCardRedraw(ctx context.Context, id primitive.ObjectID, prev *time.Time, now time.Time) (bool, error)
	ScheduleNextCardUpdate(ctx context.Context, id primitive.ObjectID, at time.Time) (bool, error)
	ClearNextCardUpdate(ctx context.Context, id primitive.ObjectID) error
	ListDueCardUpdates(ctx context.Context, now time.Time) ([]models.QnASession, error)
}

// CardUpdater redraws the host card of a session.
type CardUpdater interface {
	UpdateCard(ctx context.Context, sess models.QnASession) error
}

// DefaultCardRefreshInterval is the minimum time between two redraws of the
// same host card.
const DefaultCardRefreshInterval = 5 * time.Second

// CardUpdaterFunc adapts a function to CardUpdater.
type CardUpdaterFunc func(ctx context.Context, sess models.QnASession) error

// UpdateCard calls f(ctx, sess).
func (f CardUpdaterFunc) UpdateCard(ctx context.Context, sess models.QnASession) error {
	return f(ctx, sess)
}

// CardRefresh throttles host card redraws to one per interval per session.
//
// A request arriving after the interval claims the redraw by advancing the
// session's last-updated time with a conditional write, so concurrent
// requests redraw once. A request arriving inside the interval claims the
// session's pending-refresh slot and redraws once the interval has passed;
// requests arriving while the slot is held are absorbed by it. The slot lives on the session document, so
// concurrent requests across processes schedule at most one redraw. A sweep
// picks up slots left behind by a process that stopped before its timer fired.
type CardRefresh struct {
	store    CardStore
	updater  CardUpdater
	log      *zap.Logger
	interval time.Duration
	sweep    time.Duration
	now      func() time.Time

	mu      sync.Mutex
	stopped bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// NewCardRefresh creates a card refresh worker.
//
// Parameters:
//   - interval: minimum time between two redraws of the same card
//   - sweep: how often to look for orphaned pending refreshes
func NewCardRefresh(store CardStore, updater CardUpdater, logger *zap.Logger, interval, sweep time.Duration) *CardRefresh {
	return &CardRefresh{
		store:    store,
		updater:  updater,
		log:      logger,
		interval: interval,
		sweep:    sweep,
		now:      func() time.Time { return time.Now().UTC() },
		stopCh:   make(chan struct{}),
	}
}

// Start begins the sweep loop.
func (w *CardRefresh) Start() {
	w.wg.Add(1)
	go w.run()
	w.log.Info("card refresh worker started",
		zap.Duration("interval", w.interval),
		zap.Duration("sweep", w.sweep))
}

// Stop signals the worker to stop and waits for in-flight redraws. Pending
// slots stay claimed and are picked up by the next sweep.
func (w *CardRefresh) Stop() {
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return
	}
	w.stopped = true
	close(w.stopCh)
	w.mu.Unlock()

	w.wg.Wait()
	w.log.Info("card refresh worker stopped")
}

// Request asks for the host card of sess to be redrawn. It never blocks.
func (w *CardRefresh) Request(sess models.QnASession) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopped {
		return
	}
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		w.handle(sess.ID)
	}()
}

func (w *CardRefresh) handle(id primitive.ObjectID) {
	at, ok := w.redrawOrSchedule(id)
	if !ok {
		return
	}

	timer := time.NewTimer(at.Sub(w.now()))
	defer timer.Stop()
	select {
	case <-w.stopCh:
		return
	case <-timer.C:
	}
	w.runScheduled(id)
}

// redrawOrSchedule redraws the card now when the interval has passed,
// claiming the redraw with a conditional write on the last-updated time.
// Inside the interval it claims the pending slot and reports when the
// scheduled redraw is due. A request that loses the immediate claim queues
// behind the winner, whose redraw may have read state from before this
// request's change.
func (w *CardRefresh) redrawOrSchedule(id primitive.ObjectID) (time.Time, bool) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	for attempt := 0; attempt < 2; attempt++ {
		sess, err := w.store.Get(ctx, id)
		if err != nil {
			w.log.Warn("card refresh: load session failed", zap.String("qna_session_id", id.Hex()), zap.Error(err))
			return time.Time{}, false
		}
		if sess.DateTimeNextCardUpdateScheduled != nil {
			return time.Time{}, false
		}

		now := w.now()
		last := sess.DateTimeCardLastUpdated
		if last == nil || now.Sub(*last) >= w.interval {
			claimed, err := w.store.ClaimCardRedraw(ctx, id, last, now)
			if err != nil {
				w.log.Warn("card refresh: claim failed", zap.String("qna_session_id", id.Hex()), zap.Error(err))
				return time.Time{}, false
			}
			if !claimed {
				continue
			}
			w.update(ctx, sess)
			return time.Time{}, false
		}

		at := last.Add(w.interval)
		claimed, err := w.store.ScheduleNextCardUpdate(ctx, id, at)
		if err != nil {
			w.log.Warn("card refresh: schedule failed", zap.String("qna_session_id", id.Hex()), zap.Error(err))
			return time.Time{}, false
		}
		return at, claimed
	}
	return time.Time{}, false
}

// runScheduled redraws a card whose slot this process holds and releases it.
func (w *CardRefresh) runScheduled(id primitive.ObjectID) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	sess, err := w.store.Get(ctx, id)
	if err != nil {
		w.log.Warn("card refresh: load session failed", zap.String("qna_session_id", id.Hex()), zap.Error(err))
		return
	}
	w.redraw(ctx, sess, w.now())
	if err := w.store.ClearNextCardUpdate(ctx, id); err != nil {
		w.log.Warn("card refresh: release slot failed", zap.String("qna_session_id", id.Hex()), zap.Error(err))
	}
}

// redraw updates the card and records the time. Only the slot holder calls it.
func (w *CardRefresh) redraw(ctx context.Context, sess models.QnASession, now time.Time) {
	w.update(ctx, sess)
	if err := w.store.UpdateDateTimeCardLastUpdated(ctx, sess.ID, now); err != nil {
		w.log.Warn("card refresh: record time failed", zap.String("qna_session_id", sess.ID.Hex()), zap.Error(err))
	}
}

func (w *CardRefresh) update(ctx context.Context, sess models.QnASession) {
	if err := w.updater.UpdateCard(ctx, sess); err != nil {
		w.log.Warn("card refresh: update failed",
			zap.String("qna_session_id", sess.ID.Hex()),
			zap.String("conversation_id", sess.ConversationID),
			zap.Error(err))
	}
}

func (w *CardRefresh) run() {
	defer w.wg.Done()

	ticker := time.NewTicker(w.sweep)
	defer ticker.Stop()

	for {
		select {
		case <-w.stopCh:
			return
		case <-ticker.C:
			w.sweepOrphans()
		}
	}
}

// sweepOrphans redraws cards whose slot is overdue by a full interval. The
// owner of a slot normally releases it on time.
func (w *CardRefresh) sweepOrphans() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	due, err := w.store.ListDueCardUpdates(ctx, w.now().Add(-w.interval))
	if err != nil {
		w.log.Error("card refresh: sweep failed", zap.Error(err))
		return
	}
	for _, sess := range due {
		w.runScheduled(sess.ID)
	}
	if len(due) > 0 {
		w.log.Info("card refresh: recovered pending refreshes", zap.Int("count", len(due)))
	}
}
