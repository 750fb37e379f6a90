package events_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/dalemusser/askaway/internal/app/system/events"
	"go.uber.org/zap"
)

type recordingSender struct {
	mu   sync.Mutex
	reqs []events.Request
	err  error
	wait chan struct{}
}

func (s *recordingSender) Dispatch(ctx context.Context, req events.Request) error {
	if s.wait != nil {
		<-s.wait
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reqs = append(s.reqs, req)
	return s.err
}

func (s *recordingSender) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.reqs)
}

func TestQueue_DrainsOnStop(t *testing.T) {
	sender := &recordingSender{err: errors.New("endpoint down")}
	q := events.NewQueue(sender, zap.NewNop(), 2, 16)
	q.Start()

	for i := 0; i < 10; i++ {
		if !q.Enqueue(events.Request{QnASessionID: "s", EventData: events.DataEvent{Version: int64(i)}}) {
			t.Fatalf("Enqueue %d refused", i)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := q.Stop(ctx); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if got := sender.count(); got != 10 {
		t.Errorf("delivered: got %d, want 10", got)
	}
}

func TestQueue_RefusesAfterStop(t *testing.T) {
	sender := &recordingSender{}
	q := events.NewQueue(sender, zap.NewNop(), 1, 1)
	q.Start()

	if err := q.Stop(context.Background()); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if q.Enqueue(events.Request{QnASessionID: "s"}) {
		t.Error("Enqueue after Stop should return false")
	}
	// Stopping twice is harmless.
	if err := q.Stop(context.Background()); err != nil {
		t.Errorf("second Stop failed: %v", err)
	}
}

func TestQueue_StopHonorsContext(t *testing.T) {
	sender := &recordingSender{wait: make(chan struct{})}
	q := events.NewQueue(sender, zap.NewNop(), 1, 4)
	q.Start()
	q.Enqueue(events.Request{QnASessionID: "s"})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := q.Stop(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Stop: got %v, want DeadlineExceeded", err)
	}
	close(sender.wait)
}
