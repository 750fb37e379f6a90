// internal/app/system/events/queue.go
package events

import (
	"context"
	"sync"

	"github.com/dalemusser/askaway/internal/app/system/metrics"
	"go.uber.org/zap"
)

// Sender delivers a single request. *Dispatcher implements it.
type Sender interface {
	Dispatch(ctx context.Context, req Request) error
}

// Queue delivers requests in the background with a fixed pool of workers.
// Failures are logged by the Sender and never reach the caller.
type Queue struct {
	sender  Sender
	log     *zap.Logger
	workers int
	jobs    chan Request

	mu      sync.RWMutex
	stopped bool
	wg      sync.WaitGroup
}

// NewQueue creates a queue with the given worker count and buffer size.
func NewQueue(sender Sender, logger *zap.Logger, workers, buffer int) *Queue {
	if workers < 1 {
		workers = 1
	}
	if buffer < 0 {
		buffer = 0
	}
	return &Queue{
		sender:  sender,
		log:     logger,
		workers: workers,
		jobs:    make(chan Request, buffer),
	}
}

// Start launches the workers.
func (q *Queue) Start() {
	for i := 0; i < q.workers; i++ {
		q.wg.Add(1)
		go q.run()
	}
	q.log.Info("event queue started", zap.Int("workers", q.workers), zap.Int("buffer", cap(q.jobs)))
}

// Enqueue hands req to the workers. It blocks while the buffer is full and
// returns false once the queue is stopped.
func (q *Queue) Enqueue(req Request) bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.stopped {
		q.log.Warn("event dropped: queue stopped",
			zap.String("qna_session_id", req.QnASessionID),
			zap.String("event_type", string(req.EventData.Type)),
			zap.Int64("version", req.EventData.Version))
		return false
	}
	metrics.QueueDepth.Inc()
	q.jobs <- req
	return true
}

// Stop refuses new requests, drains what is queued and waits for the
// workers. If ctx ends first, Stop returns its error and the workers keep
// draining in the background.
func (q *Queue) Stop(ctx context.Context) error {
	q.mu.Lock()
	if !q.stopped {
		q.stopped = true
		close(q.jobs)
	}
	q.mu.Unlock()

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		q.log.Info("event queue stopped")
		return nil
	case <-ctx.Done():
		q.log.Warn("event queue stop timed out", zap.Error(ctx.Err()))
		return ctx.Err()
	}
}

func (q *Queue) run() {
	defer q.wg.Done()
	for req := range q.jobs {
		metrics.QueueDepth.Dec()
		// Dispatch logs its own failures.
		_ = q.sender.Dispatch(context.Background(), req)
	}
}
