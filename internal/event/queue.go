// ABOUTME: Ordered asynchronous event queue with a single dispatch goroutine
// ABOUTME: Producers never block; handlers see events in exactly the order they were pushed

package event

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
)

// Queue delivers pushed values to its subscribers in push order, one value
// at a time, on a dedicated goroutine. Push never blocks, so transport
// callbacks and handlers may push re-entrantly without deadlocking.
type Queue[T any] struct {
	listeners Listeners[T]
	logger    *slog.Logger

	mu        sync.Mutex
	pending   []T
	pushed    uint64
	delivered uint64
	progress  chan struct{} // closed and replaced after each delivered batch

	wake    chan struct{}
	done    chan struct{}
	stopped chan struct{}
	closed  atomic.Bool
}

// NewQueue starts a queue. Pass nil logger for default.
func NewQueue[T any](logger *slog.Logger) *Queue[T] {
	if logger == nil {
		logger = slog.Default()
	}
	q := &Queue[T]{
		logger:   logger,
		progress: make(chan struct{}),
		wake:     make(chan struct{}, 1),
		done:     make(chan struct{}),
		stopped:  make(chan struct{}),
	}
	go q.run()
	return q
}

// Subscribe registers fn for every value delivered after this call.
func (q *Queue[T]) Subscribe(fn Handler[T]) *Subscription {
	return q.listeners.Add(fn)
}

// Push enqueues v. It returns false if the queue is closed.
func (q *Queue[T]) Push(v T) bool {
	if q.closed.Load() {
		return false
	}

	q.mu.Lock()
	q.pending = append(q.pending, v)
	q.pushed++
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
		// dispatcher already signalled
	}
	return true
}

// Sync blocks until every value pushed before the call has been delivered,
// the queue is closed, or ctx is done. It must not be called from a handler.
func (q *Queue[T]) Sync(ctx context.Context) error {
	q.mu.Lock()
	target := q.pushed
	q.mu.Unlock()

	for {
		q.mu.Lock()
		if q.delivered >= target || q.closed.Load() {
			q.mu.Unlock()
			return nil
		}
		ch := q.progress
		q.mu.Unlock()

		select {
		case <-ch:
		case <-q.stopped:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Close stops dispatch, drops undelivered values and waits for a handler
// that is already running to return, so no handler runs after Close
// returns. It is safe to call multiple times. Handlers must call Stop
// instead: Close would wait for the handler calling it.
func (q *Queue[T]) Close() {
	q.Stop()
	<-q.stopped
}

// Stop is Close without the wait. No handler starts after the running one
// returns. It is safe to call multiple times and from inside a handler.
func (q *Queue[T]) Stop() {
	if !q.closed.CompareAndSwap(false, true) {
		return
	}

	q.mu.Lock()
	dropped := len(q.pending)
	q.pending = nil
	q.mu.Unlock()

	close(q.done)

	if dropped > 0 {
		q.logger.Debug("event queue closed with undelivered events", "dropped", dropped)
	}
}

// Done is closed once the dispatch goroutine has exited.
func (q *Queue[T]) Done() <-chan struct{} {
	return q.stopped
}

func (q *Queue[T]) run() {
	defer close(q.stopped)

	for {
		select {
		case <-q.wake:
		case <-q.done:
			return
		}

		for {
			q.mu.Lock()
			batch := q.pending
			q.pending = nil
			q.mu.Unlock()

			if len(batch) == 0 {
				break
			}

			for _, v := range batch {
				if q.closed.Load() {
					return
				}
				q.listeners.emit(v, q.closed.Load)
			}

			q.mu.Lock()
			q.delivered += uint64(len(batch))
			close(q.progress)
			q.progress = make(chan struct{})
			q.mu.Unlock()
		}
	}
}
