// ABOUTME: Synchronous listener sets that hand out releasable Subscription handles
// ABOUTME: Used by every component that notifies observers (presence, messages, timers)

package event

import (
	"slices"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

// Handler receives one value per emission.
type Handler[T any] func(T)

// Subscription is the handle returned when a handler is registered.
// Release is idempotent and safe to call from any goroutine, including
// from inside the handler itself. Release does not wait: an invocation
// already running on another goroutine finishes, but none starts after
// Release returns. Owners that need a quiet handler stop the emitting
// goroutine first (Queue.Close waits for it).
type Subscription struct {
	id       string
	released atomic.Bool
	release  func(id string)
}

// ID returns the unique subscription identifier.
func (s *Subscription) ID() string {
	if s == nil {
		return ""
	}
	return s.id
}

// Release unregisters the handler. Calling it more than once is a no-op.
func (s *Subscription) Release() {
	if s == nil {
		return
	}
	if s.released.CompareAndSwap(false, true) && s.release != nil {
		s.release(s.id)
	}
}

// Released reports whether Release has been called.
func (s *Subscription) Released() bool {
	return s == nil || s.released.Load()
}

type entry[T any] struct {
	sub *Subscription
	fn  Handler[T]
}

// Listeners is a set of handlers invoked synchronously, in registration
// order, on the goroutine that calls Emit. The zero value is ready to use.
type Listeners[T any] struct {
	mu      sync.RWMutex
	entries []entry[T]
}

// Add registers fn and returns its subscription handle.
func (l *Listeners[T]) Add(fn Handler[T]) *Subscription {
	sub := &Subscription{id: uuid.New().String()}
	sub.release = l.remove

	l.mu.Lock()
	l.entries = append(l.entries, entry[T]{sub: sub, fn: fn})
	l.mu.Unlock()

	return sub
}

func (l *Listeners[T]) remove(id string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.entries = slices.DeleteFunc(l.entries, func(e entry[T]) bool {
		return e.sub.id == id
	})
}

// Emit calls every live handler with v. Handlers are snapshotted under a
// read lock so they may add or release subscriptions while running.
func (l *Listeners[T]) Emit(v T) {
	l.emit(v, nil)
}

// emit stops early once stopped reports true.
func (l *Listeners[T]) emit(v T, stopped func() bool) {
	l.mu.RLock()
	targets := slices.Clone(l.entries)
	l.mu.RUnlock()

	for _, e := range targets {
		if stopped != nil && stopped() {
			return
		}
		if e.sub.Released() {
			continue
		}
		e.fn(v)
	}
}

// Len returns the number of registered handlers.
func (l *Listeners[T]) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}

// Group collects subscriptions so they can be released together on every
// exit path of their owner.
type Group struct {
	mu   sync.Mutex
	subs []*Subscription
}

// Add tracks sub and returns it for convenience.
func (g *Group) Add(sub *Subscription) *Subscription {
	g.mu.Lock()
	g.subs = append(g.subs, sub)
	g.mu.Unlock()
	return sub
}

// Release releases every tracked subscription exactly once and forgets them.
func (g *Group) Release() {
	g.mu.Lock()
	subs := g.subs
	g.subs = nil
	g.mu.Unlock()

	for _, sub := range subs {
		sub.Release()
	}
}

// Len returns the number of subscriptions still tracked.
func (g *Group) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.subs)
}
