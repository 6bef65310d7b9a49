// Package correlation matches asynchronous responses to the requests that
// are waiting for them. Every wait is bounded and always clears its entry.
package correlation

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/BaSui01/swarmhandoff/agent/events"
	"github.com/BaSui01/swarmhandoff/types"
)

// Table holds pending requests keyed by request id.
type Table[T any] struct {
	mu      sync.Mutex
	entries map[string]*Entry[T]
}

// Entry is one pending request.
type Entry[T any] struct {
	key   string
	ch    chan T
	table *Table[T]
}

// NewTable creates an empty table.
func NewTable[T any]() *Table[T] {
	return &Table[T]{entries: make(map[string]*Entry[T])}
}

// Register adds a pending entry. Registering a key twice is an error.
func (t *Table[T]) Register(key string) (*Entry[T], error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, exists := t.entries[key]; exists {
		return nil, fmt.Errorf("correlation key %q already pending", key)
	}
	e := &Entry[T]{key: key, ch: make(chan T, 1), table: t}
	t.entries[key] = e
	return e, nil
}

// Resolve completes the entry for key. Unknown or already-resolved keys
// return false and are otherwise ignored.
func (t *Table[T]) Resolve(key string, v T) bool {
	t.mu.Lock()
	e, ok := t.entries[key]
	if ok {
		delete(t.entries, key)
	}
	t.mu.Unlock()
	if !ok {
		return false
	}
	e.ch <- v
	return true
}

// Pending reports whether key is waiting.
func (t *Table[T]) Pending(key string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.entries[key]
	return ok
}

// Len returns the number of pending entries.
func (t *Table[T]) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

// Key returns the correlation key.
func (e *Entry[T]) Key() string { return e.key }

// Wait blocks until the entry is resolved, timeout elapses, or ctx is done.
// The entry is removed on every path.
func (e *Entry[T]) Wait(ctx context.Context, timeout time.Duration) (T, error) {
	var zero T
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case v := <-e.ch:
		return v, nil
	case <-timer.C:
		e.Cancel()
		return zero, types.NewTimeoutError("response for "+e.key, timeout)
	case <-ctx.Done():
		e.Cancel()
		return zero, ctx.Err()
	}
}

// Cancel removes the entry; a later Resolve for its key returns false.
func (e *Entry[T]) Cancel() {
	e.table.mu.Lock()
	defer e.table.mu.Unlock()
	if cur, ok := e.table.entries[e.key]; ok && cur == e {
		delete(e.table.entries, e.key)
	}
}

// Waiter is a one-shot subscription for the first event that matches.
type Waiter struct {
	bus   events.Bus
	subID string
	ch    chan events.Event
	once  sync.Once
	label string
}

// Expect subscribes before the caller publishes its request, so a fast
// response cannot be missed.
func Expect(bus events.Bus, typ events.Type, label string, match func(events.Event) bool) *Waiter {
	w := &Waiter{bus: bus, ch: make(chan events.Event, 1), label: label}
	w.subID = bus.Subscribe(typ, func(ev events.Event) {
		if match != nil && !match(ev) {
			return
		}
		select {
		case w.ch <- ev:
		default:
			// 只取第一个匹配
		}
	})
	return w
}

// Wait returns the first matching event or a timeout error. It unsubscribes
// on every path.
func (w *Waiter) Wait(ctx context.Context, timeout time.Duration) (events.Event, error) {
	defer w.Cancel()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case ev := <-w.ch:
		return ev, nil
	case <-timer.C:
		return events.Event{}, types.NewTimeoutError(w.label, timeout)
	case <-ctx.Done():
		return events.Event{}, ctx.Err()
	}
}

// Cancel unsubscribes without waiting.
func (w *Waiter) Cancel() {
	w.once.Do(func() { w.bus.Unsubscribe(w.subID) })
}
