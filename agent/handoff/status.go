package handoff

import (
	"context"
	"sync"
	"time"

	"github.com/BaSui01/swarmhandoff/types"
)

// State 交接状态
type State string

const (
	StateQueued       State = "queued"
	StateTransferring State = "transferring"
	StateCompleted    State = "completed"
	StateFailed       State = "failed"
)

// Status is the observable progress of one handoff.
type Status struct {
	HandoffID string    `json:"handoff_id"`
	Status    State     `json:"status"`
	Progress  int       `json:"progress"`
	Timestamp time.Time `json:"timestamp"`
	Error     string    `json:"error,omitempty"`
}

func clampProgress(p int) int {
	return min(max(p, 0), 100)
}

type statusEntry struct {
	status Status
	cancel context.CancelFunc
}

// statusTable tracks live handoffs. Cancelled handoffs are removed, so late
// updates for them find nothing and are dropped.
type statusTable struct {
	mu        sync.Mutex
	entries   map[string]*statusEntry
	active    int
	retention time.Duration
}

// statusRetention is how long finished handoffs stay queryable.
const statusRetention = 10 * time.Minute

func newStatusTable() *statusTable {
	return &statusTable{entries: make(map[string]*statusEntry), retention: statusRetention}
}

// admit inserts a queued entry, then rejects it if limit is now exceeded.
// limit <= 0 means unbounded.
func (t *statusTable) admit(id string, limit int, cancel context.CancelFunc) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sweep(time.Now())
	t.entries[id] = &statusEntry{
		status: Status{HandoffID: id, Status: StateQueued, Timestamp: time.Now()},
		cancel: cancel,
	}
	t.active++
	if limit > 0 && t.active > limit {
		delete(t.entries, id)
		t.active--
		return types.NewCapacityError("concurrent handoffs", limit)
	}
	return nil
}

// update applies fn to the entry if it still exists.
func (t *statusTable) update(id string, fn func(*Status)) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[id]
	if !ok {
		return false
	}
	wasLive := live(e.status.Status)
	fn(&e.status)
	e.status.Progress = clampProgress(e.status.Progress)
	e.status.Timestamp = time.Now()
	if wasLive && !live(e.status.Status) {
		t.active--
	}
	return true
}

func (t *statusTable) get(id string) (Status, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[id]
	if !ok {
		return Status{}, false
	}
	return e.status, true
}

// remove deletes the entry and cancels its context.
func (t *statusTable) remove(id string) bool {
	t.mu.Lock()
	e, ok := t.entries[id]
	if ok {
		delete(t.entries, id)
		if live(e.status.Status) {
			t.active--
		}
	}
	t.mu.Unlock()
	if ok && e.cancel != nil {
		e.cancel()
	}
	return ok
}

func (t *statusTable) inFlight() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.active
}

// sweep drops finished entries older than the retention. Caller holds mu.
func (t *statusTable) sweep(now time.Time) {
	for id, e := range t.entries {
		if !live(e.status.Status) && now.Sub(e.status.Timestamp) > t.retention {
			delete(t.entries, id)
		}
	}
}

func live(s State) bool {
	return s == StateQueued || s == StateTransferring
}
