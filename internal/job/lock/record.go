package lock

import (
	"slices"

	"github.com/secfleet/secfleet/internal/domain"
)

// Mode is the kind of lock placed on an entity.
type Mode int

const (
	// Read locks are shared.
	Read Mode = iota
	// Write locks are exclusive.
	Write
)

func (m Mode) String() string {
	if m == Write {
		return "WRITE_LOCK"
	}
	return "READ_LOCK"
}

// waiter is a queued request. ready is closed once granted.
type waiter struct {
	owner   string
	mode    Mode
	ready   chan struct{}
	granted bool
}

// record is the lock state of one entity. Requests are granted strictly in
// arrival order: a reader queued behind a waiting writer waits as well.
// Guarded by Manager.mu.
type record struct {
	ref     domain.LockObjectReference
	writer  string
	readers map[string]struct{}
	queue   []*waiter
}

func newRecord(ref domain.LockObjectReference) *record {
	return &record{ref: ref, readers: make(map[string]struct{})}
}

func (r *record) compatible(mode Mode) bool {
	if r.writer != "" {
		return false
	}
	return mode == Read || len(r.readers) == 0
}

func (r *record) grant(owner string, mode Mode) {
	if mode == Write {
		r.writer = owner
		return
	}
	r.readers[owner] = struct{}{}
}

// release drops whatever owner holds. Returns false if it held nothing.
func (r *record) release(owner string) bool {
	if r.writer == owner {
		r.writer = ""
		return true
	}
	if _, ok := r.readers[owner]; ok {
		delete(r.readers, owner)
		return true
	}
	return false
}

// promote grants queued requests from the head while they are compatible.
func (r *record) promote() {
	for len(r.queue) > 0 && r.compatible(r.queue[0].mode) {
		w := r.queue[0]
		r.queue = r.queue[1:]
		r.grant(w.owner, w.mode)
		w.granted = true
		close(w.ready)
	}
}

// dequeue removes an abandoned waiter. Removing a waiting writer at the head
// may unblock readers queued behind it.
func (r *record) dequeue(w *waiter) {
	r.queue = slices.DeleteFunc(r.queue, func(q *waiter) bool { return q == w })
	r.promote()
}

func (r *record) idle() bool {
	return r.writer == "" && len(r.readers) == 0 && len(r.queue) == 0
}

func (r *record) mode() string {
	switch {
	case r.writer != "":
		return Write.String()
	case len(r.readers) > 0:
		return Read.String()
	default:
		return ""
	}
}
