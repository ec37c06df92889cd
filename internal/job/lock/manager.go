// Package lock serializes conflicting access to domain entities across
// concurrently running jobs. READ locks are shared, WRITE locks exclusive,
// and contested entities are granted in FIFO order. A job acquires its whole
// lock set at once, in canonical order, and holds it until it terminates.
package lock

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/secfleet/secfleet/internal/domain"
)

// ErrNotHeld is returned when downgrading a lock the grant does not hold.
var ErrNotHeld = errors.New("write lock not held")

// Request asks for one lock on one entity.
type Request struct {
	Ref  domain.LockObjectReference `json:"ref"`
	Mode Mode                       `json:"mode"`
}

// Normalize deduplicates requests by entity, keeping the strongest mode,
// and sorts them canonically by (type, id).
func Normalize(reqs []Request) []Request {
	byKey := make(map[domain.LockKey]int, len(reqs))
	out := make([]Request, 0, len(reqs))
	for _, r := range reqs {
		if i, ok := byKey[r.Ref.Key()]; ok {
			if r.Mode > out[i].Mode {
				out[i].Mode = r.Mode
			}
			continue
		}
		byKey[r.Ref.Key()] = len(out)
		out = append(out, r)
	}
	slices.SortFunc(out, func(a, b Request) int { return domain.CompareLockRefs(a.Ref, b.Ref) })
	return out
}

// Manager is an in-process lock table keyed by entity.
type Manager struct {
	mu      sync.Mutex
	records map[domain.LockKey]*record
}

// NewManager creates an empty lock table.
func NewManager() *Manager {
	return &Manager{records: make(map[domain.LockKey]*record)}
}

// Acquire places every requested lock for owner, or none of them. Requests
// are taken in canonical order so jobs with overlapping sets cannot
// deadlock. If timeout (when > 0) elapses or ctx ends first, every lock
// already granted is released and the error wraps domain.ErrLockTimeout.
func (m *Manager) Acquire(ctx context.Context, owner string, reqs []Request, timeout time.Duration) (*Grant, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	g := &Grant{m: m, owner: owner}
	for _, req := range Normalize(reqs) {
		if err := m.acquireOne(ctx, owner, req); err != nil {
			g.Release()
			return nil, fmt.Errorf("%w: %s on %s: %w", domain.ErrLockTimeout, req.Mode, req.Ref, err)
		}
		g.held = append(g.held, req)
	}
	return g, nil
}

func (m *Manager) acquireOne(ctx context.Context, owner string, req Request) error {
	m.mu.Lock()
	r, ok := m.records[req.Ref.Key()]
	if !ok {
		r = newRecord(req.Ref)
		m.records[req.Ref.Key()] = r
	}
	if len(r.queue) == 0 && r.compatible(req.Mode) {
		r.grant(owner, req.Mode)
		m.mu.Unlock()
		return nil
	}
	w := &waiter{owner: owner, mode: req.Mode, ready: make(chan struct{})}
	r.queue = append(r.queue, w)
	m.mu.Unlock()

	select {
	case <-w.ready:
		return nil
	case <-ctx.Done():
		m.mu.Lock()
		defer m.mu.Unlock()
		if w.granted {
			return nil
		}
		r.dequeue(w)
		m.gc(r)
		return ctx.Err()
	}
}

func (m *Manager) release(owner string, ref domain.LockObjectReference) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.records[ref.Key()]
	if !ok || !r.release(owner) {
		return
	}
	r.promote()
	m.gc(r)
}

func (m *Manager) downgrade(owner string, ref domain.LockObjectReference) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.records[ref.Key()]
	if !ok || r.writer != owner {
		return fmt.Errorf("%w: %s", ErrNotHeld, ref)
	}
	r.writer = ""
	r.readers[owner] = struct{}{}
	r.promote()
	return nil
}

// gc drops the record once nobody holds or waits for it. Caller holds mu.
func (m *Manager) gc(r *record) {
	if r.idle() {
		delete(m.records, r.ref.Key())
	}
}

// ─── Lock Information ───────────────────────────────────────────────────────

// Waiter describes one queued request.
type Waiter struct {
	Owner string `json:"owner"`
	Mode  string `json:"mode"`
}

// Info describes the lock state of one entity.
type Info struct {
	Ref     domain.LockObjectReference `json:"ref"`
	Mode    string                     `json:"mode,omitempty"`
	Holders []string                   `json:"holders"`
	Waiting []Waiter                   `json:"waiting,omitempty"`
}

// Snapshot returns the state of every entity currently locked or waited
// on, ordered canonically.
func (m *Manager) Snapshot() []Info {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Info, 0, len(m.records))
	for _, r := range m.records {
		info := Info{Ref: r.ref, Mode: r.mode()}
		if r.writer != "" {
			info.Holders = append(info.Holders, r.writer)
		}
		for owner := range r.readers {
			info.Holders = append(info.Holders, owner)
		}
		slices.Sort(info.Holders)
		for _, w := range r.queue {
			info.Waiting = append(info.Waiting, Waiter{Owner: w.owner, Mode: w.mode.String()})
		}
		out = append(out, info)
	}
	slices.SortFunc(out, func(a, b Info) int { return domain.CompareLockRefs(a.Ref, b.Ref) })
	return out
}

// ─── Grant ──────────────────────────────────────────────────────────────────

// Grant is the set of locks one owner holds. Safe for concurrent use.
type Grant struct {
	m     *Manager
	owner string

	mu       sync.Mutex
	held     []Request
	released bool
}

// Owner returns the token the locks are held under.
func (g *Grant) Owner() string { return g.owner }

// Held returns the locks currently held.
func (g *Grant) Held() []Request {
	g.mu.Lock()
	defer g.mu.Unlock()
	return slices.Clone(g.held)
}

// Release gives every lock back, in reverse acquisition order. Calling it
// more than once is a no-op.
func (g *Grant) Release() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.released {
		return
	}
	g.released = true
	for i := len(g.held) - 1; i >= 0; i-- {
		g.m.release(g.owner, g.held[i].Ref)
	}
	g.held = nil
}

// Downgrade turns a held WRITE lock on ref into a READ lock, letting queued
// readers in.
func (g *Grant) Downgrade(ref domain.LockObjectReference) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	i := slices.IndexFunc(g.held, func(r Request) bool { return r.Ref.Same(ref) && r.Mode == Write })
	if g.released || i < 0 {
		return fmt.Errorf("%w: %s", ErrNotHeld, ref)
	}
	if err := g.m.downgrade(g.owner, ref); err != nil {
		return err
	}
	g.held[i].Mode = Read
	return nil
}
