// Package connector provides appliance manager connectors. The in-memory
// manager stands in for a real appliance manager API: it keeps interfaces
// per manager URL and supports one-shot fault injection for tests and demos.
package connector

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"strconv"
	"sync"

	"github.com/secfleet/secfleet/internal/domain"
)

// Op names a manager call, for fault injection and call counting.
type Op string

const (
	OpOpen   Op = "open"
	OpList   Op = "list"
	OpCreate Op = "create"
	OpUpdate Op = "update"
	OpDelete Op = "delete"
)

// ─── Memory Manager ─────────────────────────────────────────────────────────

// Memory implements domain.ManagerConnector in memory.
type Memory struct {
	mu       sync.Mutex
	managers map[string]*manager
}

type manager struct {
	interfaces map[string]domain.ManagerInterface
	nextID     int
	faults     map[Op]error
	calls      map[Op]int
}

// NewMemory creates an empty in-memory connector.
func NewMemory() *Memory {
	return &Memory{managers: make(map[string]*manager)}
}

func (m *Memory) managerFor(url string) *manager {
	mg, ok := m.managers[url]
	if !ok {
		mg = &manager{
			interfaces: make(map[string]domain.ManagerInterface),
			nextID:     1,
			faults:     make(map[Op]error),
			calls:      make(map[Op]int),
		}
		m.managers[url] = mg
	}
	return mg
}

// Seed places an interface on the manager at url as if created out of band.
// An empty id is assigned.
func (m *Memory) Seed(url string, mi domain.ManagerInterface) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	mg := m.managerFor(url)
	if mi.ID == "" {
		mi.ID = strconv.Itoa(mg.nextID)
		mg.nextID++
	}
	mg.interfaces[mi.ID] = mi
	return mi.ID
}

// FailNext makes the next op call against url fail with err.
func (m *Memory) FailNext(url string, op Op, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.managerFor(url).faults[op] = err
}

// Calls returns how many times op was called against url.
func (m *Memory) Calls(url string, op Op) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.managerFor(url).calls[op]
}

// Interfaces returns the interfaces held by the manager at url, by id.
func (m *Memory) Interfaces(url string) []domain.ManagerInterface {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.managerFor(url).list()
}

func (mg *manager) list() []domain.ManagerInterface {
	out := make([]domain.ManagerInterface, 0, len(mg.interfaces))
	for _, mi := range mg.interfaces {
		out = append(out, mi)
	}
	slices.SortFunc(out, func(a, b domain.ManagerInterface) int { return cmp.Compare(a.ID, b.ID) })
	return out
}

// call counts op and consumes a pending fault. Caller holds mu.
func (mg *manager) call(op Op) error {
	mg.calls[op]++
	if err, ok := mg.faults[op]; ok {
		delete(mg.faults, op)
		return fmt.Errorf("%w: %s: %w", domain.ErrRemote, op, err)
	}
	return nil
}

func (m *Memory) Open(ctx context.Context, vs *domain.VirtualSystem) (domain.ManagerSession, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.managerFor(vs.ManagerURL).call(OpOpen); err != nil {
		return nil, err
	}
	return &session{m: m, url: vs.ManagerURL}, nil
}

// ─── Session ────────────────────────────────────────────────────────────────

type session struct {
	m      *Memory
	url    string
	closed bool
}

func (s *session) begin(ctx context.Context, op Op) (*manager, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.closed {
		return nil, fmt.Errorf("%w: session closed", domain.ErrRemote)
	}
	mg := s.m.managerFor(s.url)
	return mg, mg.call(op)
}

func (s *session) ListInterfaces(ctx context.Context) ([]domain.ManagerInterface, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	mg, err := s.begin(ctx, OpList)
	if err != nil {
		return nil, err
	}
	return mg.list(), nil
}

func (s *session) CreateInterface(ctx context.Context, spec domain.InterfaceSpec) (string, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	mg, err := s.begin(ctx, OpCreate)
	if err != nil {
		return "", err
	}
	id := strconv.Itoa(mg.nextID)
	mg.nextID++
	mg.interfaces[id] = domain.ManagerInterface{ID: id, Name: spec.Name, Tag: spec.Tag, Policy: spec.Policy}
	return id, nil
}

func (s *session) UpdateInterface(ctx context.Context, id string, spec domain.InterfaceSpec) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	mg, err := s.begin(ctx, OpUpdate)
	if err != nil {
		return err
	}
	if _, ok := mg.interfaces[id]; !ok {
		return fmt.Errorf("%w: interface %s: %w", domain.ErrRemote, id, domain.ErrNotFound)
	}
	mg.interfaces[id] = domain.ManagerInterface{ID: id, Name: spec.Name, Tag: spec.Tag, Policy: spec.Policy}
	return nil
}

// DeleteInterface is idempotent: deleting a missing interface succeeds.
func (s *session) DeleteInterface(ctx context.Context, id string) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	mg, err := s.begin(ctx, OpDelete)
	if err != nil {
		return err
	}
	delete(mg.interfaces, id)
	return nil
}

func (s *session) Close() error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	s.closed = true
	return nil
}
