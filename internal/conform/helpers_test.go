package conform

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/secfleet/secfleet/internal/domain"
	"github.com/secfleet/secfleet/internal/infra/broadcast"
	"github.com/secfleet/secfleet/internal/infra/connector"
	"github.com/secfleet/secfleet/internal/job"
	"github.com/secfleet/secfleet/internal/job/lock"
)

// memStore is an ApplianceStore applying writes immediately.
type memStore struct {
	mu      sync.Mutex
	systems map[int64]domain.VirtualSystem
	sgis    map[int64]domain.SecurityGroupInterface
	nextSGI int64
}

func newMemStore(systems ...domain.VirtualSystem) *memStore {
	s := &memStore{
		systems: make(map[int64]domain.VirtualSystem),
		sgis:    make(map[int64]domain.SecurityGroupInterface),
		nextSGI: 1,
	}
	for _, vs := range systems {
		s.systems[vs.ID] = vs
	}
	return s
}

func (s *memStore) GetVirtualSystem(_ context.Context, id int64, _ bool) (*domain.VirtualSystem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	vs, ok := s.systems[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &vs, nil
}

func (s *memStore) ListVirtualSystems(context.Context) ([]domain.VirtualSystem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.VirtualSystem
	for id := int64(1); len(out) < len(s.systems); id++ {
		if vs, ok := s.systems[id]; ok {
			out = append(out, vs)
		}
	}
	return out, nil
}

func (s *memStore) CreateVirtualSystem(_ context.Context, vs *domain.VirtualSystem) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	vs.ID = int64(len(s.systems) + 1)
	s.systems[vs.ID] = *vs
	return nil
}

func (s *memStore) SetLastJob(_ context.Context, vsID, jobID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	vs, ok := s.systems[vsID]
	if !ok {
		return domain.ErrNotFound
	}
	vs.LastJobID = jobID
	s.systems[vsID] = vs
	return nil
}

func (s *memStore) ListSecurityGroupInterfaces(_ context.Context, vsID int64) ([]domain.SecurityGroupInterface, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.SecurityGroupInterface
	for id := int64(1); id < s.nextSGI; id++ {
		if sgi, ok := s.sgis[id]; ok && sgi.VirtualSystemID == vsID {
			out = append(out, sgi)
		}
	}
	return out, nil
}

func (s *memStore) CreateSecurityGroupInterface(_ context.Context, sgi *domain.SecurityGroupInterface) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sgi.ID = s.nextSGI
	s.nextSGI++
	s.sgis[sgi.ID] = *sgi
	return nil
}

func (s *memStore) UpdateSecurityGroupInterface(_ context.Context, sgi *domain.SecurityGroupInterface) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sgis[sgi.ID]; !ok {
		return domain.ErrNotFound
	}
	s.sgis[sgi.ID] = *sgi
	return nil
}

func (s *memStore) DeleteSecurityGroupInterface(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sgis, id)
	return nil
}

func (s *memStore) sgi(id int64) (domain.SecurityGroupInterface, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sgi, ok := s.sgis[id]
	return sgi, ok
}

func (s *memStore) lastJob(vsID int64) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.systems[vsID].LastJobID
}

// hookTxer hands out transactions that only run commit hooks.
type hookTxer struct {
	mu        sync.Mutex
	commits   int
	rollbacks int
}

type hookTx struct {
	txer  *hookTxer
	hooks []func()
}

func (x *hookTxer) Begin(context.Context) (domain.Tx, error) { return &hookTx{txer: x}, nil }

func (tx *hookTx) Commit() error {
	tx.txer.mu.Lock()
	tx.txer.commits++
	tx.txer.mu.Unlock()
	for _, h := range tx.hooks {
		h()
	}
	return nil
}

func (tx *hookTx) Rollback() error {
	tx.txer.mu.Lock()
	tx.txer.rollbacks++
	tx.txer.mu.Unlock()
	tx.hooks = nil
	return nil
}

func (tx *hookTx) OnCommit(fn func()) { tx.hooks = append(tx.hooks, fn) }

type actions struct {
	mu     sync.Mutex
	counts map[string]int
}

func (a *actions) ReconcileAction(action string, err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err == nil {
		a.counts[action]++
	}
}

func (a *actions) count(action string) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.counts[action]
}

type fixture struct {
	vs      domain.VirtualSystem
	store   *memStore
	conn    *connector.Memory
	bus     *broadcast.Broadcaster
	txer    *hookTxer
	actions *actions
	deps    *Deps
	engine  *job.Engine
	service *Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		vs:      domain.VirtualSystem{ID: 1, Name: "vs-east", ManagerURL: "mgr://east"},
		conn:    connector.NewMemory(),
		bus:     broadcast.New(),
		txer:    &hookTxer{},
		actions: &actions{counts: make(map[string]int)},
	}
	f.store = newMemStore(f.vs)
	f.deps = &Deps{
		Store:       f.store,
		Connector:   f.conn,
		Broadcaster: f.bus,
		Txer:        f.txer,
		Actions:     f.actions,
	}
	f.engine = job.NewEngine(lock.NewManager(), job.Config{LockTimeout: 5 * time.Second})
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = f.engine.Shutdown(ctx)
	})
	f.service = NewService(f.engine, f.deps, nil)
	return f
}

func (f *fixture) addSGI(t *testing.T, sgi domain.SecurityGroupInterface) domain.SecurityGroupInterface {
	t.Helper()
	sgi.VirtualSystemID = f.vs.ID
	if err := f.store.CreateSecurityGroupInterface(context.Background(), &sgi); err != nil {
		t.Fatal(err)
	}
	return sgi
}

// sync runs one conformance job of the fixture's virtual system.
func (f *fixture) sync(t *testing.T) *job.Job {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	j, err := f.service.SyncVirtualSystem(ctx, f.vs.ID)
	if err != nil {
		t.Fatalf("SyncVirtualSystem: %v", err)
	}
	if err := j.Wait(ctx); err != nil {
		t.Fatalf("Wait: %v", err)
	}
	return j
}
