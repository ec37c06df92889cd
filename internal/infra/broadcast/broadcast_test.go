package broadcast

import (
	"testing"

	"github.com/secfleet/secfleet/internal/domain"
)

type hookTx struct{ hooks []func() }

func (tx *hookTx) Commit() error {
	for _, h := range tx.hooks {
		h()
	}
	return nil
}
func (tx *hookTx) Rollback() error     { tx.hooks = nil; return nil }
func (tx *hookTx) OnCommit(fn func()) { tx.hooks = append(tx.hooks, fn) }

func TestBroadcaster_FlushOnCommit(t *testing.T) {
	b := New()
	ch, cancel := b.Subscribe(4)
	defer cancel()

	tx := &hookTx{}
	ev := domain.Event{Op: domain.EventUpdated, Object: domain.ObjectSecurityGroupInterface, ID: 3}
	b.Enqueue(tx, ev)

	select {
	case <-ch:
		t.Fatal("event sent before commit")
	default:
	}
	_ = tx.Commit()
	if got := <-ch; got != ev {
		t.Errorf("got %+v, want %+v", got, ev)
	}
}

func TestBroadcaster_DiscardOnRollback(t *testing.T) {
	b := New()
	ch, cancel := b.Subscribe(4)
	defer cancel()

	tx := &hookTx{}
	b.Enqueue(tx, domain.Event{Op: domain.EventDeleted, ID: 1})
	_ = tx.Rollback()
	_ = tx.Commit()

	select {
	case ev := <-ch:
		t.Fatalf("rolled back event delivered: %+v", ev)
	default:
	}
	if published, _ := b.Stats(); published != 0 {
		t.Errorf("published = %d, want 0", published)
	}
}

func TestBroadcaster_FullSubscriberDrops(t *testing.T) {
	b := New()
	_, cancel := b.Subscribe(1)
	b.Publish(domain.Event{ID: 1})
	b.Publish(domain.Event{ID: 2})
	if _, dropped := b.Stats(); dropped != 1 {
		t.Errorf("dropped = %d, want 1", dropped)
	}
	cancel()
	cancel()
	b.Publish(domain.Event{ID: 3})
}

func TestBroadcaster_NoTxPublishesNow(t *testing.T) {
	b := New()
	ch, cancel := b.Subscribe(1)
	defer cancel()
	b.Enqueue(nil, domain.Event{ID: 9})
	if ev := <-ch; ev.ID != 9 {
		t.Errorf("got %+v", ev)
	}
}
