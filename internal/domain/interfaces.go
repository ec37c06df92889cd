package domain

import "context"

// ─── Service Interfaces ─────────────────────────────────────────────────────
// These interfaces define boundaries between layers.
// Infrastructure implements them; the job engine and conformance routines
// depend on them.

// Tx is one local transaction scoped to a single task.
type Tx interface {
	Commit() error
	Rollback() error

	// OnCommit registers fn to run after a successful commit. Hooks of a
	// rolled back transaction never run.
	OnCommit(fn func())
}

// Transactor hands out transactions. Implemented by infra/sqlite.DB.
type Transactor interface {
	Begin(ctx context.Context) (Tx, error)
}

// ApplianceStore abstracts persisted desired state. Calls made with a
// context carrying a Tx (see WithTx) run inside that transaction.
type ApplianceStore interface {
	// GetVirtualSystem loads a virtual system. forUpdate is a pessimistic
	// lock hint; stores that serialize writers may ignore it.
	GetVirtualSystem(ctx context.Context, id int64, forUpdate bool) (*VirtualSystem, error)
	ListVirtualSystems(ctx context.Context) ([]VirtualSystem, error)
	CreateVirtualSystem(ctx context.Context, vs *VirtualSystem) error
	SetLastJob(ctx context.Context, vsID, jobID int64) error

	ListSecurityGroupInterfaces(ctx context.Context, vsID int64) ([]SecurityGroupInterface, error)
	CreateSecurityGroupInterface(ctx context.Context, sgi *SecurityGroupInterface) error
	UpdateSecurityGroupInterface(ctx context.Context, sgi *SecurityGroupInterface) error
	DeleteSecurityGroupInterface(ctx context.Context, id int64) error
}

// JobRecordStore persists job outcomes. Implemented by infra/sqlite.DB.
type JobRecordStore interface {
	SaveJobRecord(ctx context.Context, job JobRecord, tasks []TaskRecord) error
	GetJobRecord(ctx context.Context, id int64) (*JobRecord, []TaskRecord, error)
	ListJobRecords(ctx context.Context, limit int) ([]JobRecord, error)
	NextJobID(ctx context.Context) (int64, error)
}

// ManagerConnector opens sessions against an appliance manager.
type ManagerConnector interface {
	Open(ctx context.Context, vs *VirtualSystem) (ManagerSession, error)
}

// ManagerSession is an open, closeable session with one appliance manager.
// Ids are opaque strings owned by the manager.
type ManagerSession interface {
	ListInterfaces(ctx context.Context) ([]ManagerInterface, error)
	CreateInterface(ctx context.Context, spec InterfaceSpec) (string, error)
	UpdateInterface(ctx context.Context, id string, spec InterfaceSpec) error
	DeleteInterface(ctx context.Context, id string) error
	Close() error
}

// Broadcaster queues change notifications on a transaction. They are sent
// after commit and dropped on rollback.
type Broadcaster interface {
	Enqueue(tx Tx, ev Event)
}

// Alerter surfaces systemic failures to operators.
type Alerter interface {
	Raise(ctx context.Context, a Alert) error
}
