package conform

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/secfleet/secfleet/internal/domain"
	"github.com/secfleet/secfleet/internal/job"
)

// ActionRecorder counts corrective actions, typically as metrics.
type ActionRecorder interface {
	ReconcileAction(action string, err error)
}

// Deps are the collaborators conformance tasks run against.
type Deps struct {
	Store       domain.ApplianceStore
	Connector   domain.ManagerConnector
	Broadcaster domain.Broadcaster // optional
	Txer        domain.Transactor
	Log         *zap.Logger
	Actions     ActionRecorder // optional
}

func (d *Deps) logger() *zap.Logger {
	if d.Log == nil {
		return zap.NewNop()
	}
	return d.Log
}

// broadcast queues ev on the transaction carried by ctx.
func (d *Deps) broadcast(ctx context.Context, ev domain.Event) {
	if d.Broadcaster == nil {
		return
	}
	tx, _ := domain.TxFrom(ctx)
	d.Broadcaster.Enqueue(tx, ev)
}

// Op is the action a security group interface task takes.
type Op string

const (
	OpCreate      Op = "create"
	OpUpdate      Op = "update"
	OpDelete      Op = "delete"
	OpDeleteLocal Op = "delete_local"
)

// Params is the immutable description of a security group interface task.
// Two tasks with equal Params do the same thing.
type Params struct {
	Op              Op
	VirtualSystemID int64
	VirtualSystem   string
	InterfaceID     int64 // local row, 0 for a remote-only interface
	Name            string
	RemoteID        string // target on the manager, empty before creation
	Spec            domain.InterfaceSpec
}

// SGITask applies one corrective action for a security group interface.
type SGITask struct {
	params Params
	vs     domain.VirtualSystem
	sgi    domain.SecurityGroupInterface
	deps   *Deps
}

// CreateSGI creates sgi on the manager and persists the new remote id.
func CreateSGI(vs *domain.VirtualSystem, sgi domain.SecurityGroupInterface, deps *Deps) *SGITask {
	return newSGITask(OpCreate, vs, sgi, "", deps)
}

// UpdateSGI pushes sgi to the manager object mi and binds mi's id when the
// row did not carry it yet.
func UpdateSGI(vs *domain.VirtualSystem, sgi domain.SecurityGroupInterface, mi domain.ManagerInterface, deps *Deps) *SGITask {
	return newSGITask(OpUpdate, vs, sgi, mi.ID, deps)
}

// DeleteSGI removes an interface only the manager knows about.
func DeleteSGI(vs *domain.VirtualSystem, mi domain.ManagerInterface, deps *Deps) *SGITask {
	return newSGITask(OpDelete, vs, domain.SecurityGroupInterface{Name: mi.Name, RemoteID: mi.ID}, mi.ID, deps)
}

// DeleteLocalSGI removes an interface marked for deletion: on the manager
// when mi is given, then its row.
func DeleteLocalSGI(vs *domain.VirtualSystem, sgi domain.SecurityGroupInterface, mi *domain.ManagerInterface, deps *Deps) *SGITask {
	remote := ""
	if mi != nil {
		remote = mi.ID
	}
	return newSGITask(OpDeleteLocal, vs, sgi, remote, deps)
}

func newSGITask(op Op, vs *domain.VirtualSystem, sgi domain.SecurityGroupInterface, remoteID string, deps *Deps) *SGITask {
	return &SGITask{
		params: Params{
			Op:              op,
			VirtualSystemID: vs.ID,
			VirtualSystem:   vs.Name,
			InterfaceID:     sgi.ID,
			Name:            sgi.Name,
			RemoteID:        remoteID,
			Spec:            sgi.Spec(),
		},
		vs:   *vs,
		sgi:  sgi,
		deps: deps,
	}
}

func (t *SGITask) Params() Params { return t.params }

// Equal compares tasks by parameters, looking through wrappers.
func (t *SGITask) Equal(other job.Task) bool {
	o, ok := job.Unwrap(other).(*SGITask)
	return ok && o.params == t.params
}

func (t *SGITask) Name() string {
	p := t.params
	switch p.Op {
	case OpCreate:
		return fmt.Sprintf("Create Security Group Interface '%s' (Virtual System '%s')", p.Name, p.VirtualSystem)
	case OpUpdate:
		return fmt.Sprintf("Update Security Group Interface '%s' (Virtual System '%s')", p.Name, p.VirtualSystem)
	case OpDelete:
		return fmt.Sprintf("Delete Security Group Interface '%s' with id %s (Virtual System '%s')", p.Name, p.RemoteID, p.VirtualSystem)
	default:
		return fmt.Sprintf("Remove Security Group Interface '%s' (Virtual System '%s')", p.Name, p.VirtualSystem)
	}
}

// Objects is the owning virtual system, which guards its interfaces.
func (t *SGITask) Objects() []domain.LockObjectReference {
	return []domain.LockObjectReference{t.vs.LockRef()}
}

func (t *SGITask) Execute(ctx context.Context) (err error) {
	defer func() {
		if t.deps.Actions != nil {
			t.deps.Actions.ReconcileAction(string(t.params.Op), err)
		}
	}()

	sess, err := t.deps.Connector.Open(ctx, &t.vs)
	if err != nil {
		return err
	}
	defer sess.Close()

	log := t.deps.logger().With(zap.String("task", t.Name()))
	switch t.params.Op {
	case OpCreate:
		id, err := sess.CreateInterface(ctx, t.params.Spec)
		if err != nil {
			return err
		}
		log.Info("interface created", zap.String("remote_id", id))
		return t.bind(ctx, id)

	case OpUpdate:
		if err := sess.UpdateInterface(ctx, t.params.RemoteID, t.params.Spec); err != nil {
			return err
		}
		if t.sgi.RemoteID == t.params.RemoteID {
			return nil
		}
		log.Info("interface bound", zap.String("remote_id", t.params.RemoteID))
		return t.bind(ctx, t.params.RemoteID)

	case OpDelete:
		return sess.DeleteInterface(ctx, t.params.RemoteID)

	case OpDeleteLocal:
		if t.params.RemoteID != "" {
			if err := sess.DeleteInterface(ctx, t.params.RemoteID); err != nil {
				return err
			}
		}
		if err := t.deps.Store.DeleteSecurityGroupInterface(ctx, t.sgi.ID); err != nil {
			return err
		}
		t.deps.broadcast(ctx, domain.Event{Op: domain.EventDeleted, Object: domain.ObjectSecurityGroupInterface, ID: t.sgi.ID})
		return nil

	default:
		return fmt.Errorf("unknown operation %q", t.params.Op)
	}
}

// bind persists the remote id on the local row.
func (t *SGITask) bind(ctx context.Context, remoteID string) error {
	sgi := t.sgi
	sgi.RemoteID = remoteID
	if err := t.deps.Store.UpdateSecurityGroupInterface(ctx, &sgi); err != nil {
		return fmt.Errorf("persist remote id %s: %w", remoteID, err)
	}
	t.deps.broadcast(ctx, domain.Event{Op: domain.EventUpdated, Object: domain.ObjectSecurityGroupInterface, ID: sgi.ID})
	return nil
}
