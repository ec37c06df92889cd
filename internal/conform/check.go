package conform

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/secfleet/secfleet/internal/domain"
	"github.com/secfleet/secfleet/internal/job"
)

// ErrNotConverged is returned by the verification step when corrective
// tasks ran but the manager still differs from the desired state.
var ErrNotConverged = errors.New("not converged")

// SecurityGroupInterfacesCheck is a MetaTask converging the security group
// interfaces of one virtual system with its appliance manager.
type SecurityGroupInterfacesCheck struct {
	vs   domain.VirtualSystem
	deps *Deps
	sub  *job.TaskGraph
}

// NewSecurityGroupInterfacesCheck creates the check for vs. Corrective
// tasks run with deps and are each wrapped in their own transaction.
func NewSecurityGroupInterfacesCheck(vs *domain.VirtualSystem, deps *Deps) *SecurityGroupInterfacesCheck {
	return &SecurityGroupInterfacesCheck{vs: *vs, deps: deps}
}

func (c *SecurityGroupInterfacesCheck) Name() string {
	return fmt.Sprintf("Check Security Group Interfaces (Virtual System '%s')", c.vs.Name)
}

// Objects covers the corrective tasks as well: they only lock the virtual
// system.
func (c *SecurityGroupInterfacesCheck) Objects() []domain.LockObjectReference {
	return []domain.LockObjectReference{c.vs.LockRef()}
}

func (c *SecurityGroupInterfacesCheck) TaskGraph() *job.TaskGraph { return c.sub }

func (c *SecurityGroupInterfacesCheck) Execute(ctx context.Context) error {
	c.sub = nil
	vs, err := c.deps.Store.GetVirtualSystem(ctx, c.vs.ID, true)
	if err != nil {
		return err
	}
	desired, err := c.deps.Store.ListSecurityGroupInterfaces(ctx, vs.ID)
	if err != nil {
		return err
	}
	observed, err := c.observe(ctx, vs)
	if err != nil {
		return err
	}

	plan, err := Diff(desired, observed, sgiMatcher(), c.builder(vs))
	if err != nil {
		return err
	}
	c.deps.logger().Info("security group interfaces checked",
		zap.String("virtual_system", vs.Name),
		zap.Int("desired", len(desired)),
		zap.Int("observed", len(observed)),
		zap.Int("creates", len(plan.Creates)),
		zap.Int("updates", len(plan.Updates)),
		zap.Int("deletes", len(plan.Deletes)),
	)
	c.sub, err = plan.Graph()
	return err
}

func (c *SecurityGroupInterfacesCheck) observe(ctx context.Context, vs *domain.VirtualSystem) (_ []domain.ManagerInterface, err error) {
	sess, err := c.deps.Connector.Open(ctx, vs)
	if err != nil {
		return nil, err
	}
	defer func() { err = errors.Join(err, sess.Close()) }()
	return sess.ListInterfaces(ctx)
}

// SecurityGroupInterfacesVerify re-reads both sides after a conformance
// pass and fails when they still differ. It only reads the virtual system.
type SecurityGroupInterfacesVerify struct {
	vs   domain.VirtualSystem
	deps *Deps
}

// NewSecurityGroupInterfacesVerify creates the verification step for vs.
func NewSecurityGroupInterfacesVerify(vs *domain.VirtualSystem, deps *Deps) *SecurityGroupInterfacesVerify {
	return &SecurityGroupInterfacesVerify{vs: *vs, deps: deps}
}

func (v *SecurityGroupInterfacesVerify) Name() string {
	return fmt.Sprintf("Verify Security Group Interfaces (Virtual System '%s')", v.vs.Name)
}

func (v *SecurityGroupInterfacesVerify) Objects() []domain.LockObjectReference {
	return []domain.LockObjectReference{v.vs.LockRef()}
}

func (v *SecurityGroupInterfacesVerify) SharedObjects() []domain.LockObjectReference {
	return v.Objects()
}

func (v *SecurityGroupInterfacesVerify) Execute(ctx context.Context) error {
	check := &SecurityGroupInterfacesCheck{vs: v.vs, deps: v.deps}
	if err := check.Execute(ctx); err != nil {
		return err
	}
	if tasks := check.TaskGraph().Tasks(); len(tasks) > 0 {
		return fmt.Errorf("%w: virtual system %q has %d pending changes", ErrNotConverged, v.vs.Name, len(tasks))
	}
	return nil
}

func sgiMatcher() Matcher[domain.SecurityGroupInterface, domain.ManagerInterface] {
	return Matcher[domain.SecurityGroupInterface, domain.ManagerInterface]{
		DesiredRemoteID:   func(s domain.SecurityGroupInterface) string { return s.RemoteID },
		DesiredName:       func(s domain.SecurityGroupInterface) string { return s.Name },
		ObservedID:        func(m domain.ManagerInterface) string { return m.ID },
		ObservedName:      func(m domain.ManagerInterface) string { return m.Name },
		MarkedForDeletion: func(s domain.SecurityGroupInterface) bool { return s.MarkedForDeletion },
		InSync:            func(s domain.SecurityGroupInterface, m domain.ManagerInterface) bool { return s.Matches(m) },
		Validate: func(s domain.SecurityGroupInterface) error {
			if s.Name == "" {
				return fmt.Errorf("security group interface %d has no name", s.ID)
			}
			if s.Policy == "" && !s.MarkedForDeletion {
				return fmt.Errorf("security group interface %q has no policy", s.Name)
			}
			return nil
		},
	}
}

func (c *SecurityGroupInterfacesCheck) builder(vs *domain.VirtualSystem) Builder[domain.SecurityGroupInterface, domain.ManagerInterface] {
	d := c.deps
	tx := func(t job.Task) job.Task { return job.Transactional(t, d.Txer) }
	return Builder[domain.SecurityGroupInterface, domain.ManagerInterface]{
		Create: func(s domain.SecurityGroupInterface) job.Task { return tx(CreateSGI(vs, s, d)) },
		Update: func(s domain.SecurityGroupInterface, m domain.ManagerInterface) job.Task {
			return tx(UpdateSGI(vs, s, m, d))
		},
		Delete: func(m domain.ManagerInterface) job.Task { return tx(DeleteSGI(vs, m, d)) },
		DeleteDesired: func(s domain.SecurityGroupInterface, m *domain.ManagerInterface) job.Task {
			return tx(DeleteLocalSGI(vs, s, m, d))
		},
	}
}
