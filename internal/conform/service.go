package conform

import (
	"context"
	"errors"
	"fmt"

	"github.com/hashicorp/go-multierror"
	"go.uber.org/zap"

	"github.com/secfleet/secfleet/internal/domain"
	"github.com/secfleet/secfleet/internal/job"
)

// Service submits conformance jobs for virtual systems.
type Service struct {
	engine  *job.Engine
	deps    *Deps
	records domain.JobRecordStore
	log     *zap.Logger
}

// NewService creates a service submitting to engine. Completed jobs are
// saved to records when it is not nil.
func NewService(engine *job.Engine, deps *Deps, records domain.JobRecordStore) *Service {
	return &Service{engine: engine, deps: deps, records: records, log: deps.logger().Named("conform")}
}

// Graph builds the conformance graph of vs: the interfaces check, then a
// step recording the job as the virtual system's last one, which runs
// whatever the outcome of the check. The job then drops its virtual system
// lock to READ and verifies that both sides agree.
//
// The check only reads, so it runs outside a transaction and the remote
// listing never holds a store connection. Each corrective task and the
// bookkeeping step commit on their own.
func (s *Service) Graph(vs *domain.VirtualSystem) (*job.TaskGraph, error) {
	tg := job.NewTaskGraph()
	if err := tg.AddTask(NewSecurityGroupInterfacesCheck(vs, s.deps)); err != nil {
		return nil, err
	}

	vsID := vs.ID
	mark := job.Func(
		fmt.Sprintf("Mark Last Job (Virtual System '%s')", vs.Name),
		[]domain.LockObjectReference{vs.LockRef()},
		func(ctx context.Context) error {
			j, ok := job.FromContext(ctx)
			if !ok {
				return errors.New("not running in a job")
			}
			return s.deps.Store.SetLastJob(ctx, vsID, j.ID())
		},
	)
	if err := tg.AppendTask(job.Transactional(mark, s.deps.Txer), job.GuardAllPredecessorsCompleted); err != nil {
		return nil, err
	}
	if err := tg.AppendTask(job.Downgrade(vs.LockRef()), job.GuardAllPredecessorsCompleted); err != nil {
		return nil, err
	}
	if err := tg.AppendTask(NewSecurityGroupInterfacesVerify(vs, s.deps), job.GuardAllAncestorsSucceeded); err != nil {
		return nil, err
	}
	return tg, nil
}

// prepare loads the virtual system id and builds its job.
func (s *Service) prepare(ctx context.Context, id int64) (*domain.VirtualSystem, *job.TaskGraph, []job.SubmitOption, error) {
	vs, err := s.deps.Store.GetVirtualSystem(ctx, id, false)
	if err != nil {
		return nil, nil, nil, err
	}
	tg, err := s.Graph(vs)
	if err != nil {
		return nil, nil, nil, err
	}
	var opts []job.SubmitOption
	if s.records != nil {
		opts = append(opts, job.WithJobListener(job.RecordTo(s.records, s.log)))
	}
	return vs, tg, opts, nil
}

func jobName(vs *domain.VirtualSystem) string {
	return fmt.Sprintf("Virtual System '%s' Conformance", vs.Name)
}

// SyncVirtualSystem submits a conformance job for the virtual system id
// and returns without waiting for it.
func (s *Service) SyncVirtualSystem(ctx context.Context, id int64) (*job.Job, error) {
	vs, tg, opts, err := s.prepare(ctx, id)
	if err != nil {
		return nil, err
	}
	j, err := s.engine.Submit(ctx, jobName(vs), tg, opts...)
	if err != nil {
		return nil, err
	}
	s.log.Info("conformance submitted", zap.Int64("virtual_system_id", vs.ID), zap.Int64("job_id", j.ID()))
	return j, nil
}

// SyncAll submits a conformance job for every virtual system. Systems that
// fail to submit do not stop the others; their errors are combined.
func (s *Service) SyncAll(ctx context.Context) ([]*job.Job, error) {
	systems, err := s.deps.Store.ListVirtualSystems(ctx)
	if err != nil {
		return nil, err
	}
	var (
		jobs   []*job.Job
		result *multierror.Error
	)
	for _, vs := range systems {
		j, err := s.SyncVirtualSystem(ctx, vs.ID)
		if err != nil {
			result = multierror.Append(result, fmt.Errorf("virtual system %q: %w", vs.Name, err))
			continue
		}
		jobs = append(jobs, j)
	}
	return jobs, result.ErrorOrNil()
}

// QueueAll puts a conformance job for every virtual system on q, which
// runs them one after another. Errors are combined as in SyncAll.
func (s *Service) QueueAll(ctx context.Context, q *job.Queuer) ([]*job.Queued, error) {
	systems, err := s.deps.Store.ListVirtualSystems(ctx)
	if err != nil {
		return nil, err
	}
	var (
		queued []*job.Queued
		result *multierror.Error
	)
	for _, sys := range systems {
		vs, tg, opts, err := s.prepare(ctx, sys.ID)
		if err == nil {
			var item *job.Queued
			if item, err = q.Put(ctx, jobName(vs), tg, opts...); err == nil {
				queued = append(queued, item)
				continue
			}
		}
		result = multierror.Append(result, fmt.Errorf("virtual system %q: %w", sys.Name, err))
	}
	s.log.Debug("conformance queued", zap.Int("jobs", len(queued)))
	return queued, result.ErrorOrNil()
}
