package job

import (
	"context"
	"sync"
)

// Queuer submits jobs to an engine one at a time: each queued graph is only
// submitted once the previous job completed.
type Queuer struct {
	engine *Engine
	queue  chan *Queued
	once   sync.Once
}

// Queued is a graph waiting in a Queuer.
type Queued struct {
	name  string
	graph *TaskGraph
	opts  []SubmitOption

	submitted chan struct{}
	job       *Job
	err       error
}

// Job blocks until the queued graph was submitted and returns its job, or
// the submission error.
func (q *Queued) Job(ctx context.Context) (*Job, error) {
	select {
	case <-q.submitted:
		return q.job, q.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// NewQueuer creates a queuer holding up to capacity waiting graphs.
func NewQueuer(e *Engine, capacity int) *Queuer {
	if capacity <= 0 {
		capacity = 64
	}
	return &Queuer{engine: e, queue: make(chan *Queued, capacity)}
}

// Put enqueues a graph. It blocks while the queue is full.
func (q *Queuer) Put(ctx context.Context, name string, tg *TaskGraph, opts ...SubmitOption) (*Queued, error) {
	item := &Queued{name: name, graph: tg, opts: opts, submitted: make(chan struct{})}
	select {
	case q.queue <- item:
		return item, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Run submits queued graphs in order until ctx ends. Items still queued
// then are failed with ctx's error.
func (q *Queuer) Run(ctx context.Context) {
	q.once.Do(func() { q.run(ctx) })
}

func (q *Queuer) run(ctx context.Context) {
	for {
		if err := ctx.Err(); err != nil {
			q.drain(err)
			return
		}
		select {
		case <-ctx.Done():
			q.drain(ctx.Err())
			return
		case item := <-q.queue:
			item.job, item.err = q.engine.Submit(ctx, item.name, item.graph, item.opts...)
			close(item.submitted)
			if item.err == nil {
				if err := item.job.Wait(ctx); err != nil {
					q.drain(err)
					return
				}
			}
		}
	}
}

func (q *Queuer) drain(err error) {
	for {
		select {
		case item := <-q.queue:
			item.err = err
			close(item.submitted)
		default:
			return
		}
	}
}
