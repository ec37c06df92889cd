// Package conform converges persisted desired state with what remote
// systems report. Reconcile is the generic diff; the concrete checks in
// this package turn its plan into corrective task graphs.
package conform

import (
	"fmt"

	"github.com/secfleet/secfleet/internal/domain"
	"github.com/secfleet/secfleet/internal/job"
)

// Matcher tells Reconcile how to identify desired elements D and observed
// elements O. DesiredRemoteID, DesiredName, ObservedID and ObservedName
// are required.
type Matcher[D, O any] struct {
	DesiredRemoteID func(D) string
	DesiredName     func(D) string
	ObservedID      func(O) string
	ObservedName    func(O) string

	// MarkedForDeletion reports desired elements that should go away.
	MarkedForDeletion func(D) bool
	// InSync reports a matched pair that needs no update.
	InSync func(D, O) bool
	// Validate rejects bad desired state before anything is planned.
	Validate func(D) error
}

// Builder creates the corrective tasks. Create, Update and Delete are
// required.
type Builder[D, O any] struct {
	Create func(D) job.Task
	Update func(D, O) job.Task
	Delete func(O) job.Task

	// DeleteDesired handles a desired element marked for deletion. o is
	// the matched observed element, nil when nothing matched. Without it,
	// a matched element is deleted through Delete and an unmatched one is
	// ignored.
	DeleteDesired func(d D, o *O) job.Task
	// CreateTargetID returns the remote id a create will produce, when it
	// is known in advance. A delete of the same id runs before the create.
	CreateTargetID func(D) string
}

// Plan is the outcome of a diff.
type Plan struct {
	Creates []job.Task
	Updates []job.Task
	Deletes []job.Task

	after map[job.Task]job.Task // create -> delete it must follow
}

// IsEmpty reports whether nothing needs to change.
func (p *Plan) IsEmpty() bool { return p.Len() == 0 }

// Len is the number of corrective tasks.
func (p *Plan) Len() int { return len(p.Creates) + len(p.Updates) + len(p.Deletes) }

// After returns the delete a create is sequenced behind, if any.
func (p *Plan) After(create job.Task) (job.Task, bool) {
	d, ok := p.after[create]
	return d, ok
}

// Graph returns the plan as independent tasks: deletes first, then
// creates, then updates. A create that reuses a deleted remote id follows
// that delete.
func (p *Plan) Graph() (*job.TaskGraph, error) {
	tg := job.NewTaskGraph()
	for _, t := range p.Deletes {
		if err := tg.AddTask(t); err != nil {
			return nil, err
		}
	}
	for _, t := range p.Creates {
		var preds []job.Task
		if d, ok := p.after[t]; ok {
			preds = append(preds, d)
		}
		if err := tg.AddTask(t, preds...); err != nil {
			return nil, err
		}
	}
	for _, t := range p.Updates {
		if err := tg.AddTask(t); err != nil {
			return nil, err
		}
	}
	return tg, nil
}

// Diff matches desired against observed and plans the corrective tasks.
//
// Elements match by remote id first. A desired element whose id is empty
// or unknown to the remote falls back to matching by name, which picks up
// objects created remotely whose id was never persisted. Each observed
// element matches at most once and id matches win over name matches.
func Diff[D, O any](desired []D, observed []O, m Matcher[D, O], b Builder[D, O]) (*Plan, error) {
	if err := validate(desired, m); err != nil {
		return nil, err
	}

	byID := make(map[string]int, len(observed))
	byName := make(map[string][]int, len(observed))
	for i, o := range observed {
		if id := m.ObservedID(o); id != "" {
			if _, dup := byID[id]; !dup {
				byID[id] = i
			}
		}
		name := m.ObservedName(o)
		byName[name] = append(byName[name], i)
	}

	taken := make([]bool, len(observed))
	match := make([]int, len(desired))
	for i, d := range desired {
		match[i] = -1
		if id := m.DesiredRemoteID(d); id != "" {
			if j, ok := byID[id]; ok && !taken[j] {
				match[i], taken[j] = j, true
			}
		}
	}
	for i, d := range desired {
		if match[i] >= 0 {
			continue
		}
		for _, j := range byName[m.DesiredName(d)] {
			if !taken[j] {
				match[i], taken[j] = j, true
				break
			}
		}
	}

	p := &Plan{after: make(map[job.Task]job.Task)}
	deleted := make(map[string]job.Task)
	var pendingCreates []D
	var createTasks []job.Task

	for i, d := range desired {
		var o *O
		if match[i] >= 0 {
			o = &observed[match[i]]
		}
		switch {
		case m.MarkedForDeletion != nil && m.MarkedForDeletion(d):
			var t job.Task
			switch {
			case b.DeleteDesired != nil:
				t = b.DeleteDesired(d, o)
			case o != nil:
				t = b.Delete(*o)
			}
			if t != nil {
				p.Deletes = append(p.Deletes, t)
				if o != nil {
					deleted[m.ObservedID(*o)] = t
				}
			}
		case o == nil:
			t := b.Create(d)
			createTasks = append(createTasks, t)
			pendingCreates = append(pendingCreates, d)
		case m.InSync != nil && m.InSync(d, *o):
			// in sync
		default:
			p.Updates = append(p.Updates, b.Update(d, *o))
		}
	}
	for j, o := range observed {
		if taken[j] {
			continue
		}
		t := b.Delete(o)
		p.Deletes = append(p.Deletes, t)
		deleted[m.ObservedID(o)] = t
	}

	p.Creates = createTasks
	if b.CreateTargetID != nil {
		for i, d := range pendingCreates {
			id := b.CreateTargetID(d)
			if id == "" {
				continue
			}
			if del, ok := deleted[id]; ok {
				p.after[createTasks[i]] = del
			}
		}
	}
	return p, nil
}

// Reconcile diffs desired against observed and returns the corrective
// graph. An empty graph means desired and observed already agree.
func Reconcile[D, O any](desired []D, observed []O, m Matcher[D, O], b Builder[D, O]) (*job.TaskGraph, error) {
	p, err := Diff(desired, observed, m, b)
	if err != nil {
		return nil, err
	}
	return p.Graph()
}

func validate[D, O any](desired []D, m Matcher[D, O]) error {
	unbound := make(map[string]bool)
	for _, d := range desired {
		if m.Validate != nil {
			if err := m.Validate(d); err != nil {
				return fmt.Errorf("%w: %w", domain.ErrValidation, err)
			}
		}
		if m.DesiredRemoteID(d) != "" {
			continue
		}
		name := m.DesiredName(d)
		if unbound[name] {
			return fmt.Errorf("%w: duplicate name %q without remote id", domain.ErrValidation, name)
		}
		unbound[name] = true
	}
	return nil
}
