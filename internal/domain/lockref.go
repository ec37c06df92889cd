package domain

import (
	"cmp"
	"fmt"
	"slices"
)

// ObjectType names the kind of entity a lock reference points at.
type ObjectType string

const (
	ObjectVirtualSystem           ObjectType = "VIRTUAL_SYSTEM"
	ObjectSecurityGroupInterface  ObjectType = "SECURITY_GROUP_INTERFACE"
	ObjectApplianceManager        ObjectType = "APPLIANCE_MANAGER_CONNECTOR"
	ObjectDistributedAppliance    ObjectType = "DISTRIBUTED_APPLIANCE"
	ObjectVirtualizationConnector ObjectType = "VIRTUALIZATION_CONNECTOR"
	ObjectJob                     ObjectType = "JOB"
)

// LockObjectReference identifies a domain object a task reads or mutates.
// Two references are the same object when Type and ID match; Name is only
// for display.
type LockObjectReference struct {
	Type ObjectType `json:"type"`
	ID   int64      `json:"id"`
	Name string     `json:"name"`
}

// LockKey is the (type, id) identity of a reference.
type LockKey struct {
	Type ObjectType
	ID   int64
}

func (r LockObjectReference) Key() LockKey { return LockKey{Type: r.Type, ID: r.ID} }

// Same reports whether both references point at the same object.
func (r LockObjectReference) Same(o LockObjectReference) bool { return r.Key() == o.Key() }

func (r LockObjectReference) String() string {
	if r.Name == "" {
		return fmt.Sprintf("%s(%d)", r.Type, r.ID)
	}
	return fmt.Sprintf("%s(%d %q)", r.Type, r.ID, r.Name)
}

// CompareLockRefs orders references canonically by (type, id).
func CompareLockRefs(a, b LockObjectReference) int {
	if c := cmp.Compare(a.Type, b.Type); c != 0 {
		return c
	}
	return cmp.Compare(a.ID, b.ID)
}

// SortLockRefs returns the references deduplicated by (type, id) and sorted
// canonically. The first display name seen for an object wins.
func SortLockRefs(refs []LockObjectReference) []LockObjectReference {
	seen := make(map[LockKey]bool, len(refs))
	out := make([]LockObjectReference, 0, len(refs))
	for _, r := range refs {
		if seen[r.Key()] {
			continue
		}
		seen[r.Key()] = true
		out = append(out, r)
	}
	slices.SortFunc(out, CompareLockRefs)
	return out
}
