package domain

// VirtualSystem is one appliance deployment attached to an appliance manager.
type VirtualSystem struct {
	ID         int64  `json:"id"`
	Name       string `json:"name"`
	ManagerURL string `json:"manager_url"`
	LastJobID  int64  `json:"last_job_id,omitempty"`
}

// LockRef returns the lock reference for the virtual system.
func (vs *VirtualSystem) LockRef() LockObjectReference {
	return LockObjectReference{Type: ObjectVirtualSystem, ID: vs.ID, Name: vs.Name}
}

// SecurityGroupInterface is the desired binding of a security group to an
// appliance policy. RemoteID is the manager's id once the binding was
// created remotely and the id persisted.
type SecurityGroupInterface struct {
	ID                int64  `json:"id"`
	VirtualSystemID   int64  `json:"virtual_system_id"`
	Name              string `json:"name"`
	Tag               string `json:"tag"`
	Policy            string `json:"policy"`
	RemoteID          string `json:"remote_id,omitempty"`
	MarkedForDeletion bool   `json:"marked_for_deletion"`
}

// LockRef returns the lock reference for the interface.
func (s *SecurityGroupInterface) LockRef() LockObjectReference {
	return LockObjectReference{Type: ObjectSecurityGroupInterface, ID: s.ID, Name: s.Name}
}

// ManagerInterface is what the appliance manager reports for one interface.
type ManagerInterface struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Tag    string `json:"tag"`
	Policy string `json:"policy"`
}

// InterfaceSpec is the payload sent to the manager on create and update.
type InterfaceSpec struct {
	Name   string `json:"name"`
	Tag    string `json:"tag"`
	Policy string `json:"policy"`
}

// Spec returns the manager payload for the desired interface.
func (s *SecurityGroupInterface) Spec() InterfaceSpec {
	return InterfaceSpec{Name: s.Name, Tag: s.Tag, Policy: s.Policy}
}

// Matches reports whether the manager already holds the desired state.
func (s *SecurityGroupInterface) Matches(m ManagerInterface) bool {
	return s.RemoteID == m.ID && s.Name == m.Name && s.Tag == m.Tag && s.Policy == m.Policy
}

// EventOp is the kind of change a broadcast event reports.
type EventOp string

const (
	EventAdded   EventOp = "ADDED"
	EventUpdated EventOp = "UPDATED"
	EventDeleted EventOp = "DELETED"
)

// Event informs observers that a persisted entity changed.
type Event struct {
	Op     EventOp    `json:"op"`
	Object ObjectType `json:"object"`
	ID     int64      `json:"id"`
}
