package domain

import "testing"

// ─── LockObjectReference Tests ──────────────────────────────────────────────

func TestLockObjectReference_Same(t *testing.T) {
	a := LockObjectReference{Type: ObjectVirtualSystem, ID: 1, Name: "vs-a"}
	tests := []struct {
		name string
		b    LockObjectReference
		same bool
	}{
		{"identical", a, true},
		{"renamed", LockObjectReference{Type: ObjectVirtualSystem, ID: 1, Name: "other"}, true},
		{"other id", LockObjectReference{Type: ObjectVirtualSystem, ID: 2, Name: "vs-a"}, false},
		{"other type", LockObjectReference{Type: ObjectSecurityGroupInterface, ID: 1}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := a.Same(tt.b); got != tt.same {
				t.Errorf("Same() = %v, want %v", got, tt.same)
			}
		})
	}
}

func TestSortLockRefs(t *testing.T) {
	in := []LockObjectReference{
		{Type: ObjectVirtualSystem, ID: 5, Name: "five"},
		{Type: ObjectApplianceManager, ID: 9},
		{Type: ObjectVirtualSystem, ID: 1},
		{Type: ObjectVirtualSystem, ID: 5, Name: "dup"},
	}
	out := SortLockRefs(in)
	if len(out) != 3 {
		t.Fatalf("len = %d, want 3", len(out))
	}
	want := []LockKey{
		{ObjectApplianceManager, 9},
		{ObjectVirtualSystem, 1},
		{ObjectVirtualSystem, 5},
	}
	for i, k := range want {
		if out[i].Key() != k {
			t.Errorf("out[%d] = %v, want %v", i, out[i].Key(), k)
		}
	}
	if out[2].Name != "five" {
		t.Errorf("first name should win, got %q", out[2].Name)
	}
}

func TestTaskState_IsTerminal(t *testing.T) {
	tests := []struct {
		state    TaskState
		terminal bool
	}{
		{TaskPending, false},
		{TaskRunning, false},
		{TaskSucceeded, true},
		{TaskFailed, true},
		{TaskSkipped, true},
	}
	for _, tt := range tests {
		t.Run(string(tt.state), func(t *testing.T) {
			if got := tt.state.IsTerminal(); got != tt.terminal {
				t.Errorf("IsTerminal() = %v, want %v", got, tt.terminal)
			}
		})
	}
}

func TestSecurityGroupInterface_Matches(t *testing.T) {
	sgi := SecurityGroupInterface{Name: "web", Tag: "t1", Policy: "p1", RemoteID: "7"}
	if !sgi.Matches(ManagerInterface{ID: "7", Name: "web", Tag: "t1", Policy: "p1"}) {
		t.Error("expected match")
	}
	if sgi.Matches(ManagerInterface{ID: "7", Name: "web", Tag: "t2", Policy: "p1"}) {
		t.Error("tag drift should not match")
	}
	unbound := sgi
	unbound.RemoteID = ""
	if unbound.Matches(ManagerInterface{ID: "7", Name: "web", Tag: "t1", Policy: "p1"}) {
		t.Error("unbound id should not match")
	}
}
