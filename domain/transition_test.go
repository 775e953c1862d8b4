package domain

import (
	"errors"
	"testing"
)

func ptrString(s string) *string     { return &s }
func ptrPriority(p Priority) *Priority { return &p }
func ptrStatus(s Status) *Status     { return &s }

func TestAttemptTransitionMemberCannotSkipInProgress(t *testing.T) {
	task := Task{ID: "t1", Title: "write report", Status: StatusPending}
	_, err := AttemptTransition(task, RoleMember, StatusCompleted)
	var te *TransitionError
	if !errors.As(err, &te) {
		t.Fatalf("expected TransitionError, got %v", err)
	}
	if te.Role != RoleMember || te.From != StatusPending || te.To != StatusCompleted {
		t.Fatalf("unexpected error detail: %#v", te)
	}
}

func TestAttemptTransitionAdminReopens(t *testing.T) {
	task := Task{ID: "t1", Status: StatusInProgress, Title: "audit"}
	got, err := AttemptTransition(task, RoleAdmin, StatusPending)
	if err != nil {
		t.Fatalf("transition: %v", err)
	}
	if got.Status != StatusPending {
		t.Fatalf("unexpected status: %s", got.Status)
	}
	if task.Status != StatusInProgress {
		t.Fatal("input task was mutated")
	}
	if got.Title != task.Title || got.ID != task.ID {
		t.Fatalf("unrelated fields changed: %#v", got)
	}
}

func TestAttemptTransitionRejectsCurrentStatus(t *testing.T) {
	for _, role := range []Role{RoleAdmin, RoleManager, RoleMember} {
		for _, st := range []Status{StatusPending, StatusInProgress, StatusCompleted} {
			task := Task{ID: "t1", Status: st}
			if _, err := AttemptTransition(task, role, st); err == nil {
				t.Fatalf("self-transition succeeded for %s on %s", role, st)
			}
		}
	}
}

func TestApplyEditGatedByRole(t *testing.T) {
	task := Task{ID: "t1", Title: "old", Priority: PriorityLow, Status: StatusPending}
	changes := TaskChanges{Title: ptrString("new"), Priority: ptrPriority(PriorityHigh)}

	if _, err := ApplyEdit(task, RoleMember, changes); err == nil {
		t.Fatal("member edit should be rejected")
	}

	got, err := ApplyEdit(task, RoleManager, changes)
	if err != nil {
		t.Fatalf("manager edit: %v", err)
	}
	if got.Title != "new" || got.Priority != PriorityHigh {
		t.Fatalf("changes not applied: %#v", got)
	}
	if got.Status != StatusPending {
		t.Fatalf("status changed by edit: %s", got.Status)
	}
}

func TestApplyEditRefusesStatusChange(t *testing.T) {
	task := Task{ID: "t1", Status: StatusPending}
	if _, err := ApplyEdit(task, RoleAdmin, TaskChanges{Status: ptrStatus(StatusCompleted)}); err == nil {
		t.Fatal("status change through edit should be rejected")
	}
}

func TestTaskValidate(t *testing.T) {
	task := Task{ID: "t1", Title: "x", Priority: PriorityMedium, Status: StatusPending}
	if err := task.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
	task.Status = "archived"
	if err := task.Validate(); err == nil {
		t.Fatal("expected error for unknown status")
	}
	task.Status = StatusPending
	task.Dependencies = []string{"t1"}
	if err := task.Validate(); err == nil {
		t.Fatal("expected error for self-dependency")
	}
}
