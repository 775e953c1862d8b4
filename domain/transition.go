package domain

import (
	"errors"
	"fmt"
)

// ErrEditForbidden marks direct field edits by a role that lacks the edit
// permission.
var ErrEditForbidden = errors.New("edit not permitted")

// ErrStatusEdit marks an attempt to change status through a field edit.
var ErrStatusEdit = errors.New("status changes require a transition")

// TransitionError reports a status transition the actor's role does not
// permit. It is a local validation result; callers must not issue the
// network mutation when it fires.
type TransitionError struct {
	Role Role
	From Status
	To   Status
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("role %s may not move task from %s to %s", e.Role, e.From, e.To)
}

// AttemptTransition validates target against the role policy and returns a
// copy of task with the new status. The input task is never mutated.
// Transitioning to the current status always fails: no status is a member of
// its own allowed set, which keeps no-op mutations off the wire.
func AttemptTransition(task Task, role Role, target Status) (Task, error) {
	if !CanTransition(role, task.Status, target) {
		return Task{}, &TransitionError{Role: role, From: task.Status, To: target}
	}
	task.Status = target
	return task, nil
}

// ApplyEdit merges direct field edits into a copy of task. Edits are gated
// by a coarse role check; status changes must go through AttemptTransition
// instead.
func ApplyEdit(task Task, role Role, changes TaskChanges) (Task, error) {
	if !role.CanEditFields() {
		return Task{}, fmt.Errorf("%w: role %s", ErrEditForbidden, role)
	}
	if changes.Status != nil {
		return Task{}, ErrStatusEdit
	}
	return changes.Merge(task), nil
}
