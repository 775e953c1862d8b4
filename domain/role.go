package domain

import "fmt"

// Role is the permission class of an actor. It gates which status
// transitions the actor may perform.
type Role string

const (
	RoleAdmin   Role = "admin"
	RoleManager Role = "manager"
	RoleMember  Role = "member"
)

// ParseRole validates a raw role string coming from the wire.
func ParseRole(s string) (Role, error) {
	switch Role(s) {
	case RoleAdmin, RoleManager, RoleMember:
		return Role(s), nil
	}
	return "", fmt.Errorf("unknown role %q", s)
}

// CanEditFields reports whether the role may edit task fields directly
// (title, description, priority). Members may only move status.
func (r Role) CanEditFields() bool {
	return r == RoleAdmin || r == RoleManager
}

// transitionPolicy maps (role, current status) to the statuses the actor may
// move the task to. Admins and managers may move a task between any two
// distinct statuses; members walk the happy path forward only.
var transitionPolicy = map[Role]map[Status][]Status{
	RoleAdmin: {
		StatusPending:    {StatusInProgress, StatusCompleted},
		StatusInProgress: {StatusPending, StatusCompleted},
		StatusCompleted:  {StatusPending, StatusInProgress},
	},
	RoleManager: {
		StatusPending:    {StatusInProgress, StatusCompleted},
		StatusInProgress: {StatusPending, StatusCompleted},
		StatusCompleted:  {StatusPending, StatusInProgress},
	},
	RoleMember: {
		StatusPending:    {StatusInProgress},
		StatusInProgress: {StatusCompleted},
		StatusCompleted:  {},
	},
}

// AllowedTransitions returns the statuses role may move a task in current to.
// The function is total: unknown roles or statuses yield nil, never an error.
func AllowedTransitions(role Role, current Status) []Status {
	byStatus, ok := transitionPolicy[role]
	if !ok {
		return nil
	}
	next, ok := byStatus[current]
	if !ok {
		return nil
	}
	return next
}

// CanTransition reports whether role may move a task from one status to
// another under the policy table.
func CanTransition(role Role, from, to Status) bool {
	for _, s := range AllowedTransitions(role, from) {
		if s == to {
			return true
		}
	}
	return false
}
