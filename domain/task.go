package domain

import (
	"fmt"
	"time"
)

// Status is the lifecycle state of a task. The set is closed; unknown values
// are rejected at the boundary by ParseStatus.
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
)

// ParseStatus validates a raw status string coming from the wire.
func ParseStatus(s string) (Status, error) {
	switch Status(s) {
	case StatusPending, StatusInProgress, StatusCompleted:
		return Status(s), nil
	}
	return "", fmt.Errorf("unknown status %q", s)
}

// Priority of a task.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

// ParsePriority validates a raw priority string coming from the wire.
func ParsePriority(s string) (Priority, error) {
	switch Priority(s) {
	case PriorityLow, PriorityMedium, PriorityHigh:
		return Priority(s), nil
	}
	return "", fmt.Errorf("unknown priority %q", s)
}

// Assignee is a user a task is assigned to.
type Assignee struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Task represents a single tracked work item.
type Task struct {
	ID           string     `json:"id"`
	Title        string     `json:"title"`
	Description  string     `json:"description,omitempty"`
	Priority     Priority   `json:"priority"`
	Status       Status     `json:"status"`
	Assignees    []Assignee `json:"assignees"`
	StartDate    time.Time  `json:"startDate"`
	DueDate      time.Time  `json:"dueDate"`
	Dependencies []string   `json:"dependencies,omitempty"`
}

// Validate checks the closed enumerations and rejects self-dependency.
func (t Task) Validate() error {
	if _, err := ParseStatus(string(t.Status)); err != nil {
		return err
	}
	if _, err := ParsePriority(string(t.Priority)); err != nil {
		return err
	}
	for _, dep := range t.Dependencies {
		if dep == t.ID {
			return fmt.Errorf("task %s depends on itself", t.ID)
		}
	}
	return nil
}

// Project groups tasks under a single scope key.
type Project struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	StartDate   time.Time `json:"startDate"`
	EndDate     time.Time `json:"endDate"`
	Status      Status    `json:"status"`
	Tasks       []Task    `json:"tasks,omitempty"`
}

// TaskChanges carries a partial field set for a point update. Nil fields are
// left untouched by the merge.
type TaskChanges struct {
	Title       *string   `json:"title,omitempty"`
	Description *string   `json:"description,omitempty"`
	Priority    *Priority `json:"priority,omitempty"`
	Status      *Status   `json:"status,omitempty"`
}

// Merge applies the non-nil fields of c to a copy of t.
func (c TaskChanges) Merge(t Task) Task {
	if c.Title != nil {
		t.Title = *c.Title
	}
	if c.Description != nil {
		t.Description = *c.Description
	}
	if c.Priority != nil {
		t.Priority = *c.Priority
	}
	if c.Status != nil {
		t.Status = *c.Status
	}
	return t
}

// IsZero reports whether the change set carries no fields.
func (c TaskChanges) IsZero() bool {
	return c.Title == nil && c.Description == nil && c.Priority == nil && c.Status == nil
}
