package domain

import "time"

// Notification is a user-facing record of a task lifecycle event. Once
// IsRead flips true it never reverts through normal flow.
type Notification struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Message   string    `json:"message"`
	IsRead    bool      `json:"is_read"`
	CreatedAt time.Time `json:"createdAt"`
	TaskID    string    `json:"taskId,omitempty"`
}
