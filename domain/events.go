package domain

import "github.com/bytedance/sonic"

// Event kinds pushed over the realtime channel.
const (
	TaskCreated = "taskCreated"
	TaskUpdated = "taskUpdated"
)

// Event is a task lifecycle event as it arrives from the push channel. Data
// carries the task snapshot; the bridge forwards it without interpreting
// business meaning.
type Event struct {
	Type      string                 `json:"type"`
	UserID    string                 `json:"userId"`
	Scope     string                 `json:"scope,omitempty"`
	Timestamp int64                  `json:"timestamp"`
	Data      sonic.NoCopyRawMessage `json:"data"`
}

// TaskSnapshot decodes the task payload of the event. Status and priority
// values are validated here so unrecognized strings are rejected at the
// boundary rather than deep in cache logic.
func (ev Event) TaskSnapshot() (Task, error) {
	var t Task
	if err := sonic.ConfigStd.Unmarshal(ev.Data, &t); err != nil {
		return Task{}, err
	}
	if _, err := ParseStatus(string(t.Status)); err != nil {
		return Task{}, err
	}
	if t.Priority != "" {
		if _, err := ParsePriority(string(t.Priority)); err != nil {
			return Task{}, err
		}
	}
	return t, nil
}
