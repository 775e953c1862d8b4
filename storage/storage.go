package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"

	"task-sync/domain"
)

// ErrNotFound is returned when an addressed entity does not exist.
var ErrNotFound = errors.New("entity not found")

// Storage wraps the Azure Table clients holding server truth for tasks and
// notifications. Tasks partition by scope key, notifications by user id.
type Storage struct {
	taskTable         *aztables.Client
	notificationTable *aztables.Client
}

// New creates a Storage from a connection string and table names.
func New(connStr, tasksTable, notificationsTable string) (*Storage, error) {
	svc, err := aztables.NewServiceClientFromConnectionString(connStr, nil)
	if err != nil {
		return nil, err
	}
	return &Storage{
		taskTable:         svc.NewClient(tasksTable),
		notificationTable: svc.NewClient(notificationsTable),
	}, nil
}

type taskEntity struct {
	aztables.Entity
	Title        string `json:"Title"`
	Description  string `json:"Description"`
	Priority     string `json:"Priority"`
	Status       string `json:"Status"`
	Assignees    string `json:"Assignees"` // JSON-encoded []domain.Assignee
	StartDate    string `json:"StartDate"`
	DueDate      string `json:"DueDate"`
	Dependencies string `json:"Dependencies"` // JSON-encoded []string
}

func taskFromEntity(ent taskEntity) (domain.Task, error) {
	status, err := domain.ParseStatus(ent.Status)
	if err != nil {
		return domain.Task{}, fmt.Errorf("task %s: %w", ent.RowKey, err)
	}
	priority, err := domain.ParsePriority(ent.Priority)
	if err != nil {
		return domain.Task{}, fmt.Errorf("task %s: %w", ent.RowKey, err)
	}
	t := domain.Task{
		ID:       ent.RowKey,
		Title:    ent.Title,
		Status:   status,
		Priority: priority,
	}
	t.Description = ent.Description
	if ent.Assignees != "" {
		if err := json.Unmarshal([]byte(ent.Assignees), &t.Assignees); err != nil {
			return domain.Task{}, fmt.Errorf("task %s assignees: %w", ent.RowKey, err)
		}
	}
	if ent.Dependencies != "" {
		if err := json.Unmarshal([]byte(ent.Dependencies), &t.Dependencies); err != nil {
			return domain.Task{}, fmt.Errorf("task %s dependencies: %w", ent.RowKey, err)
		}
	}
	if ent.StartDate != "" {
		if t.StartDate, err = time.Parse(time.RFC3339, ent.StartDate); err != nil {
			return domain.Task{}, fmt.Errorf("task %s start date: %w", ent.RowKey, err)
		}
	}
	if ent.DueDate != "" {
		if t.DueDate, err = time.Parse(time.RFC3339, ent.DueDate); err != nil {
			return domain.Task{}, fmt.Errorf("task %s due date: %w", ent.RowKey, err)
		}
	}
	return t, nil
}

func entityFromTask(scopeKey string, t domain.Task) (taskEntity, error) {
	assignees, err := json.Marshal(t.Assignees)
	if err != nil {
		return taskEntity{}, err
	}
	deps, err := json.Marshal(t.Dependencies)
	if err != nil {
		return taskEntity{}, err
	}
	ent := taskEntity{
		Entity:       aztables.Entity{PartitionKey: scopeKey, RowKey: t.ID},
		Title:        t.Title,
		Description:  t.Description,
		Priority:     string(t.Priority),
		Status:       string(t.Status),
		Assignees:    string(assignees),
		Dependencies: string(deps),
	}
	if !t.StartDate.IsZero() {
		ent.StartDate = t.StartDate.Format(time.RFC3339)
	}
	if !t.DueDate.IsZero() {
		ent.DueDate = t.DueDate.Format(time.RFC3339)
	}
	return ent, nil
}

// FetchTasks retrieves every task under the given scope key.
func (s *Storage) FetchTasks(ctx context.Context, scopeKey string) ([]domain.Task, error) {
	filter := "PartitionKey eq '" + scopeKey + "'"
	pager := s.taskTable.NewListEntitiesPager(&aztables.ListEntitiesOptions{Filter: &filter})
	tasks := []domain.Task{}
	for pager.More() {
		resp, err := pager.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, raw := range resp.Entities {
			var ent taskEntity
			if err := json.Unmarshal(raw, &ent); err != nil {
				return nil, err
			}
			t, err := taskFromEntity(ent)
			if err != nil {
				return nil, err
			}
			tasks = append(tasks, t)
		}
	}
	return tasks, nil
}

// CreateTask inserts a new task row. An existing id is rejected.
func (s *Storage) CreateTask(ctx context.Context, scopeKey string, t domain.Task) (domain.Task, error) {
	ent, err := entityFromTask(scopeKey, t)
	if err != nil {
		return domain.Task{}, err
	}
	payload, err := json.Marshal(ent)
	if err != nil {
		return domain.Task{}, err
	}
	if _, err := s.taskTable.AddEntity(ctx, payload, nil); err != nil {
		var respErr *azcore.ResponseError
		if errors.As(err, &respErr) && respErr.StatusCode == 409 {
			return domain.Task{}, fmt.Errorf("task %s already exists", t.ID)
		}
		return domain.Task{}, err
	}
	return t, nil
}

// UpdateTaskStatus merges the new status into the task row and returns the
// stored task as server truth.
func (s *Storage) UpdateTaskStatus(ctx context.Context, scopeKey, taskID string, status domain.Status) (domain.Task, error) {
	upd := map[string]any{
		"PartitionKey": scopeKey,
		"RowKey":       taskID,
		"Status":       string(status),
	}
	if err := s.mergeTask(ctx, upd); err != nil {
		return domain.Task{}, err
	}
	return s.getTask(ctx, scopeKey, taskID)
}

// UpdateTaskFields merges direct field edits into the task row and returns
// the stored task.
func (s *Storage) UpdateTaskFields(ctx context.Context, scopeKey, taskID string, changes domain.TaskChanges) (domain.Task, error) {
	upd := map[string]any{
		"PartitionKey": scopeKey,
		"RowKey":       taskID,
	}
	if changes.Title != nil {
		upd["Title"] = *changes.Title
	}
	if changes.Description != nil {
		upd["Description"] = *changes.Description
	}
	if changes.Priority != nil {
		upd["Priority"] = string(*changes.Priority)
	}
	if err := s.mergeTask(ctx, upd); err != nil {
		return domain.Task{}, err
	}
	return s.getTask(ctx, scopeKey, taskID)
}

func (s *Storage) mergeTask(ctx context.Context, upd map[string]any) error {
	payload, err := json.Marshal(upd)
	if err != nil {
		return err
	}
	et := azcore.ETagAny
	_, err = s.taskTable.UpdateEntity(ctx, payload, &aztables.UpdateEntityOptions{IfMatch: &et, UpdateMode: aztables.UpdateModeMerge})
	if err != nil {
		var respErr *azcore.ResponseError
		if errors.As(err, &respErr) && respErr.StatusCode == 404 {
			return ErrNotFound
		}
	}
	return err
}

func (s *Storage) getTask(ctx context.Context, scopeKey, taskID string) (domain.Task, error) {
	resp, err := s.taskTable.GetEntity(ctx, scopeKey, taskID, nil)
	if err != nil {
		var respErr *azcore.ResponseError
		if errors.As(err, &respErr) && respErr.StatusCode == 404 {
			return domain.Task{}, ErrNotFound
		}
		return domain.Task{}, err
	}
	var ent taskEntity
	if err := json.Unmarshal(resp.Value, &ent); err != nil {
		return domain.Task{}, err
	}
	return taskFromEntity(ent)
}

// DeleteTask removes a task row.
func (s *Storage) DeleteTask(ctx context.Context, scopeKey, taskID string) error {
	_, err := s.taskTable.DeleteEntity(ctx, scopeKey, taskID, nil)
	if err != nil {
		var respErr *azcore.ResponseError
		if errors.As(err, &respErr) && respErr.StatusCode == 404 {
			return ErrNotFound
		}
	}
	return err
}

type notificationEntity struct {
	aztables.Entity
	Title     string `json:"Title"`
	Message   string `json:"Message"`
	IsRead    bool   `json:"IsRead"`
	CreatedAt string `json:"CreatedAt"`
	TaskID    string `json:"TaskId"`
}

// FetchNotifications retrieves every notification for a user.
func (s *Storage) FetchNotifications(ctx context.Context, userID string) ([]domain.Notification, error) {
	filter := "PartitionKey eq '" + userID + "'"
	pager := s.notificationTable.NewListEntitiesPager(&aztables.ListEntitiesOptions{Filter: &filter})
	ns := []domain.Notification{}
	for pager.More() {
		resp, err := pager.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, raw := range resp.Entities {
			var ent notificationEntity
			if err := json.Unmarshal(raw, &ent); err != nil {
				return nil, err
			}
			n := domain.Notification{
				ID:      ent.RowKey,
				Title:   ent.Title,
				Message: ent.Message,
				IsRead:  ent.IsRead,
				TaskID:  ent.TaskID,
			}
			if ent.CreatedAt != "" {
				if n.CreatedAt, err = time.Parse(time.RFC3339, ent.CreatedAt); err != nil {
					return nil, fmt.Errorf("notification %s created at: %w", ent.RowKey, err)
				}
			}
			ns = append(ns, n)
		}
	}
	return ns, nil
}

// InsertNotification persists a notification so later fetches include it.
func (s *Storage) InsertNotification(ctx context.Context, userID string, n domain.Notification) error {
	ent := notificationEntity{
		Entity:  aztables.Entity{PartitionKey: userID, RowKey: n.ID},
		Title:   n.Title,
		Message: n.Message,
		IsRead:  n.IsRead,
		TaskID:  n.TaskID,
	}
	if !n.CreatedAt.IsZero() {
		ent.CreatedAt = n.CreatedAt.UTC().Format(time.RFC3339)
	}
	payload, err := json.Marshal(ent)
	if err != nil {
		return err
	}
	_, err = s.notificationTable.UpsertEntity(ctx, payload, nil)
	return err
}

// MarkNotificationRead merges the read flag into one notification row.
func (s *Storage) MarkNotificationRead(ctx context.Context, userID, id string) error {
	upd := map[string]any{
		"PartitionKey": userID,
		"RowKey":       id,
		"IsRead":       true,
	}
	payload, err := json.Marshal(upd)
	if err != nil {
		return err
	}
	et := azcore.ETagAny
	_, err = s.notificationTable.UpdateEntity(ctx, payload, &aztables.UpdateEntityOptions{IfMatch: &et, UpdateMode: aztables.UpdateModeMerge})
	if err != nil {
		var respErr *azcore.ResponseError
		if errors.As(err, &respErr) && respErr.StatusCode == 404 {
			return ErrNotFound
		}
	}
	return err
}

// MarkAllNotificationsRead flips the read flag on every unread row for the
// user. Rows that vanish mid-walk are skipped.
func (s *Storage) MarkAllNotificationsRead(ctx context.Context, userID string) error {
	ns, err := s.FetchNotifications(ctx, userID)
	if err != nil {
		return err
	}
	for _, n := range ns {
		if n.IsRead {
			continue
		}
		if err := s.MarkNotificationRead(ctx, userID, n.ID); err != nil && !errors.Is(err, ErrNotFound) {
			return err
		}
	}
	return nil
}
