package syncer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"task-sync/cache"
	"task-sync/domain"
)

// Backend is the server-truth collaborator for mutations and fetches.
type Backend interface {
	UpdateTaskStatus(ctx context.Context, scopeKey, taskID string, status domain.Status) (domain.Task, error)
	UpdateTaskFields(ctx context.Context, scopeKey, taskID string, changes domain.TaskChanges) (domain.Task, error)
	CreateTask(ctx context.Context, scopeKey string, task domain.Task) (domain.Task, error)
	DeleteTask(ctx context.Context, scopeKey, taskID string) error
	FetchNotifications(ctx context.Context, userID string) ([]domain.Notification, error)
	InsertNotification(ctx context.Context, userID string, n domain.Notification) error
	MarkNotificationRead(ctx context.Context, userID, id string) error
	MarkAllNotificationsRead(ctx context.Context, userID string) error
}

// Alerter surfaces ephemeral user-facing alerts (toasts).
type Alerter interface {
	Alert(userID, title, message string)
}

// ErrMutationFailed wraps backend rejections of a task mutation. The
// optimistic cache write has been reverted by the time it is returned.
var ErrMutationFailed = errors.New("task mutation failed")

// ErrUnknownTask is returned when an action targets a task that is not in
// the cache.
var ErrUnknownTask = errors.New("task not cached")

// Coordinator is the sole writer of the task and notification caches. It
// reconciles realtime events, user mutations, and server responses, in that
// order of arrival: a single event is handled atomically before the next.
type Coordinator struct {
	userID        string
	defaultScope  string
	tasks         *cache.TaskCache
	notifications *cache.NotificationCache
	backend       Backend
	alerter       Alerter

	mu    sync.Mutex
	now   func() time.Time
	newID func() string
}

// New creates a coordinator for one actor identity.
func New(userID, defaultScope string, tasks *cache.TaskCache, notifications *cache.NotificationCache, backend Backend, alerter Alerter) *Coordinator {
	return &Coordinator{
		userID:        userID,
		defaultScope:  defaultScope,
		tasks:         tasks,
		notifications: notifications,
		backend:       backend,
		alerter:       alerter,
		now:           time.Now,
		newID:         uuid.NewString,
	}
}

// Tasks serves the task list for a scope through the staleness guard.
func (c *Coordinator) Tasks(ctx context.Context, scopeKey string, force bool) ([]domain.Task, error) {
	if scopeKey == "" {
		scopeKey = c.defaultScope
	}
	return c.tasks.GetOrFetch(ctx, scopeKey, force)
}

// Notifications returns the current notification list, newest first.
func (c *Coordinator) Notifications() []domain.Notification {
	return c.notifications.Snapshot()
}

// UnreadExists reports whether any notification is unread.
func (c *Coordinator) UnreadExists() bool {
	return c.notifications.UnreadExists()
}

// HandleEvent reconciles one realtime event into both caches and surfaces an
// alert. The notification insert and the task cache write complete together
// before the next event is processed.
func (c *Coordinator) HandleEvent(ctx context.Context, ev domain.Event) error {
	task, err := ev.TaskSnapshot()
	if err != nil {
		log.WithError(err).WithField("type", ev.Type).Error("dropping undecodable event")
		return err
	}
	scope := ev.Scope
	if scope == "" {
		scope = c.defaultScope
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	switch ev.Type {
	case domain.TaskCreated:
		msg := fmt.Sprintf("You have been assigned a new task: %s", task.Title)
		c.insertNotification(ctx, "New Task Assigned", msg, task.ID)
		c.alert("New Task Assigned", msg)
		// The event carries the full snapshot, so merge directly instead of
		// forcing a re-fetch.
		c.tasks.Merge(scope, task)
	case domain.TaskUpdated:
		msg := fmt.Sprintf("The status of task %q has been updated to %q.", task.Title, task.Status)
		c.insertNotification(ctx, "Task status updated", msg, task.ID)
		c.alert("Task status updated", msg)
		status := task.Status
		if _, ok := c.tasks.ApplyPointUpdate(task.ID, domain.TaskChanges{Status: &status}); !ok {
			// The event outran the list fetch; merge the snapshot so the
			// task is not lost.
			c.tasks.Merge(scope, task)
		}
	default:
		log.WithField("type", ev.Type).Warn("ignoring unrecognized event")
	}
	return nil
}

func (c *Coordinator) insertNotification(ctx context.Context, title, message, taskID string) {
	n := domain.Notification{
		ID:        c.newID(),
		Title:     title,
		Message:   message,
		CreatedAt: c.now(),
		TaskID:    taskID,
	}
	c.notifications.Insert(n)
	// Persist best-effort so a later fetch sees it; the local copy stands
	// either way.
	if err := c.backend.InsertNotification(ctx, c.userID, n); err != nil {
		log.WithError(err).WithField("notification", n.ID).Warn("failed to persist notification")
	}
}

func (c *Coordinator) alert(title, message string) {
	if c.alerter != nil {
		c.alerter.Alert(c.userID, title, message)
	}
}

// ChangeStatus validates the transition locally, applies it optimistically,
// and reconciles with the server response: the server task overwrites the
// optimistic guess on success, the pre-image is restored on failure. A
// policy violation never reaches the network.
func (c *Coordinator) ChangeStatus(ctx context.Context, taskID string, role domain.Role, target domain.Status) (domain.Task, error) {
	task, ok := c.tasks.Get(taskID)
	if !ok {
		return domain.Task{}, ErrUnknownTask
	}
	if _, err := domain.AttemptTransition(task, role, target); err != nil {
		return domain.Task{}, err
	}
	scopeKey, _ := c.tasks.ScopeOf(taskID)

	pre, applied := c.tasks.ApplyPointUpdate(taskID, domain.TaskChanges{Status: &target})

	confirmed, err := c.backend.UpdateTaskStatus(ctx, scopeKey, taskID, target)
	if err != nil {
		if applied {
			c.tasks.Restore(pre)
		}
		c.alert("Update failed", fmt.Sprintf("Could not update task %q.", task.Title))
		return domain.Task{}, fmt.Errorf("%w: %v", ErrMutationFailed, err)
	}
	c.tasks.Overwrite(confirmed)
	return confirmed, nil
}

// EditTask applies direct field edits. Edits are pessimistic: the cache is
// only touched once the server confirms.
func (c *Coordinator) EditTask(ctx context.Context, taskID string, role domain.Role, changes domain.TaskChanges) (domain.Task, error) {
	task, ok := c.tasks.Get(taskID)
	if !ok {
		return domain.Task{}, ErrUnknownTask
	}
	if _, err := domain.ApplyEdit(task, role, changes); err != nil {
		return domain.Task{}, err
	}
	scopeKey, _ := c.tasks.ScopeOf(taskID)
	confirmed, err := c.backend.UpdateTaskFields(ctx, scopeKey, taskID, changes)
	if err != nil {
		return domain.Task{}, fmt.Errorf("%w: %v", ErrMutationFailed, err)
	}
	c.tasks.Overwrite(confirmed)
	return confirmed, nil
}

// CreateTask validates and persists a new task, then merges the confirmed
// copy into the scope's cache. A dependency cycle in the scoped graph is
// logged, not blocked: completion gating on dependencies is not enforced.
func (c *Coordinator) CreateTask(ctx context.Context, scopeKey string, task domain.Task) (domain.Task, error) {
	if scopeKey == "" {
		scopeKey = c.defaultScope
	}
	if err := task.Validate(); err != nil {
		return domain.Task{}, err
	}
	if cached, ok := c.tasks.Snapshot(scopeKey); ok {
		if cycle := domain.DependencyCycle(append(cached, task)); cycle != nil {
			log.WithFields(log.Fields{"scope": scopeKey, "cycle": cycle}).
				Warn("task dependencies form a cycle")
		}
	}
	confirmed, err := c.backend.CreateTask(ctx, scopeKey, task)
	if err != nil {
		return domain.Task{}, fmt.Errorf("%w: %v", ErrMutationFailed, err)
	}
	c.tasks.Merge(scopeKey, confirmed)
	return confirmed, nil
}

// DeleteTask removes a task after explicit external confirmation.
func (c *Coordinator) DeleteTask(ctx context.Context, taskID string) error {
	scopeKey, ok := c.tasks.ScopeOf(taskID)
	if !ok {
		return ErrUnknownTask
	}
	if err := c.backend.DeleteTask(ctx, scopeKey, taskID); err != nil {
		return fmt.Errorf("%w: %v", ErrMutationFailed, err)
	}
	c.tasks.Remove(taskID)
	return nil
}

// MarkNotificationRead flips the local entry first and persists best-effort.
// A persistence failure is logged, never rolled back: read state is treated
// as UI-local.
func (c *Coordinator) MarkNotificationRead(ctx context.Context, id string) {
	c.notifications.MarkRead(id)
	if err := c.backend.MarkNotificationRead(ctx, c.userID, id); err != nil {
		log.WithError(err).WithField("notification", id).Warn("failed to persist read mark")
	}
}

// MarkAllNotificationsRead flips every local entry and persists best-effort.
func (c *Coordinator) MarkAllNotificationsRead(ctx context.Context) {
	c.notifications.MarkAllRead()
	if err := c.backend.MarkAllNotificationsRead(ctx, c.userID); err != nil {
		log.WithError(err).WithField("user", c.userID).Warn("failed to persist read-all mark")
	}
}

// RefreshNotifications replaces the local list with the server's, re-sorted
// newest first.
func (c *Coordinator) RefreshNotifications(ctx context.Context) error {
	ns, err := c.backend.FetchNotifications(ctx, c.userID)
	if err != nil {
		return err
	}
	c.notifications.ReplaceAll(ns)
	return nil
}
