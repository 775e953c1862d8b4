package syncer

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"testing"
	"time"

	"task-sync/cache"
	"task-sync/domain"
)

type fakeBackend struct {
	updateStatusFn func(ctx context.Context, scopeKey, taskID string, status domain.Status) (domain.Task, error)
	updateFieldsFn func(ctx context.Context, scopeKey, taskID string, changes domain.TaskChanges) (domain.Task, error)
	createFn       func(ctx context.Context, scopeKey string, task domain.Task) (domain.Task, error)
	deleteFn       func(ctx context.Context, scopeKey, taskID string) error
	fetchNotifsFn  func(ctx context.Context, userID string) ([]domain.Notification, error)
	markReadErr    error
	markAllReadErr error
	statusCalls    int
	markReadCalls  int
}

func (f *fakeBackend) UpdateTaskStatus(ctx context.Context, scopeKey, taskID string, status domain.Status) (domain.Task, error) {
	f.statusCalls++
	if f.updateStatusFn == nil {
		return domain.Task{}, errors.New("unexpected UpdateTaskStatus call")
	}
	return f.updateStatusFn(ctx, scopeKey, taskID, status)
}

func (f *fakeBackend) UpdateTaskFields(ctx context.Context, scopeKey, taskID string, changes domain.TaskChanges) (domain.Task, error) {
	if f.updateFieldsFn == nil {
		return domain.Task{}, errors.New("unexpected UpdateTaskFields call")
	}
	return f.updateFieldsFn(ctx, scopeKey, taskID, changes)
}

func (f *fakeBackend) CreateTask(ctx context.Context, scopeKey string, task domain.Task) (domain.Task, error) {
	if f.createFn == nil {
		return domain.Task{}, errors.New("unexpected CreateTask call")
	}
	return f.createFn(ctx, scopeKey, task)
}

func (f *fakeBackend) DeleteTask(ctx context.Context, scopeKey, taskID string) error {
	if f.deleteFn == nil {
		return errors.New("unexpected DeleteTask call")
	}
	return f.deleteFn(ctx, scopeKey, taskID)
}

func (f *fakeBackend) InsertNotification(ctx context.Context, userID string, n domain.Notification) error {
	return nil
}

func (f *fakeBackend) FetchNotifications(ctx context.Context, userID string) ([]domain.Notification, error) {
	if f.fetchNotifsFn == nil {
		return nil, errors.New("unexpected FetchNotifications call")
	}
	return f.fetchNotifsFn(ctx, userID)
}

func (f *fakeBackend) MarkNotificationRead(ctx context.Context, userID, id string) error {
	f.markReadCalls++
	return f.markReadErr
}

func (f *fakeBackend) MarkAllNotificationsRead(ctx context.Context, userID string) error {
	return f.markAllReadErr
}

type recordedAlert struct{ title, message string }

type fakeAlerter struct{ alerts []recordedAlert }

func (a *fakeAlerter) Alert(userID, title, message string) {
	a.alerts = append(a.alerts, recordedAlert{title, message})
}

type staticFetcher struct{ tasks []domain.Task }

func (s staticFetcher) FetchTasks(ctx context.Context, scopeKey string) ([]domain.Task, error) {
	return s.tasks, nil
}

func newTestCoordinator(backend Backend, seed []domain.Task) (*Coordinator, *cache.TaskCache, *cache.NotificationCache, *fakeAlerter) {
	tasks := cache.NewTaskCache(staticFetcher{})
	tasks.Replace("project-1", seed)
	notifications := cache.NewNotificationCache()
	alerter := &fakeAlerter{}
	co := New("u1", "project-1", tasks, notifications, backend, alerter)
	var seq int
	co.newID = func() string { seq++; return fmt.Sprintf("n%d", seq) }
	co.now = func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }
	return co, tasks, notifications, alerter
}

func updatedEvent(taskID, title string, status domain.Status) domain.Event {
	return domain.Event{
		Type:   domain.TaskUpdated,
		UserID: "u1",
		Data:   []byte(fmt.Sprintf(`{"id":%q,"title":%q,"status":%q}`, taskID, title, status)),
	}
}

func TestHandleEventTaskUpdated(t *testing.T) {
	seed := []domain.Task{{ID: "7", Title: "deploy", Status: domain.StatusInProgress, Priority: domain.PriorityHigh}}
	co, tasks, notifications, alerter := newTestCoordinator(&fakeBackend{}, seed)

	if err := co.HandleEvent(context.Background(), updatedEvent("7", "deploy", domain.StatusCompleted)); err != nil {
		t.Fatalf("handle: %v", err)
	}

	ns := notifications.Snapshot()
	if len(ns) != 1 {
		t.Fatalf("expected exactly one notification, got %d", len(ns))
	}
	if ns[0].TaskID != "7" || ns[0].IsRead {
		t.Fatalf("unexpected notification: %#v", ns[0])
	}
	got, _ := tasks.Get("7")
	if got.Status != domain.StatusCompleted {
		t.Fatalf("point update not applied: %#v", got)
	}
	if got.Priority != domain.PriorityHigh {
		t.Fatalf("unrelated field overwritten: %#v", got)
	}
	if len(alerter.alerts) != 1 || alerter.alerts[0].title != "Task status updated" {
		t.Fatalf("unexpected alerts: %#v", alerter.alerts)
	}
}

func TestHandleEventTaskCreatedMergesSnapshot(t *testing.T) {
	co, tasks, notifications, alerter := newTestCoordinator(&fakeBackend{}, nil)

	ev := domain.Event{
		Type:   domain.TaskCreated,
		UserID: "u1",
		Data:   []byte(`{"id":"9","title":"triage bug","status":"pending"}`),
	}
	if err := co.HandleEvent(context.Background(), ev); err != nil {
		t.Fatalf("handle: %v", err)
	}

	got, ok := tasks.Get("9")
	if !ok || got.Title != "triage bug" {
		t.Fatalf("task not merged: %#v", got)
	}
	ns := notifications.Snapshot()
	if len(ns) != 1 || ns[0].Title != "New Task Assigned" {
		t.Fatalf("unexpected notifications: %#v", ns)
	}
	if len(alerter.alerts) != 1 {
		t.Fatalf("expected one alert, got %d", len(alerter.alerts))
	}
}

func TestHandleEventUpdateBeforeFetchMergesSnapshot(t *testing.T) {
	co, tasks, _, _ := newTestCoordinator(&fakeBackend{}, nil)
	if err := co.HandleEvent(context.Background(), updatedEvent("7", "deploy", domain.StatusCompleted)); err != nil {
		t.Fatalf("handle: %v", err)
	}
	got, ok := tasks.Get("7")
	if !ok || got.Status != domain.StatusCompleted {
		t.Fatalf("snapshot not merged: %#v", got)
	}
}

func TestChangeStatusPolicyViolationSkipsNetwork(t *testing.T) {
	backend := &fakeBackend{}
	seed := []domain.Task{{ID: "1", Title: "report", Status: domain.StatusPending}}
	co, tasks, _, _ := newTestCoordinator(backend, seed)

	_, err := co.ChangeStatus(context.Background(), "1", domain.RoleMember, domain.StatusCompleted)
	var te *domain.TransitionError
	if !errors.As(err, &te) {
		t.Fatalf("expected TransitionError, got %v", err)
	}
	if backend.statusCalls != 0 {
		t.Fatal("network mutation must not be issued on policy violation")
	}
	got, _ := tasks.Get("1")
	if got.Status != domain.StatusPending {
		t.Fatalf("cache touched on rejected action: %#v", got)
	}
}

func TestChangeStatusServerWins(t *testing.T) {
	confirmed := domain.Task{ID: "1", Title: "report (v2)", Status: domain.StatusInProgress, Priority: domain.PriorityLow}
	backend := &fakeBackend{updateStatusFn: func(ctx context.Context, scopeKey, taskID string, status domain.Status) (domain.Task, error) {
		return confirmed, nil
	}}
	seed := []domain.Task{{ID: "1", Title: "report", Status: domain.StatusPending}}
	co, tasks, _, _ := newTestCoordinator(backend, seed)

	got, err := co.ChangeStatus(context.Background(), "1", domain.RoleMember, domain.StatusInProgress)
	if err != nil {
		t.Fatalf("change status: %v", err)
	}
	if !reflect.DeepEqual(got, confirmed) {
		t.Fatalf("expected confirmed task returned, got %#v", got)
	}
	cached, _ := tasks.Get("1")
	if !reflect.DeepEqual(cached, confirmed) {
		t.Fatalf("server response must overwrite optimistic guess: %#v", cached)
	}
}

func TestChangeStatusRevertsOnFailure(t *testing.T) {
	backend := &fakeBackend{updateStatusFn: func(ctx context.Context, scopeKey, taskID string, status domain.Status) (domain.Task, error) {
		return domain.Task{}, errors.New("boom")
	}}
	seed := []domain.Task{{ID: "1", Title: "report", Status: domain.StatusPending}}
	co, tasks, _, alerter := newTestCoordinator(backend, seed)

	_, err := co.ChangeStatus(context.Background(), "1", domain.RoleAdmin, domain.StatusCompleted)
	if !errors.Is(err, ErrMutationFailed) {
		t.Fatalf("expected ErrMutationFailed, got %v", err)
	}
	got, _ := tasks.Get("1")
	if got.Status != domain.StatusPending {
		t.Fatalf("optimistic update not reverted: %#v", got)
	}
	if len(alerter.alerts) != 1 || alerter.alerts[0].title != "Update failed" {
		t.Fatalf("expected failure alert, got %#v", alerter.alerts)
	}
}

func TestChangeStatusUnknownTask(t *testing.T) {
	co, _, _, _ := newTestCoordinator(&fakeBackend{}, nil)
	if _, err := co.ChangeStatus(context.Background(), "42", domain.RoleAdmin, domain.StatusCompleted); !errors.Is(err, ErrUnknownTask) {
		t.Fatalf("expected ErrUnknownTask, got %v", err)
	}
}

func TestEditTaskGateAndPersist(t *testing.T) {
	backend := &fakeBackend{updateFieldsFn: func(ctx context.Context, scopeKey, taskID string, changes domain.TaskChanges) (domain.Task, error) {
		return domain.Task{ID: "1", Title: *changes.Title, Status: domain.StatusPending, Priority: domain.PriorityMedium}, nil
	}}
	seed := []domain.Task{{ID: "1", Title: "old", Status: domain.StatusPending}}
	co, tasks, _, _ := newTestCoordinator(backend, seed)

	title := "new"
	if _, err := co.EditTask(context.Background(), "1", domain.RoleMember, domain.TaskChanges{Title: &title}); err == nil {
		t.Fatal("member edit should be rejected")
	}
	cached, _ := tasks.Get("1")
	if cached.Title != "old" {
		t.Fatalf("cache touched by rejected edit: %#v", cached)
	}

	if _, err := co.EditTask(context.Background(), "1", domain.RoleManager, domain.TaskChanges{Title: &title}); err != nil {
		t.Fatalf("manager edit: %v", err)
	}
	cached, _ = tasks.Get("1")
	if cached.Title != "new" {
		t.Fatalf("confirmed edit not applied: %#v", cached)
	}
}

func TestMarkNotificationReadSurvivesPersistFailure(t *testing.T) {
	backend := &fakeBackend{markReadErr: errors.New("persist down")}
	co, _, notifications, _ := newTestCoordinator(backend, nil)
	notifications.Insert(domain.Notification{ID: "n1", CreatedAt: time.Now()})

	co.MarkNotificationRead(context.Background(), "n1")

	got := notifications.Snapshot()
	if len(got) != 1 || !got[0].IsRead {
		t.Fatalf("local flip must survive persist failure: %#v", got)
	}
	if backend.markReadCalls != 1 {
		t.Fatalf("expected one persist attempt, got %d", backend.markReadCalls)
	}
}

func TestRefreshNotificationsReplacesSorted(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	backend := &fakeBackend{fetchNotifsFn: func(ctx context.Context, userID string) ([]domain.Notification, error) {
		return []domain.Notification{
			{ID: "a", CreatedAt: base},
			{ID: "c", CreatedAt: base.Add(2 * time.Minute)},
			{ID: "b", CreatedAt: base.Add(time.Minute)},
		}, nil
	}}
	co, _, notifications, _ := newTestCoordinator(backend, nil)

	if err := co.RefreshNotifications(context.Background()); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	got := notifications.Snapshot()
	if got[0].ID != "c" || got[1].ID != "b" || got[2].ID != "a" {
		t.Fatalf("unexpected order: %#v", got)
	}
}

func TestDeleteTaskRemovesFromCache(t *testing.T) {
	backend := &fakeBackend{deleteFn: func(ctx context.Context, scopeKey, taskID string) error { return nil }}
	seed := []domain.Task{{ID: "1", Title: "x", Status: domain.StatusPending}}
	co, tasks, _, _ := newTestCoordinator(backend, seed)

	if err := co.DeleteTask(context.Background(), "1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, ok := tasks.Get("1"); ok {
		t.Fatal("task should be gone")
	}
}
