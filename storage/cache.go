package storage

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"task-sync/domain"
)

type backend interface {
	FetchTasks(ctx context.Context, scopeKey string) ([]domain.Task, error)
	FetchNotifications(ctx context.Context, userID string) ([]domain.Notification, error)
	CreateTask(ctx context.Context, scopeKey string, t domain.Task) (domain.Task, error)
	UpdateTaskStatus(ctx context.Context, scopeKey, taskID string, status domain.Status) (domain.Task, error)
	UpdateTaskFields(ctx context.Context, scopeKey, taskID string, changes domain.TaskChanges) (domain.Task, error)
	DeleteTask(ctx context.Context, scopeKey, taskID string) error
	InsertNotification(ctx context.Context, userID string, n domain.Notification) error
	MarkNotificationRead(ctx context.Context, userID, id string) error
	MarkAllNotificationsRead(ctx context.Context, userID string) error
}

// Cache wraps a Storage with Redis-backed caching for reads and
// evict-on-write for mutations, so repeated scope fetches across process
// restarts skip table storage.
type Cache struct {
	base  backend
	redis *redis.Client
	ttl   time.Duration
}

// NewCache creates a caching wrapper using the provided Redis client and TTL.
func NewCache(base backend, client *redis.Client, ttl time.Duration) *Cache {
	if base == nil {
		panic("storage.NewCache: base storage is nil")
	}
	if ttl < 0 {
		ttl = 0
	}
	return &Cache{base: base, redis: client, ttl: ttl}
}

func (c *Cache) FetchTasks(ctx context.Context, scopeKey string) ([]domain.Task, error) {
	if tasks, ok := loadCached[[]domain.Task](ctx, c.redis, tasksCacheKey(scopeKey)); ok {
		return tasks, nil
	}
	tasks, err := c.base.FetchTasks(ctx, scopeKey)
	if err != nil {
		return nil, err
	}
	c.store(ctx, tasksCacheKey(scopeKey), tasks)
	return tasks, nil
}

func (c *Cache) FetchNotifications(ctx context.Context, userID string) ([]domain.Notification, error) {
	if ns, ok := loadCached[[]domain.Notification](ctx, c.redis, notificationsCacheKey(userID)); ok {
		return ns, nil
	}
	ns, err := c.base.FetchNotifications(ctx, userID)
	if err != nil {
		return nil, err
	}
	c.store(ctx, notificationsCacheKey(userID), ns)
	return ns, nil
}

func (c *Cache) CreateTask(ctx context.Context, scopeKey string, t domain.Task) (domain.Task, error) {
	created, err := c.base.CreateTask(ctx, scopeKey, t)
	if err != nil {
		return domain.Task{}, err
	}
	c.evict(ctx, tasksCacheKey(scopeKey))
	return created, nil
}

func (c *Cache) UpdateTaskStatus(ctx context.Context, scopeKey, taskID string, status domain.Status) (domain.Task, error) {
	updated, err := c.base.UpdateTaskStatus(ctx, scopeKey, taskID, status)
	if err != nil {
		return domain.Task{}, err
	}
	c.evict(ctx, tasksCacheKey(scopeKey))
	return updated, nil
}

func (c *Cache) UpdateTaskFields(ctx context.Context, scopeKey, taskID string, changes domain.TaskChanges) (domain.Task, error) {
	updated, err := c.base.UpdateTaskFields(ctx, scopeKey, taskID, changes)
	if err != nil {
		return domain.Task{}, err
	}
	c.evict(ctx, tasksCacheKey(scopeKey))
	return updated, nil
}

func (c *Cache) DeleteTask(ctx context.Context, scopeKey, taskID string) error {
	if err := c.base.DeleteTask(ctx, scopeKey, taskID); err != nil {
		return err
	}
	c.evict(ctx, tasksCacheKey(scopeKey))
	return nil
}

func (c *Cache) InsertNotification(ctx context.Context, userID string, n domain.Notification) error {
	if err := c.base.InsertNotification(ctx, userID, n); err != nil {
		return err
	}
	c.evict(ctx, notificationsCacheKey(userID))
	return nil
}

func (c *Cache) MarkNotificationRead(ctx context.Context, userID, id string) error {
	if err := c.base.MarkNotificationRead(ctx, userID, id); err != nil {
		return err
	}
	c.evict(ctx, notificationsCacheKey(userID))
	return nil
}

func (c *Cache) MarkAllNotificationsRead(ctx context.Context, userID string) error {
	if err := c.base.MarkAllNotificationsRead(ctx, userID); err != nil {
		return err
	}
	c.evict(ctx, notificationsCacheKey(userID))
	return nil
}

func loadCached[T any](ctx context.Context, rc *redis.Client, key string) (T, bool) {
	var zero T
	if rc == nil {
		return zero, false
	}
	data, err := rc.Get(ctx, key).Bytes()
	if err != nil {
		if err != redis.Nil {
			// On redis errors fall back to the backing storage without failing.
			_ = rc.Del(ctx, key).Err()
		}
		return zero, false
	}
	var out T
	if err := json.Unmarshal(data, &out); err != nil {
		_ = rc.Del(ctx, key).Err()
		return zero, false
	}
	return out, true
}

func (c *Cache) store(ctx context.Context, key string, value any) {
	if c.redis == nil || c.ttl == 0 {
		return
	}
	data, err := json.Marshal(value)
	if err != nil {
		return
	}
	_ = c.redis.Set(ctx, key, data, c.ttl).Err()
}

func (c *Cache) evict(ctx context.Context, keys ...string) {
	if c.redis == nil {
		return
	}
	_, _ = c.redis.Del(ctx, keys...).Result()
}

func tasksCacheKey(scopeKey string) string {
	return "tasks:" + scopeKey
}

func notificationsCacheKey(userID string) string {
	return "notifs:" + userID
}
