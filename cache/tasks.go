package cache

import (
	"context"
	"sync"

	log "github.com/sirupsen/logrus"

	"task-sync/domain"
)

// Fetcher loads the server-confirmed task list for a scope key.
type Fetcher interface {
	FetchTasks(ctx context.Context, scopeKey string) ([]domain.Task, error)
}

type scopeEntry struct {
	tasks     []domain.Task
	hasResult bool   // a confirmed fetch result is held
	seq       uint64 // last issued request sequence
	applied   uint64 // sequence of the result currently held
	inflight  int
	done      chan struct{} // closed when inflight returns to zero
}

// TaskCache holds the last known server-confirmed tasks per scope key. It is
// the authoritative in-memory copy; the sync coordinator is its only writer,
// readers may query concurrently.
type TaskCache struct {
	mu      sync.Mutex
	fetcher Fetcher
	scopes  map[string]*scopeEntry
	byID    map[string]string // task id -> scope key holding it
}

// NewTaskCache creates an empty cache backed by the given fetcher.
func NewTaskCache(fetcher Fetcher) *TaskCache {
	return &TaskCache{
		fetcher: fetcher,
		scopes:  make(map[string]*scopeEntry),
		byID:    make(map[string]string),
	}
}

func (c *TaskCache) entry(scopeKey string) *scopeEntry {
	e, ok := c.scopes[scopeKey]
	if !ok {
		e = &scopeEntry{}
		c.scopes[scopeKey] = e
	}
	return e
}

// GetOrFetch returns the cached task list for scopeKey. Without force, a
// previously succeeded fetch is served as-is and an in-flight fetch is
// awaited rather than duplicated. With force, a new fetch is always issued.
// A response superseded by a newer completed request for the same scope is
// discarded silently.
func (c *TaskCache) GetOrFetch(ctx context.Context, scopeKey string, force bool) ([]domain.Task, error) {
	c.mu.Lock()
	e := c.entry(scopeKey)

	if !force {
		if e.hasResult {
			tasks := snapshotTasks(e.tasks)
			c.mu.Unlock()
			return tasks, nil
		}
		if e.inflight > 0 {
			done := e.done
			c.mu.Unlock()
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-done:
			}
			c.mu.Lock()
			defer c.mu.Unlock()
			if !e.hasResult {
				return nil, ErrFetchFailed
			}
			return snapshotTasks(e.tasks), nil
		}
	}

	e.seq++
	seq := e.seq
	if e.inflight == 0 {
		e.done = make(chan struct{})
	}
	e.inflight++
	c.mu.Unlock()

	tasks, err := c.fetcher.FetchTasks(ctx, scopeKey)

	c.mu.Lock()
	defer c.mu.Unlock()
	e.inflight--
	if e.inflight == 0 {
		close(e.done)
	}

	if seq <= e.applied {
		// A newer request for this scope already completed; drop this
		// response regardless of outcome.
		log.WithFields(log.Fields{"scope": scopeKey, "seq": seq, "applied": e.applied}).
			Debug("discarding stale fetch response")
		if e.hasResult {
			return snapshotTasks(e.tasks), nil
		}
		return nil, ErrFetchFailed
	}

	e.applied = seq
	if err != nil {
		// Keep any previous list for display, but mark the scope so the
		// next access retries.
		e.hasResult = false
		return nil, err
	}
	c.replaceLocked(scopeKey, e, tasks)
	e.hasResult = true
	return snapshotTasks(e.tasks), nil
}

// ApplyPointUpdate merges changes into the cached task with the given id.
// A missing id is a no-op: a pushed event may race ahead of the list fetch.
// It returns the pre-image and true when a task was updated, so callers can
// revert an optimistic write.
func (c *TaskCache) ApplyPointUpdate(taskID string, changes domain.TaskChanges) (domain.Task, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	scopeKey, ok := c.byID[taskID]
	if !ok {
		return domain.Task{}, false
	}
	e := c.scopes[scopeKey]
	for i := range e.tasks {
		if e.tasks[i].ID == taskID {
			pre := e.tasks[i]
			e.tasks[i] = changes.Merge(pre)
			return pre, true
		}
	}
	return domain.Task{}, false
}

// Restore puts a previously captured pre-image back, reverting an optimistic
// point update. A missing id is a no-op.
func (c *TaskCache) Restore(pre domain.Task) {
	c.Overwrite(pre)
}

// Overwrite replaces the cached copy of a task wholesale, keeping its scope.
// Used when a server response is authoritative over an optimistic guess.
// A missing id is a no-op.
func (c *TaskCache) Overwrite(task domain.Task) {
	c.mu.Lock()
	defer c.mu.Unlock()
	scopeKey, ok := c.byID[task.ID]
	if !ok {
		return
	}
	e := c.scopes[scopeKey]
	for i := range e.tasks {
		if e.tasks[i].ID == task.ID {
			e.tasks[i] = task
			return
		}
	}
}

// Merge inserts or replaces a full task under scopeKey. When the id is
// already cached under another scope it is moved, keeping the id unique
// across the cache.
func (c *TaskCache) Merge(scopeKey string, task domain.Task) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if prev, ok := c.byID[task.ID]; ok && prev != scopeKey {
		c.removeLocked(prev, task.ID)
	}
	e := c.entry(scopeKey)
	for i := range e.tasks {
		if e.tasks[i].ID == task.ID {
			e.tasks[i] = task
			return
		}
	}
	e.tasks = append(e.tasks, task)
	c.byID[task.ID] = scopeKey
}

// Replace swaps the whole task list for a scope, as a confirmed fetch does.
func (c *TaskCache) Replace(scopeKey string, tasks []domain.Task) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e := c.entry(scopeKey)
	c.replaceLocked(scopeKey, e, tasks)
	e.hasResult = true
}

func (c *TaskCache) replaceLocked(scopeKey string, e *scopeEntry, tasks []domain.Task) {
	for _, t := range e.tasks {
		if c.byID[t.ID] == scopeKey {
			delete(c.byID, t.ID)
		}
	}
	deduped := make([]domain.Task, 0, len(tasks))
	for _, t := range tasks {
		if prev, ok := c.byID[t.ID]; ok {
			if prev == scopeKey {
				continue
			}
			c.removeLocked(prev, t.ID)
		}
		c.byID[t.ID] = scopeKey
		deduped = append(deduped, t)
	}
	e.tasks = deduped
}

func (c *TaskCache) removeLocked(scopeKey, taskID string) {
	e, ok := c.scopes[scopeKey]
	if !ok {
		return
	}
	for i := range e.tasks {
		if e.tasks[i].ID == taskID {
			e.tasks = append(e.tasks[:i], e.tasks[i+1:]...)
			break
		}
	}
	delete(c.byID, taskID)
}

// Remove drops a task from the cache after an explicit external delete.
func (c *TaskCache) Remove(taskID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	scopeKey, ok := c.byID[taskID]
	if !ok {
		return
	}
	c.removeLocked(scopeKey, taskID)
}

// ScopeOf returns the scope key a cached task id lives under.
func (c *TaskCache) ScopeOf(taskID string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	scopeKey, ok := c.byID[taskID]
	return scopeKey, ok
}

// Get returns the cached task with the given id.
func (c *TaskCache) Get(taskID string) (domain.Task, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	scopeKey, ok := c.byID[taskID]
	if !ok {
		return domain.Task{}, false
	}
	for _, t := range c.scopes[scopeKey].tasks {
		if t.ID == taskID {
			return t, true
		}
	}
	return domain.Task{}, false
}

// Snapshot returns a copy of the cached list for a scope without fetching.
func (c *TaskCache) Snapshot(scopeKey string) ([]domain.Task, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.scopes[scopeKey]
	if !ok || !e.hasResult {
		return nil, false
	}
	return snapshotTasks(e.tasks), true
}

func snapshotTasks(tasks []domain.Task) []domain.Task {
	return append([]domain.Task(nil), tasks...)
}
