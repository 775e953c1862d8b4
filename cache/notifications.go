package cache

import (
	"sort"
	"sync"

	"task-sync/domain"
)

// NotificationCache is the ordered in-memory collection of notifications,
// newest first by creation timestamp. All operations are total; persistence
// of read state is the coordinator's concern, not the cache's. Duplicate ids
// are allowed: an overlapping fetch and push may both deliver the same
// change.
type NotificationCache struct {
	mu      sync.Mutex
	entries []domain.Notification
}

// NewNotificationCache creates an empty cache.
func NewNotificationCache() *NotificationCache {
	return &NotificationCache{}
}

// Insert adds a notification keeping the list sorted newest first. Arrival
// order breaks ties between equal timestamps.
func (c *NotificationCache) Insert(n domain.Notification) {
	c.mu.Lock()
	defer c.mu.Unlock()
	i := sort.Search(len(c.entries), func(i int) bool {
		return c.entries[i].CreatedAt.Before(n.CreatedAt)
	})
	c.entries = append(c.entries, domain.Notification{})
	copy(c.entries[i+1:], c.entries[i:])
	c.entries[i] = n
}

// MarkRead flips is_read for the first entry matching id. Absent ids are a
// no-op. The flip is one-way: read entries stay read.
func (c *NotificationCache) MarkRead(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := range c.entries {
		if c.entries[i].ID == id {
			c.entries[i].IsRead = true
			return
		}
	}
}

// MarkAllRead flips every entry to read. Calling it twice is the same as
// calling it once.
func (c *NotificationCache) MarkAllRead() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := range c.entries {
		c.entries[i].IsRead = true
	}
}

// UnreadExists reports whether any entry is still unread.
func (c *NotificationCache) UnreadExists() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := range c.entries {
		if !c.entries[i].IsRead {
			return true
		}
	}
	return false
}

// ReplaceAll swaps the contents with a server fetch result, re-sorted
// newest first.
func (c *NotificationCache) ReplaceAll(ns []domain.Notification) {
	sorted := append([]domain.Notification(nil), ns...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].CreatedAt.After(sorted[j].CreatedAt)
	})
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = sorted
}

// Clear drops every entry. Cleared notifications are never resurrected.
func (c *NotificationCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = nil
}

// Snapshot returns a copy of the current contents, newest first.
func (c *NotificationCache) Snapshot() []domain.Notification {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]domain.Notification(nil), c.entries...)
}
