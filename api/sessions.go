package api

import (
	"context"
	"sync"

	"github.com/redis/go-redis/v9"

	"task-sync/bridge"
	"task-sync/cache"
	"task-sync/syncer"
)

// Store is the server-truth dependency a session needs: list fetches for the
// task cache plus the mutation surface of the coordinator.
type Store interface {
	cache.Fetcher
	syncer.Backend
}

type session struct {
	co     *syncer.Coordinator
	cancel context.CancelFunc
}

// Sessions lazily builds one coordinator per authenticated user and keeps its
// event bridge running for the lifetime of the server.
type Sessions struct {
	store        Store
	rc           *redis.Client
	alerter      syncer.Alerter
	defaultScope string

	mu      sync.Mutex
	entries map[string]*session
	closed  bool
}

// NewSessions creates the registry. The redis client feeds each user's event
// bridge; alerter receives the coordinator's toasts.
func NewSessions(store Store, rc *redis.Client, alerter syncer.Alerter, defaultScope string) *Sessions {
	return &Sessions{
		store:        store,
		rc:           rc,
		alerter:      alerter,
		defaultScope: defaultScope,
		entries:      make(map[string]*session),
	}
}

// Coordinator returns the user's coordinator, creating it and starting its
// bridge on first use.
func (s *Sessions) Coordinator(userID string) *syncer.Coordinator {
	s.mu.Lock()
	defer s.mu.Unlock()
	if entry, ok := s.entries[userID]; ok {
		return entry.co
	}
	co := syncer.New(userID, s.defaultScope, cache.NewTaskCache(s.store), cache.NewNotificationCache(), s.store, s.alerter)
	entry := &session{co: co}
	if !s.closed && s.rc != nil {
		ctx, cancel := context.WithCancel(context.Background())
		entry.cancel = cancel
		br := bridge.New(s.rc, userID, co)
		go func() { _ = br.Run(ctx) }()
	}
	s.entries[userID] = entry
	return co
}

// Close tears down every bridge. Coordinators handed out earlier stay usable
// for in-flight requests.
func (s *Sessions) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	for _, entry := range s.entries {
		if entry.cancel != nil {
			entry.cancel()
			entry.cancel = nil
		}
	}
}
