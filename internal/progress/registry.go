package progress

import (
	"context"
	"log"
	"sync"

	"journey/internal/database"
)

// Registry owns one Store per signed-in session. Stores are created lazily
// on the first journey request of a session and live until Release or Close.
type Registry struct {
	svc  Service
	feed database.ChangeFeed

	mu     sync.Mutex
	stores map[string]*Store
}

// NewRegistry creates an empty registry backed by the given service and feed
func NewRegistry(svc Service, feed database.ChangeFeed) *Registry {
	return &Registry{
		svc:    svc,
		feed:   feed,
		stores: make(map[string]*Store),
	}
}

// Acquire returns the store for a session, creating and loading it on first
// use. A failed initial refresh is non-fatal; the store retries on the next
// change notification.
func (r *Registry) Acquire(ctx context.Context, sessionID string, userID int64) *Store {
	r.mu.Lock()
	store, ok := r.stores[sessionID]
	if !ok {
		store = New(r.svc, r.feed, userID)
		r.stores[sessionID] = store
	}
	r.mu.Unlock()

	if !ok {
		if err := store.Refresh(ctx); err != nil {
			log.Printf("initial progress refresh failed for user %d: %v", userID, err)
		}
	}
	return store
}

// Release closes and removes the session's store. Unknown sessions are a
// no-op, so it is safe to call on every sign-out.
func (r *Registry) Release(sessionID string) {
	r.mu.Lock()
	store, ok := r.stores[sessionID]
	delete(r.stores, sessionID)
	r.mu.Unlock()

	if ok {
		store.Close()
	}
}

// Close releases every store. Called on server shutdown.
func (r *Registry) Close() {
	r.mu.Lock()
	stores := r.stores
	r.stores = make(map[string]*Store)
	r.mu.Unlock()

	for _, store := range stores {
		store.Close()
	}
}
