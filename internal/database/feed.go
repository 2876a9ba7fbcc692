package database

import (
	"log"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/lib/pq"
)

// ChangeFeed delivers change notifications for a user's lesson progress.
// Delivery is at-least-once; subscribers are expected to react with an
// idempotent refresh.
type ChangeFeed interface {
	// Subscribe registers fn to run whenever userID's progress changes.
	// The returned cancel func deregisters the callback; it is safe to call
	// more than once.
	Subscribe(userID int64, fn func()) (cancel func())

	// Notify signals that userID's progress changed.
	Notify(userID int64)

	// Close shuts the feed down and drops all subscribers.
	Close() error
}

// InProcessFeed is a ChangeFeed that fans out within a single process.
// It is both the default feed and the publisher side used by the progress
// service after successful writes.
type InProcessFeed struct {
	mu     sync.Mutex
	subs   map[int64]map[int]func()
	nextID int
	closed bool
}

// NewInProcessFeed creates an in-process change feed
func NewInProcessFeed() *InProcessFeed {
	return &InProcessFeed{subs: make(map[int64]map[int]func())}
}

func (f *InProcessFeed) Subscribe(userID int64, fn func()) func() {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return func() {}
	}

	id := f.nextID
	f.nextID++

	if f.subs[userID] == nil {
		f.subs[userID] = make(map[int]func())
	}
	f.subs[userID][id] = fn

	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		if subs, ok := f.subs[userID]; ok {
			delete(subs, id)
			if len(subs) == 0 {
				delete(f.subs, userID)
			}
		}
	}
}

func (f *InProcessFeed) Notify(userID int64) {
	f.mu.Lock()
	callbacks := make([]func(), 0, len(f.subs[userID]))
	for _, fn := range f.subs[userID] {
		callbacks = append(callbacks, fn)
	}
	f.mu.Unlock()

	// Callbacks run outside the lock so a subscriber may unsubscribe
	// (or trigger further notifications) without deadlocking.
	for _, fn := range callbacks {
		go fn()
	}
}

func (f *InProcessFeed) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	f.subs = make(map[int64]map[int]func())
	return nil
}

// progressChannel is the NOTIFY channel installed by the postgres migrations;
// the payload is the user_id of the changed progress row.
const progressChannel = "user_lesson_progress_changes"

// PostgresFeed is a ChangeFeed backed by Postgres LISTEN/NOTIFY, so multiple
// server processes observe each other's progress writes. Local writes are
// still fanned out immediately through the embedded in-process feed; remote
// notifications arrive via the listener.
type PostgresFeed struct {
	local    *InProcessFeed
	listener *pq.Listener
	done     chan struct{}
}

// NewPostgresFeed opens a LISTEN connection on the progress channel
func NewPostgresFeed(databaseURL string) (*PostgresFeed, error) {
	listener := pq.NewListener(databaseURL, 10*time.Second, time.Minute,
		func(ev pq.ListenerEventType, err error) {
			if err != nil {
				log.Printf("Change feed listener event %d: %v", ev, err)
			}
		})

	if err := listener.Listen(progressChannel); err != nil {
		listener.Close()
		return nil, err
	}

	f := &PostgresFeed{
		local:    NewInProcessFeed(),
		listener: listener,
		done:     make(chan struct{}),
	}
	go f.listen()
	return f, nil
}

func (f *PostgresFeed) listen() {
	for {
		select {
		case <-f.done:
			return
		case n := <-f.listener.Notify:
			if n == nil {
				// Connection lost; pq re-establishes it and re-listens.
				continue
			}
			userID, err := parseUserID(n.Extra)
			if err != nil {
				log.Printf("Change feed: bad notification payload %q: %v", n.Extra, err)
				continue
			}
			f.local.Notify(userID)
		case <-time.After(90 * time.Second):
			// Periodic liveness check on a quiet channel
			go f.listener.Ping()
		}
	}
}

func (f *PostgresFeed) Subscribe(userID int64, fn func()) func() {
	return f.local.Subscribe(userID, fn)
}

func (f *PostgresFeed) Notify(userID int64) {
	f.local.Notify(userID)
}

func (f *PostgresFeed) Close() error {
	close(f.done)
	f.local.Close()
	return f.listener.Close()
}

func parseUserID(payload string) (int64, error) {
	return strconv.ParseInt(strings.TrimSpace(payload), 10, 64)
}
