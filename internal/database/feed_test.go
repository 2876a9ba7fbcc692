package database

import (
	"sync/atomic"
	"testing"
	"time"
)

func waitForCount(t *testing.T, counter *atomic.Int64, want int64) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if counter.Load() == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("expected %d notifications, got %d", want, counter.Load())
}

func TestInProcessFeedDeliversToSubscriber(t *testing.T) {
	feed := NewInProcessFeed()
	defer feed.Close()

	var count atomic.Int64
	feed.Subscribe(1, func() { count.Add(1) })

	feed.Notify(1)
	waitForCount(t, &count, 1)

	feed.Notify(1)
	waitForCount(t, &count, 2)
}

func TestInProcessFeedIsolatesUsers(t *testing.T) {
	feed := NewInProcessFeed()
	defer feed.Close()

	var user1, user2 atomic.Int64
	feed.Subscribe(1, func() { user1.Add(1) })
	feed.Subscribe(2, func() { user2.Add(1) })

	feed.Notify(1)
	waitForCount(t, &user1, 1)

	// Give any misdelivered callback time to fire before asserting.
	time.Sleep(20 * time.Millisecond)
	if got := user2.Load(); got != 0 {
		t.Errorf("user 2 received %d notifications for user 1's change", got)
	}
}

func TestInProcessFeedUnsubscribe(t *testing.T) {
	feed := NewInProcessFeed()
	defer feed.Close()

	var count atomic.Int64
	cancel := feed.Subscribe(1, func() { count.Add(1) })

	feed.Notify(1)
	waitForCount(t, &count, 1)

	cancel()
	cancel() // safe to call twice

	feed.Notify(1)
	time.Sleep(20 * time.Millisecond)
	if got := count.Load(); got != 1 {
		t.Errorf("expected no delivery after unsubscribe, got %d total", got)
	}
}

func TestInProcessFeedClosedIgnoresSubscribers(t *testing.T) {
	feed := NewInProcessFeed()
	feed.Close()

	var count atomic.Int64
	cancel := feed.Subscribe(1, func() { count.Add(1) })
	cancel()

	feed.Notify(1)
	time.Sleep(20 * time.Millisecond)
	if got := count.Load(); got != 0 {
		t.Errorf("closed feed delivered %d notifications", got)
	}
}
