package events

import (
	"testing"
	"time"
)

func TestPublishDeliversToAllSubscribers(t *testing.T) {
	b := NewBus(nil)
	a := b.Subscribe(1)
	c := b.Subscribe(1)
	defer a.Close()
	defer c.Close()

	b.Publish(NetworkStarted, NetworkStartedFields("run-1", "sepolia"))

	for _, sub := range []Subscription{a, c} {
		select {
		case ev := <-sub.C():
			if ev.Name != NetworkStarted {
				t.Fatalf("got name %q", ev.Name)
			}
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for event")
		}
	}
}

func TestPublishDropsForFullSubscriberBuffer(t *testing.T) {
	b := NewBus(nil)
	sub := b.Subscribe(1)
	defer sub.Close()

	b.Publish(NetworkStarted, nil)
	b.Publish(NetworkStarted, nil) // buffer full, should be dropped not block

	stats := b.Stats()
	if stats.Dropped != 1 {
		t.Fatalf("expected 1 dropped event, got %d", stats.Dropped)
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	b := NewBus(nil)
	sub := b.Subscribe(4)
	sub.Close()

	b.Publish(NetworkStarted, nil)
	stats := b.Stats()
	if stats.Subscribers != 0 {
		t.Fatalf("expected 0 subscribers after close, got %d", stats.Subscribers)
	}
}

func TestStatsCountsPublishedEvents(t *testing.T) {
	b := NewBus(nil)
	sub := b.Subscribe(4)
	defer sub.Close()

	b.Publish(TestRunStarted, nil)
	b.Publish(TestCompleted, nil)

	if got := b.Stats().Published; got != 2 {
		t.Fatalf("expected 2 published, got %d", got)
	}
}
