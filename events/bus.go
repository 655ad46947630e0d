// Package events implements the Event Bus: a bounded, non-blocking
// publish/subscribe fanout for the six domain events a TestRun produces.
// Subscribers that fall behind have events dropped for them rather than
// slowing down publishers.
package events

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Name enumerates the domain event types this bus carries.
type Name string

const (
	TestRunStarted       Name = "test_run_started"
	NetworkStarted       Name = "network_started"
	TestCompleted        Name = "test_completed"
	RegressionDetected   Name = "regression_detected"
	AlertTriggered       Name = "alert_triggered"
	NetworkStatusChanged Name = "network_status_changed"
)

// Event is the structured envelope delivered to subscribers. Fields holds
// the event-specific payload described in spec.md §6; subscribers type-assert
// the keys they expect and must tolerate unknown/missing ones.
type Event struct {
	Time   time.Time              `json:"time"`
	Name   Name                   `json:"name"`
	Fields map[string]interface{} `json:"fields,omitempty"`
}

// Subscription is a handle representing one consumer of events.
type Subscription interface {
	C() <-chan Event
	Close()
	ID() int64
}

// Stats reports runtime counters for observability.
type Stats struct {
	Subscribers        int64
	Published          uint64
	Dropped            uint64
	PerSubscriberDrops map[int64]uint64
}

// Bus is a bounded event bus. A subscriber whose buffer is full has the
// event dropped for it rather than blocking the publisher; subscribers
// must therefore be idempotent with respect to duplicate or missed events
// (spec.md §5 ordering guarantees).
type Bus struct {
	mu        sync.RWMutex
	subs      map[int64]*subscriber
	nextID    int64
	published atomic.Uint64
	dropped   atomic.Uint64

	publishedCounter prometheus.Counter
	droppedCounter   *prometheus.CounterVec
}

// NewBus creates an empty bus. registerer may be nil to skip metrics
// registration (useful in tests, where repeated registration would
// otherwise collide).
func NewBus(registerer prometheus.Registerer) *Bus {
	b := &Bus{subs: make(map[int64]*subscriber)}
	b.publishedCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "testorch", Subsystem: "events", Name: "published_total", Help: "Total events published.",
	})
	b.droppedCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "testorch", Subsystem: "events", Name: "dropped_total", Help: "Total events dropped due to a full subscriber buffer.",
	}, []string{"subscriber"})
	if registerer != nil {
		registerer.MustRegister(b.publishedCounter, b.droppedCounter)
	}
	return b
}

// Publish fans an event out to every current subscriber, non-blocking.
func (b *Bus) Publish(name Name, fields map[string]interface{}) {
	ev := Event{Time: time.Now(), Name: name, Fields: fields}

	b.mu.RLock()
	subs := make([]*subscriber, 0, len(b.subs))
	for _, s := range b.subs {
		subs = append(subs, s)
	}
	b.mu.RUnlock()

	b.published.Add(1)
	b.publishedCounter.Inc()

	for _, s := range subs {
		select {
		case s.ch <- ev:
		default:
			s.dropped.Add(1)
			b.dropped.Add(1)
			b.droppedCounter.WithLabelValues(s.label).Inc()
		}
	}
}

// Subscribe registers a new consumer with the given channel buffer size
// (defaulted to 64 when non-positive).
func (b *Bus) Subscribe(buffer int) Subscription {
	if buffer <= 0 {
		buffer = 64
	}
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	sub := &subscriber{id: id, ch: make(chan Event, buffer), bus: b, label: formatID(id)}
	b.subs[id] = sub
	b.mu.Unlock()
	return sub
}

func (b *Bus) unsubscribe(id int64) {
	b.mu.Lock()
	s, ok := b.subs[id]
	delete(b.subs, id)
	b.mu.Unlock()
	if ok {
		close(s.ch)
	}
}

// Stats snapshots delivery counters.
func (b *Bus) Stats() Stats {
	b.mu.RLock()
	defer b.mu.RUnlock()
	st := Stats{Subscribers: int64(len(b.subs)), Published: b.published.Load(), Dropped: b.dropped.Load(), PerSubscriberDrops: make(map[int64]uint64, len(b.subs))}
	for id, s := range b.subs {
		st.PerSubscriberDrops[id] = s.dropped.Load()
	}
	return st
}

type subscriber struct {
	id      int64
	ch      chan Event
	bus     *Bus
	dropped atomic.Uint64
	label   string
}

func (s *subscriber) C() <-chan Event { return s.ch }
func (s *subscriber) ID() int64       { return s.id }
func (s *subscriber) Close()          { s.bus.unsubscribe(s.id) }

func formatID(id int64) string {
	if id == 0 {
		return "0"
	}
	var digits [20]byte
	i := len(digits)
	for id > 0 {
		i--
		digits[i] = byte('0' + id%10)
		id /= 10
	}
	return string(digits[i:])
}
