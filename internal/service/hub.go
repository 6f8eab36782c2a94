package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	cfotel "github.com/Strob0t/contractreview/internal/adapter/otel"
	"github.com/Strob0t/contractreview/internal/domain"
	"github.com/Strob0t/contractreview/internal/domain/event"
	"github.com/Strob0t/contractreview/internal/domain/task"
)

// TaskReader supplies the snapshot a new subscription catches up from.
type TaskReader interface {
	Get(id string) (task.Task, error)
}

// HubConfig sizes per-subscriber delivery queues.
type HubConfig struct {
	BufferSize   int
	DeliveryWait time.Duration // shared wait per Publish before dropping; 0 never waits
}

// EventHub fans committed task events out to subscribers. It reads task
// snapshots but never writes the store.
type EventHub struct {
	reader TaskReader
	cfg    HubConfig

	mu     sync.Mutex
	subs   map[string]map[*Subscription]struct{}
	closed bool

	metrics *cfotel.Metrics
}

// NewEventHub creates a hub reading catch-up snapshots from reader.
func NewEventHub(reader TaskReader, cfg HubConfig) *EventHub {
	if cfg.BufferSize < 1 {
		cfg.BufferSize = 1
	}
	return &EventHub{
		reader: reader,
		cfg:    cfg,
		subs:   make(map[string]map[*Subscription]struct{}),
	}
}

// SetMetrics enables subscription and drop counters.
func (h *EventHub) SetMetrics(m *cfotel.Metrics) { h.metrics = m }

// Subscribe registers interest in a task. The first delivered event is a
// catch-up event built from the task's current snapshot; live events
// follow in version order. The event channel closes after the terminal
// event has been delivered or on Unsubscribe.
func (h *EventHub) Subscribe(taskID string) (*Subscription, error) {
	sub := newSubscription(h, taskID, h.cfg.BufferSize)

	// Hold the subscription lock across registration and the snapshot
	// read: any Publish that races with us blocks on it and is then
	// deduplicated against the snapshot version.
	sub.mu.Lock()
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		sub.mu.Unlock()
		return nil, fmt.Errorf("event hub: %w", domain.ErrShutdown)
	}
	if h.subs[taskID] == nil {
		h.subs[taskID] = make(map[*Subscription]struct{})
	}
	h.subs[taskID][sub] = struct{}{}
	h.mu.Unlock()

	snap, err := h.reader.Get(taskID)
	if err != nil {
		sub.mu.Unlock()
		h.remove(sub)
		return nil, err
	}
	sub.pushLocked(event.CatchUpFrom(&snap))
	sub.mu.Unlock()

	h.track(1)
	go sub.pump()
	return sub, nil
}

// Replay returns an unregistered subscription that delivers a single
// catch-up event for snap. It serves tasks no longer held in memory.
func (h *EventHub) Replay(snap *task.Task) *Subscription {
	sub := newSubscription(h, snap.ID, 1)
	sub.detached = true
	sub.mu.Lock()
	sub.pushLocked(event.CatchUpFrom(snap))
	sub.mu.Unlock()
	go sub.pump()
	return sub
}

// Publish delivers ev to every current subscriber of its task. It never
// blocks longer than DeliveryWait in total; subscribers still full after
// that lose their oldest buffered non-terminal event.
func (h *EventHub) Publish(ev event.Event) {
	h.mu.Lock()
	subs := make([]*Subscription, 0, len(h.subs[ev.TaskID]))
	for s := range h.subs[ev.TaskID] {
		subs = append(subs, s)
	}
	h.mu.Unlock()
	if len(subs) == 0 {
		return
	}

	deadline := time.Now().Add(h.cfg.DeliveryWait)
	for _, s := range subs {
		if dropped := s.enqueue(ev, deadline); dropped > 0 {
			slog.Warn("subscriber lagging, dropped buffered events",
				"task_id", ev.TaskID, "dropped", dropped)
			if h.metrics != nil {
				h.metrics.EventsDropped.Add(context.Background(), int64(dropped))
			}
		}
	}
}

// Unsubscribe releases the subscription. It is idempotent.
func (h *EventHub) Unsubscribe(s *Subscription) {
	s.Close()
}

// Count returns the number of live subscriptions for a task.
func (h *EventHub) Count(taskID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs[taskID])
}

// Close ends every subscription and rejects new ones.
func (h *EventHub) Close() {
	h.mu.Lock()
	h.closed = true
	var all []*Subscription
	for _, set := range h.subs {
		for s := range set {
			all = append(all, s)
		}
	}
	h.mu.Unlock()

	for _, s := range all {
		s.Close()
	}
}

func (h *EventHub) remove(s *Subscription) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	set := h.subs[s.taskID]
	if _, ok := set[s]; !ok {
		return false
	}
	delete(set, s)
	if len(set) == 0 {
		delete(h.subs, s.taskID)
	}
	return true
}

func (h *EventHub) track(delta int64) {
	if h.metrics != nil {
		h.metrics.ActiveSubscriptions.Add(context.Background(), delta)
	}
}

// Subscription is one consumer's bounded view of a task's events.
type Subscription struct {
	hub      *EventHub
	taskID   string
	capacity int
	detached bool

	mu          sync.Mutex
	buf         []event.Event
	lastVersion int
	final       bool // terminal event accepted
	lagging     bool

	out   chan event.Event
	ready chan struct{}
	space chan struct{}
	done  chan struct{}
	once  sync.Once
}

func newSubscription(h *EventHub, taskID string, capacity int) *Subscription {
	return &Subscription{
		hub:      h,
		taskID:   taskID,
		capacity: capacity,
		buf:      make([]event.Event, 0, capacity),
		out:      make(chan event.Event),
		ready:    make(chan struct{}, 1),
		space:    make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
}

// TaskID returns the subscribed task.
func (s *Subscription) TaskID() string { return s.taskID }

// Events returns the delivery channel. It is closed when the
// subscription ends.
func (s *Subscription) Events() <-chan event.Event { return s.out }

// Done is closed once the subscription has been released.
func (s *Subscription) Done() <-chan struct{} { return s.done }

// Close releases the subscription. It is idempotent.
func (s *Subscription) Close() {
	s.once.Do(func() {
		close(s.done)
		if !s.detached && s.hub.remove(s) {
			s.hub.track(-1)
		}
	})
}

// pushLocked appends ev, dropping the oldest non-terminal event when the
// buffer is full. It returns the number of dropped events.
func (s *Subscription) pushLocked(ev event.Event) int {
	dropped := 0
	if len(s.buf) >= s.capacity {
		for i := range s.buf {
			if !s.buf[i].Final {
				s.buf = append(s.buf[:i], s.buf[i+1:]...)
				dropped++
				s.lagging = true
				break
			}
		}
	}
	s.buf = append(s.buf, ev)
	s.lastVersion = ev.Version
	if ev.Final {
		s.final = true
	}
	signal(s.ready)
	return dropped
}

func (s *Subscription) enqueue(ev event.Event, deadline time.Time) int {
	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		s.mu.Lock()
		if s.final || ev.Version <= s.lastVersion || isClosed(s.done) {
			s.mu.Unlock()
			return 0
		}
		if len(s.buf) < s.capacity || !time.Now().Before(deadline) {
			n := s.pushLocked(ev)
			s.mu.Unlock()
			return n
		}
		s.mu.Unlock()

		if timer == nil {
			timer = time.NewTimer(time.Until(deadline))
		}
		select {
		case <-s.space:
		case <-timer.C:
			// Past the deadline: the next iteration pushes and drops.
		case <-s.done:
			return 0
		}
	}
}

func (s *Subscription) pump() {
	defer close(s.out)
	for {
		s.mu.Lock()
		if len(s.buf) == 0 {
			s.mu.Unlock()
			select {
			case <-s.ready:
				continue
			case <-s.done:
				return
			}
		}
		ev := s.buf[0]
		s.buf = append(s.buf[:0], s.buf[1:]...)
		if s.lagging {
			ev.Lagging = true
			s.lagging = false
		}
		s.mu.Unlock()
		signal(s.space)

		select {
		case s.out <- ev:
		case <-s.done:
			return
		}
		if ev.Final {
			s.Close()
			return
		}
	}
}

func signal(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}

func isClosed(ch <-chan struct{}) bool {
	select {
	case <-ch:
		return true
	default:
		return false
	}
}
