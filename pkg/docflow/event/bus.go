// Package event publishes run lifecycle events in process.
//
// The orchestrator publishes one event per committed run record and one when
// a run's background task exits. Subscribers filter by run id (or receive
// everything) and are called on their own goroutine, in publish order.
// Publishing never blocks the commit path: when a subscriber's buffer is
// full the event is dropped for that subscriber and OnDrop is called.
// Events are hints, not the record; readers re-read the store.
package event

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/randalmurphal/docflow/pkg/docflow/run"
)

// Event types.
const (
	// TypeCommitted follows every successful compare-and-update.
	TypeCommitted = "run.committed"
	// TypeTaskDone follows the exit of a run's background task.
	TypeTaskDone = "run.task_done"
)

// ErrClosed is returned by Publish after Close.
var ErrClosed = errors.New("event bus closed")

// Event describes one change to a run.
type Event struct {
	ID        string     `json:"id"`
	Type      string     `json:"type"`
	RunID     string     `json:"run_id"`
	From      run.Status `json:"from,omitempty"`
	To        run.Status `json:"to,omitempty"`
	Stage     run.Stage  `json:"stage"`
	Version   int64      `json:"version,omitempty"`
	Timestamp time.Time  `json:"timestamp"`
}

// Committed builds the event for a committed run.
func Committed(from run.Status, r *run.Run) Event {
	return Event{
		ID:        uuid.NewString(),
		Type:      TypeCommitted,
		RunID:     r.ID,
		From:      from,
		To:        r.Status,
		Stage:     r.CurrentStage,
		Version:   r.Version,
		Timestamp: r.UpdatedAt,
	}
}

// TaskDone builds the event for a finished task.
func TaskDone(runID string, at time.Time) Event {
	return Event{
		ID:        uuid.NewString(),
		Type:      TypeTaskDone,
		RunID:     runID,
		Timestamp: at,
	}
}

// Handler receives events for one subscription.
type Handler func(ctx context.Context, evt Event)

// Config configures a Bus.
type Config struct {
	// BufferSize is the per-subscription queue length. Default: 64.
	BufferSize int
	// OnDrop is called when a subscriber's queue is full.
	OnDrop func(evt Event, subscriberID int64)
}

// DefaultConfig provides reasonable defaults.
var DefaultConfig = Config{BufferSize: 64}

// Bus fans events out to subscribers. It is safe for concurrent use.
type Bus struct {
	config Config

	mu        sync.RWMutex
	byRun     map[string]map[int64]*Subscription
	wildcards map[int64]*Subscription

	nextID atomic.Int64
	closed atomic.Bool
}

// NewBus creates a bus.
func NewBus(config Config) *Bus {
	if config.BufferSize <= 0 {
		config.BufferSize = DefaultConfig.BufferSize
	}
	return &Bus{
		config:    config,
		byRun:     make(map[string]map[int64]*Subscription),
		wildcards: make(map[int64]*Subscription),
	}
}

// Publish queues evt for every matching subscriber without blocking.
func (b *Bus) Publish(evt Event) error {
	if b.closed.Load() {
		return ErrClosed
	}

	b.mu.RLock()
	subs := make([]*Subscription, 0, len(b.wildcards)+len(b.byRun[evt.RunID]))
	for _, s := range b.byRun[evt.RunID] {
		subs = append(subs, s)
	}
	for _, s := range b.wildcards {
		subs = append(subs, s)
	}
	b.mu.RUnlock()

	for _, s := range subs {
		select {
		case s.events <- evt:
		case <-s.done:
		default:
			if b.config.OnDrop != nil {
				b.config.OnDrop(evt, s.id)
			}
		}
	}
	return nil
}

// Subscribe delivers events for runID to handler. An empty runID receives
// events for every run. Subscribing to a closed bus returns an inert
// subscription.
func (b *Bus) Subscribe(runID string, handler Handler) *Subscription {
	s := &Subscription{
		id:      b.nextID.Add(1),
		runID:   runID,
		handler: handler,
		events:  make(chan Event, b.config.BufferSize),
		done:    make(chan struct{}),
		bus:     b,
	}

	b.mu.Lock()
	if b.closed.Load() {
		b.mu.Unlock()
		s.once.Do(func() { close(s.done) })
		return s
	}
	if runID == "" {
		b.wildcards[s.id] = s
	} else {
		if b.byRun[runID] == nil {
			b.byRun[runID] = make(map[int64]*Subscription)
		}
		b.byRun[runID][s.id] = s
	}
	b.mu.Unlock()

	go s.process()
	return s
}

// Close stops every subscription. Queued events are discarded.
func (b *Bus) Close() error {
	if !b.closed.CompareAndSwap(false, true) {
		return nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	for _, s := range b.wildcards {
		s.stop()
	}
	for _, subs := range b.byRun {
		for _, s := range subs {
			s.stop()
		}
	}
	b.wildcards = make(map[int64]*Subscription)
	b.byRun = make(map[string]map[int64]*Subscription)
	return nil
}

// Subscription is one registered handler.
type Subscription struct {
	id      int64
	runID   string
	handler Handler
	events  chan Event
	done    chan struct{}
	once    sync.Once
	bus     *Bus
}

// ID identifies the subscription in OnDrop callbacks.
func (s *Subscription) ID() int64 {
	return s.id
}

// Unsubscribe stops delivery. It is safe to call more than once.
func (s *Subscription) Unsubscribe() {
	b := s.bus
	b.mu.Lock()
	if s.runID == "" {
		delete(b.wildcards, s.id)
	} else if subs, ok := b.byRun[s.runID]; ok {
		delete(subs, s.id)
		if len(subs) == 0 {
			delete(b.byRun, s.runID)
		}
	}
	b.mu.Unlock()
	s.stop()
}

func (s *Subscription) stop() {
	s.once.Do(func() { close(s.done) })
}

func (s *Subscription) process() {
	for {
		select {
		case evt := <-s.events:
			select {
			case <-s.done:
				return
			default:
			}
			s.handler(context.Background(), evt)
		case <-s.done:
			return
		}
	}
}
