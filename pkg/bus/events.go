package bus

import (
	"context"
	"sync"
	"time"
)

// EventType names a step in a request's lifecycle.
type EventType string

const (
	EventRequestAdmitted  EventType = "request_admitted"
	EventRequestRejected  EventType = "request_rejected"
	EventRequestCompleted EventType = "request_completed"
	EventRequestFailed    EventType = "request_failed"
)

// Terminal reports whether no further events follow for the request.
func (t EventType) Terminal() bool {
	switch t {
	case EventRequestRejected, EventRequestCompleted, EventRequestFailed:
		return true
	default:
		return false
	}
}

type Event struct {
	Type      EventType         `json:"type"`
	At        time.Time         `json:"at"`
	Channel   string            `json:"channel,omitempty"`
	TenantID  string            `json:"tenant_id,omitempty"`
	ChatID    string            `json:"chat_id,omitempty"`
	RequestID string            `json:"request_id,omitempty"`
	Payload   map[string]string `json:"payload,omitempty"`
	Error     string            `json:"error,omitempty"`
}

// ErrorCode returns the error code a rejected or failed request ended with.
func (e Event) ErrorCode() string {
	return e.Payload["error_code"]
}

// Tally counts lifecycle events by type and terminal error codes by code.
type Tally struct {
	mu     sync.Mutex
	events map[EventType]int64
	codes  map[string]int64
}

// TallySnapshot is a point-in-time copy of a Tally.
type TallySnapshot struct {
	Events     map[EventType]int64
	ErrorCodes map[string]int64
}

func NewTally() *Tally {
	return &Tally{
		events: make(map[EventType]int64),
		codes:  make(map[string]int64),
	}
}

func (t *Tally) Record(event Event) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.events[event.Type]++
	if code := event.ErrorCode(); code != "" && event.Type.Terminal() {
		t.codes[code]++
	}
}

// Consume records events until the channel is closed.
func (t *Tally) Consume(events <-chan Event) {
	for event := range events {
		t.Record(event)
	}
}

func (t *Tally) Snapshot() TallySnapshot {
	t.mu.Lock()
	defer t.mu.Unlock()

	snapshot := TallySnapshot{
		Events:     make(map[EventType]int64, len(t.events)),
		ErrorCodes: make(map[string]int64, len(t.codes)),
	}
	for eventType, count := range t.events {
		snapshot.Events[eventType] = count
	}
	for code, count := range t.codes {
		snapshot.ErrorCodes[code] = count
	}

	return snapshot
}

func (mb *MessageBus) PublishEvent(ctx context.Context, event Event) bool {
	if ctx == nil {
		ctx = context.Background()
	}

	if event.At.IsZero() {
		event.At = time.Now().UTC()
	}

	select {
	case <-ctx.Done():
		return false
	case <-mb.done:
		return false
	default:
	}

	mb.mu.RLock()
	subs := make([]chan Event, 0, len(mb.eventSubscribers))
	for _, ch := range mb.eventSubscribers {
		subs = append(subs, ch)
	}
	mb.mu.RUnlock()

	for _, ch := range subs {
		select {
		case ch <- event:
		default:
			// Drop instead of blocking the request path on slow subscribers.
		}
	}

	return true
}

func (mb *MessageBus) SubscribeEvents(ctx context.Context, buffer int) (<-chan Event, func()) {
	if ctx == nil {
		ctx = context.Background()
	}
	if buffer <= 0 {
		buffer = defaultBufferSize
	}

	ch := make(chan Event, buffer)

	mb.mu.Lock()
	select {
	case <-mb.done:
		mb.mu.Unlock()
		close(ch)
		return ch, func() {}
	default:
	}

	id := mb.nextEventSubscriberID
	mb.nextEventSubscriberID++
	mb.eventSubscribers[id] = ch
	mb.mu.Unlock()

	var once sync.Once
	unsubscribe := func() {
		once.Do(func() {
			mb.mu.Lock()
			if eventCh, ok := mb.eventSubscribers[id]; ok {
				delete(mb.eventSubscribers, id)
				close(eventCh)
			}
			mb.mu.Unlock()
		})
	}

	go func() {
		select {
		case <-ctx.Done():
			unsubscribe()
		case <-mb.done:
			unsubscribe()
		}
	}()

	return ch, unsubscribe
}
