package bus

import (
	"context"
	"testing"
	"time"
)

func TestPublishAfterCloseFails(t *testing.T) {
	mb := NewMessageBus()
	mb.Close()

	if ok := mb.PublishEvent(context.Background(), Event{Type: EventRequestAdmitted}); ok {
		t.Fatal("expected publish to fail after close")
	}
}

func TestPublishOnCanceledContextFails(t *testing.T) {
	mb := NewMessageBus()
	t.Cleanup(mb.Close)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if ok := mb.PublishEvent(ctx, Event{Type: EventRequestAdmitted}); ok {
		t.Fatal("expected publish to fail on canceled context")
	}
}

func TestEventFanout(t *testing.T) {
	mb := NewMessageBus()
	t.Cleanup(mb.Close)

	ctx := context.Background()
	eventsA, unsubA := mb.SubscribeEvents(ctx, 1)
	defer unsubA()
	eventsB, unsubB := mb.SubscribeEvents(ctx, 1)
	defer unsubB()

	event := Event{Type: EventRequestAdmitted, TenantID: "T1", RequestID: "1"}
	if ok := mb.PublishEvent(ctx, event); !ok {
		t.Fatal("expected event publish to succeed")
	}

	for name, events := range map[string]<-chan Event{"A": eventsA, "B": eventsB} {
		select {
		case got := <-events:
			if got.Type != EventRequestAdmitted {
				t.Fatalf("subscriber %s event type = %q, want %q", name, got.Type, EventRequestAdmitted)
			}
			if got.At.IsZero() {
				t.Fatalf("subscriber %s event missing timestamp", name)
			}
		case <-time.After(500 * time.Millisecond):
			t.Fatalf("subscriber %s did not receive event", name)
		}
	}
}

func TestSlowSubscriberDoesNotBlockPublishEvent(t *testing.T) {
	mb := NewMessageBus()
	t.Cleanup(mb.Close)

	ctx := context.Background()
	events, unsubscribe := mb.SubscribeEvents(ctx, 1)
	defer unsubscribe()

	if ok := mb.PublishEvent(ctx, Event{Type: EventRequestAdmitted}); !ok {
		t.Fatal("expected first event publish to succeed")
	}

	start := time.Now()
	if ok := mb.PublishEvent(ctx, Event{Type: EventRequestCompleted}); !ok {
		t.Fatal("expected second event publish to succeed")
	}

	if time.Since(start) > 100*time.Millisecond {
		t.Fatal("publish event blocked on slow subscriber")
	}

	select {
	case <-events:
	case <-time.After(500 * time.Millisecond):
		t.Fatal("expected at least one event")
	}
}

func TestUnsubscribeStopsEvents(t *testing.T) {
	mb := NewMessageBus()
	t.Cleanup(mb.Close)

	ctx := context.Background()
	events, unsubscribe := mb.SubscribeEvents(ctx, 1)
	unsubscribe()

	if ok := mb.PublishEvent(ctx, Event{Type: EventRequestAdmitted}); !ok {
		t.Fatal("expected event publish to succeed")
	}

	select {
	case _, ok := <-events:
		if ok {
			t.Fatal("expected closed event channel")
		}
	case <-time.After(500 * time.Millisecond):
		t.Fatal("expected event channel close after unsubscribe")
	}
}

func TestSubscribeEventsUnblocksOnClose(t *testing.T) {
	mb := NewMessageBus()

	events, _ := mb.SubscribeEvents(context.Background(), 1)
	mb.Close()

	select {
	case _, ok := <-events:
		if ok {
			t.Fatal("expected event channel to be closed")
		}
	case <-time.After(500 * time.Millisecond):
		t.Fatal("event subscription did not unblock after close")
	}
}

func TestSubscribeAfterCloseReturnsClosedChannel(t *testing.T) {
	mb := NewMessageBus()
	mb.Close()

	events, unsubscribe := mb.SubscribeEvents(context.Background(), 1)
	defer unsubscribe()

	if _, ok := <-events; ok {
		t.Fatal("expected closed channel after bus close")
	}
}

func TestTallyCountsTerminalErrorCodes(t *testing.T) {
	tally := NewTally()
	tally.Record(Event{Type: EventRequestAdmitted, Payload: map[string]string{"error_code": "ignored"}})
	tally.Record(Event{Type: EventRequestRejected, Payload: map[string]string{"error_code": "rate_limit_exceeded"}})
	tally.Record(Event{Type: EventRequestFailed, Payload: map[string]string{"error_code": "permission_denied"}})
	tally.Record(Event{Type: EventRequestFailed, Payload: map[string]string{"error_code": "permission_denied"}})
	tally.Record(Event{Type: EventRequestCompleted})

	snapshot := tally.Snapshot()
	if got := snapshot.Events[EventRequestFailed]; got != 2 {
		t.Fatalf("failed events = %d, want 2", got)
	}
	if got := snapshot.Events[EventRequestAdmitted]; got != 1 {
		t.Fatalf("admitted events = %d, want 1", got)
	}
	if got := snapshot.ErrorCodes["permission_denied"]; got != 2 {
		t.Fatalf("permission_denied = %d, want 2", got)
	}
	if got := snapshot.ErrorCodes["rate_limit_exceeded"]; got != 1 {
		t.Fatalf("rate_limit_exceeded = %d, want 1", got)
	}
	if _, ok := snapshot.ErrorCodes["ignored"]; ok {
		t.Fatal("non-terminal events must not count error codes")
	}

	snapshot.Events[EventRequestFailed] = 99
	if got := tally.Snapshot().Events[EventRequestFailed]; got != 2 {
		t.Fatalf("snapshot must be a copy, tally now reports %d", got)
	}
}

func TestTallyConsumeStopsOnUnsubscribe(t *testing.T) {
	mb := NewMessageBus()
	t.Cleanup(mb.Close)

	events, unsubscribe := mb.SubscribeEvents(context.Background(), 4)
	tally := NewTally()
	done := make(chan struct{})
	go func() {
		tally.Consume(events)
		close(done)
	}()

	mb.PublishEvent(context.Background(), Event{Type: EventRequestCompleted})
	mb.PublishEvent(context.Background(), Event{Type: EventRequestFailed, Payload: map[string]string{"error_code": "handler_unavailable"}})
	unsubscribe()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Consume did not return after unsubscribe")
	}

	snapshot := tally.Snapshot()
	if snapshot.Events[EventRequestCompleted] != 1 || snapshot.ErrorCodes["handler_unavailable"] != 1 {
		t.Fatalf("unexpected tally: %+v", snapshot)
	}
}
