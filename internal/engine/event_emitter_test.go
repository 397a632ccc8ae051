package engine

import (
	"testing"
	"time"
)

func TestEmitDropsWhenFull(t *testing.T) {
	em := NewEventEmitter(1)
	em.Emit(Event{Type: EventTaskSubmitted})

	// The buffer is full and nothing is draining; Emit must return
	// immediately and count the drop instead of blocking.
	start := time.Now()
	em.Emit(Event{Type: EventTaskReady})
	if elapsed := time.Since(start); elapsed > 50*time.Millisecond {
		t.Errorf("Emit blocked for %s on a full channel", elapsed)
	}
	if got := em.DroppedCount(); got != 1 {
		t.Errorf("dropped count = %d, want 1", got)
	}

	// The buffered event is still delivered.
	select {
	case ev := <-em.Events():
		if ev.Type != EventTaskSubmitted {
			t.Errorf("event type = %s, want %s", ev.Type, EventTaskSubmitted)
		}
	default:
		t.Error("buffered event missing")
	}
}
