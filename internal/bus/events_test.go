package bus

import (
	"testing"
	"time"

	"github.com/stellarlinkco/clawgate/internal/audit"
)

func TestPublishDelivers(t *testing.T) {
	b := New()
	b.Publish(Event{Record: audit.Record{Command: "ls", Decision: "APPROVED"}})

	select {
	case ev := <-b.Decisions:
		if ev.Record.Command != "ls" {
			t.Errorf("Command = %q, want %q", ev.Record.Command, "ls")
		}
		if ev.At.IsZero() {
			t.Error("Publish did not stamp the event time")
		}
	default:
		t.Fatal("no event delivered")
	}
}

func TestPublishNeverBlocks(t *testing.T) {
	b := New()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < defaultBuffer*2; i++ {
			b.Publish(Event{Record: audit.Record{Command: "x"}})
		}
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Publish blocked with a full buffer")
	}
	if got := len(b.Decisions); got != defaultBuffer {
		t.Errorf("buffered events = %d, want %d", got, defaultBuffer)
	}
}

func TestPublishNilBus(t *testing.T) {
	var b *Bus
	b.Publish(Event{Record: audit.Record{Command: "ls"}})
}
