// Package bus carries permission decision events from the evaluation
// path to interested consumers (websocket clients, notifiers).
package bus

import (
	"log"
	"time"

	"github.com/stellarlinkco/clawgate/internal/audit"
)

// Event is one permission decision flowing through the daemon.
type Event struct {
	Record audit.Record `json:"record"`
	At     time.Time    `json:"at"`
}

const defaultBuffer = 64

// Bus fans decision events out to the daemon run loop. Publishing never
// blocks; consumers that fall behind lose events rather than stalling
// the decision path.
type Bus struct {
	Decisions chan Event
}

func New() *Bus {
	return &Bus{Decisions: make(chan Event, defaultBuffer)}
}

// Publish enqueues an event, dropping it when the buffer is full. Safe
// to call on a nil bus.
func (b *Bus) Publish(ev Event) {
	if b == nil {
		return
	}
	if ev.At.IsZero() {
		ev.At = time.Now()
	}
	select {
	case b.Decisions <- ev:
	default:
		log.Printf("[bus] decision event dropped, consumer too slow")
	}
}
