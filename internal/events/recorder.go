// README: In-memory Sink that records published events, used by tests and local runs.
package events

import (
	"context"
	"sync"

	"haulbid/internal/types"
)

type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func NewRecorder() *Recorder {
	return &Recorder{}
}

func (r *Recorder) Publish(_ context.Context, ev Event) error {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
	return nil
}

func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// ForRide returns the events of one ride in publish order.
func (r *Recorder) ForRide(rideID types.ID) []Event {
	var out []Event
	for _, ev := range r.Events() {
		if ev.RideID == rideID {
			out = append(out, ev)
		}
	}
	return out
}

func (r *Recorder) Types(rideID types.ID) []Type {
	var out []Type
	for _, ev := range r.ForRide(rideID) {
		out = append(out, ev.Type)
	}
	return out
}
