// README: Domain events emitted by the matching core and the Sink abstraction they flow through.
package events

import (
	"context"
	"errors"
	"time"

	"haulbid/internal/types"
)

type Type string

const (
	TypeNewBid         Type = "new-bid"
	TypeStatusChanged  Type = "status-changed"
	TypeDriverLocation Type = "driver:location"
	TypeDriverArrived  Type = "driver:arrived"
	TypeTripStarted    Type = "trip:started"
	TypeTripCompleted  Type = "trip:completed"
	TypeBidWithdrawn   Type = "bid:withdrawn"
	TypeBidExpired     Type = "bid:expired"
)

// Audience selects which connections in a ride room receive an event.
type Audience string

const (
	AudienceRoom     Audience = "room"
	AudienceCustomer Audience = "customer"
)

type Event struct {
	ID         types.ID  `json:"id"`
	Type       Type      `json:"type"`
	RideID     types.ID  `json:"ride_id"`
	Audience   Audience  `json:"-"`
	Payload    any       `json:"data"`
	OccurredAt time.Time `json:"occurred_at"`
	// ExcludeConn is the originating connection, skipped on fan-out.
	ExcludeConn string `json:"-"`
	// Parties, when set, narrows the room to these users before delivery.
	Parties []types.ID `json:"-"`
}

func New(t Type, rideID types.ID, payload any) Event {
	return Event{
		ID:         types.NewID(),
		Type:       t,
		RideID:     rideID,
		Audience:   AudienceFor(t),
		Payload:    payload,
		OccurredAt: time.Now().UTC(),
	}
}

// AudienceFor returns the default audience of an event type.
func AudienceFor(t Type) Audience {
	switch t {
	case TypeNewBid, TypeBidWithdrawn, TypeBidExpired:
		return AudienceCustomer
	default:
		return AudienceRoom
	}
}

// Sink receives events after the state change that produced them is durable.
type Sink interface {
	Publish(ctx context.Context, ev Event) error
}

type SinkFunc func(ctx context.Context, ev Event) error

func (f SinkFunc) Publish(ctx context.Context, ev Event) error { return f(ctx, ev) }

// Discard drops every event.
var Discard Sink = SinkFunc(func(context.Context, Event) error { return nil })

// Fanout publishes to every sink in order and joins their errors.
type Fanout []Sink

func (f Fanout) Publish(ctx context.Context, ev Event) error {
	var errs []error
	for _, s := range f {
		if s == nil {
			continue
		}
		if err := s.Publish(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
