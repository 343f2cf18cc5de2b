// README: Unit of work over one ride and its bids; every mutation of that consistency domain goes through it.
package ride

import (
	"sort"
	"time"

	"haulbid/internal/events"
	"haulbid/internal/types"
)

// Unit is the working copy handed to InRide callbacks. Stores persist its
// recorded changes and publish its events only when the callback returns nil.
type Unit struct {
	Ride *Ride

	bids      []*Bid
	now       time.Time
	rideDirty bool
	history   []HistoryEntry
	inserted  []*Bid
	updated   map[types.ID]*Bid
	events    []events.Event
	rejected  error
}

// newUnit wraps working copies and applies lazy bid expiry so that the expiry
// check always runs inside the same atomic unit as any other bid mutation.
func newUnit(r *Ride, bids []*Bid, now time.Time) *Unit {
	u := &Unit{Ride: r, bids: bids, now: now, updated: map[types.ID]*Bid{}}
	u.expireDue()
	return u
}

func (u *Unit) Now() time.Time { return u.now }

// Bids returns the ride's bids ordered by creation time.
func (u *Unit) Bids() []*Bid { return u.bids }

func (u *Unit) Bid(id types.ID) *Bid {
	for _, b := range u.bids {
		if b.ID == id {
			return b
		}
	}
	return nil
}

func (u *Unit) ActiveBidBy(driverID types.ID) *Bid {
	for _, b := range u.bids {
		if b.DriverID == driverID && b.Status == BidActive {
			return b
		}
	}
	return nil
}

func (u *Unit) HasBidBy(driverID types.ID) bool {
	for _, b := range u.bids {
		if b.DriverID == driverID {
			return true
		}
	}
	return false
}

func (u *Unit) AddBid(b *Bid) {
	u.bids = append(u.bids, b)
	u.inserted = append(u.inserted, b)
}

// SetBidStatus moves an ACTIVE bid into a terminal status.
func (u *Unit) SetBidStatus(b *Bid, to BidStatus) error {
	if !canTransitionBid(b.Status, to) {
		return ErrBidNotActive
	}
	b.Status = to
	b.UpdatedAt = u.now
	if !u.isInserted(b.ID) {
		u.updated[b.ID] = b
	}
	return nil
}

// RejectActiveBids rejects every remaining ACTIVE bid except keep.
func (u *Unit) RejectActiveBids(keep types.ID) int {
	n := 0
	for _, b := range u.bids {
		if b.ID != keep && b.Status == BidActive {
			_ = u.SetBidStatus(b, BidRejected)
			n++
		}
	}
	return n
}

// Transition moves the ride along the lifecycle graph, appends exactly one
// history entry, and records the matching domain events.
func (u *Unit) Transition(to Status, actor types.Actor, note string, extra map[string]any) error {
	from := u.Ride.Status
	if !CanTransition(from, to) {
		return ErrInvalidTransition
	}
	u.Ride.Status = to
	entry := HistoryEntry{Status: to, At: u.now, ActorID: actor.ID, ActorRole: actor.Role, Note: note}
	u.Ride.History = append(u.Ride.History, entry)
	u.history = append(u.history, entry)
	u.Touch()

	payload := map[string]any{
		"ride_id":  u.Ride.ID,
		"status":   to,
		"previous": from,
		"at":       u.now,
		"actor_id": actor.ID,
	}
	if note != "" {
		payload["note"] = note
	}
	for k, v := range extra {
		payload[k] = v
	}
	u.Emit(events.TypeStatusChanged, payload)
	if to == StatusBidAccepted && u.Ride.DriverID != nil {
		// Losing bidders stop being party to the ride here.
		u.events[len(u.events)-1].Parties = []types.ID{u.Ride.CustomerID, *u.Ride.DriverID}
	}

	switch to {
	case StatusPickupArrived:
		u.Emit(events.TypeDriverArrived, map[string]any{"ride_id": u.Ride.ID, "driver_id": u.Ride.DriverID, "at": u.now})
	case StatusInTransit:
		u.Emit(events.TypeTripStarted, map[string]any{"ride_id": u.Ride.ID, "at": u.now})
	case StatusCompleted:
		u.Emit(events.TypeTripCompleted, map[string]any{"ride_id": u.Ride.ID, "final_price": u.Ride.FinalPrice, "at": u.now})
	}
	return nil
}

// Touch marks the ride row as changed.
func (u *Unit) Touch() {
	u.Ride.UpdatedAt = u.now
	u.rideDirty = true
}

func (u *Unit) Emit(t events.Type, payload any) {
	ev := events.New(t, u.Ride.ID, payload)
	ev.OccurredAt = u.now
	u.events = append(u.events, ev)
}

// Reject ends the callback with a state-conflict outcome. Changes recorded so
// far (lazy expiry only, by convention) are still committed, and InRide
// returns err afterwards.
func (u *Unit) Reject(err error) error {
	u.rejected = err
	return nil
}

// Events returns the events recorded so far, in emission order.
func (u *Unit) Events() []events.Event { return u.events }

func (u *Unit) expireDue() {
	for _, b := range u.bids {
		if b.IsExpired(u.now) {
			_ = u.SetBidStatus(b, BidExpired)
			u.Emit(events.TypeBidExpired, map[string]any{"ride_id": b.RideID, "bid_id": b.ID, "driver_id": b.DriverID})
		}
	}
}

func (u *Unit) isInserted(id types.ID) bool {
	for _, b := range u.inserted {
		if b.ID == id {
			return true
		}
	}
	return false
}

func (u *Unit) updatedBids() []*Bid {
	out := make([]*Bid, 0, len(u.updated))
	for _, b := range u.updated {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

func (u *Unit) empty() bool {
	return !u.rideDirty && len(u.inserted) == 0 && len(u.updated) == 0 && len(u.events) == 0
}
