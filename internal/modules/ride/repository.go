// README: Persistence contract for rides and bids; implemented by the Postgres and in-memory stores.
package ride

import (
	"context"
	"time"

	"haulbid/internal/types"
)

type Repository interface {
	// Create persists a new ride with its initial history. It fails with
	// ErrActiveRide when the customer already has a non-terminal ride.
	Create(ctx context.Context, r *Ride) error
	// InRide runs fn as the single atomic unit of the ride's consistency
	// domain. Changes and events are committed only if fn returns nil;
	// events are published after commit, in order, before the next unit of
	// the same ride may start.
	InRide(ctx context.Context, rideID types.ID, fn func(u *Unit) error) error
	Get(ctx context.Context, id types.ID) (*Ride, error)
	ListBids(ctx context.Context, rideID types.ID) ([]*Bid, error)
	// RidesWithDueBids lists rides holding ACTIVE bids whose expiry has passed.
	RidesWithDueBids(ctx context.Context, now time.Time, limit int) ([]types.ID, error)
	// SaveLocation mirrors the latest driver sample onto the ride record.
	SaveLocation(ctx context.Context, rideID types.ID, sample types.LocationSample) error
}
