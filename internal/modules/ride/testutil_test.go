// README: Shared fixtures for ride tests.
package ride

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"haulbid/internal/events"
	"haulbid/internal/types"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type fixture struct {
	svc      *Service
	store    *MemoryStore
	rec      *events.Recorder
	payments *MemoryPayments
	clock    *fakeClock
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	clock := newFakeClock()
	rec := events.NewRecorder()
	store := NewMemoryStore(rec, nil).WithClock(clock.Now)
	payments := NewMemoryPayments()
	svc := NewService(store, payments, nil)
	svc.now = clock.Now
	return &fixture{svc: svc, store: store, rec: rec, payments: payments, clock: clock}
}

func createCmd(customer types.ID) CreateCommand {
	return CreateCommand{
		CustomerID:  customer,
		Pickup:      types.Place{Point: types.Point{Lat: 48.8566, Lng: 2.3522}, Address: "1 Rue de Rivoli"},
		Dropoff:     types.Place{Point: types.Point{Lat: 48.8049, Lng: 2.1204}, Address: "Versailles"},
		VehicleType: types.VehicleMediumVan,
		Estimate: Estimate{
			DistanceKm:  15.5,
			DurationMin: 30,
			MinPrice:    decimal.RequireFromString("41.63"),
			MaxPrice:    decimal.RequireFromString("55.50"),
		},
	}
}

func (f *fixture) createRide(t *testing.T, customer types.ID) *Ride {
	t.Helper()
	r, err := f.svc.Create(context.Background(), createCmd(customer))
	if err != nil {
		t.Fatalf("create ride: %v", err)
	}
	return r
}

// assign runs the acceptance group write the bid ledger performs.
func (f *fixture) assign(t *testing.T, rideID, driverID types.ID, price string) types.ID {
	t.Helper()
	var bidID types.ID
	err := f.store.InRide(context.Background(), rideID, func(u *Unit) error {
		if err := acceptForTest(u, driverID, price); err != nil {
			return err
		}
		bidID = *u.Ride.WinningBidID
		return nil
	})
	if err != nil {
		t.Fatalf("assign driver: %v", err)
	}
	return bidID
}

func acceptForTest(u *Unit, driverID types.ID, price string) error {
	now := u.Now()
	b := &Bid{
		ID:            types.NewID(),
		RideID:        u.Ride.ID,
		DriverID:      driverID,
		ProposedPrice: decimal.RequireFromString(price),
		Status:        BidActive,
		ExpiresAt:     now.Add(10 * time.Minute),
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	u.AddBid(b)
	if err := u.SetBidStatus(b, BidAccepted); err != nil {
		return err
	}
	fp := b.ProposedPrice
	u.Ride.DriverID = &driverID
	u.Ride.WinningBidID = &b.ID
	u.Ride.FinalPrice = &fp
	return u.Transition(StatusBidAccepted, types.Actor{ID: u.Ride.CustomerID, Role: types.RoleCustomer}, "", nil)
}

// driveTo advances an assigned ride until it reaches target.
func (f *fixture) driveTo(t *testing.T, rideID, driverID types.ID, target Status) {
	t.Helper()
	ctx := context.Background()
	for {
		r, err := f.svc.Get(ctx, rideID)
		if err != nil {
			t.Fatalf("get ride: %v", err)
		}
		if r.Status == target {
			return
		}
		if _, err := f.svc.Advance(ctx, AdvanceCommand{RideID: rideID, DriverID: driverID, Expected: r.Status}); err != nil {
			t.Fatalf("advance from %s: %v", r.Status, err)
		}
	}
}
