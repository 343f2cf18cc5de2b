package tracking

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"haulbid/internal/modules/bidding"
	"haulbid/internal/modules/ride"
	"haulbid/internal/types"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
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

type harness struct {
	hub    *Hub
	svc    *Service
	rides  *ride.Service
	ledger *bidding.Ledger
	clock  *fakeClock
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	clock := &fakeClock{now: time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)}
	hub := NewHub(nil)
	store := ride.NewMemoryStore(hub, nil).WithClock(clock.Now)
	rides := ride.NewService(store, ride.NewMemoryPayments(), nil)
	ledger := bidding.NewLedger(store, bidding.Config{}, nil).WithClock(clock.Now)
	svc := NewService(rides, hub, NewMemoryThrottle(10*time.Second).WithClock(clock.Now), nil)
	svc.now = clock.Now
	return &harness{hub: hub, svc: svc, rides: rides, ledger: ledger, clock: clock}
}

func (h *harness) createRide(t *testing.T, customer types.ID) *ride.Ride {
	t.Helper()
	r, err := h.rides.Create(context.Background(), ride.CreateCommand{
		CustomerID:  customer,
		Pickup:      types.Place{Point: types.Point{Lat: 48.8566, Lng: 2.3522}},
		Dropoff:     types.Place{Point: types.Point{Lat: 48.8049, Lng: 2.1204}},
		VehicleType: types.VehicleMediumVan,
		Estimate: ride.Estimate{
			DistanceKm:  15.5,
			DurationMin: 30,
			MinPrice:    decimal.RequireFromString("41.63"),
			MaxPrice:    decimal.RequireFromString("55.50"),
		},
	})
	if err != nil {
		t.Fatalf("create ride: %v", err)
	}
	return r
}

func (h *harness) bid(t *testing.T, rideID, driver types.ID) *ride.Bid {
	t.Helper()
	b, err := h.ledger.Submit(context.Background(), bidding.SubmitCommand{
		RideID:        rideID,
		DriverID:      driver,
		ProposedPrice: decimal.RequireFromString("48.00"),
	})
	if err != nil {
		t.Fatalf("submit bid: %v", err)
	}
	return b
}

func (h *harness) accept(t *testing.T, r *ride.Ride, b *ride.Bid) {
	t.Helper()
	_, err := h.ledger.Accept(context.Background(), bidding.AcceptCommand{
		RideID: r.ID, BidID: b.ID, RequesterID: r.CustomerID,
	})
	if err != nil {
		t.Fatalf("accept bid: %v", err)
	}
}

func customer(id types.ID) types.Actor { return types.Actor{ID: id, Role: types.RoleCustomer} }
func driver(id types.ID) types.Actor   { return types.Actor{ID: id, Role: types.RoleDriver} }

type envelope struct {
	Type   string          `json:"type"`
	RideID types.ID        `json:"ride_id"`
	Ref    string          `json:"ref"`
	Data   json.RawMessage `json:"data"`
}

// drain returns every message currently queued for the session.
func drain(t *testing.T, s *Session) []envelope {
	t.Helper()
	var out []envelope
	for {
		select {
		case raw := <-s.Outbound():
			var e envelope
			if err := json.Unmarshal(raw, &e); err != nil {
				t.Fatalf("bad message %s: %v", raw, err)
			}
			out = append(out, e)
		default:
			return out
		}
	}
}

func typesOf(envs []envelope) []string {
	out := make([]string, len(envs))
	for i, e := range envs {
		out[i] = e.Type
	}
	return out
}
