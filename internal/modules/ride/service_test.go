// README: Ride service tests against the in-memory store.
package ride

import (
	"context"
	"errors"
	"testing"
	"time"

	"haulbid/internal/events"
	"haulbid/internal/types"
)

func TestCreate_StartsPendingWithHistory(t *testing.T) {
	f := newFixture(t)
	r := f.createRide(t, "c1")

	if r.Status != StatusPendingBids {
		t.Fatalf("expected PENDING_BIDS, got %s", r.Status)
	}
	if len(r.History) != 1 || r.History[0].Status != StatusPendingBids || r.History[0].ActorID != "c1" {
		t.Fatalf("unexpected history: %+v", r.History)
	}
	if r.DriverID != nil || r.FinalPrice != nil || r.WinningBidID != nil {
		t.Fatal("fresh ride must not carry driver, final price or winning bid")
	}
	if r.PaymentMethod != PaymentCash || r.TripType != types.TripOneWay {
		t.Fatalf("expected defaults cash/one_way, got %s/%s", r.PaymentMethod, r.TripType)
	}
}

func TestCreate_RejectsSecondActiveRide(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	first := f.createRide(t, "c1")

	if _, err := f.svc.Create(ctx, createCmd("c1")); !errors.Is(err, ErrActiveRide) {
		t.Fatalf("expected ErrActiveRide, got %v", err)
	}
	if err := f.svc.Cancel(ctx, CancelCommand{RideID: first.ID, Actor: types.Actor{ID: "c1", Role: types.RoleCustomer}}); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if _, err := f.svc.Create(ctx, createCmd("c1")); err != nil {
		t.Fatalf("expected create after cancel to succeed, got %v", err)
	}
}

func TestCreate_Validation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	cmd := createCmd("c1")
	cmd.Estimate.DistanceKm = 0
	if _, err := f.svc.Create(ctx, cmd); !errors.Is(err, ErrBadRequest) {
		t.Fatalf("zero distance: expected ErrBadRequest, got %v", err)
	}

	cmd = createCmd("c1")
	cmd.PaymentMethod = "crypto"
	if _, err := f.svc.Create(ctx, cmd); !errors.Is(err, ErrBadRequest) {
		t.Fatalf("bad payment method: expected ErrBadRequest, got %v", err)
	}

	cmd = createCmd("c1")
	cmd.Pickup.Point.Lat = 123
	if _, err := f.svc.Create(ctx, cmd); !errors.Is(err, ErrBadRequest) {
		t.Fatalf("bad coordinate: expected ErrBadRequest, got %v", err)
	}
}

func TestAdvance_FullLifecycleEmitsEvents(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	r := f.createRide(t, "c1")
	f.assign(t, r.ID, "d1", "50.00")

	f.driveTo(t, r.ID, "d1", StatusDropoffArrived)
	if err := f.svc.ConfirmDelivery(ctx, r.ID, "d1"); err != nil {
		t.Fatalf("confirm: %v", err)
	}
	next, err := f.svc.Advance(ctx, AdvanceCommand{RideID: r.ID, DriverID: "d1", Expected: StatusDropoffArrived})
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if next != StatusCompleted {
		t.Fatalf("expected COMPLETED, got %s", next)
	}

	got, _ := f.svc.Get(ctx, r.ID)
	if len(got.History) != len(forwardOrder) {
		t.Fatalf("expected %d history entries, got %d", len(forwardOrder), len(got.History))
	}
	for i, h := range got.History {
		if h.Status != forwardOrder[i] {
			t.Fatalf("history[%d] = %s, want %s", i, h.Status, forwardOrder[i])
		}
	}

	want := []events.Type{
		events.TypeStatusChanged, // BID_ACCEPTED
		events.TypeStatusChanged, // DRIVER_ARRIVING
		events.TypeStatusChanged, events.TypeDriverArrived,
		events.TypeStatusChanged, // LOADING
		events.TypeStatusChanged, events.TypeTripStarted,
		events.TypeStatusChanged, // DROPOFF_ARRIVED
		events.TypeStatusChanged, events.TypeTripCompleted,
	}
	evs := f.rec.Types(r.ID)
	if len(evs) != len(want) {
		t.Fatalf("events = %v, want %v", evs, want)
	}
	for i := range want {
		if evs[i] != want[i] {
			t.Fatalf("event[%d] = %s, want %s", i, evs[i], want[i])
		}
	}
}

func TestAdvance_StaleExpectedStatusLeavesRideUnchanged(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	r := f.createRide(t, "c1")
	f.assign(t, r.ID, "d1", "50.00")
	f.driveTo(t, r.ID, "d1", StatusPickupArrived)

	_, err := f.svc.Advance(ctx, AdvanceCommand{RideID: r.ID, DriverID: "d1", Expected: StatusDriverArriving})
	if !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
	got, _ := f.svc.Get(ctx, r.ID)
	if got.Status != StatusPickupArrived {
		t.Fatalf("status changed to %s", got.Status)
	}
}

func TestAdvance_OnlyAssignedDriver(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	r := f.createRide(t, "c1")

	if _, err := f.svc.Advance(ctx, AdvanceCommand{RideID: r.ID, DriverID: "d1", Expected: StatusPendingBids}); !errors.Is(err, ErrForbidden) {
		t.Fatalf("unassigned ride: expected ErrForbidden, got %v", err)
	}

	f.assign(t, r.ID, "d1", "50.00")
	if _, err := f.svc.Advance(ctx, AdvanceCommand{RideID: r.ID, DriverID: "d2", Expected: StatusBidAccepted}); !errors.Is(err, ErrForbidden) {
		t.Fatalf("other driver: expected ErrForbidden, got %v", err)
	}
	if _, err := f.svc.Advance(ctx, AdvanceCommand{RideID: r.ID, DriverID: "c1", Expected: StatusBidAccepted}); !errors.Is(err, ErrForbidden) {
		t.Fatalf("customer: expected ErrForbidden, got %v", err)
	}
}

func TestAdvance_CompletionPreconditions(t *testing.T) {
	ctx := context.Background()

	t.Run("cash needs driver confirmation only", func(t *testing.T) {
		f := newFixture(t)
		r := f.createRide(t, "c1")
		f.assign(t, r.ID, "d1", "50.00")
		f.driveTo(t, r.ID, "d1", StatusDropoffArrived)

		_, err := f.svc.Advance(ctx, AdvanceCommand{RideID: r.ID, DriverID: "d1", Expected: StatusDropoffArrived})
		if !errors.Is(err, ErrPreconditionNotMet) {
			t.Fatalf("expected ErrPreconditionNotMet, got %v", err)
		}
		if err := f.svc.ConfirmDelivery(ctx, r.ID, "d1"); err != nil {
			t.Fatalf("confirm: %v", err)
		}
		if _, err := f.svc.Advance(ctx, AdvanceCommand{RideID: r.ID, DriverID: "d1", Expected: StatusDropoffArrived}); err != nil {
			t.Fatalf("complete: %v", err)
		}
	})

	t.Run("card needs settled payment", func(t *testing.T) {
		f := newFixture(t)
		cmd := createCmd("c1")
		cmd.PaymentMethod = PaymentCard
		r, err := f.svc.Create(ctx, cmd)
		if err != nil {
			t.Fatalf("create: %v", err)
		}
		f.assign(t, r.ID, "d1", "50.00")
		f.driveTo(t, r.ID, "d1", StatusDropoffArrived)
		if err := f.svc.ConfirmDelivery(ctx, r.ID, "d1"); err != nil {
			t.Fatalf("confirm: %v", err)
		}

		_, err = f.svc.Advance(ctx, AdvanceCommand{RideID: r.ID, DriverID: "d1", Expected: StatusDropoffArrived})
		if !errors.Is(err, ErrPreconditionNotMet) {
			t.Fatalf("expected ErrPreconditionNotMet before settlement, got %v", err)
		}
		got, _ := f.svc.Get(ctx, r.ID)
		if got.Status != StatusDropoffArrived {
			t.Fatalf("rejected completion must not change status, got %s", got.Status)
		}

		f.payments.MarkSettled(r.ID)
		if _, err := f.svc.Advance(ctx, AdvanceCommand{RideID: r.ID, DriverID: "d1", Expected: StatusDropoffArrived}); err != nil {
			t.Fatalf("complete after settlement: %v", err)
		}
	})
}

func TestConfirmDelivery_OnlyAtDropoff(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	r := f.createRide(t, "c1")
	f.assign(t, r.ID, "d1", "50.00")

	if err := f.svc.ConfirmDelivery(ctx, r.ID, "d1"); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition before dropoff, got %v", err)
	}
	f.driveTo(t, r.ID, "d1", StatusDropoffArrived)
	if err := f.svc.ConfirmDelivery(ctx, r.ID, "d2"); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden for other driver, got %v", err)
	}
	if err := f.svc.ConfirmDelivery(ctx, r.ID, "d1"); err != nil {
		t.Fatalf("confirm: %v", err)
	}
	first, _ := f.svc.Get(ctx, r.ID)
	f.clock.Advance(time.Minute)
	if err := f.svc.ConfirmDelivery(ctx, r.ID, "d1"); err != nil {
		t.Fatalf("repeat confirm should be a no-op, got %v", err)
	}
	second, _ := f.svc.Get(ctx, r.ID)
	if !first.DriverConfirmedAt.Equal(*second.DriverConfirmedAt) {
		t.Fatal("repeat confirm must not move the confirmation time")
	}
}

func TestCancel_Window(t *testing.T) {
	ctx := context.Background()
	customer := types.Actor{ID: "c1", Role: types.RoleCustomer}

	t.Run("succeeds in DRIVER_ARRIVING", func(t *testing.T) {
		f := newFixture(t)
		r := f.createRide(t, "c1")
		f.assign(t, r.ID, "d1", "50.00")
		f.driveTo(t, r.ID, "d1", StatusDriverArriving)
		if err := f.svc.Cancel(ctx, CancelCommand{RideID: r.ID, Actor: customer, Reason: "changed plans"}); err != nil {
			t.Fatalf("cancel: %v", err)
		}
		got, _ := f.svc.Get(ctx, r.ID)
		if got.Status != StatusCancelled || got.CancelReason == nil || *got.CancelReason != "changed plans" {
			t.Fatalf("unexpected ride after cancel: %+v", got)
		}
		if got.FinalPrice == nil || got.WinningBidID == nil {
			t.Fatal("acceptance fields are never cleared")
		}
	})

	t.Run("fails in IN_TRANSIT", func(t *testing.T) {
		f := newFixture(t)
		r := f.createRide(t, "c1")
		f.assign(t, r.ID, "d1", "50.00")
		f.driveTo(t, r.ID, "d1", StatusInTransit)
		err := f.svc.Cancel(ctx, CancelCommand{RideID: r.ID, Actor: customer})
		if !errors.Is(err, ErrCancellationWindowClosed) {
			t.Fatalf("expected ErrCancellationWindowClosed, got %v", err)
		}
		got, _ := f.svc.Get(ctx, r.ID)
		if got.Status != StatusInTransit {
			t.Fatalf("status changed to %s", got.Status)
		}
	})

	t.Run("terminal ride", func(t *testing.T) {
		f := newFixture(t)
		r := f.createRide(t, "c1")
		if err := f.svc.Cancel(ctx, CancelCommand{RideID: r.ID, Actor: customer}); err != nil {
			t.Fatalf("cancel: %v", err)
		}
		if err := f.svc.Cancel(ctx, CancelCommand{RideID: r.ID, Actor: customer}); !errors.Is(err, ErrInvalidTransition) {
			t.Fatalf("expected ErrInvalidTransition, got %v", err)
		}
	})

	t.Run("stranger", func(t *testing.T) {
		f := newFixture(t)
		r := f.createRide(t, "c1")
		err := f.svc.Cancel(ctx, CancelCommand{RideID: r.ID, Actor: types.Actor{ID: "x", Role: types.RoleDriver}})
		if !errors.Is(err, ErrForbidden) {
			t.Fatalf("expected ErrForbidden, got %v", err)
		}
	})

	t.Run("system role is not a party", func(t *testing.T) {
		f := newFixture(t)
		r := f.createRide(t, "c1")
		if err := f.svc.Cancel(ctx, CancelCommand{RideID: r.ID, Actor: types.SystemActor}); !errors.Is(err, ErrForbidden) {
			t.Fatalf("expected ErrForbidden, got %v", err)
		}
	})
}

func TestCancel_PendingRejectsActiveBids(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	r := f.createRide(t, "c1")
	err := f.store.InRide(ctx, r.ID, func(u *Unit) error {
		now := u.Now()
		for _, d := range []types.ID{"d1", "d2"} {
			u.AddBid(&Bid{ID: types.NewID(), RideID: r.ID, DriverID: d, Status: BidActive, ExpiresAt: now.Add(time.Hour), CreatedAt: now, UpdatedAt: now})
		}
		return nil
	})
	if err != nil {
		t.Fatalf("seed bids: %v", err)
	}

	if err := f.svc.Cancel(ctx, CancelCommand{RideID: r.ID, Actor: types.Actor{ID: "c1", Role: types.RoleCustomer}}); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	bids, _ := f.store.ListBids(ctx, r.ID)
	for _, b := range bids {
		if b.Status != BidRejected {
			t.Fatalf("bid %s: expected REJECTED, got %s", b.ID, b.Status)
		}
	}
}

func TestFail_FromInTransit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	r := f.createRide(t, "c1")
	f.assign(t, r.ID, "d1", "50.00")
	f.driveTo(t, r.ID, "d1", StatusLoading)

	if err := f.svc.Fail(ctx, FailCommand{RideID: r.ID, DriverID: "d1", Reason: "cargo damaged"}); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition from LOADING, got %v", err)
	}
	f.driveTo(t, r.ID, "d1", StatusInTransit)
	if err := f.svc.Fail(ctx, FailCommand{RideID: r.ID, DriverID: "d1"}); !errors.Is(err, ErrBadRequest) {
		t.Fatalf("expected ErrBadRequest without reason, got %v", err)
	}
	if err := f.svc.Fail(ctx, FailCommand{RideID: r.ID, DriverID: "d1", Reason: "cargo damaged"}); err != nil {
		t.Fatalf("fail: %v", err)
	}
	got, _ := f.svc.Get(ctx, r.ID)
	if got.Status != StatusFailed || got.FailureReason == nil {
		t.Fatalf("unexpected ride: status=%s reason=%v", got.Status, got.FailureReason)
	}
}

func TestSnapshot_PartyOnly(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	r := f.createRide(t, "c1")

	if _, err := f.svc.Snapshot(ctx, r.ID, "d9"); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
	if _, err := f.svc.Snapshot(ctx, "missing", "c1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	f.assign(t, r.ID, "d1", "50.00")
	if _, err := f.svc.Snapshot(ctx, r.ID, "d1"); err != nil {
		t.Fatalf("assigned driver snapshot: %v", err)
	}
}

func TestMirrorLocationAndFillAddresses(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	cmd := createCmd("c1")
	cmd.Dropoff.Address = ""
	r, err := f.svc.Create(ctx, cmd)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	speed := 42.0
	sample := types.LocationSample{Point: types.Point{Lat: 48.85, Lng: 2.30}, Speed: &speed, RecordedAt: f.clock.Now()}
	if err := f.svc.MirrorLocation(ctx, r.ID, sample); err != nil {
		t.Fatalf("mirror: %v", err)
	}
	if err := f.svc.FillAddresses(ctx, r.ID, "ignored", "Château de Versailles"); err != nil {
		t.Fatalf("fill: %v", err)
	}

	got, _ := f.svc.Get(ctx, r.ID)
	if got.LastLocation == nil || got.LastLocation.Point != sample.Point || *got.LastLocation.Speed != speed {
		t.Fatalf("unexpected mirrored location: %+v", got.LastLocation)
	}
	if got.Pickup.Address != "1 Rue de Rivoli" {
		t.Fatalf("existing pickup address overwritten: %q", got.Pickup.Address)
	}
	if got.Dropoff.Address != "Château de Versailles" {
		t.Fatalf("dropoff address not filled: %q", got.Dropoff.Address)
	}
}

func TestCode(t *testing.T) {
	cases := map[error]string{
		ErrForbidden:                      "FORBIDDEN",
		ErrInvalidTransition:              "INVALID_TRANSITION",
		ErrBidNotFound:                    "NOT_FOUND",
		errors.New("boom"):                "INTERNAL",
		wrap(ErrCancellationWindowClosed): "CANCELLATION_WINDOW_CLOSED",
	}
	for err, want := range cases {
		if got := Code(err); got != want {
			t.Errorf("Code(%v) = %s, want %s", err, got, want)
		}
	}
}

func wrap(err error) error {
	return errors.Join(errors.New("context"), err)
}
