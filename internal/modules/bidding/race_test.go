// README: Concurrency tests for bid acceptance against siblings, withdrawal, and the expiry sweep (run with -race).
package bidding

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"haulbid/internal/modules/ride"
	"haulbid/internal/types"
)

func TestConcurrentAcceptDifferentBids(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	r := h.newRide(t, "c1")

	const drivers = 12
	bids := make([]*ride.Bid, drivers)
	for i := 0; i < drivers; i++ {
		bids[i] = h.bid(t, r.ID, types.ID(fmt.Sprintf("d%d", i)), int64(150+i))
	}

	var wg sync.WaitGroup
	errs := make(chan error, drivers)
	for _, b := range bids {
		wg.Add(1)
		go func(bidID types.ID) {
			defer wg.Done()
			_, err := h.ledger.Accept(ctx, AcceptCommand{RideID: r.ID, BidID: bidID, RequesterID: "c1"})
			errs <- err
		}(b.ID)
	}
	wg.Wait()
	close(errs)

	success := 0
	for err := range errs {
		if err == nil {
			success++
			continue
		}
		if !errors.Is(err, ride.ErrBidNotActive) && !errors.Is(err, ride.ErrRideNotAcceptingBids) {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if success != 1 {
		t.Fatalf("expected exactly 1 success, got %d", success)
	}
	assertSingleWinner(t, h, r.ID)
}

func TestConcurrentSubmitSameDriver(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	r := h.newRide(t, "c1")

	const attempts = 10
	var wg sync.WaitGroup
	errs := make(chan error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := h.ledger.Submit(ctx, SubmitCommand{RideID: r.ID, DriverID: "d1", ProposedPrice: decimalOf(100 + i)})
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)

	success := 0
	for err := range errs {
		if err == nil {
			success++
		} else if !errors.Is(err, ride.ErrDuplicateActiveBid) {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if success != 1 {
		t.Fatalf("expected exactly 1 active bid, got %d", success)
	}
}

func TestConcurrentAcceptVsWithdraw(t *testing.T) {
	for round := 0; round < 20; round++ {
		h := newHarness(t)
		ctx := context.Background()
		r := h.newRide(t, "c1")
		b := h.bid(t, r.ID, "d1", 200)

		var wg sync.WaitGroup
		var acceptErr, withdrawErr error
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, acceptErr = h.ledger.Accept(ctx, AcceptCommand{RideID: r.ID, BidID: b.ID, RequesterID: "c1"})
		}()
		go func() {
			defer wg.Done()
			withdrawErr = h.ledger.Withdraw(ctx, WithdrawCommand{RideID: r.ID, BidID: b.ID, DriverID: "d1"})
		}()
		wg.Wait()

		if (acceptErr == nil) == (withdrawErr == nil) {
			t.Fatalf("round %d: exactly one of accept/withdraw must win (accept=%v, withdraw=%v)", round, acceptErr, withdrawErr)
		}
		st := bidStatuses(t, h.store, r.ID)[b.ID]
		if acceptErr == nil && st != ride.BidAccepted {
			t.Fatalf("round %d: accept won but bid is %s", round, st)
		}
		if withdrawErr == nil && st != ride.BidWithdrawn {
			t.Fatalf("round %d: withdraw won but bid is %s", round, st)
		}
	}
}

func TestConcurrentAcceptVsSweep(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	r := h.newRide(t, "c1")
	b := h.bid(t, r.ID, "d1", 200)
	h.clock.Advance(10*time.Minute - time.Nanosecond)

	var wg sync.WaitGroup
	var acceptErr error
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, acceptErr = h.ledger.Accept(ctx, AcceptCommand{RideID: r.ID, BidID: b.ID, RequesterID: "c1"})
	}()
	go func() {
		defer wg.Done()
		h.clock.Advance(time.Nanosecond)
		_, _ = h.ledger.ExpireSweep(ctx)
	}()
	wg.Wait()

	st := bidStatuses(t, h.store, r.ID)[b.ID]
	switch {
	case acceptErr == nil && st != ride.BidAccepted:
		t.Fatalf("accept succeeded but bid is %s", st)
	case acceptErr != nil && st != ride.BidExpired:
		t.Fatalf("accept failed (%v) but bid is %s", acceptErr, st)
	case acceptErr != nil && !errors.Is(acceptErr, ride.ErrBidNotActive):
		t.Fatalf("unexpected accept error: %v", acceptErr)
	}
}

func assertSingleWinner(t *testing.T, h *harness, rideID types.ID) {
	t.Helper()
	bids, err := h.store.ListBids(context.Background(), rideID)
	if err != nil {
		t.Fatalf("list bids: %v", err)
	}
	accepted := 0
	for _, b := range bids {
		switch b.Status {
		case ride.BidAccepted:
			accepted++
		case ride.BidActive:
			t.Fatalf("bid %s still ACTIVE after acceptance", b.ID)
		}
	}
	if accepted != 1 {
		t.Fatalf("expected 1 accepted bid, got %d", accepted)
	}
	r, _ := h.rides.Get(context.Background(), rideID)
	if r.Status != ride.StatusBidAccepted || r.WinningBidID == nil {
		t.Fatalf("ride not moved to BID_ACCEPTED: %s", r.Status)
	}
}
