// README: Bid ledger; submit, accept (atomic winner selection), withdraw, and expiry over the per-ride unit of work.
package bidding

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/shopspring/decimal"

	"haulbid/internal/events"
	"haulbid/internal/metrics"
	"haulbid/internal/modules/ride"
	"haulbid/internal/types"
)

const (
	DefaultBidTTL    = 10 * time.Minute
	MaxMessageLength = 500
	sweepBatch       = 200
)

type Config struct {
	BidTTL        time.Duration
	SweepInterval time.Duration
}

type Ledger struct {
	repo ride.Repository
	cfg  Config
	log  *slog.Logger
	now  func() time.Time
}

func NewLedger(repo ride.Repository, cfg Config, log *slog.Logger) *Ledger {
	if cfg.BidTTL <= 0 {
		cfg.BidTTL = DefaultBidTTL
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = 30 * time.Second
	}
	if log == nil {
		log = slog.Default()
	}
	return &Ledger{repo: repo, cfg: cfg, log: log, now: time.Now}
}

// WithClock overrides the clock used to find and display overdue bids.
func (l *Ledger) WithClock(now func() time.Time) *Ledger {
	l.now = now
	return l
}

type SubmitCommand struct {
	RideID              types.ID
	DriverID            types.ID
	ProposedPrice       decimal.Decimal
	EstimatedArrivalMin int
	Message             string
}

type AcceptCommand struct {
	RideID      types.ID
	BidID       types.ID
	RequesterID types.ID
}

type WithdrawCommand struct {
	RideID   types.ID
	BidID    types.ID
	DriverID types.ID
}

func (c SubmitCommand) validate() error {
	if c.RideID == "" || c.DriverID == "" {
		return ride.ErrBadRequest
	}
	if !c.ProposedPrice.IsPositive() || c.EstimatedArrivalMin < 0 {
		return ride.ErrBadRequest
	}
	if utf8.RuneCountInString(c.Message) > MaxMessageLength {
		return ride.ErrBadRequest
	}
	return nil
}

func (l *Ledger) Submit(ctx context.Context, cmd SubmitCommand) (*ride.Bid, error) {
	if err := cmd.validate(); err != nil {
		return nil, l.count("submit", err)
	}
	var bid *ride.Bid
	err := l.repo.InRide(ctx, cmd.RideID, func(u *ride.Unit) error {
		r := u.Ride
		if r.CustomerID == cmd.DriverID {
			return ride.ErrForbidden
		}
		if r.Status != ride.StatusPendingBids {
			return u.Reject(ride.ErrRideNotAcceptingBids)
		}
		if u.ActiveBidBy(cmd.DriverID) != nil {
			return u.Reject(ride.ErrDuplicateActiveBid)
		}
		now := u.Now()
		bid = &ride.Bid{
			ID:                  types.NewID(),
			RideID:              r.ID,
			DriverID:            cmd.DriverID,
			ProposedPrice:       types.RoundMoney(cmd.ProposedPrice),
			EstimatedArrivalMin: cmd.EstimatedArrivalMin,
			Message:             strings.TrimSpace(cmd.Message),
			Status:              ride.BidActive,
			ExpiresAt:           now.Add(l.cfg.BidTTL),
			CreatedAt:           now,
			UpdatedAt:           now,
		}
		u.AddBid(bid)
		u.Emit(events.TypeNewBid, bid.Clone())
		return nil
	})
	if err != nil {
		return nil, l.count("submit", err)
	}
	l.count("submit", nil)
	l.log.Info("bid submitted", "ride_id", cmd.RideID, "bid_id", bid.ID, "driver_id", cmd.DriverID)
	return bid, nil
}

// Accept selects the winning bid. Marking the winner ACCEPTED, rejecting
// every sibling, and moving the ride to BID_ACCEPTED commit as one unit.
func (l *Ledger) Accept(ctx context.Context, cmd AcceptCommand) (*ride.Ride, error) {
	var accepted *ride.Ride
	err := l.repo.InRide(ctx, cmd.RideID, func(u *ride.Unit) error {
		r := u.Ride
		if r.CustomerID != cmd.RequesterID {
			return ride.ErrForbidden
		}
		bid := u.Bid(cmd.BidID)
		if bid == nil {
			return ride.ErrBidNotFound
		}
		if bid.Status != ride.BidActive {
			return u.Reject(ride.ErrBidNotActive)
		}
		if r.Status != ride.StatusPendingBids {
			return u.Reject(ride.ErrRideNotAcceptingBids)
		}

		if err := u.SetBidStatus(bid, ride.BidAccepted); err != nil {
			return err
		}
		rejected := u.RejectActiveBids(bid.ID)

		driverID, bidID, price := bid.DriverID, bid.ID, bid.ProposedPrice
		r.DriverID = &driverID
		r.WinningBidID = &bidID
		r.FinalPrice = &price
		err := u.Transition(ride.StatusBidAccepted, types.Actor{ID: cmd.RequesterID, Role: types.RoleCustomer}, "", map[string]any{
			"driver_id":      driverID,
			"winning_bid_id": bidID,
			"final_price":    price,
			"rejected_bids":  rejected,
		})
		if err != nil {
			return err
		}
		accepted = r.Clone()
		return nil
	})
	if err != nil {
		l.log.Debug("accept rejected", "ride_id", cmd.RideID, "bid_id", cmd.BidID, "err", err)
		return nil, l.count("accept", err)
	}
	l.count("accept", nil)
	metrics.RideTransitions.WithLabelValues(string(ride.StatusBidAccepted)).Inc()
	l.log.Info("bid accepted", "ride_id", cmd.RideID, "bid_id", cmd.BidID, "driver_id", *accepted.DriverID)
	return accepted, nil
}

func (l *Ledger) Withdraw(ctx context.Context, cmd WithdrawCommand) error {
	// A bid of another ride is not found inside this ride's unit.
	err := l.repo.InRide(ctx, cmd.RideID, func(u *ride.Unit) error {
		bid := u.Bid(cmd.BidID)
		if bid == nil {
			return ride.ErrBidNotFound
		}
		if bid.DriverID != cmd.DriverID {
			return ride.ErrForbidden
		}
		if bid.Status != ride.BidActive {
			return u.Reject(ride.ErrBidNotActive)
		}
		if err := u.SetBidStatus(bid, ride.BidWithdrawn); err != nil {
			return err
		}
		u.Emit(events.TypeBidWithdrawn, map[string]any{"ride_id": bid.RideID, "bid_id": bid.ID, "driver_id": bid.DriverID})
		return nil
	})
	if err != nil {
		return l.count("withdraw", err)
	}
	l.count("withdraw", nil)
	l.log.Info("bid withdrawn", "ride_id", cmd.RideID, "bid_id", cmd.BidID)
	return nil
}

// List returns the bids visible to the requester: the customer sees every
// bid, a driver only their own. Overdue ACTIVE bids are reported EXPIRED.
func (l *Ledger) List(ctx context.Context, rideID types.ID, requester types.ID) ([]*ride.Bid, error) {
	r, err := l.repo.Get(ctx, rideID)
	if err != nil {
		return nil, err
	}
	bids, err := l.repo.ListBids(ctx, rideID)
	if err != nil {
		return nil, err
	}
	now := l.now()
	out := make([]*ride.Bid, 0, len(bids))
	for _, b := range bids {
		if r.CustomerID != requester && b.DriverID != requester {
			continue
		}
		if b.IsExpired(now) {
			b.Status = ride.BidExpired
		}
		out = append(out, b)
	}
	if r.CustomerID != requester && len(out) == 0 && !r.IsAssignedDriver(requester) {
		return nil, ride.ErrForbidden
	}
	return out, nil
}

// ExpireSweep expires overdue ACTIVE bids ride by ride and returns how many
// rides were visited. Opening a unit applies expiry, so an empty callback
// is the whole sweep step.
func (l *Ledger) ExpireSweep(ctx context.Context) (int, error) {
	ids, err := l.repo.RidesWithDueBids(ctx, l.now(), sweepBatch)
	if err != nil {
		return 0, err
	}
	visited := 0
	for _, id := range ids {
		expired := 0
		err := l.repo.InRide(ctx, id, func(u *ride.Unit) error {
			for _, ev := range u.Events() {
				if ev.Type == events.TypeBidExpired {
					expired++
				}
			}
			return nil
		})
		if err != nil && !errors.Is(err, ride.ErrNotFound) {
			l.log.Warn("expire sweep failed", "ride_id", id, "err", err)
			continue
		}
		metrics.BidsExpired.Add(float64(expired))
		visited++
	}
	return visited, nil
}

// RunExpiryTicker sweeps on an interval until ctx is cancelled.
func (l *Ledger) RunExpiryTicker(ctx context.Context) {
	ticker := time.NewTicker(l.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := l.ExpireSweep(ctx)
			if err != nil {
				l.log.Error("expire sweep", "err", err)
				continue
			}
			if n > 0 {
				l.log.Debug("expire sweep", "rides", n)
			}
		}
	}
}

func (l *Ledger) count(op string, err error) error {
	result := "ok"
	if err != nil {
		result = ride.Code(err)
	}
	metrics.BidsTotal.WithLabelValues(op, result).Inc()
	return err
}
