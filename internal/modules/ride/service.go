// README: Ride service implements the lifecycle state machine on top of the per-ride unit of work.
package ride

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"haulbid/internal/metrics"
	"haulbid/internal/types"
)

type Service struct {
	repo     Repository
	payments PaymentChecker
	log      *slog.Logger
	now      func() time.Time
}

func NewService(repo Repository, payments PaymentChecker, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{repo: repo, payments: payments, log: log, now: time.Now}
}

// Estimate carries the priced route a ride is created from.
type Estimate struct {
	DistanceKm  float64
	DurationMin float64
	MinPrice    decimal.Decimal
	MaxPrice    decimal.Decimal
	Currency    string
}

type CreateCommand struct {
	CustomerID    types.ID
	Pickup        types.Place
	Dropoff       types.Place
	VehicleType   types.VehicleType
	TripType      types.TripType
	Convoyeur     bool
	PaymentMethod PaymentMethod
	Estimate      Estimate
}

type AdvanceCommand struct {
	RideID   types.ID
	DriverID types.ID
	Expected Status
}

type CancelCommand struct {
	RideID types.ID
	Actor  types.Actor
	Reason string
}

type FailCommand struct {
	RideID   types.ID
	DriverID types.ID
	Reason   string
}

func (s *Service) Create(ctx context.Context, cmd CreateCommand) (*Ride, error) {
	if cmd.CustomerID == "" || cmd.VehicleType == "" {
		return nil, ErrBadRequest
	}
	if !cmd.Pickup.Point.Valid() || !cmd.Dropoff.Point.Valid() {
		return nil, ErrBadRequest
	}
	if cmd.Estimate.DistanceKm <= 0 || cmd.Estimate.DurationMin <= 0 {
		return nil, ErrBadRequest
	}
	if cmd.PaymentMethod == "" {
		cmd.PaymentMethod = PaymentCash
	}
	if !cmd.PaymentMethod.Valid() {
		return nil, ErrBadRequest
	}
	if cmd.TripType == "" {
		cmd.TripType = types.TripOneWay
	}
	currency := cmd.Estimate.Currency
	if currency == "" {
		currency = types.DefaultCurrency
	}

	now := s.now().UTC()
	r := &Ride{
		ID:                   types.NewID(),
		CustomerID:           cmd.CustomerID,
		Status:               StatusPendingBids,
		Pickup:               cmd.Pickup,
		Dropoff:              cmd.Dropoff,
		VehicleType:          cmd.VehicleType,
		TripType:             cmd.TripType,
		Convoyeur:            cmd.Convoyeur,
		DistanceKm:           cmd.Estimate.DistanceKm,
		EstimatedDurationMin: cmd.Estimate.DurationMin,
		EstimatedMinPrice:    types.RoundMoney(cmd.Estimate.MinPrice),
		EstimatedMaxPrice:    types.RoundMoney(cmd.Estimate.MaxPrice),
		Currency:             currency,
		PaymentMethod:        cmd.PaymentMethod,
		History: []HistoryEntry{{
			Status:    StatusPendingBids,
			At:        now,
			ActorID:   cmd.CustomerID,
			ActorRole: types.RoleCustomer,
		}},
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.repo.Create(ctx, r); err != nil {
		return nil, err
	}
	metrics.RideTransitions.WithLabelValues(string(StatusPendingBids)).Inc()
	s.log.Info("ride created", "ride_id", r.ID, "customer_id", r.CustomerID, "vehicle_type", r.VehicleType)
	return r, nil
}

// Get returns the current snapshot without access checks.
func (s *Service) Get(ctx context.Context, id types.ID) (*Ride, error) {
	return s.repo.Get(ctx, id)
}

// Snapshot returns the pollable source of truth to a party of the ride.
func (s *Service) Snapshot(ctx context.Context, id types.ID, caller types.ID) (*Ride, error) {
	r, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !r.IsParty(caller) {
		return nil, ErrForbidden
	}
	return r, nil
}

// Advance moves the ride one step forward from expected. Only the assigned
// driver may call it; a stale or duplicate expected status is rejected.
func (s *Service) Advance(ctx context.Context, cmd AdvanceCommand) (Status, error) {
	var next Status
	err := s.repo.InRide(ctx, cmd.RideID, func(u *Unit) error {
		r := u.Ride
		if !r.IsAssignedDriver(cmd.DriverID) {
			return ErrForbidden
		}
		if r.Status != cmd.Expected || cmd.Expected == StatusPendingBids {
			return ErrInvalidTransition
		}
		to, ok := Next(cmd.Expected)
		if !ok {
			return ErrInvalidTransition
		}
		if to == StatusCompleted {
			if err := s.checkCompletion(ctx, r); err != nil {
				return err
			}
		}
		next = to
		return u.Transition(to, types.Actor{ID: cmd.DriverID, Role: types.RoleDriver}, "", nil)
	})
	if err != nil {
		s.log.Debug("advance rejected", "ride_id", cmd.RideID, "expected", cmd.Expected, "err", err)
		return "", err
	}
	metrics.RideTransitions.WithLabelValues(string(next)).Inc()
	s.log.Info("ride advanced", "ride_id", cmd.RideID, "status", next)
	return next, nil
}

func (s *Service) checkCompletion(ctx context.Context, r *Ride) error {
	if r.DriverConfirmedAt == nil {
		return ErrPreconditionNotMet
	}
	if r.PaymentMethod == PaymentCash {
		return nil
	}
	if s.payments == nil {
		return ErrPreconditionNotMet
	}
	settled, err := s.payments.IsSettled(ctx, r.ID)
	if err != nil {
		return err
	}
	if !settled {
		return ErrPreconditionNotMet
	}
	return nil
}

// ConfirmDelivery records the driver's explicit completion confirmation.
func (s *Service) ConfirmDelivery(ctx context.Context, rideID, driverID types.ID) error {
	return s.repo.InRide(ctx, rideID, func(u *Unit) error {
		r := u.Ride
		if !r.IsAssignedDriver(driverID) {
			return ErrForbidden
		}
		if r.Status != StatusDropoffArrived {
			return ErrInvalidTransition
		}
		if r.DriverConfirmedAt != nil {
			return nil
		}
		at := u.Now()
		r.DriverConfirmedAt = &at
		u.Touch()
		return nil
	})
}

func (s *Service) Fail(ctx context.Context, cmd FailCommand) error {
	reason := strings.TrimSpace(cmd.Reason)
	if reason == "" {
		return ErrBadRequest
	}
	err := s.repo.InRide(ctx, cmd.RideID, func(u *Unit) error {
		r := u.Ride
		if !r.IsAssignedDriver(cmd.DriverID) {
			return ErrForbidden
		}
		if !CanTransition(r.Status, StatusFailed) {
			return ErrInvalidTransition
		}
		r.FailureReason = &reason
		return u.Transition(StatusFailed, types.Actor{ID: cmd.DriverID, Role: types.RoleDriver}, reason, nil)
	})
	if err != nil {
		return err
	}
	metrics.RideTransitions.WithLabelValues(string(StatusFailed)).Inc()
	s.log.Warn("ride failed", "ride_id", cmd.RideID, "reason", reason)
	return nil
}

// Cancel is open to the customer and the assigned driver while the ride is
// still inside the cancellation window. Remaining ACTIVE bids are rejected.
func (s *Service) Cancel(ctx context.Context, cmd CancelCommand) error {
	err := s.repo.InRide(ctx, cmd.RideID, func(u *Unit) error {
		r := u.Ride
		if !r.IsParty(cmd.Actor.ID) {
			return ErrForbidden
		}
		if IsTerminal(r.Status) {
			return ErrInvalidTransition
		}
		if !CanCancel(r.Status) {
			return ErrCancellationWindowClosed
		}
		if cmd.Reason != "" {
			reason := cmd.Reason
			r.CancelReason = &reason
		}
		u.RejectActiveBids("")
		return u.Transition(StatusCancelled, cmd.Actor, cmd.Reason, nil)
	})
	if err != nil {
		return err
	}
	metrics.RideTransitions.WithLabelValues(string(StatusCancelled)).Inc()
	s.log.Info("ride cancelled", "ride_id", cmd.RideID, "actor_id", cmd.Actor.ID)
	return nil
}

// FillAddresses sets empty display addresses; it never overwrites text.
func (s *Service) FillAddresses(ctx context.Context, rideID types.ID, pickup, dropoff string) error {
	return s.repo.InRide(ctx, rideID, func(u *Unit) error {
		changed := false
		if u.Ride.Pickup.Address == "" && pickup != "" {
			u.Ride.Pickup.Address = pickup
			changed = true
		}
		if u.Ride.Dropoff.Address == "" && dropoff != "" {
			u.Ride.Dropoff.Address = dropoff
			changed = true
		}
		if changed {
			u.Touch()
		}
		return nil
	})
}

// MirrorLocation stores the latest driver sample for reconnect recovery.
func (s *Service) MirrorLocation(ctx context.Context, rideID types.ID, sample types.LocationSample) error {
	return s.repo.SaveLocation(ctx, rideID, sample)
}

// DriverHasBid reports whether the driver has bid on the ride in any status.
func (s *Service) DriverHasBid(ctx context.Context, rideID, driverID types.ID) (bool, error) {
	bids, err := s.repo.ListBids(ctx, rideID)
	if err != nil {
		return false, err
	}
	for _, b := range bids {
		if b.DriverID == driverID {
			return true, nil
		}
	}
	return false, nil
}
