// README: Ride aggregate, bids, status history, and the ride/bid status enums.
package ride

import (
	"time"

	"github.com/shopspring/decimal"

	"haulbid/internal/types"
)

type Status string

const (
	StatusPendingBids    Status = "PENDING_BIDS"
	StatusBidAccepted    Status = "BID_ACCEPTED"
	StatusDriverArriving Status = "DRIVER_ARRIVING"
	StatusPickupArrived  Status = "PICKUP_ARRIVED"
	StatusLoading        Status = "LOADING"
	StatusInTransit      Status = "IN_TRANSIT"
	StatusDropoffArrived Status = "DROPOFF_ARRIVED"
	StatusCompleted      Status = "COMPLETED"
	StatusCancelled      Status = "CANCELLED"
	StatusFailed         Status = "FAILED"
)

type BidStatus string

const (
	BidActive    BidStatus = "ACTIVE"
	BidAccepted  BidStatus = "ACCEPTED"
	BidRejected  BidStatus = "REJECTED"
	BidExpired   BidStatus = "EXPIRED"
	BidWithdrawn BidStatus = "WITHDRAWN"
)

type PaymentMethod string

const (
	PaymentCash   PaymentMethod = "cash"
	PaymentCard   PaymentMethod = "card"
	PaymentWallet PaymentMethod = "wallet"
)

func (m PaymentMethod) Valid() bool {
	switch m {
	case PaymentCash, PaymentCard, PaymentWallet:
		return true
	}
	return false
}

type Ride struct {
	ID                   types.ID              `json:"id"`
	CustomerID           types.ID              `json:"customer_id"`
	DriverID             *types.ID             `json:"driver_id,omitempty"`
	Status               Status                `json:"status"`
	Pickup               types.Place           `json:"pickup"`
	Dropoff              types.Place           `json:"dropoff"`
	VehicleType          types.VehicleType     `json:"vehicle_type"`
	TripType             types.TripType        `json:"trip_type"`
	Convoyeur            bool                  `json:"convoyeur"`
	DistanceKm           float64               `json:"distance_km"`
	EstimatedDurationMin float64               `json:"estimated_duration_min"`
	EstimatedMinPrice    decimal.Decimal       `json:"estimated_min_price"`
	EstimatedMaxPrice    decimal.Decimal       `json:"estimated_max_price"`
	FinalPrice           *decimal.Decimal      `json:"final_price,omitempty"`
	Currency             string                `json:"currency"`
	WinningBidID         *types.ID             `json:"winning_bid_id,omitempty"`
	PaymentMethod        PaymentMethod         `json:"payment_method"`
	DriverConfirmedAt    *time.Time            `json:"driver_confirmed_at,omitempty"`
	CancelReason         *string               `json:"cancel_reason,omitempty"`
	FailureReason        *string               `json:"failure_reason,omitempty"`
	LastLocation         *types.LocationSample `json:"last_location,omitempty"`
	History              []HistoryEntry        `json:"status_history"`
	CreatedAt            time.Time             `json:"created_at"`
	UpdatedAt            time.Time             `json:"updated_at"`
}

type HistoryEntry struct {
	Status    Status     `json:"status"`
	At        time.Time  `json:"at"`
	ActorID   types.ID   `json:"actor_id"`
	ActorRole types.Role `json:"actor_role"`
	Note      string     `json:"note,omitempty"`
}

type Bid struct {
	ID                  types.ID        `json:"id"`
	RideID              types.ID        `json:"ride_id"`
	DriverID            types.ID        `json:"driver_id"`
	ProposedPrice       decimal.Decimal `json:"proposed_price"`
	EstimatedArrivalMin int             `json:"estimated_arrival_min"`
	Message             string          `json:"message,omitempty"`
	Status              BidStatus       `json:"status"`
	ExpiresAt           time.Time       `json:"expires_at"`
	CreatedAt           time.Time       `json:"created_at"`
	UpdatedAt           time.Time       `json:"updated_at"`
}

// IsExpired reports whether an ACTIVE bid has passed its expiry.
func (b *Bid) IsExpired(now time.Time) bool {
	return b.Status == BidActive && !now.Before(b.ExpiresAt)
}

// IsParty reports whether the user is the customer or the assigned driver.
func (r *Ride) IsParty(userID types.ID) bool {
	return r.CustomerID == userID || r.IsAssignedDriver(userID)
}

func (r *Ride) IsAssignedDriver(userID types.ID) bool {
	return r.DriverID != nil && *r.DriverID == userID
}

// HasFinalPrice reports whether the ride went through bid acceptance. The
// agreed price is kept after a later cancellation or failure.
func (r *Ride) HasFinalPrice() bool {
	for _, e := range r.History {
		if e.Status == StatusBidAccepted {
			return true
		}
	}
	return false
}

func (r *Ride) Clone() *Ride {
	if r == nil {
		return nil
	}
	c := *r
	c.DriverID = clonePtr(r.DriverID)
	c.FinalPrice = clonePtr(r.FinalPrice)
	c.WinningBidID = clonePtr(r.WinningBidID)
	c.DriverConfirmedAt = clonePtr(r.DriverConfirmedAt)
	c.CancelReason = clonePtr(r.CancelReason)
	c.FailureReason = clonePtr(r.FailureReason)
	if r.LastLocation != nil {
		loc := *r.LastLocation
		loc.Speed = clonePtr(r.LastLocation.Speed)
		loc.Heading = clonePtr(r.LastLocation.Heading)
		c.LastLocation = &loc
	}
	c.History = append([]HistoryEntry(nil), r.History...)
	return &c
}

func (b *Bid) Clone() *Bid {
	if b == nil {
		return nil
	}
	c := *b
	return &c
}

func cloneBids(in []*Bid) []*Bid {
	out := make([]*Bid, len(in))
	for i, b := range in {
		out[i] = b.Clone()
	}
	return out
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
