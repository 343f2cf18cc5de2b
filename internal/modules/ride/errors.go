// README: Ride/bid error taxonomy and the stable wire codes clients see.
package ride

import "errors"

var (
	ErrNotFound                 = errors.New("ride not found")
	ErrBidNotFound              = errors.New("bid not found")
	ErrForbidden                = errors.New("forbidden")
	ErrInvalidTransition        = errors.New("invalid status transition")
	ErrBidNotActive             = errors.New("bid is not active")
	ErrRideNotAcceptingBids     = errors.New("ride is not accepting bids")
	ErrDuplicateActiveBid       = errors.New("driver already has an active bid on this ride")
	ErrCancellationWindowClosed = errors.New("cancellation window closed")
	ErrPreconditionNotMet       = errors.New("completion precondition not met")
	ErrActiveRide               = errors.New("customer has an active ride")
	ErrBadRequest               = errors.New("bad request")
)

var codes = []struct {
	err  error
	code string
}{
	{ErrNotFound, "NOT_FOUND"},
	{ErrBidNotFound, "NOT_FOUND"},
	{ErrForbidden, "FORBIDDEN"},
	{ErrInvalidTransition, "INVALID_TRANSITION"},
	{ErrBidNotActive, "BID_NOT_ACTIVE"},
	{ErrRideNotAcceptingBids, "RIDE_NOT_ACCEPTING_BIDS"},
	{ErrDuplicateActiveBid, "DUPLICATE_ACTIVE_BID"},
	{ErrCancellationWindowClosed, "CANCELLATION_WINDOW_CLOSED"},
	{ErrPreconditionNotMet, "PRECONDITION_NOT_MET"},
	{ErrActiveRide, "ACTIVE_RIDE"},
	{ErrBadRequest, "BAD_REQUEST"},
}

// Code maps an error to its wire code; unknown errors map to INTERNAL.
func Code(err error) string {
	for _, c := range codes {
		if errors.Is(err, c.err) {
			return c.code
		}
	}
	return "INTERNAL"
}

// IsConflict reports whether err is a routine state-conflict rejection.
func IsConflict(err error) bool {
	switch {
	case errors.Is(err, ErrInvalidTransition),
		errors.Is(err, ErrBidNotActive),
		errors.Is(err, ErrRideNotAcceptingBids),
		errors.Is(err, ErrDuplicateActiveBid),
		errors.Is(err, ErrCancellationWindowClosed),
		errors.Is(err, ErrPreconditionNotMet),
		errors.Is(err, ErrActiveRide):
		return true
	}
	return false
}
