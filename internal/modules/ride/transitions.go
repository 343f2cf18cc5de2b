// README: Ride lifecycle graph; forward order, cancellation window, and terminal states.
package ride

// forwardOrder is the only legal progression of a delivered ride.
var forwardOrder = []Status{
	StatusPendingBids,
	StatusBidAccepted,
	StatusDriverArriving,
	StatusPickupArrived,
	StatusLoading,
	StatusInTransit,
	StatusDropoffArrived,
	StatusCompleted,
}

// AllowedTransitions represents the ride state flow as code.
var AllowedTransitions = map[Status][]Status{
	StatusPendingBids:    {StatusBidAccepted, StatusCancelled},
	StatusBidAccepted:    {StatusDriverArriving, StatusCancelled},
	StatusDriverArriving: {StatusPickupArrived, StatusCancelled},
	StatusPickupArrived:  {StatusLoading},
	StatusLoading:        {StatusInTransit},
	StatusInTransit:      {StatusDropoffArrived, StatusFailed},
	StatusDropoffArrived: {StatusCompleted, StatusFailed},
}

func CanTransition(from, to Status) bool {
	for _, s := range AllowedTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Next returns the forward successor of s, if any.
func Next(s Status) (Status, bool) {
	for i, f := range forwardOrder {
		if f == s && i+1 < len(forwardOrder) {
			return forwardOrder[i+1], true
		}
	}
	return "", false
}

// ForwardIndex is the position of s in the forward order, or -1.
func ForwardIndex(s Status) int {
	for i, f := range forwardOrder {
		if f == s {
			return i
		}
	}
	return -1
}

func IsTerminal(s Status) bool {
	return s == StatusCompleted || s == StatusCancelled || s == StatusFailed
}

// CanCancel reports whether s is still inside the cancellation window.
func CanCancel(s Status) bool {
	return CanTransition(s, StatusCancelled)
}

// ValidHistory reports whether h starts at PENDING_BIDS and every later entry
// is a legal transition from the one before it. The result is a prefix of the
// forward order, optionally closed by CANCELLED or FAILED.
func ValidHistory(h []HistoryEntry) bool {
	if len(h) == 0 || h[0].Status != StatusPendingBids {
		return false
	}
	for i := 1; i < len(h); i++ {
		if !CanTransition(h[i-1].Status, h[i].Status) {
			return false
		}
	}
	return true
}

func canTransitionBid(from, to BidStatus) bool {
	return from == BidActive && to != BidActive
}
