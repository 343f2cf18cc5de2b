// README: Tests for the ride lifecycle graph.
package ride

import "testing"

func TestNext_FollowsForwardOrder(t *testing.T) {
	s := StatusPendingBids
	var got []Status
	for {
		n, ok := Next(s)
		if !ok {
			break
		}
		got = append(got, n)
		s = n
	}
	want := []Status{
		StatusBidAccepted, StatusDriverArriving, StatusPickupArrived, StatusLoading,
		StatusInTransit, StatusDropoffArrived, StatusCompleted,
	}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("step %d: got %s, want %s", i, got[i], want[i])
		}
	}
}

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to Status
		want     bool
	}{
		{StatusPendingBids, StatusBidAccepted, true},
		{StatusPendingBids, StatusDriverArriving, false},
		{StatusBidAccepted, StatusPendingBids, false},
		{StatusDriverArriving, StatusCancelled, true},
		{StatusPickupArrived, StatusCancelled, false},
		{StatusInTransit, StatusCancelled, false},
		{StatusInTransit, StatusFailed, true},
		{StatusDropoffArrived, StatusFailed, true},
		{StatusLoading, StatusFailed, false},
		{StatusCompleted, StatusCancelled, false},
		{StatusCancelled, StatusPendingBids, false},
		{StatusFailed, StatusCompleted, false},
	}
	for _, tt := range tests {
		if got := CanTransition(tt.from, tt.to); got != tt.want {
			t.Errorf("CanTransition(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestCancellationWindow(t *testing.T) {
	open := map[Status]bool{
		StatusPendingBids:    true,
		StatusBidAccepted:    true,
		StatusDriverArriving: true,
	}
	for _, s := range append(forwardOrder, StatusCancelled, StatusFailed) {
		if got := CanCancel(s); got != open[s] {
			t.Errorf("CanCancel(%s) = %v, want %v", s, got, open[s])
		}
	}
}

func TestTerminalStatesHaveNoExits(t *testing.T) {
	for _, s := range []Status{StatusCompleted, StatusCancelled, StatusFailed} {
		if !IsTerminal(s) {
			t.Errorf("%s should be terminal", s)
		}
		if len(AllowedTransitions[s]) != 0 {
			t.Errorf("%s should have no outgoing transitions", s)
		}
	}
}

func TestValidHistory(t *testing.T) {
	h := func(ss ...Status) []HistoryEntry {
		out := make([]HistoryEntry, len(ss))
		for i, s := range ss {
			out[i] = HistoryEntry{Status: s}
		}
		return out
	}
	cases := []struct {
		name string
		in   []HistoryEntry
		want bool
	}{
		{"created", h(StatusPendingBids), true},
		{"completed", h(forwardOrder...), true},
		{"cancelled while pending", h(StatusPendingBids, StatusCancelled), true},
		{"cancelled after acceptance", h(StatusPendingBids, StatusBidAccepted, StatusDriverArriving, StatusCancelled), true},
		{"failed in transit", h(StatusPendingBids, StatusBidAccepted, StatusDriverArriving, StatusPickupArrived, StatusLoading, StatusInTransit, StatusFailed), true},
		{"empty", nil, false},
		{"wrong start", h(StatusBidAccepted), false},
		{"skip", h(StatusPendingBids, StatusDriverArriving), false},
		{"repeat", h(StatusPendingBids, StatusBidAccepted, StatusBidAccepted), false},
		{"regress", h(StatusPendingBids, StatusBidAccepted, StatusPendingBids), false},
		{"cancel after pickup", h(StatusPendingBids, StatusBidAccepted, StatusDriverArriving, StatusPickupArrived, StatusCancelled), false},
		{"entry after terminal", h(StatusPendingBids, StatusCancelled, StatusBidAccepted), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := ValidHistory(tc.in); got != tc.want {
				t.Errorf("ValidHistory = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestRide_HasFinalPrice(t *testing.T) {
	r := &Ride{History: []HistoryEntry{{Status: StatusPendingBids}, {Status: StatusCancelled}}}
	if r.HasFinalPrice() {
		t.Error("ride cancelled before acceptance has no final price")
	}
	r.History = []HistoryEntry{{Status: StatusPendingBids}, {Status: StatusBidAccepted}, {Status: StatusCancelled}}
	if !r.HasFinalPrice() {
		t.Error("ride cancelled after acceptance keeps its final price")
	}
}
