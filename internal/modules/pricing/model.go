// README: Pricing configuration, vehicle parameters, time windows, and the itemized breakdown.
package pricing

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"haulbid/internal/types"
)

var (
	ErrInvalidRoute         = errors.New("invalid route metrics")
	ErrUnknownVehicleType   = errors.New("unknown vehicle type")
	ErrMissingConfiguration = errors.New("missing pricing configuration")
	ErrRoutingUnavailable   = errors.New("routing unavailable")
)

type Traffic string

const (
	TrafficLow    Traffic = "low"
	TrafficMedium Traffic = "medium"
	TrafficDense  Traffic = "dense"
)

type VehicleParams struct {
	PricePerKm   decimal.Decimal `json:"price_per_km"`
	PricePerHour decimal.Decimal `json:"price_per_hour"`
	MinimumPrice decimal.Decimal `json:"minimum_price"`
}

// Window is a minute-of-day range [Start, End). End before Start wraps past midnight.
type Window struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// ParseWindow parses "HH:MM" bounds.
func ParseWindow(start, end string) (Window, error) {
	s, err := parseHM(start)
	if err != nil {
		return Window{}, err
	}
	e, err := parseHM(end)
	if err != nil {
		return Window{}, err
	}
	return Window{Start: s, End: e}, nil
}

func MustWindow(start, end string) Window {
	w, err := ParseWindow(start, end)
	if err != nil {
		panic(err)
	}
	return w
}

func parseHM(v string) (int, error) {
	h, m, ok := strings.Cut(strings.TrimSpace(v), ":")
	if !ok {
		return 0, fmt.Errorf("time %q: want HH:MM", v)
	}
	hh, err := strconv.Atoi(h)
	if err != nil || hh < 0 || hh > 24 {
		return 0, fmt.Errorf("time %q: bad hour", v)
	}
	mm, err := strconv.Atoi(m)
	if err != nil || mm < 0 || mm > 59 || (hh == 24 && mm != 0) {
		return 0, fmt.Errorf("time %q: bad minute", v)
	}
	return hh*60 + mm, nil
}

func (w Window) Contains(minute int) bool {
	if w.Start <= w.End {
		return minute >= w.Start && minute < w.End
	}
	return minute >= w.Start || minute < w.End
}

func (w Window) String() string {
	return fmt.Sprintf("%02d:%02d-%02d:%02d", w.Start/60, w.Start%60, w.End/60, w.End%60)
}

func MinuteOfDay(t time.Time) int {
	return t.Hour()*60 + t.Minute()
}

type Config struct {
	Currency     string                              `json:"currency"`
	Timezone     string                              `json:"timezone"`
	TripType     map[types.TripType]decimal.Decimal  `json:"trip_type"`
	Weekend      decimal.Decimal                     `json:"weekend"`
	Peak         decimal.Decimal                     `json:"peak"`
	Night        decimal.Decimal                     `json:"night"`
	PeakWindows  []Window                            `json:"peak_windows"`
	NightWindows []Window                            `json:"night_windows"`
	Traffic      map[Traffic]decimal.Decimal         `json:"traffic"`
	ConvoyeurFee decimal.Decimal                     `json:"convoyeur_fee"`
	BandLow      decimal.Decimal                     `json:"band_low"`
	BandHigh     decimal.Decimal                     `json:"band_high"`
	Vehicles     map[types.VehicleType]VehicleParams `json:"vehicles"`
}

// DefaultBand is the estimate band applied around the computed price.
var (
	DefaultBandLow  = decimal.RequireFromString("0.9")
	DefaultBandHigh = decimal.RequireFromString("1.2")
)

type Input struct {
	DistanceKm  float64
	DurationMin float64
	VehicleType types.VehicleType
	TripType    types.TripType
	DepartureAt time.Time
	Traffic     Traffic
	Convoyeur   bool
}

type Breakdown struct {
	BasePrice          decimal.Decimal `json:"base_price"`
	TripTypeMultiplier decimal.Decimal `json:"trip_type_multiplier"`
	WithTripType       decimal.Decimal `json:"with_trip_type"`
	TimeSlotMultiplier decimal.Decimal `json:"time_slot_multiplier"`
	WithTimeSlot       decimal.Decimal `json:"with_time_slot"`
	TrafficMultiplier  decimal.Decimal `json:"traffic_multiplier"`
	WithTraffic        decimal.Decimal `json:"with_traffic"`
	ConvoyeurFee       decimal.Decimal `json:"convoyeur_fee"`
	WithFee            decimal.Decimal `json:"with_fee"`
	MinimumPrice       decimal.Decimal `json:"minimum_price"`
	MinimumApplied     bool            `json:"minimum_applied"`
	FinalPrice         decimal.Decimal `json:"final_price"`
}
