// README: Pure pricing engine; six fixed steps with two-decimal rounding after each.
package pricing

import (
	"math"
	"time"

	"github.com/shopspring/decimal"

	"haulbid/internal/types"
)

var (
	one   = decimal.NewFromInt(1)
	sixty = decimal.NewFromInt(60)
)

// Calculate prices a route. The departure time is read in its own location;
// callers convert it to the pricing timezone first.
func Calculate(in Input, cfg Config) (Breakdown, error) {
	if !positive(in.DistanceKm) || !positive(in.DurationMin) {
		return Breakdown{}, ErrInvalidRoute
	}
	vehicle, ok := cfg.Vehicles[in.VehicleType]
	if !ok {
		return Breakdown{}, ErrUnknownVehicleType
	}
	tripType := in.TripType
	if tripType == "" {
		tripType = types.TripOneWay
	}
	tripCoef, ok := cfg.TripType[tripType]
	if !ok {
		return Breakdown{}, ErrMissingConfiguration
	}
	traffic := in.Traffic
	if traffic == "" {
		traffic = TrafficLow
	}
	trafficCoef, ok := cfg.Traffic[traffic]
	if !ok {
		return Breakdown{}, ErrMissingConfiguration
	}
	slotCoef := TimeSlotCoefficient(in.DepartureAt, cfg)

	var b Breakdown
	distance := decimal.NewFromFloat(in.DistanceKm)
	hours := decimal.NewFromFloat(in.DurationMin).Div(sixty)

	// 1. base
	b.BasePrice = types.RoundMoney(distance.Mul(vehicle.PricePerKm).Add(hours.Mul(vehicle.PricePerHour)))
	// 2. trip type
	b.TripTypeMultiplier = tripCoef
	b.WithTripType = types.RoundMoney(b.BasePrice.Mul(tripCoef))
	// 3. time slot
	b.TimeSlotMultiplier = slotCoef
	b.WithTimeSlot = types.RoundMoney(b.WithTripType.Mul(slotCoef))
	// 4. traffic
	b.TrafficMultiplier = trafficCoef
	b.WithTraffic = types.RoundMoney(b.WithTimeSlot.Mul(trafficCoef))
	// 5. convoyeur
	b.ConvoyeurFee = decimal.Zero
	if in.Convoyeur {
		b.ConvoyeurFee = types.RoundMoney(cfg.ConvoyeurFee)
	}
	b.WithFee = types.RoundMoney(b.WithTraffic.Add(b.ConvoyeurFee))
	// 6. floor
	b.MinimumPrice = types.RoundMoney(vehicle.MinimumPrice)
	b.FinalPrice = b.WithFee
	if b.WithFee.LessThan(b.MinimumPrice) {
		b.FinalPrice = b.MinimumPrice
		b.MinimumApplied = true
	}
	return b, nil
}

// TimeSlotCoefficient is weekend × peak × night for the departure time.
// Unset coefficients count as 1.
func TimeSlotCoefficient(at time.Time, cfg Config) decimal.Decimal {
	coef := one
	if wd := at.Weekday(); wd == time.Saturday || wd == time.Sunday {
		coef = coef.Mul(orOne(cfg.Weekend))
	}
	minute := MinuteOfDay(at)
	if inAny(cfg.PeakWindows, minute) {
		coef = coef.Mul(orOne(cfg.Peak))
	}
	if inAny(cfg.NightWindows, minute) {
		coef = coef.Mul(orOne(cfg.Night))
	}
	return coef
}

// Band returns the min/max estimate shown before bidding, floored at the
// vehicle minimum.
func Band(b Breakdown, cfg Config) (decimal.Decimal, decimal.Decimal) {
	low, high := cfg.BandLow, cfg.BandHigh
	if low.IsZero() {
		low = DefaultBandLow
	}
	if high.IsZero() {
		high = DefaultBandHigh
	}
	lo := decimal.Max(types.RoundMoney(b.FinalPrice.Mul(low)), b.MinimumPrice)
	hi := decimal.Max(types.RoundMoney(b.FinalPrice.Mul(high)), b.MinimumPrice)
	return lo, hi
}

func inAny(ws []Window, minute int) bool {
	for _, w := range ws {
		if w.Contains(minute) {
			return true
		}
	}
	return false
}

func orOne(d decimal.Decimal) decimal.Decimal {
	if d.IsZero() {
		return one
	}
	return d
}

func positive(v float64) bool {
	return v > 0 && !math.IsNaN(v) && !math.IsInf(v, 0)
}
