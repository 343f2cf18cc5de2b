// README: Offline great-circle router used when no Maps API key is configured.
package maps

import (
	"context"
	"math"

	"haulbid/internal/types"
)

const earthRadiusKm = 6371.0

// Road distance is approximated as the great-circle distance times a detour
// factor, travelled at a constant average speed.
const (
	DefaultDetourFactor = 1.3
	DefaultAverageKmh   = 40.0
)

type GreatCircleRouter struct {
	Detour float64
	Kmh    float64
}

func NewGreatCircleRouter() *GreatCircleRouter {
	return &GreatCircleRouter{Detour: DefaultDetourFactor, Kmh: DefaultAverageKmh}
}

func (g *GreatCircleRouter) Route(_ context.Context, from, to types.Point) (types.Route, error) {
	if !from.Valid() || !to.Valid() {
		return types.Route{}, ErrNoRoute
	}
	km := round3(HaversineKm(from, to) * g.Detour)
	return types.Route{
		DistanceKm:  km,
		DurationMin: round3(km / g.Kmh * 60),
	}, nil
}

// HaversineKm returns the great-circle distance in kilometres between two points.
func HaversineKm(a, b types.Point) float64 {
	dLat := degreesToRadians(b.Lat - a.Lat)
	dLng := degreesToRadians(b.Lng - a.Lng)

	rLat1 := degreesToRadians(a.Lat)
	rLat2 := degreesToRadians(b.Lat)

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(rLat1)*math.Cos(rLat2)*math.Sin(dLng/2)*math.Sin(dLng/2)
	c := 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))

	return earthRadiusKm * c
}

func degreesToRadians(deg float64) float64 {
	return deg * math.Pi / 180.0
}

func round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}
