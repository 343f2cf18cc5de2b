// README: Routing collaborator backed by the Google Maps Directions API.
package maps

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"googlemaps.github.io/maps"

	"haulbid/internal/metrics"
	"haulbid/internal/types"
)

var ErrNoRoute = errors.New("no route found")

type Options struct {
	Language string
	Region   string
}

// RouteService resolves driving distance, duration and geometry.
type RouteService struct {
	client *maps.Client
	opts   Options
}

// NewRouteService creates a new RouteService with the given API Key.
func NewRouteService(apiKey string, opts Options) (*RouteService, error) {
	client, err := maps.NewClient(maps.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create maps client: %w", err)
	}
	return &RouteService{client: client, opts: opts}, nil
}

func (s *RouteService) Route(ctx context.Context, from, to types.Point) (types.Route, error) {
	start := time.Now()
	r := &maps.DirectionsRequest{
		Origin:      latLng(from),
		Destination: latLng(to),
		Mode:        maps.TravelModeDriving,
		Language:    s.opts.Language,
		Region:      s.opts.Region,
	}

	routes, _, err := s.client.Directions(ctx, r)
	if err != nil {
		metrics.TrackRouteLookup("error", false, time.Since(start))
		return types.Route{}, fmt.Errorf("maps api error: %w", err)
	}
	if len(routes) == 0 || len(routes[0].Legs) == 0 {
		metrics.TrackRouteLookup("empty", false, time.Since(start))
		return types.Route{}, ErrNoRoute
	}
	metrics.TrackRouteLookup("ok", false, time.Since(start))
	return routeFrom(routes[0]), nil
}

func routeFrom(r maps.Route) types.Route {
	var meters int
	var dur time.Duration
	for _, leg := range r.Legs {
		meters += leg.Distance.Meters
		dur += leg.Duration
	}
	return types.Route{
		DistanceKm:  float64(meters) / 1000,
		DurationMin: dur.Minutes(),
		Polyline:    r.OverviewPolyline.Points,
	}
}

func latLng(p types.Point) string {
	return strconv.FormatFloat(p.Lat, 'f', 6, 64) + "," + strconv.FormatFloat(p.Lng, 'f', 6, 64)
}
