// README: Geocoding collaborator (address <-> coordinate) backed by the Google Maps Geocoding API.
package maps

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"googlemaps.github.io/maps"

	"haulbid/internal/types"
)

var ErrNoResult = errors.New("no geocoding result")

type GeocodeService struct {
	client *maps.Client
	opts   Options
}

func NewGeocodeService(apiKey string, opts Options) (*GeocodeService, error) {
	client, err := maps.NewClient(maps.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create maps client: %w", err)
	}
	return &GeocodeService{client: client, opts: opts}, nil
}

// ReverseGeocode returns the formatted address closest to p.
func (s *GeocodeService) ReverseGeocode(ctx context.Context, p types.Point) (string, error) {
	results, err := s.client.ReverseGeocode(ctx, &maps.GeocodingRequest{
		LatLng:   &maps.LatLng{Lat: p.Lat, Lng: p.Lng},
		Language: s.opts.Language,
	})
	if err != nil {
		return "", fmt.Errorf("reverse geocode: %w", err)
	}
	for _, r := range results {
		if addr := strings.TrimSpace(r.FormattedAddress); addr != "" {
			return addr, nil
		}
	}
	return "", ErrNoResult
}

func (s *GeocodeService) Geocode(ctx context.Context, address string) (types.Point, error) {
	results, err := s.client.Geocode(ctx, &maps.GeocodingRequest{
		Address:  address,
		Language: s.opts.Language,
		Region:   s.opts.Region,
	})
	if err != nil {
		return types.Point{}, fmt.Errorf("geocode: %w", err)
	}
	if len(results) == 0 {
		return types.Point{}, ErrNoResult
	}
	loc := results[0].Geometry.Location
	return types.Point{Lat: loc.Lat, Lng: loc.Lng}, nil
}
