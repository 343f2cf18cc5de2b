// README: Identity, geography, and participant value types used by every module.
package types

import (
	"time"

	"github.com/google/uuid"
)

type ID string

func NewID() ID {
	return ID(uuid.NewString())
}

func (id ID) String() string { return string(id) }

type Point struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Valid reports whether the point lies within WGS84 bounds.
func (p Point) Valid() bool {
	return p.Lat >= -90 && p.Lat <= 90 && p.Lng >= -180 && p.Lng <= 180
}

// Place is a coordinate with the free-text address shown to participants.
type Place struct {
	Point       Point  `json:"point"`
	Address     string `json:"address"`
	AccessNotes string `json:"access_notes,omitempty"`
}

type Role string

const (
	RoleCustomer Role = "customer"
	RoleDriver   Role = "driver"
	RoleSystem   Role = "system"
)

// Caller reports whether r may be carried by an access token.
func (r Role) Caller() bool {
	return r == RoleCustomer || r == RoleDriver
}

type VehicleType string

const (
	VehicleSmallVan  VehicleType = "SMALL_VAN"
	VehicleMediumVan VehicleType = "MEDIUM_VAN"
	VehicleLargeVan  VehicleType = "LARGE_VAN"
)

type TripType string

const (
	TripOneWay    TripType = "one_way"
	TripRoundTrip TripType = "round_trip"
)

// LocationSample is one driver position report.
type LocationSample struct {
	Point      Point     `json:"point"`
	Speed      *float64  `json:"speed,omitempty"`
	Heading    *float64  `json:"heading,omitempty"`
	RecordedAt time.Time `json:"recorded_at"`
}

// Route is what the routing collaborator returns for a pickup/dropoff pair.
type Route struct {
	DistanceKm  float64 `json:"distance_km"`
	DurationMin float64 `json:"duration_min"`
	Polyline    string  `json:"polyline,omitempty"`
}

// Actor is an authenticated participant as seen by the matching core.
type Actor struct {
	ID   ID   `json:"id"`
	Role Role `json:"role"`
}

var SystemActor = Actor{ID: "system", Role: RoleSystem}
