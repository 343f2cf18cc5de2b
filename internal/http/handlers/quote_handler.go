// README: Price estimate handler.
package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"haulbid/internal/modules/pricing"
	"haulbid/internal/types"
)

// Quoter is satisfied by *pricing.Service.
type Quoter interface {
	Quote(ctx context.Context, req pricing.QuoteRequest) (pricing.Quote, error)
}

type QuoteHandler struct {
	pricing Quoter
}

func NewQuoteHandler(p Quoter) *QuoteHandler {
	return &QuoteHandler{pricing: p}
}

type placeReq struct {
	Lat         *float64 `json:"lat" binding:"required"`
	Lng         *float64 `json:"lng" binding:"required"`
	Address     string   `json:"address"`
	AccessNotes string   `json:"access_notes"`
}

func (p placeReq) place() types.Place {
	return types.Place{
		Point:       types.Point{Lat: *p.Lat, Lng: *p.Lng},
		Address:     p.Address,
		AccessNotes: p.AccessNotes,
	}
}

type quoteReq struct {
	Pickup      placeReq   `json:"pickup" binding:"required"`
	Dropoff     placeReq   `json:"dropoff" binding:"required"`
	VehicleType string     `json:"vehicle_type" binding:"required"`
	TripType    string     `json:"trip_type"`
	DepartureAt *time.Time `json:"departure_at"`
	Traffic     string     `json:"traffic"`
	Convoyeur   bool       `json:"convoyeur"`
}

func (r quoteReq) toRequest(now time.Time) pricing.QuoteRequest {
	q := pricing.QuoteRequest{
		Pickup:      r.Pickup.place().Point,
		Dropoff:     r.Dropoff.place().Point,
		VehicleType: types.VehicleType(r.VehicleType),
		TripType:    types.TripType(r.TripType),
		DepartureAt: now,
		Traffic:     pricing.Traffic(r.Traffic),
		Convoyeur:   r.Convoyeur,
	}
	if q.TripType == "" {
		q.TripType = types.TripOneWay
	}
	if r.DepartureAt != nil {
		q.DepartureAt = *r.DepartureAt
	}
	return q
}

func (h *QuoteHandler) Create(c *gin.Context) {
	var req quoteReq
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid json")
		return
	}
	if !validTraffic(req.Traffic) {
		badRequest(c, "unknown traffic level")
		return
	}
	q, err := h.pricing.Quote(c.Request.Context(), req.toRequest(time.Now()))
	if err != nil {
		writeDomainError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, q)
}

func validTraffic(t string) bool {
	switch pricing.Traffic(t) {
	case "", pricing.TrafficLow, pricing.TrafficMedium, pricing.TrafficDense:
		return true
	}
	return false
}
