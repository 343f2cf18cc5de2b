// README: Ride handlers: create, snapshot, cancel and lifecycle moves.
package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"haulbid/internal/http/middleware"
	"haulbid/internal/modules/ride"
	"haulbid/internal/modules/tracking"
	"haulbid/internal/types"
)

// Geocoder fills display addresses; nil disables it.
type Geocoder interface {
	ReverseGeocode(ctx context.Context, p types.Point) (string, error)
}

const geocodeTimeout = 5 * time.Second

type RideHandler struct {
	rides    *ride.Service
	pricing  Quoter
	tracking *tracking.Service
	geocoder Geocoder
	log      *slog.Logger
}

func NewRideHandler(rides *ride.Service, pricing Quoter, tr *tracking.Service, geo Geocoder, log *slog.Logger) *RideHandler {
	if log == nil {
		log = slog.Default()
	}
	return &RideHandler{rides: rides, pricing: pricing, tracking: tr, geocoder: geo, log: log}
}

type createRideReq struct {
	quoteReq
	PaymentMethod string `json:"payment_method"`
}

func (h *RideHandler) Create(c *gin.Context) {
	var req createRideReq
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid json")
		return
	}
	if !validTraffic(req.Traffic) {
		badRequest(c, "unknown traffic level")
		return
	}
	ctx := c.Request.Context()
	qr := req.toRequest(time.Now())
	q, err := h.pricing.Quote(ctx, qr)
	if err != nil {
		writeDomainError(c, err)
		return
	}

	r, err := h.rides.Create(ctx, ride.CreateCommand{
		CustomerID:    middleware.CallerUID(c),
		Pickup:        req.Pickup.place(),
		Dropoff:       req.Dropoff.place(),
		VehicleType:   qr.VehicleType,
		TripType:      q.TripType,
		Convoyeur:     qr.Convoyeur,
		PaymentMethod: ride.PaymentMethod(req.PaymentMethod),
		Estimate: ride.Estimate{
			DistanceKm:  q.Route.DistanceKm,
			DurationMin: q.Route.DurationMin,
			MinPrice:    q.MinPrice,
			MaxPrice:    q.MaxPrice,
			Currency:    q.Currency,
		},
	})
	if err != nil {
		writeDomainError(c, err)
		return
	}
	if h.geocoder != nil && (r.Pickup.Address == "" || r.Dropoff.Address == "") {
		go h.fillAddresses(context.WithoutCancel(ctx), r.Clone())
	}
	writeJSON(c, http.StatusCreated, gin.H{"ride": r, "quote": q})
}

// fillAddresses is best effort; a failed lookup leaves the address empty.
func (h *RideHandler) fillAddresses(ctx context.Context, r *ride.Ride) {
	ctx, cancel := context.WithTimeout(ctx, geocodeTimeout)
	defer cancel()

	lookup := func(p types.Place) string {
		if p.Address != "" {
			return ""
		}
		addr, err := h.geocoder.ReverseGeocode(ctx, p.Point)
		if err != nil {
			h.log.Debug("reverse geocode failed", "ride_id", r.ID, "err", err)
			return ""
		}
		return addr
	}
	pickup, dropoff := lookup(r.Pickup), lookup(r.Dropoff)
	if pickup == "" && dropoff == "" {
		return
	}
	if err := h.rides.FillAddresses(ctx, r.ID, pickup, dropoff); err != nil {
		h.log.Warn("fill addresses failed", "ride_id", r.ID, "err", err)
	}
}

// Get is the pollable source of truth clients re-fetch after reconnecting.
func (h *RideHandler) Get(c *gin.Context) {
	ctx := c.Request.Context()
	r, err := h.rides.Snapshot(ctx, types.ID(c.Param("id")), middleware.CallerUID(c))
	if err != nil {
		writeDomainError(c, err)
		return
	}
	if h.tracking != nil {
		r.LastLocation = h.tracking.Latest(ctx, r)
	}
	writeJSON(c, http.StatusOK, r)
}

type cancelReq struct {
	Reason string `json:"reason"`
}

func (h *RideHandler) Cancel(c *gin.Context) {
	var req cancelReq
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, "invalid json")
			return
		}
	}
	id := types.ID(c.Param("id"))
	err := h.rides.Cancel(c.Request.Context(), ride.CancelCommand{
		RideID: id,
		Actor:  middleware.Caller(c),
		Reason: req.Reason,
	})
	if err != nil {
		writeDomainError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"ride_id": id, "status": ride.StatusCancelled})
}

type advanceReq struct {
	ExpectedStatus string `json:"expected_status" binding:"required"`
}

func (h *RideHandler) Advance(c *gin.Context) {
	var req advanceReq
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "expected_status is required")
		return
	}
	id := types.ID(c.Param("id"))
	next, err := h.rides.Advance(c.Request.Context(), ride.AdvanceCommand{
		RideID:   id,
		DriverID: middleware.CallerUID(c),
		Expected: ride.Status(req.ExpectedStatus),
	})
	if err != nil {
		writeDomainError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"ride_id": id, "status": next})
}

func (h *RideHandler) ConfirmDelivery(c *gin.Context) {
	id := types.ID(c.Param("id"))
	if err := h.rides.ConfirmDelivery(c.Request.Context(), id, middleware.CallerUID(c)); err != nil {
		writeDomainError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type failReq struct {
	Reason string `json:"reason" binding:"required"`
}

func (h *RideHandler) Fail(c *gin.Context) {
	var req failReq
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "reason is required")
		return
	}
	id := types.ID(c.Param("id"))
	err := h.rides.Fail(c.Request.Context(), ride.FailCommand{
		RideID:   id,
		DriverID: middleware.CallerUID(c),
		Reason:   req.Reason,
	})
	if err != nil {
		writeDomainError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"ride_id": id, "status": ride.StatusFailed})
}
