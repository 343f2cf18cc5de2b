// README: HTTP fallback for driver location reports and the WebSocket upgrade.
package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"haulbid/internal/http/middleware"
	"haulbid/internal/modules/tracking"
	"haulbid/internal/types"
)

type TrackingHandler struct {
	svc       *tracking.Service
	transport *tracking.Transport
}

func NewTrackingHandler(svc *tracking.Service, transport *tracking.Transport) *TrackingHandler {
	return &TrackingHandler{svc: svc, transport: transport}
}

type locationReq struct {
	Lat       *float64   `json:"lat" binding:"required"`
	Lng       *float64   `json:"lng" binding:"required"`
	Speed     *float64   `json:"speed"`
	Heading   *float64   `json:"heading"`
	Timestamp *time.Time `json:"timestamp"`
}

func (h *TrackingHandler) ReportLocation(c *gin.Context) {
	var req locationReq
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "lat and lng are required")
		return
	}
	sample := types.LocationSample{
		Point:   types.Point{Lat: *req.Lat, Lng: *req.Lng},
		Speed:   req.Speed,
		Heading: req.Heading,
	}
	if req.Timestamp != nil {
		sample.RecordedAt = req.Timestamp.UTC()
	}
	err := h.svc.ReportLocation(c.Request.Context(), tracking.LocationReport{
		Actor:  middleware.Caller(c),
		RideID: types.ID(c.Param("id")),
		Sample: sample,
	})
	if err != nil {
		writeDomainError(c, err)
		return
	}
	c.Status(http.StatusAccepted)
}

func (h *TrackingHandler) Connect(c *gin.Context) {
	h.transport.Serve(c.Writer, c.Request, middleware.Caller(c))
}
