// README: Base handler utilities (JSON helpers, error mapping).
package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"haulbid/internal/modules/pricing"
	"haulbid/internal/modules/ride"
)

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func writeJSON(c *gin.Context, status int, v any) {
	c.JSON(status, v)
}

func writeError(c *gin.Context, status int, code, msg string) {
	c.AbortWithStatusJSON(status, errorResponse{Error: msg, Code: code})
}

func badRequest(c *gin.Context, msg string) {
	writeError(c, http.StatusBadRequest, "BAD_REQUEST", msg)
}

// writeDomainError maps module sentinels to HTTP statuses.
func writeDomainError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, pricing.ErrInvalidRoute):
		writeError(c, http.StatusBadRequest, "INVALID_ROUTE", err.Error())
	case errors.Is(err, pricing.ErrUnknownVehicleType):
		writeError(c, http.StatusBadRequest, "UNKNOWN_VEHICLE_TYPE", err.Error())
	case errors.Is(err, pricing.ErrRoutingUnavailable):
		writeError(c, http.StatusBadGateway, "ROUTING_UNAVAILABLE", "routing service unavailable")
	case errors.Is(err, pricing.ErrMissingConfiguration):
		_ = c.Error(err)
		writeError(c, http.StatusInternalServerError, "MISSING_CONFIGURATION", "pricing is not configured")
	case errors.Is(err, ride.ErrBadRequest):
		writeError(c, http.StatusBadRequest, ride.Code(err), err.Error())
	case errors.Is(err, ride.ErrForbidden):
		writeError(c, http.StatusForbidden, ride.Code(err), err.Error())
	case errors.Is(err, ride.ErrNotFound), errors.Is(err, ride.ErrBidNotFound):
		writeError(c, http.StatusNotFound, ride.Code(err), err.Error())
	case errors.Is(err, ride.ErrPreconditionNotMet):
		writeError(c, http.StatusUnprocessableEntity, ride.Code(err), err.Error())
	case ride.IsConflict(err):
		writeError(c, http.StatusConflict, ride.Code(err), err.Error())
	default:
		_ = c.Error(err)
		writeError(c, http.StatusInternalServerError, "INTERNAL", "internal error")
	}
}
