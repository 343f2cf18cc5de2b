// README: Bid ledger handlers.
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"haulbid/internal/http/middleware"
	"haulbid/internal/modules/bidding"
	"haulbid/internal/types"
)

type BidHandler struct {
	ledger *bidding.Ledger
}

func NewBidHandler(l *bidding.Ledger) *BidHandler {
	return &BidHandler{ledger: l}
}

func (h *BidHandler) List(c *gin.Context) {
	bids, err := h.ledger.List(c.Request.Context(), types.ID(c.Param("id")), middleware.CallerUID(c))
	if err != nil {
		writeDomainError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"bids": bids})
}

type submitBidReq struct {
	ProposedPrice       decimal.Decimal `json:"proposed_price"`
	EstimatedArrivalMin int             `json:"estimated_arrival_min"`
	Message             string          `json:"message"`
}

func (h *BidHandler) Submit(c *gin.Context) {
	var req submitBidReq
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid json")
		return
	}
	b, err := h.ledger.Submit(c.Request.Context(), bidding.SubmitCommand{
		RideID:              types.ID(c.Param("id")),
		DriverID:            middleware.CallerUID(c),
		ProposedPrice:       req.ProposedPrice,
		EstimatedArrivalMin: req.EstimatedArrivalMin,
		Message:             req.Message,
	})
	if err != nil {
		writeDomainError(c, err)
		return
	}
	writeJSON(c, http.StatusCreated, b)
}

func (h *BidHandler) Accept(c *gin.Context) {
	r, err := h.ledger.Accept(c.Request.Context(), bidding.AcceptCommand{
		RideID:      types.ID(c.Param("id")),
		BidID:       types.ID(c.Param("bidId")),
		RequesterID: middleware.CallerUID(c),
	})
	if err != nil {
		writeDomainError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, r)
}

func (h *BidHandler) Withdraw(c *gin.Context) {
	err := h.ledger.Withdraw(c.Request.Context(), bidding.WithdrawCommand{
		RideID:   types.ID(c.Param("id")),
		BidID:    types.ID(c.Param("bidId")),
		DriverID: middleware.CallerUID(c),
	})
	if err != nil {
		writeDomainError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
