// README: HTTP router registration.
package http

import (
	"context"
	"log/slog"
	"net/http"
	"slices"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"haulbid/internal/http/handlers"
	"haulbid/internal/http/middleware"
	"haulbid/internal/infra"
	"haulbid/internal/modules/bidding"
	"haulbid/internal/modules/ride"
	"haulbid/internal/modules/tracking"
	"haulbid/internal/types"
)

type RouterDeps struct {
	Pricing     handlers.Quoter
	Rides       *ride.Service
	Ledger      *bidding.Ledger
	Tracking    *tracking.Service
	Transport   *tracking.Transport
	Geocoder    handlers.Geocoder
	Verifier    infra.TokenVerifier
	Log         *slog.Logger
	CORSOrigins []string
	// Ready reports backing-store health for /health; nil means always ready.
	Ready func(ctx context.Context) error
}

func NewRouter(deps RouterDeps) *gin.Engine {
	log := deps.Log
	if log == nil {
		log = slog.Default()
	}
	r := gin.New()
	r.Use(middleware.Recovery(log), middleware.Logging(log), middleware.Prometheus())
	r.Use(cors.New(corsConfig(deps.CORSOrigins)))

	r.GET("/health", health(deps.Ready))
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	customer := middleware.RequireRole(types.RoleCustomer)
	driver := middleware.RequireRole(types.RoleDriver)

	quotes := handlers.NewQuoteHandler(deps.Pricing)
	rides := handlers.NewRideHandler(deps.Rides, deps.Pricing, deps.Tracking, deps.Geocoder, log)
	bids := handlers.NewBidHandler(deps.Ledger)
	track := handlers.NewTrackingHandler(deps.Tracking, deps.Transport)

	api := r.Group("/api", middleware.Auth(deps.Verifier))
	api.POST("/quotes", quotes.Create)

	api.POST("/rides", customer, rides.Create)
	api.GET("/rides/:id", rides.Get)
	api.POST("/rides/:id/cancel", rides.Cancel)
	api.POST("/rides/:id/advance", driver, rides.Advance)
	api.POST("/rides/:id/confirm-delivery", driver, rides.ConfirmDelivery)
	api.POST("/rides/:id/fail", driver, rides.Fail)
	api.POST("/rides/:id/location", driver, track.ReportLocation)

	api.GET("/rides/:id/bids", bids.List)
	api.POST("/rides/:id/bids", driver, bids.Submit)
	api.POST("/rides/:id/bids/:bidId/accept", customer, bids.Accept)
	api.POST("/rides/:id/bids/:bidId/withdraw", driver, bids.Withdraw)

	r.GET("/ws", middleware.Auth(deps.Verifier), track.Connect)

	return r
}

func corsConfig(origins []string) cors.Config {
	cfg := cors.Config{
		AllowMethods:  []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Accept", "Authorization"},
		ExposeHeaders: []string{"Content-Length"},
		MaxAge:        12 * time.Hour,
	}
	if len(origins) == 0 || slices.Contains(origins, "*") {
		cfg.AllowAllOrigins = true
	} else {
		cfg.AllowOrigins = origins
		cfg.AllowCredentials = true
	}
	return cfg
}

func health(ready func(context.Context) error) gin.HandlerFunc {
	return func(c *gin.Context) {
		if ready != nil {
			ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
			defer cancel()
			if err := ready(ctx); err != nil {
				c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "error": err.Error()})
				return
			}
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	}
}
