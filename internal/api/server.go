// Package api exposes the tracker over HTTP.
//
// Handlers are thin: they validate input, call into the tracker, storage,
// scheduler, and alerting collaborators, and shape JSON. The check pipeline
// (persist, then alert on status change) lives in HandleResult so the bulk
// jobs and the scheduler run the exact same path as a single check.
package api

import (
	"context"
	"errors"
	"log/slog"

	"github.com/gin-gonic/gin"

	"buybox/internal/alerts"
	"buybox/internal/buybox"
	"buybox/internal/scheduler"
	"buybox/internal/storage"
	"buybox/internal/tracker"
)

// Server holds the collaborators the handlers need.
type Server struct {
	Tracker    *tracker.Tracker
	Repo       storage.Repository
	Jobs       *tracker.Registry
	Sched      *scheduler.Scheduler
	Dispatcher *alerts.Dispatcher

	// Delays overrides bulk pacing; nil means the default policy. Tests set
	// tracker.NoDelays.
	Delays tracker.DelayPolicy
}

// Options configures router construction.
type Options struct {
	Environment    string
	AllowedOrigins []string
	RateLimitRPS   float64
}

// NewRouter builds the gin engine with middleware and all routes.
func NewRouter(s *Server, opts Options) *gin.Engine {
	if opts.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(gin.Logger())
	router.Use(CORSMiddleware(opts.AllowedOrigins))
	router.Use(RateLimitMiddleware(opts.RateLimitRPS))

	router.GET("/health", s.Health)

	api := router.Group("/api")
	{
		products := api.Group("/products")
		{
			products.GET("", s.ListProducts)
			products.POST("", s.AddProduct)
			products.GET("/:asin", s.GetProduct)
			products.DELETE("/:asin", s.DeleteProduct)
			products.POST("/:asin/check", s.CheckProduct)
			products.GET("/:asin/history", s.GetHistory)
		}

		checks := api.Group("/checks")
		{
			checks.POST("/bulk", s.StartBulk)
			checks.POST("/bulk-urls", s.StartBulkURLs)
		}

		api.GET("/jobs/:id", s.GetJob)
		api.GET("/stats", s.GetStats)
		api.GET("/scheduler", s.GetScheduler)
		api.PUT("/scheduler", s.UpdateScheduler)

		al := api.Group("/alerts")
		{
			al.GET("/settings", s.GetAlertSettings)
			al.PUT("/settings", s.UpdateAlertSettings)
			al.POST("/test", s.TestAlerts)
		}
	}

	return router
}

// HandleResult is the post-check pipeline: look up the previous state,
// persist, append history, and dispatch alerts on a status change. It is
// used directly by the single-check handlers and passed as the bulk handler.
func (s *Server) HandleResult(ctx context.Context, res *buybox.Result) error {
	prevStatus := ""
	prev, err := s.Repo.Product(ctx, res.ASIN)
	switch {
	case err == nil:
		prevStatus = prev.Status
	case errors.Is(err, storage.ErrNotFound):
	default:
		return err
	}

	if err := s.Repo.UpsertProduct(ctx, res); err != nil {
		return err
	}
	if res.Outcome == buybox.OutcomeSuccess {
		if err := s.Repo.AppendHistory(ctx, res); err != nil {
			return err
		}
	}

	if s.Dispatcher != nil {
		s.Dispatcher.Dispatch(ctx, prevStatus, res)
	}
	return nil
}

// RunRefresh is the scheduler's RunFunc: a bulk pass over the given
// identifiers through the same pipeline.
func (s *Server) RunRefresh(ctx context.Context, asins []string) int {
	results, failed := s.Tracker.RunBulk(ctx, asins, "", s.HandleResult, s.Delays)
	if len(failed) > 0 {
		slog.Warn("scheduled refresh had failures", "failed", len(failed), "ok", len(results))
	}
	return len(results)
}
