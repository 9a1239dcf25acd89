package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"gorisk/app"
	"gorisk/internal/errors"
)

// NewRouter builds the HTTP API. hub may be nil, which disables the event stream.
func NewRouter(service *app.SimulationService, hub *SSEHub, logger zerolog.Logger) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger(logger))

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "persistent": service.Persistent()})
	})

	h := NewRunHandler(service)
	v1 := router.Group("/api/v1")
	{
		v1.GET("/evaluators", h.Evaluators)
		v1.POST("/simulations", h.RunSimulation)
		v1.POST("/mcmc", h.RunMCMC)
		v1.POST("/diagnostics", h.Diagnose)

		runs := v1.Group("/runs")
		runs.GET("", h.ListRuns)
		runs.GET("/:id", h.GetRun)
		runs.GET("/:id/diagnostics", h.GetDiagnostics)
		runs.POST("/:id/diagnostics", h.Rediagnose)
		runs.GET("/:id/sensitivity", h.Sensitivity)
		runs.GET("/:id/export", h.Export)
		runs.GET("/:id/report", h.Report)

		if hub != nil {
			v1.GET("/events", hub.HandleSSE)
		}
	}
	router.NoRoute(func(c *gin.Context) {
		respondError(c, errors.NotFound("route "+c.Request.Method+" "+c.Request.URL.Path))
	})
	return router
}

func requestLogger(logger zerolog.Logger) gin.HandlerFunc {
	log := logger.With().Str("component", "api").Logger()
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		event := log.Info()
		if c.Writer.Status() >= http.StatusInternalServerError {
			event = log.Error().Str("errors", c.Errors.String())
		}
		event.
			Str("method", c.Request.Method).
			Str("path", c.FullPath()).
			Int("status", c.Writer.Status()).
			Int("bytes", c.Writer.Size()).
			Dur("duration_ms", time.Since(start)).
			Msg("HTTP request")
	}
}
