package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"gorisk/adapters/evaluators"
	"gorisk/adapters/excel"
	"gorisk/adapters/rng"
	"gorisk/adapters/stats/diagnostics"
	"gorisk/app"
	"gorisk/internal/api"
	"gorisk/internal/config"
	"gorisk/internal/logging"
	"gorisk/internal/store"
	"gorisk/internal/testkit"

	"github.com/gin-gonic/gin"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
)

func main() {
	// Load environment variables from .env file
	envErr := godotenv.Load()

	appConfig, err := config.Load()
	if err != nil {
		bootLogger := logging.New(logging.Config{Output: os.Stderr})
		bootLogger.Fatal().Err(err).Msg("failed to load configuration")
	}

	logger := logging.New(logging.Config{Level: appConfig.Logging.Level, Pretty: appConfig.Logging.Pretty, Output: os.Stderr})
	logging.SetGlobalLogger(logger)
	if envErr != nil {
		logger.Debug().Msg("no .env file found, using system environment variables")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	repo, closer, err := store.Open(ctx, appConfig.Database, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize database")
	}
	if closer != nil {
		defer closer.Close()
	} else {
		logger.Warn().Msg("DATABASE_URL not set, runs are kept in memory until shutdown")
		repo = testkit.NewInMemoryRunRepository()
	}

	engine, err := diagnostics.NewEngine(appConfig.Diagnostics, logging.Component(logger, "diagnostics"))
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid diagnostics thresholds")
	}

	hub := api.NewSSEHub(logging.Component(logger, "sse"))
	defer hub.Close()

	service := app.NewSimulationService(
		rng.NewPCGAdapter(),
		engine,
		evaluators.NewRegistry(),
		repo,
		excel.NewExporter(excel.DefaultExportConfig()),
		app.DefaultsFromConfig(appConfig),
		logging.Component(logger, "service"),
		app.WithEvents(hub),
	)

	gin.SetMode(appConfig.Server.GinMode)
	server := &http.Server{
		Addr:    ":" + appConfig.Server.Port,
		Handler: api.NewRouter(service, hub, logging.Component(logger, "http")),
	}

	// Start pprof server for performance profiling
	if appConfig.Profiling.Enabled {
		go serveProfiling(appConfig.Profiling.Port, logger)
	}

	go func() {
		logger.Info().Str("port", appConfig.Server.Port).Bool("persistent", closer != nil).Msg("starting gorisk server")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("server failed")
		}
	}()

	<-ctx.Done()
	logger.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), appConfig.Server.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("graceful shutdown failed")
	}
}

func serveProfiling(port string, logger zerolog.Logger) {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Mount("/debug", middleware.Profiler())
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	logger.Info().Str("port", port).Msgf("profiling server starting, view profiles with: go tool pprof -http=:8081 http://localhost:%s/debug/pprof/profile?seconds=30", port)
	if err := http.ListenAndServe(":"+port, r); err != nil {
		logger.Error().Err(err).Msg("pprof server failed")
	}
}
