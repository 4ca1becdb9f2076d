package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/datasleuth/datasleuth/internal/api"
	"github.com/datasleuth/datasleuth/internal/config"
	"github.com/datasleuth/datasleuth/internal/database"
	"github.com/datasleuth/datasleuth/internal/engine"
	"github.com/datasleuth/datasleuth/internal/llm"
	"github.com/datasleuth/datasleuth/internal/memory"
	"github.com/datasleuth/datasleuth/internal/metrics"
	"github.com/datasleuth/datasleuth/internal/services"
	"github.com/datasleuth/datasleuth/internal/tools"
	"github.com/datasleuth/datasleuth/internal/utils"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "", "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		slog.Error("failed to load config", slog.String("path", configPath), slog.Any("error", err))
		os.Exit(1)
	}

	logger := utils.NewLogger(cfg.Logging.Level, cfg.Logging.JSON)
	logger.Info("starting datasleuth",
		slog.String("address", cfg.Server.Address),
		slog.String("database", cfg.Database.DSN))

	if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
		logger.Error("failed to register metrics", slog.Any("error", err))
		os.Exit(1)
	}

	db, err := database.NewManager(cfg.Database.DSN)
	if err != nil {
		logger.Error("failed to open database", slog.String("dsn", cfg.Database.DSN), slog.Any("error", err))
		os.Exit(1)
	}
	defer db.Close()

	model := llm.NewClient(
		cfg.Model.BaseURL,
		cfg.Model.APIKey,
		cfg.Model.Model,
		llm.DefaultGenerationConfig(),
		cfg.Model.Timeout,
	)
	if !model.Configured() {
		logger.Warn("model API key not set, investigation endpoints will fail until configured")
	}

	mem := memory.New(cfg.Memory.Capacity, cfg.Memory.SchemaTTL, logger)
	registry := tools.NewDefaultRegistry(db, mem, logger)

	orchestrator := engine.New(logger, model, registry, mem, engine.Config{
		MaxIterations:  cfg.Investigation.MaxIterations,
		PacingDelay:    cfg.Investigation.PacingDelay,
		EmptyCallDelay: cfg.Investigation.EmptyCallDelay,
		RateLimitDelay: cfg.Investigation.RateLimitDelay,
		MaxRetries:     cfg.Investigation.MaxRetries,
	})

	service := services.NewInvestigationService(logger, orchestrator, model, db, mem, cfg.Investigation.MaxRows)

	handler := api.NewHandler(logger, service, registry)
	server, err := api.NewServer(cfg.Server, handler)
	if err != nil {
		logger.Error("failed to create HTTP server", slog.Any("error", err))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var metricsServer *http.Server
	if cfg.Server.MetricsAddress != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		metricsServer = &http.Server{
			Addr:         cfg.Server.MetricsAddress,
			Handler:      mux,
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 15 * time.Second,
		}
		go func() {
			logger.Info("metrics server listening", slog.String("address", cfg.Server.MetricsAddress))
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server exited", slog.Any("error", err))
				stop()
			}
		}()
	}

	go func() {
		if serveErr := server.Start(); serveErr != nil {
			logger.Error("HTTP server exited", slog.Any("error", serveErr))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.GracefulTimeout)
	defer cancel()
	server.Shutdown(shutdownCtx)

	if metricsServer != nil {
		metricsCtx, cancelMetrics := context.WithTimeout(context.Background(), 5*time.Second)
		if err := metricsServer.Shutdown(metricsCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("metrics server shutdown", slog.Any("error", err))
		}
		cancelMetrics()
	}

	// Give remaining goroutines time to finish logging
	time.Sleep(100 * time.Millisecond)
	logger.Info("datasleuth stopped")
}
