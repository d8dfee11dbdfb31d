package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/vantedge/ads-kpi/internal/config"
	"github.com/vantedge/ads-kpi/internal/httpserver"
	"github.com/vantedge/ads-kpi/internal/ingest"
	"github.com/vantedge/ads-kpi/internal/kpi"
	"github.com/vantedge/ads-kpi/internal/metrics"
	"github.com/vantedge/ads-kpi/internal/middleware"
	"github.com/vantedge/ads-kpi/internal/nlq"
	"github.com/vantedge/ads-kpi/internal/warehouse"
)

func main() {
	// Load .env if present; real environment variables win.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		os.Exit(1)
	}

	logger, err := middleware.NewLogger(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("starting ads-kpi",
		zap.String("addr", cfg.Server.Addr),
		zap.String("warehouse_driver", cfg.Warehouse.Driver),
		zap.String("warehouse_path", cfg.Warehouse.Path),
		zap.String("landing_dir", cfg.Ingest.LandingDir),
	)

	ctx := context.Background()
	store, err := warehouse.Open(ctx, cfg.Warehouse, cfg.KPI, logger)
	if err != nil {
		logger.Fatal("failed to open warehouse", zap.Error(err))
	}
	defer store.Close()

	if err := store.EnsureSchema(ctx); err != nil {
		logger.Fatal("failed to ensure warehouse schema", zap.Error(err))
	}

	m := metrics.New("adskpi", prometheus.DefaultRegisterer)

	source := cfg.Warehouse.Path
	if cfg.Warehouse.Driver == "postgres" {
		source = "postgres"
	}
	engine := kpi.NewEngine(store, source, m)
	pipeline := ingest.NewPipeline(store, cfg.Ingest.LandingDir, logger, m)

	var summarizer nlq.Summarizer
	if c := nlq.NewOpenAIClient(cfg.Summarizer); c != nil {
		summarizer = c
		logger.Info("summarizer enabled",
			zap.String("model", cfg.Summarizer.Model),
			zap.Float64("temperature", cfg.Summarizer.Temperature),
		)
	} else {
		logger.Info("summarizer disabled, /ask will omit answers")
	}

	handler := httpserver.NewServer(&httpserver.Dependencies{
		Engine:     engine,
		Pipeline:   pipeline,
		Summarizer: summarizer,
		Config:     cfg,
		Logger:     logger,
		Metrics:    m,
	})

	// Middleware chain: recovery outermost, then logging, then auth.
	auth := middleware.NewAuthMiddleware(cfg.Auth, logger)
	logging := middleware.NewLoggingMiddleware(logger)
	recovery := middleware.NewRecoveryMiddleware(logger)
	chained := recovery.Handler(logging.Handler(auth.Handler(handler)))

	srv := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      chained,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("HTTP server listening", zap.String("addr", cfg.Server.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	// The business API already serves GET /metrics, so the Prometheus
	// scrape endpoint gets its own listener.
	var metricsSrv *http.Server
	if cfg.Metrics.Enabled {
		metricsMux := http.NewServeMux()
		metricsMux.Handle("/metrics", metrics.Handler())
		metricsSrv = &http.Server{Addr: cfg.Metrics.Addr, Handler: metricsMux}
		go func() {
			logger.Info("metrics server listening", zap.String("addr", cfg.Metrics.Addr))
			if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("metrics server failed", zap.Error(err))
			}
		}()
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", zap.Error(err))
	}
	if metricsSrv != nil {
		if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
			logger.Error("metrics server forced to shutdown", zap.Error(err))
		}
	}

	logger.Info("server stopped")
}
