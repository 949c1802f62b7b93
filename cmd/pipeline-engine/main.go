package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/attunestack/attune-pipeline/internal/anonymize"
	"github.com/attunestack/attune-pipeline/internal/api"
	"github.com/attunestack/attune-pipeline/internal/cache"
	"github.com/attunestack/attune-pipeline/internal/config"
	"github.com/attunestack/attune-pipeline/internal/metrics"
	"github.com/attunestack/attune-pipeline/internal/orchestrator"
	"github.com/attunestack/attune-pipeline/internal/repo"
	"github.com/attunestack/attune-pipeline/internal/reward"
	"github.com/attunestack/attune-pipeline/internal/services"
	"github.com/attunestack/attune-pipeline/internal/synth"
	"github.com/attunestack/attune-pipeline/internal/utils"
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
	logger.Info("starting attune-pipeline", slog.String("address", cfg.Server.Address))

	if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
		logger.Error("failed to register metrics", slog.Any("error", err))
		os.Exit(1)
	}

	var cacheProvider cache.Provider = cache.NoopProvider{}
	var valkeyCloser cache.Provider
	if cfg.Cache.Enabled && cfg.Cache.Addr != "" {
		provider, err := cache.NewValkeyProvider(cache.ValkeyConfig{
			Addr:         cfg.Cache.Addr,
			Username:     cfg.Cache.Username,
			Password:     cfg.Cache.Password,
			DB:           cfg.Cache.DB,
			DialTimeout:  cfg.Cache.DialTimeout,
			ReadTimeout:  cfg.Cache.ReadTimeout,
			WriteTimeout: cfg.Cache.WriteTimeout,
			MaxRetries:   cfg.Cache.MaxRetries,
			TLS:          cfg.Cache.TLS,
		})
		if err != nil {
			logger.Warn("valkey cache unavailable", slog.Any("error", err))
		} else {
			cacheProvider = provider
			valkeyCloser = provider
		}
	}
	if valkeyCloser != nil {
		defer valkeyCloser.Close()
	}

	registryStore, err := repo.NewRegistryStore(cfg.Registry.Path)
	if err != nil {
		logger.Error("failed to open registry store", slog.String("path", cfg.Registry.Path), slog.Any("error", err))
		os.Exit(1)
	}
	defer registryStore.Close()

	var telemetryClient *repo.TelemetryClient
	if cfg.Telemetry.BaseURL != "" {
		telemetryClient = repo.NewTelemetryClient(
			cfg.Telemetry.BaseURL,
			cfg.Telemetry.RecordsPath,
			cfg.Telemetry.Timeout,
			cacheProvider,
			cfg.Cache.TelemetryTTL,
		)
	}

	seed := cfg.Trainer.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	logger.Info("seeding random sources", slog.Int64("seed", seed))

	// Request latency and decision latency are tracked separately: the model
	// monitor reads decision p95, which must not absorb training-run durations.
	requestLatencies := utils.NewLatencyTracker(4096)
	decisionLatencies := utils.NewLatencyTracker(4096)
	anonymizer := anonymize.New(utils.ComponentLogger(logger, "anonymizer"), cfg.Anonymizer.Salt, rand.New(rand.NewSource(seed)))
	generator := synth.New(utils.ComponentLogger(logger, "generator"), rand.New(rand.NewSource(seed+1)))
	rewardModel := reward.New(utils.ComponentLogger(logger, "reward"))
	orch := orchestrator.New(utils.ComponentLogger(logger, "orchestrator"), registryStore, cacheProvider, decisionLatencies, rand.New(rand.NewSource(seed+2)))

	loadCtx, cancelLoad := context.WithTimeout(context.Background(), 30*time.Second)
	if err := orch.Load(loadCtx); err != nil {
		cancelLoad()
		logger.Error("failed to load model registry", slog.Any("error", err))
		os.Exit(1)
	}
	cancelLoad()

	pipelineService := services.New(
		logger,
		anonymizer,
		generator,
		rewardModel,
		orch,
		telemetryClient,
		requestLatencies,
		decisionLatencies,
		services.Defaults{
			Epsilon:          cfg.Anonymizer.DefaultEpsilon,
			K:                cfg.Anonymizer.DefaultK,
			SampleCount:      cfg.Generator.DefaultSampleCount,
			QualityThreshold: cfg.Generator.DefaultQualityThreshold,
		},
	)

	server, err := api.NewServer(cfg.Server, pipelineService)
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
	logger.Info("attune-pipeline stopped")
}
