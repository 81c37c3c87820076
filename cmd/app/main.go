package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"outreach-dispatch-service/config"
	"outreach-dispatch-service/internal/adapter"
	"outreach-dispatch-service/internal/api"
	"outreach-dispatch-service/internal/compliance"
	"outreach-dispatch-service/internal/observability"
	"outreach-dispatch-service/internal/ratelimit"
	"outreach-dispatch-service/internal/repository"
	"outreach-dispatch-service/internal/services"
	"outreach-dispatch-service/internal/store"
	"outreach-dispatch-service/internal/worker"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var wg sync.WaitGroup

	logger := observability.InitLogger("outreach-dispatch-service")
	observability.RegisterMetrics()

	cfg, err := config.LoadConfig()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load configuration")
	}

	st, err := store.Open(cfg.DataDir)
	if err != nil {
		logger.Fatal().Err(err).Str("dir", cfg.DataDir).Msg("failed to open record store")
	}
	logger.Info().Str("dir", cfg.DataDir).Msg("record store opened")

	jobManager, server := buildApplication(ctx, st, cfg, logger, &wg)

	startBackgroundJobs(ctx, jobManager, logger)
	startServer(server, logger)

	waitForShutdown(server, cancel, &wg, logger)

	logger.Info().Msg("server gracefully stopped")
}

func buildApplication(appCtx context.Context, st *store.Store, cfg *config.Config, logger zerolog.Logger, wg *sync.WaitGroup) (*worker.JobManager, *http.Server) {
	approvalRepo := repository.NewApprovalRepository(st)
	complianceRepo := repository.NewComplianceRepository(st)
	sendWindowRepo := repository.NewSendWindowRepository(st)
	failedRepo := repository.NewFailedSendRepository(st)
	deadRepo := repository.NewDeadLetterRepository(st)
	eventRepo := repository.NewEventRepository(st)

	gate := compliance.NewGate(complianceRepo, cfg.Dispatch.StripAliases)
	limiter := ratelimit.NewLimiter(sendWindowRepo, cfg.Dispatch.ChannelLimits(), nil)
	adapters := buildAdapters(cfg, logger)

	var sendMu sync.Mutex
	approvalService := services.NewApprovalService(approvalRepo, complianceRepo, failedRepo, eventRepo, gate, logger, nil)
	dispatchService := services.NewDispatchService(&sendMu, approvalRepo, failedRepo, deadRepo, eventRepo, gate, limiter, adapters, cfg.Dispatch, logger, nil)
	retryService := services.NewRetryService(&sendMu, approvalRepo, failedRepo, deadRepo, eventRepo, gate, limiter, adapters, cfg.Dispatch, logger, nil)

	jobManager := worker.NewJobManager(buildJobSpecs(cfg, dispatchService, retryService, gate), logger, wg)

	handler := api.NewHandler(approvalService, dispatchService, retryService, failedRepo, deadRepo, eventRepo, jobManager, appCtx)
	router := api.NewRouter(handler, logger, cfg.CORSOrigins)

	server := &http.Server{
		Addr:    ":" + cfg.ServerPort,
		Handler: router,
	}

	logger.Info().Msg("application components built")
	return jobManager, server
}

func buildAdapters(cfg *config.Config, logger zerolog.Logger) *adapter.Registry {
	registry := adapter.NewRegistry()
	for channel, chCfg := range cfg.Dispatch.ChannelLimits() {
		if chCfg.DryRun || chCfg.ProviderURL == "" {
			registry.Register(channel, adapter.NewSimulatedAdapter(logger))
			logger.Info().Str("channel", string(channel)).Msg("registered simulated adapter")
			continue
		}
		registry.Register(channel, adapter.NewWebhookAdapter(chCfg.ProviderURL, chCfg.Timeout()))
		logger.Info().Str("channel", string(channel)).Str("provider", chCfg.ProviderURL).Msg("registered webhook adapter")
	}
	return registry
}

func buildJobSpecs(cfg *config.Config, dispatchService services.DispatchService, retryService services.RetryService, gate *compliance.Gate) []worker.JobSpec {
	return []worker.JobSpec{
		{
			Name:     "dispatch",
			Interval: time.Duration(cfg.Dispatch.DispatchIntervalSec) * time.Second,
			Run: func(ctx context.Context) error {
				_, err := dispatchService.RunCycle(ctx, 0)
				return err
			},
		},
		{
			Name:     "retry",
			Interval: time.Duration(cfg.Dispatch.RetryIntervalSec) * time.Second,
			Run: func(ctx context.Context) error {
				_, err := retryService.RunSweep(ctx, 0)
				return err
			},
		},
		{
			Name:     "compliance-reload",
			Interval: time.Duration(cfg.Dispatch.ReloadIntervalSec) * time.Second,
			Run:      gate.Reload,
		},
	}
}

func startBackgroundJobs(ctx context.Context, jobManager *worker.JobManager, logger zerolog.Logger) {
	if err := jobManager.StartAll(ctx); err != nil {
		logger.Fatal().Err(err).Msg("failed to start background jobs")
	}
	logger.Info().Strs("jobs", jobManager.Names()).Msg("background jobs started")
}

func startServer(server *http.Server, logger zerolog.Logger) {
	go func() {
		logger.Info().Str("addr", server.Addr).Msg("http server listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("unexpected error while starting server")
		}
	}()
}

func waitForShutdown(server *http.Server, cancelApp context.CancelFunc, wg *sync.WaitGroup, logger zerolog.Logger) {
	shutdownChan := make(chan os.Signal, 1)
	signal.Notify(shutdownChan, syscall.SIGINT, syscall.SIGTERM)

	<-shutdownChan

	logger.Info().Msg("shutting down gracefully")

	// wait HTTP server 15 seconds to shut down
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("unexpected error while shutting down server")
	}

	cancelApp()
	wg.Wait()
}
