package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/campussite/messaging/internal/messaging/app"
	repoPg "github.com/campussite/messaging/internal/messaging/repository/postgres"
	"github.com/campussite/messaging/internal/messaging/resolver"
	"github.com/campussite/messaging/internal/platform/config"
	"github.com/campussite/messaging/internal/platform/database"
	"github.com/campussite/messaging/internal/platform/logger"
	"github.com/campussite/messaging/internal/platform/messagebroker"
	dirPg "github.com/campussite/messaging/internal/schooldir/postgres"
)

const (
	serviceName          = "dispatch_service"
	natsDispatchSubject  = "messages.dispatch"
	natsDispatchQueueGrp = "dispatchers"
)

func main() {
	cfg, err := config.Load(serviceName)
	if err != nil {
		slog.Error("Failed to load configuration", "service", serviceName, "error", err)
		os.Exit(1)
	}

	appLogger := logger.New(cfg.LogLevel)
	appLogger.Info("Dispatch service starting...", "log_level", cfg.LogLevel)

	dbPool, err := database.NewDBPool(context.Background(), cfg.PostgresDSN)
	if err != nil {
		appLogger.Error("Failed to connect to PostgreSQL database", "error", err)
		os.Exit(1)
	}
	defer dbPool.Close()
	appLogger.Info("Successfully connected to PostgreSQL database")

	natsClient, err := messagebroker.NewNatsClient(cfg.NATSUrl, serviceName, appLogger)
	if err != nil {
		appLogger.Error("Failed to connect to NATS", "error", err)
		os.Exit(1)
	}
	defer natsClient.Close()
	appLogger.Info("Successfully connected to NATS")

	messageRepo := repoPg.NewPgMessageRepository(dbPool)
	configRepo := repoPg.NewPgProviderConfigRepository(dbPool)
	directory := dirPg.NewPgDirectory(dbPool)
	recipients := resolver.New(directory, appLogger)

	dispatchService := app.NewDispatchService(messageRepo, configRepo, recipients, natsClient, appLogger, app.DispatchServiceConfig{
		JobTimeout:          cfg.DispatchJobTimeout,
		ResolveTimeout:      cfg.ResolveTimeout,
		ProviderSendTimeout: cfg.ProviderSendTimeout,
	})

	appCtx, cancelAppCtx := context.WithCancel(context.Background())
	defer cancelAppCtx()

	if err := dispatchService.StartConsumingJobs(appCtx, natsDispatchSubject, natsDispatchQueueGrp); err != nil {
		appLogger.Error("Failed to start NATS job consumer", "error", err)
		os.Exit(1)
	}
	appLogger.Info("NATS consumer started", "subject", natsDispatchSubject, "queue_group", natsDispatchQueueGrp)

	sweeper := app.NewStuckSweeper(messageRepo, natsClient, appLogger, app.SweeperConfig{
		Interval:       cfg.StuckSweepInterval,
		Threshold:      cfg.StuckSendingThreshold,
		RequeueSubject: natsDispatchSubject,
	})
	go sweeper.Run(appCtx)

	quitChan := make(chan os.Signal, 1)
	signal.Notify(quitChan, syscall.SIGINT, syscall.SIGTERM)
	receivedSignal := <-quitChan
	appLogger.Info("Shutdown signal received", "signal", receivedSignal.String())

	cancelAppCtx()
	dispatchService.StopConsumingJobs()
	appLogger.Info("Dispatch service shut down successfully.")
}
