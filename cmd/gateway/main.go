package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"
	"golang.org/x/sync/errgroup"

	"github.com/cascadetel/smppgw/internal/gateway/app"
	"github.com/cascadetel/smppgw/internal/gateway/repository/postgres"
	httptransport "github.com/cascadetel/smppgw/internal/gateway/transport/http"
	"github.com/cascadetel/smppgw/internal/platform/config"
	"github.com/cascadetel/smppgw/internal/platform/database"
	"github.com/cascadetel/smppgw/internal/platform/logger"
	"github.com/cascadetel/smppgw/internal/platform/messagebroker"
	"github.com/cascadetel/smppgw/internal/smpp"
)

func main() {
	cfg, err := config.Load("./configs", "config")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	appLogger := logger.New(cfg.LogLevel)
	appLogger.Info("smppgw starting", "log_level", cfg.LogLevel)

	// A bad session plan is a config error; refuse to start on it.
	descriptors, err := smpp.BuildDescriptors(cfg)
	if err != nil {
		appLogger.Error("invalid SMPP session configuration", "error", err)
		os.Exit(1)
	}
	appLogger.Info("session plan built", "sessions", len(descriptors))

	rootCtx, rootCancel := context.WithCancel(context.Background())
	defer rootCancel()

	dbPool, err := database.NewDBPool(rootCtx, cfg.PostgresDSN)
	if err != nil {
		appLogger.Error("failed to connect to PostgreSQL", "error", err)
		os.Exit(1)
	}
	defer dbPool.Close()
	appLogger.Info("connected to PostgreSQL")

	natsClient, err := messagebroker.NewNatsClient(cfg.NATSUrl, "smppgw", appLogger)
	if err != nil {
		appLogger.Error("failed to connect to NATS", "error", err)
		os.Exit(1)
	}
	defer natsClient.Close()
	appLogger.Info("connected to NATS")

	messageRepo := postgres.NewPgOutboundMessageRepository(dbPool)
	receiptRepo := postgres.NewPgDeliveryReceiptRepository(dbPool)
	delayLogRepo := postgres.NewPgDelayLogRepository(dbPool)

	notifier := app.NewNotifier(natsClient, delayLogRepo, cfg.Delay.Threshold, appLogger)
	dlrProcessor := app.NewDlrProcessor(messageRepo, receiptRepo, appLogger)

	pool := smpp.NewSubmitPool(cfg.SMPP.SubmitWorkers)
	transport := smpp.NewGosmppTransport(appLogger)
	bindManager := smpp.NewBindManager(descriptors, transport, messageRepo, pool,
		notifier, dlrProcessor, appLogger)

	router := app.NewOperatorRouter(cfg.SMPP, descriptors, bindManager, appLogger)
	submission := app.NewSubmissionService(messageRepo, router, cfg.DefaultCountryCode, appLogger)
	rerouter := app.NewMessageRerouter(messageRepo, router, bindManager, descriptors,
		cfg.SMPP.RerouteInterval, appLogger)
	retryScheduler := smpp.NewRetryScheduler(messageRepo, cfg.Retry, notifier, appLogger)
	delayMonitor := app.NewDelayMonitor(messageRepo, notifier, cfg.Delay, appLogger)

	alertService := app.NewAlertService(appLogger)
	if err := alertService.Start(natsClient); err != nil {
		appLogger.Error("failed to start alert service", "error", err)
		os.Exit(1)
	}
	defer alertService.Stop()

	bindManager.Start()

	workerCtx, workerCancel := context.WithCancel(rootCtx)
	workers, _ := errgroup.WithContext(workerCtx)
	workers.Go(func() error { retryScheduler.Run(workerCtx); return nil })
	workers.Go(func() error { delayMonitor.Run(workerCtx); return nil })
	workers.Go(func() error { rerouter.Run(workerCtx); return nil })

	validate := validator.New()
	smsHandler := httptransport.NewSmsHandler(submission, validate, appLogger)
	trackingHandler := httptransport.NewTrackingHandler(messageRepo, receiptRepo,
		cfg.DefaultCountryCode, appLogger)
	adminHandler := httptransport.NewAdminHandler(bindManager, retryScheduler,
		alertService, router, messageRepo, appLogger)

	handler := httptransport.NewRouter(httptransport.RouterDeps{
		Sms:      smsHandler,
		Tracking: trackingHandler,
		Admin:    adminHandler,
	}, cfg.APIKeyHashes, appLogger)

	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		appLogger.Info("HTTP server listening", "port", cfg.HTTPPort)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			appLogger.Error("HTTP server failed", "error", err)
			rootCancel()
		}
	}()

	quitChan := make(chan os.Signal, 1)
	signal.Notify(quitChan, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-quitChan:
		appLogger.Info("shutdown signal received", "signal", sig.String())
	case <-rootCtx.Done():
		appLogger.Error("fatal component failure, shutting down")
	}

	// Shutdown order: stop accepting work, stop the background workers,
	// unbind the sessions, then release shared resources via defers.
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		appLogger.Warn("HTTP server shutdown incomplete", "error", err)
	}

	workerCancel()
	if err := workers.Wait(); err != nil {
		appLogger.Warn("worker shutdown error", "error", err)
	}

	if err := bindManager.Stop(shutdownCtx); err != nil {
		appLogger.Warn("session shutdown incomplete", "error", err)
	}

	appLogger.Info("smppgw stopped")
}
