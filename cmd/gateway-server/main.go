package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/mExOms/execution-gateway/internal/api"
	"github.com/mExOms/execution-gateway/internal/config"
	"github.com/mExOms/execution-gateway/internal/gateway"
	"github.com/mExOms/execution-gateway/internal/venue"
	"github.com/mExOms/execution-gateway/pkg/events"
)

func main() {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	logrus.SetFormatter(&logrus.JSONFormatter{})

	cfg, err := config.Load()
	if err != nil {
		logger.Fatalf("Failed to load config: %v", err)
	}
	if level, err := logrus.ParseLevel(cfg.LogLevel); err == nil {
		logrus.SetLevel(level)
		logger.SetLevel(level)
	}

	logger.Info("Starting execution gateway")

	gw := gateway.New(cfg.Gateway())

	// Register venues. Without Binance credentials the gateway runs
	// against the mock venue, which is enough for integration testing
	// of the control plane.
	if cfg.Binance.APIKey != "" {
		gw.RegisterVenue("binance", venue.NewBinanceAdapter(cfg.Binance.APIKey, cfg.Binance.SecretKey, cfg.Binance.Testnet))
		logger.WithField("testnet", cfg.Binance.Testnet).Info("Registered binance venue")
	}
	gw.RegisterVenue(cfg.DefaultVenue, venue.NewMockAdapter())

	if cfg.NATSURL != "" {
		publisher, err := events.Connect(cfg.NATSURL)
		if err != nil {
			logger.Warnf("Event publishing disabled: %v", err)
		} else {
			gw.SetEventPublisher(publisher)
			defer publisher.Close()
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("Shutdown signal received")
		cancel()
	}()

	gw.StartJanitor(ctx, cfg.CleanupInterval(), cfg.OrderRetention())

	srv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      api.NewServer(gw).Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Errorf("Server shutdown error: %v", err)
		}
	}()

	logger.Infof("HTTP server listening on %s", cfg.HTTPAddr)
	logger.Info("  GET    /health")
	logger.Info("  POST   /v1/orders")
	logger.Info("  GET    /v1/orders/{id}/status")
	logger.Info("  DELETE /v1/orders/{id}")

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatalf("Server error: %v", err)
	}
	logger.Info("Execution gateway stopped")
}
