package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/spf13/cobra"

	"entitlement-backend/internal/api"
	"entitlement-backend/internal/db"
	"entitlement-backend/internal/janitor"
	"entitlement-backend/internal/metrics"
	"entitlement-backend/internal/notification"
	"entitlement-backend/internal/report"
	"entitlement-backend/internal/store"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP server and background workers",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := newLogger(cfg)

	if cfg.Tokens.MembershipSecret == "" || cfg.Tokens.DeviceTokenSecret == "" || cfg.Tokens.OperatorSecret == "" {
		return errors.New("membership, device token and operator secrets must be configured")
	}

	var webpushOptions *webpush.Options
	if cfg.Push.PublicKey != "" && cfg.Push.PrivateKey != "" {
		webpushOptions = &webpush.Options{
			VAPIDPublicKey:  cfg.Push.PublicKey,
			VAPIDPrivateKey: cfg.Push.PrivateKey,
			Subscriber:      cfg.Push.Subject,
			TTL:             cfg.Push.TTL,
		}
	} else {
		logger.Warn("VAPID keys are not configured; operator alerts are disabled")
	}

	metrics.MustRegister(serviceName)

	gormDB, err := db.Init(&cfg.Database)
	if err != nil {
		return err
	}
	appStore := store.NewGormStore(gormDB)
	logger.Info("data store initialized")

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var notifier report.Notifier
	if webpushOptions != nil {
		pool := notification.NewWorkerPool(cfg.WorkerPool.Size, appStore, webpushOptions, logger)
		pool.Start(ctx)
		notifier = pool
	}
	svc := api.NewServices(cfg, appStore, notifier, logger)

	go janitor.NewService(cfg.Janitor, appStore, logger).Run(ctx)

	handler := api.NewHandler(cfg, appStore, svc, webpushOptions, logger)
	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           api.NewRouter(cfg, handler),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("HTTP server starting", "port", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("HTTP server failed: %w", err)
		}
	case <-ctx.Done():
		logger.Info("shutdown signal received, stopping services")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("HTTP server shutdown: %w", err)
	}

	logger.Info("server gracefully stopped")
	return nil
}
