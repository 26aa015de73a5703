package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cleanops/opscore/internal/breaker"
	"github.com/cleanops/opscore/internal/clockcal"
	"github.com/cleanops/opscore/internal/config"
	"github.com/cleanops/opscore/internal/httpapi"
	"github.com/cleanops/opscore/internal/idempotency"
	"github.com/cleanops/opscore/internal/outbox"
	"github.com/cleanops/opscore/internal/payments"
	"github.com/cleanops/opscore/internal/policy"
	"github.com/cleanops/opscore/internal/ratelimit"
	"github.com/cleanops/opscore/internal/scheduling"
	"github.com/cleanops/opscore/pkg/cache"
	"github.com/cleanops/opscore/pkg/storage"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

func main() {
	logger, err := zap.NewProduction()
	if err != nil {
		panic(fmt.Sprintf("failed to initialize logger: %v", err))
	}
	defer logger.Sync()

	logger.Info("starting Operations Core")

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	db, err := storage.New(cfg.Database)
	if err != nil {
		logger.Fatal("failed to connect to database", zap.Error(err))
	}
	defer db.Close()
	logger.Info("connected to database")

	redisCache, err := cache.New(cfg.Redis)
	if err != nil {
		logger.Fatal("failed to connect to Redis", zap.Error(err))
	}
	defer redisCache.Close()
	logger.Info("connected to Redis")

	cal, err := clockcal.NewCalendar(cfg.Tenancy.BusinessTimezone)
	if err != nil {
		logger.Fatal("failed to load business timezone", zap.Error(err))
	}

	policyView := policy.PolicyConfigView{
		DepositsEnabled:         cfg.Policy.DepositsEnabled,
		DepositPercent:          cfg.Policy.DepositPercent,
		MinDepositCents:         cfg.Policy.MinDepositCents,
		MaxDepositCents:         cfg.Policy.MaxDepositCents,
		HighValueThresholdCents: cfg.Policy.HighValueThresholdCents,
	}

	stripeBreakerConfig := breaker.BreakerConfig{
		FailureThreshold: cfg.Stripe.BreakerFailureThreshold,
		Cooldown:         cfg.Stripe.BreakerCooldown,
		HalfOpenProbes:   cfg.Stripe.BreakerHalfOpenProbes,
	}

	outboxSvc := outbox.NewService(db, outbox.Config{
		BreakerConfig: breaker.DefaultBreakerConfig,
		Retry: map[outbox.Kind]outbox.RetryConfig{
			outbox.KindEmail:  {BaseBackoff: cfg.Outbox.EmailRetryBackoff, MaxRetries: cfg.Outbox.EmailMaxRetries},
			outbox.KindExport: outbox.DefaultRetryConfig,
		},
	}, logger)

	schedulingSvc := scheduling.NewService(db, clockcal.SystemClock{}, cal, policyView, outboxSvc, logger)
	logger.Info("initialized scheduling engine")

	if cfg.Outbox.EmailMode == "send" {
		unsub := outbox.NewStoreUnsubscribeChecker(db)
		emailAdapter, err := outbox.NewEmailAdapter(cfg.Outbox.EmailFromAddress, cfg.Outbox.EmailAPIKey, unsub, logger)
		if err != nil {
			logger.Fatal("failed to initialize email adapter", zap.Error(err))
		}
		outboxSvc.RegisterAdapter(emailAdapter)
		logger.Info("registered email delivery adapter")
	} else {
		logger.Info("email delivery not registered", zap.String("email_mode", cfg.Outbox.EmailMode))
	}
	if cfg.Outbox.ExportMode == "send" && cfg.Outbox.ExportWebhookURL != "" {
		outboxSvc.RegisterAdapter(outbox.NewExportAdapter(cfg.Outbox.ExportWebhookURL, cfg.Outbox.ExportWebhookSecret, logger))
		logger.Info("registered export delivery adapter")
	} else {
		logger.Info("export delivery not registered", zap.String("export_mode", cfg.Outbox.ExportMode))
	}
	logger.Info("initialized outbox")

	paymentsSvc := payments.NewService(db, outboxSvc, payments.Config{
		CallTimeout:       cfg.Stripe.CallTimeout,
		SuccessURL:        cfg.Stripe.SuccessURL,
		CancelURL:         cfg.Stripe.CancelURL,
		InvoiceSuccessURL: cfg.Stripe.InvoiceSuccessURL,
		InvoiceCancelURL:  cfg.Stripe.InvoiceCancelURL,
		BreakerConfig:     stripeBreakerConfig,
	}, logger)
	logger.Info("initialized payment reconciler")

	limiter := ratelimit.NewLimiter(redisCache)
	idempotencyStore := idempotency.NewStore(redisCache)

	server := httpapi.NewServer(httpapi.Deps{
		Scheduling:          schedulingSvc,
		Payments:            paymentsSvc,
		Outbox:              outboxSvc,
		Limiter:             limiter,
		Idempotency:         idempotencyStore,
		Logger:              logger,
		RateLimits:          httpapi.DefaultRateLimits,
		StripeWebhookSecret: cfg.Stripe.WebhookSecret,
	})
	logger.Info("initialized HTTP server")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	outboxSvc.StartWorker(ctx, cfg.Outbox.PollInterval)
	logger.Info("started outbox worker")

	if cfg.Monitoring.Enabled {
		metricsMux := http.NewServeMux()
		metricsMux.Handle(cfg.Monitoring.MetricsPath, promhttp.Handler())
		metricsServer := &http.Server{
			Addr:    fmt.Sprintf(":%d", cfg.Monitoring.PrometheusPort),
			Handler: metricsMux,
		}
		go func() {
			logger.Info("starting metrics server", zap.String("address", metricsServer.Addr))
			if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("metrics server failed", zap.Error(err))
			}
		}()
	}

	httpServer := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      server,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		logger.Info("starting HTTP server", zap.String("address", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownGrace)
	defer shutdownCancel()

	outboxSvc.StopWorker()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", zap.Error(err))
	}

	logger.Info("server exited")
}
