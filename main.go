package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	appCompletion "github.com/azeloquendo/farm2table-payments/internal/application/completion"
	appNotification "github.com/azeloquendo/farm2table-payments/internal/application/notification"
	appOrder "github.com/azeloquendo/farm2table-payments/internal/application/order"
	appPayment "github.com/azeloquendo/farm2table-payments/internal/application/payment"
	domNotification "github.com/azeloquendo/farm2table-payments/internal/domain/notification"
	"github.com/azeloquendo/farm2table-payments/internal/infrastructure/gateway"
	"github.com/azeloquendo/farm2table-payments/internal/infrastructure/id"
	"github.com/azeloquendo/farm2table-payments/internal/infrastructure/keylock"
	"github.com/azeloquendo/farm2table-payments/internal/infrastructure/memory"
	infraobs "github.com/azeloquendo/farm2table-payments/internal/infrastructure/observability"
	"github.com/azeloquendo/farm2table-payments/internal/infrastructure/observability/oteltrace"
	"github.com/azeloquendo/farm2table-payments/internal/infrastructure/observability/prometrics"
	"github.com/azeloquendo/farm2table-payments/internal/infrastructure/observability/zaplogger"
	"github.com/azeloquendo/farm2table-payments/internal/infrastructure/outbox"
	"github.com/azeloquendo/farm2table-payments/internal/infrastructure/redisledger"
	"github.com/azeloquendo/farm2table-payments/internal/observability"
	httppresentation "github.com/azeloquendo/farm2table-payments/internal/presentation/http"
)

func main() {
	serviceName := getenvDefault("SERVICE_NAME", "farm2table-payments")
	env := getenvDefault("ENV", "dev")
	httpAddr := getenvDefault("HTTP_ADDR", ":8080")
	gatewayURL := getenvDefault("PAYMENT_GATEWAY_URL", "https://api.paymongo.test")
	gatewaySecret := getenvDefault("PAYMENT_GATEWAY_SECRET", "")
	gatewayTimeout := getenvDuration("PAYMENT_GATEWAY_TIMEOUT", 10*time.Second)
	redisAddr := os.Getenv("REDIS_ADDR")

	logger := zaplogger.MustNew(
		observability.F("service", serviceName),
		observability.F("env", env),
	)

	registry := prometrics.New("", "")
	counters := map[observability.MetricKey]observability.Counter{
		observability.MUsecaseRequests: registry.Counter(
			observability.MUsecaseRequests,
			"Total number of use case invocations.",
			"use_case", "outcome",
		),
		observability.MHTTPRequests: registry.Counter(
			observability.MHTTPRequests,
			"Total number of HTTP requests served.",
			"method", "route", "status",
		),
		observability.MExternalRequests: registry.Counter(
			observability.MExternalRequests,
			"Total number of outbound provider calls.",
			"peer", "endpoint", "outcome",
		),
		observability.MNotificationDuplicates: registry.Counter(
			observability.MNotificationDuplicates,
			"Duplicate notification deliveries collapsed by the ledger.",
			"kind",
		),
		observability.MPartialCompletions: registry.Counter(
			observability.MPartialCompletions,
			"Completions where only one of the two legs landed.",
			"use_case",
		),
	}
	histograms := map[observability.MetricKey]observability.Histogram{
		observability.MUsecaseDuration: registry.Histogram(
			observability.MUsecaseDuration,
			"Duration of use case execution in seconds.",
			prometheus.DefBuckets,
			"use_case",
		),
		observability.MHTTPRequestDuration: registry.Histogram(
			observability.MHTTPRequestDuration,
			"Duration of HTTP request handling in seconds.",
			prometheus.DefBuckets,
			"method", "route", "status",
		),
		observability.MExternalRequestDuration: registry.Histogram(
			observability.MExternalRequestDuration,
			"Duration of outbound provider calls in seconds.",
			prometheus.DefBuckets,
			"peer", "endpoint",
		),
	}
	tel := infraobs.New(oteltrace.New(serviceName), logger, counters, histograms)

	intentRepo := memory.NewIntentRepository()
	orderRepo := memory.NewOrderRepository()

	var ledger domNotification.Ledger
	if redisAddr != "" {
		ledger = redisledger.New(redisAddr, serviceName)
		logger.Info("notification_ledger_backend", observability.F("backend", "redis"), observability.F("addr", redisAddr))
	} else {
		ledger = memory.NewNotificationLedger()
		logger.Info("notification_ledger_backend", observability.F("backend", "memory"))
	}

	idGen := id.NewUUIDGenerator()
	locks := keylock.New()

	bus := outbox.NewBus(logger)
	busCtx, busCancel := context.WithCancel(context.Background())
	bus.Start(busCtx)

	worker := appNotification.NewWorker(bus, ledger, idGen, tel)
	worker.Start()

	coordinator := appCompletion.NewCoordinator(ledger, orderRepo, idGen, tel)
	gatewayClient := gateway.NewClient(gatewayURL, gatewaySecret, gatewayTimeout)
	orchestrator := appPayment.NewOrchestrator(
		intentRepo,
		orderRepo,
		gatewayClient,
		coordinator,
		idGen,
		locks,
		tel,
		appPayment.DefaultConfig(),
	)
	notificationSvc := appNotification.NewService(ledger, tel)
	orderSvc := appOrder.NewService(orderRepo, bus, locks, tel)

	handler := httppresentation.NewHandler(orchestrator, notificationSvc, orderSvc, tel)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/", handler.Router())

	server := &http.Server{
		Addr:              httpAddr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		logger.Info("http_server_started", observability.F("addr", httpAddr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http_server_failed", observability.F("error", err.Error()))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown_started")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("http_server_shutdown_failed", observability.F("error", err.Error()))
	}
	bus.Stop(shutdownCtx)
	busCancel()
	logger.Info("shutdown_complete")
}

func getenvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}
