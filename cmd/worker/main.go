package main

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kirillkom/loan-review-workflow/internal/bootstrap"
	"github.com/kirillkom/loan-review-workflow/internal/config"
	"github.com/kirillkom/loan-review-workflow/internal/core/domain"
	"github.com/kirillkom/loan-review-workflow/internal/observability/logging"
	"github.com/kirillkom/loan-review-workflow/internal/observability/metrics"
)

const serviceName = "loanflow-worker"

func main() {
	cfg := config.Load()
	logger := logging.NewJSONLogger(serviceName, cfg.LogLevel)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.NewJournalWorker(ctx, cfg, logger)
	if err != nil {
		log.Fatalf("bootstrap error: %v", err)
	}
	defer app.Close()

	workerMetrics := metrics.NewWorkerMetrics(serviceName)
	mux := http.NewServeMux()
	mux.Handle("/metrics", workerMetrics.Handler())
	metricsServer := &http.Server{
		Addr:              ":" + cfg.WorkerMetricsPort,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("worker_metrics_server_failed", "error", err)
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = metricsServer.Shutdown(shutdownCtx)
	}()

	logger.Info("worker_subscribed", "subject", cfg.NATSSubject)
	err = app.Events.SubscribeWorkflowEvents(ctx, func(handlerCtx context.Context, event domain.WorkflowEvent) error {
		recordCtx, cancel := context.WithTimeout(handlerCtx, 10*time.Second)
		defer cancel()

		if !event.OccurredAt.IsZero() {
			workerMetrics.ObserveEventLag(serviceName, time.Since(event.OccurredAt))
		}
		workerMetrics.StartRecord()
		start := time.Now()
		err := app.Journal.Record(recordCtx, event)
		workerMetrics.FinishRecord(serviceName, string(event.Type), time.Since(start), err)
		return err
	})
	if err != nil {
		log.Fatalf("worker subscribe error: %v", err)
	}
}
