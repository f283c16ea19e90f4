package bootstrap

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/kirillkom/loan-review-workflow/internal/config"
	"github.com/kirillkom/loan-review-workflow/internal/core/usecase"
	"github.com/kirillkom/loan-review-workflow/internal/infrastructure/backend"
	"github.com/kirillkom/loan-review-workflow/internal/infrastructure/export/xlsx"
	"github.com/kirillkom/loan-review-workflow/internal/infrastructure/queue/nats"
	"github.com/kirillkom/loan-review-workflow/internal/infrastructure/repository/postgres"
	"github.com/kirillkom/loan-review-workflow/internal/infrastructure/resilience"
	"github.com/kirillkom/loan-review-workflow/internal/infrastructure/storage/localfs"
	"github.com/kirillkom/loan-review-workflow/internal/observability/metrics"
)

const serviceName = "loanflow-api"

type App struct {
	Config config.Config
	Logger *slog.Logger

	Backend   *backend.Client
	Sequencer *usecase.Sequencer
	Exporter  *xlsx.Exporter
	Events    *nats.Queue
	Journal   *usecase.JournalUseCase

	HTTPMetrics     *metrics.HTTPServerMetrics
	WorkflowMetrics *metrics.WorkflowMetrics

	closeFn func()
}

// New wires the full gateway stack: backend client, workflow sequencer,
// event bus, Postgres journal and report archive.
func New(ctx context.Context, cfg config.Config, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}

	db, err := postgres.OpenDB(cfg.PostgresDSN)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	journalRepo := postgres.NewJournalRepository(db)
	if err := journalRepo.EnsureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}

	httpMetrics := metrics.NewHTTPServerMetrics(serviceName)
	workflowMetrics := metrics.NewWorkflowMetrics(httpMetrics.Registerer(), serviceName)
	executor := resilience.NewExecutor(ResilienceConfig(cfg),
		resilience.WithLogger(logger),
		resilience.WithStateObserver(workflowMetrics.ObserveBreakerTransition),
	)

	queue, err := nats.NewWithOptions(cfg.NATSURL, cfg.NATSSubject, nats.Options{
		ResilienceExecutor: executor,
		Logger:             logger,
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init event bus: %w", err)
	}

	app, err := newApp(cfg, logger, executor, workflowMetrics,
		usecase.WithEventPublisher(queue),
	)
	if err != nil {
		queue.Close()
		_ = db.Close()
		return nil, err
	}
	app.Events = queue
	app.Journal = usecase.NewJournalUseCase(journalRepo, logger)
	app.HTTPMetrics = httpMetrics
	app.closeFn = func() {
		app.Sequencer.Shutdown()
		queue.Close()
		_ = db.Close()
	}
	return app, nil
}

// NewHeadless wires only the backend client and the workflow. No bus and no
// journal are connected.
func NewHeadless(cfg config.Config, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}
	executor := resilience.NewExecutor(ResilienceConfig(cfg), resilience.WithLogger(logger))
	app, err := newApp(cfg, logger, executor, nil)
	if err != nil {
		return nil, err
	}
	app.closeFn = app.Sequencer.Shutdown
	return app, nil
}

// NewJournalWorker wires the event bus subscriber and the Postgres journal.
func NewJournalWorker(ctx context.Context, cfg config.Config, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}
	db, err := postgres.OpenDB(cfg.PostgresDSN)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	journalRepo := postgres.NewJournalRepository(db)
	if err := journalRepo.EnsureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}

	queue, err := nats.NewWithOptions(cfg.NATSURL, cfg.NATSSubject, nats.Options{Logger: logger})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init event bus: %w", err)
	}

	return &App{
		Config:  cfg,
		Logger:  logger,
		Events:  queue,
		Journal: usecase.NewJournalUseCase(journalRepo, logger),
		closeFn: func() {
			queue.Close()
			_ = db.Close()
		},
	}, nil
}

func newApp(
	cfg config.Config,
	logger *slog.Logger,
	executor *resilience.Executor,
	workflowMetrics *metrics.WorkflowMetrics,
	extra ...usecase.SequencerOption,
) (*App, error) {
	sections, err := config.LoadSections(cfg.SectionsFile)
	if err != nil {
		return nil, fmt.Errorf("load section catalog: %w", err)
	}

	archive, err := localfs.New(cfg.StoragePath)
	if err != nil {
		return nil, fmt.Errorf("init report archive: %w", err)
	}
	exporter := xlsx.NewExporter(logger)

	clientOpts := backend.Options{
		Timeout:    cfg.BackendTimeout(),
		UploadPath: cfg.BackendUploadPath,
	}
	if workflowMetrics != nil {
		clientOpts.Transport = workflowMetrics.InstrumentTransport(nil)
	}
	client := backend.NewWithOptions(cfg.BackendURL, clientOpts)

	pollerOpts := []usecase.PollerOption{usecase.WithPollLogger(logger)}
	opts := []usecase.SequencerOption{
		usecase.WithTrigger(backend.NewResilientTrigger(client, executor)),
		usecase.WithSectionCatalog(sections),
		usecase.WithPollLimits(PollLimits(cfg)),
		usecase.WithAllowFailedExtraction(cfg.AllowFailedExtraction),
		usecase.WithReportArchive(exporter, archive),
		usecase.WithSequencerLogger(logger),
	}
	if workflowMetrics != nil {
		pollerOpts = append(pollerOpts, usecase.WithPollObserver(workflowMetrics))
		opts = append(opts, usecase.WithWorkflowObserver(workflowMetrics))
	}
	opts = append(opts, usecase.WithPollerOptions(pollerOpts...))
	opts = append(opts, extra...)

	return &App{
		Config:          cfg,
		Logger:          logger,
		Backend:         client,
		Sequencer:       usecase.NewSequencer(client, opts...),
		Exporter:        exporter,
		WorkflowMetrics: workflowMetrics,
	}, nil
}

func (a *App) Close() {
	if a.closeFn != nil {
		a.closeFn()
	}
}

func PollLimits(cfg config.Config) usecase.PollLimits {
	return usecase.PollLimits{
		Interval:    time.Duration(cfg.PollIntervalMS) * time.Millisecond,
		MaxAttempts: cfg.PollMaxAttempts,
		RetryDelay:  time.Duration(cfg.ExtractionRetryDelayMS) * time.Millisecond,
	}
}

func ResilienceConfig(cfg config.Config) resilience.Config {
	return resilience.Config{
		RetryMaxAttempts:        cfg.RetryMaxAttempts,
		RetryInitialBackoff:     time.Duration(cfg.RetryInitialBackoffMS) * time.Millisecond,
		RetryMaxBackoff:         time.Duration(cfg.RetryMaxBackoffMS) * time.Millisecond,
		RetryMultiplier:         cfg.RetryMultiplier,
		BreakerEnabled:          cfg.BreakerEnabled,
		BreakerMinRequests:      uint32(max(cfg.BreakerMinRequests, 0)),
		BreakerFailureRatio:     cfg.BreakerFailureRatio,
		BreakerOpenTimeout:      time.Duration(cfg.BreakerOpenTimeoutMS) * time.Millisecond,
		BreakerHalfOpenMaxCalls: uint32(max(cfg.BreakerHalfOpenMaxCalls, 0)),
	}
}
