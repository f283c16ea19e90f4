package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/kirillkom/loan-review-workflow/internal/bootstrap"
	"github.com/kirillkom/loan-review-workflow/internal/config"
	"github.com/kirillkom/loan-review-workflow/internal/core/domain"
	"github.com/kirillkom/loan-review-workflow/internal/core/usecase"
	"github.com/kirillkom/loan-review-workflow/internal/observability/logging"
)

type options struct {
	file       string
	documentID string
	through    string
	export     string
	retry      bool
	timeout    time.Duration
}

func main() {
	var opts options
	flag.StringVar(&opts.file, "file", "", "financial statement to upload")
	flag.StringVar(&opts.documentID, "document", "", "resume an uploaded document instead of uploading")
	flag.StringVar(&opts.through, "through", domain.StageCompletion.String(), "last stage to advance to")
	flag.StringVar(&opts.export, "export", "", "write the report spreadsheet to this path once complete")
	flag.BoolVar(&opts.retry, "retry", true, "retry extraction once when it fails")
	flag.DurationVar(&opts.timeout, "timeout", 5*time.Minute, "overall time limit")
	flag.Parse()

	if (opts.file == "") == (opts.documentID == "") {
		fmt.Fprintln(os.Stderr, "Error: exactly one of --file or --document is required")
		os.Exit(2)
	}

	cfg := config.Load()
	logger := logging.New(os.Stderr, "loanflow-cli", cfg.LogLevel)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, opts, os.Stdout, logger); err != nil {
		logger.Error("loanflow_failed", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, opts options, out io.Writer, logger *slog.Logger) error {
	target, err := domain.ParseStage(opts.through)
	if err != nil {
		return err
	}
	if opts.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.timeout)
		defer cancel()
	}

	app, err := bootstrap.NewHeadless(cfg, logger)
	if err != nil {
		return fmt.Errorf("bootstrap: %w", err)
	}
	defer app.Close()

	session, err := openSession(ctx, app.Sequencer, opts)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "document %s at %s\n", session.Context().DocumentID, session.Stage())

	if session.Stage() == domain.StageExtractionReview {
		if err := awaitExtraction(ctx, session, opts.retry, out); err != nil {
			return err
		}
	}

	for session.Stage() < target {
		next, err := session.Advance(ctx)
		if err != nil {
			return fmt.Errorf("advance from %s: %w", session.Stage(), err)
		}
		fmt.Fprintf(out, "entered %s\n", next)
	}

	view, err := session.View(ctx)
	if err != nil {
		return err
	}
	if view.ArchiveKey != "" {
		fmt.Fprintf(out, "report archived at %s\n", view.ArchiveKey)
	}

	if opts.export != "" {
		data, err := session.ExportReport(ctx)
		if err != nil {
			return err
		}
		if err := os.WriteFile(opts.export, data, 0o644); err != nil {
			return fmt.Errorf("write export: %w", err)
		}
		fmt.Fprintf(out, "report exported to %s\n", opts.export)
	}
	return nil
}

func openSession(ctx context.Context, seq *usecase.Sequencer, opts options) (*usecase.Session, error) {
	if opts.documentID != "" {
		id, err := domain.ParseDocumentID(opts.documentID)
		if err != nil {
			return nil, err
		}
		return seq.Open(ctx, id, domain.StageExtractionReview)
	}

	f, err := os.Open(opts.file)
	if err != nil {
		return nil, fmt.Errorf("open upload: %w", err)
	}
	defer f.Close()
	return seq.Upload(ctx, filepath.Base(opts.file), f)
}

func awaitExtraction(ctx context.Context, session *usecase.Session, retry bool, out io.Writer) error {
	state, err := session.AwaitExtraction(ctx)
	if err != nil {
		return fmt.Errorf("await extraction: %w", err)
	}
	if state.Phase == usecase.PhaseFailed && retry && state.CanRetry() {
		fmt.Fprintf(out, "extraction %s: %s, retrying\n", state.Failure, state.Message)
		if err := session.RetryExtraction(ctx); err != nil {
			return fmt.Errorf("retry extraction: %w", err)
		}
		state, err = awaitNextActivation(ctx, session, state.Activation)
		if err != nil {
			return err
		}
	}
	if state.Phase == usecase.PhaseFailed {
		// Advance decides whether a failed extraction blocks the workflow.
		fmt.Fprintf(out, "extraction %s: %s\n", state.Failure, state.Message)
		return nil
	}
	fmt.Fprintf(out, "extraction ready after %d pending responses\n", state.Attempts)
	return nil
}

// awaitNextActivation waits out the retry delay until the poller has moved
// past the failed activation, then waits for that activation to finish.
func awaitNextActivation(ctx context.Context, session *usecase.Session, failed uint64) (usecase.PollState, error) {
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for {
		state := session.Poller().State()
		if state.Activation != failed {
			return session.Poller().Await(ctx)
		}
		select {
		case <-ctx.Done():
			return state, fmt.Errorf("await retried extraction: %w", ctx.Err())
		case <-ticker.C:
		}
	}
}
