package backend

import (
	"context"
	"errors"
	"net"
	"net/http"

	"github.com/kirillkom/loan-review-workflow/internal/core/domain"
	"github.com/kirillkom/loan-review-workflow/internal/core/ports"
	"github.com/kirillkom/loan-review-workflow/internal/infrastructure/resilience"
)

// ResilientTrigger retries the extraction trigger behind a circuit breaker.
// The backend answers a repeated trigger with the existing record, so the call
// is safe to repeat. Status polling is never wrapped: the poller owns its own
// timing.
type ResilientTrigger struct {
	next     ports.ExtractionTrigger
	executor *resilience.Executor
}

func NewResilientTrigger(next ports.ExtractionTrigger, executor *resilience.Executor) *ResilientTrigger {
	return &ResilientTrigger{next: next, executor: executor}
}

func (t *ResilientTrigger) TriggerExtraction(ctx context.Context, id domain.DocumentID) (*domain.TriggerReceipt, error) {
	var receipt *domain.TriggerReceipt
	call := func(ctx context.Context) error {
		out, err := t.next.TriggerExtraction(ctx, id)
		if err != nil {
			return err
		}
		receipt = out
		return nil
	}

	var err error
	if t.executor != nil {
		err = t.executor.Execute(ctx, "backend.trigger_extraction", call, classifyBackendError)
	} else {
		err = call(ctx)
	}
	if err != nil {
		return nil, wrapTemporaryIfNeeded("trigger extraction", err)
	}
	return receipt, nil
}

func classifyBackendError(err error) resilience.ErrorClassification {
	if err == nil {
		return resilience.ErrorClassification{}
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return resilience.ErrorClassification{
			Retryable:     false,
			RecordFailure: false,
		}
	}
	if resilience.IsCircuitOpen(err) {
		return resilience.ErrorClassification{
			Retryable:     true,
			RecordFailure: true,
		}
	}

	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		if isRetryableHTTPStatus(statusErr.StatusCode) {
			return resilience.ErrorClassification{
				Retryable:     true,
				RecordFailure: true,
			}
		}
		return resilience.ErrorClassification{
			Retryable:     false,
			RecordFailure: false,
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return resilience.ErrorClassification{
			Retryable:     true,
			RecordFailure: true,
		}
	}

	return resilience.ErrorClassification{
		Retryable:     false,
		RecordFailure: true,
	}
}

func wrapTemporaryIfNeeded(operation string, err error) error {
	if err == nil {
		return nil
	}
	if domain.IsKind(err, domain.ErrTemporary) {
		return err
	}

	class := classifyBackendError(err)
	if class.Retryable || resilience.IsCircuitOpen(err) {
		return domain.WrapError(domain.ErrTemporary, operation, err)
	}
	return err
}

func isRetryableHTTPStatus(statusCode int) bool {
	switch statusCode {
	case http.StatusRequestTimeout, http.StatusTooManyRequests, http.StatusInternalServerError, http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}
