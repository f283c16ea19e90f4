package domain

import (
	"errors"
	"fmt"
)

var (
	ErrDocumentNotFound  = errors.New("document not found")
	ErrInvalidInput      = errors.New("invalid input")
	ErrTemporary         = errors.New("temporary failure")
	ErrMissingDocumentID = errors.New("document id is required")

	ErrExtractionPending    = errors.New("extraction in progress")
	ErrExtractionFailed     = errors.New("extraction failed")
	ErrExtractionNotStarted = errors.New("processing not started")
	ErrPollTimeout          = errors.New("extraction timed out")

	ErrStageBlocked     = errors.New("stage prerequisite not satisfied")
	ErrWorkflowComplete = errors.New("workflow already complete")

	ErrUnknownSection = errors.New("unknown section")
	ErrNotEditing     = errors.New("section is not being edited")
	ErrSaveInFlight   = errors.New("section save in progress")
	ErrCommitFailed   = errors.New("section commit failed")
)

// WrapError preserves typed semantic errors with operation context.
func WrapError(kind error, operation string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w: %w", operation, kind, err)
}

func IsKind(err error, kind error) bool {
	return errors.Is(err, kind)
}
