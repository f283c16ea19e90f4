package httpadapter

import (
	"errors"
	"net/http"

	"github.com/kirillkom/loan-review-workflow/internal/core/domain"
)

type upstreamStatus interface {
	HTTPStatus() int
}

func mapErrorToHTTPStatus(err error) int {
	switch {
	case domain.IsKind(err, domain.ErrMissingDocumentID),
		domain.IsKind(err, domain.ErrInvalidInput):
		return http.StatusBadRequest
	case domain.IsKind(err, domain.ErrUnknownSection),
		domain.IsKind(err, domain.ErrDocumentNotFound):
		return http.StatusNotFound
	case domain.IsKind(err, domain.ErrStageBlocked),
		domain.IsKind(err, domain.ErrSaveInFlight),
		domain.IsKind(err, domain.ErrNotEditing),
		domain.IsKind(err, domain.ErrWorkflowComplete),
		domain.IsKind(err, domain.ErrExtractionPending),
		domain.IsKind(err, domain.ErrExtractionFailed),
		domain.IsKind(err, domain.ErrExtractionNotStarted),
		domain.IsKind(err, domain.ErrPollTimeout):
		return http.StatusConflict
	case domain.IsKind(err, domain.ErrCommitFailed):
		return http.StatusBadGateway
	case domain.IsKind(err, domain.ErrTemporary):
		return http.StatusServiceUnavailable
	}

	var upstream upstreamStatus
	if errors.As(err, &upstream) {
		switch code := upstream.HTTPStatus(); {
		case code == http.StatusNotFound:
			return http.StatusNotFound
		case code == http.StatusUnprocessableEntity:
			return http.StatusConflict
		case code >= 400 && code < 500:
			return http.StatusBadRequest
		default:
			return http.StatusBadGateway
		}
	}
	return http.StatusInternalServerError
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, mapErrorToHTTPStatus(err), map[string]string{"error": err.Error()})
}
