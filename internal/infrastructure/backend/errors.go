package backend

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// StatusError is any non-success backend response. The status code and body
// are passed through untouched.
type StatusError struct {
	Operation  string
	StatusCode int
	Status     string
	Message    string
	Body       string
}

func (e *StatusError) Error() string {
	if e == nil {
		return "backend status error"
	}
	if e.Message == "" {
		return fmt.Sprintf("backend %s status: %s", e.Operation, e.Status)
	}
	return fmt.Sprintf("backend %s status: %s: %s", e.Operation, e.Status, e.Message)
}

func (e *StatusError) HTTPStatus() int {
	return e.StatusCode
}

// ServerMessage is the human-readable reason the backend gave, if any.
func (e *StatusError) ServerMessage() string {
	return e.Message
}

// StatusCodeOf returns the backend status carried by err, or 0.
func StatusCodeOf(err error) int {
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.StatusCode
	}
	return 0
}

// serverMessage prefers the "detail" or "message" field of a JSON error body.
// Validation errors arrive as a list under "detail" and are kept as raw JSON.
func serverMessage(body []byte) string {
	trimmed := strings.TrimSpace(string(body))
	if trimmed == "" {
		return ""
	}
	var payload struct {
		Detail  json.RawMessage `json:"detail"`
		Message string          `json:"message"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return trimmed
	}
	if len(payload.Detail) > 0 && string(payload.Detail) != "null" {
		var text string
		if err := json.Unmarshal(payload.Detail, &text); err == nil {
			return strings.TrimSpace(text)
		}
		return string(payload.Detail)
	}
	if payload.Message != "" {
		return strings.TrimSpace(payload.Message)
	}
	return trimmed
}
