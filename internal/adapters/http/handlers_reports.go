package httpadapter

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/kirillkom/loan-review-workflow/internal/core/domain"
)

func (rt *Router) exportReport(w http.ResponseWriter, r *http.Request) {
	if rt.exporter == nil {
		writeJSON(w, http.StatusNotImplemented, map[string]string{"error": "report export is not configured"})
		return
	}
	session, err := rt.liveSession(r)
	if err != nil {
		writeError(w, err)
		return
	}
	data, err := session.ExportReport(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}

	filename := fmt.Sprintf("report-%s%s", session.Context().DocumentID, rt.exporter.Extension())
	w.Header().Set("Content-Type", rt.exporter.ContentType())
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func (rt *Router) workflowHistory(w http.ResponseWriter, r *http.Request) {
	if rt.history == nil {
		writeJSON(w, http.StatusNotImplemented, map[string]string{"error": "workflow journal is not configured"})
		return
	}
	wc, err := domain.ContextFromQuery(r.URL.Query())
	if err != nil {
		writeError(w, err)
		return
	}
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err = strconv.Atoi(raw)
		if err != nil || limit < 0 {
			writeError(w, domain.WrapError(domain.ErrInvalidInput, "parse limit", errors.New("limit must be a non-negative integer")))
			return
		}
	}

	events, err := rt.history.History(r.Context(), wc.DocumentID, limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"context": wc,
		"events":  events,
	})
}

func (rt *Router) completedReports(w http.ResponseWriter, r *http.Request) {
	if rt.dashboard == nil {
		writeJSON(w, http.StatusNotImplemented, map[string]string{"error": "dashboard is not configured"})
		return
	}
	reports, err := rt.dashboard.ListCompletedReports(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	if reports == nil {
		reports = []domain.CompletedReport{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"reports": reports})
}
