package httpadapter

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/kirillkom/loan-review-workflow/internal/config"
	"github.com/kirillkom/loan-review-workflow/internal/core/ports"
	"github.com/kirillkom/loan-review-workflow/internal/core/usecase"
	"github.com/kirillkom/loan-review-workflow/internal/observability/metrics"
)

const (
	serviceName  = "loanflow-api"
	stagesPrefix = "/v1/workflow/stages"

	maxUploadBytes = 64 << 20
)

type Router struct {
	cfg       config.Config
	seq       *usecase.Sequencer
	history   ports.WorkflowHistory
	dashboard ports.DashboardReader
	exporter  ports.ReportExporter
	metrics   *metrics.HTTPServerMetrics
	logger    *slog.Logger
}

type Dependencies struct {
	Sequencer *usecase.Sequencer
	History   ports.WorkflowHistory
	Dashboard ports.DashboardReader
	Exporter  ports.ReportExporter
	Metrics   *metrics.HTTPServerMetrics
	Logger    *slog.Logger
}

func NewRouter(cfg config.Config, deps Dependencies) *Router {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		cfg:       cfg,
		seq:       deps.Sequencer,
		history:   deps.History,
		dashboard: deps.Dashboard,
		exporter:  deps.Exporter,
		metrics:   deps.Metrics,
		logger:    logger,
	}
}

func (rt *Router) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(accessLogMiddleware(rt.logger))
	r.Use(middleware.Recoverer)

	r.Get("/healthz", rt.healthz)
	if rt.metrics != nil {
		r.Handle("/metrics", rt.metrics.Handler())
	}

	r.Group(func(r chi.Router) {
		r.Use(rateLimitMiddleware(rt.cfg.APIRateLimitRPS, rt.cfg.APIRateLimitBurst))
		r.Use(func(next http.Handler) http.Handler {
			return backpressureMiddleware(next, rt.cfg.APIMaxInFlight, rt.cfg.BackpressureWait())
		})

		r.Route("/v1/workflow", func(r chi.Router) {
			r.Post("/upload", rt.upload)
			r.Get("/stages/{stage}", rt.stageView)
			r.Post("/stages/{stage}/sections/{section}/{action}", rt.sectionAction)
			r.Patch("/stages/{stage}/sections/{section}", rt.sectionMutate)
			r.Post("/extraction/refresh", rt.refreshExtraction)
			r.Post("/extraction/retry", rt.retryExtraction)
			r.Post("/advance", rt.advance)
			r.Post("/back", rt.back)
			r.Get("/report/export", rt.exportReport)
			r.Get("/history", rt.workflowHistory)
		})
		r.Get("/v1/dashboard/completed-reports", rt.completedReports)
	})

	if rt.metrics != nil {
		return rt.metrics.Middleware(serviceName, r)
	}
	return r
}

func (rt *Router) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
