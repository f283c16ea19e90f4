package httpadapter

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/kirillkom/loan-review-workflow/internal/core/domain"
	"github.com/kirillkom/loan-review-workflow/internal/core/usecase"
)

type navigationResponse struct {
	Context domain.WorkflowContext `json:"context"`
	Stage   string                 `json:"stage"`
	Next    string                 `json:"next"`
}

func navigation(wc domain.WorkflowContext, stage domain.Stage) navigationResponse {
	return navigationResponse{
		Context: wc,
		Stage:   stage.String(),
		Next:    wc.StageURL(stagesPrefix, stage),
	}
}

func (rt *Router) upload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeError(w, domain.WrapError(domain.ErrInvalidInput, "parse upload", err))
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, domain.WrapError(domain.ErrInvalidInput, "read upload", err))
		return
	}
	defer file.Close()

	session, err := rt.seq.Upload(r.Context(), header.Filename, file)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, navigation(session.Context(), session.Stage()))
}

func (rt *Router) stageView(w http.ResponseWriter, r *http.Request) {
	session, _, err := rt.openStage(r)
	if err != nil {
		writeError(w, err)
		return
	}
	view, err := session.View(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (rt *Router) sectionAction(w http.ResponseWriter, r *http.Request) {
	session, stage, err := rt.openStage(r)
	if err != nil {
		writeError(w, err)
		return
	}
	section := domain.SectionName(chi.URLParam(r, "section"))

	switch action := chi.URLParam(r, "action"); action {
	case "edit":
		err = session.EnterEdit(r.Context(), stage, section)
	case "cancel":
		err = session.Cancel(r.Context(), stage, section)
	case "save":
		err = session.Save(r.Context(), stage, section)
	default:
		writeJSON(w, http.StatusNotFound, map[string]string{"error": fmt.Sprintf("unknown section action %q", action)})
		return
	}
	if err != nil {
		writeError(w, err)
		return
	}
	rt.writeSection(w, r, session, stage, section)
}

func (rt *Router) sectionMutate(w http.ResponseWriter, r *http.Request) {
	session, stage, err := rt.openStage(r)
	if err != nil {
		writeError(w, err)
		return
	}
	section := domain.SectionName(chi.URLParam(r, "section"))

	var fields map[string]any
	if err := json.NewDecoder(r.Body).Decode(&fields); err != nil {
		writeError(w, domain.WrapError(domain.ErrInvalidInput, "decode section fields", err))
		return
	}
	if len(fields) == 0 {
		writeError(w, domain.WrapError(domain.ErrInvalidInput, "decode section fields", errors.New("no fields to change")))
		return
	}
	if err := session.Mutate(r.Context(), stage, section, fields); err != nil {
		writeError(w, err)
		return
	}
	rt.writeSection(w, r, session, stage, section)
}

func (rt *Router) writeSection(w http.ResponseWriter, r *http.Request, session *usecase.Session, stage domain.Stage, section domain.SectionName) {
	dc, err := session.Drafts(r.Context(), stage)
	if err != nil {
		writeError(w, err)
		return
	}
	view, err := dc.View(section)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (rt *Router) refreshExtraction(w http.ResponseWriter, r *http.Request) {
	session, err := rt.extractionSession(r)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := session.RefreshExtraction(); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, session.Poller().State())
}

func (rt *Router) retryExtraction(w http.ResponseWriter, r *http.Request) {
	session, err := rt.extractionSession(r)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := session.RetryExtraction(r.Context()); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, session.Poller().State())
}

func (rt *Router) advance(w http.ResponseWriter, r *http.Request) {
	session, err := rt.liveSession(r)
	if err != nil {
		writeError(w, err)
		return
	}
	next, err := session.Advance(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, navigation(session.Context(), next))
}

func (rt *Router) back(w http.ResponseWriter, r *http.Request) {
	session, err := rt.liveSession(r)
	if err != nil {
		writeError(w, err)
		return
	}
	prev, err := session.Back(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, navigation(session.Context(), prev))
}

// openStage resolves the documentId query parameter and positions the
// document's session on the {stage} route parameter.
func (rt *Router) openStage(r *http.Request) (*usecase.Session, domain.Stage, error) {
	wc, err := domain.ContextFromQuery(r.URL.Query())
	if err != nil {
		return nil, 0, err
	}
	stage, err := domain.ParseStage(strings.TrimSpace(chi.URLParam(r, "stage")))
	if err != nil {
		return nil, 0, err
	}
	session, err := rt.seq.Open(r.Context(), wc.DocumentID, stage)
	if err != nil {
		return nil, 0, err
	}
	return session, stage, nil
}

func (rt *Router) extractionSession(r *http.Request) (*usecase.Session, error) {
	wc, err := domain.ContextFromQuery(r.URL.Query())
	if err != nil {
		return nil, err
	}
	if session, ok := rt.seq.Session(wc.DocumentID); ok {
		return session, nil
	}
	return rt.seq.Open(r.Context(), wc.DocumentID, domain.StageExtractionReview)
}

func (rt *Router) liveSession(r *http.Request) (*usecase.Session, error) {
	wc, err := domain.ContextFromQuery(r.URL.Query())
	if err != nil {
		return nil, err
	}
	session, ok := rt.seq.Session(wc.DocumentID)
	if !ok {
		return nil, domain.WrapError(domain.ErrDocumentNotFound, "resolve session",
			fmt.Errorf("no open workflow for document %s, open a stage first", wc.DocumentID))
	}
	return session, nil
}
