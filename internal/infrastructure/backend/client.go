package backend

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/kirillkom/loan-review-workflow/internal/core/domain"
)

const defaultUploadPath = "/documents"

// Client is a thin typed wrapper over the loan review backend. It performs no
// retries and does not interpret status codes beyond passing them up in
// *StatusError.
type Client struct {
	baseURL    string
	uploadPath string
	httpClient *http.Client
}

type Options struct {
	Timeout    time.Duration
	UploadPath string
	Transport  http.RoundTripper
}

func New(baseURL string) *Client {
	return NewWithOptions(baseURL, Options{})
}

func NewWithOptions(baseURL string, opts Options) *Client {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	uploadPath := strings.TrimSpace(opts.UploadPath)
	if uploadPath == "" {
		uploadPath = defaultUploadPath
	}
	if !strings.HasPrefix(uploadPath, "/") {
		uploadPath = "/" + uploadPath
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		uploadPath: uploadPath,
		httpClient: &http.Client{Timeout: timeout, Transport: opts.Transport},
	}
}

// uploadResponse accepts both the documented "size" and the backend's "file_size".
type uploadResponse struct {
	domain.Document
	Size *int64 `json:"size"`
}

func (c *Client) UploadDocument(ctx context.Context, filename string, body io.Reader) (*domain.Document, error) {
	if strings.TrimSpace(filename) == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "upload document", fmt.Errorf("filename is required"))
	}
	var out uploadResponse
	if err := c.postMultipart(ctx, c.uploadPath, "file", filename, body, &out, "upload"); err != nil {
		return nil, err
	}
	doc := out.Document
	if doc.FileSize == 0 && out.Size != nil {
		doc.FileSize = *out.Size
	}
	return &doc, nil
}

func (c *Client) TriggerExtraction(ctx context.Context, id domain.DocumentID) (*domain.TriggerReceipt, error) {
	var out domain.TriggerReceipt
	if err := c.doJSON(ctx, http.MethodPost, extractionPath(id)+"/process", nil, &out, "trigger_extraction"); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetExtraction returns the record only on 200. Every other status, 202
// included, comes back as *StatusError for the poller to classify.
func (c *Client) GetExtraction(ctx context.Context, id domain.DocumentID) (*domain.ExtractionRecord, error) {
	var out domain.ExtractionRecord
	if err := c.doJSON(ctx, http.MethodGet, extractionPath(id), nil, &out, "get_extraction"); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) UpdateExtraction(ctx context.Context, id domain.DocumentID, fields domain.Values) (*domain.ExtractionRecord, error) {
	var out domain.ExtractionRecord
	if err := c.doJSON(ctx, http.MethodPut, extractionPath(id), fields, &out, "update_extraction"); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) GetReviewOpinion(ctx context.Context, id domain.DocumentID) (string, error) {
	var out domain.ReviewOpinion
	if err := c.doJSON(ctx, http.MethodGet, documentPath(id)+"/review-opinion", nil, &out, "get_review_opinion"); err != nil {
		return "", err
	}
	return out.ReviewOpinion, nil
}

func (c *Client) PutReviewOpinion(ctx context.Context, id domain.DocumentID, opinion string) (string, error) {
	payload := domain.ReviewOpinion{DocumentID: id, ReviewOpinion: opinion}
	var out domain.ReviewOpinion
	if err := c.doJSON(ctx, http.MethodPut, documentPath(id)+"/review-opinion", payload, &out, "put_review_opinion"); err != nil {
		return "", err
	}
	return out.ReviewOpinion, nil
}

func (c *Client) GetReport(ctx context.Context, id domain.DocumentID) (*domain.Report, error) {
	var out domain.Report
	if err := c.doJSON(ctx, http.MethodGet, documentPath(id)+"/report", nil, &out, "get_report"); err != nil {
		return nil, err
	}
	if out.Data == nil {
		out.Data = map[string]any{}
	}
	return &out, nil
}

func (c *Client) SaveReport(ctx context.Context, id domain.DocumentID, report *domain.Report) (*domain.Report, error) {
	if report == nil {
		return nil, domain.WrapError(domain.ErrInvalidInput, "save report", fmt.Errorf("report is nil"))
	}
	payload := domain.Report{DocumentID: id, Data: report.Data}
	var out domain.Report
	if err := c.doJSON(ctx, http.MethodPost, documentPath(id)+"/report", payload, &out, "save_report"); err != nil {
		return nil, err
	}
	if out.Data == nil {
		out.Data = payload.Data
	}
	return &out, nil
}

func (c *Client) CompleteWorkflow(ctx context.Context, id domain.DocumentID) error {
	return c.doJSON(ctx, http.MethodPost, documentPath(id)+"/complete", nil, nil, "complete_workflow")
}

func (c *Client) GetAdditionalInfoSuggestions(ctx context.Context, id domain.DocumentID) (*domain.AdditionalInfoSuggestion, error) {
	var out domain.AdditionalInfoSuggestion
	if err := c.doJSON(ctx, http.MethodGet, additionalInfoPath(id)+"/suggestions", nil, &out, "get_additional_info_suggestions"); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) GetAdditionalInfo(ctx context.Context, id domain.DocumentID) (*domain.AdditionalInfo, error) {
	var out domain.AdditionalInfo
	if err := c.doJSON(ctx, http.MethodGet, additionalInfoPath(id), nil, &out, "get_additional_info"); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) CreateAdditionalInfo(ctx context.Context, info *domain.AdditionalInfo) (*domain.AdditionalInfo, error) {
	return c.writeAdditionalInfo(ctx, http.MethodPost, info, "create_additional_info")
}

func (c *Client) UpdateAdditionalInfo(ctx context.Context, info *domain.AdditionalInfo) (*domain.AdditionalInfo, error) {
	return c.writeAdditionalInfo(ctx, http.MethodPut, info, "update_additional_info")
}

func (c *Client) writeAdditionalInfo(ctx context.Context, method string, info *domain.AdditionalInfo, operation string) (*domain.AdditionalInfo, error) {
	if info == nil || !info.DocumentID.Valid() {
		return nil, domain.WrapError(domain.ErrInvalidInput, operation, domain.ErrMissingDocumentID)
	}
	payload := struct {
		FieldData    map[string]any `json:"field_data"`
		CustomFields map[string]any `json:"custom_fields,omitempty"`
	}{FieldData: info.FieldData, CustomFields: info.CustomFields}
	if payload.FieldData == nil {
		payload.FieldData = map[string]any{}
	}

	var out domain.AdditionalInfo
	if err := c.doJSON(ctx, method, additionalInfoPath(info.DocumentID), payload, &out, operation); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) ListCompletedReports(ctx context.Context) ([]domain.CompletedReport, error) {
	var out []domain.CompletedReport
	if err := c.doJSON(ctx, http.MethodGet, "/dashboard/completed-reports", nil, &out, "list_completed_reports"); err != nil {
		return nil, err
	}
	if out == nil {
		out = []domain.CompletedReport{}
	}
	return out, nil
}

func extractionPath(id domain.DocumentID) string {
	return "/extraction/" + url.PathEscape(id.String())
}

func documentPath(id domain.DocumentID) string {
	return "/documents/" + url.PathEscape(id.String())
}

func additionalInfoPath(id domain.DocumentID) string {
	return "/additional-info/" + url.PathEscape(id.String())
}
