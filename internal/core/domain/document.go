package domain

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// DocumentID is the opaque key the backend assigns at upload.
type DocumentID int64

func (id DocumentID) String() string {
	return strconv.FormatInt(int64(id), 10)
}

func (id DocumentID) Valid() bool {
	return id > 0
}

// ParseDocumentID accepts the decimal form carried in the documentId query parameter.
func ParseDocumentID(raw string) (DocumentID, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, ErrMissingDocumentID
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || n <= 0 {
		return 0, WrapError(ErrInvalidInput, "parse document id", fmt.Errorf("value %q", raw))
	}
	return DocumentID(n), nil
}

type DocumentStatus string

const (
	StatusUploaded         DocumentStatus = "uploaded"
	StatusExtracting       DocumentStatus = "extracting"
	StatusExtracted        DocumentStatus = "extracted"
	StatusExtractionFailed DocumentStatus = "extraction_failed"
)

// Document is owned by the backend; the client only observes its status.
type Document struct {
	ID         DocumentID     `json:"id"`
	Filename   string         `json:"filename"`
	FilePath   string         `json:"filepath,omitempty"`
	FileSize   int64          `json:"file_size"`
	UploadDate time.Time      `json:"upload_date"`
	Status     DocumentStatus `json:"status"`
}

// TriggerReceipt is the acknowledgement of POST /extraction/{id}/process.
type TriggerReceipt struct {
	Message      string     `json:"message"`
	DocumentID   DocumentID `json:"document_id,omitempty"`
	ExtractionID int64      `json:"extraction_id,omitempty"`
}

// AlreadyExtracted reports whether the backend answered with an existing record.
func (r TriggerReceipt) AlreadyExtracted() bool {
	return r.ExtractionID != 0
}

type CompletedReport struct {
	ID          DocumentID `json:"id"`
	Filename    string     `json:"filename"`
	CompanyName *string    `json:"company_name"`
	Industry    *string    `json:"industry"`
	UploadDate  *string    `json:"upload_date"`
	Status      string     `json:"status"`
}
