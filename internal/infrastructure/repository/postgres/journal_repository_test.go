package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/kirillkom/loan-review-workflow/internal/core/domain"
)

func newJournalWithMock(t *testing.T) (*JournalRepository, sqlmock.Sqlmock, func()) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	return NewJournalRepository(db), mock, func() { _ = db.Close() }
}

func TestEnsureSchemaTakesAdvisoryLock(t *testing.T) {
	repo, mock, done := newJournalWithMock(t)
	defer done()

	mock.ExpectBegin()
	mock.ExpectExec("SELECT pg_advisory_xact_lock").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS workflow_events").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	if err := repo.EnsureSchema(context.Background()); err != nil {
		t.Fatalf("EnsureSchema() error = %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestAppendInsertsEvent(t *testing.T) {
	repo, mock, done := newJournalWithMock(t)
	defer done()

	at := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	mock.ExpectExec("INSERT INTO workflow_events").
		WithArgs("evt-1", int64(7), "stage.entered", "analysis", "", at).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.Append(context.Background(), domain.WorkflowEvent{
		ID:         "evt-1",
		DocumentID: 7,
		Type:       domain.EventStageEntered,
		Stage:      "analysis",
		OccurredAt: at,
	})
	if err != nil {
		t.Fatalf("Append() error = %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestAppendWrapsDriverError(t *testing.T) {
	repo, mock, done := newJournalWithMock(t)
	defer done()

	driverErr := errors.New("connection reset")
	mock.ExpectExec("INSERT INTO workflow_events").WillReturnError(driverErr)

	err := repo.Append(context.Background(), domain.WorkflowEvent{ID: "x", DocumentID: 1, Type: domain.EventStageEntered})
	if !errors.Is(err, driverErr) {
		t.Fatalf("expected driver error, got %v", err)
	}
}

func TestListByDocumentScansRows(t *testing.T) {
	repo, mock, done := newJournalWithMock(t)
	defer done()

	first := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	rows := sqlmock.NewRows([]string{"id", "document_id", "event_type", "stage", "detail", "occurred_at"}).
		AddRow("a", int64(9), "document.uploaded", "upload", "statement.pdf", first).
		AddRow("b", int64(9), "extraction.ready", "extraction", "", first.Add(time.Minute))
	mock.ExpectQuery("SELECT id, document_id, event_type").
		WithArgs(int64(9), int64(50)).
		WillReturnRows(rows)

	events, err := repo.ListByDocument(context.Background(), 9, 50)
	if err != nil {
		t.Fatalf("ListByDocument() error = %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	if events[0].Type != domain.EventDocumentUploaded || events[0].Detail != "statement.pdf" {
		t.Fatalf("unexpected first event %+v", events[0])
	}
	if events[1].DocumentID != 9 || events[1].Type != domain.EventExtractionReady {
		t.Fatalf("unexpected second event %+v", events[1])
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}
