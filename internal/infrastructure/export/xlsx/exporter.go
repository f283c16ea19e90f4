package xlsx

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"
	"sort"

	"github.com/xuri/excelize/v2"

	"github.com/kirillkom/loan-review-workflow/internal/core/domain"
)

const (
	sheetName   = "Report"
	contentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
)

// Exporter renders a report as a three column workbook: section, field, value.
type Exporter struct {
	logger *slog.Logger
}

func NewExporter(logger *slog.Logger) *Exporter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Exporter{logger: logger}
}

func (e *Exporter) ContentType() string { return contentType }

func (e *Exporter) Extension() string { return ".xlsx" }

func (e *Exporter) ExportReport(report *domain.Report) ([]byte, error) {
	if report == nil {
		return nil, domain.WrapError(domain.ErrInvalidInput, "export report", fmt.Errorf("report is nil"))
	}

	f := excelize.NewFile()
	defer func() {
		_ = f.Close()
	}()
	if err := f.SetSheetName(f.GetSheetName(0), sheetName); err != nil {
		return nil, fmt.Errorf("rename sheet: %w", err)
	}

	row := 1
	write := func(values ...any) error {
		for col, v := range values {
			cell, err := excelize.CoordinatesToCellName(col+1, row)
			if err != nil {
				return err
			}
			if err := f.SetCellValue(sheetName, cell, v); err != nil {
				return err
			}
		}
		row++
		return nil
	}

	if err := write("Document", "", report.DocumentID.String()); err != nil {
		return nil, fmt.Errorf("write header: %w", err)
	}
	if err := write("Section", "Field", "Value"); err != nil {
		return nil, fmt.Errorf("write header: %w", err)
	}

	for _, name := range sectionOrder(report.Data) {
		raw := report.Data[name]
		obj, ok := raw.(map[string]any)
		if !ok {
			if err := write(name, "", cellValue(raw)); err != nil {
				return nil, fmt.Errorf("write section %s: %w", name, err)
			}
			continue
		}
		keys := make([]string, 0, len(obj))
		for key := range obj {
			keys = append(keys, key)
		}
		sort.Strings(keys)
		for _, key := range keys {
			if err := write(name, key, cellValue(obj[key])); err != nil {
				return nil, fmt.Errorf("write section %s: %w", name, err)
			}
		}
	}

	_ = f.SetColWidth(sheetName, "A", "A", 18)
	_ = f.SetColWidth(sheetName, "B", "B", 28)
	_ = f.SetColWidth(sheetName, "C", "C", 60)

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("xlsx write: %w", err)
	}
	e.logger.Info("report_exported",
		"document_id", report.DocumentID.String(),
		"sections", len(report.Data),
		"rows", row-1,
	)
	return buf.Bytes(), nil
}

// sectionOrder lists the known report sections first, then any extra
// sections alphabetically.
func sectionOrder(data map[string]any) []string {
	out := make([]string, 0, len(data))
	for _, name := range domain.ReportSections {
		if _, ok := data[string(name)]; ok {
			out = append(out, string(name))
		}
	}
	extra := make([]string, 0)
	for key := range data {
		if !slices.Contains(out, key) {
			extra = append(extra, key)
		}
	}
	sort.Strings(extra)
	return append(out, extra...)
}

func cellValue(v any) any {
	switch v.(type) {
	case nil:
		return ""
	case string, bool, float64, int, int64:
		return v
	default:
		raw, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprint(v)
		}
		return string(raw)
	}
}
