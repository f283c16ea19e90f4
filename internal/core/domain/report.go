package domain

const (
	ReportSummary    SectionName = "summary"
	ReportCompany    SectionName = "company"
	ReportFinancial  SectionName = "financial"
	ReportRisk       SectionName = "risk"
	ReportLoan       SectionName = "loan"
	ReportAdditional SectionName = "additional"

	SectionReviewOpinion SectionName = "review_opinion"
	FieldReviewOpinion               = "review_opinion"

	SectionAdditionalFields SectionName = "field_data"
	SectionCustomFields     SectionName = "custom_fields"

	// ScalarField holds a report section whose payload is not a JSON object.
	ScalarField = "value"
)

// ReportSections is the fixed order in which report sections are shown and exported.
var ReportSections = []SectionName{
	ReportSummary,
	ReportCompany,
	ReportFinancial,
	ReportRisk,
	ReportLoan,
	ReportAdditional,
}

// Report is saved with replace-whole-document semantics.
type Report struct {
	DocumentID DocumentID     `json:"document_id"`
	Data       map[string]any `json:"data"`
}

// Snapshot splits the report into editable sections. Scalar sections are
// wrapped under ScalarField.
func (r *Report) Snapshot() Snapshot {
	if r == nil {
		return Snapshot{}
	}
	out := make(Snapshot, len(r.Data))
	for key, raw := range r.Data {
		if obj, ok := raw.(map[string]any); ok {
			out[SectionName(key)] = Values(obj).Clone()
			continue
		}
		out[SectionName(key)] = Values{ScalarField: cloneValue(raw)}
	}
	return out
}

// ReportFromSnapshot is the inverse of Report.Snapshot. scalar names the
// sections that were wrapped.
func ReportFromSnapshot(id DocumentID, sections Snapshot, scalar map[SectionName]bool) *Report {
	data := make(map[string]any, len(sections))
	for name, values := range sections {
		if scalar[name] {
			data[string(name)] = cloneValue(values[ScalarField])
			continue
		}
		data[string(name)] = map[string]any(values.Clone())
	}
	return &Report{DocumentID: id, Data: data}
}

// ScalarSections lists the report sections whose payload is not an object.
func (r *Report) ScalarSections() map[SectionName]bool {
	out := make(map[SectionName]bool)
	if r == nil {
		return out
	}
	for key, raw := range r.Data {
		if _, ok := raw.(map[string]any); !ok {
			out[SectionName(key)] = true
		}
	}
	return out
}

type ReviewOpinion struct {
	DocumentID    DocumentID `json:"document_id"`
	ReviewOpinion string     `json:"review_opinion"`
}

type SuggestedField struct {
	ID          string `json:"id"`
	Label       string `json:"label"`
	Description string `json:"description"`
	Type        string `json:"type"`
	Required    bool   `json:"required"`
	Placeholder string `json:"placeholder,omitempty"`
}

type IndustryInsight struct {
	Title   string `json:"title"`
	Content string `json:"content"`
	Type    string `json:"type"`
}

type AdditionalInfoSuggestion struct {
	DocumentID      DocumentID        `json:"document_id"`
	Industry        string            `json:"industry"`
	AIReason        string            `json:"ai_reason"`
	IndustryOutlook string            `json:"industry_outlook,omitempty"`
	Insights        []IndustryInsight `json:"insights,omitempty"`
	SuggestedFields []SuggestedField  `json:"suggested_fields"`
}

type AdditionalInfo struct {
	ID           int64          `json:"id,omitempty"`
	DocumentID   DocumentID     `json:"document_id"`
	FieldData    map[string]any `json:"field_data"`
	CustomFields map[string]any `json:"custom_fields,omitempty"`
}
