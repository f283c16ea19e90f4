package domain

import "time"

const (
	SectionIdentity   SectionName = "identity"
	SectionFinancials SectionName = "financials"
	SectionLoanTerms  SectionName = "loan_terms"
)

// ExtractionRecord is created by the backend job once extraction succeeds.
// Every business field is optional.
type ExtractionRecord struct {
	ID         int64      `json:"id"`
	DocumentID DocumentID `json:"document_id"`

	CompanyName       *string `json:"company_name"`
	BusinessNumber    *string `json:"business_number"`
	CEOName           *string `json:"ceo_name"`
	EstablishmentDate *string `json:"establishment_date"`
	Industry          *string `json:"industry"`
	Address           *string `json:"address"`

	Revenue          *float64 `json:"revenue"`
	OperatingProfit  *float64 `json:"operating_profit"`
	NetProfit        *float64 `json:"net_profit"`
	TotalAssets      *float64 `json:"total_assets"`
	TotalLiabilities *float64 `json:"total_liabilities"`
	Equity           *float64 `json:"equity"`

	EmployeeCount *int     `json:"employee_count"`
	MainProducts  *string  `json:"main_products"`
	LoanPurpose   *string  `json:"loan_purpose"`
	LoanAmount    *float64 `json:"loan_amount"`

	ExtractedAt      time.Time `json:"extracted_at"`
	ExtractionMethod string    `json:"extraction_method"`
}

// SectionSpec declares which record fields belong to a section.
type SectionSpec struct {
	Name   SectionName `yaml:"name" json:"name"`
	Title  string      `yaml:"title" json:"title"`
	Fields []string    `yaml:"fields" json:"fields"`
}

// DefaultExtractionSections is the built-in grouping of record fields.
func DefaultExtractionSections() []SectionSpec {
	return []SectionSpec{
		{
			Name:   SectionIdentity,
			Title:  "Company",
			Fields: []string{"company_name", "business_number", "ceo_name", "establishment_date", "industry", "address", "employee_count", "main_products"},
		},
		{
			Name:   SectionFinancials,
			Title:  "Financials",
			Fields: []string{"revenue", "operating_profit", "net_profit", "total_assets", "total_liabilities", "equity"},
		},
		{
			Name:   SectionLoanTerms,
			Title:  "Loan request",
			Fields: []string{"loan_purpose", "loan_amount"},
		},
	}
}

func (s SectionSpec) HasField(field string) bool {
	if len(s.Fields) == 0 {
		return true
	}
	for _, f := range s.Fields {
		if f == field {
			return true
		}
	}
	return false
}

// Fields returns the record as canonical values keyed by JSON field name.
func (r *ExtractionRecord) Fields() (Values, error) {
	if r == nil {
		return Values{}, nil
	}
	return NormalizeValues(r)
}

// Sections projects the record onto the given section specs.
func (r *ExtractionRecord) Sections(specs []SectionSpec) (Snapshot, error) {
	all, err := r.Fields()
	if err != nil {
		return nil, err
	}
	out := make(Snapshot, len(specs))
	for _, spec := range specs {
		values := make(Values, len(spec.Fields))
		for _, field := range spec.Fields {
			values[field] = all[field]
		}
		out[spec.Name] = values
	}
	return out, nil
}

// Section projects the record onto a single section.
func (r *ExtractionRecord) Section(spec SectionSpec) (Values, error) {
	sections, err := r.Sections([]SectionSpec{spec})
	if err != nil {
		return nil, err
	}
	return sections[spec.Name], nil
}
