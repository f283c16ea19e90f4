package usecase

import (
	"context"
	"fmt"
	"sync"

	"github.com/kirillkom/loan-review-workflow/internal/core/domain"
	"github.com/kirillkom/loan-review-workflow/internal/core/ports"
)

// ExtractionCommitter saves one extraction section through a partial update
// carrying only that section's fields.
type ExtractionCommitter struct {
	client ports.ExtractionClient
	id     domain.DocumentID
	specs  map[domain.SectionName]domain.SectionSpec
}

func NewExtractionCommitter(client ports.ExtractionClient, id domain.DocumentID, specs []domain.SectionSpec) *ExtractionCommitter {
	byName := make(map[domain.SectionName]domain.SectionSpec, len(specs))
	for _, spec := range specs {
		byName[spec.Name] = spec
	}
	return &ExtractionCommitter{client: client, id: id, specs: byName}
}

func (c *ExtractionCommitter) CommitSection(ctx context.Context, section domain.SectionName, working domain.Values, _ domain.Snapshot) (domain.Values, error) {
	spec, ok := c.specs[section]
	if !ok {
		return nil, domain.WrapError(domain.ErrUnknownSection, "commit extraction section", fmt.Errorf("%s", section))
	}

	payload := working.Clone()
	if len(spec.Fields) > 0 {
		payload = make(domain.Values, len(spec.Fields))
		for _, field := range spec.Fields {
			if value, present := working[field]; present {
				payload[field] = value
			}
		}
	}

	record, err := c.client.UpdateExtraction(ctx, c.id, payload)
	if err != nil {
		return nil, err
	}
	return record.Section(spec)
}

// ReportCommitter saves the report as a whole document: the edited section is
// sent with every other section taken from its pristine values.
type ReportCommitter struct {
	client ports.ReviewClient
	id     domain.DocumentID
	scalar map[domain.SectionName]bool
}

func NewReportCommitter(client ports.ReviewClient, id domain.DocumentID, scalar map[domain.SectionName]bool) *ReportCommitter {
	merged := map[domain.SectionName]bool{domain.ReportSummary: true}
	for name, isScalar := range scalar {
		if isScalar {
			merged[name] = true
		}
	}
	return &ReportCommitter{client: client, id: id, scalar: merged}
}

func (c *ReportCommitter) CommitSection(ctx context.Context, section domain.SectionName, working domain.Values, baseline domain.Snapshot) (domain.Values, error) {
	sections := baseline.Clone()
	sections[section] = working.Clone()

	saved, err := c.client.SaveReport(ctx, c.id, domain.ReportFromSnapshot(c.id, sections, c.scalar))
	if err != nil {
		return nil, err
	}
	confirmed, ok := saved.Snapshot()[section]
	if !ok {
		return working, nil
	}
	return confirmed, nil
}

// ReviewOpinionCommitter writes the analyst's free-text opinion.
type ReviewOpinionCommitter struct {
	client ports.ReviewClient
	id     domain.DocumentID
}

func NewReviewOpinionCommitter(client ports.ReviewClient, id domain.DocumentID) *ReviewOpinionCommitter {
	return &ReviewOpinionCommitter{client: client, id: id}
}

func (c *ReviewOpinionCommitter) CommitSection(ctx context.Context, section domain.SectionName, working domain.Values, _ domain.Snapshot) (domain.Values, error) {
	if section != domain.SectionReviewOpinion {
		return nil, domain.WrapError(domain.ErrUnknownSection, "commit review opinion", fmt.Errorf("%s", section))
	}
	var opinion string
	switch raw := working[domain.FieldReviewOpinion].(type) {
	case nil:
	case string:
		opinion = raw
	default:
		return nil, domain.WrapError(domain.ErrInvalidInput, "commit review opinion", fmt.Errorf("review opinion must be text, got %T", raw))
	}

	saved, err := c.client.PutReviewOpinion(ctx, c.id, opinion)
	if err != nil {
		return nil, err
	}
	return domain.Values{domain.FieldReviewOpinion: saved}, nil
}

// AdditionalInfoCommitter creates the additional-information record on the
// first save and updates it afterwards.
type AdditionalInfoCommitter struct {
	client ports.AdditionalInfoClient
	id     domain.DocumentID

	mu     sync.Mutex
	exists bool
}

func NewAdditionalInfoCommitter(client ports.AdditionalInfoClient, id domain.DocumentID, exists bool) *AdditionalInfoCommitter {
	return &AdditionalInfoCommitter{client: client, id: id, exists: exists}
}

func (c *AdditionalInfoCommitter) CommitSection(ctx context.Context, section domain.SectionName, working domain.Values, baseline domain.Snapshot) (domain.Values, error) {
	if section != domain.SectionAdditionalFields && section != domain.SectionCustomFields {
		return nil, domain.WrapError(domain.ErrUnknownSection, "commit additional info", fmt.Errorf("%s", section))
	}
	sections := baseline.Clone()
	sections[section] = working.Clone()
	info := &domain.AdditionalInfo{
		DocumentID:   c.id,
		FieldData:    map[string]any(sections[domain.SectionAdditionalFields]),
		CustomFields: map[string]any(sections[domain.SectionCustomFields]),
	}
	if info.FieldData == nil {
		info.FieldData = map[string]any{}
	}

	// Serialized so two sections saved back to back never both create.
	c.mu.Lock()
	defer c.mu.Unlock()

	var (
		saved *domain.AdditionalInfo
		err   error
	)
	if c.exists {
		saved, err = c.client.UpdateAdditionalInfo(ctx, info)
	} else {
		saved, err = c.client.CreateAdditionalInfo(ctx, info)
	}
	if err != nil {
		return nil, err
	}
	c.exists = true

	if saved == nil {
		return working, nil
	}
	if section == domain.SectionCustomFields {
		return normalizedOrEmpty(saved.CustomFields)
	}
	return normalizedOrEmpty(saved.FieldData)
}

func normalizedOrEmpty(raw map[string]any) (domain.Values, error) {
	if raw == nil {
		return domain.Values{}, nil
	}
	return domain.NormalizeValues(raw)
}
