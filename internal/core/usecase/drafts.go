package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/kirillkom/loan-review-workflow/internal/core/domain"
	"github.com/kirillkom/loan-review-workflow/internal/core/ports"
)

// sectionState is either viewing or editing. An editing section always
// carries both its pristine snapshot and its working copy.
type sectionState interface {
	pristineValues() domain.Values
}

type viewing struct {
	pristine domain.Values
}

func (v viewing) pristineValues() domain.Values { return v.pristine }

type editing struct {
	pristine domain.Values
	working  domain.Values
	saving   bool
	saveErr  error
}

func (e *editing) pristineValues() domain.Values { return e.pristine }

// SectionView is a read-only copy of one section for rendering.
type SectionView struct {
	Name     domain.SectionName `json:"name"`
	Title    string             `json:"title,omitempty"`
	Editing  bool               `json:"editing"`
	Saving   bool               `json:"saving,omitempty"`
	Pristine domain.Values      `json:"pristine"`
	Working  domain.Values      `json:"working,omitempty"`
	Error    string             `json:"error,omitempty"`
}

// DraftController keeps per-section edits of one stage separate from the
// last server-confirmed values.
type DraftController struct {
	stage     string
	committer ports.SectionCommitter
	observer  ports.WorkflowObserver
	specs     map[domain.SectionName]domain.SectionSpec
	order     []domain.SectionName

	mu       sync.Mutex
	sections map[domain.SectionName]sectionState
}

func NewDraftController(
	stage string,
	committer ports.SectionCommitter,
	specs []domain.SectionSpec,
	initial domain.Snapshot,
	observer ports.WorkflowObserver,
) *DraftController {
	dc := &DraftController{
		stage:     stage,
		committer: committer,
		observer:  observer,
		specs:     make(map[domain.SectionName]domain.SectionSpec, len(specs)),
		sections:  make(map[domain.SectionName]sectionState, len(initial)),
	}
	for _, spec := range specs {
		dc.specs[spec.Name] = spec
		dc.order = append(dc.order, spec.Name)
	}
	extra := make([]domain.SectionName, 0)
	for name, values := range initial {
		dc.sections[name] = viewing{pristine: values.Clone()}
		if _, declared := dc.specs[name]; !declared {
			extra = append(extra, name)
		}
	}
	sort.Slice(extra, func(i, j int) bool { return extra[i] < extra[j] })
	dc.order = append(dc.order, extra...)
	for _, name := range dc.order {
		if _, ok := dc.sections[name]; !ok {
			dc.sections[name] = viewing{pristine: domain.Values{}}
		}
	}
	return dc
}

// EnterEdit snapshots the pristine values into a working copy. Entering edit
// on a section that is already editing keeps the existing working copy.
func (dc *DraftController) EnterEdit(section domain.SectionName) error {
	dc.mu.Lock()
	defer dc.mu.Unlock()

	state, err := dc.lookupLocked(section)
	if err != nil {
		return err
	}
	if _, ok := state.(*editing); ok {
		return nil
	}
	pristine := state.pristineValues()
	working := pristine.Clone()
	if working == nil {
		working = domain.Values{}
	}
	dc.sections[section] = &editing{
		pristine: pristine,
		working:  working,
	}
	return nil
}

// Mutate updates one field of the section's working copy only.
func (dc *DraftController) Mutate(section domain.SectionName, field string, value any) error {
	return dc.MutateFields(section, map[string]any{field: value})
}

// MutateFields applies all fields or none of them.
func (dc *DraftController) MutateFields(section domain.SectionName, fields map[string]any) error {
	normalized := make(domain.Values, len(fields))
	for field, value := range fields {
		v, err := domain.NormalizeValue(value)
		if err != nil {
			return domain.WrapError(domain.ErrInvalidInput, "mutate section", fmt.Errorf("field %q: %w", field, err))
		}
		normalized[field] = v
	}

	dc.mu.Lock()
	defer dc.mu.Unlock()

	ed, err := dc.editingLocked(section)
	if err != nil {
		return err
	}
	if spec, ok := dc.specs[section]; ok {
		for field := range normalized {
			if !spec.HasField(field) {
				return domain.WrapError(domain.ErrInvalidInput, "mutate section", fmt.Errorf("field %q is not part of section %s", field, section))
			}
		}
	}
	for field, value := range normalized {
		ed.working[field] = value
	}
	return nil
}

// Cancel discards the working copy and returns the section to viewing.
func (dc *DraftController) Cancel(section domain.SectionName) error {
	dc.mu.Lock()
	defer dc.mu.Unlock()

	ed, err := dc.editingLocked(section)
	if err != nil {
		return err
	}
	dc.sections[section] = viewing{pristine: ed.pristine}
	return nil
}

// Save commits the full working copy upstream. Only a successful commit
// replaces the pristine snapshot; on failure the section stays in edit with
// its working copy untouched.
func (dc *DraftController) Save(ctx context.Context, section domain.SectionName) error {
	dc.mu.Lock()
	ed, err := dc.editingLocked(section)
	if err != nil {
		dc.mu.Unlock()
		return err
	}
	ed.saving = true
	working := ed.working.Clone()
	baseline := dc.pristineLocked()
	dc.mu.Unlock()

	confirmed, commitErr := dc.committer.CommitSection(ctx, section, working, baseline)
	if commitErr == nil && confirmed == nil {
		confirmed = working
	}

	dc.mu.Lock()
	ed.saving = false
	if commitErr != nil {
		ed.saveErr = commitErr
		dc.mu.Unlock()

		slog.Warn("section_save_failed", "stage", dc.stage, "section", string(section), "error", commitErr)
		dc.observeSave(section, commitErr)
		return domain.WrapError(domain.ErrCommitFailed, fmt.Sprintf("save %s/%s", dc.stage, section), commitErr)
	}
	dc.sections[section] = viewing{pristine: confirmed.Clone()}
	dc.mu.Unlock()

	slog.Info("section_saved", "stage", dc.stage, "section", string(section))
	dc.observeSave(section, nil)
	return nil
}

// IsEditing reports whether section currently holds a working copy.
func (dc *DraftController) IsEditing(section domain.SectionName) bool {
	dc.mu.Lock()
	defer dc.mu.Unlock()
	_, ok := dc.sections[section].(*editing)
	return ok
}

// Editing lists the sections currently in edit mode.
func (dc *DraftController) Editing() []domain.SectionName {
	dc.mu.Lock()
	defer dc.mu.Unlock()
	out := make([]domain.SectionName, 0)
	for _, name := range dc.order {
		if _, ok := dc.sections[name].(*editing); ok {
			out = append(out, name)
		}
	}
	return out
}

func (dc *DraftController) View(section domain.SectionName) (SectionView, error) {
	dc.mu.Lock()
	defer dc.mu.Unlock()

	state, err := dc.lookupLocked(section)
	if err != nil {
		return SectionView{}, err
	}
	return dc.viewLocked(section, state), nil
}

// Views returns every section in display order.
func (dc *DraftController) Views() []SectionView {
	dc.mu.Lock()
	defer dc.mu.Unlock()

	out := make([]SectionView, 0, len(dc.order))
	for _, name := range dc.order {
		out = append(out, dc.viewLocked(name, dc.sections[name]))
	}
	return out
}

// Snapshot returns a deep copy of every section's pristine values.
func (dc *DraftController) Snapshot() domain.Snapshot {
	dc.mu.Lock()
	defer dc.mu.Unlock()
	return dc.pristineLocked()
}

// Load replaces the pristine values of sections that are not being edited.
// Sections in edit keep both their snapshot and their working copy.
func (dc *DraftController) Load(snapshot domain.Snapshot) {
	dc.mu.Lock()
	defer dc.mu.Unlock()

	for name, values := range snapshot {
		state, ok := dc.sections[name]
		if !ok {
			dc.order = append(dc.order, name)
		}
		if _, isEditing := state.(*editing); isEditing {
			continue
		}
		dc.sections[name] = viewing{pristine: values.Clone()}
	}
}

func (dc *DraftController) lookupLocked(section domain.SectionName) (sectionState, error) {
	state, ok := dc.sections[section]
	if !ok {
		return nil, domain.WrapError(domain.ErrUnknownSection, "lookup section", fmt.Errorf("%s/%s", dc.stage, section))
	}
	return state, nil
}

func (dc *DraftController) editingLocked(section domain.SectionName) (*editing, error) {
	state, err := dc.lookupLocked(section)
	if err != nil {
		return nil, err
	}
	ed, ok := state.(*editing)
	if !ok {
		return nil, domain.WrapError(domain.ErrNotEditing, "edit section", fmt.Errorf("%s/%s", dc.stage, section))
	}
	if ed.saving {
		return nil, domain.WrapError(domain.ErrSaveInFlight, "edit section", fmt.Errorf("%s/%s", dc.stage, section))
	}
	return ed, nil
}

func (dc *DraftController) pristineLocked() domain.Snapshot {
	out := make(domain.Snapshot, len(dc.sections))
	for name, state := range dc.sections {
		out[name] = state.pristineValues().Clone()
	}
	return out
}

func (dc *DraftController) viewLocked(name domain.SectionName, state sectionState) SectionView {
	view := SectionView{
		Name:     name,
		Title:    dc.specs[name].Title,
		Pristine: state.pristineValues().Clone(),
	}
	if ed, ok := state.(*editing); ok {
		view.Editing = true
		view.Saving = ed.saving
		view.Working = ed.working.Clone()
		if ed.saveErr != nil {
			view.Error = ed.saveErr.Error()
		}
	}
	return view
}

func (dc *DraftController) observeSave(section domain.SectionName, err error) {
	if dc.observer != nil {
		dc.observer.ObserveSectionSave(dc.stage, string(section), err)
	}
}
