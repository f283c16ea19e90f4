package domain

import (
	"encoding/json"
	"fmt"
	"reflect"
)

// SectionName identifies an independently editable subset of a record.
type SectionName string

// Values holds one section's fields in JSON-canonical form: string, float64,
// bool, nil, []any and map[string]any.
type Values map[string]any

// Snapshot is the pristine state of every section of one stage.
type Snapshot map[SectionName]Values

// Clone returns a deep copy; the result shares no maps or slices with v.
func (v Values) Clone() Values {
	if v == nil {
		return nil
	}
	out := make(Values, len(v))
	for key, value := range v {
		out[key] = cloneValue(value)
	}
	return out
}

func (v Values) Equal(other Values) bool {
	if len(v) != len(other) {
		return false
	}
	return reflect.DeepEqual(map[string]any(v), map[string]any(other))
}

func (s Snapshot) Clone() Snapshot {
	out := make(Snapshot, len(s))
	for name, values := range s {
		out[name] = values.Clone()
	}
	return out
}

func cloneValue(value any) any {
	switch typed := value.(type) {
	case map[string]any:
		return map[string]any(Values(typed).Clone())
	case Values:
		return typed.Clone()
	case []any:
		out := make([]any, len(typed))
		for i := range typed {
			out[i] = cloneValue(typed[i])
		}
		return out
	default:
		return typed
	}
}

// NormalizeValues converts any JSON-encodable value into canonical Values so
// that equality does not depend on the Go types used to build it.
func NormalizeValues(in any) (Values, error) {
	raw, err := json.Marshal(in)
	if err != nil {
		return nil, fmt.Errorf("marshal values: %w", err)
	}
	var out Values
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("unmarshal values: %w", err)
	}
	if out == nil {
		out = Values{}
	}
	return out, nil
}

// NormalizeValue canonicalises a single field value.
func NormalizeValue(in any) (any, error) {
	raw, err := json.Marshal(in)
	if err != nil {
		return nil, fmt.Errorf("marshal value: %w", err)
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("unmarshal value: %w", err)
	}
	return out, nil
}
