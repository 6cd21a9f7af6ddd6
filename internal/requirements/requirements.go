// Package requirements turns heterogeneous study requirement entries into
// uniform display labels. Entries arrive either as bare strings or as typed
// constraint objects from a fixed vocabulary; unrecognized shapes fall back
// to a generic "type: value" rendering instead of failing.
package requirements

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"studymatch/pkg/domain"
)

// constraint is the typed requirement shape. Range types carry min/max,
// value types carry value.
type constraint struct {
	Type  string `json:"type"`
	Value any    `json:"value"`
	Min   any    `json:"min"`
	Max   any    `json:"max"`
}

// labels maps each known constraint type to its display label. Range types
// are rendered "Label: min-max", value types "Label: value".
var labels = map[string]struct {
	label   string
	isRange bool
}{
	"age":      {label: "Age", isRange: true},
	"bmi":      {label: "BMI", isRange: true},
	"gender":   {label: "Gender"},
	"interest": {label: "Interest"},
	"language": {label: "Language"},
	"status":   {label: "Status"},
	"device":   {label: "Device"},
	"fitness":  {label: "Fitness"},
}

// Format renders each requirement entry as a display string. The result has
// one entry per input entry; non-list input yields an empty slice. Format is
// pure and never fails.
func Format(entries domain.Requirements) []string {
	out := make([]string, 0, len(entries))
	for _, raw := range entries {
		out = append(out, formatEntry(raw))
	}
	return out
}

func formatEntry(raw json.RawMessage) string {
	var label string
	if err := json.Unmarshal(raw, &label); err == nil {
		return label
	}
	var c constraint
	if err := json.Unmarshal(raw, &c); err != nil || c.Type == "" {
		return strings.TrimSpace(string(raw))
	}
	if spec, known := labels[c.Type]; known {
		if spec.isRange {
			if present(c.Min) && present(c.Max) {
				return fmt.Sprintf("%s: %s-%s", spec.label, formatValue(c.Min), formatValue(c.Max))
			}
		} else if present(c.Value) {
			return fmt.Sprintf("%s: %s", spec.label, formatValue(c.Value))
		}
	}
	return fmt.Sprintf("%s: %s", c.Type, fallbackValue(c.Value))
}

// present reports whether an operand carries a usable value. Zero numbers and
// empty strings count as absent, matching the backend's loose payloads where
// an unset field may arrive as 0 or "".
func present(v any) bool {
	switch value := v.(type) {
	case nil:
		return false
	case string:
		return value != ""
	case float64:
		return value != 0
	case bool:
		return value
	}
	return true
}

func fallbackValue(v any) string {
	if !present(v) {
		return "N/A"
	}
	return formatValue(v)
}

func formatValue(v any) string {
	switch value := v.(type) {
	case string:
		return value
	case float64:
		if value == float64(int64(value)) {
			return strconv.FormatInt(int64(value), 10)
		}
		return strconv.FormatFloat(value, 'f', -1, 64)
	default:
		return fmt.Sprintf("%v", value)
	}
}
