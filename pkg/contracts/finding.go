// Package contracts holds the typed records shared by every stage of the
// MISMO conformance pipeline: findings, validation reports, mapping results
// and unmapped nodes.
package contracts

import (
	"encoding/json"
	"fmt"
)

// Severity of a finding. Only SeverityError can force a blocked or failed run.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

// Valid reports whether s is one of the closed severity values.
func (s Severity) Valid() bool {
	return s == SeverityError || s == SeverityWarning
}

// UnmarshalJSON rejects severities outside the closed set.
func (s *Severity) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	v := Severity(raw)
	if !v.Valid() {
		return fmt.Errorf("invalid severity %q", raw)
	}
	*s = v
	return nil
}

// Category classifies a finding.
type Category string

const (
	CategoryMissingRequired  Category = "missing_required"
	CategoryEnumViolation    Category = "enum_violation"
	CategoryDatatype         Category = "datatype"
	CategoryConditionalLogic Category = "conditional_logic"
	CategoryStructural       Category = "structural"
	CategoryVersion          Category = "version"
	CategorySystem           Category = "system"
)

var validCategories = map[Category]bool{
	CategoryMissingRequired:  true,
	CategoryEnumViolation:    true,
	CategoryDatatype:         true,
	CategoryConditionalLogic: true,
	CategoryStructural:       true,
	CategoryVersion:          true,
	CategorySystem:           true,
}

// Valid reports whether c is one of the closed category values.
func (c Category) Valid() bool {
	return validCategories[c]
}

// UnmarshalJSON rejects categories outside the closed set.
func (c *Category) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	v := Category(raw)
	if !v.Valid() {
		return fmt.Errorf("invalid category %q", raw)
	}
	*c = v
	return nil
}

// Finding is a single itemized validation result.
type Finding struct {
	Field    string   `json:"field"`
	Message  string   `json:"message"`
	Severity Severity `json:"severity"`
	Category Category `json:"category"`
	Code     string   `json:"code,omitempty"`
	Stage    string   `json:"stage,omitempty"`
}

// IsError reports whether the finding has error severity.
func (f Finding) IsError() bool {
	return f.Severity == SeverityError
}

// Errorf builds an error-severity finding.
func Errorf(category Category, code, field, format string, args ...any) Finding {
	return Finding{
		Field:    field,
		Message:  fmt.Sprintf(format, args...),
		Severity: SeverityError,
		Category: category,
		Code:     code,
	}
}

// Warnf builds a warning-severity finding.
func Warnf(category Category, code, field, format string, args ...any) Finding {
	return Finding{
		Field:    field,
		Message:  fmt.Sprintf(format, args...),
		Severity: SeverityWarning,
		Category: category,
		Code:     code,
	}
}

// WithStage returns a copy of findings tagged with the producing stage.
// Findings that already carry a stage keep it.
func WithStage(stage string, findings []Finding) []Finding {
	out := make([]Finding, len(findings))
	for i, f := range findings {
		if f.Stage == "" {
			f.Stage = stage
		}
		out[i] = f
	}
	return out
}
