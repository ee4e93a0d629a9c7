package contracts

import (
	"encoding/json"
	"fmt"
)

// Status is the overall verdict of a ValidationReport.
type Status string

const (
	StatusPass             Status = "PASS"
	StatusPassWithWarnings Status = "PASS_WITH_WARNINGS"
	StatusFail             Status = "FAIL"
)

// Valid reports whether s is one of the closed status values.
func (s Status) Valid() bool {
	switch s {
	case StatusPass, StatusPassWithWarnings, StatusFail:
		return true
	}
	return false
}

// UnmarshalJSON rejects statuses outside the closed set.
func (s *Status) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	v := Status(raw)
	if !v.Valid() {
		return fmt.Errorf("invalid validation status %q", raw)
	}
	*s = v
	return nil
}

// Summary counts findings by severity.
type Summary struct {
	Total    int `json:"total"`
	Errors   int `json:"errors"`
	Warnings int `json:"warnings"`
}

// ValidationReport is an ordered list of findings plus the derived verdict.
// Build it with NewValidationReport so Status always agrees with Findings.
type ValidationReport struct {
	Status   Status    `json:"status"`
	Findings []Finding `json:"findings"`
	Summary  Summary   `json:"summary"`
}

// NewValidationReport derives status and summary from findings.
// Status is FAIL iff any finding has error severity.
func NewValidationReport(findings ...Finding) ValidationReport {
	r := ValidationReport{Findings: make([]Finding, 0, len(findings))}
	r.Findings = append(r.Findings, findings...)
	for _, f := range r.Findings {
		r.Summary.Total++
		if f.IsError() {
			r.Summary.Errors++
		} else {
			r.Summary.Warnings++
		}
	}
	switch {
	case r.Summary.Errors > 0:
		r.Status = StatusFail
	case r.Summary.Warnings > 0:
		r.Status = StatusPassWithWarnings
	default:
		r.Status = StatusPass
	}
	return r
}

// Merge concatenates the findings of reports in order.
func Merge(reports ...ValidationReport) ValidationReport {
	var all []Finding
	for _, r := range reports {
		all = append(all, r.Findings...)
	}
	return NewValidationReport(all...)
}

// Failed reports whether the report carries at least one error.
func (r ValidationReport) Failed() bool {
	return r.Status == StatusFail
}

// HasWarnings reports whether the report carries at least one warning.
func (r ValidationReport) HasWarnings() bool {
	return r.Summary.Warnings > 0
}

// ByCategory returns the findings of the given category, in order.
func (r ValidationReport) ByCategory(c Category) []Finding {
	var out []Finding
	for _, f := range r.Findings {
		if f.Category == c {
			out = append(out, f)
		}
	}
	return out
}
