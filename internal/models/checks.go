package models

import "strings"

// Severity is the outcome class of a single pre-flight check
type Severity string

const (
	SeverityPass     Severity = "pass"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// ParseSeverity normalizes the severity strings sent by the pre-check engine.
// Unknown values are treated as warnings so they are never silently counted as passes.
func ParseSeverity(s string) Severity {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "pass", "passed", "ok", "success":
		return SeverityPass
	case "critical", "fail", "failed", "error":
		return SeverityCritical
	default:
		return SeverityWarning
	}
}

// CheckResult is one pre-flight validation outcome
type CheckResult struct {
	Name           string   `json:"name"`
	Severity       Severity `json:"severity"`
	Message        string   `json:"message"`
	Recommendation string   `json:"recommendation,omitempty"`
}

// CheckSummary is the aggregate of one pre-check job. It gates the execute phase.
// Once set for a job it is not replaced; it is cleared only by a workflow reset.
type CheckSummary struct {
	TotalChecks      int           `json:"total_checks"`
	Passed           int           `json:"passed"`
	Warnings         int           `json:"warnings"`
	CriticalFailures int           `json:"critical_failures"`
	CanProceed       bool          `json:"can_proceed"`
	Results          []CheckResult `json:"results"`
}

// Clone returns a deep copy so read-only views never alias controller state
func (s *CheckSummary) Clone() *CheckSummary {
	if s == nil {
		return nil
	}
	c := *s
	c.Results = append([]CheckResult(nil), s.Results...)
	return &c
}
