package workflow

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/ternarybob/opsdeck/internal/models"
)

// completionTextPattern is the human-readable tally printed by the device workers.
// Only consulted when no structured outcome field is present.
var completionTextPattern = regexp.MustCompile(`Succeeded:\s*(\d+),\s*Failed:\s*(\d+)`)

// Outcome is the derived result of a completed job
type Outcome struct {
	Succeeded bool
	Source    string // Field the outcome was derived from
}

// deriveOutcome decides whether a completion event reports success.
// Order: data.success, data.status, event level, then the text tally when enabled.
// A completion event carrying no failure signal at all counts as success.
func deriveOutcome(ev models.NormalizedEvent, textFallback bool) Outcome {
	if v, ok := ev.Data["success"].(bool); ok {
		return Outcome{Succeeded: v, Source: "data.success"}
	}

	if status, ok := ev.Data["status"].(string); ok {
		switch strings.ToUpper(strings.TrimSpace(status)) {
		case "SUCCESS", "SUCCEEDED", "COMPLETED", "COMPLETE", "OK":
			return Outcome{Succeeded: true, Source: "data.status"}
		case "FAILED", "FAILURE", "ERROR", "CANCELLED":
			return Outcome{Succeeded: false, Source: "data.status"}
		}
	}

	if ev.Level == models.LevelError {
		return Outcome{Succeeded: false, Source: "level"}
	}

	if textFallback {
		if m := completionTextPattern.FindStringSubmatch(ev.Message); m != nil {
			succeeded, _ := strconv.Atoi(m[1])
			failed, _ := strconv.Atoi(m[2])
			if failed > 0 || succeeded > 0 {
				return Outcome{Succeeded: failed == 0, Source: "message text"}
			}
		}
	}

	return Outcome{Succeeded: true, Source: "default"}
}

// parseSummary looks for a check summary in an event payload.
// Order: data.pre_check_summary, data.summary, then counters flattened into data.
func parseSummary(data map[string]interface{}) *models.CheckSummary {
	if data == nil {
		return nil
	}
	for _, key := range []string{"pre_check_summary", "summary"} {
		if m, ok := data[key].(map[string]interface{}); ok {
			if s := summaryFromMap(m); s != nil {
				return s
			}
		}
	}
	return summaryFromMap(data)
}

func summaryFromMap(m map[string]interface{}) *models.CheckSummary {
	_, hasTotal := m["total_checks"]
	_, hasProceed := m["can_proceed"]
	if !hasTotal && !hasProceed {
		return nil
	}

	s := &models.CheckSummary{
		TotalChecks:      intValue(m["total_checks"]),
		Passed:           intValue(m["passed"]),
		Warnings:         intValue(m["warnings"]),
		CriticalFailures: intValue(m["critical_failures"]),
		Results:          []models.CheckResult{},
	}

	if proceed, ok := m["can_proceed"].(bool); ok {
		s.CanProceed = proceed
	} else {
		s.CanProceed = s.CriticalFailures == 0
	}

	if results, ok := m["results"].([]interface{}); ok {
		for _, r := range results {
			if rm, ok := r.(map[string]interface{}); ok {
				s.Results = append(s.Results, checkResultFromMap(rm))
			}
		}
	}

	return s
}

// checkResultFromMap reads one check result as published by the pre-check engine
func checkResultFromMap(m map[string]interface{}) models.CheckResult {
	name := stringValue(m["check_name"])
	if name == "" {
		name = stringValue(m["name"])
	}

	var severity models.Severity
	if s := stringValue(m["severity"]); s != "" {
		severity = models.ParseSeverity(s)
	} else if passed, ok := m["passed"].(bool); ok {
		severity = models.SeverityCritical
		if passed {
			severity = models.SeverityPass
		}
	} else {
		severity = models.SeverityWarning
	}

	return models.CheckResult{
		Name:           name,
		Severity:       severity,
		Message:        stringValue(m["message"]),
		Recommendation: stringValue(m["recommendation"]),
	}
}

// intValue reads a JSON number (or numeric string) as an int; anything else is 0
func intValue(v interface{}) int {
	switch n := v.(type) {
	case float64:
		return int(n)
	case int:
		return n
	case string:
		i, err := strconv.Atoi(strings.TrimSpace(n))
		if err != nil {
			return 0
		}
		return i
	default:
		return 0
	}
}

// floatValue reads a JSON number (or numeric string)
func floatValue(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(strings.TrimSuffix(n, "%")), 64)
		if err != nil {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}

func stringValue(v interface{}) string {
	s, _ := v.(string)
	return s
}
