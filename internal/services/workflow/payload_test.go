package workflow

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ternarybob/opsdeck/internal/models"
)

func TestDeriveOutcome(t *testing.T) {
	tests := []struct {
		name         string
		ev           models.NormalizedEvent
		textFallback bool
		want         bool
		source       string
	}{
		{
			name:   "success flag wins",
			ev:     models.NormalizedEvent{Data: map[string]interface{}{"success": false, "status": "COMPLETED"}},
			want:   false,
			source: "data.success",
		},
		{
			name:   "status string",
			ev:     models.NormalizedEvent{Data: map[string]interface{}{"status": "FAILED"}},
			want:   false,
			source: "data.status",
		},
		{
			name:   "error level",
			ev:     models.NormalizedEvent{Level: models.LevelError},
			want:   false,
			source: "level",
		},
		{
			name:         "text tally with failures",
			ev:           models.NormalizedEvent{Message: "Upgrade finished. Succeeded: 3, Failed: 1"},
			textFallback: true,
			want:         false,
			source:       "message text",
		},
		{
			name:         "text tally all good",
			ev:           models.NormalizedEvent{Message: "Succeeded: 2, Failed: 0"},
			textFallback: true,
			want:         true,
			source:       "message text",
		},
		{
			name:   "text tally ignored when disabled",
			ev:     models.NormalizedEvent{Message: "Succeeded: 0, Failed: 4"},
			want:   true,
			source: "default",
		},
		{
			name:   "no signal defaults to success",
			ev:     models.NormalizedEvent{Message: "done"},
			want:   true,
			source: "default",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := deriveOutcome(tt.ev, tt.textFallback)
			assert.Equal(t, tt.want, got.Succeeded)
			assert.Equal(t, tt.source, got.Source)
		})
	}
}

func TestParseSummary_FallbackOrder(t *testing.T) {
	nested := map[string]interface{}{
		"pre_check_summary": map[string]interface{}{
			"total_checks": float64(3), "passed": float64(2), "warnings": float64(1),
			"critical_failures": float64(0), "can_proceed": true,
			"results": []interface{}{
				map[string]interface{}{"check_name": "Storage", "severity": "pass", "passed": true, "message": "ok"},
				map[string]interface{}{"check_name": "Alarms", "passed": false, "message": "major alarm", "recommendation": "clear alarms"},
			},
		},
		"can_proceed": false, // flattened copy must not win
	}

	s := parseSummary(nested)
	require.NotNil(t, s)
	assert.Equal(t, 3, s.TotalChecks)
	assert.True(t, s.CanProceed)
	require.Len(t, s.Results, 2)
	assert.Equal(t, models.SeverityPass, s.Results[0].Severity)
	assert.Equal(t, models.SeverityCritical, s.Results[1].Severity)
	assert.Equal(t, "clear alarms", s.Results[1].Recommendation)

	s = parseSummary(map[string]interface{}{"summary": map[string]interface{}{"total_checks": "2", "critical_failures": float64(1)}})
	require.NotNil(t, s)
	assert.Equal(t, 2, s.TotalChecks)
	assert.False(t, s.CanProceed, "critical failures block when can_proceed is absent")

	s = parseSummary(map[string]interface{}{"total_checks": float64(1), "passed": float64(1), "can_proceed": true, "pre_check_summary": nil})
	require.NotNil(t, s)
	assert.Equal(t, 1, s.Passed)

	assert.Nil(t, parseSummary(map[string]interface{}{"success": true, "warnings": []interface{}{"w"}}))
	assert.Nil(t, parseSummary(nil))
}
