package extractor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ternarybob/opsdeck/internal/models"
)

func TestExtract_EnvelopeWithStringData(t *testing.T) {
	raw := `{"channel":"ws_channel:job:42","data":"{\"event_type\":\"STEP_COMPLETE\",\"message\":\"step 2 done\",\"data\":{\"step\":2},\"timestamp\":\"2025-01-01T00:00:00Z\",\"level\":\"info\",\"sequence\":7,\"job_id\":\"42\"}"}`

	ev := Extract([]byte(raw))

	assert.Equal(t, models.EventStepComplete, ev.EventType)
	assert.Equal(t, "step 2 done", ev.Message)
	assert.Equal(t, float64(2), ev.Data["step"])
	assert.Equal(t, "2025-01-01T00:00:00Z", ev.Timestamp)
	assert.Equal(t, models.LevelInfo, ev.Level)
	require.NotNil(t, ev.Sequence)
	assert.Equal(t, int64(7), *ev.Sequence)
	assert.Equal(t, "42", ev.JobID)
	assert.Equal(t, "ws_channel:job:42", ev.Channel)
}

func TestExtract_EnvelopeWithObjectData(t *testing.T) {
	raw := `{"channel":"job:1","data":{"event_type":"OPERATION_START","data":{"total_steps":4}}}`

	ev := Extract([]byte(raw))

	assert.Equal(t, models.EventOperationStart, ev.EventType)
	assert.Equal(t, float64(4), ev.Data["total_steps"])
	assert.Equal(t, "job:1", ev.Channel)
}

func TestExtract_DirectObject(t *testing.T) {
	ev := Extract([]byte(`{"event_type":"progress_update","data":{"progress":55.5},"level":"WARN"}`))

	assert.Equal(t, models.EventProgressUpdate, ev.EventType)
	assert.Equal(t, 55.5, ev.Data["progress"])
	assert.Equal(t, models.LevelWarning, ev.Level)
	assert.Empty(t, ev.Channel)
}

func TestExtract_FlattenedPayloadBecomesData(t *testing.T) {
	ev := Extract([]byte(`{"event_type":"OPERATION_START","total_steps":3,"timestamp":1700000000.5}`))

	assert.Equal(t, models.EventOperationStart, ev.EventType)
	assert.Equal(t, map[string]interface{}{"total_steps": float64(3)}, ev.Data)
	assert.Equal(t, "1700000000.5", ev.Timestamp)
}

func TestExtract_EmbeddedMarkerInOrchestratorLog(t *testing.T) {
	inner := `{"event_type":"ORCHESTRATOR_LOG","level":"INFO","message":"[STDOUT] PRE_CHECK_COMPLETE:{\"pre_check_summary\":{\"total_checks\":2,\"passed\":2,\"can_proceed\":true}} trailing garbage","job_id":"9","sequence":12}`
	raw := `{"channel":"ws_channel:job:9","data":` + quote(inner) + `}`

	ev := Extract([]byte(raw))

	assert.Equal(t, models.EventPreCheckComplete, ev.EventType)
	summary, ok := ev.Data["pre_check_summary"].(map[string]interface{})
	require.True(t, ok, "marker payload becomes data")
	assert.Equal(t, true, summary["can_proceed"])
	assert.Equal(t, "9", ev.JobID)
	require.NotNil(t, ev.Sequence)
	assert.Equal(t, int64(12), *ev.Sequence)
	assert.Equal(t, "[STDOUT] trailing garbage", ev.Message)
}

func TestExtract_EmbeddedEventObjectInRawLine(t *testing.T) {
	ev := Extract([]byte(`[STDOUT] {"event_type":"STEP_COMPLETE","message":"Step 1","data":{"step":1}} (1.2s)`))

	assert.Equal(t, models.EventStepComplete, ev.EventType)
	assert.Equal(t, "Step 1", ev.Message)
	assert.Equal(t, float64(1), ev.Data["step"])
}

func TestExtract_JSONProgressLineFromWorker(t *testing.T) {
	line := `[STDERR] JSON_PROGRESS: {"event_type": "STEP_COMPLETE", "message": "Pre-upgrade backup saved", "data": {"step": 3, "total_steps": 8}, "timestamp": "2025-03-01T10:00:00Z"}`
	inner := `{"event_type":"ORCHESTRATOR_LOG","level":"INFO","message":` + quote(line) + `,"job_id":"77"}`
	raw := `{"channel":"ws_channel:job:77","data":` + quote(inner) + `}`

	ev := Extract([]byte(raw))

	assert.Equal(t, models.EventStepComplete, ev.EventType)
	assert.Equal(t, "Pre-upgrade backup saved", ev.Message)
	assert.Equal(t, float64(3), ev.Data["step"])
	assert.Equal(t, "2025-03-01T10:00:00Z", ev.Timestamp)
	assert.Equal(t, "77", ev.JobID)
}

func TestExtract_PythonDictLineStaysLog(t *testing.T) {
	raw := `{"event_type":"ORCHESTRATOR_LOG","message":"[STDOUT] facts DEVICE:{'hostname': 'r1'} collected"}`

	ev := Extract([]byte(raw))

	assert.Equal(t, models.EventOrchestratorLog, ev.EventType)
	assert.Equal(t, "[STDOUT] facts DEVICE:{'hostname': 'r1'} collected", ev.Message)
}

func TestExtract_TypedEventIgnoresMarkerText(t *testing.T) {
	ev := Extract([]byte(`{"event_type":"ERROR","message":"bad payload DATA:{oops"}`))

	assert.Equal(t, models.EventError, ev.EventType)
	assert.Equal(t, models.LevelError, ev.Level, "ERROR events default to ERROR level")
	assert.Equal(t, "bad payload DATA:{oops", ev.Message)
}

func TestExtract_RawStringBecomesLogMessage(t *testing.T) {
	ev := Extract([]byte("Connecting to 10.0.0.1 ..."))

	assert.Equal(t, models.EventLogMessage, ev.EventType)
	assert.Equal(t, "Connecting to 10.0.0.1 ...", ev.Message)
	assert.Equal(t, models.LevelInfo, ev.Level)
	assert.Nil(t, ev.Data)
}

func TestExtract_EnvelopeWithPlainTextData(t *testing.T) {
	ev := Extract([]byte(`{"channel":"job:3","data":"just text"}`))

	assert.Equal(t, models.EventLogMessage, ev.EventType)
	assert.Equal(t, "just text", ev.Message)
	assert.Equal(t, "job:3", ev.Channel)
}

func TestExtract_ObjectWithoutEventTypeDefaultsToLog(t *testing.T) {
	ev := Extract([]byte(`{"message":"hello","level":"error"}`))

	assert.Equal(t, models.EventLogMessage, ev.EventType)
	assert.Equal(t, "hello", ev.Message)
	assert.Equal(t, models.LevelError, ev.Level)
}

func TestExtract_ParseErrors(t *testing.T) {
	tests := []struct {
		name  string
		raw   string
		stage string
	}{
		{name: "malformed frame", raw: `{"event_type":`, stage: "frame"},
		{name: "malformed envelope data", raw: `{"channel":"job:1","data":"{\"event_type\":"}`, stage: "envelope"},
		{name: "null envelope data", raw: `{"channel":"job:1","data":null}`, stage: "envelope"},
		{name: "truncated embedded", raw: `{"event_type":"ORCHESTRATOR_LOG","message":"PRE_CHECK_COMPLETE:{\"summary\":{\"passed\":1}"}`, stage: "embedded"},
		{name: "empty frame", raw: "   ", stage: "frame"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev := Extract([]byte(tt.raw))

			assert.Equal(t, models.EventParseError, ev.EventType)
			assert.True(t, ev.IsParseError())
			assert.Equal(t, models.LevelError, ev.Level)
			assert.Equal(t, tt.stage, ev.Data["stage"])
			assert.NotEmpty(t, ev.Data["error"])
			assert.Contains(t, ev.Message, "Failed to parse")
		})
	}
}

func TestExtract_ParseErrorKeepsRawAndChannel(t *testing.T) {
	ev := Extract([]byte(`{"channel":"job:5","data":"{broken"}`))

	assert.Equal(t, models.EventParseError, ev.EventType)
	assert.Equal(t, "{broken", ev.Raw)
	assert.Equal(t, "job:5", ev.Channel)
}

func quote(s string) string {
	out := []byte{'"'}
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '"', '\\':
			out = append(out, '\\', s[i])
		default:
			out = append(out, s[i])
		}
	}
	return string(append(out, '"'))
}
