package dedup

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/opsdeck/internal/models"
)

func newDeduplicator(t *testing.T, capacity int) *Deduplicator {
	t.Helper()
	d, err := New(capacity, arbor.NewLogger())
	require.NoError(t, err)
	return d
}

func seq(n int64) *int64 { return &n }

func TestShouldProcess_IdenticalEventTwice(t *testing.T) {
	d := newDeduplicator(t, 0)
	ev := models.NormalizedEvent{
		EventType: models.EventStepComplete,
		Message:   "Step 1 complete",
		Timestamp: "2025-01-01T00:00:00Z",
	}

	assert.True(t, d.ShouldProcess(ev))
	assert.False(t, d.ShouldProcess(ev))
	assert.Equal(t, 1, d.Dropped())
}

func TestShouldProcess_SequenceTakesPrecedence(t *testing.T) {
	d := newDeduplicator(t, 0)

	a := models.NormalizedEvent{EventType: models.EventLogMessage, Message: "first", Sequence: seq(3)}
	b := models.NormalizedEvent{EventType: models.EventLogMessage, Message: "different text", Sequence: seq(3)}
	c := models.NormalizedEvent{EventType: models.EventLogMessage, Message: "first", Sequence: seq(4)}

	assert.True(t, d.ShouldProcess(a))
	assert.False(t, d.ShouldProcess(b), "same sequence is the same event")
	assert.True(t, d.ShouldProcess(c))
}

func TestShouldProcess_ParseErrorsAlwaysPass(t *testing.T) {
	d := newDeduplicator(t, 0)
	ev := models.NormalizedEvent{EventType: models.EventParseError, Message: "Failed to parse frame payload"}

	for i := 0; i < 3; i++ {
		assert.True(t, d.ShouldProcess(ev))
	}
	assert.Equal(t, 0, d.Len())
}

func TestShouldProcess_MessagePrefixOnly(t *testing.T) {
	d := newDeduplicator(t, 0)
	base := strings.Repeat("x", 100)

	assert.True(t, d.ShouldProcess(models.NormalizedEvent{EventType: models.EventLogMessage, Message: base + "A"}))
	assert.False(t, d.ShouldProcess(models.NormalizedEvent{EventType: models.EventLogMessage, Message: base + "B"}),
		"only the first 100 characters participate")
}

func TestReset_ForgetsSignatures(t *testing.T) {
	d := newDeduplicator(t, 0)
	ev := models.NormalizedEvent{EventType: models.EventOperationComplete, Sequence: seq(1)}

	assert.True(t, d.ShouldProcess(ev))
	d.Reset()
	assert.Equal(t, 0, d.Len())
	assert.True(t, d.ShouldProcess(ev))
}

func TestCapacity_EvictsOldest(t *testing.T) {
	d := newDeduplicator(t, 2)

	for i := int64(1); i <= 3; i++ {
		assert.True(t, d.ShouldProcess(models.NormalizedEvent{EventType: models.EventLogMessage, Sequence: seq(i)}))
	}
	assert.Equal(t, 2, d.Len())
	assert.True(t, d.ShouldProcess(models.NormalizedEvent{EventType: models.EventLogMessage, Sequence: seq(1)}),
		"evicted signature is accepted again")
}

func TestSignature_PrefixIsRuneSafe(t *testing.T) {
	msg := strings.Repeat("é", 150)
	sig := Signature(models.NormalizedEvent{EventType: models.EventLogMessage, Message: msg})
	assert.Equal(t, "LOG_MESSAGE||"+strings.Repeat("é", 100), sig)
}
