package dedup

import (
	"fmt"
	"strconv"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/opsdeck/internal/models"
)

// DefaultCapacity bounds the signature set of one job
const DefaultCapacity = 4096

// messagePrefixRunes is how much of the message participates in a signature
const messagePrefixRunes = 100

// Deduplicator drops repeated events within the lifetime of one job.
// Not safe for concurrent use; the workflow controller owns it.
type Deduplicator struct {
	seen    *lru.Cache[string, struct{}]
	logger  arbor.ILogger
	dropped int
}

// New creates a Deduplicator holding at most capacity signatures
func New(capacity int, logger arbor.ILogger) (*Deduplicator, error) {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	seen, err := lru.New[string, struct{}](capacity)
	if err != nil {
		return nil, fmt.Errorf("event deduper init: %w", err)
	}
	return &Deduplicator{seen: seen, logger: logger}, nil
}

// Signature identifies an event within one job stream.
// The worker-stamped sequence number wins; otherwise type, timestamp and message prefix are combined.
func Signature(ev models.NormalizedEvent) string {
	if ev.Sequence != nil {
		return string(ev.EventType) + "|seq:" + strconv.FormatInt(*ev.Sequence, 10)
	}
	return strings.Join([]string{string(ev.EventType), ev.Timestamp, prefix(ev.Message, messagePrefixRunes)}, "|")
}

// ShouldProcess returns false when an event with the same signature was already seen in this job.
// PARSE_ERROR events always pass.
func (d *Deduplicator) ShouldProcess(ev models.NormalizedEvent) bool {
	if ev.IsParseError() {
		return true
	}

	sig := Signature(ev)
	if found, _ := d.seen.ContainsOrAdd(sig, struct{}{}); found {
		d.dropped++
		if d.logger != nil {
			d.logger.Debug().
				Str("event_type", string(ev.EventType)).
				Str("signature", sig).
				Msg("Duplicate event dropped")
		}
		return false
	}
	return true
}

// Reset forgets every signature. Called when a job starts or the phase changes.
func (d *Deduplicator) Reset() {
	d.seen.Purge()
	d.dropped = 0
}

// Len returns the number of signatures currently held
func (d *Deduplicator) Len() int {
	return d.seen.Len()
}

// Dropped returns how many events were dropped since the last reset
func (d *Deduplicator) Dropped() int {
	return d.dropped
}

func prefix(s string, n int) string {
	count := 0
	for i := range s {
		if count == n {
			return s[:i]
		}
		count++
	}
	return s
}
