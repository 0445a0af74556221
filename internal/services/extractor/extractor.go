// -----------------------------------------------------------------------
// Payload Extractor - reduces relay frames to one NormalizedEvent
// -----------------------------------------------------------------------

package extractor

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/ternarybob/opsdeck/internal/models"
)

// Stage names the layer of a frame being decoded
type Stage string

const (
	StageFrame    Stage = "frame"    // Raw text received from the transport
	StageEnvelope Stage = "envelope" // {channel, data} wrapper added by the relay
	StageEmbedded Stage = "embedded" // JSON object inside a log line
)

// maxEnvelopeDepth bounds envelope-in-envelope unwrapping
const maxEnvelopeDepth = 3

var (
	errEmptyFrame    = errors.New("empty frame")
	errEnvelopeEmpty = errors.New("envelope has no data")
)

// ParseFailure is the typed failure of one pipeline stage
type ParseFailure struct {
	Stage   Stage
	Raw     string
	Channel string
	JobID   string
	Err     error
}

func (f *ParseFailure) Error() string {
	return fmt.Sprintf("%s: %v", f.Stage, f.Err)
}

func (f *ParseFailure) Unwrap() error {
	return f.Err
}

// Keys consumed into NormalizedEvent fields; everything else is residual data
var eventKeys = map[string]bool{
	"event_type": true,
	"message":    true,
	"data":       true,
	"timestamp":  true,
	"level":      true,
	"sequence":   true,
	"job_id":     true,
	"channel":    true,
}

// Extract turns one inbound frame into a NormalizedEvent. It never fails: a frame that
// cannot be decoded at any layer comes back as a PARSE_ERROR event carrying the raw text.
//
// Fallback order: transport envelope data -> direct event object -> embedded marker -> raw log line.
func Extract(raw []byte) models.NormalizedEvent {
	ev, err := extract(raw)
	if err != nil {
		var failure *ParseFailure
		if !errors.As(err, &failure) {
			failure = &ParseFailure{Stage: StageFrame, Raw: string(raw), Err: err}
		}
		return ParseErrorEvent(failure)
	}
	return ev
}

// ParseErrorEvent builds the visible diagnostic event for a failed stage
func ParseErrorEvent(f *ParseFailure) models.NormalizedEvent {
	return models.NormalizedEvent{
		EventType: models.EventParseError,
		Message:   fmt.Sprintf("Failed to parse %s payload: %v", f.Stage, f.Err),
		Data: map[string]interface{}{
			"stage": string(f.Stage),
			"error": f.Err.Error(),
		},
		Level:   models.LevelError,
		JobID:   f.JobID,
		Channel: f.Channel,
		Raw:     f.Raw,
	}
}

func extract(raw []byte) (models.NormalizedEvent, error) {
	text := strings.TrimSpace(string(raw))
	if text == "" {
		return models.NormalizedEvent{}, &ParseFailure{Stage: StageFrame, Err: errEmptyFrame}
	}

	if !strings.HasPrefix(text, "{") {
		return fromLogLine(text, "")
	}

	obj, err := decodeObject(text)
	if err != nil {
		return models.NormalizedEvent{}, &ParseFailure{Stage: StageFrame, Raw: text, Err: err}
	}
	return fromObject(obj, text, "", 0)
}

// fromObject handles a decoded object: unwraps relay envelopes, otherwise treats it as the event
func fromObject(obj map[string]interface{}, text, channel string, depth int) (models.NormalizedEvent, error) {
	if isEnvelope(obj) && depth < maxEnvelopeDepth {
		if ch := stringField(obj, "channel"); ch != "" {
			channel = ch
		}
		return fromEnvelopeData(obj["data"], channel, depth)
	}

	ev := eventFromObject(obj, channel)
	if ev.Message == "" && ev.EventType == models.EventLogMessage && stringField(obj, "event_type") == "" {
		// Unknown object shape: keep it legible in the log
		ev.Message = text
	}
	return withEmbedded(ev)
}

func fromEnvelopeData(data interface{}, channel string, depth int) (models.NormalizedEvent, error) {
	switch d := data.(type) {
	case map[string]interface{}:
		return fromObject(d, "", channel, depth+1)
	case string:
		inner := strings.TrimSpace(d)
		if inner == "" {
			return models.NormalizedEvent{}, &ParseFailure{Stage: StageEnvelope, Channel: channel, Err: errEnvelopeEmpty}
		}
		if !strings.HasPrefix(inner, "{") {
			return fromLogLine(inner, channel)
		}
		obj, err := decodeObject(inner)
		if err != nil {
			return models.NormalizedEvent{}, &ParseFailure{Stage: StageEnvelope, Raw: inner, Channel: channel, Err: err}
		}
		return fromObject(obj, inner, channel, depth+1)
	case nil:
		return models.NormalizedEvent{}, &ParseFailure{Stage: StageEnvelope, Channel: channel, Err: errEnvelopeEmpty}
	default:
		return fromLogLine(fmt.Sprint(d), channel)
	}
}

// fromLogLine wraps free text as a generic log event, then looks for an embedded event in it
func fromLogLine(text, channel string) (models.NormalizedEvent, error) {
	return withEmbedded(models.NormalizedEvent{
		EventType: models.EventLogMessage,
		Message:   text,
		Level:     models.LevelInfo,
		Channel:   channel,
	})
}

// withEmbedded replaces a generic log event with the event embedded in its message, if any.
// Typed events are returned unchanged even when their text happens to contain a marker.
func withEmbedded(ev models.NormalizedEvent) (models.NormalizedEvent, error) {
	if !isGenericLog(ev.EventType) || ev.Message == "" {
		return ev, nil
	}

	emb, err := ExtractEmbedded(ev.Message)
	if err != nil {
		return models.NormalizedEvent{}, &ParseFailure{
			Stage:   StageEmbedded,
			Raw:     ev.Message,
			Channel: ev.Channel,
			JobID:   ev.JobID,
			Err:     err,
		}
	}
	if emb == nil {
		return ev, nil
	}

	inner := eventFromObject(emb.Object, ev.Channel)
	if stringField(emb.Object, "event_type") == "" && emb.Marker != "" {
		inner.EventType = models.EventType(emb.Marker)
	}
	if inner.Data == nil && stringField(emb.Object, "event_type") == "" {
		// Marker form carries the payload itself
		inner.Data = emb.Object
	}
	if inner.Message == "" {
		inner.Message = strings.TrimSpace(strings.Join([]string{emb.Prefix, emb.Suffix}, " "))
	}
	if _, ok := emb.Object["level"]; !ok {
		inner.Level = ev.Level
	}
	if inner.JobID == "" {
		inner.JobID = ev.JobID
	}
	if inner.Timestamp == "" {
		inner.Timestamp = ev.Timestamp
	}
	if inner.Sequence == nil {
		inner.Sequence = ev.Sequence
	}
	return inner, nil
}

func isGenericLog(t models.EventType) bool {
	return t == models.EventOrchestratorLog || t == models.EventLogMessage
}

// isEnvelope reports whether obj is a relay wrapper rather than an event
func isEnvelope(obj map[string]interface{}) bool {
	if _, ok := obj["event_type"]; ok {
		return false
	}
	_, hasChannel := obj["channel"]
	_, hasData := obj["data"]
	return hasChannel && hasData
}

// eventFromObject maps an event object onto NormalizedEvent fields
func eventFromObject(obj map[string]interface{}, channel string) models.NormalizedEvent {
	ev := models.NormalizedEvent{
		EventType: models.EventType(strings.ToUpper(strings.TrimSpace(stringField(obj, "event_type")))),
		Message:   textField(obj, "message"),
		Timestamp: timestampField(obj["timestamp"]),
		Level:     models.ParseLevel(stringField(obj, "level")),
		Sequence:  sequenceField(obj["sequence"]),
		JobID:     stringField(obj, "job_id"),
		Channel:   channel,
	}
	if ev.EventType == "" {
		ev.EventType = models.EventLogMessage
	}
	if ch := stringField(obj, "channel"); ch != "" && ev.Channel == "" {
		ev.Channel = ch
	}
	if _, ok := obj["level"]; !ok && ev.EventType == models.EventError {
		ev.Level = models.LevelError
	}

	switch d := obj["data"].(type) {
	case map[string]interface{}:
		ev.Data = d
	case nil:
		ev.Data = residualData(obj)
	default:
		ev.Data = map[string]interface{}{"value": d}
	}

	return ev
}

// residualData collects top-level fields that are not part of the event envelope.
// Some publishers flatten their payload next to event_type instead of nesting it under data.
func residualData(obj map[string]interface{}) map[string]interface{} {
	var out map[string]interface{}
	for k, v := range obj {
		if eventKeys[k] {
			continue
		}
		if out == nil {
			out = make(map[string]interface{})
		}
		out[k] = v
	}
	return out
}

func stringField(obj map[string]interface{}, key string) string {
	s, _ := obj[key].(string)
	return s
}

func textField(obj map[string]interface{}, key string) string {
	switch v := obj[key].(type) {
	case nil:
		return ""
	case string:
		return v
	default:
		return fmt.Sprint(v)
	}
}

// timestampField normalizes string or numeric timestamps to a string
func timestampField(v interface{}) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		return ""
	}
}

func sequenceField(v interface{}) *int64 {
	var n int64
	switch s := v.(type) {
	case float64:
		if math.IsNaN(s) || math.IsInf(s, 0) || s != math.Trunc(s) {
			return nil
		}
		n = int64(s)
	case string:
		parsed, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
		if err != nil {
			return nil
		}
		n = parsed
	default:
		return nil
	}
	return &n
}
