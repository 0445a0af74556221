package extractor

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/ternarybob/opsdeck/internal/models"
)

var (
	// ErrNoObject is returned when the scan does not start on an opening brace
	ErrNoObject = errors.New("no JSON object at offset")
	// ErrUnterminated is returned when braces never balance before the end of input
	ErrUnterminated = errors.New("unterminated JSON object")
)

// markerPattern matches an upper-case event marker followed by an opening brace,
// e.g. "PRE_CHECK_COMPLETE:{" or "JSON_PROGRESS: {". The token must not be glued to a
// preceding word character.
var markerPattern = regexp.MustCompile(`(?:^|[^A-Za-z0-9_])([A-Z][A-Z0-9_]*):[ \t]*\{`)

// eventTypeBlob is the unmarked form the worker emits when it logs a whole event object
const eventTypeBlob = `{"event_type"`

// ScanJSONObject finds the end of the JSON object opening at s[start].
// It returns the offset one past the matching '}' so s[start:end] is the exact object text.
// Braces inside string literals are ignored; a backslash escapes the next character within a string.
func ScanJSONObject(s string, start int) (int, error) {
	if start < 0 || start >= len(s) || s[start] != '{' {
		return 0, ErrNoObject
	}

	depth := 0
	inString := false
	escaped := false

	for i := start; i < len(s); i++ {
		c := s[i]

		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}

		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return i + 1, nil
			}
		}
	}

	return 0, ErrUnterminated
}

// Embedded is a JSON object found inside a free-text log line
type Embedded struct {
	Marker string                 // Token before the object, empty for a bare {"event_type"...} blob
	Text   string                 // Exact object text as it appeared in the line
	Object map[string]interface{} // Parsed object
	Prefix string                 // Text before the marker
	Suffix string                 // Text after the object (discarded trailing garbage)
}

// ExtractEmbedded returns the first embedded event object in message that decodes.
// Braces after an unknown token that do not open a JSON object (Python dicts, prose in
// braces) are not candidates. It returns (nil, nil) when no candidate exists, and an error
// only when every candidate is truncated or invalid.
func ExtractEmbedded(message string) (*Embedded, error) {
	var firstErr error

	for _, c := range locateEmbedded(message) {
		if !c.isAttempt(message) {
			continue
		}

		end, err := ScanJSONObject(message, c.objStart)
		if err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("embedded object after %q: %w", displayMarker(c.marker), err)
			}
			continue
		}

		text := message[c.objStart:end]
		obj, err := decodeObject(text)
		if err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("embedded object after %q: %w", displayMarker(c.marker), err)
			}
			continue
		}

		return &Embedded{
			Marker: c.marker,
			Text:   text,
			Object: obj,
			Prefix: strings.TrimSpace(message[:c.markerStart]),
			Suffix: strings.TrimSpace(message[end:]),
		}, nil
	}

	return nil, firstErr
}

type candidate struct {
	marker      string
	markerStart int
	objStart    int
}

// locateEmbedded lists every marker and bare {"event_type" blob in order of appearance
func locateEmbedded(message string) []candidate {
	var out []candidate
	for _, loc := range markerPattern.FindAllStringSubmatchIndex(message, -1) {
		// loc[2]:loc[3] is the token; the brace is the last matched byte
		out = append(out, candidate{marker: message[loc[2]:loc[3]], markerStart: loc[2], objStart: loc[1] - 1})
	}
	for from := 0; ; {
		i := strings.Index(message[from:], eventTypeBlob)
		if i < 0 {
			break
		}
		at := from + i
		if !coveredByMarker(out, at) {
			out = append(out, candidate{markerStart: at, objStart: at})
		}
		from = at + len(eventTypeBlob)
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].objStart < out[j].objStart })
	return out
}

// isAttempt reports whether the candidate is meant as an event object: a known event
// marker always is, anything else only when its brace opens JSON.
func (c candidate) isAttempt(message string) bool {
	if c.marker != "" && models.EventType(c.marker).IsKnown() {
		return true
	}
	return opensJSONObject(message, c.objStart)
}

func coveredByMarker(cs []candidate, objStart int) bool {
	for _, c := range cs {
		if c.objStart == objStart {
			return true
		}
	}
	return false
}

// opensJSONObject reports whether the brace at start begins a JSON object:
// the next non-space byte must be a quote or the closing brace.
func opensJSONObject(s string, start int) bool {
	for i := start + 1; i < len(s); i++ {
		switch s[i] {
		case ' ', '\t', '\n', '\r':
			continue
		case '"', '}':
			return true
		default:
			return false
		}
	}
	// Truncated right after the brace still counts as an attempt
	return true
}

func displayMarker(marker string) string {
	if marker == "" {
		return "event_type blob"
	}
	return marker
}

// decodeObject parses text as a single JSON object
func decodeObject(text string) (map[string]interface{}, error) {
	var obj map[string]interface{}
	if err := json.Unmarshal([]byte(text), &obj); err != nil {
		return nil, err
	}
	if obj == nil {
		return nil, errors.New("JSON null is not an object")
	}
	return obj, nil
}
