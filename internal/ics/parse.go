package ics

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strings"
	"time"

	"taskfeed/internal/model"
)

const (
	keyUID         = "UID"
	keySummary     = "SUMMARY"
	keyDTStart     = "DTSTART"
	keyDTEnd       = "DTEND"
	keyLocation    = "LOCATION"
	keyDescription = "DESCRIPTION"

	reasonMissingFields = "missing required fields"
	reasonUnterminated  = "block not terminated by END:VEVENT"
)

var requiredKeys = []string{keyDTStart, keyDTEnd, keySummary}

// basicDateTime matches the compact UTC/floating form, e.g. 20250101T090000Z.
var basicDateTime = regexp.MustCompile(`^\d{8}T\d{6}Z?$`)

// Skipped describes a VEVENT block that did not yield an Event.
type Skipped struct {
	// Block is the zero-based index of the VEVENT block in the feed.
	Block int `json:"block"`
	// Line is the one-based physical line where the block began.
	Line    int      `json:"line"`
	Reason  string   `json:"reason"`
	Missing []string `json:"missing,omitempty"`
}

// Result is the outcome of parsing one feed body.
type Result struct {
	Events  []model.Event
	Skipped []Skipped
}

// Empty reports whether the feed parsed without producing any event. Callers
// use this to tell "parsed but empty" apart from a fetch failure.
func (r Result) Empty() bool { return len(r.Events) == 0 }

// Parse converts raw calendar text into events.
//
// Only VEVENT blocks are considered. Inside a block, folded lines (a leading
// space or tab) are joined to the previous logical line, and each
// KEY[;params]:VALUE line stores VALUE under the upper-cased KEY; a repeated
// key overwrites the earlier value. Properties of nested components such as
// VALARM are ignored so they cannot clobber the event's own fields.
//
// A block missing DTSTART, DTEND or SUMMARY is skipped and recorded in
// Result.Skipped. Parse never fails as a whole and has no side effects:
// identical input always yields identical output.
func Parse(body []byte) Result {
	var (
		res     Result
		fields  map[string]string
		lastKey string
		inEvent bool
		depth   int // nesting depth of sub-components inside the VEVENT
		block   int
		started int
	)

	lines := strings.Split(string(body), "\n")
	for i, line := range lines {
		line = strings.TrimSuffix(line, "\r")

		if !inEvent {
			if isMarker(line, "BEGIN:VEVENT") {
				inEvent, depth, lastKey = true, 0, ""
				fields = make(map[string]string)
				started = i + 1
			}
			continue
		}

		if isContinuation(line) {
			if depth == 0 && lastKey != "" {
				fields[lastKey] += line[1:]
			}
			continue
		}

		switch {
		case isMarker(line, "END:VEVENT") && depth == 0:
			res.add(fields, block, started)
			block++
			inEvent = false
			continue
		case isMarker(line, "BEGIN:VEVENT"):
			// A new event began before the previous one ended.
			res.Skipped = append(res.Skipped, Skipped{Block: block, Line: started, Reason: reasonUnterminated})
			block++
			depth, lastKey = 0, ""
			fields = make(map[string]string)
			started = i + 1
			continue
		case hasPrefixFold(line, "BEGIN:"):
			depth++
			lastKey = ""
			continue
		case hasPrefixFold(line, "END:") && depth > 0:
			depth--
			lastKey = ""
			continue
		}

		if depth > 0 {
			continue
		}

		key, value, ok := splitContentLine(line)
		if !ok {
			lastKey = ""
			continue
		}
		fields[key] = value
		lastKey = key
	}

	if inEvent {
		res.Skipped = append(res.Skipped, Skipped{Block: block, Line: started, Reason: reasonUnterminated})
	}

	return res
}

// add converts a finished block into an Event once all required keys are
// present; otherwise it records a Skipped entry.
func (r *Result) add(fields map[string]string, block, line int) {
	var missing []string
	for _, k := range requiredKeys {
		if _, ok := fields[k]; !ok {
			missing = append(missing, k)
		}
	}
	if len(missing) > 0 {
		r.Skipped = append(r.Skipped, Skipped{Block: block, Line: line, Reason: reasonMissingFields, Missing: missing})
		return
	}

	id := fields[keyUID]
	if strings.TrimSpace(id) == "" {
		id = fallbackID(fields[keySummary], fields[keyDTStart])
	}

	r.Events = append(r.Events, model.Event{
		ID:          id,
		Title:       unescapeText(fields[keySummary]),
		Location:    unescapeText(fields[keyLocation]),
		Description: unescapeText(fields[keyDescription]),
		Start:       parseTime(fields[keyDTStart]),
		End:         parseTime(fields[keyDTEnd]),
	})
}

// parseTime resolves the basic date-time form to a UTC instant. Anything
// else (date-only values, extended ISO forms, garbage) passes through as an
// opaque value.
func parseTime(v string) model.EventTime {
	s := strings.TrimSpace(v)
	if !basicDateTime.MatchString(s) {
		return model.OpaqueTime(v)
	}
	t, err := time.ParseInLocation("20060102T150405", strings.TrimSuffix(s, "Z"), time.UTC)
	if err != nil {
		// Matches the shape but not the calendar, e.g. month 13.
		return model.OpaqueTime(v)
	}
	return model.ResolvedTime(t)
}

// fallbackID derives a stable id for events without a UID.
func fallbackID(summary, dtstart string) string {
	sum := sha256.Sum256([]byte(summary + "\x00" + dtstart))
	return "gen-" + hex.EncodeToString(sum[:16])
}

// splitContentLine splits KEY[;params]:VALUE. The separator is the first
// colon outside a quoted parameter value.
func splitContentLine(line string) (key, value string, ok bool) {
	inQuote := false
	for i := 0; i < len(line); i++ {
		switch line[i] {
		case '"':
			inQuote = !inQuote
		case ':':
			if inQuote {
				continue
			}
			name := line[:i]
			if j := strings.IndexByte(name, ';'); j >= 0 {
				name = name[:j]
			}
			name = strings.ToUpper(strings.TrimSpace(name))
			if name == "" {
				return "", "", false
			}
			return name, line[i+1:], true
		}
	}
	return "", "", false
}

func isContinuation(line string) bool {
	return len(line) > 0 && (line[0] == ' ' || line[0] == '\t')
}

func isMarker(line, marker string) bool {
	return strings.EqualFold(strings.TrimSpace(line), marker)
}

func hasPrefixFold(line, prefix string) bool {
	return len(line) >= len(prefix) && strings.EqualFold(line[:len(prefix)], prefix)
}

var textUnescaper = strings.NewReplacer(`\n`, "\n", `\N`, "\n", `\,`, ",", `\;`, ";", `\\`, `\`)

func unescapeText(s string) string {
	if !strings.Contains(s, `\`) {
		return s
	}
	return textUnescaper.Replace(s)
}
