package model

import (
	"encoding/json"
	"time"
)

// FeedKind identifies one of the externally hosted calendar feeds.
type FeedKind string

const (
	FeedShift    FeedKind = "shift"
	FeedCalendar FeedKind = "calendar"
)

// AllFeedKinds lists every known feed kind in reporting order.
var AllFeedKinds = []FeedKind{FeedShift, FeedCalendar}

// ParseFeedKind returns the FeedKind for s and whether it is known.
func ParseFeedKind(s string) (FeedKind, bool) {
	switch FeedKind(s) {
	case FeedShift, FeedCalendar:
		return FeedKind(s), true
	}
	return "", false
}

// EventTime is either a resolved UTC instant or the original feed text
// when the value could not be parsed. Callers must go through Instant to
// get a time.Time, so the unparsed case is always handled explicitly.
type EventTime struct {
	instant  time.Time
	raw      string
	resolved bool
}

// ResolvedTime wraps an instant, normalized to UTC.
func ResolvedTime(t time.Time) EventTime {
	return EventTime{instant: t.UTC(), resolved: true}
}

// OpaqueTime wraps a value that could not be parsed.
func OpaqueTime(raw string) EventTime {
	return EventTime{raw: raw}
}

// Instant returns the UTC instant and true, or the zero time and false when
// the value is opaque.
func (t EventTime) Instant() (time.Time, bool) {
	return t.instant, t.resolved
}

func (t EventTime) IsResolved() bool { return t.resolved }

// Raw returns the original text for opaque values and "" otherwise.
func (t EventTime) Raw() string { return t.raw }

// String renders resolved values as RFC 3339 and opaque values verbatim.
func (t EventTime) String() string {
	if t.resolved {
		return t.instant.Format(time.RFC3339)
	}
	return t.raw
}

// Before reports whether t is a resolved instant strictly before u.
// Opaque values are never before anything.
func (t EventTime) Before(u time.Time) bool {
	return t.resolved && t.instant.Before(u)
}

func (t EventTime) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

// Event is a normalized record extracted from one VEVENT block.
type Event struct {
	// ID is the feed's UID, or a deterministic id derived from the title and
	// raw start value when the feed has none.
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Location    string    `json:"location"`
	Description string    `json:"description"`
	Start       EventTime `json:"start"`
	End         EventTime `json:"end"`
}

type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityUrgent:
		return true
	}
	return false
}

type Status string

const (
	StatusTodo       Status = "todo"
	StatusInProgress Status = "in-progress"
	StatusDone       Status = "done"
)

func (s Status) Valid() bool {
	switch s {
	case StatusTodo, StatusInProgress, StatusDone:
		return true
	}
	return false
}

// Task is an entry in the locally owned task collection.
//
// ExternalID and Source are only set on tasks created by feed sync. For
// those tasks the sync owns Title, Description, DueDate and UpdatedAt; every
// other field belongs to the user.
type Task struct {
	ID              string    `json:"id"`
	Title           string    `json:"title"`
	Description     string    `json:"description,omitempty"`
	Priority        Priority  `json:"priority"`
	Status          Status    `json:"status"`
	DueDate         string    `json:"dueDate,omitempty"`
	EstimateMinutes *int      `json:"estimateMinutes,omitempty"`
	TimeSpentMs     *int64    `json:"timeSpentMs,omitempty"`
	ExternalID      string    `json:"externalId,omitempty"`
	Source          string    `json:"source,omitempty"`
	CreatedAt       time.Time `json:"createdAt"`
	UpdatedAt       time.Time `json:"updatedAt"`
}
