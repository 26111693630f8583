package ics

import (
	"time"

	ical "github.com/arran4/golang-ical"

	"taskfeed/internal/model"
)

// propTaskStatus carries the local task status so calendar clients can show
// which synced items are already done.
const propTaskStatus ical.ComponentProperty = "X-TASKFEED-STATUS"

// ExportTasks serializes tasks as a VCALENDAR. Each task becomes a VEVENT
// spanning CreatedAt to its due date; tasks whose due date is not an
// RFC 3339 instant after CreatedAt are exported as zero-length events.
func ExportTasks(name string, tasks []model.Task, now time.Time) []byte {
	cal := ical.NewCalendar()
	cal.SetMethod(ical.MethodPublish)
	cal.SetProductId("-//taskfeed//taskfeed//EN")
	if name != "" {
		cal.SetXWRCalName(name)
	}

	for _, t := range tasks {
		uid := t.ExternalID
		if uid == "" {
			uid = t.ID
		}

		ev := cal.AddEvent(uid)
		ev.SetDtStampTime(now.UTC())
		ev.SetCreatedTime(t.CreatedAt.UTC())
		ev.SetModifiedAt(t.UpdatedAt.UTC())
		ev.SetSummary(t.Title)
		if t.Description != "" {
			ev.SetDescription(t.Description)
		}

		start := t.CreatedAt.UTC()
		end := start
		if due, err := time.Parse(time.RFC3339, t.DueDate); err == nil && due.After(start) {
			end = due.UTC()
		}
		ev.SetStartAt(start)
		ev.SetEndAt(end)
		ev.SetProperty(propTaskStatus, string(t.Status))
	}

	return []byte(cal.Serialize())
}
