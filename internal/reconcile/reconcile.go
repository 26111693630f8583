package reconcile

import (
	"context"
	"errors"
	"fmt"
	"time"

	appLog "taskfeed/internal/log"
	"taskfeed/internal/model"
	"taskfeed/internal/task"
)

// Source describes where a batch of events came from and how it maps onto
// tasks.
type Source struct {
	// Tag prefixes external ids, e.g. "w2w" gives "w2w-{uid}".
	Tag string
	// Label prefixes task titles, e.g. "Shift".
	Label string
	// SkipPast drops events whose end is already before now.
	SkipPast bool
}

// Result counts what a sync did.
type Result struct {
	Created int `json:"created"`
	Updated int `json:"updated"`
	// Skipped counts events dropped by the past-event filter.
	Skipped int `json:"skipped"`
}

// Reconciler upserts feed events into a task collection.
//
// A synced task is stored under its external id, so the collection's atomic
// upsert-by-id is what prevents duplicates, including across concurrent
// syncs.
type Reconciler struct {
	tasks task.Collection
	now   func() time.Time
}

func New(tasks task.Collection) *Reconciler {
	return &Reconciler{tasks: tasks, now: time.Now}
}

// SetClock replaces the reconciler's time source.
func (r *Reconciler) SetClock(now func() time.Time) { r.now = now }

// ExternalID is the reconciliation key for an event from src.
func ExternalID(src Source, ev model.Event) string {
	return src.Tag + "-" + ev.ID
}

// Sync creates a task for every event seen for the first time and refreshes
// the sync-owned fields (title, description, due date, updated-at) of tasks
// that already exist. Status, priority and any other user edits are left
// alone. Running Sync twice on the same events creates nothing the second
// time.
func (r *Reconciler) Sync(ctx context.Context, events []model.Event, src Source) (Result, error) {
	var res Result
	now := r.now().UTC()

	for _, ev := range events {
		id := ExternalID(src, ev)

		if src.SkipPast && ev.End.Before(now) {
			res.Skipped++
			continue
		}

		existing, err := r.tasks.Get(ctx, id)
		switch {
		case errors.Is(err, task.ErrNotFound):
			if _, err := r.tasks.Upsert(ctx, newTask(id, ev, src, now)); err != nil {
				return res, fmt.Errorf("create task %s: %w", id, err)
			}
			res.Created++
		case err != nil:
			return res, fmt.Errorf("get task %s: %w", id, err)
		default:
			existing.Title = title(src, ev)
			existing.Description = description(ev)
			existing.DueDate = ev.End.String()
			existing.UpdatedAt = now
			if _, err := r.tasks.Upsert(ctx, existing); err != nil {
				return res, fmt.Errorf("update task %s: %w", id, err)
			}
			res.Updated++
		}
	}

	appLog.Info("sync completed",
		"source", src.Tag,
		"events", len(events),
		"created", res.Created,
		"updated", res.Updated,
		"skipped", res.Skipped,
	)
	return res, nil
}

func newTask(id string, ev model.Event, src Source, now time.Time) model.Task {
	// Opaque start values cannot become a timestamp; fall back to now.
	created, ok := ev.Start.Instant()
	if !ok {
		created = now
	}
	return model.Task{
		ID:          id,
		Title:       title(src, ev),
		Description: description(ev),
		Priority:    model.PriorityMedium,
		Status:      model.StatusTodo,
		DueDate:     ev.End.String(),
		ExternalID:  id,
		Source:      src.Tag,
		CreatedAt:   created,
		UpdatedAt:   created,
	}
}

// title renders "{label}: {title}" with " @ {location}" when known.
func title(src Source, ev model.Event) string {
	t := src.Label + ": " + ev.Title
	if ev.Location != "" {
		t += " @ " + ev.Location
	}
	return t
}

func description(ev model.Event) string {
	if ev.Description != "" {
		return ev.Description
	}
	return ev.Start.String() + " → " + ev.End.String()
}
