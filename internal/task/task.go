package task

import (
	"context"
	"errors"

	"taskfeed/internal/model"
)

var (
	ErrNotFound     = errors.New("task not found")
	ErrInvalidInput = errors.New("invalid input")
)

// Collection is a keyed task store. Get returns ErrNotFound for unknown
// ids. Upsert replaces the task stored under t.ID, or inserts it, in one
// atomic step.
type Collection interface {
	Get(ctx context.Context, id string) (model.Task, error)
	Upsert(ctx context.Context, t model.Task) (model.Task, error)
	List(ctx context.Context) ([]model.Task, error)
}
