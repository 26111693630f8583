package memory

import (
	"context"
	"errors"
	"sort"
	"sync"

	"taskfeed/internal/model"
	"taskfeed/internal/task"
)

// TaskStore is an in-process task collection. It is the default backend and
// loses its contents on restart.
type TaskStore struct {
	mu   sync.RWMutex
	byID map[string]model.Task
}

func NewTaskStore() *TaskStore {
	return &TaskStore{
		byID: make(map[string]model.Task),
	}
}

func (s *TaskStore) Get(ctx context.Context, id string) (model.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.byID[id]
	if !ok {
		return model.Task{}, task.ErrNotFound
	}
	return t, nil
}

func (s *TaskStore) Upsert(ctx context.Context, t model.Task) (model.Task, error) {
	if t.ID == "" {
		return model.Task{}, errors.New("task id required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.byID[t.ID] = t
	return t, nil
}

// List returns every task ordered by creation time, then id.
func (s *TaskStore) List(ctx context.Context) ([]model.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]model.Task, 0, len(s.byID))
	for _, t := range s.byID {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}
