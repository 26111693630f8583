package task

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"taskfeed/internal/model"
)

// Service is the user-facing CRUD layer over a Collection. Feed sync talks
// to the Collection directly; this covers tasks people create and edit.
type Service struct {
	repo Collection
	now  func() time.Time
}

func NewService(repo Collection) *Service {
	return &Service{
		repo: repo,
		now:  time.Now,
	}
}

type CreateInput struct {
	Title           string         `json:"title"`
	Description     string         `json:"description"`
	Priority        model.Priority `json:"priority"`
	Status          model.Status   `json:"status"`
	DueDate         string         `json:"dueDate"`
	EstimateMinutes *int           `json:"estimateMinutes"`
}

// Patch holds the fields to change; nil fields are left as they are.
type Patch struct {
	Title           *string         `json:"title"`
	Description     *string         `json:"description"`
	Priority        *model.Priority `json:"priority"`
	Status          *model.Status   `json:"status"`
	DueDate         *string         `json:"dueDate"`
	EstimateMinutes *int            `json:"estimateMinutes"`
	TimeSpentMs     *int64          `json:"timeSpentMs"`
}

func (s *Service) Create(ctx context.Context, in CreateInput) (model.Task, error) {
	title := strings.TrimSpace(in.Title)
	if title == "" {
		return model.Task{}, fmt.Errorf("%w: title is required", ErrInvalidInput)
	}
	if in.Priority == "" {
		in.Priority = model.PriorityMedium
	}
	if in.Status == "" {
		in.Status = model.StatusTodo
	}
	if err := validate(in.Priority, in.Status); err != nil {
		return model.Task{}, err
	}

	now := s.now().UTC()
	t := model.Task{
		ID:              uuid.NewString(),
		Title:           title,
		Description:     strings.TrimSpace(in.Description),
		Priority:        in.Priority,
		Status:          in.Status,
		DueDate:         strings.TrimSpace(in.DueDate),
		EstimateMinutes: in.EstimateMinutes,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	return s.repo.Upsert(ctx, t)
}

func (s *Service) Get(ctx context.Context, id string) (model.Task, error) {
	return s.repo.Get(ctx, id)
}

func (s *Service) List(ctx context.Context) ([]model.Task, error) {
	return s.repo.List(ctx)
}

// Patch applies p to the task with the given id and bumps UpdatedAt.
func (s *Service) Patch(ctx context.Context, id string, p Patch) (model.Task, error) {
	t, err := s.repo.Get(ctx, id)
	if err != nil {
		return model.Task{}, err
	}

	if p.Title != nil {
		title := strings.TrimSpace(*p.Title)
		if title == "" {
			return model.Task{}, fmt.Errorf("%w: title cannot be empty", ErrInvalidInput)
		}
		t.Title = title
	}
	if p.Description != nil {
		t.Description = *p.Description
	}
	if p.Priority != nil {
		t.Priority = *p.Priority
	}
	if p.Status != nil {
		t.Status = *p.Status
	}
	if p.DueDate != nil {
		t.DueDate = *p.DueDate
	}
	if p.EstimateMinutes != nil {
		t.EstimateMinutes = p.EstimateMinutes
	}
	if p.TimeSpentMs != nil {
		t.TimeSpentMs = p.TimeSpentMs
	}
	if err := validate(t.Priority, t.Status); err != nil {
		return model.Task{}, err
	}

	t.UpdatedAt = s.now().UTC()
	return s.repo.Upsert(ctx, t)
}

func validate(p model.Priority, st model.Status) error {
	if !p.Valid() {
		return fmt.Errorf("%w: unknown priority %q", ErrInvalidInput, p)
	}
	if !st.Valid() {
		return fmt.Errorf("%w: unknown status %q", ErrInvalidInput, st)
	}
	return nil
}
