package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"taskfeed/internal/model"
	"taskfeed/internal/task"
)

const schema = `
CREATE TABLE IF NOT EXISTS tasks (
	id               TEXT PRIMARY KEY,
	title            TEXT NOT NULL,
	description      TEXT NOT NULL DEFAULT '',
	priority         TEXT NOT NULL,
	status           TEXT NOT NULL,
	due_date         TEXT NOT NULL DEFAULT '',
	estimate_minutes INTEGER,
	time_spent_ms    INTEGER,
	external_id      TEXT NOT NULL DEFAULT '',
	source           TEXT NOT NULL DEFAULT '',
	created_at       TEXT NOT NULL,
	updated_at       TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_tasks_external_id ON tasks (external_id);
`

// timeLayout is fixed width so ORDER BY on the text column is chronological.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

const selectColumns = `
	id, title, description, priority, status, due_date,
	estimate_minutes, time_spent_ms, external_id, source,
	created_at, updated_at`

// TaskStore keeps tasks in a SQLite database file.
type TaskStore struct {
	db *sql.DB
}

// Open opens (creating if needed) the database at path and applies the
// schema. ":memory:" gives a throwaway database.
func Open(path string) (*TaskStore, error) {
	if path == "" {
		return nil, errors.New("sqlite path is empty")
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// SQLite serializes writers anyway; one connection also keeps
	// ":memory:" databases from splitting per connection.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}
	return &TaskStore{db: db}, nil
}

func (s *TaskStore) Close() error {
	return s.db.Close()
}

func (s *TaskStore) Get(ctx context.Context, id string) (model.Task, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+selectColumns+` FROM tasks WHERE id = ?`, id)
	t, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Task{}, task.ErrNotFound
	}
	if err != nil {
		return model.Task{}, fmt.Errorf("failed to get task: %w", err)
	}
	return t, nil
}

func (s *TaskStore) Upsert(ctx context.Context, t model.Task) (model.Task, error) {
	if t.ID == "" {
		return model.Task{}, errors.New("task id required")
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tasks (
			id, title, description, priority, status, due_date,
			estimate_minutes, time_spent_ms, external_id, source,
			created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			title = excluded.title,
			description = excluded.description,
			priority = excluded.priority,
			status = excluded.status,
			due_date = excluded.due_date,
			estimate_minutes = excluded.estimate_minutes,
			time_spent_ms = excluded.time_spent_ms,
			external_id = excluded.external_id,
			source = excluded.source,
			created_at = excluded.created_at,
			updated_at = excluded.updated_at
	`,
		t.ID, t.Title, t.Description, string(t.Priority), string(t.Status), t.DueDate,
		nullInt(t.EstimateMinutes), nullInt64(t.TimeSpentMs), t.ExternalID, t.Source,
		t.CreatedAt.UTC().Format(timeLayout), t.UpdatedAt.UTC().Format(timeLayout),
	)
	if err != nil {
		return model.Task{}, fmt.Errorf("failed to upsert task: %w", err)
	}
	return t, nil
}

func (s *TaskStore) List(ctx context.Context) ([]model.Task, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+selectColumns+` FROM tasks ORDER BY created_at ASC, id ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query tasks: %w", err)
	}
	defer rows.Close()

	out := make([]model.Task, 0)
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan task: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanTask(sc scanner) (model.Task, error) {
	var (
		t                    model.Task
		priority, status     string
		estimate, spent      sql.NullInt64
		createdAt, updatedAt string
	)
	if err := sc.Scan(
		&t.ID, &t.Title, &t.Description, &priority, &status, &t.DueDate,
		&estimate, &spent, &t.ExternalID, &t.Source,
		&createdAt, &updatedAt,
	); err != nil {
		return model.Task{}, err
	}
	t.Priority = model.Priority(priority)
	t.Status = model.Status(status)
	if estimate.Valid {
		v := int(estimate.Int64)
		t.EstimateMinutes = &v
	}
	if spent.Valid {
		v := spent.Int64
		t.TimeSpentMs = &v
	}

	var err error
	if t.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return model.Task{}, fmt.Errorf("failed to parse created_at: %w", err)
	}
	if t.UpdatedAt, err = time.Parse(time.RFC3339Nano, updatedAt); err != nil {
		return model.Task{}, fmt.Errorf("failed to parse updated_at: %w", err)
	}
	return t, nil
}

func nullInt(v *int) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*v), Valid: true}
}

func nullInt64(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}
