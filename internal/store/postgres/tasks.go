package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"taskfeed/internal/model"
	"taskfeed/internal/task"
)

var schema = []string{`
CREATE TABLE IF NOT EXISTS tasks (
	id               TEXT PRIMARY KEY,
	title            TEXT NOT NULL,
	description      TEXT NOT NULL DEFAULT '',
	priority         TEXT NOT NULL,
	status           TEXT NOT NULL,
	due_date         TEXT NOT NULL DEFAULT '',
	estimate_minutes INTEGER,
	time_spent_ms    BIGINT,
	external_id      TEXT NOT NULL DEFAULT '',
	source           TEXT NOT NULL DEFAULT '',
	created_at       TIMESTAMPTZ NOT NULL,
	updated_at       TIMESTAMPTZ NOT NULL
)`,
	`CREATE INDEX IF NOT EXISTS idx_tasks_external_id ON tasks (external_id)`,
}

const selectColumns = `
	id, title, description, priority, status, due_date,
	estimate_minutes, time_spent_ms, external_id, source,
	created_at, updated_at`

// Open connects to Postgres through pgx (database/sql) and applies the schema.
func Open(dsn string) (*sql.DB, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, errors.New("postgres dsn is empty")
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxIdleTime(5 * time.Minute)
	db.SetConnMaxLifetime(30 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply schema: %w", err)
		}
	}
	return db, nil
}

type TaskStore struct {
	db *sql.DB
}

func NewTaskStore(db *sql.DB) *TaskStore {
	return &TaskStore{db: db}
}

func (r *TaskStore) Close() error {
	return r.db.Close()
}

func (r *TaskStore) Get(ctx context.Context, id string) (model.Task, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return model.Task{}, task.ErrNotFound
	}

	row := r.db.QueryRowContext(ctx, `SELECT `+selectColumns+` FROM tasks WHERE id = $1`, id)
	t, err := scanTask(row)
	if err == sql.ErrNoRows {
		return model.Task{}, task.ErrNotFound
	}
	if err != nil {
		return model.Task{}, err
	}
	return t, nil
}

// Upsert is a single statement, so concurrent syncs on the same id resolve
// to last-writer-wins.
func (r *TaskStore) Upsert(ctx context.Context, t model.Task) (model.Task, error) {
	if t.ID == "" {
		return model.Task{}, errors.New("task id required")
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO tasks (
			id, title, description, priority, status, due_date,
			estimate_minutes, time_spent_ms, external_id, source,
			created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
		ON CONFLICT (id) DO UPDATE SET
			title = EXCLUDED.title,
			description = EXCLUDED.description,
			priority = EXCLUDED.priority,
			status = EXCLUDED.status,
			due_date = EXCLUDED.due_date,
			estimate_minutes = EXCLUDED.estimate_minutes,
			time_spent_ms = EXCLUDED.time_spent_ms,
			external_id = EXCLUDED.external_id,
			source = EXCLUDED.source,
			created_at = EXCLUDED.created_at,
			updated_at = EXCLUDED.updated_at
	`,
		t.ID,
		t.Title,
		t.Description,
		string(t.Priority),
		string(t.Status),
		t.DueDate,
		toNullInt(t.EstimateMinutes),
		toNullInt64(t.TimeSpentMs),
		t.ExternalID,
		t.Source,
		t.CreatedAt,
		t.UpdatedAt,
	)
	if err != nil {
		return model.Task{}, err
	}
	return t, nil
}

func (r *TaskStore) List(ctx context.Context) ([]model.Task, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+selectColumns+` FROM tasks ORDER BY created_at ASC, id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]model.Task, 0)
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
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
		t                model.Task
		priority, status string
		estimate, spent  sql.NullInt64
	)
	if err := sc.Scan(
		&t.ID,
		&t.Title,
		&t.Description,
		&priority,
		&status,
		&t.DueDate,
		&estimate,
		&spent,
		&t.ExternalID,
		&t.Source,
		&t.CreatedAt,
		&t.UpdatedAt,
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
	t.CreatedAt = t.CreatedAt.UTC()
	t.UpdatedAt = t.UpdatedAt.UTC()
	return t, nil
}

func toNullInt(v *int) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{Valid: false}
	}
	return sql.NullInt64{Int64: int64(*v), Valid: true}
}

func toNullInt64(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{Valid: false}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}
