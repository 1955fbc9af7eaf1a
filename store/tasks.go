package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/hazyhaar/coverbridge/dbopen"
)

// TaskStatus is the lifecycle state of a task.
type TaskStatus string

const (
	TaskPending   TaskStatus = "pending"
	TaskExporting TaskStatus = "exporting"
	TaskUploading TaskStatus = "uploading"
	TaskCompleted TaskStatus = "completed"
	TaskFailed    TaskStatus = "failed"
)

// Valid reports whether s is a known status.
func (s TaskStatus) Valid() bool {
	switch s {
	case TaskPending, TaskExporting, TaskUploading, TaskCompleted, TaskFailed:
		return true
	}
	return false
}

// Task tracks an export or import run for display.
type Task struct {
	ID               string     `json:"id"`
	UserID           string     `json:"userId"`
	Kind             string     `json:"kind,omitempty"` // "export", "import" or empty
	Status           TaskStatus `json:"status"`
	TotalRecords     int        `json:"totalRecords"`
	ProcessedRecords int        `json:"processedRecords"`
	ErrorMessage     string     `json:"errorMessage,omitempty"`
	CreatedAt        time.Time  `json:"createdAt"`
	UpdatedAt        time.Time  `json:"updatedAt"`
}

const taskColumns = `id, user_id, kind, status, total_records, processed_records,
	error_message, created_at, updated_at`

// CreateTask inserts a pending task and returns it.
func (s *Store) CreateTask(ctx context.Context, userID, kind string, totalRecords int) (*Task, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: user id required", ErrInvalid)
	}
	if totalRecords < 0 {
		return nil, fmt.Errorf("%w: negative total", ErrInvalid)
	}
	now := s.stamp()
	t := &Task{
		ID:           s.newTask(),
		UserID:       userID,
		Kind:         kind,
		Status:       TaskPending,
		TotalRecords: totalRecords,
		CreatedAt:    fromMillis(now),
		UpdatedAt:    fromMillis(now),
	}
	_, err := dbopen.Exec(ctx, s.DB,
		`INSERT INTO tasks (id, user_id, kind, status, total_records, processed_records,
		error_message, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, 0, '', ?, ?)`,
		t.ID, t.UserID, t.Kind, t.Status, t.TotalRecords, now, now)
	if err != nil {
		return nil, fmt.Errorf("store: create task: %w", err)
	}
	return t, nil
}

// GetTask returns a task by ID, or ErrNotFound.
func (s *Store) GetTask(ctx context.Context, id string) (*Task, error) {
	row := s.DB.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id)
	t, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return t, err
}

// ListTasks returns a user's tasks, newest first.
func (s *Store) ListTasks(ctx context.Context, userID string) ([]*Task, error) {
	rows, err := s.DB.QueryContext(ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE user_id = ? ORDER BY created_at DESC, id DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("store: list tasks: %w", err)
	}
	defer rows.Close()

	tasks := []*Task{}
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

// TaskUpdate holds the mutable fields of a task. Nil pointers leave the
// column unchanged.
type TaskUpdate struct {
	Status           TaskStatus `json:"status"`
	ProcessedRecords *int       `json:"processedRecords,omitempty"`
	ErrorMessage     *string    `json:"errorMessage,omitempty"`
}

// UpdateTaskStatus sets the status and optionally progress and error.
func (s *Store) UpdateTaskStatus(ctx context.Context, id string, u TaskUpdate) error {
	if !u.Status.Valid() {
		return fmt.Errorf("%w: status %q", ErrInvalid, u.Status)
	}
	res, err := dbopen.Exec(ctx, s.DB,
		`UPDATE tasks SET status = ?,
			processed_records = COALESCE(?, processed_records),
			error_message = COALESCE(?, error_message),
			updated_at = ?
		WHERE id = ?`,
		u.Status, u.ProcessedRecords, u.ErrorMessage, s.stamp(), id)
	if err != nil {
		return fmt.Errorf("store: update task: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanTask(sc scanner) (*Task, error) {
	var t Task
	var created, updated int64
	err := sc.Scan(&t.ID, &t.UserID, &t.Kind, &t.Status, &t.TotalRecords,
		&t.ProcessedRecords, &t.ErrorMessage, &created, &updated)
	if err != nil {
		return nil, err
	}
	t.CreatedAt, t.UpdatedAt = fromMillis(created), fromMillis(updated)
	return &t, nil
}
