package state

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/chunkflow/chunkflow/pkg/models"
)

// SaveTask inserts or updates a task record.
func (db *DB) SaveTask(t *models.Task) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	var completedAt any
	if t.CompletedAt != nil {
		completedAt = t.CompletedAt.UTC()
	}

	_, err := db.conn.Exec(`
		INSERT INTO tasks (id, description, complexity, priority, status, pattern, strategy, failure_threshold, created_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			complexity = excluded.complexity,
			completed_at = excluded.completed_at
	`, t.ID, t.Description, t.Complexity, t.Priority, string(t.Status), t.Pattern, t.Strategy, t.FailureThreshold, t.CreatedAt.UTC(), completedAt)
	if err != nil {
		return fmt.Errorf("save task %s: %w", t.ID, err)
	}
	return nil
}

// GetTask loads one task by ID. Returns nil without error when absent.
func (db *DB) GetTask(id string) (*models.Task, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	row := db.conn.QueryRow(`
		SELECT id, description, complexity, priority, status, pattern, strategy, failure_threshold, created_at, completed_at
		FROM tasks WHERE id = ?
	`, id)

	t, err := scanTask(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get task %s: %w", id, err)
	}
	return t, nil
}

// ListTasks returns all tasks, most recent first.
func (db *DB) ListTasks() ([]*models.Task, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	rows, err := db.conn.Query(`
		SELECT id, description, complexity, priority, status, pattern, strategy, failure_threshold, created_at, completed_at
		FROM tasks ORDER BY created_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*models.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (*models.Task, error) {
	var t models.Task
	var status string
	var createdAt time.Time
	var completedAt sql.NullTime

	err := row.Scan(&t.ID, &t.Description, &t.Complexity, &t.Priority, &status,
		&t.Pattern, &t.Strategy, &t.FailureThreshold, &createdAt, &completedAt)
	if err != nil {
		return nil, err
	}

	t.Status = models.TaskStatus(status)
	t.CreatedAt = createdAt
	if completedAt.Valid {
		at := completedAt.Time
		t.CompletedAt = &at
	}
	return &t, nil
}
