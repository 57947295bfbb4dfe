package state

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/chunkflow/chunkflow/pkg/models"
)

// SaveOutcome records a task's terminal outcome. Failed-chunk detail is
// stored as JSON since it is only ever read back whole.
func (db *DB) SaveOutcome(o *models.TaskOutcome) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	detail, err := json.Marshal(o.Failed)
	if err != nil {
		return fmt.Errorf("marshal failure detail: %w", err)
	}

	_, err = db.conn.Exec(`
		INSERT INTO outcomes (task_id, status, result, succeeded, failed_detail, duration_ns)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(task_id) DO UPDATE SET
			status = excluded.status,
			result = excluded.result,
			succeeded = excluded.succeeded,
			failed_detail = excluded.failed_detail,
			duration_ns = excluded.duration_ns
	`, o.TaskID, string(o.Status), o.Result, o.Succeeded, string(detail), int64(o.Duration))
	if err != nil {
		return fmt.Errorf("save outcome for task %s: %w", o.TaskID, err)
	}
	return nil
}

// GetOutcome loads a task's outcome. Returns nil without error when absent.
func (db *DB) GetOutcome(taskID string) (*models.TaskOutcome, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	var o models.TaskOutcome
	var status, detail string
	var durationNS int64

	row := db.conn.QueryRow(`
		SELECT task_id, status, result, succeeded, failed_detail, duration_ns
		FROM outcomes WHERE task_id = ?
	`, taskID)
	err := row.Scan(&o.TaskID, &status, &o.Result, &o.Succeeded, &detail, &durationNS)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get outcome for task %s: %w", taskID, err)
	}

	o.Status = models.TaskStatus(status)
	o.Duration = time.Duration(durationNS)
	if detail != "" && detail != "null" {
		if err := json.Unmarshal([]byte(detail), &o.Failed); err != nil {
			return nil, fmt.Errorf("unmarshal failure detail for task %s: %w", taskID, err)
		}
	}
	return &o, nil
}
