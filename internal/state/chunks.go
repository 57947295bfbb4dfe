package state

import (
	"fmt"
	"strings"

	"github.com/chunkflow/chunkflow/pkg/models"
)

// SaveChunks upserts all chunks for a task in one transaction. It is
// called after decomposition and after every dispatch wave.
func (db *DB) SaveChunks(chunks []*models.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}

	db.mu.Lock()
	defer db.mu.Unlock()

	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	stmt, err := tx.Prepare(`
		INSERT INTO chunks (id, task_id, description, effort, depends_on, capability, gather, assigned_to, status, retry_count, result, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(task_id, id) DO UPDATE SET
			assigned_to = excluded.assigned_to,
			status = excluded.status,
			retry_count = excluded.retry_count,
			result = excluded.result,
			error = excluded.error
	`)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("prepare chunk upsert: %w", err)
	}
	defer stmt.Close()

	for _, c := range chunks {
		gather := 0
		if c.Gather {
			gather = 1
		}
		_, err := stmt.Exec(c.ID, c.TaskID, c.Description, c.Effort,
			strings.Join(c.DependsOn, ","), c.Capability, gather,
			c.AssignedTo, string(c.Status), c.RetryCount, c.Result, c.Error)
		if err != nil {
			tx.Rollback()
			return fmt.Errorf("save chunk %s: %w", c.ID, err)
		}
	}
	return tx.Commit()
}

// ChunksForTask loads a task's chunks in stable ID order.
func (db *DB) ChunksForTask(taskID string) ([]*models.Chunk, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	rows, err := db.conn.Query(`
		SELECT id, task_id, description, effort, depends_on, capability, gather, assigned_to, status, retry_count, result, error
		FROM chunks WHERE task_id = ? ORDER BY rowid
	`, taskID)
	if err != nil {
		return nil, fmt.Errorf("load chunks for task %s: %w", taskID, err)
	}
	defer rows.Close()

	var chunks []*models.Chunk
	for rows.Next() {
		var c models.Chunk
		var dependsOn, status string
		var gather int
		err := rows.Scan(&c.ID, &c.TaskID, &c.Description, &c.Effort, &dependsOn,
			&c.Capability, &gather, &c.AssignedTo, &status, &c.RetryCount, &c.Result, &c.Error)
		if err != nil {
			return nil, fmt.Errorf("scan chunk: %w", err)
		}
		if dependsOn != "" {
			c.DependsOn = strings.Split(dependsOn, ",")
		}
		c.Gather = gather != 0
		c.Status = models.ChunkStatus(status)
		chunks = append(chunks, &c)
	}
	return chunks, rows.Err()
}
