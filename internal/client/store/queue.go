package store

import (
	"context"
	"fmt"
	"time"

	"github.com/wadi-transport/invoicesync/internal/models"
)

// Enqueue appends a pending operation and returns its store-assigned
// id. Ids are monotonic and never reused.
func (s *Store) Enqueue(ctx context.Context, op models.PendingOperation) (int64, error) {
	if op.Timestamp.IsZero() {
		op.Timestamp = time.Now()
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO sync_queue (op_type, entity, data, ts, retries) VALUES (?, ?, ?, ?, ?)
	`, string(op.Type), string(op.Entity), []byte(op.Data), op.Timestamp.UnixMilli(), op.Retries)
	if err != nil {
		return 0, fmt.Errorf("enqueue: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("enqueue id: %w", err)
	}
	return id, nil
}

// SyncQueue returns all queued operations in enqueue order without
// removing them; removal is explicit per item after acknowledgement.
func (s *Store) SyncQueue(ctx context.Context) ([]models.PendingOperation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, op_type, entity, data, ts, retries FROM sync_queue ORDER BY id
	`)
	if err != nil {
		return nil, fmt.Errorf("read queue: %w", err)
	}
	defer rows.Close()

	var ops []models.PendingOperation
	for rows.Next() {
		var op models.PendingOperation
		var opType, entity string
		var data []byte
		var ts int64
		if err := rows.Scan(&op.ID, &opType, &entity, &data, &ts, &op.Retries); err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		op.Type = models.OperationType(opType)
		op.Entity = models.EntityKind(entity)
		op.Data = data
		op.Timestamp = time.UnixMilli(ts).UTC()
		ops = append(ops, op)
	}
	return ops, rows.Err()
}

// RemoveQueueItem deletes a queued operation. Removing a missing id is
// a no-op, not an error.
func (s *Store) RemoveQueueItem(ctx context.Context, id int64) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM sync_queue WHERE id = ?`, id); err != nil {
		return fmt.Errorf("remove queue item: %w", err)
	}
	return nil
}

// UpdateQueueRetries persists a new retry count for a queued operation.
func (s *Store) UpdateQueueRetries(ctx context.Context, id int64, retries int) error {
	if _, err := s.db.ExecContext(ctx, `UPDATE sync_queue SET retries = ? WHERE id = ?`, retries, id); err != nil {
		return fmt.Errorf("update retries: %w", err)
	}
	return nil
}
