package repo

import (
	"context"
	"database/sql"
	"fmt"
)

// HandoffRecord is one subcontract hand-off parked in the outbox table.
type HandoffRecord struct {
	ID        string
	Reference string
	Payload   string
	Status    string
	CreatedAt string
}

// InsertHandoff writes an outbox row on tx when given, on the pool otherwise.
func (r Repo) InsertHandoff(ctx context.Context, tx *sql.Tx, h HandoffRecord) error {
	if h.Status == "" {
		h.Status = "pending"
	}
	var q queryer = r.DB
	if tx != nil {
		q = tx
	}
	_, err := q.ExecContext(ctx, `INSERT INTO subcontract_handoffs(id,reference,payload_json,status,created_at) VALUES (?,?,?,?,?)`,
		h.ID, h.Reference, h.Payload, h.Status, h.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert handoff %s: %w", h.Reference, err)
	}
	return nil
}

// ListHandoffs returns outbox rows oldest first; an empty status matches all.
func (r Repo) ListHandoffs(ctx context.Context, status string, limit int) ([]HandoffRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `SELECT id,reference,payload_json,status,created_at FROM subcontract_handoffs`
	args := []any{}
	if status != "" {
		query += ` WHERE status=?`
		args = append(args, status)
	}
	query += ` ORDER BY created_at ASC, rowid ASC LIMIT ?`
	args = append(args, limit)
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []HandoffRecord
	for rows.Next() {
		var h HandoffRecord
		if err := rows.Scan(&h.ID, &h.Reference, &h.Payload, &h.Status, &h.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, h)
	}
	return res, rows.Err()
}

// MarkHandoff moves an outbox row to a new status, e.g. once a consumer picked it up.
func (r Repo) MarkHandoff(ctx context.Context, reference, status string) error {
	res, err := r.DB.ExecContext(ctx, `UPDATE subcontract_handoffs SET status=? WHERE reference=?`, status, reference)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
