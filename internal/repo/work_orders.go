package repo

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"shopline/internal/domain"
)

const woColumns = `id,number,mo_id,quantity,sequence_start,sequence_end,sequence,planned_start,planned_finish,issuing_warehouse_id,status,needs_subcontracting,version,created_at,updated_at,started_at,completed_at,cancelled_at`

func scanWO(row rowScanner) (domain.WorkOrder, error) {
	var w domain.WorkOrder
	var start, finish, warehouse, startedAt, completedAt, cancelledAt sql.NullString
	var needsSub int
	err := row.Scan(&w.ID, &w.Number, &w.MOID, &w.Quantity, &w.SequenceStart, &w.SequenceEnd, &w.Sequence,
		&start, &finish, &warehouse, &w.Status, &needsSub, &w.Version, &w.CreatedAt, &w.UpdatedAt,
		&startedAt, &completedAt, &cancelledAt)
	if errors.Is(err, sql.ErrNoRows) {
		return w, ErrNotFound
	}
	if err != nil {
		return w, err
	}
	w.PlannedStart = start.String
	w.PlannedFinish = finish.String
	w.IssuingWarehouseID = warehouse.String
	w.NeedsSubcontracting = needsSub == 1
	w.StartedAt = strPtr(startedAt)
	w.CompletedAt = strPtr(completedAt)
	w.CancelledAt = strPtr(cancelledAt)
	return w, nil
}

// InsertWorkOrder stores the work order with its operations and material lines.
func (r Repo) InsertWorkOrder(ctx context.Context, tx *sql.Tx, w domain.WorkOrder) error {
	if _, err := tx.ExecContext(ctx, `INSERT INTO work_orders(`+woColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		w.ID, w.Number, w.MOID, w.Quantity, w.SequenceStart, w.SequenceEnd, w.Sequence,
		nullable(w.PlannedStart), nullable(w.PlannedFinish), nullable(w.IssuingWarehouseID), w.Status,
		boolInt(w.NeedsSubcontracting), w.Version, w.CreatedAt, w.UpdatedAt,
		nullableStringPtr(w.StartedAt), nullableStringPtr(w.CompletedAt), nullableStringPtr(w.CancelledAt)); err != nil {
		return err
	}
	for _, op := range w.Operations {
		if _, err := tx.ExecContext(ctx, `INSERT INTO work_order_operations(work_order_id,sequence,operation_id,workcenter_id,owner_id,standard_cycle_time,needs_subcontracting) VALUES (?,?,?,?,?,?,?)`,
			w.ID, op.Sequence, op.OperationID, nullable(op.WorkCenterID), nullable(op.OwnerID), op.StandardCycleTime, boolInt(op.NeedsSubcontracting)); err != nil {
			return err
		}
	}
	for _, l := range w.Materials {
		if _, err := tx.ExecContext(ctx, `INSERT INTO material_lines(id,work_order_id,line_no,material_id,unit_id,required_quantity,issued_quantity,warehouse_id) VALUES (?,?,?,?,?,?,?,?)`,
			l.ID, w.ID, l.LineNo, l.MaterialID, nullable(l.UnitID), l.RequiredQuantity, l.IssuedQuantity, nullable(l.WarehouseID)); err != nil {
			return err
		}
	}
	return nil
}

// UpdateWorkOrder writes the mutable columns if the row is still at expectedVersion.
func (r Repo) UpdateWorkOrder(ctx context.Context, tx *sql.Tx, w domain.WorkOrder, expectedVersion int64) error {
	res, err := tx.ExecContext(ctx, `UPDATE work_orders SET status=?, sequence=?, planned_start=?, planned_finish=?, issuing_warehouse_id=?, version=?, updated_at=?, started_at=?, completed_at=?, cancelled_at=? WHERE id=? AND version=?`,
		w.Status, w.Sequence, nullable(w.PlannedStart), nullable(w.PlannedFinish), nullable(w.IssuingWarehouseID),
		w.Version, w.UpdatedAt, nullableStringPtr(w.StartedAt), nullableStringPtr(w.CompletedAt), nullableStringPtr(w.CancelledAt),
		w.ID, expectedVersion)
	if err != nil {
		return err
	}
	return checkAffected(res)
}

func (r Repo) GetWorkOrder(ctx context.Context, id string) (domain.WorkOrder, error) {
	return getWO(ctx, r.DB, id)
}

func (r Repo) GetWorkOrderTx(ctx context.Context, tx *sql.Tx, id string) (domain.WorkOrder, error) {
	return getWO(ctx, tx, id)
}

func getWO(ctx context.Context, q queryer, id string) (domain.WorkOrder, error) {
	w, err := scanWO(q.QueryRowContext(ctx, `SELECT `+woColumns+` FROM work_orders WHERE id=? OR number=?`, id, id))
	if err != nil {
		return w, err
	}
	if w.Operations, err = listOperations(ctx, q, w.ID); err != nil {
		return w, err
	}
	if w.Materials, err = listMaterialLines(ctx, q, w.ID); err != nil {
		return w, err
	}
	return w, nil
}

func listOperations(ctx context.Context, q queryer, woID string) ([]domain.WorkOrderOperation, error) {
	rows, err := q.QueryContext(ctx, `SELECT sequence,operation_id,workcenter_id,owner_id,standard_cycle_time,needs_subcontracting FROM work_order_operations WHERE work_order_id=? ORDER BY sequence ASC`, woID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.WorkOrderOperation
	for rows.Next() {
		var op domain.WorkOrderOperation
		var wc, owner sql.NullString
		var needsSub int
		if err := rows.Scan(&op.Sequence, &op.OperationID, &wc, &owner, &op.StandardCycleTime, &needsSub); err != nil {
			return nil, err
		}
		op.WorkCenterID = wc.String
		op.OwnerID = owner.String
		op.NeedsSubcontracting = needsSub == 1
		res = append(res, op)
	}
	return res, rows.Err()
}

type WOFilters struct {
	MOID                string
	Status              string
	NeedsSubcontracting *bool
	Limit               int
}

// ListWorkOrders returns work order headers; operations and materials are not loaded.
func (r Repo) ListWorkOrders(ctx context.Context, f WOFilters) ([]domain.WorkOrder, error) {
	return listWOs(ctx, r.DB, f)
}

func (r Repo) ListWorkOrdersTx(ctx context.Context, tx *sql.Tx, f WOFilters) ([]domain.WorkOrder, error) {
	return listWOs(ctx, tx, f)
}

func listWOs(ctx context.Context, q queryer, f WOFilters) ([]domain.WorkOrder, error) {
	var clauses []string
	var args []any
	if f.MOID != "" {
		clauses = append(clauses, "mo_id=?")
		args = append(args, f.MOID)
	}
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	if f.NeedsSubcontracting != nil {
		clauses = append(clauses, "needs_subcontracting=?")
		args = append(args, boolInt(*f.NeedsSubcontracting))
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	query := `SELECT ` + woColumns + ` FROM work_orders ` + where + ` ORDER BY number ASC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.WorkOrder
	for rows.Next() {
		w, err := scanWO(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, w)
	}
	return res, rows.Err()
}

// CountWorkOrdersByStatus counts an MO's work orders per status.
func (r Repo) CountWorkOrdersByStatus(ctx context.Context, tx *sql.Tx, moID string) (map[domain.WOStatus]int, error) {
	rows, err := tx.QueryContext(ctx, `SELECT status, COUNT(*) FROM work_orders WHERE mo_id=? GROUP BY status`, moID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := map[domain.WOStatus]int{}
	for rows.Next() {
		var status domain.WOStatus
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		res[status] = n
	}
	return res, rows.Err()
}

func (r Repo) InsertTransition(ctx context.Context, tx *sql.Tx, t domain.Transition) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO work_order_transitions(work_order_id,version,from_status,to_status,event,actor_id,ts) VALUES (?,?,?,?,?,?,?)`,
		t.WorkOrderID, t.Version, t.From, t.To, t.Event, t.ActorID, t.TS)
	return err
}

func (r Repo) ListTransitions(ctx context.Context, woID string) ([]domain.Transition, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT work_order_id,version,from_status,to_status,event,actor_id,ts FROM work_order_transitions WHERE work_order_id=? ORDER BY version ASC`, woID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Transition
	for rows.Next() {
		var t domain.Transition
		if err := rows.Scan(&t.WorkOrderID, &t.Version, &t.From, &t.To, &t.Event, &t.ActorID, &t.TS); err != nil {
			return nil, err
		}
		res = append(res, t)
	}
	return res, rows.Err()
}
