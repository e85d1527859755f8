package repo

import (
	"context"
	"database/sql"
	"errors"

	"github.com/shopspring/decimal"

	"shopline/internal/domain"
)

func listMaterialLines(ctx context.Context, q queryer, woID string) ([]domain.MaterialLine, error) {
	rows, err := q.QueryContext(ctx, `SELECT id,work_order_id,line_no,material_id,unit_id,required_quantity,issued_quantity,warehouse_id FROM material_lines WHERE work_order_id=? ORDER BY line_no ASC`, woID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.MaterialLine
	for rows.Next() {
		var l domain.MaterialLine
		var unit, warehouse sql.NullString
		if err := rows.Scan(&l.ID, &l.WorkOrderID, &l.LineNo, &l.MaterialID, &unit, &l.RequiredQuantity, &l.IssuedQuantity, &warehouse); err != nil {
			return nil, err
		}
		l.UnitID = unit.String
		l.WarehouseID = warehouse.String
		res = append(res, l)
	}
	return res, rows.Err()
}

// SetIssuedQuantity moves a line's issued quantity from prev to next.
// The guard on prev rejects a concurrent writer that already moved the line.
func (r Repo) SetIssuedQuantity(ctx context.Context, tx *sql.Tx, lineID string, prev, next decimal.Decimal) error {
	res, err := tx.ExecContext(ctx, `UPDATE material_lines SET issued_quantity=? WHERE id=? AND issued_quantity=?`, next, lineID, prev)
	if err != nil {
		return err
	}
	return checkAffected(res)
}

func (r Repo) InsertIssueOrder(ctx context.Context, tx *sql.Tx, o domain.MaterialIssueOrder) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO material_issue_orders(id,number,work_order_id,status,warehouse_id,created_at,updated_at) VALUES (?,?,?,?,?,?,?)`,
		o.ID, o.Number, o.WorkOrderID, o.Status, nullable(o.WarehouseID), o.CreatedAt, o.UpdatedAt)
	return err
}

func (r Repo) UpdateIssueOrderStatus(ctx context.Context, tx *sql.Tx, id string, status domain.IssueStatus, updatedAt string) error {
	_, err := tx.ExecContext(ctx, `UPDATE material_issue_orders SET status=?, updated_at=? WHERE id=?`, status, updatedAt, id)
	return err
}

const issueOrderColumns = `id,number,work_order_id,status,warehouse_id,created_at,updated_at`

func getIssueOrder(ctx context.Context, q queryer, where string, arg string) (domain.MaterialIssueOrder, error) {
	var o domain.MaterialIssueOrder
	var warehouse sql.NullString
	err := q.QueryRowContext(ctx, `SELECT `+issueOrderColumns+` FROM material_issue_orders WHERE `+where, arg, arg).
		Scan(&o.ID, &o.Number, &o.WorkOrderID, &o.Status, &warehouse, &o.CreatedAt, &o.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return o, ErrNotFound
	}
	if err != nil {
		return o, err
	}
	o.WarehouseID = warehouse.String
	if o.Items, err = listMaterialLines(ctx, q, o.WorkOrderID); err != nil {
		return o, err
	}
	return o, nil
}

func (r Repo) GetIssueOrder(ctx context.Context, id string) (domain.MaterialIssueOrder, error) {
	return getIssueOrder(ctx, r.DB, `id=? OR number=?`, id)
}

func (r Repo) GetIssueOrderTx(ctx context.Context, tx *sql.Tx, id string) (domain.MaterialIssueOrder, error) {
	return getIssueOrder(ctx, tx, `id=? OR number=?`, id)
}

func (r Repo) GetIssueOrderByWorkOrder(ctx context.Context, woID string) (domain.MaterialIssueOrder, error) {
	return getIssueOrder(ctx, r.DB, `work_order_id=? OR work_order_id=?`, woID)
}

func (r Repo) GetIssueOrderByWorkOrderTx(ctx context.Context, tx *sql.Tx, woID string) (domain.MaterialIssueOrder, error) {
	return getIssueOrder(ctx, tx, `work_order_id=? OR work_order_id=?`, woID)
}

func (r Repo) InsertMaterialIssue(ctx context.Context, tx *sql.Tx, mi domain.MaterialIssue) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO material_issues(id,order_id,line_id,quantity,actor_id,issued_at) VALUES (?,?,?,?,?,?)`,
		mi.ID, mi.OrderID, mi.LineID, mi.Quantity, mi.ActorID, mi.IssuedAt)
	return err
}

// ListMaterialIssues returns ledger entries for an issue order, oldest first.
func (r Repo) ListMaterialIssues(ctx context.Context, orderID string) ([]domain.MaterialIssue, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,order_id,line_id,quantity,actor_id,issued_at FROM material_issues WHERE order_id=? ORDER BY issued_at ASC, rowid ASC`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.MaterialIssue
	for rows.Next() {
		var mi domain.MaterialIssue
		if err := rows.Scan(&mi.ID, &mi.OrderID, &mi.LineID, &mi.Quantity, &mi.ActorID, &mi.IssuedAt); err != nil {
			return nil, err
		}
		res = append(res, mi)
	}
	return res, rows.Err()
}
