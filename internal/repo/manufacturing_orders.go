package repo

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"shopline/internal/domain"
)

const moColumns = `id,number,product_id,quantity,unit_id,bom_id,routing_id,due_date,planned_start,planned_finish,source,source_ref,status,scheduled_quantity,version,created_at,updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMO(row rowScanner) (domain.ManufacturingOrder, error) {
	var m domain.ManufacturingOrder
	var unit, bom, routing, due, start, finish, sourceRef sql.NullString
	err := row.Scan(&m.ID, &m.Number, &m.ProductID, &m.Quantity, &unit, &bom, &routing, &due, &start, &finish,
		&m.Source, &sourceRef, &m.Status, &m.ScheduledQuantity, &m.Version, &m.CreatedAt, &m.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return m, ErrNotFound
	}
	if err != nil {
		return m, err
	}
	m.UnitID = unit.String
	m.BOMID = bom.String
	m.RoutingID = routing.String
	m.DueDate = due.String
	m.PlannedStart = start.String
	m.PlannedFinish = finish.String
	m.SourceRef = sourceRef.String
	return m, nil
}

func (r Repo) InsertManufacturingOrder(ctx context.Context, tx *sql.Tx, m domain.ManufacturingOrder) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO manufacturing_orders(`+moColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		m.ID, m.Number, m.ProductID, m.Quantity, nullable(m.UnitID), nullable(m.BOMID), nullable(m.RoutingID),
		nullable(m.DueDate), nullable(m.PlannedStart), nullable(m.PlannedFinish), m.Source, nullable(m.SourceRef),
		m.Status, m.ScheduledQuantity, m.Version, m.CreatedAt, m.UpdatedAt)
	return err
}

// UpdateManufacturingOrder writes status and scheduled quantity if the row is
// still at expectedVersion, and stores m.Version as the new version.
func (r Repo) UpdateManufacturingOrder(ctx context.Context, tx *sql.Tx, m domain.ManufacturingOrder, expectedVersion int64) error {
	res, err := tx.ExecContext(ctx, `UPDATE manufacturing_orders SET status=?, scheduled_quantity=?, version=?, updated_at=? WHERE id=? AND version=?`,
		m.Status, m.ScheduledQuantity, m.Version, m.UpdatedAt, m.ID, expectedVersion)
	if err != nil {
		return err
	}
	return checkAffected(res)
}

func (r Repo) GetManufacturingOrder(ctx context.Context, id string) (domain.ManufacturingOrder, error) {
	return getMO(ctx, r.DB, id)
}

func (r Repo) GetManufacturingOrderTx(ctx context.Context, tx *sql.Tx, id string) (domain.ManufacturingOrder, error) {
	return getMO(ctx, tx, id)
}

func getMO(ctx context.Context, q queryer, id string) (domain.ManufacturingOrder, error) {
	return scanMO(q.QueryRowContext(ctx, `SELECT `+moColumns+` FROM manufacturing_orders WHERE id=? OR number=?`, id, id))
}

type MOFilters struct {
	Status    string
	ProductID string
	Limit     int
}

func (r Repo) ListManufacturingOrders(ctx context.Context, f MOFilters) ([]domain.ManufacturingOrder, error) {
	var clauses []string
	var args []any
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	if f.ProductID != "" {
		clauses = append(clauses, "product_id=?")
		args = append(args, f.ProductID)
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	query := `SELECT ` + moColumns + ` FROM manufacturing_orders ` + where + ` ORDER BY number ASC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.ManufacturingOrder
	for rows.Next() {
		m, err := scanMO(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, m)
	}
	return res, rows.Err()
}
