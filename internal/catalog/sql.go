package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// SQLCatalog reads master data from the workspace database.
// Lookups run on the pool, so callers must not hold an open write transaction.
type SQLCatalog struct {
	DB *sql.DB
}

var _ Catalog = SQLCatalog{}

func (c SQLCatalog) GetOperations(ctx context.Context, routingID string) ([]RoutingOperation, error) {
	var id string
	if err := c.DB.QueryRowContext(ctx, `SELECT id FROM routings WHERE id=?`, routingID).Scan(&id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get routing %s: %w", routingID, err)
	}
	rows, err := c.DB.QueryContext(ctx, `SELECT sequence, operation_id, workcenter_id, standard_cycle_time FROM routing_operations WHERE routing_id=? ORDER BY sequence ASC`, routingID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ops []RoutingOperation
	for rows.Next() {
		var op RoutingOperation
		var wc sql.NullString
		if err := rows.Scan(&op.Sequence, &op.OperationID, &wc, &op.StandardCycleTime); err != nil {
			return nil, err
		}
		op.WorkCenterID = wc.String
		ops = append(ops, op)
	}
	return ops, rows.Err()
}

func (c SQLCatalog) GetBomHeader(ctx context.Context, bomID string) (BOMHeader, error) {
	var h BOMHeader
	err := c.DB.QueryRowContext(ctx, `SELECT id, product_id, base_quantity FROM boms WHERE id=?`, bomID).
		Scan(&h.ID, &h.ProductID, &h.BaseQuantity)
	if errors.Is(err, sql.ErrNoRows) {
		return BOMHeader{}, ErrNotFound
	}
	if err != nil {
		return BOMHeader{}, fmt.Errorf("get bom %s: %w", bomID, err)
	}
	return h, nil
}

func (c SQLCatalog) GetBomLines(ctx context.Context, bomID string) ([]BOMLine, error) {
	if _, err := c.GetBomHeader(ctx, bomID); err != nil {
		return nil, err
	}
	rows, err := c.DB.QueryContext(ctx, `SELECT line_no, material_id, unit_id, quantity FROM bom_lines WHERE bom_id=? ORDER BY line_no ASC`, bomID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var lines []BOMLine
	for rows.Next() {
		var l BOMLine
		var unit sql.NullString
		if err := rows.Scan(&l.LineNo, &l.MaterialID, &unit, &l.Quantity); err != nil {
			return nil, err
		}
		l.UnitID = unit.String
		lines = append(lines, l)
	}
	return lines, rows.Err()
}

func (c SQLCatalog) GetWorkCenter(ctx context.Context, id string) (WorkCenter, error) {
	var wc WorkCenter
	var manager sql.NullString
	var inHouse int
	err := c.DB.QueryRowContext(ctx, `SELECT id, name, manager_id, in_house FROM work_centers WHERE id=?`, id).
		Scan(&wc.ID, &wc.Name, &manager, &inHouse)
	if errors.Is(err, sql.ErrNoRows) {
		return WorkCenter{}, ErrNotFound
	}
	if err != nil {
		return WorkCenter{}, fmt.Errorf("get work center %s: %w", id, err)
	}
	wc.ManagerID = manager.String
	wc.InHouse = inHouse == 1
	return wc, nil
}

// Import replaces every routing, BOM and work center named in f, in one transaction.
func (c SQLCatalog) Import(ctx context.Context, f *File) (ImportStats, error) {
	var stats ImportStats
	tx, err := c.DB.BeginTx(ctx, nil)
	if err != nil {
		return stats, err
	}
	defer tx.Rollback()

	for _, wc := range f.WorkCenters {
		if _, err := tx.ExecContext(ctx, `INSERT INTO work_centers(id,name,manager_id,in_house) VALUES (?,?,?,?)
			ON CONFLICT(id) DO UPDATE SET name=excluded.name, manager_id=excluded.manager_id, in_house=excluded.in_house`,
			wc.ID, wc.Name, nullable(wc.ManagerID), boolInt(wc.inHouse())); err != nil {
			return stats, fmt.Errorf("import work center %s: %w", wc.ID, err)
		}
		stats.WorkCenters++
	}
	for _, r := range f.Routings {
		if _, err := tx.ExecContext(ctx, `DELETE FROM routing_operations WHERE routing_id=?`, r.ID); err != nil {
			return stats, err
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO routings(id,name) VALUES (?,?) ON CONFLICT(id) DO UPDATE SET name=excluded.name`, r.ID, r.Name); err != nil {
			return stats, fmt.Errorf("import routing %s: %w", r.ID, err)
		}
		ops, err := r.operations()
		if err != nil {
			return stats, err
		}
		for _, op := range ops {
			if _, err := tx.ExecContext(ctx, `INSERT INTO routing_operations(routing_id,sequence,operation_id,workcenter_id,standard_cycle_time) VALUES (?,?,?,?,?)`,
				r.ID, op.Sequence, op.OperationID, nullable(op.WorkCenterID), op.StandardCycleTime); err != nil {
				return stats, fmt.Errorf("import routing %s op %d: %w", r.ID, op.Sequence, err)
			}
		}
		stats.Routings++
	}
	for _, b := range f.BOMs {
		h, lines, err := b.parse()
		if err != nil {
			return stats, err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM bom_lines WHERE bom_id=?`, h.ID); err != nil {
			return stats, err
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO boms(id,product_id,base_quantity) VALUES (?,?,?)
			ON CONFLICT(id) DO UPDATE SET product_id=excluded.product_id, base_quantity=excluded.base_quantity`,
			h.ID, h.ProductID, h.BaseQuantity); err != nil {
			return stats, fmt.Errorf("import bom %s: %w", h.ID, err)
		}
		for _, l := range lines {
			if _, err := tx.ExecContext(ctx, `INSERT INTO bom_lines(bom_id,line_no,material_id,unit_id,quantity) VALUES (?,?,?,?,?)`,
				h.ID, l.LineNo, l.MaterialID, nullable(l.UnitID), l.Quantity); err != nil {
				return stats, fmt.Errorf("import bom %s line %d: %w", h.ID, l.LineNo, err)
			}
		}
		stats.BOMs++
	}
	return stats, tx.Commit()
}

type ImportStats struct {
	WorkCenters int `json:"work_centers"`
	Routings    int `json:"routings"`
	BOMs        int `json:"boms"`
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func boolInt(v bool) int {
	if v {
		return 1
	}
	return 0
}
