package report

import (
	"context"
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"

	"shopline/internal/domain"
	"shopline/internal/repo"
)

const (
	SheetManufacturingOrders = "Manufacturing Orders"
	SheetWorkOrders          = "Work Orders"
	SheetMaterials           = "Materials"
)

// Filters narrows the export to one MO and/or one work order status.
type Filters struct {
	MOID   string
	Status string
}

type sheet struct {
	name    string
	headers []string
	rows    [][]any
}

// Workbook builds an xlsx snapshot of manufacturing orders, their work orders and material lines.
// The caller closes the returned file.
func Workbook(ctx context.Context, r repo.Repo, f Filters) (*excelize.File, error) {
	mos, err := r.ListManufacturingOrders(ctx, repo.MOFilters{})
	if err != nil {
		return nil, fmt.Errorf("list manufacturing orders: %w", err)
	}
	moNumbers := map[string]string{}
	moSheet := sheet{
		name:    SheetManufacturingOrders,
		headers: []string{"Number", "Product", "Quantity", "Scheduled", "Pending", "Status", "Source", "Due Date", "Planned Start", "Planned Finish"},
	}
	for _, mo := range mos {
		moNumbers[mo.ID] = mo.Number
		if f.MOID != "" && f.MOID != mo.ID && f.MOID != mo.Number {
			continue
		}
		moSheet.rows = append(moSheet.rows, []any{
			mo.Number, mo.ProductID, mo.Quantity.String(), mo.ScheduledQuantity.String(), mo.PendingQuantity().String(),
			string(mo.Status), string(mo.Source), mo.DueDate, mo.PlannedStart, mo.PlannedFinish,
		})
	}

	woFilter := repo.WOFilters{Status: f.Status}
	if f.MOID != "" {
		mo, err := r.GetManufacturingOrder(ctx, f.MOID)
		if err != nil {
			return nil, fmt.Errorf("load manufacturing order %s: %w", f.MOID, err)
		}
		woFilter.MOID = mo.ID
	}
	heads, err := r.ListWorkOrders(ctx, woFilter)
	if err != nil {
		return nil, fmt.Errorf("list work orders: %w", err)
	}
	woSheet := sheet{
		name:    SheetWorkOrders,
		headers: []string{"Number", "MO", "Quantity", "Status", "Sequence", "Operations", "Subcontracting", "Planned Start", "Planned Finish", "Warehouse"},
	}
	matSheet := sheet{
		name:    SheetMaterials,
		headers: []string{"Work Order", "Line", "Material", "Unit", "Required", "Issued", "Pending", "Warehouse"},
	}
	for _, head := range heads {
		wo, err := r.GetWorkOrder(ctx, head.ID)
		if err != nil {
			return nil, fmt.Errorf("load work order %s: %w", head.Number, err)
		}
		woSheet.rows = append(woSheet.rows, []any{
			wo.Number, moNumbers[wo.MOID], wo.Quantity.String(), string(wo.Status), wo.Sequence, operationList(wo),
			wo.NeedsSubcontracting, wo.PlannedStart, wo.PlannedFinish, wo.IssuingWarehouseID,
		})
		for _, line := range wo.Materials {
			matSheet.rows = append(matSheet.rows, []any{
				wo.Number, line.LineNo, line.MaterialID, line.UnitID, line.RequiredQuantity.String(),
				line.IssuedQuantity.String(), line.PendingQuantity().String(), line.WarehouseID,
			})
		}
	}

	x := excelize.NewFile()
	for _, s := range []sheet{moSheet, woSheet, matSheet} {
		if err := writeSheet(x, s); err != nil {
			x.Close()
			return nil, err
		}
	}
	if err := x.DeleteSheet("Sheet1"); err != nil {
		x.Close()
		return nil, err
	}
	if idx, err := x.GetSheetIndex(SheetWorkOrders); err == nil {
		x.SetActiveSheet(idx)
	}
	return x, nil
}

// Write renders the workbook straight to w.
func Write(ctx context.Context, w io.Writer, r repo.Repo, f Filters) error {
	x, err := Workbook(ctx, r, f)
	if err != nil {
		return err
	}
	defer x.Close()
	return x.Write(w)
}

func writeSheet(x *excelize.File, s sheet) error {
	if _, err := x.NewSheet(s.name); err != nil {
		return fmt.Errorf("create sheet %s: %w", s.name, err)
	}
	headerStyle, err := x.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#D3D3D3"}, Pattern: 1},
	})
	if err != nil {
		return err
	}
	for i, h := range s.headers {
		cell, err := excelize.CoordinatesToCellName(i+1, 1)
		if err != nil {
			return err
		}
		if err := x.SetCellValue(s.name, cell, h); err != nil {
			return err
		}
		if err := x.SetCellStyle(s.name, cell, cell, headerStyle); err != nil {
			return err
		}
	}
	for r, row := range s.rows {
		cell, err := excelize.CoordinatesToCellName(1, r+2)
		if err != nil {
			return err
		}
		if err := x.SetSheetRow(s.name, cell, &row); err != nil {
			return err
		}
	}
	last, err := excelize.ColumnNumberToName(len(s.headers))
	if err != nil {
		return err
	}
	return x.SetColWidth(s.name, "A", last, 16)
}

func operationList(wo domain.WorkOrder) string {
	out := ""
	for i, op := range wo.Operations {
		if i > 0 {
			out += ", "
		}
		out += fmt.Sprintf("%d:%s", op.Sequence, op.OperationID)
	}
	return out
}
