package catalog_test

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"shopline/internal/catalog"
	"shopline/internal/db"
	"shopline/internal/migrate"
)

const sampleYAML = `
work_centers:
  - id: WC-CUT
    name: Cutting
    manager_id: u-anna
  - id: WC-PAINT
    name: External paint shop
    manager_id: u-paul
    in_house: false
routings:
  - id: R-1
    operations:
      - sequence: 20
        operation_id: OP-PAINT
        workcenter_id: WC-PAINT
      - sequence: 10
        operation_id: OP-CUT
        workcenter_id: WC-CUT
        standard_cycle_time: "1.5"
boms:
  - id: B-1
    product_id: P-1
    base_quantity: "10"
    lines:
      - material_id: M-STEEL
        unit_id: kg
        quantity: "2"
      - material_id: M-BOLT
        quantity: "0.25"
`

func TestFromYAMLRejectsDuplicateSequence(t *testing.T) {
	_, err := catalog.FromYAML([]byte(`
routings:
  - id: R
    operations:
      - {sequence: 10, operation_id: A}
      - {sequence: 10, operation_id: B}
`))
	if err == nil {
		t.Fatalf("expected duplicate sequence error")
	}
}

func TestFromYAMLRejectsBadQuantity(t *testing.T) {
	_, err := catalog.FromYAML([]byte(`
boms:
  - id: B
    base_quantity: "ten"
`))
	if err == nil {
		t.Fatalf("expected invalid base_quantity error")
	}
}

func checkCatalog(t *testing.T, c catalog.Catalog) {
	t.Helper()
	ctx := context.Background()
	ops, err := c.GetOperations(ctx, "R-1")
	if err != nil {
		t.Fatalf("get operations: %v", err)
	}
	if len(ops) != 2 || ops[0].Sequence != 10 || ops[1].Sequence != 20 {
		t.Fatalf("expected ops sorted by sequence, got %+v", ops)
	}
	if !ops[0].StandardCycleTime.Equal(decimal.RequireFromString("1.5")) {
		t.Fatalf("cycle time %s", ops[0].StandardCycleTime)
	}
	h, err := c.GetBomHeader(ctx, "B-1")
	if err != nil {
		t.Fatalf("get bom: %v", err)
	}
	if !h.BaseQuantity.Equal(decimal.NewFromInt(10)) {
		t.Fatalf("base quantity %s", h.BaseQuantity)
	}
	lines, err := c.GetBomLines(ctx, "B-1")
	if err != nil {
		t.Fatalf("get bom lines: %v", err)
	}
	if len(lines) != 2 || lines[1].MaterialID != "M-BOLT" || !lines[1].Quantity.Equal(decimal.RequireFromString("0.25")) {
		t.Fatalf("unexpected lines %+v", lines)
	}
	wc, err := c.GetWorkCenter(ctx, "WC-PAINT")
	if err != nil {
		t.Fatalf("get work center: %v", err)
	}
	if wc.InHouse || wc.ManagerID != "u-paul" {
		t.Fatalf("unexpected work center %+v", wc)
	}
	cut, err := c.GetWorkCenter(ctx, "WC-CUT")
	if err != nil || !cut.InHouse {
		t.Fatalf("WC-CUT should default to in-house: %+v %v", cut, err)
	}
	if _, err := c.GetOperations(ctx, "missing"); !errors.Is(err, catalog.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for routing, got %v", err)
	}
	if _, err := c.GetBomLines(ctx, "missing"); !errors.Is(err, catalog.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for bom, got %v", err)
	}
	if _, err := c.GetWorkCenter(ctx, "missing"); !errors.Is(err, catalog.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for work center, got %v", err)
	}
}

func TestMemoryCatalog(t *testing.T) {
	f, err := catalog.FromYAML([]byte(sampleYAML))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	m := catalog.NewMemory()
	if err := f.Load(m); err != nil {
		t.Fatalf("load: %v", err)
	}
	checkCatalog(t, m)
}

func TestSQLCatalogImport(t *testing.T) {
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	f, err := catalog.FromYAML([]byte(sampleYAML))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	c := catalog.SQLCatalog{DB: conn}
	stats, err := c.Import(context.Background(), f)
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	if stats.Routings != 1 || stats.BOMs != 1 || stats.WorkCenters != 2 {
		t.Fatalf("unexpected stats %+v", stats)
	}
	// a second import replaces rather than duplicates
	if _, err := c.Import(context.Background(), f); err != nil {
		t.Fatalf("re-import: %v", err)
	}
	checkCatalog(t, c)
}
