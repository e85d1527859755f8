package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"shopline/internal/catalog"
	"shopline/internal/domain"
	"shopline/internal/events"
)

func newID() string {
	return uuid.NewString()
}

// GenerateOptions are parameters for turning part of an MO into work orders.
type GenerateOptions struct {
	MOID               string
	Quantity           decimal.Decimal
	Assignments        []domain.OperationAssignment
	PlannedStart       string
	PlannedFinish      string
	IssuingWarehouseID string
	// SequenceStart and SequenceEnd limit the work order to a slice of the routing.
	// Zero means the first and last routing operation.
	SequenceStart int
	SequenceEnd   int
	// BatchSize splits Quantity into work orders of at most BatchSize each; zero means one work order.
	BatchSize decimal.Decimal
	ActorID   string
}

// generationPlan is everything read from the catalog before the write transaction opens.
type generationPlan struct {
	operations []domain.WorkOrderOperation
	bom        *catalog.BOMHeader
	bomLines   []catalog.BOMLine
	needsSub   bool
}

// GenerateWorkOrders creates work orders for a confirmed MO, scaling BOM lines by quantity
// and committing the MO bookkeeping together with the new rows.
func (e Engine) GenerateWorkOrders(ctx context.Context, opts GenerateOptions) ([]domain.WorkOrder, error) {
	head, err := e.Repo.GetManufacturingOrder(ctx, opts.MOID)
	if err != nil {
		return nil, refError(err, CodeMONotFound, "manufacturing order", opts.MOID)
	}
	unlock := e.lock(moKey(head.ID))
	defer unlock()

	if err := e.checkGenerate(head, opts); err != nil {
		return nil, err
	}
	if err := checkPlan(opts.PlannedStart, opts.PlannedFinish); err != nil {
		return nil, err
	}
	batches, err := e.splitBatches(opts.Quantity, opts.BatchSize)
	if err != nil {
		return nil, err
	}
	plan, err := e.buildPlan(ctx, head, opts)
	if err != nil {
		return nil, err
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	mo, err := e.Repo.GetManufacturingOrderTx(ctx, tx, head.ID)
	if err != nil {
		return nil, refError(err, CodeMONotFound, "manufacturing order", opts.MOID)
	}
	// the pre-lock read may be stale
	if err := e.checkGenerate(mo, opts); err != nil {
		return nil, err
	}

	now := e.ts()
	var created []domain.WorkOrder
	for _, qty := range batches {
		number, err := e.Repo.NextNumber(ctx, tx, e.cfg().Numbering.WOPrefix)
		if err != nil {
			return nil, err
		}
		wo := domain.WorkOrder{
			ID:                  newID(),
			Number:              number,
			MOID:                mo.ID,
			Quantity:            qty,
			Operations:          plan.operations,
			PlannedStart:        opts.PlannedStart,
			PlannedFinish:       opts.PlannedFinish,
			IssuingWarehouseID:  opts.IssuingWarehouseID,
			Status:              domain.WODraft,
			NeedsSubcontracting: plan.needsSub,
			Version:             1,
			CreatedAt:           now,
			UpdatedAt:           now,
		}
		if n := len(plan.operations); n > 0 {
			wo.SequenceStart = plan.operations[0].Sequence
			wo.SequenceEnd = plan.operations[n-1].Sequence
			wo.Sequence = wo.SequenceStart
		}
		wo.Materials = e.scaleMaterials(wo.ID, qty, plan, opts.IssuingWarehouseID)
		if err := e.Repo.InsertWorkOrder(ctx, tx, wo); err != nil {
			return nil, fmt.Errorf("insert work order: %w", err)
		}
		if err := e.appendEvent(ctx, tx, events.WOGenerated, "work_order", wo.ID, opts.ActorID, events.EventPayload{
			"number":               wo.Number,
			"mo":                   mo.Number,
			"quantity":             wo.Quantity.String(),
			"sequence_start":       wo.SequenceStart,
			"sequence_end":         wo.SequenceEnd,
			"materials":            len(wo.Materials),
			"needs_subcontracting": wo.NeedsSubcontracting,
		}); err != nil {
			return nil, err
		}
		created = append(created, wo)
	}

	prev := mo.Version
	mo.ScheduledQuantity = mo.ScheduledQuantity.Add(opts.Quantity)
	mo.Version++
	mo.UpdatedAt = now
	if err := e.Repo.UpdateManufacturingOrder(ctx, tx, mo, prev); err != nil {
		return nil, conflictError(err, "manufacturing order", mo.Number)
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	e.log().Info("mo.generated",
		zap.String("mo", mo.Number),
		zap.String("quantity", opts.Quantity.String()),
		zap.Int("work_orders", len(created)),
		zap.String("pending", mo.PendingQuantity().String()),
		zap.String("actor", opts.ActorID))
	return created, nil
}

func (e Engine) checkGenerate(mo domain.ManufacturingOrder, opts GenerateOptions) error {
	if mo.Status != domain.MOConfirmed && mo.Status != domain.MOInProgress {
		return newError(CodeMONotConfirmed, "manufacturing order %s is %s; work orders need a confirmed order", mo.Number, mo.Status).
			with("status", string(mo.Status))
	}
	if !opts.Quantity.IsPositive() {
		return newError(CodeInvalidQuantity, "schedule quantity must be positive, got %s", opts.Quantity).
			with("quantity", opts.Quantity.String())
	}
	pending := mo.PendingQuantity()
	if opts.Quantity.GreaterThan(pending) {
		return newError(CodeQuantityExceedsPending, "schedule quantity %s exceeds pending %s on %s", opts.Quantity, pending, mo.Number).
			with("quantity", opts.Quantity.String()).with("pending", pending.String())
	}
	return nil
}

// splitBatches divides qty into chunks of at most size; the last chunk takes the remainder.
func (e Engine) splitBatches(qty, size decimal.Decimal) ([]decimal.Decimal, error) {
	if size.IsZero() || size.GreaterThanOrEqual(qty) {
		return []decimal.Decimal{qty}, nil
	}
	if size.IsNegative() {
		return nil, newError(CodeInvalidQuantity, "batch size must be positive, got %s", size).with("batch_size", size.String())
	}
	count := qty.Div(size).Ceil().IntPart()
	if limit := int64(e.cfg().Generation.MaxBatches); count > limit {
		return nil, newError(CodeInvalidQuantity, "batch size %s would create %d work orders, limit is %d", size, count, limit).
			with("batch_size", size.String()).with("max_batches", limit)
	}
	var out []decimal.Decimal
	left := qty
	for left.IsPositive() {
		chunk := decimal.Min(size, left)
		out = append(out, chunk)
		left = left.Sub(chunk)
	}
	return out, nil
}

func (e Engine) buildPlan(ctx context.Context, mo domain.ManufacturingOrder, opts GenerateOptions) (generationPlan, error) {
	var plan generationPlan
	if e.Catalog == nil && (mo.RoutingID != "" || mo.BOMID != "") {
		return plan, errors.New("catalog not configured")
	}

	var ops []catalog.RoutingOperation
	if mo.RoutingID != "" {
		var err error
		ops, err = e.Catalog.GetOperations(ctx, mo.RoutingID)
		if errors.Is(err, catalog.ErrNotFound) {
			return plan, newError(CodeRoutingNotFound, "routing %s of %s not found", mo.RoutingID, mo.Number).with("routing_id", mo.RoutingID)
		}
		if err != nil {
			return plan, fmt.Errorf("load routing %s: %w", mo.RoutingID, err)
		}
		sort.SliceStable(ops, func(i, j int) bool { return ops[i].Sequence < ops[j].Sequence })
	}
	ops, err := selectRange(ops, opts.SequenceStart, opts.SequenceEnd)
	if err != nil {
		return plan, err
	}

	assigned, err := indexAssignments(ops, opts.Assignments)
	if err != nil {
		return plan, err
	}
	for _, op := range ops {
		woOp := domain.WorkOrderOperation{
			Sequence:          op.Sequence,
			OperationID:       op.OperationID,
			WorkCenterID:      op.WorkCenterID,
			StandardCycleTime: op.StandardCycleTime,
		}
		if a, ok := assigned[op.OperationID]; ok {
			if a.WorkCenterID != "" {
				woOp.WorkCenterID = a.WorkCenterID
			}
			woOp.OwnerID = a.OwnerID
		}
		if woOp.WorkCenterID != "" {
			wc, err := e.Catalog.GetWorkCenter(ctx, woOp.WorkCenterID)
			if errors.Is(err, catalog.ErrNotFound) {
				return plan, newError(CodeWorkCenterNotFound, "work center %s for operation %s not found", woOp.WorkCenterID, op.OperationID).
					with("workcenter_id", woOp.WorkCenterID).with("operation_id", op.OperationID)
			}
			if err != nil {
				return plan, fmt.Errorf("load work center %s: %w", woOp.WorkCenterID, err)
			}
			if woOp.OwnerID == "" {
				woOp.OwnerID = wc.ManagerID
			}
			woOp.NeedsSubcontracting = !wc.InHouse
		}
		if woOp.NeedsSubcontracting {
			plan.needsSub = true
		}
		plan.operations = append(plan.operations, woOp)
	}

	if mo.BOMID != "" {
		h, err := e.Catalog.GetBomHeader(ctx, mo.BOMID)
		if err == nil {
			plan.bomLines, err = e.Catalog.GetBomLines(ctx, mo.BOMID)
		}
		if errors.Is(err, catalog.ErrNotFound) {
			return plan, newError(CodeBOMNotFound, "bom %s of %s not found", mo.BOMID, mo.Number).with("bom_id", mo.BOMID)
		}
		if err != nil {
			return plan, fmt.Errorf("load bom %s: %w", mo.BOMID, err)
		}
		if !h.BaseQuantity.IsPositive() && e.cfg().Generation.RejectInvalidBOM {
			return plan, newError(CodeBOMInvalid, "bom %s has non-positive base quantity %s", h.ID, h.BaseQuantity).
				with("bom_id", h.ID).with("base_quantity", h.BaseQuantity.String())
		}
		if !h.BaseQuantity.IsPositive() {
			e.log().Warn("bom.base_quantity_defaulted", zap.String("bom", h.ID), zap.String("base_quantity", h.BaseQuantity.String()))
		}
		plan.bom = &h
	}
	return plan, nil
}

// selectRange keeps the operations between start and end inclusive. Both bounds,
// when set, must name sequences present in the routing.
func selectRange(ops []catalog.RoutingOperation, start, end int) ([]catalog.RoutingOperation, error) {
	if start == 0 && end == 0 {
		return ops, nil
	}
	if len(ops) == 0 {
		return nil, newError(CodeInvalidInput, "sequence range given but the order has no routing operations")
	}
	if start == 0 {
		start = ops[0].Sequence
	}
	if end == 0 {
		end = ops[len(ops)-1].Sequence
	}
	has := func(seq int) bool {
		for _, op := range ops {
			if op.Sequence == seq {
				return true
			}
		}
		return false
	}
	if !has(start) || !has(end) || start > end {
		return nil, newError(CodeInvalidInput, "sequence range %d-%d does not match the routing", start, end).
			with("sequence_start", start).with("sequence_end", end)
	}
	var out []catalog.RoutingOperation
	for _, op := range ops {
		if op.Sequence >= start && op.Sequence <= end {
			out = append(out, op)
		}
	}
	return out, nil
}

func indexAssignments(ops []catalog.RoutingOperation, assignments []domain.OperationAssignment) (map[string]domain.OperationAssignment, error) {
	known := map[string]bool{}
	for _, op := range ops {
		known[op.OperationID] = true
	}
	out := map[string]domain.OperationAssignment{}
	for _, a := range assignments {
		if !known[a.OperationID] {
			return nil, newError(CodeInvalidAssignment, "operation %s is not part of the selected routing", a.OperationID).
				with("operation_id", a.OperationID)
		}
		if _, dup := out[a.OperationID]; dup {
			return nil, newError(CodeInvalidAssignment, "operation %s assigned twice", a.OperationID).
				with("operation_id", a.OperationID)
		}
		out[a.OperationID] = a
	}
	return out, nil
}

// scaleMaterials computes requiredQuantity = line quantity * qty / base quantity.
// A non-positive base quantity scales with ratio 1.
func (e Engine) scaleMaterials(woID string, qty decimal.Decimal, plan generationPlan, warehouseID string) []domain.MaterialLine {
	if plan.bom == nil {
		return nil
	}
	lines := make([]domain.MaterialLine, 0, len(plan.bomLines))
	for i, l := range plan.bomLines {
		required := l.Quantity
		if plan.bom.BaseQuantity.IsPositive() {
			required = l.Quantity.Mul(qty).Div(plan.bom.BaseQuantity)
		}
		lineNo := l.LineNo
		if lineNo == 0 {
			lineNo = i + 1
		}
		lines = append(lines, domain.MaterialLine{
			ID:               newID(),
			WorkOrderID:      woID,
			LineNo:           lineNo,
			MaterialID:       l.MaterialID,
			UnitID:           l.UnitID,
			RequiredQuantity: required,
			IssuedQuantity:   decimal.Zero,
			WarehouseID:      warehouseID,
		})
	}
	return lines
}
