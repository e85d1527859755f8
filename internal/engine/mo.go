package engine

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"shopline/internal/domain"
	"shopline/internal/events"
	"shopline/internal/repo"
)

// MOCreateOptions are parameters for creating a manufacturing order.
type MOCreateOptions struct {
	ProductID     string
	Quantity      decimal.Decimal
	UnitID        string
	BOMID         string
	RoutingID     string
	DueDate       string
	PlannedStart  string
	PlannedFinish string
	Source        domain.MOSource
	SourceRef     string
	ActorID       string
}

func (e Engine) CreateManufacturingOrder(ctx context.Context, opts MOCreateOptions) (domain.ManufacturingOrder, error) {
	if opts.ProductID == "" {
		return domain.ManufacturingOrder{}, newError(CodeInvalidInput, "product id is required")
	}
	if !opts.Quantity.IsPositive() {
		return domain.ManufacturingOrder{}, newError(CodeInvalidQuantity, "order quantity must be positive, got %s", opts.Quantity).
			with("quantity", opts.Quantity.String())
	}
	if opts.Source == "" {
		opts.Source = domain.SourceManual
	}
	if !opts.Source.Valid() {
		return domain.ManufacturingOrder{}, newError(CodeInvalidInput, "unknown source %q", opts.Source).with("source", string(opts.Source))
	}
	if err := checkPlan(opts.PlannedStart, opts.PlannedFinish); err != nil {
		return domain.ManufacturingOrder{}, err
	}
	if opts.DueDate != "" {
		if _, err := parsePlanTime(opts.DueDate); err != nil {
			return domain.ManufacturingOrder{}, newError(CodeInvalidInput, "due date %q is not a date or RFC 3339 time", opts.DueDate)
		}
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.ManufacturingOrder{}, err
	}
	defer tx.Rollback()

	number, err := e.Repo.NextNumber(ctx, tx, e.cfg().Numbering.MOPrefix)
	if err != nil {
		return domain.ManufacturingOrder{}, err
	}
	now := e.ts()
	mo := domain.ManufacturingOrder{
		ID:                newID(),
		Number:            number,
		ProductID:         opts.ProductID,
		Quantity:          opts.Quantity,
		UnitID:            opts.UnitID,
		BOMID:             opts.BOMID,
		RoutingID:         opts.RoutingID,
		DueDate:           opts.DueDate,
		PlannedStart:      opts.PlannedStart,
		PlannedFinish:     opts.PlannedFinish,
		Source:            opts.Source,
		SourceRef:         opts.SourceRef,
		Status:            domain.MODraft,
		ScheduledQuantity: decimal.Zero,
		Version:           1,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if err := e.Repo.InsertManufacturingOrder(ctx, tx, mo); err != nil {
		return domain.ManufacturingOrder{}, fmt.Errorf("insert manufacturing order: %w", err)
	}
	if err := e.appendEvent(ctx, tx, events.MOCreated, "manufacturing_order", mo.ID, opts.ActorID, events.EventPayload{
		"number":     mo.Number,
		"product_id": mo.ProductID,
		"quantity":   mo.Quantity.String(),
		"source":     mo.Source,
	}); err != nil {
		return domain.ManufacturingOrder{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.ManufacturingOrder{}, err
	}
	e.log().Info("mo.created", zap.String("mo", mo.Number), zap.String("product", mo.ProductID), zap.String("quantity", mo.Quantity.String()))
	return mo, nil
}

func (e Engine) ConfirmManufacturingOrder(ctx context.Context, moID, actorID string) (domain.ManufacturingOrder, error) {
	head, err := e.Repo.GetManufacturingOrder(ctx, moID)
	if err != nil {
		return domain.ManufacturingOrder{}, refError(err, CodeMONotFound, "manufacturing order", moID)
	}
	unlock := e.lock(moKey(head.ID))
	defer unlock()

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.ManufacturingOrder{}, err
	}
	defer tx.Rollback()

	mo, err := e.Repo.GetManufacturingOrderTx(ctx, tx, head.ID)
	if err != nil {
		return domain.ManufacturingOrder{}, refError(err, CodeMONotFound, "manufacturing order", moID)
	}
	if mo.Status != domain.MODraft {
		return domain.ManufacturingOrder{}, newError(CodeInvalidTransition, "cannot confirm manufacturing order %s in status %s", mo.Number, mo.Status).
			with("from", string(mo.Status)).with("event", "confirm")
	}
	prev := mo.Version
	mo.Status = domain.MOConfirmed
	mo.Version++
	mo.UpdatedAt = e.ts()
	if err := e.Repo.UpdateManufacturingOrder(ctx, tx, mo, prev); err != nil {
		return domain.ManufacturingOrder{}, conflictError(err, "manufacturing order", mo.Number)
	}
	if err := e.appendEvent(ctx, tx, events.MOConfirmed, "manufacturing_order", mo.ID, actorID, events.EventPayload{"number": mo.Number}); err != nil {
		return domain.ManufacturingOrder{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.ManufacturingOrder{}, err
	}
	e.log().Info("mo.confirmed", zap.String("mo", mo.Number), zap.String("actor", actorID))
	return mo, nil
}

// CancelManufacturingOrder cancels the MO and every draft or scheduled work order under it.
// It is refused while any work order is in progress or paused.
func (e Engine) CancelManufacturingOrder(ctx context.Context, moID, actorID string) (domain.ManufacturingOrder, error) {
	head, err := e.Repo.GetManufacturingOrder(ctx, moID)
	if err != nil {
		return domain.ManufacturingOrder{}, refError(err, CodeMONotFound, "manufacturing order", moID)
	}
	existing, err := e.Repo.ListWorkOrders(ctx, repo.WOFilters{MOID: head.ID})
	if err != nil {
		return domain.ManufacturingOrder{}, err
	}
	keys := make([]string, 0, len(existing)+1)
	for _, wo := range existing {
		keys = append(keys, woKey(wo.ID))
	}
	keys = append(keys, moKey(head.ID))
	unlock := e.lock(keys...)
	defer unlock()

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.ManufacturingOrder{}, err
	}
	defer tx.Rollback()

	mo, err := e.Repo.GetManufacturingOrderTx(ctx, tx, head.ID)
	if err != nil {
		return domain.ManufacturingOrder{}, refError(err, CodeMONotFound, "manufacturing order", moID)
	}
	if mo.Status == domain.MOCompleted || mo.Status == domain.MOCancelled {
		return domain.ManufacturingOrder{}, newError(CodeInvalidTransition, "cannot cancel manufacturing order %s in status %s", mo.Number, mo.Status).
			with("from", string(mo.Status)).with("event", "cancel")
	}
	wos, err := e.Repo.ListWorkOrdersTx(ctx, tx, repo.WOFilters{MOID: mo.ID})
	if err != nil {
		return domain.ManufacturingOrder{}, err
	}
	var active []string
	for _, wo := range wos {
		if wo.Status == domain.WOInProgress || wo.Status == domain.WOPaused {
			active = append(active, wo.Number)
		}
	}
	if len(active) > 0 {
		return domain.ManufacturingOrder{}, newError(CodeInvalidTransition, "manufacturing order %s has work orders in progress", mo.Number).
			with("work_orders", active)
	}

	now := e.ts()
	var cancelled []string
	for _, wo := range wos {
		if wo.Status != domain.WODraft && wo.Status != domain.WOScheduled {
			continue
		}
		from := wo.Status
		prev := wo.Version
		wo.Status = domain.WOCancelled
		wo.CancelledAt = &now
		wo.Version++
		wo.UpdatedAt = now
		if err := e.Repo.UpdateWorkOrder(ctx, tx, wo, prev); err != nil {
			return domain.ManufacturingOrder{}, conflictError(err, "work order", wo.Number)
		}
		if err := e.recordTransition(ctx, tx, wo, from, domain.EventCancel, actorID); err != nil {
			return domain.ManufacturingOrder{}, err
		}
		mo.ScheduledQuantity = mo.ScheduledQuantity.Sub(wo.Quantity)
		cancelled = append(cancelled, wo.Number)
	}
	if mo.ScheduledQuantity.IsNegative() {
		mo.ScheduledQuantity = decimal.Zero
	}
	prev := mo.Version
	mo.Status = domain.MOCancelled
	mo.Version++
	mo.UpdatedAt = now
	if err := e.Repo.UpdateManufacturingOrder(ctx, tx, mo, prev); err != nil {
		return domain.ManufacturingOrder{}, conflictError(err, "manufacturing order", mo.Number)
	}
	if err := e.appendEvent(ctx, tx, events.MOCancelled, "manufacturing_order", mo.ID, actorID, events.EventPayload{
		"number":      mo.Number,
		"work_orders": cancelled,
	}); err != nil {
		return domain.ManufacturingOrder{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.ManufacturingOrder{}, err
	}
	e.log().Info("mo.cancelled", zap.String("mo", mo.Number), zap.Int("work_orders", len(cancelled)), zap.String("actor", actorID))
	return mo, nil
}
