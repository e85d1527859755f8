package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"shopline/internal/domain"
	"shopline/internal/events"
	"shopline/internal/repo"
)

// NextStatus is the work order transition table. ok is false for any pair not listed.
func NextStatus(from domain.WOStatus, ev domain.WOEvent) (to domain.WOStatus, ok bool) {
	switch ev {
	case domain.EventSchedule:
		if from == domain.WODraft {
			return domain.WOScheduled, true
		}
	case domain.EventStart:
		if from == domain.WODraft || from == domain.WOScheduled {
			return domain.WOInProgress, true
		}
	case domain.EventPause:
		if from == domain.WOInProgress {
			return domain.WOPaused, true
		}
	case domain.EventResume:
		if from == domain.WOPaused {
			return domain.WOInProgress, true
		}
	case domain.EventCancel:
		if from.Open() {
			return domain.WOCancelled, true
		}
	case domain.EventComplete:
		if from == domain.WOInProgress {
			return domain.WOCompleted, true
		}
	}
	return "", false
}

func touchesMO(ev domain.WOEvent) bool {
	return ev == domain.EventStart || ev == domain.EventCancel || ev == domain.EventComplete
}

// TransitionWorkOrder applies a lifecycle event and its side effects in one transaction.
func (e Engine) TransitionWorkOrder(ctx context.Context, woID string, event domain.WOEvent, actorID string) (domain.WorkOrder, error) {
	head, err := e.Repo.GetWorkOrder(ctx, woID)
	if err != nil {
		return domain.WorkOrder{}, refError(err, CodeWorkOrderNotFound, "work order", woID)
	}
	keys := []string{woKey(head.ID)}
	if touchesMO(event) {
		keys = append(keys, moKey(head.MOID))
	}
	unlock := e.lock(keys...)
	defer unlock()

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.WorkOrder{}, err
	}
	defer tx.Rollback()

	wo, err := e.Repo.GetWorkOrderTx(ctx, tx, head.ID)
	if err != nil {
		return domain.WorkOrder{}, refError(err, CodeWorkOrderNotFound, "work order", woID)
	}
	from := wo.Status
	to, ok := NextStatus(from, event)
	if !ok {
		return domain.WorkOrder{}, newError(CodeInvalidTransition, "cannot %s work order %s in status %s", event, wo.Number, from).
			with("from", string(from)).with("event", string(event))
	}
	now := e.ts()

	switch event {
	case domain.EventSchedule:
		if wo.PlannedStart == "" || wo.PlannedFinish == "" || wo.IssuingWarehouseID == "" {
			return domain.WorkOrder{}, newError(CodeScheduleIncomplete, "work order %s needs planned start, planned finish and issuing warehouse before scheduling", wo.Number)
		}
		if err := checkPlan(wo.PlannedStart, wo.PlannedFinish); err != nil {
			return domain.WorkOrder{}, err
		}
	case domain.EventStart:
		if wo.StartedAt == nil {
			wo.StartedAt = &now
		}
		if err := e.ensureIssueOrder(ctx, tx, wo, actorID); err != nil {
			return domain.WorkOrder{}, err
		}
		if err := e.markMOStarted(ctx, tx, wo.MOID, actorID); err != nil {
			return domain.WorkOrder{}, err
		}
	case domain.EventCancel:
		wo.CancelledAt = &now
		if err := e.releaseQuantity(ctx, tx, wo, actorID); err != nil {
			return domain.WorkOrder{}, err
		}
	case domain.EventComplete:
		wo.CompletedAt = &now
	}

	prev := wo.Version
	wo.Status = to
	wo.Version++
	wo.UpdatedAt = now
	if err := e.Repo.UpdateWorkOrder(ctx, tx, wo, prev); err != nil {
		return domain.WorkOrder{}, conflictError(err, "work order", wo.Number)
	}
	if err := e.recordTransition(ctx, tx, wo, from, event, actorID); err != nil {
		return domain.WorkOrder{}, err
	}
	if event == domain.EventComplete {
		mo, err := e.Repo.GetManufacturingOrderTx(ctx, tx, wo.MOID)
		if err != nil {
			return domain.WorkOrder{}, refError(err, CodeMONotFound, "manufacturing order", wo.MOID)
		}
		if _, err := e.completeMOIfDone(ctx, tx, mo, actorID); err != nil {
			return domain.WorkOrder{}, err
		}
	}
	if err := tx.Commit(); err != nil {
		return domain.WorkOrder{}, err
	}
	e.log().Info("wo.transition",
		zap.String("wo", wo.Number),
		zap.String("event", string(event)),
		zap.String("from", string(from)),
		zap.String("to", string(to)),
		zap.String("actor", actorID))
	return wo, nil
}

// CancelWorkOrder cancels an open work order and gives its quantity back to the MO.
func (e Engine) CancelWorkOrder(ctx context.Context, woID, actorID string) (domain.WorkOrder, error) {
	return e.TransitionWorkOrder(ctx, woID, domain.EventCancel, actorID)
}

func (e Engine) recordTransition(ctx context.Context, tx *sql.Tx, wo domain.WorkOrder, from domain.WOStatus, event domain.WOEvent, actorID string) error {
	if err := e.Repo.InsertTransition(ctx, tx, domain.Transition{
		WorkOrderID: wo.ID,
		Version:     wo.Version,
		From:        from,
		To:          wo.Status,
		Event:       event,
		ActorID:     actorID,
		TS:          wo.UpdatedAt,
	}); err != nil {
		return fmt.Errorf("record transition: %w", err)
	}
	return e.appendEvent(ctx, tx, events.WOTransition, "work_order", wo.ID, actorID, events.EventPayload{
		"number":  wo.Number,
		"from":    from,
		"to":      wo.Status,
		"event":   event,
		"version": wo.Version,
	})
}

func (e Engine) ensureIssueOrder(ctx context.Context, tx *sql.Tx, wo domain.WorkOrder, actorID string) error {
	_, err := e.Repo.GetIssueOrderByWorkOrderTx(ctx, tx, wo.ID)
	if err == nil {
		return nil
	}
	if !errors.Is(err, repo.ErrNotFound) {
		return fmt.Errorf("load issue order for %s: %w", wo.Number, err)
	}
	number, err := e.Repo.NextNumber(ctx, tx, e.cfg().Numbering.MIPrefix)
	if err != nil {
		return err
	}
	now := e.ts()
	order := domain.MaterialIssueOrder{
		ID:          newID(),
		Number:      number,
		WorkOrderID: wo.ID,
		Status:      domain.DeriveIssueStatus(wo.Materials),
		WarehouseID: wo.IssuingWarehouseID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := e.Repo.InsertIssueOrder(ctx, tx, order); err != nil {
		return fmt.Errorf("insert issue order: %w", err)
	}
	return e.appendEvent(ctx, tx, events.IssueOrderCreated, "material_issue_order", order.ID, actorID, events.EventPayload{
		"number":     order.Number,
		"work_order": wo.Number,
		"items":      len(wo.Materials),
	})
}

func (e Engine) markMOStarted(ctx context.Context, tx *sql.Tx, moID, actorID string) error {
	mo, err := e.Repo.GetManufacturingOrderTx(ctx, tx, moID)
	if err != nil {
		return refError(err, CodeMONotFound, "manufacturing order", moID)
	}
	if mo.Status != domain.MOConfirmed {
		return nil
	}
	prev := mo.Version
	mo.Status = domain.MOInProgress
	mo.Version++
	mo.UpdatedAt = e.ts()
	if err := e.Repo.UpdateManufacturingOrder(ctx, tx, mo, prev); err != nil {
		return conflictError(err, "manufacturing order", mo.Number)
	}
	return e.appendEvent(ctx, tx, events.MOStarted, "manufacturing_order", mo.ID, actorID, events.EventPayload{"number": mo.Number})
}

// releaseQuantity gives a cancelled work order's quantity back to its MO.
func (e Engine) releaseQuantity(ctx context.Context, tx *sql.Tx, wo domain.WorkOrder, actorID string) error {
	mo, err := e.Repo.GetManufacturingOrderTx(ctx, tx, wo.MOID)
	if err != nil {
		return refError(err, CodeMONotFound, "manufacturing order", wo.MOID)
	}
	prev := mo.Version
	mo.ScheduledQuantity = mo.ScheduledQuantity.Sub(wo.Quantity)
	if mo.ScheduledQuantity.IsNegative() {
		e.log().Warn("scheduled quantity below zero after cancel",
			zap.String("mo", mo.Number), zap.String("wo", wo.Number), zap.String("scheduled", mo.ScheduledQuantity.String()))
		mo.ScheduledQuantity = decimal.Zero
	}
	mo.Version++
	mo.UpdatedAt = e.ts()
	if err := e.Repo.UpdateManufacturingOrder(ctx, tx, mo, prev); err != nil {
		return conflictError(err, "manufacturing order", mo.Number)
	}
	return nil
}

type PlanUpdate struct {
	PlannedStart       *string
	PlannedFinish      *string
	IssuingWarehouseID *string
	ActorID            string
}

// UpdateWorkOrderPlan edits the planned window and issuing warehouse of a draft or scheduled work order.
func (e Engine) UpdateWorkOrderPlan(ctx context.Context, woID string, upd PlanUpdate) (domain.WorkOrder, error) {
	head, err := e.Repo.GetWorkOrder(ctx, woID)
	if err != nil {
		return domain.WorkOrder{}, refError(err, CodeWorkOrderNotFound, "work order", woID)
	}
	unlock := e.lock(woKey(head.ID))
	defer unlock()

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.WorkOrder{}, err
	}
	defer tx.Rollback()

	wo, err := e.Repo.GetWorkOrderTx(ctx, tx, head.ID)
	if err != nil {
		return domain.WorkOrder{}, refError(err, CodeWorkOrderNotFound, "work order", woID)
	}
	if wo.Status != domain.WODraft && wo.Status != domain.WOScheduled {
		return domain.WorkOrder{}, newError(CodeInvalidTransition, "plan of work order %s cannot change in status %s", wo.Number, wo.Status).
			with("from", string(wo.Status))
	}
	if upd.PlannedStart != nil {
		wo.PlannedStart = *upd.PlannedStart
	}
	if upd.PlannedFinish != nil {
		wo.PlannedFinish = *upd.PlannedFinish
	}
	if upd.IssuingWarehouseID != nil {
		wo.IssuingWarehouseID = *upd.IssuingWarehouseID
	}
	if err := checkPlan(wo.PlannedStart, wo.PlannedFinish); err != nil {
		return domain.WorkOrder{}, err
	}
	if wo.Status == domain.WOScheduled && (wo.PlannedStart == "" || wo.PlannedFinish == "" || wo.IssuingWarehouseID == "") {
		return domain.WorkOrder{}, newError(CodeScheduleIncomplete, "scheduled work order %s must keep planned start, planned finish and issuing warehouse", wo.Number)
	}
	prev := wo.Version
	wo.Version++
	wo.UpdatedAt = e.ts()
	if err := e.Repo.UpdateWorkOrder(ctx, tx, wo, prev); err != nil {
		return domain.WorkOrder{}, conflictError(err, "work order", wo.Number)
	}
	if err := e.appendEvent(ctx, tx, events.WOPlanUpdated, "work_order", wo.ID, upd.ActorID, events.EventPayload{
		"planned_start":        wo.PlannedStart,
		"planned_finish":       wo.PlannedFinish,
		"issuing_warehouse_id": wo.IssuingWarehouseID,
	}); err != nil {
		return domain.WorkOrder{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.WorkOrder{}, err
	}
	e.log().Info("wo.plan_updated", zap.String("wo", wo.Number), zap.String("actor", upd.ActorID))
	return wo, nil
}

// AdvanceOperation moves an in-progress work order to its next routing operation.
func (e Engine) AdvanceOperation(ctx context.Context, woID, actorID string) (domain.WorkOrder, error) {
	head, err := e.Repo.GetWorkOrder(ctx, woID)
	if err != nil {
		return domain.WorkOrder{}, refError(err, CodeWorkOrderNotFound, "work order", woID)
	}
	unlock := e.lock(woKey(head.ID))
	defer unlock()

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.WorkOrder{}, err
	}
	defer tx.Rollback()

	wo, err := e.Repo.GetWorkOrderTx(ctx, tx, head.ID)
	if err != nil {
		return domain.WorkOrder{}, refError(err, CodeWorkOrderNotFound, "work order", woID)
	}
	if wo.Status != domain.WOInProgress {
		return domain.WorkOrder{}, newError(CodeInvalidTransition, "work order %s must be in_progress to advance, is %s", wo.Number, wo.Status).
			with("from", string(wo.Status))
	}
	idx := wo.OperationIndex(wo.Sequence)
	if idx < 0 || idx+1 >= len(wo.Operations) || wo.Sequence >= wo.SequenceEnd {
		return domain.WorkOrder{}, newError(CodeSequenceExhausted, "work order %s is at its last operation", wo.Number).
			with("sequence", wo.Sequence)
	}
	from := wo.Sequence
	prev := wo.Version
	wo.Sequence = wo.Operations[idx+1].Sequence
	wo.Version++
	wo.UpdatedAt = e.ts()
	if err := e.Repo.UpdateWorkOrder(ctx, tx, wo, prev); err != nil {
		return domain.WorkOrder{}, conflictError(err, "work order", wo.Number)
	}
	if err := e.appendEvent(ctx, tx, events.WOAdvanced, "work_order", wo.ID, actorID, events.EventPayload{
		"from_sequence": from,
		"to_sequence":   wo.Sequence,
		"operation_id":  wo.Operations[idx+1].OperationID,
	}); err != nil {
		return domain.WorkOrder{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.WorkOrder{}, err
	}
	e.log().Info("wo.advanced", zap.String("wo", wo.Number), zap.Int("from", from), zap.Int("to", wo.Sequence), zap.String("actor", actorID))
	return wo, nil
}

func (e Engine) WorkOrderHistory(ctx context.Context, woID string) ([]domain.Transition, error) {
	wo, err := e.Repo.GetWorkOrder(ctx, woID)
	if err != nil {
		return nil, refError(err, CodeWorkOrderNotFound, "work order", woID)
	}
	return e.Repo.ListTransitions(ctx, wo.ID)
}
