package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"shopline/internal/domain"
	"shopline/internal/events"
)

// SubcontractWorkflow receives subcontract hand-offs and returns the workflow's reference.
type SubcontractWorkflow interface {
	Handoff(ctx context.Context, req domain.SubcontractRequest) (string, error)
	Channel() string
}

// TxSubcontractWorkflow is a workflow that can write its hand-off on the engine's
// transaction, so the hand-off and its event commit or roll back together.
type TxSubcontractWorkflow interface {
	SubcontractWorkflow
	HandoffTx(ctx context.Context, tx *sql.Tx, req domain.SubcontractRequest) (string, error)
}

func (e Engine) NeedsSubcontracting(ctx context.Context, woID string) (bool, error) {
	wo, err := e.Repo.GetWorkOrder(ctx, woID)
	if err != nil {
		return false, refError(err, CodeWorkOrderNotFound, "work order", woID)
	}
	return wo.NeedsSubcontracting, nil
}

// GenerateSubcontractOrder hands the flagged operations of open work orders to the
// configured workflow and records the hand-off.
func (e Engine) GenerateSubcontractOrder(ctx context.Context, woIDs []string, actorID string) (domain.SubcontractHandoff, error) {
	if len(woIDs) == 0 {
		return domain.SubcontractHandoff{}, newError(CodeInvalidInput, "at least one work order is required")
	}
	if e.Subcontract == nil {
		return domain.SubcontractHandoff{}, errors.New("subcontract workflow not configured")
	}
	req := domain.SubcontractRequest{
		ID:          newID(),
		PlantID:     e.cfg().Plant.ID,
		ActorID:     actorID,
		RequestedAt: e.ts(),
	}
	seen := map[string]bool{}
	var ids, numbers []string
	for _, id := range woIDs {
		wo, err := e.Repo.GetWorkOrder(ctx, id)
		if err != nil {
			return domain.SubcontractHandoff{}, refError(err, CodeWorkOrderNotFound, "work order", id)
		}
		if seen[wo.ID] {
			continue
		}
		seen[wo.ID] = true
		if wo.Status.Terminal() {
			return domain.SubcontractHandoff{}, newError(CodeWorkOrderClosed, "work order %s is %s", wo.Number, wo.Status).
				with("work_order", wo.Number)
		}
		if !wo.NeedsSubcontracting {
			return domain.SubcontractHandoff{}, newError(CodeNotSubcontractable, "work order %s has no subcontracted operations", wo.Number).
				with("work_order", wo.Number)
		}
		mo, err := e.Repo.GetManufacturingOrder(ctx, wo.MOID)
		if err != nil {
			return domain.SubcontractHandoff{}, refError(err, CodeMONotFound, "manufacturing order", wo.MOID)
		}
		sc := domain.SubcontractContext{
			WorkOrderID:     wo.ID,
			WorkOrderNumber: wo.Number,
			MOID:            mo.ID,
			MONumber:        mo.Number,
			ProductID:       mo.ProductID,
			Quantity:        wo.Quantity,
			PlannedStart:    wo.PlannedStart,
			PlannedFinish:   wo.PlannedFinish,
			Materials:       wo.Materials,
		}
		for _, op := range wo.Operations {
			if op.NeedsSubcontracting {
				sc.Operations = append(sc.Operations, op)
			}
		}
		req.WorkOrders = append(req.WorkOrders, sc)
		ids = append(ids, wo.ID)
		numbers = append(numbers, wo.Number)
	}

	// Workflows outside the database are called before the event transaction opens;
	// if the event then fails to commit, the workflow holds a hand-off the log lacks.
	txFlow, inTx := e.Subcontract.(TxSubcontractWorkflow)
	var (
		ref string
		err error
	)
	if !inTx {
		if ref, err = e.Subcontract.Handoff(ctx, req); err != nil {
			return domain.SubcontractHandoff{}, fmt.Errorf("subcontract hand-off via %s: %w", e.Subcontract.Channel(), err)
		}
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.SubcontractHandoff{}, err
	}
	defer tx.Rollback()
	if inTx {
		if ref, err = txFlow.HandoffTx(ctx, tx, req); err != nil {
			return domain.SubcontractHandoff{}, fmt.Errorf("subcontract hand-off via %s: %w", e.Subcontract.Channel(), err)
		}
	}
	h := domain.SubcontractHandoff{
		ID:           req.ID,
		Reference:    ref,
		Channel:      e.Subcontract.Channel(),
		WorkOrderIDs: ids,
		CreatedAt:    req.RequestedAt,
	}
	if err := e.appendEvent(ctx, tx, events.SubcontractHandoff, "subcontract_handoff", h.ID, actorID, events.EventPayload{
		"reference":   h.Reference,
		"channel":     h.Channel,
		"work_orders": numbers,
	}); err != nil {
		return domain.SubcontractHandoff{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.SubcontractHandoff{}, err
	}
	e.log().Info("subcontract.handoff", zap.String("reference", ref), zap.String("channel", h.Channel), zap.Strings("work_orders", numbers))
	return h, nil
}
