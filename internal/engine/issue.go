package engine

import (
	"context"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"shopline/internal/domain"
	"shopline/internal/events"
)

// IssueMaterialItem issues quantity against one line of an issue order and recomputes the order status.
func (e Engine) IssueMaterialItem(ctx context.Context, orderID, itemID string, quantity decimal.Decimal, actorID string) (domain.MaterialIssueOrder, error) {
	if !quantity.IsPositive() {
		return domain.MaterialIssueOrder{}, newError(CodeInvalidQuantity, "issue quantity must be positive, got %s", quantity).
			with("quantity", quantity.String())
	}
	head, err := e.Repo.GetIssueOrder(ctx, orderID)
	if err != nil {
		return domain.MaterialIssueOrder{}, refError(err, CodeIssueOrderNotFound, "issue order", orderID)
	}
	unlock := e.lock(woKey(head.WorkOrderID))
	defer unlock()

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.MaterialIssueOrder{}, err
	}
	defer tx.Rollback()

	order, err := e.Repo.GetIssueOrderTx(ctx, tx, head.ID)
	if err != nil {
		return domain.MaterialIssueOrder{}, refError(err, CodeIssueOrderNotFound, "issue order", orderID)
	}
	idx := -1
	for i, it := range order.Items {
		if it.ID == itemID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return domain.MaterialIssueOrder{}, newError(CodeItemNotFound, "item %s is not on issue order %s", itemID, order.Number).
			with("item_id", itemID).with("order", order.Number)
	}
	wo, err := e.Repo.GetWorkOrderTx(ctx, tx, order.WorkOrderID)
	if err != nil {
		return domain.MaterialIssueOrder{}, refError(err, CodeWorkOrderNotFound, "work order", order.WorkOrderID)
	}
	if wo.Status == domain.WOCancelled {
		return domain.MaterialIssueOrder{}, newError(CodeWorkOrderClosed, "work order %s is cancelled", wo.Number).
			with("work_order", wo.Number)
	}

	item := order.Items[idx]
	pending := item.PendingQuantity()
	if quantity.GreaterThan(pending) {
		return domain.MaterialIssueOrder{}, newError(CodeOverIssue, "cannot issue %s of %s; only %s pending", quantity, item.MaterialID, pending).
			with("item_id", item.ID).with("requested", quantity.String()).with("pending", pending.String())
	}
	next := item.IssuedQuantity.Add(quantity)
	if err := e.Repo.SetIssuedQuantity(ctx, tx, item.ID, item.IssuedQuantity, next); err != nil {
		return domain.MaterialIssueOrder{}, conflictError(err, "material line", item.ID)
	}
	order.Items[idx].IssuedQuantity = next

	now := e.ts()
	order.Status = domain.DeriveIssueStatus(order.Items)
	order.UpdatedAt = now
	if err := e.Repo.UpdateIssueOrderStatus(ctx, tx, order.ID, order.Status, now); err != nil {
		return domain.MaterialIssueOrder{}, fmt.Errorf("update issue order %s: %w", order.Number, err)
	}
	entry := domain.MaterialIssue{
		ID:       newID(),
		OrderID:  order.ID,
		LineID:   item.ID,
		Quantity: quantity,
		ActorID:  actorID,
		IssuedAt: now,
	}
	if err := e.Repo.InsertMaterialIssue(ctx, tx, entry); err != nil {
		return domain.MaterialIssueOrder{}, fmt.Errorf("insert material issue: %w", err)
	}
	if err := e.appendEvent(ctx, tx, events.MaterialIssued, "material_issue_order", order.ID, actorID, events.EventPayload{
		"order":       order.Number,
		"work_order":  wo.Number,
		"item_id":     item.ID,
		"material_id": item.MaterialID,
		"quantity":    quantity.String(),
		"issued":      next.String(),
		"status":      order.Status,
	}); err != nil {
		return domain.MaterialIssueOrder{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.MaterialIssueOrder{}, err
	}
	e.log().Info("material.issued",
		zap.String("order", order.Number),
		zap.String("material", item.MaterialID),
		zap.String("quantity", quantity.String()),
		zap.String("status", string(order.Status)),
		zap.String("actor", actorID))
	return order, nil
}

type ItemFailure struct {
	ItemID     string `json:"item_id"`
	MaterialID string `json:"material_id"`
	Code       Code   `json:"code"`
	Message    string `json:"message"`
}

// IssueAllError lists the lines IssueAllMaterial could not issue. Other lines stay issued.
type IssueAllError struct {
	Failures []ItemFailure
	errs     []error
}

func (e *IssueAllError) Error() string {
	parts := make([]string, 0, len(e.Failures))
	for _, f := range e.Failures {
		parts = append(parts, fmt.Sprintf("%s: %s", f.ItemID, f.Message))
	}
	return fmt.Sprintf("%d material lines not issued: %s", len(e.Failures), strings.Join(parts, "; "))
}

func (e *IssueAllError) Unwrap() []error { return e.errs }

// IssueAllMaterial issues every line's full pending quantity, one transaction per line.
// The refreshed order is returned even when some lines fail.
func (e Engine) IssueAllMaterial(ctx context.Context, woID, actorID string) (domain.MaterialIssueOrder, error) {
	wo, err := e.Repo.GetWorkOrder(ctx, woID)
	if err != nil {
		return domain.MaterialIssueOrder{}, refError(err, CodeWorkOrderNotFound, "work order", woID)
	}
	order, err := e.Repo.GetIssueOrderByWorkOrder(ctx, wo.ID)
	if err != nil {
		return domain.MaterialIssueOrder{}, refError(err, CodeIssueOrderNotFound, "issue order for work order", wo.Number)
	}
	var failed IssueAllError
	for _, it := range order.Items {
		pending := it.PendingQuantity()
		if !pending.IsPositive() {
			continue
		}
		if _, err := e.IssueMaterialItem(ctx, order.ID, it.ID, pending, actorID); err != nil {
			f := ItemFailure{ItemID: it.ID, MaterialID: it.MaterialID, Code: CodeOf(err), Message: err.Error()}
			failed.Failures = append(failed.Failures, f)
			failed.errs = append(failed.errs, err)
		}
	}
	refreshed, err := e.Repo.GetIssueOrder(ctx, order.ID)
	if err != nil {
		return domain.MaterialIssueOrder{}, fmt.Errorf("reload issue order %s: %w", order.Number, err)
	}
	if len(failed.Failures) > 0 {
		e.log().Warn("material.issue_all_partial", zap.String("order", order.Number), zap.Int("failed", len(failed.Failures)))
		return refreshed, &failed
	}
	return refreshed, nil
}
