package server

import (
	"encoding/json"
	"net/http"

	"github.com/shopspring/decimal"

	"shopline/internal/domain"
	"shopline/internal/engine"
)

// Quantities travel as decimal strings so no precision is lost in JSON clients.

// Request payloads

type CreateMORequest struct {
	ProductID     string `json:"product_id"`
	Quantity      string `json:"quantity" example:"100"`
	UnitID        string `json:"unit_id,omitempty"`
	BOMID         string `json:"bom_id,omitempty"`
	RoutingID     string `json:"routing_id,omitempty"`
	DueDate       string `json:"due_date,omitempty"`
	PlannedStart  string `json:"planned_start,omitempty"`
	PlannedFinish string `json:"planned_finish,omitempty"`
	Source        string `json:"source,omitempty" enum:"sales_order,production_plan,manual"`
	SourceRef     string `json:"source_ref,omitempty"`
}

type AssignmentRequest struct {
	OperationID  string `json:"operation_id"`
	WorkCenterID string `json:"workcenter_id,omitempty"`
	OwnerID      string `json:"owner_id,omitempty"`
}

type GenerateRequest struct {
	Quantity           string              `json:"quantity" example:"40"`
	Assignments        []AssignmentRequest `json:"assignments,omitempty"`
	PlannedStart       string              `json:"planned_start,omitempty"`
	PlannedFinish      string              `json:"planned_finish,omitempty"`
	IssuingWarehouseID string              `json:"issuing_warehouse_id,omitempty"`
	SequenceStart      int                 `json:"sequence_start,omitempty"`
	SequenceEnd        int                 `json:"sequence_end,omitempty"`
	BatchSize          string              `json:"batch_size,omitempty"`
}

type TransitionRequest struct {
	Event string `json:"event" doc:"schedule, start, pause, resume, cancel or complete"`
}

type PlanRequest struct {
	PlannedStart       *string `json:"planned_start,omitempty"`
	PlannedFinish      *string `json:"planned_finish,omitempty"`
	IssuingWarehouseID *string `json:"issuing_warehouse_id,omitempty"`
}

type IssueRequest struct {
	Quantity string `json:"quantity" example:"2.5"`
}

type SubcontractRequest struct {
	WorkOrderIDs []string `json:"work_order_ids"`
}

type DevLoginRequest struct {
	ActorID     string   `json:"actor_id"`
	Permissions []string `json:"permissions,omitempty"`
}

// Response payloads

type MOResponse struct {
	ID                string `json:"id"`
	Number            string `json:"number"`
	ProductID         string `json:"product_id"`
	Quantity          string `json:"quantity"`
	ScheduledQuantity string `json:"scheduled_quantity"`
	PendingQuantity   string `json:"pending_quantity"`
	UnitID            string `json:"unit_id,omitempty"`
	BOMID             string `json:"bom_id,omitempty"`
	RoutingID         string `json:"routing_id,omitempty"`
	DueDate           string `json:"due_date,omitempty"`
	PlannedStart      string `json:"planned_start,omitempty"`
	PlannedFinish     string `json:"planned_finish,omitempty"`
	Source            string `json:"source" enum:"sales_order,production_plan,manual"`
	SourceRef         string `json:"source_ref,omitempty"`
	Status            string `json:"status" enum:"draft,confirmed,in_progress,completed,cancelled"`
	Version           int64  `json:"version"`
	CreatedAt         string `json:"created_at" format:"date-time"`
	UpdatedAt         string `json:"updated_at" format:"date-time"`
}

type OperationResponse struct {
	Sequence            int    `json:"sequence"`
	OperationID         string `json:"operation_id"`
	WorkCenterID        string `json:"workcenter_id,omitempty"`
	OwnerID             string `json:"owner_id,omitempty"`
	StandardCycleTime   string `json:"standard_cycle_time"`
	NeedsSubcontracting bool   `json:"needs_subcontracting"`
}

type MaterialLineResponse struct {
	ID               string `json:"id"`
	LineNo           int    `json:"line_no"`
	MaterialID       string `json:"material_id"`
	UnitID           string `json:"unit_id,omitempty"`
	RequiredQuantity string `json:"required_quantity"`
	IssuedQuantity   string `json:"issued_quantity"`
	PendingQuantity  string `json:"pending_quantity"`
	WarehouseID      string `json:"warehouse_id,omitempty"`
}

type WorkOrderResponse struct {
	ID                  string                 `json:"id"`
	Number              string                 `json:"number"`
	MOID                string                 `json:"mo_id"`
	Quantity            string                 `json:"quantity"`
	Status              string                 `json:"status" enum:"draft,scheduled,in_progress,paused,completed,cancelled"`
	SequenceStart       int                    `json:"sequence_start"`
	SequenceEnd         int                    `json:"sequence_end"`
	Sequence            int                    `json:"sequence"`
	Operations          []OperationResponse    `json:"operations,omitempty"`
	Materials           []MaterialLineResponse `json:"materials,omitempty"`
	PlannedStart        string                 `json:"planned_start,omitempty"`
	PlannedFinish       string                 `json:"planned_finish,omitempty"`
	IssuingWarehouseID  string                 `json:"issuing_warehouse_id,omitempty"`
	NeedsSubcontracting bool                   `json:"needs_subcontracting"`
	Version             int64                  `json:"version"`
	CreatedAt           string                 `json:"created_at" format:"date-time"`
	UpdatedAt           string                 `json:"updated_at" format:"date-time"`
	StartedAt           *string                `json:"started_at,omitempty" format:"date-time"`
	CompletedAt         *string                `json:"completed_at,omitempty" format:"date-time"`
	CancelledAt         *string                `json:"cancelled_at,omitempty" format:"date-time"`
}

type IssueOrderResponse struct {
	ID          string                 `json:"id"`
	Number      string                 `json:"number"`
	WorkOrderID string                 `json:"work_order_id"`
	Status      string                 `json:"status" enum:"pending,partial,completed"`
	WarehouseID string                 `json:"warehouse_id,omitempty"`
	Items       []MaterialLineResponse `json:"items"`
	CreatedAt   string                 `json:"created_at" format:"date-time"`
	UpdatedAt   string                 `json:"updated_at" format:"date-time"`
}

type ItemFailureResponse struct {
	ItemID     string `json:"item_id"`
	MaterialID string `json:"material_id"`
	Code       string `json:"code"`
	Message    string `json:"message"`
}

type IssueAllResponse struct {
	Order    IssueOrderResponse    `json:"order"`
	Failures []ItemFailureResponse `json:"failures"`
}

type TransitionResponse struct {
	Version int64  `json:"version"`
	From    string `json:"from"`
	To      string `json:"to"`
	Event   string `json:"event"`
	ActorID string `json:"actor_id"`
	TS      string `json:"ts" format:"date-time"`
}

type SubcontractCheckResponse struct {
	WorkOrderID         string `json:"work_order_id"`
	NeedsSubcontracting bool   `json:"needs_subcontracting"`
}

type HandoffResponse struct {
	ID           string   `json:"id"`
	Reference    string   `json:"reference"`
	Channel      string   `json:"channel"`
	WorkOrderIDs []string `json:"work_order_ids"`
	CreatedAt    string   `json:"created_at" format:"date-time"`
}

type EventResponse struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts" format:"date-time"`
	Type       string         `json:"type"`
	EntityKind string         `json:"entity_kind"`
	EntityID   string         `json:"entity_id,omitempty"`
	ActorID    string         `json:"actor_id"`
	Payload    map[string]any `json:"payload,omitempty"`
}

type paginatedEvents struct {
	Items      []EventResponse `json:"items"`
	NextCursor string          `json:"next_cursor,omitempty"`
}

type DevLoginResponse struct {
	Token string `json:"token"`
}

// Mapping helpers

func moResponse(m domain.ManufacturingOrder) MOResponse {
	return MOResponse{
		ID:                m.ID,
		Number:            m.Number,
		ProductID:         m.ProductID,
		Quantity:          m.Quantity.String(),
		ScheduledQuantity: m.ScheduledQuantity.String(),
		PendingQuantity:   m.PendingQuantity().String(),
		UnitID:            m.UnitID,
		BOMID:             m.BOMID,
		RoutingID:         m.RoutingID,
		DueDate:           m.DueDate,
		PlannedStart:      m.PlannedStart,
		PlannedFinish:     m.PlannedFinish,
		Source:            string(m.Source),
		SourceRef:         m.SourceRef,
		Status:            string(m.Status),
		Version:           m.Version,
		CreatedAt:         m.CreatedAt,
		UpdatedAt:         m.UpdatedAt,
	}
}

func mapMOs(items []domain.ManufacturingOrder) []MOResponse {
	res := make([]MOResponse, 0, len(items))
	for _, m := range items {
		res = append(res, moResponse(m))
	}
	return res
}

func materialLineResponse(l domain.MaterialLine) MaterialLineResponse {
	return MaterialLineResponse{
		ID:               l.ID,
		LineNo:           l.LineNo,
		MaterialID:       l.MaterialID,
		UnitID:           l.UnitID,
		RequiredQuantity: l.RequiredQuantity.String(),
		IssuedQuantity:   l.IssuedQuantity.String(),
		PendingQuantity:  l.PendingQuantity().String(),
		WarehouseID:      l.WarehouseID,
	}
}

func workOrderResponse(w domain.WorkOrder) WorkOrderResponse {
	res := WorkOrderResponse{
		ID:                  w.ID,
		Number:              w.Number,
		MOID:                w.MOID,
		Quantity:            w.Quantity.String(),
		Status:              string(w.Status),
		SequenceStart:       w.SequenceStart,
		SequenceEnd:         w.SequenceEnd,
		Sequence:            w.Sequence,
		PlannedStart:        w.PlannedStart,
		PlannedFinish:       w.PlannedFinish,
		IssuingWarehouseID:  w.IssuingWarehouseID,
		NeedsSubcontracting: w.NeedsSubcontracting,
		Version:             w.Version,
		CreatedAt:           w.CreatedAt,
		UpdatedAt:           w.UpdatedAt,
		StartedAt:           w.StartedAt,
		CompletedAt:         w.CompletedAt,
		CancelledAt:         w.CancelledAt,
	}
	for _, op := range w.Operations {
		res.Operations = append(res.Operations, OperationResponse{
			Sequence:            op.Sequence,
			OperationID:         op.OperationID,
			WorkCenterID:        op.WorkCenterID,
			OwnerID:             op.OwnerID,
			StandardCycleTime:   op.StandardCycleTime.String(),
			NeedsSubcontracting: op.NeedsSubcontracting,
		})
	}
	for _, l := range w.Materials {
		res.Materials = append(res.Materials, materialLineResponse(l))
	}
	return res
}

func mapWorkOrders(items []domain.WorkOrder) []WorkOrderResponse {
	res := make([]WorkOrderResponse, 0, len(items))
	for _, w := range items {
		res = append(res, workOrderResponse(w))
	}
	return res
}

func issueOrderResponse(o domain.MaterialIssueOrder) IssueOrderResponse {
	res := IssueOrderResponse{
		ID:          o.ID,
		Number:      o.Number,
		WorkOrderID: o.WorkOrderID,
		Status:      string(o.Status),
		WarehouseID: o.WarehouseID,
		Items:       make([]MaterialLineResponse, 0, len(o.Items)),
		CreatedAt:   o.CreatedAt,
		UpdatedAt:   o.UpdatedAt,
	}
	for _, it := range o.Items {
		res.Items = append(res.Items, materialLineResponse(it))
	}
	return res
}

func itemFailures(in []engine.ItemFailure) []ItemFailureResponse {
	res := make([]ItemFailureResponse, 0, len(in))
	for _, f := range in {
		res = append(res, ItemFailureResponse{ItemID: f.ItemID, MaterialID: f.MaterialID, Code: string(f.Code), Message: f.Message})
	}
	return res
}

func transitionResponses(items []domain.Transition) []TransitionResponse {
	res := make([]TransitionResponse, 0, len(items))
	for _, t := range items {
		res = append(res, TransitionResponse{
			Version: t.Version,
			From:    string(t.From),
			To:      string(t.To),
			Event:   string(t.Event),
			ActorID: t.ActorID,
			TS:      t.TS,
		})
	}
	return res
}

func handoffResponse(h domain.SubcontractHandoff) HandoffResponse {
	return HandoffResponse{
		ID:           h.ID,
		Reference:    h.Reference,
		Channel:      h.Channel,
		WorkOrderIDs: nonNilSlice(h.WorkOrderIDs),
		CreatedAt:    h.CreatedAt,
	}
}

func eventResponse(e domain.Event) EventResponse {
	return EventResponse{
		ID:         e.ID,
		TS:         e.TS,
		Type:       e.Type,
		EntityKind: e.EntityKind,
		EntityID:   e.EntityID,
		ActorID:    e.ActorID,
		Payload:    decodeJSONMap(e.Payload),
	}
}

func assignments(in []AssignmentRequest) []domain.OperationAssignment {
	if len(in) == 0 {
		return nil
	}
	res := make([]domain.OperationAssignment, 0, len(in))
	for _, a := range in {
		res = append(res, domain.OperationAssignment{OperationID: a.OperationID, WorkCenterID: a.WorkCenterID, OwnerID: a.OwnerID})
	}
	return res
}

// JSON helpers

func parseQuantity(field, raw string) (decimal.Decimal, error) {
	q, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, newAPIError(http.StatusBadRequest, string(engine.CodeInvalidQuantity), field+" must be a decimal number", map[string]any{field: raw})
	}
	return q, nil
}

func decodeJSONMap(raw string) map[string]any {
	if raw == "" {
		return nil
	}
	var obj map[string]any
	if err := json.Unmarshal([]byte(raw), &obj); err != nil {
		return nil
	}
	return obj
}

func nonNilSlice[T any](in []T) []T {
	if in == nil {
		return []T{}
	}
	return in
}
