package domain

import "github.com/shopspring/decimal"

type MOStatus string

const (
	MODraft      MOStatus = "draft"
	MOConfirmed  MOStatus = "confirmed"
	MOInProgress MOStatus = "in_progress"
	MOCompleted  MOStatus = "completed"
	MOCancelled  MOStatus = "cancelled"
)

type MOSource string

const (
	SourceSalesOrder     MOSource = "sales_order"
	SourceProductionPlan MOSource = "production_plan"
	SourceManual         MOSource = "manual"
)

func (s MOSource) Valid() bool {
	switch s {
	case SourceSalesOrder, SourceProductionPlan, SourceManual:
		return true
	}
	return false
}

type WOStatus string

const (
	WODraft      WOStatus = "draft"
	WOScheduled  WOStatus = "scheduled"
	WOInProgress WOStatus = "in_progress"
	WOPaused     WOStatus = "paused"
	WOCompleted  WOStatus = "completed"
	WOCancelled  WOStatus = "cancelled"
)

// WOStatuses lists every work order status in lifecycle order.
var WOStatuses = []WOStatus{WODraft, WOScheduled, WOInProgress, WOPaused, WOCompleted, WOCancelled}

// Open reports whether the status still holds capacity against its MO.
func (s WOStatus) Open() bool {
	switch s {
	case WODraft, WOScheduled, WOInProgress, WOPaused:
		return true
	}
	return false
}

func (s WOStatus) Terminal() bool {
	return s == WOCompleted || s == WOCancelled
}

type WOEvent string

const (
	EventSchedule WOEvent = "schedule"
	EventStart    WOEvent = "start"
	EventPause    WOEvent = "pause"
	EventResume   WOEvent = "resume"
	EventCancel   WOEvent = "cancel"
	EventComplete WOEvent = "complete"
)

var WOEvents = []WOEvent{EventSchedule, EventStart, EventPause, EventResume, EventCancel, EventComplete}

type IssueStatus string

const (
	IssuePending   IssueStatus = "pending"
	IssuePartial   IssueStatus = "partial"
	IssueCompleted IssueStatus = "completed"
)

type ManufacturingOrder struct {
	ID                string          `json:"id"`
	Number            string          `json:"number"`
	ProductID         string          `json:"product_id"`
	Quantity          decimal.Decimal `json:"quantity"`
	UnitID            string          `json:"unit_id,omitempty"`
	BOMID             string          `json:"bom_id,omitempty"`
	RoutingID         string          `json:"routing_id,omitempty"`
	DueDate           string          `json:"due_date,omitempty"`
	PlannedStart      string          `json:"planned_start,omitempty"`
	PlannedFinish     string          `json:"planned_finish,omitempty"`
	Source            MOSource        `json:"source"`
	SourceRef         string          `json:"source_ref,omitempty"`
	Status            MOStatus        `json:"status"`
	ScheduledQuantity decimal.Decimal `json:"scheduled_quantity"`
	Version           int64           `json:"version"`
	CreatedAt         string          `json:"created_at"`
	UpdatedAt         string          `json:"updated_at"`
}

// PendingQuantity is quantity minus scheduled quantity, clamped at zero.
func (m ManufacturingOrder) PendingQuantity() decimal.Decimal {
	p := m.Quantity.Sub(m.ScheduledQuantity)
	if p.IsNegative() {
		return decimal.Zero
	}
	return p
}

type WorkOrderOperation struct {
	Sequence            int             `json:"sequence"`
	OperationID         string          `json:"operation_id"`
	WorkCenterID        string          `json:"workcenter_id,omitempty"`
	OwnerID             string          `json:"owner_id,omitempty"`
	StandardCycleTime   decimal.Decimal `json:"standard_cycle_time"`
	NeedsSubcontracting bool            `json:"needs_subcontracting"`
}

type WorkOrder struct {
	ID                  string               `json:"id"`
	Number              string               `json:"number"`
	MOID                string               `json:"mo_id"`
	Quantity            decimal.Decimal      `json:"quantity"`
	SequenceStart       int                  `json:"sequence_start"`
	SequenceEnd         int                  `json:"sequence_end"`
	Sequence            int                  `json:"sequence"`
	Operations          []WorkOrderOperation `json:"operations"`
	Materials           []MaterialLine       `json:"materials"`
	PlannedStart        string               `json:"planned_start,omitempty"`
	PlannedFinish       string               `json:"planned_finish,omitempty"`
	IssuingWarehouseID  string               `json:"issuing_warehouse_id,omitempty"`
	Status              WOStatus             `json:"status"`
	NeedsSubcontracting bool                 `json:"needs_subcontracting"`
	Version             int64                `json:"version"`
	CreatedAt           string               `json:"created_at"`
	UpdatedAt           string               `json:"updated_at"`
	StartedAt           *string              `json:"started_at,omitempty"`
	CompletedAt         *string              `json:"completed_at,omitempty"`
	CancelledAt         *string              `json:"cancelled_at,omitempty"`
}

// OperationIndex returns the position of the operation with the given sequence, or -1.
func (w WorkOrder) OperationIndex(seq int) int {
	for i, op := range w.Operations {
		if op.Sequence == seq {
			return i
		}
	}
	return -1
}

type MaterialLine struct {
	ID               string          `json:"id"`
	WorkOrderID      string          `json:"work_order_id"`
	LineNo           int             `json:"line_no"`
	MaterialID       string          `json:"material_id"`
	UnitID           string          `json:"unit_id,omitempty"`
	RequiredQuantity decimal.Decimal `json:"required_quantity"`
	IssuedQuantity   decimal.Decimal `json:"issued_quantity"`
	WarehouseID      string          `json:"warehouse_id,omitempty"`
}

func (l MaterialLine) PendingQuantity() decimal.Decimal {
	return l.RequiredQuantity.Sub(l.IssuedQuantity)
}

type MaterialIssueOrder struct {
	ID          string         `json:"id"`
	Number      string         `json:"number"`
	WorkOrderID string         `json:"work_order_id"`
	Status      IssueStatus    `json:"status"`
	WarehouseID string         `json:"warehouse_id,omitempty"`
	Items       []MaterialLine `json:"items"`
	CreatedAt   string         `json:"created_at"`
	UpdatedAt   string         `json:"updated_at"`
}

// Item returns the order line with the given id.
func (o MaterialIssueOrder) Item(id string) (MaterialLine, bool) {
	for _, it := range o.Items {
		if it.ID == id {
			return it, true
		}
	}
	return MaterialLine{}, false
}

type MaterialIssue struct {
	ID       string          `json:"id"`
	OrderID  string          `json:"order_id"`
	LineID   string          `json:"line_id"`
	Quantity decimal.Decimal `json:"quantity"`
	ActorID  string          `json:"actor_id"`
	IssuedAt string          `json:"issued_at"`
}

type Transition struct {
	WorkOrderID string   `json:"work_order_id"`
	Version     int64    `json:"version"`
	From        WOStatus `json:"from"`
	To          WOStatus `json:"to"`
	Event       WOEvent  `json:"event"`
	ActorID     string   `json:"actor_id"`
	TS          string   `json:"ts"`
}

type OperationAssignment struct {
	OperationID  string `json:"operation_id"`
	WorkCenterID string `json:"workcenter_id,omitempty"`
	OwnerID      string `json:"owner_id,omitempty"`
}

// SubcontractContext is the read-only snapshot handed to the subcontracting workflow.
type SubcontractContext struct {
	WorkOrderID     string               `json:"work_order_id"`
	WorkOrderNumber string               `json:"work_order_number"`
	MOID            string               `json:"mo_id"`
	MONumber        string               `json:"mo_number"`
	ProductID       string               `json:"product_id"`
	Quantity        decimal.Decimal      `json:"quantity"`
	PlannedStart    string               `json:"planned_start,omitempty"`
	PlannedFinish   string               `json:"planned_finish,omitempty"`
	Operations      []WorkOrderOperation `json:"operations"`
	Materials       []MaterialLine       `json:"materials"`
}

type SubcontractHandoff struct {
	ID           string   `json:"id"`
	Reference    string   `json:"reference"`
	Channel      string   `json:"channel"`
	WorkOrderIDs []string `json:"work_order_ids"`
	CreatedAt    string   `json:"created_at"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts"`
	Type       string `json:"type"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

// SubcontractRequest is one hand-off of flagged work orders to the subcontracting workflow.
type SubcontractRequest struct {
	ID          string               `json:"id"`
	PlantID     string               `json:"plant_id"`
	ActorID     string               `json:"actor_id"`
	RequestedAt string               `json:"requested_at"`
	WorkOrders  []SubcontractContext `json:"work_orders"`
}
