// Package catalog holds the read-only master data the scheduling core consumes:
// routings, bills of materials and the work-center directory.
package catalog

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
)

var ErrNotFound = errors.New("not found")

type RoutingOperation struct {
	Sequence          int             `json:"sequence"`
	OperationID       string          `json:"operation_id"`
	WorkCenterID      string          `json:"workcenter_id,omitempty"`
	StandardCycleTime decimal.Decimal `json:"standard_cycle_time"`
}

type BOMHeader struct {
	ID           string          `json:"id"`
	ProductID    string          `json:"product_id,omitempty"`
	BaseQuantity decimal.Decimal `json:"base_quantity"`
}

type BOMLine struct {
	LineNo     int             `json:"line_no"`
	MaterialID string          `json:"material_id"`
	UnitID     string          `json:"unit_id,omitempty"`
	Quantity   decimal.Decimal `json:"quantity"`
}

type WorkCenter struct {
	ID        string `json:"id"`
	Name      string `json:"name,omitempty"`
	ManagerID string `json:"manager_id,omitempty"`
	InHouse   bool   `json:"in_house"`
}

// RoutingLookup returns a routing's operations sorted by ascending sequence.
type RoutingLookup interface {
	GetOperations(ctx context.Context, routingID string) ([]RoutingOperation, error)
}

type BOMLookup interface {
	GetBomHeader(ctx context.Context, bomID string) (BOMHeader, error)
	GetBomLines(ctx context.Context, bomID string) ([]BOMLine, error)
}

type WorkCenterDirectory interface {
	GetWorkCenter(ctx context.Context, id string) (WorkCenter, error)
}

// Catalog bundles all three lookups.
type Catalog interface {
	RoutingLookup
	BOMLookup
	WorkCenterDirectory
}
