package server

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	"github.com/shopspring/decimal"

	"shopline/internal/domain"
	"shopline/internal/engine"
	"shopline/internal/repo"
)

type moPath struct {
	ID string `path:"id" doc:"MO id or number"`
}

func registerManufacturingOrders(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-manufacturing-order",
		Method:        http.MethodPost,
		Path:          "/manufacturing-orders",
		Summary:       "Create manufacturing order",
		DefaultStatus: http.StatusCreated,
		Errors:        mutationErrors,
	}, func(ctx context.Context, input *struct {
		Body CreateMORequest
	}) (*output[MOResponse], error) {
		actorID, authErr := requirePermission(ctx, PermWrite)
		if authErr != nil {
			return nil, authErr
		}
		qty, err := parseQuantity("quantity", input.Body.Quantity)
		if err != nil {
			return nil, err
		}
		mo, err := e.CreateManufacturingOrder(ctx, engine.MOCreateOptions{
			ProductID:     strings.TrimSpace(input.Body.ProductID),
			Quantity:      qty,
			UnitID:        input.Body.UnitID,
			BOMID:         input.Body.BOMID,
			RoutingID:     input.Body.RoutingID,
			DueDate:       input.Body.DueDate,
			PlannedStart:  input.Body.PlannedStart,
			PlannedFinish: input.Body.PlannedFinish,
			Source:        domain.MOSource(input.Body.Source),
			SourceRef:     input.Body.SourceRef,
			ActorID:       actorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return ok(moResponse(mo)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-manufacturing-orders",
		Method:      http.MethodGet,
		Path:        "/manufacturing-orders",
		Summary:     "List manufacturing orders",
		Errors:      []int{http.StatusUnauthorized, http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		Status    string `query:"status"`
		ProductID string `query:"product_id"`
		Limit     int    `query:"limit" default:"50"`
	}) (*output[[]MOResponse], error) {
		if _, err := requirePermission(ctx, PermRead); err != nil {
			return nil, err
		}
		items, err := e.Repo.ListManufacturingOrders(ctx, repo.MOFilters{
			Status:    input.Status,
			ProductID: input.ProductID,
			Limit:     normalizeLimit(input.Limit),
		})
		if err != nil {
			return nil, handleError(err)
		}
		return ok(mapMOs(items)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-manufacturing-order",
		Method:      http.MethodGet,
		Path:        "/manufacturing-orders/{id}",
		Summary:     "Get manufacturing order",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *moPath) (*output[MOResponse], error) {
		if _, err := requirePermission(ctx, PermRead); err != nil {
			return nil, err
		}
		mo, err := e.Repo.GetManufacturingOrder(ctx, input.ID)
		if err != nil {
			return nil, handleError(notFound(err, engine.CodeMONotFound, "manufacturing order", input.ID))
		}
		return ok(moResponse(mo)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "confirm-manufacturing-order",
		Method:      http.MethodPost,
		Path:        "/manufacturing-orders/{id}/confirm",
		Summary:     "Confirm manufacturing order",
		Errors:      mutationErrors,
	}, func(ctx context.Context, input *moPath) (*output[MOResponse], error) {
		actorID, authErr := requirePermission(ctx, PermWrite)
		if authErr != nil {
			return nil, authErr
		}
		mo, err := e.ConfirmManufacturingOrder(ctx, input.ID, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return ok(moResponse(mo)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "cancel-manufacturing-order",
		Method:      http.MethodPost,
		Path:        "/manufacturing-orders/{id}/cancel",
		Summary:     "Cancel manufacturing order and its open work orders",
		Errors:      mutationErrors,
	}, func(ctx context.Context, input *moPath) (*output[MOResponse], error) {
		actorID, authErr := requirePermission(ctx, PermWrite)
		if authErr != nil {
			return nil, authErr
		}
		mo, err := e.CancelManufacturingOrder(ctx, input.ID, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return ok(moResponse(mo)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "generate-work-orders",
		Method:        http.MethodPost,
		Path:          "/manufacturing-orders/{id}/work-orders",
		Summary:       "Generate work orders from pending MO quantity",
		DefaultStatus: http.StatusCreated,
		Errors:        mutationErrors,
	}, func(ctx context.Context, input *struct {
		ID   string `path:"id"`
		Body GenerateRequest
	}) (*output[[]WorkOrderResponse], error) {
		actorID, authErr := requirePermission(ctx, PermWrite)
		if authErr != nil {
			return nil, authErr
		}
		qty, err := parseQuantity("quantity", input.Body.Quantity)
		if err != nil {
			return nil, err
		}
		batch := decimal.Zero
		if input.Body.BatchSize != "" {
			if batch, err = parseQuantity("batch_size", input.Body.BatchSize); err != nil {
				return nil, err
			}
		}
		wos, err := e.GenerateWorkOrders(ctx, engine.GenerateOptions{
			MOID:               input.ID,
			Quantity:           qty,
			Assignments:        assignments(input.Body.Assignments),
			PlannedStart:       input.Body.PlannedStart,
			PlannedFinish:      input.Body.PlannedFinish,
			IssuingWarehouseID: input.Body.IssuingWarehouseID,
			SequenceStart:      input.Body.SequenceStart,
			SequenceEnd:        input.Body.SequenceEnd,
			BatchSize:          batch,
			ActorID:            actorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return ok(mapWorkOrders(wos)), nil
	})
}

// notFound maps a repository miss on a read endpoint to the matching reference code.
func notFound(err error, code engine.Code, what, id string) error {
	if errors.Is(err, repo.ErrNotFound) {
		return &engine.Error{Code: code, Message: what + " " + id + " not found", Details: map[string]any{"id": id}}
	}
	return err
}
