package server

import (
	"context"
	"errors"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"shopline/internal/domain"
	"shopline/internal/engine"
	"shopline/internal/repo"
)

type woPath struct {
	ID string `path:"id" doc:"work order id or number"`
}

func registerWorkOrders(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-work-orders",
		Method:      http.MethodGet,
		Path:        "/work-orders",
		Summary:     "List work orders",
		Errors:      []int{http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		MOID                string `query:"mo_id"`
		Status              string `query:"status"`
		NeedsSubcontracting string `query:"needs_subcontracting" doc:"true or false"`
		Limit               int    `query:"limit" default:"50"`
	}) (*output[[]WorkOrderResponse], error) {
		if _, err := requirePermission(ctx, PermRead); err != nil {
			return nil, err
		}
		f := repo.WOFilters{Status: input.Status, Limit: normalizeLimit(input.Limit)}
		if input.MOID != "" {
			mo, err := e.Repo.GetManufacturingOrder(ctx, input.MOID)
			if err != nil {
				return nil, handleError(notFound(err, engine.CodeMONotFound, "manufacturing order", input.MOID))
			}
			f.MOID = mo.ID
		}
		switch input.NeedsSubcontracting {
		case "true":
			v := true
			f.NeedsSubcontracting = &v
		case "false":
			v := false
			f.NeedsSubcontracting = &v
		}
		items, err := e.Repo.ListWorkOrders(ctx, f)
		if err != nil {
			return nil, handleError(err)
		}
		return ok(mapWorkOrders(items)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-work-order",
		Method:      http.MethodGet,
		Path:        "/work-orders/{id}",
		Summary:     "Get work order with operations and material lines",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *woPath) (*output[WorkOrderResponse], error) {
		if _, err := requirePermission(ctx, PermRead); err != nil {
			return nil, err
		}
		wo, err := e.Repo.GetWorkOrder(ctx, input.ID)
		if err != nil {
			return nil, handleError(notFound(err, engine.CodeWorkOrderNotFound, "work order", input.ID))
		}
		return ok(workOrderResponse(wo)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "transition-work-order",
		Method:      http.MethodPost,
		Path:        "/work-orders/{id}/transitions",
		Summary:     "Apply a lifecycle event",
		Errors:      mutationErrors,
	}, func(ctx context.Context, input *struct {
		ID   string `path:"id"`
		Body TransitionRequest
	}) (*output[WorkOrderResponse], error) {
		actorID, authErr := requirePermission(ctx, PermWrite)
		if authErr != nil {
			return nil, authErr
		}
		wo, err := e.TransitionWorkOrder(ctx, input.ID, domain.WOEvent(input.Body.Event), actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return ok(workOrderResponse(wo)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "cancel-work-order",
		Method:      http.MethodPost,
		Path:        "/work-orders/{id}/cancel",
		Summary:     "Cancel work order and release its MO quantity",
		Errors:      mutationErrors,
	}, func(ctx context.Context, input *woPath) (*output[WorkOrderResponse], error) {
		actorID, authErr := requirePermission(ctx, PermWrite)
		if authErr != nil {
			return nil, authErr
		}
		wo, err := e.CancelWorkOrder(ctx, input.ID, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return ok(workOrderResponse(wo)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-work-order-plan",
		Method:      http.MethodPut,
		Path:        "/work-orders/{id}/plan",
		Summary:     "Set planned window and issuing warehouse",
		Errors:      mutationErrors,
	}, func(ctx context.Context, input *struct {
		ID   string `path:"id"`
		Body PlanRequest
	}) (*output[WorkOrderResponse], error) {
		actorID, authErr := requirePermission(ctx, PermWrite)
		if authErr != nil {
			return nil, authErr
		}
		wo, err := e.UpdateWorkOrderPlan(ctx, input.ID, engine.PlanUpdate{
			PlannedStart:       input.Body.PlannedStart,
			PlannedFinish:      input.Body.PlannedFinish,
			IssuingWarehouseID: input.Body.IssuingWarehouseID,
			ActorID:            actorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return ok(workOrderResponse(wo)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "advance-work-order",
		Method:      http.MethodPost,
		Path:        "/work-orders/{id}/advance",
		Summary:     "Move to the next routing operation",
		Errors:      mutationErrors,
	}, func(ctx context.Context, input *woPath) (*output[WorkOrderResponse], error) {
		actorID, authErr := requirePermission(ctx, PermWrite)
		if authErr != nil {
			return nil, authErr
		}
		wo, err := e.AdvanceOperation(ctx, input.ID, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return ok(workOrderResponse(wo)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "work-order-history",
		Method:      http.MethodGet,
		Path:        "/work-orders/{id}/history",
		Summary:     "Transition records in version order",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *woPath) (*output[[]TransitionResponse], error) {
		if _, err := requirePermission(ctx, PermRead); err != nil {
			return nil, err
		}
		items, err := e.WorkOrderHistory(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return ok(transitionResponses(items)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "work-order-subcontracting",
		Method:      http.MethodGet,
		Path:        "/work-orders/{id}/subcontracting",
		Summary:     "Whether the work order has subcontracted operations",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *woPath) (*output[SubcontractCheckResponse], error) {
		if _, err := requirePermission(ctx, PermRead); err != nil {
			return nil, err
		}
		needs, err := e.NeedsSubcontracting(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return ok(SubcontractCheckResponse{WorkOrderID: input.ID, NeedsSubcontracting: needs}), nil
	})
}

func registerIssues(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "issue-all-material",
		Method:      http.MethodPost,
		Path:        "/work-orders/{id}/issue-all",
		Summary:     "Issue every pending material line of a work order",
		Description: "Lines that fail are listed under failures; the others stay issued.",
		Errors:      mutationErrors,
	}, func(ctx context.Context, input *woPath) (*output[IssueAllResponse], error) {
		actorID, authErr := requirePermission(ctx, PermWrite)
		if authErr != nil {
			return nil, authErr
		}
		order, err := e.IssueAllMaterial(ctx, input.ID, actorID)
		var partial *engine.IssueAllError
		if errors.As(err, &partial) {
			return ok(IssueAllResponse{Order: issueOrderResponse(order), Failures: itemFailures(partial.Failures)}), nil
		}
		if err != nil {
			return nil, handleError(err)
		}
		return ok(IssueAllResponse{Order: issueOrderResponse(order), Failures: []ItemFailureResponse{}}), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "work-order-issue-order",
		Method:      http.MethodGet,
		Path:        "/work-orders/{id}/issue-order",
		Summary:     "Material issue order of a work order",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *woPath) (*output[IssueOrderResponse], error) {
		if _, err := requirePermission(ctx, PermRead); err != nil {
			return nil, err
		}
		wo, err := e.Repo.GetWorkOrder(ctx, input.ID)
		if err != nil {
			return nil, handleError(notFound(err, engine.CodeWorkOrderNotFound, "work order", input.ID))
		}
		order, err := e.Repo.GetIssueOrderByWorkOrder(ctx, wo.ID)
		if err != nil {
			return nil, handleError(notFound(err, engine.CodeIssueOrderNotFound, "issue order for work order", wo.Number))
		}
		return ok(issueOrderResponse(order)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-issue-order",
		Method:      http.MethodGet,
		Path:        "/material-issue-orders/{id}",
		Summary:     "Get material issue order",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id" doc:"issue order id or number"`
	}) (*output[IssueOrderResponse], error) {
		if _, err := requirePermission(ctx, PermRead); err != nil {
			return nil, err
		}
		order, err := e.Repo.GetIssueOrder(ctx, input.ID)
		if err != nil {
			return nil, handleError(notFound(err, engine.CodeIssueOrderNotFound, "issue order", input.ID))
		}
		return ok(issueOrderResponse(order)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "issue-material-item",
		Method:      http.MethodPost,
		Path:        "/material-issue-orders/{id}/items/{item_id}/issue",
		Summary:     "Issue quantity against one material line",
		Errors:      mutationErrors,
	}, func(ctx context.Context, input *struct {
		ID     string `path:"id"`
		ItemID string `path:"item_id"`
		Body   IssueRequest
	}) (*output[IssueOrderResponse], error) {
		actorID, authErr := requirePermission(ctx, PermWrite)
		if authErr != nil {
			return nil, authErr
		}
		qty, err := parseQuantity("quantity", input.Body.Quantity)
		if err != nil {
			return nil, err
		}
		order, err := e.IssueMaterialItem(ctx, input.ID, input.ItemID, qty, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return ok(issueOrderResponse(order)), nil
	})
}

func registerSubcontract(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-subcontract-order",
		Method:        http.MethodPost,
		Path:          "/subcontract-orders",
		Summary:       "Hand flagged work orders to the subcontracting workflow",
		DefaultStatus: http.StatusCreated,
		Errors:        mutationErrors,
	}, func(ctx context.Context, input *struct {
		Body SubcontractRequest
	}) (*output[HandoffResponse], error) {
		actorID, authErr := requirePermission(ctx, PermWrite)
		if authErr != nil {
			return nil, authErr
		}
		h, err := e.GenerateSubcontractOrder(ctx, input.Body.WorkOrderIDs, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return ok(handoffResponse(h)), nil
	})
}
