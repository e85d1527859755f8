package shoplinesdk

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"shopline/internal/catalog"
	"shopline/internal/config"
	"shopline/internal/db"
	"shopline/internal/engine"
	"shopline/internal/migrate"
	"shopline/internal/server"
	"shopline/internal/subcontract"
)

func newServer(t *testing.T) *httptest.Server {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	cat := catalog.NewMemory()
	cat.PutWorkCenter(catalog.WorkCenter{ID: "WC-PAINT"})
	cat.PutRouting("R-1", catalog.RoutingOperation{Sequence: 10, OperationID: "OP-PAINT", WorkCenterID: "WC-PAINT"})
	cat.PutBOM(catalog.BOMHeader{ID: "B-1", BaseQuantity: decimal.NewFromInt(1)},
		catalog.BOMLine{MaterialID: "M-1", Quantity: decimal.NewFromInt(3)},
	)
	e := engine.New(conn, config.Default("plant-1"), cat)
	e.Subcontract = subcontract.NewOutbox(e.Repo)
	h, err := server.New(server.Config{Engine: e, Auth: server.AuthConfig{JWTSecret: "sdk-secret"}})
	if err != nil {
		t.Fatalf("server: %v", err)
	}
	srv := httptest.NewServer(h)
	t.Cleanup(func() {
		srv.Close()
		conn.Close()
	})
	return srv
}

func TestClientFlow(t *testing.T) {
	srv := newServer(t)
	token, err := server.SignToken("sdk-secret", "sdk-user", []string{server.PermWrite}, time.Hour)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	c := New(srv.URL, token)
	ctx := context.Background()

	mo, err := c.CreateManufacturingOrder(ctx, CreateMORequest{ProductID: "P-1", Quantity: "5", BOMID: "B-1", RoutingID: "R-1"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if mo, err = c.ConfirmManufacturingOrder(ctx, mo.ID); err != nil || mo.Status != "confirmed" {
		t.Fatalf("confirm: %+v %v", mo, err)
	}
	wos, err := c.GenerateWorkOrders(ctx, mo.Number, GenerateRequest{Quantity: "5"})
	if err != nil || len(wos) != 1 {
		t.Fatalf("generate: %+v %v", wos, err)
	}
	wo, err := c.Transition(ctx, wos[0].ID, "start")
	if err != nil || wo.Status != "in_progress" {
		t.Fatalf("start: %+v %v", wo, err)
	}
	order, err := c.IssueOrderForWorkOrder(ctx, wo.ID)
	if err != nil || len(order.Items) != 1 || order.Items[0].RequiredQuantity != "15" {
		t.Fatalf("issue order: %+v %v", order, err)
	}

	_, err = c.IssueItem(ctx, order.ID, order.Items[0].ID, "16")
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusUnprocessableEntity || apiErr.Code != "OVER_ISSUE" {
		t.Fatalf("expected OVER_ISSUE, got %v", err)
	}
	if order, err = c.IssueItem(ctx, order.ID, order.Items[0].ID, "15"); err != nil || order.Status != "completed" {
		t.Fatalf("issue: %+v %v", order, err)
	}

	h, err := c.CreateSubcontractOrder(ctx, wo.ID)
	if err != nil || h.Channel != "outbox" {
		t.Fatalf("handoff: %+v %v", h, err)
	}
	events, err := c.Events(ctx, 3)
	if err != nil || len(events) != 3 || events[0].Type != "subcontract.handoff" {
		t.Fatalf("events: %+v %v", events, err)
	}
}

func TestClientAuthErrors(t *testing.T) {
	srv := newServer(t)
	c := New(srv.URL, "")
	_, err := c.GetWorkOrder(context.Background(), "WO-000001")
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusUnauthorized || apiErr.Code != "unauthorized" {
		t.Fatalf("expected 401, got %v", err)
	}

	token, _ := server.SignToken("sdk-secret", "viewer", []string{server.PermRead}, time.Hour)
	c.BearerToken = token
	_, err = c.CancelWorkOrder(context.Background(), "WO-000001")
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403, got %v", err)
	}
	_, err = c.GetWorkOrder(context.Background(), "WO-000001")
	if !errors.As(err, &apiErr) || apiErr.Code != "WORK_ORDER_NOT_FOUND" {
		t.Fatalf("expected WORK_ORDER_NOT_FOUND, got %v", err)
	}
}

func TestAPIErrorWithoutEnvelope(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/work-orders/x" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		http.Error(w, "boom", http.StatusBadGateway)
	}))
	defer srv.Close()
	_, err := New(srv.URL+"/", "").GetWorkOrder(context.Background(), "x")
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusBadGateway || apiErr.Code != "" {
		t.Fatalf("unexpected error %v", err)
	}
}
