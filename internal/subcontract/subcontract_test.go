package subcontract_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/shopspring/decimal"

	"shopline/internal/config"
	"shopline/internal/db"
	"shopline/internal/domain"
	"shopline/internal/migrate"
	"shopline/internal/repo"
	"shopline/internal/subcontract"
)

func sampleRequest() domain.SubcontractRequest {
	return domain.SubcontractRequest{
		ID:          "req-1",
		PlantID:     "plant-1",
		ActorID:     "planner",
		RequestedAt: "2024-01-01T00:00:00Z",
		WorkOrders: []domain.SubcontractContext{{
			WorkOrderID:     "wo-1",
			WorkOrderNumber: "WO-000001",
			ProductID:       "P-1",
			Quantity:        decimal.RequireFromString("12.5"),
			Operations:      []domain.WorkOrderOperation{{Sequence: 20, OperationID: "OP-PAINT", WorkCenterID: "WC-PAINT", NeedsSubcontracting: true}},
		}},
	}
}

func TestHTTPWorkflowHandoff(t *testing.T) {
	var got domain.SubcontractRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("unexpected method %s", r.Method)
		}
		if r.Header.Get("X-Shopline-Event") != "subcontract.handoff" || r.Header.Get("X-Shopline-Secret") != "s3cret" {
			t.Errorf("missing headers: %v", r.Header)
		}
		if r.Header.Get("X-Shopline-Delivery") != "req-1" || r.Header.Get("X-Shopline-Plant") != "plant-1" {
			t.Errorf("unexpected delivery headers: %v", r.Header)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"reference":"PO-77"}`))
	}))
	defer srv.Close()

	flow := subcontract.NewHTTPWorkflow(config.SubcontractConfig{URL: srv.URL, Secret: "s3cret", TimeoutSeconds: 2}, "plant-1", nil)
	ref, err := flow.Handoff(context.Background(), sampleRequest())
	if err != nil {
		t.Fatalf("handoff: %v", err)
	}
	if ref != "PO-77" || flow.Channel() != "http" {
		t.Fatalf("unexpected reference %s", ref)
	}
	if len(got.WorkOrders) != 1 || !got.WorkOrders[0].Quantity.Equal(decimal.RequireFromString("12.5")) {
		t.Fatalf("unexpected body %+v", got)
	}
}

func TestHTTPWorkflowFallbackAndFailure(t *testing.T) {
	status := http.StatusAccepted
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
		if status >= 300 {
			_, _ = w.Write([]byte("queue full"))
		}
	}))
	defer srv.Close()

	flow := subcontract.NewHTTPWorkflow(config.SubcontractConfig{URL: srv.URL}, "plant-1", nil)
	ref, err := flow.Handoff(context.Background(), sampleRequest())
	if err != nil || ref != "req-1" {
		t.Fatalf("expected request id as reference, got %q %v", ref, err)
	}

	status = http.StatusServiceUnavailable
	_, err = flow.Handoff(context.Background(), sampleRequest())
	if err == nil || !strings.Contains(err.Error(), "503") || !strings.Contains(err.Error(), "queue full") {
		t.Fatalf("expected status error, got %v", err)
	}

	empty := subcontract.NewHTTPWorkflow(config.SubcontractConfig{}, "plant-1", nil)
	if _, err := empty.Handoff(context.Background(), sampleRequest()); err == nil {
		t.Fatal("expected error without url")
	}
}

func TestOutbox(t *testing.T) {
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	ctx := context.Background()
	box := subcontract.NewOutbox(repo.Repo{DB: conn})
	ref, err := box.Handoff(ctx, sampleRequest())
	if err != nil || ref != "req-1" {
		t.Fatalf("handoff: %q %v", ref, err)
	}
	if _, err := box.Handoff(ctx, sampleRequest()); err == nil {
		t.Fatal("duplicate reference must be rejected")
	}
	pending, err := box.Pending(ctx, 10)
	if err != nil || len(pending) != 1 || pending[0].WorkOrders[0].WorkOrderNumber != "WO-000001" {
		t.Fatalf("unexpected pending %+v %v", pending, err)
	}
	if err := box.Ack(ctx, ref); err != nil {
		t.Fatalf("ack: %v", err)
	}
	pending, err = box.Pending(ctx, 10)
	if err != nil || len(pending) != 0 {
		t.Fatalf("expected empty outbox, got %d %v", len(pending), err)
	}
	if err := box.Ack(ctx, "nope"); err != repo.ErrNotFound {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestFromConfig(t *testing.T) {
	cfg := config.Default("plant-1")
	if ch := subcontract.FromConfig(cfg, repo.Repo{}, nil).Channel(); ch != "outbox" {
		t.Fatalf("expected outbox, got %s", ch)
	}
	cfg.Subcontract.URL = "https://example.test/handoff"
	if ch := subcontract.FromConfig(cfg, repo.Repo{}, nil).Channel(); ch != "http" {
		t.Fatalf("expected http, got %s", ch)
	}
}
