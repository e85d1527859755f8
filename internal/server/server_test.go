package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
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
	"shopline/internal/repo"
	"shopline/internal/subcontract"
)

const testSecret = "test-secret"

type testServer struct {
	*httptest.Server
	engine engine.Engine
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	workspace := t.TempDir()
	if _, err := db.EnsureWorkspace(workspace); err != nil {
		t.Fatalf("ensure workspace: %v", err)
	}
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	cat := catalog.NewMemory()
	cat.PutWorkCenter(catalog.WorkCenter{ID: "WC-CUT", ManagerID: "u-anna", InHouse: true})
	cat.PutWorkCenter(catalog.WorkCenter{ID: "WC-PAINT", ManagerID: "u-paul"})
	cat.PutRouting("R-1",
		catalog.RoutingOperation{Sequence: 10, OperationID: "OP-CUT", WorkCenterID: "WC-CUT"},
		catalog.RoutingOperation{Sequence: 20, OperationID: "OP-PAINT", WorkCenterID: "WC-PAINT"},
	)
	cat.PutBOM(catalog.BOMHeader{ID: "B-1", BaseQuantity: decimal.NewFromInt(10)},
		catalog.BOMLine{MaterialID: "M-STEEL", UnitID: "kg", Quantity: decimal.NewFromInt(2)},
	)
	e := engine.New(conn, config.Default("plant-1"), cat)
	e.Subcontract = subcontract.NewOutbox(e.Repo)
	handler, err := New(Config{
		Engine:   e,
		BasePath: "/v1",
		Auth:     AuthConfig{JWTSecret: testSecret, AllowLegacyActorHeader: true, DevLogin: true},
	})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	srv := httptest.NewServer(handler)
	t.Cleanup(func() {
		srv.Close()
		conn.Close()
	})
	return &testServer{Server: srv, engine: e}
}

var planner = map[string]string{"X-Actor-Id": "planner"}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader io.Reader = bytes.NewReader(nil)
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, data
}

func decode[T any](t *testing.T, data []byte) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		t.Fatalf("unmarshal %s: %v", string(data), err)
	}
	return v
}

func expectError(t *testing.T, res *http.Response, data []byte, status int, code string) {
	t.Helper()
	if res.StatusCode != status {
		t.Fatalf("expected %d, got %d: %s", status, res.StatusCode, string(data))
	}
	env := decode[apiError](t, data)
	if env.Body.Code != code {
		t.Fatalf("expected code %s, got %s (%s)", code, env.Body.Code, env.Body.Message)
	}
}

func (s *testServer) confirmedMO(t *testing.T, qty string) MOResponse {
	t.Helper()
	res, data := doJSON(t, s.Client(), http.MethodPost, s.URL+"/v1/manufacturing-orders", map[string]any{
		"product_id": "P-1",
		"quantity":   qty,
		"bom_id":     "B-1",
		"routing_id": "R-1",
	}, planner)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create mo: %d %s", res.StatusCode, string(data))
	}
	mo := decode[MOResponse](t, data)
	res, data = doJSON(t, s.Client(), http.MethodPost, s.URL+"/v1/manufacturing-orders/"+mo.Number+"/confirm", nil, planner)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("confirm mo: %d %s", res.StatusCode, string(data))
	}
	return decode[MOResponse](t, data)
}

func TestWorkOrderFlow(t *testing.T) {
	s := newTestServer(t)
	client := s.Client()
	mo := s.confirmedMO(t, "100")

	res, data := doJSON(t, client, http.MethodPost, s.URL+"/v1/manufacturing-orders/"+mo.ID+"/work-orders", map[string]any{
		"quantity": "40",
	}, planner)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("generate: %d %s", res.StatusCode, string(data))
	}
	wos := decode[[]WorkOrderResponse](t, data)
	if len(wos) != 1 || wos[0].Quantity != "40" || len(wos[0].Materials) != 1 || wos[0].Materials[0].RequiredQuantity != "8" {
		t.Fatalf("unexpected work orders %+v", wos)
	}
	wo := wos[0]
	if !wo.NeedsSubcontracting {
		t.Fatalf("WC-PAINT is external")
	}

	res, data = doJSON(t, client, http.MethodPost, s.URL+"/v1/manufacturing-orders/"+mo.ID+"/work-orders", map[string]any{
		"quantity": "61",
	}, planner)
	expectError(t, res, data, http.StatusUnprocessableEntity, "QUANTITY_EXCEEDS_PENDING")

	res, data = doJSON(t, client, http.MethodPost, s.URL+"/v1/work-orders/"+wo.Number+"/transitions", map[string]any{"event": "start"}, planner)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("start: %d %s", res.StatusCode, string(data))
	}
	if got := decode[WorkOrderResponse](t, data); got.Status != "in_progress" || got.StartedAt == nil {
		t.Fatalf("unexpected started work order %+v", got)
	}

	res, data = doJSON(t, client, http.MethodGet, s.URL+"/v1/work-orders/"+wo.ID+"/issue-order", nil, planner)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("issue order: %d %s", res.StatusCode, string(data))
	}
	order := decode[IssueOrderResponse](t, data)
	item := order.Items[0]

	res, data = doJSON(t, client, http.MethodPost, s.URL+"/v1/material-issue-orders/"+order.ID+"/items/"+item.ID+"/issue", map[string]any{"quantity": "9"}, planner)
	expectError(t, res, data, http.StatusUnprocessableEntity, "OVER_ISSUE")

	res, data = doJSON(t, client, http.MethodPost, s.URL+"/v1/material-issue-orders/"+order.Number+"/items/"+item.ID+"/issue", map[string]any{"quantity": "3"}, planner)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("issue: %d %s", res.StatusCode, string(data))
	}
	if got := decode[IssueOrderResponse](t, data); got.Status != "partial" || got.Items[0].PendingQuantity != "5" {
		t.Fatalf("unexpected order %+v", got)
	}

	res, data = doJSON(t, client, http.MethodPost, s.URL+"/v1/work-orders/"+wo.ID+"/issue-all", nil, planner)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("issue all: %d %s", res.StatusCode, string(data))
	}
	all := decode[IssueAllResponse](t, data)
	if all.Order.Status != "completed" || len(all.Failures) != 0 {
		t.Fatalf("unexpected issue-all result %+v", all)
	}

	res, data = doJSON(t, client, http.MethodPost, s.URL+"/v1/work-orders/"+wo.ID+"/transitions", map[string]any{"event": "complete"}, planner)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("complete: %d %s", res.StatusCode, string(data))
	}
	res, data = doJSON(t, client, http.MethodPost, s.URL+"/v1/work-orders/"+wo.ID+"/transitions", map[string]any{"event": "resume"}, planner)
	expectError(t, res, data, http.StatusConflict, "INVALID_TRANSITION")

	res, data = doJSON(t, client, http.MethodGet, s.URL+"/v1/work-orders/"+wo.ID+"/history", nil, planner)
	if hist := decode[[]TransitionResponse](t, data); res.StatusCode != http.StatusOK || len(hist) != 2 {
		t.Fatalf("history: %d %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodGet, s.URL+"/v1/manufacturing-orders/"+mo.ID, nil, planner)
	got := decode[MOResponse](t, data)
	if got.Status != "in_progress" || got.ScheduledQuantity != "40" || got.PendingQuantity != "60" {
		t.Fatalf("unexpected MO %+v", got)
	}
}

func TestErrorMapping(t *testing.T) {
	s := newTestServer(t)
	client := s.Client()

	res, data := doJSON(t, client, http.MethodGet, s.URL+"/v1/work-orders/WO-999999", nil, planner)
	expectError(t, res, data, http.StatusNotFound, "WORK_ORDER_NOT_FOUND")

	res, data = doJSON(t, client, http.MethodPost, s.URL+"/v1/manufacturing-orders", map[string]any{
		"product_id": "P-1",
		"quantity":   "lots",
	}, planner)
	expectError(t, res, data, http.StatusBadRequest, "INVALID_QUANTITY")

	res, data = doJSON(t, client, http.MethodPost, s.URL+"/v1/manufacturing-orders", map[string]any{
		"product_id": "P-1",
		"quantity":   "5",
		"routing_id": "R-NONE",
	}, planner)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create: %d %s", res.StatusCode, string(data))
	}
	mo := decode[MOResponse](t, data)
	res, data = doJSON(t, client, http.MethodPost, s.URL+"/v1/manufacturing-orders/"+mo.ID+"/work-orders", map[string]any{"quantity": "1"}, planner)
	expectError(t, res, data, http.StatusConflict, "MO_NOT_CONFIRMED")

	doJSON(t, client, http.MethodPost, s.URL+"/v1/manufacturing-orders/"+mo.ID+"/confirm", nil, planner)
	res, data = doJSON(t, client, http.MethodPost, s.URL+"/v1/manufacturing-orders/"+mo.ID+"/work-orders", map[string]any{"quantity": "1"}, planner)
	expectError(t, res, data, http.StatusNotFound, "ROUTING_NOT_FOUND")

	ok := s.confirmedMO(t, "10")
	res, data = doJSON(t, client, http.MethodPost, s.URL+"/v1/manufacturing-orders/"+ok.ID+"/work-orders", map[string]any{
		"quantity":       "1",
		"planned_start":  "2024-03-01",
		"planned_finish": "2024-02-01",
	}, planner)
	expectError(t, res, data, http.StatusBadRequest, "INVALID_PLAN")

	res, data = doJSON(t, client, http.MethodPost, s.URL+"/v1/subcontract-orders", map[string]any{"work_order_ids": []string{}}, planner)
	expectError(t, res, data, http.StatusBadRequest, "INVALID_INPUT")
}

func TestAuth(t *testing.T) {
	s := newTestServer(t)
	client := s.Client()

	res, data := doJSON(t, client, http.MethodGet, s.URL+"/v1/health", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("health must be public: %d %s", res.StatusCode, string(data))
	}
	res, data = doJSON(t, client, http.MethodGet, s.URL+"/v1/manufacturing-orders", nil, nil)
	expectError(t, res, data, http.StatusUnauthorized, "unauthorized")
	res, data = doJSON(t, client, http.MethodGet, s.URL+"/v1/manufacturing-orders", nil, map[string]string{"Authorization": "Bearer nope"})
	expectError(t, res, data, http.StatusUnauthorized, "invalid_credentials")

	reader, err := SignToken(testSecret, "viewer", []string{PermRead}, time.Hour)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	auth := map[string]string{"Authorization": "Bearer " + reader}
	res, data = doJSON(t, client, http.MethodGet, s.URL+"/v1/manufacturing-orders", nil, auth)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("reader list: %d %s", res.StatusCode, string(data))
	}
	res, data = doJSON(t, client, http.MethodPost, s.URL+"/v1/manufacturing-orders", map[string]any{"product_id": "P", "quantity": "1"}, auth)
	expectError(t, res, data, http.StatusForbidden, "forbidden")

	res, data = doJSON(t, client, http.MethodPost, s.URL+"/v1/auth/dev/login", map[string]any{"actor_id": "writer"}, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("dev login: %d %s", res.StatusCode, string(data))
	}
	token := decode[DevLoginResponse](t, data).Token
	res, data = doJSON(t, client, http.MethodPost, s.URL+"/v1/manufacturing-orders", map[string]any{"product_id": "P", "quantity": "1"},
		map[string]string{"Authorization": "Bearer " + token})
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("writer create: %d %s", res.StatusCode, string(data))
	}
	evts, err := s.engine.Repo.ListEvents(context.Background(), repo.EventFilters{Type: "mo.created"})
	if err != nil || len(evts) != 1 || evts[0].ActorID != "writer" {
		t.Fatalf("actor not taken from token: %+v %v", evts, err)
	}
}

func TestSubcontractAndEvents(t *testing.T) {
	s := newTestServer(t)
	client := s.Client()
	mo := s.confirmedMO(t, "10")
	_, data := doJSON(t, client, http.MethodPost, s.URL+"/v1/manufacturing-orders/"+mo.ID+"/work-orders", map[string]any{"quantity": "10"}, planner)
	wo := decode[[]WorkOrderResponse](t, data)[0]

	res, data := doJSON(t, client, http.MethodGet, s.URL+"/v1/work-orders/"+wo.Number+"/subcontracting", nil, planner)
	if check := decode[SubcontractCheckResponse](t, data); res.StatusCode != http.StatusOK || !check.NeedsSubcontracting {
		t.Fatalf("subcontracting check: %d %s", res.StatusCode, string(data))
	}
	res, data = doJSON(t, client, http.MethodPost, s.URL+"/v1/subcontract-orders", map[string]any{"work_order_ids": []string{wo.ID}}, planner)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("subcontract: %d %s", res.StatusCode, string(data))
	}
	h := decode[HandoffResponse](t, data)
	if h.Channel != "outbox" || h.Reference == "" || len(h.WorkOrderIDs) != 1 {
		t.Fatalf("unexpected handoff %+v", h)
	}

	res, data = doJSON(t, client, http.MethodGet, s.URL+"/v1/events?limit=2", nil, planner)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("events: %d %s", res.StatusCode, string(data))
	}
	page := decode[paginatedEvents](t, data)
	if len(page.Items) != 2 || page.NextCursor == "" || page.Items[0].Type != "subcontract.handoff" {
		t.Fatalf("unexpected first page %+v", page)
	}
	res, data = doJSON(t, client, http.MethodGet, s.URL+"/v1/events?limit=2&cursor="+page.NextCursor, nil, planner)
	next := decode[paginatedEvents](t, data)
	if res.StatusCode != http.StatusOK || len(next.Items) == 0 || next.Items[0].ID >= page.Items[1].ID {
		t.Fatalf("cursor must page backwards: %s", string(data))
	}
	res, data = doJSON(t, client, http.MethodGet, s.URL+"/v1/events?cursor=abc", nil, planner)
	expectError(t, res, data, http.StatusBadRequest, "bad_request")
}

func TestOpenAPIServed(t *testing.T) {
	s := newTestServer(t)
	res, data := doJSON(t, s.Client(), http.MethodGet, s.URL+"/v1/openapi.json", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("openapi: %d", res.StatusCode)
	}
	var doc map[string]any
	if err := json.Unmarshal(data, &doc); err != nil {
		t.Fatalf("openapi json: %v", err)
	}
	paths, _ := doc["paths"].(map[string]any)
	if _, ok := paths["/v1/work-orders/{id}/transitions"]; !ok {
		t.Fatalf("missing transitions path in %v", paths)
	}
}
