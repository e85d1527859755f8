package shoplinesdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal Shopline HTTP API client.
type Client struct {
	BaseURL     string
	BasePath    string
	BearerToken string
	// ActorID is sent as X-Actor-Id when no token is set; servers accept it only in dev mode.
	ActorID    string
	HTTPClient *http.Client
	Timeout    time.Duration
}

// New creates a client with sane defaults.
func New(baseURL, token string) *Client {
	return &Client{
		BaseURL:     baseURL,
		BasePath:    "/v1",
		BearerToken: token,
		Timeout:     10 * time.Second,
	}
}

// ManufacturingOrder mirrors the API MO model. Quantities are decimal strings.
type ManufacturingOrder struct {
	ID                string `json:"id"`
	Number            string `json:"number"`
	ProductID         string `json:"product_id"`
	Quantity          string `json:"quantity"`
	ScheduledQuantity string `json:"scheduled_quantity"`
	PendingQuantity   string `json:"pending_quantity"`
	BOMID             string `json:"bom_id,omitempty"`
	RoutingID         string `json:"routing_id,omitempty"`
	Status            string `json:"status"`
	Version           int64  `json:"version"`
}

type CreateMORequest struct {
	ProductID     string `json:"product_id"`
	Quantity      string `json:"quantity"`
	UnitID        string `json:"unit_id,omitempty"`
	BOMID         string `json:"bom_id,omitempty"`
	RoutingID     string `json:"routing_id,omitempty"`
	DueDate       string `json:"due_date,omitempty"`
	PlannedStart  string `json:"planned_start,omitempty"`
	PlannedFinish string `json:"planned_finish,omitempty"`
	Source        string `json:"source,omitempty"`
	SourceRef     string `json:"source_ref,omitempty"`
}

type Assignment struct {
	OperationID  string `json:"operation_id"`
	WorkCenterID string `json:"workcenter_id,omitempty"`
	OwnerID      string `json:"owner_id,omitempty"`
}

type GenerateRequest struct {
	Quantity           string       `json:"quantity"`
	Assignments        []Assignment `json:"assignments,omitempty"`
	PlannedStart       string       `json:"planned_start,omitempty"`
	PlannedFinish      string       `json:"planned_finish,omitempty"`
	IssuingWarehouseID string       `json:"issuing_warehouse_id,omitempty"`
	SequenceStart      int          `json:"sequence_start,omitempty"`
	SequenceEnd        int          `json:"sequence_end,omitempty"`
	BatchSize          string       `json:"batch_size,omitempty"`
}

type Operation struct {
	Sequence            int    `json:"sequence"`
	OperationID         string `json:"operation_id"`
	WorkCenterID        string `json:"workcenter_id,omitempty"`
	OwnerID             string `json:"owner_id,omitempty"`
	NeedsSubcontracting bool   `json:"needs_subcontracting"`
}

type MaterialLine struct {
	ID               string `json:"id"`
	LineNo           int    `json:"line_no"`
	MaterialID       string `json:"material_id"`
	UnitID           string `json:"unit_id,omitempty"`
	RequiredQuantity string `json:"required_quantity"`
	IssuedQuantity   string `json:"issued_quantity"`
	PendingQuantity  string `json:"pending_quantity"`
}

type WorkOrder struct {
	ID                  string         `json:"id"`
	Number              string         `json:"number"`
	MOID                string         `json:"mo_id"`
	Quantity            string         `json:"quantity"`
	Status              string         `json:"status"`
	Sequence            int            `json:"sequence"`
	Operations          []Operation    `json:"operations,omitempty"`
	Materials           []MaterialLine `json:"materials,omitempty"`
	PlannedStart        string         `json:"planned_start,omitempty"`
	PlannedFinish       string         `json:"planned_finish,omitempty"`
	IssuingWarehouseID  string         `json:"issuing_warehouse_id,omitempty"`
	NeedsSubcontracting bool           `json:"needs_subcontracting"`
	Version             int64          `json:"version"`
}

type IssueOrder struct {
	ID          string         `json:"id"`
	Number      string         `json:"number"`
	WorkOrderID string         `json:"work_order_id"`
	Status      string         `json:"status"`
	Items       []MaterialLine `json:"items"`
}

type ItemFailure struct {
	ItemID     string `json:"item_id"`
	MaterialID string `json:"material_id"`
	Code       string `json:"code"`
	Message    string `json:"message"`
}

type IssueAllResult struct {
	Order    IssueOrder    `json:"order"`
	Failures []ItemFailure `json:"failures"`
}

type Handoff struct {
	ID           string   `json:"id"`
	Reference    string   `json:"reference"`
	Channel      string   `json:"channel"`
	WorkOrderIDs []string `json:"work_order_ids"`
	CreatedAt    string   `json:"created_at"`
}

// Event represents a log entry.
type Event struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts"`
	Type       string         `json:"type"`
	EntityKind string         `json:"entity_kind"`
	EntityID   string         `json:"entity_id"`
	ActorID    string         `json:"actor_id"`
	Payload    map[string]any `json:"payload"`
}

// PaginatedEvents wraps list responses with cursors.
type PaginatedEvents struct {
	Items      []Event `json:"items"`
	NextCursor string  `json:"next_cursor"`
}

// APIError wraps non-2xx responses. Code carries the server error code (OVER_ISSUE, forbidden, ...).
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Details    map[string]any
	Body       string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api error: status=%d code=%s: %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

func (c *Client) CreateManufacturingOrder(ctx context.Context, req CreateMORequest) (ManufacturingOrder, error) {
	var resp ManufacturingOrder
	err := c.do(ctx, http.MethodPost, "manufacturing-orders", req, &resp)
	return resp, err
}

func (c *Client) GetManufacturingOrder(ctx context.Context, id string) (ManufacturingOrder, error) {
	var resp ManufacturingOrder
	err := c.do(ctx, http.MethodGet, "manufacturing-orders/"+url.PathEscape(id), nil, &resp)
	return resp, err
}

func (c *Client) ConfirmManufacturingOrder(ctx context.Context, id string) (ManufacturingOrder, error) {
	var resp ManufacturingOrder
	err := c.do(ctx, http.MethodPost, "manufacturing-orders/"+url.PathEscape(id)+"/confirm", nil, &resp)
	return resp, err
}

func (c *Client) CancelManufacturingOrder(ctx context.Context, id string) (ManufacturingOrder, error) {
	var resp ManufacturingOrder
	err := c.do(ctx, http.MethodPost, "manufacturing-orders/"+url.PathEscape(id)+"/cancel", nil, &resp)
	return resp, err
}

// GenerateWorkOrders schedules part of an MO's pending quantity.
func (c *Client) GenerateWorkOrders(ctx context.Context, moID string, req GenerateRequest) ([]WorkOrder, error) {
	var resp []WorkOrder
	err := c.do(ctx, http.MethodPost, "manufacturing-orders/"+url.PathEscape(moID)+"/work-orders", req, &resp)
	return resp, err
}

func (c *Client) GetWorkOrder(ctx context.Context, id string) (WorkOrder, error) {
	var resp WorkOrder
	err := c.do(ctx, http.MethodGet, "work-orders/"+url.PathEscape(id), nil, &resp)
	return resp, err
}

// Transition applies schedule, start, pause, resume, cancel or complete.
func (c *Client) Transition(ctx context.Context, woID, event string) (WorkOrder, error) {
	var resp WorkOrder
	err := c.do(ctx, http.MethodPost, "work-orders/"+url.PathEscape(woID)+"/transitions", map[string]string{"event": event}, &resp)
	return resp, err
}

func (c *Client) CancelWorkOrder(ctx context.Context, woID string) (WorkOrder, error) {
	var resp WorkOrder
	err := c.do(ctx, http.MethodPost, "work-orders/"+url.PathEscape(woID)+"/cancel", nil, &resp)
	return resp, err
}

func (c *Client) IssueOrderForWorkOrder(ctx context.Context, woID string) (IssueOrder, error) {
	var resp IssueOrder
	err := c.do(ctx, http.MethodGet, "work-orders/"+url.PathEscape(woID)+"/issue-order", nil, &resp)
	return resp, err
}

func (c *Client) IssueItem(ctx context.Context, orderID, itemID, quantity string) (IssueOrder, error) {
	var resp IssueOrder
	endpoint := fmt.Sprintf("material-issue-orders/%s/items/%s/issue", url.PathEscape(orderID), url.PathEscape(itemID))
	err := c.do(ctx, http.MethodPost, endpoint, map[string]string{"quantity": quantity}, &resp)
	return resp, err
}

// IssueAll issues every pending line. Per-line failures are returned in the result, not as an error.
func (c *Client) IssueAll(ctx context.Context, woID string) (IssueAllResult, error) {
	var resp IssueAllResult
	err := c.do(ctx, http.MethodPost, "work-orders/"+url.PathEscape(woID)+"/issue-all", nil, &resp)
	return resp, err
}

func (c *Client) CreateSubcontractOrder(ctx context.Context, woIDs ...string) (Handoff, error) {
	var resp Handoff
	err := c.do(ctx, http.MethodPost, "subcontract-orders", map[string][]string{"work_order_ids": woIDs}, &resp)
	return resp, err
}

// Events returns recent events.
func (c *Client) Events(ctx context.Context, limit int) ([]Event, error) {
	page, err := c.EventsPage(ctx, limit, "")
	return page.Items, err
}

// EventsPage returns a paginated event listing, newest first.
func (c *Client) EventsPage(ctx context.Context, limit int, cursor string) (PaginatedEvents, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", fmt.Sprint(limit))
	}
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	endpoint := "events"
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	var resp PaginatedEvents
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	target := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, target, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.ActorID != "":
		req.Header.Set("X-Actor-Id", c.ActorID)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(b)}
		var env struct {
			Error struct {
				Code    string         `json:"code"`
				Message string         `json:"message"`
				Details map[string]any `json:"details"`
			} `json:"error"`
		}
		if json.Unmarshal(b, &env) == nil {
			apiErr.Code = env.Error.Code
			apiErr.Message = env.Error.Message
			apiErr.Details = env.Error.Details
		}
		return apiErr
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	base := strings.TrimRight(c.BaseURL, "/")
	if p := strings.Trim(c.BasePath, "/"); p != "" {
		base += "/" + p
	}
	return base
}
