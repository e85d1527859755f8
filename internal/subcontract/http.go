package subcontract

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"shopline/internal/config"
	"shopline/internal/domain"
)

const defaultTimeout = 10 * time.Second

// HTTPWorkflow posts hand-offs to an external subcontracting service.
type HTTPWorkflow struct {
	URL     string
	Secret  string
	PlantID string
	Client  *http.Client
	Logger  *zap.Logger
}

func NewHTTPWorkflow(cfg config.SubcontractConfig, plantID string, logger *zap.Logger) *HTTPWorkflow {
	timeout := defaultTimeout
	if cfg.TimeoutSeconds > 0 {
		timeout = time.Duration(cfg.TimeoutSeconds) * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HTTPWorkflow{
		URL:     cfg.URL,
		Secret:  cfg.Secret,
		PlantID: plantID,
		Client:  &http.Client{Timeout: timeout},
		Logger:  logger,
	}
}

func (w *HTTPWorkflow) Channel() string { return "http" }

type handoffResponse struct {
	Reference string `json:"reference"`
}

// Handoff delivers the request and returns the remote reference. A 2xx reply
// without a reference falls back to the request id.
func (w *HTTPWorkflow) Handoff(ctx context.Context, req domain.SubcontractRequest) (string, error) {
	if strings.TrimSpace(w.URL) == "" {
		return "", fmt.Errorf("subcontract url not configured")
	}
	data, err := json.Marshal(req)
	if err != nil {
		return "", err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, w.URL, bytes.NewReader(data))
	if err != nil {
		return "", err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-Shopline-Event", "subcontract.handoff")
	httpReq.Header.Set("X-Shopline-Delivery", req.ID)
	httpReq.Header.Set("X-Shopline-Plant", w.PlantID)
	if strings.TrimSpace(w.Secret) != "" {
		httpReq.Header.Set("X-Shopline-Secret", w.Secret)
	}
	client := w.Client
	if client == nil {
		client = &http.Client{Timeout: defaultTimeout}
	}
	res, err := client.Do(httpReq)
	if err != nil {
		return "", err
	}
	defer res.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(res.Body, 64<<10))
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return "", fmt.Errorf("status %d: %s", res.StatusCode, strings.TrimSpace(string(body)))
	}
	var out handoffResponse
	if len(bytes.TrimSpace(body)) > 0 {
		if err := json.Unmarshal(body, &out); err != nil {
			w.log().Warn("subcontract reply is not json", zap.String("delivery", req.ID), zap.Error(err))
		}
	}
	if out.Reference == "" {
		out.Reference = req.ID
	}
	w.log().Debug("subcontract delivered", zap.String("delivery", req.ID), zap.String("reference", out.Reference))
	return out.Reference, nil
}

func (w *HTTPWorkflow) log() *zap.Logger {
	if w.Logger == nil {
		return zap.NewNop()
	}
	return w.Logger
}
