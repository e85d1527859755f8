package subcontract

import (
	"context"
	"database/sql"
	"encoding/json"

	"shopline/internal/domain"
	"shopline/internal/repo"
)

// Outbox parks hand-offs in the subcontract_handoffs table for a downstream consumer.
// The request id doubles as the reference.
type Outbox struct {
	Repo repo.Repo
}

func NewOutbox(r repo.Repo) Outbox {
	return Outbox{Repo: r}
}

func (o Outbox) Channel() string { return "outbox" }

func (o Outbox) Handoff(ctx context.Context, req domain.SubcontractRequest) (string, error) {
	return o.HandoffTx(ctx, nil, req)
}

// HandoffTx parks the request on tx so the row commits with the engine's hand-off event.
func (o Outbox) HandoffTx(ctx context.Context, tx *sql.Tx, req domain.SubcontractRequest) (string, error) {
	data, err := json.Marshal(req)
	if err != nil {
		return "", err
	}
	if err := o.Repo.InsertHandoff(ctx, tx, repo.HandoffRecord{
		ID:        req.ID,
		Reference: req.ID,
		Payload:   string(data),
		Status:    "pending",
		CreatedAt: req.RequestedAt,
	}); err != nil {
		return "", err
	}
	return req.ID, nil
}

// Pending decodes the outbox rows not yet acknowledged.
func (o Outbox) Pending(ctx context.Context, limit int) ([]domain.SubcontractRequest, error) {
	rows, err := o.Repo.ListHandoffs(ctx, "pending", limit)
	if err != nil {
		return nil, err
	}
	res := make([]domain.SubcontractRequest, 0, len(rows))
	for _, row := range rows {
		var req domain.SubcontractRequest
		if err := json.Unmarshal([]byte(row.Payload), &req); err != nil {
			return nil, err
		}
		res = append(res, req)
	}
	return res, nil
}

func (o Outbox) Ack(ctx context.Context, reference string) error {
	return o.Repo.MarkHandoff(ctx, reference, "delivered")
}
