package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// Event types written by the engine.
const (
	MOCreated          = "mo.created"
	MOConfirmed        = "mo.confirmed"
	MOStarted          = "mo.started"
	MOCompleted        = "mo.completed"
	MOCancelled        = "mo.cancelled"
	WOGenerated        = "wo.generated"
	WOTransition       = "wo.transition"
	WOPlanUpdated      = "wo.plan_updated"
	WOAdvanced         = "wo.operation_advanced"
	IssueOrderCreated  = "issue_order.created"
	MaterialIssued     = "material.issued"
	SubcontractHandoff = "subcontract.handoff"
)

type Writer struct {
	Now func() time.Time
}

type EventPayload map[string]any

// Append writes one event row inside tx so it commits or rolls back with the change it describes.
func (w Writer) Append(ctx context.Context, tx *sql.Tx, evtType, entityKind, entityID, actorID string, payload EventPayload) error {
	if w.Now == nil {
		w.Now = time.Now
	}
	ts := w.Now().UTC().Format(time.RFC3339)
	if payload == nil {
		payload = EventPayload{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO events(ts,type,entity_kind,entity_id,actor_id,payload_json) VALUES (?,?,?,?,?,?)`,
		ts, evtType, entityKind, nullable(entityID), actorID, string(data))
	if err != nil {
		return fmt.Errorf("append event %s: %w", evtType, err)
	}
	return nil
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
