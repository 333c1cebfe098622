package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"scopeshift/internal/domain"
)

// Event types written to the ledger.
const (
	RunStarted   = "run.started"
	RunSucceeded = "run.succeeded"
	RunFailed    = "run.failed"
	RunDiscarded = "run.discarded"
)

// TypeForStatus maps a finished run status to its event type.
func TypeForStatus(status string) string {
	switch status {
	case domain.RunSucceeded:
		return RunSucceeded
	case domain.RunFailed:
		return RunFailed
	case domain.RunDiscarded:
		return RunDiscarded
	}
	return RunStarted
}

type Writer struct {
	Now func() time.Time
}

type EventPayload map[string]any

func (w Writer) Append(ctx context.Context, tx *sql.Tx, evtType string, stage domain.Stage, runID string, payload EventPayload) (int64, error) {
	now := w.Now
	if now == nil {
		now = time.Now
	}
	ts := now().UTC().Format(time.RFC3339)
	if payload == nil {
		payload = EventPayload{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return 0, fmt.Errorf("marshal event payload: %w", err)
	}
	res, err := tx.ExecContext(ctx, `INSERT INTO events(ts,type,stage,run_id,payload_json) VALUES (?,?,?,?,?)`,
		ts, evtType, string(stage), nullable(runID), string(data))
	if err != nil {
		return 0, fmt.Errorf("insert event: %w", err)
	}
	return res.LastInsertId()
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
