package repo

import (
	"context"
	"database/sql"

	"scopeshift/internal/domain"
	"scopeshift/internal/events"
)

// Ledger records stage runs and their events. It satisfies the engine's
// Recorder.
type Ledger struct {
	Repo   Repo
	Events events.Writer
}

func NewLedger(db *sql.DB) *Ledger {
	return &Ledger{Repo: Repo{DB: db}}
}

func (l *Ledger) RunStarted(ctx context.Context, run domain.Run) error {
	return l.inTx(ctx, func(tx *sql.Tx) error {
		if err := l.Repo.InsertRunTx(ctx, tx, run); err != nil {
			return err
		}
		_, err := l.Events.Append(ctx, tx, events.RunStarted, run.Stage, run.ID, events.EventPayload{
			"scope_version": run.ScopeVersion,
		})
		return err
	})
}

func (l *Ledger) RunFinished(ctx context.Context, run domain.Run) error {
	return l.inTx(ctx, func(tx *sql.Tx) error {
		if err := l.Repo.FinishRunTx(ctx, tx, run); err != nil {
			return err
		}
		payload := events.EventPayload{
			"status":        run.Status,
			"scope_version": run.ScopeVersion,
			"warnings":      len(run.Warnings),
		}
		if run.Error != "" {
			payload["error"] = run.Error
		}
		_, err := l.Events.Append(ctx, tx, events.TypeForStatus(run.Status), run.Stage, run.ID, payload)
		return err
	})
}

func (l *Ledger) inTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := l.Repo.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}
