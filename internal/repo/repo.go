package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"scopeshift/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

const runColumns = `id,stage,status,COALESCE(scope_version,''),COALESCE(requested_by,''),started_at,finished_at,COALESCE(error,''),warnings_json`

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (domain.Run, error) {
	var r domain.Run
	var stage, warnings string
	var finished sql.NullString
	if err := row.Scan(&r.ID, &stage, &r.Status, &r.ScopeVersion, &r.RequestedBy, &r.StartedAt, &finished, &r.Error, &warnings); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return r, ErrNotFound
		}
		return r, err
	}
	r.Stage = domain.Stage(stage)
	if finished.Valid {
		r.FinishedAt = &finished.String
	}
	if warnings != "" && warnings != "[]" {
		if err := json.Unmarshal([]byte(warnings), &r.Warnings); err != nil {
			return r, fmt.Errorf("decode run warnings: %w", err)
		}
	}
	return r, nil
}

func (r Repo) InsertRunTx(ctx context.Context, tx *sql.Tx, run domain.Run) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO runs(id,stage,status,scope_version,requested_by,started_at) VALUES (?,?,?,?,?,?)`,
		run.ID, string(run.Stage), run.Status, nullable(run.ScopeVersion), nullable(run.RequestedBy), run.StartedAt)
	return err
}

// FinishRunTx records a run's outcome. Unknown ids are ErrNotFound.
func (r Repo) FinishRunTx(ctx context.Context, tx *sql.Tx, run domain.Run) error {
	warnings, err := marshalWarnings(run.Warnings)
	if err != nil {
		return err
	}
	var finished any
	if run.FinishedAt != nil {
		finished = *run.FinishedAt
	}
	res, err := tx.ExecContext(ctx, `UPDATE runs SET status=?, scope_version=COALESCE(?, scope_version), finished_at=?, error=?, warnings_json=? WHERE id=?`,
		run.Status, nullable(run.ScopeVersion), finished, nullable(run.Error), warnings, run.ID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) GetRun(ctx context.Context, id string) (domain.Run, error) {
	return scanRun(r.DB.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id=?`, id))
}

// ListRuns returns the newest runs first, optionally for one stage.
func (r Repo) ListRuns(ctx context.Context, stage domain.Stage, limit int) ([]domain.Run, error) {
	if limit <= 0 {
		limit = 50
	}
	clauses := []string{"1=1"}
	var args []any
	if stage != "" {
		clauses = append(clauses, "stage=?")
		args = append(args, string(stage))
	}
	query := fmt.Sprintf(`SELECT %s FROM runs WHERE %s ORDER BY started_at DESC, rowid DESC LIMIT ?`, runColumns, strings.Join(clauses, " AND "))
	args = append(args, limit)
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []domain.Run{}
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, run)
	}
	return res, rows.Err()
}

func (r Repo) LatestEvents(ctx context.Context, limit int, evtType string, stage domain.Stage, runID string) ([]domain.Event, error) {
	return r.LatestEventsFrom(ctx, limit, 0, evtType, stage, runID)
}

// LatestEventsFrom pages backwards: events with ids below cursor, newest
// first.
func (r Repo) LatestEventsFrom(ctx context.Context, limit int, cursor int64, evtType string, stage domain.Stage, runID string) ([]domain.Event, error) {
	if limit <= 0 {
		limit = 50
	}
	clauses := []string{"1=1"}
	var args []any
	if evtType != "" {
		clauses = append(clauses, "type=?")
		args = append(args, evtType)
	}
	if stage != "" {
		clauses = append(clauses, "stage=?")
		args = append(args, string(stage))
	}
	if runID != "" {
		clauses = append(clauses, "run_id=?")
		args = append(args, runID)
	}
	if cursor > 0 {
		clauses = append(clauses, "id<?")
		args = append(args, cursor)
	}
	where := "WHERE " + strings.Join(clauses, " AND ")
	query := fmt.Sprintf(`SELECT id,ts,type,stage,COALESCE(run_id,''),payload_json FROM events %s ORDER BY id DESC LIMIT ?`, where)
	args = append(args, limit)
	return r.queryEvents(ctx, query, args...)
}

// EventsAfter returns events with IDs greater than the cursor in ascending order.
func (r Repo) EventsAfter(ctx context.Context, limit int, cursor int64) ([]domain.Event, error) {
	if limit <= 0 {
		limit = 100
	}
	return r.queryEvents(ctx, `SELECT id,ts,type,stage,COALESCE(run_id,''),payload_json FROM events WHERE id>? ORDER BY id ASC LIMIT ?`, cursor, limit)
}

// LatestEventID returns the most recent event ID, 0 when there are none.
func (r Repo) LatestEventID(ctx context.Context) (int64, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT COALESCE(MAX(id),0) FROM events`)
	var id int64
	if err := row.Scan(&id); err != nil {
		return 0, err
	}
	return id, nil
}

func (r Repo) queryEvents(ctx context.Context, query string, args ...any) ([]domain.Event, error) {
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []domain.Event{}
	for rows.Next() {
		var e domain.Event
		var stage string
		var payload sql.NullString
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &stage, &e.RunID, &payload); err != nil {
			return nil, err
		}
		e.Stage = domain.Stage(stage)
		if payload.Valid {
			e.Payload = payload.String
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

func marshalWarnings(ws []domain.Warning) (string, error) {
	if len(ws) == 0 {
		return "[]", nil
	}
	data, err := json.Marshal(ws)
	if err != nil {
		return "", fmt.Errorf("marshal warnings: %w", err)
	}
	return string(data), nil
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
