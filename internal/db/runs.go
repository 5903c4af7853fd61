package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ErrRunNotFound is returned by GetRun for unknown ids.
var ErrRunNotFound = errors.New("run not found")

// RunStatus is the lifecycle state of a ledger row.
type RunStatus string

const (
	StatusRunning   RunStatus = "running"
	StatusCompleted RunStatus = "completed"
	StatusFailed    RunStatus = "failed"
)

// Counts are the row counts a run reports.
type Counts struct {
	ParcelsIn          int `json:"parcels_in"`
	ProjectsIn         int `json:"projects_in"`
	ParcelsWithProject int `json:"parcels_with_project"`
	ParcelsSampled     int `json:"parcels_sampled"`
	EasementsIn        int `json:"easements_in"`
	ParcelsWithCE      int `json:"parcels_with_ce"`
	RowsOut            int `json:"rows_out"`
}

// Step is the timing of one pipeline step.
type Step struct {
	Name     string        `json:"name"`
	Count    int           `json:"count"`
	Duration time.Duration `json:"duration"`
}

// Outcome is what FinishRun records.
type Outcome struct {
	Counts     Counts
	OutputPath string
	Steps      []Step
	Duration   time.Duration
	Err        error
}

// Run is one ledger row.
type Run struct {
	ID         string
	StartedAt  time.Time
	FinishedAt *time.Time
	Status     RunStatus
	ConfigJSON string
	OutputPath string
	Counts     Counts
	Duration   time.Duration
	Error      string
	Steps      []Step
}

// Fixed-width so that started_at sorts as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func (db *DB) now() string {
	var t time.Time
	if db.Clock != nil {
		t = db.Clock.Now()
	} else {
		t = time.Now()
	}
	return t.UTC().Format(timeLayout)
}

// StartRun records a new running run and returns its id.
func (db *DB) StartRun(ctx context.Context, configJSON string) (string, error) {
	id := uuid.NewString()
	_, err := db.ExecContext(ctx,
		`INSERT INTO runs (run_id, started_at, status, config_json) VALUES (?, ?, ?, ?)`,
		id, db.now(), string(StatusRunning), configJSON)
	if err != nil {
		return "", fmt.Errorf("insert run: %w", err)
	}
	return id, nil
}

// FinishRun stores the outcome of a run. A non-nil Outcome.Err marks it failed.
func (db *DB) FinishRun(ctx context.Context, id string, o Outcome) error {
	status, errText := StatusCompleted, ""
	if o.Err != nil {
		status, errText = StatusFailed, o.Err.Error()
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin finish run: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	c := o.Counts
	res, err := tx.ExecContext(ctx, `
		UPDATE runs SET
			finished_at = ?, status = ?, output_path = ?,
			parcels_in = ?, projects_in = ?, parcels_with_project = ?, parcels_sampled = ?,
			easements_in = ?, parcels_with_ce = ?, rows_out = ?,
			duration_ms = ?, error = ?
		WHERE run_id = ?`,
		db.now(), string(status), o.OutputPath,
		c.ParcelsIn, c.ProjectsIn, c.ParcelsWithProject, c.ParcelsSampled,
		c.EasementsIn, c.ParcelsWithCE, c.RowsOut,
		o.Duration.Milliseconds(), nullString(errText), id)
	if err != nil {
		return fmt.Errorf("update run %s: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("finish run %s: %w", id, ErrRunNotFound)
	}

	for i, s := range o.Steps {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO run_steps (run_id, seq, step, count, duration_ms) VALUES (?, ?, ?, ?, ?)`,
			id, i, s.Name, s.Count, s.Duration.Milliseconds()); err != nil {
			return fmt.Errorf("insert step %s: %w", s.Name, err)
		}
	}
	return tx.Commit()
}

const runColumns = `run_id, started_at, finished_at, status, config_json, output_path,
	parcels_in, projects_in, parcels_with_project, parcels_sampled,
	easements_in, parcels_with_ce, rows_out, duration_ms, error`

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(s scanner) (*Run, error) {
	var (
		r                   Run
		started, status     string
		finished, out, errS sql.NullString
		durationMS          sql.NullInt64
	)
	c := &r.Counts
	if err := s.Scan(&r.ID, &started, &finished, &status, &r.ConfigJSON, &out,
		&c.ParcelsIn, &c.ProjectsIn, &c.ParcelsWithProject, &c.ParcelsSampled,
		&c.EasementsIn, &c.ParcelsWithCE, &c.RowsOut, &durationMS, &errS); err != nil {
		return nil, err
	}
	t, err := time.Parse(timeLayout, started)
	if err != nil {
		return nil, fmt.Errorf("run %s started_at: %w", r.ID, err)
	}
	r.StartedAt = t
	if finished.Valid {
		ft, err := time.Parse(timeLayout, finished.String)
		if err != nil {
			return nil, fmt.Errorf("run %s finished_at: %w", r.ID, err)
		}
		r.FinishedAt = &ft
	}
	r.Status = RunStatus(status)
	r.OutputPath = out.String
	r.Error = errS.String
	r.Duration = time.Duration(durationMS.Int64) * time.Millisecond
	return &r, nil
}

// ListRuns returns up to limit runs, newest first. limit <= 0 means all.
func (db *DB) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	query := `SELECT ` + runColumns + ` FROM runs ORDER BY started_at DESC, rowid DESC`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, *r)
	}
	return runs, rows.Err()
}

// GetRun returns one run with its steps.
func (db *DB) GetRun(ctx context.Context, id string) (*Run, error) {
	r, err := scanRun(db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE run_id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s: %w", id, ErrRunNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get run %s: %w", id, err)
	}

	rows, err := db.QueryContext(ctx,
		`SELECT step, count, duration_ms FROM run_steps WHERE run_id = ? ORDER BY seq`, id)
	if err != nil {
		return nil, fmt.Errorf("get run steps %s: %w", id, err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			s  Step
			ms int64
		)
		if err := rows.Scan(&s.Name, &s.Count, &ms); err != nil {
			return nil, fmt.Errorf("scan step: %w", err)
		}
		s.Duration = time.Duration(ms) * time.Millisecond
		r.Steps = append(r.Steps, s)
	}
	return r, rows.Err()
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
