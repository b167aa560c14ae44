package db

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/tribolab-data/friction.report/internal/cof"
)

type DB struct {
	*sql.DB
}

func NewDB(path string) (*DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS test_runs (
			run_id            TEXT PRIMARY KEY,
			started_at        TIMESTAMP,
			completed_at      TIMESTAMP,
			normal_force_lb   DOUBLE,
			trim_fraction     DOUBLE,
			averaging_method  TEXT,
			cof               DOUBLE,
			avg_force_lb      DOUBLE,
			avg_bias_lb       DOUBLE,
			paired_count      BIGINT,
			fwd_samples       BIGINT,
			rev_samples       BIGINT,
			timestamp         TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		);
		CREATE TABLE IF NOT EXISTS run_samples (
			run_id            TEXT,
			direction         TEXT,
			pos_index         BIGINT,
			force_lb          DOUBLE,
			FOREIGN KEY(run_id) REFERENCES test_runs(run_id)
		);
		CREATE INDEX IF NOT EXISTS idx_run_samples_run ON run_samples(run_id, direction, pos_index);
	`)
	if err != nil {
		return nil, err
	}

	return &DB{db}, nil
}

// TestRun is one completed friction test: the measurement parameters it ran
// under and the calculated result.
type TestRun struct {
	RunID           string    `json:"run_id"`
	StartedAt       time.Time `json:"started_at"`
	CompletedAt     time.Time `json:"completed_at"`
	NormalForceLb   float64   `json:"normal_force_lb"`
	TrimFraction    float64   `json:"trim_fraction"`
	AveragingMethod string    `json:"averaging_method"`
	Cof             float64   `json:"cof"`
	AvgForceLb      float64   `json:"avg_force_lb"`
	AvgBiasLb       float64   `json:"avg_bias_lb"`
	PairedCount     int64     `json:"paired_count"`
	FwdSamples      int64     `json:"fwd_samples"`
	RevSamples      int64     `json:"rev_samples"`
}

func (r *TestRun) String() string {
	return fmt.Sprintf(
		"RunID: %s, Cof: %f, AvgForceLb: %f, AvgBiasLb: %f, PairedCount: %d, NormalForceLb: %f, TrimFraction: %f, Method: %s",
		r.RunID,
		r.Cof,
		r.AvgForceLb,
		r.AvgBiasLb,
		r.PairedCount,
		r.NormalForceLb,
		r.TrimFraction,
		r.AveragingMethod,
	)
}

// RecordTestRun stores one completed run.
func (db *DB) RecordTestRun(run TestRun) error {
	_, err := db.Exec(
		`INSERT INTO test_runs (
			run_id, started_at, completed_at, normal_force_lb, trim_fraction,
			averaging_method, cof, avg_force_lb, avg_bias_lb, paired_count,
			fwd_samples, rev_samples
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.RunID, run.StartedAt.UTC(), run.CompletedAt.UTC(), run.NormalForceLb, run.TrimFraction,
		run.AveragingMethod, run.Cof, run.AvgForceLb, run.AvgBiasLb, run.PairedCount,
		run.FwdSamples, run.RevSamples,
	)
	if err != nil {
		return fmt.Errorf("failed to record test run %s: %w", run.RunID, err)
	}
	return nil
}

const runColumns = `run_id, started_at, completed_at, normal_force_lb, trim_fraction,
			averaging_method, cof, avg_force_lb, avg_bias_lb, paired_count,
			fwd_samples, rev_samples`

func scanRun(row interface{ Scan(...any) error }) (TestRun, error) {
	var run TestRun
	err := row.Scan(
		&run.RunID,
		&run.StartedAt,
		&run.CompletedAt,
		&run.NormalForceLb,
		&run.TrimFraction,
		&run.AveragingMethod,
		&run.Cof,
		&run.AvgForceLb,
		&run.AvgBiasLb,
		&run.PairedCount,
		&run.FwdSamples,
		&run.RevSamples,
	)
	return run, err
}

// TestRuns returns the most recent runs, newest first.
func (db *DB) TestRuns(limit int) ([]TestRun, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := db.Query(
		`SELECT `+runColumns+` FROM test_runs ORDER BY completed_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []TestRun
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return runs, nil
}

// TestRun returns a single run by ID. Returns sql.ErrNoRows if absent.
func (db *DB) TestRun(runID string) (TestRun, error) {
	row := db.QueryRow(`SELECT `+runColumns+` FROM test_runs WHERE run_id = ?`, runID)
	return scanRun(row)
}

// LatestTestRun returns the most recently completed run.
// Returns sql.ErrNoRows if the table is empty.
func (db *DB) LatestTestRun() (TestRun, error) {
	row := db.QueryRow(`SELECT ` + runColumns + ` FROM test_runs ORDER BY completed_at DESC LIMIT 1`)
	return scanRun(row)
}

// RecordSamples stores one pass's raw readings for a run in a single
// transaction, preserving positional order.
func (db *DB) RecordSamples(runID, direction string, samples cof.Series) error {
	tx, err := db.Begin()
	if err != nil {
		return err
	}

	stmt, err := tx.Prepare(`INSERT INTO run_samples (run_id, direction, pos_index, force_lb) VALUES (?, ?, ?, ?)`)
	if err != nil {
		tx.Rollback()
		return err
	}
	defer stmt.Close()

	for i, force := range samples {
		if _, err := stmt.Exec(runID, direction, i, force); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to record sample %d for run %s: %w", i, runID, err)
		}
	}

	return tx.Commit()
}

// RunSamples returns the raw forward and reverse passes of a run in
// positional order, ready to be re-fed to the calculation.
func (db *DB) RunSamples(runID string) (fwd, rev cof.Series, err error) {
	rows, err := db.Query(
		`SELECT direction, force_lb FROM run_samples WHERE run_id = ? ORDER BY direction, pos_index`, runID)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var direction string
		var force float64
		if err := rows.Scan(&direction, &force); err != nil {
			return nil, nil, err
		}
		switch direction {
		case DirectionForward:
			fwd = append(fwd, force)
		case DirectionReverse:
			rev = append(rev, force)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, nil, err
	}

	return fwd, rev, nil
}

// Direction labels for run_samples rows.
const (
	DirectionForward = "fwd"
	DirectionReverse = "rev"
)
