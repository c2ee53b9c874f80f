package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/maxdollinger/modinject/pkg/utils"
)

const (
	StatusRunning   = "running"
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
)

type Run struct {
	ID                 string     `json:"id"`
	Status             string     `json:"status"`
	CompatibleSepolicy bool       `json:"compatible_sepolicy"`
	Error              *string    `json:"error,omitempty"`
	StartedAt          time.Time  `json:"started_at"`
	CompletedAt        *time.Time `json:"completed_at,omitempty"`
}

// InsertRun records the start of a run.
func InsertRun(ctx context.Context, journal *sql.DB, compatibleSepolicy bool) (*Run, error) {
	id, err := utils.NewRunID()
	if err != nil {
		return nil, err
	}
	now := time.Now().Unix()

	query := `
		INSERT INTO runs (id, status, compatible_sepolicy, started_at)
		VALUES (?, ?, ?, ?)
	`
	if _, err := journal.ExecContext(ctx, query, id, StatusRunning, compatibleSepolicy, now); err != nil {
		return nil, fmt.Errorf("error inserting run: %w", err)
	}

	return &Run{
		ID:                 id,
		Status:             StatusRunning,
		CompatibleSepolicy: compatibleSepolicy,
		StartedAt:          time.Unix(now, 0),
	}, nil
}

// CompleteRun marks the run as finished. A nil runErr means success.
func CompleteRun(ctx context.Context, journal *sql.DB, id string, runErr error) error {
	status := StatusSucceeded
	var msg *string
	if runErr != nil {
		status = StatusFailed
		s := runErr.Error()
		msg = &s
	}

	query := `UPDATE runs SET status = ?, error = ?, completed_at = ? WHERE id = ?`
	res, err := journal.ExecContext(ctx, query, status, msg, time.Now().Unix(), id)
	if err != nil {
		return fmt.Errorf("error completing run %s: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("error completing run %s: %w", id, sql.ErrNoRows)
	}
	return nil
}

// GetRun retrieves a run by id.
func GetRun(ctx context.Context, journal *sql.DB, id string) (*Run, error) {
	query := `SELECT id, status, compatible_sepolicy, error, started_at, completed_at FROM runs WHERE id = ?`

	var (
		run         Run
		errMsg      sql.NullString
		startedAt   int64
		completedAt sql.NullInt64
	)
	err := journal.QueryRowContext(ctx, query, id).Scan(
		&run.ID, &run.Status, &run.CompatibleSepolicy, &errMsg, &startedAt, &completedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("run %s: %w", id, err)
	}
	if err != nil {
		return nil, err
	}

	run.StartedAt = time.Unix(startedAt, 0)
	if errMsg.Valid {
		run.Error = &errMsg.String
	}
	if completedAt.Valid {
		t := time.Unix(completedAt.Int64, 0)
		run.CompletedAt = &t
	}
	return &run, nil
}
