package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/opencontainers/go-digest"
)

// ModuleRun is the outcome of one module within a run.
type ModuleRun struct {
	RunID     string        `json:"run_id"`
	Module    string        `json:"module"`
	ZipDigest digest.Digest `json:"zip_digest,omitempty"`
	Status    string        `json:"status"`
	Error     *string       `json:"error,omitempty"`
	CreatedAt time.Time     `json:"created_at"`
}

func InsertModuleRun(ctx context.Context, journal *sql.DB, mr *ModuleRun) error {
	query := `
		INSERT INTO module_runs (run_id, module, zip_digest, status, error, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`
	if mr.CreatedAt.IsZero() {
		mr.CreatedAt = time.Unix(time.Now().Unix(), 0)
	}

	var zipDigest *string
	if mr.ZipDigest != "" {
		s := mr.ZipDigest.String()
		zipDigest = &s
	}

	_, err := journal.ExecContext(ctx, query,
		mr.RunID, mr.Module, zipDigest, mr.Status, mr.Error, mr.CreatedAt.Unix())
	if err != nil {
		return fmt.Errorf("error inserting module run %s/%s: %w", mr.RunID, mr.Module, err)
	}
	return nil
}

// ListModuleRuns returns the module outcomes of a run in insertion order.
func ListModuleRuns(ctx context.Context, journal *sql.DB, runID string) ([]*ModuleRun, error) {
	query := `
		SELECT run_id, module, zip_digest, status, error, created_at
		FROM module_runs WHERE run_id = ? ORDER BY rowid
	`
	rows, err := journal.QueryContext(ctx, query, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []*ModuleRun
	for rows.Next() {
		var (
			mr        ModuleRun
			zipDigest sql.NullString
			errMsg    sql.NullString
			createdAt int64
		)
		if err := rows.Scan(&mr.RunID, &mr.Module, &zipDigest, &mr.Status, &errMsg, &createdAt); err != nil {
			return nil, err
		}
		if zipDigest.Valid {
			mr.ZipDigest = digest.Digest(zipDigest.String)
		}
		if errMsg.Valid {
			mr.Error = &errMsg.String
		}
		mr.CreatedAt = time.Unix(createdAt, 0)
		runs = append(runs, &mr)
	}
	return runs, rows.Err()
}
