package db

import (
	"context"
	"database/sql"
	"log/slog"

	"github.com/fly-io/clusterops/pkg/errors"
)

// SaveRollout stores a rollout and its failures in one transaction.
func (r *Repository) SaveRollout(ctx context.Context, ro *Rollout) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		slog.Error("failed_to_begin_transaction", "error", err)
		return errors.Wrap(err, "failed to begin transaction")
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, `
		INSERT INTO rollouts (run_id, deployment, artifact, host_count, status)
		VALUES (?, ?, ?, ?, ?)
	`, ro.RunID, ro.Deployment, ro.Artifact, ro.HostCount, ro.Status)
	if err != nil {
		slog.Error("database_insert_failed", "run_id", ro.RunID, "error", err)
		return errors.Wrap(err, "failed to insert rollout")
	}

	id, err := result.LastInsertId()
	if err != nil {
		return errors.Wrap(err, "failed to get last insert id")
	}

	for _, f := range ro.Failures {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO rollout_failures (rollout_id, phase, host, command, exit_code, stdout, stderr)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`, id, f.Phase, f.Host, f.Command, f.ExitCode, f.Stdout, f.Stderr)
		if err != nil {
			slog.Error("database_insert_failed", "run_id", ro.RunID, "host", f.Host, "error", err)
			return errors.Wrap(err, "failed to insert rollout failure")
		}
	}

	if err := tx.Commit(); err != nil {
		slog.Error("failed_to_commit_transaction", "error", err)
		return errors.Wrap(err, "failed to commit transaction")
	}

	ro.ID = id
	slog.Info("database_rollout_saved", "rollout_id", id, "run_id", ro.RunID, "status", ro.Status, "failures", len(ro.Failures))
	return nil
}

// GetRollout retrieves a rollout and its failures by run id.
// It returns nil, nil when none exists.
func (r *Repository) GetRollout(ctx context.Context, runID string) (*Rollout, error) {
	var ro Rollout
	err := r.db.QueryRowContext(ctx, `
		SELECT id, run_id, deployment, artifact, host_count, status, created_at
		FROM rollouts WHERE run_id = ?
	`, runID).Scan(&ro.ID, &ro.RunID, &ro.Deployment, &ro.Artifact, &ro.HostCount, &ro.Status, &ro.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to query rollout")
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT phase, host, command, exit_code, stdout, stderr
		FROM rollout_failures WHERE rollout_id = ? ORDER BY id
	`, ro.ID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query rollout failures")
	}
	defer rows.Close()

	for rows.Next() {
		var f RolloutFailure
		var stdout, stderr sql.NullString
		if err := rows.Scan(&f.Phase, &f.Host, &f.Command, &f.ExitCode, &stdout, &stderr); err != nil {
			return nil, errors.Wrap(err, "failed to scan row")
		}
		f.Stdout = stdout.String
		f.Stderr = stderr.String
		ro.Failures = append(ro.Failures, f)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "rows error")
	}
	return &ro, nil
}

// ListRollouts retrieves the most recent rollouts without their failures.
func (r *Repository) ListRollouts(ctx context.Context, limit int) ([]*Rollout, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, run_id, deployment, artifact, host_count, status, created_at
		FROM rollouts ORDER BY id DESC LIMIT ?
	`, limit)
	if err != nil {
		slog.Error("database_list_query_failed", "error", err)
		return nil, errors.Wrap(err, "failed to list rollouts")
	}
	defer rows.Close()

	var out []*Rollout
	for rows.Next() {
		var ro Rollout
		if err := rows.Scan(&ro.ID, &ro.RunID, &ro.Deployment, &ro.Artifact, &ro.HostCount, &ro.Status, &ro.CreatedAt); err != nil {
			return nil, errors.Wrap(err, "failed to scan row")
		}
		out = append(out, &ro)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "rows error")
	}
	return out, nil
}
