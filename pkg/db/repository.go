package db

import (
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/fly-io/clusterops/pkg/errors"
	_ "modernc.org/sqlite"
)

// Repository provides database operations for bootstraps and rollouts
type Repository struct {
	db *sql.DB
}

// NewRepository creates a new repository
func NewRepository(dbPath string) (*Repository, error) {
	slog.Info("database_init", "db_path", dbPath)

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		slog.Error("database_open_failed", "db_path", dbPath, "error", err)
		return nil, errors.Wrap(err, "failed to open database")
	}

	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		slog.Error("database_schema_failed", "db_path", dbPath, "error", err)
		return nil, errors.Wrap(err, "failed to create schema")
	}

	slog.Info("database_ready", "db_path", dbPath)
	return &Repository{db: db}, nil
}

// Close closes the database connection
func (r *Repository) Close() error {
	return r.db.Close()
}

// CreateBootstrap inserts a new bootstrap record
func (r *Repository) CreateBootstrap(b *Bootstrap) error {
	slog.Info("database_create_bootstrap", "deployment", b.Deployment, "instance_id", b.InstanceID, "device", b.Device)

	query := `
		INSERT INTO bootstraps (run_id, deployment, instance_id, device, mount_point, volume_id, formatted, status, error_message)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	result, err := r.db.Exec(query,
		b.RunID, b.Deployment, b.InstanceID, b.Device, b.MountPoint,
		b.VolumeID, b.Formatted, b.Status, b.ErrorMessage)
	if err != nil {
		slog.Error("database_insert_failed", "deployment", b.Deployment, "error", err)
		return errors.Wrap(err, "failed to insert bootstrap")
	}

	id, err := result.LastInsertId()
	if err != nil {
		return errors.Wrap(err, "failed to get last insert id")
	}
	b.ID = id

	slog.Info("database_bootstrap_created", "bootstrap_id", b.ID, "status", b.Status)
	return nil
}

const bootstrapColumns = `id, run_id, deployment, instance_id, device, mount_point,
		       volume_id, formatted, status, error_message, created_at, updated_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanBootstrap(s scanner) (*Bootstrap, error) {
	var b Bootstrap
	var volumeID, errorMessage sql.NullString

	err := s.Scan(
		&b.ID, &b.RunID, &b.Deployment, &b.InstanceID, &b.Device, &b.MountPoint,
		&volumeID, &b.Formatted, &b.Status, &errorMessage, &b.CreatedAt, &b.UpdatedAt)
	if err != nil {
		return nil, err
	}

	b.VolumeID = volumeID.String
	b.ErrorMessage = errorMessage.String
	return &b, nil
}

// GetBootstrap retrieves the bootstrap of one device on one instance.
// It returns nil, nil when none exists.
func (r *Repository) GetBootstrap(deployment, instanceID, device string) (*Bootstrap, error) {
	query := `SELECT ` + bootstrapColumns + ` FROM bootstraps
		WHERE deployment = ? AND instance_id = ? AND device = ?`

	b, err := scanBootstrap(r.db.QueryRow(query, deployment, instanceID, device))
	if err == sql.ErrNoRows {
		slog.Info("database_bootstrap_not_found", "deployment", deployment, "instance_id", instanceID, "device", device)
		return nil, nil
	}
	if err != nil {
		slog.Error("database_query_failed", "deployment", deployment, "error", err)
		return nil, errors.Wrap(err, "failed to query bootstrap")
	}
	return b, nil
}

// UpdateBootstrap updates an existing bootstrap record
func (r *Repository) UpdateBootstrap(b *Bootstrap) error {
	slog.Info("database_update_bootstrap", "bootstrap_id", b.ID, "status", b.Status)

	query := `
		UPDATE bootstraps
		SET run_id = ?, mount_point = ?, volume_id = ?, formatted = ?, status = ?, error_message = ?,
		    updated_at = CURRENT_TIMESTAMP
		WHERE id = ?
	`
	result, err := r.db.Exec(query,
		b.RunID, b.MountPoint, b.VolumeID, b.Formatted, b.Status, b.ErrorMessage, b.ID)
	if err != nil {
		slog.Error("database_update_failed", "bootstrap_id", b.ID, "error", err)
		return errors.Wrap(err, "failed to update bootstrap")
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "failed to get rows affected")
	}
	if rows == 0 {
		slog.Error("database_bootstrap_not_found_for_update", "bootstrap_id", b.ID)
		return fmt.Errorf("bootstrap not found: id=%d", b.ID)
	}
	return nil
}

// UpdateBootstrapStatus updates only the status field
func (r *Repository) UpdateBootstrapStatus(id int64, status, errorMessage string) error {
	slog.Info("database_update_status", "bootstrap_id", id, "status", status)

	query := `UPDATE bootstraps SET status = ?, error_message = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`
	if _, err := r.db.Exec(query, status, errorMessage, id); err != nil {
		slog.Error("database_status_update_failed", "bootstrap_id", id, "status", status, "error", err)
		return errors.Wrap(err, "failed to update status")
	}
	return nil
}

// ListBootstraps retrieves all bootstrap records, newest first
func (r *Repository) ListBootstraps() ([]*Bootstrap, error) {
	rows, err := r.db.Query(`SELECT ` + bootstrapColumns + ` FROM bootstraps ORDER BY id DESC`)
	if err != nil {
		slog.Error("database_list_query_failed", "error", err)
		return nil, errors.Wrap(err, "failed to list bootstraps")
	}
	defer rows.Close()

	var out []*Bootstrap
	for rows.Next() {
		b, err := scanBootstrap(rows)
		if err != nil {
			slog.Error("database_scan_row_failed", "error", err)
			return nil, errors.Wrap(err, "failed to scan row")
		}
		out = append(out, b)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "rows error")
	}

	slog.Info("database_list_complete", "bootstrap_count", len(out))
	return out, nil
}
