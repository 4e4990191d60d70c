package repo

import (
	"context"
	"database/sql"

	"planbridge/internal/domain"
)

const conflictColumns = `conflict_id,record_id,version_a_json,version_b_json,status,resolution,detected_at,resolved_at`

func scanConflict(row recordScanner) (domain.SyncConflict, error) {
	var c domain.SyncConflict
	var resolution, resolvedAt sql.NullString
	err := row.Scan(&c.ConflictID, &c.RecordID, &c.VersionAJSON, &c.VersionBJSON,
		&c.Status, &resolution, &c.DetectedAt, &resolvedAt)
	if err == sql.ErrNoRows {
		return c, ErrNotFound
	}
	if err != nil {
		return c, err
	}
	if resolution.Valid {
		c.Resolution = &resolution.String
	}
	if resolvedAt.Valid {
		c.ResolvedAt = &resolvedAt.String
	}
	return c, nil
}

func (r Repo) InsertConflictTx(ctx context.Context, tx *sql.Tx, c domain.SyncConflict) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO sync_conflicts(`+conflictColumns+`) VALUES (?,?,?,?,?,?,?,?)`,
		c.ConflictID, c.RecordID, c.VersionAJSON, c.VersionBJSON, c.Status,
		nullableStringPtr(c.Resolution), c.DetectedAt, nullableStringPtr(c.ResolvedAt))
	return err
}

func (r Repo) GetConflict(ctx context.Context, conflictID string) (domain.SyncConflict, error) {
	return scanConflict(r.DB.QueryRowContext(ctx, `SELECT `+conflictColumns+` FROM sync_conflicts WHERE conflict_id=?`, conflictID))
}

func (r Repo) GetConflictTx(ctx context.Context, tx *sql.Tx, conflictID string) (domain.SyncConflict, error) {
	return scanConflict(tx.QueryRowContext(ctx, `SELECT `+conflictColumns+` FROM sync_conflicts WHERE conflict_id=?`, conflictID))
}

// PendingConflictForRecord returns the single pending conflict of a record,
// or ErrNotFound. The partial unique index guarantees at most one exists.
func (r Repo) PendingConflictForRecord(ctx context.Context, recordID string) (domain.SyncConflict, error) {
	return scanConflict(r.DB.QueryRowContext(ctx, `SELECT `+conflictColumns+` FROM sync_conflicts WHERE record_id=? AND status='pending'`, recordID))
}

// ResolveConflictTx closes a pending conflict inside the caller's
// transaction. A conflict that is not pending is not touched.
func (r Repo) ResolveConflictTx(ctx context.Context, tx *sql.Tx, conflictID, resolution, resolvedAt string) error {
	res, err := tx.ExecContext(ctx, `UPDATE sync_conflicts SET status='resolved', resolution=?, resolved_at=? WHERE conflict_id=? AND status='pending'`,
		resolution, resolvedAt, conflictID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) ListConflicts(ctx context.Context, workspaceID, status string, limit int) ([]domain.SyncConflict, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT c.conflict_id,c.record_id,c.version_a_json,c.version_b_json,c.status,c.resolution,c.detected_at,c.resolved_at
FROM sync_conflicts c JOIN synced_records rec ON rec.internal_id=c.record_id
WHERE rec.workspace_id=?`
	args := []any{workspaceID}
	if status != "" {
		query += ` AND c.status=?`
		args = append(args, status)
	}
	query += ` ORDER BY c.detected_at DESC, c.conflict_id DESC LIMIT ?`
	args = append(args, limit)
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.SyncConflict
	for rows.Next() {
		c, err := scanConflict(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, c)
	}
	return res, rows.Err()
}
