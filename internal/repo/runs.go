package repo

import (
	"context"
	"database/sql"

	"planbridge/internal/domain"
)

const runColumns = `run_id,workspace_id,board_id,kind,status,items_processed,items_created,items_updated,items_failed,error_message,started_at,completed_at`

func scanRun(row recordScanner) (domain.SyncRun, error) {
	var run domain.SyncRun
	var boardID, errMsg, completedAt sql.NullString
	err := row.Scan(&run.RunID, &run.WorkspaceID, &boardID, &run.Kind, &run.Status,
		&run.ItemsProcessed, &run.ItemsCreated, &run.ItemsUpdated, &run.ItemsFailed,
		&errMsg, &run.StartedAt, &completedAt)
	if err == sql.ErrNoRows {
		return run, ErrNotFound
	}
	if err != nil {
		return run, err
	}
	if boardID.Valid {
		run.BoardID = &boardID.String
	}
	if errMsg.Valid {
		run.ErrorMessage = &errMsg.String
	}
	if completedAt.Valid {
		run.CompletedAt = &completedAt.String
	}
	return run, nil
}

func (r Repo) InsertRun(ctx context.Context, run domain.SyncRun) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO sync_runs(`+runColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?)`,
		run.RunID, run.WorkspaceID, nullableStringPtr(run.BoardID), run.Kind, run.Status,
		run.ItemsProcessed, run.ItemsCreated, run.ItemsUpdated, run.ItemsFailed,
		nullableStringPtr(run.ErrorMessage), run.StartedAt, nullableStringPtr(run.CompletedAt))
	return err
}

// CompleteRun writes the terminal state of a run. Runs are updated exactly
// once; completing an already-completed run is refused.
func (r Repo) CompleteRun(ctx context.Context, run domain.SyncRun) error {
	res, err := r.DB.ExecContext(ctx, `UPDATE sync_runs SET status=?, items_processed=?, items_created=?, items_updated=?, items_failed=?, error_message=?, completed_at=? WHERE run_id=? AND status='in_progress'`,
		run.Status, run.ItemsProcessed, run.ItemsCreated, run.ItemsUpdated, run.ItemsFailed,
		nullableStringPtr(run.ErrorMessage), nullableStringPtr(run.CompletedAt), run.RunID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) GetRun(ctx context.Context, runID string) (domain.SyncRun, error) {
	return scanRun(r.DB.QueryRowContext(ctx, `SELECT `+runColumns+` FROM sync_runs WHERE run_id=?`, runID))
}

func (r Repo) ListRuns(ctx context.Context, workspaceID string, limit int) ([]domain.SyncRun, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.DB.QueryContext(ctx, `SELECT `+runColumns+` FROM sync_runs WHERE workspace_id=? ORDER BY started_at DESC, run_id DESC LIMIT ?`, workspaceID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.SyncRun
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, run)
	}
	return res, rows.Err()
}
