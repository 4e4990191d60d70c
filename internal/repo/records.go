package repo

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"planbridge/internal/domain"
)

const recordColumns = `internal_id,external_id_a,external_id_b,workspace_id,board_id,title,body,status_label,rank,previous_rank,rank_changed_at,last_synced_at,synced_snapshot_json,sync_status,version,archived,created_at,updated_at`

type recordScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row recordScanner) (domain.SyncedRecord, error) {
	var rec domain.SyncedRecord
	var extB, boardID, rankChangedAt, lastSyncedAt, snapshot sql.NullString
	var rank, prevRank sql.NullInt64
	var archived int
	err := row.Scan(&rec.InternalID, &rec.ExternalIDA, &extB, &rec.WorkspaceID, &boardID,
		&rec.Title, &rec.Body, &rec.StatusLabel, &rank, &prevRank, &rankChangedAt,
		&lastSyncedAt, &snapshot, &rec.SyncStatus, &rec.Version, &archived,
		&rec.CreatedAt, &rec.UpdatedAt)
	if err == sql.ErrNoRows {
		return rec, ErrNotFound
	}
	if err != nil {
		return rec, err
	}
	if extB.Valid {
		rec.ExternalIDB = &extB.String
	}
	if boardID.Valid {
		rec.BoardID = &boardID.String
	}
	if rank.Valid {
		v := int(rank.Int64)
		rec.Rank = &v
	}
	if prevRank.Valid {
		v := int(prevRank.Int64)
		rec.PreviousRank = &v
	}
	if rankChangedAt.Valid {
		rec.RankChangedAt = &rankChangedAt.String
	}
	if lastSyncedAt.Valid {
		rec.LastSyncedAt = &lastSyncedAt.String
	}
	if snapshot.Valid {
		rec.SyncedSnapshotJSON = &snapshot.String
	}
	rec.Archived = archived != 0
	return rec, nil
}

// FindExisting resolves a set of external IDs for one workspace in a single
// query. Keys absent from the store are simply missing from the result map.
func (r Repo) FindExisting(ctx context.Context, workspaceID string, externalIDs []string) (map[string]domain.SyncedRecord, error) {
	res := map[string]domain.SyncedRecord{}
	if len(externalIDs) == 0 {
		return res, nil
	}
	placeholders := strings.Repeat("?,", len(externalIDs))
	placeholders = placeholders[:len(placeholders)-1]
	args := make([]any, 0, len(externalIDs)+1)
	args = append(args, workspaceID)
	for _, id := range externalIDs {
		args = append(args, id)
	}
	query := `SELECT ` + recordColumns + ` FROM synced_records WHERE workspace_id=? AND external_id_a IN (` + placeholders + `)`
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		res[rec.ExternalIDA] = rec
	}
	return res, rows.Err()
}

// InsertMany inserts new records in one transaction; either all rows land
// or none do.
func (r Repo) InsertMany(ctx context.Context, records []domain.SyncedRecord) error {
	if len(records) == 0 {
		return nil
	}
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	for _, rec := range records {
		if err := insertRecordTx(ctx, tx, rec); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// InsertRecordTx inserts one record inside the caller's transaction.
func (r Repo) InsertRecordTx(ctx context.Context, tx *sql.Tx, rec domain.SyncedRecord) error {
	return insertRecordTx(ctx, tx, rec)
}

func insertRecordTx(ctx context.Context, tx *sql.Tx, rec domain.SyncedRecord) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO synced_records(`+recordColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		rec.InternalID, rec.ExternalIDA, nullableStringPtr(rec.ExternalIDB), rec.WorkspaceID,
		nullableStringPtr(rec.BoardID), rec.Title, rec.Body, rec.StatusLabel,
		nullableIntPtr(rec.Rank), nullableIntPtr(rec.PreviousRank),
		nullableStringPtr(rec.RankChangedAt), nullableStringPtr(rec.LastSyncedAt),
		nullableStringPtr(rec.SyncedSnapshotJSON), rec.SyncStatus, rec.Version,
		boolToInt(rec.Archived), rec.CreatedAt, rec.UpdatedAt)
	return err
}

// UpsertChunk updates one chunk of existing records in a single
// transaction. A failing row aborts only this chunk.
func (r Repo) UpsertChunk(ctx context.Context, records []domain.SyncedRecord) error {
	if len(records) == 0 {
		return nil
	}
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	for _, rec := range records {
		res, err := tx.ExecContext(ctx, `UPDATE synced_records SET external_id_b=?, title=?, body=?, status_label=?, last_synced_at=?, synced_snapshot_json=?, sync_status=?, version=version+1, updated_at=? WHERE internal_id=?`,
			nullableStringPtr(rec.ExternalIDB), rec.Title, rec.Body, rec.StatusLabel,
			nullableStringPtr(rec.LastSyncedAt), nullableStringPtr(rec.SyncedSnapshotJSON),
			rec.SyncStatus, rec.UpdatedAt, rec.InternalID)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("record %s: %w", rec.InternalID, ErrNotFound)
		}
	}
	return tx.Commit()
}

func (r Repo) GetByInternalID(ctx context.Context, id string) (domain.SyncedRecord, error) {
	return scanRecord(r.DB.QueryRowContext(ctx, `SELECT `+recordColumns+` FROM synced_records WHERE internal_id=?`, id))
}

func (r Repo) GetByExternalID(ctx context.Context, workspaceID, externalIDA string) (domain.SyncedRecord, error) {
	return scanRecord(r.DB.QueryRowContext(ctx, `SELECT `+recordColumns+` FROM synced_records WHERE workspace_id=? AND external_id_a=?`, workspaceID, externalIDA))
}

type RecordFilters struct {
	WorkspaceID string
	BoardID     string
	SyncStatus  string
	Limit       int
	CursorID    string
}

func (r Repo) ListRecords(ctx context.Context, f RecordFilters) ([]domain.SyncedRecord, error) {
	clauses := []string{"workspace_id=?"}
	args := []any{f.WorkspaceID}
	if f.BoardID != "" {
		clauses = append(clauses, "board_id=?")
		args = append(args, f.BoardID)
	}
	if f.SyncStatus != "" {
		clauses = append(clauses, "sync_status=?")
		args = append(args, f.SyncStatus)
	}
	if f.CursorID != "" {
		clauses = append(clauses, "internal_id > ?")
		args = append(args, f.CursorID)
	}
	query := `SELECT ` + recordColumns + ` FROM synced_records WHERE ` + strings.Join(clauses, " AND ") + ` ORDER BY internal_id ASC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.SyncedRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, rec)
	}
	return res, rows.Err()
}

// ListLinkedRecords returns workspace records that carry both external IDs,
// the candidate set for a bidirectional sync.
func (r Repo) ListLinkedRecords(ctx context.Context, workspaceID string) ([]domain.SyncedRecord, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+recordColumns+` FROM synced_records WHERE workspace_id=? AND external_id_b IS NOT NULL AND archived=0 ORDER BY internal_id ASC`, workspaceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.SyncedRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, rec)
	}
	return res, rows.Err()
}

// UpdateRecordVersioned writes the full mutable state of a record guarded
// by its version counter. The row's version is bumped on success; a
// mismatch reports ErrStaleVersion so the caller can re-fetch and retry.
func (r Repo) UpdateRecordVersioned(ctx context.Context, tx *sql.Tx, rec domain.SyncedRecord, expectedVersion int64) error {
	exec := r.DB.ExecContext
	if tx != nil {
		exec = tx.ExecContext
	}
	res, err := exec(ctx, `UPDATE synced_records SET external_id_b=?, board_id=?, title=?, body=?, status_label=?, rank=?, previous_rank=?, rank_changed_at=?, last_synced_at=?, synced_snapshot_json=?, sync_status=?, version=version+1, updated_at=? WHERE internal_id=? AND version=?`,
		nullableStringPtr(rec.ExternalIDB), nullableStringPtr(rec.BoardID), rec.Title, rec.Body,
		rec.StatusLabel, nullableIntPtr(rec.Rank), nullableIntPtr(rec.PreviousRank),
		nullableStringPtr(rec.RankChangedAt), nullableStringPtr(rec.LastSyncedAt),
		nullableStringPtr(rec.SyncedSnapshotJSON), rec.SyncStatus, rec.UpdatedAt,
		rec.InternalID, expectedVersion)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		if _, getErr := r.GetByInternalID(ctx, rec.InternalID); getErr != nil {
			return getErr
		}
		return ErrStaleVersion
	}
	return nil
}

// UpdateRankTx writes only the ranking fields of a record inside the
// caller's transaction.
func (r Repo) UpdateRankTx(ctx context.Context, tx *sql.Tx, internalID string, rank int, previousRank *int, changedAt, syncStatus string) error {
	res, err := tx.ExecContext(ctx, `UPDATE synced_records SET rank=?, previous_rank=?, rank_changed_at=?, sync_status=?, updated_at=? WHERE internal_id=?`,
		rank, nullableIntPtr(previousRank), changedAt, syncStatus, changedAt, internalID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// SetBoardTx stamps the board a record was ranked on.
func (r Repo) SetBoardTx(ctx context.Context, tx *sql.Tx, internalID, boardID string) error {
	_, err := tx.ExecContext(ctx, `UPDATE synced_records SET board_id=? WHERE internal_id=?`, boardID, internalID)
	return err
}

// SetSyncStatus flags a record without touching its payload or version.
func (r Repo) SetSyncStatus(ctx context.Context, tx *sql.Tx, internalID, status string) error {
	exec := r.DB.ExecContext
	if tx != nil {
		exec = tx.ExecContext
	}
	res, err := exec(ctx, `UPDATE synced_records SET sync_status=? WHERE internal_id=?`, status, internalID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) CountRecordsByStatus(ctx context.Context, workspaceID string) (map[string]int, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT sync_status, count(*) FROM synced_records WHERE workspace_id=? GROUP BY sync_status`, workspaceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := map[string]int{}
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		res[status] = count
	}
	return res, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
