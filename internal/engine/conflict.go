package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"planbridge/internal/domain"
	"planbridge/internal/events"
	"planbridge/internal/repo"
)

// DetectConflict compares both external snapshots of a record against its
// last-synced baseline. A conflict exists only when both sides diverged
// from the baseline and disagree with each other. Detection is idempotent:
// a record with a pending conflict gets that conflict back, never a second
// one.
func (e Engine) DetectConflict(ctx context.Context, rec domain.SyncedRecord, snapA, snapB domain.Snapshot) (*domain.SyncConflict, error) {
	if existing, err := e.Repo.PendingConflictForRecord(ctx, rec.InternalID); err == nil {
		return &existing, nil
	} else if !errors.Is(err, repo.ErrNotFound) {
		return nil, err
	}

	base := baseline(rec)
	aChanged := snapA != base
	bChanged := snapB != base
	if !aChanged || !bChanged || snapA == snapB {
		return nil, nil
	}

	now := e.nowRFC3339()
	c := domain.SyncConflict{
		ConflictID:   uuid.NewString(),
		RecordID:     rec.InternalID,
		VersionAJSON: snapshotJSON(snapA),
		VersionBJSON: snapshotJSON(snapB),
		Status:       "pending",
		DetectedAt:   now,
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertConflictTx(ctx, tx, c); err != nil {
		return nil, fmt.Errorf("insert conflict: %w", err)
	}
	if err := e.Repo.SetSyncStatus(ctx, tx, rec.InternalID, domain.StatusConflict); err != nil {
		return nil, err
	}
	if err := e.Events.Append(ctx, tx, "conflict.detected", rec.WorkspaceID, "record", rec.InternalID, events.EventPayload{
		"conflict_id": c.ConflictID,
	}); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return &c, nil
}

// ResolveConflict applies the chosen side's snapshot to the record, closes
// the conflict, and returns the record to synced, all in one transaction.
// Resolving a conflict that is not pending is refused.
func (e Engine) ResolveConflict(ctx context.Context, conflictID, resolution string) (domain.SyncedRecord, error) {
	if resolution != domain.ResolutionKeptA && resolution != domain.ResolutionKeptB {
		return domain.SyncedRecord{}, validationf("resolution must be %s or %s", domain.ResolutionKeptA, domain.ResolutionKeptB)
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.SyncedRecord{}, err
	}
	defer tx.Rollback()

	c, err := e.Repo.GetConflictTx(ctx, tx, conflictID)
	if err != nil {
		return domain.SyncedRecord{}, err
	}
	if c.Status != "pending" {
		return domain.SyncedRecord{}, &InvalidStateError{Msg: fmt.Sprintf("conflict %s already resolved", conflictID)}
	}
	rec, err := e.Repo.GetByInternalID(ctx, c.RecordID)
	if err != nil {
		return domain.SyncedRecord{}, err
	}

	chosenJSON := c.VersionAJSON
	if resolution == domain.ResolutionKeptB {
		chosenJSON = c.VersionBJSON
	}
	var chosen domain.Snapshot
	if err := json.Unmarshal([]byte(chosenJSON), &chosen); err != nil {
		return domain.SyncedRecord{}, fmt.Errorf("decode conflict snapshot: %w", err)
	}

	now := e.nowRFC3339()
	rec.Title = chosen.Title
	rec.Body = chosen.Body
	rec.StatusLabel = chosen.StatusLabel
	rec.SyncedSnapshotJSON = &chosenJSON
	rec.LastSyncedAt = &now
	rec.SyncStatus = domain.StatusSynced
	rec.UpdatedAt = now
	if err := e.Repo.UpdateRecordVersioned(ctx, tx, rec, rec.Version); err != nil {
		return domain.SyncedRecord{}, err
	}
	if err := e.Repo.ResolveConflictTx(ctx, tx, conflictID, resolution, now); err != nil {
		return domain.SyncedRecord{}, err
	}
	if err := e.Events.Append(ctx, tx, "conflict.resolved", rec.WorkspaceID, "record", rec.InternalID, events.EventPayload{
		"conflict_id": conflictID,
		"resolution":  resolution,
	}); err != nil {
		return domain.SyncedRecord{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.SyncedRecord{}, err
	}
	return e.Repo.GetByInternalID(ctx, rec.InternalID)
}

// BidirectionalSync walks every linked record of a workspace, fetches both
// external snapshots, fast-forwards one-sided edits, and records conflicts
// for two-sided divergence. Per-record fetch or write failures are counted
// and the pass keeps going.
func (e Engine) BidirectionalSync(ctx context.Context, workspaceID string) (domain.BidirectionalResult, error) {
	if workspaceID == "" {
		return domain.BidirectionalResult{}, validationf("workspace id is required")
	}
	if e.Product == nil || e.Tracker == nil {
		return domain.BidirectionalResult{}, errors.New("both external clients must be configured")
	}
	records, err := e.Repo.ListLinkedRecords(ctx, workspaceID)
	if err != nil {
		return domain.BidirectionalResult{}, err
	}
	res := domain.BidirectionalResult{Total: len(records)}
	for _, rec := range records {
		snapA, err := e.Product.FetchRecord(ctx, rec.ExternalIDA)
		if err != nil {
			res.Failed++
			continue
		}
		snapB, err := e.Tracker.FetchRecord(ctx, *rec.ExternalIDB)
		if err != nil {
			res.Failed++
			continue
		}

		base := baseline(rec)
		aChanged := snapA != base
		bChanged := snapB != base
		switch {
		case !aChanged && !bChanged:
			res.Unchanged++
		case aChanged && bChanged && snapA != snapB:
			if _, err := e.DetectConflict(ctx, rec, snapA, snapB); err != nil {
				res.Failed++
				continue
			}
			res.Conflicts++
		default:
			// One side moved, or both moved to the same place:
			// fast-forward the baseline to the new state.
			target := snapA
			if bChanged && !aChanged {
				target = snapB
			}
			if err := e.fastForward(ctx, rec, target); err != nil {
				res.Failed++
				continue
			}
			res.FastForwarded++
		}
	}
	if err := e.Events.Append(ctx, nil, "bidirectional.completed", workspaceID, "workspace", workspaceID, events.EventPayload{
		"total":          res.Total,
		"fast_forwarded": res.FastForwarded,
		"conflicts":      res.Conflicts,
		"failed":         res.Failed,
	}); err != nil {
		return res, err
	}
	return res, nil
}

func (e Engine) fastForward(ctx context.Context, rec domain.SyncedRecord, snap domain.Snapshot) error {
	now := e.nowRFC3339()
	snapJSON := snapshotJSON(snap)
	rec.Title = snap.Title
	rec.Body = snap.Body
	rec.StatusLabel = snap.StatusLabel
	rec.SyncedSnapshotJSON = &snapJSON
	rec.LastSyncedAt = &now
	rec.SyncStatus = domain.StatusSynced
	rec.UpdatedAt = now
	return e.Repo.UpdateRecordVersioned(ctx, nil, rec, rec.Version)
}

// baseline reconstructs the last agreed-upon state of a record. Records
// that never stored a snapshot use their current fields.
func baseline(rec domain.SyncedRecord) domain.Snapshot {
	if rec.SyncedSnapshotJSON != nil {
		var snap domain.Snapshot
		if err := json.Unmarshal([]byte(*rec.SyncedSnapshotJSON), &snap); err == nil {
			return snap
		}
	}
	return domain.Snapshot{Title: rec.Title, Body: rec.Body, StatusLabel: rec.StatusLabel}
}
