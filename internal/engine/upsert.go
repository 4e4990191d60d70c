package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"planbridge/internal/domain"
	"planbridge/internal/events"
)

// UpsertOptions tune a batch upsert. Zero values fall back to config,
// then to the built-in defaults.
type UpsertOptions struct {
	ChunkSize int
	Throttle  time.Duration
}

// UpsertBatch reconciles one extraction batch against the store.
// New records are inserted in a single transaction; updates to existing
// records go out in chunks, each chunk its own transaction, so one bad
// chunk cannot take down its neighbors. Per-item failures come back in
// the result, not as an error: the returned error is reserved for input
// validation and for losing the store entirely.
func (e Engine) UpsertBatch(ctx context.Context, workspaceID string, items []domain.IncomingRecord, opts UpsertOptions) (domain.UpsertResult, error) {
	if workspaceID == "" {
		return domain.UpsertResult{}, validationf("workspace id is required")
	}
	res := domain.UpsertResult{Total: len(items)}
	if len(items) == 0 {
		return res, nil
	}

	chunkSize := opts.ChunkSize
	if chunkSize <= 0 {
		chunkSize = e.Config.ChunkSize()
	}
	throttle := opts.Throttle
	if throttle == 0 && e.Config != nil {
		throttle = time.Duration(e.Config.Sync.ThrottleMillis) * time.Millisecond
	}

	// Per-item validation happens before any write; invalid items are
	// counted as failed and never reach the store.
	valid := make([]domain.IncomingRecord, 0, len(items))
	seen := map[string]bool{}
	for _, item := range items {
		if item.ExternalIDA == "" {
			res.Failed++
			res.Errors = append(res.Errors, domain.ItemError{Message: "external_id_a is required"})
			continue
		}
		if item.Title == "" {
			res.Failed++
			res.Errors = append(res.Errors, domain.ItemError{ExternalIDA: item.ExternalIDA, Message: "title is required"})
			continue
		}
		if seen[item.ExternalIDA] {
			res.Failed++
			res.Errors = append(res.Errors, domain.ItemError{ExternalIDA: item.ExternalIDA, Message: "duplicate external_id_a in batch"})
			continue
		}
		seen[item.ExternalIDA] = true
		valid = append(valid, item)
	}
	if len(valid) == 0 {
		return res, nil
	}

	ids := make([]string, 0, len(valid))
	for _, item := range valid {
		ids = append(ids, item.ExternalIDA)
	}
	existing, err := e.store().FindExisting(ctx, workspaceID, ids)
	if err != nil {
		return res, fmt.Errorf("lookup existing records: %w", err)
	}

	now := e.nowRFC3339()
	var toInsert, toUpdate []domain.SyncedRecord
	for _, item := range valid {
		rec, ok := existing[item.ExternalIDA]
		if !ok {
			toInsert = append(toInsert, newRecord(workspaceID, item, now))
			continue
		}
		if recordUnchanged(rec, item) {
			res.Unchanged++
			continue
		}
		toUpdate = append(toUpdate, applyIncoming(rec, item, now))
	}

	if len(toInsert) > 0 {
		if err := e.store().InsertMany(ctx, toInsert); err != nil {
			res.Failed += len(toInsert)
			for _, rec := range toInsert {
				res.Errors = append(res.Errors, domain.ItemError{ExternalIDA: rec.ExternalIDA, Message: err.Error()})
			}
		} else {
			res.Created += len(toInsert)
		}
	}

	for start := 0; start < len(toUpdate); start += chunkSize {
		end := start + chunkSize
		if end > len(toUpdate) {
			end = len(toUpdate)
		}
		chunk := toUpdate[start:end]
		if start > 0 && throttle > 0 {
			select {
			case <-ctx.Done():
				return res, ctx.Err()
			case <-time.After(throttle):
			}
		}
		if err := e.store().UpsertChunk(ctx, chunk); err != nil {
			res.Failed += len(chunk)
			for _, rec := range chunk {
				res.Errors = append(res.Errors, domain.ItemError{ExternalIDA: rec.ExternalIDA, Message: err.Error()})
			}
			continue
		}
		res.Updated += len(chunk)
	}

	if err := e.Events.Append(ctx, nil, "upsert.applied", workspaceID, "batch", "", events.EventPayload{
		"total":     res.Total,
		"created":   res.Created,
		"updated":   res.Updated,
		"unchanged": res.Unchanged,
		"failed":    res.Failed,
	}); err != nil {
		return res, err
	}
	return res, nil
}

func newRecord(workspaceID string, item domain.IncomingRecord, now string) domain.SyncedRecord {
	snap := snapshotJSON(domain.Snapshot{Title: item.Title, Body: item.Body, StatusLabel: item.StatusLabel})
	return domain.SyncedRecord{
		InternalID:         uuid.NewString(),
		ExternalIDA:        item.ExternalIDA,
		ExternalIDB:        item.ExternalIDB,
		WorkspaceID:        workspaceID,
		Title:              item.Title,
		Body:               item.Body,
		StatusLabel:        item.StatusLabel,
		LastSyncedAt:       &now,
		SyncedSnapshotJSON: &snap,
		SyncStatus:         domain.StatusSynced,
		Version:            1,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
}

func applyIncoming(rec domain.SyncedRecord, item domain.IncomingRecord, now string) domain.SyncedRecord {
	rec.Title = item.Title
	rec.Body = item.Body
	rec.StatusLabel = item.StatusLabel
	if item.ExternalIDB != nil {
		rec.ExternalIDB = item.ExternalIDB
	}
	snap := snapshotJSON(domain.Snapshot{Title: rec.Title, Body: rec.Body, StatusLabel: rec.StatusLabel})
	rec.SyncedSnapshotJSON = &snap
	rec.LastSyncedAt = &now
	rec.SyncStatus = domain.StatusSynced
	rec.UpdatedAt = now
	return rec
}

// recordUnchanged reports whether applying item to rec would be a no-op,
// which keeps repeated upserts of the same batch idempotent.
func recordUnchanged(rec domain.SyncedRecord, item domain.IncomingRecord) bool {
	if rec.Title != item.Title || rec.Body != item.Body || rec.StatusLabel != item.StatusLabel {
		return false
	}
	if item.ExternalIDB != nil {
		if rec.ExternalIDB == nil || *rec.ExternalIDB != *item.ExternalIDB {
			return false
		}
	}
	return true
}

func snapshotJSON(snap domain.Snapshot) string {
	data, _ := json.Marshal(snap)
	return string(data)
}
