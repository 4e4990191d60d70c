package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"planbridge/internal/domain"
	"planbridge/internal/events"
	"planbridge/internal/extsys"
)

// ErrTokenInvalid aborts a board extraction before any external call when
// no usable token is on file.
var ErrTokenInvalid = errors.New("no valid extraction token for board")

// RankingOptions tune a ranking sync.
type RankingOptions struct {
	// PreviewOnly computes the diff without writing anything.
	PreviewOnly bool
	// PushToTracker mirrors changed ranks onto the tracker's ordering
	// field after the local write lands.
	PushToTracker bool
}

// ApplyRanking reconciles an extracted board ordering with stored ranks.
// Only changed ranks are written, all in one transaction, so re-applying
// the same ordering is a no-op. Items unknown to the store are created as
// pending records carrying their rank. Tracker pushes happen after the
// local commit and their failures never roll it back.
func (e Engine) ApplyRanking(ctx context.Context, workspaceID, boardID string, items []domain.RankedItem, opts RankingOptions) (domain.RankingResult, error) {
	if workspaceID == "" {
		return domain.RankingResult{}, validationf("workspace id is required")
	}
	if boardID == "" {
		return domain.RankingResult{}, validationf("board id is required")
	}
	res := domain.RankingResult{Total: len(items), Preview: opts.PreviewOnly}
	if len(items) == 0 {
		return res, nil
	}

	// The ordering must be the full board as the user sees it: ranks
	// contiguous from 1, no gaps, no duplicates.
	seen := map[string]bool{}
	for i, item := range items {
		if item.ExternalIDA == "" {
			return res, validationf("ranking item %d: external_id_a is required", i)
		}
		if seen[item.ExternalIDA] {
			return res, validationf("ranking item %s appears twice", item.ExternalIDA)
		}
		seen[item.ExternalIDA] = true
		if item.Rank != i+1 {
			return res, validationf("ranking is not contiguous: item %s has rank %d, want %d", item.ExternalIDA, item.Rank, i+1)
		}
	}

	ids := make([]string, 0, len(items))
	for _, item := range items {
		ids = append(ids, item.ExternalIDA)
	}
	existing, err := e.Repo.FindExisting(ctx, workspaceID, ids)
	if err != nil {
		return res, fmt.Errorf("lookup existing records: %w", err)
	}

	now := e.nowRFC3339()
	type rankWrite struct {
		rec       domain.SyncedRecord
		change    domain.RankChange
		create    bool
		boardOnly bool
	}
	var writes []rankWrite
	for _, item := range items {
		rec, ok := existing[item.ExternalIDA]
		if !ok {
			rank := item.Rank
			writes = append(writes, rankWrite{
				rec: domain.SyncedRecord{
					InternalID:    uuid.NewString(),
					ExternalIDA:   item.ExternalIDA,
					WorkspaceID:   workspaceID,
					BoardID:       &boardID,
					Title:         item.DisplayName,
					Rank:          &rank,
					RankChangedAt: &now,
					SyncStatus:    domain.StatusPending,
					Version:       1,
					CreatedAt:     now,
					UpdatedAt:     now,
				},
				change: domain.RankChange{ExternalIDA: item.ExternalIDA, NewRank: item.Rank},
				create: true,
			})
			continue
		}
		if rec.Rank != nil && *rec.Rank == item.Rank {
			if rec.BoardID != nil && *rec.BoardID == boardID {
				res.Unchanged++
				continue
			}
			// Rank already matches but the record has never been stamped
			// with this board; write the board without touching the rank.
			writes = append(writes, rankWrite{rec: rec, boardOnly: true})
			continue
		}
		change := domain.RankChange{ExternalIDA: item.ExternalIDA, OldRank: rec.Rank, NewRank: item.Rank}
		if rec.ExternalIDB != nil {
			change.ExternalIDB = *rec.ExternalIDB
		}
		writes = append(writes, rankWrite{rec: rec, change: change})
	}

	for _, w := range writes {
		if w.boardOnly {
			continue
		}
		res.Changes = append(res.Changes, w.change)
	}
	if opts.PreviewOnly {
		for _, w := range writes {
			if w.create {
				res.Created++
			} else {
				res.Updated++
			}
		}
		return res, nil
	}
	if len(writes) == 0 {
		return res, nil
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return res, err
	}
	defer tx.Rollback()
	for _, w := range writes {
		if w.create {
			if err := e.Repo.InsertRecordTx(ctx, tx, w.rec); err != nil {
				return res, fmt.Errorf("create ranked record %s: %w", w.rec.ExternalIDA, err)
			}
			continue
		}
		if w.boardOnly {
			if err := e.Repo.SetBoardTx(ctx, tx, w.rec.InternalID, boardID); err != nil {
				return res, err
			}
			continue
		}
		// A record with no tracker link cannot be synced; ranking leaves
		// it (or puts it back) in the pending queue.
		status := w.rec.SyncStatus
		if status == domain.StatusFailed || w.rec.ExternalIDB == nil {
			status = domain.StatusPending
		}
		if err := e.Repo.UpdateRankTx(ctx, tx, w.rec.InternalID, w.change.NewRank, w.rec.Rank, now, status); err != nil {
			return res, fmt.Errorf("update rank for %s: %w", w.rec.ExternalIDA, err)
		}
		if err := e.Repo.SetBoardTx(ctx, tx, w.rec.InternalID, boardID); err != nil {
			return res, err
		}
	}
	if err := e.Events.Append(ctx, tx, "ranking.applied", workspaceID, "board", boardID, events.EventPayload{
		"total":   res.Total,
		"changed": len(writes),
	}); err != nil {
		return res, err
	}
	if err := tx.Commit(); err != nil {
		return res, err
	}
	for _, w := range writes {
		if w.create {
			res.Created++
		} else {
			res.Updated++
		}
	}

	if opts.PushToTracker && e.Tracker != nil {
		for _, w := range writes {
			if w.change.ExternalIDB == "" {
				continue
			}
			if err := e.Tracker.SetOrderingField(ctx, w.change.ExternalIDB, w.change.NewRank); err != nil {
				res.TrackerErrors = append(res.TrackerErrors, domain.ItemError{
					ExternalIDA: w.change.ExternalIDA,
					Message:     err.Error(),
				})
			}
		}
	}
	return res, nil
}

// SyncBoardRanking extracts a board's ordering from the product tool and
// applies it. It fails fast without touching the network when no valid
// token is registered, and invalidates the token if the product tool
// rejects it mid-extraction.
func (e Engine) SyncBoardRanking(ctx context.Context, workspaceID, boardID string, opts RankingOptions) (domain.RankingResult, error) {
	if e.Product == nil {
		return domain.RankingResult{}, errors.New("product client not configured")
	}
	status, err := e.CheckTokenValidity(ctx, workspaceID, boardID)
	if err != nil {
		return domain.RankingResult{}, err
	}
	if !status.IsValid {
		return domain.RankingResult{}, fmt.Errorf("%w %s", ErrTokenInvalid, boardID)
	}
	tok, err := e.Repo.GetToken(ctx, status.TokenID)
	if err != nil {
		return domain.RankingResult{}, err
	}

	items, err := e.Product.FetchBoardOrdering(ctx, boardID, tok.Secret)
	if err != nil {
		if extsys.IsAuthError(err) {
			if invErr := e.InvalidateToken(ctx, tok.TokenID); invErr != nil {
				return domain.RankingResult{}, invErr
			}
		}
		return domain.RankingResult{}, fmt.Errorf("fetch board ordering: %w", err)
	}
	if err := e.MarkTokenUsed(ctx, tok.TokenID); err != nil {
		return domain.RankingResult{}, err
	}
	return e.ApplyRanking(ctx, workspaceID, boardID, items, opts)
}
