package engine

import (
	"context"

	"github.com/google/uuid"

	"planbridge/internal/domain"
	"planbridge/internal/events"
)

// WithRun brackets a sync operation with its audit record: a run row is
// opened before fn and completed exactly once after, whatever fn does.
// An error from fn marks the run failed and is re-raised; a clean return
// with failed items marks it partial.
func (e Engine) WithRun(ctx context.Context, kind, workspaceID string, boardID *string, fn func(ctx context.Context) (domain.RunOutcome, error)) (domain.SyncRun, error) {
	run := domain.SyncRun{
		RunID:       uuid.NewString(),
		WorkspaceID: workspaceID,
		BoardID:     boardID,
		Kind:        kind,
		Status:      domain.RunInProgress,
		StartedAt:   e.nowRFC3339(),
	}
	if err := e.Repo.InsertRun(ctx, run); err != nil {
		return run, err
	}
	if err := e.Events.Append(ctx, nil, "run.started", workspaceID, "run", run.RunID, events.EventPayload{"kind": kind}); err != nil {
		return run, err
	}

	outcome, fnErr := fn(ctx)

	completed := e.nowRFC3339()
	run.ItemsProcessed = outcome.ItemsProcessed
	run.ItemsCreated = outcome.ItemsCreated
	run.ItemsUpdated = outcome.ItemsUpdated
	run.ItemsFailed = outcome.ItemsFailed
	run.CompletedAt = &completed
	switch {
	case fnErr != nil:
		run.Status = domain.RunFailed
		msg := fnErr.Error()
		run.ErrorMessage = &msg
	case outcome.ItemsFailed > 0:
		run.Status = domain.RunPartial
	default:
		run.Status = domain.RunSuccess
	}
	if err := e.Repo.CompleteRun(ctx, run); err != nil {
		if fnErr != nil {
			return run, fnErr
		}
		return run, err
	}
	if err := e.Events.Append(ctx, nil, "run.completed", workspaceID, "run", run.RunID, events.EventPayload{
		"status":          run.Status,
		"items_processed": run.ItemsProcessed,
		"items_failed":    run.ItemsFailed,
	}); err != nil && fnErr == nil {
		return run, err
	}
	return run, fnErr
}

// RunUpsert executes a recorded batch upsert.
func (e Engine) RunUpsert(ctx context.Context, workspaceID string, items []domain.IncomingRecord, opts UpsertOptions) (domain.SyncRun, domain.UpsertResult, error) {
	var res domain.UpsertResult
	run, err := e.WithRun(ctx, domain.RunKindUpsert, workspaceID, nil, func(ctx context.Context) (domain.RunOutcome, error) {
		var err error
		res, err = e.UpsertBatch(ctx, workspaceID, items, opts)
		return domain.RunOutcome{
			ItemsProcessed: res.Total,
			ItemsCreated:   res.Created,
			ItemsUpdated:   res.Updated,
			ItemsFailed:    res.Failed,
		}, err
	})
	return run, res, err
}

// RunRankingSync executes a recorded ranking sync. With items it applies
// the given ordering; without, it extracts the board from the product
// tool first. Tracker push failures count as failed items, turning the
// run partial while the local ranks stay applied. An item whose push
// failed moves from the updated count to the failed count so the counts
// never exceed the processed total.
func (e Engine) RunRankingSync(ctx context.Context, workspaceID, boardID string, items []domain.RankedItem, opts RankingOptions) (domain.SyncRun, domain.RankingResult, error) {
	var res domain.RankingResult
	run, err := e.WithRun(ctx, domain.RunKindRanking, workspaceID, &boardID, func(ctx context.Context) (domain.RunOutcome, error) {
		var err error
		if items != nil {
			res, err = e.ApplyRanking(ctx, workspaceID, boardID, items, opts)
		} else {
			res, err = e.SyncBoardRanking(ctx, workspaceID, boardID, opts)
		}
		updated := res.Updated - len(res.TrackerErrors)
		if updated < 0 {
			updated = 0
		}
		return domain.RunOutcome{
			ItemsProcessed: res.Total,
			ItemsCreated:   res.Created,
			ItemsUpdated:   updated,
			ItemsFailed:    res.Failed + len(res.TrackerErrors),
		}, err
	})
	return run, res, err
}

// RunBidirectionalSync executes a recorded bidirectional pass.
func (e Engine) RunBidirectionalSync(ctx context.Context, workspaceID string) (domain.SyncRun, domain.BidirectionalResult, error) {
	var res domain.BidirectionalResult
	run, err := e.WithRun(ctx, domain.RunKindBidirectional, workspaceID, nil, func(ctx context.Context) (domain.RunOutcome, error) {
		var err error
		res, err = e.BidirectionalSync(ctx, workspaceID)
		return domain.RunOutcome{
			ItemsProcessed: res.Total,
			ItemsUpdated:   res.FastForwarded,
			ItemsFailed:    res.Failed,
		}, err
	})
	return run, res, err
}

// ListRuns returns recent runs, newest first.
func (e Engine) ListRuns(ctx context.Context, workspaceID string, limit int) ([]domain.SyncRun, error) {
	if limit <= 0 && e.Config != nil && e.Config.Sync.RunHistoryLimit > 0 {
		limit = e.Config.Sync.RunHistoryLimit
	}
	return e.Repo.ListRuns(ctx, workspaceID, limit)
}

func (e Engine) GetRun(ctx context.Context, runID string) (domain.SyncRun, error) {
	return e.Repo.GetRun(ctx, runID)
}
