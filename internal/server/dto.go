package server

import (
	"planbridge/internal/domain"
)

// Request payloads

type UpsertBatchRequest struct {
	Items []domain.IncomingRecord `json:"items"`
	// ChunkSize overrides the configured chunk size for this batch.
	ChunkSize int `json:"chunk_size,omitempty" minimum:"0"`
}

type RankingSyncRequest struct {
	// Items is the full board ordering, ranks contiguous from 1. When
	// omitted the ordering is extracted from the product tool using the
	// board's registered token.
	Items   []domain.RankedItem `json:"items,omitempty"`
	Preview bool                `json:"preview,omitempty"`
	Push    bool                `json:"push,omitempty"`
}

type ResolveConflictRequest struct {
	Resolution string `json:"resolution" enum:"kept_a,kept_b"`
}

type RegisterTokenRequest struct {
	Token string `json:"token"`
}

// Response payloads

type UpsertBatchResponse struct {
	Run    domain.SyncRun      `json:"run"`
	Result domain.UpsertResult `json:"result"`
}

type RankingSyncResponse struct {
	Run    *domain.SyncRun      `json:"run,omitempty"`
	Result domain.RankingResult `json:"result"`
}

type BidirectionalResponse struct {
	Run    domain.SyncRun             `json:"run"`
	Result domain.BidirectionalResult `json:"result"`
}

type WorkspaceStatusResponse struct {
	WorkspaceID      string           `json:"workspace_id"`
	RecordCounts     map[string]int   `json:"record_counts"`
	PendingConflicts int              `json:"pending_conflicts"`
	LastRuns         []domain.SyncRun `json:"last_runs"`
}

type paginatedRecords struct {
	Items      []domain.SyncedRecord `json:"items"`
	NextCursor string                `json:"next_cursor,omitempty"`
}
