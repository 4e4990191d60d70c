package domain

// SyncStatus values for a synced record.
const (
	StatusSynced   = "synced"
	StatusConflict = "conflict"
	StatusPending  = "pending"
	StatusFailed   = "failed"
)

// SyncRun kinds and statuses.
const (
	RunKindUpsert        = "upsert"
	RunKindRanking       = "ranking"
	RunKindBidirectional = "bidirectional"

	RunInProgress = "in_progress"
	RunSuccess    = "success"
	RunFailed     = "failed"
	RunPartial    = "partial"
)

// Conflict resolutions.
const (
	ResolutionKeptA = "kept_a"
	ResolutionKeptB = "kept_b"
)

// SyncedRecord is a planning item mirrored from the product tool and
// optionally linked to a tracker work item.
type SyncedRecord struct {
	InternalID         string  `json:"internal_id"`
	ExternalIDA        string  `json:"external_id_a"`
	ExternalIDB        *string `json:"external_id_b,omitempty"`
	WorkspaceID        string  `json:"workspace_id"`
	BoardID            *string `json:"board_id,omitempty"`
	Title              string  `json:"title"`
	Body               string  `json:"body,omitempty"`
	StatusLabel        string  `json:"status_label,omitempty"`
	Rank               *int    `json:"rank,omitempty"`
	PreviousRank       *int    `json:"previous_rank,omitempty"`
	RankChangedAt      *string `json:"rank_changed_at,omitempty" format:"date-time"`
	LastSyncedAt       *string `json:"last_synced_at,omitempty" format:"date-time"`
	SyncedSnapshotJSON *string `json:"synced_snapshot_json,omitempty"`
	SyncStatus         string  `json:"sync_status" enum:"synced,conflict,pending,failed"`
	Version            int64   `json:"version"`
	Archived           bool    `json:"archived,omitempty"`
	CreatedAt          string  `json:"created_at" format:"date-time"`
	UpdatedAt          string  `json:"updated_at" format:"date-time"`
}

// IncomingRecord is one item of an extraction batch handed to the upsert
// engine. WorkspaceID may override the batch-level workspace for
// multi-tenant batches.
type IncomingRecord struct {
	ExternalIDA string  `json:"external_id_a"`
	ExternalIDB *string `json:"external_id_b,omitempty"`
	WorkspaceID string  `json:"workspace_id,omitempty"`
	Title       string  `json:"title"`
	Body        string  `json:"body,omitempty"`
	StatusLabel string  `json:"status_label,omitempty"`
}

// Snapshot is the normalized view of a record in either external system.
// Both client adapters reduce their payloads to this shape before the core
// sees them.
type Snapshot struct {
	Title       string `json:"title"`
	Body        string `json:"body,omitempty"`
	StatusLabel string `json:"status_label,omitempty"`
}

// RankedItem is one row of an extracted board ordering, rank ascending
// from 1.
type RankedItem struct {
	ExternalIDA string `json:"external_id_a"`
	Rank        int    `json:"rank"`
	DisplayName string `json:"display_name,omitempty"`
}

// SyncRun is the audit record of one sync invocation. Written only by the
// run recorder; read-only everywhere else.
type SyncRun struct {
	RunID          string  `json:"run_id"`
	WorkspaceID    string  `json:"workspace_id"`
	BoardID        *string `json:"board_id,omitempty"`
	Kind           string  `json:"kind" enum:"upsert,ranking,bidirectional"`
	Status         string  `json:"status" enum:"in_progress,success,failed,partial"`
	ItemsProcessed int     `json:"items_processed"`
	ItemsCreated   int     `json:"items_created"`
	ItemsUpdated   int     `json:"items_updated"`
	ItemsFailed    int     `json:"items_failed"`
	ErrorMessage   *string `json:"error_message,omitempty"`
	StartedAt      string  `json:"started_at" format:"date-time"`
	CompletedAt    *string `json:"completed_at,omitempty" format:"date-time"`
}

// RunOutcome is what a sync operation reports back to the run recorder.
type RunOutcome struct {
	ItemsProcessed int
	ItemsCreated   int
	ItemsUpdated   int
	ItemsFailed    int
}

// SyncConflict captures a divergence between the two external systems for
// one record. version_a/version_b are full snapshots at detection time.
type SyncConflict struct {
	ConflictID   string  `json:"conflict_id"`
	RecordID     string  `json:"record_id"`
	VersionAJSON string  `json:"version_a_json"`
	VersionBJSON string  `json:"version_b_json"`
	Status       string  `json:"status" enum:"pending,resolved"`
	Resolution   *string `json:"resolution,omitempty" enum:"kept_a,kept_b"`
	DetectedAt   string  `json:"detected_at" format:"date-time"`
	ResolvedAt   *string `json:"resolved_at,omitempty" format:"date-time"`
}

// AuthToken is a scraping-derived credential used for board extraction.
// The raw bearer value never leaves the process through serialization.
type AuthToken struct {
	TokenID     string  `json:"token_id"`
	Secret      string  `json:"-"`
	WorkspaceID string  `json:"workspace_id"`
	BoardID     string  `json:"board_id"`
	IsValid     bool    `json:"is_valid"`
	ExpiresAt   string  `json:"expires_at" format:"date-time"`
	LastUsedAt  *string `json:"last_used_at,omitempty" format:"date-time"`
	CreatedAt   string  `json:"created_at" format:"date-time"`
}

// TokenStatus is the validity view returned to callers. Absence of a token
// is a normal state, reported as IsValid=false.
type TokenStatus struct {
	IsValid    bool    `json:"is_valid"`
	TokenID    string  `json:"token_id,omitempty"`
	ExpiresAt  *string `json:"expires_at,omitempty" format:"date-time"`
	LastUsedAt *string `json:"last_used_at,omitempty" format:"date-time"`
}

// ItemError records a per-item failure inside a batch.
type ItemError struct {
	ExternalIDA string `json:"external_id_a,omitempty"`
	Message     string `json:"message"`
}

// UpsertResult reports what a batch upsert did. Partial failure is data
// here, not an error.
type UpsertResult struct {
	Total     int         `json:"total"`
	Created   int         `json:"created"`
	Updated   int         `json:"updated"`
	Unchanged int         `json:"unchanged"`
	Failed    int         `json:"failed"`
	Errors    []ItemError `json:"errors,omitempty"`
}

// RankChange is one diff entry of a ranking sync.
type RankChange struct {
	ExternalIDA string `json:"external_id_a"`
	ExternalIDB string `json:"external_id_b,omitempty"`
	OldRank     *int   `json:"old_rank,omitempty"`
	NewRank     int    `json:"new_rank"`
}

// RankingResult reports a ranking sync. In preview mode Changes carries the
// would-be diff and nothing was persisted.
type RankingResult struct {
	Total         int          `json:"total"`
	Created       int          `json:"created"`
	Updated       int          `json:"updated"`
	Unchanged     int          `json:"unchanged"`
	Failed        int          `json:"failed"`
	Changes       []RankChange `json:"changes,omitempty"`
	TrackerErrors []ItemError  `json:"tracker_errors,omitempty"`
	Preview       bool         `json:"preview,omitempty"`
}

// BidirectionalResult reports a bidirectional sync pass.
type BidirectionalResult struct {
	Total         int `json:"total"`
	FastForwarded int `json:"fast_forwarded"`
	Conflicts     int `json:"conflicts"`
	Unchanged     int `json:"unchanged"`
	Failed        int `json:"failed"`
}

// Event is one row of the audit event log.
type Event struct {
	ID          int64  `json:"id"`
	TS          string `json:"ts" format:"date-time"`
	Type        string `json:"type"`
	WorkspaceID string `json:"workspace_id,omitempty"`
	EntityKind  string `json:"entity_kind"`
	EntityID    string `json:"entity_id,omitempty"`
	Payload     string `json:"payload_json"`
}
