package planbridgesdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal Planbridge HTTP API client.
type Client struct {
	BaseURL     string
	WorkspaceID string
	APIKey      string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL, workspaceID string) *Client {
	return &Client{
		BaseURL:     baseURL,
		WorkspaceID: workspaceID,
		Timeout:     10 * time.Second,
	}
}

// IncomingRecord is one item of an upsert batch.
type IncomingRecord struct {
	ExternalIDA string  `json:"external_id_a"`
	ExternalIDB *string `json:"external_id_b,omitempty"`
	Title       string  `json:"title"`
	Body        string  `json:"body,omitempty"`
	StatusLabel string  `json:"status_label,omitempty"`
}

// SyncedRecord is the API record model (partial).
type SyncedRecord struct {
	InternalID  string  `json:"internal_id"`
	ExternalIDA string  `json:"external_id_a"`
	ExternalIDB *string `json:"external_id_b,omitempty"`
	Title       string  `json:"title"`
	StatusLabel string  `json:"status_label,omitempty"`
	Rank        *int    `json:"rank,omitempty"`
	SyncStatus  string  `json:"sync_status"`
	Version     int64   `json:"version"`
}

// RankedItem is one row of a board ordering.
type RankedItem struct {
	ExternalIDA string `json:"external_id_a"`
	Rank        int    `json:"rank"`
	DisplayName string `json:"display_name,omitempty"`
}

// SyncRun is the audit record of one sync invocation.
type SyncRun struct {
	RunID          string `json:"run_id"`
	Kind           string `json:"kind"`
	Status         string `json:"status"`
	ItemsProcessed int    `json:"items_processed"`
	ItemsCreated   int    `json:"items_created"`
	ItemsUpdated   int    `json:"items_updated"`
	ItemsFailed    int    `json:"items_failed"`
	StartedAt      string `json:"started_at"`
}

// ItemError records a per-item failure inside a batch.
type ItemError struct {
	ExternalIDA string `json:"external_id_a,omitempty"`
	Message     string `json:"message"`
}

// UpsertResult reports what a batch upsert did.
type UpsertResult struct {
	Total     int         `json:"total"`
	Created   int         `json:"created"`
	Updated   int         `json:"updated"`
	Unchanged int         `json:"unchanged"`
	Failed    int         `json:"failed"`
	Errors    []ItemError `json:"errors,omitempty"`
}

// UpsertResponse pairs the run with its result.
type UpsertResponse struct {
	Run    SyncRun      `json:"run"`
	Result UpsertResult `json:"result"`
}

// RankChange is one diff entry of a ranking sync.
type RankChange struct {
	ExternalIDA string `json:"external_id_a"`
	OldRank     *int   `json:"old_rank,omitempty"`
	NewRank     int    `json:"new_rank"`
}

// RankingResult reports a ranking sync.
type RankingResult struct {
	Total         int          `json:"total"`
	Created       int          `json:"created"`
	Updated       int          `json:"updated"`
	Unchanged     int          `json:"unchanged"`
	Changes       []RankChange `json:"changes,omitempty"`
	TrackerErrors []ItemError  `json:"tracker_errors,omitempty"`
	Preview       bool         `json:"preview,omitempty"`
}

// RankingResponse pairs the optional run with its result.
type RankingResponse struct {
	Run    *SyncRun      `json:"run,omitempty"`
	Result RankingResult `json:"result"`
}

// SyncConflict is a two-sided divergence awaiting resolution.
type SyncConflict struct {
	ConflictID   string  `json:"conflict_id"`
	RecordID     string  `json:"record_id"`
	VersionAJSON string  `json:"version_a_json"`
	VersionBJSON string  `json:"version_b_json"`
	Status       string  `json:"status"`
	Resolution   *string `json:"resolution,omitempty"`
	DetectedAt   string  `json:"detected_at"`
}

// TokenStatus reports a board token's validity.
type TokenStatus struct {
	IsValid    bool    `json:"is_valid"`
	TokenID    string  `json:"token_id,omitempty"`
	ExpiresAt  *string `json:"expires_at,omitempty"`
	LastUsedAt *string `json:"last_used_at,omitempty"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// PaginatedRecords wraps record listings with a cursor.
type PaginatedRecords struct {
	Items      []SyncedRecord `json:"items"`
	NextCursor string         `json:"next_cursor"`
}

// UpsertRecords submits an extraction batch.
func (c *Client) UpsertRecords(ctx context.Context, items []IncomingRecord) (UpsertResponse, error) {
	body := map[string]any{"items": items}
	var resp UpsertResponse
	err := c.do(ctx, http.MethodPost, c.workspacePath("records/upsert"), body, &resp)
	return resp, err
}

// Records returns a page of synced records.
func (c *Client) Records(ctx context.Context, limit int, cursor string) (PaginatedRecords, error) {
	endpoint := c.workspacePath("records")
	if limit > 0 {
		endpoint = fmt.Sprintf("%s?limit=%d", endpoint, limit)
	}
	if cursor != "" {
		sep := "?"
		if strings.Contains(endpoint, "?") {
			sep = "&"
		}
		endpoint = fmt.Sprintf("%s%scursor=%s", endpoint, sep, url.QueryEscape(cursor))
	}
	var resp PaginatedRecords
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// SyncRanking applies a board ordering, or extracts one when items is nil.
func (c *Client) SyncRanking(ctx context.Context, boardID string, items []RankedItem, preview, push bool) (RankingResponse, error) {
	body := map[string]any{"preview": preview, "push": push}
	if items != nil {
		body["items"] = items
	}
	var resp RankingResponse
	endpoint := c.workspacePath(fmt.Sprintf("boards/%s/ranking/sync", url.PathEscape(boardID)))
	err := c.do(ctx, http.MethodPost, endpoint, body, &resp)
	return resp, err
}

// Conflicts lists conflicts, optionally filtered by status.
func (c *Client) Conflicts(ctx context.Context, status string) ([]SyncConflict, error) {
	endpoint := c.workspacePath("conflicts")
	if status != "" {
		endpoint = fmt.Sprintf("%s?status=%s", endpoint, url.QueryEscape(status))
	}
	var resp []SyncConflict
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// ResolveConflict keeps one side of a conflict.
func (c *Client) ResolveConflict(ctx context.Context, conflictID, resolution string) (SyncedRecord, error) {
	body := map[string]any{"resolution": resolution}
	var resp SyncedRecord
	endpoint := c.workspacePath(fmt.Sprintf("conflicts/%s/resolve", url.PathEscape(conflictID)))
	err := c.do(ctx, http.MethodPost, endpoint, body, &resp)
	return resp, err
}

// Runs lists recent sync runs.
func (c *Client) Runs(ctx context.Context, limit int) ([]SyncRun, error) {
	endpoint := c.workspacePath("runs")
	if limit > 0 {
		endpoint = fmt.Sprintf("%s?limit=%d", endpoint, limit)
	}
	var resp []SyncRun
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// TokenStatus reports the extraction token state for a board.
func (c *Client) TokenStatus(ctx context.Context, boardID string) (TokenStatus, error) {
	var resp TokenStatus
	endpoint := c.workspacePath(fmt.Sprintf("boards/%s/token", url.PathEscape(boardID)))
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// RegisterToken stores a scraped bearer token for a board.
func (c *Client) RegisterToken(ctx context.Context, boardID, token string) error {
	body := map[string]any{"token": token}
	endpoint := c.workspacePath(fmt.Sprintf("boards/%s/token", url.PathEscape(boardID)))
	return c.do(ctx, http.MethodPost, endpoint, body, nil)
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) workspacePath(p string) string {
	workspace := url.PathEscape(c.WorkspaceID)
	return fmt.Sprintf("v0/workspaces/%s/%s", workspace, strings.TrimLeft(p, "/"))
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
