package extsys

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

	"planbridge/internal/domain"
)

// TrackerHTTP talks to the work-item tracker's REST API.
type TrackerHTTP struct {
	BaseURL       string
	Organization  string
	Project       string
	OrderingField string
	PAT           string
	HTTPClient    *http.Client
	Timeout       time.Duration
}

func NewTrackerHTTP(baseURL, organization, project, orderingField string) *TrackerHTTP {
	return &TrackerHTTP{
		BaseURL:       baseURL,
		Organization:  organization,
		Project:       project,
		OrderingField: orderingField,
		Timeout:       15 * time.Second,
	}
}

func (t *TrackerHTTP) SetOrderingField(ctx context.Context, externalIDB string, rank int) error {
	body := []map[string]any{
		{
			"op":    "replace",
			"path":  "/fields/" + t.OrderingField,
			"value": rank,
		},
	}
	endpoint := fmt.Sprintf("%s/%s/workitems/%s", url.PathEscape(t.Organization), url.PathEscape(t.Project), url.PathEscape(externalIDB))
	return t.do(ctx, http.MethodPatch, endpoint, body, nil)
}

func (t *TrackerHTTP) FetchRecord(ctx context.Context, externalIDB string) (domain.Snapshot, error) {
	var resp struct {
		Fields struct {
			Title       string          `json:"title"`
			Description string          `json:"description"`
			State       json.RawMessage `json:"state"`
		} `json:"fields"`
	}
	endpoint := fmt.Sprintf("%s/%s/workitems/%s", url.PathEscape(t.Organization), url.PathEscape(t.Project), url.PathEscape(externalIDB))
	if err := t.do(ctx, http.MethodGet, endpoint, nil, &resp); err != nil {
		return domain.Snapshot{}, err
	}
	return domain.Snapshot{
		Title:       resp.Fields.Title,
		Body:        resp.Fields.Description,
		StatusLabel: normalizeStatus(resp.Fields.State),
	}, nil
}

func (t *TrackerHTTP) do(ctx context.Context, method, endpoint string, body, out any) error {
	if t.HTTPClient == nil {
		t.HTTPClient = &http.Client{Timeout: t.Timeout}
	}
	u := strings.TrimRight(t.BaseURL, "/") + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, u, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if t.PAT != "" {
		req.SetBasicAuth("", t.PAT)
	}
	resp, err := t.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		b, _ := io.ReadAll(resp.Body)
		return &AuthError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}
