package extsys

import (
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

// ProductHTTP talks to the product tool's private board API using a
// scraping-derived bearer token. The token is supplied per call because
// its lifecycle is owned by the token tracker, not the client.
type ProductHTTP struct {
	BaseURL    string
	HTTPClient *http.Client
	Timeout    time.Duration
}

func NewProductHTTP(baseURL string) *ProductHTTP {
	return &ProductHTTP{
		BaseURL: baseURL,
		Timeout: 15 * time.Second,
	}
}

// boardItem is the wire shape of one board row. Status arrives either as a
// bare string or as an object with a name; both collapse to a label here.
type boardItem struct {
	ID     string          `json:"id"`
	Name   string          `json:"name"`
	Status json.RawMessage `json:"status"`
}

func (p *ProductHTTP) FetchBoardOrdering(ctx context.Context, boardID, bearerToken string) ([]domain.RankedItem, error) {
	var resp struct {
		Items []boardItem `json:"items"`
	}
	endpoint := fmt.Sprintf("boards/%s/items?sort=position", url.PathEscape(boardID))
	if err := p.do(ctx, http.MethodGet, endpoint, bearerToken, &resp); err != nil {
		return nil, err
	}
	items := make([]domain.RankedItem, 0, len(resp.Items))
	for i, it := range resp.Items {
		items = append(items, domain.RankedItem{
			ExternalIDA: it.ID,
			Rank:        i + 1,
			DisplayName: it.Name,
		})
	}
	return items, nil
}

func (p *ProductHTTP) FetchRecord(ctx context.Context, externalIDA string) (domain.Snapshot, error) {
	var resp struct {
		Name        string          `json:"name"`
		Description string          `json:"description"`
		Status      json.RawMessage `json:"status"`
	}
	endpoint := fmt.Sprintf("features/%s", url.PathEscape(externalIDA))
	if err := p.do(ctx, http.MethodGet, endpoint, "", &resp); err != nil {
		return domain.Snapshot{}, err
	}
	return domain.Snapshot{
		Title:       resp.Name,
		Body:        resp.Description,
		StatusLabel: normalizeStatus(resp.Status),
	}, nil
}

// normalizeStatus collapses the tool's loose status encoding (a string, or
// an object carrying a name) into one canonical label.
func normalizeStatus(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var obj struct {
		Name string `json:"name"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil {
		return obj.Name
	}
	return ""
}

func (p *ProductHTTP) do(ctx context.Context, method, endpoint, bearerToken string, out any) error {
	if p.HTTPClient == nil {
		p.HTTPClient = &http.Client{Timeout: p.Timeout}
	}
	u := strings.TrimRight(p.BaseURL, "/") + "/" + strings.TrimLeft(endpoint, "/")
	req, err := http.NewRequestWithContext(ctx, method, u, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if bearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+bearerToken)
	}
	resp, err := p.HTTPClient.Do(req)
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
