package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"planbridge/internal/config"
	"planbridge/internal/db"
	"planbridge/internal/domain"
	"planbridge/internal/engine"
	"planbridge/internal/extsys"
	"planbridge/internal/migrate"
)

type testServer struct {
	URL     string
	Engine  engine.Engine
	Product *extsys.FakeProduct
	Tracker *extsys.FakeTracker
	client  *http.Client
	close   func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

func newTestServer(t *testing.T, auth AuthConfig) (*testServer, func()) {
	t.Helper()
	workspace := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	cfg := config.Default("ws-1")
	e := engine.New(conn, cfg)
	e.Now = func() time.Time { return time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC) }
	product := extsys.NewFakeProduct()
	tracker := extsys.NewFakeTracker()
	e.Product = product
	e.Tracker = tracker
	if err := e.Repo.UpsertWorkspaceConfig(context.Background(), "ws-1", cfg); err != nil {
		t.Fatalf("seed workspace config: %v", err)
	}
	handler, err := New(Config{Engine: e, BasePath: "/v0", Auth: auth})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	testSrv := &testServer{
		URL:     "http://" + ln.Addr().String(),
		Engine:  e,
		Product: product,
		Tracker: tracker,
		client:  &http.Client{},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			conn.Close()
		},
	}
	return testSrv, func() { testSrv.Close() }
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, data
}

func errorCode(t *testing.T, data []byte) string {
	t.Helper()
	var envelope struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		t.Fatalf("unmarshal error envelope: %v (%s)", err, string(data))
	}
	return envelope.Error.Code
}

func TestUpsertAndListRecords(t *testing.T) {
	srv, cleanup := newTestServer(t, AuthConfig{})
	defer cleanup()
	client := srv.Client()
	base := srv.URL + "/v0/workspaces/ws-1"

	payload := map[string]any{"items": []map[string]any{
		{"external_id_a": "a-1", "title": "First", "body": "body"},
		{"external_id_a": "a-2", "title": "Second", "body": "body"},
	}}
	res, data := doJSON(t, client, http.MethodPost, base+"/records/upsert", payload, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("upsert status %d: %s", res.StatusCode, string(data))
	}
	var created UpsertBatchResponse
	if err := json.Unmarshal(data, &created); err != nil {
		t.Fatalf("unmarshal upsert: %v", err)
	}
	if created.Result.Created != 2 || created.Run.Status != domain.RunSuccess {
		t.Fatalf("unexpected upsert response: %+v", created)
	}

	// same batch again is a recorded no-op
	res, data = doJSON(t, client, http.MethodPost, base+"/records/upsert", payload, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("re-upsert status %d: %s", res.StatusCode, string(data))
	}
	var again UpsertBatchResponse
	_ = json.Unmarshal(data, &again)
	if again.Result.Unchanged != 2 || again.Result.Created != 0 {
		t.Fatalf("expected idempotent re-upsert, got %+v", again.Result)
	}

	res, data = doJSON(t, client, http.MethodGet, base+"/records", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("list status %d: %s", res.StatusCode, string(data))
	}
	var page paginatedRecords
	if err := json.Unmarshal(data, &page); err != nil {
		t.Fatalf("unmarshal list: %v", err)
	}
	if len(page.Items) != 2 {
		t.Fatalf("expected 2 records, got %d", len(page.Items))
	}

	res, data = doJSON(t, client, http.MethodGet, base+"/records/"+page.Items[0].InternalID, nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("get record status %d: %s", res.StatusCode, string(data))
	}
	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/workspaces/other/records/"+page.Items[0].InternalID, nil, nil)
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 for wrong workspace, got %d: %s", res.StatusCode, string(data))
	}
}

func TestRankingValidationAndTokenErrors(t *testing.T) {
	srv, cleanup := newTestServer(t, AuthConfig{})
	defer cleanup()
	client := srv.Client()
	base := srv.URL + "/v0/workspaces/ws-1/boards/board-1"

	// gapped ordering is rejected before any write
	res, data := doJSON(t, client, http.MethodPost, base+"/ranking/sync", map[string]any{
		"items": []map[string]any{
			{"external_id_a": "a-1", "rank": 1},
			{"external_id_a": "a-2", "rank": 3},
		},
	}, nil)
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", res.StatusCode, string(data))
	}
	if code := errorCode(t, data); code != "bad_request" {
		t.Fatalf("expected bad_request code, got %s", code)
	}

	// extraction without a registered token fails fast
	res, data = doJSON(t, client, http.MethodPost, base+"/ranking/sync", map[string]any{}, nil)
	if res.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409, got %d: %s", res.StatusCode, string(data))
	}
	if code := errorCode(t, data); code != "no_valid_token" {
		t.Fatalf("expected no_valid_token code, got %s", code)
	}
}

func TestRankingSyncRecordsRun(t *testing.T) {
	srv, cleanup := newTestServer(t, AuthConfig{})
	defer cleanup()
	client := srv.Client()
	base := srv.URL + "/v0/workspaces/ws-1"

	res, data := doJSON(t, client, http.MethodPost, base+"/boards/board-1/ranking/sync", map[string]any{
		"items": []map[string]any{
			{"external_id_a": "a-1", "rank": 1, "display_name": "First"},
			{"external_id_a": "a-2", "rank": 2, "display_name": "Second"},
		},
	}, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("ranking status %d: %s", res.StatusCode, string(data))
	}
	var out RankingSyncResponse
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if out.Run == nil || out.Run.Status != domain.RunSuccess {
		t.Fatalf("expected recorded success run, got %+v", out.Run)
	}
	if out.Result.Created != 2 {
		t.Fatalf("expected 2 created, got %+v", out.Result)
	}

	// preview leaves no run behind
	res, data = doJSON(t, client, http.MethodPost, base+"/boards/board-1/ranking/sync", map[string]any{
		"preview": true,
		"items": []map[string]any{
			{"external_id_a": "a-2", "rank": 1},
			{"external_id_a": "a-1", "rank": 2},
		},
	}, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("preview status %d: %s", res.StatusCode, string(data))
	}
	var preview RankingSyncResponse
	_ = json.Unmarshal(data, &preview)
	if preview.Run != nil {
		t.Fatalf("preview must not record a run: %+v", preview.Run)
	}

	res, data = doJSON(t, client, http.MethodGet, base+"/runs", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("list runs status %d", res.StatusCode)
	}
	var runs []domain.SyncRun
	_ = json.Unmarshal(data, &runs)
	if len(runs) != 1 {
		t.Fatalf("expected exactly 1 run, got %d", len(runs))
	}
}

func TestConflictResolutionFlow(t *testing.T) {
	srv, cleanup := newTestServer(t, AuthConfig{})
	defer cleanup()
	client := srv.Client()
	ctx := context.Background()
	base := srv.URL + "/v0/workspaces/ws-1"

	extB := "b-1"
	if _, err := srv.Engine.UpsertBatch(ctx, "ws-1", []domain.IncomingRecord{
		{ExternalIDA: "a-1", ExternalIDB: &extB, Title: "Original", Body: "body", StatusLabel: "Open"},
	}, engine.UpsertOptions{}); err != nil {
		t.Fatalf("seed record: %v", err)
	}
	rec, err := srv.Engine.Repo.GetByExternalID(ctx, "ws-1", "a-1")
	if err != nil {
		t.Fatal(err)
	}
	snapA := domain.Snapshot{Title: "Product edit", Body: "body", StatusLabel: "Open"}
	snapB := domain.Snapshot{Title: "Tracker edit", Body: "body", StatusLabel: "Open"}
	if _, err := srv.Engine.DetectConflict(ctx, rec, snapA, snapB); err != nil {
		t.Fatalf("seed conflict: %v", err)
	}

	res, data := doJSON(t, client, http.MethodGet, base+"/conflicts?status=pending", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("list conflicts status %d: %s", res.StatusCode, string(data))
	}
	var conflicts []domain.SyncConflict
	if err := json.Unmarshal(data, &conflicts); err != nil {
		t.Fatalf("unmarshal conflicts: %v", err)
	}
	if len(conflicts) != 1 {
		t.Fatalf("expected 1 pending conflict, got %d", len(conflicts))
	}

	res, data = doJSON(t, client, http.MethodPost, base+"/conflicts/"+conflicts[0].ConflictID+"/resolve", map[string]any{
		"resolution": "kept_a",
	}, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("resolve status %d: %s", res.StatusCode, string(data))
	}
	var resolved domain.SyncedRecord
	_ = json.Unmarshal(data, &resolved)
	if resolved.Title != "Product edit" || resolved.SyncStatus != domain.StatusSynced {
		t.Fatalf("resolution not applied: %+v", resolved)
	}

	// second resolve is refused
	res, data = doJSON(t, client, http.MethodPost, base+"/conflicts/"+conflicts[0].ConflictID+"/resolve", map[string]any{
		"resolution": "kept_b",
	}, nil)
	if res.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409 on re-resolve, got %d: %s", res.StatusCode, string(data))
	}
	if code := errorCode(t, data); code != "invalid_state" {
		t.Fatalf("expected invalid_state code, got %s", code)
	}
}

func TestTokenLifecycleEndpoints(t *testing.T) {
	srv, cleanup := newTestServer(t, AuthConfig{})
	defer cleanup()
	client := srv.Client()
	base := srv.URL + "/v0/workspaces/ws-1/boards/board-1/token"

	res, data := doJSON(t, client, http.MethodGet, base, nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status %d: %s", res.StatusCode, string(data))
	}
	var status domain.TokenStatus
	_ = json.Unmarshal(data, &status)
	if status.IsValid {
		t.Fatalf("expected no token yet")
	}

	res, data = doJSON(t, client, http.MethodPost, base, map[string]any{"token": "scraped-bearer-value"}, nil)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("register status %d: %s", res.StatusCode, string(data))
	}
	if strings.Contains(string(data), "scraped-bearer-value") {
		t.Fatalf("raw token leaked into response: %s", string(data))
	}

	res, data = doJSON(t, client, http.MethodGet, base, nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status %d", res.StatusCode)
	}
	_ = json.Unmarshal(data, &status)
	if !status.IsValid {
		t.Fatalf("expected registered token to be valid: %s", string(data))
	}

	res, data = doJSON(t, client, http.MethodDelete, base, nil, nil)
	if res.StatusCode != http.StatusNoContent {
		t.Fatalf("invalidate status %d: %s", res.StatusCode, string(data))
	}
	res, data = doJSON(t, client, http.MethodDelete, base, nil, nil)
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 on second invalidate, got %d: %s", res.StatusCode, string(data))
	}
}

func TestBidirectionalEndpoint(t *testing.T) {
	srv, cleanup := newTestServer(t, AuthConfig{})
	defer cleanup()
	client := srv.Client()
	ctx := context.Background()

	extB := "b-1"
	if _, err := srv.Engine.UpsertBatch(ctx, "ws-1", []domain.IncomingRecord{
		{ExternalIDA: "a-1", ExternalIDB: &extB, Title: "Original", Body: "body", StatusLabel: "Open"},
	}, engine.UpsertOptions{}); err != nil {
		t.Fatal(err)
	}
	srv.Product.Records["a-1"] = domain.Snapshot{Title: "Moved", Body: "body", StatusLabel: "Open"}
	srv.Tracker.Records["b-1"] = domain.Snapshot{Title: "Original", Body: "body", StatusLabel: "Open"}

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/workspaces/ws-1/sync/bidirectional", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("bidirectional status %d: %s", res.StatusCode, string(data))
	}
	var out BidirectionalResponse
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if out.Result.FastForwarded != 1 || out.Run.Status != domain.RunSuccess {
		t.Fatalf("unexpected result: %+v", out)
	}
}

func TestAuthModes(t *testing.T) {
	srv, cleanup := newTestServer(t, AuthConfig{JWTSecret: "test-secret", APIKey: "test-key"})
	defer cleanup()
	client := srv.Client()
	statusURL := srv.URL + "/v0/workspaces/ws-1/status"

	// health stays open
	res, _ := doJSON(t, client, http.MethodGet, srv.URL+"/v0/health", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("health should be exempt, got %d", res.StatusCode)
	}

	res, data := doJSON(t, client, http.MethodGet, statusURL, nil, nil)
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 without credentials, got %d: %s", res.StatusCode, string(data))
	}

	res, _ = doJSON(t, client, http.MethodGet, statusURL, nil, map[string]string{"X-Api-Key": "wrong"})
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 with bad key, got %d", res.StatusCode)
	}
	res, data = doJSON(t, client, http.MethodGet, statusURL, nil, map[string]string{"X-Api-Key": "test-key"})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 with api key, got %d: %s", res.StatusCode, string(data))
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   "operator",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}).SignedString([]byte("test-secret"))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	res, data = doJSON(t, client, http.MethodGet, statusURL, nil, map[string]string{"Authorization": "Bearer " + signed})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 with jwt, got %d: %s", res.StatusCode, string(data))
	}

	forged, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject: "operator",
	}).SignedString([]byte("other-secret"))
	if err != nil {
		t.Fatal(err)
	}
	res, _ = doJSON(t, client, http.MethodGet, statusURL, nil, map[string]string{"Authorization": "Bearer " + forged})
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 with forged jwt, got %d", res.StatusCode)
	}
}
