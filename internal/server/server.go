package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"

	"planbridge/internal/config"
	"planbridge/internal/domain"
	"planbridge/internal/engine"
	"planbridge/internal/events"
	"planbridge/internal/repo"
)

// Config for the HTTP API handler.
type Config struct {
	Engine   engine.Engine
	BasePath string
	Auth     AuthConfig
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"stale_version"`
	Message string         `json:"message" example:"stale version"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

type requestKey struct{}
type bodyBytesKey struct{}

// apiError models the error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the Planbridge API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v0"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	huma.DefaultArrayNullable = false
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity && strings.Contains(strings.ToLower(msg), "validation") {
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			details = map[string]any{"errors": errs}
		}
		return newAPIError(status, "", msg, details)
	}

	router := chi.NewRouter()
	router.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			bodyBytes, _ := io.ReadAll(r.Body)
			r.Body = io.NopCloser(bytes.NewBuffer(bodyBytes))
			ctx := context.WithValue(r.Context(), requestKey{}, r)
			ctx = context.WithValue(ctx, bodyBytesKey{}, bodyBytes)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	})
	router.Use(newAuthMiddleware(basePath, cfg.Auth))
	hcfg := huma.DefaultConfig("Planbridge API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = "" // custom Swagger UI below
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerDocs(router, basePath)
	registerHealth(group)
	registerStatus(group, cfg.Engine)
	registerRecords(group, cfg.Engine)
	registerRanking(group, cfg.Engine)
	registerBidirectional(group, cfg.Engine)
	registerRuns(group, cfg.Engine)
	registerConflicts(group, cfg.Engine)
	registerTokens(group, cfg.Engine)
	registerEvents(group, cfg.Engine)
	registerWorkspaceConfig(group, cfg.Engine)
	registerOpenAPI(router, api, basePath)

	return router, nil
}

func newAPIError(status int, code, message string, details map[string]any) huma.StatusError {
	if code == "" {
		code = defaultCodeForStatus(status)
	}
	return &apiError{
		status: status,
		Body: apiErrorBody{
			Code:    code,
			Message: message,
			Details: details,
		},
	}
}

func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	var ve *engine.ValidationError
	if errors.As(err, &ve) {
		return newAPIError(http.StatusBadRequest, "bad_request", err.Error(), nil)
	}
	var ise *engine.InvalidStateError
	if errors.As(err, &ise) {
		return newAPIError(http.StatusConflict, "invalid_state", err.Error(), nil)
	}
	if errors.Is(err, engine.ErrTokenInvalid) {
		return newAPIError(http.StatusConflict, "no_valid_token", err.Error(), nil)
	}
	if errors.Is(err, repo.ErrStaleVersion) {
		return newAPIError(http.StatusConflict, "stale_version", err.Error(), nil)
	}
	if errors.Is(err, repo.ErrNotFound) {
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	}
	msg := err.Error()
	lowered := strings.ToLower(msg)
	if strings.Contains(lowered, "invalid") || strings.Contains(lowered, "missing") || strings.Contains(lowered, "required") {
		return newAPIError(http.StatusBadRequest, "bad_request", msg, nil)
	}
	return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": msg})
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusUnprocessableEntity:
		return "validation_failed"
	case http.StatusForbidden:
		return "forbidden"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

func bodyBytes(ctx context.Context) []byte {
	b, _ := ctx.Value(bodyBytesKey{}).([]byte)
	return b
}

func registerDocs(r chi.Router, basePath string) {
	r.Get("/docs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		io.WriteString(w, swaggerHTML(basePath))
	})
}

func registerOpenAPI(r chi.Router, api huma.API, basePath string) {
	var spec []byte
	specPath := path.Join(basePath, "openapi.json")
	r.Get(specPath, func(w http.ResponseWriter, r *http.Request) {
		if spec == nil {
			oas := api.OpenAPI()
			applyAuthSecurity(oas, basePath)
			spec, _ = json.Marshal(oas)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(spec)
	})
}

func applyAuthSecurity(oas *huma.OpenAPI, basePath string) {
	if oas == nil {
		return
	}
	if oas.Components == nil {
		oas.Components = &huma.Components{}
	}
	if oas.Components.SecuritySchemes == nil {
		oas.Components.SecuritySchemes = map[string]*huma.SecurityScheme{}
	}
	oas.Components.SecuritySchemes["bearerAuth"] = &huma.SecurityScheme{
		Type:         "http",
		Scheme:       "bearer",
		BearerFormat: "JWT",
	}
	oas.Components.SecuritySchemes["apiKeyAuth"] = &huma.SecurityScheme{
		Type: "apiKey",
		In:   "header",
		Name: "X-Api-Key",
	}
	security := []map[string][]string{
		{"bearerAuth": {}},
		{"apiKeyAuth": {}},
	}
	oas.Security = security
	healthPath := path.Join(basePath, "health")
	if !strings.HasPrefix(healthPath, "/") {
		healthPath = "/" + healthPath
	}
	for route, item := range oas.Paths {
		for _, op := range []*huma.Operation{
			item.Get, item.Put, item.Post, item.Delete, item.Options, item.Head, item.Patch, item.Trace,
		} {
			if op == nil {
				continue
			}
			if route == healthPath {
				op.Security = []map[string][]string{}
				continue
			}
			op.Security = security
		}
	}
}

func swaggerHTML(basePath string) string {
	specURL := path.Join("/", path.Join(basePath, "openapi.json"))
	return fmt.Sprintf(`<!doctype html>
<html lang="en">
  <head>
    <meta charset="utf-8"/>
    <meta name="viewport" content="width=device-width, initial-scale=1"/>
    <title>Planbridge API Docs</title>
    <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css" />
  </head>
  <body>
    <div id="swagger-ui"></div>
    <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js" crossorigin></script>
    <script>
      window.onload = () => {
        SwaggerUIBundle({
          url: '%s',
          dom_id: '#swagger-ui'
        });
      };
    </script>
  </body>
</html>`, specURL)
}

func registerHealth(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]string `json:"body"`
	}, error) {
		return &struct {
			Body map[string]string `json:"body"`
		}{Body: map[string]string{"status": "ok"}}, nil
	})
}

func registerStatus(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "workspace-status",
		Method:      http.MethodGet,
		Path:        "/workspaces/{workspace_id}/status",
		Summary:     "Workspace status",
	}, func(ctx context.Context, input *struct {
		WorkspaceID string `path:"workspace_id"`
	}) (*struct {
		Body WorkspaceStatusResponse `json:"body"`
	}, error) {
		counts, err := e.Repo.CountRecordsByStatus(ctx, input.WorkspaceID)
		if err != nil {
			return nil, handleError(err)
		}
		pending, err := e.Repo.ListConflicts(ctx, input.WorkspaceID, "pending", 0)
		if err != nil {
			return nil, handleError(err)
		}
		runs, err := e.ListRuns(ctx, input.WorkspaceID, 5)
		if err != nil {
			return nil, handleError(err)
		}
		if runs == nil {
			runs = []domain.SyncRun{}
		}
		return &struct {
			Body WorkspaceStatusResponse `json:"body"`
		}{Body: WorkspaceStatusResponse{
			WorkspaceID:      input.WorkspaceID,
			RecordCounts:     counts,
			PendingConflicts: len(pending),
			LastRuns:         runs,
		}}, nil
	})
}

func registerRecords(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "upsert-records",
		Method:      http.MethodPost,
		Path:        "/workspaces/{workspace_id}/records/upsert",
		Summary:     "Batch upsert records",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		WorkspaceID string             `path:"workspace_id"`
		Body        UpsertBatchRequest `json:"body"`
	}) (*struct {
		Body UpsertBatchResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		run, res, err := e.RunUpsert(ctx, input.WorkspaceID, input.Body.Items, engine.UpsertOptions{ChunkSize: input.Body.ChunkSize})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body UpsertBatchResponse `json:"body"`
		}{Body: UpsertBatchResponse{Run: run, Result: res}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-records",
		Method:      http.MethodGet,
		Path:        "/workspaces/{workspace_id}/records",
		Summary:     "List records",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		WorkspaceID string `path:"workspace_id"`
		BoardID     string `query:"board_id"`
		Status      string `query:"status"`
		Limit       int    `query:"limit" default:"50"`
		Cursor      string `query:"cursor"`
	}) (*struct {
		Body paginatedRecords `json:"body"`
	}, error) {
		limit := input.Limit
		if limit <= 0 || limit > 200 {
			limit = 50
		}
		records, err := e.Repo.ListRecords(ctx, repo.RecordFilters{
			WorkspaceID: input.WorkspaceID,
			BoardID:     input.BoardID,
			SyncStatus:  input.Status,
			Limit:       limit + 1,
			CursorID:    input.Cursor,
		})
		if err != nil {
			return nil, handleError(err)
		}
		resp := paginatedRecords{Items: []domain.SyncedRecord{}}
		if len(records) > limit {
			records = records[:limit]
			resp.NextCursor = records[limit-1].InternalID
		}
		resp.Items = records
		return &struct {
			Body paginatedRecords `json:"body"`
		}{Body: resp}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-record",
		Method:      http.MethodGet,
		Path:        "/workspaces/{workspace_id}/records/{internal_id}",
		Summary:     "Get record",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		WorkspaceID string `path:"workspace_id"`
		InternalID  string `path:"internal_id"`
	}) (*struct {
		Body domain.SyncedRecord `json:"body"`
	}, error) {
		rec, err := e.Repo.GetByInternalID(ctx, input.InternalID)
		if err != nil {
			return nil, handleError(err)
		}
		if rec.WorkspaceID != input.WorkspaceID {
			return nil, newAPIError(http.StatusNotFound, "not_found", "record not found in workspace", nil)
		}
		return &struct {
			Body domain.SyncedRecord `json:"body"`
		}{Body: rec}, nil
	})
}

func registerRanking(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "sync-ranking",
		Method:      http.MethodPost,
		Path:        "/workspaces/{workspace_id}/boards/{board_id}/ranking/sync",
		Summary:     "Sync board ranking",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusConflict,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		WorkspaceID string             `path:"workspace_id"`
		BoardID     string             `path:"board_id"`
		Body        RankingSyncRequest `json:"body"`
	}) (*struct {
		Body RankingSyncResponse `json:"body"`
	}, error) {
		opts := engine.RankingOptions{PreviewOnly: input.Body.Preview, PushToTracker: input.Body.Push}
		if opts.PreviewOnly {
			// Previews leave no trace, so no run is recorded either.
			var res domain.RankingResult
			var err error
			if input.Body.Items != nil {
				res, err = e.ApplyRanking(ctx, input.WorkspaceID, input.BoardID, input.Body.Items, opts)
			} else {
				res, err = e.SyncBoardRanking(ctx, input.WorkspaceID, input.BoardID, opts)
			}
			if err != nil {
				return nil, handleError(err)
			}
			return &struct {
				Body RankingSyncResponse `json:"body"`
			}{Body: RankingSyncResponse{Result: res}}, nil
		}
		run, res, err := e.RunRankingSync(ctx, input.WorkspaceID, input.BoardID, input.Body.Items, opts)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body RankingSyncResponse `json:"body"`
		}{Body: RankingSyncResponse{Run: &run, Result: res}}, nil
	})
}

func registerBidirectional(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "sync-bidirectional",
		Method:      http.MethodPost,
		Path:        "/workspaces/{workspace_id}/sync/bidirectional",
		Summary:     "Run bidirectional sync",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		WorkspaceID string `path:"workspace_id"`
	}) (*struct {
		Body BidirectionalResponse `json:"body"`
	}, error) {
		run, res, err := e.RunBidirectionalSync(ctx, input.WorkspaceID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body BidirectionalResponse `json:"body"`
		}{Body: BidirectionalResponse{Run: run, Result: res}}, nil
	})
}

func registerRuns(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-runs",
		Method:      http.MethodGet,
		Path:        "/workspaces/{workspace_id}/runs",
		Summary:     "List sync runs",
	}, func(ctx context.Context, input *struct {
		WorkspaceID string `path:"workspace_id"`
		Limit       int    `query:"limit" default:"50"`
	}) (*struct {
		Body []domain.SyncRun `json:"body"`
	}, error) {
		runs, err := e.ListRuns(ctx, input.WorkspaceID, input.Limit)
		if err != nil {
			return nil, handleError(err)
		}
		if runs == nil {
			runs = []domain.SyncRun{}
		}
		return &struct {
			Body []domain.SyncRun `json:"body"`
		}{Body: runs}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-run",
		Method:      http.MethodGet,
		Path:        "/workspaces/{workspace_id}/runs/{run_id}",
		Summary:     "Get sync run",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		WorkspaceID string `path:"workspace_id"`
		RunID       string `path:"run_id"`
	}) (*struct {
		Body domain.SyncRun `json:"body"`
	}, error) {
		run, err := e.GetRun(ctx, input.RunID)
		if err != nil {
			return nil, handleError(err)
		}
		if run.WorkspaceID != input.WorkspaceID {
			return nil, newAPIError(http.StatusNotFound, "not_found", "run not found in workspace", nil)
		}
		return &struct {
			Body domain.SyncRun `json:"body"`
		}{Body: run}, nil
	})
}

func registerConflicts(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-conflicts",
		Method:      http.MethodGet,
		Path:        "/workspaces/{workspace_id}/conflicts",
		Summary:     "List conflicts",
	}, func(ctx context.Context, input *struct {
		WorkspaceID string `path:"workspace_id"`
		Status      string `query:"status"`
		Limit       int    `query:"limit" default:"50"`
	}) (*struct {
		Body []domain.SyncConflict `json:"body"`
	}, error) {
		conflicts, err := e.Repo.ListConflicts(ctx, input.WorkspaceID, input.Status, input.Limit)
		if err != nil {
			return nil, handleError(err)
		}
		if conflicts == nil {
			conflicts = []domain.SyncConflict{}
		}
		return &struct {
			Body []domain.SyncConflict `json:"body"`
		}{Body: conflicts}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-conflict",
		Method:      http.MethodGet,
		Path:        "/workspaces/{workspace_id}/conflicts/{conflict_id}",
		Summary:     "Get conflict",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		WorkspaceID string `path:"workspace_id"`
		ConflictID  string `path:"conflict_id"`
	}) (*struct {
		Body domain.SyncConflict `json:"body"`
	}, error) {
		c, err := e.Repo.GetConflict(ctx, input.ConflictID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.SyncConflict `json:"body"`
		}{Body: c}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "resolve-conflict",
		Method:      http.MethodPost,
		Path:        "/workspaces/{workspace_id}/conflicts/{conflict_id}/resolve",
		Summary:     "Resolve conflict",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
			http.StatusConflict,
		},
	}, func(ctx context.Context, input *struct {
		WorkspaceID string                 `path:"workspace_id"`
		ConflictID  string                 `path:"conflict_id"`
		Body        ResolveConflictRequest `json:"body"`
	}) (*struct {
		Body domain.SyncedRecord `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		rec, err := e.ResolveConflict(ctx, input.ConflictID, input.Body.Resolution)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.SyncedRecord `json:"body"`
		}{Body: rec}, nil
	})
}

func registerTokens(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "get-token-status",
		Method:      http.MethodGet,
		Path:        "/workspaces/{workspace_id}/boards/{board_id}/token",
		Summary:     "Extraction token status",
	}, func(ctx context.Context, input *struct {
		WorkspaceID string `path:"workspace_id"`
		BoardID     string `path:"board_id"`
	}) (*struct {
		Body domain.TokenStatus `json:"body"`
	}, error) {
		status, err := e.CheckTokenValidity(ctx, input.WorkspaceID, input.BoardID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.TokenStatus `json:"body"`
		}{Body: status}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "register-token",
		Method:        http.MethodPost,
		Path:          "/workspaces/{workspace_id}/boards/{board_id}/token",
		Summary:       "Register extraction token",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		WorkspaceID string               `path:"workspace_id"`
		BoardID     string               `path:"board_id"`
		Body        RegisterTokenRequest `json:"body"`
	}) (*struct {
		Body domain.AuthToken `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		tok, err := e.RegisterToken(ctx, input.WorkspaceID, input.BoardID, input.Body.Token)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.AuthToken `json:"body"`
		}{Body: tok}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "invalidate-token",
		Method:      http.MethodDelete,
		Path:        "/workspaces/{workspace_id}/boards/{board_id}/token",
		Summary:     "Invalidate extraction token",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		WorkspaceID string `path:"workspace_id"`
		BoardID     string `path:"board_id"`
	}) (*struct{}, error) {
		status, err := e.CheckTokenValidity(ctx, input.WorkspaceID, input.BoardID)
		if err != nil {
			return nil, handleError(err)
		}
		if !status.IsValid {
			return nil, newAPIError(http.StatusNotFound, "not_found", "no valid token for board", nil)
		}
		if err := e.InvalidateToken(ctx, status.TokenID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}

func registerEvents(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/workspaces/{workspace_id}/events",
		Summary:     "List audit events",
	}, func(ctx context.Context, input *struct {
		WorkspaceID string `path:"workspace_id"`
		Type        string `query:"type"`
		Limit       int    `query:"limit" default:"50"`
	}) (*struct {
		Body []domain.Event `json:"body"`
	}, error) {
		evts, err := events.Latest(ctx, e.DB, input.WorkspaceID, input.Type, input.Limit)
		if err != nil {
			return nil, handleError(err)
		}
		if evts == nil {
			evts = []domain.Event{}
		}
		return &struct {
			Body []domain.Event `json:"body"`
		}{Body: evts}, nil
	})
}

func registerWorkspaceConfig(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "get-workspace-config",
		Method:      http.MethodGet,
		Path:        "/workspaces/{workspace_id}/config",
		Summary:     "Get workspace config",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		WorkspaceID string `path:"workspace_id"`
	}) (*struct {
		Body config.Config `json:"body"`
	}, error) {
		cfg, err := e.Repo.GetWorkspaceConfig(ctx, input.WorkspaceID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body config.Config `json:"body"`
		}{Body: *cfg}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "put-workspace-config",
		Method:      http.MethodPut,
		Path:        "/workspaces/{workspace_id}/config",
		Summary:     "Replace workspace config",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		WorkspaceID string        `path:"workspace_id"`
		Body        config.Config `json:"body"`
	}) (*struct {
		Body config.Config `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		cfg := input.Body
		if err := e.Repo.UpsertWorkspaceConfig(ctx, input.WorkspaceID, &cfg); err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body config.Config `json:"body"`
		}{Body: cfg}, nil
	})
}
