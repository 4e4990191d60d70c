package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"planbridge/internal/app"
	"planbridge/internal/config"
	"planbridge/internal/db"
	"planbridge/internal/domain"
	"planbridge/internal/engine"
	"planbridge/internal/events"
	"planbridge/internal/extsys"
	"planbridge/internal/migrate"
	"planbridge/internal/repo"
	"planbridge/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "pb",
	Short: "Planbridge CLI",
	Long: `Planbridge keeps planning records in step between the product tool
and the work-item tracker through a local store.

- Workspace: your .planbridge directory holding the database.
- Records: planning items extracted from the product tool, optionally
  linked to tracker work items.
- Ranking: the board ordering as the user sees it, mirrored onto the
  tracker's ordering field.
- Conflicts: two-sided edits that need a human call (pb conflict resolve).
- Runs: the audit trail of every sync invocation (pb run list).
- Tokens: scraped extraction credentials with a tracked lifetime.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		workspace := viper.GetString("workspace")
		if _, err := db.EnsureWorkspace(workspace); err != nil {
			return err
		}
		return nil
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("PLANBRIDGE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("workspace-id", "", "workspace id (overrides config)")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("workspace-id", rootCmd.PersistentFlags().Lookup("workspace-id"))
}

func registerCommands() {
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(statusCmd())
	rootCmd.AddCommand(upsertCmd())
	rootCmd.AddCommand(rankingCmd())
	rootCmd.AddCommand(bidirectionalCmd())
	rootCmd.AddCommand(recordCmd())
	rootCmd.AddCommand(conflictCmd())
	rootCmd.AddCommand(runCmd())
	rootCmd.AddCommand(tokenCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(serveCmd())
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{Use: "config", Short: "Manage workspace config"}
	cfg.AddCommand(configInitCmd())
	cfg.AddCommand(configShowCmd())
	cfg.AddCommand(configImportCmd())
	return cfg
}

func configInitCmd() *cobra.Command {
	var workspaceID string
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default planbridge.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			if workspaceID == "" {
				return fmt.Errorf("--workspace-id required")
			}
			path := config.Path(viper.GetString("workspace"))
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("%s already exists", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault(workspaceID)), 0o644); err != nil {
				return err
			}
			fmt.Println("wrote", path)
			return nil
		},
	}
	cmd.Flags().StringVar(&workspaceID, "workspace-id", "", "workspace id")
	_ = cmd.MarkFlagRequired("workspace-id")
	return cmd
}

func configShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show effective config",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return printJSON(e.Config)
			})
		},
	}
}

func configImportCmd() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Import config from a YAML file into the store",
		RunE: func(cmd *cobra.Command, args []string) error {
			if file == "" {
				return fmt.Errorf("--file required")
			}
			cfg, err := config.FromFile(file)
			if err != nil {
				return err
			}
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				if err := r.UpsertWorkspaceConfig(ctx, cfg.Workspace.ID, cfg); err != nil {
					return err
				}
				fmt.Println("imported config for workspace", cfg.Workspace.ID)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "path to YAML config")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Workspace sync status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				ws := e.Config.Workspace.ID
				counts, err := e.Repo.CountRecordsByStatus(ctx, ws)
				if err != nil {
					return err
				}
				pending, err := e.Repo.ListConflicts(ctx, ws, "pending", 0)
				if err != nil {
					return err
				}
				runs, err := e.ListRuns(ctx, ws, 5)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{
						"workspace_id":      ws,
						"record_counts":     counts,
						"pending_conflicts": len(pending),
						"last_runs":         runs,
					})
				}
				fmt.Println("workspace:", ws)
				t := newTable("STATUS", "RECORDS")
				for status, n := range counts {
					t.AppendRow(table.Row{status, n})
				}
				t.Render()
				fmt.Println("pending conflicts:", len(pending))
				renderRuns(runs)
				return nil
			})
		},
	}
}

func upsertCmd() *cobra.Command {
	var file string
	var chunkSize int
	cmd := &cobra.Command{
		Use:   "upsert",
		Short: "Batch upsert records from a JSON file",
		RunE: func(cmd *cobra.Command, args []string) error {
			if file == "" {
				return fmt.Errorf("--file required")
			}
			data, err := os.ReadFile(file)
			if err != nil {
				return err
			}
			var items []domain.IncomingRecord
			if err := json.Unmarshal(data, &items); err != nil {
				return fmt.Errorf("parse %s: %w", file, err)
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				run, res, err := e.RunUpsert(ctx, e.Config.Workspace.ID, items, engine.UpsertOptions{ChunkSize: chunkSize})
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"run": run, "result": res})
				}
				fmt.Printf("run %s: %s\n", run.RunID, run.Status)
				fmt.Printf("total=%d created=%d updated=%d unchanged=%d failed=%d\n",
					res.Total, res.Created, res.Updated, res.Unchanged, res.Failed)
				for _, ie := range res.Errors {
					fmt.Printf("  %s: %s\n", ie.ExternalIDA, ie.Message)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "JSON file with an array of records")
	cmd.Flags().IntVar(&chunkSize, "chunk-size", 0, "override chunk size")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func rankingCmd() *cobra.Command {
	ranking := &cobra.Command{Use: "ranking", Short: "Board ranking sync"}
	ranking.AddCommand(rankingSyncCmd())
	ranking.AddCommand(rankingPreviewCmd())
	return ranking
}

func rankingFlags(cmd *cobra.Command, boardID, file *string, push *bool) {
	cmd.Flags().StringVar(boardID, "board", "", "board id")
	cmd.Flags().StringVar(file, "file", "", "JSON file with the board ordering (omit to extract)")
	if push != nil {
		cmd.Flags().BoolVar(push, "push", false, "push changed ranks to the tracker")
	}
	_ = cmd.MarkFlagRequired("board")
}

func loadRankedItems(file string) ([]domain.RankedItem, error) {
	if file == "" {
		return nil, nil
	}
	data, err := os.ReadFile(file)
	if err != nil {
		return nil, err
	}
	var items []domain.RankedItem
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, fmt.Errorf("parse %s: %w", file, err)
	}
	return items, nil
}

func rankingSyncCmd() *cobra.Command {
	var boardID, file string
	var push bool
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Apply a board ordering",
		RunE: func(cmd *cobra.Command, args []string) error {
			items, err := loadRankedItems(file)
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				opts := engine.RankingOptions{PushToTracker: push || e.Config.Sync.PushRanks}
				run, res, err := e.RunRankingSync(ctx, e.Config.Workspace.ID, boardID, items, opts)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"run": run, "result": res})
				}
				fmt.Printf("run %s: %s\n", run.RunID, run.Status)
				renderRankingResult(res)
				return nil
			})
		},
	}
	rankingFlags(cmd, &boardID, &file, &push)
	return cmd
}

func rankingPreviewCmd() *cobra.Command {
	var boardID, file string
	cmd := &cobra.Command{
		Use:   "preview",
		Short: "Show the rank diff without writing",
		RunE: func(cmd *cobra.Command, args []string) error {
			items, err := loadRankedItems(file)
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				ws := e.Config.Workspace.ID
				opts := engine.RankingOptions{PreviewOnly: true}
				var res domain.RankingResult
				if items != nil {
					res, err = e.ApplyRanking(ctx, ws, boardID, items, opts)
				} else {
					res, err = e.SyncBoardRanking(ctx, ws, boardID, opts)
				}
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(res)
				}
				renderRankingResult(res)
				return nil
			})
		},
	}
	rankingFlags(cmd, &boardID, &file, nil)
	return cmd
}

func bidirectionalCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "bidirectional",
		Short: "Reconcile both external systems against the store",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				run, res, err := e.RunBidirectionalSync(ctx, e.Config.Workspace.ID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"run": run, "result": res})
				}
				fmt.Printf("run %s: %s\n", run.RunID, run.Status)
				fmt.Printf("total=%d fast_forwarded=%d conflicts=%d unchanged=%d failed=%d\n",
					res.Total, res.FastForwarded, res.Conflicts, res.Unchanged, res.Failed)
				return nil
			})
		},
	}
}

func recordCmd() *cobra.Command {
	rec := &cobra.Command{Use: "record", Short: "Inspect synced records"}
	rec.AddCommand(recordListCmd())
	rec.AddCommand(recordShowCmd())
	return rec
}

func recordListCmd() *cobra.Command {
	var boardID, status string
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List records",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				records, err := e.Repo.ListRecords(ctx, repo.RecordFilters{
					WorkspaceID: e.Config.Workspace.ID,
					BoardID:     boardID,
					SyncStatus:  status,
					Limit:       limit,
				})
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(records)
				}
				t := newTable("EXTERNAL A", "EXTERNAL B", "TITLE", "RANK", "STATUS", "VERSION")
				for _, r := range records {
					t.AppendRow(table.Row{r.ExternalIDA, deref(r.ExternalIDB), truncate(r.Title, 40), derefInt(r.Rank), r.SyncStatus, r.Version})
				}
				t.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&boardID, "board", "", "filter by board")
	cmd.Flags().StringVar(&status, "sync-status", "", "filter by sync status")
	cmd.Flags().IntVar(&limit, "limit", 50, "max records")
	return cmd
}

func recordShowCmd() *cobra.Command {
	var externalIDA string
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show one record",
		RunE: func(cmd *cobra.Command, args []string) error {
			if externalIDA == "" {
				return fmt.Errorf("--external-id required")
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				rec, err := e.Repo.GetByExternalID(ctx, e.Config.Workspace.ID, externalIDA)
				if err != nil {
					return err
				}
				return printJSON(rec)
			})
		},
	}
	cmd.Flags().StringVar(&externalIDA, "external-id", "", "product tool record id")
	_ = cmd.MarkFlagRequired("external-id")
	return cmd
}

func conflictCmd() *cobra.Command {
	c := &cobra.Command{Use: "conflict", Short: "Inspect and resolve conflicts"}
	c.AddCommand(conflictListCmd())
	c.AddCommand(conflictShowCmd())
	c.AddCommand(conflictResolveCmd())
	return c
}

func conflictListCmd() *cobra.Command {
	var status string
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List conflicts",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				conflicts, err := e.Repo.ListConflicts(ctx, e.Config.Workspace.ID, status, limit)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(conflicts)
				}
				t := newTable("CONFLICT", "RECORD", "STATUS", "RESOLUTION", "DETECTED")
				for _, c := range conflicts {
					t.AppendRow(table.Row{c.ConflictID, c.RecordID, c.Status, deref(c.Resolution), c.DetectedAt})
				}
				t.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "filter: pending or resolved")
	cmd.Flags().IntVar(&limit, "limit", 50, "max conflicts")
	return cmd
}

func conflictShowCmd() *cobra.Command {
	var id string
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show one conflict with both versions",
		RunE: func(cmd *cobra.Command, args []string) error {
			if id == "" {
				return fmt.Errorf("--id required")
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				c, err := e.Repo.GetConflict(ctx, id)
				if err != nil {
					return err
				}
				return printJSON(c)
			})
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "conflict id")
	_ = cmd.MarkFlagRequired("id")
	return cmd
}

func conflictResolveCmd() *cobra.Command {
	var id, keep string
	cmd := &cobra.Command{
		Use:   "resolve",
		Short: "Resolve a conflict by keeping one side",
		RunE: func(cmd *cobra.Command, args []string) error {
			if id == "" || keep == "" {
				return fmt.Errorf("--id and --keep required")
			}
			resolution := ""
			switch keep {
			case "a", "product":
				resolution = domain.ResolutionKeptA
			case "b", "tracker":
				resolution = domain.ResolutionKeptB
			default:
				return fmt.Errorf("--keep must be a or b")
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				rec, err := e.ResolveConflict(ctx, id, resolution)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(rec)
				}
				fmt.Printf("resolved %s; record %s now %s (version %d)\n", id, rec.InternalID, rec.SyncStatus, rec.Version)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "conflict id")
	cmd.Flags().StringVar(&keep, "keep", "", "side to keep: a (product) or b (tracker)")
	_ = cmd.MarkFlagRequired("id")
	_ = cmd.MarkFlagRequired("keep")
	return cmd
}

func runCmd() *cobra.Command {
	run := &cobra.Command{Use: "run", Short: "Inspect sync runs"}
	run.AddCommand(runListCmd())
	run.AddCommand(runShowCmd())
	return run
}

func runListCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recent runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				runs, err := e.ListRuns(ctx, e.Config.Workspace.ID, limit)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(runs)
				}
				renderRuns(runs)
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 0, "max runs (0 = configured history limit)")
	return cmd
}

func runShowCmd() *cobra.Command {
	var id string
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show one run",
		RunE: func(cmd *cobra.Command, args []string) error {
			if id == "" {
				return fmt.Errorf("--id required")
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				run, err := e.GetRun(ctx, id)
				if err != nil {
					return err
				}
				return printJSON(run)
			})
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "run id")
	_ = cmd.MarkFlagRequired("id")
	return cmd
}

func tokenCmd() *cobra.Command {
	tok := &cobra.Command{Use: "token", Short: "Manage extraction tokens"}
	tok.AddCommand(tokenStatusCmd())
	tok.AddCommand(tokenRegisterCmd())
	tok.AddCommand(tokenInvalidateCmd())
	return tok
}

func tokenStatusCmd() *cobra.Command {
	var boardID string
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show token validity for a board",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				status, err := e.CheckTokenValidity(ctx, e.Config.Workspace.ID, boardID)
				if err != nil {
					return err
				}
				return printJSON(status)
			})
		},
	}
	cmd.Flags().StringVar(&boardID, "board", "", "board id")
	_ = cmd.MarkFlagRequired("board")
	return cmd
}

func tokenRegisterCmd() *cobra.Command {
	var boardID, value string
	cmd := &cobra.Command{
		Use:   "register",
		Short: "Register a scraped bearer token for a board",
		RunE: func(cmd *cobra.Command, args []string) error {
			if value == "" {
				value = strings.TrimSpace(os.Getenv("PLANBRIDGE_TOKEN"))
			}
			if value == "" {
				return fmt.Errorf("--value or PLANBRIDGE_TOKEN required")
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				tok, err := e.RegisterToken(ctx, e.Config.Workspace.ID, boardID, value)
				if err != nil {
					return err
				}
				fmt.Printf("registered token %s for board %s, expires %s\n", tok.TokenID, boardID, tok.ExpiresAt)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&boardID, "board", "", "board id")
	cmd.Flags().StringVar(&value, "value", "", "raw bearer token (or set PLANBRIDGE_TOKEN)")
	_ = cmd.MarkFlagRequired("board")
	return cmd
}

func tokenInvalidateCmd() *cobra.Command {
	var boardID string
	cmd := &cobra.Command{
		Use:   "invalidate",
		Short: "Invalidate the board's current token",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				ws := e.Config.Workspace.ID
				status, err := e.CheckTokenValidity(ctx, ws, boardID)
				if err != nil {
					return err
				}
				if !status.IsValid {
					return fmt.Errorf("no valid token for board %s", boardID)
				}
				if err := e.InvalidateToken(ctx, status.TokenID); err != nil {
					return err
				}
				fmt.Println("invalidated token", status.TokenID)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&boardID, "board", "", "board id")
	_ = cmd.MarkFlagRequired("board")
	return cmd
}

func logCmd() *cobra.Command {
	logc := &cobra.Command{Use: "log", Short: "Audit event log"}
	logc.AddCommand(logTailCmd())
	return logc
}

func logTailCmd() *cobra.Command {
	var n int
	var evtType string
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				evts, err := events.Latest(ctx, e.DB, e.Config.Workspace.ID, evtType, n)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(evts)
				}
				t := newTable("TS", "TYPE", "ENTITY", "PAYLOAD")
				for _, evt := range evts {
					t.AppendRow(table.Row{evt.TS, evt.Type, evt.EntityKind + "/" + evt.EntityID, truncate(evt.Payload, 60)})
				}
				t.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of events")
	cmd.Flags().StringVar(&evtType, "type", "", "event type filter")
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			conn, err := db.Open(db.Config{Workspace: workspace})
			if err != nil {
				return err
			}
			defer conn.Close()
			if err := migrate.Migrate(conn); err != nil {
				return err
			}
			r := repo.Repo{DB: conn}
			_, cfg, err := app.ResolveWorkspaceAndConfig(cmd.Context(), workspace, viper.GetString("workspace-id"), r)
			if err != nil {
				return err
			}
			e := newEngine(conn, cfg)
			authCfg := server.AuthConfig{
				JWTSecret: os.Getenv("PLANBRIDGE_JWT_SECRET"),
				APIKey:    os.Getenv("PLANBRIDGE_API_KEY"),
			}
			handler, err := server.New(server.Config{Engine: e, BasePath: basePath, Auth: authCfg})
			if err != nil {
				return err
			}
			srv := &http.Server{Addr: addr, Handler: handler}
			go func() {
				<-cmd.Context().Done()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(ctx)
			}()
			fmt.Printf("Serving Planbridge API on http://%s%s (OpenAPI at %s/openapi.json, Swagger UI at /docs)\n", addr, basePath, basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path")
	return cmd
}

// --- helpers ---

func newEngine(conn *sql.DB, cfg *config.Config) engine.Engine {
	e := engine.New(conn, cfg)
	if cfg.Product.Simulate {
		fp := extsys.NewFakeProduct()
		for boardID := range cfg.Boards {
			fp.SimulatedOrdering(boardID, 10)
		}
		e.Product = fp
	} else if cfg.Product.BaseURL != "" {
		e.Product = extsys.NewProductHTTP(cfg.Product.BaseURL)
	}
	if cfg.Tracker.BaseURL != "" {
		tracker := extsys.NewTrackerHTTP(cfg.Tracker.BaseURL, cfg.Tracker.Organization, cfg.Tracker.Project, cfg.Tracker.OrderingField)
		tracker.PAT = os.Getenv("PLANBRIDGE_TRACKER_PAT")
		e.Tracker = tracker
	}
	return e
}

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	r := repo.Repo{DB: conn}
	_, cfg, err := app.ResolveWorkspaceAndConfig(ctx, workspace, viper.GetString("workspace-id"), r)
	if err != nil {
		return err
	}
	return fn(ctx, newEngine(conn, cfg))
}

func withRepo(ctx context.Context, fn func(context.Context, repo.Repo) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	return fn(ctx, repo.Repo{DB: conn})
}

func newTable(header ...any) table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.AppendHeader(table.Row(header))
	t.SetStyle(table.StyleLight)
	return t
}

func renderRuns(runs []domain.SyncRun) {
	t := newTable("RUN", "KIND", "STATUS", "PROCESSED", "FAILED", "STARTED")
	for _, r := range runs {
		t.AppendRow(table.Row{r.RunID, r.Kind, r.Status, r.ItemsProcessed, r.ItemsFailed, r.StartedAt})
	}
	t.Render()
}

func renderRankingResult(res domain.RankingResult) {
	fmt.Printf("total=%d created=%d updated=%d unchanged=%d\n", res.Total, res.Created, res.Updated, res.Unchanged)
	if len(res.Changes) > 0 {
		t := newTable("EXTERNAL A", "OLD", "NEW")
		for _, c := range res.Changes {
			t.AppendRow(table.Row{c.ExternalIDA, derefInt(c.OldRank), c.NewRank})
		}
		t.Render()
	}
	for _, te := range res.TrackerErrors {
		fmt.Printf("  tracker push %s: %s\n", te.ExternalIDA, te.Message)
	}
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func derefInt(v *int) string {
	if v == nil {
		return ""
	}
	return fmt.Sprintf("%d", *v)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-1] + "…"
}
