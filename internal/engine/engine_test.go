package engine_test

import (
	"context"
	"errors"
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
	"planbridge/internal/repo"
)

type testEnv struct {
	Engine  engine.Engine
	Product *extsys.FakeProduct
	Tracker *extsys.FakeTracker
	Ctx     context.Context
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	cfg := config.Default("ws-1")
	eng := engine.New(conn, cfg)
	eng.Now = func() time.Time { return time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC) }
	product := extsys.NewFakeProduct()
	tracker := extsys.NewFakeTracker()
	eng.Product = product
	eng.Tracker = tracker
	ctx := context.Background()
	if err := eng.Repo.UpsertWorkspaceConfig(ctx, "ws-1", cfg); err != nil {
		t.Fatalf("seed config: %v", err)
	}
	return testEnv{Engine: eng, Product: product, Tracker: tracker, Ctx: ctx}
}

func strPtr(s string) *string { return &s }

func seedBatch(n int, linked bool) []domain.IncomingRecord {
	items := make([]domain.IncomingRecord, 0, n)
	for i := 1; i <= n; i++ {
		item := domain.IncomingRecord{
			ExternalIDA: "a-" + string(rune('0'+i)),
			Title:       "Record " + string(rune('0'+i)),
			Body:        "body",
			StatusLabel: "In Progress",
		}
		if linked {
			item.ExternalIDB = strPtr("b-" + string(rune('0'+i)))
		}
		items = append(items, item)
	}
	return items
}

func TestUpsertIdempotent(t *testing.T) {
	env := newTestEnv(t)
	items := seedBatch(5, false)

	first, err := env.Engine.UpsertBatch(env.Ctx, "ws-1", items, engine.UpsertOptions{})
	if err != nil {
		t.Fatalf("first upsert: %v", err)
	}
	if first.Created != 5 || first.Updated != 0 || first.Failed != 0 {
		t.Fatalf("first upsert: %+v", first)
	}

	second, err := env.Engine.UpsertBatch(env.Ctx, "ws-1", items, engine.UpsertOptions{})
	if err != nil {
		t.Fatalf("second upsert: %v", err)
	}
	if second.Created != 0 || second.Updated != 0 || second.Unchanged != 5 {
		t.Fatalf("expected no-op on identical batch, got %+v", second)
	}

	rec, err := env.Engine.Repo.GetByExternalID(env.Ctx, "ws-1", "a-1")
	if err != nil {
		t.Fatalf("get record: %v", err)
	}
	if rec.Version != 1 {
		t.Fatalf("idempotent re-apply must not bump version, got %d", rec.Version)
	}
	if rec.SyncStatus != domain.StatusSynced {
		t.Fatalf("expected synced, got %s", rec.SyncStatus)
	}
}

func TestUpsertUpdatesChangedRecords(t *testing.T) {
	env := newTestEnv(t)
	items := seedBatch(3, false)
	if _, err := env.Engine.UpsertBatch(env.Ctx, "ws-1", items, engine.UpsertOptions{}); err != nil {
		t.Fatal(err)
	}

	items[1].Title = "Renamed"
	res, err := env.Engine.UpsertBatch(env.Ctx, "ws-1", items, engine.UpsertOptions{})
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if res.Updated != 1 || res.Unchanged != 2 {
		t.Fatalf("expected 1 update / 2 unchanged, got %+v", res)
	}
	rec, err := env.Engine.Repo.GetByExternalID(env.Ctx, "ws-1", items[1].ExternalIDA)
	if err != nil {
		t.Fatal(err)
	}
	if rec.Title != "Renamed" {
		t.Fatalf("title not applied: %s", rec.Title)
	}
	if rec.Version != 2 {
		t.Fatalf("expected version bump to 2, got %d", rec.Version)
	}
}

func TestUpsertInvalidItemsCountedNotFatal(t *testing.T) {
	env := newTestEnv(t)
	items := []domain.IncomingRecord{
		{ExternalIDA: "a-1", Title: "Good"},
		{ExternalIDA: "", Title: "No external id"},
		{ExternalIDA: "a-2", Title: ""},
		{ExternalIDA: "a-1", Title: "Duplicate"},
	}
	res, err := env.Engine.UpsertBatch(env.Ctx, "ws-1", items, engine.UpsertOptions{})
	if err != nil {
		t.Fatalf("batch with bad items must not fail wholesale: %v", err)
	}
	if res.Created != 1 || res.Failed != 3 {
		t.Fatalf("expected 1 created / 3 failed, got %+v", res)
	}
	if len(res.Errors) != 3 {
		t.Fatalf("expected 3 item errors, got %d", len(res.Errors))
	}
}

func TestUpsertRequiresWorkspace(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.Engine.UpsertBatch(env.Ctx, "", seedBatch(1, false), engine.UpsertOptions{})
	var verr *engine.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

// flakyStore refuses any chunk containing failID; everything else passes
// through to the real store.
type flakyStore struct {
	engine.RecordStore
	failID string
}

func (s flakyStore) UpsertChunk(ctx context.Context, records []domain.SyncedRecord) error {
	for _, rec := range records {
		if rec.ExternalIDA == s.failID {
			return errors.New("chunk write refused")
		}
	}
	return s.RecordStore.UpsertChunk(ctx, records)
}

func TestUpsertChunkFailureIsolated(t *testing.T) {
	env := newTestEnv(t)
	items := seedBatch(5, false)
	if _, err := env.Engine.UpsertBatch(env.Ctx, "ws-1", items, engine.UpsertOptions{}); err != nil {
		t.Fatal(err)
	}

	for i := range items {
		items[i].Title = items[i].Title + " v2"
	}
	env.Engine.Records = flakyStore{RecordStore: env.Engine.Repo, failID: "a-3"}

	// chunk size 2: [a-1 a-2] [a-3 a-4] [a-5]; the middle chunk dies.
	res, err := env.Engine.UpsertBatch(env.Ctx, "ws-1", items, engine.UpsertOptions{ChunkSize: 2})
	if err != nil {
		t.Fatalf("chunk failure must not abort the batch: %v", err)
	}
	if res.Updated != 3 || res.Failed != 2 {
		t.Fatalf("expected 3 updated / 2 failed, got %+v", res)
	}

	good, err := env.Engine.Repo.GetByExternalID(env.Ctx, "ws-1", "a-5")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasSuffix(good.Title, "v2") {
		t.Fatalf("later chunk not applied: %s", good.Title)
	}
	bad, err := env.Engine.Repo.GetByExternalID(env.Ctx, "ws-1", "a-3")
	if err != nil {
		t.Fatal(err)
	}
	if strings.HasSuffix(bad.Title, "v2") {
		t.Fatalf("failed chunk leaked a write: %s", bad.Title)
	}
}

func TestApplyRankingAndNoOpReapply(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.Engine.UpsertBatch(env.Ctx, "ws-1", seedBatch(3, true), engine.UpsertOptions{}); err != nil {
		t.Fatal(err)
	}
	items := []domain.RankedItem{
		{ExternalIDA: "a-2", Rank: 1},
		{ExternalIDA: "a-1", Rank: 2},
		{ExternalIDA: "a-3", Rank: 3},
	}

	res, err := env.Engine.ApplyRanking(env.Ctx, "ws-1", "board-1", items, engine.RankingOptions{})
	if err != nil {
		t.Fatalf("apply ranking: %v", err)
	}
	if res.Updated != 3 || len(res.Changes) != 3 {
		t.Fatalf("expected 3 rank writes, got %+v", res)
	}

	again, err := env.Engine.ApplyRanking(env.Ctx, "ws-1", "board-1", items, engine.RankingOptions{})
	if err != nil {
		t.Fatalf("re-apply ranking: %v", err)
	}
	if again.Updated != 0 || again.Created != 0 || again.Unchanged != 3 {
		t.Fatalf("re-apply of identical ordering must be a no-op, got %+v", again)
	}

	rec, err := env.Engine.Repo.GetByExternalID(env.Ctx, "ws-1", "a-2")
	if err != nil {
		t.Fatal(err)
	}
	if rec.Rank == nil || *rec.Rank != 1 {
		t.Fatalf("rank not applied: %+v", rec.Rank)
	}
	if rec.BoardID == nil || *rec.BoardID != "board-1" {
		t.Fatalf("board not stamped: %+v", rec.BoardID)
	}
}

func TestApplyRankingCreatesUnknownItems(t *testing.T) {
	env := newTestEnv(t)
	items := []domain.RankedItem{
		{ExternalIDA: "a-9", Rank: 1, DisplayName: "Brand new"},
	}
	res, err := env.Engine.ApplyRanking(env.Ctx, "ws-1", "board-1", items, engine.RankingOptions{})
	if err != nil {
		t.Fatalf("apply ranking: %v", err)
	}
	if res.Created != 1 {
		t.Fatalf("expected 1 created, got %+v", res)
	}
	rec, err := env.Engine.Repo.GetByExternalID(env.Ctx, "ws-1", "a-9")
	if err != nil {
		t.Fatal(err)
	}
	if rec.SyncStatus != domain.StatusPending {
		t.Fatalf("unknown ranked item should be pending, got %s", rec.SyncStatus)
	}
	if rec.Rank == nil || *rec.Rank != 1 {
		t.Fatalf("rank missing on created record")
	}
}

func TestApplyRankingRejectsGaps(t *testing.T) {
	env := newTestEnv(t)
	items := []domain.RankedItem{
		{ExternalIDA: "a-1", Rank: 1},
		{ExternalIDA: "a-2", Rank: 3},
	}
	_, err := env.Engine.ApplyRanking(env.Ctx, "ws-1", "board-1", items, engine.RankingOptions{})
	var verr *engine.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected validation error for gapped ranking, got %v", err)
	}

	_, err = env.Engine.ApplyRanking(env.Ctx, "ws-1", "board-1", []domain.RankedItem{
		{ExternalIDA: "a-1", Rank: 1},
		{ExternalIDA: "a-1", Rank: 2},
	}, engine.RankingOptions{})
	if !errors.As(err, &verr) {
		t.Fatalf("expected validation error for duplicate item, got %v", err)
	}
}

func TestApplyRankingPreviewWritesNothing(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.Engine.UpsertBatch(env.Ctx, "ws-1", seedBatch(2, false), engine.UpsertOptions{}); err != nil {
		t.Fatal(err)
	}
	items := []domain.RankedItem{
		{ExternalIDA: "a-2", Rank: 1},
		{ExternalIDA: "a-1", Rank: 2},
	}
	res, err := env.Engine.ApplyRanking(env.Ctx, "ws-1", "board-1", items, engine.RankingOptions{PreviewOnly: true})
	if err != nil {
		t.Fatalf("preview: %v", err)
	}
	if !res.Preview || len(res.Changes) != 2 {
		t.Fatalf("expected 2 previewed changes, got %+v", res)
	}
	rec, err := env.Engine.Repo.GetByExternalID(env.Ctx, "ws-1", "a-2")
	if err != nil {
		t.Fatal(err)
	}
	if rec.Rank != nil {
		t.Fatalf("preview must not persist ranks, got %d", *rec.Rank)
	}
}

func TestRankingPushFailureKeepsLocalState(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.Engine.UpsertBatch(env.Ctx, "ws-1", seedBatch(2, true), engine.UpsertOptions{}); err != nil {
		t.Fatal(err)
	}
	env.Tracker.FailIDs["b-1"] = errors.New("tracker down")

	items := []domain.RankedItem{
		{ExternalIDA: "a-1", Rank: 1},
		{ExternalIDA: "a-2", Rank: 2},
	}
	res, err := env.Engine.ApplyRanking(env.Ctx, "ws-1", "board-1", items, engine.RankingOptions{PushToTracker: true})
	if err != nil {
		t.Fatalf("apply ranking: %v", err)
	}
	if len(res.TrackerErrors) != 1 {
		t.Fatalf("expected 1 tracker error, got %+v", res.TrackerErrors)
	}
	if env.Tracker.Ranks["b-2"] != 2 {
		t.Fatalf("surviving push not applied: %+v", env.Tracker.Ranks)
	}
	// local write committed before any push was attempted
	rec, err := env.Engine.Repo.GetByExternalID(env.Ctx, "ws-1", "a-1")
	if err != nil {
		t.Fatal(err)
	}
	if rec.Rank == nil || *rec.Rank != 1 {
		t.Fatalf("local rank rolled back on push failure")
	}
}

func TestRankingDemotesUnlinkedRecordToPending(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.Engine.UpsertBatch(env.Ctx, "ws-1", seedBatch(1, false), engine.UpsertOptions{}); err != nil {
		t.Fatal(err)
	}
	rec, err := env.Engine.Repo.GetByExternalID(env.Ctx, "ws-1", "a-1")
	if err != nil {
		t.Fatal(err)
	}
	if rec.SyncStatus != domain.StatusSynced {
		t.Fatalf("precondition: upserted record should start synced, got %s", rec.SyncStatus)
	}

	items := []domain.RankedItem{{ExternalIDA: "a-1", Rank: 1}}
	if _, err := env.Engine.ApplyRanking(env.Ctx, "ws-1", "board-1", items, engine.RankingOptions{}); err != nil {
		t.Fatalf("apply ranking: %v", err)
	}
	rec, err = env.Engine.Repo.GetByExternalID(env.Ctx, "ws-1", "a-1")
	if err != nil {
		t.Fatal(err)
	}
	if rec.SyncStatus != domain.StatusPending {
		t.Fatalf("ranked record without tracker link should be pending, got %s", rec.SyncStatus)
	}
	if rec.Rank == nil || *rec.Rank != 1 {
		t.Fatalf("rank not applied: %+v", rec.Rank)
	}
}

func TestRankingStampsBoardWhenRankUnchanged(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.Engine.UpsertBatch(env.Ctx, "ws-1", seedBatch(2, true), engine.UpsertOptions{}); err != nil {
		t.Fatal(err)
	}
	items := []domain.RankedItem{
		{ExternalIDA: "a-1", Rank: 1},
		{ExternalIDA: "a-2", Rank: 2},
	}
	if _, err := env.Engine.ApplyRanking(env.Ctx, "ws-1", "board-1", items, engine.RankingOptions{}); err != nil {
		t.Fatal(err)
	}

	// same ordering seen on another board: ranks match, board must still
	// be stamped
	res, err := env.Engine.ApplyRanking(env.Ctx, "ws-1", "board-2", items, engine.RankingOptions{})
	if err != nil {
		t.Fatalf("apply ranking: %v", err)
	}
	if res.Updated != 2 || res.Unchanged != 0 {
		t.Fatalf("board stamp should count as an update, got %+v", res)
	}
	if len(res.Changes) != 0 {
		t.Fatalf("board-only writes are not rank changes: %+v", res.Changes)
	}
	rec, err := env.Engine.Repo.GetByExternalID(env.Ctx, "ws-1", "a-1")
	if err != nil {
		t.Fatal(err)
	}
	if rec.BoardID == nil || *rec.BoardID != "board-2" {
		t.Fatalf("board not stamped on rank-unchanged record: %+v", rec.BoardID)
	}

	again, err := env.Engine.ApplyRanking(env.Ctx, "ws-1", "board-2", items, engine.RankingOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if again.Unchanged != 2 || again.Updated != 0 {
		t.Fatalf("re-apply on the stamped board must be a no-op, got %+v", again)
	}
}

func TestConflictDetectionIdempotent(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.Engine.UpsertBatch(env.Ctx, "ws-1", seedBatch(1, true), engine.UpsertOptions{}); err != nil {
		t.Fatal(err)
	}
	rec, err := env.Engine.Repo.GetByExternalID(env.Ctx, "ws-1", "a-1")
	if err != nil {
		t.Fatal(err)
	}

	snapA := domain.Snapshot{Title: "Product edit", Body: "body", StatusLabel: "In Progress"}
	snapB := domain.Snapshot{Title: "Tracker edit", Body: "body", StatusLabel: "In Progress"}
	first, err := env.Engine.DetectConflict(env.Ctx, rec, snapA, snapB)
	if err != nil {
		t.Fatalf("detect: %v", err)
	}
	if first == nil || first.Status != "pending" {
		t.Fatalf("expected pending conflict, got %+v", first)
	}

	second, err := env.Engine.DetectConflict(env.Ctx, rec, snapA, snapB)
	if err != nil {
		t.Fatalf("re-detect: %v", err)
	}
	if second == nil || second.ConflictID != first.ConflictID {
		t.Fatalf("expected the existing conflict back, got %+v", second)
	}

	flagged, err := env.Engine.Repo.GetByInternalID(env.Ctx, rec.InternalID)
	if err != nil {
		t.Fatal(err)
	}
	if flagged.SyncStatus != domain.StatusConflict {
		t.Fatalf("record not flagged conflicted: %s", flagged.SyncStatus)
	}
}

func TestDetectConflictOneSidedChangeIsNotConflict(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.Engine.UpsertBatch(env.Ctx, "ws-1", seedBatch(1, true), engine.UpsertOptions{}); err != nil {
		t.Fatal(err)
	}
	rec, err := env.Engine.Repo.GetByExternalID(env.Ctx, "ws-1", "a-1")
	if err != nil {
		t.Fatal(err)
	}
	base := domain.Snapshot{Title: rec.Title, Body: rec.Body, StatusLabel: rec.StatusLabel}
	edited := base
	edited.Title = "Only one side moved"

	c, err := env.Engine.DetectConflict(env.Ctx, rec, edited, base)
	if err != nil {
		t.Fatalf("detect: %v", err)
	}
	if c != nil {
		t.Fatalf("one-sided edit must not open a conflict: %+v", c)
	}
}

func TestResolveConflict(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.Engine.UpsertBatch(env.Ctx, "ws-1", seedBatch(1, true), engine.UpsertOptions{}); err != nil {
		t.Fatal(err)
	}
	rec, err := env.Engine.Repo.GetByExternalID(env.Ctx, "ws-1", "a-1")
	if err != nil {
		t.Fatal(err)
	}
	snapA := domain.Snapshot{Title: "Product edit", Body: "body", StatusLabel: "In Progress"}
	snapB := domain.Snapshot{Title: "Tracker edit", Body: "body", StatusLabel: "Done"}
	c, err := env.Engine.DetectConflict(env.Ctx, rec, snapA, snapB)
	if err != nil || c == nil {
		t.Fatalf("detect: %v", err)
	}

	resolved, err := env.Engine.ResolveConflict(env.Ctx, c.ConflictID, domain.ResolutionKeptB)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if resolved.Title != "Tracker edit" || resolved.StatusLabel != "Done" {
		t.Fatalf("chosen side not applied: %+v", resolved)
	}
	if resolved.SyncStatus != domain.StatusSynced {
		t.Fatalf("record should return to synced, got %s", resolved.SyncStatus)
	}

	// resolving again is refused
	_, err = env.Engine.ResolveConflict(env.Ctx, c.ConflictID, domain.ResolutionKeptA)
	var serr *engine.InvalidStateError
	if !errors.As(err, &serr) {
		t.Fatalf("expected invalid state error on re-resolve, got %v", err)
	}

	// record can conflict again after resolution
	next, err := env.Engine.DetectConflict(env.Ctx, resolved, snapA, domain.Snapshot{Title: "Another", Body: "x", StatusLabel: "Done"})
	if err != nil {
		t.Fatalf("detect after resolve: %v", err)
	}
	if next == nil || next.ConflictID == c.ConflictID {
		t.Fatalf("expected a fresh conflict, got %+v", next)
	}
}

func TestResolveConflictRejectsBadResolution(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.Engine.ResolveConflict(env.Ctx, "whatever", "kept_c")
	var verr *engine.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestBidirectionalSync(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.Engine.UpsertBatch(env.Ctx, "ws-1", seedBatch(4, true), engine.UpsertOptions{}); err != nil {
		t.Fatal(err)
	}

	// a-1: both sides match the baseline
	env.Product.Records["a-1"] = domain.Snapshot{Title: "Record 1", Body: "body", StatusLabel: "In Progress"}
	env.Tracker.Records["b-1"] = env.Product.Records["a-1"]
	// a-2: product moved, tracker did not
	env.Product.Records["a-2"] = domain.Snapshot{Title: "Record 2 edited", Body: "body", StatusLabel: "In Progress"}
	env.Tracker.Records["b-2"] = domain.Snapshot{Title: "Record 2", Body: "body", StatusLabel: "In Progress"}
	// a-3: both moved, differently
	env.Product.Records["a-3"] = domain.Snapshot{Title: "Record 3 via product", Body: "body", StatusLabel: "In Progress"}
	env.Tracker.Records["b-3"] = domain.Snapshot{Title: "Record 3 via tracker", Body: "body", StatusLabel: "In Progress"}
	// a-4: tracker fetch fails, nothing seeded for b-4
	env.Product.Records["a-4"] = domain.Snapshot{Title: "Record 4", Body: "body", StatusLabel: "In Progress"}

	res, err := env.Engine.BidirectionalSync(env.Ctx, "ws-1")
	if err != nil {
		t.Fatalf("bidirectional: %v", err)
	}
	if res.Total != 4 || res.Unchanged != 1 || res.FastForwarded != 1 || res.Conflicts != 1 || res.Failed != 1 {
		t.Fatalf("unexpected result: %+v", res)
	}

	ff, err := env.Engine.Repo.GetByExternalID(env.Ctx, "ws-1", "a-2")
	if err != nil {
		t.Fatal(err)
	}
	if ff.Title != "Record 2 edited" {
		t.Fatalf("fast-forward not applied: %s", ff.Title)
	}

	conflicted, err := env.Engine.Repo.GetByExternalID(env.Ctx, "ws-1", "a-3")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.Repo.PendingConflictForRecord(env.Ctx, conflicted.InternalID); err != nil {
		t.Fatalf("expected pending conflict for a-3: %v", err)
	}
}

func TestRunRecorderStatusMapping(t *testing.T) {
	env := newTestEnv(t)

	run, _, err := env.Engine.RunUpsert(env.Ctx, "ws-1", seedBatch(2, false), engine.UpsertOptions{})
	if err != nil {
		t.Fatalf("run upsert: %v", err)
	}
	if run.Status != domain.RunSuccess || run.ItemsCreated != 2 {
		t.Fatalf("expected success run, got %+v", run)
	}
	if run.CompletedAt == nil {
		t.Fatalf("run not completed")
	}

	// one invalid item turns the run partial
	items := seedBatch(2, false)
	items[1].Title = ""
	run, _, err = env.Engine.RunUpsert(env.Ctx, "ws-1", items, engine.UpsertOptions{})
	if err != nil {
		t.Fatalf("run upsert: %v", err)
	}
	if run.Status != domain.RunPartial || run.ItemsFailed != 1 {
		t.Fatalf("expected partial run, got %+v", run)
	}

	// extraction without a token fails the run and re-raises the error
	run, _, err = env.Engine.RunRankingSync(env.Ctx, "ws-1", "board-1", nil, engine.RankingOptions{})
	if !errors.Is(err, engine.ErrTokenInvalid) {
		t.Fatalf("expected token error, got %v", err)
	}
	if run.Status != domain.RunFailed || run.ErrorMessage == nil {
		t.Fatalf("expected failed run, got %+v", run)
	}

	runs, err := env.Engine.ListRuns(env.Ctx, "ws-1", 0)
	if err != nil {
		t.Fatalf("list runs: %v", err)
	}
	if len(runs) != 3 {
		t.Fatalf("expected 3 recorded runs, got %d", len(runs))
	}
}

func TestRunRankingPartialOnTrackerErrors(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.Engine.UpsertBatch(env.Ctx, "ws-1", seedBatch(2, true), engine.UpsertOptions{}); err != nil {
		t.Fatal(err)
	}
	env.Tracker.FailIDs["b-2"] = errors.New("tracker down")

	items := []domain.RankedItem{
		{ExternalIDA: "a-1", Rank: 1},
		{ExternalIDA: "a-2", Rank: 2},
	}
	run, res, err := env.Engine.RunRankingSync(env.Ctx, "ws-1", "board-1", items, engine.RankingOptions{PushToTracker: true})
	if err != nil {
		t.Fatalf("run ranking: %v", err)
	}
	if run.Status != domain.RunPartial {
		t.Fatalf("push failures should turn the run partial, got %s", run.Status)
	}
	if res.Updated != 2 {
		t.Fatalf("local writes should still land: %+v", res)
	}
	if run.ItemsUpdated != 1 || run.ItemsFailed != 1 {
		t.Fatalf("push-failed item must move from updated to failed, got updated=%d failed=%d", run.ItemsUpdated, run.ItemsFailed)
	}
}

func TestRunRankingCountsBoundedByProcessed(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.Engine.UpsertBatch(env.Ctx, "ws-1", seedBatch(2, true), engine.UpsertOptions{}); err != nil {
		t.Fatal(err)
	}
	env.Tracker.FailIDs["b-1"] = errors.New("tracker down")
	env.Tracker.FailIDs["b-2"] = errors.New("tracker down")

	items := []domain.RankedItem{
		{ExternalIDA: "a-1", Rank: 1},
		{ExternalIDA: "a-2", Rank: 2},
	}
	run, res, err := env.Engine.RunRankingSync(env.Ctx, "ws-1", "board-1", items, engine.RankingOptions{PushToTracker: true})
	if err != nil {
		t.Fatalf("run ranking: %v", err)
	}
	if run.Status != domain.RunPartial {
		t.Fatalf("expected partial run, got %s", run.Status)
	}
	if len(res.TrackerErrors) != 2 {
		t.Fatalf("expected both pushes to fail, got %+v", res.TrackerErrors)
	}
	if run.ItemsProcessed != 2 || run.ItemsCreated != 0 || run.ItemsUpdated != 0 || run.ItemsFailed != 2 {
		t.Fatalf("unexpected counts: %+v", run)
	}
	if sum := run.ItemsCreated + run.ItemsUpdated + run.ItemsFailed; sum > run.ItemsProcessed {
		t.Fatalf("created+updated+failed=%d exceeds processed=%d", sum, run.ItemsProcessed)
	}
	// both local writes still committed
	rec, err := env.Engine.Repo.GetByExternalID(env.Ctx, "ws-1", "a-2")
	if err != nil {
		t.Fatal(err)
	}
	if rec.Rank == nil || *rec.Rank != 2 {
		t.Fatalf("local rank rolled back on push failure")
	}
}

func TestTokenAbsenceIsNotAnError(t *testing.T) {
	env := newTestEnv(t)
	status, err := env.Engine.CheckTokenValidity(env.Ctx, "ws-1", "board-1")
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if status.IsValid {
		t.Fatalf("no token should mean invalid")
	}
}

func TestRegisterTokenSupersedes(t *testing.T) {
	env := newTestEnv(t)
	first, err := env.Engine.RegisterToken(env.Ctx, "ws-1", "board-1", "opaque-token-1")
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	second, err := env.Engine.RegisterToken(env.Ctx, "ws-1", "board-1", "opaque-token-2")
	if err != nil {
		t.Fatalf("register again: %v", err)
	}

	tok, err := env.Engine.Repo.ValidToken(env.Ctx, "ws-1", "board-1")
	if err != nil {
		t.Fatalf("valid token: %v", err)
	}
	if tok.TokenID != second.TokenID {
		t.Fatalf("expected the new token to win")
	}
	old, err := env.Engine.Repo.GetToken(env.Ctx, first.TokenID)
	if err != nil {
		t.Fatal(err)
	}
	if old.IsValid {
		t.Fatalf("superseded token still valid")
	}
}

func TestRegisterTokenReadsJWTExpiry(t *testing.T) {
	env := newTestEnv(t)
	now := env.Engine.Now()
	exp := now.Add(2 * time.Hour).Truncate(time.Second)
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   "scraped",
		ExpiresAt: jwt.NewNumericDate(exp),
	}).SignedString([]byte("someone-elses-secret"))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	tok, err := env.Engine.RegisterToken(env.Ctx, "ws-1", "board-1", signed)
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if tok.ExpiresAt != exp.UTC().Format(time.RFC3339) {
		t.Fatalf("expiry not taken from claim: %s", tok.ExpiresAt)
	}

	expired, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		ExpiresAt: jwt.NewNumericDate(now.Add(-time.Hour)),
	}).SignedString([]byte("k"))
	if err != nil {
		t.Fatal(err)
	}
	_, err = env.Engine.RegisterToken(env.Ctx, "ws-1", "board-2", expired)
	var verr *engine.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected rejection of expired token, got %v", err)
	}
}

func TestTokenExpiryFlagsInvalid(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.Engine.RegisterToken(env.Ctx, "ws-1", "board-1", "opaque-token"); err != nil {
		t.Fatalf("register: %v", err)
	}

	// opaque tokens get the fallback ttl; jump past it
	env.Engine.Now = func() time.Time { return time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC).Add(13 * time.Hour) }
	status, err := env.Engine.CheckTokenValidity(env.Ctx, "ws-1", "board-1")
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if status.IsValid {
		t.Fatalf("expired token reported valid")
	}
	if _, err := env.Engine.Repo.ValidToken(env.Ctx, "ws-1", "board-1"); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expired token not retired in store: %v", err)
	}
}

func TestSyncBoardRankingNoTokenFailsFast(t *testing.T) {
	env := newTestEnv(t)
	env.Product.Orderings["board-1"] = []domain.RankedItem{{ExternalIDA: "a-1", Rank: 1}}
	_, err := env.Engine.SyncBoardRanking(env.Ctx, "ws-1", "board-1", engine.RankingOptions{})
	if !errors.Is(err, engine.ErrTokenInvalid) {
		t.Fatalf("expected fail-fast token error, got %v", err)
	}
}

func TestSyncBoardRankingAuthErrorInvalidatesToken(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.Engine.RegisterToken(env.Ctx, "ws-1", "board-1", "opaque-token"); err != nil {
		t.Fatal(err)
	}
	env.Product.Err = &extsys.AuthError{StatusCode: 401, Body: "token rejected"}

	_, err := env.Engine.SyncBoardRanking(env.Ctx, "ws-1", "board-1", engine.RankingOptions{})
	if err == nil {
		t.Fatalf("expected extraction failure")
	}
	status, checkErr := env.Engine.CheckTokenValidity(env.Ctx, "ws-1", "board-1")
	if checkErr != nil {
		t.Fatal(checkErr)
	}
	if status.IsValid {
		t.Fatalf("rejected token must be invalidated")
	}
}

func TestSyncBoardRankingExtractsAndApplies(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.Engine.RegisterToken(env.Ctx, "ws-1", "board-1", "opaque-token"); err != nil {
		t.Fatal(err)
	}
	env.Product.Orderings["board-1"] = []domain.RankedItem{
		{ExternalIDA: "a-1", Rank: 1, DisplayName: "First"},
		{ExternalIDA: "a-2", Rank: 2, DisplayName: "Second"},
	}

	res, err := env.Engine.SyncBoardRanking(env.Ctx, "ws-1", "board-1", engine.RankingOptions{})
	if err != nil {
		t.Fatalf("sync board: %v", err)
	}
	if res.Created != 2 {
		t.Fatalf("expected 2 created, got %+v", res)
	}
	tok, err := env.Engine.Repo.ValidToken(env.Ctx, "ws-1", "board-1")
	if err != nil {
		t.Fatal(err)
	}
	if tok.LastUsedAt == nil {
		t.Fatalf("token use not stamped")
	}
}

func TestEventsAppendedOnSync(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.Engine.UpsertBatch(env.Ctx, "ws-1", seedBatch(2, false), engine.UpsertOptions{}); err != nil {
		t.Fatal(err)
	}
	rows, err := env.Engine.DB.QueryContext(env.Ctx, `SELECT count(*) FROM events WHERE type='upsert.applied'`)
	if err != nil {
		t.Fatalf("query events: %v", err)
	}
	defer rows.Close()
	var count int
	rows.Next()
	rows.Scan(&count)
	if count == 0 {
		t.Fatalf("expected upsert event")
	}
}
