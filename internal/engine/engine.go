package engine

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"planbridge/internal/config"
	"planbridge/internal/domain"
	"planbridge/internal/events"
	"planbridge/internal/extsys"
	"planbridge/internal/repo"
)

// RecordStore is the slice of the repository the batch upsert engine
// writes through. It is a field on Engine so callers can interpose on
// chunk writes; everything else goes through Repo directly.
type RecordStore interface {
	FindExisting(ctx context.Context, workspaceID string, externalIDs []string) (map[string]domain.SyncedRecord, error)
	InsertMany(ctx context.Context, records []domain.SyncedRecord) error
	UpsertChunk(ctx context.Context, records []domain.SyncedRecord) error
}

type Engine struct {
	DB      *sql.DB
	Repo    repo.Repo
	Records RecordStore
	Events  events.Writer
	Config  *config.Config
	Product extsys.ProductClient
	Tracker extsys.TrackerClient
	Now     func() time.Time
}

func New(db *sql.DB, cfg *config.Config) Engine {
	r := repo.Repo{DB: db}
	return Engine{
		DB:      db,
		Repo:    r,
		Records: r,
		Events:  events.Writer{DB: db},
		Config:  cfg,
		Now:     time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) nowRFC3339() string {
	return e.now().UTC().Format(time.RFC3339)
}

func (e Engine) store() RecordStore {
	if e.Records != nil {
		return e.Records
	}
	return e.Repo
}

// ValidationError rejects malformed input before any store write.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string { return e.Msg }

func validationf(format string, args ...any) error {
	return &ValidationError{Msg: fmt.Sprintf(format, args...)}
}

// InvalidStateError reports an operation applied to an entity whose
// lifecycle state does not permit it.
type InvalidStateError struct {
	Msg string
}

func (e *InvalidStateError) Error() string { return e.Msg }
