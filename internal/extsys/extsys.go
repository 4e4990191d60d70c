// Package extsys holds the client boundaries to the two external record
// systems: the product-management tool records and rankings are extracted
// from, and the work-item tracker they are projected onto. Both adapters
// normalize their payloads to domain.Snapshot before anything reaches the
// core, so status shapes and field quirks never leak inward.
package extsys

import (
	"context"
	"errors"
	"fmt"

	"planbridge/internal/domain"
)

// ProductClient reads from the product-management tool.
type ProductClient interface {
	// FetchBoardOrdering returns the board's items ordered by rank
	// ascending from 1, as the user sees them.
	FetchBoardOrdering(ctx context.Context, boardID, bearerToken string) ([]domain.RankedItem, error)
	FetchRecord(ctx context.Context, externalIDA string) (domain.Snapshot, error)
}

// TrackerClient reads and writes work items in the tracker.
type TrackerClient interface {
	SetOrderingField(ctx context.Context, externalIDB string, rank int) error
	FetchRecord(ctx context.Context, externalIDB string) (domain.Snapshot, error)
}

// AuthError marks an authentication-class failure from either system. The
// ranking synchronizer invalidates the stored token when it sees one.
type AuthError struct {
	StatusCode int
	Body       string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("authentication rejected: status=%d body=%s", e.StatusCode, e.Body)
}

// IsAuthError reports whether err is an authentication failure.
func IsAuthError(err error) bool {
	var ae *AuthError
	return errors.As(err, &ae)
}

// APIError wraps any other non-2xx response.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}
