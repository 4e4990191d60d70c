package engine

import (
	"context"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"planbridge/internal/domain"
	"planbridge/internal/events"
	"planbridge/internal/repo"
)

// Tokens without a readable expiry claim get a short conservative window.
const defaultTokenTTL = 12 * time.Hour

// CheckTokenValidity reports the state of a board's extraction token.
// Having no token is a normal state, not an error. A token found past its
// expiry is flagged invalid on the way out.
func (e Engine) CheckTokenValidity(ctx context.Context, workspaceID, boardID string) (domain.TokenStatus, error) {
	if workspaceID == "" || boardID == "" {
		return domain.TokenStatus{}, validationf("workspace id and board id are required")
	}
	tok, err := e.Repo.ValidToken(ctx, workspaceID, boardID)
	if errors.Is(err, repo.ErrNotFound) {
		return domain.TokenStatus{IsValid: false}, nil
	}
	if err != nil {
		return domain.TokenStatus{}, err
	}

	expires, parseErr := time.Parse(time.RFC3339, tok.ExpiresAt)
	if parseErr == nil && !expires.After(e.now().UTC()) {
		if err := e.InvalidateToken(ctx, tok.TokenID); err != nil {
			return domain.TokenStatus{}, err
		}
		return domain.TokenStatus{IsValid: false, TokenID: tok.TokenID, ExpiresAt: &tok.ExpiresAt}, nil
	}
	return domain.TokenStatus{
		IsValid:    true,
		TokenID:    tok.TokenID,
		ExpiresAt:  &tok.ExpiresAt,
		LastUsedAt: tok.LastUsedAt,
	}, nil
}

// RegisterToken stores a freshly scraped bearer token for a board scope,
// superseding whatever token was valid before. The expiry is read from
// the token's own exp claim when it parses as a JWT.
func (e Engine) RegisterToken(ctx context.Context, workspaceID, boardID, rawToken string) (domain.AuthToken, error) {
	if workspaceID == "" || boardID == "" {
		return domain.AuthToken{}, validationf("workspace id and board id are required")
	}
	if rawToken == "" {
		return domain.AuthToken{}, validationf("token value is required")
	}

	now := e.now().UTC()
	expires := now.Add(defaultTokenTTL)
	if claimed := tokenExpiry(rawToken); claimed != nil {
		if !claimed.After(now) {
			return domain.AuthToken{}, validationf("token is already expired")
		}
		expires = *claimed
	}

	if err := e.Repo.InvalidateBoardTokens(ctx, workspaceID, boardID); err != nil {
		return domain.AuthToken{}, err
	}
	tok := domain.AuthToken{
		TokenID:     uuid.NewString(),
		Secret:      rawToken,
		WorkspaceID: workspaceID,
		BoardID:     boardID,
		IsValid:     true,
		ExpiresAt:   expires.Format(time.RFC3339),
		CreatedAt:   now.Format(time.RFC3339),
	}
	if err := e.Repo.InsertToken(ctx, tok); err != nil {
		return domain.AuthToken{}, err
	}
	if err := e.Events.Append(ctx, nil, "token.registered", workspaceID, "token", tok.TokenID, events.EventPayload{
		"board_id":   boardID,
		"expires_at": tok.ExpiresAt,
	}); err != nil {
		return domain.AuthToken{}, err
	}
	return tok, nil
}

// MarkTokenUsed stamps the token's last extraction time.
func (e Engine) MarkTokenUsed(ctx context.Context, tokenID string) error {
	return e.Repo.MarkTokenUsed(ctx, tokenID, e.nowRFC3339())
}

// InvalidateToken retires a token, typically after the product tool
// rejected it.
func (e Engine) InvalidateToken(ctx context.Context, tokenID string) error {
	tok, err := e.Repo.GetToken(ctx, tokenID)
	if err != nil {
		return err
	}
	if err := e.Repo.InvalidateToken(ctx, tokenID); err != nil {
		return err
	}
	return e.Events.Append(ctx, nil, "token.invalidated", tok.WorkspaceID, "token", tokenID, events.EventPayload{
		"board_id": tok.BoardID,
	})
}

// tokenExpiry reads the exp claim of a JWT without verifying its
// signature; the token is someone else's credential, we only need its
// lifetime.
func tokenExpiry(rawToken string) *time.Time {
	parser := jwt.NewParser()
	token, _, err := parser.ParseUnverified(rawToken, jwt.MapClaims{})
	if err != nil {
		return nil
	}
	exp, err := token.Claims.GetExpirationTime()
	if err != nil || exp == nil {
		return nil
	}
	t := exp.Time.UTC()
	return &t
}
