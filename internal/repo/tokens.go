package repo

import (
	"context"
	"database/sql"

	"planbridge/internal/domain"
)

const tokenColumns = `token_id,secret,workspace_id,board_id,is_valid,expires_at,last_used_at,created_at`

func scanToken(row recordScanner) (domain.AuthToken, error) {
	var t domain.AuthToken
	var isValid int
	var lastUsed sql.NullString
	err := row.Scan(&t.TokenID, &t.Secret, &t.WorkspaceID, &t.BoardID, &isValid, &t.ExpiresAt, &lastUsed, &t.CreatedAt)
	if err == sql.ErrNoRows {
		return t, ErrNotFound
	}
	if err != nil {
		return t, err
	}
	t.IsValid = isValid != 0
	if lastUsed.Valid {
		t.LastUsedAt = &lastUsed.String
	}
	return t, nil
}

func (r Repo) InsertToken(ctx context.Context, t domain.AuthToken) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO auth_tokens(`+tokenColumns+`) VALUES (?,?,?,?,?,?,?,?)`,
		t.TokenID, t.Secret, t.WorkspaceID, t.BoardID, boolToInt(t.IsValid), t.ExpiresAt,
		nullableStringPtr(t.LastUsedAt), t.CreatedAt)
	return err
}

// ValidToken returns the single valid token for a board scope, or
// ErrNotFound. The partial unique index keeps at most one valid row.
func (r Repo) ValidToken(ctx context.Context, workspaceID, boardID string) (domain.AuthToken, error) {
	return scanToken(r.DB.QueryRowContext(ctx, `SELECT `+tokenColumns+` FROM auth_tokens WHERE workspace_id=? AND board_id=? AND is_valid=1`, workspaceID, boardID))
}

func (r Repo) GetToken(ctx context.Context, tokenID string) (domain.AuthToken, error) {
	return scanToken(r.DB.QueryRowContext(ctx, `SELECT `+tokenColumns+` FROM auth_tokens WHERE token_id=?`, tokenID))
}

func (r Repo) MarkTokenUsed(ctx context.Context, tokenID, usedAt string) error {
	res, err := r.DB.ExecContext(ctx, `UPDATE auth_tokens SET last_used_at=? WHERE token_id=?`, usedAt, tokenID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) InvalidateToken(ctx context.Context, tokenID string) error {
	res, err := r.DB.ExecContext(ctx, `UPDATE auth_tokens SET is_valid=0 WHERE token_id=?`, tokenID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// InvalidateBoardTokens clears any valid token for a board scope, making
// room for a fresh registration.
func (r Repo) InvalidateBoardTokens(ctx context.Context, workspaceID, boardID string) error {
	_, err := r.DB.ExecContext(ctx, `UPDATE auth_tokens SET is_valid=0 WHERE workspace_id=? AND board_id=? AND is_valid=1`, workspaceID, boardID)
	return err
}
