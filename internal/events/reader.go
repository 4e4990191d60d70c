package events

import (
	"context"
	"database/sql"

	"planbridge/internal/domain"
)

// Latest returns the most recent events for a workspace, newest first.
func Latest(ctx context.Context, db *sql.DB, workspaceID, evtType string, limit int) ([]domain.Event, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT id,ts,type,workspace_id,entity_kind,entity_id,payload_json FROM events WHERE 1=1`
	var args []any
	if workspaceID != "" {
		query += ` AND workspace_id=?`
		args = append(args, workspaceID)
	}
	if evtType != "" {
		query += ` AND type=?`
		args = append(args, evtType)
	}
	query += ` ORDER BY id DESC LIMIT ?`
	args = append(args, limit)
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Event
	for rows.Next() {
		var e domain.Event
		var ws, entityID, payload sql.NullString
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &ws, &e.EntityKind, &entityID, &payload); err != nil {
			return nil, err
		}
		if ws.Valid {
			e.WorkspaceID = ws.String
		}
		if entityID.Valid {
			e.EntityID = entityID.String
		}
		if payload.Valid {
			e.Payload = payload.String
		}
		res = append(res, e)
	}
	return res, rows.Err()
}
