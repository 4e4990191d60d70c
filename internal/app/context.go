package app

import (
	"context"
	"errors"
	"fmt"

	"planbridge/internal/config"
	"planbridge/internal/repo"
)

// ResolveWorkspaceAndConfig picks the active workspace and ensures a
// config exists for it, seeding defaults when missing. The override flag
// wins, then planbridge.yml in the workspace directory, then the single
// workspace already in the store.
func ResolveWorkspaceAndConfig(ctx context.Context, workspaceDir, workspaceOverride string, r repo.Repo) (string, *config.Config, error) {
	fileCfg, err := config.LoadOptional(workspaceDir)
	if err != nil {
		return "", nil, err
	}

	workspaceID := workspaceOverride
	if workspaceID == "" && fileCfg != nil {
		workspaceID = fileCfg.Workspace.ID
	}
	if workspaceID == "" {
		if id, err := r.SingleWorkspaceID(ctx); err == nil {
			workspaceID = id
		} else {
			return "", nil, fmt.Errorf("workspace not specified; use --workspace or create %s", config.Path(workspaceDir))
		}
	}

	// The file is authoritative when present; it is mirrored into the
	// store so the HTTP server sees the same settings.
	if fileCfg != nil {
		if err := r.UpsertWorkspaceConfig(ctx, workspaceID, fileCfg); err != nil {
			return "", nil, fmt.Errorf("store workspace config: %w", err)
		}
		fileCfg.Workspace.ID = workspaceID
		return workspaceID, fileCfg, nil
	}

	cfg, err := r.GetWorkspaceConfig(ctx, workspaceID)
	if err != nil {
		if !errors.Is(err, repo.ErrNotFound) {
			return "", nil, err
		}
		cfg = config.Default(workspaceID)
		if err := r.UpsertWorkspaceConfig(ctx, workspaceID, cfg); err != nil {
			return "", nil, fmt.Errorf("seed workspace config: %w", err)
		}
	}
	cfg.Workspace.ID = workspaceID
	return workspaceID, cfg, nil
}
