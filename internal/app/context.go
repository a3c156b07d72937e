package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"opsdesk/internal/config"
	"opsdesk/internal/conversation"
	"opsdesk/internal/db"
	"opsdesk/internal/engine"
	"opsdesk/internal/logging"
	"opsdesk/internal/migrate"
	"opsdesk/internal/remote"
	"opsdesk/internal/repo"
)

// ResolvePortalAndConfig picks the active portal and makes sure its config is stored,
// seeding from opsdesk.yml in the workspace or the built-in defaults when missing.
// It prefers the override, then the single portal in the DB, then the workspace file.
func ResolvePortalAndConfig(ctx context.Context, workspace, portalOverride string, r repo.Repo) (string, *config.Config, error) {
	fileCfg, err := config.LoadOptional(workspace)
	if err != nil {
		return "", nil, err
	}
	portalID := portalOverride
	if portalID == "" {
		if p, err := r.SinglePortal(ctx); err == nil {
			portalID = p
		} else if fileCfg != nil {
			portalID = fileCfg.Portal.ID
		} else {
			return "", nil, fmt.Errorf("portal not specified; use --portal or run od portal init")
		}
	}
	cfg, err := r.GetPortalConfig(ctx, portalID)
	if err == nil {
		cfg.Portal.ID = portalID
		return portalID, cfg, nil
	}
	if !errors.Is(err, repo.ErrNotFound) {
		return "", nil, err
	}
	seed := config.Default(portalID)
	if fileCfg != nil && fileCfg.Portal.ID == portalID {
		seed = fileCfg
	}
	if err := r.UpsertPortalConfig(ctx, portalID, seed); err != nil {
		return "", nil, fmt.Errorf("seed portal config: %w", err)
	}
	return portalID, seed, nil
}

// Options select the workspace and portal a Runtime works on.
type Options struct {
	Workspace string
	Portal    string
	Logger    *slog.Logger
}

// Runtime bundles an open database and an engine wired with its collaborators.
type Runtime struct {
	DB       *sql.DB
	PortalID string
	Config   *config.Config
	Engine   engine.Engine
	Convo    conversation.Store
	Logger   *slog.Logger
}

// Open opens and migrates the workspace database and builds the engine for the resolved portal.
func Open(ctx context.Context, opts Options) (*Runtime, error) {
	logger := logging.OrDefault(opts.Logger)
	conn, err := db.Open(db.Config{Workspace: opts.Workspace})
	if err != nil {
		return nil, err
	}
	if err := migrate.Run(ctx, conn, logger); err != nil {
		conn.Close()
		return nil, err
	}
	r := repo.Repo{DB: conn}
	portalID, cfg, err := ResolvePortalAndConfig(ctx, opts.Workspace, opts.Portal, r)
	if err != nil {
		conn.Close()
		return nil, err
	}
	rt := &Runtime{DB: conn, PortalID: portalID, Config: cfg, Logger: logger}
	rt.Convo = conversation.Store{DB: conn}
	rt.Engine = engine.New(conn, cfg)
	rt.Engine.Logger = logger
	rt.Engine.Conversations = rt.Convo
	rt.Engine.Committer = remote.FromConfig(cfg, logger)
	logger.Debug("runtime ready", "portal", portalID, "db", db.Path(opts.Workspace))
	return rt, nil
}

// Close releases the database.
func (rt *Runtime) Close() error {
	if rt == nil || rt.DB == nil {
		return nil
	}
	return rt.DB.Close()
}
