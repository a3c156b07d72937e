package engine

import (
	"context"
	"database/sql"
	"log/slog"
	"time"

	"opsdesk/internal/config"
	"opsdesk/internal/domain"
	"opsdesk/internal/engine/auth"
	"opsdesk/internal/events"
	"opsdesk/internal/logging"
	"opsdesk/internal/repo"
)

type Engine struct {
	DB            *sql.DB
	Repo          repo.Repo
	Events        events.Writer
	Auth          auth.Service
	Config        *config.Config
	Committer     Committer
	Conversations Conversations
	Logger        *slog.Logger
	Now           func() time.Time

	locks *keyedMutex
}

func New(db *sql.DB, cfg *config.Config) Engine {
	return Engine{
		DB:     db,
		Repo:   repo.Repo{DB: db},
		Events: events.Writer{DB: db},
		Auth:   auth.Service{DB: db},
		Config: cfg,
		Now:    time.Now,
		locks:  newKeyedMutex(),
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) timestamp() string {
	return e.now().UTC().Format(time.RFC3339)
}

func (e Engine) logger() *slog.Logger {
	return logging.OrDefault(e.Logger)
}

func (e Engine) eventWriter() events.Writer {
	w := e.Events
	w.Now = e.now
	return w
}

// lock serializes mutations on one entity. The returned func releases it.
func (e Engine) lock(kind, id string) func() {
	if e.locks == nil {
		return func() {}
	}
	return e.locks.Lock(kind + ":" + id)
}

// commit confirms m with the remote task API, then commits tx. A remote failure
// leaves tx uncommitted so the deferred rollback discards the local write.
func (e Engine) commit(ctx context.Context, tx *sql.Tx, m Mutation) error {
	if e.Committer != nil {
		if err := e.Committer.Commit(ctx, m); err != nil {
			e.logger().Warn("remote commit failed", "op", m.Op, "entity_id", m.EntityID, "error", err)
			return RemoteCommitError{Op: m.Op, Err: err}
		}
	}
	return tx.Commit()
}

// decorate fills display badges from the portal catalogs and, when an actor is
// given, the permission snapshot.
func (e Engine) decorate(t *domain.Task, actor *auth.Actor) {
	if e.Config != nil {
		t.Status = e.Config.StatusBadge(t.Status.Code)
		t.Priority = e.Config.PriorityBadge(t.Priority.Code)
	}
	if t.Checklist == nil {
		t.Checklist = []domain.ChecklistItem{}
	}
	if actor != nil {
		p := auth.ComputePermissions(*t, *actor)
		t.Permissions = &p
	}
}

func optionalString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
