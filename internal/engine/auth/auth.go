package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"opsdesk/internal/domain"
)

const (
	RoleLead  = "lead"
	RoleStaff = "staff"
)

// Actor is the caller of an operation. The zero Actor is "no actor" and is denied everything.
type Actor struct {
	ID   string `json:"id"`
	Role string `json:"role"`
}

// Known reports whether a carries an id and a recognised role.
func (a Actor) Known() bool {
	return strings.TrimSpace(a.ID) != "" && (a.Role == RoleLead || a.Role == RoleStaff)
}

func (a Actor) IsLead() bool {
	return a.Known() && a.Role == RoleLead
}

// ForbiddenError indicates the actor may not perform Action.
type ForbiddenError struct {
	Action string
}

func (e ForbiddenError) Error() string {
	return fmt.Sprintf("not allowed to %s", e.Action)
}

// RequireActor rejects the zero Actor.
func RequireActor(a Actor, action string) error {
	if !a.Known() {
		return ForbiddenError{Action: action}
	}
	return nil
}

// RequireLead rejects anyone but a lead.
func RequireLead(a Actor, action string) error {
	if !a.IsLead() {
		return ForbiddenError{Action: action}
	}
	return nil
}

// ComputePermissions returns the status changes a may make on t right now.
func ComputePermissions(t domain.Task, a Actor) domain.Permissions {
	if !a.Known() {
		return domain.Permissions{}
	}
	assignee := a.ID == t.AssignTo
	status := t.Status.Code
	return domain.Permissions{
		CanChangeToDoing:      assignee && status == domain.StatusTodo,
		CanChangeToNeedVerify: assignee && status == domain.StatusDoing,
		CanChangeToFinished:   a.IsLead() && (status == domain.StatusDoing || status == domain.StatusNeedToVerified),
	}
}

// CanChangeStatus reports whether the gate lets a move t to next.
func CanChangeStatus(t domain.Task, a Actor, next string) bool {
	p := ComputePermissions(t, a)
	switch next {
	case domain.StatusDoing:
		return p.CanChangeToDoing
	case domain.StatusNeedToVerified:
		return p.CanChangeToNeedVerify
	case domain.StatusFinished:
		return p.CanChangeToFinished
	}
	return false
}

// CanToggleChecklist allows the lead and the assignee in every status.
func CanToggleChecklist(t domain.Task, a Actor) bool {
	if !a.Known() {
		return false
	}
	return a.IsLead() || a.ID == t.AssignTo
}

// CanEditChecklist allows structural edits only for a lead while the task is todo.
func CanEditChecklist(t domain.Task, a Actor) bool {
	return a.IsLead() && t.Status.Code == domain.StatusTodo
}

// ErrUnknownActor is returned by LookupActor for ids with no actor row.
var ErrUnknownActor = errors.New("unknown actor")

// Service resolves actors backed by SQL.
type Service struct {
	DB *sql.DB
}

// LookupActor returns the actor with its role.
func (s Service) LookupActor(ctx context.Context, id string) (Actor, error) {
	if strings.TrimSpace(id) == "" {
		return Actor{}, ErrUnknownActor
	}
	var a Actor
	err := s.DB.QueryRowContext(ctx, `SELECT id, role FROM actors WHERE id=?`, id).Scan(&a.ID, &a.Role)
	if err == sql.ErrNoRows {
		return Actor{}, ErrUnknownActor
	}
	if err != nil {
		return Actor{}, err
	}
	return a, nil
}

// ResolveActor is LookupActor with failures mapped to the zero Actor.
func (s Service) ResolveActor(ctx context.Context, id string) Actor {
	a, err := s.LookupActor(ctx, id)
	if err != nil {
		return Actor{}
	}
	return a
}

// EnsureActor inserts the actor with the given role when missing. An existing role is kept.
func (s Service) EnsureActor(ctx context.Context, tx *sql.Tx, actorID, role string) error {
	if actorID == "" {
		return errors.New("actor_id required")
	}
	if role != RoleLead && role != RoleStaff {
		return fmt.Errorf("invalid role %q", role)
	}
	now := time.Now().UTC().Format(time.RFC3339)
	_, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO actors(id, role, created_at) VALUES (?,?,?)`, actorID, role, now)
	return err
}
