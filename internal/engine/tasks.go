package engine

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"opsdesk/internal/domain"
	"opsdesk/internal/engine/auth"
	"opsdesk/internal/events"
	"opsdesk/internal/repo"
)

// CreateTaskOptions are parameters for creating a task from intake or by hand.
type CreateTaskOptions struct {
	WorkTypeID         string `json:"work_type_id"`
	AssignTo           string `json:"assign_to"`
	Title              string `json:"title"`
	Description        string `json:"description,omitempty"`
	SourceMessageID    string `json:"source_message_id,omitempty"`
	ChecklistVariantID string `json:"checklist_variant_id,omitempty"`
	Priority           string `json:"priority,omitempty"`
}

// CreateFromIntake creates a todo task with its checklist cloned from the resolved template.
func (e Engine) CreateFromIntake(ctx context.Context, actor auth.Actor, opts CreateTaskOptions) (domain.Task, error) {
	if err := auth.RequireLead(actor, "create task"); err != nil {
		return domain.Task{}, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Task{}, err
	}
	defer tx.Rollback()

	t, err := e.createTaskTx(ctx, tx, actor, opts)
	if err != nil {
		return domain.Task{}, err
	}
	if err := e.commit(ctx, tx, Mutation{Op: OpTaskCreate, EntityID: t.ID, GroupID: t.GroupID, ActorID: actor.ID, Data: t}); err != nil {
		return domain.Task{}, err
	}
	e.annotateSource(ctx, t, actor.ID)
	e.decorate(&t, &actor)
	return t, nil
}

func (e Engine) createTaskTx(ctx context.Context, tx *sql.Tx, actor auth.Actor, opts CreateTaskOptions) (domain.Task, error) {
	opts.Title = strings.TrimSpace(opts.Title)
	if opts.Title == "" {
		return domain.Task{}, invalidf("title is required")
	}
	if opts.WorkTypeID == "" {
		return domain.Task{}, invalidf("work type is required")
	}
	if opts.AssignTo == "" {
		return domain.Task{}, invalidf("assignee is required")
	}
	wt, err := e.Repo.GetWorkTypeTx(ctx, tx, opts.WorkTypeID)
	if err != nil {
		return domain.Task{}, fmt.Errorf("work type %s: %w", opts.WorkTypeID, err)
	}
	member, err := e.Repo.IsGroupMemberTx(ctx, tx, wt.GroupID, opts.AssignTo)
	if err != nil {
		return domain.Task{}, err
	}
	if !member {
		return domain.Task{}, invalidf("assignee %s is not a member of group %s", opts.AssignTo, wt.GroupID)
	}
	priority, err := e.priorityCode(opts.Priority)
	if err != nil {
		return domain.Task{}, err
	}

	now := e.timestamp()
	t := domain.Task{
		ID:              uuid.NewString(),
		GroupID:         wt.GroupID,
		WorkTypeID:      wt.ID,
		WorkTypeName:    wt.Name,
		SourceMessageID: optionalString(opts.SourceMessageID),
		Title:           opts.Title,
		Description:     strings.TrimSpace(opts.Description),
		AssignTo:        opts.AssignTo,
		AssignFrom:      actor.ID,
		Status:          domain.Badge{Code: domain.StatusTodo},
		Priority:        domain.Badge{Code: priority},
		Checklist:       []domain.ChecklistItem{},
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if v, ok := ResolveVariant(wt, opts.ChecklistVariantID); ok {
		t.ChecklistVariantID = optionalString(v.ID)
		t.ChecklistVariantName = v.Name
		tmpl, err := e.Repo.GetTemplateTx(ctx, tx, wt.ID, v.ID)
		if err != nil {
			return domain.Task{}, err
		}
		t.Checklist = cloneTemplate(tmpl)
	}
	if err := e.Repo.InsertTask(ctx, tx, t); err != nil {
		return domain.Task{}, err
	}
	if err := e.eventWriter().Append(ctx, tx, events.TaskCreated, t.GroupID, "task", t.ID, actor.ID, events.EventPayload{
		"title":        t.Title,
		"work_type_id": t.WorkTypeID,
		"variant_id":   t.ChecklistVariantID,
		"assign_to":    t.AssignTo,
		"items":        len(t.Checklist),
	}); err != nil {
		return domain.Task{}, err
	}
	return t, nil
}

func (e Engine) priorityCode(requested string) (string, error) {
	if e.Config == nil {
		if requested == "" {
			return "normal", nil
		}
		return requested, nil
	}
	if requested == "" {
		return e.Config.DefaultPriority, nil
	}
	if _, ok := e.Config.Priorities[requested]; !ok {
		return "", invalidf("unknown priority %s", requested)
	}
	return requested, nil
}

// annotateSource links the source chat message to the task. Failures are logged and recorded only.
func (e Engine) annotateSource(ctx context.Context, t domain.Task, actorID string) {
	if t.SourceMessageID == nil || e.Conversations == nil {
		return
	}
	msgID := *t.SourceMessageID
	if err := e.Conversations.AnnotateMessage(ctx, msgID, t.ID); err != nil {
		e.logger().Warn("annotate message failed", "task_id", t.ID, "message_id", msgID, "error", err)
		if evErr := e.eventWriter().AppendStandalone(ctx, events.MessageAnnotateFailed, t.GroupID, "task", t.ID, actorID, events.EventPayload{
			"message_id": msgID,
			"error":      err.Error(),
		}); evErr != nil {
			e.logger().Error("record annotate failure", "task_id", t.ID, "error", evErr)
		}
	}
}

func ensureTaskTransition(oldStatus, newStatus string) error {
	switch oldStatus {
	case domain.StatusTodo:
		if newStatus == domain.StatusDoing {
			return nil
		}
	case domain.StatusDoing:
		if newStatus == domain.StatusNeedToVerified || newStatus == domain.StatusFinished {
			return nil
		}
	case domain.StatusNeedToVerified:
		if newStatus == domain.StatusFinished {
			return nil
		}
	}
	return IllegalTransitionError{From: oldStatus, To: newStatus, Reason: "no such transition"}
}

// ChangeStatus moves a task forward after re-checking the state machine and the permission gate.
func (e Engine) ChangeStatus(ctx context.Context, actor auth.Actor, taskID, next string) (domain.Task, error) {
	unlock := e.lock("task", taskID)
	defer unlock()

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Task{}, err
	}
	defer tx.Rollback()

	t, err := e.Repo.GetTaskTx(ctx, tx, taskID)
	if err != nil {
		return domain.Task{}, err
	}
	from := t.Status.Code
	if err := ensureTaskTransition(from, next); err != nil {
		return domain.Task{}, err
	}
	if !auth.CanChangeStatus(t, actor, next) {
		return domain.Task{}, IllegalTransitionError{From: from, To: next, Reason: "not permitted for actor"}
	}
	now := e.timestamp()
	t.Status.Code = next
	t.UpdatedAt = now
	if next == domain.StatusFinished {
		t.FinishedAt = &now
	}
	if err := e.Repo.UpdateTask(ctx, tx, t); err != nil {
		return domain.Task{}, err
	}
	if err := e.eventWriter().Append(ctx, tx, events.TaskStatusChanged, t.GroupID, "task", t.ID, actor.ID, events.EventPayload{
		"from": from,
		"to":   next,
	}); err != nil {
		return domain.Task{}, err
	}
	if err := e.commit(ctx, tx, Mutation{Op: OpTaskStatus, EntityID: t.ID, GroupID: t.GroupID, ActorID: actor.ID, Data: map[string]any{
		"from": from,
		"to":   next,
	}}); err != nil {
		return domain.Task{}, err
	}
	e.decorate(&t, &actor)
	return t, nil
}

// ToggleChecklistItem marks one checklist item done or not done.
func (e Engine) ToggleChecklistItem(ctx context.Context, actor auth.Actor, taskID, itemID string, done bool) (domain.Task, error) {
	unlock := e.lock("task", taskID)
	defer unlock()

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Task{}, err
	}
	defer tx.Rollback()

	t, err := e.Repo.GetTaskTx(ctx, tx, taskID)
	if err != nil {
		return domain.Task{}, err
	}
	if !auth.CanToggleChecklist(t, actor) {
		return domain.Task{}, auth.ForbiddenError{Action: "toggle checklist item"}
	}
	if err := e.Repo.SetChecklistItemDone(ctx, tx, t.ID, itemID, done); err != nil {
		return domain.Task{}, fmt.Errorf("checklist item %s: %w", itemID, err)
	}
	for i := range t.Checklist {
		if t.Checklist[i].ID == itemID {
			t.Checklist[i].Done = done
		}
	}
	t.UpdatedAt = e.timestamp()
	if err := e.Repo.UpdateTask(ctx, tx, t); err != nil {
		return domain.Task{}, err
	}
	if err := e.eventWriter().Append(ctx, tx, events.TaskChecklistToggled, t.GroupID, "task", t.ID, actor.ID, events.EventPayload{
		"item_id": itemID,
		"done":    done,
	}); err != nil {
		return domain.Task{}, err
	}
	if err := e.commit(ctx, tx, Mutation{Op: OpTaskCheck, EntityID: t.ID, GroupID: t.GroupID, ActorID: actor.ID, Data: map[string]any{
		"item_id": itemID,
		"done":    done,
	}}); err != nil {
		return domain.Task{}, err
	}
	e.decorate(&t, &actor)
	return t, nil
}

// EditChecklistStructure replaces the checklist of a todo task. Lead only.
func (e Engine) EditChecklistStructure(ctx context.Context, actor auth.Actor, taskID string, items []domain.ChecklistItem) (domain.Task, error) {
	if err := auth.RequireLead(actor, "edit checklist structure"); err != nil {
		return domain.Task{}, err
	}
	unlock := e.lock("task", taskID)
	defer unlock()

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Task{}, err
	}
	defer tx.Rollback()

	t, err := e.Repo.GetTaskTx(ctx, tx, taskID)
	if err != nil {
		return domain.Task{}, err
	}
	if !auth.CanEditChecklist(t, actor) {
		return domain.Task{}, auth.ForbiddenError{Action: fmt.Sprintf("edit checklist structure of a %s task", t.Status.Code)}
	}
	t.Checklist = normalizeChecklist(items)
	t.UpdatedAt = e.timestamp()
	if err := e.Repo.ReplaceChecklist(ctx, tx, t.ID, t.Checklist); err != nil {
		return domain.Task{}, err
	}
	if err := e.Repo.UpdateTask(ctx, tx, t); err != nil {
		return domain.Task{}, err
	}
	if err := e.eventWriter().Append(ctx, tx, events.TaskChecklistEdited, t.GroupID, "task", t.ID, actor.ID, events.EventPayload{
		"items": len(t.Checklist),
	}); err != nil {
		return domain.Task{}, err
	}
	if err := e.commit(ctx, tx, Mutation{Op: OpTaskChecklist, EntityID: t.ID, GroupID: t.GroupID, ActorID: actor.ID, Data: map[string]any{
		"checklist": t.Checklist,
	}}); err != nil {
		return domain.Task{}, err
	}
	e.decorate(&t, &actor)
	return t, nil
}

// normalizeChecklist drops blank labels and keeps ids only when present and unique.
func normalizeChecklist(items []domain.ChecklistItem) []domain.ChecklistItem {
	out := []domain.ChecklistItem{}
	seen := map[string]struct{}{}
	for _, it := range items {
		label := strings.TrimSpace(it.Label)
		if label == "" {
			continue
		}
		id := strings.TrimSpace(it.ID)
		if _, dup := seen[id]; id == "" || dup {
			id = uuid.NewString()
		}
		seen[id] = struct{}{}
		out = append(out, domain.ChecklistItem{ID: id, Label: label, Done: it.Done})
	}
	return out
}

// Reassign hands a task to another member of its group. Status and checklist stay as they are.
func (e Engine) Reassign(ctx context.Context, actor auth.Actor, taskID, newAssignee string) (domain.Task, error) {
	if err := auth.RequireLead(actor, "reassign task"); err != nil {
		return domain.Task{}, err
	}
	if strings.TrimSpace(newAssignee) == "" {
		return domain.Task{}, invalidf("assignee is required")
	}
	unlock := e.lock("task", taskID)
	defer unlock()

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Task{}, err
	}
	defer tx.Rollback()

	t, err := e.Repo.GetTaskTx(ctx, tx, taskID)
	if err != nil {
		return domain.Task{}, err
	}
	member, err := e.Repo.IsGroupMemberTx(ctx, tx, t.GroupID, newAssignee)
	if err != nil {
		return domain.Task{}, err
	}
	if !member {
		return domain.Task{}, invalidf("assignee %s is not a member of group %s", newAssignee, t.GroupID)
	}
	from := t.AssignTo
	t.AssignTo = newAssignee
	t.UpdatedAt = e.timestamp()
	if err := e.Repo.UpdateTask(ctx, tx, t); err != nil {
		return domain.Task{}, err
	}
	if err := e.eventWriter().Append(ctx, tx, events.TaskReassigned, t.GroupID, "task", t.ID, actor.ID, events.EventPayload{
		"from": from,
		"to":   newAssignee,
	}); err != nil {
		return domain.Task{}, err
	}
	if err := e.commit(ctx, tx, Mutation{Op: OpTaskReassign, EntityID: t.ID, GroupID: t.GroupID, ActorID: actor.ID, Data: map[string]any{
		"from": from,
		"to":   newAssignee,
	}}); err != nil {
		return domain.Task{}, err
	}
	e.decorate(&t, &actor)
	return t, nil
}

// GetTask returns a task with badges and the actor's current permissions.
func (e Engine) GetTask(ctx context.Context, actor auth.Actor, taskID string) (domain.Task, error) {
	t, err := e.Repo.GetTask(ctx, taskID)
	if err != nil {
		return domain.Task{}, err
	}
	e.decorate(&t, &actor)
	return t, nil
}

// Permissions recomputes what actor may do with a task.
func (e Engine) Permissions(ctx context.Context, actor auth.Actor, taskID string) (domain.Permissions, error) {
	t, err := e.Repo.GetTask(ctx, taskID)
	if err != nil {
		return domain.Permissions{}, err
	}
	return auth.ComputePermissions(t, actor), nil
}

// ListTasks returns decorated tasks matching f.
func (e Engine) ListTasks(ctx context.Context, actor auth.Actor, f repo.TaskFilters) ([]domain.Task, error) {
	if f.Status != "" && domain.StatusRank(f.Status) < 0 {
		return nil, invalidf("unknown status %s", f.Status)
	}
	tasks, err := e.Repo.ListTasks(ctx, f)
	if err != nil {
		return nil, err
	}
	for i := range tasks {
		e.decorate(&tasks[i], &actor)
	}
	return tasks, nil
}
