package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"

	"opsdesk/internal/domain"
	"opsdesk/internal/engine/auth"
	"opsdesk/internal/events"
	"opsdesk/internal/repo"
)

const maxIntakeTitle = 120

// Receive records a chat message as a waiting item. Receiving the same message
// again returns the stored item together with ErrAlreadyReceived.
func (e Engine) Receive(ctx context.Context, actor auth.Actor, msg domain.Message) (domain.ReceivedInfo, error) {
	if err := auth.RequireActor(actor, "receive message"); err != nil {
		return domain.ReceivedInfo{}, err
	}
	if strings.TrimSpace(msg.ID) == "" {
		return domain.ReceivedInfo{}, invalidf("message id is required")
	}
	if strings.TrimSpace(msg.GroupID) == "" {
		return domain.ReceivedInfo{}, invalidf("group id is required")
	}
	unlock := e.lock("message", msg.ID)
	defer unlock()

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.ReceivedInfo{}, err
	}
	defer tx.Rollback()

	existing, err := e.Repo.GetReceivedInfoByMessageTx(ctx, tx, msg.ID)
	if err == nil {
		return existing, ErrAlreadyReceived
	}
	if !errors.Is(err, repo.ErrNotFound) {
		return domain.ReceivedInfo{}, err
	}
	if _, err := e.Repo.GetGroupTx(ctx, tx, msg.GroupID); err != nil {
		return domain.ReceivedInfo{}, fmt.Errorf("group %s: %w", msg.GroupID, err)
	}
	now := e.timestamp()
	info := domain.ReceivedInfo{
		ID:         uuid.NewString(),
		MessageID:  msg.ID,
		GroupID:    msg.GroupID,
		Title:      intakeTitle(msg),
		Sender:     msg.Sender,
		ReceivedBy: actor.ID,
		CreatedAt:  now,
		Status:     domain.IntakeWaiting,
	}
	if err := e.Repo.InsertReceivedInfo(ctx, tx, info); err != nil {
		return domain.ReceivedInfo{}, err
	}
	if err := e.eventWriter().Append(ctx, tx, events.IntakeReceived, info.GroupID, "received_info", info.ID, actor.ID, events.EventPayload{
		"message_id": info.MessageID,
		"title":      info.Title,
	}); err != nil {
		return domain.ReceivedInfo{}, err
	}
	if err := e.commit(ctx, tx, Mutation{Op: OpIntakeReceive, EntityID: info.ID, GroupID: info.GroupID, ActorID: actor.ID, Data: info}); err != nil {
		return domain.ReceivedInfo{}, err
	}
	e.appendReceipt(ctx, info, actor.ID)
	return info, nil
}

func intakeTitle(msg domain.Message) string {
	text := strings.TrimSpace(msg.Text)
	if i := strings.IndexByte(text, '\n'); i >= 0 {
		text = strings.TrimSpace(text[:i])
	}
	if text == "" {
		return "message " + msg.ID
	}
	if utf8.RuneCountInString(text) > maxIntakeTitle {
		runes := []rune(text)
		text = string(runes[:maxIntakeTitle]) + "…"
	}
	return text
}

// appendReceipt posts "<actor> received this message at <time>" to the group. Failures are logged and recorded only.
func (e Engine) appendReceipt(ctx context.Context, info domain.ReceivedInfo, actorID string) {
	if e.Conversations == nil {
		return
	}
	text := fmt.Sprintf("%s received this message at %s", actorID, info.CreatedAt)
	if err := e.Conversations.AppendSystemMessage(ctx, info.GroupID, text); err != nil {
		e.logger().Warn("append system message failed", "info_id", info.ID, "message_id", info.MessageID, "error", err)
		if evErr := e.eventWriter().AppendStandalone(ctx, events.MessageSystemFailed, info.GroupID, "received_info", info.ID, actorID, events.EventPayload{
			"message_id": info.MessageID,
			"error":      err.Error(),
		}); evErr != nil {
			e.logger().Error("record system message failure", "info_id", info.ID, "error", evErr)
		}
	}
}

// Assign resolves a waiting info by creating a task in its group.
func (e Engine) Assign(ctx context.Context, actor auth.Actor, infoID string, opts CreateTaskOptions) (domain.ReceivedInfo, domain.Task, error) {
	if err := auth.RequireLead(actor, "assign received info"); err != nil {
		return domain.ReceivedInfo{}, domain.Task{}, err
	}
	unlock := e.lock("intake", infoID)
	defer unlock()

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.ReceivedInfo{}, domain.Task{}, err
	}
	defer tx.Rollback()

	info, err := e.Repo.GetReceivedInfoTx(ctx, tx, infoID)
	if err != nil {
		return domain.ReceivedInfo{}, domain.Task{}, err
	}
	if info.Status != domain.IntakeWaiting {
		return info, domain.Task{}, ErrAlreadyResolved
	}
	wt, err := e.Repo.GetWorkTypeTx(ctx, tx, opts.WorkTypeID)
	if err != nil {
		return domain.ReceivedInfo{}, domain.Task{}, fmt.Errorf("work type %s: %w", opts.WorkTypeID, err)
	}
	if wt.GroupID != info.GroupID {
		return domain.ReceivedInfo{}, domain.Task{}, invalidf("work type %s does not belong to group %s", wt.ID, info.GroupID)
	}
	opts.SourceMessageID = info.MessageID
	if strings.TrimSpace(opts.Title) == "" {
		opts.Title = info.Title
	}
	t, err := e.createTaskTx(ctx, tx, actor, opts)
	if err != nil {
		return domain.ReceivedInfo{}, domain.Task{}, err
	}
	now := e.timestamp()
	info.Status = domain.IntakeAssigned
	info.CreatedTaskID = &t.ID
	info.ResolvedAt = &now
	if err := e.Repo.UpdateReceivedInfoResolution(ctx, tx, info); err != nil {
		return domain.ReceivedInfo{}, domain.Task{}, err
	}
	if err := e.eventWriter().Append(ctx, tx, events.IntakeAssigned, info.GroupID, "received_info", info.ID, actor.ID, events.EventPayload{
		"task_id":   t.ID,
		"assign_to": t.AssignTo,
	}); err != nil {
		return domain.ReceivedInfo{}, domain.Task{}, err
	}
	if err := e.commit(ctx, tx, Mutation{Op: OpIntakeResolve, EntityID: info.ID, GroupID: info.GroupID, ActorID: actor.ID, Data: map[string]any{
		"info": info,
		"task": t,
	}}); err != nil {
		return domain.ReceivedInfo{}, domain.Task{}, err
	}
	e.annotateSource(ctx, t, actor.ID)
	e.decorate(&t, &actor)
	return info, t, nil
}

// TransferToDepartment hands a waiting info to another department. No task is created.
func (e Engine) TransferToDepartment(ctx context.Context, actor auth.Actor, infoID, departmentID string) (domain.ReceivedInfo, error) {
	if err := auth.RequireLead(actor, "transfer received info"); err != nil {
		return domain.ReceivedInfo{}, err
	}
	unlock := e.lock("intake", infoID)
	defer unlock()

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.ReceivedInfo{}, err
	}
	defer tx.Rollback()

	info, err := e.Repo.GetReceivedInfoTx(ctx, tx, infoID)
	if err != nil {
		return domain.ReceivedInfo{}, err
	}
	if info.Status != domain.IntakeWaiting {
		return info, ErrAlreadyResolved
	}
	dept, err := e.Repo.GetDepartmentTx(ctx, tx, departmentID)
	if err != nil {
		return domain.ReceivedInfo{}, fmt.Errorf("department %s: %w", departmentID, err)
	}
	now := e.timestamp()
	info.Status = domain.IntakeTransferred
	info.TransferredTo = &dept.ID
	info.ResolvedAt = &now
	if err := e.Repo.UpdateReceivedInfoResolution(ctx, tx, info); err != nil {
		return domain.ReceivedInfo{}, err
	}
	if err := e.eventWriter().Append(ctx, tx, events.IntakeTransferred, info.GroupID, "received_info", info.ID, actor.ID, events.EventPayload{
		"department_id": dept.ID,
	}); err != nil {
		return domain.ReceivedInfo{}, err
	}
	if err := e.commit(ctx, tx, Mutation{Op: OpIntakeResolve, EntityID: info.ID, GroupID: info.GroupID, ActorID: actor.ID, Data: map[string]any{
		"info": info,
	}}); err != nil {
		return domain.ReceivedInfo{}, err
	}
	return info, nil
}

// TransferGroupOptions describe where a group transfer lands.
type TransferGroupOptions struct {
	TargetGroupID      string `json:"target_group_id"`
	WorkTypeID         string `json:"work_type_id"`
	AssignTo           string `json:"assign_to"`
	Title              string `json:"title,omitempty"`
	Description        string `json:"description,omitempty"`
	ChecklistVariantID string `json:"checklist_variant_id,omitempty"`
	Priority           string `json:"priority,omitempty"`
}

// TransferToGroup hands a waiting info to another group and opens a task in the target work type.
func (e Engine) TransferToGroup(ctx context.Context, actor auth.Actor, infoID string, opts TransferGroupOptions) (domain.ReceivedInfo, domain.Task, error) {
	if err := auth.RequireLead(actor, "transfer received info"); err != nil {
		return domain.ReceivedInfo{}, domain.Task{}, err
	}
	unlock := e.lock("intake", infoID)
	defer unlock()

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.ReceivedInfo{}, domain.Task{}, err
	}
	defer tx.Rollback()

	info, err := e.Repo.GetReceivedInfoTx(ctx, tx, infoID)
	if err != nil {
		return domain.ReceivedInfo{}, domain.Task{}, err
	}
	if info.Status != domain.IntakeWaiting {
		return info, domain.Task{}, ErrAlreadyResolved
	}
	group, err := e.Repo.GetGroupTx(ctx, tx, opts.TargetGroupID)
	if err != nil {
		return domain.ReceivedInfo{}, domain.Task{}, fmt.Errorf("group %s: %w", opts.TargetGroupID, err)
	}
	wt, err := e.Repo.GetWorkTypeTx(ctx, tx, opts.WorkTypeID)
	if err != nil {
		return domain.ReceivedInfo{}, domain.Task{}, fmt.Errorf("work type %s: %w", opts.WorkTypeID, err)
	}
	if wt.GroupID != group.ID {
		return domain.ReceivedInfo{}, domain.Task{}, invalidf("work type %s does not belong to group %s", wt.ID, group.ID)
	}
	title := opts.Title
	if strings.TrimSpace(title) == "" {
		title = info.Title
	}
	t, err := e.createTaskTx(ctx, tx, actor, CreateTaskOptions{
		WorkTypeID:         wt.ID,
		AssignTo:           opts.AssignTo,
		Title:              title,
		Description:        opts.Description,
		SourceMessageID:    info.MessageID,
		ChecklistVariantID: opts.ChecklistVariantID,
		Priority:           opts.Priority,
	})
	if err != nil {
		return domain.ReceivedInfo{}, domain.Task{}, err
	}
	now := e.timestamp()
	info.Status = domain.IntakeTransferred
	info.TransferredToGroupID = &group.ID
	info.TransferredToGroupName = group.Name
	info.TransferredWorkTypeID = &wt.ID
	info.TransferredWorkTypeName = wt.Name
	info.CreatedTaskID = &t.ID
	info.ResolvedAt = &now
	if err := e.Repo.UpdateReceivedInfoResolution(ctx, tx, info); err != nil {
		return domain.ReceivedInfo{}, domain.Task{}, err
	}
	if err := e.eventWriter().Append(ctx, tx, events.IntakeTransferred, info.GroupID, "received_info", info.ID, actor.ID, events.EventPayload{
		"group_id":     group.ID,
		"work_type_id": wt.ID,
		"task_id":      t.ID,
	}); err != nil {
		return domain.ReceivedInfo{}, domain.Task{}, err
	}
	if err := e.commit(ctx, tx, Mutation{Op: OpIntakeResolve, EntityID: info.ID, GroupID: info.GroupID, ActorID: actor.ID, Data: map[string]any{
		"info": info,
		"task": t,
	}}); err != nil {
		return domain.ReceivedInfo{}, domain.Task{}, err
	}
	e.annotateSource(ctx, t, actor.ID)
	e.decorate(&t, &actor)
	return info, t, nil
}

func (e Engine) GetReceivedInfo(ctx context.Context, id string) (domain.ReceivedInfo, error) {
	return e.Repo.GetReceivedInfo(ctx, id)
}

func (e Engine) ListReceived(ctx context.Context, f repo.ReceivedInfoFilters) ([]domain.ReceivedInfo, error) {
	switch f.Status {
	case "", domain.IntakeWaiting, domain.IntakeAssigned, domain.IntakeTransferred:
	default:
		return nil, invalidf("unknown intake status %s", f.Status)
	}
	return e.Repo.ListReceivedInfos(ctx, f)
}
