package server

import (
	"encoding/json"

	"opsdesk/internal/domain"
	"opsdesk/internal/engine"
)

// Request payloads

type DevLoginRequest struct {
	ActorID string `json:"actor_id"`
}

type CreateTaskRequest struct {
	WorkTypeID         string  `json:"work_type_id"`
	AssignTo           string  `json:"assign_to"`
	Title              string  `json:"title"`
	Description        *string `json:"description,omitempty"`
	SourceMessageID    *string `json:"source_message_id,omitempty"`
	ChecklistVariantID *string `json:"checklist_variant_id,omitempty"`
	Priority           *string `json:"priority,omitempty"`
}

type ChangeStatusRequest struct {
	Status string `json:"status" enum:"todo,doing,need_to_verified,finished"`
}

type ToggleItemRequest struct {
	Done bool `json:"done"`
}

type ChecklistItemInput struct {
	ID    string `json:"id,omitempty"`
	Label string `json:"label"`
	Done  bool   `json:"done,omitempty"`
}

type EditChecklistRequest struct {
	Items []ChecklistItemInput `json:"items"`
}

type ReassignRequest struct {
	AssignTo string `json:"assign_to"`
}

type TemplateItemInput struct {
	ID    string `json:"id,omitempty"`
	Label string `json:"label"`
}

type SaveTemplateRequest struct {
	Items []TemplateItemInput `json:"items"`
}

type ReceiveRequest struct {
	MessageID string  `json:"message_id"`
	GroupID   string  `json:"group_id"`
	Sender    *string `json:"sender,omitempty"`
	Text      *string `json:"text,omitempty"`
	CreatedAt *string `json:"created_at,omitempty"`
}

type AssignRequest struct {
	WorkTypeID         string  `json:"work_type_id"`
	AssignTo           string  `json:"assign_to"`
	Title              *string `json:"title,omitempty"`
	Description        *string `json:"description,omitempty"`
	ChecklistVariantID *string `json:"checklist_variant_id,omitempty"`
	Priority           *string `json:"priority,omitempty"`
}

type TransferDepartmentRequest struct {
	DepartmentID string `json:"department_id"`
}

type TransferGroupRequest struct {
	TargetGroupID      string  `json:"target_group_id"`
	WorkTypeID         string  `json:"work_type_id"`
	AssignTo           string  `json:"assign_to"`
	Title              *string `json:"title,omitempty"`
	Description        *string `json:"description,omitempty"`
	ChecklistVariantID *string `json:"checklist_variant_id,omitempty"`
	Priority           *string `json:"priority,omitempty"`
}

type PostMessageRequest struct {
	MessageID string  `json:"message_id"`
	Sender    *string `json:"sender,omitempty"`
	Text      string  `json:"text"`
}

// Response payloads

type DevLoginResponse struct {
	Token string `json:"token"`
}

type WhoAmIResponse struct {
	ActorID string `json:"actor_id"`
	Role    string `json:"role,omitempty"`
	Source  string `json:"source"`
}

type WorkTypeResponse struct {
	domain.WorkType
	ResolvedVariantID string `json:"resolved_variant_id,omitempty"`
}

type ReceiveResponse struct {
	Info      domain.ReceivedInfo `json:"info"`
	Duplicate bool                `json:"duplicate"`
	Notice    string              `json:"notice,omitempty"`
}

type ResolveResponse struct {
	Info domain.ReceivedInfo `json:"info"`
	Task *domain.Task        `json:"task,omitempty"`
}

type EventResponse struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts" format:"date-time"`
	Type       string         `json:"type"`
	GroupID    string         `json:"group_id,omitempty"`
	EntityKind string         `json:"entity_kind"`
	EntityID   string         `json:"entity_id,omitempty"`
	ActorID    string         `json:"actor_id"`
	Payload    map[string]any `json:"payload"`
}

type paginatedTasks struct {
	Items      []domain.Task `json:"items"`
	NextCursor string        `json:"next_cursor,omitempty"`
}

type paginatedIntake struct {
	Items      []domain.ReceivedInfo `json:"items"`
	NextCursor string                `json:"next_cursor,omitempty"`
}

type paginatedEvents struct {
	Items      []EventResponse `json:"items"`
	NextCursor string          `json:"next_cursor,omitempty"`
}

type paginatedMessages struct {
	Items      []domain.ConversationMessage `json:"items"`
	NextCursor string                       `json:"next_cursor,omitempty"`
}

// Mappers

func createOptions(req CreateTaskRequest) engine.CreateTaskOptions {
	return engine.CreateTaskOptions{
		WorkTypeID:         req.WorkTypeID,
		AssignTo:           req.AssignTo,
		Title:              req.Title,
		Description:        strPtrValue(req.Description),
		SourceMessageID:    strPtrValue(req.SourceMessageID),
		ChecklistVariantID: strPtrValue(req.ChecklistVariantID),
		Priority:           strPtrValue(req.Priority),
	}
}

func assignOptions(req AssignRequest) engine.CreateTaskOptions {
	return engine.CreateTaskOptions{
		WorkTypeID:         req.WorkTypeID,
		AssignTo:           req.AssignTo,
		Title:              strPtrValue(req.Title),
		Description:        strPtrValue(req.Description),
		ChecklistVariantID: strPtrValue(req.ChecklistVariantID),
		Priority:           strPtrValue(req.Priority),
	}
}

func transferOptions(req TransferGroupRequest) engine.TransferGroupOptions {
	return engine.TransferGroupOptions{
		TargetGroupID:      req.TargetGroupID,
		WorkTypeID:         req.WorkTypeID,
		AssignTo:           req.AssignTo,
		Title:              strPtrValue(req.Title),
		Description:        strPtrValue(req.Description),
		ChecklistVariantID: strPtrValue(req.ChecklistVariantID),
		Priority:           strPtrValue(req.Priority),
	}
}

func checklistItems(in []ChecklistItemInput) []domain.ChecklistItem {
	out := make([]domain.ChecklistItem, 0, len(in))
	for _, it := range in {
		out = append(out, domain.ChecklistItem{ID: it.ID, Label: it.Label, Done: it.Done})
	}
	return out
}

func templateItems(in []TemplateItemInput) []domain.ChecklistTemplateItem {
	out := make([]domain.ChecklistTemplateItem, 0, len(in))
	for i, it := range in {
		out = append(out, domain.ChecklistTemplateItem{ID: it.ID, Label: it.Label, Order: i})
	}
	return out
}

func eventResponse(e domain.Event) EventResponse {
	payload := decodeJSONMap(e.Payload)
	if payload == nil {
		payload = map[string]any{}
	}
	return EventResponse{
		ID:         e.ID,
		TS:         e.TS,
		Type:       e.Type,
		GroupID:    e.GroupID,
		EntityKind: e.EntityKind,
		EntityID:   e.EntityID,
		ActorID:    e.ActorID,
		Payload:    payload,
	}
}

// JSON helpers

func decodeJSONMap(raw string) map[string]any {
	if raw == "" {
		return nil
	}
	var obj map[string]any
	if err := json.Unmarshal([]byte(raw), &obj); err != nil {
		return nil
	}
	return obj
}

func nonNilSlice[T any](in []T) []T {
	if in == nil {
		return []T{}
	}
	return in
}

func strPtrValue(ptr *string) string {
	if ptr == nil {
		return ""
	}
	return *ptr
}
