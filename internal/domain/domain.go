package domain

// Status codes of a work item. Order matters: a task only ever moves to a
// status with a higher rank.
const (
	StatusTodo           = "todo"
	StatusDoing          = "doing"
	StatusNeedToVerified = "need_to_verified"
	StatusFinished       = "finished"
)

// Received info resolution states.
const (
	IntakeWaiting     = "waiting"
	IntakeAssigned    = "assigned"
	IntakeTransferred = "transferred"
)

var statusRank = map[string]int{
	StatusTodo:           0,
	StatusDoing:          1,
	StatusNeedToVerified: 2,
	StatusFinished:       3,
}

// StatusRank returns the position of code in the lifecycle, or -1 for unknown codes.
func StatusRank(code string) int {
	if r, ok := statusRank[code]; ok {
		return r
	}
	return -1
}

// StatusCodes lists the lifecycle in order.
func StatusCodes() []string {
	return []string{StatusTodo, StatusDoing, StatusNeedToVerified, StatusFinished}
}

type Group struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type Actor struct {
	ID        string `json:"id"`
	Name      string `json:"name,omitempty"`
	Role      string `json:"role" enum:"lead,staff"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type Department struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type ChecklistVariant struct {
	ID          string `json:"id"`
	WorkTypeID  string `json:"work_type_id"`
	Name        string `json:"name"`
	IsDefault   bool   `json:"is_default,omitempty"`
	Description string `json:"description,omitempty"`
}

type WorkType struct {
	ID                        string             `json:"id"`
	GroupID                   string             `json:"group_id"`
	Name                      string             `json:"name"`
	DefaultChecklistVariantID string             `json:"default_checklist_variant_id,omitempty"`
	ChecklistVariants         []ChecklistVariant `json:"checklist_variants"`
}

type ChecklistTemplateItem struct {
	ID    string `json:"id"`
	Label string `json:"label"`
	Order int    `json:"order"`
}

type ChecklistItem struct {
	ID    string `json:"id"`
	Label string `json:"label"`
	Done  bool   `json:"done"`
}

// Badge is a display descriptor shared by status and priority.
type Badge struct {
	Code  string `json:"code"`
	Label string `json:"label"`
	Color string `json:"color"`
	Level int    `json:"level"`
}

type Permissions struct {
	CanChangeToDoing      bool `json:"can_change_to_doing"`
	CanChangeToNeedVerify bool `json:"can_change_to_need_verify"`
	CanChangeToFinished   bool `json:"can_change_to_finished"`
}

type Task struct {
	ID                   string          `json:"id"`
	GroupID              string          `json:"group_id"`
	WorkTypeID           string          `json:"work_type_id"`
	WorkTypeName         string          `json:"work_type_name,omitempty"`
	ChecklistVariantID   *string         `json:"checklist_variant_id,omitempty"`
	ChecklistVariantName string          `json:"checklist_variant_name,omitempty"`
	SourceMessageID      *string         `json:"source_message_id,omitempty"`
	Title                string          `json:"title"`
	Description          string          `json:"description,omitempty"`
	AssignTo             string          `json:"assign_to"`
	AssignFrom           string          `json:"assign_from"`
	Status               Badge           `json:"status"`
	Priority             Badge           `json:"priority"`
	Checklist            []ChecklistItem `json:"checklist"`
	Permissions          *Permissions    `json:"permissions,omitempty"`
	CreatedAt            string          `json:"created_at" format:"date-time"`
	UpdatedAt            string          `json:"updated_at" format:"date-time"`
	FinishedAt           *string         `json:"finished_at,omitempty" format:"date-time"`
}

// Message is an inbound chat message offered to the intake router.
type Message struct {
	ID        string `json:"id"`
	GroupID   string `json:"group_id"`
	Sender    string `json:"sender"`
	Text      string `json:"text"`
	CreatedAt string `json:"created_at,omitempty" format:"date-time"`
}

type ReceivedInfo struct {
	ID                      string  `json:"id"`
	MessageID               string  `json:"message_id"`
	GroupID                 string  `json:"group_id"`
	Title                   string  `json:"title"`
	Sender                  string  `json:"sender"`
	ReceivedBy              string  `json:"received_by"`
	CreatedAt               string  `json:"created_at" format:"date-time"`
	Status                  string  `json:"status" enum:"waiting,assigned,transferred"`
	TransferredTo           *string `json:"transferred_to,omitempty"`
	TransferredToGroupID    *string `json:"transferred_to_group_id,omitempty"`
	TransferredToGroupName  string  `json:"transferred_to_group_name,omitempty"`
	TransferredWorkTypeID   *string `json:"transferred_work_type_id,omitempty"`
	TransferredWorkTypeName string  `json:"transferred_work_type_name,omitempty"`
	CreatedTaskID           *string `json:"created_task_id,omitempty"`
	ResolvedAt              *string `json:"resolved_at,omitempty" format:"date-time"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	GroupID    string `json:"group_id,omitempty"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

type APIKey struct {
	ID        string `json:"id"`
	ActorID   string `json:"actor_id"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"key_hash"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type ConversationMessage struct {
	ID        int64   `json:"id"`
	GroupID   string  `json:"group_id"`
	MessageID *string `json:"message_id,omitempty"`
	Kind      string  `json:"kind" enum:"chat,system"`
	Sender    string  `json:"sender,omitempty"`
	Text      string  `json:"text,omitempty"`
	TaskID    *string `json:"task_id,omitempty"`
	CreatedAt string  `json:"created_at" format:"date-time"`
}
