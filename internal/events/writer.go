package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// Event types appended by the engine.
const (
	TaskCreated           = "task.created"
	TaskStatusChanged     = "task.status.changed"
	TaskChecklistToggled  = "task.checklist.toggled"
	TaskChecklistEdited   = "task.checklist.edited"
	TaskReassigned        = "task.reassigned"
	TemplateSaved         = "template.saved"
	IntakeReceived        = "intake.received"
	IntakeAssigned        = "intake.assigned"
	IntakeTransferred     = "intake.transferred"
	MessageAnnotateFailed = "message.annotate_failed"
	MessageSystemFailed   = "message.system_failed"
	DirectoryImported     = "directory.imported"
)

type Writer struct {
	DB  *sql.DB
	Now func() time.Time
}

type EventPayload map[string]any

// Append writes an event inside tx. groupID scopes the event for listing; it may be empty.
func (w Writer) Append(ctx context.Context, tx *sql.Tx, evtType, groupID, entityKind, entityID, actorID string, payload EventPayload) error {
	if w.Now == nil {
		w.Now = time.Now
	}
	ts := w.Now().UTC().Format(time.RFC3339)
	if payload == nil {
		payload = EventPayload{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}
	if actorID == "" {
		actorID = "system"
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO events(ts,type,group_id,entity_kind,entity_id,actor_id,payload_json) VALUES (?,?,?,?,?,?,?)`,
		ts, evtType, nullable(groupID), entityKind, nullable(entityID), actorID, string(data))
	return err
}

// AppendStandalone writes an event in its own transaction. Used for records that
// must survive when the surrounding operation has already committed.
func (w Writer) AppendStandalone(ctx context.Context, evtType, groupID, entityKind, entityID, actorID string, payload EventPayload) error {
	tx, err := w.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := w.Append(ctx, tx, evtType, groupID, entityKind, entityID, actorID, payload); err != nil {
		return err
	}
	return tx.Commit()
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
