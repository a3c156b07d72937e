package conversation

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/Masterminds/squirrel"

	"opsdesk/internal/domain"
)

const (
	KindChat   = "chat"
	KindSystem = "system"
)

var psql = squirrel.StatementBuilder.PlaceholderFormat(squirrel.Question)

// Store keeps group chat messages in SQLite. It is the engine's conversation collaborator.
type Store struct {
	DB  *sql.DB
	Now func() time.Time
}

func (s Store) now() string {
	if s.Now != nil {
		return s.Now().UTC().Format(time.RFC3339)
	}
	return time.Now().UTC().Format(time.RFC3339)
}

// AppendChat stores an inbound chat message. A repeated message id is ignored.
func (s Store) AppendChat(ctx context.Context, msg domain.Message) error {
	if strings.TrimSpace(msg.ID) == "" || strings.TrimSpace(msg.GroupID) == "" {
		return errors.New("message id and group id are required")
	}
	created := msg.CreatedAt
	if created == "" {
		created = s.now()
	}
	_, err := s.DB.ExecContext(ctx, `INSERT INTO conversation_messages(group_id,message_id,kind,sender,text,created_at) VALUES (?,?,?,?,?,?)
ON CONFLICT(message_id) DO NOTHING`, msg.GroupID, msg.ID, KindChat, msg.Sender, msg.Text, created)
	return err
}

// AnnotateMessage links messageID to taskID, creating a placeholder row when the message is unknown.
func (s Store) AnnotateMessage(ctx context.Context, messageID, taskID string) error {
	if strings.TrimSpace(messageID) == "" || strings.TrimSpace(taskID) == "" {
		return errors.New("message id and task id are required")
	}
	res, err := s.DB.ExecContext(ctx, `UPDATE conversation_messages SET task_id=? WHERE message_id=?`, taskID, messageID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return nil
	}
	var groupID sql.NullString
	if err := s.DB.QueryRowContext(ctx, `SELECT group_id FROM tasks WHERE id=?`, taskID).Scan(&groupID); err != nil && err != sql.ErrNoRows {
		return err
	}
	_, err = s.DB.ExecContext(ctx, `INSERT INTO conversation_messages(group_id,message_id,kind,task_id,created_at) VALUES (?,?,?,?,?)
ON CONFLICT(message_id) DO UPDATE SET task_id=excluded.task_id`, groupID.String, messageID, KindChat, taskID, s.now())
	return err
}

// AppendSystemMessage posts a system line into a group conversation.
func (s Store) AppendSystemMessage(ctx context.Context, groupID, text string) error {
	if strings.TrimSpace(groupID) == "" {
		return errors.New("group id is required")
	}
	_, err := s.DB.ExecContext(ctx, `INSERT INTO conversation_messages(group_id,kind,text,created_at) VALUES (?,?,?,?)`,
		groupID, KindSystem, text, s.now())
	return err
}

// List returns the messages of a group oldest first, optionally after a message row id.
func (s Store) List(ctx context.Context, groupID string, after int64, limit int) ([]domain.ConversationMessage, error) {
	sb := psql.Select("id,group_id,message_id,kind,COALESCE(sender,''),COALESCE(text,''),task_id,created_at").
		From("conversation_messages").
		Where(squirrel.Eq{"group_id": groupID}).
		Where(squirrel.Gt{"id": after}).
		OrderBy("id ASC")
	if limit > 0 {
		sb = sb.Limit(uint64(limit))
	}
	query, args, err := sb.ToSql()
	if err != nil {
		return nil, err
	}
	rows, err := s.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.ConversationMessage
	for rows.Next() {
		var m domain.ConversationMessage
		var messageID, taskID sql.NullString
		if err := rows.Scan(&m.ID, &m.GroupID, &messageID, &m.Kind, &m.Sender, &m.Text, &taskID, &m.CreatedAt); err != nil {
			return nil, err
		}
		if messageID.Valid {
			m.MessageID = &messageID.String
		}
		if taskID.Valid {
			m.TaskID = &taskID.String
		}
		res = append(res, m)
	}
	return res, rows.Err()
}

// GetByMessageID returns one chat message by its external id.
func (s Store) GetByMessageID(ctx context.Context, messageID string) (domain.ConversationMessage, error) {
	var m domain.ConversationMessage
	var taskID sql.NullString
	err := s.DB.QueryRowContext(ctx, `SELECT id,group_id,kind,COALESCE(sender,''),COALESCE(text,''),task_id,created_at FROM conversation_messages WHERE message_id=?`, messageID).
		Scan(&m.ID, &m.GroupID, &m.Kind, &m.Sender, &m.Text, &taskID, &m.CreatedAt)
	if err != nil {
		return m, err
	}
	m.MessageID = &messageID
	if taskID.Valid {
		m.TaskID = &taskID.String
	}
	return m, nil
}
