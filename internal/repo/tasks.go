package repo

import (
	"context"
	"database/sql"

	"github.com/Masterminds/squirrel"

	"opsdesk/internal/domain"
)

const taskColumns = "id,group_id,work_type_id,work_type_name,checklist_variant_id,checklist_variant_name,source_message_id,title,description,assign_to,assign_from,status,priority,created_at,updated_at,finished_at"

func (r Repo) InsertTask(ctx context.Context, tx *sql.Tx, t domain.Task) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO tasks(`+taskColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		t.ID, t.GroupID, t.WorkTypeID, nullable(t.WorkTypeName), nullableStringPtr(t.ChecklistVariantID), nullable(t.ChecklistVariantName),
		nullableStringPtr(t.SourceMessageID), t.Title, nullable(t.Description), t.AssignTo, t.AssignFrom,
		t.Status.Code, t.Priority.Code, t.CreatedAt, t.UpdatedAt, nullableStringPtr(t.FinishedAt))
	if err != nil {
		return err
	}
	return r.ReplaceChecklist(ctx, tx, t.ID, t.Checklist)
}

// UpdateTask leaves the checklist alone.
func (r Repo) UpdateTask(ctx context.Context, tx *sql.Tx, t domain.Task) error {
	res, err := tx.ExecContext(ctx, `UPDATE tasks SET title=?, description=?, assign_to=?, status=?, priority=?, updated_at=?, finished_at=? WHERE id=?`,
		t.Title, nullable(t.Description), t.AssignTo, t.Status.Code, t.Priority.Code, t.UpdatedAt, nullableStringPtr(t.FinishedAt), t.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) ReplaceChecklist(ctx context.Context, tx *sql.Tx, taskID string, items []domain.ChecklistItem) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM task_checklist_items WHERE task_id=?`, taskID); err != nil {
		return err
	}
	for i, item := range items {
		if _, err := tx.ExecContext(ctx, `INSERT INTO task_checklist_items(task_id,item_id,label,done,position) VALUES (?,?,?,?,?)`,
			taskID, item.ID, item.Label, boolInt(item.Done), i); err != nil {
			return err
		}
	}
	return nil
}

// SetChecklistItemDone flips one item. Returns ErrNotFound for an unknown item.
func (r Repo) SetChecklistItemDone(ctx context.Context, tx *sql.Tx, taskID, itemID string, done bool) error {
	res, err := tx.ExecContext(ctx, `UPDATE task_checklist_items SET done=? WHERE task_id=? AND item_id=?`, boolInt(done), taskID, itemID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) GetTask(ctx context.Context, id string) (domain.Task, error) {
	return r.getTask(ctx, r.DB, id)
}

func (r Repo) GetTaskTx(ctx context.Context, tx *sql.Tx, id string) (domain.Task, error) {
	return r.getTask(ctx, tx, id)
}

func (r Repo) getTask(ctx context.Context, q querier, id string) (domain.Task, error) {
	t, err := scanTask(q.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id=?`, id))
	if err == sql.ErrNoRows {
		return t, ErrNotFound
	}
	if err != nil {
		return t, err
	}
	t.Checklist, err = listChecklist(ctx, q, t.ID)
	return t, err
}

func scanTask(s rowScanner) (domain.Task, error) {
	var t domain.Task
	var workTypeName, variantID, variantName, sourceMessageID, description, finishedAt sql.NullString
	err := s.Scan(&t.ID, &t.GroupID, &t.WorkTypeID, &workTypeName, &variantID, &variantName, &sourceMessageID,
		&t.Title, &description, &t.AssignTo, &t.AssignFrom, &t.Status.Code, &t.Priority.Code,
		&t.CreatedAt, &t.UpdatedAt, &finishedAt)
	if err != nil {
		return t, err
	}
	t.WorkTypeName = workTypeName.String
	t.ChecklistVariantID = stringPtr(variantID)
	t.ChecklistVariantName = variantName.String
	t.SourceMessageID = stringPtr(sourceMessageID)
	t.Description = description.String
	t.FinishedAt = stringPtr(finishedAt)
	return t, nil
}

func listChecklist(ctx context.Context, q querier, taskID string) ([]domain.ChecklistItem, error) {
	rows, err := q.QueryContext(ctx, `SELECT item_id,label,done FROM task_checklist_items WHERE task_id=? ORDER BY position`, taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	items := []domain.ChecklistItem{}
	for rows.Next() {
		var item domain.ChecklistItem
		var done int
		if err := rows.Scan(&item.ID, &item.Label, &done); err != nil {
			return nil, err
		}
		item.Done = done != 0
		items = append(items, item)
	}
	return items, rows.Err()
}

type TaskFilters struct {
	GroupID         string
	Status          string
	AssignTo        string
	WorkTypeID      string
	Limit           int
	CursorCreatedAt string
	CursorID        string
}

func (r Repo) ListTasks(ctx context.Context, f TaskFilters) ([]domain.Task, error) {
	conds := squirrel.Eq{}
	if f.GroupID != "" {
		conds["group_id"] = f.GroupID
	}
	if f.Status != "" {
		conds["status"] = f.Status
	}
	if f.AssignTo != "" {
		conds["assign_to"] = f.AssignTo
	}
	if f.WorkTypeID != "" {
		conds["work_type_id"] = f.WorkTypeID
	}
	sb := psql.Select(taskColumns).From("tasks").Where(conds).OrderBy("created_at DESC", "id DESC")
	if f.CursorCreatedAt != "" && f.CursorID != "" {
		sb = sb.Where(squirrel.Or{
			squirrel.Lt{"created_at": f.CursorCreatedAt},
			squirrel.And{squirrel.Eq{"created_at": f.CursorCreatedAt}, squirrel.Lt{"id": f.CursorID}},
		})
	}
	if f.Limit > 0 {
		sb = sb.Limit(uint64(f.Limit))
	}
	query, args, err := sb.ToSql()
	if err != nil {
		return nil, err
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	var res []domain.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		res = append(res, t)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()
	for i := range res {
		items, err := listChecklist(ctx, r.DB, res[i].ID)
		if err != nil {
			return nil, err
		}
		res[i].Checklist = items
	}
	return res, nil
}

func (r Repo) CountTasksByStatus(ctx context.Context, groupID string) (map[string]int, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT status, COUNT(*) FROM tasks WHERE group_id=? GROUP BY status`, groupID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := map[string]int{}
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		res[status] = n
	}
	return res, rows.Err()
}
