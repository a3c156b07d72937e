package repo

import (
	"context"
	"database/sql"

	"github.com/Masterminds/squirrel"

	"opsdesk/internal/domain"
)

const receivedInfoColumns = "id,message_id,group_id,title,sender,received_by,created_at,status,transferred_to,transferred_to_group_id,transferred_to_group_name,transferred_work_type_id,transferred_work_type_name,created_task_id,resolved_at"

func (r Repo) InsertReceivedInfo(ctx context.Context, tx *sql.Tx, info domain.ReceivedInfo) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO received_infos(`+receivedInfoColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		info.ID, info.MessageID, info.GroupID, info.Title, info.Sender, info.ReceivedBy, info.CreatedAt, info.Status,
		nullableStringPtr(info.TransferredTo), nullableStringPtr(info.TransferredToGroupID), nullable(info.TransferredToGroupName),
		nullableStringPtr(info.TransferredWorkTypeID), nullable(info.TransferredWorkTypeName),
		nullableStringPtr(info.CreatedTaskID), nullableStringPtr(info.ResolvedAt))
	return err
}

// UpdateReceivedInfoResolution writes the resolution fields of info.
func (r Repo) UpdateReceivedInfoResolution(ctx context.Context, tx *sql.Tx, info domain.ReceivedInfo) error {
	res, err := tx.ExecContext(ctx, `UPDATE received_infos SET status=?, transferred_to=?, transferred_to_group_id=?, transferred_to_group_name=?,
transferred_work_type_id=?, transferred_work_type_name=?, created_task_id=?, resolved_at=? WHERE id=?`,
		info.Status, nullableStringPtr(info.TransferredTo), nullableStringPtr(info.TransferredToGroupID), nullable(info.TransferredToGroupName),
		nullableStringPtr(info.TransferredWorkTypeID), nullable(info.TransferredWorkTypeName),
		nullableStringPtr(info.CreatedTaskID), nullableStringPtr(info.ResolvedAt), info.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) GetReceivedInfo(ctx context.Context, id string) (domain.ReceivedInfo, error) {
	return getReceivedInfo(ctx, r.DB, "id", id)
}

func (r Repo) GetReceivedInfoTx(ctx context.Context, tx *sql.Tx, id string) (domain.ReceivedInfo, error) {
	return getReceivedInfo(ctx, tx, "id", id)
}

// GetReceivedInfoByMessageTx looks an info up by its source message id.
func (r Repo) GetReceivedInfoByMessageTx(ctx context.Context, tx *sql.Tx, messageID string) (domain.ReceivedInfo, error) {
	return getReceivedInfo(ctx, tx, "message_id", messageID)
}

func getReceivedInfo(ctx context.Context, q querier, column, value string) (domain.ReceivedInfo, error) {
	query, args, err := psql.Select(receivedInfoColumns).From("received_infos").Where(squirrel.Eq{column: value}).ToSql()
	if err != nil {
		return domain.ReceivedInfo{}, err
	}
	info, err := scanReceivedInfo(q.QueryRowContext(ctx, query, args...))
	if err == sql.ErrNoRows {
		return info, ErrNotFound
	}
	return info, err
}

func scanReceivedInfo(s rowScanner) (domain.ReceivedInfo, error) {
	var info domain.ReceivedInfo
	var transferredTo, groupID, groupName, workTypeID, workTypeName, taskID, resolvedAt sql.NullString
	err := s.Scan(&info.ID, &info.MessageID, &info.GroupID, &info.Title, &info.Sender, &info.ReceivedBy, &info.CreatedAt, &info.Status,
		&transferredTo, &groupID, &groupName, &workTypeID, &workTypeName, &taskID, &resolvedAt)
	if err != nil {
		return info, err
	}
	info.TransferredTo = stringPtr(transferredTo)
	info.TransferredToGroupID = stringPtr(groupID)
	info.TransferredToGroupName = groupName.String
	info.TransferredWorkTypeID = stringPtr(workTypeID)
	info.TransferredWorkTypeName = workTypeName.String
	info.CreatedTaskID = stringPtr(taskID)
	info.ResolvedAt = stringPtr(resolvedAt)
	return info, nil
}

type ReceivedInfoFilters struct {
	GroupID         string
	Status          string
	Limit           int
	CursorCreatedAt string
	CursorID        string
}

func (r Repo) ListReceivedInfos(ctx context.Context, f ReceivedInfoFilters) ([]domain.ReceivedInfo, error) {
	conds := squirrel.Eq{}
	if f.GroupID != "" {
		conds["group_id"] = f.GroupID
	}
	if f.Status != "" {
		conds["status"] = f.Status
	}
	sb := psql.Select(receivedInfoColumns).From("received_infos").Where(conds).OrderBy("created_at DESC", "id DESC")
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
	defer rows.Close()
	var res []domain.ReceivedInfo
	for rows.Next() {
		info, err := scanReceivedInfo(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, info)
	}
	return res, rows.Err()
}
