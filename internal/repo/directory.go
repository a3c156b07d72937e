package repo

import (
	"context"
	"database/sql"

	"opsdesk/internal/domain"
)

func (r Repo) UpsertGroup(ctx context.Context, tx *sql.Tx, g domain.Group) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO groups(id,name,created_at) VALUES (?,?,?)
ON CONFLICT(id) DO UPDATE SET name=excluded.name`, g.ID, g.Name, g.CreatedAt)
	return err
}

func (r Repo) GetGroup(ctx context.Context, id string) (domain.Group, error) {
	return getGroup(ctx, r.DB, id)
}

func (r Repo) GetGroupTx(ctx context.Context, tx *sql.Tx, id string) (domain.Group, error) {
	return getGroup(ctx, tx, id)
}

func getGroup(ctx context.Context, q querier, id string) (domain.Group, error) {
	var g domain.Group
	err := q.QueryRowContext(ctx, `SELECT id,name,created_at FROM groups WHERE id=?`, id).Scan(&g.ID, &g.Name, &g.CreatedAt)
	if err == sql.ErrNoRows {
		return g, ErrNotFound
	}
	return g, err
}

func (r Repo) ListGroups(ctx context.Context) ([]domain.Group, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,name,created_at FROM groups ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Group
	for rows.Next() {
		var g domain.Group
		if err := rows.Scan(&g.ID, &g.Name, &g.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, g)
	}
	return res, rows.Err()
}

func (r Repo) UpsertActor(ctx context.Context, tx *sql.Tx, a domain.Actor) error {
	_, err := r.q(tx).ExecContext(ctx, `INSERT INTO actors(id,name,role,created_at) VALUES (?,?,?,?)
ON CONFLICT(id) DO UPDATE SET name=excluded.name, role=excluded.role`, a.ID, nullable(a.Name), a.Role, a.CreatedAt)
	return err
}

func (r Repo) GetActor(ctx context.Context, id string) (domain.Actor, error) {
	var a domain.Actor
	var name sql.NullString
	err := r.DB.QueryRowContext(ctx, `SELECT id,name,role,created_at FROM actors WHERE id=?`, id).Scan(&a.ID, &name, &a.Role, &a.CreatedAt)
	if err == sql.ErrNoRows {
		return a, ErrNotFound
	}
	a.Name = name.String
	return a, err
}

func (r Repo) ListActors(ctx context.Context) ([]domain.Actor, error) {
	return listActors(ctx, r.DB, `SELECT id,name,role,created_at FROM actors ORDER BY id`)
}

// ListGroupMembers returns the actors belonging to a group.
func (r Repo) ListGroupMembers(ctx context.Context, groupID string) ([]domain.Actor, error) {
	return listActors(ctx, r.DB, `SELECT a.id,a.name,a.role,a.created_at FROM actors a
JOIN group_members m ON m.actor_id=a.id WHERE m.group_id=? ORDER BY a.id`, groupID)
}

func listActors(ctx context.Context, q querier, query string, args ...any) ([]domain.Actor, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Actor
	for rows.Next() {
		var a domain.Actor
		var name sql.NullString
		if err := rows.Scan(&a.ID, &name, &a.Role, &a.CreatedAt); err != nil {
			return nil, err
		}
		a.Name = name.String
		res = append(res, a)
	}
	return res, rows.Err()
}

// SetGroupMembers replaces the member list of a group.
func (r Repo) SetGroupMembers(ctx context.Context, tx *sql.Tx, groupID string, actorIDs []string) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM group_members WHERE group_id=?`, groupID); err != nil {
		return err
	}
	for _, id := range actorIDs {
		if _, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO group_members(group_id,actor_id) VALUES (?,?)`, groupID, id); err != nil {
			return err
		}
	}
	return nil
}

func (r Repo) IsGroupMemberTx(ctx context.Context, tx *sql.Tx, groupID, actorID string) (bool, error) {
	var n int
	err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM group_members WHERE group_id=? AND actor_id=?`, groupID, actorID).Scan(&n)
	return n > 0, err
}

func (r Repo) UpsertDepartment(ctx context.Context, tx *sql.Tx, d domain.Department) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO departments(id,name) VALUES (?,?)
ON CONFLICT(id) DO UPDATE SET name=excluded.name`, d.ID, d.Name)
	return err
}

func (r Repo) GetDepartmentTx(ctx context.Context, tx *sql.Tx, id string) (domain.Department, error) {
	var d domain.Department
	err := tx.QueryRowContext(ctx, `SELECT id,name FROM departments WHERE id=?`, id).Scan(&d.ID, &d.Name)
	if err == sql.ErrNoRows {
		return d, ErrNotFound
	}
	return d, err
}

func (r Repo) ListDepartments(ctx context.Context) ([]domain.Department, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,name FROM departments ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Department
	for rows.Next() {
		var d domain.Department
		if err := rows.Scan(&d.ID, &d.Name); err != nil {
			return nil, err
		}
		res = append(res, d)
	}
	return res, rows.Err()
}

// UpsertWorkType stores a work type and replaces its variants, keeping declared order.
func (r Repo) UpsertWorkType(ctx context.Context, tx *sql.Tx, wt domain.WorkType, position int) error {
	if _, err := tx.ExecContext(ctx, `INSERT INTO work_types(id,group_id,name,default_checklist_variant_id,position) VALUES (?,?,?,?,?)
ON CONFLICT(id) DO UPDATE SET group_id=excluded.group_id, name=excluded.name,
default_checklist_variant_id=excluded.default_checklist_variant_id, position=excluded.position`,
		wt.ID, wt.GroupID, wt.Name, nullable(wt.DefaultChecklistVariantID), position); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM checklist_variants WHERE work_type_id=?`, wt.ID); err != nil {
		return err
	}
	for i, v := range wt.ChecklistVariants {
		if _, err := tx.ExecContext(ctx, `INSERT INTO checklist_variants(id,work_type_id,name,is_default,description,position) VALUES (?,?,?,?,?,?)`,
			v.ID, wt.ID, v.Name, boolInt(v.IsDefault), nullable(v.Description), i); err != nil {
			return err
		}
	}
	return nil
}

func (r Repo) GetWorkType(ctx context.Context, id string) (domain.WorkType, error) {
	return getWorkType(ctx, r.DB, id)
}

func (r Repo) GetWorkTypeTx(ctx context.Context, tx *sql.Tx, id string) (domain.WorkType, error) {
	return getWorkType(ctx, tx, id)
}

func getWorkType(ctx context.Context, q querier, id string) (domain.WorkType, error) {
	var wt domain.WorkType
	var def sql.NullString
	err := q.QueryRowContext(ctx, `SELECT id,group_id,name,default_checklist_variant_id FROM work_types WHERE id=?`, id).
		Scan(&wt.ID, &wt.GroupID, &wt.Name, &def)
	if err == sql.ErrNoRows {
		return wt, ErrNotFound
	}
	if err != nil {
		return wt, err
	}
	wt.DefaultChecklistVariantID = def.String
	wt.ChecklistVariants, err = listVariants(ctx, q, wt.ID)
	return wt, err
}

// ListWorkTypes returns the work types of a group in declared order.
func (r Repo) ListWorkTypes(ctx context.Context, groupID string) ([]domain.WorkType, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,group_id,name,default_checklist_variant_id FROM work_types WHERE group_id=? ORDER BY position, id`, groupID)
	if err != nil {
		return nil, err
	}
	var res []domain.WorkType
	for rows.Next() {
		var wt domain.WorkType
		var def sql.NullString
		if err := rows.Scan(&wt.ID, &wt.GroupID, &wt.Name, &def); err != nil {
			rows.Close()
			return nil, err
		}
		wt.DefaultChecklistVariantID = def.String
		res = append(res, wt)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()
	for i := range res {
		variants, err := listVariants(ctx, r.DB, res[i].ID)
		if err != nil {
			return nil, err
		}
		res[i].ChecklistVariants = variants
	}
	return res, nil
}

func listVariants(ctx context.Context, q querier, workTypeID string) ([]domain.ChecklistVariant, error) {
	rows, err := q.QueryContext(ctx, `SELECT id,work_type_id,name,is_default,description FROM checklist_variants WHERE work_type_id=? ORDER BY position`, workTypeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []domain.ChecklistVariant{}
	for rows.Next() {
		var v domain.ChecklistVariant
		var isDefault int
		var desc sql.NullString
		if err := rows.Scan(&v.ID, &v.WorkTypeID, &v.Name, &isDefault, &desc); err != nil {
			return nil, err
		}
		v.IsDefault = isDefault != 0
		v.Description = desc.String
		res = append(res, v)
	}
	return res, rows.Err()
}

func (r Repo) GetTemplate(ctx context.Context, workTypeID, variantID string) ([]domain.ChecklistTemplateItem, error) {
	return getTemplate(ctx, r.DB, workTypeID, variantID)
}

func (r Repo) GetTemplateTx(ctx context.Context, tx *sql.Tx, workTypeID, variantID string) ([]domain.ChecklistTemplateItem, error) {
	return getTemplate(ctx, tx, workTypeID, variantID)
}

func getTemplate(ctx context.Context, q querier, workTypeID, variantID string) ([]domain.ChecklistTemplateItem, error) {
	rows, err := q.QueryContext(ctx, `SELECT item_id,label,position FROM checklist_templates WHERE work_type_id=? AND variant_id=? ORDER BY position`, workTypeID, variantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []domain.ChecklistTemplateItem{}
	for rows.Next() {
		var it domain.ChecklistTemplateItem
		if err := rows.Scan(&it.ID, &it.Label, &it.Order); err != nil {
			return nil, err
		}
		res = append(res, it)
	}
	return res, rows.Err()
}

// ReplaceTemplate stores items as the whole template for (workTypeID, variantID).
func (r Repo) ReplaceTemplate(ctx context.Context, tx *sql.Tx, workTypeID, variantID string, items []domain.ChecklistTemplateItem) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM checklist_templates WHERE work_type_id=? AND variant_id=?`, workTypeID, variantID); err != nil {
		return err
	}
	for _, it := range items {
		if _, err := tx.ExecContext(ctx, `INSERT INTO checklist_templates(work_type_id,variant_id,item_id,label,position) VALUES (?,?,?,?,?)`,
			workTypeID, variantID, it.ID, it.Label, it.Order); err != nil {
			return err
		}
	}
	return nil
}
