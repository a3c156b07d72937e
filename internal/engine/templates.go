package engine

import (
	"context"
	"strings"

	"github.com/google/uuid"

	"opsdesk/internal/domain"
	"opsdesk/internal/engine/auth"
	"opsdesk/internal/events"
)

// GetTemplate returns the stored template items, or an empty list when none exist.
func (e Engine) GetTemplate(ctx context.Context, workTypeID, variantID string) ([]domain.ChecklistTemplateItem, error) {
	return e.Repo.GetTemplate(ctx, workTypeID, variantID)
}

// SaveTemplate replaces the template for (workTypeID, variantID). Existing tasks keep their checklists.
func (e Engine) SaveTemplate(ctx context.Context, actor auth.Actor, workTypeID, variantID string, items []domain.ChecklistTemplateItem) ([]domain.ChecklistTemplateItem, error) {
	if err := auth.RequireLead(actor, "save checklist template"); err != nil {
		return nil, err
	}
	if strings.TrimSpace(workTypeID) == "" || strings.TrimSpace(variantID) == "" {
		return nil, invalidf("work type and variant are required")
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	wt, err := e.Repo.GetWorkTypeTx(ctx, tx, workTypeID)
	if err != nil {
		return nil, err
	}
	known := false
	for _, v := range wt.ChecklistVariants {
		if v.ID == variantID {
			known = true
			break
		}
	}
	if !known {
		return nil, invalidf("variant %s is not declared for work type %s", variantID, workTypeID)
	}
	saved := normalizeTemplate(items)
	if err := e.Repo.ReplaceTemplate(ctx, tx, workTypeID, variantID, saved); err != nil {
		return nil, err
	}
	if err := e.eventWriter().Append(ctx, tx, events.TemplateSaved, wt.GroupID, "template", workTypeID+"/"+variantID, actor.ID, events.EventPayload{
		"work_type_id": workTypeID,
		"variant_id":   variantID,
		"items":        len(saved),
	}); err != nil {
		return nil, err
	}
	if err := e.commit(ctx, tx, Mutation{
		Op:       OpTemplateUpdate,
		EntityID: workTypeID + "/" + variantID,
		GroupID:  wt.GroupID,
		ActorID:  actor.ID,
		Data: map[string]any{
			"work_type_id": workTypeID,
			"variant_id":   variantID,
			"items":        saved,
		},
	}); err != nil {
		return nil, err
	}
	return saved, nil
}

// normalizeTemplate drops blank labels, fills missing or repeated ids and renumbers order.
func normalizeTemplate(items []domain.ChecklistTemplateItem) []domain.ChecklistTemplateItem {
	out := []domain.ChecklistTemplateItem{}
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
		out = append(out, domain.ChecklistTemplateItem{ID: id, Label: label, Order: len(out)})
	}
	return out
}

// cloneTemplate copies template labels into fresh task-local items.
func cloneTemplate(items []domain.ChecklistTemplateItem) []domain.ChecklistItem {
	out := make([]domain.ChecklistItem, 0, len(items))
	for _, it := range items {
		out = append(out, domain.ChecklistItem{ID: uuid.NewString(), Label: it.Label})
	}
	return out
}
