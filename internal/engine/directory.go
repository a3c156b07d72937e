package engine

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"opsdesk/internal/config"
	"opsdesk/internal/domain"
	"opsdesk/internal/events"
)

// ImportResult summarises a directory import.
type ImportResult struct {
	Members     int      `json:"members"`
	Departments int      `json:"departments"`
	Groups      int      `json:"groups"`
	WorkTypes   int      `json:"work_types"`
	Templates   int      `json:"templates"`
	Warnings    []string `json:"warnings,omitempty"`
}

// ImportDirectory upserts members, departments, groups, work types, variants and
// templates from a config seed. It is an admin operation and takes no actor gate.
func (e Engine) ImportDirectory(ctx context.Context, cfg *config.Config, actorID string) (ImportResult, error) {
	if cfg == nil {
		return ImportResult{}, invalidf("config is required")
	}
	if err := cfg.Validate(); err != nil {
		return ImportResult{}, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	res := ImportResult{Warnings: cfg.Warnings()}
	for _, w := range res.Warnings {
		e.logger().Warn("directory import", "warning", w)
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return res, err
	}
	defer tx.Rollback()

	now := e.timestamp()
	dir := cfg.Directory
	for _, m := range dir.Members {
		if err := e.Repo.UpsertActor(ctx, tx, domain.Actor{ID: m.ID, Name: m.Name, Role: m.Role, CreatedAt: now}); err != nil {
			return res, fmt.Errorf("member %s: %w", m.ID, err)
		}
		res.Members++
	}
	for _, d := range dir.Departments {
		if err := e.Repo.UpsertDepartment(ctx, tx, domain.Department{ID: d.ID, Name: d.Name}); err != nil {
			return res, fmt.Errorf("department %s: %w", d.ID, err)
		}
		res.Departments++
	}
	for _, g := range dir.Groups {
		if err := e.Repo.UpsertGroup(ctx, tx, domain.Group{ID: g.ID, Name: g.Name, CreatedAt: now}); err != nil {
			return res, fmt.Errorf("group %s: %w", g.ID, err)
		}
		if err := e.Repo.SetGroupMembers(ctx, tx, g.ID, g.Members); err != nil {
			return res, fmt.Errorf("group %s members: %w", g.ID, err)
		}
		res.Groups++
		for pos, wts := range g.WorkTypes {
			wt := domain.WorkType{
				ID:                        wts.ID,
				GroupID:                   g.ID,
				Name:                      wts.Name,
				DefaultChecklistVariantID: wts.DefaultVariant,
			}
			for _, v := range wts.Variants {
				wt.ChecklistVariants = append(wt.ChecklistVariants, domain.ChecklistVariant{
					ID:          v.ID,
					WorkTypeID:  wts.ID,
					Name:        v.Name,
					IsDefault:   v.Default,
					Description: v.Description,
				})
			}
			if err := e.Repo.UpsertWorkType(ctx, tx, wt, pos); err != nil {
				return res, fmt.Errorf("work type %s: %w", wt.ID, err)
			}
			res.WorkTypes++
			for _, v := range wts.Variants {
				if len(v.Template) == 0 {
					continue
				}
				items := make([]domain.ChecklistTemplateItem, 0, len(v.Template))
				for _, label := range v.Template {
					items = append(items, domain.ChecklistTemplateItem{ID: uuid.NewString(), Label: label})
				}
				if err := e.Repo.ReplaceTemplate(ctx, tx, wt.ID, v.ID, normalizeTemplate(items)); err != nil {
					return res, fmt.Errorf("template %s/%s: %w", wt.ID, v.ID, err)
				}
				res.Templates++
			}
		}
	}
	if err := e.eventWriter().Append(ctx, tx, events.DirectoryImported, "", "directory", cfg.Portal.ID, actorID, events.EventPayload{
		"members":    res.Members,
		"groups":     res.Groups,
		"work_types": res.WorkTypes,
		"templates":  res.Templates,
		"warnings":   len(res.Warnings),
	}); err != nil {
		return res, err
	}
	if err := tx.Commit(); err != nil {
		return res, err
	}
	return res, nil
}

// GroupDirectory is the read model of one group: its members and work types.
type GroupDirectory struct {
	Group     domain.Group      `json:"group"`
	Members   []domain.Actor    `json:"members"`
	WorkTypes []domain.WorkType `json:"work_types"`
}

func (e Engine) GroupDirectory(ctx context.Context, groupID string) (GroupDirectory, error) {
	g, err := e.Repo.GetGroup(ctx, groupID)
	if err != nil {
		return GroupDirectory{}, err
	}
	members, err := e.Repo.ListGroupMembers(ctx, groupID)
	if err != nil {
		return GroupDirectory{}, err
	}
	wts, err := e.Repo.ListWorkTypes(ctx, groupID)
	if err != nil {
		return GroupDirectory{}, err
	}
	if members == nil {
		members = []domain.Actor{}
	}
	if wts == nil {
		wts = []domain.WorkType{}
	}
	return GroupDirectory{Group: g, Members: members, WorkTypes: wts}, nil
}

// DescribeVariant renders how ResolveVariant would pick for a work type, for CLI/API display.
func DescribeVariant(wt domain.WorkType, requested string) string {
	v, ok := ResolveVariant(wt, requested)
	if !ok {
		return "(no checklist)"
	}
	return strings.TrimSpace(v.ID + " " + v.Name)
}
