package engine

import "opsdesk/internal/domain"

// ResolveVariant picks the checklist variant for a new task: the requested one,
// else the first flagged default, else the work type's declared default, else the
// first variant. It reports false only when the work type has no variants.
func ResolveVariant(wt domain.WorkType, requestedID string) (domain.ChecklistVariant, bool) {
	if requestedID != "" {
		for _, v := range wt.ChecklistVariants {
			if v.ID == requestedID {
				return v, true
			}
		}
	}
	for _, v := range wt.ChecklistVariants {
		if v.IsDefault {
			return v, true
		}
	}
	if wt.DefaultChecklistVariantID != "" {
		for _, v := range wt.ChecklistVariants {
			if v.ID == wt.DefaultChecklistVariantID {
				return v, true
			}
		}
	}
	if len(wt.ChecklistVariants) > 0 {
		return wt.ChecklistVariants[0], true
	}
	return domain.ChecklistVariant{}, false
}
