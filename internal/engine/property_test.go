package engine

import (
	"strings"
	"testing"

	"pgregory.net/rapid"

	"opsdesk/internal/domain"
)

func genWorkType(t *rapid.T) domain.WorkType {
	n := rapid.IntRange(0, 5).Draw(t, "variants")
	wt := domain.WorkType{ID: "wt"}
	for i := 0; i < n; i++ {
		wt.ChecklistVariants = append(wt.ChecklistVariants, domain.ChecklistVariant{
			ID:        rapid.SampledFrom([]string{"a", "b", "c", "d", "e", "f"}).Draw(t, "id"),
			IsDefault: rapid.Bool().Draw(t, "default"),
		})
	}
	wt.DefaultChecklistVariantID = rapid.SampledFrom([]string{"", "a", "c", "zz"}).Draw(t, "declared")
	return wt
}

func TestResolveVariantProperties(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		wt := genWorkType(t)
		requested := rapid.SampledFrom([]string{"", "a", "b", "zz"}).Draw(t, "requested")

		v, ok := ResolveVariant(wt, requested)
		if len(wt.ChecklistVariants) == 0 {
			if ok {
				t.Fatalf("resolved %q with no variants", v.ID)
			}
			return
		}
		if !ok {
			t.Fatalf("no variant resolved from %d candidates", len(wt.ChecklistVariants))
		}
		member := false
		for _, c := range wt.ChecklistVariants {
			if c == v {
				member = true
			}
		}
		if !member {
			t.Fatalf("resolved variant %+v is not declared", v)
		}
		for _, c := range wt.ChecklistVariants {
			if c.ID == requested {
				if v.ID != requested {
					t.Fatalf("requested %q but got %q", requested, v.ID)
				}
				return
			}
		}
		for _, c := range wt.ChecklistVariants {
			if c.IsDefault {
				if v != c {
					t.Fatalf("expected first flagged default %q, got %q", c.ID, v.ID)
				}
				return
			}
		}
		for _, c := range wt.ChecklistVariants {
			if c.ID == wt.DefaultChecklistVariantID {
				if v.ID != c.ID {
					t.Fatalf("expected declared default %q, got %q", c.ID, v.ID)
				}
				return
			}
		}
		if v != wt.ChecklistVariants[0] {
			t.Fatalf("expected first variant, got %q", v.ID)
		}
	})
}

func TestResolveVariantIsDeterministic(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		wt := genWorkType(t)
		requested := rapid.SampledFrom([]string{"", "b", "e"}).Draw(t, "requested")
		first, ok1 := ResolveVariant(wt, requested)
		second, ok2 := ResolveVariant(wt, requested)
		if first != second || ok1 != ok2 {
			t.Fatalf("resolution changed between calls: %+v vs %+v", first, second)
		}
	})
}

func TestNormalizeTemplateProperties(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		n := rapid.IntRange(0, 8).Draw(t, "n")
		var in []domain.ChecklistTemplateItem
		nonBlank := 0
		for i := 0; i < n; i++ {
			label := rapid.SampledFrom([]string{"", "  ", "Kiểm đếm", " Ký ", "Giao"}).Draw(t, "label")
			if strings.TrimSpace(label) != "" {
				nonBlank++
			}
			in = append(in, domain.ChecklistTemplateItem{
				ID:    rapid.SampledFrom([]string{"", "x", "y"}).Draw(t, "id"),
				Label: label,
			})
		}
		out := normalizeTemplate(in)
		if len(out) != nonBlank {
			t.Fatalf("expected %d items, got %d", nonBlank, len(out))
		}
		seen := map[string]bool{}
		for i, it := range out {
			if it.ID == "" || seen[it.ID] {
				t.Fatalf("item %d has empty or repeated id %q", i, it.ID)
			}
			seen[it.ID] = true
			if it.Order != i {
				t.Fatalf("item %d has order %d", i, it.Order)
			}
			if it.Label != strings.TrimSpace(it.Label) || it.Label == "" {
				t.Fatalf("item %d label not trimmed: %q", i, it.Label)
			}
		}
	})
}

func TestNormalizeChecklistKeepsDoneAndOrder(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		n := rapid.IntRange(0, 8).Draw(t, "n")
		var in []domain.ChecklistItem
		var wantLabels []string
		var wantDone []bool
		for i := 0; i < n; i++ {
			it := domain.ChecklistItem{
				ID:    rapid.SampledFrom([]string{"", "p", "q"}).Draw(t, "id"),
				Label: rapid.SampledFrom([]string{"", "A", "B "}).Draw(t, "label"),
				Done:  rapid.Bool().Draw(t, "done"),
			}
			in = append(in, it)
			if l := strings.TrimSpace(it.Label); l != "" {
				wantLabels = append(wantLabels, l)
				wantDone = append(wantDone, it.Done)
			}
		}
		out := normalizeChecklist(in)
		if out == nil {
			t.Fatalf("normalized checklist must not be nil")
		}
		if len(out) != len(wantLabels) {
			t.Fatalf("expected %d items, got %d", len(wantLabels), len(out))
		}
		seen := map[string]bool{}
		for i, it := range out {
			if it.Label != wantLabels[i] || it.Done != wantDone[i] {
				t.Fatalf("item %d = %+v, want label %q done %v", i, it, wantLabels[i], wantDone[i])
			}
			if seen[it.ID] {
				t.Fatalf("repeated id %q", it.ID)
			}
			seen[it.ID] = true
		}
	})
}

func TestCloneTemplateFreshIDs(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		labels := rapid.SliceOfN(rapid.StringMatching(`[a-z]{1,6}`), 0, 6).Draw(t, "labels")
		tmpl := make([]domain.ChecklistTemplateItem, 0, len(labels))
		for i, l := range labels {
			tmpl = append(tmpl, domain.ChecklistTemplateItem{ID: "tmpl", Label: l, Order: i})
		}
		a, b := cloneTemplate(tmpl), cloneTemplate(tmpl)
		for i := range a {
			if a[i].Label != labels[i] || a[i].Done || a[i].ID == "tmpl" || a[i].ID == b[i].ID {
				t.Fatalf("clone %d not fresh: %+v vs %+v", i, a[i], b[i])
			}
		}
	})
}

func TestIntakeTitle(t *testing.T) {
	long := strings.Repeat("ư", maxIntakeTitle+5)
	cases := []struct {
		msg  domain.Message
		want string
	}{
		{domain.Message{ID: "m1", Text: "  Giao hàng\nchi tiết"}, "Giao hàng"},
		{domain.Message{ID: "m2", Text: "   "}, "message m2"},
		{domain.Message{ID: "m3", Text: long}, strings.Repeat("ư", maxIntakeTitle) + "…"},
	}
	for _, tc := range cases {
		if got := intakeTitle(tc.msg); got != tc.want {
			t.Fatalf("intakeTitle(%q) = %q, want %q", tc.msg.Text, got, tc.want)
		}
	}
}

func TestTransitionsOnlyMoveForward(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		from := rapid.SampledFrom(domain.StatusCodes()).Draw(t, "from")
		to := rapid.SampledFrom(append(domain.StatusCodes(), "archived")).Draw(t, "to")
		err := ensureTaskTransition(from, to)
		if err == nil && domain.StatusRank(to) <= domain.StatusRank(from) {
			t.Fatalf("allowed non-forward move %s -> %s", from, to)
		}
		if from == domain.StatusTodo && to == domain.StatusFinished && err == nil {
			t.Fatalf("todo -> finished must be rejected")
		}
	})
}
