package auth

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"opsdesk/internal/domain"
)

func task(status, assignee string) domain.Task {
	return domain.Task{ID: "t1", GroupID: "g1", AssignTo: assignee, Status: domain.Badge{Code: status}}
}

func TestComputePermissions(t *testing.T) {
	lead := Actor{ID: "lead1", Role: RoleLead}
	staff := Actor{ID: "u1", Role: RoleStaff}
	other := Actor{ID: "u2", Role: RoleStaff}

	cases := []struct {
		name  string
		task  domain.Task
		actor Actor
		want  domain.Permissions
	}{
		{"no actor", task(domain.StatusTodo, "u1"), Actor{}, domain.Permissions{}},
		{"unknown role", task(domain.StatusTodo, "u1"), Actor{ID: "u1", Role: "owner"}, domain.Permissions{}},
		{"assignee todo", task(domain.StatusTodo, "u1"), staff, domain.Permissions{CanChangeToDoing: true}},
		{"assignee doing", task(domain.StatusDoing, "u1"), staff, domain.Permissions{CanChangeToNeedVerify: true}},
		{"assignee verify", task(domain.StatusNeedToVerified, "u1"), staff, domain.Permissions{}},
		{"non assignee", task(domain.StatusTodo, "u1"), other, domain.Permissions{}},
		{"lead not assignee todo", task(domain.StatusTodo, "u1"), lead, domain.Permissions{}},
		{"lead doing", task(domain.StatusDoing, "u1"), lead, domain.Permissions{CanChangeToFinished: true}},
		{"lead verify", task(domain.StatusNeedToVerified, "u1"), lead, domain.Permissions{CanChangeToFinished: true}},
		{"lead assignee doing", task(domain.StatusDoing, "lead1"), lead, domain.Permissions{CanChangeToNeedVerify: true, CanChangeToFinished: true}},
		{"finished", task(domain.StatusFinished, "u1"), lead, domain.Permissions{}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := ComputePermissions(tc.task, tc.actor)
			if diff := cmp.Diff(tc.want, got); diff != "" {
				t.Fatalf("permissions mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestCanChangeStatusNeverSkipsToFinishedFromTodo(t *testing.T) {
	lead := Actor{ID: "lead1", Role: RoleLead}
	if CanChangeStatus(task(domain.StatusTodo, "lead1"), lead, domain.StatusFinished) {
		t.Fatalf("todo -> finished must be denied")
	}
	if CanChangeStatus(task(domain.StatusTodo, "lead1"), lead, "archived") {
		t.Fatalf("unknown status must be denied")
	}
}

func TestChecklistGates(t *testing.T) {
	lead := Actor{ID: "lead1", Role: RoleLead}
	staff := Actor{ID: "u1", Role: RoleStaff}
	other := Actor{ID: "u2", Role: RoleStaff}

	doing := task(domain.StatusDoing, "u1")
	if !CanToggleChecklist(doing, staff) || !CanToggleChecklist(doing, lead) {
		t.Fatalf("assignee and lead may toggle")
	}
	if CanToggleChecklist(doing, other) || CanToggleChecklist(doing, Actor{}) {
		t.Fatalf("others may not toggle")
	}
	if !CanEditChecklist(task(domain.StatusTodo, "u1"), lead) {
		t.Fatalf("lead may edit todo checklist")
	}
	if CanEditChecklist(doing, lead) {
		t.Fatalf("edit after todo must be denied")
	}
	if CanEditChecklist(task(domain.StatusTodo, "u1"), staff) {
		t.Fatalf("staff may not edit structure")
	}
}

func TestRequireLead(t *testing.T) {
	err := RequireLead(Actor{ID: "u1", Role: RoleStaff}, "save template")
	var fe ForbiddenError
	if err == nil {
		t.Fatalf("expected forbidden")
	}
	if fe, _ = err.(ForbiddenError); fe.Action != "save template" {
		t.Fatalf("unexpected action %q", fe.Action)
	}
	if err := RequireLead(Actor{ID: "l", Role: RoleLead}, "x"); err != nil {
		t.Fatalf("lead rejected: %v", err)
	}
}
