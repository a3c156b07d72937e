package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"opsdesk/internal/domain"
	"opsdesk/internal/engine"
	"opsdesk/internal/repo"
)

var mutationErrors = []int{
	http.StatusBadRequest,
	http.StatusForbidden,
	http.StatusNotFound,
	http.StatusConflict,
	http.StatusBadGateway,
	http.StatusInternalServerError,
}

type taskOutput struct {
	Body domain.Task `json:"body"`
}

type templateOutput struct {
	Body []domain.ChecklistTemplateItem `json:"body"`
}

func registerTemplates(api huma.API, e engine.Engine) {
	type templatePath struct {
		WorkTypeID string `path:"id"`
		VariantID  string `path:"variant_id"`
	}
	huma.Register(api, huma.Operation{
		OperationID: "get-template",
		Method:      http.MethodGet,
		Path:        "/work-types/{id}/variants/{variant_id}/template",
		Summary:     "Get checklist template",
	}, func(ctx context.Context, input *templatePath) (*templateOutput, error) {
		if _, authErr := principalFromRequest(ctx); authErr != nil {
			return nil, authErr
		}
		items, err := e.GetTemplate(ctx, input.WorkTypeID, input.VariantID)
		if err != nil {
			return nil, handleError(err)
		}
		return &templateOutput{Body: nonNilSlice(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "save-template",
		Method:      http.MethodPut,
		Path:        "/work-types/{id}/variants/{variant_id}/template",
		Summary:     "Replace checklist template",
		Errors:      mutationErrors,
	}, func(ctx context.Context, input *struct {
		WorkTypeID string              `path:"id"`
		VariantID  string              `path:"variant_id"`
		Body       SaveTemplateRequest `json:"body"`
	}) (*templateOutput, error) {
		actor, authErr := actorFromRequest(ctx, e)
		if authErr != nil {
			return nil, authErr
		}
		saved, err := e.SaveTemplate(ctx, actor, input.WorkTypeID, input.VariantID, templateItems(input.Body.Items))
		if err != nil {
			return nil, handleError(err)
		}
		return &templateOutput{Body: saved}, nil
	})
}

func registerTasks(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-task",
		Method:        http.MethodPost,
		Path:          "/tasks",
		Summary:       "Create task",
		DefaultStatus: http.StatusCreated,
		Errors:        mutationErrors,
	}, func(ctx context.Context, input *struct {
		Body CreateTaskRequest `json:"body"`
	}) (*taskOutput, error) {
		actor, authErr := actorFromRequest(ctx, e)
		if authErr != nil {
			return nil, authErr
		}
		t, err := e.CreateFromIntake(ctx, actor, createOptions(input.Body))
		if err != nil {
			return nil, handleError(err)
		}
		return &taskOutput{Body: t}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-tasks",
		Method:      http.MethodGet,
		Path:        "/tasks",
		Summary:     "List tasks",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		GroupID    string `query:"group_id"`
		Status     string `query:"status"`
		AssignTo   string `query:"assign_to"`
		WorkTypeID string `query:"work_type_id"`
		Limit      int    `query:"limit" default:"50"`
		Cursor     string `query:"cursor"`
	}) (*struct {
		Body paginatedTasks `json:"body"`
	}, error) {
		actor, authErr := actorFromRequest(ctx, e)
		if authErr != nil {
			return nil, authErr
		}
		limit := normalizeLimit(input.Limit)
		cursorCreated, cursorID, err := parseCompositeCursor(input.Cursor)
		if err != nil {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid cursor", map[string]any{"cursor": input.Cursor})
		}
		tasks, err := e.ListTasks(ctx, actor, repo.TaskFilters{
			GroupID:         input.GroupID,
			Status:          input.Status,
			AssignTo:        input.AssignTo,
			WorkTypeID:      input.WorkTypeID,
			Limit:           limit + 1,
			CursorCreatedAt: cursorCreated,
			CursorID:        cursorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		resp := paginatedTasks{}
		if len(tasks) > limit {
			tasks = tasks[:limit]
			last := tasks[limit-1]
			resp.NextCursor = composeCursor(last.CreatedAt, last.ID)
		}
		resp.Items = nonNilSlice(tasks)
		return &struct {
			Body paginatedTasks `json:"body"`
		}{Body: resp}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-task",
		Method:      http.MethodGet,
		Path:        "/tasks/{id}",
		Summary:     "Get task",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*taskOutput, error) {
		actor, authErr := actorFromRequest(ctx, e)
		if authErr != nil {
			return nil, authErr
		}
		t, err := e.GetTask(ctx, actor, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &taskOutput{Body: t}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "task-permissions",
		Method:      http.MethodGet,
		Path:        "/tasks/{id}/permissions",
		Summary:     "Status moves the caller may make",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body domain.Permissions `json:"body"`
	}, error) {
		actor, authErr := actorFromRequest(ctx, e)
		if authErr != nil {
			return nil, authErr
		}
		perms, err := e.Permissions(ctx, actor, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Permissions `json:"body"`
		}{Body: perms}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "change-task-status",
		Method:      http.MethodPost,
		Path:        "/tasks/{id}/status",
		Summary:     "Move task to the next status",
		Errors:      mutationErrors,
	}, func(ctx context.Context, input *struct {
		ID   string              `path:"id"`
		Body ChangeStatusRequest `json:"body"`
	}) (*taskOutput, error) {
		actor, authErr := actorFromRequest(ctx, e)
		if authErr != nil {
			return nil, authErr
		}
		t, err := e.ChangeStatus(ctx, actor, input.ID, input.Body.Status)
		if err != nil {
			return nil, handleError(err)
		}
		return &taskOutput{Body: t}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "toggle-checklist-item",
		Method:      http.MethodPost,
		Path:        "/tasks/{id}/checklist/{item_id}",
		Summary:     "Mark a checklist item done or not done",
		Errors:      mutationErrors,
	}, func(ctx context.Context, input *struct {
		ID     string            `path:"id"`
		ItemID string            `path:"item_id"`
		Body   ToggleItemRequest `json:"body"`
	}) (*taskOutput, error) {
		actor, authErr := actorFromRequest(ctx, e)
		if authErr != nil {
			return nil, authErr
		}
		t, err := e.ToggleChecklistItem(ctx, actor, input.ID, input.ItemID, input.Body.Done)
		if err != nil {
			return nil, handleError(err)
		}
		return &taskOutput{Body: t}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "edit-checklist",
		Method:      http.MethodPut,
		Path:        "/tasks/{id}/checklist",
		Summary:     "Replace checklist structure of a todo task",
		Errors:      mutationErrors,
	}, func(ctx context.Context, input *struct {
		ID   string               `path:"id"`
		Body EditChecklistRequest `json:"body"`
	}) (*taskOutput, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		actor, authErr := actorFromRequest(ctx, e)
		if authErr != nil {
			return nil, authErr
		}
		t, err := e.EditChecklistStructure(ctx, actor, input.ID, checklistItems(input.Body.Items))
		if err != nil {
			return nil, handleError(err)
		}
		return &taskOutput{Body: t}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "reassign-task",
		Method:      http.MethodPost,
		Path:        "/tasks/{id}/reassign",
		Summary:     "Hand task to another group member",
		Errors:      mutationErrors,
	}, func(ctx context.Context, input *struct {
		ID   string          `path:"id"`
		Body ReassignRequest `json:"body"`
	}) (*taskOutput, error) {
		actor, authErr := actorFromRequest(ctx, e)
		if authErr != nil {
			return nil, authErr
		}
		t, err := e.Reassign(ctx, actor, input.ID, input.Body.AssignTo)
		if err != nil {
			return nil, handleError(err)
		}
		return &taskOutput{Body: t}, nil
	})
}
