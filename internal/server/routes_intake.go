package server

import (
	"context"
	"errors"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"opsdesk/internal/domain"
	"opsdesk/internal/engine"
	"opsdesk/internal/repo"
)

type resolveOutput struct {
	Body ResolveResponse `json:"body"`
}

func registerIntake(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "receive-message",
		Method:      http.MethodPost,
		Path:        "/intake",
		Summary:     "Receive a chat message as a waiting item",
		Description: "Returns 201 for a new item and 200 with duplicate=true when the message was already received.",
		Errors:      mutationErrors,
	}, func(ctx context.Context, input *struct {
		Body ReceiveRequest `json:"body"`
	}) (*struct {
		Status int
		Body   ReceiveResponse `json:"body"`
	}, error) {
		actor, authErr := actorFromRequest(ctx, e)
		if authErr != nil {
			return nil, authErr
		}
		msg := domain.Message{
			ID:        input.Body.MessageID,
			GroupID:   input.Body.GroupID,
			Sender:    strPtrValue(input.Body.Sender),
			Text:      strPtrValue(input.Body.Text),
			CreatedAt: strPtrValue(input.Body.CreatedAt),
		}
		info, err := e.Receive(ctx, actor, msg)
		out := &struct {
			Status int
			Body   ReceiveResponse `json:"body"`
		}{Status: http.StatusCreated}
		switch {
		case errors.Is(err, engine.ErrAlreadyReceived):
			out.Status = http.StatusOK
			out.Body = ReceiveResponse{Info: info, Duplicate: true, Notice: "message already received"}
			return out, nil
		case err != nil:
			return nil, handleError(err)
		}
		out.Body = ReceiveResponse{Info: info}
		return out, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-intake",
		Method:      http.MethodGet,
		Path:        "/intake",
		Summary:     "List received items",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		GroupID string `query:"group_id"`
		Status  string `query:"status"`
		Limit   int    `query:"limit" default:"50"`
		Cursor  string `query:"cursor"`
	}) (*struct {
		Body paginatedIntake `json:"body"`
	}, error) {
		if _, authErr := principalFromRequest(ctx); authErr != nil {
			return nil, authErr
		}
		limit := normalizeLimit(input.Limit)
		cursorCreated, cursorID, err := parseCompositeCursor(input.Cursor)
		if err != nil {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid cursor", map[string]any{"cursor": input.Cursor})
		}
		items, err := e.ListReceived(ctx, repo.ReceivedInfoFilters{
			GroupID:         input.GroupID,
			Status:          input.Status,
			Limit:           limit + 1,
			CursorCreatedAt: cursorCreated,
			CursorID:        cursorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		resp := paginatedIntake{}
		if len(items) > limit {
			items = items[:limit]
			last := items[limit-1]
			resp.NextCursor = composeCursor(last.CreatedAt, last.ID)
		}
		resp.Items = nonNilSlice(items)
		return &struct {
			Body paginatedIntake `json:"body"`
		}{Body: resp}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-intake",
		Method:      http.MethodGet,
		Path:        "/intake/{id}",
		Summary:     "Get received item",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body domain.ReceivedInfo `json:"body"`
	}, error) {
		if _, authErr := principalFromRequest(ctx); authErr != nil {
			return nil, authErr
		}
		info, err := e.GetReceivedInfo(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.ReceivedInfo `json:"body"`
		}{Body: info}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "assign-intake",
		Method:      http.MethodPost,
		Path:        "/intake/{id}/assign",
		Summary:     "Resolve a waiting item by creating a task",
		Errors:      mutationErrors,
	}, func(ctx context.Context, input *struct {
		ID   string        `path:"id"`
		Body AssignRequest `json:"body"`
	}) (*resolveOutput, error) {
		actor, authErr := actorFromRequest(ctx, e)
		if authErr != nil {
			return nil, authErr
		}
		info, t, err := e.Assign(ctx, actor, input.ID, assignOptions(input.Body))
		if err != nil {
			return nil, handleError(err)
		}
		return &resolveOutput{Body: ResolveResponse{Info: info, Task: &t}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "transfer-intake-department",
		Method:      http.MethodPost,
		Path:        "/intake/{id}/transfer-department",
		Summary:     "Hand a waiting item to another department",
		Errors:      mutationErrors,
	}, func(ctx context.Context, input *struct {
		ID   string                    `path:"id"`
		Body TransferDepartmentRequest `json:"body"`
	}) (*resolveOutput, error) {
		actor, authErr := actorFromRequest(ctx, e)
		if authErr != nil {
			return nil, authErr
		}
		info, err := e.TransferToDepartment(ctx, actor, input.ID, input.Body.DepartmentID)
		if err != nil {
			return nil, handleError(err)
		}
		return &resolveOutput{Body: ResolveResponse{Info: info}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "transfer-intake-group",
		Method:      http.MethodPost,
		Path:        "/intake/{id}/transfer-group",
		Summary:     "Hand a waiting item to another group and open a task there",
		Errors:      mutationErrors,
	}, func(ctx context.Context, input *struct {
		ID   string               `path:"id"`
		Body TransferGroupRequest `json:"body"`
	}) (*resolveOutput, error) {
		actor, authErr := actorFromRequest(ctx, e)
		if authErr != nil {
			return nil, authErr
		}
		info, t, err := e.TransferToGroup(ctx, actor, input.ID, transferOptions(input.Body))
		if err != nil {
			return nil, handleError(err)
		}
		return &resolveOutput{Body: ResolveResponse{Info: info, Task: &t}}, nil
	})
}
