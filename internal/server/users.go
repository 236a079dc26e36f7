package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"workchain/internal/engine"
)

func registerUsers(api huma.API, e *engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-users",
		Method:      http.MethodGet,
		Path:        "/users",
		Summary:     "List users ordered by points",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []UserResponse `json:"body"`
	}, error) {
		items, err := e.Repo.ListUsers(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []UserResponse `json:"body"`
		}{Body: mapUsers(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-user",
		Method:      http.MethodGet,
		Path:        "/users/{user_id}",
		Summary:     "Get user",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		UserID string `path:"user_id"`
	}) (*struct {
		Body UserResponse `json:"body"`
	}, error) {
		u, err := e.Repo.GetUser(ctx, input.UserID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body UserResponse `json:"body"`
		}{Body: userResponse(u)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "recalculate-user-points",
		Method:      http.MethodPost,
		Path:        "/users/{user_id}/recalculate",
		Summary:     "Rebuild a user's points from their submissions",
		Errors: []int{
			http.StatusForbidden,
			http.StatusNotFound,
		},
	}, func(ctx context.Context, input *struct {
		UserID string `path:"user_id"`
	}) (*struct {
		Body UserResponse `json:"body"`
	}, error) {
		if err := requireAdmin(ctx); err != nil {
			return nil, err
		}
		u, err := e.RecalculateUserPoints(ctx, input.UserID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body UserResponse `json:"body"`
		}{Body: userResponse(u)}, nil
	})
}

func registerReceipts(api huma.API, e *engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "lookup-receipt",
		Method:      http.MethodGet,
		Path:        "/receipts/{hash}",
		Summary:     "Resolve a receipt hash to its proof event",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		Hash string `path:"hash"`
	}) (*struct {
		Body ReceiptResponse `json:"body"`
	}, error) {
		ev, sub, err := e.LookupReceipt(ctx, input.Hash)
		if err != nil {
			return nil, handleError(err)
		}
		out := ReceiptResponse{Event: eventResponse(ev)}
		if sub != nil {
			resp := submissionResponse(*sub)
			out.Submission = &resp
		}
		return &struct {
			Body ReceiptResponse `json:"body"`
		}{Body: out}, nil
	})
}

func registerEvents(api huma.API, e *engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/events",
		Summary:     "Latest proof events across all submissions",
	}, func(ctx context.Context, input *struct {
		Limit int `query:"limit"`
	}) (*struct {
		Body []EventResponse `json:"body"`
	}, error) {
		events, err := e.Repo.LatestEvents(ctx, input.Limit)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []EventResponse `json:"body"`
		}{Body: mapEvents(events)}, nil
	})
}
