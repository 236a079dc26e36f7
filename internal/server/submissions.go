package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"workchain/internal/domain"
	"workchain/internal/engine"
	"workchain/internal/repo"
	"workchain/internal/validate"
)

func registerSubmissions(api huma.API, e *engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-submission",
		Method:        http.MethodPost,
		Path:          "/submissions",
		Summary:       "Create a submission (draft or direct submit)",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
			http.StatusUnprocessableEntity,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		Body CreateSubmissionRequest `json:"body"`
	}) (*struct {
		Body SubmissionResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		s, err := e.CreateSubmission(ctx, engine.SubmissionOptions{
			TemplateID:  input.Body.TemplateID,
			FormData:    input.Body.FormData,
			Files:       input.Body.Files,
			SubmittedBy: userID,
			Draft:       input.Body.Draft,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body SubmissionResponse `json:"body"`
		}{Body: submissionResponse(s)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-submissions",
		Method:      http.MethodGet,
		Path:        "/submissions",
		Summary:     "List submissions",
	}, func(ctx context.Context, input *struct {
		Status      string `query:"status"`
		TemplateID  string `query:"template_id"`
		SubmittedBy string `query:"submitted_by"`
		Limit       int    `query:"limit"`
	}) (*struct {
		Body []SubmissionResponse `json:"body"`
	}, error) {
		items, err := e.Repo.ListSubmissions(ctx, repo.SubmissionFilter{
			Status:      input.Status,
			TemplateID:  input.TemplateID,
			SubmittedBy: input.SubmittedBy,
			Limit:       input.Limit,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []SubmissionResponse `json:"body"`
		}{Body: mapSubmissions(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-submission",
		Method:      http.MethodGet,
		Path:        "/submissions/{submission_id}",
		Summary:     "Get submission",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		SubmissionID string `path:"submission_id"`
	}) (*struct {
		Body SubmissionResponse `json:"body"`
	}, error) {
		s, err := e.Repo.GetSubmission(ctx, input.SubmissionID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body SubmissionResponse `json:"body"`
		}{Body: submissionResponse(s)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-draft",
		Method:      http.MethodPatch,
		Path:        "/submissions/{submission_id}",
		Summary:     "Replace the form data of a draft",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
			http.StatusConflict,
		},
	}, func(ctx context.Context, input *struct {
		SubmissionID string `path:"submission_id"`
		Body         struct {
			FormData map[string]any                   `json:"form_data"`
			Files    map[string]domain.SubmissionFile `json:"files,omitempty"`
		} `json:"body"`
	}) (*struct {
		Body SubmissionResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		s, err := e.UpdateDraft(ctx, input.SubmissionID, input.Body.FormData, input.Body.Files)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body SubmissionResponse `json:"body"`
		}{Body: submissionResponse(s)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "submit-submission",
		Method:      http.MethodPost,
		Path:        "/submissions/{submission_id}/submit",
		Summary:     "Validate a draft and move it into review",
		Errors: []int{
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusUnprocessableEntity,
		},
	}, func(ctx context.Context, input *struct {
		SubmissionID string `path:"submission_id"`
	}) (*struct {
		Body SubmissionResponse `json:"body"`
	}, error) {
		s, err := e.SubmitDraft(ctx, input.SubmissionID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body SubmissionResponse `json:"body"`
		}{Body: submissionResponse(s)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "review-submission",
		Method:      http.MethodPost,
		Path:        "/submissions/{submission_id}/review",
		Summary:     "Approve or reject a submission in review",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
		},
	}, func(ctx context.Context, input *struct {
		SubmissionID string        `path:"submission_id"`
		Body         ReviewRequest `json:"body"`
	}) (*struct {
		Body SubmissionResponse `json:"body"`
	}, error) {
		if err := requireAdmin(ctx); err != nil {
			return nil, err
		}
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		s, err := e.Review(ctx, engine.ReviewOptions{
			SubmissionID: input.SubmissionID,
			Decision:     input.Body.Decision,
			QualityScore: input.Body.QualityScore,
			Notes:        input.Body.Notes,
			ReviewedBy:   userID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body SubmissionResponse `json:"body"`
		}{Body: submissionResponse(s)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "delete-submission",
		Method:      http.MethodDelete,
		Path:        "/submissions/{submission_id}",
		Summary:     "Delete a submission; its proof events remain",
		Errors: []int{
			http.StatusForbidden,
			http.StatusNotFound,
		},
	}, func(ctx context.Context, input *struct {
		SubmissionID string `path:"submission_id"`
	}) (*struct{}, error) {
		if err := requireAdmin(ctx); err != nil {
			return nil, err
		}
		if err := e.DeleteSubmission(ctx, input.SubmissionID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-submission-events",
		Method:      http.MethodGet,
		Path:        "/submissions/{submission_id}/events",
		Summary:     "Proof trail for a submission",
	}, func(ctx context.Context, input *struct {
		SubmissionID string `path:"submission_id"`
	}) (*struct {
		Body []EventResponse `json:"body"`
	}, error) {
		events, err := e.Repo.EventsForSubmission(ctx, input.SubmissionID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []EventResponse `json:"body"`
		}{Body: mapEvents(events)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "verify-submission",
		Method:      http.MethodGet,
		Path:        "/submissions/{submission_id}/verify",
		Summary:     "Recompute every proof event hash for a submission",
	}, func(ctx context.Context, input *struct {
		SubmissionID string `path:"submission_id"`
	}) (*struct {
		Body VerifyResponse `json:"body"`
	}, error) {
		valid, checks, err := e.VerifyTrail(ctx, input.SubmissionID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body VerifyResponse `json:"body"`
		}{Body: verifyResponse(valid, checks)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "validate-form",
		Method:      http.MethodPost,
		Path:        "/validate",
		Summary:     "Preflight form data against a template without creating a submission",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
		},
	}, func(ctx context.Context, input *struct {
		Body ValidateRequest `json:"body"`
	}) (*struct {
		Body validate.Result `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		result, err := e.Preflight(ctx, input.Body.TemplateID, input.Body.FormData, input.Body.Files)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body validate.Result `json:"body"`
		}{Body: result}, nil
	})
}
