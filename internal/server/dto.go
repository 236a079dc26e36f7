package server

import (
	"encoding/json"

	"workchain/internal/domain"
	"workchain/internal/engine"
)

type DevLoginRequest struct {
	UserID string `json:"user_id"`
	Role   string `json:"role,omitempty" enum:"admin,user"`
}

type DevLoginResponse struct {
	Token string `json:"token"`
}

type CreateTemplateRequest struct {
	Name     string          `json:"name"`
	Schema   json.RawMessage `json:"schema"`
	Deadline *string         `json:"deadline,omitempty" format:"date-time"`
}

type UpdateTemplateRequest struct {
	Name     string          `json:"name,omitempty"`
	Schema   json.RawMessage `json:"schema,omitempty"`
	Deadline *string         `json:"deadline,omitempty"`
}

type TemplateResponse struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Schema    json.RawMessage `json:"schema"`
	Deadline  *string         `json:"deadline,omitempty"`
	CreatedAt string          `json:"created_at"`
	UpdatedAt string          `json:"updated_at"`
}

func templateResponse(t domain.TaskTemplate) TemplateResponse {
	return TemplateResponse{
		ID:        t.ID,
		Name:      t.Name,
		Schema:    json.RawMessage(t.SchemaJSON),
		Deadline:  t.Deadline,
		CreatedAt: t.CreatedAt,
		UpdatedAt: t.UpdatedAt,
	}
}

func mapTemplates(items []domain.TaskTemplate) []TemplateResponse {
	out := make([]TemplateResponse, 0, len(items))
	for _, t := range items {
		out = append(out, templateResponse(t))
	}
	return out
}

type CreateSubmissionRequest struct {
	TemplateID string                           `json:"template_id"`
	FormData   map[string]any                   `json:"form_data"`
	Files      map[string]domain.SubmissionFile `json:"files,omitempty"`
	Draft      bool                             `json:"draft,omitempty"`
}

type ReviewRequest struct {
	Decision     string   `json:"decision" enum:"approved,rejected"`
	QualityScore *float64 `json:"quality_score,omitempty"`
	Notes        *string  `json:"notes,omitempty"`
}

type ValidateRequest struct {
	TemplateID string                           `json:"template_id"`
	FormData   map[string]any                   `json:"form_data"`
	Files      map[string]domain.SubmissionFile `json:"files,omitempty"`
}

type SubmissionResponse struct {
	ID            string          `json:"id"`
	TemplateID    string          `json:"template_id"`
	TemplateName  string          `json:"template_name"`
	FormData      json.RawMessage `json:"form_data"`
	Files         json.RawMessage `json:"files,omitempty"`
	Status        string          `json:"status"`
	SubmittedBy   string          `json:"submitted_by"`
	Validation    json.RawMessage `json:"validation,omitempty"`
	ReceiptHash   *string         `json:"receipt_hash,omitempty"`
	PointsAwarded *int            `json:"points_awarded,omitempty"`
	Reward        json.RawMessage `json:"reward,omitempty"`
	ReviewNotes   *string         `json:"review_notes,omitempty"`
	QualityScore  *float64        `json:"quality_score,omitempty"`
	ReviewedBy    *string         `json:"reviewed_by,omitempty"`
	CreatedAt     string          `json:"created_at"`
	UpdatedAt     string          `json:"updated_at"`
}

func submissionResponse(s domain.TaskSubmission) SubmissionResponse {
	return SubmissionResponse{
		ID:            s.ID,
		TemplateID:    s.TemplateID,
		TemplateName:  s.TemplateName,
		FormData:      json.RawMessage(s.FormDataJSON),
		Files:         rawOrNil(s.FilesJSON),
		Status:        s.Status,
		SubmittedBy:   s.SubmittedBy,
		Validation:    rawOrNil(s.ValidationJSON),
		ReceiptHash:   s.ReceiptHash,
		PointsAwarded: s.PointsAwarded,
		Reward:        rawOrNil(s.RewardJSON),
		ReviewNotes:   s.ReviewNotes,
		QualityScore:  s.QualityScore,
		ReviewedBy:    s.ReviewedBy,
		CreatedAt:     s.CreatedAt,
		UpdatedAt:     s.UpdatedAt,
	}
}

func mapSubmissions(items []domain.TaskSubmission) []SubmissionResponse {
	out := make([]SubmissionResponse, 0, len(items))
	for _, s := range items {
		out = append(out, submissionResponse(s))
	}
	return out
}

type EventResponse struct {
	ID           int64           `json:"id"`
	SubmissionID string          `json:"submission_id"`
	TS           string          `json:"ts"`
	Type         string          `json:"type"`
	Payload      json.RawMessage `json:"payload"`
	Hash         string          `json:"hash"`
}

func eventResponse(e domain.ProofEvent) EventResponse {
	return EventResponse{
		ID:           e.ID,
		SubmissionID: e.SubmissionID,
		TS:           e.TS,
		Type:         e.Type,
		Payload:      json.RawMessage(e.PayloadJSON),
		Hash:         e.Hash,
	}
}

func mapEvents(items []domain.ProofEvent) []EventResponse {
	out := make([]EventResponse, 0, len(items))
	for _, e := range items {
		out = append(out, eventResponse(e))
	}
	return out
}

type EventCheckResponse struct {
	Event EventResponse `json:"event"`
	Valid bool          `json:"valid"`
}

type VerifyResponse struct {
	Valid  bool                 `json:"valid"`
	Events []EventCheckResponse `json:"events"`
}

func verifyResponse(valid bool, checks []engine.EventCheck) VerifyResponse {
	out := VerifyResponse{Valid: valid, Events: make([]EventCheckResponse, 0, len(checks))}
	for _, c := range checks {
		out.Events = append(out.Events, EventCheckResponse{Event: eventResponse(c.Event), Valid: c.Valid})
	}
	return out
}

type ReceiptResponse struct {
	Event      EventResponse       `json:"event"`
	Submission *SubmissionResponse `json:"submission,omitempty"`
}

type UserResponse struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Email     string `json:"email,omitempty"`
	Role      string `json:"role"`
	Points    int    `json:"points"`
	CreatedAt string `json:"created_at"`
}

func userResponse(u domain.User) UserResponse {
	return UserResponse{
		ID:        u.ID,
		Name:      u.Name,
		Email:     u.Email,
		Role:      u.Role,
		Points:    u.Points,
		CreatedAt: u.CreatedAt,
	}
}

func mapUsers(items []domain.User) []UserResponse {
	out := make([]UserResponse, 0, len(items))
	for _, u := range items {
		out = append(out, userResponse(u))
	}
	return out
}

func rawOrNil(s *string) json.RawMessage {
	if s == nil || *s == "" {
		return nil
	}
	return json.RawMessage(*s)
}
