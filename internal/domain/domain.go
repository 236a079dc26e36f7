package domain

type TaskTemplate struct {
	ID         string  `json:"id"`
	Name       string  `json:"name"`
	SchemaJSON string  `json:"schema_json"`
	Deadline   *string `json:"deadline,omitempty" format:"date-time"`
	CreatedAt  string  `json:"created_at" format:"date-time"`
	UpdatedAt  string  `json:"updated_at" format:"date-time"`
}

type SubmissionFile struct {
	Name string `json:"name"`
	Size int64  `json:"size"`
	Type string `json:"type"`
	URL  string `json:"url,omitempty"`
}

type TaskSubmission struct {
	ID           string `json:"id"`
	TemplateID   string `json:"template_id"`
	TemplateName string `json:"template_name"`
	// Schema snapshot taken at creation time; review and audit read this,
	// never the live template.
	SchemaJSON     string   `json:"schema_json"`
	FormDataJSON   string   `json:"form_data_json"`
	FilesJSON      *string  `json:"files_json,omitempty"`
	Status         string   `json:"status" enum:"draft,submitted,in_review,approved,rejected"`
	SubmittedBy    string   `json:"submitted_by"`
	ValidationJSON *string  `json:"validation_json,omitempty"`
	ReceiptHash    *string  `json:"receipt_hash,omitempty"`
	PointsAwarded  *int     `json:"points_awarded,omitempty"`
	RewardJSON     *string  `json:"reward_json,omitempty"`
	ReviewNotes    *string  `json:"review_notes,omitempty"`
	QualityScore   *float64 `json:"quality_score,omitempty"`
	ReviewedBy     *string  `json:"reviewed_by,omitempty"`
	CreatedAt      string   `json:"created_at" format:"date-time"`
	UpdatedAt      string   `json:"updated_at" format:"date-time"`
}

type ProofEvent struct {
	ID           int64  `json:"id"`
	SubmissionID string `json:"submission_id"`
	TS           string `json:"ts" format:"date-time"`
	Type         string `json:"type" enum:"TASK_SUBMITTED,VALIDATION_PASSED,VALIDATION_FAILED,REVIEW_SUBMITTED,REWARD_CALCULATED"`
	PayloadJSON  string `json:"payload_json"`
	Hash         string `json:"hash"`
}

type User struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Email     string `json:"email,omitempty"`
	Role      string `json:"role" enum:"admin,user"`
	Points    int    `json:"points"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

// Submission statuses. Approved and rejected are terminal.
const (
	StatusDraft     = "draft"
	StatusSubmitted = "submitted"
	StatusInReview  = "in_review"
	StatusApproved  = "approved"
	StatusRejected  = "rejected"
)

// Proof event types.
const (
	EventTaskSubmitted    = "TASK_SUBMITTED"
	EventValidationPassed = "VALIDATION_PASSED"
	EventValidationFailed = "VALIDATION_FAILED"
	EventReviewSubmitted  = "REVIEW_SUBMITTED"
	EventRewardCalculated = "REWARD_CALCULATED"
)
