package engine

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"workchain/internal/config"
	"workchain/internal/domain"
	"workchain/internal/ledger"
	"workchain/internal/repo"
	"workchain/internal/reward"
	"workchain/internal/schema"
	"workchain/internal/validate"
)

// ErrInvalidTransition marks a submission status change the state machine
// does not allow, including reviews that lost a concurrent race.
var ErrInvalidTransition = errors.New("invalid status transition")

// ValidationError carries the structured validation result for a submit or
// preflight that did not pass.
type ValidationError struct {
	Result validate.Result
}

func (e *ValidationError) Error() string {
	fields := make([]string, 0, len(e.Result.Errors))
	for _, ve := range e.Result.Errors {
		fields = append(fields, ve.Field)
	}
	return fmt.Sprintf("validation failed on %s", strings.Join(fields, ", "))
}

type Engine struct {
	DB        *sql.DB
	Repo      *repo.Repo
	Ledger    ledger.Writer
	Validator *validate.Validator
	Rewards   *reward.Calculator
	Config    *config.Config
	Now       func() time.Time

	// OnUserUpdated is called after a committed points change, outside the
	// transaction. Optional.
	OnUserUpdated func(domain.User)
}

func New(db *sql.DB, cfg *config.Config) *Engine {
	if cfg == nil {
		cfg = config.Default()
	}
	return &Engine{
		DB:        db,
		Repo:      repo.New(db),
		Ledger:    ledger.Writer{DB: db},
		Validator: validate.New(cfg),
		Rewards:   reward.New(cfg),
		Config:    cfg,
		Now:       time.Now,
	}
}

func (e *Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e *Engine) nowString() string {
	return e.now().UTC().Format(time.RFC3339)
}

// --- templates ---

type TemplateOptions struct {
	ID         string
	Name       string
	SchemaJSON string
	Deadline   *string
}

func (e *Engine) CreateTemplate(ctx context.Context, opts TemplateOptions) (domain.TaskTemplate, error) {
	if opts.Name == "" {
		return domain.TaskTemplate{}, errors.New("name is required")
	}
	if _, err := schema.Parse([]byte(opts.SchemaJSON)); err != nil {
		return domain.TaskTemplate{}, err
	}
	if opts.Deadline != nil && *opts.Deadline != "" {
		if _, err := time.Parse(time.RFC3339, *opts.Deadline); err != nil {
			return domain.TaskTemplate{}, fmt.Errorf("invalid deadline: %w", err)
		}
	}
	id := opts.ID
	if id == "" {
		id = uuid.NewString()
	}
	now := e.nowString()
	t := domain.TaskTemplate{
		ID:         id,
		Name:       opts.Name,
		SchemaJSON: opts.SchemaJSON,
		Deadline:   opts.Deadline,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := e.Repo.InsertTemplate(ctx, t); err != nil {
		return domain.TaskTemplate{}, fmt.Errorf("insert template: %w", err)
	}
	return t, nil
}

func (e *Engine) UpdateTemplate(ctx context.Context, opts TemplateOptions) (domain.TaskTemplate, error) {
	t, err := e.Repo.GetTemplate(ctx, opts.ID)
	if err != nil {
		return domain.TaskTemplate{}, err
	}
	if opts.Name != "" {
		t.Name = opts.Name
	}
	if opts.SchemaJSON != "" {
		if _, err := schema.Parse([]byte(opts.SchemaJSON)); err != nil {
			return domain.TaskTemplate{}, err
		}
		t.SchemaJSON = opts.SchemaJSON
	}
	if opts.Deadline != nil {
		if *opts.Deadline != "" {
			if _, err := time.Parse(time.RFC3339, *opts.Deadline); err != nil {
				return domain.TaskTemplate{}, fmt.Errorf("invalid deadline: %w", err)
			}
			t.Deadline = opts.Deadline
		} else {
			t.Deadline = nil
		}
	}
	t.UpdatedAt = e.nowString()
	if err := e.Repo.UpdateTemplate(ctx, t); err != nil {
		return domain.TaskTemplate{}, err
	}
	return t, nil
}

// TemplateFields derives the form fields for a template from its schema.
func (e *Engine) TemplateFields(ctx context.Context, templateID string) ([]schema.FormField, error) {
	t, err := e.Repo.GetTemplate(ctx, templateID)
	if err != nil {
		return nil, err
	}
	sch, err := schema.Parse([]byte(t.SchemaJSON))
	if err != nil {
		return nil, err
	}
	return sch.Fields(), nil
}

// --- submissions ---

type SubmissionOptions struct {
	ID          string
	TemplateID  string
	FormData    map[string]any
	Files       map[string]domain.SubmissionFile
	SubmittedBy string
	// Draft keeps the submission editable; no validation, no events.
	Draft bool
}

// CreateSubmission creates a submission from a template. Non-draft creates
// validate immediately: a failure is recorded against a transient preflight
// id and no submission row is written.
func (e *Engine) CreateSubmission(ctx context.Context, opts SubmissionOptions) (domain.TaskSubmission, error) {
	if opts.SubmittedBy == "" {
		return domain.TaskSubmission{}, errors.New("submitted-by is required")
	}
	t, err := e.Repo.GetTemplate(ctx, opts.TemplateID)
	if err != nil {
		return domain.TaskSubmission{}, err
	}
	sch, err := schema.Parse([]byte(t.SchemaJSON))
	if err != nil {
		return domain.TaskSubmission{}, err
	}

	id := opts.ID
	if id == "" {
		id = uuid.NewString()
	}
	now := e.nowString()
	formJSON, err := json.Marshal(opts.FormData)
	if err != nil {
		return domain.TaskSubmission{}, fmt.Errorf("marshal form data: %w", err)
	}
	var filesJSON *string
	if len(opts.Files) > 0 {
		data, err := json.Marshal(opts.Files)
		if err != nil {
			return domain.TaskSubmission{}, fmt.Errorf("marshal files: %w", err)
		}
		s := string(data)
		filesJSON = &s
	}
	sub := domain.TaskSubmission{
		ID:           id,
		TemplateID:   t.ID,
		TemplateName: t.Name,
		SchemaJSON:   t.SchemaJSON,
		FormDataJSON: string(formJSON),
		FilesJSON:    filesJSON,
		Status:       domain.StatusDraft,
		SubmittedBy:  opts.SubmittedBy,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if opts.Draft {
		tx, err := e.DB.BeginTx(ctx, nil)
		if err != nil {
			return domain.TaskSubmission{}, err
		}
		defer tx.Rollback()
		if err := e.Repo.EnsureUserTx(ctx, tx, sub.SubmittedBy, now); err != nil {
			return domain.TaskSubmission{}, err
		}
		if err := e.Repo.InsertSubmissionTx(ctx, tx, sub); err != nil {
			return domain.TaskSubmission{}, fmt.Errorf("insert submission: %w", err)
		}
		return sub, tx.Commit()
	}

	result := e.Validator.Validate(sch, opts.FormData, opts.Files)
	if !result.Valid {
		if err := e.recordPreflight(ctx, result); err != nil {
			return domain.TaskSubmission{}, err
		}
		return domain.TaskSubmission{}, &ValidationError{Result: result}
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.TaskSubmission{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.EnsureUserTx(ctx, tx, sub.SubmittedBy, now); err != nil {
		return domain.TaskSubmission{}, err
	}
	if err := e.Repo.InsertSubmissionTx(ctx, tx, sub); err != nil {
		return domain.TaskSubmission{}, fmt.Errorf("insert submission: %w", err)
	}
	if err := e.finalizeSubmitTx(ctx, tx, &sub, result); err != nil {
		return domain.TaskSubmission{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.TaskSubmission{}, err
	}
	return sub, nil
}

// UpdateDraft replaces the form data and files of a draft. Submitted
// work is immutable.
func (e *Engine) UpdateDraft(ctx context.Context, id string, form map[string]any, files map[string]domain.SubmissionFile) (domain.TaskSubmission, error) {
	sub, err := e.Repo.GetSubmission(ctx, id)
	if err != nil {
		return domain.TaskSubmission{}, err
	}
	if sub.Status != domain.StatusDraft {
		return domain.TaskSubmission{}, fmt.Errorf("%w: submission %s is %s, only drafts can be edited", ErrInvalidTransition, id, sub.Status)
	}
	formJSON, err := json.Marshal(form)
	if err != nil {
		return domain.TaskSubmission{}, fmt.Errorf("marshal form data: %w", err)
	}
	var filesJSON *string
	if len(files) > 0 {
		data, err := json.Marshal(files)
		if err != nil {
			return domain.TaskSubmission{}, fmt.Errorf("marshal files: %w", err)
		}
		s := string(data)
		filesJSON = &s
	}
	sub.FormDataJSON = string(formJSON)
	sub.FilesJSON = filesJSON
	sub.UpdatedAt = e.nowString()
	if err := e.Repo.UpdateDraftData(ctx, sub.ID, sub.FormDataJSON, filesJSON, sub.UpdatedAt); err != nil {
		return domain.TaskSubmission{}, err
	}
	return sub, nil
}

// SubmitDraft validates a draft and moves it into review. A validation
// failure leaves the draft editable and records a VALIDATION_FAILED event
// against the submission.
func (e *Engine) SubmitDraft(ctx context.Context, submissionID string) (domain.TaskSubmission, error) {
	sub, err := e.Repo.GetSubmission(ctx, submissionID)
	if err != nil {
		return domain.TaskSubmission{}, err
	}
	if err := ensureSubmissionTransition(sub.Status, domain.StatusInReview); err != nil {
		return domain.TaskSubmission{}, err
	}
	sch, err := schema.Parse([]byte(sub.SchemaJSON))
	if err != nil {
		return domain.TaskSubmission{}, err
	}
	form, files, err := decodeSubmissionData(sub)
	if err != nil {
		return domain.TaskSubmission{}, err
	}

	result := e.Validator.Validate(sch, form, files)
	resultJSON, _ := json.Marshal(result)
	now := e.nowString()

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.TaskSubmission{}, err
	}
	defer tx.Rollback()

	if !result.Valid {
		if err := e.Repo.SetValidationTx(ctx, tx, sub.ID, string(resultJSON), now); err != nil {
			return domain.TaskSubmission{}, err
		}
		if _, err := e.Ledger.Append(ctx, tx, sub.ID, domain.EventValidationFailed, result); err != nil {
			return domain.TaskSubmission{}, err
		}
		if err := tx.Commit(); err != nil {
			return domain.TaskSubmission{}, err
		}
		return domain.TaskSubmission{}, &ValidationError{Result: result}
	}

	changed, err := e.Repo.CompareAndSetStatusTx(ctx, tx, sub.ID, sub.Status, domain.StatusInReview, now)
	if err != nil {
		return domain.TaskSubmission{}, err
	}
	if !changed {
		return domain.TaskSubmission{}, fmt.Errorf("%w: submission %s is no longer %s", ErrInvalidTransition, sub.ID, sub.Status)
	}
	if err := e.finalizeSubmitTx(ctx, tx, &sub, result); err != nil {
		return domain.TaskSubmission{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.TaskSubmission{}, err
	}
	return sub, nil
}

// finalizeSubmitTx appends the TASK_SUBMITTED event and stamps its hash on
// the submission as the receipt. The payload carries the form data and the
// attached file names so the receipt commits to what was submitted, not just
// that something was. The caller owns the transaction.
func (e *Engine) finalizeSubmitTx(ctx context.Context, tx *sql.Tx, sub *domain.TaskSubmission, result validate.Result) error {
	ev, err := e.Ledger.Append(ctx, tx, sub.ID, domain.EventTaskSubmitted, map[string]any{
		"template_id":   sub.TemplateID,
		"template_name": sub.TemplateName,
		"submitted_by":  sub.SubmittedBy,
		"form_data":     json.RawMessage(sub.FormDataJSON),
		"files":         submittedFileNames(sub.FilesJSON),
	})
	if err != nil {
		return err
	}
	resultJSON, _ := json.Marshal(result)
	now := e.nowString()
	if err := e.Repo.MarkSubmittedTx(ctx, tx, sub.ID, string(resultJSON), ev.Hash, now); err != nil {
		return err
	}
	sub.Status = domain.StatusInReview
	v := string(resultJSON)
	sub.ValidationJSON = &v
	sub.ReceiptHash = &ev.Hash
	sub.UpdatedAt = now
	return nil
}

// submittedFileNames lists attachment names in sorted order so the receipt
// payload is stable regardless of map iteration.
func submittedFileNames(filesJSON *string) []string {
	names := []string{}
	if filesJSON == nil || *filesJSON == "" {
		return names
	}
	var files map[string]domain.SubmissionFile
	if err := json.Unmarshal([]byte(*filesJSON), &files); err != nil {
		return names
	}
	for _, f := range files {
		if f.Name != "" {
			names = append(names, f.Name)
		}
	}
	sort.Strings(names)
	return names
}

// Preflight validates form data against a template without creating a
// submission. The outcome is still recorded in the event log, keyed by a
// transient id.
func (e *Engine) Preflight(ctx context.Context, templateID string, form map[string]any, files map[string]domain.SubmissionFile) (validate.Result, error) {
	t, err := e.Repo.GetTemplate(ctx, templateID)
	if err != nil {
		return validate.Result{}, err
	}
	sch, err := schema.Parse([]byte(t.SchemaJSON))
	if err != nil {
		return validate.Result{}, err
	}
	result := e.Validator.Validate(sch, form, files)
	if err := e.recordPreflight(ctx, result); err != nil {
		return validate.Result{}, err
	}
	return result, nil
}

func (e *Engine) recordPreflight(ctx context.Context, result validate.Result) error {
	eventType := domain.EventValidationPassed
	if !result.Valid {
		eventType = domain.EventValidationFailed
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if _, err := e.Ledger.Append(ctx, tx, "preflight_"+uuid.NewString(), eventType, result); err != nil {
		return err
	}
	return tx.Commit()
}

// --- review ---

type ReviewOptions struct {
	SubmissionID string
	Decision     string
	QualityScore *float64
	Notes        *string
	ReviewedBy   string
}

// Review approves or rejects a submission in review. Approval computes the
// reward from the schema snapshot; rejection awards the flat consolation
// points. Both append REWARD_CALCULATED and REVIEW_SUBMITTED events and
// recompute the submitter's points inside the same transaction.
func (e *Engine) Review(ctx context.Context, opts ReviewOptions) (domain.TaskSubmission, error) {
	if opts.Decision != domain.StatusApproved && opts.Decision != domain.StatusRejected {
		return domain.TaskSubmission{}, fmt.Errorf("decision must be %s or %s", domain.StatusApproved, domain.StatusRejected)
	}
	if opts.ReviewedBy == "" {
		return domain.TaskSubmission{}, errors.New("reviewed-by is required")
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.TaskSubmission{}, err
	}
	defer tx.Rollback()

	sub, err := e.Repo.GetSubmissionTx(ctx, tx, opts.SubmissionID)
	if err != nil {
		return domain.TaskSubmission{}, err
	}
	if err := ensureSubmissionTransition(sub.Status, opts.Decision); err != nil {
		return domain.TaskSubmission{}, err
	}

	var breakdown reward.Breakdown
	quality := 1.0
	if opts.Decision == domain.StatusApproved {
		if opts.QualityScore != nil {
			quality = *opts.QualityScore
		}
		if quality <= 0 || quality > e.Config.Rewards.MaxQualityScore {
			return domain.TaskSubmission{}, fmt.Errorf("quality score must be in (0, %g]", e.Config.Rewards.MaxQualityScore)
		}
		sch, err := schema.Parse([]byte(sub.SchemaJSON))
		if err != nil {
			return domain.TaskSubmission{}, err
		}
		timeliness := e.Rewards.TimelinessBonus(e.templateDeadline(ctx, sub.TemplateID), sub.CreatedAt)
		breakdown = e.Rewards.Compute(sch.DifficultyMultiplier(), quality, timeliness)
	} else {
		breakdown = e.Rewards.Consolation()
	}

	now := e.nowString()
	changed, err := e.Repo.CompareAndSetStatusTx(ctx, tx, sub.ID, sub.Status, opts.Decision, now)
	if err != nil {
		return domain.TaskSubmission{}, err
	}
	if !changed {
		return domain.TaskSubmission{}, fmt.Errorf("%w: submission %s is no longer %s", ErrInvalidTransition, sub.ID, sub.Status)
	}

	rewardJSON, _ := json.Marshal(breakdown)
	update := repo.ReviewUpdate{
		Points:     breakdown.FinalPoints,
		RewardJSON: string(rewardJSON),
		Notes:      opts.Notes,
		ReviewedBy: opts.ReviewedBy,
	}
	if opts.Decision == domain.StatusApproved {
		update.QualityScore = &quality
	}
	if err := e.Repo.ApplyReviewTx(ctx, tx, sub.ID, update, now); err != nil {
		return domain.TaskSubmission{}, err
	}

	if _, err := e.Ledger.Append(ctx, tx, sub.ID, domain.EventRewardCalculated, breakdown); err != nil {
		return domain.TaskSubmission{}, err
	}
	if _, err := e.Ledger.Append(ctx, tx, sub.ID, domain.EventReviewSubmitted, map[string]any{
		"decision":    opts.Decision,
		"reviewed_by": opts.ReviewedBy,
		"notes":       opts.Notes,
	}); err != nil {
		return domain.TaskSubmission{}, err
	}

	if err := e.Repo.EnsureUserTx(ctx, tx, sub.SubmittedBy, now); err != nil {
		return domain.TaskSubmission{}, err
	}
	user, err := e.recomputePointsTx(ctx, tx, sub.SubmittedBy)
	if err != nil {
		return domain.TaskSubmission{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.TaskSubmission{}, err
	}
	if e.OnUserUpdated != nil {
		e.OnUserUpdated(user)
	}
	return e.Repo.GetSubmission(ctx, sub.ID)
}

func (e *Engine) templateDeadline(ctx context.Context, templateID string) *string {
	t, err := e.Repo.GetTemplate(ctx, templateID)
	if err != nil {
		return nil
	}
	return t.Deadline
}

// DeleteSubmission removes the submission row and recomputes the owner's
// points. Proof events are append-only and stay.
func (e *Engine) DeleteSubmission(ctx context.Context, id string) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	sub, err := e.Repo.GetSubmissionTx(ctx, tx, id)
	if err != nil {
		return err
	}
	if err := e.Repo.DeleteSubmissionTx(ctx, tx, id); err != nil {
		return err
	}
	if err := e.Repo.EnsureUserTx(ctx, tx, sub.SubmittedBy, e.nowString()); err != nil {
		return err
	}
	user, err := e.recomputePointsTx(ctx, tx, sub.SubmittedBy)
	if err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	if e.OnUserUpdated != nil {
		e.OnUserUpdated(user)
	}
	return nil
}

// --- points ---

// RecalculateUserPoints rebuilds the user's points from their submissions.
// It is idempotent: a second run with no new reviews is a no-op.
func (e *Engine) RecalculateUserPoints(ctx context.Context, userID string) (domain.User, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.User{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.EnsureUserTx(ctx, tx, userID, e.nowString()); err != nil {
		return domain.User{}, err
	}
	user, err := e.recomputePointsTx(ctx, tx, userID)
	if err != nil {
		return domain.User{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.User{}, err
	}
	if e.OnUserUpdated != nil {
		e.OnUserUpdated(user)
	}
	return user, nil
}

// recomputePointsTx sums awarded points. Rejected rows carrying anything but
// the consolation amount are repaired first so drift cannot accumulate.
func (e *Engine) recomputePointsTx(ctx context.Context, tx *sql.Tx, userID string) (domain.User, error) {
	rows, err := e.Repo.PointRowsTx(ctx, tx, userID)
	if err != nil {
		return domain.User{}, err
	}
	consolation := e.Config.Rewards.ConsolationPoints
	total := 0
	for _, row := range rows {
		if row.Status == domain.StatusRejected && row.Points != consolation {
			log.Printf("repairing rejected submission %s: points %d -> %d", row.ID, row.Points, consolation)
			if err := e.Repo.SetPointsAwardedTx(ctx, tx, row.ID, consolation, e.nowString()); err != nil {
				return domain.User{}, err
			}
			row.Points = consolation
		}
		total += row.Points
	}
	if err := e.Repo.SetUserPointsTx(ctx, tx, userID, total); err != nil {
		return domain.User{}, err
	}
	return e.Repo.GetUserTx(ctx, tx, userID)
}

// --- proof trail ---

type EventCheck struct {
	Event domain.ProofEvent `json:"event"`
	Valid bool              `json:"valid"`
}

// VerifyTrail recomputes the hash of every event for a submission.
func (e *Engine) VerifyTrail(ctx context.Context, submissionID string) (bool, []EventCheck, error) {
	events, err := e.Repo.EventsForSubmission(ctx, submissionID)
	if err != nil {
		return false, nil, err
	}
	checks := make([]EventCheck, 0, len(events))
	ok := true
	for _, ev := range events {
		valid := ledger.Verify(ev)
		if !valid {
			ok = false
		}
		checks = append(checks, EventCheck{Event: ev, Valid: valid})
	}
	return ok, checks, nil
}

// LookupReceipt resolves a receipt hash to its TASK_SUBMITTED event and,
// when the submission still exists, the submission itself.
func (e *Engine) LookupReceipt(ctx context.Context, hash string) (domain.ProofEvent, *domain.TaskSubmission, error) {
	ev, err := e.Repo.ReceiptEventByHash(ctx, hash)
	if err != nil {
		return domain.ProofEvent{}, nil, err
	}
	sub, err := e.Repo.GetSubmission(ctx, ev.SubmissionID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return ev, nil, nil
		}
		return domain.ProofEvent{}, nil, err
	}
	return ev, &sub, nil
}

// --- helpers ---

func ensureSubmissionTransition(oldStatus, newStatus string) error {
	switch oldStatus {
	case domain.StatusDraft:
		if newStatus == domain.StatusInReview {
			return nil
		}
	case domain.StatusSubmitted, domain.StatusInReview:
		if newStatus == domain.StatusApproved || newStatus == domain.StatusRejected {
			return nil
		}
	}
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, oldStatus, newStatus)
}

func decodeSubmissionData(sub domain.TaskSubmission) (map[string]any, map[string]domain.SubmissionFile, error) {
	form := map[string]any{}
	if sub.FormDataJSON != "" {
		if err := json.Unmarshal([]byte(sub.FormDataJSON), &form); err != nil {
			return nil, nil, fmt.Errorf("decode form data: %w", err)
		}
	}
	files := map[string]domain.SubmissionFile{}
	if sub.FilesJSON != nil && *sub.FilesJSON != "" {
		if err := json.Unmarshal([]byte(*sub.FilesJSON), &files); err != nil {
			return nil, nil, fmt.Errorf("decode files: %w", err)
		}
	}
	return form, files, nil
}
