package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"workchain/internal/domain"
)

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("not found")

type Repo struct {
	DB *sql.DB
}

func New(db *sql.DB) *Repo {
	return &Repo{DB: db}
}

type scanner interface {
	Scan(dest ...any) error
}

func nullable(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}

func nullInt(i *int) any {
	if i == nil {
		return nil
	}
	return *i
}

func nullFloat(f *float64) any {
	if f == nil {
		return nil
	}
	return *f
}

func strPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	v := ns.String
	return &v
}

func intPtr(ni sql.NullInt64) *int {
	if !ni.Valid {
		return nil
	}
	v := int(ni.Int64)
	return &v
}

func floatPtr(nf sql.NullFloat64) *float64 {
	if !nf.Valid {
		return nil
	}
	v := nf.Float64
	return &v
}

// --- templates ---

const templateCols = `id, name, schema_json, deadline, created_at, updated_at`

func scanTemplate(s scanner) (domain.TaskTemplate, error) {
	var t domain.TaskTemplate
	var deadline sql.NullString
	if err := s.Scan(&t.ID, &t.Name, &t.SchemaJSON, &deadline, &t.CreatedAt, &t.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return t, ErrNotFound
		}
		return t, err
	}
	t.Deadline = strPtr(deadline)
	return t, nil
}

func (r *Repo) InsertTemplate(ctx context.Context, t domain.TaskTemplate) error {
	_, err := r.DB.ExecContext(ctx,
		`INSERT INTO templates(`+templateCols+`) VALUES (?,?,?,?,?,?)`,
		t.ID, t.Name, t.SchemaJSON, nullable(t.Deadline), t.CreatedAt, t.UpdatedAt)
	return err
}

func (r *Repo) UpdateTemplate(ctx context.Context, t domain.TaskTemplate) error {
	res, err := r.DB.ExecContext(ctx,
		`UPDATE templates SET name=?, schema_json=?, deadline=?, updated_at=? WHERE id=?`,
		t.Name, t.SchemaJSON, nullable(t.Deadline), t.UpdatedAt, t.ID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *Repo) DeleteTemplate(ctx context.Context, id string) error {
	res, err := r.DB.ExecContext(ctx, `DELETE FROM templates WHERE id=?`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *Repo) GetTemplate(ctx context.Context, id string) (domain.TaskTemplate, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+templateCols+` FROM templates WHERE id=?`, id)
	return scanTemplate(row)
}

func (r *Repo) ListTemplates(ctx context.Context) ([]domain.TaskTemplate, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+templateCols+` FROM templates ORDER BY created_at, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.TaskTemplate
	for rows.Next() {
		t, err := scanTemplate(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// --- submissions ---

const submissionCols = `id, template_id, template_name, schema_json, form_data_json, files_json,
	status, submitted_by, validation_json, receipt_hash, points_awarded, reward_json,
	review_notes, quality_score, reviewed_by, created_at, updated_at`

func scanSubmission(s scanner) (domain.TaskSubmission, error) {
	var sub domain.TaskSubmission
	var files, validation, receipt, rewardJSON, notes, reviewer sql.NullString
	var points sql.NullInt64
	var quality sql.NullFloat64
	err := s.Scan(&sub.ID, &sub.TemplateID, &sub.TemplateName, &sub.SchemaJSON, &sub.FormDataJSON,
		&files, &sub.Status, &sub.SubmittedBy, &validation, &receipt, &points, &rewardJSON,
		&notes, &quality, &reviewer, &sub.CreatedAt, &sub.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return sub, ErrNotFound
		}
		return sub, err
	}
	sub.FilesJSON = strPtr(files)
	sub.ValidationJSON = strPtr(validation)
	sub.ReceiptHash = strPtr(receipt)
	sub.PointsAwarded = intPtr(points)
	sub.RewardJSON = strPtr(rewardJSON)
	sub.ReviewNotes = strPtr(notes)
	sub.QualityScore = floatPtr(quality)
	sub.ReviewedBy = strPtr(reviewer)
	return sub, nil
}

func (r *Repo) InsertSubmissionTx(ctx context.Context, tx *sql.Tx, s domain.TaskSubmission) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO submissions(`+submissionCols+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		s.ID, s.TemplateID, s.TemplateName, s.SchemaJSON, s.FormDataJSON, nullable(s.FilesJSON),
		s.Status, s.SubmittedBy, nullable(s.ValidationJSON), nullable(s.ReceiptHash),
		nullInt(s.PointsAwarded), nullable(s.RewardJSON), nullable(s.ReviewNotes),
		nullFloat(s.QualityScore), nullable(s.ReviewedBy), s.CreatedAt, s.UpdatedAt)
	return err
}

func (r *Repo) GetSubmission(ctx context.Context, id string) (domain.TaskSubmission, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+submissionCols+` FROM submissions WHERE id=?`, id)
	return scanSubmission(row)
}

func (r *Repo) GetSubmissionTx(ctx context.Context, tx *sql.Tx, id string) (domain.TaskSubmission, error) {
	row := tx.QueryRowContext(ctx, `SELECT `+submissionCols+` FROM submissions WHERE id=?`, id)
	return scanSubmission(row)
}

type SubmissionFilter struct {
	Status      string
	TemplateID  string
	SubmittedBy string
	Limit       int
}

func (r *Repo) ListSubmissions(ctx context.Context, f SubmissionFilter) ([]domain.TaskSubmission, error) {
	var where []string
	var args []any
	if f.Status != "" {
		where = append(where, "status=?")
		args = append(args, f.Status)
	}
	if f.TemplateID != "" {
		where = append(where, "template_id=?")
		args = append(args, f.TemplateID)
	}
	if f.SubmittedBy != "" {
		where = append(where, "submitted_by=?")
		args = append(args, f.SubmittedBy)
	}
	q := `SELECT ` + submissionCols + ` FROM submissions`
	if len(where) > 0 {
		q += ` WHERE ` + strings.Join(where, " AND ")
	}
	q += ` ORDER BY created_at DESC, id`
	if f.Limit > 0 {
		q += fmt.Sprintf(` LIMIT %d`, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.TaskSubmission
	for rows.Next() {
		s, err := scanSubmission(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// CompareAndSetStatusTx moves a submission from one status to another only if
// it is still in the expected status. The boolean reports whether the row
// changed, which gives per-submission mutual exclusion to concurrent reviews.
func (r *Repo) CompareAndSetStatusTx(ctx context.Context, tx *sql.Tx, id, from, to, updatedAt string) (bool, error) {
	res, err := tx.ExecContext(ctx,
		`UPDATE submissions SET status=?, updated_at=? WHERE id=? AND status=?`,
		to, updatedAt, id, from)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// MarkSubmittedTx finalizes a successful submit: status, validation snapshot
// and the receipt hash in one statement.
func (r *Repo) MarkSubmittedTx(ctx context.Context, tx *sql.Tx, id, validationJSON, receiptHash, updatedAt string) error {
	_, err := tx.ExecContext(ctx,
		`UPDATE submissions SET status=?, validation_json=?, receipt_hash=?, updated_at=? WHERE id=?`,
		domain.StatusInReview, validationJSON, receiptHash, updatedAt, id)
	return err
}

func (r *Repo) UpdateDraftData(ctx context.Context, id, formDataJSON string, filesJSON *string, updatedAt string) error {
	res, err := r.DB.ExecContext(ctx,
		`UPDATE submissions SET form_data_json=?, files_json=?, updated_at=? WHERE id=? AND status=?`,
		formDataJSON, nullable(filesJSON), updatedAt, id, domain.StatusDraft)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *Repo) SetValidationTx(ctx context.Context, tx *sql.Tx, id, validationJSON, updatedAt string) error {
	_, err := tx.ExecContext(ctx,
		`UPDATE submissions SET validation_json=?, updated_at=? WHERE id=?`,
		validationJSON, updatedAt, id)
	return err
}

type ReviewUpdate struct {
	Points       int
	RewardJSON   string
	Notes        *string
	QualityScore *float64
	ReviewedBy   string
}

func (r *Repo) ApplyReviewTx(ctx context.Context, tx *sql.Tx, id string, u ReviewUpdate, updatedAt string) error {
	_, err := tx.ExecContext(ctx,
		`UPDATE submissions SET points_awarded=?, reward_json=?, review_notes=?, quality_score=?, reviewed_by=?, updated_at=? WHERE id=?`,
		u.Points, u.RewardJSON, nullable(u.Notes), nullFloat(u.QualityScore), u.ReviewedBy, updatedAt, id)
	return err
}

func (r *Repo) DeleteSubmissionTx(ctx context.Context, tx *sql.Tx, id string) error {
	res, err := tx.ExecContext(ctx, `DELETE FROM submissions WHERE id=?`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// PointRow is the slice of a submission the points recompute needs.
type PointRow struct {
	ID     string
	Status string
	Points int
}

func (r *Repo) PointRowsTx(ctx context.Context, tx *sql.Tx, userID string) ([]PointRow, error) {
	rows, err := tx.QueryContext(ctx,
		`SELECT id, status, points_awarded FROM submissions
		 WHERE submitted_by=? AND points_awarded IS NOT NULL ORDER BY created_at, id`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []PointRow
	for rows.Next() {
		var p PointRow
		if err := rows.Scan(&p.ID, &p.Status, &p.Points); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (r *Repo) SetPointsAwardedTx(ctx context.Context, tx *sql.Tx, id string, points int, updatedAt string) error {
	_, err := tx.ExecContext(ctx,
		`UPDATE submissions SET points_awarded=?, updated_at=? WHERE id=?`, points, updatedAt, id)
	return err
}

// --- events ---

const eventCols = `id, submission_id, ts, type, payload_json, hash`

func scanEvent(s scanner) (domain.ProofEvent, error) {
	var e domain.ProofEvent
	if err := s.Scan(&e.ID, &e.SubmissionID, &e.TS, &e.Type, &e.PayloadJSON, &e.Hash); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return e, ErrNotFound
		}
		return e, err
	}
	return e, nil
}

func (r *Repo) EventsForSubmission(ctx context.Context, submissionID string) ([]domain.ProofEvent, error) {
	rows, err := r.DB.QueryContext(ctx,
		`SELECT `+eventCols+` FROM events WHERE submission_id=? ORDER BY ts, id`, submissionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectEvents(rows)
}

// ReceiptEventByHash resolves a receipt hash. Only TASK_SUBMITTED events are
// receipts; hashes of other event types do not match.
func (r *Repo) ReceiptEventByHash(ctx context.Context, hash string) (domain.ProofEvent, error) {
	row := r.DB.QueryRowContext(ctx,
		`SELECT `+eventCols+` FROM events WHERE hash=? AND type=?`, hash, domain.EventTaskSubmitted)
	return scanEvent(row)
}

func (r *Repo) LatestEvents(ctx context.Context, limit int) ([]domain.ProofEvent, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.DB.QueryContext(ctx,
		`SELECT `+eventCols+` FROM events ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectEvents(rows)
}

// EventsAfter returns events with id greater than afterID in insert order.
// The webhook dispatcher polls with this to resume from its cursor.
func (r *Repo) EventsAfter(ctx context.Context, afterID int64, limit int) ([]domain.ProofEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.DB.QueryContext(ctx,
		`SELECT `+eventCols+` FROM events WHERE id > ? ORDER BY id LIMIT ?`, afterID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectEvents(rows)
}

func (r *Repo) LatestEventID(ctx context.Context) (int64, error) {
	var id sql.NullInt64
	if err := r.DB.QueryRowContext(ctx, `SELECT MAX(id) FROM events`).Scan(&id); err != nil {
		return 0, err
	}
	return id.Int64, nil
}

func collectEvents(rows *sql.Rows) ([]domain.ProofEvent, error) {
	var out []domain.ProofEvent
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// --- users ---

const userCols = `id, name, email, role, points, created_at`

func scanUser(s scanner) (domain.User, error) {
	var u domain.User
	var email sql.NullString
	if err := s.Scan(&u.ID, &u.Name, &email, &u.Role, &u.Points, &u.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return u, ErrNotFound
		}
		return u, err
	}
	u.Email = email.String
	return u, nil
}

func (r *Repo) InsertUser(ctx context.Context, u domain.User) error {
	_, err := r.DB.ExecContext(ctx,
		`INSERT INTO users(`+userCols+`) VALUES (?,?,?,?,?,?)`,
		u.ID, u.Name, u.Email, u.Role, u.Points, u.CreatedAt)
	return err
}

// EnsureUserTx creates the user row on first sight. Existing rows keep their
// name, role and points.
func (r *Repo) EnsureUserTx(ctx context.Context, tx *sql.Tx, id, createdAt string) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO users(id, name, email, role, points, created_at)
		 VALUES (?,?,NULL,'user',0,?) ON CONFLICT(id) DO NOTHING`, id, id, createdAt)
	return err
}

func (r *Repo) GetUser(ctx context.Context, id string) (domain.User, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+userCols+` FROM users WHERE id=?`, id)
	return scanUser(row)
}

func (r *Repo) GetUserTx(ctx context.Context, tx *sql.Tx, id string) (domain.User, error) {
	row := tx.QueryRowContext(ctx, `SELECT `+userCols+` FROM users WHERE id=?`, id)
	return scanUser(row)
}

func (r *Repo) ListUsers(ctx context.Context) ([]domain.User, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+userCols+` FROM users ORDER BY points DESC, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

func (r *Repo) SetUserPointsTx(ctx context.Context, tx *sql.Tx, id string, points int) error {
	res, err := tx.ExecContext(ctx, `UPDATE users SET points=? WHERE id=?`, points, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
