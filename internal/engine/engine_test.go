package engine_test

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"workchain/internal/config"
	"workchain/internal/db"
	"workchain/internal/domain"
	"workchain/internal/engine"
	"workchain/internal/ledger"
	"workchain/internal/migrate"
	"workchain/internal/repo"
)

const testSchema = `{
  "type": "object",
  "difficulty": 1.2,
  "properties": {
    "title": {"type": "string", "title": "Bug Title"},
    "description": {"type": "string", "format": "textarea", "minWords": 5},
    "severity": {"type": "string", "enum": ["low", "medium", "high", "critical"]},
    "screenshot": {"type": "string", "format": "file"}
  },
  "required": ["title", "description", "severity", "screenshot"]
}`

type testEnv struct {
	Engine *engine.Engine
	Ctx    context.Context
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	eng := engine.New(conn, config.Default())
	eng.Now = func() time.Time { return time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC) }
	ctx := context.Background()
	deadline := "2025-01-10T00:00:00Z"
	if _, err := eng.CreateTemplate(ctx, engine.TemplateOptions{
		ID:         "tmpl-1",
		Name:       "Bug Report",
		SchemaJSON: testSchema,
		Deadline:   &deadline,
	}); err != nil {
		t.Fatalf("create template: %v", err)
	}
	return testEnv{Engine: eng, Ctx: ctx}
}

func validForm() map[string]any {
	return map[string]any{
		"title":       "Save button broken",
		"description": "The save button does nothing when clicked",
		"severity":    "high",
	}
}

func validFiles() map[string]domain.SubmissionFile {
	return map[string]domain.SubmissionFile{
		"screenshot": {Name: "shot.png", Size: 2048, Type: "image/png"},
	}
}

func TestSubmitCreatesReceipt(t *testing.T) {
	env := newTestEnv(t)
	s, err := env.Engine.CreateSubmission(env.Ctx, engine.SubmissionOptions{
		TemplateID:  "tmpl-1",
		FormData:    validForm(),
		Files:       validFiles(),
		SubmittedBy: "alice",
	})
	if err != nil {
		t.Fatalf("create submission: %v", err)
	}
	if s.Status != domain.StatusInReview {
		t.Fatalf("status = %s, want in_review", s.Status)
	}
	if s.ReceiptHash == nil || *s.ReceiptHash == "" {
		t.Fatal("receipt hash missing")
	}
	events, err := env.Engine.Repo.EventsForSubmission(env.Ctx, s.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 1 || events[0].Type != domain.EventTaskSubmitted {
		t.Fatalf("events = %+v, want single TASK_SUBMITTED", events)
	}
	if events[0].Hash != *s.ReceiptHash {
		t.Fatal("receipt hash must equal the TASK_SUBMITTED event hash")
	}
	// receipt resolves back to the submission
	ev, sub, err := env.Engine.LookupReceipt(env.Ctx, *s.ReceiptHash)
	if err != nil {
		t.Fatalf("lookup receipt: %v", err)
	}
	if ev.SubmissionID != s.ID || sub == nil || sub.ID != s.ID {
		t.Fatal("receipt lookup returned the wrong submission")
	}
}

func TestDirectSubmitValidationFailure(t *testing.T) {
	env := newTestEnv(t)
	form := validForm()
	delete(form, "severity")
	_, err := env.Engine.CreateSubmission(env.Ctx, engine.SubmissionOptions{
		TemplateID:  "tmpl-1",
		FormData:    form,
		Files:       validFiles(),
		SubmittedBy: "alice",
	})
	var ve *engine.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if len(ve.Result.Errors) != 1 || ve.Result.Errors[0].Field != "severity" {
		t.Fatalf("result errors = %+v", ve.Result.Errors)
	}
	// no submission row is written
	items, err := env.Engine.Repo.ListSubmissions(env.Ctx, repo.SubmissionFilter{})
	if err != nil {
		t.Fatal(err)
	}
	if len(items) != 0 {
		t.Fatalf("expected no submissions, got %d", len(items))
	}
	// the failure is still on record, keyed by a transient id
	events, err := env.Engine.Repo.LatestEvents(env.Ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 1 || events[0].Type != domain.EventValidationFailed {
		t.Fatalf("events = %+v, want single VALIDATION_FAILED", events)
	}
	if !strings.HasPrefix(events[0].SubmissionID, "preflight_") {
		t.Fatalf("event keyed by %q, want preflight_ prefix", events[0].SubmissionID)
	}
}

func TestDraftLifecycle(t *testing.T) {
	env := newTestEnv(t)
	form := validForm()
	form["description"] = "too short"
	draft, err := env.Engine.CreateSubmission(env.Ctx, engine.SubmissionOptions{
		TemplateID:  "tmpl-1",
		FormData:    form,
		Files:       validFiles(),
		SubmittedBy: "alice",
		Draft:       true,
	})
	if err != nil {
		t.Fatalf("create draft: %v", err)
	}
	if draft.Status != domain.StatusDraft {
		t.Fatalf("status = %s, want draft", draft.Status)
	}
	// drafts produce no events
	events, _ := env.Engine.Repo.EventsForSubmission(env.Ctx, draft.ID)
	if len(events) != 0 {
		t.Fatalf("draft should have no events, got %d", len(events))
	}

	// submitting the invalid draft fails and leaves it editable
	_, err = env.Engine.SubmitDraft(env.Ctx, draft.ID)
	var ve *engine.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	got, err := env.Engine.Repo.GetSubmission(env.Ctx, draft.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != domain.StatusDraft {
		t.Fatalf("status after failed submit = %s, want draft", got.Status)
	}
	if got.ValidationJSON == nil {
		t.Fatal("validation result not stored on the draft")
	}
	events, _ = env.Engine.Repo.EventsForSubmission(env.Ctx, draft.ID)
	if len(events) != 1 || events[0].Type != domain.EventValidationFailed {
		t.Fatalf("events = %+v, want VALIDATION_FAILED", events)
	}

	// fix the data and submit again
	if _, err := env.Engine.UpdateDraft(env.Ctx, draft.ID, validForm(), validFiles()); err != nil {
		t.Fatalf("update draft: %v", err)
	}
	sub, err := env.Engine.SubmitDraft(env.Ctx, draft.ID)
	if err != nil {
		t.Fatalf("submit draft: %v", err)
	}
	if sub.Status != domain.StatusInReview || sub.ReceiptHash == nil {
		t.Fatalf("submitted draft = %+v", sub)
	}
	events, _ = env.Engine.Repo.EventsForSubmission(env.Ctx, draft.ID)
	if len(events) != 2 || events[1].Type != domain.EventTaskSubmitted {
		t.Fatalf("events = %+v, want VALIDATION_FAILED then TASK_SUBMITTED", events)
	}

	// submitted work can no longer be edited
	if _, err := env.Engine.UpdateDraft(env.Ctx, draft.ID, validForm(), nil); !errors.Is(err, engine.ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
}

func submit(t *testing.T, env testEnv, by string) domain.TaskSubmission {
	t.Helper()
	s, err := env.Engine.CreateSubmission(env.Ctx, engine.SubmissionOptions{
		TemplateID:  "tmpl-1",
		FormData:    validForm(),
		Files:       validFiles(),
		SubmittedBy: by,
	})
	if err != nil {
		t.Fatalf("create submission: %v", err)
	}
	return s
}

func TestReviewApprove(t *testing.T) {
	env := newTestEnv(t)
	s := submit(t, env, "alice")
	reviewed, err := env.Engine.Review(env.Ctx, engine.ReviewOptions{
		SubmissionID: s.ID,
		Decision:     domain.StatusApproved,
		ReviewedBy:   "admin",
	})
	if err != nil {
		t.Fatalf("review: %v", err)
	}
	if reviewed.Status != domain.StatusApproved {
		t.Fatalf("status = %s", reviewed.Status)
	}
	// 100 base x 1.2 difficulty x 1.0 quality x 1.1 timeliness = 132
	if reviewed.PointsAwarded == nil || *reviewed.PointsAwarded != 132 {
		t.Fatalf("points = %v, want 132", reviewed.PointsAwarded)
	}
	events, err := env.Engine.Repo.EventsForSubmission(env.Ctx, s.ID)
	if err != nil {
		t.Fatal(err)
	}
	wantOrder := []string{domain.EventTaskSubmitted, domain.EventRewardCalculated, domain.EventReviewSubmitted}
	if len(events) != len(wantOrder) {
		t.Fatalf("got %d events, want %d", len(events), len(wantOrder))
	}
	for i, typ := range wantOrder {
		if events[i].Type != typ {
			t.Fatalf("event %d = %s, want %s", i, events[i].Type, typ)
		}
	}
	u, err := env.Engine.Repo.GetUser(env.Ctx, "alice")
	if err != nil {
		t.Fatal(err)
	}
	if u.Points != 132 {
		t.Fatalf("user points = %d, want 132", u.Points)
	}
}

func TestReviewReject(t *testing.T) {
	env := newTestEnv(t)
	s := submit(t, env, "alice")
	reviewed, err := env.Engine.Review(env.Ctx, engine.ReviewOptions{
		SubmissionID: s.ID,
		Decision:     domain.StatusRejected,
		ReviewedBy:   "admin",
	})
	if err != nil {
		t.Fatalf("review: %v", err)
	}
	if reviewed.Status != domain.StatusRejected {
		t.Fatalf("status = %s", reviewed.Status)
	}
	if reviewed.PointsAwarded == nil || *reviewed.PointsAwarded != 10 {
		t.Fatalf("points = %v, want consolation 10", reviewed.PointsAwarded)
	}
	u, _ := env.Engine.Repo.GetUser(env.Ctx, "alice")
	if u.Points != 10 {
		t.Fatalf("user points = %d, want 10", u.Points)
	}
}

func TestReviewIsTerminal(t *testing.T) {
	env := newTestEnv(t)
	s := submit(t, env, "alice")
	if _, err := env.Engine.Review(env.Ctx, engine.ReviewOptions{
		SubmissionID: s.ID, Decision: domain.StatusApproved, ReviewedBy: "admin",
	}); err != nil {
		t.Fatal(err)
	}
	_, err := env.Engine.Review(env.Ctx, engine.ReviewOptions{
		SubmissionID: s.ID, Decision: domain.StatusRejected, ReviewedBy: "admin",
	})
	if !errors.Is(err, engine.ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
}

func TestReviewQualityBounds(t *testing.T) {
	env := newTestEnv(t)
	s := submit(t, env, "alice")
	for _, q := range []float64{0, -1, 2.5} {
		quality := q
		if _, err := env.Engine.Review(env.Ctx, engine.ReviewOptions{
			SubmissionID: s.ID, Decision: domain.StatusApproved, QualityScore: &quality, ReviewedBy: "admin",
		}); err == nil {
			t.Fatalf("quality %v should be rejected", q)
		}
	}
	quality := 2.0
	reviewed, err := env.Engine.Review(env.Ctx, engine.ReviewOptions{
		SubmissionID: s.ID, Decision: domain.StatusApproved, QualityScore: &quality, ReviewedBy: "admin",
	})
	if err != nil {
		t.Fatalf("review: %v", err)
	}
	// 100 x 1.2 x 2.0 x 1.1 = 264
	if *reviewed.PointsAwarded != 264 {
		t.Fatalf("points = %d, want 264", *reviewed.PointsAwarded)
	}
}

func TestRecalculateRepairsRejectedRows(t *testing.T) {
	env := newTestEnv(t)
	s := submit(t, env, "alice")
	if _, err := env.Engine.Review(env.Ctx, engine.ReviewOptions{
		SubmissionID: s.ID, Decision: domain.StatusRejected, ReviewedBy: "admin",
	}); err != nil {
		t.Fatal(err)
	}
	approved := submit(t, env, "alice")
	if _, err := env.Engine.Review(env.Ctx, engine.ReviewOptions{
		SubmissionID: approved.ID, Decision: domain.StatusApproved, ReviewedBy: "admin",
	}); err != nil {
		t.Fatal(err)
	}
	// corrupt the rejected row behind the engine's back
	if _, err := env.Engine.DB.ExecContext(env.Ctx,
		`UPDATE submissions SET points_awarded=47 WHERE id=?`, s.ID); err != nil {
		t.Fatal(err)
	}
	u, err := env.Engine.RecalculateUserPoints(env.Ctx, "alice")
	if err != nil {
		t.Fatalf("recalculate: %v", err)
	}
	if u.Points != 142 {
		t.Fatalf("points = %d, want 132 + repaired 10", u.Points)
	}
	fixed, _ := env.Engine.Repo.GetSubmission(env.Ctx, s.ID)
	if *fixed.PointsAwarded != 10 {
		t.Fatalf("rejected row points = %d, want repaired 10", *fixed.PointsAwarded)
	}
	// recompute is idempotent
	again, err := env.Engine.RecalculateUserPoints(env.Ctx, "alice")
	if err != nil {
		t.Fatal(err)
	}
	if again.Points != 142 {
		t.Fatalf("second recompute = %d, want 142", again.Points)
	}
}

func TestDeleteSubmissionExcludesPoints(t *testing.T) {
	env := newTestEnv(t)
	s := submit(t, env, "alice")
	if _, err := env.Engine.Review(env.Ctx, engine.ReviewOptions{
		SubmissionID: s.ID, Decision: domain.StatusApproved, ReviewedBy: "admin",
	}); err != nil {
		t.Fatal(err)
	}
	if err := env.Engine.DeleteSubmission(env.Ctx, s.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	u, _ := env.Engine.Repo.GetUser(env.Ctx, "alice")
	if u.Points != 0 {
		t.Fatalf("points after delete = %d, want 0", u.Points)
	}
	// the proof trail survives the row
	events, err := env.Engine.Repo.EventsForSubmission(env.Ctx, s.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 3 {
		t.Fatalf("events after delete = %d, want 3", len(events))
	}
	// receipt still resolves to the event, without a submission
	ev, sub, err := env.Engine.LookupReceipt(env.Ctx, events[0].Hash)
	if err != nil {
		t.Fatal(err)
	}
	if ev.SubmissionID != s.ID || sub != nil {
		t.Fatal("receipt for deleted submission should return event only")
	}
}

func TestVerifyTrailDetectsTampering(t *testing.T) {
	env := newTestEnv(t)
	s := submit(t, env, "alice")
	ok, checks, err := env.Engine.VerifyTrail(env.Ctx, s.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !ok || len(checks) != 1 || !checks[0].Valid {
		t.Fatalf("fresh trail should verify: %+v", checks)
	}
	if _, err := env.Engine.DB.ExecContext(env.Ctx,
		`UPDATE events SET payload_json='{"template_id":"evil"}' WHERE submission_id=?`, s.ID); err != nil {
		t.Fatal(err)
	}
	ok, checks, err = env.Engine.VerifyTrail(env.Ctx, s.ID)
	if err != nil {
		t.Fatal(err)
	}
	if ok || checks[0].Valid {
		t.Fatal("tampered trail must fail verification")
	}
}

func TestPreflight(t *testing.T) {
	env := newTestEnv(t)
	result, err := env.Engine.Preflight(env.Ctx, "tmpl-1", validForm(), validFiles())
	if err != nil {
		t.Fatalf("preflight: %v", err)
	}
	if !result.Valid {
		t.Fatalf("expected valid, got %+v", result.Errors)
	}
	events, _ := env.Engine.Repo.LatestEvents(env.Ctx, 10)
	if len(events) != 1 || events[0].Type != domain.EventValidationPassed {
		t.Fatalf("events = %+v, want VALIDATION_PASSED", events)
	}
	if ledgerOK := ledger.Verify(events[0]); !ledgerOK {
		t.Fatal("preflight event must verify")
	}
}

func TestReceiptPayloadCommitsToContent(t *testing.T) {
	env := newTestEnv(t)
	s, err := env.Engine.CreateSubmission(env.Ctx, engine.SubmissionOptions{
		TemplateID:  "tmpl-1",
		FormData:    validForm(),
		Files:       validFiles(),
		SubmittedBy: "alice",
	})
	if err != nil {
		t.Fatalf("create submission: %v", err)
	}
	events, err := env.Engine.Repo.EventsForSubmission(env.Ctx, s.ID)
	if err != nil {
		t.Fatal(err)
	}
	var payload struct {
		SubmittedBy string         `json:"submitted_by"`
		FormData    map[string]any `json:"form_data"`
		Files       []string       `json:"files"`
	}
	if err := json.Unmarshal([]byte(events[0].PayloadJSON), &payload); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if payload.SubmittedBy != "alice" {
		t.Fatalf("submitted_by = %q", payload.SubmittedBy)
	}
	if payload.FormData["title"] != "Save button broken" {
		t.Fatalf("payload form data = %v", payload.FormData)
	}
	if len(payload.Files) != 1 || payload.Files[0] != "shot.png" {
		t.Fatalf("payload files = %v", payload.Files)
	}

	// identical content except for one field yields a different receipt
	form := validForm()
	form["title"] = "Save button broken twice"
	s2, err := env.Engine.CreateSubmission(env.Ctx, engine.SubmissionOptions{
		TemplateID:  "tmpl-1",
		FormData:    form,
		Files:       validFiles(),
		SubmittedBy: "alice",
	})
	if err != nil {
		t.Fatal(err)
	}
	if *s.ReceiptHash == *s2.ReceiptHash {
		t.Fatal("receipts for different form data must differ")
	}
}

func TestReceiptLookupIgnoresOtherEventHashes(t *testing.T) {
	env := newTestEnv(t)
	s, err := env.Engine.CreateSubmission(env.Ctx, engine.SubmissionOptions{
		TemplateID:  "tmpl-1",
		FormData:    validForm(),
		Files:       validFiles(),
		SubmittedBy: "alice",
	})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.Review(env.Ctx, engine.ReviewOptions{
		SubmissionID: s.ID, Decision: domain.StatusApproved, ReviewedBy: "admin",
	}); err != nil {
		t.Fatal(err)
	}
	events, err := env.Engine.Repo.EventsForSubmission(env.Ctx, s.ID)
	if err != nil {
		t.Fatal(err)
	}
	for _, ev := range events {
		if ev.Type == domain.EventTaskSubmitted {
			continue
		}
		if _, _, err := env.Engine.LookupReceipt(env.Ctx, ev.Hash); !errors.Is(err, repo.ErrNotFound) {
			t.Fatalf("%s hash resolved as a receipt: %v", ev.Type, err)
		}
	}
	if _, _, err := env.Engine.LookupReceipt(env.Ctx, *s.ReceiptHash); err != nil {
		t.Fatalf("real receipt must still resolve: %v", err)
	}
}
