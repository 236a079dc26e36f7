package engine

import (
	"context"
	"fmt"
	"time"

	"workchain/internal/domain"
)

const bugReportSchema = `{
  "type": "object",
  "difficulty": 1.2,
  "properties": {
    "title": {"type": "string", "title": "Bug Title"},
    "description": {"type": "string", "title": "Description", "format": "textarea", "minWords": 5, "maxWords": 200},
    "severity": {"type": "string", "title": "Severity", "enum": ["low", "medium", "high", "critical"]},
    "steps": {"type": "string", "title": "Steps to Reproduce", "format": "textarea"},
    "screenshot": {
      "type": "string",
      "format": "file",
      "title": "Screenshot/Recording",
      "description": "Upload a screenshot or a short video of the bug (max 10MB)."
    }
  },
  "required": ["title", "description", "severity", "screenshot"]
}`

const featureRequestSchema = `{
  "type": "object",
  "difficulty": 1.5,
  "properties": {
    "title": {"type": "string", "title": "Feature Title"},
    "description": {"type": "string", "title": "Feature Description", "format": "textarea"},
    "priority": {"type": "string", "title": "Priority", "enum": ["low", "medium", "high"]},
    "requirements": {"type": "array", "title": "Requirements", "items": {"type": "string"}},
    "attachment": {
      "type": "string",
      "format": "file",
      "title": "Supporting Attachment",
      "description": "Optional: Upload mockups, documents, or other relevant files (max 10MB)."
    }
  },
  "required": ["title", "description", "priority"]
}`

const onboardingChecklistSchema = `{
  "type": "object",
  "difficulty": 1.8,
  "properties": {
    "employeeName": {"type": "string", "title": "New Employee Name"},
    "startDate": {"type": "string", "title": "Start Date", "format": "date"},
    "department": {"type": "string", "title": "Department", "enum": ["Engineering", "Marketing", "Sales", "Human Resources"]},
    "equipment": {
      "type": "array",
      "title": "Equipment Needed",
      "items": {"type": "string", "enum": ["Laptop", "Monitor", "Keyboard", "Mouse", "Headset"]}
    },
    "accessRequired": {"type": "array", "title": "System Access Required", "items": {"type": "string"}},
    "sendWelcomeEmail": {"type": "boolean", "title": "Send Welcome Email"},
    "signedContract": {
      "type": "string",
      "format": "file",
      "title": "Signed Contract/Offer Letter",
      "description": "Upload the signed employment contract or offer letter (PDF only, max 5MB).",
      "allowedTypes": ["application/pdf"],
      "maxSizeBytes": 5242880
    },
    "notes": {"type": "string", "title": "Additional Notes", "format": "textarea"}
  },
  "required": ["employeeName", "startDate", "department"]
}`

// Seed creates the reference templates and demo users in an empty workspace.
func (e *Engine) Seed(ctx context.Context) error {
	deadline := e.now().UTC().Add(10 * 24 * time.Hour).Format(time.RFC3339)
	templates := []TemplateOptions{
		{ID: "tmpl-bug-report", Name: "Bug Report Template", SchemaJSON: bugReportSchema, Deadline: &deadline},
		{ID: "tmpl-feature-request", Name: "Feature Request Template", SchemaJSON: featureRequestSchema, Deadline: &deadline},
		{ID: "tmpl-onboarding", Name: "Onboarding Checklist Template", SchemaJSON: onboardingChecklistSchema},
	}
	for _, opts := range templates {
		if _, err := e.CreateTemplate(ctx, opts); err != nil {
			return fmt.Errorf("seed template %s: %w", opts.Name, err)
		}
	}
	now := e.nowString()
	users := []domain.User{
		{ID: "alice", Name: "Alice", Email: "alice@example.com", Role: "user", CreatedAt: now},
		{ID: "bob", Name: "Bob", Email: "bob@example.com", Role: "user", CreatedAt: now},
		{ID: "admin", Name: "Admin", Email: "admin@workchain.local", Role: "admin", CreatedAt: now},
	}
	for _, u := range users {
		if err := e.Repo.InsertUser(ctx, u); err != nil {
			return fmt.Errorf("seed user %s: %w", u.ID, err)
		}
	}
	return nil
}
