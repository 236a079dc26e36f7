package validate

import (
	"strings"
	"testing"

	"workchain/internal/config"
	"workchain/internal/domain"
	"workchain/internal/schema"
)

const reportSchema = `{
  "type": "object",
  "properties": {
    "title": {"type": "string"},
    "description": {"type": "string", "format": "textarea", "minWords": 5, "maxWords": 50},
    "screenshot": {"type": "string", "format": "file"},
    "contract": {"type": "string", "format": "file", "allowedTypes": ["application/pdf"], "maxSizeBytes": 5242880},
    "tags": {"type": "array", "items": {"type": "string"}}
  },
  "required": ["title", "description", "screenshot"]
}`

func newTestValidator(t *testing.T) (*Validator, *schema.TemplateSchema) {
	t.Helper()
	sch, err := schema.Parse([]byte(reportSchema))
	if err != nil {
		t.Fatalf("parse schema: %v", err)
	}
	return New(config.Default()), sch
}

func words(n int) string {
	return strings.TrimSpace(strings.Repeat("word ", n))
}

func errorTypes(res Result) map[string]string {
	out := map[string]string{}
	for _, e := range res.Errors {
		out[e.Field] = e.Type
	}
	return out
}

func validForm() map[string]any {
	return map[string]any{
		"title":       "Save button broken",
		"description": "The save button does nothing when clicked",
	}
}

func validFiles() map[string]domain.SubmissionFile {
	return map[string]domain.SubmissionFile{
		"screenshot": {Name: "shot.png", Size: 1024, Type: "image/png"},
	}
}

func TestValidateAccepts(t *testing.T) {
	v, sch := newTestValidator(t)
	res := v.Validate(sch, validForm(), validFiles())
	if !res.Valid {
		t.Fatalf("expected valid, got errors %+v", res.Errors)
	}
}

func TestRequiredFields(t *testing.T) {
	v, sch := newTestValidator(t)
	res := v.Validate(sch, map[string]any{"description": words(6)}, nil)
	types := errorTypes(res)
	if types["title"] != ErrRequired {
		t.Fatalf("title error = %q", types["title"])
	}
	if types["screenshot"] != ErrRequired {
		t.Fatalf("screenshot error = %q", types["screenshot"])
	}
	// an empty required field reports only the required error
	form := validForm()
	form["description"] = "   "
	res = v.Validate(sch, form, validFiles())
	if len(res.Errors) != 1 || res.Errors[0].Type != ErrRequired {
		t.Fatalf("expected single required error, got %+v", res.Errors)
	}
}

func TestWordBounds(t *testing.T) {
	v, sch := newTestValidator(t)
	cases := []struct {
		n     int
		valid bool
		typ   string
	}{
		{4, false, ErrMinWords},
		{5, true, ""},
		{50, true, ""},
		{51, false, ErrMaxWords},
	}
	for _, tc := range cases {
		form := validForm()
		form["description"] = words(tc.n)
		res := v.Validate(sch, form, validFiles())
		if res.Valid != tc.valid {
			t.Fatalf("%d words: valid=%v, want %v (%+v)", tc.n, res.Valid, tc.valid, res.Errors)
		}
		if !tc.valid && errorTypes(res)["description"] != tc.typ {
			t.Fatalf("%d words: error type %q, want %q", tc.n, errorTypes(res)["description"], tc.typ)
		}
	}
}

func TestForbiddenContent(t *testing.T) {
	v, sch := newTestValidator(t)
	form := validForm()
	form["description"] = "Please click here to claim your prize total spam offer"
	res := v.Validate(sch, form, validFiles())
	if res.Valid {
		t.Fatal("expected forbidden content error")
	}
	types := errorTypes(res)
	if types["description"] != ErrForbiddenContent {
		t.Fatalf("error type = %q", types["description"])
	}
	// matching is case-insensitive
	form["description"] = "This update contains absolutely no MALWARE I promise you that"
	res = v.Validate(sch, form, validFiles())
	if errorTypes(res)["description"] != ErrForbiddenContent {
		t.Fatal("expected case-insensitive match")
	}
}

func TestForbiddenContentListsEveryMatch(t *testing.T) {
	v, sch := newTestValidator(t)
	form := validForm()
	form["description"] = "This spam build ships malware behind a phishing form"
	res := v.Validate(sch, form, validFiles())
	var found []Error
	for _, e := range res.Errors {
		if e.Field == "description" && e.Type == ErrForbiddenContent {
			found = append(found, e)
		}
	}
	if len(found) != 1 {
		t.Fatalf("want one forbidden_content error for the field, got %+v", res.Errors)
	}
	for _, phrase := range []string{"spam", "malware", "phishing"} {
		if !strings.Contains(found[0].Value, phrase) {
			t.Fatalf("value %q does not list %q", found[0].Value, phrase)
		}
		if !strings.Contains(found[0].Message, phrase) {
			t.Fatalf("message %q does not list %q", found[0].Message, phrase)
		}
	}
}

func TestFileTypeRules(t *testing.T) {
	v, sch := newTestValidator(t)
	// image/* wildcard covers any image subtype
	files := validFiles()
	files["screenshot"] = domain.SubmissionFile{Name: "s.webp", Size: 100, Type: "image/webp"}
	if res := v.Validate(sch, validForm(), files); !res.Valid {
		t.Fatalf("image/webp should pass the image/* wildcard: %+v", res.Errors)
	}
	// executable rejected by default list
	files["screenshot"] = domain.SubmissionFile{Name: "s.exe", Size: 100, Type: "application/x-msdownload"}
	res := v.Validate(sch, validForm(), files)
	if errorTypes(res)["screenshot"] != ErrFileType {
		t.Fatalf("expected file_type error, got %+v", res.Errors)
	}
	// schema-level allowedTypes override: pdf only
	files = validFiles()
	files["contract"] = domain.SubmissionFile{Name: "c.png", Size: 100, Type: "image/png"}
	res = v.Validate(sch, validForm(), files)
	if errorTypes(res)["contract"] != ErrFileType {
		t.Fatalf("expected pdf-only override to reject png, got %+v", res.Errors)
	}
	files["contract"] = domain.SubmissionFile{Name: "c.pdf", Size: 100, Type: "application/pdf"}
	if res := v.Validate(sch, validForm(), files); !res.Valid {
		t.Fatalf("pdf should pass the override: %+v", res.Errors)
	}
}

func TestFileSizeRules(t *testing.T) {
	v, sch := newTestValidator(t)
	files := validFiles()
	files["screenshot"] = domain.SubmissionFile{Name: "big.png", Size: 10*1024*1024 + 1, Type: "image/png"}
	res := v.Validate(sch, validForm(), files)
	if errorTypes(res)["screenshot"] != ErrFileSize {
		t.Fatalf("expected default 10MiB cap, got %+v", res.Errors)
	}
	// schema-level cap of 5MiB
	files = validFiles()
	files["contract"] = domain.SubmissionFile{Name: "c.pdf", Size: 6 * 1024 * 1024, Type: "application/pdf"}
	res = v.Validate(sch, validForm(), files)
	if errorTypes(res)["contract"] != ErrFileSize {
		t.Fatalf("expected 5MiB override, got %+v", res.Errors)
	}
}

func TestShortDescriptionWarning(t *testing.T) {
	v, sch := newTestValidator(t)
	form := validForm()
	form["description"] = words(7) // passes minWords 5 but below the warning threshold
	res := v.Validate(sch, form, validFiles())
	if !res.Valid {
		t.Fatalf("expected valid result, got %+v", res.Errors)
	}
	if len(res.Warnings) != 1 {
		t.Fatalf("expected one warning, got %v", res.Warnings)
	}
	form["description"] = words(12)
	res = v.Validate(sch, form, validFiles())
	if len(res.Warnings) != 0 {
		t.Fatalf("expected no warnings, got %v", res.Warnings)
	}
}

func TestArraysAndNonStrings(t *testing.T) {
	v, sch := newTestValidator(t)
	form := validForm()
	form["tags"] = []any{}
	// optional empty array is fine, content rules only apply to strings
	if res := v.Validate(sch, form, validFiles()); !res.Valid {
		t.Fatalf("unexpected errors: %+v", res.Errors)
	}
}
