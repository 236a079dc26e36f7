package validate

import (
	"fmt"
	"strings"

	"workchain/internal/config"
	"workchain/internal/domain"
	"workchain/internal/schema"
)

// Error type constants, persisted inside validation_json.
const (
	ErrRequired         = "required"
	ErrFileType         = "file_type"
	ErrFileSize         = "file_size"
	ErrMinWords         = "min_words"
	ErrMaxWords         = "max_words"
	ErrForbiddenContent = "forbidden_content"
)

type Error struct {
	Field   string `json:"field"`
	Type    string `json:"type"`
	Message string `json:"message"`
	Value   string `json:"value,omitempty"`
}

type Result struct {
	Valid    bool     `json:"valid"`
	Errors   []Error  `json:"errors"`
	Warnings []string `json:"warnings"`
}

// Validator checks form data and attached files against a template schema.
// Schema-level rules override the config defaults per field.
type Validator struct {
	Config *config.Config
}

func New(cfg *config.Config) *Validator {
	if cfg == nil {
		cfg = config.Default()
	}
	return &Validator{Config: cfg}
}

// Validate runs every field rule and collects all errors rather than
// stopping at the first. A missing required value short-circuits the
// remaining rules for that field only.
func (v *Validator) Validate(sch *schema.TemplateSchema, form map[string]any, files map[string]domain.SubmissionFile) Result {
	res := Result{Errors: []Error{}, Warnings: []string{}}
	for _, p := range sch.Properties {
		if isFileProperty(p) {
			v.validateFile(sch, p, files, &res)
			continue
		}
		v.validateValue(sch, p, form[p.Name], &res)
	}
	res.Valid = len(res.Errors) == 0
	return res
}

func isFileProperty(p schema.Property) bool {
	return p.Type == "string" && p.Format == "file"
}

func (v *Validator) validateFile(sch *schema.TemplateSchema, p schema.Property, files map[string]domain.SubmissionFile, res *Result) {
	f, ok := files[p.Name]
	if !ok || f.Name == "" {
		if sch.IsRequired(p.Name) {
			res.Errors = append(res.Errors, Error{
				Field:   p.Name,
				Type:    ErrRequired,
				Message: fmt.Sprintf("%s is required", p.Name),
			})
		}
		return
	}
	allowed := p.AllowedTypes
	if len(allowed) == 0 {
		allowed = v.Config.Validation.AllowedFileTypes
	}
	if !typeAllowed(f.Type, allowed) {
		res.Errors = append(res.Errors, Error{
			Field:   p.Name,
			Type:    ErrFileType,
			Message: fmt.Sprintf("file type %s is not allowed (allowed: %s)", f.Type, strings.Join(allowed, ", ")),
			Value:   f.Type,
		})
	}
	maxSize := p.MaxSizeBytes
	if maxSize <= 0 {
		maxSize = v.Config.Validation.MaxFileSizeBytes
	}
	if f.Size > maxSize {
		res.Errors = append(res.Errors, Error{
			Field:   p.Name,
			Type:    ErrFileSize,
			Message: fmt.Sprintf("file %s exceeds the maximum size of %d bytes", f.Name, maxSize),
			Value:   fmt.Sprintf("%d", f.Size),
		})
	}
}

func (v *Validator) validateValue(sch *schema.TemplateSchema, p schema.Property, value any, res *Result) {
	if isEmpty(value) {
		if sch.IsRequired(p.Name) {
			res.Errors = append(res.Errors, Error{
				Field:   p.Name,
				Type:    ErrRequired,
				Message: fmt.Sprintf("%s is required", p.Name),
			})
		}
		return
	}
	text, isText := value.(string)
	if !isText {
		return
	}
	words := countWords(text)
	if p.MinWords > 0 && words < p.MinWords {
		res.Errors = append(res.Errors, Error{
			Field:   p.Name,
			Type:    ErrMinWords,
			Message: fmt.Sprintf("%s must contain at least %d words (got %d)", p.Name, p.MinWords, words),
			Value:   fmt.Sprintf("%d", words),
		})
	}
	if p.MaxWords > 0 && words > p.MaxWords {
		res.Errors = append(res.Errors, Error{
			Field:   p.Name,
			Type:    ErrMaxWords,
			Message: fmt.Sprintf("%s must contain at most %d words (got %d)", p.Name, p.MaxWords, words),
			Value:   fmt.Sprintf("%d", words),
		})
	}
	if matched := v.findForbidden(text); len(matched) > 0 {
		quoted := make([]string, len(matched))
		for i, phrase := range matched {
			quoted[i] = fmt.Sprintf("%q", phrase)
		}
		res.Errors = append(res.Errors, Error{
			Field:   p.Name,
			Type:    ErrForbiddenContent,
			Message: fmt.Sprintf("%s contains forbidden content: %s", p.Name, strings.Join(quoted, ", ")),
			Value:   strings.Join(matched, ", "),
		})
	}
	if nameSuggestsDescription(p.Name) && words < v.Config.Validation.DescriptionWarningWords {
		res.Warnings = append(res.Warnings, fmt.Sprintf("%s is quite short (%d words); consider adding more detail", p.Name, words))
	}
}

// findForbidden returns every deny-list phrase present in the text, in
// list order. One field gets one forbidden_content error naming all of them.
func (v *Validator) findForbidden(text string) []string {
	lower := strings.ToLower(text)
	var matched []string
	for _, phrase := range v.Config.Validation.ForbiddenPhrases {
		if strings.Contains(lower, strings.ToLower(phrase)) {
			matched = append(matched, phrase)
		}
	}
	return matched
}

// typeAllowed matches a MIME type against the allow list. Entries ending in
// "/*" match the whole major type, everything else matches exactly.
func typeAllowed(mime string, allowed []string) bool {
	for _, a := range allowed {
		if cat, ok := strings.CutSuffix(a, "/*"); ok {
			if strings.HasPrefix(mime, cat+"/") {
				return true
			}
			continue
		}
		if mime == a {
			return true
		}
	}
	return false
}

func countWords(text string) int {
	return len(strings.Fields(text))
}

func nameSuggestsDescription(name string) bool {
	return strings.Contains(strings.ToLower(name), "description")
}

func isEmpty(value any) bool {
	switch v := value.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(v) == ""
	case []any:
		return len(v) == 0
	case []string:
		return len(v) == 0
	}
	return false
}
