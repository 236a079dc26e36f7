package schema

import (
	"fmt"
	"strings"
)

// FieldKind is the closed set of form field types a template can produce.
type FieldKind string

const (
	KindText      FieldKind = "text"
	KindNumber    FieldKind = "number"
	KindTextarea  FieldKind = "textarea"
	KindSelect    FieldKind = "select"
	KindCheckbox  FieldKind = "checkbox"
	KindChecklist FieldKind = "checklist"
	KindFile      FieldKind = "file"
	KindDate      FieldKind = "date"
	KindTextArray FieldKind = "text-array"
)

// FormField is the derived description of one rendered input. It is a pure
// projection of the schema and is never persisted.
type FormField struct {
	Name        string    `json:"name"`
	Label       string    `json:"label"`
	Kind        FieldKind `json:"type"`
	Required    bool      `json:"required"`
	Options     []string  `json:"options,omitempty"`
	Placeholder string    `json:"placeholder,omitempty"`
	Description string    `json:"description,omitempty"`
}

// Fields projects the schema's properties, in declared order, onto form
// fields. Properties with no matching type rule are dropped without error.
func (s *TemplateSchema) Fields() []FormField {
	fields := make([]FormField, 0, len(s.Properties))
	for _, p := range s.Properties {
		kind, options, ok := fieldKind(p)
		if !ok {
			continue
		}
		f := FormField{
			Name:        p.Name,
			Label:       fieldLabel(p),
			Kind:        kind,
			Required:    s.IsRequired(p.Name),
			Options:     options,
			Description: p.Description,
			Placeholder: fieldPlaceholder(p),
		}
		fields = append(fields, f)
	}
	return fields
}

func fieldKind(p Property) (FieldKind, []string, bool) {
	switch p.Type {
	case "string":
		switch {
		case p.Format == "file":
			return KindFile, nil, true
		case p.Format == "date":
			return KindDate, nil, true
		case len(p.Enum) > 0:
			return KindSelect, p.Enum, true
		case p.Format == "textarea" || nameSuggestsLongText(p.Name):
			return KindTextarea, nil, true
		default:
			return KindText, nil, true
		}
	case "number", "integer":
		return KindNumber, nil, true
	case "boolean":
		return KindCheckbox, nil, true
	case "array":
		if p.Items == nil || p.Items.Type != "string" {
			return "", nil, false
		}
		if len(p.Items.Enum) > 0 {
			return KindChecklist, p.Items.Enum, true
		}
		return KindTextArray, nil, true
	}
	return "", nil, false
}

func nameSuggestsLongText(name string) bool {
	lower := strings.ToLower(name)
	return strings.Contains(lower, "description") || strings.Contains(lower, "steps")
}

func fieldLabel(p Property) string {
	if p.Title != "" {
		return p.Title
	}
	return capitalize(p.Name)
}

func fieldPlaceholder(p Property) string {
	if len(p.Examples) > 0 {
		return stringify(p.Examples[0])
	}
	if p.Default != nil {
		return stringify(p.Default)
	}
	return ""
}

func stringify(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}
