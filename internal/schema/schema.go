package schema

import (
	"bytes"
	"encoding/json"
	"fmt"
	"unicode"
	"unicode/utf8"
)

// TemplateSchema is the typed form of a template's JSON schema. Properties
// keep their declared order, which is the rendered form order.
type TemplateSchema struct {
	Type       string
	Difficulty float64
	Required   []string
	Properties []Property
}

type Property struct {
	Name         string
	Type         string
	Title        string
	Description  string
	Format       string
	Enum         []string
	Items        *Items
	MinWords     int
	MaxWords     int
	AllowedTypes []string
	MaxSizeBytes int64
	Examples     []any
	Default      any
}

type Items struct {
	Type string   `json:"type"`
	Enum []string `json:"enum"`
}

type rawSchema struct {
	Type       string          `json:"type"`
	Difficulty float64         `json:"difficulty"`
	Properties json.RawMessage `json:"properties"`
	Required   []string        `json:"required"`
}

type rawProperty struct {
	Type         string   `json:"type"`
	Title        string   `json:"title"`
	Description  string   `json:"description"`
	Format       string   `json:"format"`
	Enum         []string `json:"enum"`
	Items        *Items   `json:"items"`
	MinWords     int      `json:"minWords"`
	MaxWords     int      `json:"maxWords"`
	AllowedTypes []string `json:"allowedTypes"`
	MaxSizeBytes int64    `json:"maxSizeBytes"`
	Examples     []any    `json:"examples"`
	Default      any      `json:"default"`
}

// Parse decodes a raw JSON schema into a TemplateSchema. The properties
// object is walked token by token because encoding/json maps do not keep key
// order and form rendering depends on it.
func Parse(data []byte) (*TemplateSchema, error) {
	var raw rawSchema
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse schema: %w", err)
	}
	s := &TemplateSchema{
		Type:       raw.Type,
		Difficulty: raw.Difficulty,
		Required:   raw.Required,
	}
	if len(raw.Properties) == 0 {
		return s, nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw.Properties))
	tok, err := dec.Token()
	if err != nil {
		return nil, fmt.Errorf("parse schema properties: %w", err)
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return nil, fmt.Errorf("schema properties must be an object")
	}
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return nil, fmt.Errorf("parse schema properties: %w", err)
		}
		name, ok := keyTok.(string)
		if !ok {
			return nil, fmt.Errorf("schema property key is not a string")
		}
		var rp rawProperty
		if err := dec.Decode(&rp); err != nil {
			return nil, fmt.Errorf("parse schema property %s: %w", name, err)
		}
		s.Properties = append(s.Properties, Property{
			Name:         name,
			Type:         rp.Type,
			Title:        rp.Title,
			Description:  rp.Description,
			Format:       rp.Format,
			Enum:         rp.Enum,
			Items:        rp.Items,
			MinWords:     rp.MinWords,
			MaxWords:     rp.MaxWords,
			AllowedTypes: rp.AllowedTypes,
			MaxSizeBytes: rp.MaxSizeBytes,
			Examples:     rp.Examples,
			Default:      rp.Default,
		})
	}
	return s, nil
}

// IsRequired reports whether the field name is in the schema's required set.
func (s *TemplateSchema) IsRequired(name string) bool {
	for _, r := range s.Required {
		if r == name {
			return true
		}
	}
	return false
}

// DifficultyMultiplier returns the declared difficulty, or 1.0 when the
// schema does not carry one.
func (s *TemplateSchema) DifficultyMultiplier() float64 {
	if s.Difficulty <= 0 {
		return 1.0
	}
	return s.Difficulty
}

func capitalize(in string) string {
	if in == "" {
		return in
	}
	r, size := utf8.DecodeRuneInString(in)
	return string(unicode.ToUpper(r)) + in[size:]
}
