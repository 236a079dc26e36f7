package schema

import (
	"testing"
)

const bugSchema = `{
  "type": "object",
  "difficulty": 1.2,
  "properties": {
    "title": {"type": "string", "title": "Bug Title"},
    "description": {"type": "string", "format": "textarea"},
    "severity": {"type": "string", "enum": ["low", "high"]},
    "screenshot": {"type": "string", "format": "file"},
    "startDate": {"type": "string", "format": "date"},
    "count": {"type": "integer"},
    "notify": {"type": "boolean"},
    "equipment": {"type": "array", "items": {"type": "string", "enum": ["Laptop", "Monitor"]}},
    "tags": {"type": "array", "items": {"type": "string"}},
    "nested": {"type": "object"},
    "numbers": {"type": "array", "items": {"type": "number"}}
  },
  "required": ["title", "severity"]
}`

func TestParseKeepsPropertyOrder(t *testing.T) {
	s, err := Parse([]byte(bugSchema))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	want := []string{"title", "description", "severity", "screenshot", "startDate", "count", "notify", "equipment", "tags", "nested", "numbers"}
	if len(s.Properties) != len(want) {
		t.Fatalf("got %d properties, want %d", len(s.Properties), len(want))
	}
	for i, name := range want {
		if s.Properties[i].Name != name {
			t.Fatalf("property %d = %s, want %s", i, s.Properties[i].Name, name)
		}
	}
	if s.Difficulty != 1.2 {
		t.Fatalf("difficulty = %v", s.Difficulty)
	}
}

func TestFieldsMapping(t *testing.T) {
	s, err := Parse([]byte(bugSchema))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	fields := s.Fields()
	got := map[string]FieldKind{}
	for _, f := range fields {
		got[f.Name] = f.Kind
	}
	want := map[string]FieldKind{
		"title":       KindText,
		"description": KindTextarea,
		"severity":    KindSelect,
		"screenshot":  KindFile,
		"startDate":   KindDate,
		"count":       KindNumber,
		"notify":      KindCheckbox,
		"equipment":   KindChecklist,
		"tags":        KindTextArray,
	}
	if len(fields) != len(want) {
		t.Fatalf("got %d fields, want %d (unsupported properties must be dropped)", len(fields), len(want))
	}
	for name, kind := range want {
		if got[name] != kind {
			t.Fatalf("field %s = %s, want %s", name, got[name], kind)
		}
	}
	// object and number-array properties have no rule and disappear
	if _, ok := got["nested"]; ok {
		t.Fatal("nested object should be dropped")
	}
	if _, ok := got["numbers"]; ok {
		t.Fatal("number array should be dropped")
	}
}

func TestFieldLabelAndRequired(t *testing.T) {
	s, err := Parse([]byte(bugSchema))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	fields := s.Fields()
	byName := map[string]FormField{}
	for _, f := range fields {
		byName[f.Name] = f
	}
	if byName["title"].Label != "Bug Title" {
		t.Fatalf("title label = %q", byName["title"].Label)
	}
	// no title in schema: name with first letter upper-cased
	if byName["description"].Label != "Description" {
		t.Fatalf("description label = %q", byName["description"].Label)
	}
	if !byName["title"].Required || !byName["severity"].Required {
		t.Fatal("title and severity must be required")
	}
	if byName["description"].Required {
		t.Fatal("description must not be required")
	}
	if len(byName["severity"].Options) != 2 || byName["severity"].Options[0] != "low" {
		t.Fatalf("severity options = %v", byName["severity"].Options)
	}
}

func TestTextareaByName(t *testing.T) {
	raw := `{
	  "type": "object",
	  "properties": {
	    "shortDescription": {"type": "string"},
	    "reproSteps": {"type": "string"},
	    "summary": {"type": "string"}
	  }
	}`
	s, err := Parse([]byte(raw))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	fields := s.Fields()
	kinds := map[string]FieldKind{}
	for _, f := range fields {
		kinds[f.Name] = f.Kind
	}
	if kinds["shortDescription"] != KindTextarea {
		t.Fatalf("shortDescription = %s, want textarea", kinds["shortDescription"])
	}
	if kinds["reproSteps"] != KindTextarea {
		t.Fatalf("reproSteps = %s, want textarea", kinds["reproSteps"])
	}
	if kinds["summary"] != KindText {
		t.Fatalf("summary = %s, want text", kinds["summary"])
	}
}

func TestFieldPlaceholder(t *testing.T) {
	raw := `{
	  "type": "object",
	  "properties": {
	    "env": {"type": "string", "examples": ["production"], "default": "staging"},
	    "region": {"type": "string", "default": "eu-west-1"}
	  }
	}`
	s, err := Parse([]byte(raw))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	fields := s.Fields()
	if fields[0].Placeholder != "production" {
		t.Fatalf("env placeholder = %q, examples win over default", fields[0].Placeholder)
	}
	if fields[1].Placeholder != "eu-west-1" {
		t.Fatalf("region placeholder = %q", fields[1].Placeholder)
	}
}

func TestDifficultyMultiplierDefault(t *testing.T) {
	s, err := Parse([]byte(`{"type": "object", "properties": {}}`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if s.DifficultyMultiplier() != 1.0 {
		t.Fatalf("multiplier = %v, want 1.0", s.DifficultyMultiplier())
	}
}
