package tool_test

import (
	"reflect"
	"strings"
	"testing"

	"github.com/atriumhq/atrium/pkg/tool"
)

func searchSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"query": map[string]any{
				"type":        "string",
				"description": "Search query",
			},
			"mode": map[string]any{
				"type": "string",
				"enum": []any{"web", "news", "images"},
			},
			"limit":  map[string]any{"type": "integer"},
			"strict": map[string]any{"type": "boolean"},
			"tags": map[string]any{
				"type":  "array",
				"items": map[string]any{"type": "string"},
			},
			"filter": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"site": map[string]any{"type": "string"},
				},
				"required": []any{"site"},
			},
			"extra": map[string]any{"type": "mystery"},
		},
		"required": []any{"query", "mode"},
	}
}

func TestParseSchemaObject(t *testing.T) {
	spec := tool.ParseSchema(searchSchema())

	if spec.Kind != tool.KindRecord {
		t.Fatalf("root kind = %v, want record", spec.Kind)
	}

	wantKinds := map[string]tool.Kind{
		"query":  tool.KindString,
		"mode":   tool.KindEnum,
		"limit":  tool.KindNumber,
		"strict": tool.KindBool,
		"tags":   tool.KindList,
		"filter": tool.KindRecord,
		"extra":  tool.KindValue,
	}
	for name, want := range wantKinds {
		field, ok := spec.Fields[name]
		if !ok {
			t.Fatalf("field %q missing", name)
		}
		if field.Kind != want {
			t.Errorf("field %q kind = %v, want %v", name, field.Kind, want)
		}
	}

	if got := spec.Fields["query"].Description; got != "Search query" {
		t.Errorf("query description = %q", got)
	}
	if got := spec.Fields["mode"].Enum; !reflect.DeepEqual(got, []string{"web", "news", "images"}) {
		t.Errorf("mode enum = %v", got)
	}
	if items := spec.Fields["tags"].Items; items == nil || items.Kind != tool.KindString {
		t.Errorf("tags items = %+v, want string items", items)
	}
}

func TestParseSchemaRequiredRoundTrip(t *testing.T) {
	spec := tool.ParseSchema(searchSchema())

	if got := spec.RequiredKeys(); !reflect.DeepEqual(got, []string{"mode", "query"}) {
		t.Errorf("RequiredKeys = %v, want [mode query]", got)
	}
	if got := spec.Fields["filter"].RequiredKeys(); !reflect.DeepEqual(got, []string{"site"}) {
		t.Errorf("nested RequiredKeys = %v, want [site]", got)
	}
	if got := spec.Fields["query"].RequiredKeys(); got != nil {
		t.Errorf("scalar RequiredKeys = %v, want nil", got)
	}
}

func TestParseSchemaFreeFormObject(t *testing.T) {
	spec := tool.ParseSchema(map[string]any{"type": "object"})

	if spec.Kind != tool.KindRecord {
		t.Fatalf("kind = %v, want record", spec.Kind)
	}
	if spec.Fields != nil {
		t.Fatalf("fields = %v, want nil", spec.Fields)
	}
	if err := spec.ValidateArgs(map[string]any{"anything": 42, "goes": true}); err != nil {
		t.Errorf("free-form object rejected args: %v", err)
	}
}

func TestParseSchemaEmpty(t *testing.T) {
	for _, schema := range []map[string]any{nil, {}} {
		spec := tool.ParseSchema(schema)
		if spec.Kind != tool.KindValue {
			t.Errorf("ParseSchema(%v).Kind = %v, want value", schema, spec.Kind)
		}
	}
}

func TestParseSchemaArrayWithoutItems(t *testing.T) {
	spec := tool.ParseSchema(map[string]any{"type": "array"})

	if spec.Kind != tool.KindList || spec.Items != nil {
		t.Fatalf("spec = %+v, want bare list", spec)
	}
	root := tool.ParseSchema(map[string]any{
		"type":       "object",
		"properties": map[string]any{"vals": map[string]any{"type": "array"}},
	})
	if err := root.ValidateArgs(map[string]any{"vals": []any{"a", 1, true}}); err != nil {
		t.Errorf("opaque list rejected mixed elements: %v", err)
	}
}

func TestValidateArgs(t *testing.T) {
	spec := tool.ParseSchema(searchSchema())

	tests := []struct {
		name    string
		args    map[string]any
		wantErr string
	}{
		{
			name: "valid",
			args: map[string]any{
				"query":  "golang",
				"mode":   "web",
				"limit":  float64(10),
				"strict": true,
				"tags":   []any{"a", "b"},
				"filter": map[string]any{"site": "example.com"},
			},
		},
		{
			name:    "missing_required",
			args:    map[string]any{"query": "golang"},
			wantErr: `"mode"`,
		},
		{
			name:    "wrong_string_kind",
			args:    map[string]any{"query": 42, "mode": "web"},
			wantErr: `"query" must be a string`,
		},
		{
			name:    "unknown_enum_value",
			args:    map[string]any{"query": "golang", "mode": "maps"},
			wantErr: `"mode" must be one of`,
		},
		{
			name:    "wrong_number_kind",
			args:    map[string]any{"query": "golang", "mode": "web", "limit": "ten"},
			wantErr: `"limit" must be a number`,
		},
		{
			name: "int_accepted_as_number",
			args: map[string]any{"query": "golang", "mode": "web", "limit": 10},
		},
		{
			name:    "wrong_bool_kind",
			args:    map[string]any{"query": "golang", "mode": "web", "strict": "yes"},
			wantErr: `"strict" must be a boolean`,
		},
		{
			name:    "list_element_kind",
			args:    map[string]any{"query": "golang", "mode": "web", "tags": []any{"ok", 3}},
			wantErr: `"tags[1]" must be a string`,
		},
		{
			name:    "nested_record_path",
			args:    map[string]any{"query": "golang", "mode": "web", "filter": map[string]any{"site": 1}},
			wantErr: `"filter.site" must be a string`,
		},
		{
			name:    "nested_missing_required",
			args:    map[string]any{"query": "golang", "mode": "web", "filter": map[string]any{}},
			wantErr: `"filter.site"`,
		},
		{
			name: "undeclared_keys_pass",
			args: map[string]any{"query": "golang", "mode": "web", "bonus": "ignored"},
		},
		{
			name: "opaque_field_accepts_anything",
			args: map[string]any{"query": "golang", "mode": "web", "extra": []any{map[string]any{"x": 1}}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := spec.ValidateArgs(tt.args)
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("ValidateArgs() error = %v, want nil", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("ValidateArgs() = nil, want error containing %q", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("error %q does not contain %q", err, tt.wantErr)
			}
		})
	}
}

func TestValidateArgsNonRecordRoot(t *testing.T) {
	spec := tool.ParseSchema(map[string]any{"type": "mystery"})
	if err := spec.ValidateArgs(map[string]any{"whatever": 1}); err != nil {
		t.Errorf("opaque root rejected args: %v", err)
	}

	var nilSpec *tool.ArgSpec
	if err := nilSpec.ValidateArgs(map[string]any{"x": 1}); err != nil {
		t.Errorf("nil spec rejected args: %v", err)
	}
}

func TestJSONSchemaRender(t *testing.T) {
	spec := tool.ParseSchema(searchSchema())
	rendered := spec.JSONSchema()

	if rendered["type"] != "object" {
		t.Fatalf("type = %v, want object", rendered["type"])
	}
	props, ok := rendered["properties"].(map[string]any)
	if !ok {
		t.Fatalf("properties missing: %v", rendered)
	}
	mode, ok := props["mode"].(map[string]any)
	if !ok {
		t.Fatalf("mode property missing")
	}
	if !reflect.DeepEqual(mode["enum"], []any{"web", "news", "images"}) {
		t.Errorf("mode enum = %v", mode["enum"])
	}
	if !reflect.DeepEqual(rendered["required"], []any{"query", "mode"}) {
		t.Errorf("required = %v", rendered["required"])
	}

	// Rendering then reparsing preserves the typed view.
	if again := tool.ParseSchema(rendered); !reflect.DeepEqual(again.RequiredKeys(), spec.RequiredKeys()) {
		t.Errorf("round trip required = %v, want %v", again.RequiredKeys(), spec.RequiredKeys())
	}
}

func TestJSONSchemaNil(t *testing.T) {
	var spec *tool.ArgSpec
	rendered := spec.JSONSchema()
	if rendered["type"] != "object" {
		t.Errorf("nil spec type = %v, want object", rendered["type"])
	}
	if _, ok := rendered["properties"]; !ok {
		t.Errorf("nil spec rendered without properties: %v", rendered)
	}
}
