package tool

import (
	"fmt"
	"slices"
	"sort"
	"strings"
)

// Kind enumerates the value kinds an argument schema can declare.
type Kind int

const (
	// KindValue accepts any value verbatim. Used for schemas the
	// translator does not recognize.
	KindValue Kind = iota
	KindString
	KindNumber
	KindBool
	KindNull
	KindEnum
	KindList
	KindRecord
)

func (k Kind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindNumber:
		return "number"
	case KindBool:
		return "boolean"
	case KindNull:
		return "null"
	case KindEnum:
		return "enum"
	case KindList:
		return "list"
	case KindRecord:
		return "record"
	default:
		return "value"
	}
}

// ArgSpec is a typed argument schema derived from a tool source's
// JSON-Schema-like declaration.
type ArgSpec struct {
	Kind        Kind
	Description string

	// Enum holds the allowed values when Kind is KindEnum.
	Enum []string

	// Items describes list elements when Kind is KindList. Nil means the
	// elements are opaque.
	Items *ArgSpec

	// Fields and Required describe a record when Kind is KindRecord. A
	// record with nil Fields is a free-form map.
	Fields   map[string]*ArgSpec
	Required []string
}

// ParseSchema translates a JSON-Schema-like map into an ArgSpec. Empty
// schemas and unrecognized types produce a spec that accepts any value, so
// translation never fails.
func ParseSchema(schema map[string]any) *ArgSpec {
	if len(schema) == 0 {
		return &ArgSpec{Kind: KindValue}
	}

	spec := &ArgSpec{}
	if desc, ok := schema["description"].(string); ok {
		spec.Description = desc
	}

	typ, _ := schema["type"].(string)
	switch typ {
	case "object":
		spec.Kind = KindRecord
		props, ok := schema["properties"].(map[string]any)
		if !ok {
			return spec
		}
		spec.Fields = make(map[string]*ArgSpec, len(props))
		for name, raw := range props {
			sub, _ := raw.(map[string]any)
			spec.Fields[name] = ParseSchema(sub)
		}
		spec.Required = stringSlice(schema["required"])
	case "string":
		if values := stringSlice(schema["enum"]); len(values) > 0 {
			spec.Kind = KindEnum
			spec.Enum = values
		} else {
			spec.Kind = KindString
		}
	case "number", "integer":
		spec.Kind = KindNumber
	case "boolean":
		spec.Kind = KindBool
	case "null":
		spec.Kind = KindNull
	case "array":
		spec.Kind = KindList
		if items, ok := schema["items"].(map[string]any); ok {
			spec.Items = ParseSchema(items)
		}
	default:
		spec.Kind = KindValue
	}
	return spec
}

// RequiredKeys returns the names of required record fields, sorted. Nil for
// non-record specs.
func (s *ArgSpec) RequiredKeys() []string {
	if s == nil || s.Kind != KindRecord || len(s.Required) == 0 {
		return nil
	}
	keys := append([]string(nil), s.Required...)
	sort.Strings(keys)
	return keys
}

// ValidateArgs checks decoded arguments against the spec. Missing required
// fields, enum mismatches and wrong value kinds are reported with the
// offending field name. Keys the schema does not declare pass through.
func (s *ArgSpec) ValidateArgs(args map[string]any) error {
	if s == nil || s.Kind != KindRecord {
		return nil
	}
	return s.validateRecord("", args)
}

func (s *ArgSpec) validateRecord(path string, value map[string]any) error {
	for _, name := range s.Required {
		if _, ok := value[name]; !ok {
			return fmt.Errorf("missing required argument %q", joinPath(path, name))
		}
	}
	for name, field := range s.Fields {
		raw, ok := value[name]
		if !ok {
			continue
		}
		if err := field.validateValue(joinPath(path, name), raw); err != nil {
			return err
		}
	}
	return nil
}

func (s *ArgSpec) validateValue(path string, value any) error {
	if s == nil {
		return nil
	}
	switch s.Kind {
	case KindString:
		if _, ok := value.(string); !ok {
			return fmt.Errorf("argument %q must be a string", path)
		}
	case KindEnum:
		str, ok := value.(string)
		if !ok {
			return fmt.Errorf("argument %q must be a string", path)
		}
		if !slices.Contains(s.Enum, str) {
			return fmt.Errorf("argument %q must be one of: %s", path, strings.Join(s.Enum, ", "))
		}
	case KindNumber:
		switch value.(type) {
		case float64, float32, int, int32, int64:
		default:
			return fmt.Errorf("argument %q must be a number", path)
		}
	case KindBool:
		if _, ok := value.(bool); !ok {
			return fmt.Errorf("argument %q must be a boolean", path)
		}
	case KindNull:
		if value != nil {
			return fmt.Errorf("argument %q must be null", path)
		}
	case KindList:
		items, ok := value.([]any)
		if !ok {
			return fmt.Errorf("argument %q must be an array", path)
		}
		for i, item := range items {
			if err := s.Items.validateValue(fmt.Sprintf("%s[%d]", path, i), item); err != nil {
				return err
			}
		}
	case KindRecord:
		record, ok := value.(map[string]any)
		if !ok {
			return fmt.Errorf("argument %q must be an object", path)
		}
		return s.validateRecord(path, record)
	}
	return nil
}

// JSONSchema renders the spec back into the JSON-Schema-like map wire
// formats expect for tool parameters. A nil spec renders as an object with
// no properties.
func (s *ArgSpec) JSONSchema() map[string]any {
	if s == nil {
		return map[string]any{"type": "object", "properties": map[string]any{}}
	}

	schema := map[string]any{}
	if s.Description != "" {
		schema["description"] = s.Description
	}
	switch s.Kind {
	case KindString:
		schema["type"] = "string"
	case KindEnum:
		schema["type"] = "string"
		schema["enum"] = toAnySlice(s.Enum)
	case KindNumber:
		schema["type"] = "number"
	case KindBool:
		schema["type"] = "boolean"
	case KindNull:
		schema["type"] = "null"
	case KindList:
		schema["type"] = "array"
		if s.Items != nil {
			schema["items"] = s.Items.JSONSchema()
		}
	case KindRecord:
		schema["type"] = "object"
		if s.Fields != nil {
			props := make(map[string]any, len(s.Fields))
			for name, field := range s.Fields {
				props[name] = field.JSONSchema()
			}
			schema["properties"] = props
		}
		if len(s.Required) > 0 {
			schema["required"] = toAnySlice(s.Required)
		}
	}
	return schema
}

func stringSlice(v any) []string {
	switch items := v.(type) {
	case []string:
		return append([]string(nil), items...)
	case []any:
		out := make([]string, 0, len(items))
		for _, item := range items {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

func toAnySlice(items []string) []any {
	out := make([]any, len(items))
	for i, item := range items {
		out[i] = item
	}
	return out
}

func joinPath(path, name string) string {
	if path == "" {
		return name
	}
	return path + "." + name
}
