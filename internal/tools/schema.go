package tools

import (
	"github.com/invopop/jsonschema"

	"github.com/sjtools/jaccount-mcp-go/internal/mcp"
)

// ReflectInputSchema reflects a typed args struct A into the simplified
// discovery schema surfaced by tools/list. Non-object shapes collapse to an
// empty object schema, which the protocol permits for no-argument tools.
func ReflectInputSchema[A any]() mcp.ToolInputSchema {
	r := &jsonschema.Reflector{
		DoNotReference: true, // inline defs
		ExpandedStruct: true, // put struct at root
	}
	s := r.Reflect(new(A))

	if s == nil || s.Type != "object" {
		return emptyInputSchema()
	}

	props := make(map[string]mcp.SchemaProperty)
	if s.Properties != nil {
		for el := s.Properties.Oldest(); el != nil; el = el.Next() {
			props[el.Key] = toSchemaProperty(el.Value)
		}
	}
	required := []string{}
	if len(s.Required) > 0 {
		required = append(required, s.Required...)
	}

	return mcp.ToolInputSchema{
		Type:       "object",
		Properties: props,
		Required:   required,
	}
}

// toSchemaProperty recursively maps a reflected schema node to the simplified
// discovery shape.
func toSchemaProperty(s *jsonschema.Schema) mcp.SchemaProperty {
	if s == nil {
		return mcp.SchemaProperty{}
	}
	p := mcp.SchemaProperty{
		Type:        s.Type,
		Description: s.Description,
	}
	if len(s.Enum) > 0 {
		p.Enum = s.Enum
	}
	if s.Type == "array" && s.Items != nil {
		item := toSchemaProperty(s.Items)
		p.Items = &item
	}
	if s.Type == "object" && s.Properties != nil {
		m := make(map[string]mcp.SchemaProperty, s.Properties.Len())
		for el := s.Properties.Oldest(); el != nil; el = el.Next() {
			m[el.Key] = toSchemaProperty(el.Value)
		}
		p.Properties = m
	}
	return p
}
