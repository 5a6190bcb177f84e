package tools

import "testing"

type reflectArgs struct {
	Path  string   `json:"path" jsonschema:"description=request path"`
	Page  int      `json:"page,omitempty"`
	Tags  []string `json:"tags,omitempty"`
	Other struct {
		Inner string `json:"inner"`
	} `json:"other,omitempty"`
}

func TestReflectInputSchema(t *testing.T) {
	schema := ReflectInputSchema[reflectArgs]()

	if schema.Type != "object" {
		t.Fatalf("type = %q, want object", schema.Type)
	}

	path, ok := schema.Properties["path"]
	if !ok {
		t.Fatal("missing path property")
	}
	if path.Type != "string" {
		t.Errorf("path type = %q", path.Type)
	}
	if path.Description != "request path" {
		t.Errorf("path description = %q", path.Description)
	}

	if page, ok := schema.Properties["page"]; !ok || page.Type != "integer" {
		t.Errorf("page property = %+v, want integer", page)
	}

	tags, ok := schema.Properties["tags"]
	if !ok || tags.Type != "array" {
		t.Fatalf("tags property = %+v, want array", tags)
	}
	if tags.Items == nil || tags.Items.Type != "string" {
		t.Errorf("tags items = %+v, want string items", tags.Items)
	}

	found := false
	for _, name := range schema.Required {
		if name == "path" {
			found = true
		}
	}
	if !found {
		t.Errorf("required = %v, want to contain path", schema.Required)
	}
}

func TestReflectInputSchemaEmpty(t *testing.T) {
	type empty struct{}
	schema := ReflectInputSchema[empty]()
	if schema.Type != "object" {
		t.Errorf("type = %q, want object", schema.Type)
	}
	if len(schema.Properties) != 0 {
		t.Errorf("properties = %v, want empty", schema.Properties)
	}
}
