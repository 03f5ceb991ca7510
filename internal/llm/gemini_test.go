package llm

import "testing"

func TestBuildGeminiContents(t *testing.T) {
	system, contents := buildGeminiContents([]Message{
		SystemText("You are terse."),
		UserText("Run shell"),
		AssistantText("Working"),
		UserText(""),
		UserText("new request"),
	})

	if system != "You are terse." {
		t.Fatalf("system = %q", system)
	}
	if len(contents) != 3 {
		t.Fatalf("expected 3 contents, got %d", len(contents))
	}
	if contents[1].Role != "model" {
		t.Fatalf("expected role model, got %q", contents[1].Role)
	}
	if contents[1].Parts[0].Text != "Working" {
		t.Fatalf("assistant text = %q", contents[1].Parts[0].Text)
	}
	if contents[2].Role != "user" {
		t.Fatalf("expected role user, got %q", contents[2].Role)
	}
}

func TestGeminiSupportsThinking(t *testing.T) {
	tests := map[string]bool{
		"gemini-2.5-pro":   true,
		"gemini-3-flash":   true,
		"gemini-2.0-flash": false,
		"gemini-1.5-pro":   false,
	}
	for model, want := range tests {
		if got := geminiSupportsThinking(model); got != want {
			t.Errorf("geminiSupportsThinking(%q) = %v, want %v", model, got, want)
		}
	}
}

func TestBuildGeminiToolsNormalizesSchema(t *testing.T) {
	tools := buildGeminiTools([]ToolSpec{{Name: "now", Description: "current time"}})
	if len(tools) != 1 || len(tools[0].FunctionDeclarations) != 1 {
		t.Fatalf("unexpected tools: %#v", tools)
	}
	schema, ok := tools[0].FunctionDeclarations[0].ParametersJsonSchema.(map[string]any)
	if !ok {
		t.Fatalf("schema type = %T", tools[0].FunctionDeclarations[0].ParametersJsonSchema)
	}
	if schema["type"] != "object" {
		t.Fatalf("schema type = %v", schema["type"])
	}
	if _, ok := schema["properties"]; !ok {
		t.Fatal("expected properties in normalized schema")
	}
}

func TestGeminiSchemaStripsUnsupportedKeywords(t *testing.T) {
	in := map[string]any{
		"$schema":              "http://json-schema.org/draft-07/schema#",
		"type":                 "object",
		"additionalProperties": false,
		"properties": map[string]any{
			"path": map[string]any{"type": "string", "format": "uri", "description": "file"},
			"tags": map[string]any{"type": "array", "minItems": 1, "items": map[string]any{"type": "string", "pattern": "^a"}},
		},
		"required": []any{"path"},
	}
	out := geminiSchema(in)

	for _, key := range []string{"$schema", "additionalProperties"} {
		if _, ok := out[key]; ok {
			t.Errorf("top-level %s not removed", key)
		}
	}
	props := out["properties"].(map[string]any)
	path := props["path"].(map[string]any)
	if _, ok := path["format"]; ok || path["description"] != "file" {
		t.Errorf("path = %v", path)
	}
	tags := props["tags"].(map[string]any)
	if _, ok := tags["minItems"]; ok {
		t.Error("minItems not removed")
	}
	if _, ok := tags["items"].(map[string]any)["pattern"]; ok {
		t.Error("nested pattern not removed")
	}
	if req, ok := out["required"].([]any); !ok || len(req) != 1 {
		t.Errorf("required = %v", out["required"])
	}

	if _, ok := in["$schema"]; !ok {
		t.Error("input was modified")
	}
	if _, ok := in["properties"].(map[string]any)["path"].(map[string]any)["format"]; !ok {
		t.Error("nested input was modified")
	}
}
