package llm

// geminiUnsupported lists JSON Schema keywords the Gemini function API
// rejects. MCP servers emit most of them freely.
var geminiUnsupported = []string{
	"$schema", "$id", "$ref", "$defs", "definitions",
	"format", "pattern", "default", "examples", "const", "title",
	"exclusiveMinimum", "exclusiveMaximum", "minimum", "maximum",
	"minLength", "maxLength", "minItems", "maxItems", "uniqueItems",
	"additionalProperties",
}

// geminiSchema returns a copy of schema with unsupported keywords removed at
// every level. The input is not modified.
func geminiSchema(schema map[string]any) map[string]any {
	if schema == nil {
		return nil
	}
	out := copySchemaMap(schema)
	stripGeminiSchema(out)
	return out
}

func stripGeminiSchema(schema map[string]any) {
	for _, key := range geminiUnsupported {
		delete(schema, key)
	}
	if props, ok := schema["properties"].(map[string]any); ok {
		for _, v := range props {
			if sub, ok := v.(map[string]any); ok {
				stripGeminiSchema(sub)
			}
		}
	}
	if items, ok := schema["items"].(map[string]any); ok {
		stripGeminiSchema(items)
	}
	for _, key := range []string{"anyOf", "oneOf", "allOf"} {
		if arr, ok := schema[key].([]any); ok {
			for _, v := range arr {
				if sub, ok := v.(map[string]any); ok {
					stripGeminiSchema(sub)
				}
			}
		}
	}
}

func copySchemaMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = copySchemaValue(v)
	}
	return out
}

func copySchemaValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return copySchemaMap(val)
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = copySchemaValue(item)
		}
		return out
	}
	return v
}
