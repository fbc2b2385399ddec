package inference

// Minimal builders for the response-schema fragments sent with each call.
// The service speaks a JSON-schema dialect; only the pieces used by the
// engine's call types are modeled.

// SchemaObject builds an object schema with the given required properties.
func SchemaObject(props map[string]any, required ...string) map[string]any {
	s := map[string]any{
		"type":       "OBJECT",
		"properties": props,
	}
	if len(required) > 0 {
		s["required"] = required
	}
	return s
}

// SchemaArray builds an array schema of the given item schema.
func SchemaArray(items map[string]any) map[string]any {
	return map[string]any{"type": "ARRAY", "items": items}
}

// SchemaString builds a string schema, optionally restricted to an enum.
func SchemaString(enum ...string) map[string]any {
	s := map[string]any{"type": "STRING"}
	if len(enum) > 0 {
		s["enum"] = enum
	}
	return s
}

// SchemaInt builds an integer schema.
func SchemaInt() map[string]any { return map[string]any{"type": "INTEGER"} }

// SchemaBool builds a boolean schema.
func SchemaBool() map[string]any { return map[string]any{"type": "BOOLEAN"} }

// SchemaBox is the [xmin,ymin,xmax,ymax] box schema in normalized
// [0,1000] coordinates.
func SchemaBox() map[string]any {
	return map[string]any{
		"type":     "ARRAY",
		"items":    map[string]any{"type": "NUMBER"},
		"minItems": 4,
		"maxItems": 4,
	}
}

// SchemaRawInstance is the schema of one labeled box.
func SchemaRawInstance() map[string]any {
	return SchemaObject(map[string]any{
		"label":  SchemaString(),
		"box_2d": SchemaBox(),
	}, "label", "box_2d")
}
