package llm

// Tool describes a function the model may call. Execution is owned by the
// caller; the llm package only carries the schema over the wire.
type Tool struct {
	Name        string      `json:"name"`
	Description string      `json:"description"`
	Parameters  *JSONSchema `json:"parameters"`
}

// JSONSchema represents a JSON Schema definition for tool parameters.
type JSONSchema struct {
	Type        string                 `json:"type"`
	Description string                 `json:"description,omitempty"`
	Properties  map[string]*JSONSchema `json:"properties,omitempty"`
	Required    []string               `json:"required,omitempty"`
	Enum        []string               `json:"enum,omitempty"`
	Items       *JSONSchema            `json:"items,omitempty"` // for array type
	Default     any                    `json:"default,omitempty"`
}

// ObjectSchema creates a JSON Schema for an object with the given properties.
func ObjectSchema(desc string, props map[string]*JSONSchema, required ...string) *JSONSchema {
	return &JSONSchema{
		Type:        "object",
		Description: desc,
		Properties:  props,
		Required:    required,
	}
}

// StringProp creates a JSON Schema for a string property.
func StringProp(desc string) *JSONSchema {
	return &JSONSchema{Type: "string", Description: desc}
}

// NumberProp creates a JSON Schema for a number property.
func NumberProp(desc string) *JSONSchema {
	return &JSONSchema{Type: "number", Description: desc}
}

// IntProp creates a JSON Schema for an integer property.
func IntProp(desc string) *JSONSchema {
	return &JSONSchema{Type: "integer", Description: desc}
}

// IntPropDefault creates an integer property with a default value.
func IntPropDefault(desc string, def int) *JSONSchema {
	return &JSONSchema{Type: "integer", Description: desc, Default: def}
}

// EnumProp creates a JSON Schema for a string enum property.
func EnumProp(desc string, values ...string) *JSONSchema {
	return &JSONSchema{Type: "string", Description: desc, Enum: values}
}

// ArrayProp creates a JSON Schema for an array property.
func ArrayProp(desc string, items *JSONSchema) *JSONSchema {
	return &JSONSchema{Type: "array", Description: desc, Items: items}
}
