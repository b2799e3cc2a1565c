package llm

import (
	"encoding/json"
)

// Backends disagree on which JSON Schema constructs they accept. Rather
// than failing a request over an exotic keyword, each adapter strips
// anything outside its backend's allowlist before sending.

var openAISchemaKeywords = map[string]bool{
	"type": true, "properties": true, "required": true, "items": true,
	"enum": true, "description": true, "additionalProperties": true,
	"minimum": true, "maximum": true, "exclusiveMinimum": true,
	"exclusiveMaximum": true, "minLength": true, "maxLength": true,
	"pattern": true, "minItems": true, "maxItems": true, "format": true,
	"default": true, "anyOf": true, "oneOf": true, "allOf": true,
}

var anthropicSchemaKeywords = map[string]bool{
	"type": true, "properties": true, "required": true, "items": true,
	"enum": true, "description": true, "additionalProperties": true,
	"minimum": true, "maximum": true, "minLength": true, "maxLength": true,
	"pattern": true, "minItems": true, "maxItems": true, "format": true,
	"default": true, "anyOf": true,
}

// sanitizeSchema decodes a JSON Schema and strips keywords the backend
// does not accept. Unparseable schemas degrade to an open object schema so
// one bad tool cannot break planning for the rest.
func sanitizeSchema(raw json.RawMessage, allowed map[string]bool) map[string]any {
	fallback := map[string]any{
		"type":       "object",
		"properties": map[string]any{},
	}
	if len(raw) == 0 {
		return fallback
	}

	var schema map[string]any
	if err := json.Unmarshal(raw, &schema); err != nil {
		return fallback
	}

	cleaned, ok := sanitizeValue(schema, allowed).(map[string]any)
	if !ok {
		return fallback
	}
	return cleaned
}

func sanitizeValue(value any, allowed map[string]bool) any {
	switch typed := value.(type) {
	case map[string]any:
		cleaned := make(map[string]any, len(typed))
		for key, sub := range typed {
			if !allowed[key] {
				continue
			}
			switch key {
			case "properties":
				// property names are not keywords; filter one level deeper
				if props, ok := sub.(map[string]any); ok {
					cleanedProps := make(map[string]any, len(props))
					for name, propSchema := range props {
						cleanedProps[name] = sanitizeValue(propSchema, allowed)
					}
					cleaned[key] = cleanedProps
				}
			default:
				cleaned[key] = sanitizeValue(sub, allowed)
			}
		}
		return cleaned
	case []any:
		cleaned := make([]any, len(typed))
		for i, sub := range typed {
			cleaned[i] = sanitizeValue(sub, allowed)
		}
		return cleaned
	default:
		return value
	}
}
