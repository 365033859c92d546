package provider

import "google.golang.org/genai"

// reviewProperties is the JSON-Schema property map of the review result,
// shared by the OpenAI json_schema format and the Anthropic tool input.
func reviewProperties() map[string]any {
	severity := map[string]any{"type": "string", "enum": []string{"low", "medium", "high"}}
	return map[string]any{
		"summary":    map[string]any{"type": "string"},
		"risk_level": severity,
		"reviews": map[string]any{
			"type": "array",
			"items": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"severity":      severity,
					"new_path":      map[string]any{"type": "string"},
					"old_path":      map[string]any{"type": "string"},
					"type":          map[string]any{"type": "string", "enum": []string{"old", "new"}},
					"start_line":    map[string]any{"type": "integer"},
					"end_line":      map[string]any{"type": "integer"},
					"issue_header":  map[string]any{"type": "string"},
					"issue_content": map[string]any{"type": "string"},
					"suggestion":    map[string]any{"type": "string"},
				},
				"required": []string{
					"severity", "new_path", "old_path", "type",
					"start_line", "end_line", "issue_header", "issue_content",
				},
				"additionalProperties": false,
			},
		},
		"positives":    map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
		"action_items": map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
	}
}

// reviewJSONSchema is the full schema object for response_format json_schema.
func reviewJSONSchema() map[string]any {
	return map[string]any{
		"type":                 "object",
		"properties":           reviewProperties(),
		"required":             []string{"summary", "risk_level", "reviews", "positives", "action_items"},
		"additionalProperties": false,
	}
}

// reviewGenaiSchema is the same contract expressed in the genai schema type.
func reviewGenaiSchema() *genai.Schema {
	severity := &genai.Schema{Type: genai.TypeString, Enum: []string{"low", "medium", "high"}}
	str := func() *genai.Schema { return &genai.Schema{Type: genai.TypeString} }
	return &genai.Schema{
		Type: genai.TypeObject,
		Properties: map[string]*genai.Schema{
			"summary":    str(),
			"risk_level": severity,
			"reviews": {
				Type: genai.TypeArray,
				Items: &genai.Schema{
					Type: genai.TypeObject,
					Properties: map[string]*genai.Schema{
						"severity":      severity,
						"new_path":      str(),
						"old_path":      str(),
						"type":          {Type: genai.TypeString, Enum: []string{"old", "new"}},
						"start_line":    {Type: genai.TypeInteger},
						"end_line":      {Type: genai.TypeInteger},
						"issue_header":  str(),
						"issue_content": str(),
						"suggestion":    str(),
					},
					Required: []string{
						"severity", "new_path", "old_path", "type",
						"start_line", "end_line", "issue_header", "issue_content",
					},
				},
			},
			"positives":    {Type: genai.TypeArray, Items: str()},
			"action_items": {Type: genai.TypeArray, Items: str()},
		},
		Required: []string{"summary", "risk_level", "reviews", "positives", "action_items"},
	}
}
