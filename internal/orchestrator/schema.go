package orchestrator

import (
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	"contentforge/internal/domain"
)

// Task schemas for structured-mode output. Providers are asked for JSON;
// whatever comes back is validated here before being stored as structured
// content.
var taskSchemas = map[domain.TaskType]string{
	domain.TaskIdea: `{
		"type": "object",
		"required": ["ideas"],
		"properties": {
			"ideas": {
				"type": "array",
				"minItems": 1,
				"items": {
					"type": "object",
					"required": ["title", "description"],
					"properties": {
						"title": {"type": "string", "minLength": 1},
						"description": {"type": "string"}
					}
				}
			}
		}
	}`,
	domain.TaskTitle: `{
		"type": "object",
		"required": ["titles"],
		"properties": {
			"titles": {
				"type": "array",
				"minItems": 1,
				"items": {"type": "string", "minLength": 1}
			}
		}
	}`,
	domain.TaskImagePrompt: `{
		"type": "object",
		"required": ["prompts"],
		"properties": {
			"prompts": {
				"type": "array",
				"minItems": 1,
				"items": {
					"type": "object",
					"required": ["text"],
					"properties": {
						"text": {"type": "string", "minLength": 1},
						"type": {"type": "string"}
					}
				}
			}
		}
	}`,
}

// genericSchema accepts any JSON object for tasks without a dedicated shape
const genericSchema = `{"type": "object"}`

// validateStructured checks a structured-mode output against its task
// schema and returns the content to store as structured JSON. Vendors
// sometimes wrap JSON in markdown fences; those are stripped first.
func validateStructured(task domain.TaskType, content string) (string, error) {
	cleaned := stripCodeFence(content)

	schema, ok := taskSchemas[task]
	if !ok {
		schema = genericSchema
	}

	result, err := gojsonschema.Validate(
		gojsonschema.NewStringLoader(schema),
		gojsonschema.NewStringLoader(cleaned),
	)
	if err != nil {
		return "", fmt.Errorf("output is not valid JSON: %w", err)
	}
	if !result.Valid() {
		issues := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			issues = append(issues, e.String())
		}
		return "", fmt.Errorf("output does not match task schema: %s", strings.Join(issues, "; "))
	}

	return cleaned, nil
}

func stripCodeFence(content string) string {
	trimmed := strings.TrimSpace(content)
	if !strings.HasPrefix(trimmed, "```") {
		return trimmed
	}
	trimmed = strings.TrimPrefix(trimmed, "```json")
	trimmed = strings.TrimPrefix(trimmed, "```")
	trimmed = strings.TrimSuffix(strings.TrimSpace(trimmed), "```")
	return strings.TrimSpace(trimmed)
}
