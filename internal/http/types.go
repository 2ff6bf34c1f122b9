// Package http provides the JSON API server for the generation service.
package http

import (
	"contentforge/internal/domain"
)

// =============================================================================
// Envelope
// =============================================================================

// Response is the uniform API envelope
type Response struct {
	Success bool         `json:"success"`
	Data    any          `json:"data,omitempty"`
	Error   *ErrorDetail `json:"error,omitempty"`
}

// ErrorDetail represents error details
type ErrorDetail struct {
	Type    string `json:"type"`
	Message string `json:"message"`
	Field   string `json:"field,omitempty"`
}

// =============================================================================
// Generation Types
// =============================================================================

// GenerateRequest is the API generation request
type GenerateRequest struct {
	Task              string   `json:"task"`
	Mode              string   `json:"mode,omitempty"`
	Prompt            string   `json:"prompt"`
	Vertical          string   `json:"vertical,omitempty"`
	Verticals         []string `json:"verticals,omitempty"`
	Provider          string   `json:"provider,omitempty"` // preferred provider
	ParentID          *string  `json:"parent_id,omitempty"`
	OutputCount       int      `json:"output_count,omitempty"`
	Size              string   `json:"size,omitempty"`
	Quality           string   `json:"quality,omitempty"`
	Style             string   `json:"style,omitempty"`
	Temperature       *float32 `json:"temperature,omitempty"`
	MaxTokens         *int32   `json:"max_tokens,omitempty"`
	StyleGuideIDs     []string `json:"style_guide_ids,omitempty"`
	AdditionalContext string   `json:"additional_context,omitempty"`
	Stream            bool     `json:"stream,omitempty"`
}

// GenerateResponse is the non-streamed generation result
type GenerateResponse struct {
	Nodes      []*domain.GenerationNode `json:"nodes"`
	Provider   domain.Provider          `json:"provider"`
	Model      string                   `json:"model"`
	DurationMS int64                    `json:"duration_ms"`
}

// SelectRequest names the tree a selection applies to
type SelectRequest struct {
	RootID string `json:"root_id"`
}

// =============================================================================
// Provider Management Types
// =============================================================================

// ProviderUpsertRequest configures one provider credential. A nil APIKey
// keeps the stored key; an empty string clears it.
type ProviderUpsertRequest struct {
	APIKey         *string                    `json:"api_key,omitempty"`
	DefaultModel   string                     `json:"default_model"`
	FallbackModel  string                     `json:"fallback_model,omitempty"`
	ModelOverrides map[domain.TaskType]string `json:"model_overrides,omitempty"`
	MonthlyBudget  float64                    `json:"monthly_budget,omitempty"`
	Active         *bool                      `json:"active,omitempty"`
}

// TestResponse is the credential test outcome
type TestResponse struct {
	Provider domain.Provider `json:"provider"`
	OK       bool            `json:"ok"`
	Message  string          `json:"message,omitempty"`
}

// =============================================================================
// Image Prompt Types
// =============================================================================

// ImagePromptsRequest replaces the ordered prompts of a node
type ImagePromptsRequest struct {
	Prompts []ImagePromptInput `json:"prompts"`
}

// ImagePromptInput is one prompt in an ImagePromptsRequest
type ImagePromptInput struct {
	OriginalText string `json:"original_text"`
	EditedText   string `json:"edited_text,omitempty"`
	Type         string `json:"type,omitempty"`
}

// =============================================================================
// Reference Data Types
// =============================================================================

// StyleGuideRequest creates or updates a style guide
type StyleGuideRequest struct {
	Name     string `json:"name"`
	Vertical string `json:"vertical,omitempty"`
	Content  string `json:"content"`
	Active   *bool  `json:"active,omitempty"`
}

// TemplateRequest creates a context template for a task type
type TemplateRequest struct {
	Name     string `json:"name"`
	TaskType string `json:"task_type"`
	Template string `json:"template"`
}

// CharacterRequest creates a reusable character description
type CharacterRequest struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	ImageURL    string `json:"image_url,omitempty"`
}

// ReferenceImageRequest registers a reference image
type ReferenceImageRequest struct {
	Name     string `json:"name"`
	URL      string `json:"url"`
	Vertical string `json:"vertical,omitempty"`
}
