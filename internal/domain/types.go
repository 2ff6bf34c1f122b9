// Package domain defines core domain types for the ContentForge generation service.
package domain

import (
	"time"
)

// =============================================================================
// Provider Types
// =============================================================================

// Provider represents an external AI vendor
type Provider string

const (
	ProviderOpenAI     Provider = "openai"
	ProviderAnthropic  Provider = "anthropic"
	ProviderGoogle     Provider = "google"
	ProviderPerplexity Provider = "perplexity"
	ProviderRecraft    Provider = "recraft"
	ProviderBedrock    Provider = "bedrock"
)

// AllProviders returns all supported providers
func AllProviders() []Provider {
	return []Provider{
		ProviderOpenAI,
		ProviderAnthropic,
		ProviderGoogle,
		ProviderPerplexity,
		ProviderRecraft,
		ProviderBedrock,
	}
}

// ParseProvider parses a provider string
func ParseProvider(s string) (Provider, bool) {
	switch s {
	case "openai", "gpt":
		return ProviderOpenAI, true
	case "anthropic", "claude":
		return ProviderAnthropic, true
	case "google", "gemini":
		return ProviderGoogle, true
	case "perplexity":
		return ProviderPerplexity, true
	case "recraft":
		return ProviderRecraft, true
	case "bedrock", "aws", "aws-bedrock", "aws_bedrock":
		return ProviderBedrock, true
	default:
		return "", false
	}
}

// Capability is a modality a provider may support
type Capability string

const (
	CapabilityText       Capability = "text"
	CapabilityImage      Capability = "image"
	CapabilityResearch   Capability = "research"
	CapabilityMultimodal Capability = "multimodal"
)

// Capabilities holds the modality flags for one provider
type Capabilities struct {
	Text       bool `json:"text"`
	Image      bool `json:"image"`
	Research   bool `json:"research"`
	Multimodal bool `json:"multimodal"`
}

// Has reports whether a single capability flag is set
func (c Capabilities) Has(cap Capability) bool {
	switch cap {
	case CapabilityText:
		return c.Text
	case CapabilityImage:
		return c.Image
	case CapabilityResearch:
		return c.Research
	case CapabilityMultimodal:
		return c.Multimodal
	default:
		return false
	}
}

// HasAll reports whether every capability in caps is set (exact AND match)
func (c Capabilities) HasAll(caps []Capability) bool {
	for _, cap := range caps {
		if !c.Has(cap) {
			return false
		}
	}
	return true
}

// =============================================================================
// Task Types
// =============================================================================

// TaskType identifies one kind of generation step
type TaskType string

const (
	TaskIdea        TaskType = "idea"
	TaskTitle       TaskType = "title"
	TaskWriting     TaskType = "writing"
	TaskResearch    TaskType = "research"
	TaskImagePrompt TaskType = "image_prompt"
	TaskImage       TaskType = "image"
	TaskEdit        TaskType = "edit"
)

// AllTaskTypes returns all supported task types
func AllTaskTypes() []TaskType {
	return []TaskType{
		TaskIdea,
		TaskTitle,
		TaskWriting,
		TaskResearch,
		TaskImagePrompt,
		TaskImage,
		TaskEdit,
	}
}

// IsImageTask reports whether the task produces images rather than text
func (t TaskType) IsImageTask() bool {
	return t == TaskImage
}

// GenerationMode controls how a task consumes its inputs
type GenerationMode string

const (
	ModeDirect       GenerationMode = "direct"
	ModeStructured   GenerationMode = "structured"
	ModeEditExisting GenerationMode = "edit_existing"
)

// =============================================================================
// Credential Types
// =============================================================================

// ProviderCredential is a persisted per-provider credential row.
// EncryptedKey and Salt never leave the backend boundary.
type ProviderCredential struct {
	Provider       Provider            `json:"provider"`
	EncryptedKey   string              `json:"-"`
	Salt           string              `json:"-"`
	DefaultModel   string              `json:"default_model"`
	FallbackModel  string              `json:"fallback_model,omitempty"`
	ModelOverrides map[TaskType]string `json:"model_overrides,omitempty"`
	MonthlyBudget  float64             `json:"monthly_budget"`
	CurrentUsage   float64             `json:"current_usage"`
	Active         bool                `json:"active"`
	LastTestedAt   *time.Time          `json:"last_tested_at,omitempty"`
	LastTestOK     *bool               `json:"last_test_ok,omitempty"`
	CreatedAt      time.Time           `json:"created_at"`
	UpdatedAt      time.Time           `json:"updated_at"`
}

// HasKey reports whether an encrypted key is stored
func (c *ProviderCredential) HasKey() bool {
	return c.EncryptedKey != ""
}

// Available applies the availability invariant: active, keyed, and not
// known-bad (untested counts as available).
func (c *ProviderCredential) Available() bool {
	if !c.Active || !c.HasKey() {
		return false
	}
	return c.LastTestOK == nil || *c.LastTestOK
}

// OverBudget reports whether monthly usage has reached the budget limit.
// A zero budget means unlimited.
func (c *ProviderCredential) OverBudget() bool {
	return c.MonthlyBudget > 0 && c.CurrentUsage >= c.MonthlyBudget
}

// CredentialView is the sanitized credential shape returned to callers.
// It never carries the ciphertext or salt.
type CredentialView struct {
	Provider       Provider            `json:"provider"`
	HasAPIKey      bool                `json:"has_api_key"`
	IsConfigured   bool                `json:"is_configured"`
	DefaultModel   string              `json:"default_model"`
	FallbackModel  string              `json:"fallback_model,omitempty"`
	ModelOverrides map[TaskType]string `json:"model_overrides,omitempty"`
	MonthlyBudget  float64             `json:"monthly_budget"`
	CurrentUsage   float64             `json:"current_usage"`
	Active         bool                `json:"active"`
	LastTestedAt   *time.Time          `json:"last_tested_at,omitempty"`
	LastTestOK     *bool               `json:"last_test_ok,omitempty"`
}

// View returns the sanitized representation of a credential
func (c *ProviderCredential) View() CredentialView {
	return CredentialView{
		Provider:       c.Provider,
		HasAPIKey:      c.HasKey(),
		IsConfigured:   c.HasKey() && c.DefaultModel != "",
		DefaultModel:   c.DefaultModel,
		FallbackModel:  c.FallbackModel,
		ModelOverrides: c.ModelOverrides,
		MonthlyBudget:  c.MonthlyBudget,
		CurrentUsage:   c.CurrentUsage,
		Active:         c.Active,
		LastTestedAt:   c.LastTestedAt,
		LastTestOK:     c.LastTestOK,
	}
}

// ProviderConfig is the transient, per-request resolved provider.
// It carries the decrypted key and must never be persisted or logged.
type ProviderConfig struct {
	Provider Provider
	APIKey   string
	Model    string
}

// =============================================================================
// Generation Request/Result Types
// =============================================================================

// GenerationSettings are per-request tunables passed through to the adapter
type GenerationSettings struct {
	Temperature *float32 `json:"temperature,omitempty"`
	MaxTokens   *int32   `json:"max_tokens,omitempty"`
}

// GenerationContext is the fixed, explicitly-typed context structure.
// Free-form maps are deliberately not accepted here.
type GenerationContext struct {
	PreviousContent   []string `json:"previous_content,omitempty"`
	StyleGuides       []string `json:"style_guides,omitempty"`
	AdditionalContext string   `json:"additional_context,omitempty"`
	Vertical          string   `json:"vertical,omitempty"`
}

// ContextSnapshot records which reference inputs shaped a generation,
// by id rather than by value.
type ContextSnapshot struct {
	StyleGuideIDs      []string `json:"style_guide_ids,omitempty"`
	TemplateID         string   `json:"template_id,omitempty"`
	CharacterIDs       []string `json:"character_ids,omitempty"`
	ReferenceImageIDs  []string `json:"reference_image_ids,omitempty"`
	AdditionalContext  string   `json:"additional_context,omitempty"`
	Vertical           string   `json:"vertical,omitempty"`
}

// GenerationRequest is the normalized adapter input
type GenerationRequest struct {
	Type        Capability         // text or image
	Model       string
	Prompt      string
	Context     *GenerationContext
	OutputCount int
	Size        string // image only
	Quality     string // image only
	Style       string // image only
	Settings    GenerationSettings
	Stream      bool
}

// GenerationOutput is one normalized candidate output from a provider
type GenerationOutput struct {
	Content   string            `json:"content,omitempty"`
	URL       string            `json:"url,omitempty"`
	TokensIn  int               `json:"tokens_in"`
	TokensOut int               `json:"tokens_out"`
	Cost      float64           `json:"cost"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	Sources   []string          `json:"sources,omitempty"`
}

// GenerationResult is the normalized adapter output
type GenerationResult struct {
	Provider Provider           `json:"provider"`
	Model    string             `json:"model"`
	Outputs  []GenerationOutput `json:"outputs"`
}

// StreamChunk is one frame of a streamed text generation
type StreamChunk struct {
	Delta string `json:"delta,omitempty"`
	Done  bool   `json:"done,omitempty"`
	Error string `json:"error,omitempty"`
}

// =============================================================================
// Generation Tree Types
// =============================================================================

// NodeStatus is the lifecycle status of a generation node
type NodeStatus string

const (
	NodeStatusCompleted NodeStatus = "completed"
	NodeStatusFailed    NodeStatus = "failed"
)

// GenerationNode is one persisted unit of generated content in the tree.
// ParentID is a backward reference, RootID a denormalized pointer to the
// tree origin (nil only on the root itself).
type GenerationNode struct {
	ID                string           `json:"id"`
	Type              TaskType         `json:"type"`
	Mode              GenerationMode   `json:"mode"`
	Content           string           `json:"content"`
	StructuredContent string           `json:"structured_content,omitempty"`
	ParentID          *string          `json:"parent_id,omitempty"`
	RootID            *string          `json:"root_id,omitempty"`
	Selected          bool             `json:"selected"`
	Visible           bool             `json:"visible"`
	Deleted           bool             `json:"deleted"`
	Vertical          string           `json:"vertical,omitempty"`
	Provider          Provider         `json:"provider"`
	Model             string           `json:"model"`
	Prompt            string           `json:"prompt,omitempty"`
	Context           *ContextSnapshot `json:"context,omitempty"`
	TokensIn          int              `json:"tokens_in"`
	TokensOut         int              `json:"tokens_out"`
	Cost              float64          `json:"cost"`
	Status            NodeStatus       `json:"status"`
	CreatedAt         time.Time        `json:"created_at"`
}

// NodeDetail is the single-node exploration shape: the node plus its
// immediate neighborhood, without a join-heavy tree walk.
type NodeDetail struct {
	Node         *GenerationNode   `json:"node"`
	Parent       *GenerationNode   `json:"parent,omitempty"`
	Children     []*GenerationNode `json:"children"`
	Alternatives []*GenerationNode `json:"alternatives"`
	ImagePrompts []*ImagePrompt    `json:"image_prompts"`
}

// ImagePrompt is owned exclusively by its generation node, ordered by Position
type ImagePrompt struct {
	ID           string    `json:"id"`
	NodeID       string    `json:"node_id"`
	OriginalText string    `json:"original_text"`
	EditedText   string    `json:"edited_text,omitempty"`
	FinalText    string    `json:"final_text"`
	Position     int       `json:"position"`
	Type         string    `json:"type,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// =============================================================================
// Usage & Analytics Types
// =============================================================================

// UsageLog is one append-only usage record; immutable once written
type UsageLog struct {
	ID            string    `json:"id"`
	Provider      Provider  `json:"provider"`
	Model         string    `json:"model"`
	TaskType      TaskType  `json:"task_type"`
	Vertical      string    `json:"vertical,omitempty"`
	TokensIn      int       `json:"tokens_in"`
	TokensOut     int       `json:"tokens_out"`
	Cost          float64   `json:"cost"`
	DurationMS    int64     `json:"duration_ms"`
	Success       bool      `json:"success"`
	ErrorMessage  string    `json:"error_message,omitempty"`
	ContentLength int       `json:"content_length"`
	RequestedAt   time.Time `json:"requested_at"`
}

// AnalyticsRow is one rollup row keyed by (date, vertical, provider, model)
type AnalyticsRow struct {
	Date               time.Time `json:"date"`
	Vertical           string    `json:"vertical"`
	Provider           Provider  `json:"provider"`
	Model              string    `json:"model"`
	TotalCount         int       `json:"total_count"`
	SuccessCount       int       `json:"success_count"`
	FailCount          int       `json:"fail_count"`
	TokensIn           int64     `json:"tokens_in"`
	TokensOut          int64     `json:"tokens_out"`
	TotalCost          float64   `json:"total_cost"`
	AvgDurationMS      float64   `json:"avg_duration_ms"`
	TotalContentLength int64     `json:"total_content_length"`
}

// Timeframe selects an analytics window
type Timeframe string

const (
	TimeframeDay   Timeframe = "day"
	TimeframeWeek  Timeframe = "week"
	TimeframeMonth Timeframe = "month"
)

// CutoffTime returns the window start for a timeframe, relative to now
func (t Timeframe) CutoffTime(now time.Time) time.Time {
	switch t {
	case TimeframeDay:
		return now.AddDate(0, 0, -1)
	case TimeframeMonth:
		return now.AddDate(0, -1, 0)
	default:
		return now.AddDate(0, 0, -7)
	}
}

// UsageStats is the aggregated view over a timeframe
type UsageStats struct {
	TotalGenerations int     `json:"total_generations"`
	TotalCost        float64 `json:"total_cost"`
	AverageDuration  float64 `json:"average_duration_ms"`
	SuccessRate      float64 `json:"success_rate"`
}

// =============================================================================
// Reference Data Types
// =============================================================================

// StyleGuide is reusable generation-context input, referenced by id
type StyleGuide struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Vertical  string    `json:"vertical,omitempty"`
	Content   string    `json:"content"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ContextTemplate is a reusable prompt scaffold
type ContextTemplate struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	TaskType  TaskType  `json:"task_type"`
	Template  string    `json:"template"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Character is a recurring persona usable in image prompts
type Character struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	ImageURL    string    `json:"image_url,omitempty"`
	Active      bool      `json:"active"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// ReferenceImage is a stored visual reference for image generation
type ReferenceImage struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	URL       string    `json:"url"`
	Vertical  string    `json:"vertical,omitempty"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
