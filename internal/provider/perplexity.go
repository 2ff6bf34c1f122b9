package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"contentforge/internal/domain"
)

var perplexityCapabilities = map[domain.Capability]bool{
	domain.CapabilityText:     true,
	domain.CapabilityResearch: true,
}

// PerplexityAdapter calls the Perplexity API (OpenAI-compatible wire format
// with citation extensions) for research-grounded generation.
type PerplexityAdapter struct {
	apiKey     string
	httpClient *http.Client
	baseURL    string
}

// NewPerplexityAdapter creates a new Perplexity adapter
func NewPerplexityAdapter(apiKey string, settings ConnectionSettings) *PerplexityAdapter {
	return &PerplexityAdapter{
		apiKey:     apiKey,
		httpClient: BuildHTTPClient(settings),
		baseURL:    "https://api.perplexity.ai",
	}
}

// Provider returns the provider type
func (a *PerplexityAdapter) Provider() domain.Provider {
	return domain.ProviderPerplexity
}

// Generate executes a normalized generation request. Search citations come
// back as normalized Sources. The Perplexity API has no n parameter, so
// multiple outputs are issued as sequential calls.
func (a *PerplexityAdapter) Generate(ctx context.Context, req *domain.GenerationRequest) (*domain.GenerationResult, error) {
	if err := requireCapability(domain.ProviderPerplexity, perplexityCapabilities, req.Type); err != nil {
		return nil, err
	}

	count := req.OutputCount
	if count < 1 {
		count = 1
	}

	outputs := make([]domain.GenerationOutput, 0, count)
	for i := 0; i < count; i++ {
		out, err := a.complete(ctx, req)
		if err != nil {
			return nil, err
		}
		outputs = append(outputs, *out)
	}

	return &domain.GenerationResult{
		Provider: domain.ProviderPerplexity,
		Model:    req.Model,
		Outputs:  outputs,
	}, nil
}

func (a *PerplexityAdapter) complete(ctx context.Context, req *domain.GenerationRequest) (*domain.GenerationOutput, error) {
	chatReq := map[string]any{
		"model": req.Model,
		"messages": []map[string]any{
			{"role": "user", "content": FlattenContext(req.Prompt, req.Context)},
		},
	}
	if req.Settings.Temperature != nil {
		chatReq["temperature"] = *req.Settings.Temperature
	}
	if req.Settings.MaxTokens != nil {
		chatReq["max_tokens"] = *req.Settings.MaxTokens
	}

	body, err := json.Marshal(chatReq)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", a.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+a.apiKey)

	resp, err := a.httpClient.Do(httpReq)
	if err != nil {
		return nil, wrapTransportError(domain.ProviderPerplexity, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, apiError(domain.ProviderPerplexity, resp)
	}

	var result struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
			FinishReason string `json:"finish_reason"`
		} `json:"choices"`
		Citations []string `json:"citations"`
		Usage     struct {
			PromptTokens     int `json:"prompt_tokens"`
			CompletionTokens int `json:"completion_tokens"`
		} `json:"usage"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, wrapTransportError(domain.ProviderPerplexity, err)
	}

	if len(result.Choices) == 0 {
		return nil, &domain.ProviderError{
			Provider: domain.ProviderPerplexity,
			Cause:    fmt.Errorf("empty response"),
		}
	}

	return &domain.GenerationOutput{
		Content:   result.Choices[0].Message.Content,
		TokensIn:  result.Usage.PromptTokens,
		TokensOut: result.Usage.CompletionTokens,
		Cost:      TextCost(domain.ProviderPerplexity, req.Model, result.Usage.PromptTokens, result.Usage.CompletionTokens),
		Sources:   result.Citations,
		Metadata:  map[string]string{"finish_reason": result.Choices[0].FinishReason},
	}, nil
}
