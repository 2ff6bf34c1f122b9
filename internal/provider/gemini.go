package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"contentforge/internal/domain"
)

var geminiCapabilities = map[domain.Capability]bool{
	domain.CapabilityText:       true,
	domain.CapabilityImage:      true,
	domain.CapabilityMultimodal: true,
}

// GeminiAdapter calls the Google Generative Language API
type GeminiAdapter struct {
	apiKey     string
	httpClient *http.Client
	baseURL    string
}

// NewGeminiAdapter creates a new Gemini adapter
func NewGeminiAdapter(apiKey string, settings ConnectionSettings) *GeminiAdapter {
	return &GeminiAdapter{
		apiKey:     apiKey,
		httpClient: BuildHTTPClient(settings),
		baseURL:    "https://generativelanguage.googleapis.com/v1beta",
	}
}

// Provider returns the provider type
func (a *GeminiAdapter) Provider() domain.Provider {
	return domain.ProviderGoogle
}

// Generate executes a normalized generation request
func (a *GeminiAdapter) Generate(ctx context.Context, req *domain.GenerationRequest) (*domain.GenerationResult, error) {
	if err := requireCapability(domain.ProviderGoogle, geminiCapabilities, req.Type); err != nil {
		return nil, err
	}

	count := req.OutputCount
	if count < 1 {
		count = 1
	}

	prompt := req.Prompt
	if req.Type != domain.CapabilityImage {
		prompt = FlattenContext(req.Prompt, req.Context)
	}

	genConfig := map[string]any{
		"candidateCount": count,
	}
	if req.Settings.Temperature != nil {
		genConfig["temperature"] = *req.Settings.Temperature
	}
	if req.Settings.MaxTokens != nil {
		genConfig["maxOutputTokens"] = *req.Settings.MaxTokens
	}
	if req.Type == domain.CapabilityImage {
		genConfig["responseModalities"] = []string{"IMAGE"}
	}

	body, err := json.Marshal(map[string]any{
		"contents": []map[string]any{
			{"parts": []map[string]any{{"text": prompt}}},
		},
		"generationConfig": genConfig,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/models/%s:generateContent", a.baseURL, req.Model)
	httpReq, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-goog-api-key", a.apiKey)

	resp, err := a.httpClient.Do(httpReq)
	if err != nil {
		return nil, wrapTransportError(domain.ProviderGoogle, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, apiError(domain.ProviderGoogle, resp)
	}

	var result struct {
		Candidates []struct {
			Content struct {
				Parts []struct {
					Text       string `json:"text"`
					InlineData *struct {
						MimeType string `json:"mimeType"`
						Data     string `json:"data"`
					} `json:"inlineData"`
				} `json:"parts"`
			} `json:"content"`
			FinishReason string `json:"finishReason"`
		} `json:"candidates"`
		UsageMetadata struct {
			PromptTokenCount     int `json:"promptTokenCount"`
			CandidatesTokenCount int `json:"candidatesTokenCount"`
		} `json:"usageMetadata"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, wrapTransportError(domain.ProviderGoogle, err)
	}

	outputs := make([]domain.GenerationOutput, 0, len(result.Candidates))
	for i, cand := range result.Candidates {
		var text strings.Builder
		var imageURL string
		for _, part := range cand.Content.Parts {
			if part.Text != "" {
				text.WriteString(part.Text)
			}
			if part.InlineData != nil && imageURL == "" {
				imageURL = fmt.Sprintf("data:%s;base64,%s", part.InlineData.MimeType, part.InlineData.Data)
			}
		}

		out := domain.GenerationOutput{
			Content:  text.String(),
			URL:      imageURL,
			Metadata: map[string]string{"finish_reason": cand.FinishReason},
		}
		if i == 0 {
			out.TokensIn = result.UsageMetadata.PromptTokenCount
			out.TokensOut = result.UsageMetadata.CandidatesTokenCount
			if req.Type == domain.CapabilityImage {
				out.Cost = ImageCost(domain.ProviderGoogle, req.Model, len(result.Candidates))
			} else {
				out.Cost = TextCost(domain.ProviderGoogle, req.Model,
					result.UsageMetadata.PromptTokenCount, result.UsageMetadata.CandidatesTokenCount)
			}
		}
		outputs = append(outputs, out)
	}

	return &domain.GenerationResult{
		Provider: domain.ProviderGoogle,
		Model:    req.Model,
		Outputs:  outputs,
	}, nil
}
