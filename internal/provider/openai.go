package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"contentforge/internal/domain"
)

var openAICapabilities = map[domain.Capability]bool{
	domain.CapabilityText:       true,
	domain.CapabilityImage:      true,
	domain.CapabilityMultimodal: true,
}

// OpenAIAdapter calls the OpenAI API
type OpenAIAdapter struct {
	apiKey     string
	httpClient *http.Client
	baseURL    string
}

// NewOpenAIAdapter creates a new OpenAI adapter
func NewOpenAIAdapter(apiKey string, settings ConnectionSettings) *OpenAIAdapter {
	return &OpenAIAdapter{
		apiKey:     apiKey,
		httpClient: BuildHTTPClient(settings),
		baseURL:    "https://api.openai.com/v1",
	}
}

// Provider returns the provider type
func (a *OpenAIAdapter) Provider() domain.Provider {
	return domain.ProviderOpenAI
}

// Generate executes a normalized generation request
func (a *OpenAIAdapter) Generate(ctx context.Context, req *domain.GenerationRequest) (*domain.GenerationResult, error) {
	if err := requireCapability(domain.ProviderOpenAI, openAICapabilities, req.Type); err != nil {
		return nil, err
	}
	if req.Type == domain.CapabilityImage {
		return a.generateImages(ctx, req)
	}
	return a.generateText(ctx, req)
}

func (a *OpenAIAdapter) buildChatRequest(req *domain.GenerationRequest) map[string]any {
	outputCount := req.OutputCount
	if outputCount < 1 {
		outputCount = 1
	}

	body := map[string]any{
		"model": req.Model,
		"n":     outputCount,
		"messages": []map[string]any{
			{"role": "user", "content": FlattenContext(req.Prompt, req.Context)},
		},
	}
	if req.Settings.Temperature != nil {
		body["temperature"] = *req.Settings.Temperature
	}
	if req.Settings.MaxTokens != nil {
		body["max_completion_tokens"] = *req.Settings.MaxTokens
	}
	return body
}

func (a *OpenAIAdapter) generateText(ctx context.Context, req *domain.GenerationRequest) (*domain.GenerationResult, error) {
	body, err := json.Marshal(a.buildChatRequest(req))
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
		return nil, wrapTransportError(domain.ProviderOpenAI, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, apiError(domain.ProviderOpenAI, resp)
	}

	var result struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
			FinishReason string `json:"finish_reason"`
		} `json:"choices"`
		Usage struct {
			PromptTokens     int `json:"prompt_tokens"`
			CompletionTokens int `json:"completion_tokens"`
		} `json:"usage"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, wrapTransportError(domain.ProviderOpenAI, err)
	}

	cost := TextCost(domain.ProviderOpenAI, req.Model, result.Usage.PromptTokens, result.Usage.CompletionTokens)
	outputs := make([]domain.GenerationOutput, 0, len(result.Choices))
	for i, choice := range result.Choices {
		out := domain.GenerationOutput{
			Content:  choice.Message.Content,
			Metadata: map[string]string{"finish_reason": choice.FinishReason},
		}
		// Token/cost accounting is reported on the first output only;
		// the vendor does not break usage down per choice.
		if i == 0 {
			out.TokensIn = result.Usage.PromptTokens
			out.TokensOut = result.Usage.CompletionTokens
			out.Cost = cost
		}
		outputs = append(outputs, out)
	}

	return &domain.GenerationResult{
		Provider: domain.ProviderOpenAI,
		Model:    req.Model,
		Outputs:  outputs,
	}, nil
}

func (a *OpenAIAdapter) generateImages(ctx context.Context, req *domain.GenerationRequest) (*domain.GenerationResult, error) {
	count := req.OutputCount
	if count < 1 {
		count = 1
	}

	imageReq := map[string]any{
		"model":  req.Model,
		"prompt": req.Prompt,
		"n":      count,
	}
	if req.Size != "" {
		imageReq["size"] = req.Size
	}
	if req.Quality != "" {
		imageReq["quality"] = req.Quality
	}
	if req.Style != "" && strings.HasPrefix(req.Model, "dall-e") {
		imageReq["style"] = req.Style
	}

	body, err := json.Marshal(imageReq)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", a.baseURL+"/images/generations", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+a.apiKey)

	resp, err := a.httpClient.Do(httpReq)
	if err != nil {
		return nil, wrapTransportError(domain.ProviderOpenAI, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, apiError(domain.ProviderOpenAI, resp)
	}

	var result struct {
		Data []struct {
			URL           string `json:"url"`
			B64JSON       string `json:"b64_json"`
			RevisedPrompt string `json:"revised_prompt"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, wrapTransportError(domain.ProviderOpenAI, err)
	}

	cost := ImageCost(domain.ProviderOpenAI, req.Model, len(result.Data))
	outputs := make([]domain.GenerationOutput, 0, len(result.Data))
	for i, img := range result.Data {
		url := img.URL
		if url == "" && img.B64JSON != "" {
			url = "data:image/png;base64," + img.B64JSON
		}
		out := domain.GenerationOutput{URL: url}
		if img.RevisedPrompt != "" {
			out.Metadata = map[string]string{"revised_prompt": img.RevisedPrompt}
		}
		if i == 0 {
			out.Cost = cost
		}
		outputs = append(outputs, out)
	}

	return &domain.GenerationResult{
		Provider: domain.ProviderOpenAI,
		Model:    req.Model,
		Outputs:  outputs,
	}, nil
}

// GenerateStream starts a streaming text generation (implements Streamer)
func (a *OpenAIAdapter) GenerateStream(ctx context.Context, req *domain.GenerationRequest) (<-chan domain.StreamChunk, error) {
	if err := requireCapability(domain.ProviderOpenAI, openAICapabilities, req.Type); err != nil {
		return nil, err
	}
	if req.Type == domain.CapabilityImage {
		return nil, &domain.UnsupportedCapabilityError{Provider: domain.ProviderOpenAI, Capability: domain.CapabilityImage}
	}

	chatReq := a.buildChatRequest(req)
	chatReq["n"] = 1
	chatReq["stream"] = true

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
		return nil, wrapTransportError(domain.ProviderOpenAI, err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, apiError(domain.ProviderOpenAI, resp)
	}

	chunks := make(chan domain.StreamChunk, 64)
	go func() {
		defer close(chunks)
		defer resp.Body.Close()

		stream := newEventStream(resp.Body)
		for {
			_, data, err := stream.Next()
			if err != nil {
				if err != io.EOF {
					chunks <- domain.StreamChunk{Error: fmt.Sprintf("stream read failed: %v", err)}
				}
				chunks <- domain.StreamChunk{Done: true}
				return
			}

			if data == "[DONE]" {
				chunks <- domain.StreamChunk{Done: true}
				return
			}

			var frame struct {
				Choices []struct {
					Delta struct {
						Content string `json:"content"`
					} `json:"delta"`
				} `json:"choices"`
			}
			if err := json.Unmarshal([]byte(data), &frame); err != nil {
				continue
			}
			if len(frame.Choices) > 0 && frame.Choices[0].Delta.Content != "" {
				select {
				case chunks <- domain.StreamChunk{Delta: frame.Choices[0].Delta.Content}:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return chunks, nil
}
