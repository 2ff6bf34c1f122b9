package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"contentforge/internal/domain"
)

const anthropicVersion = "2023-06-01"

var anthropicCapabilities = map[domain.Capability]bool{
	domain.CapabilityText:       true,
	domain.CapabilityMultimodal: true,
}

// AnthropicAdapter calls the Anthropic Messages API
type AnthropicAdapter struct {
	apiKey     string
	httpClient *http.Client
	baseURL    string
}

// NewAnthropicAdapter creates a new Anthropic adapter
func NewAnthropicAdapter(apiKey string, settings ConnectionSettings) *AnthropicAdapter {
	return &AnthropicAdapter{
		apiKey:     apiKey,
		httpClient: BuildHTTPClient(settings),
		baseURL:    "https://api.anthropic.com/v1",
	}
}

// Provider returns the provider type
func (a *AnthropicAdapter) Provider() domain.Provider {
	return domain.ProviderAnthropic
}

func (a *AnthropicAdapter) buildRequest(req *domain.GenerationRequest) map[string]any {
	maxTokens := int32(4096)
	if req.Settings.MaxTokens != nil {
		maxTokens = *req.Settings.MaxTokens
	}

	body := map[string]any{
		"model":      req.Model,
		"max_tokens": maxTokens,
		"messages": []map[string]any{
			{"role": "user", "content": FlattenContext(req.Prompt, req.Context)},
		},
	}
	if req.Settings.Temperature != nil {
		body["temperature"] = *req.Settings.Temperature
	}
	return body
}

// Generate executes a normalized generation request. The Messages API has
// no multi-choice parameter, so alternatives are issued as sequential calls.
func (a *AnthropicAdapter) Generate(ctx context.Context, req *domain.GenerationRequest) (*domain.GenerationResult, error) {
	if err := requireCapability(domain.ProviderAnthropic, anthropicCapabilities, req.Type); err != nil {
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
		Provider: domain.ProviderAnthropic,
		Model:    req.Model,
		Outputs:  outputs,
	}, nil
}

func (a *AnthropicAdapter) complete(ctx context.Context, req *domain.GenerationRequest) (*domain.GenerationOutput, error) {
	body, err := json.Marshal(a.buildRequest(req))
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", a.baseURL+"/messages", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", a.apiKey)
	httpReq.Header.Set("anthropic-version", anthropicVersion)

	resp, err := a.httpClient.Do(httpReq)
	if err != nil {
		return nil, wrapTransportError(domain.ProviderAnthropic, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, apiError(domain.ProviderAnthropic, resp)
	}

	var result struct {
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
		StopReason string `json:"stop_reason"`
		Usage      struct {
			InputTokens  int `json:"input_tokens"`
			OutputTokens int `json:"output_tokens"`
		} `json:"usage"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, wrapTransportError(domain.ProviderAnthropic, err)
	}

	var content string
	for _, block := range result.Content {
		if block.Type == "text" {
			content += block.Text
		}
	}

	return &domain.GenerationOutput{
		Content:   content,
		TokensIn:  result.Usage.InputTokens,
		TokensOut: result.Usage.OutputTokens,
		Cost:      TextCost(domain.ProviderAnthropic, req.Model, result.Usage.InputTokens, result.Usage.OutputTokens),
		Metadata:  map[string]string{"stop_reason": result.StopReason},
	}, nil
}

// GenerateStream starts a streaming text generation (implements Streamer)
func (a *AnthropicAdapter) GenerateStream(ctx context.Context, req *domain.GenerationRequest) (<-chan domain.StreamChunk, error) {
	if err := requireCapability(domain.ProviderAnthropic, anthropicCapabilities, req.Type); err != nil {
		return nil, err
	}

	msgReq := a.buildRequest(req)
	msgReq["stream"] = true

	body, err := json.Marshal(msgReq)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", a.baseURL+"/messages", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", a.apiKey)
	httpReq.Header.Set("anthropic-version", anthropicVersion)

	resp, err := a.httpClient.Do(httpReq)
	if err != nil {
		return nil, wrapTransportError(domain.ProviderAnthropic, err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, apiError(domain.ProviderAnthropic, resp)
	}

	chunks := make(chan domain.StreamChunk, 64)
	go func() {
		defer close(chunks)
		defer resp.Body.Close()

		stream := newEventStream(resp.Body)
		for {
			name, data, err := stream.Next()
			if err != nil {
				if err != io.EOF {
					chunks <- domain.StreamChunk{Error: fmt.Sprintf("stream read failed: %v", err)}
				}
				chunks <- domain.StreamChunk{Done: true}
				return
			}

			switch name {
			case "content_block_delta":
				var frame struct {
					Delta struct {
						Text string `json:"text"`
					} `json:"delta"`
				}
				if err := json.Unmarshal([]byte(data), &frame); err != nil {
					continue
				}
				if frame.Delta.Text != "" {
					select {
					case chunks <- domain.StreamChunk{Delta: frame.Delta.Text}:
					case <-ctx.Done():
						return
					}
				}
			case "message_stop":
				chunks <- domain.StreamChunk{Done: true}
				return
			}
		}
	}()

	return chunks, nil
}
