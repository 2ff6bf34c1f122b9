package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"contentforge/internal/domain"
)

var recraftCapabilities = map[domain.Capability]bool{
	domain.CapabilityImage: true,
}

// RecraftAdapter calls the Recraft image generation API
type RecraftAdapter struct {
	apiKey     string
	httpClient *http.Client
	baseURL    string
}

// NewRecraftAdapter creates a new Recraft adapter
func NewRecraftAdapter(apiKey string, settings ConnectionSettings) *RecraftAdapter {
	return &RecraftAdapter{
		apiKey:     apiKey,
		httpClient: BuildHTTPClient(settings),
		baseURL:    "https://external.api.recraft.ai/v1",
	}
}

// Provider returns the provider type
func (a *RecraftAdapter) Provider() domain.Provider {
	return domain.ProviderRecraft
}

// Generate executes a normalized image generation request
func (a *RecraftAdapter) Generate(ctx context.Context, req *domain.GenerationRequest) (*domain.GenerationResult, error) {
	if err := requireCapability(domain.ProviderRecraft, recraftCapabilities, req.Type); err != nil {
		return nil, err
	}

	count := req.OutputCount
	if count < 1 {
		count = 1
	}

	imageReq := map[string]any{
		"prompt": req.Prompt,
		"model":  req.Model,
		"n":      count,
	}
	if req.Size != "" {
		imageReq["size"] = req.Size
	}
	if req.Style != "" {
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
		return nil, wrapTransportError(domain.ProviderRecraft, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, apiError(domain.ProviderRecraft, resp)
	}

	var result struct {
		Data []struct {
			URL string `json:"url"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, wrapTransportError(domain.ProviderRecraft, err)
	}

	cost := ImageCost(domain.ProviderRecraft, req.Model, len(result.Data))
	outputs := make([]domain.GenerationOutput, 0, len(result.Data))
	for i, img := range result.Data {
		out := domain.GenerationOutput{URL: img.URL}
		if i == 0 {
			out.Cost = cost
		}
		outputs = append(outputs, out)
	}

	return &domain.GenerationResult{
		Provider: domain.ProviderRecraft,
		Model:    req.Model,
		Outputs:  outputs,
	}, nil
}
