// Package provider implements generation adapters for external AI vendors.
//
// Each adapter normalizes one vendor's request/response shapes into the
// domain contract; vendor-specific fields never leak past this boundary.
// Adapters are constructed per call from a resolved ProviderConfig so a
// credential rotation takes effect on the next request.
package provider

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"contentforge/internal/domain"
)

// Adapter executes one normalized generation request against a vendor
type Adapter interface {
	Provider() domain.Provider
	Generate(ctx context.Context, req *domain.GenerationRequest) (*domain.GenerationResult, error)
}

// Streamer is implemented by adapters that can stream text generation
type Streamer interface {
	GenerateStream(ctx context.Context, req *domain.GenerationRequest) (<-chan domain.StreamChunk, error)
}

// ConnectionSettings control the vendor HTTP client
type ConnectionSettings struct {
	RequestTimeout time.Duration
	MaxIdleConns   int
}

// DefaultConnectionSettings returns conservative vendor-call defaults
func DefaultConnectionSettings() ConnectionSettings {
	return ConnectionSettings{
		RequestTimeout: 120 * time.Second,
		MaxIdleConns:   10,
	}
}

// BuildHTTPClient creates an HTTP client with the specified connection settings
func BuildHTTPClient(settings ConnectionSettings) *http.Client {
	transport := &http.Transport{
		MaxIdleConns:        settings.MaxIdleConns,
		MaxIdleConnsPerHost: settings.MaxIdleConns,
		IdleConnTimeout:     90 * time.Second,
		ForceAttemptHTTP2:   true,
	}

	return &http.Client{
		Timeout:   settings.RequestTimeout,
		Transport: transport,
	}
}

// New constructs the adapter for a resolved provider configuration.
// Construction is cheap and intentionally happens once per request.
func New(cfg *domain.ProviderConfig) (Adapter, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%s API key not configured", cfg.Provider)
	}

	settings := DefaultConnectionSettings()

	switch cfg.Provider {
	case domain.ProviderOpenAI:
		return NewOpenAIAdapter(cfg.APIKey, settings), nil
	case domain.ProviderAnthropic:
		return NewAnthropicAdapter(cfg.APIKey, settings), nil
	case domain.ProviderGoogle:
		return NewGeminiAdapter(cfg.APIKey, settings), nil
	case domain.ProviderPerplexity:
		return NewPerplexityAdapter(cfg.APIKey, settings), nil
	case domain.ProviderRecraft:
		return NewRecraftAdapter(cfg.APIKey, settings), nil
	case domain.ProviderBedrock:
		return NewBedrockAdapter(cfg.APIKey, settings)
	default:
		return nil, fmt.Errorf("unknown provider: %s", cfg.Provider)
	}
}

// wrapTransportError wraps any vendor transport failure into a ProviderError
func wrapTransportError(p domain.Provider, err error) error {
	return &domain.ProviderError{Provider: p, Cause: err}
}

// apiError drains the response body and wraps a non-2xx vendor status.
// Bodies are capped so a misbehaving vendor cannot blow up error strings.
func apiError(p domain.Provider, resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
	return &domain.ProviderError{
		Provider:   p,
		StatusCode: resp.StatusCode,
		Cause:      fmt.Errorf("API error: %s - %s", resp.Status, string(body)),
	}
}

// requireCapability fails fast with UnsupportedCapability when an adapter
// is asked for a modality it cannot serve. Never silently degrades.
func requireCapability(p domain.Provider, supported map[domain.Capability]bool, requested domain.Capability) error {
	if !supported[requested] {
		return &domain.UnsupportedCapabilityError{Provider: p, Capability: requested}
	}
	return nil
}
