package provider

import (
	"log/slog"

	"contentforge/internal/domain"
)

// textRate is USD per 1M tokens
type textRate struct {
	inputPer1M  float64
	outputPer1M float64
}

// textRates is the static per-model rate table. Approximate cost modeling:
// rates are a pluggable table, not vendor token-accounting parity.
var textRates = map[string]textRate{
	// OpenAI
	"gpt-4o":      {2.50, 10.00},
	"gpt-4o-mini": {0.15, 0.60},
	"gpt-4.1":     {2.00, 8.00},
	"o3-mini":     {1.10, 4.40},

	// Anthropic (direct and Bedrock model ids)
	"claude-sonnet-4":                {3.00, 15.00},
	"claude-opus-4":                  {15.00, 75.00},
	"claude-3-5-haiku":               {0.80, 4.00},
	"anthropic.claude-sonnet-4":      {3.00, 15.00},
	"us.anthropic.claude-sonnet-4-20250514-v1:0": {3.00, 15.00},

	// Google
	"gemini-2.5-pro":   {1.25, 10.00},
	"gemini-2.5-flash": {0.30, 2.50},

	// Perplexity
	"sonar":     {1.00, 1.00},
	"sonar-pro": {3.00, 15.00},
}

// imageRates is USD per generated image
var imageRates = map[string]float64{
	"gpt-image-1":            0.17,
	"dall-e-3":               0.08,
	"gemini-2.5-flash-image": 0.04,
	"recraftv3":              0.04,
}

// TextCost computes the cost of a text generation from the static rate
// table. Pure function, never touches the network. Unknown models cost 0
// and log a warning rather than failing the generation.
func TextCost(provider domain.Provider, model string, tokensIn, tokensOut int) float64 {
	rate, ok := textRates[model]
	if !ok {
		slog.Warn("no rate table entry for model, reporting zero cost",
			"provider", provider, "model", model)
		return 0
	}
	return float64(tokensIn)/1_000_000*rate.inputPer1M +
		float64(tokensOut)/1_000_000*rate.outputPer1M
}

// ImageCost computes the cost of an image generation per the static table.
// Unknown models cost 0 with a warning.
func ImageCost(provider domain.Provider, model string, count int) float64 {
	rate, ok := imageRates[model]
	if !ok {
		slog.Warn("no rate table entry for image model, reporting zero cost",
			"provider", provider, "model", model)
		return 0
	}
	return rate * float64(count)
}
