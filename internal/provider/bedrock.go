package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"

	"contentforge/internal/domain"
)

var bedrockCapabilities = map[domain.Capability]bool{
	domain.CapabilityText: true,
}

// BedrockAdapter calls AWS Bedrock through the SDK runtime client.
// The stored credential is "accessKeyID:secretAccessKey[:region]";
// region defaults to us-east-1.
type BedrockAdapter struct {
	runtime *bedrockruntime.Client
	region  string
}

// NewBedrockAdapter creates a new Bedrock adapter from a packed credential
func NewBedrockAdapter(packedKey string, settings ConnectionSettings) (*BedrockAdapter, error) {
	parts := strings.SplitN(packedKey, ":", 3)
	if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
		return nil, fmt.Errorf("bedrock credential must be accessKeyID:secretAccessKey[:region]")
	}

	region := "us-east-1"
	if len(parts) == 3 && parts[2] != "" {
		region = parts[2]
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(),
		awsconfig.WithRegion(region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(parts[0], parts[1], "")),
		awsconfig.WithHTTPClient(BuildHTTPClient(settings)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return &BedrockAdapter{
		runtime: bedrockruntime.NewFromConfig(awsCfg),
		region:  region,
	}, nil
}

// Provider returns the provider type
func (a *BedrockAdapter) Provider() domain.Provider {
	return domain.ProviderBedrock
}

// Generate executes a normalized text generation request using the
// Anthropic messages payload Bedrock expects for Claude model ids.
func (a *BedrockAdapter) Generate(ctx context.Context, req *domain.GenerationRequest) (*domain.GenerationResult, error) {
	if err := requireCapability(domain.ProviderBedrock, bedrockCapabilities, req.Type); err != nil {
		return nil, err
	}

	count := req.OutputCount
	if count < 1 {
		count = 1
	}

	outputs := make([]domain.GenerationOutput, 0, count)
	for i := 0; i < count; i++ {
		out, err := a.invoke(ctx, req)
		if err != nil {
			return nil, err
		}
		outputs = append(outputs, *out)
	}

	return &domain.GenerationResult{
		Provider: domain.ProviderBedrock,
		Model:    req.Model,
		Outputs:  outputs,
	}, nil
}

func (a *BedrockAdapter) invoke(ctx context.Context, req *domain.GenerationRequest) (*domain.GenerationOutput, error) {
	maxTokens := int32(4096)
	if req.Settings.MaxTokens != nil {
		maxTokens = *req.Settings.MaxTokens
	}

	payload := map[string]any{
		"anthropic_version": "bedrock-2023-05-31",
		"max_tokens":        maxTokens,
		"messages": []map[string]any{
			{"role": "user", "content": FlattenContext(req.Prompt, req.Context)},
		},
	}
	if req.Settings.Temperature != nil {
		payload["temperature"] = *req.Settings.Temperature
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	resp, err := a.runtime.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
		ModelId:     aws.String(req.Model),
		ContentType: aws.String("application/json"),
		Accept:      aws.String("application/json"),
		Body:        body,
	})
	if err != nil {
		return nil, wrapTransportError(domain.ProviderBedrock, err)
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
	if err := json.Unmarshal(resp.Body, &result); err != nil {
		return nil, wrapTransportError(domain.ProviderBedrock, err)
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
		Cost:      TextCost(domain.ProviderBedrock, req.Model, result.Usage.InputTokens, result.Usage.OutputTokens),
		Metadata:  map[string]string{"stop_reason": result.StopReason, "region": a.region},
	}, nil
}
