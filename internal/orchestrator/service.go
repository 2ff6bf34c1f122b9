// Package orchestrator runs the full generation pipeline: provider
// selection, adapter dispatch with fallback, tree persistence, and usage
// accounting.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"contentforge/internal/analytics"
	"contentforge/internal/crypto"
	"contentforge/internal/domain"
	"contentforge/internal/provider"
	"contentforge/internal/registry"
	"contentforge/internal/selector"
	"contentforge/internal/storage"
	"contentforge/internal/telemetry"
)

// AdapterFactory builds a provider adapter from a resolved configuration.
// Injected so tests can substitute fakes for live vendor clients.
type AdapterFactory func(cfg *domain.ProviderConfig) (provider.Adapter, error)

// Params is one normalized generation request from the API surface
type Params struct {
	Task        domain.TaskType
	Mode        domain.GenerationMode
	Prompt      string
	Vertical    string
	Preferred   domain.Provider
	ParentID    *string
	OutputCount int
	Size        string
	Quality     string
	Style       string
	Settings    domain.GenerationSettings

	StyleGuideIDs     []string
	AdditionalContext string
}

// Result is the outcome of a completed generation
type Result struct {
	Nodes      []*domain.GenerationNode `json:"nodes"`
	Provider   domain.Provider          `json:"provider"`
	Model      string                   `json:"model"`
	DurationMS int64                    `json:"duration_ms"`
}

// Service coordinates selection, generation, persistence, and accounting
type Service struct {
	store      storage.Store
	selector   *selector.Selector
	analytics  *analytics.Aggregator
	metrics    *telemetry.Metrics
	encryption *crypto.EncryptionService
	newAdapter AdapterFactory
}

// New creates a Service. A nil factory uses the live provider adapters.
func New(store storage.Store, sel *selector.Selector, agg *analytics.Aggregator, metrics *telemetry.Metrics, enc *crypto.EncryptionService, factory AdapterFactory) *Service {
	if factory == nil {
		factory = provider.New
	}
	return &Service{
		store:      store,
		selector:   sel,
		analytics:  agg,
		metrics:    metrics,
		encryption: enc,
		newAdapter: factory,
	}
}

// Generate runs the pipeline for one request. Provider failures walk the
// fallback chain by excluding the failed provider and re-selecting; only
// when selection itself is exhausted does the caller see an error. Every
// attempt, successful or not, is recorded in the usage log.
func (s *Service) Generate(ctx context.Context, params *Params) (*Result, error) {
	if err := s.validate(params); err != nil {
		return nil, err
	}

	genCtx, snapshot, err := s.resolveContext(ctx, params)
	if err != nil {
		return nil, err
	}

	recorder := s.metrics.NewGenerationRecorder(string(params.Task))
	exclude := make(map[domain.Provider]struct{})
	var lastErr error
	var lastProvider domain.Provider

	for {
		cfg, selErr := s.selector.Select(ctx, selector.Request{
			Task:      params.Task,
			Preferred: params.Preferred,
			Exclude:   exclude,
		})
		if selErr != nil {
			var noProvider *domain.NoProviderAvailableError
			if errors.As(selErr, &noProvider) && lastErr != nil {
				// Chain exhausted after real attempts; surface the last
				// provider failure rather than the selection miss.
				recorder.RecordFailure(string(lastProvider), "", errorType(lastErr))
				return nil, lastErr
			}
			s.metrics.RecordSelectionFailure(string(params.Task))
			recorder.RecordFailure("", "", "no_provider")
			return nil, selErr
		}

		attemptStart := time.Now()
		result, genErr := s.attempt(ctx, cfg, params, genCtx)
		elapsed := time.Since(attemptStart)
		if genErr == nil {
			nodes, persistErr := s.persist(ctx, params, snapshot, result)
			if persistErr != nil {
				recorder.RecordFailure(string(cfg.Provider), cfg.Model, "persistence")
				return nil, persistErr
			}

			tokensIn, tokensOut, cost := totals(result)
			s.account(ctx, params, result, cost, true, "", contentLength(result), elapsed)
			recorder.RecordSuccess(string(cfg.Provider), cfg.Model, tokensIn, tokensOut, cost)

			return &Result{
				Nodes:      nodes,
				Provider:   result.Provider,
				Model:      result.Model,
				DurationMS: elapsed.Milliseconds(),
			}, nil
		}

		if !isFallbackEligible(genErr) {
			recorder.RecordFailure(string(cfg.Provider), cfg.Model, errorType(genErr))
			s.logFailure(ctx, params, cfg, genErr, elapsed)
			return nil, genErr
		}

		slog.Warn("provider attempt failed, trying next candidate",
			"task", params.Task,
			"provider", cfg.Provider,
			"error", genErr,
		)
		s.metrics.RecordFallback(string(params.Task), string(cfg.Provider))
		s.logFailure(ctx, params, cfg, genErr, elapsed)

		exclude[cfg.Provider] = struct{}{}
		lastErr = genErr
		lastProvider = cfg.Provider
	}
}

// attempt executes one generation against one provider
func (s *Service) attempt(ctx context.Context, cfg *domain.ProviderConfig, params *Params, genCtx *domain.GenerationContext) (*domain.GenerationResult, error) {
	adapter, err := s.newAdapter(cfg)
	if err != nil {
		return nil, &domain.ProviderError{Provider: cfg.Provider, Cause: err}
	}

	capType := domain.CapabilityText
	if params.Task.IsImageTask() {
		capType = domain.CapabilityImage
	}

	return adapter.Generate(ctx, &domain.GenerationRequest{
		Type:        capType,
		Model:       cfg.Model,
		Prompt:      params.Prompt,
		Context:     genCtx,
		OutputCount: params.OutputCount,
		Size:        params.Size,
		Quality:     params.Quality,
		Style:       params.Style,
		Settings:    params.Settings,
	})
}

// persist writes one node per output, plus image prompt rows for
// image-prompt tasks. Structured mode validates outputs against the
// task schema before accepting them as structured content.
func (s *Service) persist(ctx context.Context, params *Params, snapshot *domain.ContextSnapshot, result *domain.GenerationResult) ([]*domain.GenerationNode, error) {
	nodes := make([]*domain.GenerationNode, 0, len(result.Outputs))
	for _, out := range result.Outputs {
		content := out.Content
		if content == "" && out.URL != "" {
			content = out.URL
		}

		node := &domain.GenerationNode{
			ID:        uuid.NewString(),
			Type:      params.Task,
			Mode:      params.Mode,
			Content:   content,
			ParentID:  params.ParentID,
			Visible:   true,
			Vertical:  params.Vertical,
			Provider:  result.Provider,
			Model:     result.Model,
			Prompt:    params.Prompt,
			Context:   snapshot,
			TokensIn:  out.TokensIn,
			TokensOut: out.TokensOut,
			Cost:      out.Cost,
			Status:    domain.NodeStatusCompleted,
			CreatedAt: time.Now().UTC(),
		}

		if params.Mode == domain.ModeStructured {
			structured, err := validateStructured(params.Task, out.Content)
			if err != nil {
				// Keep the raw output; the node records that structuring failed.
				slog.Warn("structured output failed schema validation",
					"task", params.Task, "provider", result.Provider, "error", err)
				node.Status = domain.NodeStatusFailed
			} else {
				node.StructuredContent = structured
			}
		}

		if err := s.store.CreateNode(ctx, node); err != nil {
			return nil, &domain.PersistenceError{Op: "node create", Cause: err}
		}
		s.metrics.RecordNodeCreated(string(params.Task), string(node.Status))

		if params.Task == domain.TaskImagePrompt {
			if err := s.persistImagePrompts(ctx, node); err != nil {
				return nil, err
			}
		}

		nodes = append(nodes, node)
	}
	return nodes, nil
}

// persistImagePrompts splits an image-prompt node into ordered prompt rows.
// Each non-empty line becomes one prompt; final text starts as the original.
func (s *Service) persistImagePrompts(ctx context.Context, node *domain.GenerationNode) error {
	lines := splitPromptLines(node.Content)
	if len(lines) == 0 {
		return nil
	}

	prompts := make([]*domain.ImagePrompt, 0, len(lines))
	for i, line := range lines {
		prompts = append(prompts, &domain.ImagePrompt{
			ID:           uuid.NewString(),
			NodeID:       node.ID,
			OriginalText: line,
			FinalText:    line,
			Position:     i,
			CreatedAt:    time.Now().UTC(),
		})
	}
	if err := s.store.CreateImagePrompts(ctx, prompts); err != nil {
		return &domain.PersistenceError{Op: "image prompt create", Cause: err}
	}
	return nil
}

// resolveContext assembles the adapter context and the by-reference
// snapshot persisted on the node. Style guides resolve by id; the parent
// node's content becomes previous-content input.
func (s *Service) resolveContext(ctx context.Context, params *Params) (*domain.GenerationContext, *domain.ContextSnapshot, error) {
	genCtx := &domain.GenerationContext{
		AdditionalContext: params.AdditionalContext,
		Vertical:          params.Vertical,
	}

	if len(params.StyleGuideIDs) > 0 {
		guides, err := s.store.GetStyleGuides(ctx, params.StyleGuideIDs)
		if err != nil {
			return nil, nil, &domain.PersistenceError{Op: "style guide load", Cause: err}
		}
		for _, g := range guides {
			if g.Active {
				genCtx.StyleGuides = append(genCtx.StyleGuides, g.Content)
			}
		}
	}

	if params.ParentID != nil {
		detail, err := s.store.GetNode(ctx, *params.ParentID)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				return nil, nil, domain.NewValidationError("parent_id", "parent node does not exist")
			}
			return nil, nil, &domain.PersistenceError{Op: "parent load", Cause: err}
		}
		if detail.Node.Content != "" {
			genCtx.PreviousContent = append(genCtx.PreviousContent, detail.Node.Content)
		}
	}

	snapshot := &domain.ContextSnapshot{
		StyleGuideIDs:     params.StyleGuideIDs,
		AdditionalContext: params.AdditionalContext,
		Vertical:          params.Vertical,
	}
	return genCtx, snapshot, nil
}

// account records a usage log (and through it the analytics rollup)
func (s *Service) account(ctx context.Context, params *Params, result *domain.GenerationResult, cost float64, success bool, errMsg string, contentLength int, elapsed time.Duration) {
	tokensIn, tokensOut, _ := totals(result)
	log := &domain.UsageLog{
		Provider:      result.Provider,
		Model:         result.Model,
		TaskType:      params.Task,
		Vertical:      params.Vertical,
		TokensIn:      tokensIn,
		TokensOut:     tokensOut,
		Cost:          cost,
		DurationMS:    elapsed.Milliseconds(),
		Success:       success,
		ErrorMessage:  errMsg,
		ContentLength: contentLength,
	}
	if err := s.analytics.LogUsage(ctx, log); err != nil {
		slog.Error("usage accounting failed", "provider", result.Provider, "error", err)
	}

	if success && cost > 0 {
		if err := s.store.AddUsage(ctx, result.Provider, cost); err != nil {
			slog.Error("budget usage increment failed", "provider", result.Provider, "error", err)
		}
	}
}

// logFailure writes a success=false usage log for one failed attempt
func (s *Service) logFailure(ctx context.Context, params *Params, cfg *domain.ProviderConfig, genErr error, elapsed time.Duration) {
	s.account(ctx, params, &domain.GenerationResult{Provider: cfg.Provider, Model: cfg.Model}, 0, false, genErr.Error(), 0, elapsed)
}

// TestCredential decrypts a stored credential, runs a minimal live call,
// and records the outcome on the credential row.
func (s *Service) TestCredential(ctx context.Context, p domain.Provider) (bool, error) {
	cred, err := s.store.GetCredential(ctx, p)
	if err != nil {
		return false, err
	}
	if !cred.HasKey() {
		return false, domain.NewValidationError("provider", "no API key stored")
	}

	key, err := s.encryption.Decrypt(cred.EncryptedKey, cred.Salt)
	if err != nil {
		return false, fmt.Errorf("credential cannot be decrypted: %w", err)
	}

	cfg := &domain.ProviderConfig{
		Provider: p,
		APIKey:   key,
		Model:    registry.ResolveModel(cred, domain.TaskTitle),
	}
	adapter, err := s.newAdapter(cfg)
	if err != nil {
		return false, err
	}

	capType := domain.CapabilityText
	if !registry.Supports(p, []domain.Capability{domain.CapabilityText}) {
		capType = domain.CapabilityImage
	}

	maxTokens := int32(16)
	req := &domain.GenerationRequest{
		Type:        capType,
		Model:       cfg.Model,
		Prompt:      "Reply with the single word: ok",
		OutputCount: 1,
		Settings:    domain.GenerationSettings{MaxTokens: &maxTokens},
	}

	_, genErr := adapter.Generate(ctx, req)
	ok := genErr == nil
	if err := s.store.RecordTest(ctx, p, ok, time.Now().UTC()); err != nil {
		slog.Error("failed to record credential test", "provider", p, "error", err)
	}
	if genErr != nil {
		return false, genErr
	}
	return true, nil
}

// isFallbackEligible reports whether a generation error should trigger the
// next chain candidate instead of failing the request.
func isFallbackEligible(err error) bool {
	var pe *domain.ProviderError
	if errors.As(err, &pe) {
		return true
	}
	var uc *domain.UnsupportedCapabilityError
	return errors.As(err, &uc)
}

func errorType(err error) string {
	var pe *domain.ProviderError
	if errors.As(err, &pe) {
		if pe.IsRateLimited() {
			return "rate_limited"
		}
		return "provider"
	}
	var uc *domain.UnsupportedCapabilityError
	if errors.As(err, &uc) {
		return "unsupported_capability"
	}
	return "internal"
}

func totals(result *domain.GenerationResult) (tokensIn, tokensOut int, cost float64) {
	for _, out := range result.Outputs {
		tokensIn += out.TokensIn
		tokensOut += out.TokensOut
		cost += out.Cost
	}
	return tokensIn, tokensOut, cost
}

func contentLength(result *domain.GenerationResult) int {
	n := 0
	for _, out := range result.Outputs {
		n += len(out.Content)
	}
	return n
}

func splitPromptLines(content string) []string {
	var lines []string
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		line = strings.TrimLeft(line, "-*0123456789. ")
		if line != "" {
			lines = append(lines, line)
		}
	}
	return lines
}
