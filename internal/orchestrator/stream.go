package orchestrator

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"contentforge/internal/domain"
	"contentforge/internal/provider"
	"contentforge/internal/selector"
)

// GenerateStream runs the pipeline in streaming mode for text tasks.
// Selection happens once up front; there is no mid-stream fallback. The
// finished text is persisted as a node and accounted exactly like a
// non-streamed generation, token counts excepted since streaming vendors
// do not report usage on every wire shape.
func (s *Service) GenerateStream(ctx context.Context, params *Params) (<-chan domain.StreamChunk, error) {
	if err := s.validate(params); err != nil {
		return nil, err
	}
	if params.Task.IsImageTask() {
		return nil, domain.NewValidationError("task", "image tasks cannot stream")
	}

	genCtx, snapshot, err := s.resolveContext(ctx, params)
	if err != nil {
		return nil, err
	}

	cfg, err := s.selector.Select(ctx, selector.Request{
		Task:      params.Task,
		Preferred: params.Preferred,
	})
	if err != nil {
		s.metrics.RecordSelectionFailure(string(params.Task))
		return nil, err
	}

	adapter, err := s.newAdapter(cfg)
	if err != nil {
		return nil, &domain.ProviderError{Provider: cfg.Provider, Cause: err}
	}
	streamer, ok := adapter.(provider.Streamer)
	if !ok {
		return nil, domain.NewValidationError("provider", string(cfg.Provider)+" does not support streaming")
	}

	start := time.Now()
	inner, err := streamer.GenerateStream(ctx, &domain.GenerationRequest{
		Type:     domain.CapabilityText,
		Model:    cfg.Model,
		Prompt:   params.Prompt,
		Context:  genCtx,
		Settings: params.Settings,
		Stream:   true,
	})
	if err != nil {
		s.logFailure(ctx, params, cfg, err, time.Since(start))
		return nil, err
	}

	out := make(chan domain.StreamChunk)
	s.metrics.StreamConnections.Inc()

	go func() {
		defer close(out)
		defer s.metrics.StreamConnections.Dec()

		var text string
		for chunk := range inner {
			if chunk.Error != "" {
				s.account(ctx, params, &domain.GenerationResult{Provider: cfg.Provider, Model: cfg.Model},
					0, false, chunk.Error, len(text), time.Since(start))
				deliver(ctx, out, chunk)
				return
			}
			text += chunk.Delta
			if chunk.Done {
				s.finishStream(params, snapshot, cfg, text, time.Since(start))
				deliver(ctx, out, chunk)
				return
			}
			if !deliver(ctx, out, chunk) {
				return
			}
		}
	}()

	return out, nil
}

func deliver(ctx context.Context, out chan<- domain.StreamChunk, chunk domain.StreamChunk) bool {
	select {
	case out <- chunk:
		return true
	case <-ctx.Done():
		return false
	}
}

// finishStream persists the accumulated text and records usage. Runs with
// a fresh context so a client disconnect after the final chunk cannot lose
// the completed node.
func (s *Service) finishStream(params *Params, snapshot *domain.ContextSnapshot, cfg *domain.ProviderConfig, text string, elapsed time.Duration) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	node := &domain.GenerationNode{
		ID:        uuid.NewString(),
		Type:      params.Task,
		Mode:      params.Mode,
		Content:   text,
		ParentID:  params.ParentID,
		Visible:   true,
		Vertical:  params.Vertical,
		Provider:  cfg.Provider,
		Model:     cfg.Model,
		Prompt:    params.Prompt,
		Context:   snapshot,
		Status:    domain.NodeStatusCompleted,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.store.CreateNode(ctx, node); err != nil {
		slog.Error("failed to persist streamed node", "provider", cfg.Provider, "error", err)
		return
	}
	s.metrics.RecordNodeCreated(string(params.Task), string(node.Status))

	log := &domain.UsageLog{
		Provider:      cfg.Provider,
		Model:         cfg.Model,
		TaskType:      params.Task,
		Vertical:      params.Vertical,
		DurationMS:    elapsed.Milliseconds(),
		Success:       true,
		ContentLength: len(text),
	}
	if err := s.analytics.LogUsage(ctx, log); err != nil {
		slog.Error("usage accounting failed for stream", "provider", cfg.Provider, "error", err)
	}
}
