package orchestrator

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"contentforge/internal/analytics"
	"contentforge/internal/crypto"
	"contentforge/internal/domain"
	"contentforge/internal/provider"
	"contentforge/internal/selector"
	"contentforge/internal/storage"
	"contentforge/internal/telemetry"
)

type fakeAdapter struct {
	provider domain.Provider
	result   *domain.GenerationResult
	err      error
	chunks   []domain.StreamChunk
	delay    time.Duration
}

func (f *fakeAdapter) Provider() domain.Provider { return f.provider }

func (f *fakeAdapter) Generate(ctx context.Context, req *domain.GenerationRequest) (*domain.GenerationResult, error) {
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

func (f *fakeAdapter) GenerateStream(ctx context.Context, req *domain.GenerationRequest) (<-chan domain.StreamChunk, error) {
	if f.err != nil {
		return nil, f.err
	}
	ch := make(chan domain.StreamChunk, len(f.chunks))
	for _, c := range f.chunks {
		ch <- c
	}
	close(ch)
	return ch, nil
}

type harness struct {
	store    *storage.MemoryStore
	service  *Service
	adapters map[domain.Provider]*fakeAdapter
	enc      *crypto.EncryptionService
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	enc, err := crypto.NewEncryptionService("test-master-secret")
	if err != nil {
		t.Fatalf("NewEncryptionService: %v", err)
	}

	store := storage.NewMemoryStore()
	adapters := make(map[domain.Provider]*fakeAdapter)
	factory := func(cfg *domain.ProviderConfig) (provider.Adapter, error) {
		a, ok := adapters[cfg.Provider]
		if !ok {
			t.Fatalf("no fake adapter for %s", cfg.Provider)
		}
		return a, nil
	}

	metrics := telemetry.NewMetrics(prometheus.NewRegistry())
	service := New(store, selector.New(store, enc), analytics.New(store), metrics, enc, factory)

	return &harness{store: store, service: service, adapters: adapters, enc: enc}
}

func (h *harness) seedCredential(t *testing.T, p domain.Provider, model string) {
	t.Helper()
	cipher, salt, err := h.enc.Encrypt("sk-" + string(p))
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	err = h.store.UpsertCredential(context.Background(), &domain.ProviderCredential{
		Provider:     p,
		EncryptedKey: cipher,
		Salt:         salt,
		DefaultModel: model,
		Active:       true,
	})
	if err != nil {
		t.Fatalf("UpsertCredential: %v", err)
	}
}

func textResult(p domain.Provider, model, content string) *domain.GenerationResult {
	return &domain.GenerationResult{
		Provider: p,
		Model:    model,
		Outputs: []domain.GenerationOutput{
			{Content: content, TokensIn: 10, TokensOut: 5, Cost: 0.02},
		},
	}
}

func TestGeneratePersistsAndAccounts(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.seedCredential(t, domain.ProviderAnthropic, "claude-sonnet-4")
	h.adapters[domain.ProviderAnthropic] = &fakeAdapter{
		provider: domain.ProviderAnthropic,
		result:   textResult(domain.ProviderAnthropic, "claude-sonnet-4", "the draft"),
	}

	result, err := h.service.Generate(ctx, &Params{
		Task:     domain.TaskWriting,
		Prompt:   "write the post",
		Vertical: "fintech",
	})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	if result.Provider != domain.ProviderAnthropic {
		t.Errorf("provider = %s", result.Provider)
	}
	if len(result.Nodes) != 1 {
		t.Fatalf("nodes = %d, want 1", len(result.Nodes))
	}

	node := result.Nodes[0]
	if node.Content != "the draft" || node.Status != domain.NodeStatusCompleted {
		t.Errorf("node not persisted as expected: %+v", node)
	}
	if node.Selected {
		t.Error("new nodes must not be auto-selected")
	}

	detail, err := h.store.GetNode(ctx, node.ID)
	if err != nil {
		t.Fatalf("GetNode: %v", err)
	}
	if detail.Node.Vertical != "fintech" {
		t.Errorf("vertical = %q", detail.Node.Vertical)
	}

	// usage accounting: one success log, budget usage incremented
	stats, err := h.store.UsageStats(ctx, time.Now().Add(-time.Hour))
	if err != nil {
		t.Fatalf("UsageStats: %v", err)
	}
	if stats.TotalGenerations != 1 || stats.SuccessRate != 100 {
		t.Errorf("stats = %+v", stats)
	}

	cred, _ := h.store.GetCredential(ctx, domain.ProviderAnthropic)
	if cred.CurrentUsage != 0.02 {
		t.Errorf("budget usage = %f, want 0.02", cred.CurrentUsage)
	}
}

func TestGenerateRecordsDuration(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.seedCredential(t, domain.ProviderAnthropic, "claude-sonnet-4")
	h.adapters[domain.ProviderAnthropic] = &fakeAdapter{
		provider: domain.ProviderAnthropic,
		result:   textResult(domain.ProviderAnthropic, "claude-sonnet-4", "slow draft"),
		delay:    30 * time.Millisecond,
	}

	result, err := h.service.Generate(ctx, &Params{Task: domain.TaskWriting, Prompt: "write"})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if result.DurationMS < 30 {
		t.Errorf("result duration = %dms, want >= 30", result.DurationMS)
	}

	// the usage log carries the attempt duration, so the rolled-up average
	// must reflect it too
	stats, err := h.store.UsageStats(ctx, time.Now().Add(-time.Hour))
	if err != nil {
		t.Fatalf("UsageStats: %v", err)
	}
	if stats.AverageDuration < 30 {
		t.Errorf("average duration = %fms, want >= 30", stats.AverageDuration)
	}
}

func TestGenerateFallsBackOnProviderError(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.seedCredential(t, domain.ProviderAnthropic, "claude-sonnet-4")
	h.seedCredential(t, domain.ProviderOpenAI, "gpt-4o")

	h.adapters[domain.ProviderAnthropic] = &fakeAdapter{
		provider: domain.ProviderAnthropic,
		err:      &domain.ProviderError{Provider: domain.ProviderAnthropic, StatusCode: 500},
	}
	h.adapters[domain.ProviderOpenAI] = &fakeAdapter{
		provider: domain.ProviderOpenAI,
		result:   textResult(domain.ProviderOpenAI, "gpt-4o", "fallback draft"),
	}

	result, err := h.service.Generate(ctx, &Params{Task: domain.TaskWriting, Prompt: "write"})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if result.Provider != domain.ProviderOpenAI {
		t.Errorf("fallback should land on openai, got %s", result.Provider)
	}

	// the failed attempt and the success are both in the usage log
	stats, _ := h.store.UsageStats(ctx, time.Now().Add(-time.Hour))
	if stats.TotalGenerations != 2 {
		t.Errorf("usage logs = %d, want 2 (one failed attempt, one success)", stats.TotalGenerations)
	}
	if stats.SuccessRate != 50 {
		t.Errorf("success rate = %f, want 50", stats.SuccessRate)
	}
}

func TestGenerateChainExhausted(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.seedCredential(t, domain.ProviderAnthropic, "claude-sonnet-4")
	h.adapters[domain.ProviderAnthropic] = &fakeAdapter{
		provider: domain.ProviderAnthropic,
		err:      &domain.ProviderError{Provider: domain.ProviderAnthropic, StatusCode: 429},
	}

	_, err := h.service.Generate(ctx, &Params{Task: domain.TaskWriting, Prompt: "write"})

	var pe *domain.ProviderError
	if !errors.As(err, &pe) {
		t.Fatalf("exhausted chain should surface the last provider error, got %v", err)
	}
	if !pe.IsRateLimited() {
		t.Error("last failure detail should survive")
	}
}

func TestGenerateNoProviderAvailable(t *testing.T) {
	h := newHarness(t)

	_, err := h.service.Generate(context.Background(), &Params{Task: domain.TaskWriting, Prompt: "write"})

	var noProvider *domain.NoProviderAvailableError
	if !errors.As(err, &noProvider) {
		t.Fatalf("expected NoProviderAvailableError, got %v", err)
	}
	if noProvider.Task != domain.TaskWriting {
		t.Errorf("error should name the task, got %q", noProvider.Task)
	}
}

func TestValidation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	t.Run("unknown task suggests closest", func(t *testing.T) {
		_, err := h.service.Generate(ctx, &Params{Task: "writng", Prompt: "x"})
		var ve *domain.ValidationError
		if !errors.As(err, &ve) {
			t.Fatalf("expected ValidationError, got %v", err)
		}
		if !strings.Contains(ve.Message, `"writing"`) {
			t.Errorf("message should suggest writing: %q", ve.Message)
		}
	})

	t.Run("empty prompt rejected", func(t *testing.T) {
		_, err := h.service.Generate(ctx, &Params{Task: domain.TaskTitle})
		var ve *domain.ValidationError
		if !errors.As(err, &ve) {
			t.Fatalf("expected ValidationError, got %v", err)
		}
	})

	t.Run("output count capped", func(t *testing.T) {
		_, err := h.service.Generate(ctx, &Params{Task: domain.TaskTitle, Prompt: "x", OutputCount: 50})
		var ve *domain.ValidationError
		if !errors.As(err, &ve) {
			t.Fatalf("expected ValidationError, got %v", err)
		}
	})

	t.Run("structured mode rejected for image tasks", func(t *testing.T) {
		_, err := h.service.Generate(ctx, &Params{Task: domain.TaskImage, Mode: domain.ModeStructured, Prompt: "x"})
		var ve *domain.ValidationError
		if !errors.As(err, &ve) {
			t.Fatalf("expected ValidationError, got %v", err)
		}
	})
}

func TestStructuredMode(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.seedCredential(t, domain.ProviderOpenAI, "gpt-4o")

	t.Run("valid output stored as structured content", func(t *testing.T) {
		h.adapters[domain.ProviderOpenAI] = &fakeAdapter{
			provider: domain.ProviderOpenAI,
			result: textResult(domain.ProviderOpenAI, "gpt-4o",
				"```json\n{\"ideas\":[{\"title\":\"Go generics\",\"description\":\"a deep dive\"}]}\n```"),
		}

		result, err := h.service.Generate(ctx, &Params{
			Task: domain.TaskIdea, Mode: domain.ModeStructured, Prompt: "ideas please",
		})
		if err != nil {
			t.Fatalf("Generate: %v", err)
		}
		node := result.Nodes[0]
		if node.StructuredContent == "" {
			t.Fatal("structured content should be set")
		}
		if strings.Contains(node.StructuredContent, "```") {
			t.Error("markdown fences should be stripped")
		}
		if node.Status != domain.NodeStatusCompleted {
			t.Errorf("status = %s", node.Status)
		}
	})

	t.Run("invalid output keeps raw content, marks node failed", func(t *testing.T) {
		h.adapters[domain.ProviderOpenAI] = &fakeAdapter{
			provider: domain.ProviderOpenAI,
			result:   textResult(domain.ProviderOpenAI, "gpt-4o", "sorry, here are some ideas in prose"),
		}

		result, err := h.service.Generate(ctx, &Params{
			Task: domain.TaskIdea, Mode: domain.ModeStructured, Prompt: "ideas please",
		})
		if err != nil {
			t.Fatalf("Generate: %v", err)
		}
		node := result.Nodes[0]
		if node.StructuredContent != "" {
			t.Error("schema-invalid output must not be stored as structured")
		}
		if node.Status != domain.NodeStatusFailed {
			t.Errorf("status = %s, want failed", node.Status)
		}
		if node.Content == "" {
			t.Error("raw content should be kept for inspection")
		}
	})
}

func TestImagePromptPersistence(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.seedCredential(t, domain.ProviderAnthropic, "claude-sonnet-4")
	h.adapters[domain.ProviderAnthropic] = &fakeAdapter{
		provider: domain.ProviderAnthropic,
		result: textResult(domain.ProviderAnthropic, "claude-sonnet-4",
			"1. a lighthouse at dusk\n2. waves crashing on rocks\n\n3. gulls overhead"),
	}

	result, err := h.service.Generate(ctx, &Params{Task: domain.TaskImagePrompt, Prompt: "prompts for the post"})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	detail, err := h.store.GetNode(ctx, result.Nodes[0].ID)
	if err != nil {
		t.Fatalf("GetNode: %v", err)
	}
	if len(detail.ImagePrompts) != 3 {
		t.Fatalf("image prompts = %d, want 3", len(detail.ImagePrompts))
	}
	if detail.ImagePrompts[0].OriginalText != "a lighthouse at dusk" {
		t.Errorf("list markers should be stripped: %q", detail.ImagePrompts[0].OriginalText)
	}
	for i, p := range detail.ImagePrompts {
		if p.Position != i {
			t.Errorf("prompt %d has position %d", i, p.Position)
		}
		if p.FinalText != p.OriginalText {
			t.Errorf("final text should start as the original: %+v", p)
		}
	}
}

func TestGenerateChildInheritsParentContent(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.seedCredential(t, domain.ProviderAnthropic, "claude-sonnet-4")

	root := &domain.GenerationNode{
		ID: "root-1", Type: domain.TaskIdea, Content: "the chosen idea",
		Visible: true, Status: domain.NodeStatusCompleted, CreatedAt: time.Now(),
	}
	if err := h.store.CreateNode(ctx, root); err != nil {
		t.Fatalf("CreateNode: %v", err)
	}

	h.adapters[domain.ProviderAnthropic] = &fakeAdapter{
		provider: domain.ProviderAnthropic,
		result:   textResult(domain.ProviderAnthropic, "claude-sonnet-4", "draft from idea"),
	}

	parentID := root.ID
	result, err := h.service.Generate(ctx, &Params{
		Task: domain.TaskWriting, Prompt: "write it", ParentID: &parentID,
	})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	node := result.Nodes[0]
	if node.RootID == nil || *node.RootID != root.ID {
		t.Errorf("child should resolve root from parent, got %v", node.RootID)
	}

	t.Run("missing parent rejected", func(t *testing.T) {
		missing := "no-such-node"
		_, err := h.service.Generate(ctx, &Params{Task: domain.TaskWriting, Prompt: "x", ParentID: &missing})
		var ve *domain.ValidationError
		if !errors.As(err, &ve) {
			t.Fatalf("expected ValidationError for missing parent, got %v", err)
		}
	})
}

func TestGenerateStream(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.seedCredential(t, domain.ProviderAnthropic, "claude-sonnet-4")
	h.adapters[domain.ProviderAnthropic] = &fakeAdapter{
		provider: domain.ProviderAnthropic,
		chunks: []domain.StreamChunk{
			{Delta: "Hel"}, {Delta: "lo"}, {Done: true},
		},
	}

	chunks, err := h.service.GenerateStream(ctx, &Params{Task: domain.TaskWriting, Prompt: "write"})
	if err != nil {
		t.Fatalf("GenerateStream: %v", err)
	}

	var text string
	for c := range chunks {
		if c.Error != "" {
			t.Fatalf("stream error: %s", c.Error)
		}
		if c.Done {
			break
		}
		text += c.Delta
	}
	if text != "Hello" {
		t.Errorf("streamed text = %q", text)
	}

	// the finished text lands in the tree; persistence runs detached from
	// the request context, so give it a moment
	deadline := time.Now().Add(2 * time.Second)
	for {
		stats, _ := h.store.UsageStats(ctx, time.Now().Add(-time.Hour))
		if stats.TotalGenerations == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("streamed generation was never accounted")
		}
		time.Sleep(10 * time.Millisecond)
	}

	t.Run("image tasks cannot stream", func(t *testing.T) {
		_, err := h.service.GenerateStream(ctx, &Params{Task: domain.TaskImage, Prompt: "x"})
		var ve *domain.ValidationError
		if !errors.As(err, &ve) {
			t.Fatalf("expected ValidationError, got %v", err)
		}
	})
}

func TestTestCredential(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.seedCredential(t, domain.ProviderOpenAI, "gpt-4o")

	t.Run("success recorded", func(t *testing.T) {
		h.adapters[domain.ProviderOpenAI] = &fakeAdapter{
			provider: domain.ProviderOpenAI,
			result:   textResult(domain.ProviderOpenAI, "gpt-4o", "ok"),
		}
		ok, err := h.service.TestCredential(ctx, domain.ProviderOpenAI)
		if err != nil || !ok {
			t.Fatalf("TestCredential = %v, %v", ok, err)
		}
		cred, _ := h.store.GetCredential(ctx, domain.ProviderOpenAI)
		if cred.LastTestOK == nil || !*cred.LastTestOK {
			t.Error("successful test should be recorded on the credential")
		}
	})

	t.Run("failure recorded", func(t *testing.T) {
		h.adapters[domain.ProviderOpenAI] = &fakeAdapter{
			provider: domain.ProviderOpenAI,
			err:      &domain.ProviderError{Provider: domain.ProviderOpenAI, StatusCode: 401},
		}
		ok, err := h.service.TestCredential(ctx, domain.ProviderOpenAI)
		if ok || err == nil {
			t.Fatal("failed test should return the provider error")
		}
		cred, _ := h.store.GetCredential(ctx, domain.ProviderOpenAI)
		if cred.LastTestOK == nil || *cred.LastTestOK {
			t.Error("failed test should be recorded on the credential")
		}
	})

	t.Run("missing credential", func(t *testing.T) {
		_, err := h.service.TestCredential(ctx, domain.ProviderRecraft)
		if !errors.Is(err, domain.ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
	})
}
