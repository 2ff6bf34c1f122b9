package selector

import (
	"context"
	"errors"
	"testing"
	"time"

	"contentforge/internal/crypto"
	"contentforge/internal/domain"
	"contentforge/internal/storage"
)

func setup(t *testing.T) (*storage.MemoryStore, *crypto.EncryptionService, *Selector) {
	t.Helper()
	store := storage.NewMemoryStore()
	enc, err := crypto.NewEncryptionService("selector-test-secret")
	if err != nil {
		t.Fatalf("NewEncryptionService: %v", err)
	}
	return store, enc, New(store, enc)
}

func addCredential(t *testing.T, store *storage.MemoryStore, enc *crypto.EncryptionService, provider domain.Provider, model string, active bool) {
	t.Helper()
	ciphertext, salt, err := enc.Encrypt("sk-" + string(provider))
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	err = store.UpsertCredential(context.Background(), &domain.ProviderCredential{
		Provider:     provider,
		EncryptedKey: ciphertext,
		Salt:         salt,
		DefaultModel: model,
		Active:       active,
	})
	if err != nil {
		t.Fatalf("UpsertCredential: %v", err)
	}
}

func TestSelectFallbackChain(t *testing.T) {
	ctx := context.Background()

	t.Run("first active chain entry wins over preferred that is absent", func(t *testing.T) {
		store, enc, sel := setup(t)
		addCredential(t, store, enc, domain.ProviderAnthropic, "claude-sonnet-4", true)
		addCredential(t, store, enc, domain.ProviderOpenAI, "gpt-4o", true)

		cfg, err := sel.Select(ctx, Request{Task: domain.TaskWriting, Preferred: domain.ProviderGoogle})
		if err != nil {
			t.Fatalf("Select: %v", err)
		}
		if cfg.Provider != domain.ProviderAnthropic {
			t.Errorf("got %s, want anthropic (first writing-chain entry among active)", cfg.Provider)
		}
		if cfg.APIKey != "sk-anthropic" {
			t.Error("selected config should carry the decrypted key")
		}
		if cfg.Model != "claude-sonnet-4" {
			t.Errorf("model = %q, want claude-sonnet-4", cfg.Model)
		}
	})

	t.Run("only last chain entry active", func(t *testing.T) {
		store, enc, sel := setup(t)
		addCredential(t, store, enc, domain.ProviderBedrock, "anthropic.claude-sonnet-4", true)

		cfg, err := sel.Select(ctx, Request{Task: domain.TaskWriting})
		if err != nil {
			t.Fatalf("Select: %v", err)
		}
		if cfg.Provider != domain.ProviderBedrock {
			t.Errorf("got %s, want bedrock", cfg.Provider)
		}
	})

	t.Run("nothing active fails with NoProviderAvailable", func(t *testing.T) {
		store, enc, sel := setup(t)
		addCredential(t, store, enc, domain.ProviderOpenAI, "gpt-4o", false)

		_, err := sel.Select(ctx, Request{Task: domain.TaskWriting})
		var npa *domain.NoProviderAvailableError
		if !errors.As(err, &npa) {
			t.Fatalf("expected NoProviderAvailableError, got %v", err)
		}
		if npa.Task != domain.TaskWriting {
			t.Errorf("error should name the task, got %q", npa.Task)
		}
	})
}

func TestSelectPreferred(t *testing.T) {
	ctx := context.Background()

	t.Run("preferred provider short-circuits the chain", func(t *testing.T) {
		store, enc, sel := setup(t)
		addCredential(t, store, enc, domain.ProviderAnthropic, "claude-sonnet-4", true)
		addCredential(t, store, enc, domain.ProviderGoogle, "gemini-2.5-pro", true)

		cfg, err := sel.Select(ctx, Request{Task: domain.TaskWriting, Preferred: domain.ProviderGoogle})
		if err != nil {
			t.Fatalf("Select: %v", err)
		}
		if cfg.Provider != domain.ProviderGoogle {
			t.Errorf("got %s, want preferred google", cfg.Provider)
		}
	})

	t.Run("preferred without required capability is never selected", func(t *testing.T) {
		store, enc, sel := setup(t)
		addCredential(t, store, enc, domain.ProviderAnthropic, "claude-sonnet-4", true)
		addCredential(t, store, enc, domain.ProviderOpenAI, "gpt-image-1", true)

		cfg, err := sel.Select(ctx, Request{
			Task:                 domain.TaskImage,
			Preferred:            domain.ProviderAnthropic,
			RequiredCapabilities: []domain.Capability{domain.CapabilityImage},
		})
		if err != nil {
			t.Fatalf("Select: %v", err)
		}
		if cfg.Provider == domain.ProviderAnthropic {
			t.Error("capability gating must override preference")
		}
		if cfg.Provider != domain.ProviderOpenAI {
			t.Errorf("got %s, want openai", cfg.Provider)
		}
	})
}

func TestSelectFiltering(t *testing.T) {
	ctx := context.Background()

	t.Run("failed last test excludes the provider", func(t *testing.T) {
		store, enc, sel := setup(t)
		addCredential(t, store, enc, domain.ProviderAnthropic, "claude-sonnet-4", true)
		addCredential(t, store, enc, domain.ProviderOpenAI, "gpt-4o", true)
		store.RecordTest(ctx, domain.ProviderAnthropic, false, time.Now())

		cfg, err := sel.Select(ctx, Request{Task: domain.TaskWriting})
		if err != nil {
			t.Fatalf("Select: %v", err)
		}
		if cfg.Provider != domain.ProviderOpenAI {
			t.Errorf("got %s, want openai after anthropic failed its key test", cfg.Provider)
		}
	})

	t.Run("exhausted budget excludes the provider", func(t *testing.T) {
		store, enc, sel := setup(t)
		addCredential(t, store, enc, domain.ProviderAnthropic, "claude-sonnet-4", true)
		addCredential(t, store, enc, domain.ProviderOpenAI, "gpt-4o", true)

		cred, _ := store.GetCredential(ctx, domain.ProviderAnthropic)
		cred.MonthlyBudget = 10
		cred.CurrentUsage = 10
		store.UpsertCredential(ctx, cred)

		cfg, err := sel.Select(ctx, Request{Task: domain.TaskWriting})
		if err != nil {
			t.Fatalf("Select: %v", err)
		}
		if cfg.Provider != domain.ProviderOpenAI {
			t.Errorf("got %s, want openai after anthropic budget exhaustion", cfg.Provider)
		}
	})

	t.Run("corrupted ciphertext excludes only that provider", func(t *testing.T) {
		store, enc, sel := setup(t)
		addCredential(t, store, enc, domain.ProviderOpenAI, "gpt-4o", true)

		store.UpsertCredential(ctx, &domain.ProviderCredential{
			Provider:     domain.ProviderAnthropic,
			EncryptedKey: "Y29ycnVwdGVkLWJsb2ItY29ycnVwdGVkLWJsb2ItY29ycnVwdGVk",
			Salt:         "YWJjZGVmZ2hpamtsbW5vcA==",
			DefaultModel: "claude-sonnet-4",
			Active:       true,
		})

		cfg, err := sel.Select(ctx, Request{Task: domain.TaskWriting})
		if err != nil {
			t.Fatalf("selection should survive a single corrupted row: %v", err)
		}
		if cfg.Provider != domain.ProviderOpenAI {
			t.Errorf("got %s, want openai", cfg.Provider)
		}
	})

	t.Run("exclusion set skips already-failed providers", func(t *testing.T) {
		store, enc, sel := setup(t)
		addCredential(t, store, enc, domain.ProviderAnthropic, "claude-sonnet-4", true)
		addCredential(t, store, enc, domain.ProviderOpenAI, "gpt-4o", true)

		cfg, err := sel.Select(ctx, Request{
			Task:    domain.TaskWriting,
			Exclude: map[domain.Provider]struct{}{domain.ProviderAnthropic: {}},
		})
		if err != nil {
			t.Fatalf("Select: %v", err)
		}
		if cfg.Provider != domain.ProviderOpenAI {
			t.Errorf("got %s, want openai", cfg.Provider)
		}
	})
}

func TestSelectLastResort(t *testing.T) {
	ctx := context.Background()
	store, enc, sel := setup(t)

	// Perplexity is not in the image chain but satisfies a text requirement
	addCredential(t, store, enc, domain.ProviderPerplexity, "sonar-pro", true)

	cfg, err := sel.Select(ctx, Request{
		Task:                 domain.TaskType("unheard-of-task"),
		RequiredCapabilities: []domain.Capability{domain.CapabilityText},
	})
	if err != nil {
		t.Fatalf("last-resort pass should find perplexity: %v", err)
	}
	if cfg.Provider != domain.ProviderPerplexity {
		t.Errorf("got %s, want perplexity", cfg.Provider)
	}
}
