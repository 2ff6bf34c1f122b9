// Package selector resolves a concrete, ready-to-use provider for a task.
package selector

import (
	"context"
	"fmt"
	"log/slog"

	"contentforge/internal/crypto"
	"contentforge/internal/domain"
	"contentforge/internal/registry"
	"contentforge/internal/storage"
)

// Request describes what the caller needs from provider selection
type Request struct {
	Task                 domain.TaskType
	Preferred            domain.Provider              // optional; empty means no preference
	RequiredCapabilities []domain.Capability          // defaults to the task's registry requirements
	Exclude              map[domain.Provider]struct{} // providers already tried and failed
}

// Selector resolves provider configurations from credential-store state.
// Selection is a pure function of that state: the only side effects are
// the decrypt calls, so results are valid for one request only.
type Selector struct {
	store      storage.CredentialStore
	encryption *crypto.EncryptionService
}

// New creates a Selector
func New(store storage.CredentialStore, encryption *crypto.EncryptionService) *Selector {
	return &Selector{store: store, encryption: encryption}
}

// candidate is a filtered credential with its decrypted key
type candidate struct {
	cred *domain.ProviderCredential
	key  string
}

// Select returns one concrete provider configuration for the request, or
// NoProviderAvailableError when the whole chain and the last-resort pass
// are exhausted.
func (s *Selector) Select(ctx context.Context, req Request) (*domain.ProviderConfig, error) {
	caps := req.RequiredCapabilities
	if caps == nil {
		caps = registry.RequiredCapabilities(req.Task)
	}

	candidates, err := s.loadCandidates(ctx, req.Exclude)
	if err != nil {
		return nil, err
	}

	// Preferred provider short-circuits when it is usable and capable
	if req.Preferred != "" {
		if c, ok := candidates[req.Preferred]; ok && registry.Supports(req.Preferred, caps) {
			return s.configFor(c, req.Task), nil
		}
	}

	// Walk the task's fallback chain
	for _, p := range registry.FallbackChain(req.Task) {
		if c, ok := candidates[p]; ok && registry.Supports(p, caps) {
			return s.configFor(c, req.Task), nil
		}
	}

	// Last-resort pass: any remaining provider that satisfies capabilities
	for p, c := range candidates {
		if registry.Supports(p, caps) {
			return s.configFor(c, req.Task), nil
		}
	}

	return nil, &domain.NoProviderAvailableError{Task: req.Task}
}

// loadCandidates loads all credentials, applies the availability invariant
// and budget filter, and decrypts each kept key. A decryption failure
// excludes only that provider.
func (s *Selector) loadCandidates(ctx context.Context, exclude map[domain.Provider]struct{}) (map[domain.Provider]candidate, error) {
	creds, err := s.store.ListCredentials(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load credentials: %w", err)
	}

	candidates := make(map[domain.Provider]candidate, len(creds))
	for _, cred := range creds {
		if _, skip := exclude[cred.Provider]; skip {
			continue
		}
		if !cred.Available() || cred.OverBudget() {
			continue
		}

		key, err := s.encryption.Decrypt(cred.EncryptedKey, cred.Salt)
		if err != nil {
			// Tampering or secret rotation mismatch. Exclude this provider,
			// never the whole selection.
			slog.Error("credential decryption failed, excluding provider",
				"provider", cred.Provider,
				"has_key", cred.HasKey(),
				"error", err,
			)
			continue
		}

		candidates[cred.Provider] = candidate{cred: cred, key: key}
	}

	return candidates, nil
}

func (s *Selector) configFor(c candidate, task domain.TaskType) *domain.ProviderConfig {
	return &domain.ProviderConfig{
		Provider: c.cred.Provider,
		APIKey:   c.key,
		Model:    registry.ResolveModel(c.cred, task),
	}
}
