// Package registry holds the static provider capability table and the
// per-task fallback chains used by provider selection.
package registry

import (
	"contentforge/internal/domain"
)

// capabilities is the static provider -> modality table
var capabilities = map[domain.Provider]domain.Capabilities{
	domain.ProviderOpenAI:     {Text: true, Image: true, Research: false, Multimodal: true},
	domain.ProviderAnthropic:  {Text: true, Image: false, Research: false, Multimodal: true},
	domain.ProviderGoogle:     {Text: true, Image: true, Research: false, Multimodal: true},
	domain.ProviderPerplexity: {Text: true, Image: false, Research: true, Multimodal: false},
	domain.ProviderRecraft:    {Text: false, Image: true, Research: false, Multimodal: false},
	domain.ProviderBedrock:    {Text: true, Image: false, Research: false, Multimodal: false},
}

// fallbackChains maps each task type to its ordered provider preference.
// The selector walks these in order; unknown tasks use defaultChain.
var fallbackChains = map[domain.TaskType][]domain.Provider{
	domain.TaskIdea:        {domain.ProviderOpenAI, domain.ProviderAnthropic, domain.ProviderGoogle},
	domain.TaskTitle:       {domain.ProviderOpenAI, domain.ProviderAnthropic, domain.ProviderGoogle},
	domain.TaskWriting:     {domain.ProviderAnthropic, domain.ProviderOpenAI, domain.ProviderGoogle, domain.ProviderBedrock},
	domain.TaskResearch:    {domain.ProviderPerplexity, domain.ProviderOpenAI, domain.ProviderGoogle},
	domain.TaskImagePrompt: {domain.ProviderAnthropic, domain.ProviderOpenAI},
	domain.TaskImage:       {domain.ProviderOpenAI, domain.ProviderRecraft, domain.ProviderGoogle},
	domain.TaskEdit:        {domain.ProviderAnthropic, domain.ProviderOpenAI, domain.ProviderGoogle},
}

// defaultChain is the global fallback for unknown task types
var defaultChain = []domain.Provider{
	domain.ProviderOpenAI,
	domain.ProviderAnthropic,
	domain.ProviderGoogle,
	domain.ProviderBedrock,
}

// requiredCapabilities maps each task type to the capabilities a provider
// must carry to serve it.
var requiredCapabilities = map[domain.TaskType][]domain.Capability{
	domain.TaskIdea:        {domain.CapabilityText},
	domain.TaskTitle:       {domain.CapabilityText},
	domain.TaskWriting:     {domain.CapabilityText},
	domain.TaskResearch:    {domain.CapabilityText, domain.CapabilityResearch},
	domain.TaskImagePrompt: {domain.CapabilityText},
	domain.TaskImage:       {domain.CapabilityImage},
	domain.TaskEdit:        {domain.CapabilityText},
}

// CapabilitiesFor returns the capability flags for a provider.
// Unknown providers have no capabilities.
func CapabilitiesFor(p domain.Provider) domain.Capabilities {
	return capabilities[p]
}

// Supports reports whether a provider carries every listed capability
func Supports(p domain.Provider, caps []domain.Capability) bool {
	return capabilities[p].HasAll(caps)
}

// FallbackChain returns the ordered provider chain for a task type.
// Unknown task types fall back to the global default chain.
func FallbackChain(task domain.TaskType) []domain.Provider {
	if chain, ok := fallbackChains[task]; ok {
		return chain
	}
	return defaultChain
}

// RequiredCapabilities returns the capabilities a task demands of its provider
func RequiredCapabilities(task domain.TaskType) []domain.Capability {
	if caps, ok := requiredCapabilities[task]; ok {
		return caps
	}
	return []domain.Capability{domain.CapabilityText}
}

// ResolveModel resolves the model for a credential and task using the
// precedence explicit per-task override -> task default -> provider default.
func ResolveModel(cred *domain.ProviderCredential, task domain.TaskType) string {
	if cred.ModelOverrides != nil {
		if model, ok := cred.ModelOverrides[task]; ok && model != "" {
			return model
		}
	}
	if task.IsImageTask() && cred.FallbackModel != "" && cred.DefaultModel == "" {
		return cred.FallbackModel
	}
	if cred.DefaultModel != "" {
		return cred.DefaultModel
	}
	return cred.FallbackModel
}
