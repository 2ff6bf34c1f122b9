package provider

import (
	"strings"
	"testing"

	"contentforge/internal/domain"
)

func TestFlattenContext(t *testing.T) {
	t.Run("nil context passes prompt through", func(t *testing.T) {
		if got := FlattenContext("write a title", nil); got != "write a title" {
			t.Errorf("got %q", got)
		}
	})

	t.Run("sections appear in fixed order", func(t *testing.T) {
		got := FlattenContext("write the post", &domain.GenerationContext{
			PreviousContent:   []string{"the chosen idea"},
			StyleGuides:       []string{"be concise"},
			AdditionalContext: "target beginners",
			Vertical:          "fintech",
		})

		prev := strings.Index(got, "the chosen idea")
		style := strings.Index(got, "be concise")
		additional := strings.Index(got, "target beginners")
		vertical := strings.Index(got, "Fintech vertical")
		prompt := strings.Index(got, "write the post")

		for name, idx := range map[string]int{
			"previous": prev, "style": style, "additional": additional,
			"vertical": vertical, "prompt": prompt,
		} {
			if idx < 0 {
				t.Fatalf("section %s missing from flattened prompt", name)
			}
		}
		if !(prev < style && style < additional && additional < vertical && vertical < prompt) {
			t.Errorf("sections out of order: prev=%d style=%d additional=%d vertical=%d prompt=%d",
				prev, style, additional, vertical, prompt)
		}
	})

	t.Run("deterministic", func(t *testing.T) {
		ctx := &domain.GenerationContext{
			PreviousContent: []string{"a", "b"},
			StyleGuides:     []string{"x"},
			Vertical:        "health",
		}
		if FlattenContext("p", ctx) != FlattenContext("p", ctx) {
			t.Error("flattening must be deterministic")
		}
	})

	t.Run("long previous content truncated", func(t *testing.T) {
		long := strings.Repeat("w", 5000)
		got := FlattenContext("p", &domain.GenerationContext{PreviousContent: []string{long}})
		if strings.Contains(got, long) {
			t.Error("previous content should be excerpted, not embedded whole")
		}
	})
}

func TestCost(t *testing.T) {
	t.Run("known text model", func(t *testing.T) {
		// gpt-4o: $2.50/1M in, $10/1M out
		got := TextCost(domain.ProviderOpenAI, "gpt-4o", 1_000_000, 100_000)
		want := 2.50 + 1.00
		if got != want {
			t.Errorf("TextCost = %f, want %f", got, want)
		}
	})

	t.Run("unknown model costs zero", func(t *testing.T) {
		if got := TextCost(domain.ProviderOpenAI, "gpt-99-experimental", 1000, 1000); got != 0 {
			t.Errorf("unknown model should cost 0, got %f", got)
		}
		if got := ImageCost(domain.ProviderRecraft, "recraft-v99", 4); got != 0 {
			t.Errorf("unknown image model should cost 0, got %f", got)
		}
	})

	t.Run("image cost scales with count", func(t *testing.T) {
		one := ImageCost(domain.ProviderOpenAI, "dall-e-3", 1)
		three := ImageCost(domain.ProviderOpenAI, "dall-e-3", 3)
		if three != one*3 {
			t.Errorf("image cost should scale linearly: %f vs %f", one, three)
		}
	})
}
