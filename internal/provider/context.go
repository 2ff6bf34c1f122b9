package provider

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"contentforge/internal/domain"
)

var titleCaser = cases.Title(language.English)

// FlattenContext concatenates the generation context into the final prompt
// in a fixed order: previous content, style guides, additional context,
// vertical directive. The order is deterministic so prompt construction is
// testable without a vendor call.
func FlattenContext(prompt string, ctx *domain.GenerationContext) string {
	if ctx == nil {
		return prompt
	}

	var b strings.Builder

	if len(ctx.PreviousContent) > 0 {
		b.WriteString("Previous content:\n")
		for _, prev := range ctx.PreviousContent {
			b.WriteString(excerpt(prev, 2000))
			b.WriteString("\n\n")
		}
	}

	if len(ctx.StyleGuides) > 0 {
		b.WriteString("Style guidelines:\n")
		for _, guide := range ctx.StyleGuides {
			b.WriteString(guide)
			b.WriteString("\n\n")
		}
	}

	if ctx.AdditionalContext != "" {
		b.WriteString("Additional context:\n")
		b.WriteString(ctx.AdditionalContext)
		b.WriteString("\n\n")
	}

	if ctx.Vertical != "" {
		b.WriteString("Write for the ")
		b.WriteString(titleCaser.String(ctx.Vertical))
		b.WriteString(" vertical.\n\n")
	}

	b.WriteString(prompt)
	return b.String()
}

// excerpt truncates long previous-content blocks at a rune boundary
func excerpt(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max]) + "…"
}
