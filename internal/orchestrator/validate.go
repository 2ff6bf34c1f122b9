package orchestrator

import (
	"fmt"

	"github.com/agnivade/levenshtein"

	"contentforge/internal/domain"
)

const maxOutputCount = 10

var knownTasks = []domain.TaskType{
	domain.TaskIdea, domain.TaskTitle, domain.TaskWriting, domain.TaskResearch,
	domain.TaskImagePrompt, domain.TaskImage, domain.TaskEdit,
}

var knownModes = map[domain.GenerationMode]bool{
	domain.ModeDirect:       true,
	domain.ModeStructured:   true,
	domain.ModeEditExisting: true,
}

func (s *Service) validate(params *Params) error {
	if params.Prompt == "" {
		return domain.NewValidationError("prompt", "must not be empty")
	}

	if !taskKnown(params.Task) {
		msg := fmt.Sprintf("unknown task type %q", params.Task)
		if suggestion := closestTask(string(params.Task)); suggestion != "" {
			msg = fmt.Sprintf("%s, did you mean %q?", msg, suggestion)
		}
		return domain.NewValidationError("task", msg)
	}

	if params.Mode == "" {
		params.Mode = domain.ModeDirect
	}
	if !knownModes[params.Mode] {
		return domain.NewValidationError("mode", fmt.Sprintf("unknown generation mode %q", params.Mode))
	}
	if params.Mode == domain.ModeStructured && params.Task.IsImageTask() {
		return domain.NewValidationError("mode", "structured mode applies to text tasks only")
	}
	if params.Mode == domain.ModeEditExisting && params.ParentID == nil {
		return domain.NewValidationError("parent_id", "edit_existing mode requires a parent node")
	}

	if params.OutputCount < 0 || params.OutputCount > maxOutputCount {
		return domain.NewValidationError("output_count", fmt.Sprintf("must be between 1 and %d", maxOutputCount))
	}
	if params.OutputCount == 0 {
		params.OutputCount = 1
	}

	if params.Preferred != "" {
		if _, ok := domain.ParseProvider(string(params.Preferred)); !ok {
			return domain.NewValidationError("preferred_provider", fmt.Sprintf("unknown provider %q", params.Preferred))
		}
	}

	return nil
}

func taskKnown(t domain.TaskType) bool {
	for _, k := range knownTasks {
		if t == k {
			return true
		}
	}
	return false
}

// closestTask suggests a known task type within edit distance 3
func closestTask(input string) string {
	best := ""
	bestDist := 4
	for _, k := range knownTasks {
		if d := levenshtein.ComputeDistance(input, string(k)); d < bestDist {
			best = string(k)
			bestDist = d
		}
	}
	return best
}
