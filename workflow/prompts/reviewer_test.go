package prompts

import (
	"strings"
	"testing"

	"github.com/c360studio/semplan/workflow"
)

func TestCritiqueSystemPrompt(t *testing.T) {
	prompt := CritiqueSystemPrompt()

	sections := []string{
		"Your Objective",
		"Review Checklist",
		"Output Format",
	}
	for _, section := range sections {
		if !strings.Contains(prompt, section) {
			t.Errorf("CritiqueSystemPrompt missing section: %s", section)
		}
	}

	if strings.Contains(prompt, "ONLY a JSON object") {
		t.Error("CritiqueSystemPrompt asks for plain text, not JSON")
	}
}

func TestCritiqueUserPrompt(t *testing.T) {
	p := &workflow.Plan{
		Title: "Ship",
		Goal:  "release v2",
		Tasks: []workflow.Task{{ID: "1", Title: "Build"}},
	}

	prompt := CritiqueUserPrompt(p)

	if !strings.Contains(prompt, "Goal: release v2") {
		t.Error("CritiqueUserPrompt should include the goal")
	}
	if !strings.Contains(prompt, `"Build"`) {
		t.Error("CritiqueUserPrompt should include the rendered tasks")
	}
}
