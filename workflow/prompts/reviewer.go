package prompts

import (
	"fmt"

	"github.com/c360studio/semplan/workflow"
)

// CritiqueSystemPrompt returns the system prompt for reviewing a plan.
// Unlike the plan prompts, the answer is free text.
func CritiqueSystemPrompt() string {
	return `You are a critical reviewer of project plans.

## Your Objective

Determine: "Would this plan actually achieve its goal?"

## Review Checklist

- Missing steps between the goal and the listed tasks
- Tasks that are too large to estimate or verify
- Dependencies that are missing, unnecessary or in the wrong direction
- Risks the plan does not address

## Output Format

Respond in plain text: a one-line verdict, then a short list of concrete
suggestions. Do not rewrite the plan.`
}

// CritiqueUserPrompt returns the user prompt carrying the plan to review.
func CritiqueUserPrompt(plan *workflow.Plan) string {
	goal := ""
	if plan != nil && plan.Goal != "" {
		goal = fmt.Sprintf("Goal: %s\n\n", plan.Goal)
	}
	return fmt.Sprintf("%sReview this plan:\n\n%s", goal, RenderPlan(plan))
}
