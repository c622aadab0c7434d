package prompts

import (
	"fmt"

	"github.com/c360studio/semplan/workflow"
)

// GenerateSystemPrompt returns the system prompt for turning a goal into a
// new plan.
func GenerateSystemPrompt() string {
	return `You are a planning assistant that breaks a goal into a dependency-ordered list of actionable tasks.

## Your Objective

Produce a plan a single engineer could execute top to bottom.

## Guidelines

- Prefer 3 to 10 tasks; each task should be completable in one sitting
- Order tasks so that every dependency appears before the task that needs it
- Make titles imperative ("Add login endpoint", not "Login endpoint")
- Keep descriptions concrete and verifiable

` + PlanSchemaInstructions
}

// GenerateUserPrompt returns the user prompt carrying the goal.
func GenerateUserPrompt(goal string) string {
	return fmt.Sprintf("Create a plan for the following goal:\n\n%s", goal)
}

// RefineSystemPrompt returns the system prompt for revising a plan from
// feedback.
func RefineSystemPrompt() string {
	return `You are a planning assistant revising an existing plan according to user feedback.

## Your Objective

Return the complete revised plan, not a diff.

## Guidelines

- Keep the ids of tasks that still exist so references stay stable
- Give new tasks ids that are not used by any other task
- Drop dependencies on tasks you remove
- Change only what the feedback asks for

` + PlanSchemaInstructions
}

// RefineUserPrompt returns the user prompt carrying the current plan and
// the feedback to apply.
func RefineUserPrompt(plan *workflow.Plan, feedback string) string {
	return fmt.Sprintf(`Current plan:

%s

Feedback:

%s

Return the revised plan.`, RenderPlan(plan), feedback)
}
