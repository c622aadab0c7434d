// Package prompts builds the deterministic system and user prompts sent to
// plan providers.
package prompts

import (
	"encoding/json"
	"fmt"

	"github.com/c360studio/semplan/workflow"
)

// PlanSchemaInstructions describes the only output a plan prompt accepts.
const PlanSchemaInstructions = `## Output Format (REQUIRED)

Respond with ONLY a JSON object of this exact shape:

` + "```json" + `
{
  "title": "Short plan title",
  "description": "One or two sentences on the approach",
  "tasks": [
    {
      "id": 1,
      "title": "Imperative task title",
      "description": "What to do and how to know it is done",
      "status": "pending",
      "priority": "high|medium|low",
      "estimatedDuration": "2h",
      "dependencies": []
    }
  ]
}
` + "```" + `

Rules:
- "id" values are unique within the plan; numbers starting at 1 are preferred
- "dependencies" lists the ids of tasks that must finish first
- dependencies never form a cycle and never reference the task itself
- no prose, no markdown, no comments before or after the JSON object`

// FormatRetryHint tells the next provider why the previous answer was
// rejected. An empty string means there is nothing to add.
func FormatRetryHint(previous error) string {
	if previous == nil {
		return ""
	}
	return fmt.Sprintf(`The previous attempt failed: %v

Respond with ONLY the JSON object described above. Do not wrap it in code fences.`, previous)
}

// RenderPlan renders p in the wire format for inclusion in a prompt.
func RenderPlan(p *workflow.Plan) string {
	if p == nil {
		return "{}"
	}
	data, err := json.MarshalIndent(workflow.ToWire(p), "", "  ")
	if err != nil {
		return fmt.Sprintf("%q", p.Title)
	}
	return string(data)
}
