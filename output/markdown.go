// Package output renders plans as markdown documents.
package output

import (
	"fmt"
	"sort"
	"strings"

	"github.com/c360studio/semplan/workflow"
)

// Transformer converts plans to markdown.
type Transformer struct{}

// NewTransformer creates a new markdown transformer.
func NewTransformer() *Transformer {
	return &Transformer{}
}

// TransformPlan renders a plan as a markdown document: title, goal,
// description, one section per task and a status footer.
func (t *Transformer) TransformPlan(plan *workflow.Plan) string {
	if plan == nil {
		return ""
	}

	var sb strings.Builder

	title := plan.Title
	if title == "" {
		title = plan.Goal
	}
	sb.WriteString("# ")
	sb.WriteString(title)
	sb.WriteString("\n\n")

	if plan.Goal != "" && plan.Goal != title {
		t.writeField(&sb, "Goal", plan.Goal)
		sb.WriteString("\n")
	}

	if plan.Description != "" {
		t.writeHeading(&sb, "Overview", 2)
		sb.WriteString(plan.Description)
		sb.WriteString("\n\n")
	}

	if len(plan.Tasks) > 0 {
		t.writeHeading(&sb, "Tasks", 2)
		for _, task := range plan.Tasks {
			t.writeTask(&sb, task)
		}
	}

	if len(plan.Metadata) > 0 {
		t.writeHeading(&sb, "Metadata", 2)
		t.writeMapAsList(&sb, plan.Metadata)
		sb.WriteString("\n")
	}

	sb.WriteString("---\n\n")
	sb.WriteString("**Status:** ")
	sb.WriteString(string(plan.Status))
	sb.WriteString("\n")

	return sb.String()
}

func (t *Transformer) writeHeading(sb *strings.Builder, title string, level int) {
	sb.WriteString(strings.Repeat("#", level))
	sb.WriteString(" ")
	sb.WriteString(title)
	sb.WriteString("\n\n")
}

func (t *Transformer) writeTask(sb *strings.Builder, task workflow.Task) {
	t.writeHeading(sb, fmt.Sprintf("%s. %s", task.ID, task.Title), 3)

	if task.Description != "" {
		sb.WriteString(task.Description)
		sb.WriteString("\n\n")
	}

	fields := map[string]string{
		"priority":           string(task.Priority),
		"complexity":         string(task.Complexity),
		"estimated_duration": string(task.EstimatedDuration),
		"status":             string(task.Status),
	}
	if task.EstimatedTimeMin > 0 {
		fields["estimated_time_min"] = fmt.Sprintf("%d", task.EstimatedTimeMin)
	}
	if len(task.Dependencies) > 0 {
		deps := make([]string, len(task.Dependencies))
		for i, d := range task.Dependencies {
			deps[i] = string(d)
		}
		fields["depends_on"] = strings.Join(deps, ", ")
	}

	before := sb.Len()
	t.writeMapAsList(sb, fields)
	if sb.Len() > before {
		sb.WriteString("\n")
	}
}

func (t *Transformer) writeField(sb *strings.Builder, name, value string) {
	sb.WriteString("**")
	sb.WriteString(name)
	sb.WriteString(":** ")
	sb.WriteString(value)
	sb.WriteString("\n")
}

// writeMapAsList writes non-empty entries as a list, sorted by key.
func (t *Transformer) writeMapAsList(sb *strings.Builder, m map[string]string) {
	keys := make([]string, 0, len(m))
	for k, v := range m {
		if v != "" {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	for _, k := range keys {
		sb.WriteString("- **")
		sb.WriteString(t.toTitleCase(k))
		sb.WriteString(":** ")
		sb.WriteString(m[k])
		sb.WriteString("\n")
	}
}

// toTitleCase converts snake_case to Title Case.
func (t *Transformer) toTitleCase(s string) string {
	words := strings.Fields(strings.ReplaceAll(s, "_", " "))
	for i, word := range words {
		words[i] = strings.ToUpper(word[:1]) + strings.ToLower(word[1:])
	}
	return strings.Join(words, " ")
}
