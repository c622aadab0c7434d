package workflow

import (
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
)

// heuristicSteps is the fixed baseline used when no provider can answer.
var heuristicSteps = []struct {
	title       string
	description string
	duration    string
	minutes     int
}{
	{"Analyze requirements", "Clarify the goal, constraints and acceptance criteria for: %s", "1h", 60},
	{"Design the solution", "Outline components, interfaces and data flow needed to achieve: %s", "2h", 120},
	{"Implement", "Build the designed solution for: %s", "4h", 240},
	{"Test and verify", "Check the result against the acceptance criteria for: %s", "2h", 120},
}

// HeuristicPlan returns a deterministic four-step plan for goal, each step
// depending on its predecessor. The ID is derived from now alone.
// It panics if the result fails Validate, which would be a programming
// error.
func HeuristicPlan(goal string, now time.Time) *Plan {
	goal = strings.TrimSpace(goal)

	p := &Plan{
		ID:          ulid.MustNew(ulid.Timestamp(now), nil).String(),
		Title:       "Plan for: " + goal,
		Goal:        goal,
		Description: "Baseline plan generated without a model.",
		Tasks:       make([]Task, 0, len(heuristicSteps)),
		Status:      StatusDraft,
		CreatedAt:   now,
		UpdatedAt:   now,
		Metadata:    map[string]string{"source": "heuristic"},
	}

	for i, s := range heuristicSteps {
		t := Task{
			ID:                TaskID(fmt.Sprint(i + 1)),
			Title:             s.title,
			Description:       fmt.Sprintf(s.description, goal),
			Dependencies:      []TaskID{},
			Priority:          "medium",
			EstimatedDuration: FlexString(s.duration),
			EstimatedTimeMin:  s.minutes,
			Status:            TaskStatusPending,
		}
		if i > 0 {
			t.Dependencies = []TaskID{TaskID(fmt.Sprint(i))}
		}
		p.Tasks = append(p.Tasks, t)
	}

	if err := Validate(p); err != nil {
		panic(fmt.Sprintf("heuristic plan is invalid: %v", err))
	}
	return p
}
