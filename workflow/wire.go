package workflow

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
)

// WireTask is a task as a model emits it.
type WireTask struct {
	ID                *TaskID    `json:"id,omitempty"`
	Title             string     `json:"title"`
	Description       string     `json:"description,omitempty"`
	Status            string     `json:"status,omitempty"`
	Priority          FlexString `json:"priority,omitempty"`
	Complexity        FlexString `json:"complexity,omitempty"`
	EstimatedDuration FlexString `json:"estimatedDuration,omitempty"`
	EstimatedTimeMin  float64    `json:"estimatedTimeMin,omitempty"`
	Dependencies      []TaskID   `json:"dependencies,omitempty"`
}

// WirePlan is the JSON object a model is asked to return.
type WirePlan struct {
	Title       string     `json:"title"`
	Description string     `json:"description,omitempty"`
	Tasks       []WireTask `json:"tasks"`
	Steps       []WireTask `json:"steps,omitempty"`
}

// DecodeWirePlan checks obj against the wire schema and converts it into a
// WirePlan. A plan that only carries steps has them moved to Tasks.
func DecodeWirePlan(obj map[string]any) (*WirePlan, error) {
	if err := CheckWireShape(obj); err != nil {
		return nil, err
	}

	raw, err := json.Marshal(obj)
	if err != nil {
		return nil, fmt.Errorf("re-encode plan object: %w", err)
	}
	var wp WirePlan
	if err := json.Unmarshal(raw, &wp); err != nil {
		return nil, &ValidationError{Err: ErrSchemaMismatch, Detail: err.Error()}
	}
	if wp.Tasks == nil {
		wp.Tasks = wp.Steps
	}
	wp.Steps = nil
	if wp.Tasks == nil {
		wp.Tasks = []WireTask{}
	}
	return &wp, nil
}

// ToPlan builds a draft Plan. Tasks without an id get their 1-based
// position, which is also what dependencies are expected to reference.
func (wp *WirePlan) ToPlan(goal, id string, now time.Time) *Plan {
	p := &Plan{
		ID:          id,
		Title:       strings.TrimSpace(wp.Title),
		Goal:        goal,
		Description: wp.Description,
		Tasks:       make([]Task, 0, len(wp.Tasks)),
		Status:      StatusDraft,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	for i, wt := range wp.Tasks {
		taskID := TaskID(strconv.Itoa(i + 1))
		if wt.ID != nil && *wt.ID != "" {
			taskID = *wt.ID
		}

		status := TaskStatus(wt.Status)
		switch status {
		case TaskStatusPending, TaskStatusInProgress, TaskStatusCompleted, TaskStatusBlocked:
		default:
			status = TaskStatusPending
		}

		p.Tasks = append(p.Tasks, Task{
			ID:                taskID,
			Title:             wt.Title,
			Description:       wt.Description,
			Dependencies:      append([]TaskID{}, wt.Dependencies...),
			Complexity:        wt.Complexity,
			Priority:          wt.Priority,
			EstimatedDuration: wt.EstimatedDuration,
			EstimatedTimeMin:  int(wt.EstimatedTimeMin),
			Status:            status,
		})
	}
	return p
}

// NewPlanID returns a ULID for a plan created at now.
func NewPlanID(now time.Time) string {
	return ulid.MustNew(ulid.Timestamp(now), ulid.DefaultEntropy()).String()
}

// ToWire renders p in the wire shape, keeping task IDs so a model can
// reference them when revising the plan.
func ToWire(p *Plan) *WirePlan {
	wp := &WirePlan{
		Title:       p.Title,
		Description: p.Description,
		Tasks:       make([]WireTask, 0, len(p.Tasks)),
	}
	for _, t := range p.Tasks {
		id := t.ID
		wp.Tasks = append(wp.Tasks, WireTask{
			ID:                &id,
			Title:             t.Title,
			Description:       t.Description,
			Status:            string(t.Status),
			Priority:          t.Priority,
			Complexity:        t.Complexity,
			EstimatedDuration: t.EstimatedDuration,
			EstimatedTimeMin:  float64(t.EstimatedTimeMin),
			Dependencies:      append([]TaskID{}, t.Dependencies...),
		})
	}
	return wp
}
