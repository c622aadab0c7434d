// Package workflow defines plans, their tasks and the conversation that
// produced them, together with the structural checks every plan must pass.
package workflow

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// Status represents the current state of a plan.
type Status string

const (
	// StatusDraft indicates the plan has been generated but not started.
	StatusDraft Status = "draft"
	// StatusActive indicates work on the plan is in progress.
	StatusActive Status = "active"
	// StatusCompleted indicates every task is done.
	StatusCompleted Status = "completed"
	// StatusArchived indicates the plan has been archived.
	StatusArchived Status = "archived"
)

// String returns the string representation of the status.
func (s Status) String() string {
	return string(s)
}

// IsValid returns true if the status is a known plan status.
func (s Status) IsValid() bool {
	switch s {
	case StatusDraft, StatusActive, StatusCompleted, StatusArchived:
		return true
	default:
		return false
	}
}

// TaskStatus represents the execution state of a single task.
type TaskStatus string

const (
	TaskStatusPending    TaskStatus = "pending"
	TaskStatusInProgress TaskStatus = "in_progress"
	TaskStatusCompleted  TaskStatus = "completed"
	TaskStatusBlocked    TaskStatus = "blocked"
)

// TaskID identifies a task within one plan. Models emit either numbers or
// strings, so both decode into the same textual form.
type TaskID string

// UnmarshalJSON accepts a JSON string or number.
func (id *TaskID) UnmarshalJSON(b []byte) error {
	s, err := decodeFlexString(b)
	if err != nil {
		return fmt.Errorf("task id: %w", err)
	}
	*id = TaskID(s)
	return nil
}

// FlexString is a free-form label (priority, estimate) that may arrive as
// a JSON string or number.
type FlexString string

// UnmarshalJSON accepts a JSON string or number.
func (f *FlexString) UnmarshalJSON(b []byte) error {
	s, err := decodeFlexString(b)
	if err != nil {
		return err
	}
	*f = FlexString(s)
	return nil
}

func decodeFlexString(b []byte) (string, error) {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		return "", nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return "", err
		}
		return s, nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return "", fmt.Errorf("expected string or number, got %s", b)
	}
	return n.String(), nil
}

// Task is one actionable step of a plan.
type Task struct {
	ID           TaskID   `json:"id"`
	Title        string   `json:"title"`
	Description  string   `json:"description,omitempty"`
	Dependencies []TaskID `json:"dependencies"`

	Complexity        FlexString `json:"complexity,omitempty"`
	Priority          FlexString `json:"priority,omitempty"`
	EstimatedDuration FlexString `json:"estimated_duration,omitempty"`
	EstimatedTimeMin  int        `json:"estimated_time_min,omitempty"`

	Status TaskStatus `json:"status,omitempty"`
}

// Plan maps a goal to a DAG of tasks.
type Plan struct {
	ID          string            `json:"id"`
	Title       string            `json:"title"`
	Goal        string            `json:"goal"`
	Description string            `json:"description,omitempty"`
	Tasks       []Task            `json:"tasks"`
	Status      Status            `json:"status"`
	CreatedAt   time.Time         `json:"created_at"`
	UpdatedAt   time.Time         `json:"updated_at"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// Task returns the task with the given ID, or nil.
func (p *Plan) Task(id TaskID) *Task {
	for i := range p.Tasks {
		if p.Tasks[i].ID == id {
			return &p.Tasks[i]
		}
	}
	return nil
}

// Clone returns a deep copy, so callers can derive a new plan value
// without touching the original.
func (p *Plan) Clone() *Plan {
	if p == nil {
		return nil
	}
	cp := *p
	if p.Tasks != nil {
		cp.Tasks = make([]Task, len(p.Tasks))
		for i, t := range p.Tasks {
			t.Dependencies = append([]TaskID(nil), t.Dependencies...)
			cp.Tasks[i] = t
		}
	}
	if p.Metadata != nil {
		cp.Metadata = make(map[string]string, len(p.Metadata))
		for k, v := range p.Metadata {
			cp.Metadata[k] = v
		}
	}
	return &cp
}

// Role is the author of a conversation message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Message is one entry of the conversation history.
type Message struct {
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// Conversation is an append-only, ordered message history.
type Conversation []Message

// Append adds a message stamped with now.
func (c *Conversation) Append(role Role, content string, now time.Time) {
	*c = append(*c, Message{Role: role, Content: content, Timestamp: now})
}

// Last returns the most recent message, or false when empty.
func (c Conversation) Last() (Message, bool) {
	if len(c) == 0 {
		return Message{}, false
	}
	return c[len(c)-1], true
}

// Window returns the most recent n messages. n <= 0 returns all of them.
func (c Conversation) Window(n int) []Message {
	if n <= 0 || n >= len(c) {
		return c
	}
	return c[len(c)-n:]
}
