// Package session persists the conversation and plans of one planning
// session between CLI invocations.
package session

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/google/uuid"

	"github.com/c360studio/semplan/workflow"
)

// ErrNotFound is returned by Load when no session has the given ID.
var ErrNotFound = errors.New("session not found")

var idPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.-]{0,127}$`)

// Session is the durable state of one planning conversation.
type Session struct {
	ID           string                `json:"id"`
	History      workflow.Conversation `json:"history"`
	Plans        []workflow.Plan       `json:"plans"`
	ActivePlanID string                `json:"active_plan_id,omitempty"`
	CreatedAt    time.Time             `json:"created_at"`
	UpdatedAt    time.Time             `json:"updated_at"`
}

// New returns an empty session. An empty id gets a random UUID.
func New(id string, now time.Time) *Session {
	if id == "" {
		id = uuid.New().String()
	}
	return &Session{
		ID:        id,
		History:   workflow.Conversation{},
		Plans:     []workflow.Plan{},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// ActivePlan returns the active plan, or nil.
func (s *Session) ActivePlan() *workflow.Plan {
	if s.ActivePlanID == "" {
		return nil
	}
	return s.Plan(s.ActivePlanID)
}

// Plan returns the plan with the given ID, or nil.
func (s *Session) Plan(id string) *workflow.Plan {
	for i := range s.Plans {
		if s.Plans[i].ID == id {
			return &s.Plans[i]
		}
	}
	return nil
}

// PutPlan stores p, replacing a plan with the same ID, and makes it active.
func (s *Session) PutPlan(p *workflow.Plan) {
	if existing := s.Plan(p.ID); existing != nil {
		*existing = *p.Clone()
	} else {
		s.Plans = append(s.Plans, *p.Clone())
	}
	s.ActivePlanID = p.ID
}

// ValidateID rejects IDs that are not safe as file names.
func ValidateID(id string) error {
	if !idPattern.MatchString(id) {
		return fmt.Errorf("invalid session id %q", id)
	}
	return nil
}

// Store loads and saves sessions.
type Store interface {
	// Load returns the session or an error wrapping ErrNotFound.
	Load(ctx context.Context, id string) (*Session, error)
	Save(ctx context.Context, s *Session) error
}

// Summary describes a stored session without its contents.
type Summary struct {
	ID        string
	Plans     int
	Messages  int
	UpdatedAt time.Time
}

// Lister is implemented by stores that can enumerate sessions.
type Lister interface {
	List(ctx context.Context) ([]Summary, error)
}

// LoadOrNew loads id from store, or returns a new session when it does not
// exist yet.
func LoadOrNew(ctx context.Context, store Store, id string, now time.Time) (*Session, error) {
	if id != "" {
		s, err := store.Load(ctx, id)
		if err == nil {
			return s, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return nil, err
		}
	}
	return New(id, now), nil
}

func summarize(s *Session) Summary {
	return Summary{
		ID:        s.ID,
		Plans:     len(s.Plans),
		Messages:  len(s.History),
		UpdatedAt: s.UpdatedAt,
	}
}
