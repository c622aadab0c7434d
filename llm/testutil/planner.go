package testutil

import (
	"context"
	"errors"
	"sync"

	"github.com/c360studio/semplan/workflow"
)

// ErrScriptExhausted is returned when a ScriptedPlanner has no reply left.
var ErrScriptExhausted = errors.New("scripted planner has no reply left")

// ScriptedPlanner replays plans, critiques and errors. Errs are returned
// first, in order; after that Plans or Critiques are served in order.
type ScriptedPlanner struct {
	ProviderName string
	Plans        []*workflow.Plan
	Critiques    []string
	Errs         []error

	mu        sync.Mutex
	calls     int
	histories [][]workflow.Message
	contexts  []context.Context
	feedback  []string
}

// Name returns the provider name.
func (p *ScriptedPlanner) Name() string {
	return p.ProviderName
}

// GeneratePlan returns the next scripted plan or error.
func (p *ScriptedPlanner) GeneratePlan(ctx context.Context, goal string, history []workflow.Message) (*workflow.Plan, error) {
	if err := p.begin(ctx, history, ""); err != nil {
		return nil, err
	}
	plan, err := p.nextPlan()
	if err != nil {
		return nil, err
	}
	plan.Goal = goal
	return plan, nil
}

// RefinePlan returns the next scripted plan, keeping plan's ID.
func (p *ScriptedPlanner) RefinePlan(ctx context.Context, plan *workflow.Plan, feedback string, history []workflow.Message) (*workflow.Plan, error) {
	if err := p.begin(ctx, history, feedback); err != nil {
		return nil, err
	}
	refined, err := p.nextPlan()
	if err != nil {
		return nil, err
	}
	refined.ID = plan.ID
	refined.Goal = plan.Goal
	refined.CreatedAt = plan.CreatedAt
	return refined, nil
}

// Critique returns the next scripted critique.
func (p *ScriptedPlanner) Critique(ctx context.Context, _ *workflow.Plan, history []workflow.Message) (string, error) {
	if err := p.begin(ctx, history, ""); err != nil {
		return "", err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.Critiques) == 0 {
		return "", ErrScriptExhausted
	}
	text := p.Critiques[0]
	p.Critiques = p.Critiques[1:]
	return text, nil
}

// Calls returns how many operations were invoked.
func (p *ScriptedPlanner) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

// Histories returns the history passed to each call.
func (p *ScriptedPlanner) Histories() [][]workflow.Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([][]workflow.Message(nil), p.histories...)
}

// Contexts returns the context passed to each call.
func (p *ScriptedPlanner) Contexts() []context.Context {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]context.Context(nil), p.contexts...)
}

// Feedback returns the feedback passed to each RefinePlan call.
func (p *ScriptedPlanner) Feedback() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.feedback...)
}

func (p *ScriptedPlanner) begin(ctx context.Context, history []workflow.Message, feedback string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.calls++
	p.histories = append(p.histories, history)
	p.contexts = append(p.contexts, ctx)
	if feedback != "" {
		p.feedback = append(p.feedback, feedback)
	}
	if len(p.Errs) > 0 {
		err := p.Errs[0]
		p.Errs = p.Errs[1:]
		return err
	}
	return nil
}

func (p *ScriptedPlanner) nextPlan() (*workflow.Plan, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.Plans) == 0 {
		return nil, ErrScriptExhausted
	}
	plan := p.Plans[0].Clone()
	p.Plans = p.Plans[1:]
	return plan, nil
}
