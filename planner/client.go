// Package planner turns goals into validated plans by calling LLM
// providers, falling back across providers and finally to a local
// heuristic plan.
package planner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/c360studio/semplan/llm"
	"github.com/c360studio/semplan/workflow"
	"github.com/c360studio/semplan/workflow/prompts"
)

// Planner is one provider able to generate, refine and critique plans.
type Planner interface {
	GeneratePlan(ctx context.Context, goal string, history []workflow.Message) (*workflow.Plan, error)
	RefinePlan(ctx context.Context, plan *workflow.Plan, feedback string, history []workflow.Message) (*workflow.Plan, error)
	Critique(ctx context.Context, plan *workflow.Plan, history []workflow.Message) (string, error)
	Name() string
}

// Completer sends a chat completion. *llm.Client implements it.
type Completer interface {
	Complete(ctx context.Context, req llm.Request) (*llm.Response, error)
	Name() string
}

type previousErrorKey struct{}

// WithPreviousError records why the previous provider's answer was
// rejected. Clients that see it add a correction hint to their prompt.
func WithPreviousError(ctx context.Context, err error) context.Context {
	if err == nil {
		return ctx
	}
	return context.WithValue(ctx, previousErrorKey{}, err)
}

func previousError(ctx context.Context) error {
	err, _ := ctx.Value(previousErrorKey{}).(error)
	return err
}

// Client is the generic Planner over one chat-completion provider.
type Client struct {
	llm    Completer
	logger *slog.Logger
	now    func() time.Time
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithClientLogger sets the logger.
func WithClientLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithClientClock sets the time source used to stamp plans.
func WithClientClock(now func() time.Time) ClientOption {
	return func(c *Client) {
		c.now = now
	}
}

// NewClient wraps a completion client.
func NewClient(completer Completer, opts ...ClientOption) *Client {
	c := &Client{
		llm:    completer,
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Name returns the provider name.
func (c *Client) Name() string {
	return c.llm.Name()
}

// GeneratePlan asks the provider for a new plan for goal.
func (c *Client) GeneratePlan(ctx context.Context, goal string, history []workflow.Message) (*workflow.Plan, error) {
	goal = strings.TrimSpace(goal)
	if goal == "" {
		return nil, llm.WithProvider(llm.NewValidationError(errors.New("goal is empty")), c.Name())
	}

	messages := c.buildMessages(ctx, prompts.GenerateSystemPrompt(), prompts.GenerateUserPrompt(goal), history)
	content, err := c.complete(ctx, messages)
	if err != nil {
		return nil, err
	}

	now := c.now()
	return c.decodePlan(content, goal, workflow.NewPlanID(now), now)
}

// RefinePlan asks the provider to revise plan according to feedback. The
// result keeps the plan's ID, goal, status and creation time.
func (c *Client) RefinePlan(ctx context.Context, plan *workflow.Plan, feedback string, history []workflow.Message) (*workflow.Plan, error) {
	if plan == nil {
		return nil, llm.WithProvider(llm.NewValidationError(workflow.ErrPlanRequired), c.Name())
	}

	messages := c.buildMessages(ctx, prompts.RefineSystemPrompt(), prompts.RefineUserPrompt(plan, feedback), history)
	content, err := c.complete(ctx, messages)
	if err != nil {
		return nil, err
	}

	refined, err := c.decodePlan(content, plan.Goal, plan.ID, c.now())
	if err != nil {
		return nil, err
	}
	refined.CreatedAt = plan.CreatedAt
	refined.Status = plan.Status
	if plan.Metadata != nil {
		refined.Metadata = plan.Clone().Metadata
	}
	return refined, nil
}

// Critique asks the provider for a free-text review of plan.
func (c *Client) Critique(ctx context.Context, plan *workflow.Plan, history []workflow.Message) (string, error) {
	if plan == nil {
		return "", llm.WithProvider(llm.NewValidationError(workflow.ErrPlanRequired), c.Name())
	}

	messages := c.buildMessages(ctx, prompts.CritiqueSystemPrompt(), prompts.CritiqueUserPrompt(plan), history)
	content, err := c.complete(ctx, messages)
	if err != nil {
		return "", err
	}

	text := strings.TrimSpace(content)
	if text == "" {
		return "", llm.WithProvider(llm.NewParseError(errors.New("empty critique")), c.Name())
	}
	return text, nil
}

// buildMessages lays out system prompt, history, optional correction hint
// and the user prompt. The system prompt is always first so every call
// carries the output format.
func (c *Client) buildMessages(ctx context.Context, system, user string, history []workflow.Message) []llm.Message {
	messages := make([]llm.Message, 0, len(history)+3)
	messages = append(messages, llm.Message{Role: string(workflow.RoleSystem), Content: system})
	for _, m := range history {
		if m.Role == workflow.RoleSystem || strings.TrimSpace(m.Content) == "" {
			continue
		}
		messages = append(messages, llm.Message{Role: string(m.Role), Content: m.Content})
	}
	if hint := prompts.FormatRetryHint(previousError(ctx)); hint != "" {
		c.logger.Debug("Adding format retry hint",
			slog.String("provider", c.Name()))
		user = user + "\n\n" + hint
	}
	return append(messages, llm.Message{Role: string(workflow.RoleUser), Content: user})
}

// complete leaves sampling parameters unset so the provider's configured
// temperature and token limit apply.
func (c *Client) complete(ctx context.Context, messages []llm.Message) (string, error) {
	resp, err := c.llm.Complete(ctx, llm.Request{Messages: messages})
	if err != nil {
		return "", llm.WithProvider(err, c.Name())
	}

	c.logger.Debug("LLM response received",
		slog.String("provider", c.Name()),
		slog.String("model", resp.Model),
		slog.Int("tokens_used", resp.Usage.TotalTokens),
		slog.Int("attempts", resp.Attempts))
	return resp.Content, nil
}

// decodePlan runs raw model output through sanitize, schema check,
// stamping and validation.
func (c *Client) decodePlan(content, goal, id string, now time.Time) (*workflow.Plan, error) {
	obj, err := llm.ParseJSONObject(content)
	if err != nil {
		return nil, llm.WithProvider(err, c.Name())
	}

	wire, err := workflow.DecodeWirePlan(obj)
	if err != nil {
		return nil, llm.WithProvider(llm.NewValidationError(err), c.Name())
	}

	plan := wire.ToPlan(goal, id, now)
	if err := workflow.Validate(plan); err != nil {
		return nil, llm.WithProvider(llm.NewValidationError(err), c.Name())
	}

	for _, d := range workflow.DanglingDependencies(plan) {
		c.logger.Debug("Ignoring dependency on unknown task",
			slog.String("provider", c.Name()),
			slog.String("plan_id", plan.ID),
			slog.String("edge", d.String()))
	}
	return plan, nil
}

var _ Planner = (*Client)(nil)

// describe renders a short human summary of err for conversation history.
func describe(err error) string {
	if err == nil {
		return ""
	}
	return fmt.Sprintf("%s failure: %v", llm.KindOf(err), err)
}
