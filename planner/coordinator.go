package planner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/c360studio/semplan/llm"
	"github.com/c360studio/semplan/model"
	"github.com/c360studio/semplan/session"
	"github.com/c360studio/semplan/workflow"
)

// Outcome names which step of the chain produced a result.
type Outcome string

// Outcomes.
const (
	OutcomePrimary   Outcome = "primary"
	OutcomeFallback  Outcome = "fallback"
	OutcomeHeuristic Outcome = "heuristic"
	OutcomeFailed    Outcome = "failed"
)

// ErrNoActivePlan is wrapped by the ConfigurationError returned when refine
// or critique run on a session without a plan.
var ErrNoActivePlan = errors.New("session has no active plan")

// Request carries the inputs of one coordinator operation.
type Request struct {
	// Goal is the free-text objective for GeneratePlan.
	Goal string
	// Provider names the primary provider. Empty uses the registry order.
	Provider string
	// Feedback is the revision request for RefinePlan.
	Feedback string
}

// Attempt records one provider call made by the coordinator.
type Attempt struct {
	Provider string
	Err      error
}

// Result is the outcome of a successful coordinator operation.
type Result struct {
	Plan     *workflow.Plan
	Critique string
	// Provider is empty when the heuristic produced the plan.
	Provider string
	Outcome  Outcome
	Attempts []Attempt
}

// Coordinator runs an operation against a primary provider, then at most
// one alternate, then (for generation only) the heuristic plan.
type Coordinator struct {
	registry      *model.Registry
	planners      map[string]Planner
	logger        *slog.Logger
	now           func() time.Time
	heuristic     bool
	historyWindow int
	metrics       *Metrics
	tracer        trace.Tracer
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Coordinator) {
		c.logger = logger
	}
}

// WithoutHeuristic disables the heuristic fallback, so GeneratePlan fails
// when every provider fails.
func WithoutHeuristic() Option {
	return func(c *Coordinator) {
		c.heuristic = false
	}
}

// WithClock sets the time source for heuristic plans and history entries.
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) {
		c.now = now
	}
}

// WithHistoryWindow limits how many recent messages are sent to providers.
// Zero or less sends the whole history.
func WithHistoryWindow(n int) Option {
	return func(c *Coordinator) {
		c.historyWindow = n
	}
}

// WithMetrics records outcomes in m.
func WithMetrics(m *Metrics) Option {
	return func(c *Coordinator) {
		c.metrics = m
	}
}

// WithTracer sets the tracer. The default is the global otel tracer.
func WithTracer(t trace.Tracer) Option {
	return func(c *Coordinator) {
		c.tracer = t
	}
}

// NewCoordinator creates a coordinator. planners maps registry provider
// names to their Planner.
func NewCoordinator(registry *model.Registry, planners map[string]Planner, opts ...Option) *Coordinator {
	if registry == nil {
		registry = model.NewRegistry(nil)
	}
	c := &Coordinator{
		registry:  registry,
		planners:  planners,
		logger:    slog.Default(),
		now:       time.Now,
		heuristic: true,
		tracer:    defaultTracer(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// GeneratePlan creates a plan for req.Goal, stores it in sess as the active
// plan and returns it. Unless the heuristic is disabled it only fails when
// req.Provider names an unconfigured provider, the goal is empty or ctx
// is done.
func (c *Coordinator) GeneratePlan(ctx context.Context, sess *session.Session, req Request) (*Result, error) {
	const op = model.OperationGenerate

	ctx, span := c.tracer.Start(ctx, "planner.generate", trace.WithAttributes(AttrOperation.String(op.String())))
	res, err := c.generate(ctx, sess, req)
	if res != nil {
		span.SetAttributes(AttrOutcome.String(string(res.Outcome)), AttrProvider.String(res.Provider),
			AttrPlanID.String(res.Plan.ID), AttrTaskCount.Int(len(res.Plan.Tasks)))
	}
	endSpan(span, err)
	c.observe(op, res, err)
	return res, err
}

func (c *Coordinator) generate(ctx context.Context, sess *session.Session, req Request) (*Result, error) {
	const op = model.OperationGenerate

	goal := strings.TrimSpace(req.Goal)
	if goal == "" {
		return nil, llm.NewValidationError(errors.New("goal is empty"))
	}

	primary, err := c.resolvePrimary(op, req.Provider)
	if err != nil {
		c.recordFailure(sess, "Plan generation failed", err)
		return nil, err
	}

	history := c.window(sess)
	c.record(sess, workflow.RoleUser, goal)

	res := &Result{}
	if primary != "" {
		err = c.run(ctx, op, primary, res, func(ctx context.Context, p Planner) error {
			plan, err := p.GeneratePlan(ctx, goal, history)
			if err == nil {
				res.Plan = plan
			}
			return err
		})
	} else {
		err = llm.NewConfigurationError("no provider configured")
	}

	if err != nil {
		if ctx.Err() != nil || !c.heuristic {
			c.recordFailure(sess, "Plan generation failed", err)
			return nil, err
		}
		c.logger.Info("Using heuristic plan",
			slog.String("goal", goal),
			slog.Int("provider_attempts", len(res.Attempts)),
			slog.String("last_error", err.Error()))
		res.Plan = workflow.HeuristicPlan(goal, c.now())
		res.Provider = ""
		res.Outcome = OutcomeHeuristic
	}

	c.store(sess, res.Plan)
	c.record(sess, workflow.RoleAssistant, fmt.Sprintf("Generated plan %q with %d tasks (%s).",
		res.Plan.Title, len(res.Plan.Tasks), summarizeSource(res)))
	return res, nil
}

// RefinePlan revises the session's active plan with req.Feedback. The
// refined plan replaces the active one.
func (c *Coordinator) RefinePlan(ctx context.Context, sess *session.Session, req Request) (*Result, error) {
	const op = model.OperationRefine

	ctx, span := c.tracer.Start(ctx, "planner.refine", trace.WithAttributes(AttrOperation.String(op.String())))
	res, err := c.refine(ctx, sess, req)
	if res != nil {
		span.SetAttributes(AttrOutcome.String(string(res.Outcome)), AttrProvider.String(res.Provider),
			AttrPlanID.String(res.Plan.ID), AttrTaskCount.Int(len(res.Plan.Tasks)))
	}
	endSpan(span, err)
	c.observe(op, res, err)
	return res, err
}

func (c *Coordinator) refine(ctx context.Context, sess *session.Session, req Request) (*Result, error) {
	const op = model.OperationRefine

	current, err := activePlan(sess)
	if err != nil {
		return nil, err
	}
	feedback := strings.TrimSpace(req.Feedback)
	if feedback == "" {
		return nil, llm.NewValidationError(errors.New("feedback is empty"))
	}

	primary, err := c.resolvePrimary(op, req.Provider)
	if err == nil && primary == "" {
		err = llm.NewConfigurationError("no provider configured")
	}
	if err != nil {
		c.recordFailure(sess, "Plan refinement failed", err)
		return nil, err
	}

	history := c.window(sess)
	c.record(sess, workflow.RoleUser, feedback)

	res := &Result{}
	err = c.run(ctx, op, primary, res, func(ctx context.Context, p Planner) error {
		plan, err := p.RefinePlan(ctx, current, feedback, history)
		if err == nil {
			res.Plan = plan
		}
		return err
	})
	if err != nil {
		c.recordFailure(sess, "Plan refinement failed", err)
		return nil, err
	}

	c.store(sess, res.Plan)
	c.record(sess, workflow.RoleAssistant, fmt.Sprintf("Refined plan %q to %d tasks (%s).",
		res.Plan.Title, len(res.Plan.Tasks), summarizeSource(res)))
	return res, nil
}

// Critique asks a provider to review the session's active plan. The plan
// itself is not changed.
func (c *Coordinator) Critique(ctx context.Context, sess *session.Session, req Request) (*Result, error) {
	const op = model.OperationCritique

	ctx, span := c.tracer.Start(ctx, "planner.critique", trace.WithAttributes(AttrOperation.String(op.String())))
	res, err := c.critique(ctx, sess, req)
	if res != nil {
		span.SetAttributes(AttrOutcome.String(string(res.Outcome)), AttrProvider.String(res.Provider),
			AttrPlanID.String(res.Plan.ID))
	}
	endSpan(span, err)
	c.observe(op, res, err)
	return res, err
}

func (c *Coordinator) critique(ctx context.Context, sess *session.Session, req Request) (*Result, error) {
	const op = model.OperationCritique

	current, err := activePlan(sess)
	if err != nil {
		return nil, err
	}

	primary, err := c.resolvePrimary(op, req.Provider)
	if err == nil && primary == "" {
		err = llm.NewConfigurationError("no provider configured")
	}
	if err != nil {
		c.recordFailure(sess, "Plan critique failed", err)
		return nil, err
	}

	history := c.window(sess)

	res := &Result{}
	err = c.run(ctx, op, primary, res, func(ctx context.Context, p Planner) error {
		text, err := p.Critique(ctx, current, history)
		if err == nil {
			res.Critique = text
		}
		return err
	})
	if err != nil {
		c.recordFailure(sess, "Plan critique failed", err)
		return nil, err
	}
	res.Plan = current

	c.record(sess, workflow.RoleAssistant, res.Critique)
	return res, nil
}

// resolvePrimary returns the named provider, or the first provider of op's
// chain. An empty name with no error means nothing is configured.
func (c *Coordinator) resolvePrimary(op model.Operation, requested string) (string, error) {
	if requested != "" {
		if !c.registry.Has(requested) || c.planners[requested] == nil {
			e := llm.NewConfigurationError("provider %q is not configured", requested)
			e.Provider = requested
			return "", e
		}
		return requested, nil
	}
	for _, name := range c.registry.Chain(op) {
		if c.planners[name] != nil {
			return name, nil
		}
	}
	return "", nil
}

// run calls the primary, then at most one alternate, recording attempts,
// provider and outcome in res. call stores its own result through its
// closure.
func (c *Coordinator) run(ctx context.Context, op model.Operation, primary string, res *Result, call func(context.Context, Planner) error) error {
	err := c.attempt(ctx, op, primary, res, call)
	if err == nil {
		res.Provider = primary
		res.Outcome = OutcomePrimary
		return nil
	}
	if ctx.Err() != nil {
		return err
	}

	alternate, ok := c.alternate(op, primary)
	if !ok {
		return err
	}

	c.logger.Info("Primary provider failed, trying alternate",
		slog.String("operation", op.String()),
		slog.String("primary", primary),
		slog.String("alternate", alternate),
		slog.String("kind", llm.KindOf(err).String()))

	altCtx := ctx
	if kind := llm.KindOf(err); kind == llm.KindParse || kind == llm.KindValidation {
		altCtx = WithPreviousError(ctx, err)
	}
	if altErr := c.attempt(altCtx, op, alternate, res, call); altErr != nil {
		return altErr
	}
	res.Provider = alternate
	res.Outcome = OutcomeFallback
	return nil
}

// alternate returns the registry's alternate for op that has a planner.
func (c *Coordinator) alternate(op model.Operation, primary string) (string, bool) {
	name, ok := c.registry.Alternate(op, primary)
	if ok && c.planners[name] != nil {
		return name, true
	}
	for _, candidate := range c.registry.Chain(op) {
		if candidate != primary && c.planners[candidate] != nil {
			return candidate, true
		}
	}
	return "", false
}

func (c *Coordinator) attempt(ctx context.Context, op model.Operation, name string, res *Result, call func(context.Context, Planner) error) error {
	ctx, span := c.startAttempt(ctx, op.String(), name)
	err := call(ctx, c.planners[name])
	err = llm.WithProvider(err, name)
	endSpan(span, err)

	res.Attempts = append(res.Attempts, Attempt{Provider: name, Err: err})
	switch {
	case err == nil:
		c.registry.MarkEndpointSuccess(name)
	case countsAgainstHealth(err):
		c.registry.MarkEndpointFailure(name, err)
	}
	if err != nil {
		c.logger.Warn("Provider attempt failed",
			slog.String("operation", op.String()),
			slog.String("provider", name),
			slog.String("kind", llm.KindOf(err).String()),
			slog.String("error", err.Error()))
	}
	return err
}

// countsAgainstHealth reports whether err says something about the
// endpoint rather than about the model's answer.
func countsAgainstHealth(err error) bool {
	switch llm.KindOf(err) {
	case llm.KindTransport, llm.KindRateLimited, llm.KindQuotaExceeded, llm.KindServiceUnavailable:
		return true
	}
	return false
}

func (c *Coordinator) observe(op model.Operation, res *Result, err error) {
	if c.metrics == nil {
		return
	}
	if err != nil || res == nil {
		c.metrics.ObserveOutcome(op.String(), OutcomeFailed)
		return
	}
	c.metrics.ObserveOutcome(op.String(), res.Outcome)
}

func (c *Coordinator) window(sess *session.Session) []workflow.Message {
	if sess == nil {
		return nil
	}
	return append([]workflow.Message(nil), sess.History.Window(c.historyWindow)...)
}

func (c *Coordinator) record(sess *session.Session, role workflow.Role, content string) {
	if sess == nil {
		return
	}
	now := c.now()
	sess.History.Append(role, content, now)
	sess.UpdatedAt = now
}

func (c *Coordinator) recordFailure(sess *session.Session, what string, err error) {
	c.record(sess, workflow.RoleSystem, what+": "+describe(err))
}

func (c *Coordinator) store(sess *session.Session, plan *workflow.Plan) {
	if sess == nil {
		return
	}
	sess.PutPlan(plan)
	sess.UpdatedAt = c.now()
}

func activePlan(sess *session.Session) (*workflow.Plan, error) {
	if sess == nil {
		return nil, llm.NewError(llm.KindConfiguration, ErrNoActivePlan)
	}
	plan := sess.ActivePlan()
	if plan == nil {
		return nil, llm.NewError(llm.KindConfiguration, fmt.Errorf("%w: %s", ErrNoActivePlan, sess.ID))
	}
	return plan.Clone(), nil
}

func summarizeSource(res *Result) string {
	switch res.Outcome {
	case OutcomeHeuristic:
		return "heuristic fallback"
	case OutcomeFallback:
		return "fallback provider " + res.Provider
	default:
		return "provider " + res.Provider
	}
}
