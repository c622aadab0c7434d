package planner

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/c360studio/semplan/llm"
)

const tracerName = "semplan.planner"

// Span attributes.
var (
	AttrOperation = attribute.Key("semplan.operation")
	AttrProvider  = attribute.Key("semplan.provider")
	AttrOutcome   = attribute.Key("semplan.outcome")
	AttrPlanID    = attribute.Key("semplan.plan.id")
	AttrTaskCount = attribute.Key("semplan.plan.tasks")
	AttrErrorKind = attribute.Key("semplan.error.kind")
)

func defaultTracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// startAttempt opens a child span for one provider attempt.
func (c *Coordinator) startAttempt(ctx context.Context, op, provider string) (context.Context, trace.Span) {
	return c.tracer.Start(ctx, "planner."+op+".attempt",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(AttrOperation.String(op), AttrProvider.String(provider)))
}

// endSpan records err, if any, and ends span.
func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetAttributes(AttrErrorKind.String(llm.KindOf(err).String()))
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
