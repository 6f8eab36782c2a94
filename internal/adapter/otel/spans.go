package otel

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "contractreview"

// StartAnalysisSpan starts a span covering one analyzer invocation.
func StartAnalysisSpan(ctx context.Context, taskID string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "analysis",
		trace.WithAttributes(attribute.String("task.id", taskID)),
	)
}

// StartStageSpan starts a span for one stage of the LLM review pipeline.
func StartStageSpan(ctx context.Context, stage string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "review."+stage,
		trace.WithAttributes(attribute.String("review.stage", stage)),
	)
}

// StartRPCSpan starts a span for a JSON-RPC method call.
func StartRPCSpan(ctx context.Context, method string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, method,
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(
			attribute.String("rpc.system", "jsonrpc"),
			attribute.String("rpc.method", method),
		),
	)
}
