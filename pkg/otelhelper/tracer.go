// Package otelhelper provides distributed tracing functionality for workflow monitoring.
package otelhelper

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otlptracehttp "go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

const (
	// Common attribute keys.
	TenantIDKey    = "flowcore.tenant.id"
	WorkflowIDKey  = "flowcore.workflow.id"
	ExecutionIDKey = "flowcore.execution.id"
	StepIDKey      = "flowcore.step.id"
	StepTypeKey    = "flowcore.step.type"
	AttemptKey     = "flowcore.step.attempt"
	TriggerIDKey   = "flowcore.trigger.id"
	TriggerTypeKey = "flowcore.trigger.type"
)

// Tracer returns the named tracer of the global provider, a no-op until NewTracer runs.
func Tracer(name string) trace.Tracer { //nolint:ireturn // OpenTelemetry tracers are interfaces
	return otel.Tracer(name)
}

// NewTracer installs an OTLP/HTTP tracer provider globally. The returned
// shutdown flushes pending spans.
func NewTracer(ctx context.Context, serviceName string) (trace.Tracer, func(context.Context) error, error) { //nolint:ireturn // OpenTelemetry tracers are interfaces
	provider, err := newTracerProvider(ctx, serviceName)
	if err != nil {
		return nil, nil, err
	}

	return provider.Tracer(serviceName), provider.Shutdown, nil
}

// StartSpan starts a span on tracer with attrs.
func StartSpan(ctx context.Context, tracer trace.Tracer, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) { //nolint:ireturn,spancheck // callers end the span
	return tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

func newTracerProvider(ctx context.Context, serviceName string) (*sdktrace.TracerProvider, error) {
	r, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(serviceName),
		),
	)
	if err != nil {
		return nil, err
	}

	exporter, err := otlptracehttp.New(ctx)
	if err != nil {
		return nil, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(r),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	)

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}))

	return tp, nil
}
