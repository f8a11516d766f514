// Package tracing wires distributed tracing for a registry node: an
// OTLP/gRPC exporter batched through an SDK tracer provider, installed as
// the global otel tracer so every package can call otel.Tracer(name)
// without threading a provider reference through constructors.
package tracing

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.17.0"
	"go.opentelemetry.io/otel/trace"
)

// Provider wraps the process-wide tracer provider and a named tracer for
// the registry's own spans (request handling, Raft apply, forwarding).
type Provider struct {
	sdk    *sdktrace.TracerProvider
	tracer trace.Tracer
}

// Init connects to an OTLP/gRPC collector at endpoint and installs the
// resulting provider as the global otel tracer provider. Callers that don't
// configure an endpoint should skip calling Init entirely; every span start
// elsewhere in the tree degrades to a no-op tracer when no provider was
// installed, so tracing stays fully optional.
func Init(serviceName, environment, endpoint string) (*Provider, error) {
	exporter, err := otlptrace.New(
		context.Background(),
		otlptracegrpc.NewClient(
			otlptracegrpc.WithEndpoint(endpoint),
			otlptracegrpc.WithInsecure(),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("tracing: create exporter: %w", err)
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(serviceName),
			semconv.DeploymentEnvironment(environment),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("tracing: build resource: %w", err)
	}

	sdk := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	)

	otel.SetTracerProvider(sdk)
	otel.SetTextMapPropagator(propagation.TraceContext{})

	return &Provider{sdk: sdk, tracer: sdk.Tracer(serviceName)}, nil
}

// Shutdown flushes any pending spans and tears down the exporter connection.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p == nil {
		return nil
	}
	return p.sdk.Shutdown(ctx)
}

// StartSpan starts a span named name under ctx using this provider's tracer.
func (p *Provider) StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return p.tracer.Start(ctx, name, opts...)
}
