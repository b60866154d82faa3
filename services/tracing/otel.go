package tracing

import (
	"context"

	"github.com/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.27.0"

	"github.com/sunschool/sunschool/core"
)

// ShutdownFunc flushes and stops the tracer provider.
type ShutdownFunc func(ctx context.Context) error

func noop(context.Context) error { return nil }

// Init installs the global tracer provider. When tracing is disabled, the default no-op provider is kept.
func Init(ctx context.Context, conf *core.Config, logger core.Logger) (ShutdownFunc, error) {
	if !conf.Tracing.Enabled {
		return noop, nil
	}

	res, err := resource.New(ctx, resource.WithAttributes(
		semconv.ServiceNameKey.String(conf.AppName),
		semconv.ServiceVersionKey.String(conf.Build),
		attribute.String("deployment.environment", conf.Env),
	))
	if err != nil {
		logger.Warn("tracing resource init failed (continuing)", errors.Wrap(err, "tracing"))
	}

	exporter, err := newExporter(ctx, conf)
	if err != nil {
		return noop, errors.Wrap(err, "creating trace exporter")
	}

	ratio := conf.Tracing.SampleRatio
	if ratio <= 0 || ratio > 1 {
		ratio = 1
	}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(ratio))),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	logger.Info("tracing initialized")
	return tp.Shutdown, nil
}

func newExporter(ctx context.Context, conf *core.Config) (sdktrace.SpanExporter, error) {
	if conf.Tracing.Endpoint != "" {
		opts := []otlptracehttp.Option{otlptracehttp.WithEndpoint(conf.Tracing.Endpoint)}
		if conf.Debug {
			opts = append(opts, otlptracehttp.WithInsecure())
		}
		return otlptracehttp.New(ctx, opts...)
	}
	return stdouttrace.New(stdouttrace.WithPrettyPrint())
}
