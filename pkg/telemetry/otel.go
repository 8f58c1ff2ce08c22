package telemetry

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/redis/go-redis/extra/redisotel/v9"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	sdkresource "go.opentelemetry.io/otel/sdk/resource"
	tracesdk "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/eclipse-tractusx/dtr-discovery-service"

// SetupTelemetry installs a global tracer provider. It uses an OTLP/HTTP
// exporter when OTEL_EXPORTER_OTLP_ENDPOINT is set; otherwise spans are
// created but not exported, so running without a collector is harmless.
func SetupTelemetry(ctx context.Context) (func(context.Context) error, error) {
	opts := []tracesdk.TracerProviderOption{
		tracesdk.WithSampler(tracesdk.AlwaysSample()),
		tracesdk.WithResource(sdkresource.Empty()),
	}

	exp, err := otlptracehttp.New(ctx)
	if err == nil {
		opts = append(opts, tracesdk.WithBatcher(exp))
	}

	tp := tracesdk.NewTracerProvider(opts...)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return tp.Shutdown, nil
}

// StartSpan starts a span on the service tracer.
func StartSpan(ctx context.Context, name string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, name)
}

// Error records an error on the span and marks its status.
func Error(s trace.Span, err error, msg string) {
	s.RecordError(err)
	s.SetStatus(codes.Error, msg)
}

// GetInstrumentedHTTPClient returns an HTTP client whose transport records
// spans for every outbound request.
func GetInstrumentedHTTPClient() *http.Client {
	var transport http.RoundTripper = &http.Transport{
		Dial: (&net.Dialer{
			Timeout: 5 * time.Second,
		}).Dial,
		TLSHandshakeTimeout: 5 * time.Second,
	}
	return &http.Client{Transport: otelhttp.NewTransport(transport)}
}

// GetInstrumentedRedisClient returns a redis client with tracing installed.
func GetInstrumentedRedisClient(opts *redis.Options) *redis.Client {
	client := redis.NewClient(opts)
	redisotel.InstrumentTracing(client)
	return client
}
