package tracing

import (
	"context"
	"io"
	"os"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/viant/ktask"

// Init installs a stdout exporter writing to outputFile, or to os.Stdout
// when outputFile is empty. The first successful call wins.
func Init(serviceName, serviceVersion, outputFile string) error {
	if outputFile == "" {
		exporter, err := stdouttrace.New(stdouttrace.WithWriter(os.Stdout))
		if err != nil {
			return err
		}
		_, err = installProvider(serviceName, serviceVersion, exporter, nil)
		return err
	}
	f, err := os.Create(outputFile)
	if err != nil {
		return err
	}
	exporter, err := stdouttrace.New(stdouttrace.WithWriter(f))
	if err != nil {
		_ = f.Close()
		return err
	}
	installed, err := installProvider(serviceName, serviceVersion, exporter, f)
	if !installed {
		_ = f.Close()
	}
	return err
}

// InitWithExporter installs exporter as the span sink. The first successful
// call wins.
func InitWithExporter(serviceName, serviceVersion string, exporter sdktrace.SpanExporter) error {
	_, err := installProvider(serviceName, serviceVersion, exporter, nil)
	return err
}

var (
	providerOnce sync.Once
	providerErr  error
	provider     *sdktrace.TracerProvider
	// output is the trace file opened by Init, closed by Shutdown.
	output io.Closer
)

func installProvider(serviceName, serviceVersion string, exporter sdktrace.SpanExporter, closer io.Closer) (installed bool, err error) {
	if exporter == nil {
		return false, nil
	}
	providerOnce.Do(func() {
		installed = true
		res, err := resource.New(context.Background(),
			resource.WithAttributes(
				attribute.String("service.name", serviceName),
				attribute.String("service.version", serviceVersion),
			),
		)
		if err != nil {
			providerErr = err
			return
		}
		provider = sdktrace.NewTracerProvider(
			sdktrace.WithSpanProcessor(sdktrace.NewSimpleSpanProcessor(exporter)),
			sdktrace.WithResource(res),
		)
		output = closer
		otel.SetTracerProvider(provider)
	})
	return installed && providerErr == nil, providerErr
}

// Shutdown flushes and stops the installed provider and closes the trace
// file opened by Init.
func Shutdown(ctx context.Context) error {
	if provider == nil {
		return nil
	}
	err := provider.Shutdown(ctx)
	if output != nil {
		if closeErr := output.Close(); err == nil {
			err = closeErr
		}
		output = nil
	}
	return err
}

// Span wraps an OpenTelemetry span.
type Span struct {
	span trace.Span
}

// WithAttributes attaches string attributes to the span.
func (s *Span) WithAttributes(attrs map[string]string) *Span {
	if s == nil || len(attrs) == 0 {
		return s
	}
	otelAttrs := make([]attribute.KeyValue, 0, len(attrs))
	for k, v := range attrs {
		otelAttrs = append(otelAttrs, attribute.String(k, v))
	}
	s.span.SetAttributes(otelAttrs...)
	return s
}

// WithInt attaches an integer attribute to the span.
func (s *Span) WithInt(key string, value int64) *Span {
	if s == nil {
		return s
	}
	s.span.SetAttributes(attribute.Int64(key, value))
	return s
}

// SetStatus records err on the span, or an OK status when err is nil.
func (s *Span) SetStatus(err error) {
	if s == nil {
		return
	}
	if err != nil {
		s.span.RecordError(err)
		s.span.SetStatus(codes.Error, err.Error())
		return
	}
	s.span.SetStatus(codes.Ok, "")
}

// StartSpan starts a child span of whatever span ctx carries. kind is one of
// SERVER, CLIENT, PRODUCER, CONSUMER; anything else is INTERNAL.
func StartSpan(ctx context.Context, name, kind string) (context.Context, *Span) {
	tracer := otel.Tracer(instrumentationName)
	var spanKind trace.SpanKind
	switch kind {
	case "SERVER":
		spanKind = trace.SpanKindServer
	case "CLIENT":
		spanKind = trace.SpanKindClient
	case "PRODUCER":
		spanKind = trace.SpanKindProducer
	case "CONSUMER":
		spanKind = trace.SpanKindConsumer
	default:
		spanKind = trace.SpanKindInternal
	}
	ctx, span := tracer.Start(ctx, name, trace.WithSpanKind(spanKind))
	return ctx, &Span{span: span}
}

// EndSpan records err and ends the span.
func EndSpan(sp *Span, err error) {
	if sp == nil {
		return
	}
	sp.SetStatus(err)
	sp.span.End()
}

// SpanFromContext returns the span carried by ctx.
func SpanFromContext(ctx context.Context) (*Span, bool) {
	sp := trace.SpanFromContext(ctx)
	if !sp.SpanContext().IsValid() {
		return nil, false
	}
	return &Span{span: sp}, true
}
