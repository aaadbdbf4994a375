package observability

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/tbourn/go-social-chat/internal/config"
)

func preserveOTelGlobals(t *testing.T) {
	t.Helper()
	prevTP := otel.GetTracerProvider()
	prevProp := otel.GetTextMapPropagator()
	t.Cleanup(func() {
		otel.SetTracerProvider(prevTP)
		otel.SetTextMapPropagator(prevProp)
	})
}

func enabledConfig(name string) config.OTELConfig {
	return config.OTELConfig{
		Enabled:     true,
		Insecure:    true,
		Endpoint:    "localhost:4317",
		ServiceName: name,
		SampleRatio: 1.0,
	}
}

func TestSetupOTel_Disabled_NoOp(t *testing.T) {
	preserveOTelGlobals(t)
	prev := otel.GetTracerProvider()

	cfg := enabledConfig("svc")
	cfg.Enabled = false
	shutdown, err := SetupOTel(context.Background(), cfg, "v0.0.0")
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("no-op shutdown returned error: %v", err)
	}
	if otel.GetTracerProvider() != prev {
		t.Fatalf("disabled tracing replaced the global provider")
	}
}

func TestSetupOTel_InstallsProvider(t *testing.T) {
	tests := []struct {
		name     string
		insecure bool
		cancel   bool
	}{
		{"insecure", true, false},
		{"tls", false, false},
		// exporter connects lazily, so a dead ctx does not fail setup
		{"canceled ctx", true, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			preserveOTelGlobals(t)
			ctx, cancel := context.WithCancel(context.Background())
			if tt.cancel {
				cancel()
			}
			defer cancel()

			cfg := enabledConfig("svc-" + strings.ReplaceAll(tt.name, " ", "-"))
			cfg.Insecure = tt.insecure
			shutdown, err := SetupOTel(ctx, cfg, "v1.2.3")
			if err != nil {
				t.Fatalf("unexpected err: %v", err)
			}
			if _, ok := otel.GetTracerProvider().(*sdktrace.TracerProvider); !ok {
				t.Fatalf("expected *sdktrace.TracerProvider")
			}

			// traceparent survives an inject/extract round trip
			sctx, span := otel.Tracer("test").Start(context.Background(), "send")
			carrier := propagation.MapCarrier{}
			otel.GetTextMapPropagator().Inject(sctx, carrier)
			span.End()
			if carrier.Get("traceparent") == "" {
				t.Fatalf("traceparent not injected: %v", carrier)
			}

			sdctx, cancelShutdown := context.WithTimeout(context.Background(), 250*time.Millisecond)
			defer cancelShutdown()
			_ = shutdown(sdctx)
		})
	}
}

func TestSetupOTel_ErrorsLeaveGlobalsIntact(t *testing.T) {
	tests := []struct {
		name  string
		patch func() func()
		want  string
	}{
		{
			name: "exporter",
			patch: func() func() {
				orig := newOTLPExporterFn
				newOTLPExporterFn = func(context.Context, otlptrace.Client) (*otlptrace.Exporter, error) {
					return nil, errors.New("boom-exporter")
				}
				return func() { newOTLPExporterFn = orig }
			},
			want: "boom-exporter",
		},
		{
			name: "resource",
			patch: func() func() {
				orig := newServiceResourceFn
				newServiceResourceFn = func(context.Context, string, string) (*resource.Resource, error) {
					return nil, errors.New("boom-resource")
				}
				return func() { newServiceResourceFn = orig }
			},
			want: "boom-resource",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			preserveOTelGlobals(t)
			defer tt.patch()()

			prevTP := otel.GetTracerProvider()
			prevProp := otel.GetTextMapPropagator()

			_, err := SetupOTel(context.Background(), enabledConfig("svc"), "v0")
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("err = %v; want %q", err, tt.want)
			}
			if otel.GetTracerProvider() != prevTP || otel.GetTextMapPropagator() != prevProp {
				t.Fatalf("globals changed on failure")
			}
		})
	}
}

func TestSetupOTel_DefaultServiceName(t *testing.T) {
	preserveOTelGlobals(t)

	orig := newServiceResourceFn
	defer func() { newServiceResourceFn = orig }()

	var got string
	newServiceResourceFn = func(ctx context.Context, serviceName, version string) (*resource.Resource, error) {
		got = serviceName
		return orig(ctx, serviceName, version)
	}

	shutdown, err := SetupOTel(context.Background(), enabledConfig(""), "v1")
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	defer func() { _ = shutdown(context.Background()) }()

	if got != DefaultServiceName {
		t.Fatalf("service name = %q, want %q", got, DefaultServiceName)
	}
}

func TestNewTracerProvider_ResourceAndSampling(t *testing.T) {
	res, err := newServiceResourceFn(context.Background(), "chat-test", "v9")
	if err != nil {
		t.Fatalf("resource: %v", err)
	}

	rec := tracetest.NewSpanRecorder()
	tp := newTracerProvider(rec, res, 1)
	defer func() { _ = tp.Shutdown(context.Background()) }()

	_, span := tp.Tracer("services/MessageService").Start(context.Background(), "Send",
		trace.WithSpanKind(trace.SpanKindInternal))
	span.End()

	ended := rec.Ended()
	if len(ended) != 1 || ended[0].Name() != "Send" {
		t.Fatalf("recorded spans = %v", ended)
	}
	attrs := map[string]string{}
	for _, kv := range ended[0].Resource().Attributes() {
		attrs[string(kv.Key)] = kv.Value.Emit()
	}
	if attrs[string(semconv.ServiceNameKey)] != "chat-test" ||
		attrs[string(semconv.ServiceVersionKey)] != "v9" ||
		attrs[string(semconv.ServiceNamespaceKey)] != ServiceNamespace {
		t.Fatalf("resource attributes = %v", attrs)
	}

	// Ratio 0 drops roots; out-of-range values clamp.
	drop := tracetest.NewSpanRecorder()
	tp0 := newTracerProvider(drop, res, -3)
	defer func() { _ = tp0.Shutdown(context.Background()) }()
	_, span = tp0.Tracer("t").Start(context.Background(), "dropped")
	span.End()
	if n := len(drop.Ended()); n != 0 {
		t.Fatalf("ratio 0 recorded %d spans", n)
	}
}

func TestClampRatio(t *testing.T) {
	for in, want := range map[float64]float64{-1: 0, 0: 0, 0.25: 0.25, 1: 1, 7: 1} {
		if got := clampRatio(in); got != want {
			t.Fatalf("clampRatio(%v) = %v, want %v", in, got, want)
		}
	}
}
