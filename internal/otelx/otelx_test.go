package otelx

import (
	"context"
	"testing"
	"time"

	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

func TestInit_Disabled(t *testing.T) {
	shutdown, err := Init(context.Background(), Options{Enabled: false, Sample: 99.9})
	if err != nil {
		t.Fatalf("Init disabled: %v", err)
	}
	if shutdown == nil {
		t.Fatal("shutdown func is nil")
	}
	for i := 0; i < 2; i++ {
		if err := shutdown(context.Background()); err != nil {
			t.Fatalf("shutdown #%d: %v", i+1, err)
		}
	}

	if _, ok := otel.GetTracerProvider().(*sdktrace.TracerProvider); !ok {
		t.Fatalf("TracerProvider type = %T, want *sdktrace.TracerProvider", otel.GetTracerProvider())
	}
}

func TestInit_Disabled_SetsPropagator(t *testing.T) {
	_, _ = Init(context.Background(), Options{Enabled: false})

	fields := make(map[string]bool)
	for _, f := range otel.GetTextMapPropagator().Fields() {
		fields[f] = true
	}
	for _, want := range []string{"traceparent", "tracestate", "baggage"} {
		if !fields[want] {
			t.Errorf("propagator missing %s field", want)
		}
	}
}

func TestInit_Disabled_SpansCarryIDs(t *testing.T) {
	_, _ = Init(context.Background(), Options{Enabled: false})

	_, span := otel.Tracer("test").Start(context.Background(), "request")
	defer span.End()

	// the default sdk sampler records, so trace ids reach logs and headers
	if !span.SpanContext().IsValid() {
		t.Fatal("span context should be valid with the sdk provider")
	}
}

func TestSampler(t *testing.T) {
	traceID, _ := trace.TraceIDFromHex("0102030405060708090a0b0c0d0e0f10")
	params := sdktrace.SamplingParameters{
		ParentContext: context.Background(),
		TraceID:       traceID,
		Name:          "GET /test",
	}

	tests := []struct {
		ratio float64
		want  sdktrace.SamplingDecision
	}{
		{-1, sdktrace.Drop},
		{0, sdktrace.Drop},
		{1, sdktrace.RecordAndSample},
		{5, sdktrace.RecordAndSample},
	}
	for _, tt := range tests {
		if got := sampler(tt.ratio).ShouldSample(params).Decision; got != tt.want {
			t.Errorf("sampler(%v) = %v, want %v", tt.ratio, got, tt.want)
		}
	}
}

func TestSampler_FollowsSampledParent(t *testing.T) {
	traceID, _ := trace.TraceIDFromHex("0102030405060708090a0b0c0d0e0f10")
	spanID, _ := trace.SpanIDFromHex("0102030405060708")
	parent := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    traceID,
		SpanID:     spanID,
		TraceFlags: trace.FlagsSampled,
		Remote:     true,
	})

	got := sampler(0).ShouldSample(sdktrace.SamplingParameters{
		ParentContext: trace.ContextWithRemoteSpanContext(context.Background(), parent),
		TraceID:       traceID,
		Name:          "GET /",
	}).Decision
	if got != sdktrace.RecordAndSample {
		t.Fatalf("decision = %v, want RecordAndSample for a sampled parent", got)
	}
}

func TestServiceName(t *testing.T) {
	if got := serviceName(Options{Service: "linnemanlabs-edge", Component: "server"}); got != "linnemanlabs-edge.server" {
		t.Fatalf("got %q", got)
	}
	if got := serviceName(Options{Service: "linnemanlabs-edge"}); got != "linnemanlabs-edge" {
		t.Fatalf("got %q", got)
	}
}

func TestInit_Enabled_ReturnsPromptly(t *testing.T) {
	// grpc connects lazily, an unreachable collector must not block startup
	start := time.Now()
	shutdown, err := Init(context.Background(), Options{
		Enabled:   true,
		Endpoint:  "localhost:1",
		Insecure:  true,
		Sample:    1.0,
		Service:   "test",
		Component: "test",
		Version:   "v0.0.0-test",
	})
	elapsed := time.Since(start)

	if elapsed > 10*time.Second {
		t.Fatalf("Init took %v", elapsed)
	}
	if err != nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := shutdown(ctx); err != nil {
		t.Logf("shutdown error (expected with no collector): %v", err)
	}
}
