package observability

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/Wireless-Innovation-Forum/Spectrum-Access-System-sub002/internal/logging"
)

func TestTracingConfigFromEnv(t *testing.T) {
	t.Setenv("DPASIM_TRACING_ENABLED", "TRUE")
	t.Setenv("DPASIM_TRACING_EXPORTER", "OTLP")
	t.Setenv("DPASIM_TRACING_SERVICE_NAME", "")
	t.Setenv("DPASIM_OTLP_ENDPOINT", "collector:4317")
	t.Setenv("DPASIM_TRACING_SAMPLE_RATIO", "0.25")

	want := TracingConfig{
		Enabled:     true,
		ServiceName: DefaultServiceName,
		Exporter:    "otlp",
		Endpoint:    "collector:4317",
		SampleRatio: 0.25,
	}
	if diff := cmp.Diff(want, TracingConfigFromEnv(), cmpopts.IgnoreFields(TracingConfig{}, "Output")); diff != "" {
		t.Fatalf("TracingConfigFromEnv mismatch (-want +got):\n%s", diff)
	}
}

func TestApplyTracingEnvIgnoresInvalidValues(t *testing.T) {
	t.Setenv("DPASIM_TRACING_SAMPLE_RATIO", "1.5")
	t.Setenv("DPASIM_TRACING_ENABLED", "sometimes")
	cfg := ApplyTracingEnv(TracingConfig{Enabled: true, SampleRatio: 0.5, Exporter: "stdout"})
	if cfg.SampleRatio != 0.5 || !cfg.Enabled {
		t.Fatalf("cfg = %+v, want ratio 0.5 and still enabled", cfg)
	}
}

func TestSampler(t *testing.T) {
	for ratio, want := range map[float64]string{
		1:    sdktrace.AlwaysSample().Description(),
		0:    sdktrace.NeverSample().Description(),
		0.25: sdktrace.ParentBased(sdktrace.TraceIDRatioBased(0.25)).Description(),
	} {
		if got := sampler(ratio).Description(); got != want {
			t.Fatalf("sampler(%g) = %s, want %s", ratio, got, want)
		}
	}
}

func TestInitTracingDisabled(t *testing.T) {
	shutdown, err := InitTracing(context.Background(), DefaultTracingConfig(), nil)
	if err != nil {
		t.Fatalf("InitTracing: %v", err)
	}
	_, span := StartSpan(context.Background(), "noop")
	if span.SpanContext().IsSampled() {
		t.Fatalf("noop span should not be sampled")
	}
	EndSpan(span, nil)
	ShutdownWithTimeout(context.Background(), shutdown, nil)
}

func TestStdoutSpansCarryRunID(t *testing.T) {
	var buf bytes.Buffer
	cfg := DefaultTracingConfig()
	cfg.Enabled = true
	cfg.Output = &buf
	shutdown, err := InitTracing(context.Background(), cfg, nil)
	if err != nil {
		t.Fatalf("InitTracing: %v", err)
	}
	t.Cleanup(func() { _, _ = InitTracing(context.Background(), DefaultTracingConfig(), nil) })

	ctx := logging.ContextWithRunID(context.Background(), "run-42")
	_, span := StartSpan(ctx, "dpa.ComputeMoveLists")
	if !span.SpanContext().IsSampled() {
		t.Fatalf("span not sampled at ratio 1")
	}
	EndSpan(span, errors.New("tile read failed"))
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	for _, want := range []string{"dpa.ComputeMoveLists", "run-42", "tile read failed"} {
		if !strings.Contains(buf.String(), want) {
			t.Fatalf("exported span lacks %q:\n%s", want, buf.String())
		}
	}
}

func TestInitTracingRejectsUnknownExporter(t *testing.T) {
	cfg := DefaultTracingConfig()
	cfg.Enabled = true
	cfg.Exporter = "zipkin"
	if _, err := InitTracing(context.Background(), cfg, nil); err == nil {
		t.Fatalf("InitTracing with unknown exporter: want error")
	}
}
