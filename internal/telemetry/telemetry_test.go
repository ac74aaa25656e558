package telemetry

import (
	"context"
	"testing"
)

func TestInitWithoutEndpointIsNoop(t *testing.T) {
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	shutdown, err := Init(context.Background(), "test")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("noop shutdown returned %v", err)
	}
}

func TestSampleRatio(t *testing.T) {
	cases := map[string]float64{"": 1, "0.25": 0.25, "0": 0, "1.5": 1, "-1": 1, "half": 1}
	for raw, want := range cases {
		t.Setenv("TRACE_SAMPLE_RATIO", raw)
		if got := sampleRatio(); got != want {
			t.Fatalf("sampleRatio(%q) = %v, want %v", raw, got, want)
		}
	}
}
