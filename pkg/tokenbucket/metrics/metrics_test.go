package metrics

import (
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/KanavDutta/tokenbucket/pkg/tokenbucket"
)

func TestRecorder_Register(t *testing.T) {
	reg := prometheus.NewRegistry()
	recorder := NewRecorder("test")

	if err := recorder.Register(reg); err != nil {
		t.Fatalf("Register() failed: %v", err)
	}
	if err := recorder.Register(reg); err == nil {
		t.Error("registering twice should fail")
	}
}

func TestRecorder_ObserveConsume(t *testing.T) {
	recorder := NewRecorder("test")

	recorder.ObserveConsume("login", 1, true)
	recorder.ObserveConsume("login", 1, false)
	recorder.ObserveConsume("login", 1, false)
	recorder.ObserveConsume("default", 5, true)

	tests := []struct {
		name string
		got  float64
		want float64
	}{
		{"login allowed", testutil.ToFloat64(recorder.decisions.WithLabelValues("login", ResultAllowed)), 1},
		{"login rejected", testutil.ToFloat64(recorder.decisions.WithLabelValues("login", ResultRejected)), 2},
		{"default allowed", testutil.ToFloat64(recorder.decisions.WithLabelValues("default", ResultAllowed)), 1},
		{"login tokens", testutil.ToFloat64(recorder.tokensGranted.WithLabelValues("login")), 1},
		{"default tokens", testutil.ToFloat64(recorder.tokensGranted.WithLabelValues("default")), 5},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("%s = %v, want %v", tt.name, tt.got, tt.want)
		}
	}
}

func TestRecorder_ObserveCleanup(t *testing.T) {
	recorder := NewRecorder("test")

	recorder.ObserveCleanup(3, 10)
	recorder.ObserveCleanup(2, 8)

	if got := testutil.ToFloat64(recorder.evicted); got != 5 {
		t.Errorf("evicted = %v, want 5", got)
	}
	if got := testutil.ToFloat64(recorder.buckets); got != 8 {
		t.Errorf("buckets = %v, want 8", got)
	}
}

func TestRecorder_WithRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	recorder := NewRecorder("app")
	if err := recorder.Register(reg); err != nil {
		t.Fatalf("Register() failed: %v", err)
	}

	clock := tokenbucket.NewManualClock(0)
	registry, err := tokenbucket.NewRegistry(
		&tokenbucket.RegistryConfig{Defaults: tokenbucket.Config{Rate: 1, Burst: 2}},
		tokenbucket.WithRegistryClock(clock),
		tokenbucket.WithRecorder(recorder),
	)
	if err != nil {
		t.Fatalf("NewRegistry() failed: %v", err)
	}

	for i := 0; i < 3; i++ {
		if _, err := registry.Consume("", "client", 1); err != nil {
			t.Fatalf("Consume() failed: %v", err)
		}
	}
	clock.Advance(time.Minute)
	registry.Cleanup()

	expected := `
# HELP app_tokenbucket_decisions_total Total number of consume decisions
# TYPE app_tokenbucket_decisions_total counter
app_tokenbucket_decisions_total{policy="default",result="allowed"} 2
app_tokenbucket_decisions_total{policy="default",result="rejected"} 1
# HELP app_tokenbucket_buckets_evicted_total Total number of rested buckets removed by cleanup
# TYPE app_tokenbucket_buckets_evicted_total counter
app_tokenbucket_buckets_evicted_total 1
`
	err = testutil.GatherAndCompare(reg, strings.NewReader(expected),
		"app_tokenbucket_decisions_total", "app_tokenbucket_buckets_evicted_total")
	if err != nil {
		t.Errorf("unexpected metrics:\n%v", err)
	}
}
