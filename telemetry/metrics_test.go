package telemetry

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func TestInitRegistersCollectors(t *testing.T) {
	Init()

	if MessagesProcessed == nil {
		t.Error("MessagesProcessed counter not initialized")
	}
	if FilterTriggers == nil {
		t.Error("FilterTriggers counter vec not initialized")
	}
	if PunishmentsIssued == nil {
		t.Error("PunishmentsIssued counter vec not initialized")
	}
	if EvaluateDuration == nil {
		t.Error("EvaluateDuration histogram not initialized")
	}
	if WarningStateGauge == nil {
		t.Error("WarningStateGauge not initialized")
	}

	// Init is idempotent; a second call must not re-register and panic.
	Init()
}

func TestCounterHelpers(t *testing.T) {
	Init()

	// Helpers must not panic, with or without labels.
	CountMessageProcessed()
	CountCommandDispatched()
	CountCommandDenied()
	CountPermissionCheck(true)
	CountPermissionCheck(false)
	CountFilterTrigger("caps")
	CountFilterTrigger("blacklist")
	CountPunishment("timeout")
	SetWarningStateSize(3)
	SetWarningStateSize(0)
	SetJoinedChannels(2)
}

func TestPermissionDenialCounts(t *testing.T) {
	Init()

	before := counterValue(t, PermissionDenials)
	CountPermissionCheck(true)
	if got := counterValue(t, PermissionDenials); got != before {
		t.Errorf("allowed check changed denial counter: %v -> %v", before, got)
	}
	CountPermissionCheck(false)
	if got := counterValue(t, PermissionDenials); got != before+1 {
		t.Errorf("denied check did not increment denial counter: %v -> %v", before, got)
	}
}

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	metric := &dto.Metric{}
	if err := c.Write(metric); err != nil {
		t.Fatalf("write metric: %v", err)
	}
	return metric.Counter.GetValue()
}

func TestTimeFuncRecordsObservation(t *testing.T) {
	testHistogram := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "test_duration_seconds",
		Help:    "Test duration",
		Buckets: prometheus.DefBuckets,
	})
	prometheus.MustRegister(testHistogram)
	defer prometheus.Unregister(testHistogram)

	executed := false
	duration := TimeFunc(testHistogram, func() {
		time.Sleep(10 * time.Millisecond)
		executed = true
	})

	if !executed {
		t.Error("TimeFunc did not execute provided function")
	}
	if duration < 10*time.Millisecond {
		t.Errorf("TimeFunc duration = %v, want >= 10ms", duration)
	}

	metric := &dto.Metric{}
	if err := testHistogram.Write(metric); err != nil {
		t.Fatalf("write metric: %v", err)
	}
	if metric.Histogram == nil || *metric.Histogram.SampleCount == 0 {
		t.Error("TimeFunc did not record observation in histogram")
	}
}

func TestTimeFuncNilObserver(t *testing.T) {
	executed := false
	TimeFunc(nil, func() { executed = true })
	if !executed {
		t.Error("TimeFunc with nil observer did not execute function")
	}
}

func TestCorrelation(t *testing.T) {
	ctx := context.Background()
	if got := GetCorrelation(ctx); got != "" {
		t.Errorf("GetCorrelation on empty context = %q, want empty", got)
	}

	ctx = WithCorrelation(ctx, "corr-123")
	if got := GetCorrelation(ctx); got != "corr-123" {
		t.Errorf("GetCorrelation = %q, want corr-123", got)
	}

	logger := LoggerWithCorr(ctx)
	if logger == nil {
		t.Fatal("LoggerWithCorr returned nil")
	}
}
