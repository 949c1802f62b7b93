package utils

import (
	"testing"
	"time"
)

func TestLatencyTrackerPercentile(t *testing.T) {
	tracker := NewLatencyTracker(10)
	for _, d := range []time.Duration{
		10 * time.Millisecond,
		20 * time.Millisecond,
		30 * time.Millisecond,
		40 * time.Millisecond,
		50 * time.Millisecond,
	} {
		tracker.Observe(d)
	}

	if tracker.Count() != 5 {
		t.Fatalf("expected count 5, got %d", tracker.Count())
	}
	if p95 := tracker.Percentile(95); p95 < 40*time.Millisecond {
		t.Fatalf("expected p95 >= 40ms, got %v", p95)
	}
}

func TestLatencyTrackerPercentileMillis(t *testing.T) {
	tracker := NewLatencyTracker(10)
	tracker.Observe(200 * time.Millisecond)
	tracker.Observe(300 * time.Millisecond)

	millis := tracker.PercentileMillis(95)
	if millis < 200 || millis > 300 {
		t.Fatalf("p95 millis out of range: %f", millis)
	}
}

func TestLatencyTrackerEmpty(t *testing.T) {
	tracker := NewLatencyTracker(10)
	if got := tracker.Percentile(95); got != 0 {
		t.Fatalf("empty tracker percentile = %v, want 0", got)
	}
	if got := tracker.PercentileMillis(95); got != 0 {
		t.Fatalf("empty tracker millis = %f, want 0", got)
	}
}

func TestLatencyTrackerBoundedSize(t *testing.T) {
	tracker := NewLatencyTracker(3)
	for i := 0; i < 10; i++ {
		tracker.Observe(time.Duration(i) * time.Millisecond)
	}
	if tracker.Count() != 3 {
		t.Fatalf("expected tracker size 3, got %d", tracker.Count())
	}
}
