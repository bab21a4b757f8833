package telemetry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
)

func TestInitIsIdempotent(t *testing.T) {
	Init()
	first := MessagesSent
	Init()
	if MessagesSent != first {
		t.Error("Init re-registered metrics")
	}
	if PushesDiscarded == nil || FeedReconnects == nil || OpenConversations == nil {
		t.Fatal("metrics not initialized")
	}
}

func TestRecordSent(t *testing.T) {
	Init()
	sent := promtest.ToFloat64(MessagesSent)
	failed := promtest.ToFloat64(SendFailures)

	RecordSent(nil)
	RecordSent(errors.New("boom"))

	if got := promtest.ToFloat64(MessagesSent) - sent; got != 1 {
		t.Errorf("messages sent delta = %v, want 1", got)
	}
	if got := promtest.ToFloat64(SendFailures) - failed; got != 1 {
		t.Errorf("send failures delta = %v, want 1", got)
	}
}

func TestRecordPushDiscardedByReason(t *testing.T) {
	Init()
	before := promtest.ToFloat64(PushesDiscarded.WithLabelValues(DiscardFiltered))
	RecordPushDiscarded(DiscardFiltered)
	RecordPushDiscarded(DiscardFiltered)
	after := promtest.ToFloat64(PushesDiscarded.WithLabelValues(DiscardFiltered))
	if after-before != 2 {
		t.Errorf("filtered delta = %v, want 2", after-before)
	}
}

func TestOpenConversationsGauge(t *testing.T) {
	Init()
	base := promtest.ToFloat64(OpenConversations)
	AddOpenConversations(1)
	AddOpenConversations(1)
	AddOpenConversations(-1)
	if got := promtest.ToFloat64(OpenConversations) - base; got != 1 {
		t.Errorf("gauge delta = %v, want 1", got)
	}
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
	d := TimeFunc(testHistogram, func() {
		time.Sleep(10 * time.Millisecond)
		executed = true
	})
	if !executed {
		t.Error("TimeFunc did not execute provided function")
	}
	if d < 10*time.Millisecond {
		t.Errorf("duration = %v, want >= 10ms", d)
	}
	if n := promtest.CollectAndCount(testHistogram); n != 1 {
		t.Errorf("collected %d metrics, want 1", n)
	}
}

func TestCorrelation(t *testing.T) {
	ctx := context.Background()
	if GetCorrelation(ctx) != "" {
		t.Error("expected empty correlation on bare context")
	}
	ctx = WithCorrelation(ctx, "abc")
	if got := GetCorrelation(ctx); got != "abc" {
		t.Errorf("GetCorrelation = %q, want abc", got)
	}
	if LoggerWithCorr(ctx) == nil {
		t.Error("LoggerWithCorr returned nil")
	}
}
