// Package telemetry provides Prometheus metrics and correlation-id aware logging helpers.
package telemetry

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Push discard reasons.
const (
	DiscardClosed    = "closed"
	DiscardFiltered  = "filtered"
	DiscardDuplicate = "duplicate"
)

var (
	once sync.Once

	// Counters
	MessagesSent         prometheus.Counter
	SendFailures         prometheus.Counter
	PushesAccepted       prometheus.Counter
	PushesDiscarded      *prometheus.CounterVec
	HistoryFetchFailures prometheus.Counter
	SubscriptionErrors   prometheus.Counter
	FeedReconnects       *prometheus.CounterVec

	// Histograms (seconds)
	HistoryFetchDuration prometheus.Observer

	// Gauges
	OpenConversations prometheus.Gauge
)

// Init registers metrics (idempotent).
func Init() {
	once.Do(func() {
		MessagesSent = promauto.NewCounter(prometheus.CounterOpts{Name: "chat_messages_sent_total", Help: "Messages inserted through a conversation"})
		SendFailures = promauto.NewCounter(prometheus.CounterOpts{Name: "chat_send_failures_total", Help: "Message inserts that failed"})
		PushesAccepted = promauto.NewCounter(prometheus.CounterOpts{Name: "chat_pushes_accepted_total", Help: "Live push events appended to a conversation view"})
		PushesDiscarded = promauto.NewCounterVec(prometheus.CounterOpts{Name: "chat_pushes_discarded_total", Help: "Live push events dropped, by reason"}, []string{"reason"})
		HistoryFetchFailures = promauto.NewCounter(prometheus.CounterOpts{Name: "chat_history_fetch_failures_total", Help: "Historical fetches that failed and were shown as empty"})
		SubscriptionErrors = promauto.NewCounter(prometheus.CounterOpts{Name: "chat_subscription_errors_total", Help: "Live subscriptions that failed to start or were lost"})
		FeedReconnects = promauto.NewCounterVec(prometheus.CounterOpts{Name: "chat_feed_reconnects_total", Help: "Change feed reconnect attempts, by backend"}, []string{"backend"})
		HistoryFetchDuration = promauto.NewHistogram(prometheus.HistogramOpts{Name: "chat_history_fetch_duration_seconds", Help: "Historical fetch duration seconds", Buckets: prometheus.DefBuckets})
		OpenConversations = promauto.NewGauge(prometheus.GaugeOpts{Name: "chat_open_conversations", Help: "Conversation views currently open"})
	})
}

func inc(c prometheus.Counter) {
	if c != nil {
		c.Inc()
	}
}

// RecordSent counts a successful or failed send.
func RecordSent(err error) {
	if err != nil {
		inc(SendFailures)
		return
	}
	inc(MessagesSent)
}

// RecordPushAccepted counts a push appended to a view.
func RecordPushAccepted() { inc(PushesAccepted) }

// RecordPushDiscarded counts a dropped push.
func RecordPushDiscarded(reason string) {
	if PushesDiscarded != nil {
		PushesDiscarded.WithLabelValues(reason).Inc()
	}
}

// RecordFetchFailure counts a history fetch masked as empty.
func RecordFetchFailure() { inc(HistoryFetchFailures) }

// RecordSubscriptionError counts a failed or lost subscription.
func RecordSubscriptionError() { inc(SubscriptionErrors) }

// RecordFeedReconnect counts a reconnect attempt for a feed backend.
func RecordFeedReconnect(backend string) {
	if FeedReconnects != nil {
		FeedReconnects.WithLabelValues(backend).Inc()
	}
}

// AddOpenConversations moves the open-conversations gauge by delta.
func AddOpenConversations(delta int) {
	if OpenConversations != nil {
		OpenConversations.Add(float64(delta))
	}
}

// TimeFunc measures the duration of fn and records in observer if non-nil.
func TimeFunc(obs prometheus.Observer, fn func()) time.Duration {
	start := time.Now()
	fn()
	d := time.Since(start)
	if obs != nil {
		obs.Observe(d.Seconds())
	}
	return d
}

// Correlation ID helpers ----------------------------------------------------
type corrKeyType struct{}

var corrKey corrKeyType

// WithCorrelation returns a new context carrying the correlation id.
func WithCorrelation(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, corrKey, id)
}

// GetCorrelation returns correlation id or empty string.
func GetCorrelation(ctx context.Context) string {
	if s, ok := ctx.Value(corrKey).(string); ok {
		return s
	}
	return ""
}

// LoggerWithCorr returns a logger with corr attribute if present.
func LoggerWithCorr(ctx context.Context) *slog.Logger {
	if id := GetCorrelation(ctx); id != "" {
		return slog.Default().With(slog.String("corr", id))
	}
	return slog.Default()
}
