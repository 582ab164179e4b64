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

var (
	once sync.Once

	// Counters
	MessagesPosted    prometheus.Counter
	SendsRejected     *prometheus.CounterVec
	MessagesModerated prometheus.Counter
	SessionsStarted   prometheus.Counter
	SessionsEnded     prometheus.Counter
	WebhookEvents     *prometheus.CounterVec

	// Histograms (seconds)
	ChatListDuration prometheus.Observer

	// Gauges
	LiveBroadcastersGauge prometheus.Gauge
)

// Init registers metrics (idempotent).
func Init() {
	once.Do(func() {
		MessagesPosted = promauto.NewCounter(prometheus.CounterOpts{Name: "chat_messages_posted_total", Help: "Number of chat messages accepted and persisted"})
		SendsRejected = promauto.NewCounterVec(prometheus.CounterOpts{Name: "chat_sends_rejected_total", Help: "Number of chat sends rejected, by reason"}, []string{"reason"})
		MessagesModerated = promauto.NewCounter(prometheus.CounterOpts{Name: "chat_messages_moderated_total", Help: "Number of chat messages soft-deleted by moderation"})
		SessionsStarted = promauto.NewCounter(prometheus.CounterOpts{Name: "stream_sessions_started_total", Help: "Number of stream sessions opened"})
		SessionsEnded = promauto.NewCounter(prometheus.CounterOpts{Name: "stream_sessions_ended_total", Help: "Number of stream sessions closed"})
		WebhookEvents = promauto.NewCounterVec(prometheus.CounterOpts{Name: "provider_webhook_events_total", Help: "Number of provider webhook events received, by type"}, []string{"type"})
		ChatListDuration = promauto.NewHistogram(prometheus.HistogramOpts{Name: "chat_list_duration_seconds", Help: "Chat list query duration seconds", Buckets: prometheus.DefBuckets})
		LiveBroadcastersGauge = promauto.NewGauge(prometheus.GaugeOpts{Name: "live_broadcasters", Help: "Current number of broadcasters flagged live"})
	})
}

// CountRejectedSend increments the rejection counter for a reason label if metrics are initialized.
func CountRejectedSend(reason string) {
	if SendsRejected != nil {
		SendsRejected.WithLabelValues(reason).Inc()
	}
}

// CountWebhookEvent increments the webhook event counter for an event type.
func CountWebhookEvent(eventType string) {
	if WebhookEvents != nil {
		WebhookEvents.WithLabelValues(eventType).Inc()
	}
}

// SetLiveBroadcasters records the current number of live broadcasters.
func SetLiveBroadcasters(n int) {
	if LiveBroadcastersGauge != nil {
		LiveBroadcastersGauge.Set(float64(n))
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

// WithCorrelation returns a new context embedding correlation id (if absent) and the id.
func WithCorrelation(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, corrKey, id)
}

// GetCorrelation returns correlation id or empty string.
func GetCorrelation(ctx context.Context) string {
	v := ctx.Value(corrKey)
	if s, ok := v.(string); ok {
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
