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
	MessagesProcessed  prometheus.Counter
	CommandsDispatched prometheus.Counter
	CommandsDenied     prometheus.Counter
	PermissionChecks   prometheus.Counter
	PermissionDenials  prometheus.Counter

	// Per-filter-kind counters
	FilterTriggers    *prometheus.CounterVec
	PunishmentsIssued *prometheus.CounterVec

	// Histograms (seconds)
	EvaluateDuration prometheus.Observer

	// Gauges
	WarningStateGauge prometheus.Gauge
	JoinedChannels    prometheus.Gauge
)

// Init registers metrics (idempotent).
func Init() {
	once.Do(func() {
		MessagesProcessed = promauto.NewCounter(prometheus.CounterOpts{Name: "bot_messages_processed_total", Help: "Number of chat messages run through the moderation engine"})
		CommandsDispatched = promauto.NewCounter(prometheus.CounterOpts{Name: "bot_commands_dispatched_total", Help: "Number of chat commands dispatched"})
		CommandsDenied = promauto.NewCounter(prometheus.CounterOpts{Name: "bot_commands_denied_total", Help: "Number of chat commands denied by the permission resolver"})
		PermissionChecks = promauto.NewCounter(prometheus.CounterOpts{Name: "bot_permission_checks_total", Help: "Number of CanAct permission checks"})
		PermissionDenials = promauto.NewCounter(prometheus.CounterOpts{Name: "bot_permission_denials_total", Help: "Number of CanAct checks that denied"})
		FilterTriggers = promauto.NewCounterVec(prometheus.CounterOpts{Name: "bot_filter_triggers_total", Help: "Number of moderation filter triggers by kind"}, []string{"kind"})
		PunishmentsIssued = promauto.NewCounterVec(prometheus.CounterOpts{Name: "bot_punishments_issued_total", Help: "Number of punishments handed to the executor by kind"}, []string{"kind"})
		EvaluateDuration = promauto.NewHistogram(prometheus.HistogramOpts{Name: "bot_evaluate_duration_seconds", Help: "Moderation engine evaluation duration per message", Buckets: prometheus.DefBuckets})
		WarningStateGauge = promauto.NewGauge(prometheus.GaugeOpts{Name: "bot_warning_state_entries", Help: "Current number of tracked warning-state entries"})
		JoinedChannels = promauto.NewGauge(prometheus.GaugeOpts{Name: "bot_joined_channels", Help: "Number of channels the bot has joined"})
	})
}

// CountMessageProcessed records one chat message handed to the bot. Safe before Init.
func CountMessageProcessed() {
	if MessagesProcessed != nil {
		MessagesProcessed.Inc()
	}
}

// CountCommandDispatched records one recognized chat command. Safe before Init.
func CountCommandDispatched() {
	if CommandsDispatched != nil {
		CommandsDispatched.Inc()
	}
}

// CountCommandDenied records a command the resolver refused. Safe before Init.
func CountCommandDenied() {
	if CommandsDenied != nil {
		CommandsDenied.Inc()
	}
}

// SetJoinedChannels records the current number of joined channels. Safe before Init.
func SetJoinedChannels(n int) {
	if JoinedChannels != nil {
		JoinedChannels.Set(float64(n))
	}
}

// CountPermissionCheck records one resolver decision. Safe before Init.
func CountPermissionCheck(allowed bool) {
	if PermissionChecks != nil {
		PermissionChecks.Inc()
	}
	if !allowed && PermissionDenials != nil {
		PermissionDenials.Inc()
	}
}

// CountFilterTrigger records a filter trigger by kind. Safe before Init.
func CountFilterTrigger(kind string) {
	if FilterTriggers != nil {
		FilterTriggers.WithLabelValues(kind).Inc()
	}
}

// CountPunishment records a punishment decision by punishment kind. Safe before Init.
func CountPunishment(kind string) {
	if PunishmentsIssued != nil {
		PunishmentsIssued.WithLabelValues(kind).Inc()
	}
}

// SetWarningStateSize records the current warning-tracker population.
func SetWarningStateSize(n int) {
	if WarningStateGauge != nil {
		WarningStateGauge.Set(float64(n))
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
