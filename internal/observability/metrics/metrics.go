package metrics

import (
	"database/sql"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
)

const (
	metricPrefix = "alerting_"

	resultSuccess = "success"
	resultError   = "error"

	readingResultEvaluated = "evaluated"
	readingResultUnknown   = "unknown_parameter"
	readingResultMalformed = "malformed"
)

var (
	registerOnce sync.Once

	ingestRequests *prometheus.CounterVec
	ingestErrors   *prometheus.CounterVec
	ingestLatency  *prometheus.HistogramVec

	consumerLag *prometheus.GaugeVec

	readingsTotal *prometheus.CounterVec

	alertEventsTotal *prometheus.CounterVec
	activeAlerts     prometheus.Gauge

	thresholdRefreshTotal *prometheus.CounterVec
	thresholdCount        prometheus.Gauge

	deliveryDropped   *prometheus.CounterVec
	logAppendFailures *prometheus.CounterVec

	notificationsTotal *prometheus.CounterVec

	exportTotal   *prometheus.CounterVec
	exportLatency *prometheus.HistogramVec

	httpRequests *prometheus.CounterVec
	httpLatency  *prometheus.HistogramVec
)

// Init registers service metrics and DB-backed gauges.
func Init(db *sql.DB, logger zerolog.Logger) {
	registerOnce.Do(func() {
		ingestRequests = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "ingest_requests_total",
				Help: "Total telemetry ingest messages by source and result",
			},
			[]string{"source", "result"},
		)
		ingestErrors = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "ingest_errors_total",
				Help: "Total ingest errors by reason",
			},
			[]string{"reason"},
		)
		ingestLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "ingest_latency_seconds",
				Help:    "Ingest handling latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"source"},
		)

		consumerLag = prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: metricPrefix + "consumer_lag_messages",
				Help: "Kafka consumer lag in messages",
			},
			[]string{"topic"},
		)

		readingsTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "readings_total",
				Help: "Parameter readings by evaluation result",
			},
			[]string{"result"},
		)

		alertEventsTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "events_total",
				Help: "Alert lifecycle events by kind and severity",
			},
			[]string{"kind", "severity"},
		)
		activeAlerts = prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: metricPrefix + "active_alerts",
				Help: "Currently active alerts",
			},
		)

		thresholdRefreshTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "threshold_refresh_total",
				Help: "Threshold refreshes by result",
			},
			[]string{"result"},
		)
		thresholdCount = prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: metricPrefix + "thresholds_loaded",
				Help: "Parameters in the published threshold snapshot",
			},
		)

		deliveryDropped = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "delivery_dropped_total",
				Help: "Events dropped because a subscriber or queue was full",
			},
			[]string{"target"},
		)
		logAppendFailures = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "log_append_failures_total",
				Help: "Durable log append failures by log",
			},
			[]string{"log"},
		)

		notificationsTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "notifications_total",
				Help: "Outbound notifications by result",
			},
			[]string{"result"},
		)

		exportTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "action_log_export_total",
				Help: "Action log exports by format and result",
			},
			[]string{"format", "result"},
		)
		exportLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "action_log_export_latency_seconds",
				Help:    "Action log export latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"format", "result"},
		)

		httpRequests = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "http_requests_total",
				Help: "HTTP requests by method and status",
			},
			[]string{"method", "status"},
		)
		httpLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "http_request_duration_seconds",
				Help:    "HTTP request latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method"},
		)

		prometheus.MustRegister(
			ingestRequests,
			ingestErrors,
			ingestLatency,
			consumerLag,
			readingsTotal,
			alertEventsTotal,
			activeAlerts,
			thresholdRefreshTotal,
			thresholdCount,
			deliveryDropped,
			logAppendFailures,
			notificationsTotal,
			exportTotal,
			exportLatency,
			httpRequests,
			httpLatency,
		)

		if db != nil {
			registerDBMetrics(db, logger)
		}
	})
}

// ObserveIngest records ingest duration and result.
func ObserveIngest(source, result string, duration time.Duration) {
	if source == "" {
		source = "unknown"
	}
	if result == "" {
		result = resultSuccess
	}
	if ingestRequests != nil {
		ingestRequests.WithLabelValues(source, result).Inc()
	}
	if ingestLatency != nil {
		ingestLatency.WithLabelValues(source).Observe(duration.Seconds())
	}
}

// IncIngestError increments ingest error counter.
func IncIngestError(reason string) {
	if reason == "" {
		reason = "unknown"
	}
	if ingestErrors != nil {
		ingestErrors.WithLabelValues(reason).Inc()
	}
}

// SetConsumerLag sets consumer lag in messages.
func SetConsumerLag(topic string, lag int64) {
	if topic == "" {
		topic = "unknown"
	}
	if lag < 0 {
		lag = 0
	}
	if consumerLag != nil {
		consumerLag.WithLabelValues(topic).Set(float64(lag))
	}
}

// IncReading counts one evaluated parameter reading.
func IncReading(result string) {
	if result == "" {
		result = readingResultEvaluated
	}
	if readingsTotal != nil {
		readingsTotal.WithLabelValues(result).Inc()
	}
}

// IncAlertEvent increments alert lifecycle counters.
func IncAlertEvent(kind, severity string) {
	if kind == "" {
		kind = "unknown"
	}
	if severity == "" {
		severity = "none"
	}
	if alertEventsTotal != nil {
		alertEventsTotal.WithLabelValues(kind, severity).Inc()
	}
}

// SetActiveAlerts sets the active alert gauge.
func SetActiveAlerts(count int) {
	if activeAlerts != nil {
		activeAlerts.Set(float64(count))
	}
}

// ObserveThresholdRefresh records a refresh result and the loaded parameter count.
func ObserveThresholdRefresh(result string, loaded int) {
	if result == "" {
		result = resultSuccess
	}
	if thresholdRefreshTotal != nil {
		thresholdRefreshTotal.WithLabelValues(result).Inc()
	}
	if result == resultSuccess && thresholdCount != nil {
		thresholdCount.Set(float64(loaded))
	}
}

// IncDeliveryDropped counts an event dropped for a target.
func IncDeliveryDropped(target string) {
	if target == "" {
		target = "unknown"
	}
	if deliveryDropped != nil {
		deliveryDropped.WithLabelValues(target).Inc()
	}
}

// IncLogAppendFailure counts a durable log append failure.
func IncLogAppendFailure(log string) {
	if log == "" {
		log = "unknown"
	}
	if logAppendFailures != nil {
		logAppendFailures.WithLabelValues(log).Inc()
	}
}

// IncNotification counts an outbound notification attempt.
func IncNotification(result string) {
	if result == "" {
		result = resultSuccess
	}
	if notificationsTotal != nil {
		notificationsTotal.WithLabelValues(result).Inc()
	}
}

// ObserveExport records export latency and result.
func ObserveExport(format, result string, duration time.Duration) {
	if format == "" {
		format = "unknown"
	}
	if result == "" {
		result = resultSuccess
	}
	if exportTotal != nil {
		exportTotal.WithLabelValues(format, result).Inc()
	}
	if exportLatency != nil {
		exportLatency.WithLabelValues(format, result).Observe(duration.Seconds())
	}
}

// ObserveHTTP records one HTTP request.
func ObserveHTTP(method string, status int, duration time.Duration) {
	if httpRequests != nil {
		httpRequests.WithLabelValues(method, statusClass(status)).Inc()
	}
	if httpLatency != nil {
		httpLatency.WithLabelValues(method).Observe(duration.Seconds())
	}
}

func statusClass(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	case status >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}

// Exported constants for callers.
const (
	ResultSuccess = resultSuccess
	ResultError   = resultError

	ReadingEvaluated        = readingResultEvaluated
	ReadingUnknownParameter = readingResultUnknown
	ReadingMalformed        = readingResultMalformed
)
