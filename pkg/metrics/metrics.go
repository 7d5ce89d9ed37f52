package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Connection metrics
var (
	ConnectionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "submitd_connections_total",
			Help: "Total number of connections established",
		},
		[]string{"protocol"},
	)

	ConnectionsCurrent = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "submitd_connections_current",
			Help: "Current number of active connections",
		},
		[]string{"protocol"},
	)

	ConnectionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "submitd_connection_duration_seconds",
			Help:    "Duration of connections in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"protocol"},
	)
)

// Protocol metrics
var (
	CommandsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "submitd_commands_total",
			Help: "Total number of protocol commands processed",
		},
		[]string{"protocol", "command", "status"},
	)

	// SessionsTotal counts finished sessions by outcome: "success" or the
	// failure kind (parse_mismatch, sequence_violation, incomplete_body,
	// body_too_large, transport_failure).
	SessionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "submitd_sessions_total",
			Help: "Total number of sessions by result",
		},
		[]string{"protocol", "result"},
	)

	MessageSizeBytes = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "submitd_message_size_bytes",
			Help:    "Size of received message bodies in bytes",
			Buckets: []float64{1024, 10240, 102400, 1048576, 10485760, 52428800},
		},
		[]string{"protocol"},
	)
)

// Delivery metrics
var (
	DeliveryAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "submitd_delivery_attempts_total",
			Help: "Total number of message handoffs to a delivery sink",
		},
		[]string{"sink", "result"},
	)

	DeliveryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "submitd_delivery_duration_seconds",
			Help:    "Time spent handing a message to a delivery sink",
			Buckets: []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1.0, 5.0, 30.0},
		},
		[]string{"sink"},
	)

	S3OperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "submitd_s3_operations_total",
			Help: "Total number of S3 operations",
		},
		[]string{"operation", "status"},
	)

	S3OperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "submitd_s3_operation_duration_seconds",
			Help:    "Duration of S3 operations in seconds",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1.0, 2.0, 5.0, 10.0},
		},
		[]string{"operation"},
	)

	StorageOperationErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "submitd_storage_operation_errors_total",
			Help: "Total number of failed storage operations by error type",
		},
		[]string{"operation", "error_type"},
	)
)
