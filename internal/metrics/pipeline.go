package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Pipeline metrics are low-cardinality (no user_id/stream_id labels).

var (
	// FramesProcessedTotal counts decoded frames that entered the pipeline
	FramesProcessedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "vg_frames_processed_total",
			Help: "Total decoded frames run through the detection pipeline",
		},
	)

	// FramesDroppedTotal counts frames dropped by back-pressure
	FramesDroppedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "vg_frames_dropped_total",
			Help: "Total frames dropped because the processor was busy",
		},
	)

	// InferenceLatency tracks model call latency
	InferenceLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "vg_inference_latency_ms",
			Help:    "Inference latency in milliseconds",
			Buckets: []float64{10, 25, 50, 100, 200, 500, 1000, 2000},
		},
		[]string{"model"},
	)

	// AnomaliesTotal counts positive classifications by confidence bucket
	AnomaliesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vg_anomalies_total",
			Help: "Total abnormal classifications by confidence bucket",
		},
		[]string{"confidence"},
	)

	// ActiveStreams is the number of live peer connections
	ActiveStreams = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "vg_active_streams",
			Help: "Number of registered live streams",
		},
	)

	// HubConnections is the number of open alert channels
	HubConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "vg_hub_connections",
			Help: "Number of open alert WebSocket channels",
		},
	)

	// AlertsDeliveredTotal counts anomaly messages written to clients
	AlertsDeliveredTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "vg_alerts_delivered_total",
			Help: "Total anomaly_detected messages delivered over WebSocket",
		},
	)
)

// Helper functions for metrics recording

func RecordFrame() {
	FramesProcessedTotal.Inc()
}

func RecordFrameDrop() {
	FramesDroppedTotal.Inc()
}

func RecordInferenceLatency(model string, latencyMs float64) {
	InferenceLatency.WithLabelValues(model).Observe(latencyMs)
}

func RecordAnomaly(confidence string) {
	AnomaliesTotal.WithLabelValues(confidence).Inc()
}

func SetActiveStreams(n int) {
	ActiveStreams.Set(float64(n))
}

func SetHubConnections(n int) {
	HubConnections.Set(float64(n))
}

func RecordAlertDelivered() {
	AlertsDeliveredTotal.Inc()
}
