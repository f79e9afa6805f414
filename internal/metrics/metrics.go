package metrics

import (
    "sync"
    "github.com/prometheus/client_golang/prometheus"
    "github.com/prometheus/client_golang/prometheus/collectors"
)

var (
    // Registry is the dedicated Prometheus registry for the API
    Registry = prometheus.NewRegistry()
    // HTTPRequests counts requests by method, path, and status
    HTTPRequests = prometheus.NewCounterVec(
        prometheus.CounterOpts{Name: "http_requests_total", Help: "Total HTTP requests."},
        []string{"method", "path", "status"},
    )
    // HTTPDuration records request durations in seconds
    HTTPDuration = prometheus.NewHistogramVec(
        prometheus.HistogramOpts{Name: "http_request_duration_seconds", Help: "HTTP request duration in seconds.", Buckets: prometheus.DefBuckets},
        []string{"method", "path", "status"},
    )

    // TelemetryReports counts processed position reports by outcome
    TelemetryReports = prometheus.NewCounterVec(
        prometheus.CounterOpts{Name: "telemetry_reports_total", Help: "Telemetry reports by processing outcome."},
        []string{"outcome"},
    )
    // Violations counts recorded driving violations by category
    Violations = prometheus.NewCounterVec(
        prometheus.CounterOpts{Name: "violations_recorded_total", Help: "Driving violations recorded by category."},
        []string{"category"},
    )
    // BroadcastDrops counts realtime deliveries discarded for slow subscribers
    BroadcastDrops = prometheus.NewCounter(
        prometheus.CounterOpts{Name: "broadcast_dropped_total", Help: "Realtime deliveries dropped due to full subscriber buffers."},
    )
    // RouteOptimizations counts optimizer runs and tracks ordered stop counts
    RouteOptimizations = prometheus.NewHistogram(
        prometheus.HistogramOpts{Name: "route_optimization_stops", Help: "Stops ordered per optimization run.", Buckets: []float64{1, 5, 10, 20, 50, 100}},
    )

    // WebhookDeliveries counts webhook delivery outcomes by event type and status
    WebhookDeliveries = prometheus.NewCounterVec(
        prometheus.CounterOpts{Name: "webhook_deliveries_total", Help: "Webhook deliveries by event type and status."},
        []string{"event_type", "status"},
    )
    // WebhookLatency tracks webhook delivery latencies in milliseconds
    WebhookLatency = prometheus.NewHistogramVec(
        prometheus.HistogramOpts{Name: "webhook_delivery_latency_ms", Help: "Webhook delivery latency in ms.", Buckets: []float64{10, 50, 100, 200, 500, 1000, 2000, 5000}},
        []string{"event_type", "status"},
    )
)

// Telemetry report outcomes.
const (
    OutcomeOK            = "ok"
    OutcomeSkipped       = "skipped"
    OutcomeUnknownDevice = "unknown_device"
    OutcomeError         = "error"
)

// RegisterDefault registers collectors to the dedicated registry.
func RegisterDefault() {
    regOnce.Do(func(){
        Registry.MustRegister(HTTPRequests)
        Registry.MustRegister(HTTPDuration)
        Registry.MustRegister(TelemetryReports)
        Registry.MustRegister(Violations)
        Registry.MustRegister(BroadcastDrops)
        Registry.MustRegister(RouteOptimizations)
        Registry.MustRegister(WebhookDeliveries)
        Registry.MustRegister(WebhookLatency)
        // Go/process collectors on our registry
        Registry.MustRegister(collectors.NewGoCollector())
        Registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
    })
}

var regOnce sync.Once
