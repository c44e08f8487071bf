// Package metrics defines the Prometheus collectors exported by the gateway.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

type Metrics struct {
	HealthStatus     prometheus.Gauge
	Failures         prometheus.Gauge
	PollCycles       *prometheus.CounterVec
	MeterCounter     *prometheus.GaugeVec
	JobRuns          *prometheus.CounterVec
	EventsPublished  *prometheus.CounterVec
	GRPCRequests     *prometheus.CounterVec
	GRPCLatency      *prometheus.HistogramVec
	GRPCInFlight     prometheus.Gauge
	LastUpdateSecond prometheus.Gauge
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		HealthStatus: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "gateway_health_status",
			Help: "Gateway health: 0 healthy, 1 degraded, 2 down.",
		}),
		Failures: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "gateway_consecutive_failures",
			Help: "Consecutive connect or read failures.",
		}),
		PollCycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_poll_cycles_total",
			Help: "Poll ticks by result (ok, error, reconnect, skipped).",
		}, []string{"result"}),
		MeterCounter: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "gateway_meter_raw_counter",
			Help: "Last raw pulse counter read per meter.",
		}, []string{"meter_id"}),
		JobRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_job_runs_total",
			Help: "Scheduled job runs by job and result.",
		}, []string{"job", "result"}),
		EventsPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_events_published_total",
			Help: "Events handed to the message bus by kind.",
		}, []string{"kind"}),
		GRPCRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_grpc_requests_total",
			Help: "gRPC requests by service, method and status code.",
		}, []string{"service", "method", "code"}),
		GRPCLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "gateway_grpc_request_duration_seconds",
			Help:    "gRPC request latency by service and method.",
			Buckets: prometheus.DefBuckets,
		}, []string{"service", "method"}),
		GRPCInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "gateway_grpc_requests_in_flight",
			Help: "gRPC requests currently being handled.",
		}),
		LastUpdateSecond: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "gateway_last_update_timestamp_seconds",
			Help: "Unix time of the last completed read cycle.",
		}),
	}

	reg.MustRegister(
		m.HealthStatus,
		m.Failures,
		m.PollCycles,
		m.MeterCounter,
		m.JobRuns,
		m.EventsPublished,
		m.GRPCRequests,
		m.GRPCLatency,
		m.GRPCInFlight,
		m.LastUpdateSecond,
	)
	return m
}
