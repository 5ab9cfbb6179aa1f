package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	DeliveriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "grpc_deliver_deliveries_total",
			Help: "Total number of reported delivery outcomes by status code.",
		},
		[]string{"code"},
	)

	DeliveryFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "grpc_deliver_delivery_failures_total",
			Help: "Total number of failed delivery attempts by pipeline stage.",
		},
		[]string{"stage"}, // message, transaction_id, endpoint, dial, call
	)

	DeliveryLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "grpc_deliver_delivery_latency_seconds",
			Help:    "Time from task start to reported outcome.",
			Buckets: prometheus.DefBuckets,
		},
	)

	InflightTasks = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "grpc_deliver_inflight_tasks",
			Help: "Delivery tasks spawned and not yet finished.",
		},
	)

	RuntimeWorkers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "grpc_deliver_runtime_workers",
			Help: "Worker count of the task executor.",
		},
	)

	ReceivedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "grpc_deliver_received_total",
			Help: "Messages handled by the delivery service by sink and result.",
		},
		[]string{"sink", "result"},
	)
)

// MustRegister registers every collector on reg.
func MustRegister(reg prometheus.Registerer) {
	reg.MustRegister(
		DeliveriesTotal,
		DeliveryFailuresTotal,
		DeliveryLatency,
		InflightTasks,
		RuntimeWorkers,
		ReceivedTotal,
	)
}

// RecordDelivery counts one reported outcome and its latency.
func RecordDelivery(code int, latency time.Duration) {
	DeliveriesTotal.WithLabelValues(strconv.Itoa(code)).Inc()
	DeliveryLatency.Observe(latency.Seconds())
}

// RecordFailure counts an attempt that failed at stage.
func RecordFailure(stage string) {
	DeliveryFailuresTotal.WithLabelValues(stage).Inc()
}

func TaskStarted() {
	InflightTasks.Inc()
}

func TaskFinished() {
	InflightTasks.Dec()
}

func SetWorkers(n int) {
	RuntimeWorkers.Set(float64(n))
}

// RecordReceived counts a message handled by the delivery service.
func RecordReceived(sink, result string) {
	ReceivedTotal.WithLabelValues(sink, result).Inc()
}
