// Package metrics defines the Prometheus instruments for ingestion,
// delivery and retry scheduling.
package metrics

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "hookrelay"

type Metrics struct {
	EventsIngested        *prometheus.CounterVec
	Deliveries            *prometheus.CounterVec
	DeliveryDuration      *prometheus.HistogramVec
	RetriesScheduled      prometheus.Counter
	RetryScheduleFailures prometheus.Counter
	RetriesFired          prometheus.Counter
	QueueAnomalies        *prometheus.CounterVec
	StalledEventsRequeued prometheus.Counter
	AttemptsPurged        prometheus.Counter
}

// New creates the instruments and registers them on reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		EventsIngested: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "events_ingested_total",
				Help:      "Event submissions by result",
			},
			[]string{"result"},
		),
		Deliveries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "delivery_attempts_total",
				Help:      "Delivery attempts by recorded status",
			},
			[]string{"status"},
		),
		DeliveryDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "delivery_duration_seconds",
				Help:      "Duration of outbound delivery requests",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"outcome"},
		),
		RetriesScheduled: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retries_scheduled_total",
			Help:      "Retries written to the retry schedule",
		}),
		RetryScheduleFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retry_schedule_failures_total",
			Help:      "Retries that could not be scheduled and were dropped",
		}),
		RetriesFired: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retries_fired_total",
			Help:      "Scheduled retries taken from the schedule and executed",
		}),
		QueueAnomalies: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "queue_anomalies_total",
				Help:      "Queue items dropped or skipped by the worker",
			},
			[]string{"reason"},
		),
		StalledEventsRequeued: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stalled_events_requeued_total",
			Help:      "Unprocessed events pushed back onto the delivery queue",
		}),
		AttemptsPurged: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "attempts_purged_total",
			Help:      "Ledger rows removed by the retention purge",
		}),
	}

	reg.MustRegister(
		m.EventsIngested,
		m.Deliveries,
		m.DeliveryDuration,
		m.RetriesScheduled,
		m.RetryScheduleFailures,
		m.RetriesFired,
		m.QueueAnomalies,
		m.StalledEventsRequeued,
		m.AttemptsPurged,
	)
	return m
}

// ObserveDelivery records one attempt's status and request duration.
func (m *Metrics) ObserveDelivery(status string, success bool, d time.Duration) {
	m.Deliveries.WithLabelValues(status).Inc()
	outcome := "failure"
	if success {
		outcome = "success"
	}
	m.DeliveryDuration.WithLabelValues(outcome).Observe(d.Seconds())
}

// Depth reports the current size of a queue-like structure.
type Depth func(ctx context.Context) (int64, error)

// RegisterDepthGauges exposes the delivery queue and retry schedule sizes,
// sampled on every scrape.
func RegisterDepthGauges(reg prometheus.Registerer, queue, retries Depth) {
	reg.MustRegister(
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "delivery_queue_depth",
			Help:      "Event references waiting in the delivery queue",
		}, sample(queue)),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "retry_schedule_depth",
			Help:      "Retries waiting in the retry schedule",
		}, sample(retries)),
	)
}

func sample(depth Depth) func() float64 {
	return func() float64 {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		n, err := depth(ctx)
		if err != nil {
			return -1
		}
		return float64(n)
	}
}
