// internal/metrics/metrics.go
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics агрегирует счётчики движка мониторинга. Регистрация выполняется в
// переданном реестре, поэтому в тестах можно использовать изолированный.
type Metrics struct {
	ObservationCounter  *prometheus.CounterVec
	TradeCounter        *prometheus.CounterVec
	TradeFailureCounter *prometheus.CounterVec
	NotificationCounter prometheus.Counter
	ActiveMonitors      *prometheus.GaugeVec
	ObservationDuration prometheus.Histogram
}

func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ObservationCounter: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "monitor_observations_total",
				Help: "Total number of market data observations",
			},
			[]string{"monitor_type"},
		),
		TradeCounter: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "monitor_trades_total",
				Help: "Total number of executed trades",
			},
			[]string{"action"},
		),
		TradeFailureCounter: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "monitor_trade_failures_total",
				Help: "Total number of failed trade attempts",
			},
			[]string{"action"},
		),
		NotificationCounter: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "monitor_notifications_total",
			Help: "Total number of webhook notifications sent",
		}),
		ActiveMonitors: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "monitor_active",
				Help: "Number of currently running monitor loops",
			},
			[]string{"monitor_type"},
		),
		ObservationDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "monitor_observation_duration_seconds",
			Help:    "Duration of a single observation cycle",
			Buckets: prometheus.LinearBuckets(0, 0.5, 10),
		}),
	}

	reg.MustRegister(
		m.ObservationCounter,
		m.TradeCounter,
		m.TradeFailureCounter,
		m.NotificationCounter,
		m.ActiveMonitors,
		m.ObservationDuration,
	)
	return m
}

func (m *Metrics) TrackObservation(monitorType string, start time.Time) {
	m.ObservationCounter.WithLabelValues(monitorType).Inc()
	m.ObservationDuration.Observe(time.Since(start).Seconds())
}
