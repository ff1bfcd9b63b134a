// Package monitoring — метрики Prometheus: HTTP, фоновые проходы,
// комиссии и уведомления. Отдаются на /metrics.
package monitoring

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"serotonyl.ru/staking/internal/common"
)

var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "staking_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	ResponseTimeHistogram = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "staking_http_response_time_seconds",
			Help:    "Histogram of response times",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	SweepRecords = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "staking_sweep_records_total",
			Help: "Records handled by background sweeps by outcome",
		},
		[]string{"sweep", "outcome"},
	)

	SweepDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "staking_sweep_duration_seconds",
			Help:    "Duration of background sweeps",
			Buckets: prometheus.ExponentialBuckets(0.01, 4, 8),
		},
		[]string{"sweep"},
	)

	CommissionCredits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "staking_commission_credits_total",
			Help: "Referral commission credits by level and result",
		},
		[]string{"level", "result"},
	)

	CommissionAmount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "staking_commission_amount_total",
			Help: "Referral commission amount credited by level",
		},
		[]string{"level"},
	)

	Notifications = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "staking_notifications_total",
			Help: "Notifications by result (sent, failed, dropped, skipped)",
		},
		[]string{"result"},
	)
)

// ObserveSweep записывает итог прохода.
func ObserveSweep(r common.SweepReport) {
	SweepRecords.WithLabelValues(r.Name, "processed").Add(float64(r.Processed))
	SweepRecords.WithLabelValues(r.Name, "skipped").Add(float64(r.Skipped))
	SweepRecords.WithLabelValues(r.Name, "errored").Add(float64(r.Errored))
	SweepDuration.WithLabelValues(r.Name).Observe(r.Duration.Seconds())
}
