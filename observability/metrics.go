package observability

import (
	"math"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type vaultMetrics struct {
	operations *prometheus.CounterVec
	rejections *prometheus.CounterVec
	latency    *prometheus.HistogramVec
	feeShares  prometheus.Counter
	nav        prometheus.Gauge
}

var (
	vaultMetricsOnce sync.Once
	vaultRegistry    *vaultMetrics
)

// Vault returns the lazily-initialised metrics registry used to record
// top-level vault operations.
func Vault() *vaultMetrics {
	vaultMetricsOnce.Do(func() {
		vaultRegistry = &vaultMetrics{
			operations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "loopvault",
				Subsystem: "engine",
				Name:      "operations_total",
				Help:      "Total top-level vault operations segmented by kind and outcome.",
			}, []string{"kind", "outcome"}),
			rejections: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "loopvault",
				Subsystem: "engine",
				Name:      "rejections_total",
				Help:      "Rejected operations segmented by kind and the named condition.",
			}, []string{"kind", "condition"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "loopvault",
				Subsystem: "engine",
				Name:      "operation_duration_seconds",
				Help:      "Latency distribution for top-level vault operations.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"kind"}),
			feeShares: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "loopvault",
				Subsystem: "engine",
				Name:      "fee_shares_minted_total",
				Help:      "Cumulative fee shares minted by the high-water-mark accrual.",
			}),
			nav: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "loopvault",
				Subsystem: "engine",
				Name:      "nav_wei",
				Help:      "Net asset value of the position after the last committed operation.",
			}),
		}
		prometheus.MustRegister(
			vaultRegistry.operations,
			vaultRegistry.rejections,
			vaultRegistry.latency,
			vaultRegistry.feeShares,
			vaultRegistry.nav,
		)
	})
	return vaultRegistry
}

// ObserveOperation records the outcome and duration of one top-level vault
// operation.
func (m *vaultMetrics) ObserveOperation(kind, outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	kind = normalizeLabel(kind)
	m.operations.WithLabelValues(kind, normalizeLabel(outcome)).Inc()
	m.latency.WithLabelValues(kind).Observe(duration.Seconds())
}

// RecordRejection counts a rejected operation under its named condition so
// dashboards can distinguish why operations fail.
func (m *vaultMetrics) RecordRejection(kind, condition string) {
	if m == nil {
		return
	}
	m.rejections.WithLabelValues(normalizeLabel(kind), normalizeLabel(condition)).Inc()
}

// RecordFeeShares accumulates fee share issuance.
func (m *vaultMetrics) RecordFeeShares(shares *big.Int) {
	if m == nil || shares == nil || shares.Sign() <= 0 {
		return
	}
	m.feeShares.Add(bigToFloat(shares))
}

// SetNav publishes the latest committed NAV.
func (m *vaultMetrics) SetNav(nav *big.Int) {
	if m == nil || nav == nil {
		return
	}
	m.nav.Set(bigToFloat(nav))
}

func bigToFloat(value *big.Int) float64 {
	floatVal, _ := new(big.Float).SetInt(value).Float64()
	// Guard against NaN/Inf when conversion fails.
	if math.IsNaN(floatVal) || math.IsInf(floatVal, 0) {
		return 0
	}
	return floatVal
}

func normalizeLabel(label string) string {
	normalized := strings.TrimSpace(strings.ToLower(label))
	if normalized == "" {
		return "unknown"
	}
	return normalized
}
