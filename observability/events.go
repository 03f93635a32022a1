package observability

import (
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

type eventMetrics struct {
	records *prometheus.CounterVec
}

var (
	eventMetricsOnce sync.Once
	eventRegistry    *eventMetrics
)

// Events returns the metrics registry tracking emitted operation records.
func Events() *eventMetrics {
	eventMetricsOnce.Do(func() {
		eventRegistry = &eventMetrics{
			records: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "loopvault",
				Subsystem: "events",
				Name:      "operation_records_total",
				Help:      "Count of emitted operation records segmented by kind.",
			}, []string{"kind"}),
		}
		prometheus.MustRegister(eventRegistry.records)
	})
	return eventRegistry
}

// RecordOperation increments the record counter for the supplied kind.
func (m *eventMetrics) RecordOperation(kind string) {
	if m == nil {
		return
	}
	normalized := strings.TrimSpace(strings.ToLower(kind))
	if normalized == "" {
		normalized = "unknown"
	}
	m.records.WithLabelValues(normalized).Inc()
}
