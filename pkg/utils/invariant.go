// Package utils hosts the ambient pieces shared by every tickcache package: build info, logging setup, test flag
// helpers and invariants.
//
// Invariants are conditions in code that must be true; otherwise, there is a bug in code.
// Think of what you'd `panic()` on, but you don't want to take the whole cache down because of one bad entry.
// If an invariant is violated, an error is logged and a monitoring counter is incremented that will trigger an alert.
// It is still up to the caller to handle the erroneous case, e.g. skip the item and continue the sweep.
//
// Do not use invariants for conditions that depend on external factors; a recipe failing to fetch a document is
// not an invariant violation. A stale item without a recipe reaching the refresher is one, since the sweep only
// collects items that can refresh themselves.

package utils

import (
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	promclient "github.com/prometheus/client_model/go"
)

var invariantsMetric = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "invariants_total",
	Help: "The total number of invariant violations",
}, []string{
	"module", // The module in which this invariant occurred.
	"type",   // The type of the invariant that occurred.
})

func RaiseInvariant(module, invariantType, msg string, args ...any) {
	invariantsMetric.WithLabelValues(module, invariantType).Inc()
	slog.With("invariant", invariantType, "module", module).Error(msg, args...)
	if IsTestMode {
		panic("invariant violated: " + invariantType)
	}
}

// GetMetricValue returns the current value of invariant metric with labels `module` and `invariantType`.
func GetMetricValue(module, invariantType string) int {
	return int(CounterValue(invariantsMetric.WithLabelValues(module, invariantType)))
}

// CounterValue reads the current value of a prometheus counter; mostly useful in tests.
func CounterValue(counter prometheus.Counter) float64 {
	metric := new(promclient.Metric)
	if err := counter.Write(metric); err != nil {
		slog.Error("Failed to read counter value.", "error", err)
		return 0
	}
	return metric.GetCounter().GetValue()
}
