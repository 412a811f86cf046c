// Package metrics holds the Prometheus collectors for fetch operations.
package metrics

import (
	"io"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
)

// Outcome labels
const (
	OutcomeResolved   = "resolved"
	OutcomeRejected   = "rejected"
	OutcomeSuppressed = "suppressed"
)

// Registry is the process-wide registry the fetch layer reports into.
var Registry = prometheus.NewRegistry()

func init() {
	Registry.MustRegister(FetchTotal, FetchDuration, MergedResources, InFlight)
}

// FetchTotal counts fetch operations by request kind and outcome.
var FetchTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "recordfetch_fetch_total",
		Help: "Fetch operations by kind and outcome.",
	},
	[]string{"kind", "outcome"},
)

// FetchDuration observes time from issue to settle.
var FetchDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "recordfetch_fetch_duration_seconds",
		Help:    "Time from adapter call to settled result.",
		Buckets: prometheus.DefBuckets,
	},
	[]string{"kind"},
)

// MergedResources counts resources pushed into the store by type.
var MergedResources = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "recordfetch_merged_resources_total",
		Help: "Resources merged into the store.",
	},
	[]string{"type"},
)

// InFlight is the number of fetch operations not yet settled.
var InFlight = prometheus.NewGauge(
	prometheus.GaugeOpts{
		Name: "recordfetch_fetch_in_flight",
		Help: "Fetch operations not yet settled.",
	},
)

// ObserveFetch records one settled fetch.
func ObserveFetch(kind, outcome string, d time.Duration) {
	FetchTotal.WithLabelValues(kind, outcome).Inc()
	FetchDuration.WithLabelValues(kind).Observe(d.Seconds())
}

// ObserveMerge records merged resources for a type.
func ObserveMerge(typeName string, n int) {
	if n > 0 {
		MergedResources.WithLabelValues(typeName).Add(float64(n))
	}
}

// WriteText writes the registry in the Prometheus text exposition format.
func WriteText(w io.Writer) error {
	families, err := Registry.Gather()
	if err != nil {
		return err
	}
	enc := expfmt.NewEncoder(w, expfmt.NewFormat(expfmt.TypeTextPlain))
	for _, mf := range families {
		if err := enc.Encode(mf); err != nil {
			return err
		}
	}
	return nil
}
