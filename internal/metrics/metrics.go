// Package metrics exposes Prometheus collectors for the worker node. Label
// sets are kept small: status codes and outcome strings only.
package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// JobsConsumed counts ingestion jobs by outcome:
	// created | duplicate | invalid | reserved | dead_lettered | error.
	JobsConsumed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kithly_ingestion_jobs_total",
			Help: "Ingestion jobs drained from the gift queue by outcome.",
		},
		[]string{"outcome"},
	)

	// Transitions counts state machine applications by target and outcome:
	// ok | conflict | rejected.
	Transitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kithly_status_transitions_total",
			Help: "Status transitions applied by target status and outcome.",
		},
		[]string{"target", "outcome"},
	)

	// EventsPublished counts outbound bus events by list.
	EventsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kithly_events_published_total",
			Help: "Events pushed onto outbound bus lists.",
		},
		[]string{"list"},
	)

	// WatchdogScanned tracks rows picked up per watchdog scan.
	WatchdogScanned = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kithly_watchdog_rows_total",
			Help: "Rows acted on by watchdog scans, by watchdog name.",
		},
		[]string{"watchdog"},
	)

	// RerouteSearchSeconds times the proximity search through lock and
	// update. The envelope under normal load is 50ms.
	RerouteSearchSeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "kithly_reroute_search_seconds",
			Help:    "Duration of the full re-route operation.",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1},
		},
	)
)

// ObserveTransition records one state machine outcome.
func ObserveTransition(target int, outcome string) {
	Transitions.WithLabelValues(strconv.Itoa(target), outcome).Inc()
}
