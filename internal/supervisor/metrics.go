package supervisor

import "github.com/prometheus/client_golang/prometheus"

var (
	launchesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "modelzoo",
			Subsystem: "supervisor",
			Name:      "launches_total",
			Help:      "Total accepted launches (process spawn attempted)",
		},
	)

	transitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "modelzoo",
			Subsystem: "supervisor",
			Name:      "transitions_total",
			Help:      "Instance status transitions by target status",
		},
		[]string{"status"},
	)
)

func init() {
	prometheus.MustRegister(launchesTotal, transitionsTotal)
}
